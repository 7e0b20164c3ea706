package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/pulsedash/pulsedash/internal/audit"
	"github.com/pulsedash/pulsedash/internal/loginguard"
	"github.com/pulsedash/pulsedash/internal/revocation"
	"github.com/pulsedash/pulsedash/internal/session"
	"github.com/pulsedash/pulsedash/internal/shared"
	"github.com/pulsedash/pulsedash/internal/token"
)

const resetTokenPrefix = "pwreset:"

// LockoutError carries the human-readable remaining lockout time.
type LockoutError struct {
	RemainingMinutes int
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("try again in %d minutes", e.RemainingMinutes)
}

// Unwrap lets callers match the lockout sentinel with errors.Is.
func (e *LockoutError) Unwrap() error { return shared.ErrAccountLocked }

// ResetMailer enqueues the password-reset email.
type ResetMailer interface {
	EnqueueResetEmail(ctx context.Context, email, resetToken string) error
}

// Service wraps authentication business rules and wires the session
// integrity components together.
type Service struct {
	logger   *slog.Logger
	repo     Repository
	tokens   *token.Service
	revoked  *revocation.Store
	guard    *loginguard.Guard
	limiter  *session.Limiter
	sessions session.Repository
	ledger   *audit.Ledger
	cache    *redis.Client
	mailer   ResetMailer
}

// NewService constructs a new Service.
func NewService(logger *slog.Logger, repo Repository, tokens *token.Service,
	revoked *revocation.Store, guard *loginguard.Guard, limiter *session.Limiter,
	sessions session.Repository, ledger *audit.Ledger, cache *redis.Client,
	mailer ResetMailer) *Service {
	return &Service{
		logger:   logger,
		repo:     repo,
		tokens:   tokens,
		revoked:  revoked,
		guard:    guard,
		limiter:  limiter,
		sessions: sessions,
		ledger:   ledger,
		cache:    cache,
		mailer:   mailer,
	}
}

// Login validates credentials and issues a token pair. The guard is consulted
// before any password work; failures feed it, success clears it.
func (s *Service) Login(ctx context.Context, email, password, ip, ua string) (*TokenPair, error) {
	identity := loginguard.NormalizeIdentity(email)
	if st := s.guard.IsLocked(ctx, identity); st.Locked {
		return nil, &LockoutError{RemainingMinutes: st.RemainingMinutes}
	}

	user, err := s.authenticate(ctx, identity, password)
	if err != nil {
		s.guard.RecordFailure(ctx, identity, ip)
		return nil, err
	}
	s.guard.Clear(ctx, identity)

	pair, err := s.issuePair(ctx, user.Principal())
	if err != nil {
		return nil, err
	}
	s.audit(ctx, user.ID, "auth.login", ip, ua, nil)
	return pair, nil
}

// Register creates an account with the viewer role and logs it straight in.
func (s *Service) Register(ctx context.Context, email, password, ip, ua string) (*TokenPair, error) {
	identity := loginguard.NormalizeIdentity(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	user, err := s.repo.Create(ctx, identity, string(hash), shared.RoleViewer)
	if err != nil {
		return nil, err
	}
	pair, err := s.issuePair(ctx, user.Principal())
	if err != nil {
		return nil, err
	}
	s.audit(ctx, user.ID, "auth.register", ip, ua, map[string]any{"email": identity})
	return pair, nil
}

// Refresh rotates a refresh token: the old token's session row is deleted and
// its digest revoked before a new pair is issued. A refresh token whose row
// is gone is treated as unauthorized, whatever the reason it is gone.
func (s *Service) Refresh(ctx context.Context, rawRefresh, ip, ua string) (*TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(rawRefresh)
	if err != nil {
		return nil, shared.ErrUnauthorized
	}
	digest := token.Digest(rawRefresh)
	if s.revoked.IsRevoked(ctx, digest) {
		return nil, shared.ErrUnauthorized
	}
	principalID, err := claims.PrincipalID()
	if err != nil {
		return nil, shared.ErrUnauthorized
	}
	if cutoff, ok := s.revoked.InvalidatedSince(ctx, principalID); ok && claims.IssuedAt.Time.Before(cutoff) {
		return nil, shared.ErrUnauthorized
	}

	rec, err := s.sessions.FindByHash(ctx, digest)
	if err != nil {
		return nil, shared.ErrUnauthorized
	}
	if rec.ExpiresAt.Before(time.Now()) {
		_ = s.sessions.DeleteByHash(ctx, digest)
		return nil, shared.ErrUnauthorized
	}

	user, err := s.repo.FindByID(ctx, principalID)
	if err != nil || !user.IsActive {
		return nil, shared.ErrUnauthorized
	}

	if err := s.sessions.DeleteByHash(ctx, digest); err != nil {
		return nil, fmt.Errorf("auth: rotate session: %w", err)
	}
	s.revoked.Revoke(ctx, digest, s.tokens.RefreshTTL())

	pair, err := s.issuePair(ctx, user.Principal())
	if err != nil {
		return nil, err
	}
	s.audit(ctx, user.ID, "auth.token_refresh", ip, ua, nil)
	return pair, nil
}

// Logout revokes the caller's access token and destroys the refresh session.
func (s *Service) Logout(ctx context.Context, principal *shared.Principal, rawAccess, rawRefresh, ip, ua string) {
	if rawAccess != "" {
		s.revoked.Revoke(ctx, token.Digest(rawAccess), s.tokens.AccessTTL())
	}
	if rawRefresh != "" {
		digest := token.Digest(rawRefresh)
		if err := s.sessions.DeleteByHash(ctx, digest); err != nil {
			s.logger.Warn("delete refresh session", slog.Any("error", err))
		}
		s.revoked.Revoke(ctx, digest, s.tokens.RefreshTTL())
	}
	if principal != nil {
		s.audit(ctx, principal.ID, "auth.logout", ip, ua, nil)
	}
}

// LogoutAll voids every token issued to the principal and drops all sessions.
func (s *Service) LogoutAll(ctx context.Context, principal *shared.Principal, ip, ua string) {
	s.revoked.InvalidateAll(ctx, principal.ID, s.tokens.RefreshTTL())
	if err := s.sessions.DeleteByPrincipal(ctx, principal.ID); err != nil {
		s.logger.Warn("delete principal sessions",
			slog.Int64("principal_id", principal.ID), slog.Any("error", err))
	}
	s.audit(ctx, principal.ID, "auth.logout_all", ip, ua, nil)
}

// RequestPasswordReset issues a single-use reset token. An unknown email
// succeeds silently so the endpoint does not confirm account existence.
func (s *Service) RequestPasswordReset(ctx context.Context, email, ip string) error {
	identity := loginguard.NormalizeIdentity(email)
	user, err := s.repo.FindByEmail(ctx, identity)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	resetToken := uuid.NewString()
	if err := s.cache.Set(ctx, resetTokenPrefix+resetToken, user.ID, time.Hour).Err(); err != nil {
		return fmt.Errorf("auth: store reset token: %w", err)
	}
	if err := s.mailer.EnqueueResetEmail(ctx, identity, resetToken); err != nil {
		return fmt.Errorf("auth: enqueue reset email: %w", err)
	}
	s.audit(ctx, user.ID, "auth.password_reset_request", ip, "", nil)
	return nil
}

// ConfirmPasswordReset consumes the reset token, replaces the password and
// invalidates every outstanding session for the account.
func (s *Service) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword, ip string) error {
	principalID, err := s.cache.GetDel(ctx, resetTokenPrefix+resetToken).Int64()
	if err != nil {
		if err == redis.Nil {
			return shared.ErrUnauthorized
		}
		return fmt.Errorf("auth: consume reset token: %w", err)
	}
	user, err := s.repo.FindByID(ctx, principalID)
	if err != nil {
		return shared.ErrUnauthorized
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}
	s.revoked.InvalidateAll(ctx, user.ID, s.tokens.RefreshTTL())
	if err := s.sessions.DeleteByPrincipal(ctx, user.ID); err != nil {
		s.logger.Warn("delete principal sessions",
			slog.Int64("principal_id", user.ID), slog.Any("error", err))
	}
	s.guard.Clear(ctx, loginguard.NormalizeIdentity(user.Email))
	s.audit(ctx, user.ID, "auth.password_reset", ip, "", nil)
	return nil
}

func (s *Service) authenticate(ctx context.Context, identity, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, identity)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) issuePair(ctx context.Context, principal *shared.Principal) (*TokenPair, error) {
	access, err := s.tokens.IssueAccess(principal)
	if err != nil {
		return nil, fmt.Errorf("auth: issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(principal)
	if err != nil {
		return nil, fmt.Errorf("auth: issue refresh token: %w", err)
	}
	now := time.Now().UTC()
	err = s.limiter.Register(ctx, session.RefreshRecord{
		ID:          uuid.NewString(),
		PrincipalID: principal.ID,
		TokenHash:   token.Digest(refresh),
		ExpiresAt:   now.Add(s.tokens.RefreshTTL()),
		CreatedAt:   now,
	})
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(s.tokens.AccessTTL()),
	}, nil
}

func (s *Service) audit(ctx context.Context, principalID int64, action, ip, ua string, values map[string]any) {
	s.ledger.Append(ctx, audit.Entry{
		PrincipalID: &principalID,
		Action:      action,
		EntityType:  "principal",
		EntityID:    fmt.Sprintf("%d", principalID),
		NewValues:   values,
		IPAddress:   ip,
		UserAgent:   ua,
	})
}
