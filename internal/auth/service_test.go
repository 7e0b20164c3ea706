package auth

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/pulsedash/pulsedash/internal/audit"
	"github.com/pulsedash/pulsedash/internal/loginguard"
	"github.com/pulsedash/pulsedash/internal/revocation"
	"github.com/pulsedash/pulsedash/internal/session"
	"github.com/pulsedash/pulsedash/internal/shared"
	"github.com/pulsedash/pulsedash/internal/token"
)

type stubUserRepo struct {
	users  map[string]*User
	nextID int64
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[string]*User), nextID: 100}
}

func (s *stubUserRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	if user, ok := s.users[email]; ok {
		return user, nil
	}
	return nil, shared.ErrNotFound
}

func (s *stubUserRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	for _, user := range s.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubUserRepo) Create(ctx context.Context, email, passwordHash, role string) (*User, error) {
	if _, ok := s.users[email]; ok {
		return nil, shared.ErrDuplicate
	}
	s.nextID++
	user := &User{ID: s.nextID, Email: email, PasswordHash: passwordHash, Role: role, IsActive: true}
	s.users[email] = user
	return user, nil
}

func (s *stubUserRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	for _, user := range s.users {
		if user.ID == id {
			user.PasswordHash = passwordHash
			return nil
		}
	}
	return shared.ErrNotFound
}

type memSessionRepo struct {
	records map[string]session.RefreshRecord
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{records: make(map[string]session.RefreshRecord)}
}

func (m *memSessionRepo) CountActive(ctx context.Context, principalID int64, now time.Time) (int, error) {
	var count int
	for _, rec := range m.records {
		if rec.PrincipalID == principalID && rec.ExpiresAt.After(now) {
			count++
		}
	}
	return count, nil
}

func (m *memSessionRepo) DeleteOldest(ctx context.Context, principalID int64, n int, now time.Time) error {
	var mine []session.RefreshRecord
	for _, rec := range m.records {
		if rec.PrincipalID == principalID && rec.ExpiresAt.After(now) {
			mine = append(mine, rec)
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].CreatedAt.Before(mine[j].CreatedAt) })
	for i := 0; i < n && i < len(mine); i++ {
		delete(m.records, mine[i].TokenHash)
	}
	return nil
}

func (m *memSessionRepo) Create(ctx context.Context, rec session.RefreshRecord) error {
	m.records[rec.TokenHash] = rec
	return nil
}

func (m *memSessionRepo) FindByHash(ctx context.Context, hash string) (*session.RefreshRecord, error) {
	if rec, ok := m.records[hash]; ok {
		return &rec, nil
	}
	return nil, shared.ErrNotFound
}

func (m *memSessionRepo) DeleteByHash(ctx context.Context, hash string) error {
	delete(m.records, hash)
	return nil
}

func (m *memSessionRepo) DeleteByPrincipal(ctx context.Context, principalID int64) error {
	for hash, rec := range m.records {
		if rec.PrincipalID == principalID {
			delete(m.records, hash)
		}
	}
	return nil
}

func (m *memSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type memAttemptRepo struct {
	attempts map[string][]time.Time
}

func (m *memAttemptRepo) AttemptsWithin(ctx context.Context, key string, since time.Time) (int, time.Time, error) {
	var count int
	var latest time.Time
	for _, at := range m.attempts[key] {
		if !at.Before(since) {
			count++
			if at.After(latest) {
				latest = at
			}
		}
	}
	return count, latest, nil
}

func (m *memAttemptRepo) RecordAttempt(ctx context.Context, key, ip string, at time.Time) error {
	m.attempts[key] = append(m.attempts[key], at)
	return nil
}

func (m *memAttemptRepo) ClearAttempts(ctx context.Context, key string) error {
	delete(m.attempts, key)
	return nil
}

func (m *memAttemptRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type memLedgerRepo struct {
	actions []string
	ips     []string
	nextID  int64
}

func (m *memLedgerRepo) WithLedgerLock(ctx context.Context, fn func(audit.TxRepository) error) error {
	return fn(m)
}

func (m *memLedgerRepo) Batch(ctx context.Context, afterID int64, limit int) ([]audit.StoredEntry, error) {
	return nil, nil
}

func (m *memLedgerRepo) LastEntryHash(ctx context.Context) (string, error) {
	return audit.GenesisHash, nil
}

func (m *memLedgerRepo) Insert(ctx context.Context, e audit.Entry, previousHash string) (int64, time.Time, error) {
	m.nextID++
	m.actions = append(m.actions, e.Action)
	m.ips = append(m.ips, e.IPAddress)
	return m.nextID, time.Now(), nil
}

func (m *memLedgerRepo) SetEntryHash(ctx context.Context, id int64, hash string) error {
	return nil
}

type stubMailer struct {
	sent []string
}

func (s *stubMailer) EnqueueResetEmail(ctx context.Context, email, resetToken string) error {
	s.sent = append(s.sent, email)
	return nil
}

type serviceFixture struct {
	service  *Service
	users    *stubUserRepo
	sessions *memSessionRepo
	ledger   *memLedgerRepo
	mailer   *stubMailer
	redis    *redis.Client
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	logger := slog.Default()

	secrets, err := token.NewSecrets("access-secret", "refresh-secret", false, logger)
	if err != nil {
		t.Fatalf("secrets: %v", err)
	}
	tokens := token.NewService(secrets, 15*time.Minute, 7*24*time.Hour)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	users := newStubUserRepo()
	sessions := newMemSessionRepo()
	ledgerRepo := &memLedgerRepo{}
	mailer := &stubMailer{}

	service := NewService(
		logger,
		users,
		tokens,
		revocation.NewStore(client, logger),
		loginguard.NewGuard(&memAttemptRepo{attempts: make(map[string][]time.Time)}, logger, 5, 15*time.Minute),
		session.NewLimiter(sessions, 5),
		sessions,
		audit.NewLedger(ledgerRepo, logger),
		client,
		mailer,
	)
	return &serviceFixture{service: service, users: users, sessions: sessions, ledger: ledgerRepo, mailer: mailer, redis: client}
}

func (f *serviceFixture) seedUser(t *testing.T, email, password string) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user, err := f.users.Create(context.Background(), email, string(hash), shared.RoleEditor)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestLoginIssuesPairAndSession(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "user@test.local", "correct-password")

	pair, err := f.service.Login(context.Background(), "user@test.local", "correct-password", "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens")
	}
	if _, err := f.sessions.FindByHash(context.Background(), token.Digest(pair.RefreshToken)); err != nil {
		t.Fatalf("refresh session not persisted: %v", err)
	}
	if len(f.ledger.actions) != 1 || f.ledger.actions[0] != "auth.login" {
		t.Fatalf("expected auth.login audit entry, got %v", f.ledger.actions)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "user@test.local", "correct-password")

	_, err := f.service.Login(context.Background(), "user@test.local", "wrong-password", "10.0.0.1", "")
	if !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "user@test.local", "correct-password")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.service.Login(ctx, "user@test.local", "wrong", "10.0.0.1", ""); !errors.Is(err, shared.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	_, err := f.service.Login(ctx, "user@test.local", "correct-password", "10.0.0.1", "")
	if !errors.Is(err, shared.ErrAccountLocked) {
		t.Fatalf("expected lockout on sixth attempt, got %v", err)
	}
	var lockout *LockoutError
	if !errors.As(err, &lockout) || lockout.RemainingMinutes <= 0 {
		t.Fatalf("expected positive remaining minutes")
	}
}

func TestSuccessfulLoginClearsLockoutCounter(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "user@test.local", "correct-password")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = f.service.Login(ctx, "user@test.local", "wrong", "10.0.0.1", "")
	}
	if _, err := f.service.Login(ctx, "user@test.local", "correct-password", "10.0.0.1", ""); err != nil {
		t.Fatalf("login after four failures: %v", err)
	}
	// Counter reset: four more failures stay under the threshold again.
	for i := 0; i < 4; i++ {
		_, _ = f.service.Login(ctx, "user@test.local", "wrong", "10.0.0.1", "")
	}
	if _, err := f.service.Login(ctx, "user@test.local", "correct-password", "10.0.0.1", ""); err != nil {
		t.Fatalf("expected counter cleared by earlier success: %v", err)
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "user@test.local", "correct-password")
	ctx := context.Background()

	pair, err := f.service.Login(ctx, "user@test.local", "correct-password", "10.0.0.1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	oldDigest := token.Digest(pair.RefreshToken)

	next, err := f.service.Refresh(ctx, pair.RefreshToken, "10.0.0.1", "")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatalf("refresh token not rotated")
	}
	if _, err := f.sessions.FindByHash(ctx, oldDigest); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("old session row should be gone")
	}
	// The rotated-out token is revoked and cannot be replayed.
	if _, err := f.service.Refresh(ctx, pair.RefreshToken, "10.0.0.1", ""); !errors.Is(err, shared.ErrUnauthorized) {
		t.Fatalf("expected replayed refresh token rejected, got %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "user@test.local", "correct-password")
	ctx := context.Background()

	pair, err := f.service.Login(ctx, "user@test.local", "correct-password", "10.0.0.1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := f.service.Refresh(ctx, pair.AccessToken, "10.0.0.1", ""); !errors.Is(err, shared.ErrUnauthorized) {
		t.Fatalf("access token accepted as refresh token: %v", err)
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	f := newServiceFixture(t)
	user := f.seedUser(t, "user@test.local", "correct-password")
	ctx := context.Background()

	pair, err := f.service.Login(ctx, "user@test.local", "correct-password", "10.0.0.1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	f.service.Logout(ctx, user.Principal(), pair.AccessToken, pair.RefreshToken, "10.0.0.1", "")

	if _, err := f.service.Refresh(ctx, pair.RefreshToken, "10.0.0.1", ""); !errors.Is(err, shared.ErrUnauthorized) {
		t.Fatalf("refresh after logout should fail, got %v", err)
	}
}

func TestLogoutAllDropsEverySession(t *testing.T) {
	f := newServiceFixture(t)
	user := f.seedUser(t, "user@test.local", "correct-password")
	ctx := context.Background()

	var pairs []*TokenPair
	for i := 0; i < 3; i++ {
		pair, err := f.service.Login(ctx, "user@test.local", "correct-password", "10.0.0.1", "")
		if err != nil {
			t.Fatalf("login %d: %v", i+1, err)
		}
		pairs = append(pairs, pair)
	}
	f.service.LogoutAll(ctx, user.Principal(), "10.0.0.1", "")

	for i, pair := range pairs {
		if _, err := f.service.Refresh(ctx, pair.RefreshToken, "10.0.0.1", ""); !errors.Is(err, shared.ErrUnauthorized) {
			t.Fatalf("session %d survived logout-all: %v", i+1, err)
		}
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "user@test.local", "old-password")
	ctx := context.Background()

	if err := f.service.RequestPasswordReset(ctx, "user@test.local", "10.0.0.1"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("expected one reset email, got %d", len(f.mailer.sent))
	}

	// Pull the token out of the cache the way the email link would carry it.
	keys := f.redis.Keys(ctx, resetTokenPrefix+"*").Val()
	if len(keys) != 1 {
		t.Fatalf("expected one reset token, got %d", len(keys))
	}
	resetToken := keys[0][len(resetTokenPrefix):]

	if err := f.service.ConfirmPasswordReset(ctx, resetToken, "new-password-1", "10.0.0.1"); err != nil {
		t.Fatalf("confirm reset: %v", err)
	}
	if _, err := f.service.Login(ctx, "user@test.local", "old-password", "10.0.0.1", ""); !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("old password still valid")
	}
	if _, err := f.service.Login(ctx, "user@test.local", "new-password-1", "10.0.0.1", ""); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	// Token is single-use.
	if err := f.service.ConfirmPasswordReset(ctx, resetToken, "another-password", "10.0.0.1"); !errors.Is(err, shared.ErrUnauthorized) {
		t.Fatalf("reset token reusable: %v", err)
	}
}

func TestResetRequestForUnknownEmailIsSilent(t *testing.T) {
	f := newServiceFixture(t)
	if err := f.service.RequestPasswordReset(context.Background(), "nobody@test.local", "10.0.0.1"); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if len(f.mailer.sent) != 0 {
		t.Fatalf("no email should be sent for unknown accounts")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.service.Register(ctx, "user@test.local", "password-123", "10.0.0.1", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.service.Register(ctx, "user@test.local", "password-123", "10.0.0.1", ""); !errors.Is(err, shared.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestInactiveUserCannotLogin(t *testing.T) {
	f := newServiceFixture(t)
	user := f.seedUser(t, "user@test.local", "correct-password")
	user.IsActive = false

	_, err := f.service.Login(context.Background(), "user@test.local", "correct-password", "10.0.0.1", "")
	if !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for inactive account, got %v", err)
	}
}
