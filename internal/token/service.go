// Package token issues and verifies the signed, time-boxed credentials used
// by the auth core: short-lived access tokens and longer-lived refresh tokens.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pulsedash/pulsedash/internal/shared"
)

const (
	issuer          = "pulsedash"
	audienceAccess  = "pulse:access"
	audienceRefresh = "pulse:refresh"
)

// Claims is the claim shape shared by both token classes.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// PrincipalID parses the subject claim.
func (c *Claims) PrincipalID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrMalformed
	}
	return id, nil
}

// Service signs and verifies tokens. Verification is a pure function of
// secret, token and clock; it touches no store.
type Service struct {
	secrets    *Secrets
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewService constructs a token Service.
func NewService(secrets *Secrets, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		secrets:    secrets,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// AccessTTL returns the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccess signs a short-lived access token for the principal.
func (s *Service) IssueAccess(p *shared.Principal) (string, error) {
	return s.issue(p, audienceAccess, s.accessTTL, s.secrets.Access())
}

// IssueRefresh signs a refresh token for the principal.
func (s *Service) IssueRefresh(p *shared.Principal) (string, error) {
	return s.issue(p, audienceRefresh, s.refreshTTL, s.secrets.Refresh())
}

func (s *Service) issue(p *shared.Principal, audience string, ttl time.Duration, secret []byte) (string, error) {
	if p == nil || p.ID <= 0 {
		return "", errors.New("token: principal required")
	}
	now := s.now().UTC()
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(p.ID, 10),
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyAccess validates an access token against the access secret.
func (s *Service) VerifyAccess(raw string) (*Claims, error) {
	return s.verify(raw, audienceAccess, s.secrets.Access())
}

// VerifyRefresh validates a refresh token against the refresh secret.
// An access token must never pass here, nor a refresh token in VerifyAccess:
// the secrets and pinned audiences differ per class.
func (s *Service) VerifyRefresh(raw string) (*Claims, error) {
	return s.verify(raw, audienceRefresh, s.secrets.Refresh())
}

func (s *Service) verify(raw, audience string, secret []byte) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		default:
			return nil, ErrSignature
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrSignature
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrSignature
	}
	if _, err := claims.PrincipalID(); err != nil {
		return nil, ErrMalformed
	}
	return claims, nil
}

// Digest returns the sha256 hex digest of a raw token. Raw tokens are never
// persisted or used as cache keys; the digest stands in for them everywhere.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
