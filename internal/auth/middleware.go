package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pulsedash/pulsedash/internal/platform/httpx"
	"github.com/pulsedash/pulsedash/internal/revocation"
	"github.com/pulsedash/pulsedash/internal/shared"
	"github.com/pulsedash/pulsedash/internal/token"
)

// Authenticator verifies bearer tokens on protected routes. A request is
// authenticated only if the signature/expiry/issuer checks pass, the token's
// digest is not revoked, and the token was not issued before the principal's
// invalidated-since mark. Every failure collapses to the same 401.
type Authenticator struct {
	logger  *slog.Logger
	tokens  *token.Service
	revoked *revocation.Store
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(logger *slog.Logger, tokens *token.Service, revoked *revocation.Store) *Authenticator {
	return &Authenticator{logger: logger, tokens: tokens, revoked: revoked}
}

// Middleware enforces bearer authentication and stores the principal in the
// request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		claims, err := a.tokens.VerifyAccess(raw)
		if err != nil {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		if a.revoked.IsRevoked(r.Context(), token.Digest(raw)) {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		principalID, err := claims.PrincipalID()
		if err != nil {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		if cutoff, ok := a.revoked.InvalidatedSince(r.Context(), principalID); ok && claims.IssuedAt.Time.Before(cutoff) {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		principal := &shared.Principal{ID: principalID, Role: claims.Role, Active: true}
		ctx := shared.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole allows only principals whose role is in the given set.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := shared.PrincipalFromContext(r.Context())
			if principal == nil {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if _, ok := allowed[principal.Role]; !ok {
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
