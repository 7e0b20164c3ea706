// Package csrf implements the stateless double-submit defense: a random
// token set in a script-readable cookie must be echoed back in a header on
// every mutating request.
package csrf

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pulsedash/pulsedash/internal/platform/httpx"
	"github.com/pulsedash/pulsedash/internal/shared"
)

const (
	// HeaderName carries the echoed token on mutating requests.
	HeaderName = "X-CSRF-Token"
	// CookieName holds the issued token. Deliberately not HttpOnly: client
	// script must read it to echo it in the header.
	CookieName = "pulse_csrf"

	tokenBytes = 32
)

// Guard issues and verifies double-submit tokens.
type Guard struct {
	logger        *slog.Logger
	secureCookies bool
	exemptPaths   map[string]struct{}
}

// NewGuard constructs a Guard. Pre-authentication routes are exempt: no
// session exists yet, so the browser cannot carry a token cookie.
func NewGuard(logger *slog.Logger, secureCookies bool, exemptPaths []string) *Guard {
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = struct{}{}
	}
	return &Guard{logger: logger, secureCookies: secureCookies, exemptPaths: exempt}
}

// IssueToken generates a fresh 32-byte random token, hex-encoded.
func (g *Guard) IssueToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("csrf: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SetCookie writes the token cookie on the response.
func (g *Guard) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   g.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// Verify checks the header/cookie pair on a request. Missing and mismatching
// tokens are distinguished for client debugging; the expected value is never
// part of either error.
func (g *Guard) Verify(r *http.Request) error {
	header := r.Header.Get(HeaderName)
	cookie, err := r.Cookie(CookieName)
	if header == "" || err != nil || cookie.Value == "" {
		return shared.ErrCSRFTokenMissing
	}
	// Hashing both sides first makes the comparison constant time even when
	// the lengths differ; a length mismatch then fails exactly like any
	// content mismatch.
	headerSum := sha256.Sum256([]byte(header))
	cookieSum := sha256.Sum256([]byte(cookie.Value))
	if subtle.ConstantTimeCompare(headerSum[:], cookieSum[:]) != 1 {
		return shared.ErrCSRFTokenMismatch
	}
	return nil
}

// Middleware enforces the double-submit check on state-changing requests.
// Safe methods and the pre-auth allow-list pass through untouched.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := g.exemptPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		if err := g.Verify(r); err != nil {
			g.logger.Warn("csrf validation failed",
				slog.String("path", r.URL.Path), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
