package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pulsedash/pulsedash/internal/csrf"
)

func newHandlerRouter(t *testing.T) (*serviceFixture, chi.Router) {
	t.Helper()
	f := newServiceFixture(t)
	guard := csrf.NewGuard(slog.Default(), false, nil)
	handler := NewHandler(slog.Default(), f.service, guard, nil)

	r := chi.NewRouter()
	handler.MountPublicRoutes(r)
	handler.MountResetRoutes(r)
	return f, r
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLoginEndpoint(t *testing.T) {
	f, router := newHandlerRouter(t)
	f.seedUser(t, "user@test.local", "correct-password")

	rec := postJSON(t, router, "/login", `{"email":"user@test.local","password":"correct-password"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresAt    string `json:"expiresAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.ExpiresAt == "" {
		t.Fatalf("incomplete token response: %+v", resp)
	}
}

func TestLoginEndpointWrongPasswordIsGeneric401(t *testing.T) {
	f, router := newHandlerRouter(t)
	f.seedUser(t, "user@test.local", "correct-password")

	rec := postJSON(t, router, "/login", `{"email":"user@test.local","password":"wrong-password"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	// Same body whether the account exists or not.
	other := postJSON(t, router, "/login", `{"email":"nobody@test.local","password":"wrong-password"}`)
	if other.Code != http.StatusUnauthorized || other.Body.String() != rec.Body.String() {
		t.Fatalf("response should not distinguish unknown accounts")
	}
}

func TestLoginEndpointValidation(t *testing.T) {
	_, router := newHandlerRouter(t)

	if rec := postJSON(t, router, "/login", `{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d", rec.Code)
	}
	if rec := postJSON(t, router, "/login", `{"email":"not-an-email","password":"secret123"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad email: status = %d", rec.Code)
	}
	if rec := postJSON(t, router, "/login", `{"email":"user@test.local","password":"short"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("short password: status = %d", rec.Code)
	}
}

func TestLockedAccountAnswers429WithRetryHint(t *testing.T) {
	f, router := newHandlerRouter(t)
	f.seedUser(t, "user@test.local", "correct-password")

	for i := 0; i < 5; i++ {
		postJSON(t, router, "/login", `{"email":"user@test.local","password":"wrong-password"}`)
	}
	rec := postJSON(t, router, "/login", `{"email":"user@test.local","password":"correct-password"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "try again in") {
		t.Fatalf("expected remaining-time hint, got %s", rec.Body.String())
	}
}

func TestRefreshEndpointRotates(t *testing.T) {
	f, router := newHandlerRouter(t)
	f.seedUser(t, "user@test.local", "correct-password")

	login := postJSON(t, router, "/login", `{"email":"user@test.local","password":"correct-password"}`)
	var pair struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(login.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	rec := postJSON(t, router, "/refresh", `{"refreshToken":"`+pair.RefreshToken+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body = %s", rec.Code, rec.Body.String())
	}
	// Replay of the consumed token is rejected.
	if rec := postJSON(t, router, "/refresh", `{"refreshToken":"`+pair.RefreshToken+`"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh status = %d, want 401", rec.Code)
	}
}

func TestResetRequestEndpointAlways202(t *testing.T) {
	f, router := newHandlerRouter(t)
	f.seedUser(t, "user@test.local", "correct-password")

	known := postJSON(t, router, "/password-reset/request", `{"email":"user@test.local"}`)
	unknown := postJSON(t, router, "/password-reset/request", `{"email":"nobody@test.local"}`)
	if known.Code != http.StatusAccepted || unknown.Code != http.StatusAccepted {
		t.Fatalf("statuses = %d / %d, want 202 for both", known.Code, unknown.Code)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("expected exactly one reset email, got %d", len(f.mailer.sent))
	}
}

func TestAuditedIPHasNoPort(t *testing.T) {
	f, router := newHandlerRouter(t)
	f.seedUser(t, "user@test.local", "correct-password")

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"user@test.local","password":"correct-password"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:53920"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}

	if len(f.ledger.ips) == 0 {
		t.Fatalf("login recorded no audit entries")
	}
	for _, ip := range f.ledger.ips {
		if ip != "198.51.100.7" {
			t.Fatalf("recorded ip = %q, want bare address without port", ip)
		}
	}
}

func TestCSRFTokenEndpoint(t *testing.T) {
	_, router := newHandlerRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/csrf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CSRFToken == "" {
		t.Fatalf("empty csrf token")
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == csrf.CookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != resp.CSRFToken {
		t.Fatalf("cookie should carry the same token as the body")
	}
	if cookie.HttpOnly {
		t.Fatalf("cookie must be script-readable for the double-submit echo")
	}
}
