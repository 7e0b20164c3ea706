package auth

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pulsedash/pulsedash/internal/csrf"
	"github.com/pulsedash/pulsedash/internal/observability"
	"github.com/pulsedash/pulsedash/internal/platform/httpx"
	"github.com/pulsedash/pulsedash/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	csrfGuard *csrf.Guard
	metrics   *observability.Metrics
	validator *validator.Validate
}

// NewHandler constructs a Handler instance. Metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, csrfGuard *csrf.Guard, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		csrfGuard: csrfGuard,
		metrics:   metrics,
		validator: validator.New(),
	}
}

// MountPublicRoutes registers the pre-authentication endpoints.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/register", h.handleRegister)
	r.Post("/refresh", h.handleRefresh)
	r.Get("/csrf", h.handleCSRFToken)
}

// MountResetRoutes registers the password-reset endpoints.
func (h *Handler) MountResetRoutes(r chi.Router) {
	r.Post("/password-reset/request", h.handleResetRequest)
	r.Post("/password-reset/confirm", h.handleResetConfirm)
}

// MountProtectedRoutes registers endpoints that require a valid bearer token.
func (h *Handler) MountProtectedRoutes(r chi.Router) {
	r.Post("/logout", h.handleLogout)
	r.Post("/logout-all", h.handleLogoutAll)
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type resetRequestBody struct {
	Email string `json:"email" validate:"required,email"`
}

type resetConfirmBody struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.service.Login(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		h.metrics.ObserveLogin(loginOutcome(err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveLogin("success")
	h.respondTokens(w, http.StatusOK, pair)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.service.Register(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondTokens(w, http.StatusCreated, pair)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.service.Refresh(r.Context(), req.RefreshToken, clientIP(r), r.UserAgent())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respondTokens(w, http.StatusOK, pair)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	// The refresh token is optional on logout; the access token alone still
	// gets revoked.
	_ = httpx.DecodeJSON(r, &req)
	principal := shared.PrincipalFromContext(r.Context())
	h.service.Logout(r.Context(), principal, bearerToken(r), req.RefreshToken, clientIP(r), r.UserAgent())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	h.service.LogoutAll(r.Context(), principal, clientIP(r), r.UserAgent())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestBody
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), req.Email, clientIP(r)); err != nil {
		h.logger.Error("password reset request", slog.Any("error", err))
	}
	// Always 202: the endpoint must not confirm whether the account exists.
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmBody
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.ConfirmPasswordReset(r.Context(), req.Token, req.Password, clientIP(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	tokenValue, err := h.csrfGuard.IssueToken()
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	h.csrfGuard.SetCookie(w, tokenValue)
	httpx.JSON(w, http.StatusOK, map[string]string{"csrfToken": tokenValue})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", "")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondTokens(w http.ResponseWriter, status int, pair *TokenPair) {
	httpx.JSON(w, status, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt.Format(time.RFC3339),
	})
}

// clientIP strips the port so attempt and audit rows record a bare address
// even when the handler serves without the RealIP middleware in front.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func loginOutcome(err error) string {
	switch {
	case errors.Is(err, shared.ErrAccountLocked):
		return "locked"
	case errors.Is(err, shared.ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "error"
	}
}
