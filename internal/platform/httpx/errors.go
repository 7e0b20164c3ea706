package httpx

import (
	"errors"
	"net/http"

	"github.com/pulsedash/pulsedash/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Authentication failures collapse to a generic 401: the body never hints
// which verification step rejected the request.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrUnauthorized), errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, shared.ErrCSRFTokenMissing):
		Problem(w, http.StatusForbidden, "CSRF Token Missing", err.Error())
	case errors.Is(err, shared.ErrCSRFTokenMismatch):
		Problem(w, http.StatusForbidden, "CSRF Token Invalid", err.Error())
	case errors.Is(err, shared.ErrAccountLocked):
		Problem(w, http.StatusTooManyRequests, "Account Locked", err.Error())
	case errors.Is(err, shared.ErrRateLimited):
		Problem(w, http.StatusTooManyRequests, "Rate Limit Exceeded", err.Error())
	case errors.Is(err, shared.ErrLimiterUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
