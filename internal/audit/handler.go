package audit

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pulsedash/pulsedash/internal/platform/httpx"
)

// Handler exposes the integrity scan to operators.
type Handler struct {
	logger *slog.Logger
	ledger *Ledger
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, ledger *Ledger) *Handler {
	return &Handler{logger: logger, ledger: ledger}
}

// MountRoutes registers the audit endpoints. Callers are expected to guard
// them with admin-only middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/verify", h.handleVerify)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.VerifyIntegrity(r.Context())
	if err != nil {
		h.logger.Error("audit integrity scan", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Integrity Scan Failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
