package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// Controller is the engine-side surface for operator interventions.
type Controller interface {
	// EmergencyStop halts new submissions, trips the breaker manually and
	// closes open positions. It returns the number of positions closed.
	EmergencyStop(ctx context.Context) (int, error)
	// ResetBreaker re-arms the circuit breaker.
	ResetBreaker(ctx context.Context) error
}

// AdminHandler serves the operator intervention endpoints.
type AdminHandler struct {
	ctrl   Controller
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(ctrl Controller, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		ctrl:   ctrl,
		logger: logHandler(logger, "admin"),
	}
}

// EmergencyStop trips the breaker manually and closes all open positions.
// POST /api/admin/emergency-stop
func (h *AdminHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	closed, err := h.ctrl.EmergencyStop(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "emergency stop", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":           "partial",
			"positions_closed": closed,
			"error":            err.Error(),
		})
		return
	}
	h.logger.WarnContext(r.Context(), "emergency stop executed", slog.Int("positions_closed", closed))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "stopped",
		"positions_closed": closed,
	})
}

// ResetBreaker re-arms a tripped circuit breaker.
// POST /api/admin/breaker/reset
func (h *AdminHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.ResetBreaker(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "breaker reset", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "breaker reset failed")
		return
	}
	h.logger.InfoContext(r.Context(), "breaker reset by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "armed"})
}
