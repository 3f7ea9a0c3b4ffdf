package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/perftracker"
)

// AdminHandler exposes operator actions, currently just a manual circuit
// breaker reset (spec.md §4.C "`* → Closed` | manual reset").
type AdminHandler struct {
	perf   *perftracker.Tracker
	logger *zap.Logger
}

// NewAdminHandler builds a handler around the performance/circuit tracker.
func NewAdminHandler(perf *perftracker.Tracker, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{perf: perf, logger: logger}
}

// RegisterRoutes registers admin routes on mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/admin/circuit-breaker/{model_id}/reset", h.handleReset)
}

func (h *AdminHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("model_id")
	if modelID == "" {
		http.Error(w, `{"error":"model_id required"}`, http.StatusBadRequest)
		return
	}
	h.perf.ResetCircuitBreaker(modelID)
	h.logger.Info("circuit breaker manually reset", zap.String("model_id", modelID))
	w.WriteHeader(http.StatusNoContent)
}
