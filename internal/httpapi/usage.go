package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/usagetracker"
)

// UsageHandler exposes the usage-tracker's per-user display view model
// (spec.md §4.D).
type UsageHandler struct {
	tracker *usagetracker.Tracker
	logger  *zap.Logger
}

// NewUsageHandler builds a handler around the usage tracker.
func NewUsageHandler(tracker *usagetracker.Tracker, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{tracker: tracker, logger: logger}
}

// RegisterRoutes registers the usage route on mux.
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/usage/{user_id}", h.handleUsage)
}

func (h *UsageHandler) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		http.Error(w, `{"error":"user_id required"}`, http.StatusBadRequest)
		return
	}

	info := h.tracker.Info(userID)
	allowed, notification := h.tracker.CheckUsage(userID)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Usage        interface{} `json:"usage"`
		Allowed      bool        `json:"allowed"`
		Notification interface{} `json:"notification,omitempty"`
	}{
		Usage:        info,
		Allowed:      allowed,
		Notification: notification,
	})
}
