// Package httpapi is the consensus gateway's HTTP/SSE surface (spec.md
// §4's domain-stack wiring): starting pipeline runs, streaming their
// events, reporting usage, and administering circuit breakers. Routing
// uses net/http.ServeMux's Go 1.22+ method patterns, matching the
// teacher's cmd/gateway/main.go style rather than a third-party router.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/authn"
	"github.com/hivetechs/consensus/internal/pipeline"
)

// ConsensusHandler starts consensus pipeline runs via Temporal.
type ConsensusHandler struct {
	temporal  client.Client
	taskQueue string
	logger    *zap.Logger
}

// NewConsensusHandler builds a handler around a Temporal client.
func NewConsensusHandler(temporal client.Client, taskQueue string, logger *zap.Logger) *ConsensusHandler {
	return &ConsensusHandler{temporal: temporal, taskQueue: taskQueue, logger: logger}
}

// RegisterRoutes registers consensus routes on mux.
func (h *ConsensusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/consensus", h.handleStart)
}

type startConsensusRequest struct {
	Query       string `json:"query"`
	ProfileName string `json:"profile_name"`
	Context     string `json:"context,omitempty"`
}

type startConsensusResponse struct {
	ConversationID string `json:"conversation_id"`
}

// handleStart enqueues a ConsensusWorkflow run and returns its
// conversation ID immediately; the run itself proceeds asynchronously and
// is observed via GET /api/v1/consensus/{conversation_id}/events.
func (h *ConsensusHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startConsensusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
		return
	}
	if req.ProfileName == "" {
		req.ProfileName = "default"
	}

	userID, _ := authn.UserIDFromContext(r.Context())
	conversationID := fmt.Sprintf("consensus-%s", newID())

	input := pipeline.ConsensusInput{
		ConversationID: conversationID,
		Query:          req.Query,
		ProfileName:    req.ProfileName,
		UserID:         userID,
		Context:        req.Context,
	}

	opts := client.StartWorkflowOptions{
		ID:        conversationID,
		TaskQueue: h.taskQueue,
	}

	if _, err := h.temporal.ExecuteWorkflow(r.Context(), opts, pipeline.ConsensusWorkflow, input); err != nil {
		h.logger.Error("failed to start consensus workflow", zap.String("conversation_id", conversationID), zap.Error(err))
		http.Error(w, `{"error":"failed to start consensus run"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(startConsensusResponse{ConversationID: conversationID})
}
