package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/eventbus"
)

// EventsHandler serves Server-Sent Events for a running or completed
// consensus conversation, grounded on the teacher's
// cmd/gateway/internal/openai/streamer.go SSE-writer idioms (heartbeat
// ticker, text/event-stream headers, flush-per-event).
type EventsHandler struct {
	bus    *eventbus.Bus
	logger *zap.Logger
}

// NewEventsHandler builds a handler around the conversation event bus.
func NewEventsHandler(bus *eventbus.Bus, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger}
}

// RegisterRoutes registers the SSE route on mux.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/consensus/{conversation_id}/events", h.handleEvents)
}

const heartbeatInterval = 15 * time.Second

// handleEvents streams pipeline events for one conversation as
// `data: {json}\n\n` lines until the client disconnects or a terminal
// event (completed/cancelled/error) is seen.
func (h *EventsHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversation_id")
	if conversationID == "" {
		http.Error(w, `{"error":"conversation_id required"}`, http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, ": connected to %s\n\n", conversationID)
	flusher.Flush()

	ch := h.bus.Subscribe(conversationID)
	defer h.bus.Unsubscribe(conversationID, ch)

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("conversation_id", conversationID))
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "id: %d\n", evt.Seq)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
			flusher.Flush()
			if isTerminal(evt.Type) {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func isTerminal(t eventbus.EventType) bool {
	switch t {
	case eventbus.EventCompleted, eventbus.EventCancelled, eventbus.EventError:
		return true
	default:
		return false
	}
}
