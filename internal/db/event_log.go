package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventLog represents a persisted consensus-pipeline event row (spec.md
// §4.G's event taxonomy), one row per critical event published on the
// event bus.
type EventLog struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Type           string    `json:"type"`
	Stage          string    `json:"stage,omitempty"`
	Message        string    `json:"message,omitempty"`
	Payload        JSONB     `json:"payload,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Seq            uint64    `json:"seq,omitempty"`
	StreamID       string    `json:"stream_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SaveEventLog inserts a new event_logs row.
func (c *Client) SaveEventLog(ctx context.Context, e *EventLog) error {
	if e == nil {
		return nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
        INSERT INTO event_logs (
            id, conversation_id, type, stage, message, payload, timestamp, seq, stream_id, created_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (conversation_id, type, seq) WHERE seq IS NOT NULL DO NOTHING
    `, e.ID, e.ConversationID, e.Type, nullIfEmpty(e.Stage), e.Message, e.Payload, e.Timestamp, e.Seq, nullIfEmpty(e.StreamID), e.CreatedAt)
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
