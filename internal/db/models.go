package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// ConsensusConversation is one full pipeline run: the four-stage
// Generator→Refiner→Validator→Curator execution tracked end to end
// (spec.md §4.F/§6 "db").
type ConsensusConversation struct {
	ID             uuid.UUID  `db:"id"`
	ConversationID string     `db:"conversation_id"`
	UserID         *uuid.UUID `db:"user_id"`
	ProfileName    string     `db:"profile_name"`
	Query          string     `db:"query"`
	Status         string     `db:"status"`
	StartedAt      time.Time  `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`

	Result       *string `db:"result"`
	ErrorMessage *string `db:"error_message"`

	TotalTokens      int     `db:"total_tokens"`
	PromptTokens     int     `db:"prompt_tokens"`
	CompletionTokens int     `db:"completion_tokens"`
	TotalCostUSD     float64 `db:"total_cost_usd"`

	DurationMs      *int `db:"duration_ms"`
	StagesCompleted int  `db:"stages_completed"`

	Metadata  JSONB     `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

// StageExecution is one Generator/Refiner/Validator/Curator stage within a
// conversation (spec.md §4.E).
type StageExecution struct {
	ID             string `db:"id"`
	ConversationID string `db:"conversation_id"` // references consensus_conversations.conversation_id
	StageName      string `db:"stage_name"`
	ModelUsed      string `db:"model_used"`

	Question     string `db:"question"`
	Answer       string `db:"answer"`
	ErrorMessage string `db:"error_message"`

	TokensUsed   int  `db:"tokens_used"`
	UsedFallback bool `db:"used_fallback"`

	DurationMs int64 `db:"duration_ms"`

	Metadata  JSONB     `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

// CostEntryRecord persists one costtracker.Tracker.Track call (spec.md §4.B)
// so per-model spend survives process restarts.
type CostEntryRecord struct {
	ID             string `db:"id"`
	ConversationID string `db:"conversation_id"`
	ModelID        string `db:"model_id"`
	RequestType    string `db:"request_type"`

	InputTokens  int `db:"input_tokens"`
	OutputTokens int `db:"output_tokens"`

	InputCost  float64 `db:"input_cost"`
	OutputCost float64 `db:"output_cost"`
	TotalCost  float64 `db:"total_cost"`

	DurationMs int64     `db:"duration_ms"`
	CreatedAt  time.Time `db:"created_at"`
}

// ConversationArchive is a replay snapshot of a conversation's event
// stream, taken after the event bus's in-memory/Redis retention window for
// that conversation has expired (spec.md §4.G "Replay").
type ConversationArchive struct {
	ID             uuid.UUID  `db:"id"`
	ConversationID string     `db:"conversation_id"`
	UserID         *uuid.UUID `db:"user_id"`

	SnapshotData JSONB   `db:"snapshot_data"`
	EventCount   int     `db:"event_count"`
	TotalTokens  int     `db:"total_tokens"`
	TotalCostUSD float64 `db:"total_cost_usd"`

	ConversationStartedAt time.Time  `db:"conversation_started_at"`
	SnapshotTakenAt       time.Time  `db:"snapshot_taken_at"`
	TTLExpiresAt          *time.Time `db:"ttl_expires_at"`
}

// UsageDailyAggregate is a daily rollup of usagetracker.Tracker counters
// (spec.md §4.D), used for analytics without scanning raw conversation rows.
type UsageDailyAggregate struct {
	ID     uuid.UUID  `db:"id"`
	UserID *uuid.UUID `db:"user_id"`
	Date   time.Time  `db:"date"`

	TotalConversations      int `db:"total_conversations"`
	SuccessfulConversations int `db:"successful_conversations"`
	FailedConversations     int `db:"failed_conversations"`

	TotalTokens  int     `db:"total_tokens"`
	TotalCostUSD float64 `db:"total_cost_usd"`

	ModelUsage JSONB `db:"model_usage"`

	AvgDurationMs int `db:"avg_duration_ms"`

	CreatedAt time.Time `db:"created_at"`
}

// AuditLog records an administrative action, e.g. a manual circuit-breaker
// reset against the model registry (spec.md §4.C's admin surface).
type AuditLog struct {
	ID         uuid.UUID  `db:"id"`
	UserID     *uuid.UUID `db:"user_id"`
	Action     string     `db:"action"`
	EntityType string     `db:"entity_type"`
	EntityID   string     `db:"entity_id"`

	IPAddress string `db:"ip_address"`
	UserAgent string `db:"user_agent"`
	RequestID string `db:"request_id"`

	OldValue JSONB `db:"old_value"`
	NewValue JSONB `db:"new_value"`

	CreatedAt time.Time `db:"created_at"`
}

// ConsensusConversationFilter provides filtering options for conversation
// history queries.
type ConsensusConversationFilter struct {
	UserID      *uuid.UUID
	ProfileName *string
	Status      *string
	StartTime   *time.Time
	EndTime     *time.Time
	Limit       int
	Offset      int
}

// AggregateStats summarizes usage/cost/performance over a period, for the
// admin/analytics surface.
type AggregateStats struct {
	Period             string  `db:"period"`
	TotalConversations int     `db:"total_conversations"`
	TotalTokens        int     `db:"total_tokens"`
	TotalCost          float64 `db:"total_cost"`
	AvgDuration        int     `db:"avg_duration"`
	SuccessRate        float64 `db:"success_rate"`
	TopModels          JSONB   `db:"top_models"`
}
