package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/circuitbreaker"
)

func buildConversationMetricsPayload(conv *ConsensusConversation) JSONB {
	if conv == nil {
		return nil
	}

	metrics := make(JSONB)

	if conv.TotalTokens > 0 {
		metrics["total_tokens"] = conv.TotalTokens
	}
	if conv.PromptTokens > 0 {
		metrics["prompt_tokens"] = conv.PromptTokens
	}
	if conv.CompletionTokens > 0 {
		metrics["completion_tokens"] = conv.CompletionTokens
	}
	if conv.TotalCostUSD > 0 {
		metrics["total_cost_usd"] = conv.TotalCostUSD
	}
	if conv.DurationMs != nil {
		metrics["duration_ms"] = *conv.DurationMs
	}
	if conv.StagesCompleted > 0 {
		metrics["stages_completed"] = conv.StagesCompleted
	}
	if len(conv.Metadata) > 0 {
		metrics["metadata"] = map[string]interface{}(conv.Metadata)
	}

	if len(metrics) == 0 {
		return JSONB{}
	}
	return metrics
}

// SaveConsensusConversation saves or updates a conversation record,
// idempotent by conversation_id.
func (c *Client) SaveConsensusConversation(ctx context.Context, conv *ConsensusConversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}

	metadata := conv.Metadata
	if metadata == nil {
		metadata = JSONB{}
	}

	query := `
        INSERT INTO consensus_conversations (
            id, conversation_id, user_id, profile_name,
            query, status,
            started_at, completed_at,
            result, error_message,
            total_tokens, prompt_tokens, completion_tokens, total_cost_usd,
            duration_ms, stages_completed,
            metadata, created_at
        ) VALUES (
            $1, $2, $3, $4,
            $5, $6,
            $7, $8,
            $9, $10,
            $11, $12, $13, $14,
            $15, $16,
            $17, $18
        )
        ON CONFLICT (conversation_id) DO UPDATE SET
            status = EXCLUDED.status,
            completed_at = EXCLUDED.completed_at,
            result = EXCLUDED.result,
            error_message = EXCLUDED.error_message,
            total_tokens = EXCLUDED.total_tokens,
            prompt_tokens = EXCLUDED.prompt_tokens,
            completion_tokens = EXCLUDED.completion_tokens,
            total_cost_usd = EXCLUDED.total_cost_usd,
            duration_ms = EXCLUDED.duration_ms,
            stages_completed = EXCLUDED.stages_completed,
            metadata = EXCLUDED.metadata
        RETURNING id`

	err := c.db.QueryRowContext(ctx, query,
		conv.ID, conv.ConversationID, conv.UserID, conv.ProfileName,
		conv.Query, conv.Status,
		conv.StartedAt, conv.CompletedAt,
		conv.Result, conv.ErrorMessage,
		conv.TotalTokens, conv.PromptTokens, conv.CompletionTokens, conv.TotalCostUSD,
		conv.DurationMs, conv.StagesCompleted,
		metadata, conv.CreatedAt,
	).Scan(&conv.ID)
	if err != nil {
		return fmt.Errorf("failed to save consensus conversation: %w", err)
	}

	c.logger.Debug("consensus conversation saved",
		zap.String("conversation_id", conv.ConversationID),
		zap.String("status", conv.Status))
	return nil
}

// BatchSaveConsensusConversations saves multiple conversations in a single
// transaction.
func (c *Client) BatchSaveConsensusConversations(ctx context.Context, convs []*ConsensusConversation) error {
	if len(convs) == 0 {
		return nil
	}

	return c.WithTransactionCB(ctx, func(tx *circuitbreaker.TxWrapper) error {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO consensus_conversations (
                id, conversation_id, user_id, profile_name,
                query, status,
                started_at, completed_at,
                result, error_message,
                total_tokens, prompt_tokens, completion_tokens, total_cost_usd,
                duration_ms, stages_completed,
                metadata, created_at
            ) VALUES (
                $1, $2, $3, $4,
                $5, $6,
                $7, $8,
                $9, $10,
                $11, $12, $13, $14,
                $15, $16,
                $17, $18
            )
            ON CONFLICT (conversation_id) DO UPDATE SET
                status = EXCLUDED.status,
                completed_at = EXCLUDED.completed_at,
                result = EXCLUDED.result,
                error_message = EXCLUDED.error_message,
                total_tokens = EXCLUDED.total_tokens,
                prompt_tokens = EXCLUDED.prompt_tokens,
                completion_tokens = EXCLUDED.completion_tokens,
                total_cost_usd = EXCLUDED.total_cost_usd,
                duration_ms = EXCLUDED.duration_ms,
                stages_completed = EXCLUDED.stages_completed,
                metadata = EXCLUDED.metadata
        `)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, conv := range convs {
			if conv.ID == uuid.Nil {
				conv.ID = uuid.New()
			}
			if conv.CreatedAt.IsZero() {
				conv.CreatedAt = time.Now()
			}
			metadata := conv.Metadata
			if metadata == nil {
				metadata = JSONB{}
			}

			_, err := stmt.ExecContext(ctx,
				conv.ID, conv.ConversationID, conv.UserID, conv.ProfileName,
				conv.Query, conv.Status,
				conv.StartedAt, conv.CompletedAt,
				conv.Result, conv.ErrorMessage,
				conv.TotalTokens, conv.PromptTokens, conv.CompletionTokens, conv.TotalCostUSD,
				conv.DurationMs, conv.StagesCompleted,
				metadata, conv.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert conversation %s: %w", conv.ConversationID, err)
			}
		}

		return nil
	})
}

// SaveStageExecution saves one stage's execution record.
func (c *Client) SaveStageExecution(ctx context.Context, stage *StageExecution) error {
	if stage.ID == "" {
		stage.ID = uuid.New().String()
	}
	if stage.CreatedAt.IsZero() {
		stage.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO stage_executions (
			id, conversation_id, stage_name, model_used,
			question, answer, error_message,
			tokens_used, used_fallback,
			duration_ms, metadata,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err := c.db.ExecContext(ctx, query,
		stage.ID, stage.ConversationID, stage.StageName, stage.ModelUsed,
		stage.Question, stage.Answer, stage.ErrorMessage,
		stage.TokensUsed, stage.UsedFallback,
		stage.DurationMs, stage.Metadata,
		stage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save stage execution: %w", err)
	}

	return nil
}

// BatchSaveStageExecutions saves multiple stage executions.
func (c *Client) BatchSaveStageExecutions(ctx context.Context, stages []*StageExecution) error {
	if len(stages) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(stages))
	valueArgs := make([]interface{}, 0, len(stages)*12)

	for i, stage := range stages {
		if stage.ID == "" {
			stage.ID = uuid.New().String()
		}
		if stage.CreatedAt.IsZero() {
			stage.CreatedAt = time.Now()
		}

		base := i * 12
		valueStrings = append(valueStrings, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11, base+12,
		))

		valueArgs = append(valueArgs,
			stage.ID, stage.ConversationID, stage.StageName, stage.ModelUsed,
			stage.Question, stage.Answer, stage.ErrorMessage,
			stage.TokensUsed, stage.UsedFallback,
			stage.DurationMs, stage.Metadata,
			stage.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO stage_executions (
			id, conversation_id, stage_name, model_used,
			question, answer, error_message,
			tokens_used, used_fallback,
			duration_ms, metadata,
			created_at
		) VALUES %s`,
		strings.Join(valueStrings, ","),
	)

	_, err := c.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		return fmt.Errorf("failed to batch save stage executions: %w", err)
	}

	return nil
}

// SaveCostEntry persists one costtracker.Tracker.Track call.
func (c *Client) SaveCostEntry(ctx context.Context, entry *CostEntryRecord) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO cost_entries (
			id, conversation_id, model_id, request_type,
			input_tokens, output_tokens,
			input_cost, output_cost, total_cost,
			duration_ms,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err := c.db.ExecContext(ctx, query,
		entry.ID, entry.ConversationID, entry.ModelID, entry.RequestType,
		entry.InputTokens, entry.OutputTokens,
		entry.InputCost, entry.OutputCost, entry.TotalCost,
		entry.DurationMs,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save cost entry: %w", err)
	}

	return nil
}

// BatchSaveCostEntries saves multiple cost entries.
func (c *Client) BatchSaveCostEntries(ctx context.Context, entries []*CostEntryRecord) error {
	if len(entries) == 0 {
		return nil
	}

	return c.WithTransactionCB(ctx, func(tx *circuitbreaker.TxWrapper) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO cost_entries (
				id, conversation_id, model_id, request_type,
				input_tokens, output_tokens,
				input_cost, output_cost, total_cost,
				duration_ms,
				created_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
			)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, entry := range entries {
			if entry.ID == "" {
				entry.ID = uuid.New().String()
			}
			if entry.CreatedAt.IsZero() {
				entry.CreatedAt = time.Now()
			}

			_, err := stmt.ExecContext(ctx,
				entry.ID, entry.ConversationID, entry.ModelID, entry.RequestType,
				entry.InputTokens, entry.OutputTokens,
				entry.InputCost, entry.OutputCost, entry.TotalCost,
				entry.DurationMs,
				entry.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert cost entry for %s: %w", entry.ConversationID, err)
			}
		}

		return nil
	})
}

// SaveConversationArchive saves a conversation event-stream snapshot.
func (c *Client) SaveConversationArchive(ctx context.Context, archive *ConversationArchive) error {
	if archive.ID == uuid.Nil {
		archive.ID = uuid.New()
	}
	if archive.SnapshotTakenAt.IsZero() {
		archive.SnapshotTakenAt = time.Now()
	}

	query := `
		INSERT INTO conversation_archives (
			id, conversation_id, user_id,
			snapshot_data, event_count, total_tokens, total_cost_usd,
			conversation_started_at, snapshot_taken_at, ttl_expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	_, err := c.db.ExecContext(ctx, query,
		archive.ID, archive.ConversationID, archive.UserID,
		archive.SnapshotData, archive.EventCount, archive.TotalTokens, archive.TotalCostUSD,
		archive.ConversationStartedAt, archive.SnapshotTakenAt, archive.TTLExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation archive: %w", err)
	}

	return nil
}

// SaveAuditLog saves an audit log entry.
func (c *Client) SaveAuditLog(ctx context.Context, audit *AuditLog) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO audit_logs (
			id, user_id, action, entity_type, entity_id,
			ip_address, user_agent, request_id,
			old_value, new_value, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err := c.db.ExecContext(ctx, query,
		audit.ID, audit.UserID, audit.Action, audit.EntityType, audit.EntityID,
		audit.IPAddress, audit.UserAgent, audit.RequestID,
		audit.OldValue, audit.NewValue, audit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save audit log: %w", err)
	}

	return nil
}

// GetConsensusConversation retrieves a conversation by conversation_id.
func (c *Client) GetConsensusConversation(ctx context.Context, conversationID string) (*ConsensusConversation, error) {
	var conv ConsensusConversation

	query := `
        SELECT id, conversation_id, user_id, profile_name, query, status,
            started_at, completed_at, result, error_message,
            created_at
        FROM consensus_conversations
        WHERE conversation_id = $1`

	row, err := c.db.QueryRowContextCB(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}

	err = row.Scan(
		&conv.ID, &conv.ConversationID, &conv.UserID, &conv.ProfileName, &conv.Query, &conv.Status,
		&conv.StartedAt, &conv.CompletedAt, &conv.Result, &conv.ErrorMessage,
		&conv.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get consensus conversation: %w", err)
	}

	return &conv, nil
}

// UpdateConversationStatus updates the status of a conversation.
func (c *Client) UpdateConversationStatus(ctx context.Context, conversationID string, status string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE consensus_conversations SET status = $1 WHERE conversation_id = $2`,
		status, conversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation status: %w", err)
	}
	return nil
}
