// Package stageexec runs a single pipeline stage (spec.md §4.E): it builds
// the stage's prompt, invokes the upstream client with fallback and circuit
// breaking (A, C), streams chunks and lifecycle events to the event bus (G),
// and records cost (B). New code; it has no direct teacher analogue because
// the teacher's agent-execution loop is orchestrated by Temporal activities
// rather than a standalone per-stage executor, but it is wired from the
// same components those activities would use (upstream client, tracker,
// event bus) rather than reinventing them.
package stageexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/consensuserrors"
	"github.com/hivetechs/consensus/internal/consensustypes"
	"github.com/hivetechs/consensus/internal/costtracker"
	"github.com/hivetechs/consensus/internal/eventbus"
	"github.com/hivetechs/consensus/internal/perftracker"
	"github.com/hivetechs/consensus/internal/upstream"
)

// Streamer is the narrow contract stageexec needs from an upstream client,
// satisfied by *upstream.Client.
type Streamer interface {
	Stream(ctx context.Context, model string, messages []consensustypes.Message, temperature float64, maxTokens *int, onChunk func(upstream.StreamChunk)) (consensustypes.Usage, error)
	HasAPIKey() bool
}

// Executor runs individual stages, combining the upstream client (A), cost
// tracker (B), performance tracker / circuit breaker / fallback (C), and
// event bus (G).
type Executor struct {
	streamer Streamer
	perf     *perftracker.Tracker
	cost     *costtracker.Tracker
	bus      *eventbus.Bus
	logger   *zap.Logger
}

// New builds an Executor from its four collaborating components.
func New(streamer Streamer, perf *perftracker.Tracker, cost *costtracker.Tracker, bus *eventbus.Bus, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{streamer: streamer, perf: perf, cost: cost, bus: bus, logger: logger}
}

// HasAPIKey reports whether the upstream client has a configured gateway API
// key, for the pipeline's CheckAPIKey pre-flight activity.
func (e *Executor) HasAPIKey() bool {
	return e.streamer.HasAPIKey()
}

// Run executes one stage to completion, per spec.md §4.E's five-step
// sequence: build messages, emit stage_started, stream with stage_chunk
// events, record outcome in B/C, emit stage_completed or stage_error. On
// upstream failure it walks the model's configured fallback chain with the
// SAME prompt before giving up.
func (e *Executor) Run(ctx context.Context, conversationID string, stage consensustypes.Stage, query, prior, contextStr string, entry consensustypes.ProfileEntry) (consensustypes.StageResult, error) {
	if err := ctx.Err(); err != nil {
		return consensustypes.StageResult{}, consensuserrors.ErrCancelled
	}

	messages := buildMessages(stage, query, prior, contextStr)

	call := func(ctx context.Context, model string, _ []consensustypes.Message) (string, consensustypes.Usage, error) {
		e.bus.Publish(conversationID, eventbus.Event{
			Type:  eventbus.EventStageStarted,
			Stage: stage.String(),
		})

		var buf strings.Builder
		usage, err := e.streamer.Stream(ctx, model, messages, entry.Temperature, entry.MaxTokens, func(chunk upstream.StreamChunk) {
			if chunk.Delta == "" {
				return
			}
			buf.WriteString(chunk.Delta)
			e.bus.ThrottledPublish(conversationID, eventbus.Event{
				Type:         eventbus.EventStageChunk,
				Stage:        stage.String(),
				Chunk:        chunk.Delta,
				RunningTotal: buf.String(),
			})
		})
		return buf.String(), usage, err
	}

	result, err := e.perf.ExecuteWithFallback(ctx, entry.ModelID, call)
	if err != nil {
		e.bus.Publish(conversationID, eventbus.Event{
			Type:    eventbus.EventStageError,
			Stage:   stage.String(),
			Message: err.Error(),
		})
		return consensustypes.StageResult{}, fmt.Errorf("%w: %w", consensuserrors.ErrStageFailed,
			consensuserrors.NewStageError(stage.String(), entry.ModelID, err))
	}

	estimate := e.cost.Estimate(result.ModelID, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	e.cost.Track(consensustypes.CostEntry{
		Timestamp:    time.Now().UTC(),
		ModelID:      result.ModelID,
		RequestType:  stage.String(),
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
		InputCost:    estimate.InputCost,
		OutputCost:   estimate.OutputCost,
		TotalCost:    estimate.TotalCost,
	})

	sr := consensustypes.StageResult{
		StageID:        int(stage),
		StageName:      stage.String(),
		Question:       query,
		Answer:         result.Answer,
		Model:          result.ModelID,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
		Usage:          &result.Usage,
		Analytics: &consensustypes.Analytics{
			Cost:      estimate.TotalCost,
			ModelUsed: result.ModelID,
			Fallback:  result.UsedFallback,
		},
	}

	e.bus.Publish(conversationID, eventbus.Event{
		Type:  eventbus.EventStageCompleted,
		Stage: stage.String(),
		Cost:  estimate.TotalCost,
	})

	return sr, nil
}
