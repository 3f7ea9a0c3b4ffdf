package perftracker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/consensuserrors"
	"github.com/hivetechs/consensus/internal/consensustypes"
	"github.com/hivetechs/consensus/internal/metrics"
)

// Caller is the narrow upstream-call contract fallback execution depends on;
// satisfied by internal/upstream.Client.Complete. Kept here (rather than
// importing internal/upstream) to avoid a perftracker<->upstream import
// cycle, matching the teacher's preference for small call-site interfaces
// over shared concrete types (see internal/circuitbreaker/http_wrapper.go).
type Caller func(ctx context.Context, model string, messages []consensustypes.Message) (string, consensustypes.Usage, error)

// FallbackResult records which model actually served a request and how many
// prior candidates were skipped or failed.
type FallbackResult struct {
	ModelID       string
	Answer        string
	Usage         consensustypes.Usage
	Attempted     []string
	UsedFallback  bool
}

// ExecuteWithFallback walks primary followed by the model's configured
// fallback chain (spec.md §4.C "Fallback execution"), skipping any model
// whose circuit breaker is open and recording a PerformanceEntry for every
// attempt. It returns the first success, or the last error if every
// candidate in the chain failed or was skipped.
func (t *Tracker) ExecuteWithFallback(ctx context.Context, primary string, call Caller) (FallbackResult, error) {
	chain := t.chainFor(primary)

	var lastErr error
	var attempted []string
	for _, model := range chain {
		attempted = append(attempted, model)
		if !t.Available(model) {
			continue
		}

		start := time.Now()
		answer, usage, err := call(ctx, model, nil)
		latency := time.Since(start)

		entry := consensustypes.PerformanceEntry{
			ModelID:   model,
			Timestamp: time.Now(),
			LatencyMS: latency.Milliseconds(),
			Success:   err == nil,
		}
		if err != nil {
			entry.ErrorType = classifyErrorType(err)
			metrics.UpstreamRequests.WithLabelValues(model, "error").Inc()
		} else {
			metrics.UpstreamRequests.WithLabelValues(model, "success").Inc()
		}
		metrics.UpstreamLatency.WithLabelValues(model).Observe(latency.Seconds())
		t.Record(entry)

		if err != nil {
			lastErr = err
			if t.logger != nil {
				t.logger.Warn("fallback candidate failed", zap.String("model", model), zap.Error(err))
			}
			continue
		}

		return FallbackResult{
			ModelID:      model,
			Answer:       answer,
			Usage:        usage,
			Attempted:    attempted,
			UsedFallback: model != primary,
		}, nil
	}

	if lastErr == nil {
		lastErr = consensuserrors.ErrAllFallbacksFailed
	}
	return FallbackResult{Attempted: attempted}, lastErr
}

// chainFor returns the configured fallback chain for a model, with the
// model itself first; falls back to just [model] if none is configured.
func (t *Tracker) chainFor(model string) []string {
	t.fallbackMu.RLock()
	defer t.fallbackMu.RUnlock()
	fallbacks, ok := t.fallbacks[model]
	if !ok {
		return []string{model}
	}
	chain := make([]string, 0, len(fallbacks)+1)
	chain = append(chain, model)
	chain = append(chain, fallbacks...)
	return chain
}

func classifyErrorType(err error) consensustypes.ErrorType {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok && te.Timeout() {
		return consensustypes.ErrorTypeTimeout
	}
	return consensustypes.ErrorTypeOther
}
