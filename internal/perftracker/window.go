// Package perftracker implements the performance tracker and circuit
// breaker (spec §4.C): a rolling per-model latency/success/quality window,
// health-status derivation, fallback execution, weighted ranking, and A/B
// testing. Grounded on internal/circuitbreaker/circuit_breaker.go for the
// breaker shape and on original_source/providers/openrouter/performance.rs
// for the A/B-test and ranking surface spec.md names but does not fully
// specify.
package perftracker

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/consensustypes"
)

// window is the per-model FIFO of PerformanceEntry values.
type window struct {
	mu      sync.RWMutex
	entries []consensustypes.PerformanceEntry
}

func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.entries) && w.entries[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = append([]consensustypes.PerformanceEntry(nil), w.entries[i:]...)
	}
}

// Tracker is the process-wide performance tracker (spec §3 "Ownership").
type Tracker struct {
	windowMinutes int
	mu            sync.RWMutex
	windows       map[string]*window
	breakers      map[string]*modelBreaker
	logger        *zap.Logger

	fallbackMu sync.RWMutex
	fallbacks  map[string][]string // model -> configured fallback chain

	abMu  sync.Mutex
	abTests map[string]*abTest
}

// New builds a Tracker with the given rolling-window size in minutes
// (spec.md default 60).
func New(windowMinutes int, logger *zap.Logger) *Tracker {
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	return &Tracker{
		windowMinutes: windowMinutes,
		windows:       make(map[string]*window),
		breakers:      make(map[string]*modelBreaker),
		fallbacks:     make(map[string][]string),
		abTests:       make(map[string]*abTest),
		logger:        logger,
	}
}

func (t *Tracker) windowFor(model string) *window {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[model]
	if !ok {
		w = &window{}
		t.windows[model] = w
	}
	return w
}

func (t *Tracker) breakerFor(model string) *modelBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.breakers[model]
	if !ok {
		b = newModelBreaker(model, t.logger)
		t.breakers[model] = b
	}
	return b
}

// cutoff returns the start of the rolling window relative to now.
func (t *Tracker) cutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(t.windowMinutes) * time.Minute)
}

// Record appends a PerformanceEntry, prunes expired entries, and updates
// the model's circuit breaker.
func (t *Tracker) Record(entry consensustypes.PerformanceEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	w := t.windowFor(entry.ModelID)
	w.mu.Lock()
	w.entries = append(w.entries, entry)
	w.prune(t.cutoff(time.Now()))
	w.mu.Unlock()

	b := t.breakerFor(entry.ModelID)
	if entry.Success {
		b.RecordSuccess()
	} else {
		b.RecordFailure()
	}
}

// Metrics computes PerformanceMetrics for one model from entries currently
// in the window.
func (t *Tracker) Metrics(model string) consensustypes.PerformanceMetrics {
	w := t.windowFor(model)
	w.mu.Lock()
	w.prune(t.cutoff(time.Now()))
	entries := append([]consensustypes.PerformanceEntry(nil), w.entries...)
	w.mu.Unlock()
	return computeMetrics(model, entries)
}

// AllMetrics returns PerformanceMetrics for every model with window data.
func (t *Tracker) AllMetrics() []consensustypes.PerformanceMetrics {
	t.mu.RLock()
	models := make([]string, 0, len(t.windows))
	for m := range t.windows {
		models = append(models, m)
	}
	t.mu.RUnlock()
	sort.Strings(models)
	out := make([]consensustypes.PerformanceMetrics, 0, len(models))
	for _, m := range models {
		out = append(out, t.Metrics(m))
	}
	return out
}

func computeMetrics(model string, entries []consensustypes.PerformanceEntry) consensustypes.PerformanceMetrics {
	m := consensustypes.PerformanceMetrics{ModelID: model}
	m.TotalRequests = len(entries)
	if len(entries) == 0 {
		return m
	}

	var successLatencies []float64
	var totalTPS float64
	var timeouts int
	for _, e := range entries {
		if e.Success {
			m.SuccessCount++
			successLatencies = append(successLatencies, float64(e.LatencyMS))
			totalTPS += e.TokensPerSecond
		}
		if e.ErrorType == consensustypes.ErrorTypeTimeout {
			timeouts++
		}
	}
	m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalRequests)
	m.ErrorRate = 1 - m.SuccessRate
	m.TimeoutRate = float64(timeouts) / float64(m.TotalRequests)

	sort.Float64s(successLatencies)
	m.P50LatencyMS = percentile(successLatencies, 0.50)
	m.P95LatencyMS = percentile(successLatencies, 0.95)
	m.P99LatencyMS = percentile(successLatencies, 0.99)
	if m.SuccessCount > 0 {
		m.TokensPerSecond = totalTPS / float64(m.SuccessCount)
	}

	m.AvgLatencyMS = avg(successLatencies)
	m.QualityScore = qualityScore(entries, m.SuccessRate, m.AvgLatencyMS)
	return m
}

// percentile implements spec.md §4.C: idx = floor((len-1)*p) over entries
// sorted ascending. B1: n=1 returns the single value for any percentile.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(float64(len(sorted)-1) * p))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func avg(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// qualityScore synthesizes a quality value from success rate and latency
// when no explicit quality_rating data exists, per spec.md §4.C.
func qualityScore(entries []consensustypes.PerformanceEntry, successRate, avgLatencyMS float64) float64 {
	var ratings []float64
	for _, e := range entries {
		if e.QualityRating != nil {
			ratings = append(ratings, *e.QualityRating)
		}
	}
	if len(ratings) > 0 {
		return avg(ratings)
	}
	latencyPenalty := math.Min(1, avgLatencyMS/10000)
	return 0.7*successRate + 0.3*(1-latencyPenalty)
}

// HealthStatus derives the health classification from metrics per spec.md
// §4.C's thresholds.
func HealthStatus(m consensustypes.PerformanceMetrics) consensustypes.HealthStatus {
	if m.TotalRequests == 0 || m.SuccessRate < 0.5 {
		return consensustypes.HealthUnavailable
	}
	if m.SuccessRate < 0.8 {
		return consensustypes.HealthUnhealthy
	}
	if m.SuccessRate < 0.95 || m.P95LatencyMS > 10000 || m.TimeoutRate > 0.1 {
		return consensustypes.HealthDegraded
	}
	return consensustypes.HealthHealthy
}

// GetModelHealth wraps Metrics with the derived status and a short
// recommendation, matching the original_source ModelHealth read-model.
func (t *Tracker) GetModelHealth(model string) consensustypes.ModelHealth {
	m := t.Metrics(model)
	status := HealthStatus(m)
	rec := ""
	switch status {
	case consensustypes.HealthUnavailable, consensustypes.HealthUnhealthy:
		rec = "consider fallback"
	case consensustypes.HealthDegraded:
		rec = "monitor closely"
	default:
		rec = "healthy"
	}
	return consensustypes.ModelHealth{ModelID: model, Status: status, Metrics: m, Recommendation: rec}
}

// Available reports whether a model's circuit breaker currently admits
// requests (Closed or HalfOpen, or Open past next_attempt).
func (t *Tracker) Available(model string) bool {
	return t.breakerFor(model).Available()
}

// CircuitState returns the externally-observable breaker state for a model.
func (t *Tracker) CircuitState(model string) consensustypes.CircuitBreakerState {
	return t.breakerFor(model).Snapshot()
}

// ResetCircuitBreaker manually resets a model's breaker to Closed.
func (t *Tracker) ResetCircuitBreaker(model string) {
	t.breakerFor(model).Reset()
}

// AllCircuitStates returns a snapshot of every known breaker, for admin/
// observability endpoints.
func (t *Tracker) AllCircuitStates() []consensustypes.CircuitBreakerState {
	t.mu.RLock()
	models := make([]string, 0, len(t.breakers))
	for m := range t.breakers {
		models = append(models, m)
	}
	t.mu.RUnlock()
	sort.Strings(models)
	out := make([]consensustypes.CircuitBreakerState, 0, len(models))
	for _, m := range models {
		out = append(out, t.breakerFor(m).Snapshot())
	}
	return out
}

// ConfigureFallback sets the explicit fallback chain for a model.
func (t *Tracker) ConfigureFallback(model string, fallbacks []string) {
	t.fallbackMu.Lock()
	defer t.fallbackMu.Unlock()
	t.fallbacks[model] = append([]string(nil), fallbacks...)
}
