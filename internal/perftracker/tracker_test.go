package perftracker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivetechs/consensus/internal/consensustypes"
)

func newTestTracker() *Tracker {
	return New(60, nil)
}

// B1: n=1 sample returns that single value for every percentile.
func TestMetricsSingleSampleAllPercentiles(t *testing.T) {
	tr := newTestTracker()
	tr.Record(consensustypes.PerformanceEntry{ModelID: "m1", LatencyMS: 250, Success: true})
	m := tr.Metrics("m1")
	assert.Equal(t, 250.0, m.P50LatencyMS)
	assert.Equal(t, 250.0, m.P95LatencyMS)
	assert.Equal(t, 250.0, m.P99LatencyMS)
}

func TestMetricsSuccessRateAndErrorRateComplementary(t *testing.T) {
	tr := newTestTracker()
	for i := 0; i < 7; i++ {
		tr.Record(consensustypes.PerformanceEntry{ModelID: "m1", LatencyMS: 100, Success: true})
	}
	for i := 0; i < 3; i++ {
		tr.Record(consensustypes.PerformanceEntry{ModelID: "m1", LatencyMS: 100, Success: false})
	}
	m := tr.Metrics("m1")
	assert.InDelta(t, 0.7, m.SuccessRate, 1e-9)
	assert.InDelta(t, 1.0, m.SuccessRate+m.ErrorRate, 1e-9)
}

func TestHealthStatusThresholds(t *testing.T) {
	healthy := consensustypes.PerformanceMetrics{TotalRequests: 10, SuccessRate: 0.99, P95LatencyMS: 500, TimeoutRate: 0}
	assert.Equal(t, consensustypes.HealthHealthy, HealthStatus(healthy))

	degraded := consensustypes.PerformanceMetrics{TotalRequests: 10, SuccessRate: 0.90, P95LatencyMS: 500, TimeoutRate: 0}
	assert.Equal(t, consensustypes.HealthDegraded, HealthStatus(degraded))

	unhealthy := consensustypes.PerformanceMetrics{TotalRequests: 10, SuccessRate: 0.70, P95LatencyMS: 500, TimeoutRate: 0}
	assert.Equal(t, consensustypes.HealthUnhealthy, HealthStatus(unhealthy))

	unavailable := consensustypes.PerformanceMetrics{TotalRequests: 0}
	assert.Equal(t, consensustypes.HealthUnavailable, HealthStatus(unavailable))
}

// I3: circuit breaker opens after 5 consecutive failures.
func TestCircuitBreakerOpensAfterFailureThreshold(t *testing.T) {
	tr := newTestTracker()
	for i := 0; i < failureThreshold; i++ {
		tr.Record(consensustypes.PerformanceEntry{ModelID: "m1", Success: false})
	}
	assert.False(t, tr.Available("m1"))
	state := tr.CircuitState("m1")
	assert.Equal(t, consensustypes.CircuitOpen, state.State)
}

// Repeated HalfOpen failure doubles the open timeout, capped at 10 minutes.
func TestCircuitBreakerDoublesTimeoutOnRepeatedHalfOpenFailure(t *testing.T) {
	b := newModelBreaker("m1", nil)
	for i := 0; i < failureThreshold; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, openTimeout, b.currentOpenTimeout)

	b.state = consensustypes.CircuitHalfOpen
	b.RecordFailure()
	assert.Equal(t, 2*openTimeout, b.currentOpenTimeout)

	b.state = consensustypes.CircuitHalfOpen
	b.RecordFailure()
	assert.Equal(t, openTimeoutMax, b.currentOpenTimeout)
}

func TestCircuitBreakerResetReturnsToClosed(t *testing.T) {
	tr := newTestTracker()
	for i := 0; i < failureThreshold; i++ {
		tr.Record(consensustypes.PerformanceEntry{ModelID: "m1", Success: false})
	}
	tr.ResetCircuitBreaker("m1")
	assert.True(t, tr.Available("m1"))
	assert.Equal(t, consensustypes.CircuitClosed, tr.CircuitState("m1").State)
}

func TestExecuteWithFallbackSkipsOpenPrimaryAndUsesNext(t *testing.T) {
	tr := newTestTracker()
	for i := 0; i < failureThreshold; i++ {
		tr.Record(consensustypes.PerformanceEntry{ModelID: "primary", Success: false})
	}
	tr.ConfigureFallback("primary", []string{"backup"})

	result, err := tr.ExecuteWithFallback(context.Background(), "primary", func(ctx context.Context, model string, msgs []consensustypes.Message) (string, consensustypes.Usage, error) {
		if model == "primary" {
			t.Fatalf("should not call open primary model")
		}
		return "ok", consensustypes.Usage{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "backup", result.ModelID)
	assert.True(t, result.UsedFallback)
}

func TestExecuteWithFallbackReturnsErrorWhenAllFail(t *testing.T) {
	tr := newTestTracker()
	tr.ConfigureFallback("primary", []string{"backup"})
	boom := errors.New("boom")

	_, err := tr.ExecuteWithFallback(context.Background(), "primary", func(ctx context.Context, model string, msgs []consensustypes.Message) (string, consensustypes.Usage, error) {
		return "", consensustypes.Usage{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRankOrdersByCompositeScoreHighestFirst(t *testing.T) {
	tr := newTestTracker()
	for i := 0; i < 10; i++ {
		tr.Record(consensustypes.PerformanceEntry{ModelID: "cheap", LatencyMS: 2000, Success: true})
		tr.Record(consensustypes.PerformanceEntry{ModelID: "premium", LatencyMS: 200, Success: true})
	}
	costs := map[string]float64{"cheap": 0.1, "premium": 5.0}

	scores := tr.Rank([]string{"cheap", "premium"}, PresetCostEfficient, costs)
	require.Len(t, scores, 2)
	assert.Equal(t, "cheap", scores[0].ModelID)

	scores = tr.Rank([]string{"cheap", "premium"}, PresetQuickResponse, costs)
	assert.Equal(t, "premium", scores[0].ModelID)
}

func TestABTestLifecycle(t *testing.T) {
	tr := newTestTracker()
	tr.CreateABTest(consensustypes.ABTestConfig{
		TestID:     "t1",
		ModelA:     "a",
		ModelB:     "b",
		SampleSize: 5,
	})
	require.NoError(t, tr.StartABTest("t1"))

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.RecordABTestResult(consensustypes.ABTestResult{
			TestID: "t1", ModelID: "a", LatencyMS: 100, Success: true,
		}))
		require.NoError(t, tr.RecordABTestResult(consensustypes.ABTestResult{
			TestID: "t1", ModelID: "b", LatencyMS: 300, Success: true,
		}))
	}

	tests := tr.GetABTests()
	require.Len(t, tests, 1)
	assert.Equal(t, consensustypes.ABTestCompleted, tests[0].Status)

	analysis, err := tr.AnalyzeABTest("t1")
	require.NoError(t, err)
	assert.Equal(t, 5, analysis.SampleSizeA)
	assert.Equal(t, 5, analysis.SampleSizeB)
	assert.Equal(t, "a", analysis.MetricsComparison.Latency.BetterModel)
}

func TestAnalyzeABTestUnknownIDReturnsError(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.AnalyzeABTest("nope")
	assert.Error(t, err)
}
