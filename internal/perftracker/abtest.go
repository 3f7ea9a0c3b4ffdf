package perftracker

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hivetechs/consensus/internal/consensuserrors"
	"github.com/hivetechs/consensus/internal/consensustypes"
)

// abTest holds one configured A/B test and its accumulated results. Grounded
// on original_source/providers/openrouter/performance.rs's PerformanceTracker
// A/B-test methods (create_ab_test/record_ab_test_result/analyze_ab_test),
// re-expressed as methods on Tracker with a per-test mutex instead of the
// original's single tokio RwLock over a HashMap of tests.
type abTest struct {
	mu      sync.Mutex
	config  consensustypes.ABTestConfig
	results []consensustypes.ABTestResult
}

// CreateABTest registers a new test in Planned status.
func (t *Tracker) CreateABTest(cfg consensustypes.ABTestConfig) {
	if cfg.Status == "" {
		cfg.Status = consensustypes.ABTestPlanned
	}
	t.abMu.Lock()
	defer t.abMu.Unlock()
	t.abTests[cfg.TestID] = &abTest{config: cfg}
}

// StartABTest transitions a test to Running and stamps StartedAt.
func (t *Tracker) StartABTest(testID string) error {
	test, err := t.getTest(testID)
	if err != nil {
		return err
	}
	test.mu.Lock()
	defer test.mu.Unlock()
	test.config.Status = consensustypes.ABTestRunning
	test.config.StartedAt = time.Now()
	return nil
}

// RecordABTestResult appends a query outcome; once both arms reach the
// configured sample size the test auto-completes.
func (t *Tracker) RecordABTestResult(result consensustypes.ABTestResult) error {
	test, err := t.getTest(result.TestID)
	if err != nil {
		return err
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	test.mu.Lock()
	defer test.mu.Unlock()
	test.results = append(test.results, result)

	var na, nb int
	for _, r := range test.results {
		switch r.ModelID {
		case test.config.ModelA:
			na++
		case test.config.ModelB:
			nb++
		}
	}
	if test.config.SampleSize > 0 && na >= test.config.SampleSize && nb >= test.config.SampleSize {
		test.config.Status = consensustypes.ABTestCompleted
	}
	return nil
}

// GetABTests returns every configured test's config snapshot.
func (t *Tracker) GetABTests() []consensustypes.ABTestConfig {
	t.abMu.Lock()
	defer t.abMu.Unlock()
	out := make([]consensustypes.ABTestConfig, 0, len(t.abTests))
	for _, test := range t.abTests {
		test.mu.Lock()
		out = append(out, test.config)
		test.mu.Unlock()
	}
	return out
}

func (t *Tracker) getTest(testID string) (*abTest, error) {
	t.abMu.Lock()
	defer t.abMu.Unlock()
	test, ok := t.abTests[testID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", consensuserrors.ErrModelNotFound, testID)
	}
	return test, nil
}

// AnalyzeABTest computes the statistical comparison for a completed or
// in-flight test.
func (t *Tracker) AnalyzeABTest(testID string) (consensustypes.ABTestAnalysis, error) {
	test, err := t.getTest(testID)
	if err != nil {
		return consensustypes.ABTestAnalysis{}, err
	}
	test.mu.Lock()
	cfg := test.config
	results := append([]consensustypes.ABTestResult(nil), test.results...)
	test.mu.Unlock()

	var a, b []consensustypes.ABTestResult
	for _, r := range results {
		switch r.ModelID {
		case cfg.ModelA:
			a = append(a, r)
		case cfg.ModelB:
			b = append(b, r)
		}
	}

	metricsA := abTestMetrics(a)
	metricsB := abTestMetrics(b)
	comparison := consensustypes.ABTestMetricsComparison{
		Latency:     compare("latency_ms", metricsA.avgLatency, metricsB.avgLatency, cfg.ModelA, cfg.ModelB, true),
		SuccessRate: compare("success_rate", metricsA.successRate, metricsB.successRate, cfg.ModelA, cfg.ModelB, false),
		Quality:     compare("quality", metricsA.avgQuality, metricsB.avgQuality, cfg.ModelA, cfg.ModelB, false),
		Throughput:  compare("throughput", metricsA.avgThroughput, metricsB.avgThroughput, cfg.ModelA, cfg.ModelB, false),
	}

	significance := latencySignificance(a, b)
	rec := recommend(cfg, comparison, significance)

	return consensustypes.ABTestAnalysis{
		TestID:                  testID,
		ModelA:                  cfg.ModelA,
		ModelB:                  cfg.ModelB,
		SampleSizeA:             len(a),
		SampleSizeB:             len(b),
		MetricsComparison:       comparison,
		StatisticalSignificance: significance,
		Recommendation:          rec,
		ConfidenceLevel:         1 - significance.PValue,
		CompletedAt:             time.Now(),
	}, nil
}

type abTestMetricSet struct {
	avgLatency    float64
	successRate   float64
	avgQuality    float64
	avgThroughput float64
}

func abTestMetrics(results []consensustypes.ABTestResult) abTestMetricSet {
	if len(results) == 0 {
		return abTestMetricSet{}
	}
	var success []consensustypes.ABTestResult
	for _, r := range results {
		if r.Success {
			success = append(success, r)
		}
	}
	var set abTestMetricSet
	set.successRate = float64(len(success)) / float64(len(results))
	if len(success) == 0 {
		return set
	}
	var latSum, throughputSum, qualSum float64
	var qualN int
	for _, r := range success {
		latSum += float64(r.LatencyMS)
		if r.LatencyMS > 0 {
			throughputSum += float64(r.TokensGenerated) * 1000 / float64(r.LatencyMS)
		}
		if r.QualityRating != nil {
			qualSum += *r.QualityRating
			qualN++
		}
	}
	set.avgLatency = latSum / float64(len(success))
	set.avgThroughput = throughputSum / float64(len(success))
	if qualN > 0 {
		set.avgQuality = qualSum / float64(qualN)
	}
	return set
}

// compare builds a MetricComparison; lowerIsBetter flips which side wins
// (true for latency, false for success/quality/throughput).
func compare(name string, a, b float64, modelA, modelB string, lowerIsBetter bool) consensustypes.MetricComparison {
	diff := a - b
	pct := 0.0
	if b != 0 {
		pct = diff / b * 100
	}
	better := ""
	switch {
	case a == b:
		better = ""
	case lowerIsBetter == (a < b):
		better = modelA
	default:
		better = modelB
	}
	return consensustypes.MetricComparison{
		MetricName:       name,
		ModelAValue:      a,
		ModelBValue:      b,
		Difference:       diff,
		PercentageChange: pct,
		BetterModel:      better,
	}
}

// latencySignificance is a simplified two-sample significance estimate over
// latency, mirroring the original's Welch-style approximation rather than a
// full statistical package — neither the teacher nor the rest of the pack
// carries a stats library, so this stays on math/stdlib by necessity (see
// DESIGN.md).
func latencySignificance(a, b []consensustypes.ABTestResult) consensustypes.StatisticalSignificance {
	insignificant := consensustypes.StatisticalSignificance{PValue: 1.0, Power: 0.1}
	if len(a) < 5 || len(b) < 5 {
		return insignificant
	}

	latA := successLatencies(a)
	latB := successLatencies(b)
	if len(latA) == 0 || len(latB) == 0 {
		return insignificant
	}

	meanA, varA := meanVariance(latA)
	meanB, varB := meanVariance(latB)
	pooledStd := math.Sqrt(varA/float64(len(latA)) + varB/float64(len(latB)))
	if pooledStd == 0 {
		return insignificant
	}
	tStat := (meanA - meanB) / pooledStd

	var pValue float64
	switch {
	case math.Abs(tStat) > 2.0:
		pValue = 0.05
	case math.Abs(tStat) > 1.5:
		pValue = 0.15
	default:
		pValue = 0.30
	}

	significant := pValue < 0.05
	power := 0.2
	if significant {
		power = 0.8
	}
	return consensustypes.StatisticalSignificance{
		IsSignificant:        significant,
		PValue:               pValue,
		ConfidenceIntervalLo: meanA - meanB - 1.96*pooledStd,
		ConfidenceIntervalHi: meanA - meanB + 1.96*pooledStd,
		EffectSize:           (meanA - meanB) / pooledStd,
		Power:                power,
	}
}

func successLatencies(results []consensustypes.ABTestResult) []float64 {
	var out []float64
	for _, r := range results {
		if r.Success {
			out = append(out, float64(r.LatencyMS))
		}
	}
	return out
}

func meanVariance(vals []float64) (mean, variance float64) {
	mean = avg(vals)
	if len(vals) < 2 {
		return mean, 0
	}
	var sum float64
	for _, v := range vals {
		sum += (v - mean) * (v - mean)
	}
	return mean, sum / float64(len(vals)-1)
}

func recommend(cfg consensustypes.ABTestConfig, cmp consensustypes.ABTestMetricsComparison, sig consensustypes.StatisticalSignificance) string {
	if !sig.IsSignificant {
		return "no statistically significant difference observed; continue collecting samples or keep the current default"
	}
	winner := cmp.Latency.BetterModel
	if winner == "" {
		winner = cfg.ModelA
	}
	return fmt.Sprintf("%s shows a statistically significant advantage", winner)
}
