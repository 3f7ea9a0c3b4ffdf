package perftracker

import "sort"

// TaskPreset names a weighting profile for ModelScore (spec.md §4.C
// "Ranking"). Grounded on original_source/providers/openrouter/performance.rs's
// task-specific weight tables, re-expressed as Go constants instead of enum
// variants.
type TaskPreset string

const (
	PresetCodeAnalysis    TaskPreset = "code_analysis"
	PresetCreativeWriting TaskPreset = "creative_writing"
	PresetQuickResponse   TaskPreset = "quick_response"
	PresetCostEfficient   TaskPreset = "cost_efficient"
	PresetBalanced        TaskPreset = "balanced"
)

// weights is (quality, reliability, speed/latency, cost, throughput); they
// sum to 1.0. Named q/r/L/c/t to mirror spec.md §4.C's
// `s = q·wq + r·wr + L·wL + c·wc + t·wt` formula directly.
type weights struct {
	quality, reliability, speed, cost, throughput float64
}

// presetWeights reproduces spec.md §4.C's task-preset table verbatim
// (sourced from original_source/providers/openrouter/performance.rs's
// get_task_recommendations weight literals, which match the spec exactly).
// PresetBalanced uses the default weights, not a named Rust preset.
var presetWeights = map[TaskPreset]weights{
	PresetCodeAnalysis:    {quality: 0.40, reliability: 0.30, speed: 0.15, cost: 0.10, throughput: 0.05},
	PresetCreativeWriting: {quality: 0.45, reliability: 0.10, speed: 0.15, cost: 0.10, throughput: 0.20},
	PresetQuickResponse:   {quality: 0.20, reliability: 0.30, speed: 0.40, cost: 0.05, throughput: 0.05},
	PresetCostEfficient:   {quality: 0.20, reliability: 0.25, speed: 0.15, cost: 0.35, throughput: 0.05},
	PresetBalanced:        {quality: 0.30, reliability: 0.25, speed: 0.20, cost: 0.15, throughput: 0.10},
}

// ModelScore is one model's ranked composite score.
type ModelScore struct {
	ModelID            string
	CompositeScore     float64
	QualityComponent   float64
	SpeedComponent     float64
	CostComponent      float64
	ReliabilityScore   float64
	ThroughputComponent float64
}

// Rank scores and orders candidates for the given task preset, highest
// composite score first. costPer1k supplies the known (or fallback) combined
// per-1k-token rate for cost normalization, since PerformanceMetrics itself
// carries no pricing data.
func (t *Tracker) Rank(models []string, preset TaskPreset, costPer1k map[string]float64) []ModelScore {
	w, ok := presetWeights[preset]
	if !ok {
		w = presetWeights[PresetBalanced]
	}

	maxCost := 0.0
	for _, m := range models {
		if c := costPer1k[m]; c > maxCost {
			maxCost = c
		}
	}
	if maxCost == 0 {
		maxCost = 1
	}

	scores := make([]ModelScore, 0, len(models))
	for _, m := range models {
		pm := t.Metrics(m)
		quality := pm.QualityScore
		latency := 1 - minFloat(1, pm.AvgLatencyMS/15000)
		cost := 1 - costPer1k[m]/maxCost
		reliability := pm.SuccessRate
		throughput := minFloat(1, pm.TokensPerSecond/100)

		composite := w.quality*quality + w.reliability*reliability + w.speed*latency + w.cost*cost + w.throughput*throughput
		scores = append(scores, ModelScore{
			ModelID:             m,
			CompositeScore:      composite,
			QualityComponent:    quality,
			SpeedComponent:      latency,
			CostComponent:       cost,
			ReliabilityScore:    reliability,
			ThroughputComponent: throughput,
		})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].CompositeScore > scores[j].CompositeScore
	})
	return scores
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
