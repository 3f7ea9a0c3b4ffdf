package modelregistry

import (
	"fmt"
	"sort"

	"github.com/hivetechs/consensus/internal/consensustypes"
)

// Complexity is a task's estimated difficulty, used to set a minimum
// acceptable model tier (spec.md §4.H "Selection").
type Complexity int

const (
	Simple Complexity = iota
	Moderate
	Complex
	Expert
)

// Strategy weights cost/speed/quality differently when scoring candidates.
type Strategy int

const (
	CostOptimized Strategy = iota
	Balanced
	PerformanceOptimized
	QualityFirst
)

// SelectionRequest is Select's input: spec.md §4.H's
// (task_description, complexity, required_capabilities[], max_cost?) tuple.
type SelectionRequest struct {
	TaskDescription      string
	Complexity           Complexity
	RequiredCapabilities []consensustypes.Capability
	MaxCostPer1K         *float64
}

// SelectionResult is Select's output: the top candidate, two fallbacks, and
// an estimated per-request cost (assuming ~1k combined tokens).
type SelectionResult struct {
	Primary       string
	Fallbacks     []string
	EstimatedCost float64
}

// minTierFor maps task complexity to the minimum acceptable model tier,
// verbatim from spec.md §4.H: Simple→Economy, Moderate→Standard,
// Complex→Premium, Expert→Flagship.
func minTierFor(c Complexity) consensustypes.Tier {
	switch c {
	case Moderate:
		return consensustypes.Standard
	case Complex:
		return consensustypes.Premium
	case Expert:
		return consensustypes.Flagship
	default:
		return consensustypes.Economy
	}
}

// complexityMultiplier scales the quality term of the score, grounded on
// original_source/providers/openrouter/models.rs's score_model: harder tasks
// weight quality more heavily on top of the strategy's base weight.
func complexityMultiplier(c Complexity) float64 {
	switch c {
	case Moderate:
		return 0.75
	case Complex:
		return 1.0
	case Expert:
		return 1.25
	default:
		return 0.5
	}
}

// strategyWeights returns (cost, speed, quality) weights, verbatim from the
// same Rust source's score_model match block.
func strategyWeights(s Strategy) (cost, speed, quality float64) {
	switch s {
	case CostOptimized:
		return 0.7, 0.2, 0.1
	case PerformanceOptimized:
		return 0.1, 0.4, 0.5
	case QualityFirst:
		return 0.0, 0.2, 0.8
	default: // Balanced
		return 0.3, 0.3, 0.4
	}
}

func scoreModel(m consensustypes.ModelMetadata, complexity Complexity, strategy Strategy) float64 {
	costScore := 1.0 / (1.0 + m.CostPer1kInput + m.CostPer1kOutput)
	speedScore := 1.0 / (1.0 + m.AvgLatencyMS/1000.0)

	costWeight, speedWeight, qualityWeight := strategyWeights(strategy)
	return costScore*costWeight +
		speedScore*speedWeight +
		m.QualityScore*qualityWeight*complexityMultiplier(complexity)
}

func hasAllCapabilities(m consensustypes.ModelMetadata, required []consensustypes.Capability) bool {
	for _, want := range required {
		found := false
		for _, have := range m.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Select implements spec.md §4.H's "Selection" operation: filter the catalog
// by required capabilities, optional max combined cost, and the minimum tier
// complexity demands; score the survivors under the given strategy; return
// the top candidate, its two closest runners-up as fallbacks, and the
// primary's estimated per-request cost (combined per-1k rate).
func (r *Registry) Select(strategy Strategy, req SelectionRequest) (SelectionResult, error) {
	r.mu.RLock()
	candidates := make([]consensustypes.ModelMetadata, 0, len(r.models))
	for _, m := range r.models {
		candidates = append(candidates, m)
	}
	r.mu.RUnlock()

	minTier := minTierFor(req.Complexity)
	eligible := candidates[:0:0]
	for _, m := range candidates {
		if !hasAllCapabilities(m, req.RequiredCapabilities) {
			continue
		}
		if req.MaxCostPer1K != nil && m.CostPer1kInput+m.CostPer1kOutput > *req.MaxCostPer1K {
			continue
		}
		if m.Tier < minTier {
			continue
		}
		eligible = append(eligible, m)
	}

	if len(eligible) == 0 {
		return SelectionResult{}, fmt.Errorf("no models available matching the selection requirements")
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return scoreModel(eligible[i], req.Complexity, strategy) > scoreModel(eligible[j], req.Complexity, strategy)
	})

	primary := eligible[0]
	fallbacks := make([]string, 0, 2)
	for _, m := range eligible[1:] {
		if len(fallbacks) == 2 {
			break
		}
		fallbacks = append(fallbacks, m.ID)
	}

	return SelectionResult{
		Primary:       primary.ID,
		Fallbacks:     fallbacks,
		EstimatedCost: primary.CostPer1kInput + primary.CostPer1kOutput,
	}, nil
}
