package modelregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivetechs/consensus/internal/consensustypes"
)

func newSelectionRegistry() *Registry {
	r := New()
	r.Seed([]consensustypes.ModelMetadata{
		{
			ID: "flagship-model", Tier: consensustypes.Flagship,
			Capabilities: []consensustypes.Capability{consensustypes.CapabilityReasoning},
			CostPer1kInput: 0.015, CostPer1kOutput: 0.075, AvgLatencyMS: 2000, QualityScore: 0.95,
		},
		{
			ID: "premium-model", Tier: consensustypes.Premium,
			Capabilities: []consensustypes.Capability{consensustypes.CapabilityReasoning},
			CostPer1kInput: 0.003, CostPer1kOutput: 0.015, AvgLatencyMS: 800, QualityScore: 0.85,
		},
		{
			ID: "economy-model", Tier: consensustypes.Economy,
			Capabilities: []consensustypes.Capability{},
			CostPer1kInput: 0.0001, CostPer1kOutput: 0.0002, AvgLatencyMS: 200, QualityScore: 0.5,
		},
	})
	return r
}

func TestSelectFiltersByMinimumTierForComplexity(t *testing.T) {
	r := newSelectionRegistry()
	result, err := r.Select(Balanced, SelectionRequest{Complexity: Expert})
	require.NoError(t, err)
	assert.Equal(t, "flagship-model", result.Primary)
}

func TestSelectFiltersByRequiredCapabilities(t *testing.T) {
	r := newSelectionRegistry()
	result, err := r.Select(Balanced, SelectionRequest{
		Complexity:           Simple,
		RequiredCapabilities: []consensustypes.Capability{consensustypes.CapabilityReasoning},
	})
	require.NoError(t, err)
	assert.Contains(t, []string{"flagship-model", "premium-model"}, result.Primary)
}

func TestSelectCostOptimizedPrefersCheaperModel(t *testing.T) {
	r := newSelectionRegistry()
	result, err := r.Select(CostOptimized, SelectionRequest{Complexity: Simple})
	require.NoError(t, err)
	assert.Equal(t, "economy-model", result.Primary)
}

func TestSelectReturnsUpToTwoFallbacks(t *testing.T) {
	r := newSelectionRegistry()
	result, err := r.Select(Balanced, SelectionRequest{Complexity: Simple})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Fallbacks), 2)
	assert.NotContains(t, result.Fallbacks, result.Primary)
}

func TestSelectErrorsWhenNoModelMeetsRequirements(t *testing.T) {
	r := newSelectionRegistry()
	maxCost := 0.00001
	_, err := r.Select(Balanced, SelectionRequest{Complexity: Simple, MaxCostPer1K: &maxCost})
	assert.Error(t, err)
}

func TestSelectRespectsMaxCostConstraint(t *testing.T) {
	r := newSelectionRegistry()
	maxCost := 0.001
	result, err := r.Select(Balanced, SelectionRequest{Complexity: Simple, MaxCostPer1K: &maxCost})
	require.NoError(t, err)
	assert.Equal(t, "economy-model", result.Primary)
}
