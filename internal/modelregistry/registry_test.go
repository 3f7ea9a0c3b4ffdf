package modelregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivetechs/consensus/internal/consensustypes"
)

func TestDetectProviderPatternMatching(t *testing.T) {
	assert.Equal(t, "anthropic", DetectProvider("claude-3-5-sonnet-20241022"))
	assert.Equal(t, "openai", DetectProvider("gpt-4-turbo"))
	assert.Equal(t, "google", DetectProvider("gemini-1.5-pro"))
	assert.Equal(t, "groq", DetectProvider("groq-llama-3-70b"))
	assert.Equal(t, "meta", DetectProvider("llama-3.1-70b"))
	assert.Equal(t, "unknown", DetectProvider("mystery-model"))
	assert.Equal(t, "unknown", DetectProvider(""))
}

func TestInferTierThresholds(t *testing.T) {
	assert.Equal(t, consensustypes.Flagship, InferTier(0.05))
	assert.Equal(t, consensustypes.Premium, InferTier(0.015))
	assert.Equal(t, consensustypes.Standard, InferTier(0.005))
	assert.Equal(t, consensustypes.Economy, InferTier(0.0005))
}

func TestInferCapabilitiesReasoningAndFast(t *testing.T) {
	caps := InferCapabilities("claude-3-haiku", 8000)
	assert.Contains(t, caps, consensustypes.CapabilityFastResponse)
	assert.Contains(t, caps, consensustypes.CapabilityCreative)

	caps = InferCapabilities("claude-3-opus", 8000)
	assert.Contains(t, caps, consensustypes.CapabilityReasoning)
}

func TestInferCapabilitiesLongContextFromNumericWindow(t *testing.T) {
	caps := InferCapabilities("claude-3-opus", 200000)
	assert.Contains(t, caps, consensustypes.CapabilityLongContext)

	caps = InferCapabilities("claude-3-opus", 8000)
	assert.NotContains(t, caps, consensustypes.CapabilityLongContext)
}

func TestRegisterModelInfersMissingFields(t *testing.T) {
	r := New()
	r.RegisterModel(consensustypes.ModelMetadata{ID: "claude-3-opus"})
	m, ok := r.Model("claude-3-opus")
	require.True(t, ok)
	assert.Equal(t, "anthropic", m.Provider)
	assert.Contains(t, m.Capabilities, consensustypes.CapabilityReasoning)
}

func TestProfileRegistrationAndLookup(t *testing.T) {
	r := New()
	r.RegisterProfile(consensustypes.ConsensusProfile{
		Name: "balanced",
		Entries: [4]consensustypes.ProfileEntry{
			{ModelID: "gpt-4-turbo"},
			{ModelID: "claude-3-sonnet"},
			{ModelID: "claude-3-opus"},
			{ModelID: "gpt-4-turbo"},
		},
	})
	p, err := r.Profile("balanced")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4-turbo", p.Entries[consensustypes.Generator].ModelID)

	_, err = r.Profile("missing")
	assert.Error(t, err)
}

func TestAllModelsReturnsSeeded(t *testing.T) {
	r := New()
	r.Seed([]consensustypes.ModelMetadata{
		{ID: "gpt-4-turbo"},
		{ID: "claude-3-opus"},
	})
	assert.Len(t, r.AllModels(), 2)
}
