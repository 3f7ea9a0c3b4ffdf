// Package modelregistry implements the profile & model registry (spec §4.H):
// a seed table of upstream-visible models, provider/tier/capability
// inference from model-name patterns, and named consensus profiles binding
// each of the four stages to a model. Grounded on internal/models/provider.go's
// two-strategy (catalog-then-pattern) provider detection, generalized to
// also infer Tier and Capability per spec.md's classification table.
package modelregistry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hivetechs/consensus/internal/consensustypes"
)

// Registry holds the known model catalog and named consensus profiles.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]consensustypes.ModelMetadata
	profiles map[string]consensustypes.ConsensusProfile
}

// New builds an empty Registry; call Seed or RegisterModel to populate it.
func New() *Registry {
	return &Registry{
		models:   make(map[string]consensustypes.ModelMetadata),
		profiles: make(map[string]consensustypes.ConsensusProfile),
	}
}

// RegisterModel inserts or replaces a model's catalog entry, inferring
// provider/tier/capabilities for any field left zero-valued.
func (r *Registry) RegisterModel(m consensustypes.ModelMetadata) {
	if m.Provider == "" {
		m.Provider = DetectProvider(m.ID)
	}
	if len(m.Capabilities) == 0 {
		m.Capabilities = InferCapabilities(m.ID, m.ContextWindow)
	}
	if m.Tier == consensustypes.Economy && (m.CostPer1kInput > 0 || m.CostPer1kOutput > 0) {
		m.Tier = InferTier(m.CostPer1kInput + m.CostPer1kOutput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
}

// Seed bulk-loads a catalog, typically read from config at startup.
func (r *Registry) Seed(models []consensustypes.ModelMetadata) {
	for _, m := range models {
		r.RegisterModel(m)
	}
}

// Model looks up one model's catalog entry.
func (r *Registry) Model(id string) (consensustypes.ModelMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// AllModels returns every registered model, for the GET /v1/models
// augmentation endpoint.
func (r *Registry) AllModels() []consensustypes.ModelMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]consensustypes.ModelMetadata, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// RegisterProfile inserts or replaces a named consensus profile.
func (r *Registry) RegisterProfile(p consensustypes.ConsensusProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
}

// Profile looks up a named consensus profile.
func (r *Registry) Profile(name string) (consensustypes.ConsensusProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	if !ok {
		return consensustypes.ConsensusProfile{}, fmt.Errorf("unknown profile %q", name)
	}
	return p, nil
}

// AllProfiles returns every registered profile.
func (r *Registry) AllProfiles() []consensustypes.ConsensusProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]consensustypes.ConsensusProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out
}

// DetectProvider infers a provider slug from a model's name, matching the
// teacher's pattern table. Generalized here to work from the name alone
// (no models.yaml catalog lookup, since this registry IS the catalog).
func DetectProvider(model string) string {
	if model == "" {
		return "unknown"
	}
	ml := strings.ToLower(model)

	switch {
	case strings.Contains(ml, "groq"):
		return "groq"
	case strings.Contains(ml, "gpt-"), strings.Contains(ml, "davinci"), strings.Contains(ml, "o1"), strings.Contains(ml, "o3"):
		return "openai"
	case strings.Contains(ml, "claude"), strings.Contains(ml, "opus"), strings.Contains(ml, "sonnet"), strings.Contains(ml, "haiku"):
		return "anthropic"
	case strings.Contains(ml, "gemini"), strings.Contains(ml, "palm"), strings.Contains(ml, "bard"):
		return "google"
	case strings.Contains(ml, "deepseek"):
		return "deepseek"
	case strings.Contains(ml, "qwen"):
		return "qwen"
	case strings.Contains(ml, "grok"):
		return "xai"
	case strings.Contains(ml, "mistral"), strings.Contains(ml, "mixtral"), strings.Contains(ml, "codestral"):
		return "mistral"
	case strings.Contains(ml, "llama"), strings.Contains(ml, "codellama"):
		return "meta"
	case strings.Contains(ml, "command"), strings.Contains(ml, "cohere"):
		return "cohere"
	case strings.Contains(ml, "glm"):
		return "zai"
	default:
		return "unknown"
	}
}

// InferTier classifies a model's pricing/quality tier from its combined
// per-1k rate, per spec.md §4.H's thresholds: >$0.02 Flagship, >$0.005
// Premium, >$0.001 Standard, else Economy.
func InferTier(combinedPer1K float64) consensustypes.Tier {
	switch {
	case combinedPer1K > 0.02:
		return consensustypes.Flagship
	case combinedPer1K > 0.005:
		return consensustypes.Premium
	case combinedPer1K > 0.001:
		return consensustypes.Standard
	default:
		return consensustypes.Economy
	}
}

// InferCapabilities derives the capability set from name substrings (mirroring
// detectProviderFromPattern's substring-switch idiom but producing a set
// instead of a single classification) plus the numeric context-window
// threshold spec.md §4.H requires for LongContext (≥ 32k tokens), which no
// name substring can reliably stand in for.
func InferCapabilities(model string, contextWindow int) []consensustypes.Capability {
	ml := strings.ToLower(model)
	var caps []consensustypes.Capability

	if strings.Contains(ml, "vision") || strings.Contains(ml, "gemini") || strings.Contains(ml, "gpt-4o") {
		caps = append(caps, consensustypes.CapabilityMultimodal)
	}
	if strings.Contains(ml, "haiku") || strings.Contains(ml, "mini") || strings.Contains(ml, "flash") || strings.Contains(ml, "turbo") {
		caps = append(caps, consensustypes.CapabilityFastResponse)
	}
	if strings.Contains(ml, "opus") || strings.Contains(ml, "o1") || strings.Contains(ml, "o3") || strings.Contains(ml, "reasoner") {
		caps = append(caps, consensustypes.CapabilityReasoning)
	}
	if strings.Contains(ml, "claude") || strings.Contains(ml, "gpt-4") {
		caps = append(caps, consensustypes.CapabilityCreative)
	}
	if contextWindow >= 32000 {
		caps = append(caps, consensustypes.CapabilityLongContext)
	}
	return caps
}
