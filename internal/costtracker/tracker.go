// Package costtracker implements the cost calculator and tracker (spec §4.B):
// token-to-cost mapping per model, an append-only cost log, and pre-request
// budget admission checks. Grounded on internal/pricing/pricing.go's lazy
// YAML price-table loading, generalized from a package-level singleton into
// a Tracker value so multiple processes/tests can hold independent state.
package costtracker

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hivetechs/consensus/internal/consensustypes"
	"github.com/hivetechs/consensus/internal/metrics"
)

// fallback rate per spec.md §4.B: $0.001 in / $0.002 out per 1k tokens.
const (
	fallbackInPer1K  = 0.001
	fallbackOutPer1K = 0.002
)

type modelPrice struct {
	InputPer1K    float64 `yaml:"input_per_1k"`
	OutputPer1K   float64 `yaml:"output_per_1k"`
	CombinedPer1K float64 `yaml:"combined_per_1k"`
}

type priceConfig struct {
	Pricing struct {
		Models map[string]modelPrice `yaml:"models"`
	} `yaml:"pricing"`
}

// BudgetConfig is the admission-control configuration from spec.md §4.B.
type BudgetConfig struct {
	DailyLimit      *float64
	MonthlyLimit    *float64
	PerRequestLimit *float64
	AlertThreshold  float64
	EnforceLimits   bool
}

// CostEstimate is the result of Estimate.
type CostEstimate struct {
	InputCost  float64
	OutputCost float64
	TotalCost  float64
	Currency   string
}

// BudgetAlert is fired when spend crosses the configured threshold.
type BudgetAlert struct {
	Level   string // "warning" or "critical"
	Message string
}

// BudgetStatus summarizes spend against the configured limits.
type BudgetStatus struct {
	DailySpent       float64
	MonthlySpent     float64
	DailyRemaining   *float64
	MonthlyRemaining *float64
	Alerts           []BudgetAlert
}

// Tracker is the cost calculator and tracker. It is a process-wide singleton
// per spec.md §3 "Ownership and lifecycle", constructed once and shared by
// reference across the stage executor and pipeline orchestrator.
type Tracker struct {
	mu     sync.RWMutex
	prices map[string]modelPrice
	log    []consensustypes.CostEntry
	budget BudgetConfig
	logger *zap.Logger
}

// New builds a Tracker, loading the model price table from the given YAML
// path (searched the same way the teacher's pricing package searches for
// config/models.yaml, but via an explicit path instead of package globals so
// tests can point at fixtures without touching process state).
func New(pricePath string, budget BudgetConfig, logger *zap.Logger) *Tracker {
	t := &Tracker{
		prices: loadPrices(pricePath, logger),
		budget: budget,
		logger: logger,
	}
	return t
}

func loadPrices(path string, logger *zap.Logger) map[string]modelPrice {
	out := map[string]modelPrice{}
	candidates := []string{path, "./config/models.yaml", "../config/models.yaml"}
	for _, p := range candidates {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Clean(p))
		if err != nil {
			continue
		}
		var cfg priceConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			if logger != nil {
				logger.Warn("failed to parse price config", zap.String("path", p), zap.Error(err))
			}
			continue
		}
		for id, price := range cfg.Pricing.Models {
			out[id] = price
		}
		break
	}
	return out
}

// priceFor returns the known input/output per-1k rate for a model, and
// whether it was found.
func (t *Tracker) priceFor(model string) (in, out float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, found := t.prices[model]
	if !found {
		return 0, 0, false
	}
	if p.InputPer1K > 0 || p.OutputPer1K > 0 {
		return p.InputPer1K, p.OutputPer1K, true
	}
	if p.CombinedPer1K > 0 {
		half := p.CombinedPer1K / 2
		return half, half, true
	}
	return 0, 0, false
}

// Estimate computes the cost of a prospective call. Unknown models use the
// fallback rate and increment the pricing-fallback metric.
func (t *Tracker) Estimate(model string, inTokens, outTokens int) CostEstimate {
	if inTokens < 0 {
		inTokens = 0
	}
	if outTokens < 0 {
		outTokens = 0
	}
	inRate, outRate, ok := t.priceFor(model)
	if !ok {
		reason := "unknown_model"
		if model == "" {
			reason = "missing_model"
		}
		metrics.PricingFallbacks.WithLabelValues(reason).Inc()
		if t.logger != nil {
			t.logger.Warn("cost estimate using fallback rate", zap.String("model", model))
		}
		inRate, outRate = fallbackInPer1K, fallbackOutPer1K
	}
	inCost := float64(inTokens) / 1000 * inRate
	outCost := float64(outTokens) / 1000 * outRate
	return CostEstimate{
		InputCost:  inCost,
		OutputCost: outCost,
		TotalCost:  inCost + outCost,
		Currency:   "USD",
	}
}

// Track appends a CostEntry to the in-memory log.
func (t *Tracker) Track(entry consensustypes.CostEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	t.mu.Lock()
	t.log = append(t.log, entry)
	t.mu.Unlock()
	metrics.StageCost.WithLabelValues(entry.RequestType, entry.ModelID).Observe(entry.TotalCost)
}

// BudgetStatus sums entries since start-of-day and start-of-month (UTC).
func (t *Tracker) BudgetStatus() BudgetStatus {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	t.mu.RLock()
	var daily, monthly float64
	for _, e := range t.log {
		if !e.Timestamp.Before(monthStart) {
			monthly += e.TotalCost
		}
		if !e.Timestamp.Before(dayStart) {
			daily += e.TotalCost
		}
	}
	budget := t.budget
	t.mu.RUnlock()

	status := BudgetStatus{DailySpent: daily, MonthlySpent: monthly}
	if budget.DailyLimit != nil {
		rem := *budget.DailyLimit - daily
		status.DailyRemaining = &rem
	}
	if budget.MonthlyLimit != nil {
		rem := *budget.MonthlyLimit - monthly
		status.MonthlyRemaining = &rem
	}
	status.Alerts = t.computeAlerts(budget, daily, monthly)
	return status
}

func (t *Tracker) computeAlerts(budget BudgetConfig, daily, monthly float64) []BudgetAlert {
	threshold := budget.AlertThreshold
	if threshold <= 0 {
		threshold = 0.8
	}
	var alerts []BudgetAlert
	check := func(spent float64, limit *float64, scope string) {
		if limit == nil || *limit <= 0 {
			return
		}
		frac := spent / *limit
		switch {
		case frac >= 1.0:
			alerts = append(alerts, BudgetAlert{Level: "critical", Message: scope + " budget exceeded"})
		case frac >= threshold:
			alerts = append(alerts, BudgetAlert{Level: "warning", Message: scope + " budget nearing limit"})
		}
	}
	check(daily, budget.DailyLimit, "daily")
	check(monthly, budget.MonthlyLimit, "monthly")
	return alerts
}

// CheckBudget returns false iff enforcement is enabled and the estimated
// cost would exceed the per-request, daily, or monthly budget.
func (t *Tracker) CheckBudget(estimatedCost float64) bool {
	t.mu.RLock()
	budget := t.budget
	t.mu.RUnlock()

	if !budget.EnforceLimits {
		return true
	}
	if budget.PerRequestLimit != nil && estimatedCost > *budget.PerRequestLimit {
		metrics.BudgetDenials.WithLabelValues("per_request_limit").Inc()
		return false
	}
	status := t.BudgetStatus()
	if status.DailyRemaining != nil && estimatedCost > *status.DailyRemaining {
		metrics.BudgetDenials.WithLabelValues("daily_limit").Inc()
		return false
	}
	if status.MonthlyRemaining != nil && estimatedCost > *status.MonthlyRemaining {
		metrics.BudgetDenials.WithLabelValues("monthly_limit").Inc()
		return false
	}
	return true
}

// Cleanup drops log entries older than the given number of days.
func (t *Tracker) Cleanup(days int) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.log[:0]
	for _, e := range t.log {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	t.log = kept
}

// Entries returns a snapshot copy of the cost log, for tests and reporting.
func (t *Tracker) Entries() []consensustypes.CostEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]consensustypes.CostEntry, len(t.log))
	copy(out, t.log)
	return out
}
