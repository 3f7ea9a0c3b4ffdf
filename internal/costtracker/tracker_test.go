package costtracker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivetechs/consensus/internal/consensustypes"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	limit := 10.0
	perReq := 1.0
	return New("", BudgetConfig{
		DailyLimit:      &limit,
		PerRequestLimit: &perReq,
		AlertThreshold:  0.8,
		EnforceLimits:   true,
	}, nil)
}

// R3: estimate(m, i, o).total_cost == estimate(m, i, 0).total_cost + estimate(m, 0, o).total_cost
func TestEstimateSplitAdditivity(t *testing.T) {
	tr := newTestTracker(t)
	combined := tr.Estimate("unknown-model", 1234, 5678)
	inputOnly := tr.Estimate("unknown-model", 1234, 0)
	outputOnly := tr.Estimate("unknown-model", 0, 5678)
	assert.InDelta(t, inputOnly.TotalCost+outputOnly.TotalCost, combined.TotalCost, 1e-9)
}

func TestEstimateUnknownModelUsesFallbackRate(t *testing.T) {
	tr := newTestTracker(t)
	est := tr.Estimate("totally-unknown", 1000, 1000)
	assert.InDelta(t, fallbackInPer1K, est.InputCost, 1e-9)
	assert.InDelta(t, fallbackOutPer1K, est.OutputCost, 1e-9)
}

// I6: input_cost + output_cost == total_cost within float tolerance; total_cost >= 0
func TestTrackEntryCostInvariant(t *testing.T) {
	tr := newTestTracker(t)
	entry := consensustypes.CostEntry{
		ModelID:      "m1",
		RequestType:  "generator",
		InputTokens:  100,
		OutputTokens: 200,
		InputCost:    0.0001,
		OutputCost:   0.0004,
		TotalCost:    0.0005,
		Success:      true,
	}
	tr.Track(entry)
	entries := tr.Entries()
	require.Len(t, entries, 1)
	got := entries[0]
	assert.InDelta(t, got.InputCost+got.OutputCost, got.TotalCost, 1e-9)
	assert.GreaterOrEqual(t, got.TotalCost, 0.0)
	assert.NotEmpty(t, got.ID)
}

func TestCheckBudgetPerRequestLimit(t *testing.T) {
	tr := newTestTracker(t)
	assert.True(t, tr.CheckBudget(0.5))
	assert.False(t, tr.CheckBudget(1.5))
}

// Scenario 2: Budget refusal. daily_spent=9.95, daily_limit=10.0, estimated=0.10, enforce=true.
func TestCheckBudgetDailyLimitRefusal(t *testing.T) {
	limit := 10.0
	tr := New("", BudgetConfig{DailyLimit: &limit, EnforceLimits: true}, nil)
	tr.Track(consensustypes.CostEntry{ModelID: "m1", TotalCost: 9.95, Success: true})
	assert.False(t, tr.CheckBudget(0.10))
}

func TestBudgetStatusAlerts(t *testing.T) {
	limit := 10.0
	tr := New("", BudgetConfig{DailyLimit: &limit, AlertThreshold: 0.8, EnforceLimits: true}, nil)
	tr.Track(consensustypes.CostEntry{ModelID: "m1", TotalCost: 8.5, Success: true})
	status := tr.BudgetStatus()
	require.NotEmpty(t, status.Alerts)
	assert.Equal(t, "warning", status.Alerts[0].Level)
}

func TestCleanupDropsOldEntries(t *testing.T) {
	tr := newTestTracker(t)
	old := consensustypes.CostEntry{ModelID: "m1", TotalCost: 0.01, Success: true}
	old.Timestamp = old.Timestamp.AddDate(0, 0, -40)
	tr.mu.Lock()
	tr.log = append(tr.log, old)
	tr.mu.Unlock()
	tr.Track(consensustypes.CostEntry{ModelID: "m1", TotalCost: 0.02, Success: true})

	tr.Cleanup(30)
	entries := tr.Entries()
	require.Len(t, entries, 1)
	assert.InDelta(t, 0.02, entries[0].TotalCost, 1e-9)
}

func TestEstimateNegativeTokensTreatedAsZero(t *testing.T) {
	tr := newTestTracker(t)
	est := tr.Estimate("m1", -5, -5)
	assert.Equal(t, 0.0, est.TotalCost)
	_ = math.Abs(0)
}
