package usagetracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivetechs/consensus/internal/consensustypes"
)

func TestCheckUsageAllowsWithinDailyLimit(t *testing.T) {
	tr := New(nil, nil)
	ok, notice := tr.CheckUsage("u1")
	assert.True(t, ok)
	assert.Nil(t, notice)
}

func TestCheckUsageBlockedWhenDailyExhaustedAndNoCredits(t *testing.T) {
	tr := New(nil, nil)
	tr.SetTier("u1", consensustypes.TierFree) // creates the user without the new-signup trial grant
	for i := 0; i < 10; i++ {
		tr.RecordUsage("u1")
	}
	ok, notice := tr.CheckUsage("u1")
	assert.False(t, ok)
	require.NotNil(t, notice)
	assert.Equal(t, consensustypes.NotificationBlocked, notice.Type)
}

func TestCheckUsageUsesCreditPackWhenDailyExhausted(t *testing.T) {
	tr := New(nil, nil)
	tr.SetTier("u1", consensustypes.TierFree) // creates the user without the new-signup trial grant
	tr.AddCreditPack("u1", 5)
	for i := 0; i < 10; i++ {
		tr.RecordUsage("u1")
	}
	ok, notice := tr.CheckUsage("u1")
	assert.True(t, ok)
	require.NotNil(t, notice)
	assert.Equal(t, consensustypes.NotificationInfo, notice.Type)

	tr.RecordUsage("u1")
	info := tr.Info("u1")
	assert.Equal(t, 4, info.CreditsRemaining)
	assert.Equal(t, 10, info.DailyUsage)
}

func TestNewUserAutoGrantsSevenDayTrial(t *testing.T) {
	tr := New(nil, nil)
	info := tr.Info("brand-new-user")
	assert.True(t, info.TrialActive)
	require.NotNil(t, info.TrialEndDate)
	assert.WithinDuration(t, time.Now().UTC().Add(trialDuration), *info.TrialEndDate, time.Minute)
}

func TestActiveTrialBypassesDailyLimit(t *testing.T) {
	tr := New(nil, nil)
	tr.StartTrial("u1")
	for i := 0; i < 10; i++ {
		tr.RecordUsage("u1")
	}
	ok, notice := tr.CheckUsage("u1")
	assert.True(t, ok)
	assert.Nil(t, notice)
}

func TestUnlimitedTierNeverBlocked(t *testing.T) {
	tr := New(nil, nil)
	tr.SetTier("u1", consensustypes.TierUnlimited)
	for i := 0; i < 1000; i++ {
		tr.RecordUsage("u1")
	}
	ok, _ := tr.CheckUsage("u1")
	assert.True(t, ok)
}

func TestWarningNotificationAtHighUsage(t *testing.T) {
	tr := New(map[consensustypes.UserTier]TierLimits{
		consensustypes.TierFree: {DailyLimit: 10, MonthlyLimit: 100},
	}, nil)
	tr.SetTier("u1", consensustypes.TierFree) // creates the user without the new-signup trial grant
	for i := 0; i < 8; i++ {
		tr.RecordUsage("u1")
	}
	ok, notice := tr.CheckUsage("u1")
	assert.True(t, ok)
	require.NotNil(t, notice)
	assert.Equal(t, consensustypes.NotificationWarning, notice.Type)
}
