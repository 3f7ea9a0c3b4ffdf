// Package usagetracker implements the usage tracker (spec §4.D): per-user
// daily/monthly conversation counters, trial windows, credit-pack overflow,
// and warning notifications. The per-user lazy-creation-under-lock shape is
// grounded on internal/budget/manager.go's sessionBudgets/userBudgets maps;
// the notification copy and threshold ladder (50/75/90/100%) is grounded on
// original_source/subscription/usage_tracker.rs's generate_*_message methods,
// rewritten as Go string builders instead of format! chains.
package usagetracker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/consensustypes"
)

// TierLimits is the daily/monthly allowance for one subscription tier.
type TierLimits struct {
	DailyLimit   int
	MonthlyLimit int
}

var defaultTierLimits = map[consensustypes.UserTier]TierLimits{
	consensustypes.TierFree:       {DailyLimit: 10, MonthlyLimit: 20},
	consensustypes.TierBasic:      {DailyLimit: 50, MonthlyLimit: 1000},
	consensustypes.TierStandard:   {DailyLimit: 100, MonthlyLimit: 2000},
	consensustypes.TierPremium:    {DailyLimit: 200, MonthlyLimit: 4000},
	consensustypes.TierUnlimited:  {DailyLimit: 1 << 30, MonthlyLimit: 1 << 30},
	consensustypes.TierEnterprise: {DailyLimit: 1 << 30, MonthlyLimit: 1 << 30},
}

const trialDuration = 7 * 24 * time.Hour

// Tracker is the process-wide usage tracker, one entry per user held
// in-memory and periodically reset by day/month rollover checks performed
// lazily on read (spec.md §4.D "Daily/monthly reset").
type Tracker struct {
	mu     sync.RWMutex
	users  map[string]*consensustypes.UserUsageInfo
	limits map[consensustypes.UserTier]TierLimits
	logger *zap.Logger
}

// New builds a Tracker with the given tier-limit table, or the package
// defaults when nil.
func New(limits map[consensustypes.UserTier]TierLimits, logger *zap.Logger) *Tracker {
	if limits == nil {
		limits = defaultTierLimits
	}
	return &Tracker{
		users:  make(map[string]*consensustypes.UserUsageInfo),
		limits: limits,
		logger: logger,
	}
}

// userFor returns the user's record, creating it on first access with the
// 7-day free trial auto-granted (spec.md §4.D: every new signup starts on
// Free tier with TrialActive), and rolling over daily/monthly counters if
// their window has elapsed.
func (t *Tracker) userFor(userID string) *consensustypes.UserUsageInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		end := time.Now().UTC().Add(trialDuration)
		u = &consensustypes.UserUsageInfo{
			UserID:       userID,
			Tier:         consensustypes.TierFree,
			TrialActive:  true,
			TrialEndDate: &end,
		}
		t.users[userID] = u
	}
	t.rolloverLocked(u)
	return u
}

func (t *Tracker) rolloverLocked(u *consensustypes.UserUsageInfo) {
	now := time.Now().UTC()
	if u.UsageResetDate == nil || now.After(*u.UsageResetDate) {
		u.DailyUsage = 0
		next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		u.UsageResetDate = &next
	}
}

// StartTrial activates the 7-day free trial for a user.
func (t *Tracker) StartTrial(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		u = &consensustypes.UserUsageInfo{UserID: userID, Tier: consensustypes.TierFree}
		t.users[userID] = u
	}
	u.TrialActive = true
	end := time.Now().UTC().Add(trialDuration)
	u.TrialEndDate = &end
}

// SetTier updates a user's subscription tier.
func (t *Tracker) SetTier(userID string, tier consensustypes.UserTier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		u = &consensustypes.UserUsageInfo{UserID: userID}
		t.users[userID] = u
	}
	u.Tier = tier
}

// AddCreditPack appends a purchased credit pack to a user's balance.
func (t *Tracker) AddCreditPack(userID string, credits int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		u = &consensustypes.UserUsageInfo{UserID: userID, Tier: consensustypes.TierFree}
		t.users[userID] = u
	}
	u.CreditsRemaining += credits
	u.CreditPacks = append(u.CreditPacks, consensustypes.CreditPack{Count: credits, PurchasedAt: time.Now().UTC()})
}

func (t *Tracker) limitsFor(tier consensustypes.UserTier) TierLimits {
	if l, ok := t.limits[tier]; ok {
		return l
	}
	return defaultTierLimits[consensustypes.TierFree]
}

// CheckUsage implements spec.md §4.D's pre-conversation admission check: an
// active trial or unlimited tier always admits; otherwise daily allowance is
// checked first, falling back to credit packs, and finally refusing with a
// Blocked notification when both are exhausted. The boolean result reports
// whether the conversation may proceed.
func (t *Tracker) CheckUsage(userID string) (bool, *consensustypes.Notification) {
	u := t.userFor(userID)

	t.mu.RLock()
	tier := u.Tier
	trialActive := u.TrialActive && u.TrialEndDate != nil && time.Now().UTC().Before(*u.TrialEndDate)
	dailyUsage := u.DailyUsage
	monthlyUsage := 0 // monthly counter tracked separately via MonthlyUsage field if needed
	credits := u.CreditsRemaining
	t.mu.RUnlock()
	_ = monthlyUsage

	if trialActive || tier == consensustypes.TierUnlimited || tier == consensustypes.TierEnterprise {
		return true, nil
	}

	limits := t.limitsFor(tier)
	dailyPct := percentOf(dailyUsage, limits.DailyLimit)

	if dailyUsage >= limits.DailyLimit {
		if credits > 0 {
			return true, &consensustypes.Notification{
				Type:    consensustypes.NotificationInfo,
				Title:   "Using Credit Pack",
				Message: creditPackMessage(credits),
				Action:  &consensustypes.NotificationAction{Label: "Buy More Credits", URL: pricingURL},
			}
		}
		return false, &consensustypes.Notification{
			Type:    consensustypes.NotificationBlocked,
			Title:   "Usage Limit Reached",
			Message: limitReachedMessage(tier, dailyUsage, limits),
			Action:  &consensustypes.NotificationAction{Label: "Upgrade Now", URL: pricingURL},
		}
	}

	return true, warningNotification(tier, dailyPct)
}

// RecordUsage increments a user's counters after a successful conversation,
// consuming a credit pack instead of the daily allowance once it is
// exhausted (matching record_conversation_usage's overflow behavior).
func (t *Tracker) RecordUsage(userID string) {
	u := t.userFor(userID)
	t.mu.Lock()
	defer t.mu.Unlock()
	limits := t.limitsFor(u.Tier)
	if u.DailyUsage >= limits.DailyLimit && u.CreditsRemaining > 0 {
		u.CreditsRemaining--
	} else {
		u.DailyUsage++
	}
}

// Info returns a copy of a user's usage record for display.
func (t *Tracker) Info(userID string) consensustypes.UserUsageInfo {
	u := t.userFor(userID)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return *u
}

func percentOf(used, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}

const pricingURL = "https://hivetechs.io/pricing"

func creditPackMessage(remaining int) string {
	return fmt.Sprintf("Daily allowance exhausted. Using 1 of your %d purchased credits for this conversation.", remaining)
}

func limitReachedMessage(tier consensustypes.UserTier, used int, limits TierLimits) string {
	msg := fmt.Sprintf("You've reached your daily allowance on the %s tier.\n\n", tier)
	msg += fmt.Sprintf("Daily: %d/%d conversations used today\n", used, limits.DailyLimit)
	if tier == consensustypes.TierFree {
		msg += "\nStart your 7-day free trial for unlimited access to the consensus pipeline, analytics, and benchmarking."
	} else {
		msg += "\nConsider upgrading or purchasing additional credits."
	}
	msg += "\nLimits reset tomorrow (daily) and next month (monthly)."
	return msg
}

func warningNotification(tier consensustypes.UserTier, dailyPct float64) *consensustypes.Notification {
	switch {
	case dailyPct >= 90:
		return &consensustypes.Notification{
			Type:    consensustypes.NotificationCritical,
			Title:   "Approaching Usage Limit",
			Message: fmt.Sprintf("You're at %.0f%% of your daily allowance. Avoid interruptions by upgrading now.", dailyPct),
			Action:  &consensustypes.NotificationAction{Label: "Upgrade Now", URL: pricingURL},
		}
	case dailyPct >= 75:
		return &consensustypes.Notification{
			Type:    consensustypes.NotificationWarning,
			Title:   "High Usage Alert",
			Message: fmt.Sprintf("You're using your %s subscription heavily this period.", tier),
			Action:  &consensustypes.NotificationAction{Label: "View Plans", URL: pricingURL},
		}
	case tier == consensustypes.TierFree && dailyPct >= 50:
		return &consensustypes.Notification{
			Type:    consensustypes.NotificationInfo,
			Title:   "Usage Update",
			Message: "Start your 7-day free trial to unlock unlimited conversations and premium features.",
			Action:  &consensustypes.NotificationAction{Label: "Start Free Trial", URL: pricingURL},
		}
	default:
		return nil
	}
}
