package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestTierRank(t *testing.T) {
	assert.True(t, TierYearly.Rank() > TierMonthly.Rank())
	assert.True(t, TierLifetime.Rank() > TierYearly.Rank())
	assert.Equal(t, 0, TierNone.Rank())
	assert.Equal(t, 0, Tier("mystery").Rank())
}

func TestHasAccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := timePtr(now.Add(30 * 24 * time.Hour))
	past := timePtr(now.Add(-time.Hour))

	tests := []struct {
		name     string
		acct     Account
		required Tier
		want     bool
	}{
		{
			name:     "no subscription",
			acct:     Account{PlanTier: TierNone, Status: SubscriptionNone},
			required: TierMonthly,
			want:     false,
		},
		{
			name:     "active monthly within period",
			acct:     Account{PlanTier: TierMonthly, Status: SubscriptionActive, PeriodEnd: future},
			required: TierMonthly,
			want:     true,
		},
		{
			name:     "active monthly cannot reach yearly gate",
			acct:     Account{PlanTier: TierMonthly, Status: SubscriptionActive, PeriodEnd: future},
			required: TierYearly,
			want:     false,
		},
		{
			name:     "yearly satisfies monthly gate",
			acct:     Account{PlanTier: TierYearly, Status: SubscriptionActive, PeriodEnd: future},
			required: TierMonthly,
			want:     true,
		},
		{
			name:     "period elapsed without any new event",
			acct:     Account{PlanTier: TierMonthly, Status: SubscriptionActive, PeriodEnd: past},
			required: TierMonthly,
			want:     false,
		},
		{
			name:     "canceled denies even before period end",
			acct:     Account{PlanTier: TierMonthly, Status: SubscriptionCanceled, PeriodEnd: future},
			required: TierMonthly,
			want:     false,
		},
		{
			name:     "lifetime ignores period end",
			acct:     Account{PlanTier: TierLifetime, Status: SubscriptionActive, PeriodEnd: past},
			required: TierYearly,
			want:     true,
		},
		{
			name:     "lifetime tier grants even when status lagged",
			acct:     Account{PlanTier: TierLifetime, Status: SubscriptionNone},
			required: TierMonthly,
			want:     true,
		},
		{
			name:     "canceled lifetime does not grant",
			acct:     Account{PlanTier: TierLifetime, Status: SubscriptionCanceled},
			required: TierMonthly,
			want:     false,
		},
		{
			name:     "active but tier none never grants",
			acct:     Account{PlanTier: TierNone, Status: SubscriptionActive, PeriodEnd: future},
			required: TierMonthly,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.acct.HasAccess(tt.required, now))
		})
	}
}

func TestHasAccessCalendarLapse(t *testing.T) {
	activated := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	acct := Account{
		PlanTier:  TierMonthly,
		Status:    SubscriptionActive,
		PeriodEnd: timePtr(activated.Add(30 * 24 * time.Hour)),
	}

	assert.True(t, acct.HasAccess(TierMonthly, activated.Add(24*time.Hour)))
	assert.False(t, acct.HasAccess(TierMonthly, activated.Add(31*24*time.Hour)))
}
