package models

import "time"

// Tier is the entitlement level granted by a subscription.
type Tier string

const (
	TierNone     Tier = "none"
	TierMonthly  Tier = "monthly"
	TierYearly   Tier = "yearly"
	TierLifetime Tier = "lifetime"
)

// tierRank orders tiers for access checks. Lifetime outranks everything.
var tierRank = map[Tier]int{
	TierNone:     0,
	TierMonthly:  1,
	TierYearly:   2,
	TierLifetime: 3,
}

// Rank returns the ordering weight of the tier. Unknown tiers rank as none.
func (t Tier) Rank() int {
	return tierRank[t]
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// SubscriptionStatus is the lifecycle state of an account's subscription.
type SubscriptionStatus string

const (
	SubscriptionNone     SubscriptionStatus = "none"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

type Account struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`

	StripeCustomerID     *string `json:"-"`
	StripeSubscriptionID *string `json:"-"`

	PlanTier      Tier               `json:"plan_tier"`
	Status        SubscriptionStatus `json:"subscription_status"`
	PeriodStart   *time.Time         `json:"period_start,omitempty"`
	PeriodEnd     *time.Time         `json:"period_end,omitempty"`
	LastPaymentAt *time.Time         `json:"last_payment_at,omitempty"`

	// LastEventAt is the effective timestamp of the newest billing event
	// applied to this account. Events older than this are stale.
	LastEventAt time.Time `json:"-"`

	// BillingVersion is the compare-and-write token for the billing
	// sub-record. Every applied transition increments it.
	BillingVersion int64 `json:"-"`

	SavedChannels []string  `json:"saved_channels"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasAccess reports whether the account is entitled to content gated at the
// required tier, evaluated at the given instant. It must be re-derived on
// every read: entitlement lapses by calendar time alone, with no event.
func (a Account) HasAccess(required Tier, now time.Time) bool {
	if a.Status != SubscriptionActive && a.PlanTier != TierLifetime {
		return false
	}
	// An explicit cancel revokes even a lifetime grant.
	if a.Status == SubscriptionCanceled {
		return false
	}
	if a.PlanTier == TierNone {
		return false
	}
	if a.PlanTier != TierLifetime && a.PeriodEnd != nil && !a.PeriodEnd.After(now) {
		return false
	}
	return a.PlanTier.Rank() >= required.Rank()
}

// EventKind is the internal, provider-agnostic vocabulary of billing events.
type EventKind string

const (
	EventSubscriptionActivated EventKind = "subscription_activated"
	EventSubscriptionChanged   EventKind = "subscription_changed"
	EventSubscriptionCanceled  EventKind = "subscription_canceled"
	EventPaymentSucceeded      EventKind = "payment_succeeded"
	EventPaymentFailed         EventKind = "payment_failed"
)

// BillingEvent is a normalized billing occurrence. Events are immutable facts.
type BillingEvent struct {
	ID             string
	Kind           EventKind
	CustomerID     string
	SubscriptionID string
	PriceID        string

	// Tier is the internal tier resolved from PriceID through the configured
	// mapping. TierNone means the price was unmapped: the reconciler treats
	// that as "no tier change", never as a downgrade.
	Tier Tier

	EffectiveAt time.Time
	PeriodEnd   *time.Time
}

// Outcome classifies how the reconciler disposed of an event.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeDuplicate    Outcome = "ignored_duplicate"
	OutcomeStale        Outcome = "ignored_stale"
	OutcomeIgnored      Outcome = "ignored"
	OutcomePendingRetry Outcome = "pending_retry"
)

// ProcessedEvent is one entry in the append-only idempotency ledger.
type ProcessedEvent struct {
	EventID    string
	Kind       EventKind
	AccountID  int64
	Outcome    Outcome
	RecordedAt time.Time
}
