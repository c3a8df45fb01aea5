package billing

import (
	"channelscope/internal/models"
	"channelscope/internal/store"
)

// transition computes the billing state an event moves the account into.
// changed reports whether the store must be written; notify reports whether
// the account should receive a payment-failure notice. Transitions that
// change nothing (repeat cancels, payment events for inactive accounts) are
// still applied events: they just skip the write.
//
// Timestamps come from the event, never from the wall clock, so re-applying
// the same event always produces the same state.
func transition(acct models.Account, ev models.BillingEvent) (next store.BillingState, changed, notify bool) {
	next = store.BillingState{
		StripeSubscriptionID: acct.StripeSubscriptionID,
		PlanTier:             acct.PlanTier,
		Status:               acct.Status,
		PeriodStart:          acct.PeriodStart,
		PeriodEnd:            acct.PeriodEnd,
		LastPaymentAt:        acct.LastPaymentAt,
		LastEventAt:          ev.EffectiveAt,
	}

	// Lifetime is absorbing: only a cancel carrying the same subscription
	// reference moves it, everything else leaves the entitlement untouched.
	if acct.PlanTier == models.TierLifetime {
		switch {
		case ev.Kind == models.EventSubscriptionCanceled && sameSubscription(acct, ev):
			next.Status = models.SubscriptionCanceled
			return next, true, false
		case ev.Kind == models.EventPaymentFailed:
			return next, false, true
		default:
			return next, false, false
		}
	}

	switch ev.Kind {
	case models.EventSubscriptionActivated:
		return activate(acct, ev, next), true, false

	case models.EventSubscriptionChanged:
		if acct.Status != models.SubscriptionActive {
			// The provider considers the subscription live even though we
			// never saw the activation (late or lost delivery): treat the
			// change as the activation.
			return activate(acct, ev, next), true, false
		}
		if ev.Tier != models.TierNone {
			next.PlanTier = ev.Tier
		}
		if next.PlanTier == models.TierLifetime {
			next.PeriodEnd = nil
		} else if ev.PeriodEnd != nil {
			next.PeriodEnd = ev.PeriodEnd
		}
		if ev.SubscriptionID != "" {
			subID := ev.SubscriptionID
			next.StripeSubscriptionID = &subID
		}
		return next, true, false

	case models.EventSubscriptionCanceled:
		if acct.Status != models.SubscriptionActive {
			// Already canceled or never active: no-op.
			return next, false, false
		}
		// Period end stays on record for status reads.
		next.Status = models.SubscriptionCanceled
		return next, true, false

	case models.EventPaymentSucceeded:
		if acct.Status != models.SubscriptionActive {
			return next, false, false
		}
		paidAt := ev.EffectiveAt
		next.LastPaymentAt = &paidAt
		if ev.PeriodEnd != nil {
			next.PeriodEnd = ev.PeriodEnd
		}
		return next, true, false

	case models.EventPaymentFailed:
		if acct.Status != models.SubscriptionActive {
			return next, false, false
		}
		// No entitlement change: the provider owns the grace period and will
		// eventually cancel. Only the notification flag is raised.
		return next, true, true
	}

	return next, false, false
}

func activate(acct models.Account, ev models.BillingEvent, next store.BillingState) store.BillingState {
	if ev.Tier != models.TierNone {
		next.PlanTier = ev.Tier
	}
	if next.PlanTier == models.TierNone {
		// Unmapped price on a fresh activation: nothing to grant, but the
		// event still counts as applied so later resolvable events pass the
		// staleness fence.
		return next
	}
	start := ev.EffectiveAt
	next.Status = models.SubscriptionActive
	next.PeriodStart = &start
	next.LastPaymentAt = &start
	if next.PlanTier == models.TierLifetime {
		next.PeriodEnd = nil
	} else {
		next.PeriodEnd = ev.PeriodEnd
	}
	if ev.SubscriptionID != "" {
		subID := ev.SubscriptionID
		next.StripeSubscriptionID = &subID
	}
	return next
}

func sameSubscription(acct models.Account, ev models.BillingEvent) bool {
	if acct.StripeSubscriptionID == nil || ev.SubscriptionID == "" {
		return false
	}
	return *acct.StripeSubscriptionID == ev.SubscriptionID
}
