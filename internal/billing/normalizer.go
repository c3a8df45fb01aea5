package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"

	"channelscope/internal/models"
)

// Normalizer maps verified provider events into the internal event
// vocabulary. Price references resolve only through the configured mapping
// table; there is no inference from price identifier contents.
type Normalizer struct {
	prices map[string]models.Tier
}

func NewNormalizer(priceTiers map[string]models.Tier) *Normalizer {
	prices := make(map[string]models.Tier, len(priceTiers))
	for id, tier := range priceTiers {
		prices[id] = tier
	}
	return &Normalizer{prices: prices}
}

// Normalize maps a provider event to zero or one normalized billing event.
// Unknown event kinds return (nil, nil): new provider event types must never
// break processing. A parse failure returns ErrMalformed.
func (n *Normalizer) Normalize(event stripe.Event) (*models.BillingEvent, error) {
	switch event.Type {
	case "customer.subscription.created":
		return n.fromSubscription(event, models.EventSubscriptionActivated)
	case "customer.subscription.updated":
		return n.fromSubscription(event, models.EventSubscriptionChanged)
	case "customer.subscription.deleted":
		return n.fromSubscription(event, models.EventSubscriptionCanceled)
	case "invoice.payment_succeeded":
		return n.fromInvoice(event, models.EventPaymentSucceeded)
	case "invoice.payment_failed":
		return n.fromInvoice(event, models.EventPaymentFailed)
	case "checkout.session.completed":
		return n.fromCheckoutSession(event)
	default:
		return nil, nil
	}
}

// ResolveTier maps a provider price reference to an internal tier. Unmapped
// prices resolve to TierNone, which downstream treats as "no tier change".
func (n *Normalizer) ResolveTier(priceID string) models.Tier {
	if tier, ok := n.prices[priceID]; ok {
		return tier
	}
	return models.TierNone
}

func (n *Normalizer) fromSubscription(event stripe.Event, kind models.EventKind) (*models.BillingEvent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, event.Type)
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, fmt.Errorf("%w: subscription without customer", ErrMalformed)
	}

	priceID := ""
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}

	ev := &models.BillingEvent{
		ID:             event.ID,
		Kind:           kind,
		CustomerID:     sub.Customer.ID,
		SubscriptionID: sub.ID,
		PriceID:        priceID,
		Tier:           n.ResolveTier(priceID),
		EffectiveAt:    time.Unix(event.Created, 0).UTC(),
		PeriodEnd:      unixPtr(sub.CurrentPeriodEnd),
	}
	return ev, nil
}

func (n *Normalizer) fromInvoice(event stripe.Event, kind models.EventKind) (*models.BillingEvent, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, event.Type)
	}
	if inv.Customer == nil || inv.Customer.ID == "" {
		return nil, fmt.Errorf("%w: invoice without customer", ErrMalformed)
	}

	subID := ""
	if inv.Subscription != nil {
		subID = inv.Subscription.ID
	}

	ev := &models.BillingEvent{
		ID:             event.ID,
		Kind:           kind,
		CustomerID:     inv.Customer.ID,
		SubscriptionID: subID,
		Tier:           models.TierNone,
		EffectiveAt:    time.Unix(event.Created, 0).UTC(),
		PeriodEnd:      unixPtr(inv.PeriodEnd),
	}
	return ev, nil
}

// fromCheckoutSession covers the one-time lifetime purchase, which completes
// in payment mode and therefore never emits subscription lifecycle events.
// Subscription-mode sessions activate through customer.subscription.created
// instead, so they pass through untouched.
func (n *Normalizer) fromCheckoutSession(event stripe.Event) (*models.BillingEvent, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, event.Type)
	}
	if sess.Mode != stripe.CheckoutSessionModePayment {
		return nil, nil
	}
	if models.Tier(sess.Metadata["tier"]) != models.TierLifetime {
		return nil, nil
	}
	if sess.Customer == nil || sess.Customer.ID == "" {
		return nil, fmt.Errorf("%w: checkout session without customer", ErrMalformed)
	}

	ev := &models.BillingEvent{
		ID:          event.ID,
		Kind:        models.EventSubscriptionActivated,
		CustomerID:  sess.Customer.ID,
		Tier:        models.TierLifetime,
		EffectiveAt: time.Unix(event.Created, 0).UTC(),
	}
	return ev, nil
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
