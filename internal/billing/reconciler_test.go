package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channelscope/internal/billing"
	"channelscope/internal/models"
	"channelscope/internal/store"
	"channelscope/internal/store/memory"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type captureNotifier struct {
	mu     sync.Mutex
	failed []int64
}

func (c *captureNotifier) PaymentFailed(ctx context.Context, acct models.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, acct.ID)
	return nil
}

func (c *captureNotifier) failedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failed)
}

// conflictingStore rejects every billing write with a conflict.
type conflictingStore struct {
	*memory.Store
}

func (c *conflictingStore) UpdateBilling(ctx context.Context, accountID, expectedVersion int64, state store.BillingState) error {
	return store.ErrConflict
}

func newTestAccount(t *testing.T, st *memory.Store, customerID string) models.Account {
	t.Helper()
	acct, err := st.Create(context.Background(), "alice", "alice@example.com", "hash")
	require.NoError(t, err)
	require.NoError(t, st.SetStripeCustomerID(context.Background(), acct.ID, customerID))
	acct, err = st.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	return acct
}

func newReconciler(accounts store.AccountStore, ledger store.EventLedger, notifier billing.Notifier) *billing.Reconciler {
	return billing.NewReconciler(accounts, ledger, billing.ReconcilerConfig{
		Notifier:     notifier,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	})
}

func subEvent(id string, kind models.EventKind, tier models.Tier, at time.Time, periodEnd *time.Time) models.BillingEvent {
	return models.BillingEvent{
		ID:             id,
		Kind:           kind,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		PriceID:        "price_" + string(tier),
		Tier:           tier,
		EffectiveAt:    at,
		PeriodEnd:      periodEnd,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestProcessActivation(t *testing.T) {
	st := memory.New()
	acct := newTestAccount(t, st, "cus_1")
	rec := newReconciler(st, st, nil)

	periodEnd := timePtr(baseTime.Add(30 * 24 * time.Hour))
	outcome, err := rec.Process(context.Background(), subEvent("evt_1", models.EventSubscriptionActivated, models.TierMonthly, baseTime, periodEnd))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)

	got, err := st.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TierMonthly, got.PlanTier)
	assert.Equal(t, models.SubscriptionActive, got.Status)
	assert.Equal(t, baseTime, got.LastEventAt)
	assert.Equal(t, acct.BillingVersion+1, got.BillingVersion)
	require.NotNil(t, got.StripeSubscriptionID)
	assert.Equal(t, "sub_1", *got.StripeSubscriptionID)
	require.NotNil(t, got.PeriodEnd)
	assert.Equal(t, *periodEnd, *got.PeriodEnd)
	assert.True(t, got.HasAccess(models.TierMonthly, baseTime.Add(24*time.Hour)))
}

func TestProcessIdempotence(t *testing.T) {
	st := memory.New()
	acct := newTestAccount(t, st, "cus_1")
	rec := newReconciler(st, st, nil)

	ev := subEvent("evt_1", models.EventSubscriptionActivated, models.TierMonthly, baseTime, timePtr(baseTime.AddDate(0, 1, 0)))

	outcome, err := rec.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)

	once, err := st.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		outcome, err = rec.Process(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeDuplicate, outcome)
	}

	again, err := st.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, once, again)
}

func TestProcessOutOfOrder(t *testing.T) {
	t.Run("late cancel is stale", func(t *testing.T) {
		st := memory.New()
		acct := newTestAccount(t, st, "cus_1")
		rec := newReconciler(st, st, nil)

		outcome, err := rec.Process(context.Background(), subEvent("evt_act", models.EventSubscriptionActivated, models.TierMonthly, baseTime.Add(2*time.Hour), nil))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeApplied, outcome)

		outcome, err = rec.Process(context.Background(), subEvent("evt_cancel", models.EventSubscriptionCanceled, models.TierNone, baseTime.Add(time.Hour), nil))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeStale, outcome)

		got, err := st.GetByID(context.Background(), acct.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionActive, got.Status)
	})

	t.Run("in order still converges active", func(t *testing.T) {
		st := memory.New()
		acct := newTestAccount(t, st, "cus_1")
		rec := newReconciler(st, st, nil)

		outcome, err := rec.Process(context.Background(), subEvent("evt_cancel", models.EventSubscriptionCanceled, models.TierNone, baseTime.Add(time.Hour), nil))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeApplied, outcome)

		outcome, err = rec.Process(context.Background(), subEvent("evt_act", models.EventSubscriptionActivated, models.TierMonthly, baseTime.Add(2*time.Hour), nil))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeApplied, outcome)

		got, err := st.GetByID(context.Background(), acct.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionActive, got.Status)
		assert.Equal(t, models.TierMonthly, got.PlanTier)
	})
}

func TestProcessLifetimeAbsorption(t *testing.T) {
	st := memory.New()
	acct := newTestAccount(t, st, "cus_1")
	notifier := &captureNotifier{}
	rec := newReconciler(st, st, notifier)

	outcome, err := rec.Process(context.Background(), subEvent("evt_life", models.EventSubscriptionActivated, models.TierLifetime, baseTime, nil))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)

	// Payment failure never touches a lifetime grant, but the holder hears
	// about it.
	outcome, err = rec.Process(context.Background(), subEvent("evt_fail", models.EventPaymentFailed, models.TierNone, baseTime.Add(time.Hour), nil))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)
	assert.Equal(t, 1, notifier.failedCount())

	got, err := st.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TierLifetime, got.PlanTier)
	assert.Equal(t, models.SubscriptionActive, got.Status)

	// A cancel for some other subscription reference does not move it.
	other := subEvent("evt_cancel_other", models.EventSubscriptionCanceled, models.TierNone, baseTime.Add(2*time.Hour), nil)
	other.SubscriptionID = "sub_other"
	outcome, err = rec.Process(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)

	got, err = st.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, got.Status)

	// The matching cancel does.
	outcome, err = rec.Process(context.Background(), subEvent("evt_cancel", models.EventSubscriptionCanceled, models.TierNone, baseTime.Add(3*time.Hour), nil))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)

	got, err = st.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCanceled, got.Status)
	assert.False(t, got.HasAccess(models.TierMonthly, baseTime.Add(4*time.Hour)))
}

func TestProcessUnknownCustomer(t *testing.T) {
	st := memory.New()
	rec := newReconciler(st, st, nil)

	ev := subEvent("evt_1", models.EventSubscriptionActivated, models.TierMonthly, baseTime, nil)
	ev.CustomerID = "cus_stranger"

	outcome, err := rec.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeIgnored, outcome)

	// Redelivery of the same event is a quiet duplicate.
	outcome, err = rec.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDuplicate, outcome)
}

func TestProcessUnmappedPriceAdvancesFence(t *testing.T) {
	st := memory.New()
	acct := newTestAccount(t, st, "cus_1")
	rec := newReconciler(st, st, nil)

	_, err := rec.Process(context.Background(), subEvent("evt_act", models.EventSubscriptionActivated, models.TierMonthly, baseTime, nil))
	require.NoError(t, err)

	// Tier cannot be resolved: entitlement untouched, fence still advances.
	unmapped := subEvent("evt_change", models.EventSubscriptionChanged, models.TierNone, baseTime.Add(time.Hour), nil)
	outcome, err := rec.Process(context.Background(), unmapped)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)

	got, err := st.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TierMonthly, got.PlanTier)
	assert.Equal(t, baseTime.Add(time.Hour), got.LastEventAt)

	// A later resolvable event is not considered stale.
	upgrade := subEvent("evt_upgrade", models.EventSubscriptionChanged, models.TierYearly, baseTime.Add(2*time.Hour), nil)
	outcome, err = rec.Process(context.Background(), upgrade)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)

	got, err = st.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TierYearly, got.PlanTier)
}

func TestProcessConcurrentWriters(t *testing.T) {
	st := memory.New()
	acct := newTestAccount(t, st, "cus_1")
	rec := newReconciler(st, st, nil)

	_, err := rec.Process(context.Background(), subEvent("evt_act", models.EventSubscriptionActivated, models.TierMonthly, baseTime, nil))
	require.NoError(t, err)

	var wg sync.WaitGroup
	outcomes := make([]models.Outcome, 2)
	errs := make([]error, 2)
	events := []models.BillingEvent{
		subEvent("evt_pay", models.EventPaymentSucceeded, models.TierNone, baseTime.Add(time.Hour), timePtr(baseTime.AddDate(0, 1, 0))),
		subEvent("evt_change", models.EventSubscriptionChanged, models.TierYearly, baseTime.Add(time.Hour), nil),
	}
	for i := range events {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = rec.Process(context.Background(), events[i])
		}(i)
	}
	wg.Wait()

	for i := range events {
		require.NoError(t, errs[i])
		assert.Equal(t, models.OutcomeApplied, outcomes[i])
	}

	got, err := st.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	// Both writes landed: activation plus two applied events.
	assert.Equal(t, acct.BillingVersion+3, got.BillingVersion)
	assert.Equal(t, models.TierYearly, got.PlanTier)
	require.NotNil(t, got.LastPaymentAt)
}

func TestProcessRetryExhaustion(t *testing.T) {
	st := memory.New()
	newTestAccount(t, st, "cus_1")
	rec := newReconciler(&conflictingStore{st}, st, nil)

	ev := subEvent("evt_1", models.EventSubscriptionActivated, models.TierMonthly, baseTime, nil)
	outcome, err := rec.Process(context.Background(), ev)
	require.ErrorIs(t, err, billing.ErrRetryExhausted)
	assert.Equal(t, models.OutcomePendingRetry, outcome)

	recorded, err := st.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePendingRetry, recorded.Outcome)

	// Provider redelivery against a healthy store finalizes the event.
	healthy := newReconciler(st, st, nil)
	outcome, err = healthy.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)

	recorded, err = st.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, recorded.Outcome)
}

func TestProcessPaymentFailureNotifies(t *testing.T) {
	st := memory.New()
	acct := newTestAccount(t, st, "cus_1")
	notifier := &captureNotifier{}
	rec := newReconciler(st, st, notifier)

	_, err := rec.Process(context.Background(), subEvent("evt_act", models.EventSubscriptionActivated, models.TierMonthly, baseTime, timePtr(baseTime.AddDate(0, 1, 0))))
	require.NoError(t, err)

	before, err := st.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)

	outcome, err := rec.Process(context.Background(), subEvent("evt_fail", models.EventPaymentFailed, models.TierNone, baseTime.Add(time.Hour), nil))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)
	assert.Equal(t, 1, notifier.failedCount())

	after, err := st.GetByID(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, before.PlanTier, after.PlanTier)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.PeriodEnd, after.PeriodEnd)
}
