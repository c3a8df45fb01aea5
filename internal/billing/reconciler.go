package billing

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"channelscope/internal/metrics"
	"channelscope/internal/models"
	"channelscope/internal/store"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 25 * time.Millisecond
)

// Notifier receives out-of-band notices raised during reconciliation.
// Failures are logged and never affect event processing.
type Notifier interface {
	PaymentFailed(ctx context.Context, acct models.Account) error
}

// ReconcilerConfig carries the collaborators and budgets a Reconciler needs.
// Notifier and Metrics are optional.
type ReconcilerConfig struct {
	Notifier     Notifier
	Metrics      metrics.Recorder
	Logger       zerolog.Logger
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Reconciler applies normalized billing events to the entitlement store
// under the idempotency and ordering rules. It mutates entitlement at most
// once per event id and is safe under arbitrary redelivery, duplication, and
// reordering.
type Reconciler struct {
	accounts store.AccountStore
	ledger   store.EventLedger
	notifier Notifier
	metrics  metrics.Recorder
	log      zerolog.Logger

	maxAttempts int
	backoff     time.Duration
}

func NewReconciler(accounts store.AccountStore, ledger store.EventLedger, cfg ReconcilerConfig) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	return &Reconciler{
		accounts:    accounts,
		ledger:      ledger,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
	}
}

// Process applies one normalized event and reports how it was disposed of.
// Errors are only returned for infrastructure failures (store unreachable,
// retry budget exhausted); every business-rule rejection is an outcome.
func (r *Reconciler) Process(ctx context.Context, ev models.BillingEvent) (models.Outcome, error) {
	log := r.log.With().Str("event_id", ev.ID).Str("kind", string(ev.Kind)).Logger()

	prior, err := r.ledger.Get(ctx, ev.ID)
	switch {
	case err == nil && prior.Outcome != models.OutcomePendingRetry:
		log.Debug().Str("prior_outcome", string(prior.Outcome)).Msg("duplicate delivery ignored")
		return models.OutcomeDuplicate, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", err
	}

	for attempt := 1; ; attempt++ {
		acct, err := r.accounts.GetByStripeCustomerID(ctx, ev.CustomerID)
		if errors.Is(err, store.ErrNotFound) {
			// The provider can emit events for customers this system never
			// created. Record and move on so redelivery stays quiet.
			log.Warn().Str("customer", ev.CustomerID).Msg("event for unknown customer ignored")
			return r.record(ctx, ev, 0, models.OutcomeIgnored)
		}
		if err != nil {
			return "", err
		}

		if ev.EffectiveAt.Before(acct.LastEventAt) {
			log.Info().
				Time("effective_at", ev.EffectiveAt).
				Time("fence", acct.LastEventAt).
				Msg("stale event ignored")
			return r.record(ctx, ev, acct.ID, models.OutcomeStale)
		}

		next, changed, notify := transition(acct, ev)
		if changed {
			err := r.accounts.UpdateBilling(ctx, acct.ID, acct.BillingVersion, next)
			if errors.Is(err, store.ErrConflict) {
				r.metrics.RecordWriteConflict()
				if attempt >= r.maxAttempts {
					log.Warn().Int("attempts", attempt).Msg("write conflict budget exhausted, deferring to provider retry")
					if _, recErr := r.record(ctx, ev, acct.ID, models.OutcomePendingRetry); recErr != nil {
						return "", recErr
					}
					return models.OutcomePendingRetry, ErrRetryExhausted
				}
				if err := sleepJittered(ctx, r.backoff, attempt); err != nil {
					return "", err
				}
				continue
			}
			if err != nil {
				return "", err
			}
			if next.PlanTier != acct.PlanTier {
				r.metrics.RecordTierChange(string(acct.PlanTier), string(next.PlanTier))
			}
		}

		if notify && r.notifier != nil {
			if err := r.notifier.PaymentFailed(ctx, acct); err != nil {
				log.Warn().Err(err).Int64("account_id", acct.ID).Msg("payment failure notice not sent")
			}
		}

		return r.record(ctx, ev, acct.ID, models.OutcomeApplied)
	}
}

// record appends the outcome to the ledger. Losing the insert race to a
// concurrent delivery of the same id is reported as a duplicate.
func (r *Reconciler) record(ctx context.Context, ev models.BillingEvent, accountID int64, outcome models.Outcome) (models.Outcome, error) {
	err := r.ledger.Record(ctx, models.ProcessedEvent{
		EventID:    ev.ID,
		Kind:       ev.Kind,
		AccountID:  accountID,
		Outcome:    outcome,
		RecordedAt: time.Now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicateEvent) {
		return models.OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// sleepJittered waits one backoff step, scaled by attempt with random
// jitter, unless the context expires first.
func sleepJittered(ctx context.Context, base time.Duration, attempt int) error {
	d := time.Duration(attempt) * base
	d += time.Duration(rand.Int63n(int64(base)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
