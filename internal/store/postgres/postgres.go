// Package postgres implements the store interfaces on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"time"

	"channelscope/internal/models"
	"channelscope/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables this store needs if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id                     BIGSERIAL PRIMARY KEY,
			username               TEXT NOT NULL UNIQUE,
			email                  TEXT NOT NULL UNIQUE,
			password_hash          TEXT NOT NULL,
			stripe_customer_id     TEXT,
			stripe_subscription_id TEXT,
			plan_tier              TEXT NOT NULL DEFAULT 'none',
			subscription_status    TEXT NOT NULL DEFAULT 'none',
			period_start           TIMESTAMPTZ,
			period_end             TIMESTAMPTZ,
			last_payment_at        TIMESTAMPTZ,
			last_event_at          TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			billing_version        BIGINT NOT NULL DEFAULT 0,
			saved_channels         TEXT[] NOT NULL DEFAULT '{}',
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS accounts_stripe_customer_idx
			ON accounts (stripe_customer_id) WHERE stripe_customer_id IS NOT NULL;
		CREATE TABLE IF NOT EXISTS processed_events (
			event_id    TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			account_id  BIGINT,
			outcome     TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

const accountColumns = `id, username, email, password_hash, stripe_customer_id, stripe_subscription_id,
	plan_tier, subscription_status, period_start, period_end, last_payment_at,
	last_event_at, billing_version, saved_channels, created_at, updated_at`

func (s *Store) Create(ctx context.Context, username, email, passwordHash string) (models.Account, error) {
	var acct models.Account
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (username, email, password_hash)
		VALUES ($1, LOWER($2), $3)
		RETURNING `+accountColumns,
		username, email, passwordHash,
	).Scan(scanTargets(&acct)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "accounts_username_key" {
				return models.Account{}, store.ErrUsernameTaken
			}
			return models.Account{}, store.ErrEmailTaken
		}
		return models.Account{}, err
	}
	return acct, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (models.Account, error) {
	return s.getBy(ctx, `id = $1`, id)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (models.Account, error) {
	return s.getBy(ctx, `email = LOWER($1)`, email)
}

func (s *Store) GetByUsername(ctx context.Context, username string) (models.Account, error) {
	return s.getBy(ctx, `username = $1`, username)
}

func (s *Store) GetByStripeCustomerID(ctx context.Context, customerID string) (models.Account, error) {
	return s.getBy(ctx, `stripe_customer_id = $1`, customerID)
}

func (s *Store) getBy(ctx context.Context, where string, arg any) (models.Account, error) {
	var acct models.Account
	err := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE `+where, arg,
	).Scan(scanTargets(&acct)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, store.ErrNotFound
	}
	return acct, err
}

// UpdateBilling is the compare-and-write the reconciler relies on: the WHERE
// clause on billing_version makes the whole transition all-or-nothing.
func (s *Store) UpdateBilling(ctx context.Context, accountID int64, expectedVersion int64, state store.BillingState) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET stripe_subscription_id = $1,
			plan_tier = $2,
			subscription_status = $3,
			period_start = $4,
			period_end = $5,
			last_payment_at = $6,
			last_event_at = $7,
			billing_version = billing_version + 1,
			updated_at = NOW()
		WHERE id = $8 AND billing_version = $9`,
		state.StripeSubscriptionID, state.PlanTier, state.Status,
		state.PeriodStart, state.PeriodEnd, state.LastPaymentAt, state.LastEventAt,
		accountID, expectedVersion)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// Distinguish a lost race from a missing account.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	return nil
}

func (s *Store) SetStripeCustomerID(ctx context.Context, accountID int64, customerID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE accounts SET stripe_customer_id = $1, updated_at = NOW()
		WHERE id = $2`, customerID, accountID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, accountID int64, passwordHash string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE accounts SET password_hash = $1, updated_at = NOW()
		WHERE id = $2`, passwordHash, accountID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateSavedChannels(ctx context.Context, accountID int64, channels []string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE accounts SET saved_channels = $1, updated_at = NOW()
		WHERE id = $2`, channels, accountID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Record(ctx context.Context, ev models.ProcessedEvent) error {
	recordedAt := ev.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	var accountID *int64
	if ev.AccountID != 0 {
		accountID = &ev.AccountID
	}
	// A pending_retry row is a placeholder from an exhausted attempt; the
	// provider redelivery that follows is allowed to finalize it.
	ct, err := s.pool.Exec(ctx, `
		INSERT INTO processed_events (event_id, kind, account_id, outcome, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO UPDATE
		SET account_id = EXCLUDED.account_id,
			outcome = EXCLUDED.outcome,
			recorded_at = EXCLUDED.recorded_at
		WHERE processed_events.outcome = 'pending_retry'`,
		ev.EventID, ev.Kind, accountID, ev.Outcome, recordedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return store.ErrDuplicateEvent
	}
	return nil
}

func (s *Store) Get(ctx context.Context, eventID string) (models.ProcessedEvent, error) {
	var (
		ev        models.ProcessedEvent
		accountID *int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT event_id, kind, account_id, outcome, recorded_at
		FROM processed_events WHERE event_id = $1`, eventID,
	).Scan(&ev.EventID, &ev.Kind, &accountID, &ev.Outcome, &ev.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ProcessedEvent{}, store.ErrNotFound
	}
	if accountID != nil {
		ev.AccountID = *accountID
	}
	return ev, err
}

func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM processed_events WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func scanTargets(acct *models.Account) []any {
	return []any{
		&acct.ID, &acct.Username, &acct.Email, &acct.PasswordHash,
		&acct.StripeCustomerID, &acct.StripeSubscriptionID,
		&acct.PlanTier, &acct.Status, &acct.PeriodStart, &acct.PeriodEnd,
		&acct.LastPaymentAt, &acct.LastEventAt, &acct.BillingVersion,
		&acct.SavedChannels, &acct.CreatedAt, &acct.UpdatedAt,
	}
}
