package store

import (
	"context"
	"errors"
	"time"

	"channelscope/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict means a compare-and-write lost a race: the stored billing
	// version no longer matches the expected one. Callers re-fetch and retry.
	ErrConflict = errors.New("billing state changed concurrently")

	// ErrDuplicateEvent means the ledger already holds this event id.
	ErrDuplicateEvent = errors.New("event already recorded")

	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already registered")
)

// BillingState is the billing sub-record written by a reconciliation
// transition. It is applied all-or-nothing by UpdateBilling.
type BillingState struct {
	StripeSubscriptionID *string
	PlanTier             models.Tier
	Status               models.SubscriptionStatus
	PeriodStart          *time.Time
	PeriodEnd            *time.Time
	LastPaymentAt        *time.Time
	LastEventAt          time.Time
}

// AccountStore is the durable keyed record of each account's subscription
// state. Billing fields are mutated only through UpdateBilling; everything
// else is owner-mutated.
type AccountStore interface {
	Create(ctx context.Context, username, email, passwordHash string) (models.Account, error)
	GetByID(ctx context.Context, id int64) (models.Account, error)
	GetByEmail(ctx context.Context, email string) (models.Account, error)
	GetByUsername(ctx context.Context, username string) (models.Account, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (models.Account, error)

	// UpdateBilling applies a reconciliation transition. It succeeds only if
	// the stored billing version still equals expectedVersion, otherwise it
	// returns ErrConflict and writes nothing.
	UpdateBilling(ctx context.Context, accountID int64, expectedVersion int64, state BillingState) error

	SetStripeCustomerID(ctx context.Context, accountID int64, customerID string) error
	UpdatePassword(ctx context.Context, accountID int64, passwordHash string) error
	UpdateSavedChannels(ctx context.Context, accountID int64, channels []string) error
}

// EventLedger is the append-only idempotency record of processed provider
// event ids. Entries may be pruned after a retention window.
type EventLedger interface {
	// Record appends an entry. A second insert for the same event id returns
	// ErrDuplicateEvent and leaves the first entry untouched.
	Record(ctx context.Context, ev models.ProcessedEvent) error

	// Get returns the recorded entry for an event id, or ErrNotFound.
	Get(ctx context.Context, eventID string) (models.ProcessedEvent, error)

	// Prune removes entries recorded before the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)
}
