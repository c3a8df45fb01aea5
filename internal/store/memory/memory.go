// Package memory provides an in-memory implementation of the store
// interfaces. It is intended for tests and local development.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"channelscope/internal/models"
	"channelscope/internal/store"
)

// Store implements store.AccountStore and store.EventLedger using maps.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	accounts map[int64]*models.Account
	events   map[string]models.ProcessedEvent
}

func New() *Store {
	return &Store{
		nextID:   1,
		accounts: make(map[int64]*models.Account),
		events:   make(map[string]models.ProcessedEvent),
	}
}

func (s *Store) Create(ctx context.Context, username, email, passwordHash string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(email)
	for _, a := range s.accounts {
		if a.Email == email {
			return models.Account{}, store.ErrEmailTaken
		}
		if a.Username == username {
			return models.Account{}, store.ErrUsernameTaken
		}
	}

	now := time.Now().UTC()
	acct := &models.Account{
		ID:           s.nextID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		PlanTier:     models.TierNone,
		Status:       models.SubscriptionNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.nextID++
	s.accounts[acct.ID] = acct
	return copyAccount(acct), nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return models.Account{}, store.ErrNotFound
	}
	return copyAccount(acct), nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(email)
	for _, acct := range s.accounts {
		if acct.Email == email {
			return copyAccount(acct), nil
		}
	}
	return models.Account{}, store.ErrNotFound
}

func (s *Store) GetByUsername(ctx context.Context, username string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acct := range s.accounts {
		if acct.Username == username {
			return copyAccount(acct), nil
		}
	}
	return models.Account{}, store.ErrNotFound
}

func (s *Store) GetByStripeCustomerID(ctx context.Context, customerID string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acct := range s.accounts {
		if acct.StripeCustomerID != nil && *acct.StripeCustomerID == customerID {
			return copyAccount(acct), nil
		}
	}
	return models.Account{}, store.ErrNotFound
}

func (s *Store) UpdateBilling(ctx context.Context, accountID int64, expectedVersion int64, state store.BillingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	if acct.BillingVersion != expectedVersion {
		return store.ErrConflict
	}

	acct.StripeSubscriptionID = state.StripeSubscriptionID
	acct.PlanTier = state.PlanTier
	acct.Status = state.Status
	acct.PeriodStart = state.PeriodStart
	acct.PeriodEnd = state.PeriodEnd
	acct.LastPaymentAt = state.LastPaymentAt
	acct.LastEventAt = state.LastEventAt
	acct.BillingVersion++
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetStripeCustomerID(ctx context.Context, accountID int64, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	acct.StripeCustomerID = &customerID
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, accountID int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	acct.PasswordHash = passwordHash
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateSavedChannels(ctx context.Context, accountID int64, channels []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	acct.SavedChannels = append([]string(nil), channels...)
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) Record(ctx context.Context, ev models.ProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.events[ev.EventID]; ok && prior.Outcome != models.OutcomePendingRetry {
		return store.ErrDuplicateEvent
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now().UTC()
	}
	s.events[ev.EventID] = ev
	return nil
}

func (s *Store) Get(ctx context.Context, eventID string) (models.ProcessedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[eventID]
	if !ok {
		return models.ProcessedEvent{}, store.ErrNotFound
	}
	return ev, nil
}

func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, ev := range s.events {
		if ev.RecordedAt.Before(before) {
			delete(s.events, id)
			removed++
		}
	}
	return removed, nil
}

// copyAccount returns a copy to prevent external mutations.
func copyAccount(a *models.Account) models.Account {
	out := *a
	if a.SavedChannels != nil {
		out.SavedChannels = append([]string(nil), a.SavedChannels...)
	}
	return out
}
