// Package account holds the identity side of the system: registration,
// credential checks, and per-account preferences. Entitlement writes live
// in the billing reconciler; this package only reads them.
package account

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"channelscope/internal/models"
	"channelscope/internal/store"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

const maxSavedChannels = 200

type Service struct {
	accounts store.AccountStore
}

func New(accounts store.AccountStore) *Service {
	return &Service{accounts: accounts}
}

// Register creates an account with no entitlement. Duplicate usernames and
// emails surface as the store sentinels so the transport can map them.
func (s *Service) Register(ctx context.Context, username, email, password string) (models.Account, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))
	if username == "" || email == "" || len(password) < 8 {
		return models.Account{}, ErrInvalidRequest
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Account{}, err
	}
	return s.accounts.Create(ctx, username, email, string(passwordHash))
}

// Authenticate checks a username (or email) and password pair. All failure
// modes collapse into ErrInvalidCredentials so callers cannot probe for
// account existence.
func (s *Service) Authenticate(ctx context.Context, login, password string) (models.Account, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return models.Account{}, ErrInvalidCredentials
	}

	acct, err := s.accounts.GetByUsername(ctx, login)
	if errors.Is(err, store.ErrNotFound) {
		acct, err = s.accounts.GetByEmail(ctx, login)
	}
	if errors.Is(err, store.ErrNotFound) {
		return models.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.Account{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return models.Account{}, ErrInvalidCredentials
	}
	return acct, nil
}

func (s *Service) Get(ctx context.Context, id int64) (models.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

// SaveChannels replaces the account's saved channel list.
func (s *Service) SaveChannels(ctx context.Context, accountID int64, channels []string) ([]string, error) {
	cleaned := make([]string, 0, len(channels))
	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		cleaned = append(cleaned, ch)
	}
	if len(cleaned) > maxSavedChannels {
		return nil, ErrInvalidRequest
	}
	if err := s.accounts.UpdateSavedChannels(ctx, accountID, cleaned); err != nil {
		return nil, err
	}
	return cleaned, nil
}

// ChangePassword verifies the current password before storing a new hash.
func (s *Service) ChangePassword(ctx context.Context, accountID int64, current, next string) error {
	if len(next) < 8 {
		return ErrInvalidRequest
	}
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.accounts.UpdatePassword(ctx, accountID, string(hash))
}
