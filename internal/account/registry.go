// Package account implements the account registry (§4.5): the set of
// configured accounts, exactly-one active id, and field validation.
package account

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hkdb/mailengine/internal/cache"
	"github.com/hkdb/mailengine/internal/logging"
)

// ErrValidation is wrapped by field-specific validation errors returned
// from Add/Update.
var ErrValidation = errors.New("account: validation failed")

// ErrDuplicateEmail mirrors cache.ErrDuplicateEmail at this layer so
// callers need not import internal/cache directly.
var ErrDuplicateEmail = cache.ErrDuplicateEmail

// Registry is the account registry component.
type Registry struct {
	store *cache.Store
	log   zerolog.Logger
}

// New wraps a cache Store.
func New(store *cache.Store) *Registry {
	return &Registry{store: store, log: logging.WithComponent("account")}
}

func validate(a *cache.Account) error {
	if strings.TrimSpace(a.DisplayName) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	if !strings.Contains(a.Email, "@") {
		return fmt.Errorf("%w: email must contain '@'", ErrValidation)
	}
	if strings.TrimSpace(a.Username) == "" {
		return fmt.Errorf("%w: username must not be empty", ErrValidation)
	}
	for name, ep := range map[string]cache.Endpoint{"imap": a.IMAP, "smtp": a.SMTP} {
		if strings.TrimSpace(ep.Host) == "" {
			return fmt.Errorf("%w: %s host must not be empty", ErrValidation, name)
		}
		if ep.Port < 1 || ep.Port > 65535 {
			return fmt.Errorf("%w: %s port must be in [1, 65535]", ErrValidation, name)
		}
	}
	if a.POP3 != nil {
		if strings.TrimSpace(a.POP3.Host) == "" {
			return fmt.Errorf("%w: pop3 host must not be empty", ErrValidation)
		}
		if a.POP3.Port < 1 || a.POP3.Port > 65535 {
			return fmt.Errorf("%w: pop3 port must be in [1, 65535]", ErrValidation)
		}
	}
	return nil
}

// Add validates and persists a new account. If the registry is currently
// empty, the new account becomes active (§4.5).
func (r *Registry) Add(a *cache.Account) error {
	if err := validate(a); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Color == "" {
		a.Color = "#4A90D9"
	}
	if a.CheckIntervalMinutes <= 0 {
		a.CheckIntervalMinutes = 5
	}
	if a.AuthType == "" {
		a.AuthType = cache.AuthPassword
	}
	a.Enabled = true
	if err := r.store.CreateAccount(a); err != nil {
		return err
	}
	r.log.Info().Str("account", a.ID).Str("email", logging.MaskEmail(a.Email)).Msg("account added")
	return nil
}

// Update validates and persists changes to an existing account.
func (r *Registry) Update(a *cache.Account) error {
	if err := validate(a); err != nil {
		return err
	}
	return r.store.UpdateAccount(a)
}

// Delete removes an account. If it was active, the registry chooses the
// first remaining enabled account as active, if any.
func (r *Registry) Delete(id string) error {
	if err := r.store.DeleteAccount(id); err != nil {
		return err
	}
	r.log.Info().Str("account", id).Msg("account deleted")
	return nil
}

// SetActive makes id the active account.
func (r *Registry) SetActive(id string) error {
	return r.store.SetActiveAccount(id)
}

// GetActive returns the active account, or cache.ErrNotFound if none.
func (r *Registry) GetActive() (*cache.Account, error) {
	return r.store.GetActiveAccount()
}

// Get returns one account by id.
func (r *Registry) Get(id string) (*cache.Account, error) {
	return r.store.GetAccount(id)
}

// List returns every account.
func (r *Registry) List() ([]*cache.Account, error) {
	return r.store.ListAccounts()
}

// ListEnabled returns every enabled account.
func (r *Registry) ListEnabled() ([]*cache.Account, error) {
	return r.store.ListEnabledAccounts()
}

// SetEnabled toggles whether an account participates in sync/outbox.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	return r.store.SetAccountEnabled(id, enabled)
}

// TouchLastSync records the time of the account's most recent successful
// sync pass.
func (r *Registry) TouchLastSync(id string, at time.Time) error {
	a, err := r.store.GetAccount(id)
	if err != nil {
		return err
	}
	a.LastSyncAt = &at
	return r.store.UpdateAccount(a)
}
