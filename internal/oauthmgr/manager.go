// Package oauthmgr manages per-account OAuth2 tokens (§4.1, §5): sealed
// storage via the vault, refresh using golang.org/x/oauth2, and a
// read-through lock per (account, provider) so a concurrent send and sync
// pass never trigger duplicate refreshes.
package oauthmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/hkdb/mailengine/internal/cache"
	"github.com/hkdb/mailengine/internal/logging"
	"github.com/hkdb/mailengine/internal/vault"
)

// ProviderConfig holds the OAuth2 client configuration for one provider
// tag (e.g. "gmail", "outlook"). Client credentials are supplied by the
// host application at startup; the engine never acquires interactive
// consent itself (§1 Non-goals).
type ProviderConfig struct {
	Endpoint     oauth2.Endpoint
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Manager resolves a valid bearer token for an account/provider pair,
// transparently refreshing when the cached token is expired or near
// expiry.
type Manager struct {
	store     *cache.Store
	vault     *vault.Vault
	providers map[string]ProviderConfig
	log       zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Manager backed by the cache store and vault.
func New(store *cache.Store, v *vault.Vault, providers map[string]ProviderConfig) *Manager {
	return &Manager{
		store: store, vault: v, providers: providers,
		log:   logging.WithComponent("oauthmgr"),
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the exclusive mutex guarding refreshes for one
// (account, provider) pair, creating it on first use.
func (m *Manager) lockFor(accountID, provider string) *sync.Mutex {
	key := accountID + "\x00" + provider
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// IsConfigured reports whether a provider tag has client credentials
// wired in.
func (m *Manager) IsConfigured(provider string) bool {
	_, ok := m.providers[provider]
	return ok
}

// AccessToken returns a currently valid bearer token for accountID under
// providerTag, refreshing it first if it has expired or will within 60
// seconds. Returns cache.ErrNotFound if no token is on file.
func (m *Manager) AccessToken(ctx context.Context, accountID, providerTag string) (string, error) {
	lock := m.lockFor(accountID, providerTag)
	lock.Lock()
	defer lock.Unlock()

	tok, err := m.store.GetOAuthToken(accountID, providerTag)
	if err != nil {
		return "", err
	}

	access, err := m.vault.Unseal(tok.AccessTokenSealed)
	if err != nil {
		return "", fmt.Errorf("oauthmgr: unseal access token: %w", err)
	}

	if time.Now().Add(60 * time.Second).Before(tok.ExpiresAt) {
		return string(access), nil
	}

	if tok.RefreshTokenSealed == nil {
		return "", fmt.Errorf("oauthmgr: token expired and no refresh token on file for %s/%s", accountID, providerTag)
	}
	refresh, err := m.vault.Unseal(tok.RefreshTokenSealed)
	if err != nil {
		return "", fmt.Errorf("oauthmgr: unseal refresh token: %w", err)
	}

	cfg, ok := m.providers[providerTag]
	if !ok {
		return "", fmt.Errorf("oauthmgr: no provider config for %q", providerTag)
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     cfg.Endpoint,
		Scopes:       cfg.Scopes,
	}
	src := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: string(refresh)})
	fresh, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("oauthmgr: refresh failed: %w", err)
	}
	m.log.Debug().Str("account", accountID).Str("provider", providerTag).Msg("oauth token refreshed")

	if err := m.persist(accountID, providerTag, fresh); err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Store seals and persists a newly obtained token (e.g. after the host
// application completes interactive consent and hands the engine a raw
// token to manage from then on).
func (m *Manager) Store(accountID, providerTag string, tok *oauth2.Token, scope string) error {
	return m.persist(accountID, providerTag, tok, scope)
}

func (m *Manager) persist(accountID, providerTag string, tok *oauth2.Token, scope ...string) error {
	sealedAccess, err := m.vault.Seal([]byte(tok.AccessToken))
	if err != nil {
		return fmt.Errorf("oauthmgr: seal access token: %w", err)
	}

	entry := &cache.OAuthToken{
		AccountID:         accountID,
		ProviderTag:       providerTag,
		AccessTokenSealed: sealedAccess,
		ExpiresAt:         tok.Expiry,
	}
	if len(scope) > 0 {
		entry.Scope = scope[0]
	}
	if tok.RefreshToken != "" {
		sealedRefresh, err := m.vault.Seal([]byte(tok.RefreshToken))
		if err != nil {
			return fmt.Errorf("oauthmgr: seal refresh token: %w", err)
		}
		entry.RefreshTokenSealed = sealedRefresh
	}

	return m.store.UpsertOAuthToken(entry)
}

// IsValid reports whether accountID/providerTag currently holds an
// unexpired token, for the diagnostic readiness surface (§6).
func (m *Manager) IsValid(accountID, providerTag string) bool {
	tok, err := m.store.GetOAuthToken(accountID, providerTag)
	if err != nil {
		return false
	}
	return time.Now().Before(tok.ExpiresAt)
}
