// Package engine is the controller façade (§4.9): it owns the account
// registry, one sync.Controller and one outbox.Worker per account, the
// global offline toggle, and the rule engine hook, and fans out status
// events to external observers.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hkdb/mailengine/internal/account"
	"github.com/hkdb/mailengine/internal/cache"
	"github.com/hkdb/mailengine/internal/imapclient"
	"github.com/hkdb/mailengine/internal/logging"
	"github.com/hkdb/mailengine/internal/oauthmgr"
	"github.com/hkdb/mailengine/internal/outbox"
	"github.com/hkdb/mailengine/internal/rules"
	"github.com/hkdb/mailengine/internal/smtpclient"
	"github.com/hkdb/mailengine/internal/sync"
	"github.com/hkdb/mailengine/internal/vault"
)

// Engine wires every per-account component together and is the single
// entrypoint a UI or CLI talks to.
type Engine struct {
	store    *cache.Store
	vault    *vault.Vault
	accounts *account.Registry
	oauth    *oauthmgr.Manager
	rules    *rules.Engine
	outbox   *outbox.Manager

	log zerolog.Logger

	mu          sync.Mutex
	controllers map[string]*controllerEntry
	onStatus    func(sync.StatusEvent)
	offline     bool
}

type controllerEntry struct {
	controller *sync.Controller
	cancel     context.CancelFunc
}

// New constructs an Engine over an already-open cache store and vault.
func New(store *cache.Store, v *vault.Vault, providers map[string]oauthmgr.ProviderConfig) *Engine {
	e := &Engine{
		store:       store,
		vault:       v,
		accounts:    account.New(store),
		oauth:       oauthmgr.New(store, v, providers),
		controllers: make(map[string]*controllerEntry),
		log:         logging.WithComponent("engine"),
	}
	e.rules = rules.New(store, e, e)
	e.outbox = outbox.NewManager(store, e)
	return e
}

// SetStatusCallback installs the sink for every account's sync.StatusEvent.
func (e *Engine) SetStatusCallback(fn func(sync.StatusEvent)) { e.onStatus = fn }

// Accounts exposes the account registry for CRUD callers.
func (e *Engine) Accounts() *account.Registry { return e.accounts }

// Start brings every enabled account's controller and outbox worker
// online.
func (e *Engine) Start(ctx context.Context) error {
	accounts, err := e.accounts.ListEnabled()
	if err != nil {
		return fmt.Errorf("engine: list enabled accounts: %w", err)
	}
	for _, a := range accounts {
		e.StartAccount(ctx, a.ID)
	}
	return nil
}

// StartAccount spawns the sync controller and outbox worker for one
// account, restarting them if already running.
func (e *Engine) StartAccount(ctx context.Context, accountID string) {
	e.mu.Lock()
	if prev, ok := e.controllers[accountID]; ok {
		prev.cancel()
	}
	cctx, cancel := context.WithCancel(ctx)
	c := sync.New(accountID, e.store, func() imapclient.ClientConfig { return e.imapConfig(accountID) })
	c.SetStatusCallback(func(ev sync.StatusEvent) {
		if e.onStatus != nil {
			e.onStatus(ev)
		}
	})
	c.SetRuleHook(func(ctx context.Context, accountID string, msg *cache.Message) {
		e.rules.Apply(ctx, accountID, msg)
	})
	e.controllers[accountID] = &controllerEntry{controller: c, cancel: cancel}
	e.mu.Unlock()

	go c.Run(cctx)
	e.outbox.StartAccount(cctx, accountID)
}

// StopAccount cancels the controller and outbox worker for one account.
func (e *Engine) StopAccount(accountID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.controllers[accountID]; ok {
		entry.cancel()
		delete(e.controllers, accountID)
	}
	e.outbox.StopAccount(accountID)
}

// StopAll cancels every running controller and outbox worker.
func (e *Engine) StopAll() {
	e.mu.Lock()
	for id, entry := range e.controllers {
		entry.cancel()
		delete(e.controllers, id)
	}
	e.mu.Unlock()
	e.outbox.StopAll()
}

// SetOffline toggles the global offline switch across every account's
// controller and outbox worker (§4.6, §4.7).
func (e *Engine) SetOffline(offline bool) {
	e.mu.Lock()
	e.offline = offline
	for _, entry := range e.controllers {
		entry.controller.SetOffline(offline)
	}
	e.mu.Unlock()
	e.outbox.SetOffline(offline)
}

// IsOffline reports the current global offline toggle.
func (e *Engine) IsOffline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offline
}

// AccountState reports one account's current sync state, for the
// diagnostic surface (§6).
func (e *Engine) AccountState(accountID string) (sync.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.controllers[accountID]
	if !ok {
		return sync.StateIdle, false
	}
	return entry.controller.State(), true
}

func (e *Engine) imapConfig(accountID string) imapclient.ClientConfig {
	a, err := e.accounts.Get(accountID)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to load account for dial config")
		return imapclient.ClientConfig{}
	}
	cfg := imapclient.ClientConfig{
		Host: a.IMAP.Host, Port: a.IMAP.Port, TLS: a.IMAP.TLS, Username: a.Username,
	}
	e.fillAuth(accountID, a, &cfg.Password, &cfg.OAuth2Token)
	return cfg
}

// SMTPConfig implements outbox.CredentialSource.
func (e *Engine) SMTPConfig(ctx context.Context, accountID string) (smtpclient.Config, error) {
	a, err := e.accounts.Get(accountID)
	if err != nil {
		return smtpclient.Config{}, err
	}
	cfg := smtpclient.Config{Host: a.SMTP.Host, Port: a.SMTP.Port, TLS: a.SMTP.TLS, Username: a.Username}
	e.fillAuth(accountID, a, &cfg.Password, &cfg.OAuth2Token)
	return cfg, nil
}

func (e *Engine) fillAuth(accountID string, a *cache.Account, password, token *string) {
	if a.AuthType == cache.AuthOAuth2 {
		tok, err := e.oauth.AccessToken(context.Background(), accountID, a.ProviderTag)
		if err != nil {
			e.log.Warn().Err(err).Msg("failed to obtain oauth2 token")
			return
		}
		*token = tok
		return
	}
	plain, err := e.vault.Unseal(a.SealedPassword)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to unseal account password")
		return
	}
	*password = string(plain)
}

// MoveOnServer implements rules.Mover: issues an IMAP COPY+STORE \Deleted
// to relocate a message when the account is online. The cache move always
// happens regardless; this is best-effort.
func (e *Engine) MoveOnServer(ctx context.Context, accountID, folderPath, destPath string, uid uint32) error {
	client := imapclient.New(e.imapConfig(accountID))
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.SelectMailbox(ctx, folderPath); err != nil {
		return err
	}
	if _, err := client.CopyMessage(ctx, uid, destPath); err != nil {
		return err
	}
	return client.StoreFlags(ctx, uid, []imap.Flag{imap.FlagDeleted}, nil)
}

// Forward implements rules.Forwarder: enqueues a forwarded copy of msg as
// a new outbox item.
func (e *Engine) Forward(ctx context.Context, accountID string, msg *cache.Message, to string) error {
	a, err := e.accounts.Get(accountID)
	if err != nil {
		return err
	}
	return e.store.Enqueue(&cache.OutboxItem{
		ID:        uuid.NewString(),
		AccountID: accountID,
		To:        []string{to},
		From:      a.Email,
		Subject:   "Fwd: " + msg.Subject,
		Body:      msg.BodyPlain,
		IsHTML:    false,
	})
}
