// Package outbox drives per-account send workers over the cache's outbox
// queue (§4.7): FIFO delivery, exponential backoff on transient failure,
// and atomic outbox-removal plus Sent-folder cache write on success.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hkdb/mailengine/internal/cache"
	"github.com/hkdb/mailengine/internal/compose"
	"github.com/hkdb/mailengine/internal/logging"
	"github.com/hkdb/mailengine/internal/smtpclient"
)

// Backoff schedule mirrors the sync controller's reconnect schedule (§4.6,
// §4.7): start 5s, double to a 300s cap, jittered.
const (
	backoffStart = 5 * time.Second
	backoffCap   = 300 * time.Second
	pollInterval = 10 * time.Second
)

// CredentialSource resolves a ready-to-dial SMTP config for an account,
// including a freshly refreshed OAuth2 bearer token when the account uses
// OAuth.
type CredentialSource interface {
	SMTPConfig(ctx context.Context, accountID string) (smtpclient.Config, error)
}

// Worker drains one account's outbox, sending items in FIFO order with at
// most one send in flight at a time.
type Worker struct {
	accountID string
	store     *cache.Store
	creds     CredentialSource
	log       zerolog.Logger

	mu      sync.Mutex
	offline bool
}

// NewWorker constructs a Worker for one account.
func NewWorker(accountID string, store *cache.Store, creds CredentialSource) *Worker {
	return &Worker{
		accountID: accountID,
		store:     store,
		creds:     creds,
		log:       logging.WithComponent("outbox").With().Str("account", accountID).Logger(),
	}
}

// SetOffline pauses or resumes sending for this account (§4.7 offline
// behavior: items accumulate but nothing is attempted while offline).
func (w *Worker) SetOffline(offline bool) {
	w.mu.Lock()
	w.offline = offline
	w.mu.Unlock()
}

func (w *Worker) isOffline() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offline
}

// Run polls the outbox for due items until ctx is cancelled, sending one
// at a time.
func (w *Worker) Run(ctx context.Context) {
	t := time.NewTicker(pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if w.isOffline() {
				continue
			}
			w.flush(ctx)
		}
	}
}

// flush sends every currently-due item in the account's outbox, oldest
// first, stopping early if ctx is cancelled or the account goes offline
// mid-flush.
func (w *Worker) flush(ctx context.Context) {
	items, err := w.store.ListOutboxDue(w.accountID, time.Now())
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to list due outbox items")
		return
	}

	for _, item := range items {
		if ctx.Err() != nil || w.isOffline() {
			return
		}
		if w.send(ctx, item) {
			// Permanent failure: §4.7 requires processing to stop for the
			// account so the rest of the FIFO queue isn't attempted behind a
			// message the server will never accept.
			return
		}
	}
}

// send attempts delivery of one outbox item and reports whether it failed
// permanently (in which case the caller must stop processing the account).
func (w *Worker) send(ctx context.Context, item *cache.OutboxItem) bool {
	if err := w.store.MarkSending(item.ID, true); err != nil {
		w.log.Warn().Err(err).Msg("failed to mark outbox item sending")
		return false
	}

	msg, raw, err := w.build(item)
	if err != nil {
		perm := permanent(err)
		w.fail(item, err, perm)
		return perm
	}

	cfg, err := w.creds.SMTPConfig(ctx, w.accountID)
	if err != nil {
		w.fail(item, err, false)
		return false
	}

	client := smtpclient.New(cfg)
	if err := client.Connect(ctx); err != nil {
		w.fail(item, err, false)
		return false
	}
	defer client.Close()

	env := smtpclient.Envelope{From: item.From, To: msg.AllRecipients(), Raw: raw}
	if err := client.Send(ctx, env); err != nil {
		perm := permanent(err)
		w.fail(item, err, perm)
		return perm
	}

	w.complete(item, raw)
	return false
}

func (w *Worker) build(item *cache.OutboxItem) (*compose.Message, []byte, error) {
	msg := &compose.Message{
		From:    compose.Address{Address: item.From},
		Subject: item.Subject,
	}
	for _, a := range item.To {
		msg.To = append(msg.To, compose.Address{Address: a})
	}
	for _, a := range item.Cc {
		msg.Cc = append(msg.Cc, compose.Address{Address: a})
	}
	for _, a := range item.Bcc {
		msg.Bcc = append(msg.Bcc, compose.Address{Address: a})
	}
	if item.IsHTML {
		msg.HTMLBody = item.Body
	} else {
		msg.TextBody = item.Body
	}

	raw, _, err := msg.Build()
	if err != nil {
		return nil, nil, err
	}
	return msg, raw, nil
}

func (w *Worker) complete(item *cache.OutboxItem, raw []byte) {
	sent := &cache.Message{
		LocalID:     uuid.NewString(),
		AccountID:   w.accountID,
		MessageID:   fmt.Sprintf("<%s@mailengine>", uuid.NewString()),
		Subject:     item.Subject,
		FromEmail:   item.From,
		To:          item.To,
		Cc:          item.Cc,
		DateUTC:     time.Now(),
		BodyPlain:   item.Body,
		BodyFetched: true,
		Size:        len(raw),
	}
	sentFolder, err := w.store.GetFolderByPath(w.accountID, "Sent")
	if err == nil {
		sent.FolderID = sentFolder.ID
	}
	if err := w.store.CompleteSend(item.ID, sent); err != nil {
		w.log.Warn().Err(err).Msg("failed to record completed send")
	}
}

func (w *Worker) fail(item *cache.OutboxItem, err error, isPermanent bool) {
	w.log.Warn().Err(err).Bool("permanent", isPermanent).Msg("send failed")

	if isPermanent {
		// Permanent failures stop retrying but are not silently dropped:
		// a far-future deadline keeps the item visible to the UI as failed.
		_ = w.store.RecordFailure(item.ID, err.Error(), time.Now().Add(365*24*time.Hour))
		return
	}

	backoff := backoffFor(item.Attempts)
	_ = w.store.RecordFailure(item.ID, err.Error(), time.Now().Add(backoff))
}

func permanent(err error) bool {
	var perr *smtpclient.PermanentError
	return errors.As(err, &perr)
}

func backoffFor(attempts int) time.Duration {
	d := backoffStart
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= backoffCap {
			d = backoffCap
			break
		}
	}
	if j := jitter(d); j < backoffCap {
		return j
	}
	return backoffCap
}

func jitter(base time.Duration) time.Duration {
	delta := float64(base) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return base + time.Duration(offset)
}

// Manager owns one Worker per account.
type Manager struct {
	store *cache.Store
	creds CredentialSource
	log   zerolog.Logger

	mu      sync.Mutex
	workers map[string]*workerEntry
}

type workerEntry struct {
	worker *Worker
	cancel context.CancelFunc
}

// NewManager constructs an outbox Manager.
func NewManager(store *cache.Store, creds CredentialSource) *Manager {
	return &Manager{store: store, creds: creds, log: logging.WithComponent("outbox"), workers: make(map[string]*workerEntry)}
}

// StartAccount spawns (or restarts) the send worker for one account.
func (m *Manager) StartAccount(ctx context.Context, accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.workers[accountID]; ok {
		e.cancel()
	}
	wctx, cancel := context.WithCancel(ctx)
	w := NewWorker(accountID, m.store, m.creds)
	m.workers[accountID] = &workerEntry{worker: w, cancel: cancel}
	go w.Run(wctx)
}

// StopAccount cancels the worker for one account, if running.
func (m *Manager) StopAccount(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.workers[accountID]; ok {
		e.cancel()
		delete(m.workers, accountID)
	}
}

// SetOffline toggles the global offline switch across every running
// worker.
func (m *Manager) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.workers {
		e.worker.SetOffline(offline)
	}
}

// StopAll cancels every running worker.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.workers {
		e.cancel()
		delete(m.workers, id)
	}
}
