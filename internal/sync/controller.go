// Package sync implements the per-account sync controller (§4.6): the
// state machine that drives one account's IMAP session through connect,
// folder discovery, per-folder header/body/flag reconciliation, and IDLE,
// reconnecting with backoff on transport failure.
package sync

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hkdb/mailengine/internal/cache"
	"github.com/hkdb/mailengine/internal/imapclient"
	"github.com/hkdb/mailengine/internal/logging"
)

// State names the controller's current position in the state machine
// described in §4.6.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticated
	StateFoldersKnown
	StateSyncing
	StateIdling
	StateBackoff
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateFoldersKnown:
		return "folders_known"
	case StateSyncing:
		return "syncing"
	case StateIdling:
		return "idling"
	case StateBackoff:
		return "backoff"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Backoff schedule for reconnects (§4.6): start 5s, double to a 300s cap,
// jitter +-20%.
const (
	backoffStart = 5 * time.Second
	backoffCap   = 300 * time.Second
)

// StatusEvent is emitted on every state transition and error, for the
// controller façade to relay to external observers (§4.9).
type StatusEvent struct {
	AccountID string
	State     State
	Err       error
	At        time.Time
}

// RuleHook is invoked once per newly cached inbound message (§4.6 step 7,
// §4.8).
type RuleHook func(ctx context.Context, accountID string, msg *cache.Message)

// Controller drives one account's sync lifecycle.
type Controller struct {
	accountID string
	store     *cache.Store
	dialCfg   func() imapclient.ClientConfig
	onStatus  func(StatusEvent)
	onRule    RuleHook

	log zerolog.Logger

	mu      sync.Mutex
	state   State
	client  *imapclient.Client
	idle    *imapclient.IdleConnection
	cancel  context.CancelFunc
	offline bool
}

// New constructs a Controller for one account. dialCfg is invoked fresh
// for every connect attempt so it always reflects the current unsealed
// credentials (including a freshly refreshed OAuth token).
func New(accountID string, store *cache.Store, dialCfg func() imapclient.ClientConfig) *Controller {
	return &Controller{
		accountID: accountID,
		store:     store,
		dialCfg:   dialCfg,
		log:       logging.WithComponent("sync").With().Str("account", accountID).Logger(),
		state:     StateIdle,
	}
}

// SetStatusCallback installs the status event sink.
func (c *Controller) SetStatusCallback(fn func(StatusEvent)) { c.onStatus = fn }

// SetRuleHook installs the rule-engine invocation hook.
func (c *Controller) SetRuleHook(fn RuleHook) { c.onRule = fn }

func (c *Controller) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.onStatus != nil {
		c.onStatus(StatusEvent{AccountID: c.accountID, State: s, Err: err, At: time.Now()})
	}
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetOffline toggles the global offline switch for this controller. Going
// offline ends IDLE cleanly and transitions to StateOffline from any
// state; going back online returns to StateIdle so the run loop
// reconnects.
func (c *Controller) SetOffline(offline bool) {
	c.mu.Lock()
	c.offline = offline
	cancel := c.cancel
	c.mu.Unlock()

	if offline {
		if cancel != nil {
			cancel()
		}
		c.setState(StateOffline, nil)
	} else if c.State() == StateOffline {
		c.setState(StateIdle, nil)
	}
}

// isOffline reports the current offline toggle value.
func (c *Controller) isOffline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offline
}

// Run drives the controller's lifecycle until ctx is cancelled:
// connect -> discover folders -> sync INBOX -> idle, looping with backoff
// on failure.
func (c *Controller) Run(ctx context.Context) {
	backoff := backoffStart

	for {
		if ctx.Err() != nil {
			return
		}
		if c.isOffline() {
			c.sleep(ctx, time.Second)
			continue
		}

		if err := c.connectAndAuthenticate(ctx); err != nil {
			c.log.Warn().Err(err).Msg("connect failed")
			c.setState(StateBackoff, err)
			if !c.sleep(ctx, jitter(backoff)) {
				return
			}
			backoff = minDur(backoff*2, backoffCap)
			continue
		}
		backoff = backoffStart
		c.setState(StateAuthenticated, nil)

		folders, err := c.syncFolders(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("folder discovery failed")
			c.disconnect()
			continue
		}
		c.setState(StateFoldersKnown, nil)

		inbox := findInbox(folders)
		if inbox == nil {
			c.log.Warn().Msg("account has no INBOX")
			c.disconnect()
			continue
		}

		c.setState(StateSyncing, nil)
		if err := c.syncFolder(ctx, inbox); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("folder sync failed")
			c.disconnect()
			continue
		}

		if err := c.touchLastSync(); err != nil {
			c.log.Warn().Err(err).Msg("failed to record last sync time")
		}

		c.setState(StateIdling, nil)
		c.runIdleUntilEvent(ctx, inbox)
		c.disconnect()
	}
}

func (c *Controller) connectAndAuthenticate(ctx context.Context) error {
	c.setState(StateConnecting, nil)
	client := imapclient.New(c.dialCfg())
	if err := client.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *Controller) disconnect() {
	c.mu.Lock()
	client := c.client
	idle := c.idle
	c.client = nil
	c.idle = nil
	c.mu.Unlock()

	if idle != nil {
		idle.Stop()
	}
	if client != nil {
		client.Close()
	}
}

// syncFolders lists the server's mailboxes and upserts them into the
// cache, returning the cached Folder rows.
func (c *Controller) syncFolders(ctx context.Context) ([]*cache.Folder, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	mailboxes, err := client.ListFolders(ctx)
	if err != nil {
		return nil, err
	}

	var out []*cache.Folder
	for _, mb := range mailboxes {
		f := &cache.Folder{
			ID:            c.folderID(mb.Name),
			AccountID:     c.accountID,
			Path:          mb.Name,
			Name:          leafName(mb.Name, mb.Delimiter),
			Type:          classifyFolder(mb.Name, mb.Attrs),
			UIDValidity:   mb.UIDValidity,
			UIDNext:       mb.UIDNext,
			HighestModSeq: mb.HighestModSeq,
		}
		if err := c.store.UpsertFolder(f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// folderID returns the existing cache id for a mailbox path, or mints a
// fresh one if this is the first time the folder has been seen.
func (c *Controller) folderID(path string) string {
	if existing, err := c.store.GetFolderByPath(c.accountID, path); err == nil {
		return existing.ID
	}
	return uuid.NewString()
}

func findInbox(folders []*cache.Folder) *cache.Folder {
	for _, f := range folders {
		if f.Type == cache.FolderInbox {
			return f
		}
	}
	return nil
}

func (c *Controller) touchLastSync() error {
	a, err := c.store.GetAccount(c.accountID)
	if err != nil {
		return err
	}
	now := time.Now()
	a.LastSyncAt = &now
	return c.store.UpdateAccount(a)
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// syncFolder reconciles one folder against the server: UIDVALIDITY check,
// new-header fetch, flag reconciliation, and the rule hook for newly cached
// messages (§4.6 steps 1-5, 7). The full body of every new message is
// fetched during ingest; bodies are not deferred until a message is opened.
func (c *Controller) syncFolder(ctx context.Context, folder *cache.Folder) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	mb, err := client.SelectMailbox(ctx, folder.Path)
	if err != nil {
		return err
	}

	if folder.UIDValidity != 0 && mb.UIDValidity != folder.UIDValidity {
		c.log.Warn().Uint32("old", folder.UIDValidity).Uint32("new", mb.UIDValidity).
			Msg("uidvalidity changed, discarding cached messages")
		if err := c.store.DeleteByFolder(folder.ID); err != nil {
			return err
		}
		folder.HighestUIDSeen = 0
	}
	folder.UIDValidity = mb.UIDValidity
	folder.UIDNext = mb.UIDNext
	folder.TotalCount = int(mb.Exists)

	sinceUID := folder.HighestUIDSeen + 1
	headers, err := client.FetchHeaders(ctx, sinceUID)
	if err != nil {
		return err
	}

	for _, h := range headers {
		if err := c.ingestHeader(ctx, client, folder, h); err != nil {
			c.log.Warn().Err(err).Uint32("uid", h.UID).Msg("failed to ingest message")
			continue
		}
		if h.UID > folder.HighestUIDSeen {
			folder.HighestUIDSeen = h.UID
		}
	}

	if err := c.reconcileFlagsAndExpunges(ctx, client, folder); err != nil {
		c.log.Warn().Err(err).Msg("flag/expunge reconciliation failed")
	}

	now := time.Now()
	folder.LastSync = &now
	return c.store.UpdateFolder(folder)
}

// reconcileFlagsAndExpunges brings the cache's view of a folder's flags and
// membership in line with the server (§4.6 step 5): any cached UID no
// longer present server-side is dropped, and every UID still present has
// its flags overwritten with the server's current set.
func (c *Controller) reconcileFlagsAndExpunges(ctx context.Context, client *imapclient.Client, folder *cache.Folder) error {
	serverUIDs, err := client.CurrentUIDs(ctx)
	if err != nil {
		return err
	}
	present := make(map[uint32]bool, len(serverUIDs))
	for _, uid := range serverUIDs {
		present[uid] = true
	}

	cachedUIDs, err := c.store.GetAllUIDs(folder.ID)
	if err != nil {
		return err
	}
	for _, uid := range cachedUIDs {
		if present[uid] {
			continue
		}
		if err := c.store.DeleteByUID(folder.ID, uid); err != nil {
			c.log.Warn().Err(err).Uint32("uid", uid).Msg("failed to delete expunged message")
		}
	}

	flags, err := client.FetchFlags(ctx)
	if err != nil {
		return err
	}
	for uid, imapFlags := range flags {
		if err := c.store.UpdateFlags(c.accountID, folder.ID, uid, flagsFromIMAP(imapFlags)); err != nil {
			c.log.Warn().Err(err).Uint32("uid", uid).Msg("failed to reconcile flags")
		}
	}
	return nil
}

// flagsFromIMAP maps a raw IMAP flag set onto the cache's boolean flag
// fields.
func flagsFromIMAP(flags []imap.Flag) cache.Flags {
	var f cache.Flags
	for _, fl := range flags {
		switch fl {
		case imap.FlagSeen:
			f.Seen = true
		case imap.FlagFlagged:
			f.Flagged = true
		case imap.FlagDeleted:
			f.Deleted = true
		case imap.FlagDraft:
			f.Draft = true
		case imap.FlagAnswered:
			f.Answered = true
		}
	}
	return f
}

// ingestHeader upserts one message's header, fetches and sanitizes its
// body, assigns a thread id, and invokes the rule hook.
func (c *Controller) ingestHeader(ctx context.Context, client *imapclient.Client, folder *cache.Folder, h imapclient.MessageHeader) error {
	msg := &cache.Message{
		LocalID:   uuid.NewString(),
		AccountID: c.accountID,
		FolderID:  folder.ID,
		UID:       h.UID,
		MessageID: h.MessageID,
		InReplyTo: h.InReplyTo,
		Subject:   h.Subject,
		FromName:  h.FromName,
		FromEmail: h.FromEmail,
		To:        h.To,
		Cc:        h.Cc,
		Bcc:       h.Bcc,
		DateUTC:   h.Date,
		Size:      int(h.Size),
	}
	msg.Flags = flagsFromIMAP(h.Flags)

	raw, err := client.FetchRawMessage(ctx, h.UID)
	if err != nil {
		return err
	}
	msg.References = extractReferences(raw)

	threadID, err := c.computeThreadID(msg)
	if err != nil {
		return err
	}
	msg.ThreadID = threadID

	parsed := c.parseMessageBody(raw)
	msg.BodyPlain = parsed.BodyText
	msg.BodyHTML = parsed.BodyHTML
	msg.BodyFetched = true
	msg.HasAttachments = parsed.HasAttachments
	msg.Snippet = generateSnippet(parsed.BodyText, 160)

	if err := c.store.UpsertMessageHeader(msg); err != nil {
		return err
	}
	if err := c.store.WriteMessageBody(msg.LocalID, msg.BodyPlain, msg.BodyHTML); err != nil {
		return err
	}

	for _, att := range parsed.Attachments {
		ref := ""
		if att.Content != nil {
			hash, err := c.store.PutBlob(att.Content)
			if err != nil {
				c.log.Warn().Err(err).Msg("failed to store attachment blob")
				continue
			}
			ref = hash
		}
		a := &cache.Attachment{
			LocalID:        uuid.NewString(),
			MessageLocalID: msg.LocalID,
			Filename:       att.Filename,
			MIME:           att.ContentType,
			Size:           att.Size,
			ContentID:      att.ContentID,
			BytesRef:       ref,
		}
		if err := c.store.CreateAttachment(a); err != nil {
			c.log.Warn().Err(err).Msg("failed to record attachment")
		}
	}

	if c.onRule != nil {
		c.onRule(ctx, c.accountID, msg)
	}
	return nil
}

// runIdleUntilEvent opens a dedicated IDLE connection on folder and blocks
// until the server reports an unsolicited event, ctx is cancelled, or the
// account goes offline, returning control to Run so it can resync.
func (c *Controller) runIdleUntilEvent(ctx context.Context, folder *cache.Folder) {
	idleConn := imapclient.NewIdleConnection(c.dialCfg(), folder.Path, imapclient.DefaultIdleConfig())

	c.mu.Lock()
	c.idle = idleConn
	c.mu.Unlock()

	idleCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	go idleConn.Run(idleCtx)

	select {
	case ev := <-idleConn.Events():
		c.log.Debug().Str("event", ev.Kind.String()).Uint32("seqnum", ev.SeqNum).Msg("idle event, resyncing")
	case <-ctx.Done():
	case <-time.After(imapclient.IdleMaxRefresh + time.Minute):
	}

	idleConn.Stop()

	c.mu.Lock()
	c.idle = nil
	c.cancel = nil
	c.mu.Unlock()
}

func jitter(base time.Duration) time.Duration {
	delta := float64(base) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return base + time.Duration(offset)
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
