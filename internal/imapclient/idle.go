package imapclient

import (
	"context"
	"math/rand"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/hkdb/mailengine/internal/logging"
)

// EventKind enumerates the unilateral notifications an idling session can
// emit (§4.4 idle_begin/idle_end).
type EventKind int

const (
	EventNewMessage EventKind = iota
	EventExpunge
)

func (k EventKind) String() string {
	switch k {
	case EventNewMessage:
		return "new_message"
	case EventExpunge:
		return "expunge"
	default:
		return "unknown"
	}
}

// Event is one unsolicited notification received while idling. A wakeup of
// either kind triggers a full resync, which reconciles flags and expunges
// for the whole folder rather than trusting the event's own detail (§4.6
// step 5) — SeqNum is carried for logging only.
type Event struct {
	Kind   EventKind
	SeqNum uint32 // populated for EventExpunge; the server reports a sequence number, not a UID
}

// IdleConfig tunes the IDLE refresh/keepalive cadence.
type IdleConfig struct {
	RefreshInterval time.Duration // must stay under the server's 29-minute limit
	NoopInterval    time.Duration // wake-up tick while idling; no command is sent on it
}

// DefaultIdleConfig mirrors the teacher's tuning: refresh comfortably under
// RFC 2177's 29-minute cap, with a two-minute NoopInterval tick. No NOOP is
// sent while IDLE is active.
func DefaultIdleConfig() IdleConfig {
	return IdleConfig{RefreshInterval: IdleMaxRefresh, NoopInterval: 2 * time.Minute}
}

// IdleConnection manages one account/folder's IDLE loop: connect, enter
// IDLE, refresh before the server's limit, and emit Events for unsolicited
// EXISTS/EXPUNGE responses. Unsolicited FETCH responses (flag changes) do
// not produce an Event. Stopped gracefully via Stop.
type IdleConnection struct {
	cfg      ClientConfig
	mailbox  string
	idleCfg  IdleConfig
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	log      zerolog.Logger
	client   *Client
}

// NewIdleConnection constructs an IdleConnection; call Run in its own
// goroutine to start the loop.
func NewIdleConnection(cfg ClientConfig, mailbox string, idleCfg IdleConfig) *IdleConnection {
	return &IdleConnection{
		cfg:     cfg,
		mailbox: mailbox,
		idleCfg: idleCfg,
		events:  make(chan Event, 64),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		log:     logging.WithComponent("imapclient.idle"),
	}
}

// Events returns the channel of unilateral notifications.
func (ic *IdleConnection) Events() <-chan Event { return ic.events }

// Stop requests graceful shutdown and blocks until the loop has exited.
func (ic *IdleConnection) Stop() {
	close(ic.stopCh)
	<-ic.doneCh
}

// Run drives the connect -> select -> idle-cycle loop until ctx is
// cancelled or Stop is called, reconnecting with backoff on transport
// failure.
func (ic *IdleConnection) Run(ctx context.Context) {
	defer close(ic.doneCh)

	backoff := 5 * time.Second
	const backoffCap = 300 * time.Second

	for {
		select {
		case <-ic.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := ic.ensureConnected(ctx); err != nil {
			ic.log.Warn().Err(err).Msg("idle connect failed, backing off")
			if !ic.sleep(ctx, jitter(backoff)) {
				return
			}
			backoff = minDuration(backoff*2, backoffCap)
			continue
		}
		backoff = 5 * time.Second

		if err := ic.idleCycle(ctx); err != nil {
			ic.log.Debug().Err(err).Msg("idle cycle ended")
			ic.client.Close()
			ic.client = nil
		}
	}
}

func (ic *IdleConnection) ensureConnected(ctx context.Context) error {
	if ic.client != nil {
		return nil
	}
	c := New(ic.cfg)
	c.OnUnilateralData(func(data *imapclient.UnilateralDataMailbox) {
		if data.NumMessages != nil {
			ic.emit(Event{Kind: EventNewMessage})
		}
	})
	c.OnExpunge(func(seqNum uint32) {
		ic.emit(Event{Kind: EventExpunge, SeqNum: seqNum})
	})
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if _, err := c.SelectMailbox(ctx, ic.mailbox); err != nil {
		c.Close()
		return err
	}
	ic.client = c
	return nil
}

// idleCycle runs one IDLE command, refreshing it before the server's limit;
// the NoopInterval tick sends no command. Unilateral data callbacks
// translate server pushes into Events.
func (ic *IdleConnection) idleCycle(ctx context.Context) error {
	raw := ic.client.RawClient()

	cmd, err := raw.Idle()
	if err != nil {
		return err
	}

	refreshTimer := time.NewTimer(ic.idleCfg.RefreshInterval)
	defer refreshTimer.Stop()
	noopTicker := time.NewTicker(ic.idleCfg.NoopInterval)
	defer noopTicker.Stop()

	for {
		select {
		case <-ic.stopCh:
			return cmd.Close()
		case <-ctx.Done():
			cmd.Close()
			return ctx.Err()
		case <-refreshTimer.C:
			return cmd.Close() // loop restarts IDLE in the outer Run loop
		case <-noopTicker.C:
			// A NOOP while IDLE is active would violate the protocol; the
			// health check here is the unilateral-data callback itself —
			// liveness is inferred from whether the connection is still
			// readable, not from an explicit command.
		}
	}
}

// emit pushes a translated unilateral notification without blocking the
// idle loop if no one is currently draining Events.
func (ic *IdleConnection) emit(ev Event) {
	select {
	case ic.events <- ev:
	default:
	}
}

func (ic *IdleConnection) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-ic.stopCh:
		return false
	}
}

func jitter(base time.Duration) time.Duration {
	delta := float64(base) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return base + time.Duration(offset)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// IdleManager runs one IdleConnection per account, started/stopped as
// accounts connect, get reconfigured, or go offline.
type IdleManager struct {
	log        zerolog.Logger
	conns      map[string]*idleEntry
	connecting func() bool // optional hook: suspends idling while offline
}

type idleEntry struct {
	conn   *IdleConnection
	cancel context.CancelFunc
}

// NewIdleManager constructs an empty manager.
func NewIdleManager() *IdleManager {
	return &IdleManager{log: logging.WithComponent("imapclient.idlemanager"), conns: make(map[string]*idleEntry)}
}

// SetConnectivityCheck installs a hook consulted before (re)starting an
// account's IDLE loop, letting the controller façade suspend IDLE while
// the global offline toggle is on.
func (m *IdleManager) SetConnectivityCheck(fn func() bool) { m.connecting = fn }

// StartAccount begins idling on mailbox for accountID, replacing any
// existing session for that account. It returns nil without starting a
// session when the connectivity check reports offline.
func (m *IdleManager) StartAccount(ctx context.Context, accountID string, cfg ClientConfig, mailbox string) *IdleConnection {
	m.StopAccount(accountID)
	if m.connecting != nil && !m.connecting() {
		return nil
	}

	conn := NewIdleConnection(cfg, mailbox, DefaultIdleConfig())
	cctx, cancel := context.WithCancel(ctx)
	m.conns[accountID] = &idleEntry{conn: conn, cancel: cancel}
	go conn.Run(cctx)
	return conn
}

// StopAccount stops and removes accountID's IDLE session, if any.
func (m *IdleManager) StopAccount(accountID string) {
	e, ok := m.conns[accountID]
	if !ok {
		return
	}
	e.cancel()
	e.conn.Stop()
	delete(m.conns, accountID)
}

// RestartAccount stops then restarts an account's IDLE session, e.g. after
// switching the selected folder.
func (m *IdleManager) RestartAccount(ctx context.Context, accountID string, cfg ClientConfig, mailbox string) *IdleConnection {
	return m.StartAccount(ctx, accountID, cfg, mailbox)
}

// StopAll stops every account's IDLE session (offline toggle ON).
func (m *IdleManager) StopAll() {
	for id := range m.conns {
		m.StopAccount(id)
	}
}
