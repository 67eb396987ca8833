package imapclient

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkdb/mailengine/internal/logging"
)

// MaxConnsPerAccount bounds how many concurrent IMAP sessions one account
// may hold open (one for IDLE, a couple more for on-demand fetch/search
// while the idle connection stays parked).
const MaxConnsPerAccount = 3

// pooledConn wraps a Client with the bookkeeping the pool needs to decide
// whether a connection is safe to hand out again.
type pooledConn struct {
	client   *Client
	lastUsed time.Time
	inUse    bool
}

// accountPool holds the pooled connections for one account.
type accountPool struct {
	mu    sync.Mutex
	cfg   ClientConfig
	conns []*pooledConn
}

// Pool manages per-account IMAP connection pools so the sync controller can
// borrow a connection for a fetch/search/store burst without paying a full
// Connect+login round trip each time, while never exceeding
// MaxConnsPerAccount concurrent sessions per account.
type Pool struct {
	mu       sync.Mutex
	accounts map[string]*accountPool
	log      zerolog.Logger
}

// NewPool constructs an empty Pool.
func NewPool() *Pool {
	return &Pool{accounts: make(map[string]*accountPool), log: logging.WithComponent("imapclient.pool")}
}

// Configure registers (or updates) the connection parameters used to dial
// new sessions for accountID. Existing pooled connections are left in place
// and keep being handed out unchanged; only sessions dialed afterwards use
// cfg.
func (p *Pool) Configure(accountID string, cfg ClientConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ap, ok := p.accounts[accountID]
	if !ok {
		ap = &accountPool{}
		p.accounts[accountID] = ap
	}
	ap.mu.Lock()
	ap.cfg = cfg
	ap.mu.Unlock()
}

// GetConnection returns an idle pooled connection for accountID if one is
// available, or dials a fresh one (blocking on Connect) up to
// MaxConnsPerAccount. Callers must return the connection via Release (on
// success) or Discard (on transport failure).
func (p *Pool) GetConnection(ctx context.Context, accountID string) (*Client, error) {
	p.mu.Lock()
	ap, ok := p.accounts[accountID]
	p.mu.Unlock()
	if !ok {
		return nil, errNotConfigured(accountID)
	}

	ap.mu.Lock()
	for _, pc := range ap.conns {
		if !pc.inUse {
			pc.inUse = true
			pc.lastUsed = time.Now()
			ap.mu.Unlock()
			return pc.client, nil
		}
	}
	if len(ap.conns) >= MaxConnsPerAccount {
		ap.mu.Unlock()
		return nil, errPoolExhausted(accountID)
	}
	cfg := ap.cfg
	ap.mu.Unlock()

	c := New(cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	ap.mu.Lock()
	ap.conns = append(ap.conns, &pooledConn{client: c, inUse: true, lastUsed: time.Now()})
	ap.mu.Unlock()

	return c, nil
}

// Release returns a healthy connection to the pool for reuse.
func (p *Pool) Release(accountID string, c *Client) {
	p.mu.Lock()
	ap, ok := p.accounts[accountID]
	p.mu.Unlock()
	if !ok {
		return
	}
	ap.mu.Lock()
	defer ap.mu.Unlock()
	for _, pc := range ap.conns {
		if pc.client == c {
			pc.inUse = false
			pc.lastUsed = time.Now()
			return
		}
	}
}

// Discard closes and removes a connection that failed, so the next
// GetConnection dials fresh rather than handing back a dead session.
func (p *Pool) Discard(accountID string, c *Client) {
	p.mu.Lock()
	ap, ok := p.accounts[accountID]
	p.mu.Unlock()
	if !ok {
		return
	}
	ap.mu.Lock()
	defer ap.mu.Unlock()
	for i, pc := range ap.conns {
		if pc.client == c {
			ap.conns = append(ap.conns[:i], ap.conns[i+1:]...)
			break
		}
	}
	c.Close()
}

// CloseAccount closes every pooled connection for accountID, e.g. when the
// account is deleted or disabled.
func (p *Pool) CloseAccount(accountID string) {
	p.mu.Lock()
	ap, ok := p.accounts[accountID]
	delete(p.accounts, accountID)
	p.mu.Unlock()
	if !ok {
		return
	}
	ap.mu.Lock()
	defer ap.mu.Unlock()
	for _, pc := range ap.conns {
		pc.client.Close()
	}
	ap.conns = nil
}

// Sweep closes idle connections older than maxIdle, keeping at least one
// per account so the next fetch doesn't always pay a full reconnect.
func (p *Pool) Sweep(maxIdle time.Duration) {
	p.mu.Lock()
	pools := make([]*accountPool, 0, len(p.accounts))
	for _, ap := range p.accounts {
		pools = append(pools, ap)
	}
	p.mu.Unlock()

	now := time.Now()
	for _, ap := range pools {
		ap.mu.Lock()
		kept := ap.conns[:0]
		for i, pc := range ap.conns {
			if !pc.inUse && i > 0 && now.Sub(pc.lastUsed) > maxIdle {
				pc.client.Close()
				continue
			}
			kept = append(kept, pc)
		}
		ap.conns = kept
		ap.mu.Unlock()
	}
}

type poolError struct {
	msg string
}

func (e *poolError) Error() string { return e.msg }

func errNotConfigured(accountID string) error {
	return &poolError{msg: "imapclient: pool not configured for account " + accountID}
}

func errPoolExhausted(accountID string) error {
	return &poolError{msg: "imapclient: connection pool exhausted for account " + accountID}
}
