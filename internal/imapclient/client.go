// Package imapclient implements the engine's IMAP protocol client (§4.4):
// connect/TLS negotiation/authenticate, folder listing, SELECT/STATUS,
// SEARCH, FETCH, STORE, and IDLE, all with per-operation timeouts and
// cooperative cancellation.
package imapclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/hkdb/mailengine/internal/cache"
	"github.com/hkdb/mailengine/internal/logging"
)

// Timeouts enforced on every client per §4.4.
const (
	ConnectTimeout = 30 * time.Second
	CommandTimeout = 60 * time.Second
	IdleMaxRefresh = 28 * time.Minute // stays under the server's 29-minute limit
)

// ErrUidValidityChanged signals that the folder's UIDVALIDITY changed and
// the caller must discard and rebuild the folder's cache rather than
// reconcile UIDs (§4.4 edge case).
var ErrUidValidityChanged = errors.New("imapclient: uidvalidity changed")

// ClientConfig describes how to reach and authenticate against one
// account's IMAP endpoint.
type ClientConfig struct {
	Host     string
	Port     int
	TLS      cache.TLSMode
	Username string
	// Password is used when OAuth2Token is empty; Authentication
	// precedence (§4.4) is the caller's responsibility — this package does
	// not consult the account registry itself.
	Password    string
	OAuth2Token string // bearer token for XOAUTH2; empty means use Password
}

// Mailbox summarizes one SELECTed or STATUS-queried folder.
type Mailbox struct {
	Name          string
	Delimiter     string
	Attrs         []string
	UIDValidity   uint32
	UIDNext       uint32
	Exists        uint32
	Unseen        uint32
	HighestModSeq uint64
}

// Client is a stateful IMAP session: Disconnected -> Connected ->
// Authenticated -> Selected(folder), with Idle(folder) a substate of
// Selected managed by IdleConnection in idle.go.
type Client struct {
	cfg       ClientConfig
	conn      net.Conn
	raw       *imapclient.Client
	caps      imap.CapSet
	mailbox   string
	log       zerolog.Logger
	onMailbox func(*imapclient.UnilateralDataMailbox)
	onExpunge func(seqNum uint32)
}

// New constructs a disconnected Client.
func New(cfg ClientConfig) *Client {
	return &Client{cfg: cfg, log: logging.WithComponent("imapclient")}
}

// OnUnilateralData installs a callback invoked for mailbox-level pushes
// received while idling (new message counts). Must be set before Connect.
func (c *Client) OnUnilateralData(fn func(*imapclient.UnilateralDataMailbox)) {
	c.onMailbox = fn
}

// OnExpunge installs a callback invoked for each unsolicited EXPUNGE
// response received while idling. Must be set before Connect.
func (c *Client) OnExpunge(fn func(seqNum uint32)) {
	c.onExpunge = fn
}

// RawClient exposes the underlying go-imap client for callers (the sync
// controller) that need direct access to commands this wrapper does not
// expose, e.g. batched UID SEARCH/FETCH pipelines.
func (c *Client) RawClient() *imapclient.Client { return c.raw }

// Connect dials the endpoint, negotiates TLS per cfg.TLS, and
// authenticates. All phases are bound by ctx and the package's timeouts.
func (c *Client) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("imapclient: dial %s: %w", addr, err)
	}

	if c.cfg.TLS == cache.TLSImplicit {
		conn = tls.Client(conn, &tls.Config{ServerName: c.cfg.Host})
	} else if c.cfg.TLS == cache.TLSNone && !isLoopback(c.cfg.Host) {
		conn.Close()
		return fmt.Errorf("imapclient: tls_mode=none only permitted on loopback endpoints")
	}
	c.conn = conn

	opts := &imapclient.Options{}
	if c.onMailbox != nil || c.onExpunge != nil {
		opts.UnilateralDataHandler = &imapclient.UnilateralDataHandler{
			Mailbox: c.onMailbox,
			Expunge: c.onExpunge,
		}
	}
	raw := imapclient.New(conn, opts)
	c.raw = raw

	if c.cfg.TLS == cache.TLSStartTLS {
		caps, err := raw.Capability().Wait()
		if err != nil {
			return fmt.Errorf("imapclient: capability: %w", err)
		}
		if !caps.Has(imap.CapStartTLS) {
			return fmt.Errorf("imapclient: server does not advertise STARTTLS")
		}
		if err := raw.StartTLS(&tls.Config{ServerName: c.cfg.Host}, nil); err != nil {
			return fmt.Errorf("imapclient: starttls: %w", err)
		}
	}

	caps, err := raw.Capability().Wait()
	if err != nil {
		return fmt.Errorf("imapclient: capability: %w", err)
	}
	c.caps = caps

	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	if c.cfg.OAuth2Token != "" {
		return c.loginOAuth2(ctx)
	}
	return c.loginPassword(ctx)
}

func (c *Client) loginPassword(ctx context.Context) error {
	return withCommandTimeout(ctx, func() error {
		return c.raw.Login(c.cfg.Username, c.cfg.Password).Wait()
	})
}

func (c *Client) loginOAuth2(ctx context.Context) error {
	saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: c.cfg.Username,
		Token:    c.cfg.OAuth2Token,
	})
	return withCommandTimeout(ctx, func() error {
		return c.raw.Authenticate(saslClient)
	})
}

// Close terminates the session.
func (c *Client) Close() error {
	if c.raw != nil {
		_ = c.raw.Logout().Wait()
		return c.raw.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ListFolders returns every mailbox with hierarchy and flags (§4.4
// list_folders).
func (c *Client) ListFolders(ctx context.Context) ([]Mailbox, error) {
	var out []Mailbox
	err := withCommandTimeout(ctx, func() error {
		cmd := c.raw.List("", "*", &imap.ListOptions{ReturnStatus: &imap.StatusOptions{
			NumMessages: true, NumUnseen: true, UIDNext: true, UIDValidity: true,
		}})
		mailboxes, err := cmd.Collect()
		if err != nil {
			return err
		}
		for _, m := range mailboxes {
			attrs := make([]string, len(m.Attrs))
			for i, a := range m.Attrs {
				attrs[i] = string(a)
			}
			mb := Mailbox{Name: m.Mailbox, Attrs: attrs}
			if m.Delim != 0 {
				mb.Delimiter = string(m.Delim)
			}
			if m.Status != nil {
				mb.UIDValidity = m.Status.UIDValidity
				mb.UIDNext = m.Status.UIDNext
				mb.Exists = m.Status.NumMessages
				mb.Unseen = m.Status.NumUnseen
			}
			out = append(out, mb)
		}
		return nil
	})
	return out, err
}

// SelectMailbox SELECTs a folder and transitions to Selected (§4.4 select).
func (c *Client) SelectMailbox(ctx context.Context, name string) (*Mailbox, error) {
	var mb Mailbox
	err := withCommandTimeout(ctx, func() error {
		data, err := c.raw.Select(name, nil).Wait()
		if err != nil {
			return err
		}
		mb = Mailbox{
			Name:        name,
			UIDValidity: data.UIDValidity,
			UIDNext:     data.UIDNext,
			Exists:      data.NumMessages,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.mailbox = name
	return &mb, nil
}

// GetMailboxStatus runs STATUS to obtain the accurate unseen count, which
// SELECT does not return.
func (c *Client) GetMailboxStatus(ctx context.Context, name string) (*Mailbox, error) {
	var mb Mailbox
	err := withCommandTimeout(ctx, func() error {
		data, err := c.raw.Status(name, &imap.StatusOptions{
			NumMessages: true, NumUnseen: true, UIDNext: true, UIDValidity: true,
		}).Wait()
		if err != nil {
			return err
		}
		mb = Mailbox{Name: name, UIDValidity: data.UIDValidity, UIDNext: data.UIDNext}
		if data.NumMessages != nil {
			mb.Exists = *data.NumMessages
		}
		if data.NumUnseen != nil {
			mb.Unseen = *data.NumUnseen
		}
		return nil
	})
	return &mb, err
}

// SearchCriteria maps the engine's abstract criteria (§4.4 search) onto the
// IMAP SEARCH command.
type SearchCriteria struct {
	From, To, Subject, Body string
	Since, Before           time.Time
	Seen, Flagged           *bool
}

// Search maps abstract criteria to SEARCH and returns matching UIDs.
func (c *Client) Search(ctx context.Context, crit SearchCriteria) ([]uint32, error) {
	var criteria imap.SearchCriteria
	if crit.From != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "From", Value: crit.From})
	}
	if crit.To != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "To", Value: crit.To})
	}
	if crit.Subject != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: crit.Subject})
	}
	if crit.Body != "" {
		criteria.Body = append(criteria.Body, crit.Body)
	}
	if !crit.Since.IsZero() {
		criteria.Since = crit.Since
	}
	if !crit.Before.IsZero() {
		criteria.Before = crit.Before
	}
	if crit.Seen != nil {
		if *crit.Seen {
			criteria.Flag = append(criteria.Flag, imap.FlagSeen)
		} else {
			criteria.NotFlag = append(criteria.NotFlag, imap.FlagSeen)
		}
	}
	if crit.Flagged != nil && *crit.Flagged {
		criteria.Flag = append(criteria.Flag, imap.FlagFlagged)
	}

	var uids []uint32
	err := withCommandTimeout(ctx, func() error {
		data, err := c.raw.UIDSearch(&criteria, nil).Wait()
		if err != nil {
			return err
		}
		uids = data.AllUIDs()
		return nil
	})
	return uids, err
}

// MessageHeader is the envelope + flag summary returned by FetchHeaders,
// enough to populate a cache.Message row without fetching the body.
type MessageHeader struct {
	UID         uint32
	MessageID   string
	InReplyTo   string
	References  []string
	Subject     string
	FromName    string
	FromEmail   string
	To, Cc, Bcc []string
	Date        time.Time
	Size        int64
	Flags       []imap.Flag
}

// FetchHeaders fetches envelope, flags, and size for every UID at or above
// sinceUID in the selected mailbox (§4.6 step 3). Pass 1 to fetch the
// whole mailbox.
func (c *Client) FetchHeaders(ctx context.Context, sinceUID uint32) ([]MessageHeader, error) {
	var out []MessageHeader
	err := withCommandTimeout(ctx, func() error {
		set := imap.UIDSet{{Start: imap.UID(sinceUID), Stop: 0}}
		cmd := c.raw.Fetch(set, &imap.FetchOptions{
			UID: true, Envelope: true, Flags: true, RFC822Size: true,
		})
		bufs, err := cmd.Collect()
		if err != nil {
			return err
		}
		for _, msg := range bufs {
			out = append(out, collectHeader(msg))
		}
		return nil
	})
	return out, err
}

func collectHeader(msg *imapclient.FetchMessageBuffer) MessageHeader {
	h := MessageHeader{UID: uint32(msg.UID), Size: msg.RFC822Size}
	h.Flags = append(h.Flags, msg.Flags...)
	if env := msg.Envelope; env != nil {
		h.MessageID = env.MessageID
		h.InReplyTo = env.InReplyTo
		h.Subject = env.Subject
		h.Date = env.Date
		if len(env.From) > 0 {
			h.FromName = env.From[0].Name
			h.FromEmail = env.From[0].Mailbox + "@" + env.From[0].Host
		}
		h.To = addressList(env.To)
		h.Cc = addressList(env.Cc)
		h.Bcc = addressList(env.Bcc)
	}
	return h
}

func addressList(addrs []imap.Address) []string {
	var out []string
	for _, a := range addrs {
		if a.Mailbox == "" && a.Host == "" {
			continue
		}
		out = append(out, a.Mailbox+"@"+a.Host)
	}
	return out
}

// FetchFlags fetches the current flags for every UID in the selected
// mailbox, used to reconcile cached flags with the server's view after an
// IDLE wakeup (§4.6 step 5).
func (c *Client) FetchFlags(ctx context.Context) (map[uint32][]imap.Flag, error) {
	out := make(map[uint32][]imap.Flag)
	err := withCommandTimeout(ctx, func() error {
		set := imap.UIDSet{{Start: 1, Stop: 0}}
		cmd := c.raw.Fetch(set, &imap.FetchOptions{UID: true, Flags: true})
		bufs, err := cmd.Collect()
		if err != nil {
			return err
		}
		for _, msg := range bufs {
			out[uint32(msg.UID)] = append([]imap.Flag{}, msg.Flags...)
		}
		return nil
	})
	return out, err
}

// CurrentUIDs returns every UID currently present in the selected mailbox
// (its post-expunge view), used to detect server-side deletions that
// happened while idling (§4.6 step 5).
func (c *Client) CurrentUIDs(ctx context.Context) ([]uint32, error) {
	var uids []uint32
	err := withCommandTimeout(ctx, func() error {
		data, err := c.raw.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
		if err != nil {
			return err
		}
		uids = data.AllUIDs()
		return nil
	})
	return uids, err
}

// FetchRawMessage fetches the full RFC 5322 body of one UID (§4.6 step 4,
// lazy body fetch).
func (c *Client) FetchRawMessage(ctx context.Context, uid uint32) ([]byte, error) {
	var raw []byte
	err := withCommandTimeout(ctx, func() error {
		set := imap.UIDSetNum(imap.UID(uid))
		cmd := c.raw.Fetch(set, &imap.FetchOptions{
			BodySection: []*imap.FetchItemBodySection{{}},
		})
		bufs, err := cmd.Collect()
		if err != nil {
			return err
		}
		if len(bufs) == 0 {
			return fmt.Errorf("imapclient: uid %d not found", uid)
		}
		for _, section := range bufs[0].BodySection {
			raw = section
			break
		}
		return nil
	})
	return raw, err
}

// StoreFlags adds/removes flags on one UID (§4.4 store_flags).
func (c *Client) StoreFlags(ctx context.Context, uid uint32, add, remove []imap.Flag) error {
	return withCommandTimeout(ctx, func() error {
		set := imap.UIDSetNum(imap.UID(uid))
		if len(add) > 0 {
			if err := c.raw.Store(set, &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: add}, nil).Close(); err != nil {
				return err
			}
		}
		if len(remove) > 0 {
			if err := c.raw.Store(set, &imap.StoreFlags{Op: imap.StoreFlagsDel, Flags: remove}, nil).Close(); err != nil {
				return err
			}
		}
		return nil
	})
}

// CopyMessage copies one UID into another mailbox; returns the destination
// UID when the server advertises UIDPLUS.
func (c *Client) CopyMessage(ctx context.Context, uid uint32, destMailbox string) (uint32, error) {
	var destUID uint32
	err := withCommandTimeout(ctx, func() error {
		data, err := c.raw.Copy(imap.UIDSetNum(imap.UID(uid)), destMailbox).Wait()
		if err != nil {
			return err
		}
		if data != nil && len(data.DestUIDSet) > 0 {
			if nums, ok := data.DestUIDSet[0].Nums(); ok && len(nums) > 0 {
				destUID = uint32(nums[0])
			}
		}
		return nil
	})
	return destUID, err
}

// ExpungeDeleted removes messages flagged \Deleted from the selected
// mailbox.
func (c *Client) ExpungeDeleted(ctx context.Context) error {
	return withCommandTimeout(ctx, func() error {
		return c.raw.Expunge().Close()
	})
}

// AppendMessage appends a raw RFC 5322 message into a mailbox (used for
// draft sync and Sent-folder writes when the server is authoritative).
func (c *Client) AppendMessage(ctx context.Context, mailbox string, raw []byte, flags []imap.Flag) error {
	return withCommandTimeout(ctx, func() error {
		cmd := c.raw.Append(mailbox, int64(len(raw)), &imap.AppendOptions{Flags: flags})
		if _, err := cmd.Write(raw); err != nil {
			cmd.Close()
			return err
		}
		if err := cmd.Close(); err != nil {
			return err
		}
		_, err := cmd.Wait()
		return err
	})
}

// HasCapability reports whether the server advertised cap at connect time.
func (c *Client) HasCapability(cap imap.Cap) bool {
	return c.caps.Has(cap)
}

// IsConnectionError classifies err as a transport-level failure (socket
// reset, timeout, EOF) as opposed to a protocol-level NO/BAD response, so
// callers know whether reconnecting can help.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"eof", "connection reset", "broken pipe", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func withCommandTimeout(ctx context.Context, fn func() error) error {
	cctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return cctx.Err()
	}
}
