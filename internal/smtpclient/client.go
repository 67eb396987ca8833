// Package smtpclient implements the engine's SMTP submission client
// (§4.4): connect, EHLO, optional STARTTLS, AUTH (PLAIN/LOGIN, or
// OAUTHBEARER when an OAuth2 token is configured; XOAUTH2 is not offered),
// MAIL FROM/RCPT TO/DATA, with errors classified transient vs permanent so
// callers (the outbox worker) know whether a retry can help.
package smtpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/hkdb/mailengine/internal/cache"
	"github.com/hkdb/mailengine/internal/logging"
)

// Timeouts enforced on every SMTP session (§4.4).
const (
	ConnectTimeout = 30 * time.Second
	CommandTimeout = 60 * time.Second
)

// Config describes how to reach and authenticate against one account's
// SMTP submission endpoint.
type Config struct {
	Host        string
	Port        int
	TLS         cache.TLSMode
	Username    string
	Password    string
	OAuth2Token string // bearer token for OAUTHBEARER; empty means use Password
}

// Envelope is one outbound submission: an RFC 5322 message plus the
// envelope sender/recipients used for MAIL FROM/RCPT TO.
type Envelope struct {
	From string
	To   []string
	Raw  []byte // complete RFC 5322 message, including headers
}

// PermanentError wraps a 5xx or malformed-response failure: retrying
// without operator intervention cannot succeed.
type PermanentError struct {
	Code int
	Msg  string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("smtpclient: permanent failure (%d): %s", e.Code, e.Msg)
}

// TransientError wraps a 4xx or connectivity failure: the same send may
// succeed on retry.
type TransientError struct {
	Code int
	Msg  string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("smtpclient: transient failure (%d): %s", e.Code, e.Msg)
}

// IsTransient reports whether err should be retried with backoff rather
// than surfaced as a permanent failure.
func IsTransient(err error) bool {
	var t *TransientError
	if errors.As(err, &t) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Client is a one-shot SMTP submission session: one Connect, one or more
// Send calls sharing the authenticated connection, then Close.
type Client struct {
	cfg  Config
	conn net.Conn
	c    *smtp.Client
	log  zerolog.Logger
}

// New constructs a disconnected Client.
func New(cfg Config) *Client {
	return &Client{cfg: cfg, log: logging.WithComponent("smtpclient")}
}

// Connect dials, negotiates TLS, and authenticates.
func (cl *Client) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", cl.cfg.Host, cl.cfg.Port)

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return &TransientError{Msg: fmt.Sprintf("dial %s: %v", addr, err)}
	}

	if cl.cfg.TLS == cache.TLSImplicit {
		conn = tls.Client(conn, &tls.Config{ServerName: cl.cfg.Host})
	}
	cl.conn = conn

	c, err := smtp.NewClient(conn, cl.cfg.Host)
	if err != nil {
		conn.Close()
		return &TransientError{Msg: fmt.Sprintf("smtp handshake: %v", err)}
	}
	cl.c = c

	if err := c.Hello("mailengine"); err != nil {
		return classifyProtocolError(err)
	}

	if cl.cfg.TLS == cache.TLSStartTLS {
		ok, _ := c.Extension("STARTTLS")
		if !ok {
			return &PermanentError{Msg: "server does not advertise STARTTLS"}
		}
		if err := c.StartTLS(&tls.Config{ServerName: cl.cfg.Host}); err != nil {
			return &TransientError{Msg: fmt.Sprintf("starttls: %v", err)}
		}
	}

	return cl.authenticate(ctx)
}

func (cl *Client) authenticate(ctx context.Context) error {
	if cl.cfg.OAuth2Token != "" {
		saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: cl.cfg.Username,
			Token:    cl.cfg.OAuth2Token,
		})
		return cl.authWithSASL(saslClient)
	}

	ok, mechs := cl.c.Extension("AUTH")
	if !ok {
		return &PermanentError{Msg: "server does not advertise AUTH"}
	}

	var auth smtp.Auth
	switch {
	case strings.Contains(mechs, "PLAIN"):
		auth = smtp.PlainAuth("", cl.cfg.Username, cl.cfg.Password, cl.cfg.Host)
	case strings.Contains(mechs, "LOGIN"):
		auth = &loginAuth{username: cl.cfg.Username, password: cl.cfg.Password}
	default:
		return &PermanentError{Msg: fmt.Sprintf("no supported AUTH mechanism in %q", mechs)}
	}

	if err := cl.c.Auth(auth); err != nil {
		return classifyProtocolError(err)
	}
	return nil
}

// authWithSASL drives an emersion/go-sasl client (used for OAUTHBEARER,
// which net/smtp has no built-in support for) over the raw SMTP AUTH command.
func (cl *Client) authWithSASL(client sasl.Client) error {
	mech, initial, err := client.Start()
	if err != nil {
		return &PermanentError{Msg: err.Error()}
	}
	return cl.c.Auth(&saslAdapter{mech: mech, initial: initial, client: client})
}

// Send submits one envelope over the authenticated connection. Each call
// is one MAIL FROM/RCPT TO/DATA transaction, so a multi-recipient send is
// one transaction with multiple RCPT TO commands (§4.4).
func (cl *Client) Send(ctx context.Context, env Envelope) error {
	done := make(chan error, 1)
	go func() { done <- cl.sendSync(env) }()

	cctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return &TransientError{Msg: "send timed out"}
	}
}

func (cl *Client) sendSync(env Envelope) error {
	if err := cl.c.Reset(); err != nil {
		return classifyProtocolError(err)
	}
	if err := cl.c.Mail(env.From); err != nil {
		return classifyProtocolError(err)
	}
	for _, rcpt := range env.To {
		if err := cl.c.Rcpt(rcpt); err != nil {
			return classifyProtocolError(err)
		}
	}
	w, err := cl.c.Data()
	if err != nil {
		return classifyProtocolError(err)
	}
	if _, err := w.Write(env.Raw); err != nil {
		return &TransientError{Msg: fmt.Sprintf("writing message body: %v", err)}
	}
	if err := w.Close(); err != nil {
		return classifyProtocolError(err)
	}
	return nil
}

// Close ends the session with QUIT.
func (cl *Client) Close() error {
	if cl.c != nil {
		return cl.c.Quit()
	}
	if cl.conn != nil {
		return cl.conn.Close()
	}
	return nil
}

// classifyProtocolError inspects an *textproto.Error-shaped SMTP response
// and classifies it transient (4xx) or permanent (5xx); anything else is
// treated as transient, since it's most often a transport failure.
func classifyProtocolError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) >= 3 {
		switch msg[0] {
		case '4':
			return &TransientError{Msg: msg}
		case '5':
			return &PermanentError{Msg: msg}
		}
	}
	return &TransientError{Msg: msg}
}

// loginAuth implements the non-standard but widely deployed SMTP AUTH
// LOGIN mechanism, which net/smtp does not provide directly.
type loginAuth struct {
	username, password string
}

func (a *loginAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(string(fromServer)) {
	case "username:":
		return []byte(a.username), nil
	case "password:":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("smtpclient: unexpected LOGIN prompt %q", fromServer)
	}
}

// saslAdapter bridges an emersion/go-sasl client onto the net/smtp.Auth
// interface so OAUTHBEARER can reuse the same transport driven by the
// standard library's smtp.Client.
type saslAdapter struct {
	mech    string
	initial []byte
	client  sasl.Client
}

func (a *saslAdapter) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return a.mech, a.initial, nil
}

func (a *saslAdapter) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.client.Next(fromServer)
}
