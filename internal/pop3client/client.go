// Package pop3client implements the engine's POP3 client (§4.4): connect,
// optional STARTTLS/implicit TLS, USER/PASS authentication, STAT, LIST,
// RETR, DELE, and QUIT, for accounts configured with a POP3 endpoint
// instead of or alongside IMAP.
package pop3client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkdb/mailengine/internal/cache"
	"github.com/hkdb/mailengine/internal/logging"
)

// Timeouts enforced on every POP3 session (§4.4).
const (
	ConnectTimeout = 30 * time.Second
	CommandTimeout = 60 * time.Second
)

// Config describes how to reach and authenticate against one account's
// POP3 endpoint.
type Config struct {
	Host     string
	Port     int
	TLS      cache.TLSMode
	Username string
	Password string
}

// MessageInfo is one entry from a LIST response.
type MessageInfo struct {
	Num  int
	Size int
}

// Client is a stateful POP3 session: Disconnected -> Authorization ->
// Transaction, ending with QUIT.
type Client struct {
	cfg  Config
	conn net.Conn
	tp   *textproto.Conn
	log  zerolog.Logger
}

// New constructs a disconnected Client.
func New(cfg Config) *Client {
	return &Client{cfg: cfg, log: logging.WithComponent("pop3client")}
}

// Connect dials, negotiates TLS, and authenticates with USER/PASS.
func (c *Client) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("pop3client: dial %s: %w", addr, err)
	}

	if c.cfg.TLS == cache.TLSImplicit {
		conn = tls.Client(conn, &tls.Config{ServerName: c.cfg.Host})
	}
	c.conn = conn
	c.tp = textproto.NewConn(conn)

	if _, err := c.tp.ReadResponse('+'); err != nil {
		return fmt.Errorf("pop3client: greeting: %w", err)
	}

	if c.cfg.TLS == cache.TLSStartTLS {
		if err := c.cmdOK("STLS"); err != nil {
			return fmt.Errorf("pop3client: stls: %w", err)
		}
		tlsConn := tls.Client(conn, &tls.Config{ServerName: c.cfg.Host})
		c.conn = tlsConn
		c.tp = textproto.NewConn(tlsConn)
	}

	if err := c.cmdOK(fmt.Sprintf("USER %s", c.cfg.Username)); err != nil {
		return fmt.Errorf("pop3client: user: %w", err)
	}
	if err := c.cmdOK(fmt.Sprintf("PASS %s", c.cfg.Password)); err != nil {
		return fmt.Errorf("pop3client: pass: %w", err)
	}
	return nil
}

// Stat returns the number of messages and total octets in the maildrop.
func (c *Client) Stat(ctx context.Context) (count, octets int, err error) {
	err = c.withTimeout(ctx, func() error {
		line, err := c.cmdOne("STAT")
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("pop3client: malformed STAT response %q", line)
		}
		count, err = strconv.Atoi(fields[0])
		if err != nil {
			return err
		}
		octets, err = strconv.Atoi(fields[1])
		return err
	})
	return count, octets, err
}

// List returns every message's number and size.
func (c *Client) List(ctx context.Context) ([]MessageInfo, error) {
	var out []MessageInfo
	err := c.withTimeout(ctx, func() error {
		lines, err := c.cmdMulti("LIST")
		if err != nil {
			return err
		}
		for _, line := range lines {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			num, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			size, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			out = append(out, MessageInfo{Num: num, Size: size})
		}
		return nil
	})
	return out, err
}

// Retr downloads one message's full RFC 5322 content by message number.
func (c *Client) Retr(ctx context.Context, num int) ([]byte, error) {
	var body []byte
	err := c.withTimeout(ctx, func() error {
		lines, err := c.cmdMulti(fmt.Sprintf("RETR %d", num))
		if err != nil {
			return err
		}
		body = []byte(strings.Join(lines, "\r\n"))
		return nil
	})
	return body, err
}

// Dele marks message num for deletion; the deletion only takes effect on
// a successful QUIT (§4.4 delete-on-server semantics).
func (c *Client) Dele(ctx context.Context, num int) error {
	return c.withTimeout(ctx, func() error {
		return c.cmdOK(fmt.Sprintf("DELE %d", num))
	})
}

// Uidl returns the server-assigned unique ID for message num, used to
// detect messages already fetched in a prior session when the server
// offers no other stable identifier.
func (c *Client) Uidl(ctx context.Context, num int) (string, error) {
	var uid string
	err := c.withTimeout(ctx, func() error {
		line, err := c.cmdOne(fmt.Sprintf("UIDL %d", num))
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("pop3client: malformed UIDL response %q", line)
		}
		uid = fields[1]
		return nil
	})
	return uid, err
}

// Quit commits any pending DELE operations and closes the session. RSET
// before Quit undoes pending deletions without closing the connection.
func (c *Client) Quit(ctx context.Context) error {
	return c.withTimeout(ctx, func() error {
		return c.cmdOK("QUIT")
	})
}

// Reset cancels all DELE marks made so far this session.
func (c *Client) Reset(ctx context.Context) error {
	return c.withTimeout(ctx, func() error {
		return c.cmdOK("RSET")
	})
}

// Close closes the underlying connection without sending QUIT, for use
// after a transport failure where a graceful QUIT cannot be attempted.
func (c *Client) Close() error {
	if c.tp != nil {
		return c.tp.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) cmdOK(cmd string) error {
	id, err := c.tp.Cmd(cmd)
	if err != nil {
		return err
	}
	c.tp.StartResponse(id)
	defer c.tp.EndResponse(id)
	_, err = c.tp.ReadResponse('+')
	return err
}

func (c *Client) cmdOne(cmd string) (string, error) {
	id, err := c.tp.Cmd(cmd)
	if err != nil {
		return "", err
	}
	c.tp.StartResponse(id)
	defer c.tp.EndResponse(id)
	return readOKLine(c.tp)
}

func (c *Client) cmdMulti(cmd string) ([]string, error) {
	id, err := c.tp.Cmd(cmd)
	if err != nil {
		return nil, err
	}
	c.tp.StartResponse(id)
	defer c.tp.EndResponse(id)
	if _, err := readOKLine(c.tp); err != nil {
		return nil, err
	}
	return c.tp.ReadDotLines()
}

func readOKLine(tp *textproto.Conn) (string, error) {
	line, err := tp.ReadLine()
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(line, "+OK") {
		return "", fmt.Errorf("pop3client: server error: %s", line)
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "+OK")), nil
}

func (c *Client) withTimeout(ctx context.Context, fn func() error) error {
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
