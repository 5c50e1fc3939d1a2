// Package mbconf implements the client of the middlebox configuration
// channel: a line-oriented command shell that middleboxes expose on their
// management address.
//
// A session starts with an optional login and the first prompt. Each command
// is written as a single line. The middlebox answers with the
// command output followed by its prompt ("$ " by default). Commands are used
// to reprogram redirection elements and to trigger state-install barriers,
// e.g. "write srcredirect.pattern0 10.10.10.10/32".
package mbconf

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/nfvproject/TFM/connpool"
)

// DefaultPrompt is the prompt printed by middlebox shells.
const DefaultPrompt = "$ "

// Config is the configuration of a client.
type Config struct {
	Addr     string // Addr is HOST:PORT of the configuration channel.
	User     string // User for login. No login is performed if empty.
	Password string
	Prompt   string        // Prompt of the shell. DefaultPrompt if empty.
	Timeout  time.Duration // Timeout for dialing and each command. 0 is none.
}

// Client is a session on a middlebox configuration channel. The session is
// dialed on the first command and redialed after an I/O error. Client is
// go-routine safe; commands are serialized.
type Client struct {
	cfg    Config
	dialer *connpool.Dialer

	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	unread int // prompts of committed commands that are not read yet.
}

// New creates a client for cfg. Connections are dialed through d. If d is
// nil, a dialer with one connection per middlebox is used.
func New(cfg Config, d *connpool.Dialer) *Client {
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if d == nil {
		d = &connpool.Dialer{MaxConnPerHost: 1}
	}
	return &Client{cfg: cfg, dialer: d}
}

func (c *Client) String() string {
	return "mbconf " + c.cfg.Addr
}

// SendCommand writes cmd and blocks until the middlebox prints its prompt.
// It returns the output of the command without the prompt.
func (c *Client) SendCommand(ctx context.Context, cmd string) (string, error) {
	if c.cfg.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return "", err
	}
	defer c.watch(ctx)()

	for ; c.unread > 0; c.unread-- {
		if _, err := c.readUntil(c.cfg.Prompt); err != nil {
			return "", c.broken(ctxErr(ctx, err), "reading committed command output")
		}
	}

	if err := c.write(cmd); err != nil {
		return "", c.broken(ctxErr(ctx, err), "writing %q", cmd)
	}
	res, err := c.readUntil(c.cfg.Prompt)
	if err != nil {
		return "", c.broken(ctxErr(ctx, err), "reading response of %q", cmd)
	}
	glog.V(2).Infof("%v: %q -> %q", c, cmd, res)
	return strings.TrimSpace(strings.TrimSuffix(res, c.cfg.Prompt)), nil
}

// CommitCommand writes cmd without waiting for its output.
func (c *Client) CommitCommand(cmd string) error {
	ctx := context.Background()
	if c.cfg.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}
	defer c.watch(ctx)()
	if err := c.write(cmd); err != nil {
		return c.broken(err, "writing %q", cmd)
	}
	c.unread++
	glog.V(2).Infof("%v: committed %q", c, cmd)
	return nil
}

// Close closes the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.close()
}

func (c *Client) close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.r, c.unread = nil, nil, 0
	return err
}

func (c *Client) broken(err error, format string, args ...interface{}) error {
	c.close()
	return errors.Annotatef(err, "%v: "+format, append([]interface{}{c}, args...)...)
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return errors.Annotatef(err, "%v: cannot dial", c)
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)
	defer c.watch(ctx)()

	if c.cfg.User == "" {
		if _, err := c.readUntil(c.cfg.Prompt); err != nil {
			return c.broken(ctxErr(ctx, err), "waiting for prompt")
		}
		return nil
	}

	if _, err := c.readUntil("login:"); err != nil {
		return c.broken(err, "waiting for login")
	}
	if err := c.write(c.cfg.User); err != nil {
		return c.broken(err, "writing user")
	}
	if _, err := c.readUntil("Password:"); err != nil {
		return c.broken(err, "waiting for password")
	}
	if err := c.write(c.cfg.Password); err != nil {
		return c.broken(err, "writing password")
	}
	if _, err := c.readUntil(c.cfg.Prompt); err != nil {
		return c.broken(err, "waiting for prompt")
	}
	glog.V(1).Infof("%v: logged in as %s", c, c.cfg.User)
	return nil
}

// watch applies the deadline of ctx to the connection and interrupts
// blocked I/O when ctx is cancelled. The returned function stops watching.
func (c *Client) watch(ctx context.Context) (stop func() bool) {
	d, _ := ctx.Deadline()
	conn := c.conn
	conn.SetDeadline(d)
	return context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
}

// ctxErr returns the error of ctx if it is done, and err otherwise.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) write(line string) error {
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// readUntil reads from the session until the output ends with suffix.
func (c *Client) readUntil(suffix string) (string, error) {
	var sb strings.Builder
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return sb.String(), err
		}
		sb.WriteByte(b)
		if strings.HasSuffix(sb.String(), suffix) {
			return sb.String(), nil
		}
	}
}
