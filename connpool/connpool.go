package connpool

import (
	"context"
	"net"
	"sync"
)

const (
	// DefaultMaxConnsPerHost is the default number of connections towards an
	// address.
	DefaultMaxConnsPerHost = 10
)

var (
	// ErrTimeout represents that no connection could be grabbed from the pool
	// before the dial context was done.
	ErrTimeout = errTimeout{}
)

type errTimeout struct{}

func (err errTimeout) Error() string {
	return "dial timeout error"
}

func (err errTimeout) Temporary() bool {
	return true
}

func (err errTimeout) Timeout() bool {
	return true
}

// Dialer uses a capped connection pool to bound the number of parallel
// connections towards each address.
type Dialer struct {
	sync.Mutex
	conns map[netAndAddr]bucket
	// MaxConnPerHost is the maximum number of parallel connections dialed for
	// each host. If it is set to 0 we use DefaultMaxConnsPerHost.
	MaxConnPerHost int
	// Dialer is the underlying network dialer.
	Dialer net.Dialer
}

type netAndAddr struct {
	net  string
	addr string
}

func (d *Dialer) bucket(network, addr string) bucket {
	d.Lock()
	defer d.Unlock()

	max := d.MaxConnPerHost
	if max == 0 {
		max = DefaultMaxConnsPerHost
	}

	if d.conns == nil {
		d.conns = make(map[netAndAddr]bucket)
	}

	b, ok := d.conns[netAndAddr{network, addr}]
	if !ok {
		b = make(bucket, max)
		for i := 0; i < max; i++ {
			b <- struct{}{}
		}
		d.conns[netAndAddr{network, addr}] = b
	}
	return b
}

// Dial dials addr and waits at most Dialer.Timeout for a free slot. A zero
// timeout waits forever.
func (d *Dialer) Dial(network, addr string) (net.Conn, error) {
	ctx := context.Background()
	if d.Dialer.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Dialer.Timeout)
		defer cancel()
	}
	return d.DialContext(ctx, network, addr)
}

// DialContext dials addr once a slot towards addr is free or returns
// ErrTimeout when ctx is done first.
func (d *Dialer) DialContext(ctx context.Context, network,
	addr string) (net.Conn, error) {

	b := d.bucket(network, addr)
	return b.dial(ctx, network, addr, &d.Dialer)
}

// Free returns the number of connections that can still be dialed towards
// addr without waiting.
func (d *Dialer) Free(network, addr string) int {
	return len(d.bucket(network, addr))
}

type bucket chan struct{}

func (b bucket) dial(ctx context.Context, network, addr string,
	dialer *net.Dialer) (net.Conn, error) {

	select {
	case <-b:
		c, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			b <- struct{}{}
			return nil, err
		}
		return &conn{Conn: c, bucket: b}, nil

	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

type conn struct {
	net.Conn
	bucket bucket
	once   sync.Once
}

func (c *conn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { c.bucket <- struct{}{} })
	return err
}
