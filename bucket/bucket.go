// Package bucket implements a token bucket that paces replayed events.
package bucket

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// Rate is the number of tokens generated per second.
type Rate uint64

// Common rates.
const (
	TPS       Rate = 1
	KTPS           = 1000 * TPS
	MTPS           = 1000 * KTPS
	Unlimited Rate = 0
)

// Bucket is a token bucket driven by a clock. A nil bucket is unlimited and
// all methods can be called on it.
type Bucket struct {
	clock clock.Clock

	mu         sync.Mutex
	tokens     uint64
	max        uint64
	quantum    uint64
	resolution time.Duration
	timestamp  time.Time
}

// New creates a bucket that holds at most max tokens (0 is unbounded) and
// gains tokens at rate. It returns nil for an Unlimited rate.
func New(rate Rate, max uint64, clk clock.Clock) *Bucket {
	if rate == Unlimited {
		return nil
	}
	if max == 0 {
		max = ^uint64(0)
	}
	if clk == nil {
		clk = clock.WallClock
	}

	b := &Bucket{
		clock:      clk,
		max:        max,
		quantum:    uint64(rate),
		resolution: time.Second,
		timestamp:  clk.Now(),
	}
	d := gcd(b.quantum, uint64(b.resolution))
	b.quantum /= d
	b.resolution /= time.Duration(d)
	return b
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// fill adds the tokens generated since the last fill. b.mu must be held.
func (b *Bucket) fill() {
	now := b.clock.Now()
	d := now.Sub(b.timestamp)
	if d < b.resolution {
		return
	}

	n := uint64(d / b.resolution)
	t := b.tokens + n*b.quantum
	if t < b.tokens || t > b.max {
		t = b.max
	}
	b.tokens = t
	b.timestamp = b.timestamp.Add(time.Duration(n) * b.resolution)
}

// Unlimited returns whether the bucket is unlimited.
func (b *Bucket) Unlimited() bool {
	return b == nil
}

// Has returns whether the bucket has at least n tokens.
func (b *Bucket) Has(n uint64) bool {
	if b.Unlimited() {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.fill()
	return n <= b.tokens
}

// Get takes n tokens if available. Otherwise, it returns false and takes
// nothing.
func (b *Bucket) Get(n uint64) bool {
	if b.Unlimited() {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.fill()
	if n > b.tokens {
		return false
	}
	b.tokens -= n
	return true
}

// When returns the minimum time to wait before n tokens are available.
func (b *Bucket) When(n uint64) time.Duration {
	if b.Unlimited() {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.fill()
	if n <= b.tokens {
		return 0
	}
	t := n - b.tokens
	q := t / b.quantum
	if t%b.quantum != 0 {
		q++
	}
	return time.Duration(q)*b.resolution - b.clock.Now().Sub(b.timestamp)
}

// Wait blocks until it takes n tokens or ctx is done.
func (b *Bucket) Wait(ctx context.Context, n uint64) error {
	if b.Unlimited() {
		return nil
	}
	if n > b.max {
		return errors.NotValidf("%d tokens from a bucket of %d", n, b.max)
	}

	for !b.Get(n) {
		select {
		case <-b.clock.After(b.When(n)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
