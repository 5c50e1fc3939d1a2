package tfm

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/nfvproject/TFM/message"
)

// MockChannel is a mock for StateChannel. It records the sent messages.
type MockChannel struct {
	// Err, if set, is returned by Send.
	Err error

	mu   sync.Mutex
	msgs []message.Msg
	ch   chan message.Msg
}

// NewMockChannel creates a mock state channel.
func NewMockChannel() *MockChannel {
	return &MockChannel{ch: make(chan message.Msg, 1024)}
}

func (c *MockChannel) Send(m message.Msg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.msgs = append(c.msgs, m)
	c.ch <- m
	return nil
}

// Sent returns the messages sent on the channel.
func (c *MockChannel) Sent() []message.Msg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.Msg(nil), c.msgs...)
}

// Count returns the number of sent messages of type t.
func (c *MockChannel) Count(t message.Type) int {
	n := 0
	for _, m := range c.Sent() {
		if m.Type() == t {
			n++
		}
	}
	return n
}

// Next waits up to d for the next sent message.
func (c *MockChannel) Next(d time.Duration) (message.Msg, error) {
	select {
	case m := <-c.ch:
		return m, nil
	case <-time.After(d):
		return nil, errors.Timeoutf("waiting for message")
	}
}

// MockCommander is a mock for Commander. It records the commands.
type MockCommander struct {
	// Err, if set, is returned for all commands.
	Err error

	mu      sync.Mutex
	sent    []string
	commits []string
}

func (c *MockCommander) SendCommand(ctx context.Context, cmd string) (string,
	error) {

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return "", c.Err
	}
	c.sent = append(c.sent, cmd)
	return "", nil
}

func (c *MockCommander) CommitCommand(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.commits = append(c.commits, cmd)
	return nil
}

// Sent returns the commands sent with SendCommand.
func (c *MockCommander) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Committed returns the commands sent with CommitCommand.
func (c *MockCommander) Committed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commits...)
}

// MockReplayer is a mock for Replayer. It records the replayed events.
type MockReplayer struct {
	// Fail, if set, is called before each replay and its error is returned.
	Fail func(ev *ReprocessEvent) error

	mu       sync.Mutex
	replayed []*ReprocessEvent
	active   int
	overlap  bool
}

func (r *MockReplayer) Replay(ctx context.Context, ev *ReprocessEvent) error {
	r.mu.Lock()
	r.active++
	if r.active > 1 {
		r.overlap = true
	}
	r.replayed = append(r.replayed, ev)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	if r.Fail != nil {
		return r.Fail(ev)
	}
	return nil
}

// Replayed returns the events passed to Replay in their order.
func (r *MockReplayer) Replayed() []*ReprocessEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ReprocessEvent(nil), r.replayed...)
}

// Overlapped returns whether two replays ever ran concurrently.
func (r *MockReplayer) Overlapped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlap
}
