package tfm

import (
	"context"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/nfvproject/TFM/flow"
	"github.com/nfvproject/TFM/message"
)

// chunkKey identifies a state chunk within an operation.
type chunkKey struct {
	multiflow bool
	hash      message.HashKey
}

// StateChunk is one state record in flight from the source to the
// destination. Fragments of the same record are coalesced into one chunk,
// which is put on the destination exactly once.
type StateChunk struct {
	op  OpID
	key chunkKey

	mu        sync.Mutex
	flow      flow.Selector
	payload   strings.Builder
	fragments int
	dst       *Middlebox
	sent      bool
	late      int // fragments stored after the chunk was sent.
	acked     bool
}

func newStateChunk(op OpID, key chunkKey) *StateChunk {
	return &StateChunk{op: op, key: key}
}

// Key returns the hash key of the chunk.
func (c *StateChunk) Key() message.HashKey {
	return c.key.hash
}

// Multiflow returns whether the chunk holds multi-flow state.
func (c *StateChunk) Multiflow() bool {
	return c.key.multiflow
}

// Store absorbs the payload of a state message and records the destination
// of the chunk. Payloads of later fragments are appended to the earlier ones.
func (c *StateChunk) Store(m message.State, dst *Middlebox) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sent {
		c.late++
		glog.Warningf("chunk %v of op %v received a fragment after it was put",
			c.key.hash, c.op)
	}
	c.payload.WriteString(m.Payload())
	c.fragments++
	c.dst = dst
	switch m := m.(type) {
	case message.StatePerflow:
		c.flow = m.Flow
	case message.StateMultiflow:
		c.flow = m.Flow
	}
}

// Payload returns the coalesced payload of the chunk.
func (c *StateChunk) Payload() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload.String()
}

// Fragments returns the number of state messages stored in the chunk.
func (c *StateChunk) Fragments() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fragments
}

// Process puts the chunk on its destination. A chunk is put at most once;
// calling Process on a chunk that is already put is a no-op.
func (c *StateChunk) Process(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.sent {
		c.mu.Unlock()
		return nil
	}
	c.sent = true
	dst := c.dst
	var put message.Msg
	if c.key.multiflow {
		put = message.PutMultiflow{
			Header:  message.Header{ID: c.op},
			HashKey: c.key.hash,
			State:   c.payload.String(),
		}
	} else {
		put = message.PutPerflow{
			Header:  message.Header{ID: c.op},
			HashKey: c.key.hash,
			State:   c.payload.String(),
		}
	}
	c.mu.Unlock()

	glog.V(3).Infof("putting chunk %v of op %v on %v", c.key.hash, c.op, dst)
	return dst.Send(put)
}

// AcknowledgePut marks the chunk as installed on the destination. It returns
// false if the chunk was already acknowledged.
func (c *StateChunk) AcknowledgePut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acked {
		return false
	}
	c.acked = true
	return true
}

// Acked returns whether the chunk is acknowledged by the destination.
func (c *StateChunk) Acked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked
}
