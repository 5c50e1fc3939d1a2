package tfm

import (
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/nfvproject/TFM/message"
	"github.com/nfvproject/TFM/nom"
)

// Middlebox is a middlebox known to the controller along with the channels to
// reach it.
type Middlebox struct {
	nom.Middlebox

	mu  sync.RWMutex
	ch  StateChannel
	cfg Commander
}

// NewMiddlebox creates a middlebox whose configuration channel is cfg. The
// state channel is attached when the middlebox connects.
func NewMiddlebox(desc nom.Middlebox, cfg Commander) *Middlebox {
	return &Middlebox{Middlebox: desc, cfg: cfg}
}

func (m *Middlebox) String() string {
	if m == nil {
		return "<nil>"
	}
	return string(m.ID)
}

// Attach attaches the state channel of the middlebox. A nil channel detaches
// the current one.
func (m *Middlebox) Attach(ch StateChannel) {
	m.mu.Lock()
	m.ch = ch
	m.mu.Unlock()
}

// detach detaches ch if it is the current state channel.
func (m *Middlebox) detach(ch StateChannel) {
	m.mu.Lock()
	if m.ch == ch {
		m.ch = nil
		glog.Infof("%v disconnected", m)
	}
	m.mu.Unlock()
}

// Connected returns whether a state channel is attached.
func (m *Middlebox) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ch != nil
}

// Send sends msg on the state channel of the middlebox.
func (m *Middlebox) Send(msg message.Msg) error {
	m.mu.RLock()
	ch := m.ch
	m.mu.RUnlock()

	if ch == nil {
		return errors.WithType(errors.Errorf("%v is not connected", m),
			ErrTransport)
	}
	if err := ch.Send(msg); err != nil {
		return transportErr(err, "cannot send %v to %v", msg.Type(), m)
	}
	return nil
}

// Commander returns the configuration channel of the middlebox.
func (m *Middlebox) Commander() Commander {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}
