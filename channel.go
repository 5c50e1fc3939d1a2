package tfm

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/nfvproject/TFM/message"
	"github.com/nfvproject/TFM/nom"
)

// stateConn is the state channel of a connected middlebox. Messages are JSON
// envelopes separated by newlines.
type stateConn struct {
	conn net.Conn
	mgr  *Manager
	mb   *Middlebox

	wmu sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
	dec *json.Decoder
}

func newStateConn(conn net.Conn, mgr *Manager) *stateConn {
	w := bufio.NewWriter(conn)
	return &stateConn{
		conn: conn,
		mgr:  mgr,
		w:    w,
		enc:  json.NewEncoder(w),
		dec:  json.NewDecoder(bufio.NewReader(conn)),
	}
}

func (c *stateConn) String() string {
	if c.mb == nil {
		return "state channel " + c.conn.RemoteAddr().String()
	}
	return "state channel of " + string(c.mb.ID)
}

// Send implements StateChannel.
func (c *stateConn) Send(m message.Msg) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.enc.Encode(message.Encode(m)); err != nil {
		return err
	}
	return c.w.Flush()
}

// handshake waits for the syn message of the middlebox and attaches the
// connection to it.
func (c *stateConn) handshake() error {
	var e message.Envelope
	if err := c.dec.Decode(&e); err != nil {
		return errors.Annotate(err, "cannot read syn")
	}
	msg, err := message.Decode(e)
	if err != nil {
		return err
	}
	syn, ok := msg.(message.Syn)
	if !ok {
		return errors.NotValidf("%v as the first message", msg.Type())
	}
	mb, err := c.mgr.Middlebox(nom.MiddleboxID(syn.Host))
	if err != nil {
		return err
	}

	c.mb = mb
	mb.Attach(c)
	glog.Infof("%v connected from %v (pid %d)", mb, c.conn.RemoteAddr(),
		syn.Pid)
	return nil
}

func (c *stateConn) reader() {
	defer c.close()

	for {
		var e message.Envelope
		if err := c.dec.Decode(&e); err != nil {
			if _, ok := err.(*json.SyntaxError); ok {
				glog.Errorf("%v sent invalid json: %v", c, err)
			} else {
				glog.V(1).Infof("%v closed: %v", c, err)
			}
			return
		}
		c.mgr.DispatchEnvelope(e, c.mb)
	}
}

func (c *stateConn) close() {
	if c.mb != nil {
		c.mb.detach(c)
	}
	c.conn.Close()
}

// serveStateChannels accepts middlebox state channels on l until l is
// closed.
func serveStateChannels(l net.Listener, mgr *Manager) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go startStateConn(conn, mgr)
	}
}

func startStateConn(conn net.Conn, mgr *Manager) {
	c := newStateConn(conn, mgr)
	if err := c.handshake(); err != nil {
		glog.Errorf("error in handshake of %v: %v", c, err)
		c.Send(message.ErrorMsg{Cause: err.Error()})
		c.close()
		return
	}
	c.reader()
}
