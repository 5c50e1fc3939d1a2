package tfm

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nfvproject/TFM/message"
	"github.com/nfvproject/TFM/nom"
)

type testClient struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

func dialTestClient(t *testing.T, addr, host string) *testClient {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("cannot dial %v: %v", addr, err)
	}
	c := &testClient{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}
	c.send(t, message.Syn{Host: host, Pid: 1})
	return c
}

func (c *testClient) send(t *testing.T, m message.Msg) {
	if err := c.enc.Encode(message.Encode(m)); err != nil {
		t.Fatalf("cannot send %v: %v", m.Type(), err)
	}
}

func (c *testClient) recv(t *testing.T) message.Msg {
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var e message.Envelope
	if err := c.dec.Decode(&e); err != nil {
		t.Fatalf("cannot receive: %v", err)
	}
	m, err := message.Decode(e)
	if err != nil {
		t.Fatalf("invalid message %+v: %v", e, err)
	}
	return m
}

func (c *testClient) close() {
	c.conn.Close()
}

func startTestServer(t *testing.T) (*Server, *Manager, string) {
	mgr := NewManager()
	for i, id := range []nom.MiddleboxID{"ids1", "ids2"} {
		port := nom.PortID(i + 1)
		mb := NewMiddlebox(nom.Middlebox{
			ID:   id,
			Port: nom.Port{ID: port, Node: nom.NodeIDFromDatapath(uint64(port))},
		}, &MockCommander{})
		if err := mgr.AddMiddlebox(mb); err != nil {
			t.Fatalf("cannot add middlebox: %v", err)
		}
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot listen: %v", err)
	}
	srv := NewServer(mgr, nil)
	go srv.Serve(l)
	return srv, mgr, l.Addr().String()
}

func TestStateChannelHandshake(t *testing.T) {
	srv, mgr, addr := startTestServer(t)
	defer srv.Stop()
	defer mgr.Stop()

	mb, _ := mgr.Middlebox("ids1")
	c := dialTestClient(t, addr, "ids1")
	waitFor(t, "connection", mb.Connected)

	c.close()
	waitFor(t, "disconnection", func() bool { return !mb.Connected() })
}

func TestStateChannelUnknownHost(t *testing.T) {
	srv, mgr, addr := startTestServer(t)
	defer srv.Stop()
	defer mgr.Stop()

	c := dialTestClient(t, addr, "ids9")
	defer c.close()
	m, ok := c.recv(t).(message.ErrorMsg)
	if !ok || !strings.Contains(m.Cause, "ids9") {
		t.Errorf("invalid handshake error: %#v", m)
	}
}

func TestStateChannelMove(t *testing.T) {
	srv, mgr, addr := startTestServer(t)
	defer srv.Stop()
	defer mgr.Stop()

	src := dialTestClient(t, addr, "ids1")
	defer src.close()
	dst := dialTestClient(t, addr, "ids2")
	defer dst.close()
	for _, id := range []nom.MiddleboxID{"ids1", "ids2"} {
		mb, _ := mgr.Middlebox(id)
		waitFor(t, "connection", mb.Connected)
	}

	url := fmt.Sprintf("http://%s%s", addr, serverV1MovesPath)
	res, err := http.Post(url, "application/json", strings.NewReader(testMoveSpec))
	if err != nil {
		t.Fatalf("cannot post move: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("cannot create move: %d %s", res.StatusCode, body)
	}

	get, ok := src.recv(t).(message.GetPerflow)
	if !ok || get.Key != testKey {
		t.Fatalf("invalid get request: %#v", get)
	}
	h := message.Header{ID: get.Op()}
	src.send(t, message.StatePerflow{Header: h, HashKey: 5, State: "conn"})
	src.send(t, message.GetPerflowAck{Header: h, Count: 1})

	put, ok := dst.recv(t).(message.PutPerflow)
	if !ok || put.HashKey != 5 || put.State != "conn" {
		t.Fatalf("invalid put request: %#v", put)
	}
	dst.send(t, message.PutPerflowAck{Header: h, HashKey: 5})

	waitSnapshot(t, mgr, get.Op(), Finished)

	res, err = http.Get(fmt.Sprintf("http://%s/api/v1/moves/%d", addr, get.Op()))
	if err != nil {
		t.Fatalf("cannot get move: %v", err)
	}
	defer res.Body.Close()
	var s Snapshot
	if err := json.NewDecoder(res.Body).Decode(&s); err != nil {
		t.Fatalf("invalid snapshot: %v", err)
	}
	if s.Status != "FINISHED" {
		t.Errorf("invalid status: %v", s.Status)
	}
}

func TestServerStop(t *testing.T) {
	mgr := NewManager()
	defer mgr.Stop()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot listen: %v", err)
	}
	srv := NewServer(mgr, nil)
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()

	waitFor(t, "listener", func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.l != nil
	})
	srv.Stop()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("server returned an error on stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server is not stopped")
	}
}
