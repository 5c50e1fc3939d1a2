package tfm

import (
	"runtime"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nfvproject/TFM/message"
	"github.com/nfvproject/TFM/nom"
)

type managerFixture struct {
	mgr          *Manager
	reg          *prometheus.Registry
	src, dst     *Middlebox
	srcCh, dstCh *MockChannel
	dstCmd       *MockCommander
}

func newManagerFixture(t *testing.T, opts ...Option) *managerFixture {
	f := &managerFixture{reg: prometheus.NewRegistry()}
	opts = append([]Option{
		Instrument(true),
		Registry(f.reg),
		WithClock(testclock.NewClock(time.Unix(1000, 0))),
	}, opts...)
	f.mgr = NewManager(opts...)
	f.src, f.srcCh, _ = testMiddlebox("ids1", 1)
	f.dst, f.dstCh, f.dstCmd = testMiddlebox("ids2", 2)
	for _, mb := range []*Middlebox{f.src, f.dst} {
		if err := f.mgr.AddMiddlebox(mb); err != nil {
			t.Fatalf("cannot add middlebox %v: %v", mb, err)
		}
	}
	return f
}

func (f *managerFixture) request() MoveRequest {
	return MoveRequest{
		Src:          f.src,
		Dst:          f.dst,
		Key:          testKey,
		Scope:        Perflow,
		Guarantee:    NoGuarantee,
		Optimization: NoOptimization,
		InPort:       1,
	}
}

func (f *managerFixture) stats() *promCollector {
	return f.mgr.env.stats.(*promCollector)
}

func waitSnapshot(t *testing.T, mgr *Manager, id OpID, status Status) Snapshot {
	t.Helper()
	var s Snapshot
	waitFor(t, "operation "+status.String(), func() bool {
		var err error
		s, err = mgr.Snapshot(id)
		return err == nil && s.Status == status.String()
	})
	return s
}

func TestManagerMiddleboxes(t *testing.T) {
	f := newManagerFixture(t)
	defer f.mgr.Stop()

	dup, _, _ := testMiddlebox("ids1", 3)
	if err := f.mgr.AddMiddlebox(dup); !errors.Is(err, errors.AlreadyExists) {
		t.Errorf("invalid error for a duplicate middlebox: %v", err)
	}
	if _, err := f.mgr.Middlebox("ids3"); !errors.Is(err, errors.NotFound) {
		t.Errorf("invalid error for a missing middlebox: %v", err)
	}

	var ids []nom.MiddleboxID
	for _, mb := range f.mgr.Middleboxes() {
		ids = append(ids, mb.ID)
	}
	if len(ids) != 2 || ids[0] != "ids1" || ids[1] != "ids2" {
		t.Errorf("invalid middleboxes: %v", ids)
	}
}

func TestManagerMove(t *testing.T) {
	f := newManagerFixture(t)
	defer f.mgr.Stop()

	id, err := f.mgr.Move(f.request())
	if err != nil {
		t.Fatalf("cannot move: %v", err)
	}
	if id != 1 {
		t.Errorf("invalid id: actual=%v want=1", id)
	}
	if _, err := f.mgr.Operation(id); err != nil {
		t.Fatalf("move is not registered: %v", err)
	}

	h := message.Header{ID: id}
	f.mgr.Dispatch(message.StatePerflow{Header: h, HashKey: 1, State: "s"}, f.src)
	f.mgr.DispatchPacket(Packet{
		Data: testFrame(t, "10.10.10.10", 80),
		In:   nom.Port{ID: 1, Node: f.src.Port.Node},
	})
	count := 1
	err = f.mgr.DispatchEnvelope(message.Envelope{
		ID:    id,
		Type:  message.TypeGetPerflowAck,
		Count: &count,
	}, f.src)
	if err != nil {
		t.Fatalf("cannot dispatch envelope: %v", err)
	}
	waitFor(t, "put", func() bool {
		return f.dstCh.Count(message.TypePutPerflow) == 1
	})
	f.mgr.Dispatch(message.PutPerflowAck{Header: h, HashKey: 1}, f.dst)

	s := waitSnapshot(t, f.mgr, id, Finished)
	waitFor(t, "removal", func() bool {
		_, err := f.mgr.Operation(id)
		return err != nil
	})
	if s.Move == nil || s.Move.Phase != "FINISHED" || s.Move.PerflowPuts != 1 ||
		s.Move.Matched != 1 {
		t.Errorf("invalid snapshot: %+v", s.Move)
	}

	if err := f.mgr.Dispatch(message.PutPerflowAck{Header: h, HashKey: 1},
		f.dst); !errors.Is(err, errors.NotFound) {
		t.Errorf("message is dispatched to a terminated move: %v", err)
	}

	c := f.stats()
	if v := testutil.ToFloat64(c.started); v != 1 {
		t.Errorf("invalid started moves: %v", v)
	}
	if v := testutil.ToFloat64(c.ops.WithLabelValues("FINISHED")); v != 1 {
		t.Errorf("invalid finished moves: %v", v)
	}
	if v := testutil.ToFloat64(c.running); v != 0 {
		t.Errorf("invalid running moves: %v", v)
	}
	if v := testutil.ToFloat64(c.puts.WithLabelValues("perflow")); v != 1 {
		t.Errorf("invalid puts: %v", v)
	}
	if v := testutil.ToFloat64(c.putAcks.WithLabelValues("perflow")); v != 1 {
		t.Errorf("invalid put acks: %v", v)
	}
	if v := testutil.ToFloat64(c.packets.WithLabelValues("true")); v != 1 {
		t.Errorf("invalid observed packets: %v", v)
	}
}

func TestManagerDispatchErrors(t *testing.T) {
	f := newManagerFixture(t)
	defer f.mgr.Stop()

	err := f.mgr.Dispatch(message.GetPerflowAck{Header: message.Header{ID: 42}},
		f.src)
	if !errors.Is(err, errors.NotFound) {
		t.Errorf("invalid error for an unknown operation: %v", err)
	}

	err = f.mgr.DispatchEnvelope(message.Envelope{
		ID:   1,
		Type: message.TypeGetPerflowAck,
	}, f.src)
	if err == nil {
		t.Error("malformed envelope is dispatched")
	}
}

func TestManagerInvalidMove(t *testing.T) {
	f := newManagerFixture(t)
	defer f.mgr.Stop()

	req := f.request()
	req.Scope = ScopeInvalid
	if _, err := f.mgr.Move(req); !IsConfigError(err) {
		t.Fatalf("invalid error: %v", err)
	}

	s := waitSnapshot(t, f.mgr, 1, Failed)
	if s.Cause == "" {
		t.Errorf("no cause in snapshot: %+v", s)
	}
	if len(f.srcCh.Sent()) != 0 {
		t.Errorf("messages sent for an invalid move: %v", f.srcCh.Sent())
	}

	c := f.stats()
	if v := testutil.ToFloat64(c.ops.WithLabelValues("FAILED")); v != 1 {
		t.Errorf("invalid failed moves: %v", v)
	}
	if v := testutil.ToFloat64(c.started); v != 0 {
		t.Errorf("invalid move is counted as started: %v", v)
	}
}

func TestManagerSnapshots(t *testing.T) {
	f := newManagerFixture(t)
	defer f.mgr.Stop()

	req := f.request()
	req.Scope = ScopeInvalid
	f.mgr.Move(req)
	waitSnapshot(t, f.mgr, 1, Failed)

	if _, err := f.mgr.Move(f.request()); err != nil {
		t.Fatalf("cannot move: %v", err)
	}

	snaps := f.mgr.Snapshots()
	if len(snaps) != 2 || snaps[0].ID != 1 || snaps[1].ID != 2 {
		t.Fatalf("invalid snapshots: %+v", snaps)
	}
	if snaps[0].Status != "FAILED" || snaps[1].Status != "RUNNING" {
		t.Errorf("invalid statuses: %v %v", snaps[0].Status, snaps[1].Status)
	}
	if _, err := f.mgr.Snapshot(3); !errors.Is(err, errors.NotFound) {
		t.Errorf("invalid error for an unknown operation: %v", err)
	}
}

func TestManagerStop(t *testing.T) {
	f := newManagerFixture(t)

	id, err := f.mgr.Move(f.request())
	if err != nil {
		t.Fatalf("cannot move: %v", err)
	}
	op, err := f.mgr.Operation(id)
	if err != nil {
		t.Fatalf("move is not registered: %v", err)
	}

	f.mgr.Stop()
	waitDone(t, op)
	if op.Status() != Failed || op.Err() != ErrManagerStopped {
		t.Errorf("move is not failed on stop: %v %v", op.Status(), op.Err())
	}
	if _, err := f.mgr.Move(f.request()); err != ErrManagerStopped {
		t.Errorf("invalid error on a stopped manager: %v", err)
	}
	f.mgr.Stop()
}

func TestManagerRetention(t *testing.T) {
	f := newManagerFixture(t, RetainFor(10*time.Millisecond))
	defer f.mgr.Stop()

	req := f.request()
	req.Dst = f.src
	f.mgr.Move(req)
	waitFor(t, "eviction", func() bool {
		_, err := f.mgr.Snapshot(1)
		return errors.Is(err, errors.NotFound)
	})
}

func TestManagerReplayRate(t *testing.T) {
	mgr := NewManager(ReplayRate(100), WithReplayer(&MockReplayer{}))
	defer mgr.Stop()

	r, ok := mgr.env.replayer.(PacedReplayer)
	if !ok {
		t.Fatalf("replayer is not paced: %T", mgr.env.replayer)
	}
	if _, ok := r.Replayer.(*MockReplayer); !ok || r.Bucket.Unlimited() {
		t.Errorf("invalid paced replayer: %#v", r)
	}
}

func TestManagerMoveAfterStop(t *testing.T) {
	mgr := NewManager()
	mgr.Stop()

	before := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		if _, err := mgr.Move(MoveRequest{}); err != ErrManagerStopped {
			t.Fatalf("invalid error on a stopped manager: %v", err)
		}
	}
	if after := runtime.NumGoroutine(); after > before {
		t.Errorf("rejected moves leaked goroutines: before=%d after=%d", before,
			after)
	}
	if s := mgr.Snapshots(); len(s) != 0 {
		t.Errorf("rejected moves are recorded: %+v", s)
	}
}

func TestManagerConcurrentMoveOfSameFlows(t *testing.T) {
	f := newManagerFixture(t)
	defer f.mgr.Stop()

	id, err := f.mgr.Move(f.request())
	if err != nil {
		t.Fatalf("cannot move: %v", err)
	}
	if _, err := f.mgr.Move(f.request()); !errors.Is(err, errors.AlreadyExists) {
		t.Errorf("invalid error for moving the same flows twice: %v", err)
	}

	rev := f.request()
	rev.Src, rev.Dst = f.dst, f.src
	if _, err := f.mgr.Move(rev); err != nil {
		t.Errorf("cannot move the same flows from another source: %v", err)
	}

	op, err := f.mgr.Operation(id)
	if err != nil {
		t.Fatalf("move is not registered: %v", err)
	}
	op.Fail(errTest)
	if _, err := f.mgr.Move(f.request()); err != nil {
		t.Errorf("cannot move flows released by a failed move: %v", err)
	}
}
