package tfm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/nfvproject/TFM/flow"
	"github.com/nfvproject/TFM/message"
	"github.com/nfvproject/TFM/nom"
)

// Commands of the middlebox configuration channel.
const (
	cmdMigrationStart = "write tfm.mfstart 1"
	cmdStateInstall   = "write tfm.stateinstall 1"
	cmdSrcRedirect    = "write srcredirect.pattern0 %s"
)

// MoveRequest describes which state to move between two middleboxes.
type MoveRequest struct {
	Src          *Middlebox
	Dst          *Middlebox
	Key          flow.Selector
	Scope        Scope
	Guarantee    Guarantee
	Optimization Optimization
	// InPort is the port of the source's switch on which the packets of the
	// moved flows arrive.
	InPort nom.PortID
	// RedirectPattern is the pattern installed on the source to redirect the
	// moved flows. If empty, it is derived from Key.
	RedirectPattern string
}

// Phase is the phase of a move.
type Phase int

// Phases of a move in the order they are visited.
const (
	PhaseCreated Phase = iota
	// Events are being enabled on the source before state is requested.
	PhaseBuffering
	// State is requested from the source and put on the destination.
	PhaseGettingState
	// All state is installed and the destination is being finalized.
	PhaseCuttingOver
	// Buffered events are being replayed.
	PhaseReleasingEvents
	// Waiting for the destination to confirm the ordered replay.
	PhaseAwaitingFinish
	PhaseFinished
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseCreated:         "CREATED",
	PhaseBuffering:       "BUFFERING",
	PhaseGettingState:    "GETTING_STATE",
	PhaseCuttingOver:     "CUTTING_OVER",
	PhaseReleasingEvents: "RELEASING_EVENTS",
	PhaseAwaitingFinish:  "AWAITING_FINISH",
	PhaseFinished:        "FINISHED",
	PhaseFailed:          "FAILED",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "INVALID"
	}
	return phaseNames[p]
}

// MoveSnapshot is a read-only view of a move.
type MoveSnapshot struct {
	Src          nom.MiddleboxID
	Dst          nom.MiddleboxID
	Key          flow.Selector
	Scope        Scope
	Guarantee    Guarantee
	Optimization Optimization
	Phase        string

	PerflowAcked      bool
	PerflowExpected   int
	PerflowPuts       int
	MultiflowAcked    bool
	MultiflowExpected int
	MultiflowPuts     int

	Chunks        int // Chunks is the number of distinct state records seen.
	PendingEvents int
	Replayed      int
	Packets       int
	Matched       int
	PhaseTwo      bool
	Started       time.Time
}

// moveEnv is what a move needs from its manager.
type moveEnv struct {
	network    Network
	replayer   Replayer
	clock      clock.Clock
	stats      collector
	poolSize   int
	cmdTimeout time.Duration
}

// progress tracks the state transfer of one sub-scope.
type progress struct {
	acked    bool // Whether the get request is acknowledged.
	expected int  // Number of chunks reported by the source.
	puts     int  // Number of chunks acknowledged by the destination.
}

func (p progress) done() bool {
	return p.acked && p.puts == p.expected
}

// Move moves the state of the flows selected by a key from a source to a
// destination middlebox, and replays the events the source raised in
// between on the destination.
//
// Message callbacks never block: blocking calls to the configuration
// channel and the ordered replay of events run on the control worker of the
// move, and state chunks are put on its worker pool.
type Move struct {
	*operation

	req  MoveRequest
	env  moveEnv
	pool *workerPool
	ctrl *serialWorker

	mu        sync.Mutex
	phase     Phase
	executed  bool
	closed    bool
	observed  bool
	pf, mf    progress
	chunks    map[chunkKey]*StateChunk
	held      []*StateChunk
	unheld    bool // Whether held chunks are released to the pool.
	completed bool
	events    []*ReprocessEvent
	released  bool // Whether buffered events are released.
	seq       uint64
	replayed  int
	packets   int
	matched   int
	phaseTwo  bool
	started   time.Time
	getStart  time.Time
}

func newMove(id OpID, req MoveRequest, env moveEnv, obs Observer) *Move {
	if env.clock == nil {
		env.clock = clock.WallClock
	}
	if env.stats == nil {
		env.stats = dummyCollector{}
	}
	if env.replayer == nil {
		env.replayer = ChannelReplayer{}
	}
	m := &Move{
		operation: newOperation(id, obs),
		req:       req,
		env:       env,
		pool:      newWorkerPool(env.poolSize),
		ctrl:      newSerialWorker(),
		chunks:    make(map[chunkKey]*StateChunk),
	}
	m.self = m
	m.operation.release = m.release
	return m
}

func (m *Move) String() string {
	return fmt.Sprintf("move %d %v->%v", m.id, m.req.Src, m.req.Dst)
}

// Request returns the request of the move.
func (m *Move) Request() MoveRequest {
	return m.req
}

// Phase returns the current phase of the move.
func (m *Move) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Move) validate() error {
	switch {
	case m.req.Src == nil:
		return errors.NotValidf("%v: nil source", m)
	case m.req.Dst == nil:
		return errors.NotValidf("%v: nil destination", m)
	case m.req.Src == m.req.Dst || m.req.Src.ID == m.req.Dst.ID:
		return errors.NotValidf("%v: same source and destination", m)
	case !m.req.Scope.HasPerflow() && !m.req.Scope.HasMultiflow():
		return errors.NotValidf("%v: scope %v", m, m.req.Scope)
	case m.req.Guarantee != NoGuarantee && m.req.Guarantee != OrderPreserving:
		return errors.NotValidf("%v: guarantee %v", m, m.req.Guarantee)
	case m.req.Optimization.String() == "INVALID":
		return errors.NotValidf("%v: optimization %v", m, m.req.Optimization)
	}
	return nil
}

// buffersFirst returns whether events are enabled on the source before
// state is requested.
func (m *Move) buffersFirst() bool {
	return m.req.Guarantee != NoGuarantee &&
		(m.req.Optimization == NoOptimization || m.req.Optimization == PZ)
}

// raiseEvents returns whether the source should raise events for the packets
// of the moved flows once their state is sent.
func (m *Move) raiseEvents() bool {
	return m.req.Guarantee != NoGuarantee &&
		m.req.Optimization != NoOptimization && m.req.Optimization != PZ
}

func (m *Move) redirectPattern() string {
	if m.req.RedirectPattern != "" {
		return m.req.RedirectPattern
	}
	return m.req.Key.RedirectPattern()
}

// cmdContext returns the context of blocking calls. It is cancelled when the
// move terminates.
func (m *Move) cmdContext() (context.Context, context.CancelFunc) {
	if m.env.cmdTimeout == 0 {
		return context.WithCancel(m.pool.ctx)
	}
	return context.WithTimeout(m.pool.ctx, m.env.cmdTimeout)
}

// Execute starts the move. On the buffering-first path it only enables
// events on the source; state is requested once the source acknowledges.
// Otherwise, it redirects the moved flows and requests state before
// returning.
func (m *Move) Execute() (OpID, error) {
	m.mu.Lock()
	if m.executed {
		m.mu.Unlock()
		return 0, ErrAlreadyExecuted
	}
	m.executed = true
	m.mu.Unlock()

	if err := m.validate(); err != nil {
		m.Fail(err)
		return 0, err
	}

	m.start()
	m.mu.Lock()
	m.started = m.env.clock.Now()
	m.mu.Unlock()
	m.env.stats.opStarted()
	glog.Infof("%v started: key=%v scope=%v guarantee=%v optimization=%v", m,
		m.req.Key, m.req.Scope, m.req.Guarantee, m.req.Optimization)

	if m.buffersFirst() {
		m.setPhase(PhaseBuffering)
		err := m.req.Src.Send(message.EnableEvents{
			Header: message.Header{ID: m.id},
			Key:    m.req.Key,
		})
		if err != nil {
			m.Fail(err)
			return 0, err
		}
		return m.id, nil
	}

	if err := m.ctrl.Call(m.startGet); err != nil {
		m.Fail(err)
		return 0, err
	}
	return m.id, nil
}

func (m *Move) setPhase(p Phase) {
	m.mu.Lock()
	if !m.closed {
		m.phase = p
	}
	m.mu.Unlock()
}

func (m *Move) startGet() error {
	if err := m.redirect(); err != nil {
		return err
	}
	return m.issueGet()
}

// redirect prepares the destination and steers the moved flows towards it.
func (m *Move) redirect() error {
	ctx, cancel := m.cmdContext()
	defer cancel()

	if c := m.req.Dst.Commander(); c != nil {
		if _, err := c.SendCommand(ctx, cmdMigrationStart); err != nil {
			return transportErr(err, "%v cannot start migration on %v", m,
				m.req.Dst)
		}
	}

	if p := m.redirectPattern(); p != "" {
		if c := m.req.Src.Commander(); c != nil {
			if err := c.CommitCommand(fmt.Sprintf(cmdSrcRedirect, p)); err != nil {
				return transportErr(err, "%v cannot redirect %s on %v", m, p,
					m.req.Src)
			}
		}
	}

	if m.env.network != nil {
		err := m.env.network.Reroute(ctx, m.req.Key, m.req.Src, m.req.Dst)
		if err != nil {
			return transportErr(err, "%v cannot reroute %v", m, m.req.Key)
		}
	}
	return nil
}

func (m *Move) issueGet() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrTerminated
	}
	m.phase = PhaseGettingState
	m.getStart = m.env.clock.Now()
	m.mu.Unlock()

	h := message.Header{ID: m.id}
	if m.req.Scope.HasPerflow() {
		err := m.req.Src.Send(message.GetPerflow{
			Header:      h,
			Key:         m.req.Key,
			RaiseEvents: m.raiseEvents(),
		})
		if err != nil {
			return err
		}
	}
	if m.req.Scope.HasMultiflow() {
		err := m.req.Src.Send(message.GetMultiflow{Header: h, Key: m.req.Key})
		if err != nil {
			return err
		}
	}
	glog.V(2).Infof("%v requested state from %v", m, m.req.Src)
	return nil
}

// Rcv handles the messages of the move.
func (m *Move) Rcv(msg message.Msg, from *Middlebox) {
	if m.Terminated() {
		glog.V(2).Infof("%v is terminated and drops %v from %v", m, msg.Type(),
			from)
		return
	}

	glog.V(3).Infof("%v received %v from %v", m, msg.Type(), from)
	switch msg := msg.(type) {
	case message.StatePerflow, message.StateMultiflow:
		m.rcvState(msg.(message.State))
	case message.GetPerflowAck:
		m.rcvGetAck(false, msg.Count)
	case message.GetMultiflowAck:
		m.rcvGetAck(true, msg.Count)
	case message.PutPerflowAck, message.PutMultiflowAck:
		m.rcvPutAck(msg.(message.PutAck))
	case message.EventsAck:
		m.rcvEventsAck(from)
	case message.Reprocess:
		m.rcvReprocess(msg)
	case message.MigrateFinishAck:
		m.rcvMigrateFinishAck(msg, from)
	case message.ErrorMsg:
		m.Fail(errors.WithType(
			errors.Errorf("%v reported an error: %s", from, msg.Cause),
			ErrProtocol))
	default:
		glog.V(2).Infof("%v ignores %v from %v", m, msg.Type(), from)
	}
}

func (m *Move) progress(multiflow bool) *progress {
	if multiflow {
		return &m.mf
	}
	return &m.pf
}

func (m *Move) inScope(multiflow bool) bool {
	if multiflow {
		return m.req.Scope.HasMultiflow()
	}
	return m.req.Scope.HasPerflow()
}

func (m *Move) rcvState(s message.State) {
	k := chunkKey{multiflow: s.Multiflow(), hash: s.Key()}
	if !m.inScope(k.multiflow) {
		glog.Warningf("%v received state %v out of scope %v", m, k.hash,
			m.req.Scope)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if !m.observed {
		m.observed = true
		glog.Infof("%v observed migration %v after start", m,
			m.env.clock.Now().Sub(m.started))
	}
	c, ok := m.chunks[k]
	if !ok {
		c = newStateChunk(m.id, k)
		m.chunks[k] = c
	}
	c.Store(s, m.req.Dst)
	eager := false
	if !ok {
		if m.req.Optimization.HoldsState() && !m.unheld {
			m.held = append(m.held, c)
		} else {
			eager = true
		}
	}
	m.mu.Unlock()

	if eager {
		m.pool.Submit(m.putTask(c), m.failOnErr)
	}
}

func (m *Move) putTask(c *StateChunk) task {
	return func(ctx context.Context) error {
		if err := c.Process(ctx); err != nil {
			return err
		}
		m.env.stats.chunkPut(c.Multiflow())
		return nil
	}
}

func (m *Move) failOnErr(err error) {
	if err != nil {
		m.Fail(err)
	}
}

// getAcked returns whether all get requests of the scope are acknowledged.
// m.mu must be held.
func (m *Move) getAcked() bool {
	return (!m.req.Scope.HasPerflow() || m.pf.acked) &&
		(!m.req.Scope.HasMultiflow() || m.mf.acked)
}

func (m *Move) rcvGetAck(multiflow bool, count int) {
	if !m.inScope(multiflow) {
		glog.Warningf("%v received a get ack out of scope %v", m, m.req.Scope)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	p := m.progress(multiflow)
	if p.acked {
		m.mu.Unlock()
		glog.Warningf("%v received a duplicate get ack", m)
		return
	}
	p.acked, p.expected = true, count
	glog.V(2).Infof("%v expects %d chunks (multiflow=%v)", m, count, multiflow)

	if !m.req.Optimization.HoldsState() {
		m.mu.Unlock()
		m.checkCompletion()
		return
	}

	if !m.getAcked() || m.unheld {
		m.mu.Unlock()
		return
	}
	m.unheld = true
	batch := m.held
	m.held = nil
	m.mu.Unlock()

	glog.V(2).Infof("%v releases %d held chunks", m, len(batch))
	ts := make([]task, 0, len(batch))
	for _, c := range batch {
		ts = append(ts, m.putTask(c))
	}
	m.ctrl.Do(func() {
		if err := m.pool.All(ts); err != nil {
			m.Fail(err)
			return
		}
		m.checkCompletion()
	})
}

func (m *Move) rcvPutAck(a message.PutAck) {
	k := chunkKey{multiflow: a.Multiflow(), hash: a.Key()}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	c, ok := m.chunks[k]
	if !ok {
		m.mu.Unlock()
		glog.Warningf("%v received a put ack for unknown chunk %v", m, k.hash)
		return
	}
	if !c.AcknowledgePut() {
		m.mu.Unlock()
		glog.V(2).Infof("%v ignores duplicate put ack for %v", m, k.hash)
		return
	}
	m.progress(k.multiflow).puts++
	m.mu.Unlock()

	m.env.stats.putAcked(k.multiflow)
	m.checkCompletion()
}

// complete returns whether all the state in the scope is installed on the
// destination. m.mu must be held.
func (m *Move) complete() bool {
	if !m.req.Scope.HasPerflow() && !m.req.Scope.HasMultiflow() {
		return false
	}
	if m.req.Scope.HasPerflow() && !m.pf.done() {
		return false
	}
	if m.req.Scope.HasMultiflow() && !m.mf.done() {
		return false
	}
	return true
}

// checkCompletion cuts over to the destination the first time the state
// transfer is complete.
func (m *Move) checkCompletion() {
	m.mu.Lock()
	if m.closed || m.completed || !m.complete() {
		m.mu.Unlock()
		return
	}
	m.completed = true
	m.phase = PhaseCuttingOver
	d := m.env.clock.Now().Sub(m.getStart)
	m.mu.Unlock()

	glog.Infof("%v transferred state in %v", m, d)
	m.env.stats.transferred(d)
	m.ctrl.Do(m.cutover)
}

func (m *Move) cutover() {
	ctx, cancel := m.cmdContext()
	defer cancel()

	if c := m.req.Dst.Commander(); c != nil {
		if _, err := c.SendCommand(ctx, cmdStateInstall); err != nil {
			m.Fail(transportErr(err, "%v cannot install state on %v", m,
				m.req.Dst))
			return
		}
	}
	m.releaseEvents()
}

func (m *Move) replay(ctx context.Context, ev *ReprocessEvent) error {
	if m.Terminated() {
		return ErrTerminated
	}
	if err := ev.Replay(ctx, m.env.replayer); err != nil {
		return err
	}
	m.mu.Lock()
	m.replayed++
	m.mu.Unlock()
	m.env.stats.eventReplayed()
	return nil
}

func (m *Move) releaseEvents() {
	m.setPhase(PhaseReleasingEvents)
	if m.req.Guarantee == OrderPreserving {
		m.releaseOrdered()
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	evs := m.events
	m.events = nil
	m.released = true
	m.mu.Unlock()

	glog.V(2).Infof("%v releases %d events", m, len(evs))
	ts := make([]task, 0, len(evs))
	for _, ev := range evs {
		ev := ev
		ts = append(ts, func(ctx context.Context) error {
			return m.replay(ctx, ev)
		})
	}
	if err := m.pool.All(ts); err != nil {
		m.Fail(err)
		return
	}
	// Events raised while the batch was replayed are queued on the control
	// worker ahead of this.
	m.ctrl.Do(m.Finish)
}

// releaseOrdered replays buffered events one by one in their arrival order.
func (m *Move) releaseOrdered() {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		if len(m.events) == 0 {
			m.released = true
			m.phase = PhaseAwaitingFinish
			m.mu.Unlock()
			break
		}
		ev := m.events[0]
		m.events[0] = nil
		m.events = m.events[1:]
		m.mu.Unlock()

		if err := m.replay(m.pool.ctx, ev); err != nil {
			m.Fail(err)
			return
		}
	}

	err := m.req.Dst.Send(message.MigrateFinish{
		Header: message.Header{ID: m.id},
	})
	if err != nil {
		m.Fail(err)
	}
}

func (m *Move) rcvReprocess(r message.Reprocess) {
	ev := &ReprocessEvent{
		Op:     m.id,
		Key:    r.HashKey,
		Packet: r.Packet,
		Target: m.req.Dst,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.seq++
	ev.Seq = m.seq
	if !m.released {
		m.events = append(m.events, ev)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	glog.V(2).Infof("%v replays late event %d", m, ev.Seq)
	m.ctrl.Do(func() {
		if err := m.replay(m.pool.ctx, ev); err != nil {
			m.Fail(err)
		}
	})
}

func (m *Move) rcvEventsAck(from *Middlebox) {
	m.mu.Lock()
	switch {
	case m.phase == PhaseBuffering && from == m.req.Src:
		m.phase = PhaseGettingState
		m.mu.Unlock()
		glog.V(2).Infof("%v: events are enabled on %v", m, from)
		m.ctrl.Do(func() {
			if err := m.startGet(); err != nil {
				m.Fail(err)
			}
		})

	case m.phase == PhaseAwaitingFinish && from == m.req.Dst &&
		m.buffersFirst():
		m.mu.Unlock()
		m.Finish()

	default:
		phase := m.phase
		m.mu.Unlock()
		glog.V(2).Infof("%v ignores events ack from %v in %v", m, from, phase)
	}
}

func (m *Move) rcvMigrateFinishAck(a message.MigrateFinishAck, from *Middlebox) {
	if m.Phase() != PhaseAwaitingFinish {
		glog.Warningf("%v received an unexpected migrate finish ack from %v", m,
			from)
		return
	}
	glog.V(2).Infof("%v: %v drained %d events", m, from, a.Count)
	m.Finish()
}

// RcvPacket counts the packets of the moved flows that arrive on the source's
// switch port after the state is requested.
func (m *Move) RcvPacket(pkt Packet) {
	m.mu.Lock()
	observing := !m.closed && m.phase >= PhaseGettingState
	m.mu.Unlock()
	if !observing {
		return
	}
	if pkt.In.Node != m.req.Src.Port.Node || pkt.In.ID != m.req.InPort {
		return
	}

	matched := false
	if h, err := flow.Parse(pkt.Data); err == nil {
		matched = m.req.Key.Matches(h)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.packets++
	if matched {
		m.matched++
	}
	first := !m.phaseTwo
	m.phaseTwo = true
	m.mu.Unlock()

	m.env.stats.packetObserved(matched)
	if first {
		glog.Infof("%v entered phase two on %v", m, pkt.In.UID())
	}
}

// release is called once when the move terminates. It cancels running tasks
// and discards pending chunks and events.
func (m *Move) release(s Status) {
	m.pool.Close()
	m.ctrl.Stop()

	m.mu.Lock()
	m.closed = true
	if s == Finished {
		m.phase = PhaseFinished
	} else {
		m.phase = PhaseFailed
	}
	held, events := len(m.held), len(m.events)
	m.held = nil
	m.events = nil
	started := !m.started.IsZero()
	var d time.Duration
	if started {
		d = m.env.clock.Now().Sub(m.started)
	}
	m.mu.Unlock()

	m.env.stats.opTerminated(s, started, d)
	if s == Finished {
		glog.Infof("%v finished in %v", m, d)
		return
	}
	glog.Errorf("%v failed after %v (discarded %d chunks and %d events): %v",
		m, d, held, events, m.Err())
}

func middleboxID(mb *Middlebox) nom.MiddleboxID {
	if mb == nil {
		return ""
	}
	return mb.ID
}

// Snapshot returns the current state of the move.
func (m *Move) Snapshot() Snapshot {
	m.mu.Lock()
	ms := &MoveSnapshot{
		Src:               middleboxID(m.req.Src),
		Dst:               middleboxID(m.req.Dst),
		Key:               m.req.Key,
		Scope:             m.req.Scope,
		Guarantee:         m.req.Guarantee,
		Optimization:      m.req.Optimization,
		Phase:             m.phase.String(),
		PerflowAcked:      m.pf.acked,
		PerflowExpected:   m.pf.expected,
		PerflowPuts:       m.pf.puts,
		MultiflowAcked:    m.mf.acked,
		MultiflowExpected: m.mf.expected,
		MultiflowPuts:     m.mf.puts,
		Chunks:            len(m.chunks),
		PendingEvents:     len(m.events),
		Replayed:          m.replayed,
		Packets:           m.packets,
		Matched:           m.matched,
		PhaseTwo:          m.phaseTwo,
		Started:           m.started,
	}
	m.mu.Unlock()

	s := Snapshot{
		ID:     m.id,
		Kind:   "move",
		Status: m.Status().String(),
		Move:   ms,
	}
	if err := m.Err(); err != nil {
		s.Cause = err.Error()
	}
	return s
}
