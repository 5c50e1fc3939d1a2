package tfm

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/soheilhy/args"

	"github.com/nfvproject/TFM/bucket"
	"github.com/nfvproject/TFM/message"
	"github.com/nfvproject/TFM/nom"
)

var (
	poolSize = args.NewInt(args.Flag("tfm.poolsize", 8,
		"maximum number of concurrent tasks of each operation (0 is unbounded)"))
	cmdTimeout = args.NewDuration(args.Flag("tfm.cmdtimeout", 10*time.Second,
		"timeout of commands on middlebox configuration channels"))
	retainFor = args.NewDuration(args.Flag("tfm.retain", 10*time.Minute,
		"how long terminated operations are kept for queries"))
	instrument = args.NewBool(args.Flag("tfm.instrument", false,
		"whether to export metrics of operations"))
	replayRate = args.NewUint64(args.Flag("tfm.replayrate", uint64(0),
		"maximum number of events replayed per second (0 is unlimited)"))
	registry = args.New()
	network  = args.New()
	replayer = args.New()
	clk      = args.New()
)

// Option represents a manager option.
type Option args.V

// PoolSize is an option representing the maximum number of concurrent tasks
// of each operation. 0 means unbounded.
func PoolSize(n int) Option { return Option(poolSize(n)) }

// CmdTimeout is an option representing the timeout of blocking commands sent
// to middlebox configuration channels. 0 means no timeout.
func CmdTimeout(d time.Duration) Option { return Option(cmdTimeout(d)) }

// RetainFor is an option representing how long terminated operations can be
// queried.
func RetainFor(d time.Duration) Option { return Option(retainFor(d)) }

// Instrument is an option representing whether the manager exports metrics.
func Instrument(i bool) Option { return Option(instrument(i)) }

// ReplayRate is an option representing the maximum number of events the
// manager replays per second. 0 means unlimited.
func ReplayRate(r uint64) Option { return Option(replayRate(r)) }

// Registry is an option representing the prometheus registerer of the
// metrics. It is used only if instrumented. The default registerer is used
// if not set.
func Registry(r prometheus.Registerer) Option { return Option(registry(r)) }

// WithNetwork is an option representing the forwarding plane used to reroute
// flows. Flows are not rerouted if not set.
func WithNetwork(n Network) Option { return Option(network(n)) }

// WithReplayer is an option representing how buffered events are replayed.
// Events are sent back over the state channel of the destination if not set.
func WithReplayer(r Replayer) Option { return Option(replayer(r)) }

// WithClock is an option representing the clock of the manager.
func WithClock(c clock.Clock) Option { return Option(clk(c)) }

// Manager creates operations, assigns their IDs, and routes messages and
// packets to them.
type Manager struct {
	env    moveEnv
	lastID atomic.Int64

	mu      sync.Mutex
	stopped bool
	ops     map[OpID]Operation
	flows   map[flowClaim]OpID
	claims  map[OpID]flowClaim
	mbs     map[nom.MiddleboxID]*Middlebox
	history *ttlcache.Cache[OpID, Snapshot]
}

// flowClaim identifies the flows of a source that a running move owns.
type flowClaim struct {
	src  nom.MiddleboxID
	hash uint64
}

// NewManager creates a manager with the given options.
func NewManager(opts ...Option) *Manager {
	env := moveEnv{
		poolSize:   poolSize.Get(opts),
		cmdTimeout: cmdTimeout.Get(opts),
		clock:      clock.WallClock,
		stats:      dummyCollector{},
		replayer:   ChannelReplayer{},
	}
	if n, ok := network.Get(opts).(Network); ok {
		env.network = n
	}
	if r, ok := replayer.Get(opts).(Replayer); ok {
		env.replayer = r
	}
	if c, ok := clk.Get(opts).(clock.Clock); ok {
		env.clock = c
	}
	if r := replayRate.Get(opts); r != 0 {
		env.replayer = PacedReplayer{
			Replayer: env.replayer,
			Bucket:   bucket.New(bucket.Rate(r), r, env.clock),
		}
	}
	if instrument.Get(opts) {
		reg, ok := registry.Get(opts).(prometheus.Registerer)
		if !ok {
			reg = prometheus.DefaultRegisterer
		}
		env.stats = newPromCollector(reg)
	}

	m := &Manager{
		env:    env,
		ops:    make(map[OpID]Operation),
		flows:  make(map[flowClaim]OpID),
		claims: make(map[OpID]flowClaim),
		mbs:    make(map[nom.MiddleboxID]*Middlebox),
		history: ttlcache.New(
			ttlcache.WithTTL[OpID, Snapshot](retainFor.Get(opts)),
		),
	}
	m.history.OnEviction(func(ctx context.Context,
		reason ttlcache.EvictionReason, item *ttlcache.Item[OpID, Snapshot]) {

		glog.V(2).Infof("operation %v is evicted from history", item.Key())
	})
	go m.history.Start()
	return m
}

// AddMiddlebox adds a middlebox that can be used in operations.
func (m *Manager) AddMiddlebox(mb *Middlebox) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.mbs[mb.ID]; ok {
		return errors.AlreadyExistsf("middlebox %v", mb.ID)
	}
	m.mbs[mb.ID] = mb
	glog.V(1).Infof("middlebox %v added", mb.UID())
	return nil
}

// Middlebox returns the middlebox with the given ID.
func (m *Manager) Middlebox(id nom.MiddleboxID) (*Middlebox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mb, ok := m.mbs[id]
	if !ok {
		return nil, errors.NotFoundf("middlebox %v", id)
	}
	return mb, nil
}

// Middleboxes returns all middleboxes sorted by their ID.
func (m *Manager) Middleboxes() []*Middlebox {
	m.mu.Lock()
	mbs := make([]*Middlebox, 0, len(m.mbs))
	for _, mb := range m.mbs {
		mbs = append(mbs, mb)
	}
	m.mu.Unlock()

	sort.Slice(mbs, func(i, j int) bool { return mbs[i].ID < mbs[j].ID })
	return mbs
}

// Move creates and executes a move. It returns the ID of the move if the
// move is successfully initiated. A source cannot move the same flows twice
// at the same time.
func (m *Manager) Move(req MoveRequest) (OpID, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return 0, ErrManagerStopped
	}
	id := OpID(m.lastID.Add(1))
	if req.Src != nil {
		c := flowClaim{src: req.Src.ID, hash: req.Key.Hash()}
		if other, ok := m.flows[c]; ok {
			m.mu.Unlock()
			return 0, errors.AlreadyExistsf("move of %v from %v in operation %v",
				req.Key, req.Src, other)
		}
		m.flows[c] = id
		m.claims[id] = c
	}
	mv := newMove(id, req, m.env, m)
	m.ops[id] = mv
	m.mu.Unlock()

	if _, err := mv.Execute(); err != nil {
		return 0, err
	}
	return id, nil
}

// Operation returns the running operation with the given ID.
func (m *Manager) Operation(id OpID) (Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[id]
	if !ok {
		return nil, errors.NotFoundf("operation %v", id)
	}
	return op, nil
}

// Snapshot returns the snapshot of the operation with the given ID. The
// operation can be running or recently terminated.
func (m *Manager) Snapshot(id OpID) (Snapshot, error) {
	if op, err := m.Operation(id); err == nil {
		return op.Snapshot(), nil
	}
	if item := m.history.Get(id); item != nil {
		return item.Value(), nil
	}
	return Snapshot{}, errors.NotFoundf("operation %v", id)
}

// Snapshots returns the snapshots of running and recently terminated
// operations sorted by ID.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	ops := make([]Operation, 0, len(m.ops))
	for _, op := range m.ops {
		ops = append(ops, op)
	}
	m.mu.Unlock()

	seen := make(map[OpID]bool)
	snaps := make([]Snapshot, 0, len(ops))
	for _, op := range ops {
		seen[op.ID()] = true
		snaps = append(snaps, op.Snapshot())
	}
	for id, item := range m.history.Items() {
		if !seen[id] {
			snaps = append(snaps, item.Value())
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}

// Dispatch routes msg received from a middlebox to its operation.
func (m *Manager) Dispatch(msg message.Msg, from *Middlebox) error {
	op, err := m.Operation(msg.Op())
	if err != nil {
		glog.Warningf("dropped %v from %v: %v", msg.Type(), from, err)
		return err
	}
	op.Rcv(msg, from)
	return nil
}

// DispatchEnvelope constructs the message of e and routes it to its
// operation. Envelopes that cannot be constructed are logged and dropped.
func (m *Manager) DispatchEnvelope(e message.Envelope, from *Middlebox) error {
	msg, err := message.Decode(e)
	if err != nil {
		glog.Errorf("dropped a malformed message from %v: %v", from, err)
		return err
	}
	return m.Dispatch(msg, from)
}

// DispatchPacket delivers pkt to all running operations.
func (m *Manager) DispatchPacket(pkt Packet) {
	m.mu.Lock()
	ops := make([]Operation, 0, len(m.ops))
	for _, op := range m.ops {
		ops = append(ops, op)
	}
	m.mu.Unlock()

	for _, op := range ops {
		op.RcvPacket(pkt)
	}
}

// Terminated implements Observer. Terminated operations are kept in the
// history of the manager.
func (m *Manager) Terminated(op Operation) {
	m.mu.Lock()
	delete(m.ops, op.ID())
	if c, ok := m.claims[op.ID()]; ok {
		delete(m.claims, op.ID())
		delete(m.flows, c)
	}
	m.mu.Unlock()

	m.history.Set(op.ID(), op.Snapshot(), ttlcache.DefaultTTL)
	glog.V(1).Infof("operation %v terminated: %v", op.ID(), op.Status())
}

// Stop fails all running operations and stops the manager.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	ops := make([]Operation, 0, len(m.ops))
	for _, op := range m.ops {
		ops = append(ops, op)
	}
	m.mu.Unlock()

	for _, op := range ops {
		op.Fail(ErrManagerStopped)
	}
	m.history.Stop()
	glog.Info("manager stopped")
}
