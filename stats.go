package tfm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// collector collects the statistics of operations.
type collector interface {
	opStarted()
	opTerminated(s Status, started bool, d time.Duration)
	transferred(d time.Duration)
	chunkPut(multiflow bool)
	putAcked(multiflow bool)
	eventReplayed()
	packetObserved(matched bool)
}

type dummyCollector struct{}

func (dummyCollector) opStarted()                                           {}
func (dummyCollector) opTerminated(s Status, started bool, d time.Duration) {}
func (dummyCollector) transferred(d time.Duration)                          {}
func (dummyCollector) chunkPut(multiflow bool)                              {}
func (dummyCollector) putAcked(multiflow bool)                              {}
func (dummyCollector) eventReplayed()                                       {}
func (dummyCollector) packetObserved(matched bool)                          {}

const metricsNamespace = "tfm"

func scopeLabel(multiflow bool) string {
	if multiflow {
		return "multiflow"
	}
	return "perflow"
}

// promCollector exports the statistics as prometheus metrics.
type promCollector struct {
	started  prometheus.Counter
	ops      *prometheus.CounterVec
	running  prometheus.Gauge
	moveTime prometheus.Histogram
	xferTime prometheus.Histogram
	puts     *prometheus.CounterVec
	putAcks  *prometheus.CounterVec
	replayed prometheus.Counter
	packets  *prometheus.CounterVec
}

func newPromCollector(reg prometheus.Registerer) *promCollector {
	c := &promCollector{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "moves_started_total",
			Help:      "Number of moves executed.",
		}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "moves_terminated_total",
			Help:      "Number of terminated moves by status.",
		}, []string{"status"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "moves_running",
			Help:      "Number of moves in progress.",
		}),
		moveTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "move_duration_seconds",
			Help:      "Time from the start to the termination of moves.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		xferTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "state_transfer_duration_seconds",
			Help:      "Time from requesting state to its installation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "chunks_put_total",
			Help:      "Number of state chunks put on destinations.",
		}, []string{"scope"}),
		putAcks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "put_acks_total",
			Help:      "Number of state chunks acknowledged by destinations.",
		}, []string{"scope"}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_replayed_total",
			Help:      "Number of buffered events replayed.",
		}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_observed_total",
			Help:      "Number of packets observed during moves.",
		}, []string{"matched"}),
	}
	reg.MustRegister(c.started, c.ops, c.running, c.moveTime, c.xferTime,
		c.puts, c.putAcks, c.replayed, c.packets)
	return c
}

func (c *promCollector) opStarted() {
	c.started.Inc()
	c.running.Inc()
}

func (c *promCollector) opTerminated(s Status, started bool, d time.Duration) {
	c.ops.WithLabelValues(s.String()).Inc()
	if !started {
		return
	}
	c.running.Dec()
	c.moveTime.Observe(d.Seconds())
}

func (c *promCollector) transferred(d time.Duration) {
	c.xferTime.Observe(d.Seconds())
}

func (c *promCollector) chunkPut(multiflow bool) {
	c.puts.WithLabelValues(scopeLabel(multiflow)).Inc()
}

func (c *promCollector) putAcked(multiflow bool) {
	c.putAcks.WithLabelValues(scopeLabel(multiflow)).Inc()
}

func (c *promCollector) eventReplayed() {
	c.replayed.Inc()
}

func (c *promCollector) packetObserved(matched bool) {
	l := "false"
	if matched {
		l = "true"
	}
	c.packets.WithLabelValues(l).Inc()
}
