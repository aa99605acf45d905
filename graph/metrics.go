package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for graph execution: per-node
// latency and failure counts, plus checkpoint and event-bus activity so a
// single registry covers every subsystem named in spec.md §4. All metrics
// are namespaced "spice".
type Metrics struct {
	nodeInFlight prometheus.Gauge
	nodeDuration *prometheus.HistogramVec
	nodeFailures *prometheus.CounterVec
	nodeRetries  *prometheus.CounterVec

	checkpointSaveDuration *prometheus.HistogramVec
	checkpointConflicts    prometheus.Counter

	busPublishes   *prometheus.CounterVec
	busConsumes    *prometheus.CounterVec
	busDeadLetters *prometheus.CounterVec
}

// NewMetrics registers every spice metric with registry and returns the
// collector. Pass prometheus.DefaultRegisterer for the global registry, or
// a fresh prometheus.NewRegistry() for test isolation.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		nodeInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "spice",
			Name:      "inflight_nodes",
			Help:      "Number of nodes currently executing.",
		}),
		nodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spice",
			Name:      "node_duration_seconds",
			Help:      "Node execution duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"node_id"}),
		nodeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spice",
			Name:      "node_failures_total",
			Help:      "Node executions that returned an error.",
		}, []string{"node_id"}),
		nodeRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spice",
			Name:      "node_retries_total",
			Help:      "Node retry attempts across all runs.",
		}, []string{"node_id", "reason"}),
		checkpointSaveDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spice",
			Name:      "checkpoint_save_duration_seconds",
			Help:      "Checkpoint store Save call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		checkpointConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "spice",
			Name:      "checkpoint_conflicts_total",
			Help:      "Optimistic concurrency conflicts on checkpoint Save.",
		}),
		busPublishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spice",
			Name:      "bus_publishes_total",
			Help:      "Events published to the bus, per channel.",
		}, []string{"channel", "backend"}),
		busConsumes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spice",
			Name:      "bus_consumes_total",
			Help:      "Events delivered to subscribers, per channel.",
		}, []string{"channel", "backend"}),
		busDeadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spice",
			Name:      "bus_dead_letters_total",
			Help:      "Events routed to the dead-letter channel, per original channel.",
		}, []string{"channel", "reason"}),
	}
}

// RecordRetry increments the retry counter for a node/reason pair.
func (m *Metrics) RecordRetry(nodeID, reason string) {
	m.nodeRetries.WithLabelValues(nodeID, reason).Inc()
}

// RecordCheckpointSave observes a checkpoint save's latency for backend.
func (m *Metrics) RecordCheckpointSave(backend string, d time.Duration) {
	m.checkpointSaveDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordCheckpointConflict increments the optimistic-concurrency-conflict counter.
func (m *Metrics) RecordCheckpointConflict() {
	m.checkpointConflicts.Inc()
}

// RecordPublish increments the publish counter for a channel/backend pair.
func (m *Metrics) RecordPublish(channel, backend string) {
	m.busPublishes.WithLabelValues(channel, backend).Inc()
}

// RecordConsume increments the consume counter for a channel/backend pair.
func (m *Metrics) RecordConsume(channel, backend string) {
	m.busConsumes.WithLabelValues(channel, backend).Inc()
}

// RecordDeadLetter increments the dead-letter counter for a channel/reason pair.
func (m *Metrics) RecordDeadLetter(channel, reason string) {
	m.busDeadLetters.WithLabelValues(channel, reason).Inc()
}
