// Package metrics exposes TrakBridge's runtime observability via
// prometheus/client_golang, following the teacher's direct use of
// prometheus/client_golang/prometheus under its own metrics abstraction
// (prometheus/metrics). TrakBridge's metric surface is small and fixed
// enough that the raw *Vec collectors are used directly rather than
// reintroducing the teacher's generic label/name builder.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every TrakBridge collector behind one prometheus.Registry
// so cmd/trakbridged can mount a single /metrics handler.
type Registry struct {
	reg *prometheus.Registry

	QueueDepth       *prometheus.GaugeVec
	QueueDropped     *prometheus.CounterVec
	FramesSent       *prometheus.CounterVec
	ConnectionState  *prometheus.GaugeVec
	WorkerIterations *prometheus.CounterVec
	WorkerDeduped    *prometheus.CounterVec
	WorkerCircuitOpen *prometheus.GaugeVec
	FetchDuration    *prometheus.HistogramVec
}

// New builds and registers every collector.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trakbridge_queue_depth",
			Help: "Current number of frames queued per TAK server destination.",
		}, []string{"tak_server_id"}),
		QueueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trakbridge_queue_dropped_total",
			Help: "Frames dropped from a destination queue, by reason.",
		}, []string{"tak_server_id", "reason"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trakbridge_frames_sent_total",
			Help: "CoT frames successfully sent to a TAK server.",
		}, []string{"tak_server_id"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trakbridge_connection_state",
			Help: "Persistent connection state (0=disconnected,1=connecting,2=connected,3=backoff,4=shutting_down,5=closed).",
		}, []string{"tak_server_id"}),
		WorkerIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trakbridge_worker_iterations_total",
			Help: "Stream worker poll iterations, by outcome.",
		}, []string{"stream_id", "outcome"}),
		WorkerDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trakbridge_worker_deduped_total",
			Help: "Locations dropped by the device state tracker as not strictly newer.",
		}, []string{"stream_id"}),
		WorkerCircuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trakbridge_worker_circuit_open",
			Help: "1 if a stream worker's circuit breaker is currently open.",
		}, []string{"stream_id"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trakbridge_plugin_fetch_duration_seconds",
			Help:    "Plugin Fetch call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"plugin_id"}),
	}

	reg.MustRegister(
		m.QueueDepth, m.QueueDropped, m.FramesSent, m.ConnectionState,
		m.WorkerIterations, m.WorkerDeduped, m.WorkerCircuitOpen, m.FetchDuration,
	)
	return m
}

// Gatherer exposes the underlying prometheus.Gatherer for promhttp.Handler.
func (m *Registry) Gatherer() prometheus.Gatherer { return m.reg }
