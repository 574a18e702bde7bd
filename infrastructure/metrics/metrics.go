// Package metrics provides Prometheus collectors for the scheduler,
// occlusion oracle, and replication layer. New and Init register against
// prometheus.DefaultRegisterer; NewWithRegistry takes a caller-supplied
// registerer for an isolated registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the engine records against.
type Metrics struct {
	// Scheduler / pipeline.
	SystemRuns      *prometheus.CounterVec
	SystemDuration  *prometheus.HistogramVec
	SystemPanics    *prometheus.CounterVec
	CommandsDropped *prometheus.CounterVec
	CommandQueueLen prometheus.Gauge
	TickDuration    prometheus.Histogram

	// Occlusion oracle.
	OccludedEntities     prometheus.Gauge
	FrustumCulledEntities prometheus.Gauge
	RasterizeDuration    prometheus.Histogram

	// Replication.
	PacketsSent        *prometheus.CounterVec
	PacketsReceived    *prometheus.CounterVec
	ReplicatedEntities prometheus.Gauge
	DisconnectsTotal   *prometheus.CounterVec

	// Debugger transport (external inspector HTTP/websocket surface).
	DebugRequests        *prometheus.CounterVec
	DebugRequestDuration *prometheus.HistogramVec
	DebugConnections     prometheus.Gauge
}

// New creates Metrics registered against prometheus.DefaultRegisterer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates Metrics registered against a caller-supplied registerer.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		SystemRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ecsruntime",
				Subsystem: "scheduler",
				Name:      "system_runs_total",
				Help:      "Total number of system dispatches, by phase and outcome.",
			},
			[]string{"phase", "system", "outcome"},
		),
		SystemDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ecsruntime",
				Subsystem: "scheduler",
				Name:      "system_duration_seconds",
				Help:      "Wall-clock duration of a single system dispatch.",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
			},
			[]string{"phase", "system"},
		),
		SystemPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ecsruntime",
				Subsystem: "scheduler",
				Name:      "system_panics_total",
				Help:      "Total number of systems that panicked and were disabled for the tick.",
			},
			[]string{"phase", "system"},
		),
		CommandsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ecsruntime",
				Subsystem: "command_queue",
				Name:      "commands_dropped_total",
				Help:      "Total number of commands dropped due to pool exhaustion.",
			},
			[]string{"closure_type"},
		),
		CommandQueueLen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ecsruntime",
				Subsystem: "command_queue",
				Name:      "queue_length",
				Help:      "Best-effort hint of commands pending drain.",
			},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ecsruntime",
				Subsystem: "pipeline",
				Name:      "tick_duration_seconds",
				Help:      "Wall-clock duration of one progress() call.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
		),
		OccludedEntities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ecsruntime",
				Subsystem: "occlusion",
				Name:      "occluded_entities",
				Help:      "Number of entities currently tagged Occluded.",
			},
		),
		FrustumCulledEntities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ecsruntime",
				Subsystem: "occlusion",
				Name:      "frustum_culled_entities",
				Help:      "Number of entities currently tagged FrustumCulled.",
			},
		),
		RasterizeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ecsruntime",
				Subsystem: "occlusion",
				Name:      "rasterize_duration_seconds",
				Help:      "Wall-clock duration of one tile rasterize pass across all tiles.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
		),
		PacketsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ecsruntime",
				Subsystem: "replication",
				Name:      "packets_sent_total",
				Help:      "Total packets sent, by channel.",
			},
			[]string{"channel"},
		),
		PacketsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ecsruntime",
				Subsystem: "replication",
				Name:      "packets_received_total",
				Help:      "Total packets received, by channel.",
			},
			[]string{"channel"},
		),
		ReplicatedEntities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ecsruntime",
				Subsystem: "replication",
				Name:      "networked_entities",
				Help:      "Number of entities currently carrying a network_id.",
			},
		),
		DisconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ecsruntime",
				Subsystem: "replication",
				Name:      "disconnects_total",
				Help:      "Total peer disconnects, by reason.",
			},
			[]string{"reason"},
		),
		DebugRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ecsruntime",
				Subsystem: "debugger",
				Name:      "requests_total",
				Help:      "Total debugger transport requests, by method and status code.",
			},
			[]string{"method", "status"},
		),
		DebugRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ecsruntime",
				Subsystem: "debugger",
				Name:      "request_duration_seconds",
				Help:      "Wall-clock duration of one debugger transport request.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		DebugConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ecsruntime",
				Subsystem: "debugger",
				Name:      "connections",
				Help:      "Number of currently connected debugger websocket clients.",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.SystemRuns, m.SystemDuration, m.SystemPanics, m.CommandsDropped, m.CommandQueueLen, m.TickDuration,
			m.OccludedEntities, m.FrustumCulledEntities, m.RasterizeDuration,
			m.PacketsSent, m.PacketsReceived, m.ReplicatedEntities, m.DisconnectsTotal,
			m.DebugRequests, m.DebugRequestDuration, m.DebugConnections,
		)
	}

	return m
}

// RecordSystemRun records the outcome and duration of one system dispatch.
func (m *Metrics) RecordSystemRun(phase, system, outcome string, duration time.Duration) {
	m.SystemRuns.WithLabelValues(phase, system, outcome).Inc()
	m.SystemDuration.WithLabelValues(phase, system).Observe(duration.Seconds())
}

// RecordSystemPanic records a system that panicked mid-tick.
func (m *Metrics) RecordSystemPanic(phase, system string) {
	m.SystemPanics.WithLabelValues(phase, system).Inc()
}

// RecordCommandDropped records a command-queue pool exhaustion.
func (m *Metrics) RecordCommandDropped(closureType string) {
	m.CommandsDropped.WithLabelValues(closureType).Inc()
}

// RecordDebugRequest records one debugger transport request's outcome and latency.
func (m *Metrics) RecordDebugRequest(method, status string, duration time.Duration) {
	m.DebugRequests.WithLabelValues(method, status).Inc()
	m.DebugRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the process-wide global Metrics instance.
func Init() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New()
	}
	return globalMetrics
}

// Global returns the process-wide Metrics instance, initializing it with a
// private registry if Init was never called (safe for tests).
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = NewWithRegistry(prometheus.NewRegistry())
	}
	return globalMetrics
}
