package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Connection cache metrics
	ConnectionsActive        prometheus.Gauge
	ConnectionCacheHitsTotal prometheus.Counter
	ConnectionsCreatedTotal  prometheus.Counter
	ConnectionsEvictedTotal  *prometheus.CounterVec
	ConnectErrorsTotal       prometheus.Counter

	// Stream metrics
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	StreamEventsTotal  *prometheus.CounterVec
	StreamErrorsTotal  *prometheus.CounterVec
	PlaceholderRemaps  prometheus.Counter

	// Tool metrics
	ToolCallsTotal      *prometheus.CounterVec
	ToolCallErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Connection cache metrics
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tool_connections_active",
				Help: "Number of live cached tool backend connections",
			},
		),
		ConnectionCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tool_connection_cache_hits_total",
				Help: "Total number of connection cache hits",
			},
		),
		ConnectionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tool_connections_created_total",
				Help: "Total number of tool backend connections established",
			},
		),
		ConnectionsEvictedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_connections_evicted_total",
				Help: "Total number of cached connections closed",
			},
			[]string{"reason"},
		),
		ConnectErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tool_connect_errors_total",
				Help: "Total number of failed connection attempts",
			},
		),

		// Stream metrics
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_runs_total",
				Help: "Total number of orchestrated chat runs",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chat_run_duration_seconds",
				Help:    "Duration of orchestrated chat runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		StreamEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_stream_events_total",
				Help: "Total number of stream events forwarded to clients",
			},
			[]string{"type"},
		),
		StreamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_stream_errors_total",
				Help: "Total number of classified stream errors",
			},
			[]string{"kind"},
		),
		PlaceholderRemaps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_placeholder_remaps_total",
				Help: "Total number of placeholder item IDs rewritten",
			},
		),

		// Tool metrics
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_calls_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool"},
		),
		ToolCallErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_call_errors_total",
				Help: "Total number of failed tool invocations",
			},
			[]string{"tool"},
		),
	}

	// Register all metrics
	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ConnectionsActive)
	m.registry.MustRegister(m.ConnectionCacheHitsTotal)
	m.registry.MustRegister(m.ConnectionsCreatedTotal)
	m.registry.MustRegister(m.ConnectionsEvictedTotal)
	m.registry.MustRegister(m.ConnectErrorsTotal)

	m.registry.MustRegister(m.RunsTotal)
	m.registry.MustRegister(m.RunDuration)
	m.registry.MustRegister(m.StreamEventsTotal)
	m.registry.MustRegister(m.StreamErrorsTotal)
	m.registry.MustRegister(m.PlaceholderRemaps)

	m.registry.MustRegister(m.ToolCallsTotal)
	m.registry.MustRegister(m.ToolCallErrorsTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
