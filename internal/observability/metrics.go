package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the service on a private registry.
// All Record/Set methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Graph refresh
	RefreshCycles   *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	GraphNodes      prometheus.Gauge
	GraphEdges      prometheus.Gauge
	GraphVersion    prometheus.Gauge
	ReconcileOps    *prometheus.CounterVec

	// Connection maintenance
	ConnectionQuotes *prometheus.CounterVec
	MaintainerOps    *prometheus.CounterVec

	// Distance provider
	DistanceRequests    *prometheus.CounterVec
	DistanceDuration    *prometheus.HistogramVec
	DistanceCacheLookup *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Queries
	PathQueries *prometheus.CounterVec
}

// NewMetrics registers every collector under namespace on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	m.RefreshCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_refresh_cycles_total",
			Help:      "Graph refresh cycles by result",
		},
		[]string{"result"},
	)
	m.RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_refresh_duration_seconds",
			Help:      "Duration of a full fetch and apply cycle",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	m.GraphNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "graph_nodes",
		Help:      "Nodes in the published graph",
	})
	m.GraphEdges = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "graph_edges",
		Help:      "Directed edges in the published graph",
	})
	m.GraphVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "graph_version",
		Help:      "Version of the published graph",
	})
	m.ReconcileOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_reconcile_operations_total",
			Help:      "Node and edge changes applied by refreshes",
		},
		[]string{"kind", "op"},
	)

	m.ConnectionQuotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_quotes_total",
			Help:      "Candidate connections priced by outcome",
		},
		[]string{"type", "outcome"},
	)
	m.MaintainerOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintainer_operations_total",
			Help:      "Connection maintainer operations by status",
		},
		[]string{"operation", "status"},
	)

	m.DistanceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distance_requests_total",
			Help:      "Routing provider requests by result",
		},
		[]string{"result"},
	)
	m.DistanceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "distance_request_duration_seconds",
			Help:      "Routing provider request duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"result"},
	)
	m.DistanceCacheLookup = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distance_cache_lookups_total",
			Help:      "Distance cache lookups by result",
		},
		[]string{"result"},
	)
	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
	m.CircuitBreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Times a circuit breaker opened",
		},
		[]string{"name"},
	)

	m.PathQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "path_queries_total",
			Help:      "Shortest path queries by result",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RefreshCycles,
		m.RefreshDuration,
		m.GraphNodes,
		m.GraphEdges,
		m.GraphVersion,
		m.ReconcileOps,
		m.ConnectionQuotes,
		m.MaintainerOps,
		m.DistanceRequests,
		m.DistanceDuration,
		m.DistanceCacheLookup,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
		m.PathQueries,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRefresh counts a refresh cycle. result is one of success, unchanged, stale or error.
func (m *Metrics) RecordRefresh(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RefreshCycles.WithLabelValues(result).Inc()
	if result == "success" {
		m.RefreshDuration.Observe(duration.Seconds())
	}
}

func (m *Metrics) SetGraphSize(version uint64, nodes, edges int) {
	if m == nil {
		return
	}
	m.GraphVersion.Set(float64(version))
	m.GraphNodes.Set(float64(nodes))
	m.GraphEdges.Set(float64(edges))
}

func (m *Metrics) RecordReconcile(kind, op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReconcileOps.WithLabelValues(kind, op).Add(float64(n))
}

func (m *Metrics) RecordQuote(connType, outcome string) {
	if m == nil {
		return
	}
	m.ConnectionQuotes.WithLabelValues(connType, outcome).Inc()
}

func (m *Metrics) RecordMaintainerOp(operation string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.MaintainerOps.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) RecordDistanceRequest(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DistanceRequests.WithLabelValues(result).Inc()
	m.DistanceDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordCacheLookup counts a cache lookup. result is "hit", "negative_hit", "miss" or "error".
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.DistanceCacheLookup.WithLabelValues(result).Inc()
}

func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) RecordCircuitBreakerTrip(name string) {
	if m == nil {
		return
	}
	m.CircuitBreakerTrips.WithLabelValues(name).Inc()
}

func (m *Metrics) RecordPathQuery(result string) {
	if m == nil {
		return
	}
	m.PathQueries.WithLabelValues(result).Inc()
}
