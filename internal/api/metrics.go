package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality — no per-customer labels, since
// customerId is unbounded and would make these series DoS vectors.
var (
	updateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "leaderboard_update_duration_seconds",
		Help:    "Time spent applying a score update",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.01},
	})

	rangeQueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "leaderboard_range_query_duration_seconds",
		Help:    "Time spent answering a ranksByRange/ranksByCustomer query",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	rankedPopulation = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leaderboard_ranked_population",
		Help: "Number of customers currently contributing a positive score to the ranking",
	})

	auditLogTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_audit_log_events_total",
		Help: "Total score update events recorded by the audit log",
	})

	auditLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_audit_log_dropped_total",
		Help: "Audit log events dropped due to rate limiting or buffer backpressure",
	})

	connectionRejectedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // bounded: "rate_limit", "origin", "ws_ip_limit", "ws_total_limit"

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leaderboard_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	feedConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leaderboard_feed_connections_active",
		Help: "Currently active /leaderboard/feed WebSocket connections",
	})

	feedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_feed_messages_total",
		Help: "Total messages pushed over the leaderboard feed",
	})
)

// DebugServerConfig configures the internal metrics/pprof server.
type DebugServerConfig struct {
	Enabled    bool
	ListenAddr string // MUST be loopback in production
}

// DefaultDebugServerConfig returns safe defaults.
func DefaultDebugServerConfig() DebugServerConfig {
	return DebugServerConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// StartDebugServer starts the internal metrics/pprof server. It always
// binds to loopback unless ALLOW_DEBUG_EXTERNAL=true is set, since pprof
// endpoints are themselves a DoS surface if exposed publicly.
func StartDebugServer(cfg DebugServerConfig) error {
	if !cfg.Enabled {
		log.Println("📊 debug server disabled")
		return nil
	}

	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Println("⚠️ debug server forced to loopback for safety")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	go func() {
		log.Printf("📊 debug server starting on %s", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			log.Printf("⚠️ debug server error: %v", err)
		}
	}()

	return nil
}

// recordUpdate records update-latency metrics.
func recordUpdate(d time.Duration) {
	updateLatency.Observe(d.Seconds())
}

// recordRangeQuery records range-query latency metrics.
func recordRangeQuery(d time.Duration) {
	rangeQueryLatency.Observe(d.Seconds())
}

// updateRankedPopulation sets the ranked-population gauge.
func updateRankedPopulation(count int) {
	rankedPopulation.Set(float64(count))
}

var lastAuditStats struct {
	total, dropped uint64
}

// recordAuditLogStats publishes the audit log's cumulative counters as
// Prometheus counter deltas. It takes the log's running totals, not
// per-call increments. Nothing in the server calls it.
func recordAuditLogStats(total, dropped uint64) {
	if total > lastAuditStats.total {
		auditLogTotal.Add(float64(total - lastAuditStats.total))
		lastAuditStats.total = total
	}
	if dropped > lastAuditStats.dropped {
		auditLogDropped.Add(float64(dropped - lastAuditStats.dropped))
		lastAuditStats.dropped = dropped
	}
}

// recordConnectionRejected increments the rejection counter. reason must
// be one of: "rate_limit", "origin", "ws_ip_limit", "ws_total_limit".
func recordConnectionRejected(reason string) {
	connectionRejectedMetric.WithLabelValues(reason).Inc()
}

// recordRequest records HTTP request metrics.
func recordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// updateFeedConnections sets the active-feed-connections gauge.
func updateFeedConnections(count int) {
	feedConnectionsActive.Set(float64(count))
}

// incrementFeedMessages increments the feed message counter.
func incrementFeedMessages() {
	feedMessagesTotal.Inc()
}
