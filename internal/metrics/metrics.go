package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gustycube/ip-sentinel/internal/health"
)

var (
	EdgeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sentinel_edge_requests_total", Help: "edge responder requests"}, []string{"route"})
	EdgeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_edge_request_duration_seconds",
		Help:    "edge responder request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	ProviderAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sentinel_provider_attempts_total", Help: "provider fetch attempts"}, []string{"lane", "provider", "outcome"})
	LaneResults      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sentinel_lane_results_total", Help: "settled lanes"}, []string{"lane", "status"})
	RiskLookups      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sentinel_risk_lookups_total", Help: "risk enrichment lookups"}, []string{"outcome"})

	ProbeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_probe_latency_ms",
		Help:    "latency probe round trips in milliseconds",
		Buckets: []float64{25, 50, 100, 200, 300, 500, 1000, 2000, 5000},
	}, []string{"target"})
	RobotsBlocks = prometheus.NewCounter(prometheus.CounterOpts{Name: "sentinel_robots_blocked_total", Help: "probe targets disallowed by robots.txt"})
)

func init() {
	prometheus.MustRegister(EdgeRequests, EdgeDuration, ProviderAttempts, LaneResults, RiskLookups, ProbeLatency, RobotsBlocks)
}

// Handler exposes /metrics next to the health endpoints.
func Handler(healthHandler *health.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler.ServeHealth)
	mux.HandleFunc("/ready", healthHandler.ServeReady)
	mux.HandleFunc("/live", healthHandler.ServeLive)
	return mux
}

func ServeWithHealth(addr string, healthHandler *health.Handler, log *zap.SugaredLogger) {
	if err := http.ListenAndServe(addr, Handler(healthHandler)); err != nil {
		log.Warnw("metrics server stopped", "err", err)
	}
}
