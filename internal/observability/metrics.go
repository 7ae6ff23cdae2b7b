package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cta_requests_total",
			Help: "Total HTTP requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cta_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cta_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cta_request_errors_total",
			Help: "Total errors by type",
		}, []string{"type"},
	)

	ChainLength = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cta_fallback_chain_length",
		Help:    "Length of resolved fallback chains",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	})
	ChainStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cta_fallback_chain_stops_total",
			Help: "Resolved chains by the reason the walk stopped",
		}, []string{"reason"},
	)
	Insertions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cta_auto_insert_runs_total",
			Help: "Auto-insert passes by outcome",
		}, []string{"outcome"},
	)
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cta_events_total",
			Help: "Analytics events received by name",
		}, []string{"event"},
	)
	CooldownFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cta_state_fallbacks_total",
			Help: "Visitor state operations served by the cookie tier",
		}, []string{"op"},
	)
	SnapshotRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cta_snapshot_refreshes_total",
			Help: "Snapshot rebuilds by result",
		}, []string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal, Latency, InFlight, RequestErrors,
		ChainLength, ChainStops, Insertions, EventsIngested, CooldownFallbacks, SnapshotRefreshes,
	)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
