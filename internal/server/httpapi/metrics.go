package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the RPC instrumentation counters.
type Metrics struct {
	calls           *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	integrityIssues prometheus.Gauge
}

// NewMetrics registers the RPC metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		calls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guestsync_rpc_calls_total",
			Help: "Total RPC calls by function and HTTP status.",
		}, []string{"fn", "status"}),
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guestsync_rpc_duration_seconds",
			Help:    "RPC handler latency by function.",
			Buckets: prometheus.DefBuckets,
		}, []string{"fn"}),
		integrityIssues: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "guestsync_integrity_issues",
			Help: "Issues found by the most recent integrity check.",
		}),
	}
}

// SetIntegrityIssues records the issue count from the latest check.
func (m *Metrics) SetIntegrityIssues(n int) {
	m.integrityIssues.Set(float64(n))
}

// Middleware observes every RPC call, labeled by the function path segment.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			fn := chi.URLParam(r, "fn")
			if fn == "" {
				fn = r.URL.Path
			}
			m.calls.WithLabelValues(fn, strconv.Itoa(ww.Status())).Inc()
			m.duration.WithLabelValues(fn).Observe(time.Since(start).Seconds())
		})
	}
}
