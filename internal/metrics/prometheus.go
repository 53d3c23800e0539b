package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink is the Sink implementation wired in when cfg.Metrics.Enabled
// is true (spec §11 "consumed only through the ports.MetricsSink interface").
// Registration happens once at construction; the exposition HTTP handler is
// a thin wrapper over promhttp.Handler.
type PrometheusSink struct {
	registry *prometheus.Registry

	breakerTransitions *prometheus.CounterVec
	poolHits           *prometheus.CounterVec
	poolMisses         *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	backendStatus      *prometheus.GaugeVec
}

// NewPrometheusSink builds a fresh registry and registers every collector.
// Each titan process owns exactly one registry; a config reload does not
// rebuild this sink, only the Snapshot it measures.
func NewPrometheusSink() *PrometheusSink {
	reg := prometheus.NewRegistry()
	s := &PrometheusSink{
		registry: reg,
		breakerTransitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "titan",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Circuit breaker state transitions by upstream and backend.",
		}, []string{"upstream", "backend_id", "from", "to"}),
		poolHits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "titan",
			Subsystem: "pool",
			Name:      "hits_total",
			Help:      "Connection pool acquisitions served from an idle connection.",
		}, []string{"upstream"}),
		poolMisses: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "titan",
			Subsystem: "pool",
			Name:      "misses_total",
			Help:      "Connection pool acquisitions that required a fresh dial.",
		}, []string{"upstream"}),
		requestLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "titan",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
		backendStatus: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "titan",
			Subsystem: "health",
			Name:      "backend_status",
			Help:      "1 if the backend is currently in the named status, else 0.",
		}, []string{"upstream", "backend", "status"}),
	}
	return s
}

func (s *PrometheusSink) BreakerTransition(upstream string, backendID uint32, from, to string) {
	s.breakerTransitions.WithLabelValues(upstream, itoa(backendID), from, to).Inc()
}

func (s *PrometheusSink) PoolHit(upstream string) { s.poolHits.WithLabelValues(upstream).Inc() }

func (s *PrometheusSink) PoolMiss(upstream string) { s.poolMisses.WithLabelValues(upstream).Inc() }

func (s *PrometheusSink) RequestLatency(route string, status int, d time.Duration) {
	s.requestLatency.WithLabelValues(route, itoa(uint32(status))).Observe(d.Seconds())
}

func (s *PrometheusSink) BackendStatus(upstream, backend, status string) {
	for _, candidate := range []string{"healthy", "degraded", "unhealthy", "draining"} {
		v := 0.0
		if candidate == status {
			v = 1.0
		}
		s.backendStatus.WithLabelValues(upstream, backend, candidate).Set(v)
	}
}

// Handler returns the /metrics exposition endpoint for this sink's registry.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
