package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels of the request counter.
const (
	outcomeOK            = "ok"
	outcomeNotFound      = "not_found"
	outcomeUpstreamError = "upstream_error"
)

// Metrics are the proxy's Prometheus collectors.
type Metrics struct {
	requests     *prometheus.CounterVec
	fetchSeconds *prometheus.HistogramVec
	bytesServed  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "priv_updater",
			Name:      "requests_total",
			Help:      "Proxy requests by asset kind and outcome.",
		}, []string{"kind", "outcome"}),
		fetchSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "priv_updater",
			Name:      "upstream_fetch_seconds",
			Help:      "Time until upstream answered an asset fetch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		bytesServed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "priv_updater",
			Name:      "bytes_served_total",
			Help:      "Body bytes written to proxy clients.",
		}),
	}
}

func (m *Metrics) observeRequest(kind Kind, outcome string) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) observeFetch(kind Kind, started time.Time) {
	if m == nil {
		return
	}

	m.fetchSeconds.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}

	m.bytesServed.Add(float64(n))
}
