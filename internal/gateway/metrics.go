package gateway

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// Request outcomes used as metric labels.
const (
	OutcomeOK           = "ok"
	OutcomeUnauthorized = "unauthorized"
	OutcomeForbidden    = "forbidden"
	OutcomeNotFound     = "not_found"
	OutcomeRejected     = "rejected"
	OutcomeDecode       = "decode"
	OutcomeTransport    = "transport"
)

// Metrics counts gateway requests and their latency. A nil *Metrics records
// nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetdesk",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Backend requests by entity kind, operation and outcome.",
		}, []string{"kind", "op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "assetdesk",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Backend request latency by entity kind and operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "op"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.latency)
	}
	return m
}

func (m *Metrics) observe(kind, op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, op, outcome).Inc()
	m.latency.WithLabelValues(kind, op).Observe(d.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, types.ErrUnauthorized):
		return OutcomeUnauthorized
	case errors.Is(err, types.ErrForbidden):
		return OutcomeForbidden
	case errors.Is(err, types.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, types.ErrRejected):
		return OutcomeRejected
	case errors.Is(err, types.ErrDecode):
		return OutcomeDecode
	default:
		return OutcomeTransport
	}
}
