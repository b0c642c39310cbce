package devserver

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	clients  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetdesk",
			Subsystem: "devserver",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "assetdesk",
			Subsystem: "devserver",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "assetdesk",
			Subsystem: "devserver",
			Name:      "channel_clients",
			Help:      "Connected websocket change feed subscribers.",
		}),
	}
	reg.MustRegister(m.requests, m.latency, m.clients)
	return m
}
