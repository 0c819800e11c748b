package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type HTTPMetrics struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	throttled     *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	streamClients prometheus.Gauge
}

var (
	httpOnce     sync.Once
	httpRegistry *HTTPMetrics
)

// HTTP returns the registry for the ledgerd API surface.
func HTTP() *HTTPMetrics {
	httpOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledgerd_http_requests_total",
				Help: "Count of API requests by route pattern and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "ledgerd_http_request_duration_seconds",
				Help:    "Latency of API requests by route pattern.",
				Buckets: prometheus.DefBuckets,
			}, []string{"route"}),
			throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledgerd_http_throttled_total",
				Help: "Requests rejected by the per-caller rate limiter.",
			}, []string{"route"}),
			authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledgerd_http_auth_failures_total",
				Help: "Requests rejected during bearer token validation by reason.",
			}, []string{"reason"}),
			streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "ledgerd_event_stream_clients",
				Help: "Connected websocket event stream clients.",
			}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.latency,
			httpRegistry.throttled,
			httpRegistry.authFailures,
			httpRegistry.streamClients,
		)
	})
	return httpRegistry
}

func (m *HTTPMetrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(d.Seconds())
}

func (m *HTTPMetrics) IncThrottled(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.throttled.WithLabelValues(route).Inc()
}

func (m *HTTPMetrics) IncAuthFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

func (m *HTTPMetrics) StreamConnected() {
	if m == nil {
		return
	}
	m.streamClients.Inc()
}

func (m *HTTPMetrics) StreamDisconnected() {
	if m == nil {
		return
	}
	m.streamClients.Dec()
}
