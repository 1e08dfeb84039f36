package metrics

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics tracks the request/response side of the API: publishes, peer forwards and probes.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlight        prometheus.Gauge
	PayloadBytes    *prometheus.HistogramVec
}

// NewHTTPMetrics creates and registers HTTP metrics on the given registry.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of non-upgrade HTTP requests in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route", "code"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Non-upgrade HTTP requests by route and status class (2xx, 4xx, ...).",
		}, []string{"method", "route", "code"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Non-upgrade HTTP requests currently being served.",
		}),
		PayloadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "payload_bytes",
			Help:      "Declared body size of POSTed notifications, public and peer-forwarded.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 7),
		}, []string{"route"}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlight, m.PayloadBytes)
	return m
}

// statusClass folds a status code into its class to keep label cardinality fixed.
func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get(echo.HeaderUpgrade), "websocket")
}

// Middleware records request metrics on every route except those under the skipped prefixes.
// WebSocket upgrades are never recorded; their duration is the lifetime of the connection.
func (m *HTTPMetrics) Middleware(skipPrefixes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route, req := c.Path(), c.Request()
			if isUpgrade(req) {
				return next(c)
			}
			for _, prefix := range skipPrefixes {
				if strings.HasPrefix(route, prefix) {
					return next(c)
				}
			}

			if req.Method == http.MethodPost && req.ContentLength >= 0 {
				m.PayloadBytes.WithLabelValues(route).Observe(float64(req.ContentLength))
			}

			m.InFlight.Inc()
			defer m.InFlight.Dec()

			timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
				code := statusClass(c.Response().Status)
				m.RequestDuration.WithLabelValues(req.Method, route, code).Observe(v)
				m.RequestsTotal.WithLabelValues(req.Method, route, code).Inc()
			}))

			err := next(c)
			timer.ObserveDuration()
			return err
		}
	}
}
