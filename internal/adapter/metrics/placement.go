package metrics

import "github.com/prometheus/client_golang/prometheus"

// Claim outcomes.
const (
	ClaimLocal  = "local"
	ClaimRemote = "remote"
	ClaimError  = "error"
)

// PlacementMetrics tracks actor ownership decisions and peer forwarding.
// All methods are safe to call on a nil receiver.
type PlacementMetrics struct {
	Claims         *prometheus.CounterVec
	LeasesLost     prometheus.Counter
	Forwards       *prometheus.CounterVec
	BreakerState   prometheus.Gauge
	BreakerChanges *prometheus.CounterVec
	RedisOps       *prometheus.CounterVec
	RedisDuration  *prometheus.HistogramVec
	RedisDialFails prometheus.Counter
}

// NewPlacementMetrics creates and registers placement metrics on the given registry.
func NewPlacementMetrics(reg prometheus.Registerer) *PlacementMetrics {
	m := &PlacementMetrics{
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "claims_total",
			Help:      "Total number of actor placement claims, by result.",
		}, []string{"result"}),
		LeasesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "leases_lost_total",
			Help:      "Total number of actor leases lost to another instance or expiry.",
		}),
		Forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "forwards_total",
			Help:      "Total number of requests forwarded to the owning instance, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "redis_circuit_state",
			Help:      "Redis circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		BreakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "redis_circuit_changes_total",
			Help:      "Total number of Redis circuit breaker state changes, by new state.",
		}, []string{"state"}),
		RedisOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operations_total",
			Help:      "Total number of Redis commands, by command and status.",
		}, []string{"operation", "status"}),
		RedisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Redis command latency in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		RedisDialFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "connection_errors_total",
			Help:      "Total number of failed Redis connection attempts.",
		}),
	}

	reg.MustRegister(m.Claims, m.LeasesLost, m.Forwards, m.BreakerState, m.BreakerChanges,
		m.RedisOps, m.RedisDuration, m.RedisDialFails)
	return m
}

func (m *PlacementMetrics) Claimed(result string) {
	if m != nil {
		m.Claims.WithLabelValues(result).Inc()
	}
}

func (m *PlacementMetrics) LeaseLost() {
	if m != nil {
		m.LeasesLost.Inc()
	}
}

func (m *PlacementMetrics) Forwarded(kind, outcome string) {
	if m != nil {
		m.Forwards.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *PlacementMetrics) BreakerChanged(state string, value float64) {
	if m != nil {
		m.BreakerState.Set(value)
		m.BreakerChanges.WithLabelValues(state).Inc()
	}
}

func (m *PlacementMetrics) RedisOp(operation, status string, seconds float64) {
	if m != nil {
		m.RedisOps.WithLabelValues(operation, status).Inc()
		m.RedisDuration.WithLabelValues(operation).Observe(seconds)
	}
}

func (m *PlacementMetrics) RedisDialFailed() {
	if m != nil {
		m.RedisDialFails.Inc()
	}
}
