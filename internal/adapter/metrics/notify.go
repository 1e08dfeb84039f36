package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reasons a session leaves its actor.
const (
	RemovalClosed    = "closed"
	RemovalError     = "error"
	RemovalSendError = "send_failed"
	RemovalSlow      = "slow_consumer"
	RemovalEvicted   = "evicted"
)

// NotifyMetrics holds Prometheus metrics for topic actors and their sessions.
// All methods are safe to call on a nil receiver.
type NotifyMetrics struct {
	ActorsActive      prometheus.Gauge
	SessionsActive    prometheus.Gauge
	MessagesBroadcast *prometheus.CounterVec
	Deliveries        prometheus.Counter
	SendFailures      *prometheus.CounterVec
	SessionsRemoved   *prometheus.CounterVec
	SessionsRejected  prometheus.Counter
	SendDuration      prometheus.Histogram
	ActorPanics       prometheus.Counter
}

// NewNotifyMetrics creates and registers notification metrics on the given registry.
func NewNotifyMetrics(reg prometheus.Registerer) *NotifyMetrics {
	m := &NotifyMetrics{
		ActorsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "actors_active",
			Help:      "Number of topic actors hosted by this instance.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sessions_active",
			Help:      "Number of open WebSocket sessions across all topics.",
		}),
		MessagesBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "messages_broadcast_total",
			Help:      "Total number of messages broadcast, by origin.",
		}, []string{"origin"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Total number of messages handed to session writers.",
		}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "send_failures_total",
			Help:      "Total number of failed deliveries to a session, by reason (send_failed, slow_consumer).",
		}, []string{"reason"}),
		SessionsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sessions_removed_total",
			Help:      "Total number of sessions removed, by reason.",
		}, []string{"reason"}),
		SessionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sessions_rejected_total",
			Help:      "Total number of sessions rejected by the per-topic limit.",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "send_duration_seconds",
			Help:      "Duration of single WebSocket frame writes.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		ActorPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "actor_panics_total",
			Help:      "Total number of recovered panics in actor loops.",
		}),
	}

	reg.MustRegister(m.ActorsActive, m.SessionsActive, m.MessagesBroadcast, m.Deliveries,
		m.SendFailures, m.SessionsRemoved, m.SessionsRejected, m.SendDuration, m.ActorPanics)
	return m
}

func (m *NotifyMetrics) ActorStarted() {
	if m != nil {
		m.ActorsActive.Inc()
	}
}

func (m *NotifyMetrics) ActorStopped() {
	if m != nil {
		m.ActorsActive.Dec()
	}
}

func (m *NotifyMetrics) SessionAdded() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *NotifyMetrics) SessionRemoved(reason string) {
	if m != nil {
		m.SessionsActive.Dec()
		m.SessionsRemoved.WithLabelValues(reason).Inc()
	}
}

// SendFailed counts one delivery that did not reach its session.
func (m *NotifyMetrics) SendFailed(reason string) {
	if m != nil {
		m.SendFailures.WithLabelValues(reason).Inc()
	}
}

func (m *NotifyMetrics) SessionRejected() {
	if m != nil {
		m.SessionsRejected.Inc()
	}
}

func (m *NotifyMetrics) Broadcast(origin string, delivered int) {
	if m != nil {
		m.MessagesBroadcast.WithLabelValues(origin).Inc()
		m.Deliveries.Add(float64(delivered))
	}
}

func (m *NotifyMetrics) ObserveSend(seconds float64) {
	if m != nil {
		m.SendDuration.Observe(seconds)
	}
}

func (m *NotifyMetrics) ActorPanicked() {
	if m != nil {
		m.ActorPanics.Inc()
	}
}
