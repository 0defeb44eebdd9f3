package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tutorlink"

// Metrics owns a private registry so tests can build as many as they like
// without tripping duplicate registration. Every method is safe on a nil
// receiver, which is how packages run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	connections   prometheus.Gauge
	presenceConns prometheus.Gauge
	presenceUsers prometheus.Gauge
	rooms         prometheus.Gauge
	activeTimers  prometheus.Gauge

	events        *prometheus.CounterVec
	eventErrors   *prometheus.CounterVec
	relayed       *prometheus.CounterVec
	rateLimited   prometheus.Counter
	notifications *prometheus.CounterVec

	billingTicks *prometheus.CounterVec
	coinsCharged prometheus.Counter
	coinsEarned  prometheus.Counter
	timerStops   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "websocket_connections",
			Help: "Open websocket connections.",
		}),
		presenceConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "presence", Name: "connections",
			Help: "Registered connections.",
		}),
		presenceUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "presence", Name: "users",
			Help: "Distinct online users.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Live session rooms.",
		}),
		activeTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "billing", Name: "active_timers",
			Help: "Running billing timers.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total",
			Help: "Inbound events by name.",
		}, []string{"event"}),
		eventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_errors_total",
			Help: "Inbound events answered with an error event.",
		}, []string{"event"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relayed_total",
			Help: "Relayed room events by name.",
		}, []string{"event"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Relay frames dropped by the rate limiter.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notifications by delivery outcome.",
		}, []string{"delivery"}),
		billingTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "billing", Name: "ticks_total",
			Help: "Billing ticks by outcome.",
		}, []string{"outcome"}),
		coinsCharged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "billing", Name: "coins_charged_total",
			Help: "Coins debited from payers.",
		}),
		coinsEarned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "billing", Name: "coins_earned_total",
			Help: "Coins credited to payees.",
		}),
		timerStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "billing", Name: "timer_stops_total",
			Help: "Billing timer stops by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections, m.presenceConns, m.presenceUsers, m.rooms, m.activeTimers,
		m.events, m.eventErrors, m.relayed, m.rateLimited, m.notifications,
		m.billingTicks, m.coinsCharged, m.coinsEarned, m.timerStops,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SetPresence(conns, users int) {
	if m == nil {
		return
	}
	m.presenceConns.Set(float64(conns))
	m.presenceUsers.Set(float64(users))
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) Event(event string) {
	if m != nil {
		m.events.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) EventError(event string) {
	if m != nil {
		m.eventErrors.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Relayed(event string) {
	if m != nil {
		m.relayed.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

// Notification counts one notification; live reports whether at least one
// connection received it.
func (m *Metrics) Notification(live bool) {
	if m == nil {
		return
	}
	delivery := "offline"
	if live {
		delivery = "live"
	}
	m.notifications.WithLabelValues(delivery).Inc()
}

func (m *Metrics) TimerStarted() {
	if m != nil {
		m.activeTimers.Inc()
	}
}

func (m *Metrics) TimerStopped(reason string) {
	if m == nil {
		return
	}
	m.activeTimers.Dec()
	m.timerStops.WithLabelValues(reason).Inc()
}

func (m *Metrics) BillingTick(outcome string, charged, earned float64) {
	if m == nil {
		return
	}
	m.billingTicks.WithLabelValues(outcome).Inc()
	if charged > 0 {
		m.coinsCharged.Add(charged)
	}
	if earned > 0 {
		m.coinsEarned.Add(earned)
	}
}
