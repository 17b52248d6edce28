package relay

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the relay's Prometheus collectors. Each Server owns its own
// registry so several relays can coexist in one process.
type metrics struct {
	registry      *prometheus.Registry
	users         prometheus.Gauge
	channels      prometheus.Gauge
	events        *prometheus.CounterVec
	tokens        prometheus.Counter
	rejectedJoins *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duocall",
			Subsystem: "relay",
			Name:      "connected_users",
			Help:      "Number of users with an open signaling connection.",
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duocall",
			Subsystem: "relay",
			Name:      "media_channels",
			Help:      "Number of media channels with at least one member.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duocall",
			Subsystem: "relay",
			Name:      "events_total",
			Help:      "Envelopes received from clients, by type.",
		}, []string{"type"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duocall",
			Subsystem: "relay",
			Name:      "tokens_issued_total",
			Help:      "Join tokens issued by the token endpoint.",
		}),
		rejectedJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duocall",
			Subsystem: "relay",
			Name:      "rejected_joins_total",
			Help:      "Channel joins refused by the relay, by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(m.users, m.channels, m.events, m.tokens, m.rejectedJoins)
	return m
}
