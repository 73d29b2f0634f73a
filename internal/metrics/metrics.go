// Package metrics exposes Prometheus instrumentation for the session
// coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the room client.
type Metrics struct {
	// Realtime channel
	EventsReceived *prometheus.CounterVec
	IntentsSent    *prometheus.CounterVec
	Reconnects     prometheus.Counter
	ChannelDown    prometheus.Counter

	// Audio transport
	StateTransitions *prometheus.CounterVec
	PublishFailures  prometheus.Counter
	ForcedDemotions  prometheus.Counter
	TokenRenewals    prometheus.Counter
	RenewalFailures  prometheus.Counter
	RemoteSources    prometheus.Gauge

	// Serializer
	GateWait prometheus.Histogram
}

// New creates and registers all metrics with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceroom_events_received_total",
			Help: "Authoritative server events received, by event type",
		}, []string{"type"}),
		IntentsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceroom_intents_sent_total",
			Help: "Client intents sent over the realtime channel, by intent type",
		}, []string{"type"}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceroom_channel_reconnects_total",
			Help: "Successful realtime channel reconnects",
		}),
		ChannelDown: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceroom_channel_down_total",
			Help: "Times the reconnect retry ceiling was reached",
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceroom_transport_transitions_total",
			Help: "Audio transport state transitions, by target state",
		}, []string{"to"}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceroom_publish_failures_total",
			Help: "Publish attempts that failed and reverted to audience",
		}),
		ForcedDemotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceroom_forced_demotions_total",
			Help: "Host-issued mutes that forced the transport to audience",
		}),
		TokenRenewals: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceroom_token_renewals_total",
			Help: "Successful media credential renewals",
		}),
		RenewalFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voiceroom_token_renewal_failures_total",
			Help: "Credential renewals that failed and degraded the session",
		}),
		RemoteSources: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voiceroom_remote_sources",
			Help: "Currently subscribed remote audio sources",
		}),
		GateWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voiceroom_serializer_wait_seconds",
			Help:    "Time operations waited on the transport serializer gate",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
