package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengen_redemptions_total",
			Help: "Token redemption attempts by outcome",
		},
		[]string{"outcome"}, // ok|invalid_token|inactive|exhausted|expired|error
	)

	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengen_order_transitions_total",
			Help: "Order state machine transitions by action and result",
		},
		[]string{"action", "result"}, // create|upload_proof|... , ok|rejected
	)

	TokensIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tokengen_tokens_issued_total",
			Help: "Tokens issued at order confirmation",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengen_notifications_total",
			Help: "Token notification deliveries by result",
		},
		[]string{"result"}, // sent|failed
	)

	UsageEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengen_usage_events_total",
			Help: "Token usage audit events by stage",
		},
		[]string{"stage"}, // written|dropped|failed
	)

	OutboxPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengen_outbox_published_total",
			Help: "Outbox rows relayed to Kafka by result",
		},
		[]string{"result"}, // ok|failed
	)
)

var registerOnce sync.Once

// MustRegister registers the collectors once per process; serve and the workers
// share the default registry.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			RedemptionsTotal,
			OrderTransitionsTotal,
			TokensIssuedTotal,
			NotificationsTotal,
			UsageEventsTotal,
			OutboxPublishedTotal,
		)
	})
}
