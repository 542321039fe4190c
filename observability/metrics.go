package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"timegate/core/events"
)

// SubscriptionMetrics aggregates the counters fed by the engine and registry
// event streams.
type SubscriptionMetrics struct {
	purchases          *prometheus.CounterVec
	rewardMints        prometheus.Counter
	rewardMintFailures prometheus.Counter
	withdrawals        prometheus.Counter
	enginesCreated     prometheus.Counter
}

var (
	subscriptionOnce sync.Once
	subscriptionReg  *SubscriptionMetrics
)

// Subscription returns the lazily-initialised subscription metrics registry.
func Subscription() *SubscriptionMetrics {
	subscriptionOnce.Do(func() {
		subscriptionReg = &SubscriptionMetrics{
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "timegate",
				Subsystem: "subscription",
				Name:      "purchases_total",
				Help:      "Total committed access purchases segmented by payment token.",
			}, []string{"token"}),
			rewardMints: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "timegate",
				Subsystem: "subscription",
				Name:      "reward_mints_total",
				Help:      "Total successful reward mints.",
			}),
			rewardMintFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "timegate",
				Subsystem: "subscription",
				Name:      "reward_mint_failures_total",
				Help:      "Total reward mints swallowed by the best-effort purchase path.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "timegate",
				Subsystem: "subscription",
				Name:      "withdrawals_total",
				Help:      "Total custodial withdrawals.",
			}),
			enginesCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "timegate",
				Subsystem: "subscription",
				Name:      "engines_created_total",
				Help:      "Total engines registered by the subscription registry.",
			}),
		}
		prometheus.MustRegister(
			subscriptionReg.purchases,
			subscriptionReg.rewardMints,
			subscriptionReg.rewardMintFailures,
			subscriptionReg.withdrawals,
			subscriptionReg.enginesCreated,
		)
	})
	return subscriptionReg
}

// Observe updates the counters for a single emitted event.
func (m *SubscriptionMetrics) Observe(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	switch e := evt.(type) {
	case events.AccessPurchased:
		m.purchases.WithLabelValues(e.Token).Inc()
	case events.RewardMinted:
		m.rewardMints.Inc()
	case events.RewardMintFailed:
		m.rewardMintFailures.Inc()
	case events.EngineWithdrawal:
		m.withdrawals.Inc()
	case events.EngineCreated:
		m.enginesCreated.Inc()
	}
}

// EventMetrics is an events.Emitter decorator that records metrics before
// forwarding to the wrapped emitter.
type EventMetrics struct {
	next    events.Emitter
	metrics *SubscriptionMetrics
}

// NewEventMetrics wraps the provided emitter with metric recording. A nil
// next emitter discards events after counting them.
func NewEventMetrics(next events.Emitter) *EventMetrics {
	return &EventMetrics{next: next, metrics: Subscription()}
}

// Emit implements the events.Emitter interface.
func (e *EventMetrics) Emit(evt events.Event) {
	if e == nil {
		return
	}
	e.metrics.Observe(evt)
	if e.next != nil {
		e.next.Emit(evt)
	}
}
