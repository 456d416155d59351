package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// BillingWebhookTotal counts inbound billing webhook processing outcomes.
	BillingWebhookTotal *prometheus.CounterVec
	// BillingEventsIgnored counts verified webhooks whose event type is not in the canonical set.
	BillingEventsIgnored *prometheus.CounterVec
	// BillingCallbackLatency records callback execution latency in milliseconds.
	BillingCallbackLatency *prometheus.HistogramVec
	// DBWebhookTotal counts inbound database change webhook outcomes.
	DBWebhookTotal *prometheus.CounterVec
	// ReplayDispatchTotal counts admin-triggered event replays by outcome.
	ReplayDispatchTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BillingWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_webhook_total",
			Help:      "Count of processed billing webhooks by provider and outcome.",
		}, []string{"provider", "result"})
		BillingEventsIgnored = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_events_ignored_total",
			Help:      "Count of verified webhook events with an unrecognised event type.",
		}, []string{"provider", "event_type"})
		BillingCallbackLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "billing_callback_duration_ms",
			Help:      "Latency of persistence callback execution in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"event"})
		DBWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_webhook_total",
			Help:      "Count of processed database change webhooks by outcome.",
		}, []string{"result"})
		ReplayDispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_dispatch_total",
			Help:      "Count of replayed webhook events by outcome.",
		}, []string{"result"})

		mustRegisterCollector(reg, BillingWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BillingWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, BillingEventsIgnored, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BillingEventsIgnored = v
			}
		})
		mustRegisterCollector(reg, BillingCallbackLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				BillingCallbackLatency = v
			}
		})
		mustRegisterCollector(reg, DBWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DBWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, ReplayDispatchTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReplayDispatchTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
