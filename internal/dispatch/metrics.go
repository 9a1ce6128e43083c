package dispatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/devicehive/devicehive-server/internal/subscription"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_event_count",
		Help: "The number of dispatched events (per kind and origin).",
	}, []string{"kind", "origin"})

	dc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_delivery_count",
		Help: "The number of events delivered to subscriptions (per kind).",
	}, []string{"kind"})

	waiterGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_waiters",
		Help: "The number of pending long-poll waiters.",
	})

	waiterOverflowCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_waiter_overflow_count",
		Help: "The number of events dropped because a waiter buffer was full.",
	})

	registryOnce sync.Once
)

func eventDispatched(e subscription.Event, deliveries int) {
	origin := "local"
	if e.Remote {
		origin = "remote"
	}
	ec.With(prometheus.Labels{"kind": e.Kind.String(), "origin": origin}).Inc()
	dc.With(prometheus.Labels{"kind": e.Kind.String()}).Add(float64(deliveries))
}

// registerRegistry exposes the subscription count of the first registry.
func registerRegistry(r *subscription.Registry) {
	registryOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dispatch_subscriptions",
			Help: "The number of live subscriptions.",
		}, func() float64 {
			return float64(r.Count())
		})
	})
}
