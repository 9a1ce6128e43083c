package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	nc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_notification_count",
		Help: "The number of notifications received from the gateway backend (per result).",
	}, []string{"result"})

	cc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_command_count",
		Help: "The number of commands forwarded to the gateway backend (per result).",
	}, []string{"result"})
)

func notificationCounter(r string) prometheus.Counter {
	return nc.With(prometheus.Labels{"result": r})
}

func commandCounter(r string) prometheus.Counter {
	return cc.With(prometheus.Labels{"result": r})
}
