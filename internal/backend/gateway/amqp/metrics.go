package amqp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_amqp_event_count",
		Help: "The number of received events by the AMQP gateway backend (per event type).",
	}, []string{"event"})

	cc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_amqp_command_count",
		Help: "The number of commands handled by the AMQP gateway backend (per result).",
	}, []string{"result"})
)

func amqpEventCounter(e string) prometheus.Counter {
	return ec.With(prometheus.Labels{"event": e})
}

func amqpCommandCounter(r string) prometheus.Counter {
	return cc.With(prometheus.Labels{"result": r})
}
