package gcppubsub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_gcp_pub_sub_event_count",
		Help: "The number of received events by the GCP Pub/Sub gateway backend (per event type).",
	}, []string{"event"})

	cc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_gcp_pub_sub_command_count",
		Help: "The number of commands handled by the GCP Pub/Sub gateway backend (per result).",
	}, []string{"result"})
)

func gcpEventCounter(e string) prometheus.Counter {
	return ec.With(prometheus.Labels{"event": e})
}

func gcpCommandCounter(r string) prometheus.Counter {
	return cc.With(prometheus.Labels{"result": r})
}
