package messages

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/devicehive/devicehive-server/internal/subscription"
)

var (
	ic = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_insert_count",
		Help: "The number of inserted commands and notifications (per kind).",
	}, []string{"kind"})

	pc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_poll_count",
		Help: "The number of completed long-polls (per kind and result).",
	}, []string{"kind", "result"})

	sb = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "messages_subscribe_backlog_size",
		Help:    "The number of backlog records replayed on subscribe (per kind).",
		Buckets: []float64{0, 1, 10, 50, 100, 500},
	}, []string{"kind"})
)

func messageInserted(kind subscription.Kind) {
	ic.With(prometheus.Labels{"kind": kind.String()}).Inc()
}

func pollCompleted(kind subscription.Kind, result string) {
	pc.With(prometheus.Labels{"kind": kind.String(), "result": result}).Inc()
}

func subscribeBacklog(kind subscription.Kind, n int) {
	sb.With(prometheus.Labels{"kind": kind.String()}).Observe(float64(n))
}
