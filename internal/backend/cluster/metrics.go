package cluster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ce = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "backend_cluster_event_count",
	Help: "The number of cluster bus events (per result).",
}, []string{"result"})

func clusterEvent(result string) {
	ce.With(prometheus.Labels{"result": result}).Inc()
}
