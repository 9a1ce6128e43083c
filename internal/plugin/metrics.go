package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plugin_event_count",
		Help: "The number of plugin publish events (per event).",
	}, []string{"event"})

	ag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plugin_active",
		Help: "The number of active plugins on this node.",
	})
)

func pluginEvent(event string) {
	ec.With(prometheus.Labels{"event": event}).Inc()
}
