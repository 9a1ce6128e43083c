package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "api_websocket_connections",
		Help: "The number of open WebSocket connections.",
	})

	fc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_websocket_frame_count",
		Help: "The number of handled WebSocket request frames (per action and status).",
	}, []string{"action", "status"})

	pc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_websocket_push_count",
		Help: "The number of subscription events pushed to WebSocket connections (per result).",
	}, []string{"result"})
)

func frameCounter(action, status string) prometheus.Counter {
	if _, ok := actions[action]; !ok {
		action = "unknown"
	}
	return fc.With(prometheus.Labels{"action": action, "status": status})
}

func pushCounter(result string) prometheus.Counter {
	return pc.With(prometheus.Labels{"result": result})
}
