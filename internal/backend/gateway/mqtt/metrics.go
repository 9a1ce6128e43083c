package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_mqtt_event_count",
		Help: "The number of received events by the MQTT gateway backend (per event type).",
	}, []string{"event"})

	cc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_mqtt_command_count",
		Help: "The number of commands handled by the MQTT gateway backend (per result).",
	}, []string{"result"})

	mqttc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_mqtt_connect_count",
		Help: "The number of times the MQTT gateway backend connected to the MQTT broker.",
	})

	mqttd = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_mqtt_disconnect_count",
		Help: "The number of times the MQTT gateway backend disconnected from the MQTT broker.",
	})
)

func mqttEventCounter(e string) prometheus.Counter {
	return ec.With(prometheus.Labels{"event": e})
}

func mqttCommandCounter(r string) prometheus.Counter {
	return cc.With(prometheus.Labels{"result": r})
}

func mqttConnectCounter() prometheus.Counter {
	return mqttc
}

func mqttDisconnectCounter() prometheus.Counter {
	return mqttd
}
