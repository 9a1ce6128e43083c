package azureservicebus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_azure_service_bus_event_count",
		Help: "The number of received events by the Azure Service Bus gateway backend (per event type).",
	}, []string{"event"})

	cc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_azure_service_bus_command_count",
		Help: "The number of commands handled by the Azure Service Bus gateway backend (per result).",
	}, []string{"result"})
)

func azureEventCounter(e string) prometheus.Counter {
	return ec.With(prometheus.Labels{"event": e})
}

func azureCommandCounter(r string) prometheus.Counter {
	return cc.With(prometheus.Labels{"result": r})
}
