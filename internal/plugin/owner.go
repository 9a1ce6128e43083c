package plugin

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

// pushFrame is the message published on the plugin topic. It has the
// layout of a WebSocket push frame.
type pushFrame struct {
	Action         string          `json:"action"`
	SubscriptionID int64           `json:"subscriptionId"`
	Command        json.RawMessage `json:"command,omitempty"`
	Notification   json.RawMessage `json:"notification,omitempty"`
}

func newPushFrame(s *subscription.Subscription, e subscription.Event) pushFrame {
	f := pushFrame{SubscriptionID: s.ID}
	switch e.Kind {
	case subscription.KindCommand:
		f.Action = "command/insert"
		f.Command = e.Payload
	case subscription.KindCommandUpdate:
		f.Action = "command/update"
		f.Command = e.Payload
	case subscription.KindNotification:
		f.Action = "notification/insert"
		f.Notification = e.Payload
	}
	return f
}

// owner publishes the events of one plugin on its Redis topic.
type owner struct {
	topic  string
	filter string
	client redis.UniversalClient

	mu        sync.RWMutex
	principal *permission.Principal

	queue chan []byte
	wg    sync.WaitGroup
}

func newOwner(client redis.UniversalClient, topic, filter string, p *permission.Principal, queueSize int) *owner {
	o := owner{
		topic:     topic,
		filter:    filter,
		client:    client,
		principal: p,
		queue:     make(chan []byte, queueSize),
	}

	o.wg.Add(1)
	go o.publishLoop()

	return &o
}

func (o *owner) OwnerID() string {
	return "plugin:" + o.topic
}

func (o *owner) Principal() *permission.Principal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.principal
}

func (o *owner) setPrincipal(p *permission.Principal) {
	o.mu.Lock()
	o.principal = p
	o.mu.Unlock()
}

// Deliver queues the event for publishing. Events received from other
// nodes are skipped, the node that stored them publishes them.
func (o *owner) Deliver(s *subscription.Subscription, e subscription.Event) {
	if e.Remote {
		return
	}

	b, err := json.Marshal(newPushFrame(s, e))
	if err != nil {
		pluginEvent("marshal_error")
		log.WithError(err).WithField("topic_name", o.topic).Error("plugin: marshal event error")
		return
	}

	select {
	case o.queue <- b:
	default:
		pluginEvent("dropped")
		log.WithField("topic_name", o.topic).Warning("plugin: publish queue is full, event dropped")
	}
}

func (o *owner) publishLoop() {
	defer o.wg.Done()

	for b := range o.queue {
		if err := o.client.Publish(context.Background(), o.topic, b).Err(); err != nil {
			pluginEvent("publish_error")
			log.WithError(err).WithField("topic_name", o.topic).Error("plugin: publish event error")
			continue
		}
		pluginEvent("published")
	}
}

// close removes the subscriptions of the owner and waits until the queued
// events are published.
func (o *owner) close(r *subscription.Registry) {
	r.RemoveOwner(o.OwnerID())
	close(o.queue)
	o.wg.Wait()
}
