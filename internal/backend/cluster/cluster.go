// Package cluster implements the cross-node event bus on top of Redis
// pub/sub.
package cluster

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/subscription"
)

// DefaultChannel is the default Redis channel of the bus.
const DefaultChannel = "devicehive:cluster:events"

// message is either an event or, when UserID is set, a user refresh.
type message struct {
	NodeID string             `json:"nodeId"`
	Event  subscription.Event `json:"event"`
	UserID int64              `json:"userId,omitempty"`
}

// Handler handles the messages published by the other nodes.
type Handler interface {
	DispatchRemote(e subscription.Event)
	RefreshUserRemote(userID int64)
}

// Bus publishes events to, and receives events from, the other nodes.
type Bus struct {
	client  redis.UniversalClient
	channel string
	nodeID  string
	handler Handler

	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewBus subscribes to the channel and starts the receive loop. Messages
// published by other nodes are passed to handler.
func NewBus(ctx context.Context, client redis.UniversalClient, channel, nodeID string, handler Handler) (*Bus, error) {
	if channel == "" {
		channel = DefaultChannel
	}

	b := Bus{
		client:  client,
		channel: channel,
		nodeID:  nodeID,
		handler: handler,
	}

	b.pubsub = client.Subscribe(ctx, channel)
	if _, err := b.pubsub.Receive(ctx); err != nil {
		b.pubsub.Close()
		return nil, errors.Wrap(err, "subscribe error")
	}

	log.WithFields(log.Fields{
		"channel": channel,
		"node_id": nodeID,
	}).Info("cluster: subscribed to event channel")

	b.wg.Add(1)
	go b.receiveLoop()

	return &b, nil
}

// NodeID returns the id of this node.
func (b *Bus) NodeID() string {
	return b.nodeID
}

// Publish publishes the event to the other nodes.
func (b *Bus) Publish(ctx context.Context, e subscription.Event) error {
	return b.publish(ctx, message{NodeID: b.nodeID, Event: e})
}

// PublishUserRefresh asks the other nodes to re-resolve the principals of
// the user.
func (b *Bus) PublishUserRefresh(ctx context.Context, userID int64) error {
	return b.publish(ctx, message{NodeID: b.nodeID, UserID: userID})
}

func (b *Bus) publish(ctx context.Context, m message) error {
	bb, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal message error")
	}

	if err := b.client.Publish(ctx, b.channel, bb).Err(); err != nil {
		clusterEvent("publish_error")
		return errors.Wrap(err, "publish error")
	}
	clusterEvent("published")
	return nil
}

// Close stops the receive loop.
func (b *Bus) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	if err != nil {
		return errors.Wrap(err, "close pubsub error")
	}
	return nil
}

func (b *Bus) receiveLoop() {
	defer b.wg.Done()

	for msg := range b.pubsub.Channel() {
		var m message
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			clusterEvent("unmarshal_error")
			log.WithError(err).Error("cluster: unmarshal event error")
			continue
		}
		if m.NodeID == b.nodeID {
			continue
		}

		clusterEvent("received")
		if m.UserID != 0 {
			b.handler.RefreshUserRemote(m.UserID)
			continue
		}
		b.handler.DispatchRemote(m.Event)
	}
}
