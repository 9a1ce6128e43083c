// Package gcppubsub implements a Google Cloud Pub/Sub device gateway
// backend. Devices publish notifications on the notification topic with
// a deviceId attribute, commands are published on the command topic.
package gcppubsub

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/devicehive/devicehive-server/internal/backend/gateway"
	"github.com/devicehive/devicehive-server/internal/config"
	"github.com/devicehive/devicehive-server/internal/storage"
)

const (
	notificationSubscriptionTmpl = "%s-devicehive"
	deviceIDAttribute            = "deviceId"
)

// Backend implements a Google Cloud Pub/Sub backend.
type Backend struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	client                   *pubsub.Client
	commandTopic             *pubsub.Topic
	notificationTopic        *pubsub.Topic
	notificationSubscription *pubsub.Subscription

	notificationChan chan gateway.Notification
}

// NewBackend creates a new Backend.
func NewBackend(c config.Config) (gateway.Gateway, error) {
	conf := c.Gateway.Backend.GCPPubSub

	b := Backend{
		notificationChan: make(chan gateway.Notification),
		done:             make(chan struct{}),
	}
	var err error
	var o []option.ClientOption

	b.ctx, b.cancel = context.WithCancel(context.Background())

	if conf.CredentialsFile != "" {
		o = append(o, option.WithCredentialsFile(conf.CredentialsFile))
	}

	log.Info("gateway/gcp_pub_sub: setting up client")
	b.client, err = pubsub.NewClient(b.ctx, conf.ProjectID, o...)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/gcp_pub_sub: new pubsub client error")
	}

	log.WithField("topic", conf.CommandTopicName).Info("gateway/gcp_pub_sub: setup command topic")
	b.commandTopic, err = b.topic(conf.CommandTopicName)
	if err != nil {
		return nil, err
	}

	log.WithField("topic", conf.NotificationTopicName).Info("gateway/gcp_pub_sub: setup notification topic")
	b.notificationTopic, err = b.topic(conf.NotificationTopicName)
	if err != nil {
		return nil, err
	}

	subName := fmt.Sprintf(notificationSubscriptionTmpl, conf.NotificationTopicName)

	log.WithField("subscription", subName).Info("gateway/gcp_pub_sub: check if notification subscription exists")
	b.notificationSubscription = b.client.Subscription(subName)
	ok, err := b.notificationSubscription.Exists(b.ctx)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/gcp_pub_sub: subscription exists error")
	}

	if !ok {
		log.WithField("subscription", subName).Info("gateway/gcp_pub_sub: create notification subscription")
		b.notificationSubscription, err = b.client.CreateSubscription(b.ctx, subName, pubsub.SubscriptionConfig{
			Topic:             b.notificationTopic,
			RetentionDuration: conf.NotificationRetentionDuration,
		})
		if err != nil {
			return nil, errors.Wrap(err, "gateway/gcp_pub_sub: create subscription error")
		}
	}

	go func() {
		defer close(b.done)
		for {
			err := b.notificationSubscription.Receive(b.ctx, b.receiveFunc)
			if err != nil && b.ctx.Err() == nil {
				log.WithError(err).Error("gateway/gcp_pub_sub: receive error")
				time.Sleep(time.Second * 2)
				continue
			}

			break
		}
	}()

	return &b, nil
}

func (b *Backend) topic(name string) (*pubsub.Topic, error) {
	t := b.client.Topic(name)
	ok, err := t.Exists(b.ctx)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/gcp_pub_sub: topic exists error")
	}
	if !ok {
		return nil, fmt.Errorf("gateway/gcp_pub_sub: topic '%s' does not exist", name)
	}
	return t, nil
}

// SendCommand publishes the command on the command topic.
func (b *Backend) SendCommand(ctx context.Context, cmd storage.DeviceCommand) error {
	start := time.Now()

	bb, err := gateway.MarshalCommand(cmd)
	if err != nil {
		return err
	}

	res := b.commandTopic.Publish(ctx, newCommandMessage(cmd, bb))
	if _, err := res.Get(ctx); err != nil {
		gcpCommandCounter("error").Inc()
		return errors.Wrap(err, "gateway/gcp_pub_sub: get publish result error")
	}

	log.WithFields(log.Fields{
		"device_id":  cmd.DeviceGUID,
		"command_id": cmd.ID,
		"duration":   time.Since(start),
	}).Info("gateway/gcp_pub_sub: command published")

	gcpCommandCounter("published").Inc()

	return nil
}

// NotificationChan returns the channel to which received notifications are
// published.
func (b *Backend) NotificationChan() chan gateway.Notification {
	return b.notificationChan
}

// Close closes the backend.
func (b *Backend) Close() error {
	log.Info("gateway/gcp_pub_sub: closing backend")
	b.cancel()
	<-b.done
	b.commandTopic.Stop()
	close(b.notificationChan)
	return b.client.Close()
}

func newCommandMessage(cmd storage.DeviceCommand, data []byte) *pubsub.Message {
	return &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			deviceIDAttribute: cmd.DeviceGUID,
			"command":         cmd.Command,
		},
	}
}

func (b *Backend) receiveFunc(ctx context.Context, msg *pubsub.Message) {
	msg.Ack()

	n, err := decodeMessage(msg)
	if err != nil {
		gcpEventCounter("invalid").Inc()
		log.WithError(err).WithFields(log.Fields{
			"message_id":  msg.ID,
			"data_base64": base64.StdEncoding.EncodeToString(msg.Data),
		}).Error("gateway/gcp_pub_sub: handle received message error")
		return
	}

	gcpEventCounter("notification").Inc()

	log.WithFields(log.Fields{
		"device_id":    n.DeviceGUID,
		"notification": n.Notification,
	}).Info("gateway/gcp_pub_sub: notification received")

	select {
	case b.notificationChan <- n:
	case <-ctx.Done():
	}
}

func decodeMessage(msg *pubsub.Message) (gateway.Notification, error) {
	guid, ok := msg.Attributes[deviceIDAttribute]
	if !ok {
		return gateway.Notification{}, fmt.Errorf("message does not contain '%s' attribute", deviceIDAttribute)
	}
	return gateway.UnmarshalNotification(guid, msg.Data)
}
