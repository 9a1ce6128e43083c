// Package azureservicebus implements an Azure Service Bus device gateway
// backend. Notifications are read from the notification queue, commands
// are sent to the command queue. The device is identified by the deviceId
// user property.
package azureservicebus

import (
	"context"
	"fmt"
	"time"

	servicebus "github.com/Azure/azure-service-bus-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/backend/gateway"
	"github.com/devicehive/devicehive-server/internal/config"
	"github.com/devicehive/devicehive-server/internal/storage"
)

const deviceIDProperty = "deviceId"

// Backend implements an Azure Service Bus backend.
type Backend struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	commandQueue      *servicebus.Queue
	notificationQueue *servicebus.Queue

	notificationChan chan gateway.Notification
}

// NewBackend creates a new Backend.
func NewBackend(c config.Config) (gateway.Gateway, error) {
	conf := c.Gateway.Backend.AzureServiceBus

	b := Backend{
		notificationChan: make(chan gateway.Notification),
		done:             make(chan struct{}),
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	log.Info("gateway/azure_service_bus: setting up namespace")
	ns, err := servicebus.NewNamespace(servicebus.NamespaceWithConnectionString(conf.ConnectionString))
	if err != nil {
		return nil, errors.Wrap(err, "gateway/azure_service_bus: new namespace error")
	}

	log.WithField("queue", conf.CommandQueueName).Info("gateway/azure_service_bus: setup command queue")
	b.commandQueue, err = ns.NewQueue(conf.CommandQueueName)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/azure_service_bus: new command queue error")
	}

	log.WithField("queue", conf.NotificationQueueName).Info("gateway/azure_service_bus: setup notification queue")
	b.notificationQueue, err = ns.NewQueue(conf.NotificationQueueName)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/azure_service_bus: new notification queue error")
	}

	go func() {
		defer close(b.done)
		for {
			err := b.notificationQueue.Receive(b.ctx, servicebus.HandlerFunc(b.handleMessage))
			if b.ctx.Err() != nil {
				break
			}
			if err != nil {
				log.WithError(err).Error("gateway/azure_service_bus: receive error")
			}
			time.Sleep(time.Second * 2)
		}
	}()

	return &b, nil
}

// SendCommand sends the command to the command queue.
func (b *Backend) SendCommand(ctx context.Context, cmd storage.DeviceCommand) error {
	bb, err := gateway.MarshalCommand(cmd)
	if err != nil {
		return err
	}

	if err := b.commandQueue.Send(ctx, newCommandMessage(cmd, bb)); err != nil {
		azureCommandCounter("error").Inc()
		return errors.Wrap(err, "gateway/azure_service_bus: send command error")
	}

	log.WithFields(log.Fields{
		"device_id":  cmd.DeviceGUID,
		"command_id": cmd.ID,
	}).Info("gateway/azure_service_bus: command sent")

	azureCommandCounter("published").Inc()

	return nil
}

// NotificationChan returns the channel to which received notifications are
// published.
func (b *Backend) NotificationChan() chan gateway.Notification {
	return b.notificationChan
}

// Close closes the backend.
func (b *Backend) Close() error {
	log.Info("gateway/azure_service_bus: closing backend")
	b.cancel()
	<-b.done
	close(b.notificationChan)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.notificationQueue.Close(ctx); err != nil {
		return errors.Wrap(err, "gateway/azure_service_bus: close notification queue error")
	}
	if err := b.commandQueue.Close(ctx); err != nil {
		return errors.Wrap(err, "gateway/azure_service_bus: close command queue error")
	}
	return nil
}

func newCommandMessage(cmd storage.DeviceCommand, data []byte) *servicebus.Message {
	msg := servicebus.NewMessage(data)
	msg.ContentType = "application/json"
	msg.UserProperties = map[string]interface{}{
		deviceIDProperty: cmd.DeviceGUID,
		"command":        cmd.Command,
	}
	return msg
}

// handleMessage completes every message, invalid ones are dead-lettered.
func (b *Backend) handleMessage(ctx context.Context, msg *servicebus.Message) error {
	n, err := decodeMessage(msg)
	if err != nil {
		azureEventCounter("invalid").Inc()
		log.WithError(err).WithField("message_id", msg.ID).Error("gateway/azure_service_bus: handle received message error")
		return msg.DeadLetter(ctx, err)
	}

	azureEventCounter("notification").Inc()

	log.WithFields(log.Fields{
		"device_id":    n.DeviceGUID,
		"notification": n.Notification,
	}).Info("gateway/azure_service_bus: notification received")

	select {
	case b.notificationChan <- n:
	case <-ctx.Done():
		return ctx.Err()
	}

	return msg.Complete(ctx)
}

func decodeMessage(msg *servicebus.Message) (gateway.Notification, error) {
	v, ok := msg.UserProperties[deviceIDProperty]
	if !ok {
		return gateway.Notification{}, fmt.Errorf("message does not contain '%s' property", deviceIDProperty)
	}
	guid, ok := v.(string)
	if !ok {
		return gateway.Notification{}, fmt.Errorf("'%s' property must be a string", deviceIDProperty)
	}
	return gateway.UnmarshalNotification(guid, msg.Data)
}
