// Package gateway bridges a device gateway backend into the broker.
// Notifications received by the backend are inserted as if the device
// published them, commands inserted on this node are sent to the backend.
package gateway

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/backend/gateway"
	"github.com/devicehive/devicehive-server/internal/dispatch"
	"github.com/devicehive/devicehive-server/internal/logging"
	"github.com/devicehive/devicehive-server/internal/messages"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

// OwnerID is the subscription owner id of the bridge.
const OwnerID = "gateway"

const (
	commandQueueSize = 1024
	sendTimeout      = 10 * time.Second
)

// Bridge forwards between a gateway backend and the broker.
type Bridge struct {
	wg sync.WaitGroup

	backend   gateway.Gateway
	messages  *messages.Service
	registry  *subscription.Registry
	principal *permission.Principal
	commands  chan storage.DeviceCommand
}

// NewBridge creates a new Bridge.
func NewBridge(b gateway.Gateway, msgs *messages.Service, engine *dispatch.Engine) *Bridge {
	return &Bridge{
		backend:   b,
		messages:  msgs,
		registry:  engine.Registry(),
		principal: &permission.Principal{Kind: permission.KindGateway},
		commands:  make(chan storage.DeviceCommand, commandQueueSize),
	}
}

// OwnerID implements subscription.Owner.
func (b *Bridge) OwnerID() string {
	return OwnerID
}

// Principal implements subscription.Owner.
func (b *Bridge) Principal() *permission.Principal {
	return b.principal
}

// Deliver implements subscription.Owner. Remote commands are sent by the
// node which stored them.
func (b *Bridge) Deliver(s *subscription.Subscription, e subscription.Event) {
	if e.Remote {
		return
	}

	cmd, err := messages.DecodeCommand(e)
	if err != nil {
		log.WithError(err).WithField("command_id", e.ID).Error("gateway: decode command error")
		return
	}

	select {
	case b.commands <- cmd:
	default:
		commandCounter("dropped").Inc()
		log.WithFields(log.Fields{
			"device_id":  cmd.DeviceGUID,
			"command_id": cmd.ID,
		}).Warning("gateway: command queue is full, command dropped")
	}
}

// Start subscribes to the commands and starts the forwarding loops.
func (b *Bridge) Start() error {
	b.registry.Add(b, subscription.Filter{Kind: subscription.KindCommand}, false)

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		for n := range b.backend.NotificationChan() {
			b.handleNotification(logging.NewContext(context.Background()), n)
		}
	}()
	go func() {
		defer b.wg.Done()
		for cmd := range b.commands {
			b.sendCommand(logging.NewContext(context.Background()), cmd)
		}
	}()

	return nil
}

// Stop waits for the bridge to complete the pending messages.
// At this stage the gateway backend must already been closed.
func (b *Bridge) Stop() error {
	b.registry.RemoveOwner(OwnerID)
	close(b.commands)
	b.wg.Wait()
	return nil
}

func (b *Bridge) handleNotification(ctx context.Context, n gateway.Notification) {
	dn, err := b.messages.InsertNotification(ctx, b.principal, n.DeviceGUID, messages.NotificationInsert{
		Notification: n.Notification,
		Parameters:   n.Parameters,
	})
	if err != nil {
		notificationCounter("error").Inc()
		log.WithError(err).WithFields(log.Fields{
			"device_id": n.DeviceGUID,
			"ctx_id":    ctx.Value(logging.ContextIDKey),
		}).Error("gateway: insert notification error")
		return
	}

	notificationCounter("inserted").Inc()
	log.WithFields(log.Fields{
		"device_id":       dn.DeviceGUID,
		"notification_id": dn.ID,
		"ctx_id":          ctx.Value(logging.ContextIDKey),
	}).Info("gateway: notification inserted")
}

func (b *Bridge) sendCommand(ctx context.Context, cmd storage.DeviceCommand) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := b.backend.SendCommand(ctx, cmd); err != nil {
		commandCounter("error").Inc()
		log.WithError(err).WithFields(log.Fields{
			"device_id":  cmd.DeviceGUID,
			"command_id": cmd.ID,
			"ctx_id":     ctx.Value(logging.ContextIDKey),
		}).Error("gateway: send command error")
		return
	}
	commandCounter("sent").Inc()
}
