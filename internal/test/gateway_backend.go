package test

import (
	"context"

	"github.com/devicehive/devicehive-server/internal/backend/gateway"
	"github.com/devicehive/devicehive-server/internal/storage"
)

// GatewayBackend is a test device gateway backend.
type GatewayBackend struct {
	notificationChan chan gateway.Notification
	CommandChan      chan storage.DeviceCommand
}

// NewGatewayBackend returns a new GatewayBackend.
func NewGatewayBackend() *GatewayBackend {
	return &GatewayBackend{
		notificationChan: make(chan gateway.Notification, 100),
		CommandChan:      make(chan storage.DeviceCommand, 100),
	}
}

// SendCommand method.
func (b *GatewayBackend) SendCommand(ctx context.Context, cmd storage.DeviceCommand) error {
	b.CommandChan <- cmd
	return nil
}

// NotificationChan method.
func (b *GatewayBackend) NotificationChan() chan gateway.Notification {
	return b.notificationChan
}

// Close method.
func (b *GatewayBackend) Close() error {
	if b.notificationChan != nil {
		close(b.notificationChan)
	}
	return nil
}
