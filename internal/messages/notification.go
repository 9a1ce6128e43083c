package messages

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/logging"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

// NotificationInsert holds the fields of a notification insert.
type NotificationInsert struct {
	Notification string        `json:"notification"`
	Parameters   storage.JSONB `json:"parameters"`
}

func notificationNotFound() error {
	return apierr.NotFound("Requested notification not found")
}

// InsertNotification stores a notification of the device and dispatches
// it to the matching subscriptions before returning. Blocked devices can
// not insert notifications.
func (s *Service) InsertNotification(ctx context.Context, p *permission.Principal, guid string, in NotificationInsert) (storage.DeviceNotification, error) {
	d, err := s.dir.GetVisibleDevice(ctx, p, permission.CreateDeviceNotification, guid)
	if err != nil {
		return storage.DeviceNotification{}, err
	}
	if d.IsBlocked {
		return storage.DeviceNotification{}, apierr.Forbiddenf("Device with such deviceId = %s is blocked", guid)
	}
	if in.Notification == "" {
		return storage.DeviceNotification{}, apierr.BadRequest("Notification is required")
	}
	return s.insertNotification(ctx, d, in)
}

func (s *Service) insertNotification(ctx context.Context, d storage.Device, in NotificationInsert) (storage.DeviceNotification, error) {
	n := storage.DeviceNotification{
		DeviceGUID:   d.GUID,
		Notification: in.Notification,
		Parameters:   in.Parameters,
		NetworkID:    d.NetworkID,
		DeviceTypeID: d.DeviceTypeID,
	}

	unlock := s.engine.LockDevice(d.GUID)
	defer unlock()

	if err := storage.CreateDeviceNotification(ctx, storage.DB(), &n); err != nil {
		return n, err
	}
	if n.Notification == EquipmentNotification {
		s.saveEquipment(ctx, n)
	}

	ev, err := NotificationEvent(n)
	if err != nil {
		return n, err
	}
	s.engine.Publish(ctx, ev)
	messageInserted(subscription.KindNotification)

	return n, nil
}

// saveEquipment upserts the equipment state when the notification names
// an equipment code.
func (s *Service) saveEquipment(ctx context.Context, n storage.DeviceNotification) {
	var params struct {
		Equipment string `json:"equipment"`
	}
	if n.Parameters.IsNull() || json.Unmarshal(n.Parameters, &params) != nil || params.Equipment == "" {
		return
	}

	err := storage.SaveDeviceEquipment(ctx, storage.DB(), storage.DeviceEquipment{
		DeviceGUID: n.DeviceGUID,
		Code:       params.Equipment,
		Timestamp:  n.Timestamp,
		Parameters: n.Parameters,
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guid":   n.DeviceGUID,
			"code":   params.Equipment,
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Error("messages: save equipment state error")
	}
}

// NotifyDevice inserts a device-change notification carrying the device.
// It implements directory.DeviceNotifier.
func (s *Service) NotifyDevice(ctx context.Context, d storage.Device, name string) {
	b, err := json.Marshal(d)
	if err == nil {
		_, err = s.insertNotification(ctx, d, NotificationInsert{
			Notification: name,
			Parameters:   storage.JSONB(b),
		})
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guid":         d.GUID,
			"notification": name,
			"ctx_id":       ctx.Value(logging.ContextIDKey),
		}).Error("messages: insert device notification error")
	}
}

// GetNotification returns the notification of the device.
func (s *Service) GetNotification(ctx context.Context, p *permission.Principal, guid string, id int64) (storage.DeviceNotification, error) {
	if _, err := s.dir.GetVisibleDevice(ctx, p, permission.GetDeviceNotification, guid); err != nil {
		return storage.DeviceNotification{}, err
	}

	n, err := storage.GetDeviceNotification(ctx, storage.DB(), guid, id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return n, notificationNotFound()
		}
		return n, err
	}
	return n, nil
}

// ListNotifications returns the notifications matching the query.
func (s *Service) ListNotifications(ctx context.Context, p *permission.Principal, q Query) ([]storage.DeviceNotification, error) {
	if err := s.checkScope(ctx, p, permission.GetDeviceNotification, q); err != nil {
		return nil, err
	}
	return storage.GetDeviceNotifications(ctx, storage.DB(), q.storageFilters(p, permission.GetDeviceNotification))
}

// PollNotifications returns the notifications since the query timestamp,
// or waits for new notifications when there are none.
func (s *Service) PollNotifications(ctx context.Context, p *permission.Principal, q Query) ([]storage.DeviceNotification, error) {
	if err := s.checkScope(ctx, p, permission.GetDeviceNotification, q); err != nil {
		return nil, err
	}

	events, err := s.poll(ctx, p, subscription.KindNotification, q)
	if err != nil {
		return nil, err
	}

	out := make([]storage.DeviceNotification, 0, len(events))
	for _, e := range events {
		n, err := DecodeNotification(e)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
