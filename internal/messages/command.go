package messages

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/logging"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

// CommandUpdate holds the fields of a command insert or partial update.
type CommandUpdate struct {
	Command    *string        `json:"command"`
	Parameters *storage.JSONB `json:"parameters"`
	Lifetime   *int           `json:"lifetime"`
	Status     *string        `json:"status"`
	Result     *storage.JSONB `json:"result"`
}

func commandNotFound() error {
	return apierr.NotFound("Requested command not found")
}

func updatedAt() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// InsertCommand stores a command for the device and dispatches it to the
// matching subscriptions before returning.
func (s *Service) InsertCommand(ctx context.Context, p *permission.Principal, guid string, u CommandUpdate) (storage.DeviceCommand, error) {
	var c storage.DeviceCommand
	d, err := s.dir.GetVisibleDevice(ctx, p, permission.CreateDeviceCommand, guid)
	if err != nil {
		return c, err
	}
	if u.Command == nil || *u.Command == "" {
		return c, apierr.BadRequest("Command is required")
	}

	c = storage.DeviceCommand{
		DeviceGUID:   d.GUID,
		Command:      *u.Command,
		Lifetime:     u.Lifetime,
		Status:       u.Status,
		NetworkID:    d.NetworkID,
		DeviceTypeID: d.DeviceTypeID,
	}
	if u.Parameters != nil {
		c.Parameters = *u.Parameters
	}
	if u.Result != nil {
		c.Result = *u.Result
	}
	if p.HasUser() {
		userID := p.UserID
		c.UserID = &userID
	}

	unlock := s.engine.LockDevice(guid)
	defer unlock()

	if err := storage.CreateDeviceCommand(ctx, storage.DB(), &c); err != nil {
		return c, err
	}
	ev, err := CommandEvent(subscription.KindCommand, c)
	if err != nil {
		return c, err
	}
	s.engine.Publish(ctx, ev)
	messageInserted(subscription.KindCommand)

	return c, nil
}

// UpdateCommand applies a partial update to the command and dispatches a
// command update. Supplying status or result sets lastUpdated.
func (s *Service) UpdateCommand(ctx context.Context, p *permission.Principal, guid string, id int64, u CommandUpdate) (storage.DeviceCommand, error) {
	var c storage.DeviceCommand
	if _, err := s.dir.GetVisibleDevice(ctx, p, permission.UpdateDeviceCommand, guid); err != nil {
		return c, err
	}

	unlock := s.engine.LockDevice(guid)
	defer unlock()

	c, err := storage.GetDeviceCommand(ctx, storage.DB(), guid, id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return c, commandNotFound()
		}
		return c, errors.Wrap(err, "get command error")
	}

	if u.Command != nil {
		c.Command = *u.Command
	}
	if u.Parameters != nil {
		c.Parameters = *u.Parameters
	}
	if u.Lifetime != nil {
		c.Lifetime = u.Lifetime
	}
	if u.Status != nil {
		c.Status = u.Status
	}
	if u.Result != nil {
		c.Result = *u.Result
	}
	if u.Status != nil || u.Result != nil {
		ts := updatedAt()
		c.LastUpdated = &ts
	}

	if err := storage.UpdateDeviceCommand(ctx, storage.DB(), c); err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return c, commandNotFound()
		}
		return c, err
	}
	ev, err := CommandEvent(subscription.KindCommandUpdate, c)
	if err != nil {
		return c, err
	}
	s.engine.Publish(ctx, ev)

	log.WithFields(log.Fields{
		"id":     id,
		"guid":   guid,
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Debug("messages: command updated")

	return c, nil
}

// GetCommand returns the command of the device.
func (s *Service) GetCommand(ctx context.Context, p *permission.Principal, guid string, id int64) (storage.DeviceCommand, error) {
	if _, err := s.dir.GetVisibleDevice(ctx, p, permission.GetDeviceCommand, guid); err != nil {
		return storage.DeviceCommand{}, err
	}

	c, err := storage.GetDeviceCommand(ctx, storage.DB(), guid, id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return c, commandNotFound()
		}
		return c, err
	}
	return c, nil
}

// ListCommands returns the commands matching the query.
func (s *Service) ListCommands(ctx context.Context, p *permission.Principal, q Query) ([]storage.DeviceCommand, error) {
	if err := s.checkScope(ctx, p, permission.GetDeviceCommand, q); err != nil {
		return nil, err
	}
	return storage.GetDeviceCommands(ctx, storage.DB(), q.storageFilters(p, permission.GetDeviceCommand))
}

// PollCommands returns the commands since the query timestamp, or waits
// for new commands when there are none. The result is empty on timeout.
func (s *Service) PollCommands(ctx context.Context, p *permission.Principal, q Query) ([]storage.DeviceCommand, error) {
	if err := s.checkScope(ctx, p, permission.GetDeviceCommand, q); err != nil {
		return nil, err
	}

	events, err := s.poll(ctx, p, subscription.KindCommand, q)
	if err != nil {
		return nil, err
	}

	out := make([]storage.DeviceCommand, 0, len(events))
	for _, e := range events {
		c, err := DecodeCommand(e)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// PollCommandUpdate waits until the command is updated. A command that has
// already been updated is returned immediately. The bool is false on
// timeout.
func (s *Service) PollCommandUpdate(ctx context.Context, p *permission.Principal, guid string, id int64, waitTimeout *time.Duration) (storage.DeviceCommand, bool, error) {
	if _, err := s.dir.GetVisibleDevice(ctx, p, permission.GetDeviceCommand, guid); err != nil {
		return storage.DeviceCommand{}, false, err
	}

	w := s.engine.NewWaiter(p, subscription.Filter{
		Kind:        subscription.KindCommandUpdate,
		DeviceGUIDs: []string{guid},
		CommandID:   id,
	})
	defer w.Close()

	c, err := storage.GetDeviceCommand(ctx, storage.DB(), guid, id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return c, false, commandNotFound()
		}
		return c, false, err
	}
	if c.LastUpdated != nil {
		return c, true, nil
	}

	events := w.Wait(ctx, s.WaitTimeout(waitTimeout))
	if len(events) == 0 {
		pollCompleted(subscription.KindCommandUpdate, "timeout")
		return c, false, nil
	}
	pollCompleted(subscription.KindCommandUpdate, "event")

	c, err = DecodeCommand(events[len(events)-1])
	if err != nil {
		return c, false, err
	}
	return c, true, nil
}
