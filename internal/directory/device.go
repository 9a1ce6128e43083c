package directory

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/logging"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

// DeviceUpdate holds the fields of a device upsert. Nil fields are left
// untouched on update.
type DeviceUpdate struct {
	Name         *string        `json:"name"`
	Key          *string        `json:"key"`
	NetworkID    *int64         `json:"networkId"`
	DeviceTypeID *int64         `json:"deviceTypeId"`
	Status       *string        `json:"status"`
	IsBlocked    *bool          `json:"isBlocked"`
	Data         *storage.JSONB `json:"data"`
}

func (u DeviceUpdate) apply(d *storage.Device) {
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Key != nil {
		d.Key = u.Key
	}
	if u.NetworkID != nil {
		d.NetworkID = u.NetworkID
	}
	if u.DeviceTypeID != nil {
		d.DeviceTypeID = u.DeviceTypeID
	}
	if u.Status != nil {
		d.Status = u.Status
	}
	if u.IsBlocked != nil {
		d.IsBlocked = *u.IsBlocked
	}
	if u.Data != nil {
		d.Data = *u.Data
	}
}

// DeviceNotFound returns the error for a missing or invisible device.
func DeviceNotFound(guid string) error {
	return apierr.NotFound("Device with such deviceId = %s not found", guid)
}

// DeviceScope returns the permission scope of the device.
func DeviceScope(d storage.Device) permission.Scope {
	return permission.DeviceScope(d.GUID, d.NetworkID, d.DeviceTypeID)
}

// GetVisibleDevice returns the device when the principal holds action on
// it. A device outside the scope of the principal is reported as missing.
func (s *Service) GetVisibleDevice(ctx context.Context, p *permission.Principal, action permission.Action, guid string) (storage.Device, error) {
	if err := requireAny(p, action); err != nil {
		return storage.Device{}, err
	}

	d, err := storage.GetAndCacheDevice(ctx, storage.DB(), guid)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return d, DeviceNotFound(guid)
		}
		return d, errors.Wrap(err, "get device error")
	}

	if dec := permission.Evaluate(p, action, DeviceScope(d)); !dec.Allowed {
		log.WithFields(log.Fields{
			"guid":   guid,
			"action": action,
			"reason": dec.Reason,
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Debug("directory: device is not visible")
		return d, DeviceNotFound(guid)
	}
	return d, nil
}

// ListDevices returns the devices visible to the principal.
func (s *Service) ListDevices(ctx context.Context, p *permission.Principal, filters storage.DeviceFilters) ([]storage.Device, error) {
	if err := requireAny(p, permission.GetDevice); err != nil {
		return nil, err
	}
	filters.Visible = Visibility(p, permission.GetDevice)
	return storage.GetDevices(ctx, storage.DB(), filters)
}

// CountDevices returns the number of devices visible to the principal.
func (s *Service) CountDevices(ctx context.Context, p *permission.Principal, filters storage.DeviceFilters) (int, error) {
	if err := requireAny(p, permission.GetDevice); err != nil {
		return 0, err
	}
	filters.Visible = Visibility(p, permission.GetDevice)
	return storage.GetDeviceCount(ctx, storage.DB(), filters)
}

// SaveDevice creates or updates the device with the given guid. It
// returns true when the device was created.
func (s *Service) SaveDevice(ctx context.Context, p *permission.Principal, guid string, u DeviceUpdate) (storage.Device, bool, error) {
	if err := requireAny(p, permission.RegisterDevice); err != nil {
		return storage.Device{}, false, err
	}
	if !storage.ValidGUID(guid) {
		return storage.Device{}, false, apierr.BadRequest("Invalid device id: %s", guid)
	}
	if p.Kind == permission.KindDevice && p.DeviceGUID != guid {
		return storage.Device{}, false, apierr.Forbidden()
	}

	d, created, err := s.saveDevice(ctx, p, guid, u)
	if err != nil {
		return d, created, err
	}

	if err := storage.FlushDeviceCache(ctx, guid); err != nil {
		log.WithError(err).Error("directory: flush device cache error")
	}

	name := DeviceUpdateNotification
	if created {
		name = DeviceAddNotification
	}
	logChange(ctx, p, "device saved", log.Fields{"guid": guid, "created": created})

	// the notifier takes the device lock itself
	if s.notifier != nil {
		s.notifier.NotifyDevice(ctx, d, name)
	}
	return d, created, nil
}

func (s *Service) saveDevice(ctx context.Context, p *permission.Principal, guid string, u DeviceUpdate) (storage.Device, bool, error) {
	unlock := s.engine.LockDevice(guid)
	defer unlock()

	var d storage.Device
	var created bool
	err := storage.Transaction(func(tx sqlx.Ext) error {
		existing, err := storage.GetDeviceForUpdate(ctx, tx, guid)
		switch errors.Cause(err) {
		case nil:
		case storage.ErrDoesNotExist:
			created = true
		default:
			return err
		}

		if created {
			if u.NetworkID == nil {
				return apierr.BadRequest("Network is required")
			}
			d = storage.Device{GUID: guid, Name: guid}
		} else {
			if !permission.Allowed(p, permission.RegisterDevice, DeviceScope(existing)) {
				return DeviceNotFound(guid)
			}
			d = existing
		}
		u.apply(&d)

		if !permission.Allowed(p, permission.RegisterDevice, DeviceScope(d)) {
			return apierr.Forbidden()
		}
		if err := checkReferences(ctx, tx, d); err != nil {
			return err
		}

		if created {
			return storage.CreateDevice(ctx, tx, d)
		}
		return storage.UpdateDevice(ctx, tx, d)
	})
	return d, created, err
}

func checkReferences(ctx context.Context, db sqlx.Queryer, d storage.Device) error {
	if d.NetworkID != nil {
		if _, err := storage.GetNetwork(ctx, db, *d.NetworkID); err != nil {
			if errors.Cause(err) == storage.ErrDoesNotExist {
				return apierr.BadRequest("Network with id = %d not found", *d.NetworkID)
			}
			return errors.Wrap(err, "get network error")
		}
	}
	if d.DeviceTypeID != nil {
		if _, err := storage.GetDeviceType(ctx, db, *d.DeviceTypeID); err != nil {
			if errors.Cause(err) == storage.ErrDoesNotExist {
				return apierr.BadRequest("DeviceType with id = %d not found", *d.DeviceTypeID)
			}
			return errors.Wrap(err, "get device-type error")
		}
	}
	return nil
}

// DeleteDevice deletes the device together with its commands,
// notifications and equipment state. Subscriptions on the device are
// narrowed or removed.
func (s *Service) DeleteDevice(ctx context.Context, p *permission.Principal, guid string) error {
	if _, err := s.GetVisibleDevice(ctx, p, permission.RegisterDevice, guid); err != nil {
		return err
	}

	unlock := s.engine.LockDevice(guid)
	err := storage.DeleteDevice(ctx, storage.DB(), guid)
	unlock()
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return DeviceNotFound(guid)
		}
		return err
	}

	if err := storage.FlushDeviceCache(ctx, guid); err != nil {
		log.WithError(err).Error("directory: flush device cache error")
	}
	removed := s.registry.DropDevice(guid)

	logChange(ctx, p, "device deleted", log.Fields{
		"guid":                  guid,
		"removed_subscriptions": len(removed),
	})
	return nil
}

// GetDeviceEquipments returns the equipment state of the device.
func (s *Service) GetDeviceEquipments(ctx context.Context, p *permission.Principal, guid string) ([]storage.DeviceEquipment, error) {
	if _, err := s.GetVisibleDevice(ctx, p, permission.GetDeviceEquipment, guid); err != nil {
		return nil, err
	}
	return storage.GetDeviceEquipments(ctx, storage.DB(), guid)
}

// GetDeviceEquipment returns the state of a single equipment of the
// device.
func (s *Service) GetDeviceEquipment(ctx context.Context, p *permission.Principal, guid, code string) (storage.DeviceEquipment, error) {
	if _, err := s.GetVisibleDevice(ctx, p, permission.GetDeviceEquipment, guid); err != nil {
		return storage.DeviceEquipment{}, err
	}

	eq, err := storage.GetDeviceEquipment(ctx, storage.DB(), guid, code)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return eq, apierr.NotFound("Equipment with code = %s not found", code)
		}
		return eq, err
	}
	return eq, nil
}
