package directory

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

// DeviceTypeUpdate holds the fields of a partial device-type update.
type DeviceTypeUpdate struct {
	Name           *string                `json:"name"`
	Version        *string                `json:"version"`
	Description    *string                `json:"description"`
	IsPermanent    *bool                  `json:"isPermanent"`
	OfflineTimeout *int                   `json:"offlineTimeout"`
	Equipment      *storage.EquipmentList `json:"equipment"`
	Data           *storage.JSONB         `json:"data"`
}

// DeviceTypeWithDevices is a device type together with its visible
// devices.
type DeviceTypeWithDevices struct {
	storage.DeviceType
	Devices []storage.Device `json:"devices"`
}

func deviceTypeNotFound(id int64) error {
	return apierr.NotFound("DeviceType with id = %d not found", id)
}

// ListDeviceTypes returns the device types visible to the principal.
func (s *Service) ListDeviceTypes(ctx context.Context, p *permission.Principal, filters storage.DeviceTypeFilters) ([]storage.DeviceType, error) {
	if err := requireAny(p, permission.GetDeviceType); err != nil {
		return nil, err
	}
	filters.Visible = Visibility(p, permission.GetDeviceType)
	return storage.GetDeviceTypes(ctx, storage.DB(), filters)
}

// CountDeviceTypes returns the number of device types visible to the
// principal.
func (s *Service) CountDeviceTypes(ctx context.Context, p *permission.Principal, filters storage.DeviceTypeFilters) (int, error) {
	if err := requireAny(p, permission.GetDeviceType); err != nil {
		return 0, err
	}
	filters.Visible = Visibility(p, permission.GetDeviceType)
	return storage.GetDeviceTypeCount(ctx, storage.DB(), filters)
}

// GetDeviceType returns the device type with its visible devices.
func (s *Service) GetDeviceType(ctx context.Context, p *permission.Principal, id int64) (DeviceTypeWithDevices, error) {
	var out DeviceTypeWithDevices
	if err := requireAny(p, permission.GetDeviceType); err != nil {
		return out, err
	}
	if !permission.Allowed(p, permission.GetDeviceType, permission.DeviceTypeScope(id)) {
		return out, deviceTypeNotFound(id)
	}

	dt, err := storage.GetDeviceType(ctx, storage.DB(), id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return out, deviceTypeNotFound(id)
		}
		return out, errors.Wrap(err, "get device-type error")
	}
	out.DeviceType = dt

	out.Devices = []storage.Device{}
	if permission.CanAny(p, permission.GetDevice) {
		out.Devices, err = storage.GetDevices(ctx, storage.DB(), storage.DeviceFilters{
			DeviceTypeID: &id,
			Visible:      Visibility(p, permission.GetDevice),
		})
		if err != nil {
			return out, errors.Wrap(err, "get devices error")
		}
	}
	return out, nil
}

// CreateDeviceType creates a device type. A client creating a device type
// without access to all device types is assigned to it.
func (s *Service) CreateDeviceType(ctx context.Context, p *permission.Principal, dt storage.DeviceType) (storage.DeviceType, error) {
	if err := requireAny(p, permission.ManageDeviceType); err != nil {
		return dt, err
	}

	err := storage.Transaction(func(tx sqlx.Ext) error {
		if err := storage.CreateDeviceType(ctx, tx, &dt); err != nil {
			return err
		}
		if p.HasUser() && !p.Admin {
			return storage.AssignUserDeviceType(ctx, tx, p.UserID, dt.ID)
		}
		return nil
	})
	if err != nil {
		if errors.Cause(err) == storage.ErrAlreadyExists {
			return dt, apierr.Conflict("DeviceType with such name already exists")
		}
		return dt, err
	}

	logChange(ctx, p, "device-type created", log.Fields{"device_type_id": dt.ID})
	return dt, nil
}

// UpdateDeviceType applies a partial update to the device type.
func (s *Service) UpdateDeviceType(ctx context.Context, p *permission.Principal, id int64, u DeviceTypeUpdate) error {
	if err := requireAny(p, permission.ManageDeviceType); err != nil {
		return err
	}
	if !permission.Allowed(p, permission.ManageDeviceType, permission.DeviceTypeScope(id)) {
		return deviceTypeNotFound(id)
	}

	dt, err := storage.GetDeviceType(ctx, storage.DB(), id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return deviceTypeNotFound(id)
		}
		return errors.Wrap(err, "get device-type error")
	}
	if u.Name != nil {
		dt.Name = *u.Name
	}
	if u.Version != nil {
		dt.Version = u.Version
	}
	if u.Description != nil {
		dt.Description = u.Description
	}
	if u.IsPermanent != nil {
		dt.IsPermanent = *u.IsPermanent
	}
	if u.OfflineTimeout != nil {
		dt.OfflineTimeout = u.OfflineTimeout
	}
	if u.Equipment != nil {
		dt.Equipment = *u.Equipment
	}
	if u.Data != nil {
		dt.Data = *u.Data
	}

	if err := storage.UpdateDeviceType(ctx, storage.DB(), dt); err != nil {
		switch errors.Cause(err) {
		case storage.ErrAlreadyExists:
			return apierr.Conflict("DeviceType with such name already exists")
		case storage.ErrDoesNotExist:
			return deviceTypeNotFound(id)
		}
		return err
	}
	return nil
}

// DeleteDeviceType deletes the device type. Its devices are detached and
// the device type is removed from all live subscriptions.
func (s *Service) DeleteDeviceType(ctx context.Context, p *permission.Principal, id int64) error {
	if err := requireAny(p, permission.ManageDeviceType); err != nil {
		return err
	}
	if !permission.Allowed(p, permission.ManageDeviceType, permission.DeviceTypeScope(id)) {
		return deviceTypeNotFound(id)
	}

	var guids []string
	err := storage.Transaction(func(tx sqlx.Ext) error {
		var err error
		guids, err = storage.DeleteDeviceType(ctx, tx, id)
		return err
	})
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return deviceTypeNotFound(id)
		}
		return err
	}

	if err := storage.FlushDeviceCache(ctx, guids...); err != nil {
		log.WithError(err).Error("directory: flush device cache error")
	}
	removed := s.registry.DropDeviceType(id)

	logChange(ctx, p, "device-type deleted", log.Fields{
		"device_type_id":        id,
		"detached_devices":      len(guids),
		"removed_subscriptions": len(removed),
	})
	return nil
}
