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

// NetworkUpdate holds the fields of a partial network update. Nil fields
// are left untouched.
type NetworkUpdate struct {
	Name        *string `json:"name"`
	Key         *string `json:"key"`
	Description *string `json:"description"`
}

// NetworkWithDevices is a network together with its visible devices.
type NetworkWithDevices struct {
	storage.Network
	Devices []storage.Device `json:"devices"`
}

func networkNotFound(id int64) error {
	return apierr.NotFound("Network with id = %d not found", id)
}

// ListNetworks returns the networks visible to the principal.
func (s *Service) ListNetworks(ctx context.Context, p *permission.Principal, filters storage.NetworkFilters) ([]storage.Network, error) {
	if err := requireAny(p, permission.GetNetwork); err != nil {
		return nil, err
	}
	filters.Visible = Visibility(p, permission.GetNetwork)
	return storage.GetNetworks(ctx, storage.DB(), filters)
}

// CountNetworks returns the number of networks visible to the principal.
func (s *Service) CountNetworks(ctx context.Context, p *permission.Principal, filters storage.NetworkFilters) (int, error) {
	if err := requireAny(p, permission.GetNetwork); err != nil {
		return 0, err
	}
	filters.Visible = Visibility(p, permission.GetNetwork)
	return storage.GetNetworkCount(ctx, storage.DB(), filters)
}

// GetNetwork returns the network with its devices. A network outside the
// scope of the principal is reported as missing.
func (s *Service) GetNetwork(ctx context.Context, p *permission.Principal, id int64) (NetworkWithDevices, error) {
	var out NetworkWithDevices
	if err := requireAny(p, permission.GetNetwork); err != nil {
		return out, err
	}
	if !permission.Allowed(p, permission.GetNetwork, permission.NetworkScope(id)) {
		return out, networkNotFound(id)
	}

	n, err := storage.GetNetwork(ctx, storage.DB(), id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return out, networkNotFound(id)
		}
		return out, errors.Wrap(err, "get network error")
	}
	out.Network = n

	out.Devices = []storage.Device{}
	if permission.CanAny(p, permission.GetDevice) {
		out.Devices, err = storage.GetDevices(ctx, storage.DB(), storage.DeviceFilters{
			NetworkID: &id,
			Visible:   Visibility(p, permission.GetDevice),
		})
		if err != nil {
			return out, errors.Wrap(err, "get devices error")
		}
	}
	return out, nil
}

// CreateNetwork creates a network. A client creating a network is
// assigned to it.
func (s *Service) CreateNetwork(ctx context.Context, p *permission.Principal, n storage.Network) (storage.Network, error) {
	if err := requireAny(p, permission.ManageNetwork); err != nil {
		return n, err
	}

	err := storage.Transaction(func(tx sqlx.Ext) error {
		if err := storage.CreateNetwork(ctx, tx, &n); err != nil {
			return err
		}
		if p.HasUser() && !p.Admin {
			return storage.AssignUserNetwork(ctx, tx, p.UserID, n.ID)
		}
		return nil
	})
	if err != nil {
		if errors.Cause(err) == storage.ErrAlreadyExists {
			return n, apierr.Conflict("Network with such name already exists")
		}
		return n, err
	}

	logChange(ctx, p, "network created", log.Fields{"network_id": n.ID})
	return n, nil
}

// UpdateNetwork applies a partial update to the network.
func (s *Service) UpdateNetwork(ctx context.Context, p *permission.Principal, id int64, u NetworkUpdate) error {
	if err := requireAny(p, permission.ManageNetwork); err != nil {
		return err
	}
	if !permission.Allowed(p, permission.ManageNetwork, permission.NetworkScope(id)) {
		return networkNotFound(id)
	}

	n, err := storage.GetNetwork(ctx, storage.DB(), id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return networkNotFound(id)
		}
		return errors.Wrap(err, "get network error")
	}
	if u.Name != nil {
		n.Name = *u.Name
	}
	if u.Key != nil {
		n.Key = u.Key
	}
	if u.Description != nil {
		n.Description = u.Description
	}

	if err := storage.UpdateNetwork(ctx, storage.DB(), n); err != nil {
		switch errors.Cause(err) {
		case storage.ErrAlreadyExists:
			return apierr.Conflict("Network with such name already exists")
		case storage.ErrDoesNotExist:
			return networkNotFound(id)
		}
		return err
	}
	return nil
}

// DeleteNetwork deletes the network. Its devices are detached and the
// network is removed from all live subscriptions.
func (s *Service) DeleteNetwork(ctx context.Context, p *permission.Principal, id int64) error {
	if err := requireAny(p, permission.ManageNetwork); err != nil {
		return err
	}
	if !permission.Allowed(p, permission.ManageNetwork, permission.NetworkScope(id)) {
		return networkNotFound(id)
	}

	var guids []string
	err := storage.Transaction(func(tx sqlx.Ext) error {
		var err error
		guids, err = storage.DeleteNetwork(ctx, tx, id)
		return err
	})
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return networkNotFound(id)
		}
		return err
	}

	if err := storage.FlushDeviceCache(ctx, guids...); err != nil {
		log.WithError(err).Error("directory: flush device cache error")
	}
	removed := s.registry.DropNetwork(id)

	logChange(ctx, p, "network deleted", log.Fields{
		"network_id":            id,
		"detached_devices":      len(guids),
		"removed_subscriptions": len(removed),
	})
	return nil
}
