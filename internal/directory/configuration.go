package directory

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

// GetConfiguration returns the configuration value with the given name.
func (s *Service) GetConfiguration(ctx context.Context, p *permission.Principal, name string) (storage.Configuration, error) {
	if err := requireAny(p, permission.ManageConfiguration); err != nil {
		return storage.Configuration{}, err
	}

	c, err := storage.GetConfiguration(ctx, storage.DB(), name)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return c, apierr.NotFound("Requested config with name = %s not found", name)
		}
		return c, err
	}
	return c, nil
}

// PutConfiguration creates or updates the configuration value.
func (s *Service) PutConfiguration(ctx context.Context, p *permission.Principal, name, value string) (storage.Configuration, error) {
	if err := requireAny(p, permission.ManageConfiguration); err != nil {
		return storage.Configuration{}, err
	}

	c, err := storage.SaveConfiguration(ctx, storage.DB(), name, value)
	if err != nil {
		return c, err
	}
	logChange(ctx, p, "configuration saved", log.Fields{"name": name, "entity_version": c.EntityVersion})
	return c, nil
}

// DeleteConfiguration deletes the configuration value.
func (s *Service) DeleteConfiguration(ctx context.Context, p *permission.Principal, name string) error {
	if err := requireAny(p, permission.ManageConfiguration); err != nil {
		return err
	}
	return storage.DeleteConfiguration(ctx, storage.DB(), name)
}
