// Package directory implements the resource directory: networks, device
// types, devices, users, access keys and the other administrative
// records. Every operation is checked against the calling principal.
package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/auth"
	"github.com/devicehive/devicehive-server/internal/dispatch"
	"github.com/devicehive/devicehive-server/internal/logging"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

// Names of the notifications emitted on device changes.
const (
	DeviceAddNotification    = "$device-add"
	DeviceUpdateNotification = "$device-update"
)

// DeviceNotifier is notified after a device was created or updated.
type DeviceNotifier interface {
	NotifyDevice(ctx context.Context, d storage.Device, name string)
}

// Service implements the directory operations.
type Service struct {
	engine   *dispatch.Engine
	registry *subscription.Registry
	hasher   auth.PasswordHasher
	notifier DeviceNotifier
}

// NewService creates a new Service. Device writes are serialized with the
// per-device locks of the engine.
func NewService(engine *dispatch.Engine, hasher auth.PasswordHasher) *Service {
	return &Service{
		engine:   engine,
		registry: engine.Registry(),
		hasher:   hasher,
	}
}

// SetNotifier sets the notifier of device changes.
func (s *Service) SetNotifier(n DeviceNotifier) {
	s.notifier = n
}

// Visibility returns the storage visibility of the rows on which the
// principal holds action. The result is nil when nothing is hidden.
func Visibility(p *permission.Principal, action permission.Action) *storage.Visibility {
	v := storage.Visibility{}
	for _, g := range permission.Grants(p, action) {
		c := storage.VisibilityClause{
			AllNetworks:    g.NetworkIDs.All(),
			NetworkIDs:     ids(g.NetworkIDs),
			AllDeviceTypes: g.DeviceTypeIDs.All(),
			DeviceTypeIDs:  ids(g.DeviceTypeIDs),
		}
		if g.DeviceGUIDs != nil {
			c.DeviceGUIDs = append([]string{}, g.DeviceGUIDs.GUIDs()...)
		}
		if c.AllNetworks && c.AllDeviceTypes && c.DeviceGUIDs == nil {
			return nil
		}
		v.Clauses = append(v.Clauses, c)
	}
	return &v
}

func ids(s *permission.IDSet) []int64 {
	if s == nil || s.All() {
		return []int64{}
	}
	return s.IDs()
}

// requireAny returns 403 when the principal does not hold the action on
// any scope.
func requireAny(p *permission.Principal, action permission.Action) error {
	if !permission.CanAny(p, action) {
		return apierr.Forbidden()
	}
	return nil
}

// CheckNetworks checks that the principal holds action on every network
// and that all networks exist. Ids outside the scope return 403, missing
// ids return 404.
func (s *Service) CheckNetworks(ctx context.Context, p *permission.Principal, action permission.Action, networkIDs []int64) error {
	for _, id := range networkIDs {
		if !permission.Allowed(p, action, permission.NetworkScope(id)) {
			return apierr.Forbidden()
		}
	}

	existing, err := storage.GetExistingNetworkIDs(ctx, storage.DB(), networkIDs)
	if err != nil {
		return errors.Wrap(err, "get networks error")
	}
	if missing := missingIDs(networkIDs, existing); len(missing) != 0 {
		return apierr.NotFound("Networks with such networkIds wasn't found: {%s}", joinIDs(missing))
	}
	return nil
}

// CheckDeviceTypes checks that the principal holds action on every device
// type and that all device types exist.
func (s *Service) CheckDeviceTypes(ctx context.Context, p *permission.Principal, action permission.Action, deviceTypeIDs []int64) error {
	for _, id := range deviceTypeIDs {
		if !permission.Allowed(p, action, permission.DeviceTypeScope(id)) {
			return apierr.Forbidden()
		}
	}

	existing, err := storage.GetExistingDeviceTypeIDs(ctx, storage.DB(), deviceTypeIDs)
	if err != nil {
		return errors.Wrap(err, "get device-types error")
	}
	if missing := missingIDs(deviceTypeIDs, existing); len(missing) != 0 {
		return apierr.NotFound("Device types with such deviceTypeIds wasn't found: {%s}", joinIDs(missing))
	}
	return nil
}

func missingIDs(ids, existing []int64) []int64 {
	set := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		set[id] = struct{}{}
	}
	var out []int64
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}

func logChange(ctx context.Context, p *permission.Principal, msg string, fields log.Fields) {
	fields["ctx_id"] = ctx.Value(logging.ContextIDKey)
	if p != nil {
		fields["principal"] = p.Kind.String()
		if p.HasUser() {
			fields["user_id"] = p.UserID
		}
	}
	log.WithFields(fields).Info("directory: " + msg)
}
