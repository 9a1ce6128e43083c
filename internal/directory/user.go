package directory

import (
	"context"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

// Login and password length limits.
const (
	MinLoginLength    = 3
	MaxLoginLength    = 128
	MinPasswordLength = 6
)

const selfDeleteMessage = "You can not delete a user or access key that you use to authenticate this request"

// UserUpdate holds the fields of a user create or partial update.
type UserUpdate struct {
	Login                   *string             `json:"login"`
	Password                *string             `json:"password"`
	OldPassword             *string             `json:"oldPassword"`
	Role                    *storage.UserRole   `json:"role"`
	Status                  *storage.UserStatus `json:"status"`
	IntroReviewed           *bool               `json:"introReviewed"`
	AllDeviceTypesAvailable *bool               `json:"allDeviceTypesAvailable"`
	Data                    *storage.JSONB      `json:"data"`
}

// UserWithNetworks is a user together with its assigned networks.
type UserWithNetworks struct {
	storage.User
	Networks []storage.Network `json:"networks"`
}

func userNotFound(id int64) error {
	return apierr.NotFound("User with id = %d not found", id)
}

func (s *Service) apply(u *storage.User, up UserUpdate) error {
	if up.Login != nil {
		if n := utf8.RuneCountInString(*up.Login); n < MinLoginLength || n > MaxLoginLength {
			return apierr.BadRequest("Login must be between %d and %d characters", MinLoginLength, MaxLoginLength)
		}
		u.Login = *up.Login
	}
	if up.Password != nil {
		if utf8.RuneCountInString(*up.Password) < MinPasswordLength {
			return apierr.BadRequest("Password must be at least %d characters", MinPasswordLength)
		}
		hash, err := s.hasher.Hash(*up.Password)
		if err != nil {
			return errors.Wrap(err, "hash password error")
		}
		u.PasswordHash = hash
	}
	if up.Role != nil {
		u.Role = *up.Role
	}
	if up.Status != nil {
		u.Status = *up.Status
		if u.Status == storage.UserActive {
			u.LoginAttempts = 0
		}
	}
	if up.IntroReviewed != nil {
		u.IntroReviewed = *up.IntroReviewed
	}
	if up.AllDeviceTypesAvailable != nil {
		u.AllDeviceTypesAvailable = *up.AllDeviceTypesAvailable
	}
	if up.Data != nil {
		u.Data = *up.Data
	}
	return nil
}

func (s *Service) getUser(ctx context.Context, id int64) (storage.User, error) {
	u, err := storage.GetUser(ctx, storage.DB(), id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return u, userNotFound(id)
		}
		return u, errors.Wrap(err, "get user error")
	}
	return u, nil
}

func (s *Service) withNetworks(ctx context.Context, u storage.User) (UserWithNetworks, error) {
	networks, err := storage.GetUserNetworks(ctx, storage.DB(), u.ID)
	if err != nil {
		return UserWithNetworks{}, errors.Wrap(err, "get user networks error")
	}
	return UserWithNetworks{User: u, Networks: networks}, nil
}

// ListUsers returns the users matching the filters.
func (s *Service) ListUsers(ctx context.Context, p *permission.Principal, filters storage.UserFilters) ([]storage.User, error) {
	if err := requireAny(p, permission.ManageUser); err != nil {
		return nil, err
	}
	return storage.GetUsers(ctx, storage.DB(), filters)
}

// CountUsers returns the number of users matching the filters.
func (s *Service) CountUsers(ctx context.Context, p *permission.Principal, filters storage.UserFilters) (int, error) {
	if err := requireAny(p, permission.ManageUser); err != nil {
		return 0, err
	}
	return storage.GetUserCount(ctx, storage.DB(), filters)
}

// GetUser returns the user with its networks. A principal without
// ManageUser may only read its own user.
func (s *Service) GetUser(ctx context.Context, p *permission.Principal, id int64) (UserWithNetworks, error) {
	if !permission.CanAny(p, permission.ManageUser) {
		if !p.HasUser() || p.UserID != id || !permission.CanAny(p, permission.GetCurrentUser) {
			return UserWithNetworks{}, apierr.Forbidden()
		}
	}

	u, err := s.getUser(ctx, id)
	if err != nil {
		return UserWithNetworks{}, err
	}
	return s.withNetworks(ctx, u)
}

// GetCurrentUser returns the user backing the principal.
func (s *Service) GetCurrentUser(ctx context.Context, p *permission.Principal) (UserWithNetworks, error) {
	if err := requireAny(p, permission.GetCurrentUser); err != nil {
		return UserWithNetworks{}, err
	}
	if !p.HasUser() {
		return UserWithNetworks{}, apierr.Forbidden()
	}

	u, err := s.getUser(ctx, p.UserID)
	if err != nil {
		return UserWithNetworks{}, err
	}
	return s.withNetworks(ctx, u)
}

// CreateUser creates a user. Login and password are required.
func (s *Service) CreateUser(ctx context.Context, p *permission.Principal, up UserUpdate) (storage.User, error) {
	var u storage.User
	if err := requireAny(p, permission.ManageUser); err != nil {
		return u, err
	}
	if up.Login == nil {
		return u, apierr.BadRequest("Login is required")
	}
	if up.Password == nil {
		return u, apierr.BadRequest("Password is required")
	}

	u.Role = storage.RoleClient
	u.Status = storage.UserActive
	if err := s.apply(&u, up); err != nil {
		return u, err
	}

	if err := storage.CreateUser(ctx, storage.DB(), &u); err != nil {
		if errors.Cause(err) == storage.ErrAlreadyExists {
			return u, apierr.Conflict("User with such login already exists. Please, select another one")
		}
		return u, err
	}

	logChange(ctx, p, "user created", log.Fields{"created_user_id": u.ID})
	return u, nil
}

// UpdateUser applies a partial update to the user.
func (s *Service) UpdateUser(ctx context.Context, p *permission.Principal, id int64, up UserUpdate) error {
	if err := requireAny(p, permission.ManageUser); err != nil {
		return err
	}

	u, err := s.getUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.apply(&u, up); err != nil {
		return err
	}
	if err := s.saveUser(ctx, &u); err != nil {
		return err
	}
	s.engine.RefreshUser(ctx, u.ID)
	return nil
}

// UpdateCurrentUser applies a partial update to the user backing the
// principal. Non-admins can not change their role or status and must
// confirm a password change with the old password.
func (s *Service) UpdateCurrentUser(ctx context.Context, p *permission.Principal, up UserUpdate) error {
	if err := requireAny(p, permission.UpdateCurrentUser); err != nil {
		return err
	}
	if !p.HasUser() {
		return apierr.Forbidden()
	}

	u, err := s.getUser(ctx, p.UserID)
	if err != nil {
		return err
	}

	if !u.IsAdmin() {
		if up.Role != nil || up.Status != nil || up.AllDeviceTypesAvailable != nil {
			return apierr.Forbidden()
		}
		if up.Password != nil {
			if up.OldPassword == nil {
				return apierr.BadRequest("Old password is required")
			}
			ok, err := s.hasher.Compare(u.PasswordHash, *up.OldPassword)
			if err != nil || !ok {
				return apierr.BadRequest("Old password is incorrect")
			}
		}
	}

	if err := s.apply(&u, up); err != nil {
		return err
	}
	if err := s.saveUser(ctx, &u); err != nil {
		return err
	}
	s.engine.RefreshUser(ctx, u.ID)
	return nil
}

func (s *Service) saveUser(ctx context.Context, u *storage.User) error {
	if err := storage.UpdateUser(ctx, storage.DB(), u); err != nil {
		switch errors.Cause(err) {
		case storage.ErrAlreadyExists:
			return apierr.Conflict("User with such login already exists. Please, select another one")
		case storage.ErrDoesNotExist:
			return userNotFound(u.ID)
		}
		return err
	}
	return nil
}

// DeleteUser deletes the user. The user backing the principal can not be
// deleted.
func (s *Service) DeleteUser(ctx context.Context, p *permission.Principal, id int64) error {
	if p.HasUser() && p.UserID == id {
		if !permission.CanAny(p, permission.ManageUser) && (p.Kind == permission.KindUser || p.Kind == permission.KindJWT) {
			return apierr.Unauthorized()
		}
		return apierr.Forbiddenf(selfDeleteMessage)
	}
	if err := requireAny(p, permission.ManageUser); err != nil {
		return err
	}

	if err := storage.DeleteUser(ctx, storage.DB(), id); err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return userNotFound(id)
		}
		return err
	}

	logChange(ctx, p, "user deleted", log.Fields{"deleted_user_id": id})
	s.engine.RefreshUser(ctx, id)
	return nil
}

// GetUserNetwork returns the network when it is assigned to the user.
func (s *Service) GetUserNetwork(ctx context.Context, p *permission.Principal, userID, networkID int64) (storage.Network, error) {
	if err := requireAny(p, permission.ManageUser); err != nil {
		return storage.Network{}, err
	}
	if _, err := s.getUser(ctx, userID); err != nil {
		return storage.Network{}, err
	}

	networks, err := storage.GetUserNetworks(ctx, storage.DB(), userID)
	if err != nil {
		return storage.Network{}, errors.Wrap(err, "get user networks error")
	}
	for _, n := range networks {
		if n.ID == networkID {
			return n, nil
		}
	}
	return storage.Network{}, apierr.NotFound("Network with id = %d not found for user with id = %d", networkID, userID)
}

// AssignNetwork assigns the network to the user.
func (s *Service) AssignNetwork(ctx context.Context, p *permission.Principal, userID, networkID int64) error {
	if err := requireAny(p, permission.ManageUser); err != nil {
		return err
	}
	if _, err := s.getUser(ctx, userID); err != nil {
		return err
	}
	if _, err := storage.GetNetwork(ctx, storage.DB(), networkID); err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return networkNotFound(networkID)
		}
		return err
	}

	if err := storage.AssignUserNetwork(ctx, storage.DB(), userID, networkID); err != nil {
		return err
	}
	logChange(ctx, p, "network assigned", log.Fields{"assigned_user_id": userID, "network_id": networkID})
	s.engine.RefreshUser(ctx, userID)
	return nil
}

// UnassignNetwork removes the network from the user.
func (s *Service) UnassignNetwork(ctx context.Context, p *permission.Principal, userID, networkID int64) error {
	if err := requireAny(p, permission.ManageUser); err != nil {
		return err
	}
	if _, err := s.getUser(ctx, userID); err != nil {
		return err
	}

	if err := storage.UnassignUserNetwork(ctx, storage.DB(), userID, networkID); err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return apierr.NotFound("Network with id = %d not found for user with id = %d", networkID, userID)
		}
		return err
	}
	logChange(ctx, p, "network unassigned", log.Fields{"assigned_user_id": userID, "network_id": networkID})
	s.engine.RefreshUser(ctx, userID)
	return nil
}

// GetUserDeviceTypes returns the device types available to the user.
func (s *Service) GetUserDeviceTypes(ctx context.Context, p *permission.Principal, userID int64) ([]storage.DeviceType, error) {
	if err := requireAny(p, permission.ManageUser); err != nil {
		return nil, err
	}
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if u.AllDeviceTypesAvailable {
		return storage.GetDeviceTypes(ctx, storage.DB(), storage.DeviceTypeFilters{})
	}
	return storage.GetUserDeviceTypes(ctx, storage.DB(), userID)
}

// GetUserDeviceType returns the device type when it is available to the
// user.
func (s *Service) GetUserDeviceType(ctx context.Context, p *permission.Principal, userID, deviceTypeID int64) (storage.DeviceType, error) {
	deviceTypes, err := s.GetUserDeviceTypes(ctx, p, userID)
	if err != nil {
		return storage.DeviceType{}, err
	}
	for _, dt := range deviceTypes {
		if dt.ID == deviceTypeID {
			return dt, nil
		}
	}
	return storage.DeviceType{}, apierr.NotFound("DeviceType with id = %d not found for user with id = %d", deviceTypeID, userID)
}

// AssignDeviceType assigns the device type to the user.
func (s *Service) AssignDeviceType(ctx context.Context, p *permission.Principal, userID, deviceTypeID int64) error {
	if err := requireAny(p, permission.ManageUser); err != nil {
		return err
	}
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.AllDeviceTypesAvailable {
		return apierr.BadRequest("User with id = %d already has access to all device types", userID)
	}
	if _, err := storage.GetDeviceType(ctx, storage.DB(), deviceTypeID); err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return deviceTypeNotFound(deviceTypeID)
		}
		return err
	}

	if err := storage.AssignUserDeviceType(ctx, storage.DB(), userID, deviceTypeID); err != nil {
		return err
	}
	logChange(ctx, p, "device-type assigned", log.Fields{"assigned_user_id": userID, "device_type_id": deviceTypeID})
	s.engine.RefreshUser(ctx, userID)
	return nil
}

// UnassignDeviceType removes the device type from the user.
func (s *Service) UnassignDeviceType(ctx context.Context, p *permission.Principal, userID, deviceTypeID int64) error {
	if err := requireAny(p, permission.ManageUser); err != nil {
		return err
	}
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.AllDeviceTypesAvailable {
		return apierr.BadRequest("User with id = %d has access to all device types", userID)
	}

	if err := storage.UnassignUserDeviceType(ctx, storage.DB(), userID, deviceTypeID); err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return apierr.NotFound("DeviceType with id = %d not found for user with id = %d", deviceTypeID, userID)
		}
		return err
	}
	logChange(ctx, p, "device-type unassigned", log.Fields{"assigned_user_id": userID, "device_type_id": deviceTypeID})
	s.engine.RefreshUser(ctx, userID)
	return nil
}

// SetAllDeviceTypes grants or revokes the access of the user to all
// device types.
func (s *Service) SetAllDeviceTypes(ctx context.Context, p *permission.Principal, userID int64, available bool) error {
	if err := requireAny(p, permission.ManageUser); err != nil {
		return err
	}

	err := storage.Transaction(func(tx sqlx.Ext) error {
		return storage.SetAllDeviceTypesAvailable(ctx, tx, userID, available)
	})
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return userNotFound(userID)
		}
		return err
	}
	logChange(ctx, p, "all device-types flag set", log.Fields{"assigned_user_id": userID, "available": available})
	s.engine.RefreshUser(ctx, userID)
	return nil
}
