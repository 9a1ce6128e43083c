package directory

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/auth"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

// AccessKeyUpdate holds the fields of an access-key create or partial
// update.
type AccessKeyUpdate struct {
	Label          *string                  `json:"label"`
	ExpirationDate *time.Time               `json:"expirationDate"`
	Type           *storage.AccessKeyType   `json:"type"`
	Permissions    *[]permission.Permission `json:"permissions"`
}

func accessKeyNotFound(id int64) error {
	return apierr.NotFound("Access key with id = %d not found", id)
}

func validatePermissions(perms []permission.Permission) error {
	for _, perm := range perms {
		for _, a := range perm.Actions {
			if _, ok := permission.ParseAction(string(a)); !ok {
				return apierr.BadRequest("Unknown action: %s", a)
			}
		}
	}
	return nil
}

// checkKeyOwner checks that the principal may manage the access keys of
// the user. Keys of other users require ManageUser.
func (s *Service) checkKeyOwner(ctx context.Context, p *permission.Principal, userID int64) error {
	if err := requireAny(p, permission.ManageAccessKey); err != nil {
		return err
	}
	if !p.HasUser() {
		return apierr.Forbidden()
	}
	if p.UserID == userID {
		return nil
	}
	if !permission.CanAny(p, permission.ManageUser) {
		return apierr.Forbidden()
	}
	_, err := s.getUser(ctx, userID)
	return err
}

// ListAccessKeys returns the access keys of the user.
func (s *Service) ListAccessKeys(ctx context.Context, p *permission.Principal, userID int64) ([]storage.AccessKey, error) {
	if err := s.checkKeyOwner(ctx, p, userID); err != nil {
		return nil, err
	}
	return storage.GetUserAccessKeys(ctx, storage.DB(), userID)
}

// GetAccessKey returns the access key of the user.
func (s *Service) GetAccessKey(ctx context.Context, p *permission.Principal, userID, id int64) (storage.AccessKey, error) {
	if err := s.checkKeyOwner(ctx, p, userID); err != nil {
		return storage.AccessKey{}, err
	}

	k, err := storage.GetUserAccessKey(ctx, storage.DB(), userID, id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return k, accessKeyNotFound(id)
		}
		return k, err
	}
	return k, nil
}

// CreateAccessKey creates an access key for the user. The key value is
// generated.
func (s *Service) CreateAccessKey(ctx context.Context, p *permission.Principal, userID int64, up AccessKeyUpdate) (storage.AccessKey, error) {
	var k storage.AccessKey
	if err := s.checkKeyOwner(ctx, p, userID); err != nil {
		return k, err
	}
	if up.Label == nil || *up.Label == "" {
		return k, apierr.BadRequest("Label is required")
	}
	if up.Permissions == nil || len(*up.Permissions) == 0 {
		return k, apierr.BadRequest("At least one permission is required")
	}

	key, err := auth.GenerateKey()
	if err != nil {
		return k, errors.Wrap(err, "generate key error")
	}
	k = storage.AccessKey{
		UserID: userID,
		Key:    key,
		Type:   storage.AccessKeyDefault,
	}
	if err := applyAccessKey(&k, up); err != nil {
		return k, err
	}

	if err := storage.CreateAccessKey(ctx, storage.DB(), &k); err != nil {
		return k, err
	}
	logChange(ctx, p, "access-key created", log.Fields{"access_key_id": k.ID, "owner_id": userID})
	return k, nil
}

// UpdateAccessKey applies a partial update to the access key.
func (s *Service) UpdateAccessKey(ctx context.Context, p *permission.Principal, userID, id int64, up AccessKeyUpdate) error {
	k, err := s.GetAccessKey(ctx, p, userID, id)
	if err != nil {
		return err
	}
	if err := applyAccessKey(&k, up); err != nil {
		return err
	}

	if err := storage.UpdateAccessKey(ctx, storage.DB(), k); err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return accessKeyNotFound(id)
		}
		return err
	}
	s.engine.RefreshUser(ctx, k.UserID)
	return nil
}

func applyAccessKey(k *storage.AccessKey, up AccessKeyUpdate) error {
	if up.Label != nil {
		k.Label = *up.Label
	}
	if up.ExpirationDate != nil {
		t := up.ExpirationDate.UTC()
		k.ExpirationDate = &t
	}
	if up.Type != nil {
		k.Type = *up.Type
	}
	if up.Permissions != nil {
		if err := validatePermissions(*up.Permissions); err != nil {
			return err
		}
		k.Permissions = storage.PermissionList(*up.Permissions)
	}
	return nil
}

// DeleteAccessKey deletes the access key. The key backing the principal
// can not be deleted. Deleting a missing key is not an error.
func (s *Service) DeleteAccessKey(ctx context.Context, p *permission.Principal, userID, id int64) error {
	if p != nil && p.Kind == permission.KindAccessKey && p.AccessKeyID == id {
		return apierr.Forbiddenf(selfDeleteMessage)
	}
	if err := s.checkKeyOwner(ctx, p, userID); err != nil {
		return err
	}
	if err := storage.DeleteAccessKey(ctx, storage.DB(), userID, id); err != nil {
		return err
	}
	s.engine.RefreshUser(ctx, userID)
	return nil
}
