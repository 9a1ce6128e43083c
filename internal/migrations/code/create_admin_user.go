package code

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/devicehive/devicehive-server/internal/storage"
)

// CreateAdminUser returns a migration creating the initial admin user. It
// is skipped when a user with the given login already exists.
func CreateAdminUser(login, passwordHash string) func(db sqlx.Ext) error {
	return func(db sqlx.Ext) error {
		ctx := context.Background()

		_, err := storage.GetUserByLogin(ctx, db, login)
		if err == nil {
			return nil
		}
		if err != storage.ErrDoesNotExist {
			return errors.Wrap(err, "get user error")
		}

		u := storage.User{
			Login:                   login,
			PasswordHash:            passwordHash,
			Role:                    storage.RoleAdmin,
			Status:                  storage.UserActive,
			AllDeviceTypesAvailable: true,
		}
		if err := storage.CreateUser(ctx, db, &u); err != nil {
			return errors.Wrap(err, "create user error")
		}
		return nil
	}
}
