package storage

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/logging"
	"github.com/devicehive/devicehive-server/internal/permission"
)

// AccessKeyType defines the access-key type.
type AccessKeyType int

// Access-key types.
const (
	AccessKeyDefault AccessKeyType = iota
	AccessKeySession
	AccessKeyOAuth
)

// PermissionList is stored as a jsonb array.
type PermissionList []permission.Permission

// Value implements the driver.Valuer interface.
func (l PermissionList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, errors.Wrap(err, "marshal permissions error")
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (l *PermissionList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("expected []byte, got %T", src)
	}
	return json.Unmarshal(b, l)
}

// AccessKey represents an access key of a user.
type AccessKey struct {
	ID             int64          `db:"id" json:"id"`
	UserID         int64          `db:"user_id" json:"userId"`
	Label          string         `db:"label" json:"label"`
	Key            string         `db:"key" json:"key"`
	Type           AccessKeyType  `db:"type" json:"type"`
	ExpirationDate *time.Time     `db:"expiration_date" json:"expirationDate,omitempty"`
	Permissions    PermissionList `db:"permissions" json:"permissions"`
	CreatedAt      time.Time      `db:"created_at" json:"-"`
}

// Expired returns true when the key is expired at t.
func (k AccessKey) Expired(t time.Time) bool {
	return k.ExpirationDate != nil && !k.ExpirationDate.After(t)
}

// Validate validates the access-key data.
func (k AccessKey) Validate() error {
	if k.Label == "" {
		return errors.New("label is required")
	}
	if k.Key == "" {
		return errors.New("key is required")
	}
	if len(k.Permissions) == 0 {
		return errors.New("at least one permission is required")
	}
	return nil
}

const accessKeyColumns = `id, user_id, label, key, type, expiration_date, permissions, created_at`

// CreateAccessKey creates the given access key.
func CreateAccessKey(ctx context.Context, db sqlx.Queryer, k *AccessKey) error {
	if err := k.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	k.CreatedAt = now()
	err := sqlx.Get(db, &k.ID, `
		insert into access_key (
			user_id,
			label,
			key,
			type,
			expiration_date,
			permissions,
			created_at
		) values ($1, $2, $3, $4, $5, $6, $7)
		returning id`,
		k.UserID,
		k.Label,
		k.Key,
		k.Type,
		k.ExpirationDate,
		k.Permissions,
		k.CreatedAt,
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}

	log.WithFields(log.Fields{
		"access_key_id": k.ID,
		"user_id":       k.UserID,
		"ctx_id":        ctx.Value(logging.ContextIDKey),
	}).Info("storage: access-key created")

	return nil
}

// GetAccessKeyByKey returns the access key for the given key.
func GetAccessKeyByKey(ctx context.Context, db sqlx.Queryer, key string) (AccessKey, error) {
	var k AccessKey
	if err := sqlx.Get(db, &k, `select `+accessKeyColumns+` from access_key where key = $1`, key); err != nil {
		return k, handlePSQLError(err, "select error")
	}
	return k, nil
}

// GetUserAccessKey returns the access key with the given id of the user.
func GetUserAccessKey(ctx context.Context, db sqlx.Queryer, userID, id int64) (AccessKey, error) {
	var k AccessKey
	if err := sqlx.Get(db, &k, `select `+accessKeyColumns+` from access_key where user_id = $1 and id = $2`, userID, id); err != nil {
		return k, handlePSQLError(err, "select error")
	}
	return k, nil
}

// GetUserAccessKeys returns the access keys of the user.
func GetUserAccessKeys(ctx context.Context, db sqlx.Queryer, userID int64) ([]AccessKey, error) {
	keys := []AccessKey{}
	if err := sqlx.Select(db, &keys, `select `+accessKeyColumns+` from access_key where user_id = $1 order by id`, userID); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return keys, nil
}

// UpdateAccessKey updates the given access key.
func UpdateAccessKey(ctx context.Context, db sqlx.Execer, k AccessKey) error {
	if err := k.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	res, err := db.Exec(`
		update access_key set
			label = $3,
			expiration_date = $4,
			permissions = $5,
			type = $6
		where
			user_id = $1
			and id = $2`,
		k.UserID,
		k.ID,
		k.Label,
		k.ExpirationDate,
		k.Permissions,
		k.Type,
	)
	if err != nil {
		return handlePSQLError(err, "update error")
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "get rows affected error")
	}
	if ra == 0 {
		return ErrDoesNotExist
	}

	log.WithFields(log.Fields{
		"access_key_id": k.ID,
		"ctx_id":        ctx.Value(logging.ContextIDKey),
	}).Info("storage: access-key updated")

	return nil
}

// DeleteAccessKey deletes the access key with the given id of the user.
// Deleting a missing key is not an error.
func DeleteAccessKey(ctx context.Context, db sqlx.Execer, userID, id int64) error {
	if _, err := db.Exec(`delete from access_key where user_id = $1 and id = $2`, userID, id); err != nil {
		return handlePSQLError(err, "delete error")
	}

	log.WithFields(log.Fields{
		"access_key_id": id,
		"ctx_id":        ctx.Value(logging.ContextIDKey),
	}).Info("storage: access-key deleted")

	return nil
}

// DeleteExpiredAccessKeys removes the session keys expired before t.
func DeleteExpiredAccessKeys(ctx context.Context, db sqlx.Execer, t time.Time) (int64, error) {
	res, err := db.Exec(`delete from access_key where type = $1 and expiration_date < $2`, AccessKeySession, t.UTC())
	if err != nil {
		return 0, handlePSQLError(err, "delete error")
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "get rows affected error")
	}
	return ra, nil
}
