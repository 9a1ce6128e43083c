package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/logging"
)

// UserRole defines the role of a user.
type UserRole int

// User roles.
const (
	RoleAdmin UserRole = iota
	RoleClient
)

// UserStatus defines the status of a user.
type UserStatus int

// User statuses.
const (
	UserActive UserStatus = iota
	UserLocked
	UserDisabled
)

// User represents a user.
type User struct {
	ID                      int64      `db:"id" json:"id"`
	Login                   string     `db:"login" json:"login"`
	PasswordHash            string     `db:"password_hash" json:"-"`
	Role                    UserRole   `db:"role" json:"role"`
	Status                  UserStatus `db:"status" json:"status"`
	LoginAttempts           int        `db:"login_attempts" json:"-"`
	LastLogin               *time.Time `db:"last_login" json:"lastLogin,omitempty"`
	IntroReviewed           bool       `db:"intro_reviewed" json:"introReviewed"`
	AllDeviceTypesAvailable bool       `db:"all_device_types_available" json:"allDeviceTypesAvailable"`
	Data                    JSONB      `db:"data" json:"data,omitempty"`
	CreatedAt               time.Time  `db:"created_at" json:"-"`
	UpdatedAt               time.Time  `db:"updated_at" json:"-"`
}

// IsAdmin returns true for admin users.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Validate validates the user data.
func (u User) Validate() error {
	if u.Login == "" {
		return errors.New("login is required")
	}
	if u.Role != RoleAdmin && u.Role != RoleClient {
		return errors.New("invalid role")
	}
	if u.Status < UserActive || u.Status > UserDisabled {
		return errors.New("invalid status")
	}
	return nil
}

// UserFilters holds the filters of a user list.
type UserFilters struct {
	Login        string
	LoginPattern string
	Role         *UserRole
	Status       *UserStatus
	ListOptions
}

const userColumns = `
	id,
	login,
	password_hash,
	role,
	status,
	login_attempts,
	last_login,
	intro_reviewed,
	all_device_types_available,
	data,
	created_at,
	updated_at`

var userSortColumns = map[string]string{
	"id":     "id",
	"login":  "login",
	"role":   "role",
	"status": "status",
}

// CreateUser creates the given user.
func CreateUser(ctx context.Context, db sqlx.Queryer, u *User) error {
	if err := u.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	ts := now()
	u.CreatedAt = ts
	u.UpdatedAt = ts

	err := sqlx.Get(db, &u.ID, `
		insert into "user" (
			login,
			password_hash,
			role,
			status,
			login_attempts,
			last_login,
			intro_reviewed,
			all_device_types_available,
			data,
			created_at,
			updated_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning id`,
		u.Login,
		u.PasswordHash,
		u.Role,
		u.Status,
		u.LoginAttempts,
		u.LastLogin,
		u.IntroReviewed,
		u.AllDeviceTypesAvailable,
		u.Data,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}

	log.WithFields(log.Fields{
		"user_id": u.ID,
		"login":   u.Login,
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Info("storage: user created")

	return nil
}

// GetUser returns the user for the given id.
func GetUser(ctx context.Context, db sqlx.Queryer, id int64) (User, error) {
	var u User
	if err := sqlx.Get(db, &u, `select `+userColumns+` from "user" where id = $1`, id); err != nil {
		return u, handlePSQLError(err, "select error")
	}
	return u, nil
}

// GetUserByLogin returns the user for the given login.
func GetUserByLogin(ctx context.Context, db sqlx.Queryer, login string) (User, error) {
	var u User
	if err := sqlx.Get(db, &u, `select `+userColumns+` from "user" where login = $1`, login); err != nil {
		return u, handlePSQLError(err, "select error")
	}
	return u, nil
}

// UpdateUser updates the given user.
func UpdateUser(ctx context.Context, db sqlx.Execer, u *User) error {
	if err := u.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	u.UpdatedAt = now()
	res, err := db.Exec(`
		update "user" set
			login = $2,
			password_hash = $3,
			role = $4,
			status = $5,
			login_attempts = $6,
			last_login = $7,
			intro_reviewed = $8,
			all_device_types_available = $9,
			data = $10,
			updated_at = $11
		where id = $1`,
		u.ID,
		u.Login,
		u.PasswordHash,
		u.Role,
		u.Status,
		u.LoginAttempts,
		u.LastLogin,
		u.IntroReviewed,
		u.AllDeviceTypesAvailable,
		u.Data,
		u.UpdatedAt,
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
		"user_id": u.ID,
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Info("storage: user updated")

	return nil
}

// RecordLoginFailure increments the failed login counter of the user and
// locks the user when maxAttempts is reached. It returns the new status.
func RecordLoginFailure(ctx context.Context, db sqlx.Queryer, id int64, maxAttempts int) (UserStatus, error) {
	var status UserStatus
	err := sqlx.Get(db, &status, `
		update "user" set
			login_attempts = login_attempts + 1,
			status = case
				when $2 > 0 and login_attempts + 1 >= $2 and status = $3 then $4
				else status
			end
		where id = $1
		returning status`,
		id,
		maxAttempts,
		UserActive,
		UserLocked,
	)
	if err != nil {
		return status, handlePSQLError(err, "update error")
	}

	if status == UserLocked {
		log.WithFields(log.Fields{
			"user_id": id,
			"ctx_id":  ctx.Value(logging.ContextIDKey),
		}).Warning("storage: user locked after too many login attempts")
	}

	return status, nil
}

// RecordLoginSuccess resets the failed login counter and sets the last
// login timestamp.
func RecordLoginSuccess(ctx context.Context, db sqlx.Execer, id int64) error {
	_, err := db.Exec(`
		update "user" set
			login_attempts = 0,
			last_login = $2
		where id = $1`,
		id,
		now(),
	)
	if err != nil {
		return handlePSQLError(err, "update error")
	}
	return nil
}

// DeleteUser deletes the user with the given id.
func DeleteUser(ctx context.Context, db sqlx.Execer, id int64) error {
	res, err := db.Exec(`delete from "user" where id = $1`, id)
	if err != nil {
		return handlePSQLError(err, "delete error")
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "get rows affected error")
	}
	if ra == 0 {
		return ErrDoesNotExist
	}

	log.WithFields(log.Fields{
		"user_id": id,
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Info("storage: user deleted")

	return nil
}

func userQuery(filters UserFilters) query {
	var q query
	if filters.Login != "" {
		q.and("login = " + q.arg(filters.Login))
	}
	if filters.LoginPattern != "" {
		q.and("login like " + q.arg(filters.LoginPattern))
	}
	if filters.Role != nil {
		q.and("role = " + q.arg(*filters.Role))
	}
	if filters.Status != nil {
		q.and("status = " + q.arg(*filters.Status))
	}
	return q
}

// GetUsers returns the users matching the given filters.
func GetUsers(ctx context.Context, db sqlx.Queryer, filters UserFilters) ([]User, error) {
	q := userQuery(filters)
	tail, err := filters.clause(userSortColumns, "id")
	if err != nil {
		return nil, err
	}

	users := []User{}
	if err := sqlx.Select(db, &users, `select `+userColumns+` from "user"`+q.whereClause()+tail, q.args...); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return users, nil
}

// GetUserCount returns the number of users matching the given filters.
func GetUserCount(ctx context.Context, db sqlx.Queryer, filters UserFilters) (int, error) {
	q := userQuery(filters)
	var count int
	if err := sqlx.Get(db, &count, `select count(*) from "user"`+q.whereClause(), q.args...); err != nil {
		return 0, handlePSQLError(err, "select error")
	}
	return count, nil
}

// AssignUserNetwork grants the user access to the given network. Assigning
// twice is a no-op.
func AssignUserNetwork(ctx context.Context, db sqlx.Execer, userID, networkID int64) error {
	_, err := db.Exec(`
		insert into user_network (
			user_id,
			network_id
		) values ($1, $2)
		on conflict do nothing`,
		userID,
		networkID,
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}
	return nil
}

// UnassignUserNetwork revokes the access of the user to the given network.
func UnassignUserNetwork(ctx context.Context, db sqlx.Execer, userID, networkID int64) error {
	res, err := db.Exec(`delete from user_network where user_id = $1 and network_id = $2`, userID, networkID)
	if err != nil {
		return handlePSQLError(err, "delete error")
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "get rows affected error")
	}
	if ra == 0 {
		return ErrDoesNotExist
	}
	return nil
}

// GetUserNetworkIDs returns the ids of the networks assigned to the user.
func GetUserNetworkIDs(ctx context.Context, db sqlx.Queryer, userID int64) ([]int64, error) {
	var ids []int64
	if err := sqlx.Select(db, &ids, `select network_id from user_network where user_id = $1 order by network_id`, userID); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return ids, nil
}

// GetUserNetworks returns the networks assigned to the user.
func GetUserNetworks(ctx context.Context, db sqlx.Queryer, userID int64) ([]Network, error) {
	networks := []Network{}
	err := sqlx.Select(db, &networks, `
		select `+networkColumnsPrefixed+`
		from network n
		inner join user_network un
			on un.network_id = n.id
		where
			un.user_id = $1
		order by n.id`,
		userID,
	)
	if err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return networks, nil
}

// AssignUserDeviceType grants the user access to the given device type.
func AssignUserDeviceType(ctx context.Context, db sqlx.Execer, userID, deviceTypeID int64) error {
	_, err := db.Exec(`
		insert into user_device_type (
			user_id,
			device_type_id
		) values ($1, $2)
		on conflict do nothing`,
		userID,
		deviceTypeID,
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}
	return nil
}

// UnassignUserDeviceType revokes the access of the user to the given
// device type.
func UnassignUserDeviceType(ctx context.Context, db sqlx.Execer, userID, deviceTypeID int64) error {
	res, err := db.Exec(`delete from user_device_type where user_id = $1 and device_type_id = $2`, userID, deviceTypeID)
	if err != nil {
		return handlePSQLError(err, "delete error")
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "get rows affected error")
	}
	if ra == 0 {
		return ErrDoesNotExist
	}
	return nil
}

// GetUserDeviceTypeIDs returns the ids of the device types assigned to the
// user.
func GetUserDeviceTypeIDs(ctx context.Context, db sqlx.Queryer, userID int64) ([]int64, error) {
	var ids []int64
	if err := sqlx.Select(db, &ids, `select device_type_id from user_device_type where user_id = $1 order by device_type_id`, userID); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return ids, nil
}

// GetUserDeviceTypes returns the device types assigned to the user.
func GetUserDeviceTypes(ctx context.Context, db sqlx.Queryer, userID int64) ([]DeviceType, error) {
	deviceTypes := []DeviceType{}
	err := sqlx.Select(db, &deviceTypes, `
		select `+deviceTypeColumnsPrefixed+`
		from device_type dt
		inner join user_device_type udt
			on udt.device_type_id = dt.id
		where
			udt.user_id = $1
		order by dt.id`,
		userID,
	)
	if err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return deviceTypes, nil
}

// SetAllDeviceTypesAvailable sets the all-device-types flag of the user.
// Clearing the flag also removes the explicit device-type assignments.
func SetAllDeviceTypesAvailable(ctx context.Context, db sqlx.Execer, userID int64, available bool) error {
	res, err := db.Exec(`update "user" set all_device_types_available = $2, updated_at = $3 where id = $1`, userID, available, now())
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

	if !available {
		if _, err := db.Exec(`delete from user_device_type where user_id = $1`, userID); err != nil {
			return handlePSQLError(err, "delete error")
		}
	}
	return nil
}
