package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/logging"
)

// DeviceNotification represents a notification sent by a device.
type DeviceNotification struct {
	ID           int64     `db:"id" json:"id"`
	DeviceGUID   string    `db:"device_guid" json:"deviceId"`
	Notification string    `db:"notification" json:"notification"`
	Parameters   JSONB     `db:"parameters" json:"parameters,omitempty"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	NetworkID    *int64    `db:"network_id" json:"networkId,omitempty"`
	DeviceTypeID *int64    `db:"device_type_id" json:"deviceTypeId,omitempty"`
}

// Validate validates the notification data.
func (n DeviceNotification) Validate() error {
	if n.Notification == "" {
		return errors.New("notification name is required")
	}
	return nil
}

const deviceNotificationColumns = `
	n.id,
	n.device_guid,
	n.notification,
	n.parameters,
	n.timestamp,
	n.network_id,
	n.device_type_id`

var deviceNotificationSortColumns = map[string]string{
	"id":           "n.id",
	"timestamp":    "n.timestamp",
	"notification": "n.notification",
}

// CreateDeviceNotification creates the given notification. The id and
// timestamp are assigned by the server.
func CreateDeviceNotification(ctx context.Context, db sqlx.Queryer, n *DeviceNotification) error {
	if err := n.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	n.Timestamp = now()
	err := sqlx.Get(db, &n.ID, `
		insert into device_notification (
			device_guid,
			notification,
			parameters,
			timestamp,
			network_id,
			device_type_id
		) values ($1, $2, $3, $4, $5, $6)
		returning id`,
		n.DeviceGUID,
		n.Notification,
		n.Parameters,
		n.Timestamp,
		n.NetworkID,
		n.DeviceTypeID,
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}

	log.WithFields(log.Fields{
		"id":           n.ID,
		"guid":         n.DeviceGUID,
		"notification": n.Notification,
		"ctx_id":       ctx.Value(logging.ContextIDKey),
	}).Info("storage: device-notification created")

	return nil
}

// GetDeviceNotification returns the notification with the given id of the
// given device.
func GetDeviceNotification(ctx context.Context, db sqlx.Queryer, guid string, id int64) (DeviceNotification, error) {
	var n DeviceNotification
	err := sqlx.Get(db, &n, `select `+deviceNotificationColumns+` from device_notification n where n.device_guid = $1 and n.id = $2`, guid, id)
	if err != nil {
		return n, handlePSQLError(err, "select error")
	}
	return n, nil
}

// GetDeviceNotifications returns the notifications matching the given
// filters.
func GetDeviceNotifications(ctx context.Context, db sqlx.Queryer, filters MessageFilters) ([]DeviceNotification, error) {
	q := filters.query("n", "notification")
	tail, err := filters.clause(deviceNotificationSortColumns, "n.id")
	if err != nil {
		return nil, err
	}

	notifications := []DeviceNotification{}
	err = sqlx.Select(db, &notifications, `
		select `+deviceNotificationColumns+`
		from device_notification n
		inner join device d
			on d.guid = n.device_guid`+q.whereClause()+tail,
		q.args...,
	)
	if err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return notifications, nil
}
