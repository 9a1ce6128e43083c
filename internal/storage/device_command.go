package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/logging"
)

// DeviceCommand represents a command sent to a device.
type DeviceCommand struct {
	ID           int64      `db:"id" json:"id"`
	DeviceGUID   string     `db:"device_guid" json:"deviceId"`
	Command      string     `db:"command" json:"command"`
	Parameters   JSONB      `db:"parameters" json:"parameters,omitempty"`
	Lifetime     *int       `db:"lifetime" json:"lifetime,omitempty"`
	Status       *string    `db:"status" json:"status,omitempty"`
	Result       JSONB      `db:"result" json:"result,omitempty"`
	Timestamp    time.Time  `db:"timestamp" json:"timestamp"`
	LastUpdated  *time.Time `db:"last_updated" json:"lastUpdated,omitempty"`
	UserID       *int64     `db:"user_id" json:"userId,omitempty"`
	NetworkID    *int64     `db:"network_id" json:"networkId,omitempty"`
	DeviceTypeID *int64     `db:"device_type_id" json:"deviceTypeId,omitempty"`
}

// Validate validates the command data.
func (c DeviceCommand) Validate() error {
	if c.Command == "" {
		return errors.New("command name is required")
	}
	if c.Lifetime != nil && *c.Lifetime < 0 {
		return errors.New("lifetime must not be negative")
	}
	return nil
}

// MessageFilters holds the filters of a command or notification list.
type MessageFilters struct {
	DeviceGUIDs   []string
	NetworkIDs    []int64
	DeviceTypeIDs []int64
	Names         []string
	Status        string
	// Start and End are inclusive bounds.
	Start *time.Time
	End   *time.Time
	// After is an exclusive lower bound used by polling.
	After   *time.Time
	Visible *Visibility
	ListOptions
}

func (f MessageFilters) query(table, nameCol string) query {
	var q query
	if f.DeviceGUIDs != nil {
		q.and(table + ".device_guid = any(" + q.arg(pq.Array(f.DeviceGUIDs)) + ")")
	}
	if f.NetworkIDs != nil {
		q.and("d.network_id = any(" + q.arg(pq.Array(f.NetworkIDs)) + ")")
	}
	if f.DeviceTypeIDs != nil {
		q.and("d.device_type_id = any(" + q.arg(pq.Array(f.DeviceTypeIDs)) + ")")
	}
	if len(f.Names) != 0 {
		q.and(table + "." + nameCol + " = any(" + q.arg(pq.Array(f.Names)) + ")")
	}
	if f.Status != "" {
		q.and(table + ".status = " + q.arg(f.Status))
	}
	if f.Start != nil {
		q.and(table + ".timestamp >= " + q.arg(f.Start.UTC()))
	}
	if f.End != nil {
		q.and(table + ".timestamp <= " + q.arg(f.End.UTC()))
	}
	if f.After != nil {
		q.and(table + ".timestamp > " + q.arg(f.After.UTC()))
	}
	q.visible(f.Visible, "d.network_id", "d.device_type_id", "d.guid")
	return q
}

const deviceCommandColumns = `
	c.id,
	c.device_guid,
	c.command,
	c.parameters,
	c.lifetime,
	c.status,
	c.result,
	c.timestamp,
	c.last_updated,
	c.user_id,
	c.network_id,
	c.device_type_id`

var deviceCommandSortColumns = map[string]string{
	"id":        "c.id",
	"timestamp": "c.timestamp",
	"command":   "c.command",
	"status":    "c.status",
}

// CreateDeviceCommand creates the given command. The id and timestamp are
// assigned by the server.
func CreateDeviceCommand(ctx context.Context, db sqlx.Queryer, c *DeviceCommand) error {
	if err := c.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	c.Timestamp = now()
	err := sqlx.Get(db, &c.ID, `
		insert into device_command (
			device_guid,
			command,
			parameters,
			lifetime,
			status,
			result,
			timestamp,
			last_updated,
			user_id,
			network_id,
			device_type_id
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning id`,
		c.DeviceGUID,
		c.Command,
		c.Parameters,
		c.Lifetime,
		c.Status,
		c.Result,
		c.Timestamp,
		c.LastUpdated,
		c.UserID,
		c.NetworkID,
		c.DeviceTypeID,
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}

	log.WithFields(log.Fields{
		"id":      c.ID,
		"guid":    c.DeviceGUID,
		"command": c.Command,
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Info("storage: device-command created")

	return nil
}

// GetDeviceCommand returns the command with the given id of the given
// device.
func GetDeviceCommand(ctx context.Context, db sqlx.Queryer, guid string, id int64) (DeviceCommand, error) {
	var c DeviceCommand
	err := sqlx.Get(db, &c, `select `+deviceCommandColumns+` from device_command c where c.device_guid = $1 and c.id = $2`, guid, id)
	if err != nil {
		return c, handlePSQLError(err, "select error")
	}
	return c, nil
}

// UpdateDeviceCommand updates the given command.
func UpdateDeviceCommand(ctx context.Context, db sqlx.Execer, c DeviceCommand) error {
	if err := c.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	res, err := db.Exec(`
		update device_command set
			command = $3,
			parameters = $4,
			lifetime = $5,
			status = $6,
			result = $7,
			last_updated = $8
		where
			device_guid = $1
			and id = $2`,
		c.DeviceGUID,
		c.ID,
		c.Command,
		c.Parameters,
		c.Lifetime,
		c.Status,
		c.Result,
		c.LastUpdated,
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
		"id":     c.ID,
		"guid":   c.DeviceGUID,
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Info("storage: device-command updated")

	return nil
}

// GetDeviceCommands returns the commands matching the given filters.
func GetDeviceCommands(ctx context.Context, db sqlx.Queryer, filters MessageFilters) ([]DeviceCommand, error) {
	q := filters.query("c", "command")
	tail, err := filters.clause(deviceCommandSortColumns, "c.id")
	if err != nil {
		return nil, err
	}

	commands := []DeviceCommand{}
	err = sqlx.Select(db, &commands, `
		select `+deviceCommandColumns+`
		from device_command c
		inner join device d
			on d.guid = c.device_guid`+q.whereClause()+tail,
		q.args...,
	)
	if err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return commands, nil
}
