package storage

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/logging"
)

// Equipment describes a piece of equipment of a device type.
type Equipment struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Type string `json:"type"`
	Data JSONB  `json:"data,omitempty"`
}

// EquipmentList is stored as a jsonb array.
type EquipmentList []Equipment

// Value implements the driver.Valuer interface.
func (l EquipmentList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, errors.Wrap(err, "marshal equipment error")
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (l *EquipmentList) Scan(src interface{}) error {
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

// DeviceType represents a device type.
type DeviceType struct {
	ID             int64         `db:"id" json:"id"`
	Name           string        `db:"name" json:"name"`
	Version        *string       `db:"version" json:"version,omitempty"`
	Description    *string       `db:"description" json:"description,omitempty"`
	IsPermanent    bool          `db:"is_permanent" json:"isPermanent"`
	OfflineTimeout *int          `db:"offline_timeout" json:"offlineTimeout,omitempty"`
	Equipment      EquipmentList `db:"equipment" json:"equipment,omitempty"`
	Data           JSONB         `db:"data" json:"data,omitempty"`
}

// Validate validates the device-type data.
func (dt DeviceType) Validate() error {
	if dt.Name == "" {
		return errors.New("name is required")
	}
	codes := make(map[string]struct{}, len(dt.Equipment))
	for _, eq := range dt.Equipment {
		if eq.Code == "" {
			return errors.New("equipment code is required")
		}
		if _, ok := codes[eq.Code]; ok {
			return fmt.Errorf("duplicate equipment code: %s", eq.Code)
		}
		codes[eq.Code] = struct{}{}
	}
	return nil
}

// DeviceTypeFilters holds the filters of a device-type list.
type DeviceTypeFilters struct {
	Name        string
	NamePattern string
	Visible     *Visibility
	ListOptions
}

const deviceTypeColumns = `id, name, version, description, is_permanent, offline_timeout, equipment, data`
const deviceTypeColumnsPrefixed = `dt.id, dt.name, dt.version, dt.description, dt.is_permanent, dt.offline_timeout, dt.equipment, dt.data`

var deviceTypeSortColumns = map[string]string{
	"id":   "id",
	"name": "name",
}

// CreateDeviceType creates the given device type.
func CreateDeviceType(ctx context.Context, db sqlx.Queryer, dt *DeviceType) error {
	if err := dt.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	err := sqlx.Get(db, &dt.ID, `
		insert into device_type (
			name,
			version,
			description,
			is_permanent,
			offline_timeout,
			equipment,
			data
		) values ($1, $2, $3, $4, $5, $6, $7)
		returning id`,
		dt.Name,
		dt.Version,
		dt.Description,
		dt.IsPermanent,
		dt.OfflineTimeout,
		dt.Equipment,
		dt.Data,
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}

	log.WithFields(log.Fields{
		"device_type_id": dt.ID,
		"name":           dt.Name,
		"ctx_id":         ctx.Value(logging.ContextIDKey),
	}).Info("storage: device-type created")

	return nil
}

// GetDeviceType returns the device type for the given id.
func GetDeviceType(ctx context.Context, db sqlx.Queryer, id int64) (DeviceType, error) {
	var dt DeviceType
	if err := sqlx.Get(db, &dt, `select `+deviceTypeColumns+` from device_type where id = $1`, id); err != nil {
		return dt, handlePSQLError(err, "select error")
	}
	return dt, nil
}

// GetExistingDeviceTypeIDs returns the subset of ids that exist.
func GetExistingDeviceTypeIDs(ctx context.Context, db sqlx.Queryer, ids []int64) ([]int64, error) {
	var out []int64
	if err := sqlx.Select(db, &out, `select id from device_type where id = any($1) order by id`, pq.Array(ids)); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return out, nil
}

// UpdateDeviceType updates the given device type.
func UpdateDeviceType(ctx context.Context, db sqlx.Execer, dt DeviceType) error {
	if err := dt.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	res, err := db.Exec(`
		update device_type set
			name = $2,
			version = $3,
			description = $4,
			is_permanent = $5,
			offline_timeout = $6,
			equipment = $7,
			data = $8
		where id = $1`,
		dt.ID,
		dt.Name,
		dt.Version,
		dt.Description,
		dt.IsPermanent,
		dt.OfflineTimeout,
		dt.Equipment,
		dt.Data,
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
		"device_type_id": dt.ID,
		"ctx_id":         ctx.Value(logging.ContextIDKey),
	}).Info("storage: device-type updated")

	return nil
}

// DeleteDeviceType deletes the device type with the given id. Devices of
// the device type are detached. The guids of the detached devices are
// returned.
func DeleteDeviceType(ctx context.Context, db sqlx.Ext, id int64) ([]string, error) {
	var guids []string
	if err := sqlx.Select(db, &guids, `update device set device_type_id = null where device_type_id = $1 returning guid`, id); err != nil {
		return nil, handlePSQLError(err, "update error")
	}

	res, err := db.Exec(`delete from device_type where id = $1`, id)
	if err != nil {
		return nil, handlePSQLError(err, "delete error")
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "get rows affected error")
	}
	if ra == 0 {
		return nil, ErrDoesNotExist
	}

	log.WithFields(log.Fields{
		"device_type_id":   id,
		"detached_devices": len(guids),
		"ctx_id":           ctx.Value(logging.ContextIDKey),
	}).Info("storage: device-type deleted")

	return guids, nil
}

func deviceTypeQuery(filters DeviceTypeFilters) query {
	var q query
	if filters.Name != "" {
		q.and("name = " + q.arg(filters.Name))
	}
	if filters.NamePattern != "" {
		q.and("name like " + q.arg(filters.NamePattern))
	}
	q.visible(filters.Visible, "", "id", "")
	return q
}

// GetDeviceTypes returns the device types matching the given filters.
func GetDeviceTypes(ctx context.Context, db sqlx.Queryer, filters DeviceTypeFilters) ([]DeviceType, error) {
	q := deviceTypeQuery(filters)
	tail, err := filters.clause(deviceTypeSortColumns, "id")
	if err != nil {
		return nil, err
	}

	deviceTypes := []DeviceType{}
	if err := sqlx.Select(db, &deviceTypes, `select `+deviceTypeColumns+` from device_type`+q.whereClause()+tail, q.args...); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return deviceTypes, nil
}

// GetDeviceTypeCount returns the number of device types matching the given
// filters.
func GetDeviceTypeCount(ctx context.Context, db sqlx.Queryer, filters DeviceTypeFilters) (int, error) {
	q := deviceTypeQuery(filters)
	var count int
	if err := sqlx.Get(db, &count, `select count(*) from device_type`+q.whereClause(), q.args...); err != nil {
		return 0, handlePSQLError(err, "select error")
	}
	return count, nil
}
