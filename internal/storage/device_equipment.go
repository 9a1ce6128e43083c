package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// DeviceEquipment holds the last reported state of a piece of equipment.
type DeviceEquipment struct {
	DeviceGUID string    `db:"device_guid" json:"-"`
	Code       string    `db:"code" json:"id"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
	Parameters JSONB     `db:"parameters" json:"parameters,omitempty"`
}

// SaveDeviceEquipment creates or replaces the equipment state.
func SaveDeviceEquipment(ctx context.Context, db sqlx.Execer, eq DeviceEquipment) error {
	_, err := db.Exec(`
		insert into device_equipment (
			device_guid,
			code,
			timestamp,
			parameters
		) values ($1, $2, $3, $4)
		on conflict (device_guid, code) do update
		set
			timestamp = excluded.timestamp,
			parameters = excluded.parameters`,
		eq.DeviceGUID,
		eq.Code,
		eq.Timestamp.UTC(),
		eq.Parameters,
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}
	return nil
}

// GetDeviceEquipment returns the equipment state for the given code.
func GetDeviceEquipment(ctx context.Context, db sqlx.Queryer, guid, code string) (DeviceEquipment, error) {
	var eq DeviceEquipment
	err := sqlx.Get(db, &eq, `
		select device_guid, code, timestamp, parameters
		from device_equipment
		where device_guid = $1 and code = $2`,
		guid,
		code,
	)
	if err != nil {
		return eq, handlePSQLError(err, "select error")
	}
	return eq, nil
}

// GetDeviceEquipments returns all equipment states of the device.
func GetDeviceEquipments(ctx context.Context, db sqlx.Queryer, guid string) ([]DeviceEquipment, error) {
	items := []DeviceEquipment{}
	err := sqlx.Select(db, &items, `
		select device_guid, code, timestamp, parameters
		from device_equipment
		where device_guid = $1
		order by code`,
		guid,
	)
	if err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return items, nil
}
