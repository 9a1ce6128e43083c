package storage

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/logging"
)

const deviceKeyTempl = "devicehive:device:%s"

var guidRegexp = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,128}$`)

// Device represents a device.
type Device struct {
	GUID         string  `db:"guid" json:"id"`
	Name         string  `db:"name" json:"name"`
	Key          *string `db:"key" json:"-"`
	NetworkID    *int64  `db:"network_id" json:"networkId"`
	DeviceTypeID *int64  `db:"device_type_id" json:"deviceTypeId"`
	Status       *string `db:"status" json:"status,omitempty"`
	IsBlocked    bool    `db:"is_blocked" json:"isBlocked"`
	Data         JSONB   `db:"data" json:"data,omitempty"`
}

// ValidGUID returns true when guid is a well-formed device guid.
func ValidGUID(guid string) bool {
	return guidRegexp.MatchString(guid)
}

// Validate validates the device data.
func (d Device) Validate() error {
	if !ValidGUID(d.GUID) {
		return errors.New("invalid device id")
	}
	if d.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// DeviceFilters holds the filters of a device list.
type DeviceFilters struct {
	Name         string
	NamePattern  string
	NetworkID    *int64
	NetworkName  string
	DeviceTypeID *int64
	Visible      *Visibility
	ListOptions
}

const deviceColumns = `d.guid, d.name, d.key, d.network_id, d.device_type_id, d.status, d.is_blocked, d.data`

var deviceSortColumns = map[string]string{
	"id":           "d.guid",
	"name":         "d.name",
	"network":      "d.network_id",
	"networkId":    "d.network_id",
	"deviceTypeId": "d.device_type_id",
}

// CreateDevice creates the given device.
func CreateDevice(ctx context.Context, db sqlx.Execer, d Device) error {
	if err := d.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	_, err := db.Exec(`
		insert into device (
			guid,
			name,
			key,
			network_id,
			device_type_id,
			status,
			is_blocked,
			data,
			created_at,
			updated_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		d.GUID,
		d.Name,
		d.Key,
		d.NetworkID,
		d.DeviceTypeID,
		d.Status,
		d.IsBlocked,
		d.Data,
		now(),
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}

	log.WithFields(log.Fields{
		"guid":   d.GUID,
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Info("storage: device created")

	return nil
}

// GetDevice returns the device for the given guid.
func GetDevice(ctx context.Context, db sqlx.Queryer, guid string) (Device, error) {
	var d Device
	if err := sqlx.Get(db, &d, `select `+deviceColumns+` from device d where d.guid = $1`, guid); err != nil {
		return d, handlePSQLError(err, "select error")
	}
	return d, nil
}

// GetDeviceForUpdate returns the device for the given guid and locks the
// row until the transaction ends.
func GetDeviceForUpdate(ctx context.Context, db sqlx.Queryer, guid string) (Device, error) {
	var d Device
	if err := sqlx.Get(db, &d, `select `+deviceColumns+` from device d where d.guid = $1 for update`, guid); err != nil {
		return d, handlePSQLError(err, "select error")
	}
	return d, nil
}

// UpdateDevice updates the given device.
func UpdateDevice(ctx context.Context, db sqlx.Execer, d Device) error {
	if err := d.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	res, err := db.Exec(`
		update device set
			name = $2,
			key = $3,
			network_id = $4,
			device_type_id = $5,
			status = $6,
			is_blocked = $7,
			data = $8,
			updated_at = $9
		where guid = $1`,
		d.GUID,
		d.Name,
		d.Key,
		d.NetworkID,
		d.DeviceTypeID,
		d.Status,
		d.IsBlocked,
		d.Data,
		now(),
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
		"guid":   d.GUID,
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Info("storage: device updated")

	return nil
}

// DeleteDevice deletes the device with the given guid. Its commands,
// notifications and equipment state are removed with it.
func DeleteDevice(ctx context.Context, db sqlx.Execer, guid string) error {
	res, err := db.Exec(`delete from device where guid = $1`, guid)
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
		"guid":   guid,
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Info("storage: device deleted")

	return nil
}

func deviceQuery(filters DeviceFilters) query {
	var q query
	if filters.Name != "" {
		q.and("d.name = " + q.arg(filters.Name))
	}
	if filters.NamePattern != "" {
		q.and("d.name like " + q.arg(filters.NamePattern))
	}
	if filters.NetworkID != nil {
		q.and("d.network_id = " + q.arg(*filters.NetworkID))
	}
	if filters.NetworkName != "" {
		q.and("d.network_id in (select id from network where name = " + q.arg(filters.NetworkName) + ")")
	}
	if filters.DeviceTypeID != nil {
		q.and("d.device_type_id = " + q.arg(*filters.DeviceTypeID))
	}
	q.visible(filters.Visible, "d.network_id", "d.device_type_id", "d.guid")
	return q
}

// GetDevices returns the devices matching the given filters.
func GetDevices(ctx context.Context, db sqlx.Queryer, filters DeviceFilters) ([]Device, error) {
	q := deviceQuery(filters)
	tail, err := filters.clause(deviceSortColumns, "d.guid")
	if err != nil {
		return nil, err
	}

	devices := []Device{}
	if err := sqlx.Select(db, &devices, `select `+deviceColumns+` from device d`+q.whereClause()+tail, q.args...); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return devices, nil
}

// GetDeviceCount returns the number of devices matching the given filters.
func GetDeviceCount(ctx context.Context, db sqlx.Queryer, filters DeviceFilters) (int, error) {
	q := deviceQuery(filters)
	var count int
	if err := sqlx.Get(db, &count, `select count(*) from device d`+q.whereClause(), q.args...); err != nil {
		return 0, handlePSQLError(err, "select error")
	}
	return count, nil
}

// GetDeviceGUIDs returns the guids of the devices matching the given
// filters.
func GetDeviceGUIDs(ctx context.Context, db sqlx.Queryer, filters DeviceFilters) ([]string, error) {
	q := deviceQuery(filters)
	var guids []string
	if err := sqlx.Select(db, &guids, `select d.guid from device d`+q.whereClause()+` order by d.guid`, q.args...); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return guids, nil
}

// GetDevicesByGUIDs returns the existing devices for the given guids.
func GetDevicesByGUIDs(ctx context.Context, db sqlx.Queryer, guids []string) ([]Device, error) {
	devices := []Device{}
	if err := sqlx.Select(db, &devices, `select `+deviceColumns+` from device d where d.guid = any($1) order by d.guid`, pq.Array(guids)); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return devices, nil
}

// cachedDevice includes the device key, which Device hides from JSON.
type cachedDevice struct {
	Device
	Key *string `json:"key"`
}

// CreateDeviceCache caches the given device into Redis.
func CreateDeviceCache(ctx context.Context, d Device) error {
	if deviceCacheTTL <= 0 {
		return nil
	}

	b, err := json.Marshal(cachedDevice{Device: d, Key: d.Key})
	if err != nil {
		return errors.Wrap(err, "marshal device error")
	}

	key := GetRedisKey(deviceKeyTempl, d.GUID)
	if err := RedisClient().Set(ctx, key, b, deviceCacheTTL).Err(); err != nil {
		return errors.Wrap(err, "set device error")
	}
	return nil
}

// GetDeviceCache returns a cached device.
func GetDeviceCache(ctx context.Context, guid string) (Device, error) {
	var cd cachedDevice
	key := GetRedisKey(deviceKeyTempl, guid)

	val, err := RedisClient().Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Device{}, ErrDoesNotExist
		}
		return Device{}, errors.Wrap(err, "get error")
	}

	if err := json.Unmarshal(val, &cd); err != nil {
		return Device{}, errors.Wrap(err, "unmarshal device error")
	}
	cd.Device.Key = cd.Key
	return cd.Device, nil
}

// FlushDeviceCache deletes a cached device.
func FlushDeviceCache(ctx context.Context, guids ...string) error {
	if len(guids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(guids))
	for _, guid := range guids {
		keys = append(keys, GetRedisKey(deviceKeyTempl, guid))
	}
	if err := RedisClient().Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "delete error")
	}
	return nil
}

// GetAndCacheDevice returns the device from cache in case available, else
// it will be retrieved from the database and then stored in cache.
func GetAndCacheDevice(ctx context.Context, db sqlx.Queryer, guid string) (Device, error) {
	d, err := GetDeviceCache(ctx, guid)
	if err == nil {
		deviceCacheHit()
		return d, nil
	}
	deviceCacheMiss()

	if err != ErrDoesNotExist {
		log.WithFields(log.Fields{
			"guid":   guid,
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).WithError(err).Error("storage: get device cache error")
		// we don't return as we can still fall-back onto db retrieval
	}

	d, err = GetDevice(ctx, db, guid)
	if err != nil {
		return Device{}, err
	}

	if err := CreateDeviceCache(ctx, d); err != nil {
		log.WithFields(log.Fields{
			"guid":   guid,
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).WithError(err).Error("storage: create device cache error")
	}

	return d, nil
}
