package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/logging"
)

// Network represents a network of devices.
type Network struct {
	ID          int64   `db:"id" json:"id"`
	Name        string  `db:"name" json:"name"`
	Key         *string `db:"key" json:"key,omitempty"`
	Description *string `db:"description" json:"description,omitempty"`
}

// Validate validates the network data.
func (n Network) Validate() error {
	if n.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// NetworkFilters holds the filters of a network list.
type NetworkFilters struct {
	Name        string
	NamePattern string
	Visible     *Visibility
	ListOptions
}

const networkColumns = `id, name, key, description`
const networkColumnsPrefixed = `n.id, n.name, n.key, n.description`

var networkSortColumns = map[string]string{
	"id":   "id",
	"name": "name",
}

// CreateNetwork creates the given network.
func CreateNetwork(ctx context.Context, db sqlx.Queryer, n *Network) error {
	if err := n.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	err := sqlx.Get(db, &n.ID, `
		insert into network (
			name,
			key,
			description
		) values ($1, $2, $3)
		returning id`,
		n.Name,
		n.Key,
		n.Description,
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}

	log.WithFields(log.Fields{
		"network_id": n.ID,
		"name":       n.Name,
		"ctx_id":     ctx.Value(logging.ContextIDKey),
	}).Info("storage: network created")

	return nil
}

// GetNetwork returns the network for the given id.
func GetNetwork(ctx context.Context, db sqlx.Queryer, id int64) (Network, error) {
	var n Network
	if err := sqlx.Get(db, &n, `select `+networkColumns+` from network where id = $1`, id); err != nil {
		return n, handlePSQLError(err, "select error")
	}
	return n, nil
}

// GetExistingNetworkIDs returns the subset of ids that exist.
func GetExistingNetworkIDs(ctx context.Context, db sqlx.Queryer, ids []int64) ([]int64, error) {
	var out []int64
	if err := sqlx.Select(db, &out, `select id from network where id = any($1) order by id`, pq.Array(ids)); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return out, nil
}

// UpdateNetwork updates the given network.
func UpdateNetwork(ctx context.Context, db sqlx.Execer, n Network) error {
	if err := n.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	res, err := db.Exec(`
		update network set
			name = $2,
			key = $3,
			description = $4
		where id = $1`,
		n.ID,
		n.Name,
		n.Key,
		n.Description,
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
		"network_id": n.ID,
		"ctx_id":     ctx.Value(logging.ContextIDKey),
	}).Info("storage: network updated")

	return nil
}

// DeleteNetwork deletes the network with the given id. Devices of the
// network are detached. The guids of the detached devices are returned.
func DeleteNetwork(ctx context.Context, db sqlx.Ext, id int64) ([]string, error) {
	var guids []string
	if err := sqlx.Select(db, &guids, `update device set network_id = null where network_id = $1 returning guid`, id); err != nil {
		return nil, handlePSQLError(err, "update error")
	}

	res, err := db.Exec(`delete from network where id = $1`, id)
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
		"network_id":       id,
		"detached_devices": len(guids),
		"ctx_id":           ctx.Value(logging.ContextIDKey),
	}).Info("storage: network deleted")

	return guids, nil
}

func networkQuery(filters NetworkFilters) query {
	var q query
	if filters.Name != "" {
		q.and("name = " + q.arg(filters.Name))
	}
	if filters.NamePattern != "" {
		q.and("name like " + q.arg(filters.NamePattern))
	}
	q.visible(filters.Visible, "id", "", "")
	return q
}

// GetNetworks returns the networks matching the given filters.
func GetNetworks(ctx context.Context, db sqlx.Queryer, filters NetworkFilters) ([]Network, error) {
	q := networkQuery(filters)
	tail, err := filters.clause(networkSortColumns, "id")
	if err != nil {
		return nil, err
	}

	networks := []Network{}
	if err := sqlx.Select(db, &networks, `select `+networkColumns+` from network`+q.whereClause()+tail, q.args...); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return networks, nil
}

// GetNetworkCount returns the number of networks matching the given filters.
func GetNetworkCount(ctx context.Context, db sqlx.Queryer, filters NetworkFilters) (int, error) {
	q := networkQuery(filters)
	var count int
	if err := sqlx.Get(db, &count, `select count(*) from network`+q.whereClause(), q.args...); err != nil {
		return 0, handlePSQLError(err, "select error")
	}
	return count, nil
}
