package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/logging"
)

// PluginStatus defines the status of a plugin.
type PluginStatus string

// Plugin statuses.
const (
	PluginActive   PluginStatus = "ACTIVE"
	PluginInactive PluginStatus = "INACTIVE"
	PluginCreated  PluginStatus = "CREATED"
)

// Plugin represents a registered plugin.
type Plugin struct {
	ID          int64        `db:"id" json:"id"`
	Name        string       `db:"name" json:"name"`
	Description *string      `db:"description" json:"description,omitempty"`
	TopicName   string       `db:"topic_name" json:"topicName"`
	Filter      string       `db:"filter" json:"filter"`
	Status      PluginStatus `db:"status" json:"status"`
	UserID      int64        `db:"user_id" json:"userId"`
	Parameters  JSONB        `db:"parameters" json:"parameters,omitempty"`
}

// Validate validates the plugin data.
func (p Plugin) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.TopicName == "" {
		return errors.New("topic name is required")
	}
	switch p.Status {
	case PluginActive, PluginInactive, PluginCreated:
	default:
		return errors.New("invalid status")
	}
	return nil
}

// PluginFilters holds the filters of a plugin list.
type PluginFilters struct {
	Name        string
	NamePattern string
	TopicName   string
	Status      PluginStatus
	UserID      *int64
	ListOptions
}

const pluginColumns = `id, name, description, topic_name, filter, status, user_id, parameters`

var pluginSortColumns = map[string]string{
	"id":     "id",
	"name":   "name",
	"status": "status",
}

// CreatePlugin creates the given plugin.
func CreatePlugin(ctx context.Context, db sqlx.Queryer, p *Plugin) error {
	if err := p.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	err := sqlx.Get(db, &p.ID, `
		insert into plugin (
			name,
			description,
			topic_name,
			filter,
			status,
			user_id,
			parameters
		) values ($1, $2, $3, $4, $5, $6, $7)
		returning id`,
		p.Name,
		p.Description,
		p.TopicName,
		p.Filter,
		p.Status,
		p.UserID,
		p.Parameters,
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}

	log.WithFields(log.Fields{
		"plugin_id":  p.ID,
		"topic_name": p.TopicName,
		"ctx_id":     ctx.Value(logging.ContextIDKey),
	}).Info("storage: plugin created")

	return nil
}

// GetPluginByTopic returns the plugin for the given topic name.
func GetPluginByTopic(ctx context.Context, db sqlx.Queryer, topic string) (Plugin, error) {
	var p Plugin
	if err := sqlx.Get(db, &p, `select `+pluginColumns+` from plugin where topic_name = $1`, topic); err != nil {
		return p, handlePSQLError(err, "select error")
	}
	return p, nil
}

// UpdatePlugin updates the given plugin.
func UpdatePlugin(ctx context.Context, db sqlx.Execer, p Plugin) error {
	if err := p.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	res, err := db.Exec(`
		update plugin set
			name = $2,
			description = $3,
			topic_name = $4,
			filter = $5,
			status = $6,
			parameters = $7
		where id = $1`,
		p.ID,
		p.Name,
		p.Description,
		p.TopicName,
		p.Filter,
		p.Status,
		p.Parameters,
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
	return nil
}

// DeletePlugin deletes the plugin with the given topic name. Deleting a
// missing plugin is not an error.
func DeletePlugin(ctx context.Context, db sqlx.Execer, topic string) error {
	if _, err := db.Exec(`delete from plugin where topic_name = $1`, topic); err != nil {
		return handlePSQLError(err, "delete error")
	}

	log.WithFields(log.Fields{
		"topic_name": topic,
		"ctx_id":     ctx.Value(logging.ContextIDKey),
	}).Info("storage: plugin deleted")

	return nil
}

func pluginQuery(filters PluginFilters) query {
	var q query
	if filters.Name != "" {
		q.and("name = " + q.arg(filters.Name))
	}
	if filters.NamePattern != "" {
		q.and("name like " + q.arg(filters.NamePattern))
	}
	if filters.TopicName != "" {
		q.and("topic_name = " + q.arg(filters.TopicName))
	}
	if filters.Status != "" {
		q.and("status = " + q.arg(filters.Status))
	}
	if filters.UserID != nil {
		q.and("user_id = " + q.arg(*filters.UserID))
	}
	return q
}

// GetPlugins returns the plugins matching the given filters.
func GetPlugins(ctx context.Context, db sqlx.Queryer, filters PluginFilters) ([]Plugin, error) {
	q := pluginQuery(filters)
	tail, err := filters.clause(pluginSortColumns, "id")
	if err != nil {
		return nil, err
	}

	plugins := []Plugin{}
	if err := sqlx.Select(db, &plugins, `select `+pluginColumns+` from plugin`+q.whereClause()+tail, q.args...); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return plugins, nil
}

// GetPluginCount returns the number of plugins matching the given filters.
func GetPluginCount(ctx context.Context, db sqlx.Queryer, filters PluginFilters) (int, error) {
	q := pluginQuery(filters)
	var count int
	if err := sqlx.Get(db, &count, `select count(*) from plugin`+q.whereClause(), q.args...); err != nil {
		return 0, handlePSQLError(err, "select error")
	}
	return count, nil
}
