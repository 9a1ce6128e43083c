package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Configuration is a named server configuration value.
type Configuration struct {
	Name          string `db:"name" json:"name"`
	Value         string `db:"value" json:"value"`
	EntityVersion int64  `db:"entity_version" json:"entityVersion"`
}

// GetConfiguration returns the configuration value with the given name.
func GetConfiguration(ctx context.Context, db sqlx.Queryer, name string) (Configuration, error) {
	var c Configuration
	if err := sqlx.Get(db, &c, `select name, value, entity_version from configuration where name = $1`, name); err != nil {
		return c, handlePSQLError(err, "select error")
	}
	return c, nil
}

// SaveConfiguration creates or updates the configuration value. The entity
// version is incremented on every update.
func SaveConfiguration(ctx context.Context, db sqlx.Queryer, name, value string) (Configuration, error) {
	if name == "" {
		return Configuration{}, &ValidationError{Err: errors.New("name is required")}
	}

	var c Configuration
	err := sqlx.Get(db, &c, `
		insert into configuration (
			name,
			value,
			entity_version
		) values ($1, $2, 0)
		on conflict (name) do update
		set
			value = excluded.value,
			entity_version = configuration.entity_version + 1
		returning name, value, entity_version`,
		name,
		value,
	)
	if err != nil {
		return c, handlePSQLError(err, "insert error")
	}
	return c, nil
}

// DeleteConfiguration deletes the configuration value. Deleting a missing
// value is not an error.
func DeleteConfiguration(ctx context.Context, db sqlx.Execer, name string) error {
	if _, err := db.Exec(`delete from configuration where name = $1`, name); err != nil {
		return handlePSQLError(err, "delete error")
	}
	return nil
}
