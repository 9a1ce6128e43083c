// Package migrations contains the PostgreSQL schema migrations.
package migrations

import (
	"database/sql"
	"embed"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(sqlFiles, "sql")
	if err != nil {
		return nil, errors.Wrap(err, "new migration source error")
	}

	drv, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "new migration driver error")
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return nil, errors.Wrap(err, "new migrate instance error")
	}
	m.Log = logger{}
	return m, nil
}

// Up applies all pending migrations.
func Up(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "apply migrations error")
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return errors.Wrap(err, "get migration version error")
	}
	log.WithFields(log.Fields{
		"version": version,
		"dirty":   dirty,
	}).Info("migrations: schema is up to date")

	return nil
}

// Reset rolls back all migrations and applies them again.
func Reset(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	if err := m.Down(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "rollback migrations error")
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "apply migrations error")
	}
	return nil
}

type logger struct{}

func (logger) Printf(format string, v ...interface{}) {
	log.Debugf("migrations: "+format, v...)
}

func (logger) Verbose() bool {
	return log.IsLevelEnabled(log.DebugLevel)
}
