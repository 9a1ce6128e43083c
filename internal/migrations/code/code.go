// Package code contains the data migrations which can not be expressed in
// SQL. Each migration is applied at most once.
package code

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Migrate checks if the given function code has been applied and if not
// it will execute the given function.
func Migrate(db *sqlx.DB, name string, f func(db sqlx.Ext) error) error {
	return transaction(db, func(tx sqlx.Ext) error {
		if _, err := tx.Exec(`lock table code_migration`); err != nil {
			return errors.Wrap(err, "lock code migration table error")
		}

		res, err := tx.Exec(`
			insert into code_migration (
				id,
				applied_at
			) values ($1, $2)
			on conflict
				do nothing`,
			name,
			time.Now(),
		)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
				return nil
			}
			return errors.Wrap(err, "insert code migration error")
		}

		ra, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "get rows affected error")
		}
		if ra == 0 {
			return nil
		}

		if err := f(tx); err != nil {
			return err
		}

		log.WithField("migration", name).Info("migrations/code: code migration applied")
		return nil
	})
}
