package code

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// transaction wraps the given function in a transaction. In case the given
// functions returns an error, the transaction will be rolled back.
// Unlike storage.Transaction it runs on the given connection.
func transaction(db *sqlx.DB, f func(tx sqlx.Ext) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return errors.Wrap(err, "migrations/code: begin transaction error")
	}

	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrap(rbErr, "migrations/code: transaction rollback error")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "migrations/code: transaction commit error")
	}
	return nil
}
