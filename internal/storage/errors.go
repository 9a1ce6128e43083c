package storage

import (
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// errors
var (
	ErrAlreadyExists    = errors.New("object already exists")
	ErrDoesNotExist     = errors.New("object does not exist")
	ErrInvalidReference = errors.New("referenced object does not exist")
	ErrInvalidSortField = errors.New("invalid sort field")
)

func handlePSQLError(err error, description string) error {
	if err == sql.ErrNoRows {
		return ErrDoesNotExist
	}

	switch err := err.(type) {
	case *pq.Error:
		switch err.Code.Name() {
		case "unique_violation":
			return ErrAlreadyExists
		case "foreign_key_violation":
			return ErrInvalidReference
		}
	}

	return errors.Wrap(err, description)
}

// ValidationError is returned when an object fails validation before it
// is written.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "validate error: " + e.Err.Error()
}
