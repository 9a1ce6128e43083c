package storage

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB holds a raw JSON document stored in a jsonb column. An empty value
// is stored as NULL.
type JSONB json.RawMessage

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 || bytes.Equal(j, []byte("null")) {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("expected []byte, got %T", src)
	}
	return nil
}

// MarshalJSON implements the json.Marshaler interface.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (j *JSONB) UnmarshalJSON(b []byte) error {
	*j = append((*j)[0:0], b...)
	return nil
}

// IsNull returns true when no document is set.
func (j JSONB) IsNull() bool {
	return len(j) == 0 || bytes.Equal(j, []byte("null"))
}
