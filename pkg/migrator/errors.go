package migrator

import (
	"errors"
	"fmt"
)

// ErrUnrepresentable is returned when the target schema cannot be reached
// from the live database with SQLite DDL without losing data.
var ErrUnrepresentable = errors.New("loam: unrepresentable migration")

// IsUnrepresentableErr returns true if err is or wraps ErrUnrepresentable.
func IsUnrepresentableErr(err error) bool {
	return errors.Is(err, ErrUnrepresentable)
}

// MigrationError reports a schema difference the planner refuses to
// express.
type MigrationError struct {
	Table   string
	Column  string
	Message string
}

func (e *MigrationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("migrating %s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("migrating %s: %s", e.Table, e.Message)
}

// Unwrap returns ErrUnrepresentable.
func (e *MigrationError) Unwrap() error {
	return ErrUnrepresentable
}
