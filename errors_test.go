package loam_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pthm/loam"
	"github.com/pthm/loam/pkg/compiler"
	"github.com/pthm/loam/pkg/migrator"
)

func TestErrorHelpers(t *testing.T) {
	t.Run("IsNotMigratedErr", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", loam.ErrNotMigrated)
		if !loam.IsNotMigratedErr(err) {
			t.Error("IsNotMigratedErr should return true for wrapped ErrNotMigrated")
		}
		if loam.IsNotMigratedErr(errors.New("other error")) {
			t.Error("IsNotMigratedErr should return false for other errors")
		}
	})

	t.Run("IsNoSchemaErr", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", loam.ErrNoSchema)
		if !loam.IsNoSchemaErr(err) {
			t.Error("IsNoSchemaErr should return true for wrapped ErrNoSchema")
		}
		if loam.IsNoSchemaErr(errors.New("other error")) {
			t.Error("IsNoSchemaErr should return false for other errors")
		}
	})

	t.Run("IsSchemaMismatchErr", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", loam.ErrSchemaMismatch)
		if !loam.IsSchemaMismatchErr(err) {
			t.Error("IsSchemaMismatchErr should return true for wrapped ErrSchemaMismatch")
		}
		if loam.IsSchemaMismatchErr(errors.New("other error")) {
			t.Error("IsSchemaMismatchErr should return false for other errors")
		}
	})

	t.Run("IsUnknownOperationErr", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", loam.ErrUnknownOperation)
		if !loam.IsUnknownOperationErr(err) {
			t.Error("IsUnknownOperationErr should return true for wrapped ErrUnknownOperation")
		}
	})

	t.Run("argument errors", func(t *testing.T) {
		if !loam.IsMissingArgumentErr(fmt.Errorf("binding: %w", compiler.ErrMissingArgument)) {
			t.Error("IsMissingArgumentErr should return true for wrapped ErrMissingArgument")
		}
		if !loam.IsInvalidArgumentErr(fmt.Errorf("binding: %w", compiler.ErrInvalidArgument)) {
			t.Error("IsInvalidArgumentErr should return true for wrapped ErrInvalidArgument")
		}
	})

	t.Run("IsUnrepresentableErr", func(t *testing.T) {
		err := &migrator.MigrationError{Table: "users", Column: "age", Message: "type change"}
		if !loam.IsUnrepresentableErr(err) {
			t.Error("IsUnrepresentableErr should return true for MigrationError")
		}
	})
}
