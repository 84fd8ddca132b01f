package loam

import (
	"errors"

	"github.com/pthm/loam/pkg/compiler"
	"github.com/pthm/loam/pkg/delta"
	"github.com/pthm/loam/pkg/migrator"
)

// Sentinel errors for runtime setup and usage problems. Permission checks
// never fail with these: a row a session may not see is simply left out.
//
// Use the Is*Err helpers to check for them.
var (
	// ErrNotMigrated is returned by Load when the database has no
	// successful migration. Run `loam migrate` first.
	ErrNotMigrated = errors.New("loam: database has no applied schema")

	// ErrNoSchema is returned by Deltas and CatchUp before Migrate or Load
	// has loaded a schema.
	ErrNoSchema = delta.ErrNoSchema

	// ErrSchemaMismatch is returned by Compile when the compiled tables do
	// not match the loaded schema.
	ErrSchemaMismatch = errors.New("loam: batch compiled against another schema")

	// ErrUnknownOperation is returned by ExecuteNamed for a name the
	// compiled sources do not define.
	ErrUnknownOperation = errors.New("loam: unknown operation")
)

// IsNotMigratedErr returns true if err is or wraps ErrNotMigrated.
func IsNotMigratedErr(err error) bool {
	return errors.Is(err, ErrNotMigrated)
}

// IsNoSchemaErr returns true if err is or wraps ErrNoSchema.
func IsNoSchemaErr(err error) bool {
	return errors.Is(err, ErrNoSchema)
}

// IsSchemaMismatchErr returns true if err is or wraps ErrSchemaMismatch.
func IsSchemaMismatchErr(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}

// IsUnknownOperationErr returns true if err is or wraps ErrUnknownOperation.
func IsUnknownOperationErr(err error) bool {
	return errors.Is(err, ErrUnknownOperation)
}

// IsMissingArgumentErr returns true if err reports an operation argument
// that was required but not supplied.
func IsMissingArgumentErr(err error) bool {
	return compiler.IsMissingArgumentErr(err)
}

// IsInvalidArgumentErr returns true if err reports an argument that does
// not fit its parameter.
func IsInvalidArgumentErr(err error) bool {
	return compiler.IsInvalidArgumentErr(err)
}

// IsUnrepresentableErr returns true if err reports a schema change that no
// migration can express.
func IsUnrepresentableErr(err error) bool {
	return migrator.IsUnrepresentableErr(err)
}
