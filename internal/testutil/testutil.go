// Package testutil provides shared test utilities for loam integration tests.
package testutil

import (
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// BlogSchema is a two-table schema with a public users table and a posts
// table guarded by author and published rules.
//
//go:embed testdata/blog.loam
var BlogSchema string

// DSN returns the go-sqlite3 data source name for a database file with
// foreign keys enforced.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
}

// DB returns an empty SQLite database in a fresh temp directory. It is
// closed when the test completes. Works with both *testing.T and
// *testing.B.
func DB(tb testing.TB) *sql.DB {
	tb.Helper()
	return Open(tb, filepath.Join(tb.TempDir(), "test.db"))
}

// Open opens the SQLite database file at path and closes it when the test
// completes.
func Open(tb testing.TB, path string) *sql.DB {
	tb.Helper()

	db, err := sql.Open("sqlite3", DSN(path))
	require.NoError(tb, err, "failed to open test database")

	err = db.Ping()
	require.NoError(tb, err, "failed to ping test database")

	tb.Cleanup(func() { _ = db.Close() })
	return db
}
