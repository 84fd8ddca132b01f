package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LedgerTable is the append-only record of migration attempts.
const LedgerTable = "_loam_migrations"

// ledgerDDL creates the ledger. It is safe to run on every migration.
const ledgerDDL = `CREATE TABLE IF NOT EXISTS _loam_migrations (
    id INTEGER PRIMARY KEY,
    plan_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    schema_hash TEXT NOT NULL,
    schema_source TEXT NOT NULL DEFAULT '',
    sql TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('success', 'failure')),
    error TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
)`

const ledgerInsert = `INSERT INTO _loam_migrations (plan_id, name, schema_hash, schema_source, sql, status, error) VALUES ($plan_id, $name, $schema_hash, $schema_source, $sql, `

// Record is one row of the ledger.
type Record struct {
	ID           int64
	PlanID       string
	Name         string
	SchemaHash   string
	SchemaSource string
	SQL          string
	Status       string
	Error        string
	CreatedAt    int64
}

// Ledger statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

func ledgerStatements(p *Plan, source string) (success, failure Statement) {
	args := []any{
		sql.Named("plan_id", p.ID),
		sql.Named("name", p.Name),
		sql.Named("schema_hash", p.SchemaHash),
		sql.Named("schema_source", source),
		sql.Named("sql", p.Script()),
	}
	success = Statement{SQL: ledgerInsert + `'success', NULL)`, Args: args}
	failure = Statement{SQL: ledgerInsert + `'failure', $error)`, Args: args}
	return success, failure
}

// EnsureLedger creates the ledger table when it does not exist.
func EnsureLedger(ctx context.Context, db Execer) error {
	if _, err := db.ExecContext(ctx, ledgerDDL); err != nil {
		return fmt.Errorf("creating ledger: %w", err)
	}
	return nil
}

func ledgerExists(ctx context.Context, db Execer) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_schema WHERE type = 'table' AND name = ?`, LedgerTable).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking ledger: %w", err)
	}
	return n > 0, nil
}

const recordColumns = `id, plan_id, name, schema_hash, schema_source, sql, status, coalesce(error, ''), created_at`

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var r Record
	if err := scan(&r.ID, &r.PlanID, &r.Name, &r.SchemaHash, &r.SchemaSource, &r.SQL, &r.Status, &r.Error, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// LastSuccess returns the most recent successful migration, or nil if
// none exists.
func LastSuccess(ctx context.Context, db Execer) (*Record, error) {
	ok, err := ledgerExists(ctx, db)
	if err != nil || !ok {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM _loam_migrations
		WHERE status = 'success' ORDER BY id DESC LIMIT 1`)
	r, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last migration: %w", err)
	}
	return r, nil
}

// History returns every ledger row, oldest first.
func History(ctx context.Context, db Execer) ([]*Record, error) {
	ok, err := ledgerExists(ctx, db)
	if err != nil || !ok {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT `+recordColumns+` FROM _loam_migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning ledger: %w", err)
		}
		out = append(out, r)
	}
	return out, closeRows(rows)
}

// LoadStoredSchema returns the schema source of the last successful
// migration. ok is false when nothing has been applied.
func LoadStoredSchema(ctx context.Context, db Execer) (source string, ok bool, err error) {
	r, err := LastSuccess(ctx, db)
	if err != nil || r == nil {
		return "", false, err
	}
	return r.SchemaSource, true, nil
}
