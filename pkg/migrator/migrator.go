package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pthm/loam/pkg/compiler"
	"github.com/pthm/loam/pkg/schema"
)

// MigrateOptions controls migration behavior.
type MigrateOptions struct {
	// DryRun writes the planned SQL to the writer without applying it.
	DryRun io.Writer

	// Force plans and records the migration even when the schema source
	// matches the last successful migration.
	Force bool

	// Name is recorded in the ledger.
	Name string
}

// Result describes a migration run.
type Result struct {
	// Skipped is true when the source matched the last successful
	// migration and nothing was planned.
	Skipped bool
	// Plan is nil when Skipped.
	Plan    *Plan
	Context *schema.Context
}

// Migrator brings a SQLite database to a schema and keeps the ledger.
// The migrator is idempotent - safe to run on every application startup.
//
// The migration process:
//  1. Compiles the schema source
//  2. Skips when the source hash matches the last successful migration
//  3. Introspects the live database and diffs it against the schema
//  4. Applies the DDL in one transaction with foreign keys disabled, and
//     records the outcome in the ledger
type Migrator struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewMigrator creates a migrator for db. A nil logger uses slog.Default().
func NewMigrator(db *sql.DB, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, logger: logger}
}

// Migrate compiles source and applies it. Query definitions in source are
// ignored.
func (m *Migrator) Migrate(ctx context.Context, source string, opts MigrateOptions) (*Result, error) {
	target, err := compiler.CompileSchema(compiler.Source{Name: opts.Name, Text: source})
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return m.MigrateContext(ctx, target, source, opts)
}

// MigrateContext applies an already compiled schema. source is stored in
// the ledger for LoadStoredSchema and drives the skip check.
func (m *Migrator) MigrateContext(ctx context.Context, target *schema.Context, source string, opts MigrateOptions) (*Result, error) {
	hash := SchemaHash(source)
	if !opts.Force && opts.DryRun == nil && source != "" {
		last, err := LastSuccess(ctx, m.db)
		if err != nil {
			return nil, fmt.Errorf("checking last migration: %w", err)
		}
		if last != nil && last.SchemaHash == hash {
			m.logger.Debug("schema unchanged, skipping migration", "schema_hash", hash)
			return &Result{Skipped: true, Context: target}, nil
		}
	}

	live, err := Introspect(ctx, m.db)
	if err != nil {
		return nil, err
	}
	plan, err := DiffWithOptions(live, target, DiffOptions{Name: opts.Name, Source: source})
	if err != nil {
		return nil, err
	}

	if opts.DryRun != nil {
		outputDryRun(opts.DryRun, plan)
		return &Result{Plan: plan, Context: target}, nil
	}

	if err := m.Apply(ctx, plan); err != nil {
		return nil, err
	}
	m.logger.Info("applied migration",
		"plan_id", plan.ID,
		"name", plan.Name,
		"statements", len(plan.DDL))
	return &Result{Plan: plan, Context: target}, nil
}

// Apply executes plan on a single connection. Foreign key enforcement is
// switched off for the duration so tables can be rebuilt, and the result
// is checked with PRAGMA foreign_key_check before commit. On failure the
// transaction is rolled back and the attempt recorded with MarkFailure.
func (m *Migrator) Apply(ctx context.Context, plan *Plan) (err error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := EnsureLedger(ctx, conn); err != nil {
		return err
	}

	var fkEnabled bool
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("reading foreign_keys: %w", err)
	}
	if fkEnabled {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
			return fmt.Errorf("disabling foreign keys: %w", err)
		}
		defer func() {
			if _, rerr := conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA foreign_keys = ON"); rerr != nil && err == nil {
				err = fmt.Errorf("restoring foreign keys: %w", rerr)
			}
		}()
	}

	if err := applyPlan(ctx, conn, plan, fkEnabled); err != nil {
		fail := plan.MarkFailureWith(err)
		if _, ferr := conn.ExecContext(context.WithoutCancel(ctx), fail.SQL, fail.Args...); ferr != nil {
			m.logger.Error("recording migration failure", "plan_id", plan.ID, "error", ferr)
		}
		return fmt.Errorf("applying migration %s: %w", plan.ID, err)
	}
	return nil
}

func applyPlan(ctx context.Context, conn *sql.Conn, plan *Plan, checkForeignKeys bool) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range plan.DDL {
		if _, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return fmt.Errorf("statement %d (%s): %w", i, stmt.SQL, err)
		}
	}
	if checkForeignKeys {
		if err := foreignKeyCheck(ctx, tx); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, plan.MarkSuccess.SQL, plan.MarkSuccess.Args...); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// foreignKeyCheck fails when any row references a missing parent.
func foreignKeyCheck(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("checking foreign keys: %w", err)
	}
	var violations []string
	for rows.Next() {
		var (
			table, parent string
			rowid         sql.NullInt64
			fkid          int
		)
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scanning foreign key check: %w", err)
		}
		violations = append(violations, fmt.Sprintf("%s row %d references missing %s", table, rowid.Int64, parent))
	}
	if err := closeRows(rows); err != nil {
		return fmt.Errorf("checking foreign keys: %w", err)
	}
	if len(violations) > 0 {
		return fmt.Errorf("foreign key violations: %s", strings.Join(violations, "; "))
	}
	return nil
}

// Status describes the database against a schema.
type Status struct {
	// Applied is the last successful migration, nil when none.
	Applied *Record
	// Pending is the plan that would run now.
	Pending *Plan
	// UpToDate is true when the source hash matches Applied and the plan
	// is empty.
	UpToDate bool
}

// Status reports what Migrate would do for source without applying it.
func (m *Migrator) Status(ctx context.Context, source string) (*Status, error) {
	target, err := compiler.CompileSchema(compiler.Source{Text: source})
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	last, err := LastSuccess(ctx, m.db)
	if err != nil {
		return nil, err
	}
	live, err := Introspect(ctx, m.db)
	if err != nil {
		return nil, err
	}
	plan, err := DiffWithOptions(live, target, DiffOptions{Source: source})
	if err != nil {
		return nil, err
	}
	return &Status{
		Applied:  last,
		Pending:  plan,
		UpToDate: last != nil && last.SchemaHash == plan.SchemaHash && plan.Empty(),
	}, nil
}

// outputDryRun writes the migration SQL to w.
func outputDryRun(w io.Writer, plan *Plan) {
	_, _ = fmt.Fprintf(w, "-- Loam Migration (dry-run)\n")
	_, _ = fmt.Fprintf(w, "-- Plan: %s\n", plan.ID)
	_, _ = fmt.Fprintf(w, "-- Schema hash: %s\n", plan.SchemaHash)
	_, _ = fmt.Fprintf(w, "\n")

	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- DDL: Migration Ledger\n")
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	_, _ = fmt.Fprintf(w, "%s;\n\n", ledgerDDL)

	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- Schema Changes (%d statements)\n", len(plan.DDL))
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	for _, stmt := range plan.DDL {
		_, _ = fmt.Fprintf(w, "%s;\n", stmt.SQL)
	}
	if !plan.Empty() {
		_, _ = fmt.Fprintf(w, "\n")
	}

	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- Migration Record\n")
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	_, _ = fmt.Fprintf(w, "%s;\n", plan.MarkSuccess.SQL)
}
