// Package doctor provides health checks for a loam database.
//
// The doctor command compiles the configured sources, then checks the
// migration ledger, the live tables against the schema, and the stored
// data for foreign key and integrity problems.
//
// Example usage:
//
//	d := doctor.New(db, schemaSource, querySources...)
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/pthm/loam/pkg/compiler"
	"github.com/pthm/loam/pkg/migrator"
	"github.com/pthm/loam/pkg/schema"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// Check categories, in report order.
const (
	CategorySources   = "Sources"
	CategoryMigration = "Migration State"
	CategoryTables    = "Tables"
	CategoryData      = "Data Health"
)

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	Category string
	// Name is a short identifier for the check.
	Name    string
	Status  Status
	Message string
	// Details provides additional information for verbose output.
	Details string
	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Check returns the first result with the given name, or nil.
func (r *Report) Check(name string) *CheckResult {
	for i := range r.Checks {
		if r.Checks[i].Name == name {
			return &r.Checks[i]
		}
	}
	return nil
}

// Print writes the report grouped by category.
func (r *Report) Print(w io.Writer, verbose bool) {
	category := ""
	for _, check := range r.Checks {
		if check.Category != category {
			category = check.Category
			_, _ = fmt.Fprintf(w, "\n%s\n", category)
		}
		_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
		if verbose && check.Details != "" {
			for _, line := range strings.Split(check.Details, "\n") {
				_, _ = fmt.Fprintf(w, "      %s\n", line)
			}
		}
		if check.Status != StatusPass && check.FixHint != "" {
			_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// Doctor performs health checks on a loam database.
type Doctor struct {
	db      *sql.DB
	schema  compiler.Source
	queries []compiler.Source

	// Populated during Run.
	target *schema.Context
}

// New creates a Doctor for db and the given sources.
func New(db *sql.DB, schemaSource compiler.Source, queries ...compiler.Source) *Doctor {
	return &Doctor{db: db, schema: schemaSource, queries: queries}
}

// Run executes all health checks and returns a report. Errors are returned
// only when the database cannot be queried; problems found are reported
// as checks.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	d.checkSources(report)
	if err := d.checkMigrationState(ctx, report); err != nil {
		return nil, fmt.Errorf("checking migration state: %w", err)
	}
	if err := d.checkTables(ctx, report); err != nil {
		return nil, fmt.Errorf("checking tables: %w", err)
	}
	if err := d.checkDataHealth(ctx, report); err != nil {
		return nil, fmt.Errorf("checking data health: %w", err)
	}

	return report, nil
}

func (d *Doctor) checkSources(report *Report) {
	target, err := compiler.CompileSchema(d.schema)
	if err != nil {
		check := CheckResult{
			Category: CategorySources,
			Name:     "schema",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Schema %s does not compile", d.schema.Name),
			Details:  err.Error(),
			FixHint:  "Run 'loam validate' to see every diagnostic",
		}
		if schema.IsCyclicSchemaErr(err) {
			check.FixHint = "Make one of the required links in the cycle optional"
		}
		report.AddCheck(check)
		return
	}
	d.target = target

	report.AddCheck(CheckResult{
		Category: CategorySources,
		Name:     "schema",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Schema is valid (%d tables)", len(target.Tables)),
	})

	if len(d.queries) == 0 {
		return
	}
	compiled, err := compiler.Compile(append([]compiler.Source{d.schema}, d.queries...))
	if err != nil {
		report.AddCheck(CheckResult{
			Category: CategorySources,
			Name:     "queries",
			Status:   StatusFail,
			Message:  "Query files do not compile",
			Details:  err.Error(),
			FixHint:  "Run 'loam validate' to see every diagnostic",
		})
		return
	}
	report.AddCheck(CheckResult{
		Category: CategorySources,
		Name:     "queries",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Queries compile (%d operations)", len(compiled.Batches)),
	})
}

func (d *Doctor) checkMigrationState(ctx context.Context, report *Report) error {
	history, err := migrator.History(ctx, d.db)
	if err != nil {
		return err
	}
	if history == nil {
		report.AddCheck(CheckResult{
			Category: CategoryMigration,
			Name:     "ledger",
			Status:   StatusWarn,
			Message:  migrator.LedgerTable + " table does not exist",
			Details:  "Migration tracking is not set up",
			FixHint:  "Run 'loam migrate' to create it",
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: CategoryMigration,
		Name:     "ledger",
		Status:   StatusPass,
		Message:  fmt.Sprintf("%s table exists (%d attempts)", migrator.LedgerTable, len(history)),
	})

	if latest := history[len(history)-1]; latest.Status == migrator.StatusFailure {
		report.AddCheck(CheckResult{
			Category: CategoryMigration,
			Name:     "last_attempt",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("Last migration attempt %q failed", latest.Name),
			Details:  latest.Error,
			FixHint:  "Fix the schema and run 'loam migrate' again",
		})
	}

	var last *migrator.Record
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Status == migrator.StatusSuccess {
			last = history[i]
			break
		}
	}
	if last == nil {
		report.AddCheck(CheckResult{
			Category: CategoryMigration,
			Name:     "migrated",
			Status:   StatusWarn,
			Message:  "No successful migration recorded",
			FixHint:  "Run 'loam migrate' to apply the schema",
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: CategoryMigration,
		Name:     "migrated",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Schema migrated (plan %s)", last.PlanID),
	})

	current := migrator.SchemaHash(d.schema.Text)
	if current != last.SchemaHash {
		report.AddCheck(CheckResult{
			Category: CategoryMigration,
			Name:     "schema_sync",
			Status:   StatusWarn,
			Message:  "Schema file has changed since last migration",
			Details:  fmt.Sprintf("File hash: %s\nDB hash:   %s", short(current), short(last.SchemaHash)),
			FixHint:  "Run 'loam migrate' to apply changes",
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: CategoryMigration,
		Name:     "schema_sync",
		Status:   StatusPass,
		Message:  "Schema is in sync with database",
	})
	return nil
}

func (d *Doctor) checkTables(ctx context.Context, report *Report) error {
	if d.target == nil {
		return nil
	}
	live, err := migrator.Introspect(ctx, d.db)
	if err != nil {
		return err
	}

	var missing []string
	for _, t := range d.target.Tables {
		if live.Table(t.Name) == nil {
			missing = append(missing, t.Name)
		}
	}
	if len(missing) > 0 {
		report.AddCheck(CheckResult{
			Category: CategoryTables,
			Name:     "tables",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Missing %d of %d tables", len(missing), len(d.target.Tables)),
			Details:  strings.Join(missing, ", "),
			FixHint:  "Run 'loam migrate' to create them",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: CategoryTables,
			Name:     "tables",
			Status:   StatusPass,
			Message:  fmt.Sprintf("All %d tables exist", len(d.target.Tables)),
		})
	}

	plan, err := migrator.Diff(live, d.target)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: CategoryTables,
			Name:     "structure",
			Status:   StatusFail,
			Message:  "Database cannot be migrated to the schema",
			Details:  err.Error(),
			FixHint:  "Revert the incompatible change or migrate the data by hand",
		})
		return nil
	}
	if !plan.Empty() {
		stmts := make([]string, len(plan.DDL))
		for i, s := range plan.DDL {
			stmts[i] = s.SQL
		}
		report.AddCheck(CheckResult{
			Category: CategoryTables,
			Name:     "structure",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d pending schema changes", len(plan.DDL)),
			Details:  strings.Join(stmts, "\n"),
			FixHint:  "Run 'loam migrate' to apply them",
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: CategoryTables,
		Name:     "structure",
		Status:   StatusPass,
		Message:  "Table structure matches the schema",
	})
	return nil
}

func (d *Doctor) checkDataHealth(ctx context.Context, report *Report) error {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	var enforced int
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enforced); err != nil {
		return fmt.Errorf("reading foreign_keys pragma: %w", err)
	}
	if enforced == 0 {
		report.AddCheck(CheckResult{
			Category: CategoryData,
			Name:     "foreign_keys_enabled",
			Status:   StatusWarn,
			Message:  "Foreign key enforcement is off for this connection",
			FixHint:  "Add _foreign_keys=on to the database DSN",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: CategoryData,
			Name:     "foreign_keys_enabled",
			Status:   StatusPass,
			Message:  "Foreign key enforcement is on",
		})
	}

	violations, err := foreignKeyViolations(ctx, conn)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		report.AddCheck(CheckResult{
			Category: CategoryData,
			Name:     "foreign_keys",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Found %d rows with dangling foreign keys", len(violations)),
			Details:  strings.Join(violations, "\n"),
			FixHint:  "Delete or repair the listed rows",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: CategoryData,
			Name:     "foreign_keys",
			Status:   StatusPass,
			Message:  "No foreign key violations",
		})
	}

	var integrity string
	if err := conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&integrity); err != nil {
		return fmt.Errorf("running quick_check: %w", err)
	}
	if integrity != "ok" {
		report.AddCheck(CheckResult{
			Category: CategoryData,
			Name:     "integrity",
			Status:   StatusFail,
			Message:  "Database file failed the integrity check",
			Details:  integrity,
			FixHint:  "Restore from a backup",
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: CategoryData,
		Name:     "integrity",
		Status:   StatusPass,
		Message:  "Database file passed the integrity check",
	})
	return nil
}

// foreignKeyViolations lists PRAGMA foreign_key_check rows as
// "table rowid -> parent".
func foreignKeyViolations(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return nil, fmt.Errorf("running foreign_key_check: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var (
			table, parent string
			rowid         sql.NullInt64
			fkid          int
		)
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s %d -> %s", table, rowid.Int64, parent))
	}
	return out, rows.Err()
}

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16] + "..."
	}
	return hash
}
