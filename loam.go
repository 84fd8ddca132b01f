// Package loam runs compiled schema and query definitions against SQLite.
//
// The compiler, migrator, delta and catch-up packages are pure planners:
// they produce SQL and decide visibility, but never own a connection. A
// Runtime is the executor that glues them to a database/sql handle.
//
// # Basic Usage
//
//	db, _ := sql.Open("sqlite3", "file:app.db?_foreign_keys=on")
//	rt := loam.New(db, loam.Options{})
//	if _, err := rt.Migrate(ctx, schemaSource, migrator.MigrateOptions{}); err != nil {
//	    log.Fatal(err)
//	}
//	compiled, _ := rt.Compile(compiler.Source{Name: "app.loam", Text: schemaSource + queries})
//	resp, err := rt.Execute(ctx, compiled.Batch("CreatePost"), args, session)
//
// # Sync
//
// A mutation's Response carries the rows it touched. Deltas decides which
// connected sessions receive them:
//
//	res, _ := rt.Deltas(resp.AffectedRows, sessions)
//	for _, g := range res.Groups {
//	    payload := res.TableGroups(g) // send once to every session in g
//	}
//
// A reconnecting client catches up from its cursor with CatchUp.
//
// # Schema Lifecycle
//
// The runtime holds one schema at a time. Migrate loads the schema it
// applies; Load reads the last applied schema back from the database at
// startup. Both swap the schema atomically, so Deltas and CatchUp calls in
// flight finish against the schema they started with.
package loam

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pthm/loam/pkg/catchup"
	"github.com/pthm/loam/pkg/compiler"
	"github.com/pthm/loam/pkg/delta"
	"github.com/pthm/loam/pkg/migrator"
	"github.com/pthm/loam/pkg/schema"
)

// Options configures a Runtime.
type Options struct {
	// Logger receives runtime logs. Nil uses slog.Default().
	Logger *slog.Logger
	// PageSize is the catch-up page size used when CatchUp is called with
	// zero. Defaults to catchup.DefaultPageSize.
	PageSize int
}

// Runtime executes compiled batches and computes sync output for one
// SQLite database. It is safe for concurrent use.
type Runtime struct {
	db       *sql.DB
	logger   *slog.Logger
	pageSize int
	cache    delta.Cache
	engine   *delta.Engine
	migrator *migrator.Migrator
}

// New creates a runtime for db. No schema is loaded until Migrate or Load
// is called.
func New(db *sql.DB, opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = catchup.DefaultPageSize
	}
	r := &Runtime{
		db:       db,
		logger:   logger,
		pageSize: pageSize,
		migrator: migrator.NewMigrator(db, logger),
	}
	r.engine = delta.NewEngine(&r.cache, logger)
	return r
}

// DB returns the underlying database handle.
func (r *Runtime) DB() *sql.DB {
	return r.db
}

// Schema returns the loaded schema, or nil.
func (r *Runtime) Schema() *schema.Context {
	if s := r.cache.Load(); s != nil {
		return s.Context
	}
	return nil
}

// Version returns the hash of the loaded schema source, or "".
func (r *Runtime) Version() string {
	if s := r.cache.Load(); s != nil {
		return s.Version
	}
	return ""
}

// Migrate brings the database to source and loads it. A dry run plans
// without applying and leaves the loaded schema alone.
func (r *Runtime) Migrate(ctx context.Context, source string, opts migrator.MigrateOptions) (*migrator.Result, error) {
	res, err := r.migrator.Migrate(ctx, source, opts)
	if err != nil {
		return nil, err
	}
	if opts.DryRun == nil {
		r.store(migrator.SchemaHash(source), res.Context)
	}
	return res, nil
}

// Load reads the last successfully applied schema from the database and
// loads it.
func (r *Runtime) Load(ctx context.Context) error {
	source, ok, err := migrator.LoadStoredSchema(ctx, r.db)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMigrated
	}
	sc, err := compiler.CompileSchema(compiler.Source{Name: "stored schema", Text: source})
	if err != nil {
		return fmt.Errorf("compiling stored schema: %w", err)
	}
	r.store(migrator.SchemaHash(source), sc)
	return nil
}

func (r *Runtime) store(version string, sc *schema.Context) {
	prev := r.cache.Load()
	r.cache.Store(version, sc)
	if prev == nil || prev.Version != version {
		r.logger.Info("loaded schema", "version", version, "tables", len(sc.Tables))
	}
}

// Compile compiles sources holding schema and query definitions. When a
// schema is loaded, the compiled tables must match it column for column.
func (r *Runtime) Compile(sources ...compiler.Source) (*compiler.Compiled, error) {
	c, err := compiler.Compile(sources, compiler.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}
	if loaded := r.Schema(); loaded != nil {
		if err := sameTables(loaded, c.Context); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// sameTables reports the first table whose storage columns differ.
func sameTables(loaded, compiled *schema.Context) error {
	if len(loaded.Tables) != len(compiled.Tables) {
		return fmt.Errorf("%w: %d tables loaded, %d compiled", ErrSchemaMismatch, len(loaded.Tables), len(compiled.Tables))
	}
	for _, t := range compiled.Tables {
		lt := loaded.TableByName(t.Name)
		if lt == nil {
			return fmt.Errorf("%w: table %s is not loaded", ErrSchemaMismatch, t.Name)
		}
		a, b := loaded.Headers(lt), compiled.Headers(t)
		if len(a) != len(b) {
			return fmt.Errorf("%w: table %s columns differ", ErrSchemaMismatch, t.Name)
		}
		for i := range a {
			if a[i] != b[i] {
				return fmt.Errorf("%w: table %s column %s differs", ErrSchemaMismatch, t.Name, b[i])
			}
		}
	}
	return nil
}

// Deltas decides which sessions receive which affected rows.
func (r *Runtime) Deltas(rows []delta.AffectedRow, sessions []delta.ConnectedSession) (*delta.Result, error) {
	return r.engine.CalculateSyncDeltas(rows, sessions)
}

// CatchUp reads the next page of every table the session has missed
// since cursor. A nil cursor starts from scratch; a pageSize below one
// uses Options.PageSize. All pages are read in one transaction.
func (r *Runtime) CatchUp(ctx context.Context, cursor *catchup.Cursor, session map[string]any, pageSize int) (*catchup.Result, error) {
	snap := r.cache.Load()
	if snap == nil {
		return nil, ErrNoSchema
	}
	if pageSize < 1 {
		pageSize = r.pageSize
	}
	if cursor == nil {
		cursor = catchup.NewCursor()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting catch-up: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := catchup.Run(ctx, tx, snap.Context, cursor, session, pageSize)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("catch-up page",
		"tables", len(res.Pages),
		"has_more", res.HasMore)
	return res, nil
}
