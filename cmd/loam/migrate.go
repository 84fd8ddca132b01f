package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/loam"
	"github.com/pthm/loam/internal/cli"
	"github.com/pthm/loam/pkg/migrator"
)

var (
	migrateDB     string
	migrateSchema string
	migrateName   string
	migrateDryRun bool
	migrateForce  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema to database",
	Long: `Bring the SQLite database to the schema. Every attempt is recorded in the
migration ledger; an unchanged schema is skipped.`,
	Example: `  # Apply schema to database
  loam migrate --db file:app.db

  # Preview migration without applying
  loam migrate --dry-run

  # Force re-apply even if schema unchanged
  loam migrate --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Resolve values
		schemaPath := resolveString(migrateSchema, cfg.Schema)
		dryRun := resolveBool(migrateDryRun, cfg.Migrate.DryRun)
		force := resolveBool(migrateForce, cfg.Migrate.Force)
		name := resolveString(migrateName, cfg.Migrate.Name, schemaPath)

		dsn, err := resolveDSN(migrateDB)
		if err != nil {
			return err
		}

		return runMigrate(cmd.Context(), dsn, schemaPath, name, dryRun, force)
	},
}

func init() {
	f := migrateCmd.Flags()
	f.StringVar(&migrateDB, "db", "", "database DSN")
	f.StringVar(&migrateSchema, "schema", "", "path to the schema file")
	f.StringVar(&migrateName, "name", "", "name recorded in the migration ledger")
	f.BoolVar(&migrateDryRun, "dry-run", false, "output migration SQL without applying")
	f.BoolVar(&migrateForce, "force", false, "force migration even if schema unchanged")
}

func runMigrate(ctx context.Context, dsn, schemaPath, name string, dryRun, force bool) error {
	c := *cfg
	c.Schema = schemaPath
	src, err := c.SchemaSource()
	if err != nil {
		return cli.SchemaParseError("reading schema", err)
	}

	db, err := openDB(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	opts := migrator.MigrateOptions{Force: force, Name: name}
	if dryRun {
		opts.DryRun = os.Stdout
		if !quiet {
			fmt.Fprintln(os.Stderr, "-- Dry-run mode: SQL will be output but not applied")
			fmt.Fprintln(os.Stderr, "")
		}
	}

	rt := loam.New(db, loam.Options{Logger: logger})
	res, err := rt.Migrate(ctx, src.Text, opts)
	if err != nil {
		return classify("migration failed", err)
	}

	if dryRun || quiet {
		return nil
	}
	switch {
	case res.Skipped:
		fmt.Println("Schema unchanged, migration skipped.")
		fmt.Println("Use --force to re-apply.")
	case res.Plan.Empty():
		fmt.Println("Database already matches schema; migration recorded.")
	default:
		fmt.Printf("Schema applied successfully (%d statements).\n", len(res.Plan.DDL))
	}
	return nil
}
