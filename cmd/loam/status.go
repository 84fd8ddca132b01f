package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pthm/loam/internal/cli"
	"github.com/pthm/loam/pkg/migrator"
)

var (
	statusDB     string
	statusSchema string
	statusSQL    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current schema status",
	Long:  `Compare the database with the schema and show the last applied migration and any pending changes.`,
	Example: `  # Check status
  loam status --db file:app.db

  # Include the pending SQL
  loam status --sql`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath := resolveString(statusSchema, cfg.Schema)

		dsn, err := resolveDSN(statusDB)
		if err != nil {
			return err
		}

		return runStatus(cmd.Context(), dsn, schemaPath)
	},
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusDB, "db", "", "database DSN")
	f.StringVar(&statusSchema, "schema", "", "path to the schema file")
	f.BoolVar(&statusSQL, "sql", false, "print pending SQL statements")
}

func runStatus(ctx context.Context, dsn, schemaPath string) error {
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

	s, err := migrator.NewMigrator(db, logger).Status(ctx, src.Text)
	if err != nil {
		return classify("getting status", err)
	}

	if s.Applied != nil {
		fmt.Printf("Applied:      %s (%s)\n", s.Applied.Name, time.Unix(s.Applied.CreatedAt, 0).UTC().Format(time.RFC3339))
		fmt.Printf("Schema hash:  %s\n", s.Applied.SchemaHash)
	} else {
		fmt.Println("Applied:      none")
	}
	if s.UpToDate {
		fmt.Println("Status:       up to date")
		return nil
	}
	fmt.Printf("Status:       %d pending statements\n", len(s.Pending.DDL))
	if statusSQL {
		fmt.Println()
		for _, stmt := range s.Pending.DDL {
			fmt.Printf("%s;\n", stmt.SQL)
		}
	} else {
		fmt.Println("\nRun `loam migrate` to apply.")
	}
	return nil
}
