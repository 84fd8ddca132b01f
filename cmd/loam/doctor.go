package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/loam/internal/cli"
	"github.com/pthm/loam/internal/doctor"
)

var (
	doctorDB      string
	doctorVerbose bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long:  `Check the sources, the migration ledger, the table structure and the stored data.`,
	Example: `  # Run health checks
  loam doctor

  # Run with verbose output
  loam doctor --verbose-checks`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN(doctorDB)
		if err != nil {
			return err
		}

		sources, err := cfg.Sources()
		if err != nil {
			return cli.SchemaParseError("reading sources", err)
		}

		db, err := openDB(dsn)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if !quiet {
			fmt.Println("loam doctor - Health Check")
		}
		report, err := doctor.New(db, sources[0], sources[1:]...).Run(cmd.Context())
		if err != nil {
			return cli.GeneralError("running doctor", err)
		}
		if !quiet {
			report.Print(os.Stdout, doctorVerbose || verbose > 0)
		}
		if report.HasErrors() {
			return cli.GeneralError(fmt.Sprintf("%d checks failed", report.Errors), nil)
		}
		return nil
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "database DSN")
	f.BoolVar(&doctorVerbose, "verbose-checks", false, "show details for every check")
}
