package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/loam/pkg/compiler"
)

var (
	validateSchema  string
	validateQueries []string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate schema and query files",
	Long:  `Parse, typecheck and compile the schema and every query file, reporting all diagnostics.`,
	Example: `  # Validate a specific schema file
  loam validate --schema schema.loam

  # Validate the schema with extra query files
  loam validate --schema schema.loam --queries 'queries/*.loam'

  # Validate using config file settings
  loam validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		compiled, err := compileConfigured(validateSchema, validateQueries)
		if err != nil {
			return err
		}

		if !quiet {
			ctx := compiled.Context
			fmt.Printf("Schema is valid. Found %d tables:\n", len(ctx.Tables))
			for _, t := range ctx.SyncOrder() {
				fmt.Printf("  - %s (%d columns, layer %d)\n", t.Name, len(ctx.Headers(t)), t.Layer)
			}
			if len(compiled.Batches) > 0 {
				fmt.Printf("\nCompiled %d operations:\n", len(compiled.Batches))
				for _, b := range compiled.Batches {
					fmt.Printf("  - %s %s (%d statements)\n", b.Kind, b.Name, len(b.Statements))
				}
			}
		}
		return nil
	},
}

func init() {
	f := validateCmd.Flags()
	f.StringVar(&validateSchema, "schema", "", "path to the schema file")
	f.StringSliceVar(&validateQueries, "queries", nil, "query files or glob patterns")
}

// compileConfigured compiles the schema and query files named by flags or
// the config.
func compileConfigured(schemaFlag string, queriesFlag []string) (*compiler.Compiled, error) {
	c := *cfg
	c.Schema = resolveString(schemaFlag, cfg.Schema)
	if len(queriesFlag) > 0 {
		c.Queries = queriesFlag
	}
	sources, err := c.Sources()
	if err != nil {
		return nil, classify("reading sources", err)
	}
	compiled, err := compiler.Compile(sources, compiler.WithLogger(logger))
	if err != nil {
		return nil, classify("compiling", err)
	}
	return compiled, nil
}
