package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/pthm/loam/internal/cli"
)

var (
	generateSchema  string
	generateQueries []string
	generateOutput  string
	generateFormat  string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Emit compiled schema and SQL batches",
	Long: `Compile the schema and query files and write the schema IR together with
every operation's SQL batch, for use by an external executor.`,
	Example: `  # Print the compiled output as JSON
  loam generate

  # Write YAML to a file
  loam generate --format yaml --output build/loam.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := resolveString(generateFormat, cfg.Generate.Format, "json")
		output := resolveString(generateOutput, cfg.Generate.Output)

		compiled, err := compileConfigured(generateSchema, generateQueries)
		if err != nil {
			return err
		}

		var data []byte
		switch format {
		case "json":
			data, err = json.MarshalIndent(compiled.Export(), "", "  ")
			data = append(data, '\n')
		case "yaml":
			data, err = yaml.Marshal(compiled.Export())
		default:
			return cli.ConfigError(fmt.Sprintf("unknown format %q (want json or yaml)", format), nil)
		}
		if err != nil {
			return cli.GeneralError("encoding output", err)
		}

		return writeOutput(output, data)
	},
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&generateSchema, "schema", "", "path to the schema file")
	f.StringSliceVar(&generateQueries, "queries", nil, "query files or glob patterns")
	f.StringVarP(&generateOutput, "output", "o", "", "output file (default: stdout)")
	f.StringVar(&generateFormat, "format", "", "output format: json or yaml")
}

// writeOutput writes data to path, or to stdout when path is empty.
func writeOutput(path string, data []byte) error {
	var w io.Writer = os.Stdout
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return cli.GeneralError("creating output directory", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return cli.GeneralError("creating output file", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	if _, err := w.Write(data); err != nil {
		return cli.GeneralError("writing output", err)
	}
	if path != "" && !quiet {
		fmt.Fprintf(os.Stderr, "Generated %s\n", path)
	}
	return nil
}
