// Package main provides a CLI for managing loam schemas and queries.
//
// The CLI supports:
//   - validate: Compile schema and query files and report diagnostics
//   - generate: Emit the compiled schema IR and SQL batches as JSON or YAML
//   - migrate: Bring a SQLite database to the schema and record the ledger
//   - status: Compare the database with the schema without changing it
//   - doctor: Run health checks on the database and sources
//   - config show: Print the effective configuration
//
// Commands that only work with files (validate, generate) do not need a
// database. Configuration is read from loam.yaml, LOAM_* environment
// variables and flags, in increasing precedence.
//
// Usage:
//
//	loam [flags] <command>
package main

func main() {
	Execute()
}
