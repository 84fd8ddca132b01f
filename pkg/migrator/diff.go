package migrator

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/pthm/loam/internal/sqlgen/sqldsl"
	"github.com/pthm/loam/pkg/schema"
)

// rebuildPrefix names the scratch table a rebuild copies rows into.
const rebuildPrefix = "_loam_new_"

// Statement is one SQL statement with its named arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Plan is the ordered DDL that brings a live database to a target schema,
// plus the ledger statements that record the outcome.
type Plan struct {
	ID         string
	Name       string
	SchemaHash string
	DDL        []Statement
	// MarkSuccess records the plan as applied. Run it in the DDL
	// transaction.
	MarkSuccess Statement
	// MarkFailure records a failed attempt. It binds $error; use
	// MarkFailureWith to fill it in.
	MarkFailure Statement
}

// Empty reports whether the plan changes no structure.
func (p *Plan) Empty() bool {
	return len(p.DDL) == 0
}

// MarkFailureWith returns MarkFailure with err bound as the error message.
func (p *Plan) MarkFailureWith(err error) Statement {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	args := make([]any, len(p.MarkFailure.Args), len(p.MarkFailure.Args)+1)
	copy(args, p.MarkFailure.Args)
	return Statement{SQL: p.MarkFailure.SQL, Args: append(args, sql.Named("error", msg))}
}

// Script renders the DDL as one SQL script.
func (p *Plan) Script() string {
	var b strings.Builder
	for _, s := range p.DDL {
		b.WriteString(s.SQL)
		b.WriteString(";\n")
	}
	return b.String()
}

// DiffOptions names the plan and carries the source recorded in the
// ledger.
type DiffOptions struct {
	Name   string
	Source string
}

// SchemaHash returns the sha256 of schema source text.
func SchemaHash(source string) string {
	h := sha256.Sum256([]byte(source))
	return hex.EncodeToString(h[:])
}

// Diff plans the DDL taking live to target. Re-diffing a database the plan
// was applied to yields an empty plan.
func Diff(live *LiveSchema, target *schema.Context) (*Plan, error) {
	return DiffWithOptions(live, target, DiffOptions{})
}

// DiffWithOptions is Diff with a plan name and schema source.
//
// Statements are ordered so that removed tables are dropped referencing
// tables first, then tables are created or altered in sync layer order.
// Changes ALTER TABLE cannot express rebuild the table: a copy is created,
// rows are copied over, and the copy replaces the original.
func DiffWithOptions(live *LiveSchema, target *schema.Context, opts DiffOptions) (*Plan, error) {
	if live == nil {
		live = &LiveSchema{}
	}
	var ddl []Statement

	for _, t := range removedTables(live, target) {
		ddl = append(ddl, Statement{SQL: sqldsl.DropTableStmt{Name: t.Name}.SQL()})
	}

	for _, t := range target.SyncOrder() {
		cols := target.StorageColumns(t)
		lt := live.Table(t.Name)
		if lt == nil {
			ddl = append(ddl, Statement{SQL: createTable(t.Name, cols)})
			for _, idx := range targetIndexes(t.Name, cols) {
				ddl = append(ddl, Statement{SQL: idx.SQL()})
			}
			continue
		}
		stmts, err := alterTable(lt, t.Name, cols)
		if err != nil {
			return nil, err
		}
		ddl = append(ddl, stmts...)
	}

	hashInput := opts.Source
	if hashInput == "" {
		hashInput = fingerprint(target)
	}
	p := &Plan{
		ID:         uuid.NewString(),
		Name:       opts.Name,
		SchemaHash: SchemaHash(hashInput),
		DDL:        ddl,
	}
	p.MarkSuccess, p.MarkFailure = ledgerStatements(p, opts.Source)
	return p, nil
}

// fingerprint renders the full CREATE script of target, standing in for
// the source when none is given.
func fingerprint(target *schema.Context) string {
	var b strings.Builder
	for _, t := range target.SyncOrder() {
		cols := target.StorageColumns(t)
		b.WriteString(createTable(t.Name, cols))
		b.WriteString(";\n")
		for _, idx := range targetIndexes(t.Name, cols) {
			b.WriteString(idx.SQL())
			b.WriteString(";\n")
		}
	}
	return b.String()
}

func columnDef(sc schema.StorageColumn) sqldsl.ColumnDef {
	def := sqldsl.ColumnDef{
		Name:       sc.Name,
		Type:       string(sc.Type),
		PrimaryKey: sc.PrimaryKey,
		NotNull:    sc.NotNull,
		Default:    sc.Default,
	}
	if sc.References != nil {
		def.References = &sqldsl.Reference{Table: sc.References.Table, Column: sc.References.Column}
	}
	return def
}

func createTable(name string, cols []schema.StorageColumn) string {
	defs := make([]sqldsl.ColumnDef, len(cols))
	for i, sc := range cols {
		defs[i] = columnDef(sc)
	}
	return sqldsl.CreateTableStmt{Name: name, Columns: defs}.SQL()
}

// IndexName returns the name of the index backing @unique or @index.
func IndexName(table, column string, unique bool) string {
	if unique {
		return "uq_" + table + "_" + column
	}
	return "idx_" + table + "_" + column
}

func targetIndexes(table string, cols []schema.StorageColumn) []sqldsl.CreateIndexStmt {
	var out []sqldsl.CreateIndexStmt
	for _, sc := range cols {
		if !sc.Unique && !sc.Index {
			continue
		}
		out = append(out, sqldsl.CreateIndexStmt{
			Name:    IndexName(table, sc.Name, sc.Unique),
			Table:   table,
			Columns: []string{sc.Name},
			Unique:  sc.Unique,
		})
	}
	return out
}

// managedIndex reports whether an index name belongs to loam.
func managedIndex(name string) bool {
	return strings.HasPrefix(name, "uq_") || strings.HasPrefix(name, "idx_")
}

// alterTable plans the changes to an existing table.
func alterTable(lt *LiveTable, name string, cols []schema.StorageColumn) ([]Statement, error) {
	rebuild := false
	var added []schema.StorageColumn
	targetNames := make(map[string]bool, len(cols))

	for _, sc := range cols {
		targetNames[sc.Name] = true
		lc := lt.Column(sc.Name)
		if lc == nil {
			added = append(added, sc)
			continue
		}
		if lc.Type != string(sc.Type) {
			return nil, &MigrationError{
				Table:   name,
				Column:  sc.Name,
				Message: "type changes from " + lc.Type + " to " + string(sc.Type),
			}
		}
		if columnChanged(lt, lc, sc) {
			rebuild = true
		}
	}
	for _, lc := range lt.Columns {
		if !targetNames[lc.Name] {
			rebuild = true
		}
	}
	for _, sc := range added {
		if sc.NotNull && sc.Default == "" {
			return nil, &MigrationError{
				Table:   name,
				Column:  sc.Name,
				Message: "new NOT NULL column needs a default",
			}
		}
		if !addable(sc) {
			rebuild = true
		}
	}

	indexes := targetIndexes(name, cols)
	if rebuild {
		return rebuildTable(lt, name, cols, indexes), nil
	}

	var out []Statement
	for _, sc := range added {
		out = append(out, Statement{SQL: sqldsl.AddColumnStmt{Table: name, Column: columnDef(sc)}.SQL()})
	}
	want := make(map[string]bool, len(indexes))
	for _, idx := range indexes {
		want[idx.Name] = true
	}
	have := make(map[string]bool, len(lt.Indexes))
	for _, idx := range lt.Indexes {
		have[idx.Name] = true
		if managedIndex(idx.Name) && !want[idx.Name] {
			out = append(out, Statement{SQL: sqldsl.DropIndexStmt{Name: idx.Name}.SQL()})
		}
	}
	for _, idx := range indexes {
		if !have[idx.Name] {
			out = append(out, Statement{SQL: idx.SQL()})
		}
	}
	return out, nil
}

// columnChanged reports a difference ALTER TABLE cannot apply in place.
func columnChanged(lt *LiveTable, lc *LiveColumn, sc schema.StorageColumn) bool {
	if lc.PrimaryKey != sc.PrimaryKey {
		return true
	}
	if !sc.PrimaryKey && lc.NotNull != sc.NotNull {
		return true
	}
	if lc.Default != normalizeDefault(sc.Default) {
		return true
	}
	fk := lt.ForeignKey(sc.Name)
	switch {
	case fk == nil && sc.References == nil:
		return false
	case fk == nil || sc.References == nil:
		return true
	}
	return fk.Table != sc.References.Table || fk.To != sc.References.Column
}

// addable reports whether ALTER TABLE ADD COLUMN can add sc: SQLite needs
// a constant default for NOT NULL columns and a NULL default for columns
// with a REFERENCES clause.
func addable(sc schema.StorageColumn) bool {
	if sc.PrimaryKey {
		return false
	}
	if strings.HasPrefix(sc.Default, "(") {
		return false
	}
	if sc.NotNull && sc.Default == "" {
		return false
	}
	if sc.References != nil && sc.Default != "" {
		return false
	}
	return true
}

// rebuildTable copies lt into a freshly created table with the target
// columns. Columns present on both sides keep their values; new columns
// take their defaults.
func rebuildTable(lt *LiveTable, name string, cols []schema.StorageColumn, indexes []sqldsl.CreateIndexStmt) []Statement {
	scratch := rebuildPrefix + name
	var common []string
	for _, sc := range cols {
		if lt.Column(sc.Name) != nil {
			common = append(common, sc.Name)
		}
	}
	out := []Statement{{SQL: createTable(scratch, cols)}}
	if len(common) > 0 {
		copyRows := sqldsl.InsertStmt{
			Table:   scratch,
			Columns: common,
			Query: sqldsl.SelectStmt{
				Columns: colExprs(common),
				From:    sqldsl.TableRef{Name: name},
			},
		}
		out = append(out, Statement{SQL: copyRows.SQL()})
	}
	out = append(out,
		Statement{SQL: sqldsl.DropTableStmt{Name: name}.SQL()},
		Statement{SQL: sqldsl.RenameTableStmt{From: scratch, To: name}.SQL()},
	)
	for _, idx := range indexes {
		out = append(out, Statement{SQL: idx.SQL()})
	}
	return out
}

func colExprs(names []string) []sqldsl.Expr {
	out := make([]sqldsl.Expr, len(names))
	for i, n := range names {
		out[i] = sqldsl.Col{Column: n}
	}
	return out
}

// removedTables returns live tables absent from target, ordered so that a
// table is dropped before any table it references.
func removedTables(live *LiveSchema, target *schema.Context) []*LiveTable {
	var removed []*LiveTable
	for _, t := range live.Tables {
		if target.TableByName(t.Name) == nil {
			removed = append(removed, t)
		}
	}
	sort.SliceStable(removed, func(i, j int) bool { return removed[i].Name < removed[j].Name })

	var out []*LiveTable
	done := make(map[string]bool)
	for len(out) < len(removed) {
		progressed := false
		for _, t := range removed {
			if done[t.Name] || referenced(t.Name, removed, done) {
				continue
			}
			done[t.Name] = true
			out = append(out, t)
			progressed = true
		}
		if !progressed {
			// reference cycle: drop the rest in name order
			for _, t := range removed {
				if !done[t.Name] {
					done[t.Name] = true
					out = append(out, t)
				}
			}
		}
	}
	return out
}

// referenced reports whether a pending table other than name references it.
func referenced(name string, tables []*LiveTable, done map[string]bool) bool {
	for _, t := range tables {
		if done[t.Name] || t.Name == name {
			continue
		}
		for _, fk := range t.ForeignKeys {
			if fk.Table == name {
				return true
			}
		}
	}
	return false
}
