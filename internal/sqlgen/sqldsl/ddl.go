package sqldsl

import "strings"

// Reference is a column-level REFERENCES clause.
type Reference struct {
	Table  string
	Column string
}

// ColumnDef is one column of a CREATE TABLE or ALTER TABLE ADD COLUMN.
type ColumnDef struct {
	Name       string
	Type       string // INTEGER, REAL or TEXT
	PrimaryKey bool
	NotNull    bool
	// Default is rendered verbatim after DEFAULT when non-empty.
	Default    string
	References *Reference
}

// SQL renders the column definition. An INTEGER PRIMARY KEY column is an
// alias for the rowid and never gets NOT NULL.
func (c ColumnDef) SQL() string {
	parts := []string{QuoteIdent(c.Name), c.Type}
	if c.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	} else if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != "" {
		parts = append(parts, "DEFAULT "+c.Default)
	}
	if c.References != nil {
		parts = append(parts, "REFERENCES "+QuoteIdent(c.References.Table)+"("+QuoteIdent(c.References.Column)+")")
	}
	return strings.Join(parts, " ")
}

// CreateTableStmt represents CREATE [TEMP] TABLE.
type CreateTableStmt struct {
	Name        string
	Temp        bool
	IfNotExists bool
	Columns     []ColumnDef
}

// SQL renders the statement on one line.
func (c CreateTableStmt) SQL() string {
	cols := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		cols[i] = col.SQL()
	}
	return clauses(
		"CREATE"+Optf(c.Temp, " TEMP")+" TABLE",
		Optf(c.IfNotExists, "IF NOT EXISTS"),
		QuoteIdent(c.Name),
		"("+strings.Join(cols, ", ")+")",
	)
}

// CreateIndexStmt represents CREATE [UNIQUE] INDEX.
type CreateIndexStmt struct {
	Name        string
	Table       string
	Columns     []string
	Unique      bool
	IfNotExists bool
}

// SQL renders the statement.
func (c CreateIndexStmt) SQL() string {
	return clauses(
		"CREATE"+Optf(c.Unique, " UNIQUE")+" INDEX",
		Optf(c.IfNotExists, "IF NOT EXISTS"),
		QuoteIdent(c.Name),
		"ON "+QuoteIdent(c.Table),
		"("+quoteIdents(c.Columns)+")",
	)
}

// DropTableStmt represents DROP TABLE.
type DropTableStmt struct {
	Name     string
	IfExists bool
}

// SQL renders the statement.
func (d DropTableStmt) SQL() string {
	return clauses("DROP TABLE", Optf(d.IfExists, "IF EXISTS"), QuoteIdent(d.Name))
}

// DropIndexStmt represents DROP INDEX.
type DropIndexStmt struct {
	Name     string
	IfExists bool
}

// SQL renders the statement.
func (d DropIndexStmt) SQL() string {
	return clauses("DROP INDEX", Optf(d.IfExists, "IF EXISTS"), QuoteIdent(d.Name))
}

// AddColumnStmt represents ALTER TABLE ... ADD COLUMN.
type AddColumnStmt struct {
	Table  string
	Column ColumnDef
}

// SQL renders the statement.
func (a AddColumnStmt) SQL() string {
	return "ALTER TABLE " + QuoteIdent(a.Table) + " ADD COLUMN " + a.Column.SQL()
}

// RenameTableStmt represents ALTER TABLE ... RENAME TO.
type RenameTableStmt struct {
	From string
	To   string
}

// SQL renders the statement.
func (r RenameTableStmt) SQL() string {
	return "ALTER TABLE " + QuoteIdent(r.From) + " RENAME TO " + QuoteIdent(r.To)
}
