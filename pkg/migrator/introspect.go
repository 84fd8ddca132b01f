package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// LiveSchema is the table structure of a SQLite database, as reported by
// sqlite_schema and the table pragmas. Tables owned by SQLite or by loam
// itself are left out.
type LiveSchema struct {
	Tables []*LiveTable
}

// Table returns the named table or nil.
func (s *LiveSchema) Table(name string) *LiveTable {
	if s == nil {
		return nil
	}
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// LiveTable is one introspected table.
type LiveTable struct {
	Name        string
	Columns     []LiveColumn
	Indexes     []LiveIndex
	ForeignKeys []LiveForeignKey
}

// Column returns the named column or nil.
func (t *LiveTable) Column(name string) *LiveColumn {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// ForeignKey returns the reference held by column, or nil.
func (t *LiveTable) ForeignKey(column string) *LiveForeignKey {
	for i := range t.ForeignKeys {
		if t.ForeignKeys[i].From == column {
			return &t.ForeignKeys[i]
		}
	}
	return nil
}

// LiveColumn is one row of PRAGMA table_info.
type LiveColumn struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
	// Default is the default expression without enclosing parentheses.
	Default string
}

// LiveIndex is an index created with CREATE INDEX.
type LiveIndex struct {
	Name    string
	Unique  bool
	Columns []string
}

// LiveForeignKey is one row of PRAGMA foreign_key_list.
type LiveForeignKey struct {
	From  string
	Table string
	To    string
}

// Introspect reads the live schema of db.
func Introspect(ctx context.Context, db Execer) (*LiveSchema, error) {
	names, err := queryStrings(ctx, db, `SELECT name FROM sqlite_schema
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' AND name NOT LIKE '\_loam\_%' ESCAPE '\'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	live := &LiveSchema{}
	for _, name := range names {
		t, err := introspectTable(ctx, db, name)
		if err != nil {
			return nil, fmt.Errorf("introspecting %s: %w", name, err)
		}
		live.Tables = append(live.Tables, t)
	}
	return live, nil
}

func introspectTable(ctx context.Context, db Execer, name string) (*LiveTable, error) {
	t := &LiveTable{Name: name}

	rows, err := db.QueryContext(ctx, `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, name)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			c    LiveColumn
			dflt sql.NullString
			pk   int
		)
		if err := rows.Scan(&c.Name, &c.Type, &c.NotNull, &dflt, &pk); err != nil {
			_ = rows.Close()
			return nil, err
		}
		c.Type = strings.ToUpper(c.Type)
		c.PrimaryKey = pk > 0
		c.Default = normalizeDefault(dflt.String)
		t.Columns = append(t.Columns, c)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `SELECT name, "unique" FROM pragma_index_list(?) WHERE origin = 'c' ORDER BY name`, name)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var idx LiveIndex
		if err := rows.Scan(&idx.Name, &idx.Unique); err != nil {
			_ = rows.Close()
			return nil, err
		}
		t.Indexes = append(t.Indexes, idx)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	for i := range t.Indexes {
		cols, err := queryStrings(ctx, db, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, t.Indexes[i].Name)
		if err != nil {
			return nil, err
		}
		t.Indexes[i].Columns = cols
	}

	rows, err = db.QueryContext(ctx, `SELECT "from", "table", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, name)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var fk LiveForeignKey
		var to sql.NullString
		if err := rows.Scan(&fk.From, &fk.Table, &to); err != nil {
			_ = rows.Close()
			return nil, err
		}
		fk.To = to.String
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	sort.Slice(t.ForeignKeys, func(i, j int) bool { return t.ForeignKeys[i].From < t.ForeignKeys[j].From })
	return t, nil
}

func queryStrings(ctx context.Context, db Execer, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, s)
	}
	return out, closeRows(rows)
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}

// normalizeDefault strips parentheses enclosing the whole expression, so
// `(unixepoch())` and `unixepoch()` compare equal.
func normalizeDefault(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 && s[0] == '(' && closingParen(s) == len(s)-1 {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// closingParen returns the index of the parenthesis closing s[0], or -1.
func closingParen(s string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
