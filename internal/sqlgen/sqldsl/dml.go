package sqldsl

import "strings"

// InsertStmt represents INSERT INTO table (columns) followed by either a
// VALUES row or a SELECT.
type InsertStmt struct {
	Table   string
	Columns []string
	// Values is used when Query is nil.
	Values []Expr
	Query  SQLer
}

// SQL renders the INSERT statement. With no columns the row is inserted
// with DEFAULT VALUES.
func (i InsertStmt) SQL() string {
	head := "INSERT INTO " + QuoteIdent(i.Table)
	if len(i.Columns) == 0 && i.Query == nil {
		return head + " DEFAULT VALUES"
	}
	head += " (" + quoteIdents(i.Columns) + ")"
	if i.Query != nil {
		return head + " " + i.Query.SQL()
	}
	return head + " VALUES (" + joinSQL(i.Values, ", ") + ")"
}

// SetClause is one column = value assignment of an UPDATE.
type SetClause struct {
	Column string
	Value  Expr
}

// UpdateStmt represents UPDATE table SET ... WHERE ...
type UpdateStmt struct {
	Table string
	Sets  []SetClause
	Where Expr
}

// SQL renders the UPDATE statement.
func (u UpdateStmt) SQL() string {
	sets := make([]string, len(u.Sets))
	for i, s := range u.Sets {
		sets[i] = QuoteIdent(s.Column) + " = " + s.Value.SQL()
	}
	return clauses(
		"UPDATE "+QuoteIdent(u.Table),
		"SET "+strings.Join(sets, ", "),
		whereClause(u.Where),
	)
}

// DeleteStmt represents DELETE FROM table WHERE ...
type DeleteStmt struct {
	Table string
	Where Expr
}

// SQL renders the DELETE statement.
func (d DeleteStmt) SQL() string {
	return clauses("DELETE FROM "+QuoteIdent(d.Table), whereClause(d.Where))
}

// LastInsertRowID is the rowid of the most recent successful INSERT on the
// connection.
func LastInsertRowID() Func {
	return Func{Name: "last_insert_rowid"}
}

// Changes is the number of rows modified by the most recent INSERT, UPDATE
// or DELETE on the connection.
func Changes() Func {
	return Func{Name: "changes"}
}

func whereClause(where Expr) string {
	if where == nil {
		return ""
	}
	return "WHERE " + where.SQL()
}

func quoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
