package sqldsl

import (
	"fmt"
	"strings"
)

// SQLer is an interface for types that can render a complete statement.
type SQLer interface {
	SQL() string
}

// Optf returns formatted string if condition is true, empty string otherwise.
// Useful for optional SQL clauses.
func Optf(cond bool, format string, args ...any) string {
	if !cond {
		return ""
	}
	return fmt.Sprintf(format, args...)
}

// clauses joins the non-empty parts with single spaces.
func clauses(parts ...string) string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// JoinClause represents a SQL JOIN clause.
type JoinClause struct {
	Type  string // "INNER", "LEFT", "CROSS"
	Table TableExpr
	On    Expr
}

// SQL renders the JOIN clause.
func (j JoinClause) SQL() string {
	keyword := j.Type + " JOIN"
	if j.Type == "" {
		keyword = "JOIN"
	}
	if j.Type == "CROSS" || j.On == nil {
		return keyword + " " + j.Table.TableSQL()
	}
	return keyword + " " + j.Table.TableSQL() + " ON " + j.On.SQL()
}

// OrderBy is one ORDER BY term.
type OrderBy struct {
	Expr Expr
	Desc bool
}

// SQL renders the term.
func (o OrderBy) SQL() string {
	if o.Desc {
		return o.Expr.SQL() + " DESC"
	}
	return o.Expr.SQL() + " ASC"
}

// SelectStmt represents a SELECT query.
type SelectStmt struct {
	Distinct bool
	Columns  []Expr
	From     TableExpr
	Joins    []JoinClause
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderBy
	// Limit is omitted when nil.
	Limit Expr
}

// SQL renders the SELECT statement on one line.
func (s SelectStmt) SQL() string {
	return clauses(
		"SELECT "+Optf(s.Distinct, "DISTINCT ")+s.columnsSQL(),
		s.fromSQL(),
		s.joinsSQL(),
		s.whereSQL(),
		s.groupSQL(),
		s.orderSQL(),
		s.limitSQL(),
	)
}

func (s SelectStmt) columnsSQL() string {
	if len(s.Columns) == 0 {
		return "1"
	}
	return joinSQL(s.Columns, ", ")
}

func (s SelectStmt) fromSQL() string {
	if s.From == nil {
		return ""
	}
	return "FROM " + s.From.TableSQL()
}

func (s SelectStmt) joinsSQL() string {
	parts := make([]string, len(s.Joins))
	for i, j := range s.Joins {
		parts[i] = j.SQL()
	}
	return strings.Join(parts, " ")
}

func (s SelectStmt) whereSQL() string {
	if s.Where == nil {
		return ""
	}
	if a, ok := s.Where.(AndExpr); ok && len(a.Exprs) == 0 {
		return ""
	}
	return "WHERE " + s.Where.SQL()
}

func (s SelectStmt) groupSQL() string {
	var parts []string
	if len(s.GroupBy) > 0 {
		parts = append(parts, "GROUP BY "+joinSQL(s.GroupBy, ", "))
	}
	if s.Having != nil {
		parts = append(parts, "HAVING "+s.Having.SQL())
	}
	return strings.Join(parts, " ")
}

func (s SelectStmt) orderSQL() string {
	if len(s.OrderBy) == 0 {
		return ""
	}
	parts := make([]string, len(s.OrderBy))
	for i, o := range s.OrderBy {
		parts[i] = o.SQL()
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

func (s SelectStmt) limitSQL() string {
	if s.Limit == nil {
		return ""
	}
	return "LIMIT " + s.Limit.SQL()
}

// UnionAll joins queries with UNION ALL.
type UnionAll struct {
	Queries []SQLer
}

// SQL renders the compound query. An empty union renders a query that
// returns no rows.
func (u UnionAll) SQL() string {
	if len(u.Queries) == 0 {
		return "SELECT NULL WHERE 0"
	}
	parts := make([]string, len(u.Queries))
	for i, q := range u.Queries {
		parts[i] = q.SQL()
	}
	return strings.Join(parts, " UNION ALL ")
}
