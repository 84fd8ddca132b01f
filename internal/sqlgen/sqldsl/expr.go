package sqldsl

import (
	"strconv"
	"strings"
)

// Expr is the interface that all SQL expression types implement.
type Expr interface {
	SQL() string
}

// Param is a named bind parameter. It renders as $name; the executor binds
// it with sql.Named(name, value).
type Param string

// SQL renders the parameter.
func (p Param) SQL() string {
	return "$" + string(p)
}

// Col represents a column reference (e.g., t0.authorId).
type Col struct {
	Table  string
	Column string
}

// SQL renders the column reference. The column name is quoted when it
// collides with a keyword.
func (c Col) SQL() string {
	if c.Table == "" {
		return QuoteIdent(c.Column)
	}
	return c.Table + "." + QuoteIdent(c.Column)
}

// Lit represents a literal string value (auto-quoted with single quotes).
type Lit string

// SQL renders the literal with single quotes.
func (l Lit) SQL() string {
	// Escape single quotes by doubling them
	escaped := strings.ReplaceAll(string(l), "'", "''")
	return "'" + escaped + "'"
}

// Raw is an escape hatch for arbitrary SQL expressions.
type Raw string

// SQL renders the raw SQL as-is.
func (r Raw) SQL() string {
	return string(r)
}

// Int represents an integer literal.
type Int int64

// SQL renders the integer.
func (i Int) SQL() string {
	return strconv.FormatInt(int64(i), 10)
}

// Float represents a real literal.
type Float float64

// SQL renders the number, always with a decimal point or exponent so SQLite
// stores it as REAL.
func (f Float) SQL() string {
	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// Bool represents a boolean literal. SQLite has no boolean type; true and
// false are stored as 1 and 0.
type Bool bool

// SQL renders the boolean.
func (b Bool) SQL() string {
	if b {
		return "1"
	}
	return "0"
}

// Null represents SQL NULL.
type Null struct{}

// SQL renders NULL.
func (Null) SQL() string {
	return "NULL"
}

// Func represents a SQL function call.
type Func struct {
	Name string
	Args []Expr
}

// SQL renders the function call.
func (f Func) SQL() string {
	return f.Name + "(" + joinSQL(f.Args, ", ") + ")"
}

// Alias wraps an expression with an alias (expr AS alias).
type Alias struct {
	Expr Expr
	Name string
}

// SQL renders the aliased expression.
func (a Alias) SQL() string {
	return a.Expr.SQL() + " AS " + QuoteIdent(a.Name)
}

// Subquery wraps a statement so it can be used as a scalar expression.
type Subquery struct {
	Query SQLer
}

// SQL renders the statement in parentheses.
func (s Subquery) SQL() string {
	return "(" + s.Query.SQL() + ")"
}

// Coalesce renders coalesce(a, b, ...).
func Coalesce(args ...Expr) Func {
	return Func{Name: "coalesce", Args: args}
}

// UnixEpoch is the current time as integer seconds.
func UnixEpoch() Func {
	return Func{Name: "unixepoch"}
}

// SelectAs creates an aliased column expression (expr AS alias).
// Shorthand for Alias{Expr: expr, Name: alias}.
func SelectAs(expr Expr, alias string) Alias {
	return Alias{Expr: expr, Name: alias}
}

func joinSQL(exprs []Expr, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.SQL()
	}
	return strings.Join(parts, sep)
}

// keywords that cannot be used as bare identifiers. Not the full SQLite
// list, only words plausible as field or table names.
var keywords = map[string]bool{
	"abort": true, "action": true, "add": true, "all": true, "alter": true,
	"and": true, "as": true, "asc": true, "between": true, "by": true,
	"case": true, "check": true, "collate": true, "column": true,
	"commit": true, "constraint": true, "create": true, "cross": true,
	"current": true, "default": true, "delete": true, "desc": true,
	"distinct": true, "drop": true, "else": true, "end": true,
	"escape": true, "except": true, "exists": true, "filter": true,
	"from": true, "full": true, "group": true, "having": true, "if": true,
	"in": true, "index": true, "inner": true, "insert": true,
	"intersect": true, "into": true, "is": true, "join": true, "key": true,
	"left": true, "like": true, "limit": true, "match": true,
	"natural": true, "not": true, "null": true, "of": true, "offset": true,
	"on": true, "or": true, "order": true, "outer": true, "over": true,
	"primary": true, "references": true, "replace": true, "returning": true,
	"right": true, "select": true, "set": true,
	"table": true, "then": true, "to": true, "transaction": true,
	"union": true, "unique": true, "update": true, "using": true,
	"values": true, "view": true, "when": true, "where": true,
	"window": true, "with": true,
}

// QuoteIdent returns name as is when it is a plain identifier and in double
// quotes otherwise.
func QuoteIdent(name string) string {
	if name == "" {
		return `""`
	}
	plain := !keywords[strings.ToLower(name)]
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			plain = false
		}
	}
	if plain {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
