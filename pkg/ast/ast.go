// Package ast defines the untyped syntax tree produced by the parser.
//
// Nothing in this package is validated: names are unresolved strings and
// expressions carry no types. The schema package turns a Schema into a
// checked Context and a QueryFile into resolved operations.
package ast

import "fmt"

// Pos is a source location. Line and Column are 1-based.
type Pos struct {
	File   string
	Line   int
	Column int
}

func (p Pos) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Schema is one parsed schema file.
type Schema struct {
	File    string
	Session *Session
	Records []*Record
	Unions  []*Union
}

// Session declares the runtime fields available as Session.<name>.
type Session struct {
	Pos    Pos
	Fields []*Field
}

// Record is a table definition.
type Record struct {
	Pos       Pos
	Name      string
	TableName string // from @tablename, empty when not set
	Public    bool
	PublicPos Pos
	Watch     bool
	Allows    []*Allow
	Fields    []*Field
	Links     []*Link
}

// TypeRef names a primitive or union type.
type TypeRef struct {
	Pos      Pos
	Name     string
	Nullable bool
}

func (t TypeRef) String() string {
	if t.Nullable {
		return t.Name + "?"
	}
	return t.Name
}

// Field is a column declaration, or a variant/session field when the
// column directives do not apply.
type Field struct {
	Pos     Pos
	Name    string
	Type    TypeRef
	ID      bool
	Unique  bool
	Index   bool
	Default Expr // nil when no @default
}

// Link is a relationship declared with @link.
//
//	author @link(authorUserId, User.id)
//	posts  @link(Post.authorUserId)
//
// LocalColumn is empty for the short form, meaning the primary key.
type Link struct {
	Pos           Pos
	Name          string
	LocalColumn   string
	Target        string
	ForeignColumn string
}

// Allow is one @allow(ops) { predicate } rule.
type Allow struct {
	Pos  Pos
	Ops  []string
	Expr Expr
}

// Union is a tagged union declared with `type`.
type Union struct {
	Pos      Pos
	Name     string
	Variants []*Variant
}

// Variant is one arm of a union; Fields is empty for plain tags.
type Variant struct {
	Pos    Pos
	Name   string
	Fields []*Field
}

// QueryFile is one parsed query file.
type QueryFile struct {
	File       string
	Operations []*Operation
}

// OpKind identifies the kind of a top-level query definition.
type OpKind int

const (
	OpQuery OpKind = iota
	OpInsert
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpQuery:
		return "query"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Operation is a query, insert, update or delete definition.
type Operation struct {
	Pos    Pos
	Kind   OpKind
	Name   string
	Params []*Param
	Fields []*Selection
}

// Param is a declared `$name: Type` parameter.
type Param struct {
	Pos  Pos
	Name string
	Type TypeRef
}

// Selection is a field inside a selection block. A selection with a block
// (Block true) is a record or link selection; otherwise it is a column.
type Selection struct {
	Pos         Pos
	Alias       string
	Name        string
	Block       bool
	Where       []Expr
	Sorts       []*Sort
	Limit       Expr
	Assignments []*Assignment
	Fields      []*Selection
}

// Key returns the output key of the selection.
func (s *Selection) Key() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// Sort is one @sort(field, Asc|Desc) directive.
type Sort struct {
	Pos   Pos
	Field string
	Desc  bool
}

// Assignment is `field = value` inside a mutation block.
type Assignment struct {
	Pos   Pos
	Field string
	Value Expr
}
