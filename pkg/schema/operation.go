package schema

import (
	"github.com/pthm/loam/pkg/ast"
)

// Operation is a validated query or mutation, ready for SQL generation.
type Operation struct {
	Pos    ast.Pos
	Kind   ast.OpKind
	Name   string
	Params []*Param
	// Roots holds one selection per top-level field.
	Roots []*Selection
}

// Param returns the named parameter or nil.
func (o *Operation) Param(name string) *Param {
	for _, p := range o.Params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Param is a declared operation parameter.
type Param struct {
	Name string
	Type Type
}

// Selection is a record selection: a top-level field or a nested link.
type Selection struct {
	Pos   ast.Pos
	Key   string
	Table *Table
	// Link is nil for top-level selections.
	Link  *Link
	Where Cond
	Sorts []Sort
	Limit Value
	// Fields in output order.
	Fields []*FieldSel
	// Sets are the assignments of an insert or update block.
	Sets []*Set
}

// Writes reports whether the selection assigns values.
func (s *Selection) Writes() bool { return len(s.Sets) > 0 }

// Set returns the assignment for a column or nil.
func (s *Selection) Set(column string) *Set {
	for _, set := range s.Sets {
		if set.Column.Name == column {
			return set
		}
	}
	return nil
}

// FieldSel is one output field: a column or a nested selection.
type FieldSel struct {
	Key    string
	Column *Column
	Sub    *Selection
}

// Sort is one ORDER BY key.
type Sort struct {
	Column *Column
	Desc   bool
}

// Set assigns Value to Column.
type Set struct {
	Column *Column
	Value  Value
}

// Cond is a @where condition: CondAnd, CondOr or CondCmp.
type Cond interface{ cond() }

// CondAnd is true when both sides are.
type CondAnd struct{ Left, Right Cond }

// CondOr is true when either side is.
type CondOr struct{ Left, Right Cond }

// CondCmp compares two values. == and != against the Null literal become
// IS NULL and IS NOT NULL.
type CondCmp struct {
	Op          ast.BinaryOp
	Left, Right Value
}

func (CondAnd) cond() {}
func (CondOr) cond()  {}
func (CondCmp) cond() {}

// Value is an expression producing one value.
type Value interface {
	ValueType() Type
	value()
}

// ColumnValue reads a column of the selected row.
type ColumnValue struct{ Column *Column }

// ParamValue reads an operation parameter.
type ParamValue struct{ Param *Param }

// SessionValue reads a session field.
type SessionValue struct{ Field *SessionField }

// LiteralValue is a constant. Value is int64, float64, string, bool or nil;
// union tags are strings.
type LiteralValue struct {
	Value any
	Type  Type
}

// CallValue is a call of now, lower, upper or coalesce.
type CallValue struct {
	Func string
	Args []Value
	Type Type
}

// VariantValue constructs a union value. Fields holds every field of the
// variant.
type VariantValue struct {
	Union   string
	Variant *Variant
	Fields  map[string]Value
}

func (v ColumnValue) ValueType() Type  { return v.Column.Type }
func (v ParamValue) ValueType() Type   { return v.Param.Type }
func (v SessionValue) ValueType() Type { return v.Field.Type }
func (v LiteralValue) ValueType() Type { return v.Type }
func (v CallValue) ValueType() Type    { return v.Type }
func (v VariantValue) ValueType() Type { return Type{Kind: KindUnion, Union: v.Union} }

func (ColumnValue) value()  {}
func (ParamValue) value()   {}
func (SessionValue) value() {}
func (LiteralValue) value() {}
func (CallValue) value()    {}
func (VariantValue) value() {}

// IsNullValue reports whether v is the Null literal.
func IsNullValue(v Value) bool {
	l, ok := v.(LiteralValue)
	return ok && l.Value == nil
}
