package ast

import (
	"strconv"
	"strings"
)

// Expr is an untyped expression: a permission predicate, a @where
// condition or an assigned value.
type Expr interface {
	Position() Pos
	String() string
	exprNode()
}

// BinaryOp is a comparison or logical operator.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNe
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
)

var binaryOpText = [...]string{
	OpEq:  "==",
	OpNe:  "!=",
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
	OpAnd: "&&",
	OpOr:  "||",
}

func (o BinaryOp) String() string {
	if int(o) < len(binaryOpText) {
		return binaryOpText[o]
	}
	return "?"
}

// IsLogical reports whether the operator combines booleans.
func (o BinaryOp) IsLogical() bool { return o == OpAnd || o == OpOr }

// Binary is `left op right`.
type Binary struct {
	Pos   Pos
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// Ident is a bare identifier: a column of the current record or a union tag.
type Ident struct {
	Pos  Pos
	Name string
}

// SessionRef is `Session.field`.
type SessionRef struct {
	Pos   Pos
	Field string
}

// ParamRef is `$name`.
type ParamRef struct {
	Pos  Pos
	Name string
}

// IntLit is an integer literal.
type IntLit struct {
	Pos   Pos
	Value int64
}

// FloatLit is a floating point literal.
type FloatLit struct {
	Pos   Pos
	Value float64
}

// StringLit is a double-quoted string literal.
type StringLit struct {
	Pos   Pos
	Value string
}

// BoolLit is True or False.
type BoolLit struct {
	Pos   Pos
	Value bool
}

// NullLit is Null.
type NullLit struct {
	Pos Pos
}

// Call is a function call such as now() or lower($name).
type Call struct {
	Pos  Pos
	Func string
	Args []Expr
}

// VariantLit constructs a union variant with fields: `Guest { reason = "x" }`.
type VariantLit struct {
	Pos    Pos
	Tag    string
	Fields []*Assignment
}

func (e *Binary) Position() Pos     { return e.Pos }
func (e *Ident) Position() Pos      { return e.Pos }
func (e *SessionRef) Position() Pos { return e.Pos }
func (e *ParamRef) Position() Pos   { return e.Pos }
func (e *IntLit) Position() Pos     { return e.Pos }
func (e *FloatLit) Position() Pos   { return e.Pos }
func (e *StringLit) Position() Pos  { return e.Pos }
func (e *BoolLit) Position() Pos    { return e.Pos }
func (e *NullLit) Position() Pos    { return e.Pos }
func (e *Call) Position() Pos       { return e.Pos }
func (e *VariantLit) Position() Pos { return e.Pos }

func (*Binary) exprNode()     {}
func (*Ident) exprNode()      {}
func (*SessionRef) exprNode() {}
func (*ParamRef) exprNode()   {}
func (*IntLit) exprNode()     {}
func (*FloatLit) exprNode()   {}
func (*StringLit) exprNode()  {}
func (*BoolLit) exprNode()    {}
func (*NullLit) exprNode()    {}
func (*Call) exprNode()       {}
func (*VariantLit) exprNode() {}

func (e *Binary) String() string {
	return "(" + e.Left.String() + " " + e.Op.String() + " " + e.Right.String() + ")"
}

func (e *Ident) String() string      { return e.Name }
func (e *SessionRef) String() string { return "Session." + e.Field }
func (e *ParamRef) String() string   { return "$" + e.Name }
func (e *IntLit) String() string     { return strconv.FormatInt(e.Value, 10) }
func (e *FloatLit) String() string   { return strconv.FormatFloat(e.Value, 'g', -1, 64) }
func (e *StringLit) String() string  { return strconv.Quote(e.Value) }
func (e *NullLit) String() string    { return "Null" }

func (e *BoolLit) String() string {
	if e.Value {
		return "True"
	}
	return "False"
}

func (e *Call) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return e.Func + "(" + strings.Join(args, ", ") + ")"
}

func (e *VariantLit) String() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " = " + f.Value.String()
	}
	return e.Tag + " { " + strings.Join(parts, ", ") + " }"
}
