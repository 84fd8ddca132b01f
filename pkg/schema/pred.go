package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Pred is a permission predicate. It is a closed set of node types:
// And, Or, Eq and Const.
type Pred interface {
	String() string
	pred()
}

// And is true when both sides are.
type And struct{ Left, Right Pred }

// Or is true when either side is.
type Or struct{ Left, Right Pred }

// Eq compares two operands; Negate turns it into !=. Comparisons follow SQL
// null semantics: a NULL operand makes the comparison false unless the
// other side is the Null literal, which turns it into IS [NOT] NULL.
type Eq struct {
	Left, Right Operand
	Negate      bool
}

// Const is a fixed outcome.
type Const struct{ Value bool }

func (And) pred()   {}
func (Or) pred()    {}
func (Eq) pred()    {}
func (Const) pred() {}

func (p And) String() string { return "(" + p.Left.String() + " AND " + p.Right.String() + ")" }
func (p Or) String() string  { return "(" + p.Left.String() + " OR " + p.Right.String() + ")" }

func (p Eq) String() string {
	op := " = "
	if p.Negate {
		op = " <> "
	}
	return p.Left.String() + op + p.Right.String()
}

func (p Const) String() string {
	if p.Value {
		return "TRUE"
	}
	return "FALSE"
}

// Operand is one side of an Eq: FieldRef, SessionRef or Literal.
type Operand interface {
	String() string
	operand()
}

// FieldRef reads a storage column of the row being checked.
type FieldRef struct{ Column string }

// SessionRef reads a session field.
type SessionRef struct{ Field string }

// Literal is a constant. Value is int64, float64, string, bool or nil; union
// tags are strings.
type Literal struct{ Value any }

func (FieldRef) operand()   {}
func (SessionRef) operand() {}
func (Literal) operand()    {}

func (o FieldRef) String() string   { return "row." + o.Column }
func (o SessionRef) String() string { return "session." + o.Field }
func (o Literal) String() string    { return SQLLiteral(o.Value) }

// IsNull reports whether o is the Null literal.
func IsNull(o Operand) bool {
	l, ok := o.(Literal)
	return ok && l.Value == nil
}

// Evaluate runs p against a row and a session. Every session field p
// references must be present, whichever branch decides the outcome, so a
// missing one is an error even when another operand of || is true. Callers
// must treat an error as not visible.
func Evaluate(p Pred, row, session map[string]any) (bool, error) {
	for _, name := range SessionFields(p) {
		if _, ok := session[name]; !ok {
			return false, fmt.Errorf("%w: %s", ErrMissingSessionField, name)
		}
	}
	return evaluate(p, row, session)
}

func evaluate(p Pred, row, session map[string]any) (bool, error) {
	switch p := p.(type) {
	case Const:
		return p.Value, nil
	case And:
		l, err := evaluate(p.Left, row, session)
		if err != nil || !l {
			return false, err
		}
		return evaluate(p.Right, row, session)
	case Or:
		l, err := evaluate(p.Left, row, session)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return evaluate(p.Right, row, session)
	case Eq:
		l, err := operandValue(p.Left, row, session)
		if err != nil {
			return false, err
		}
		r, err := operandValue(p.Right, row, session)
		if err != nil {
			return false, err
		}
		if l == nil || r == nil {
			if IsNull(p.Left) || IsNull(p.Right) {
				return (l == nil && r == nil) != p.Negate, nil
			}
			return false, nil
		}
		return valuesEqual(l, r) != p.Negate, nil
	}
	return false, fmt.Errorf("unknown predicate %T", p)
}

func operandValue(o Operand, row, session map[string]any) (any, error) {
	switch o := o.(type) {
	case Literal:
		return normalize(o.Value), nil
	case FieldRef:
		v, ok := row[o.Column]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingRowField, o.Column)
		}
		return normalize(v), nil
	case SessionRef:
		v, ok := session[o.Field]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSessionField, o.Field)
		}
		return normalize(v), nil
	}
	return nil, fmt.Errorf("unknown operand %T", o)
}

// normalize maps values to int64, float64, string or nil. Bools become
// 0/1 so rows read back from SQLite compare equal to True/False literals.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return normalizeFloat(float64(x))
	case float64:
		return normalizeFloat(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return x.String()
	case string:
		return x
	case []byte:
		return string(x)
	case map[string]any:
		// union values may arrive as {"tag": "Admin", ...}
		if tag, ok := x["tag"].(string); ok {
			return tag
		}
	}
	return fmt.Sprint(v)
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		case string:
			return strconv.FormatInt(x, 10) == y
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return x == float64(y)
		case float64:
			return x == y
		}
	case string:
		switch y := b.(type) {
		case string:
			return x == y
		case int64:
			return x == strconv.FormatInt(y, 10)
		}
	}
	return false
}

// Columns returns the row columns p reads, in first-use order.
func Columns(p Pred) []string {
	var out []string
	seen := make(map[string]bool)
	var walkOperand func(o Operand)
	walkOperand = func(o Operand) {
		if f, ok := o.(FieldRef); ok && !seen[f.Column] {
			seen[f.Column] = true
			out = append(out, f.Column)
		}
	}
	var walk func(p Pred)
	walk = func(p Pred) {
		switch p := p.(type) {
		case And:
			walk(p.Left)
			walk(p.Right)
		case Or:
			walk(p.Left)
			walk(p.Right)
		case Eq:
			walkOperand(p.Left)
			walkOperand(p.Right)
		}
	}
	walk(p)
	return out
}

// SessionFields returns the session fields p reads, in first-use order.
func SessionFields(p Pred) []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(p Pred)
	walk = func(p Pred) {
		switch p := p.(type) {
		case And:
			walk(p.Left)
			walk(p.Right)
		case Or:
			walk(p.Left)
			walk(p.Right)
		case Eq:
			for _, o := range []Operand{p.Left, p.Right} {
				if s, ok := o.(SessionRef); ok && !seen[s.Field] {
					seen[s.Field] = true
					out = append(out, s.Field)
				}
			}
		}
	}
	walk(p)
	return out
}
