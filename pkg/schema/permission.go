package schema

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pthm/loam/pkg/ast"
)

// permissionHash is the first 16 hex characters of the SHA-256 of the
// predicate's canonical rendering.
func permissionHash(p Pred) string {
	sum := sha256.Sum256([]byte(p.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// predicate converts an @allow expression on t into a Pred.
func (c *checker) predicate(t *Table, e ast.Expr) (Pred, bool) {
	switch v := e.(type) {
	case *ast.Binary:
		switch v.Op {
		case ast.OpAnd, ast.OpOr:
			l, lok := c.predicate(t, v.Left)
			r, rok := c.predicate(t, v.Right)
			if !lok || !rok {
				return nil, false
			}
			if v.Op == ast.OpAnd {
				return And{Left: l, Right: r}, true
			}
			return Or{Left: l, Right: r}, true
		case ast.OpEq, ast.OpNe:
			return c.comparison(t, v)
		}
		c.d.errorf(v.Pos, "operator %s is not allowed in permission rules; use ==, !=, && or ||", v.Op)
		return nil, false
	case *ast.BoolLit:
		return Const{Value: v.Value}, true
	case *ast.Ident, *ast.SessionRef:
		// a bare Bool field reads as `field == True`
		op, typ, _, ok := c.permOperand(t, e)
		if !ok {
			return nil, false
		}
		if typ == nil || typ.Kind != KindBool {
			c.d.errorf(e.Position(), "%s is not a Bool; permission rules must be boolean expressions", e)
			return nil, false
		}
		return Eq{Left: op, Right: Literal{Value: true}}, true
	}
	c.d.errorf(e.Position(), "permission rules must be boolean expressions, got %s", e)
	return nil, false
}

func (c *checker) comparison(t *Table, b *ast.Binary) (Pred, bool) {
	left, lt, ltag, lok := c.permOperand(t, b.Left)
	right, rt, rtag, rok := c.permOperand(t, b.Right)
	if !lok || !rok {
		return nil, false
	}
	switch {
	case ltag != "" && rtag != "":
		c.d.errorf(b.Pos, "cannot compare %s with %s", b.Left, b.Right)
		return nil, false
	case ltag != "":
		if left, lt = c.resolveTag(t, b.Left.Position(), ltag, rt); left == nil {
			return nil, false
		}
	case rtag != "":
		if right, rt = c.resolveTag(t, b.Right.Position(), rtag, lt); right == nil {
			return nil, false
		}
	}
	switch {
	case lt == nil && rt == nil:
		c.d.errorf(b.Pos, "comparison of two Null literals")
		return nil, false
	case lt == nil || rt == nil:
		// comparing against Null: the other side must be nullable
		other := lt
		if other == nil {
			other = rt
		}
		if !other.Nullable {
			c.d.errorf(b.Pos, "%s can never be Null", nonNullSide(b))
			return nil, false
		}
	case !comparable(*lt, *rt):
		c.d.errorf(b.Pos, "cannot compare %s (%s) with %s (%s)", b.Left, lt, b.Right, rt)
		return nil, false
	}
	return Eq{Left: left, Right: right, Negate: b.Op == ast.OpNe}, true
}

func nonNullSide(b *ast.Binary) ast.Expr {
	if _, ok := b.Left.(*ast.NullLit); ok {
		return b.Right
	}
	return b.Left
}

// permOperand resolves one side of a permission comparison. typ is nil for
// the Null literal. tag is set for an identifier that is not a field of t;
// it may still be a union variant, decided by the other side.
func (c *checker) permOperand(t *Table, e ast.Expr) (op Operand, typ *Type, tag string, ok bool) {
	switch v := e.(type) {
	case *ast.Ident:
		if col := t.Column(v.Name); col != nil {
			ct := col.Type
			return FieldRef{Column: col.Name}, &ct, "", true
		}
		if t.Link(v.Name) != nil {
			c.d.errorf(v.Pos, "link %s cannot be used in a permission rule; compare its key field instead", v.Name)
			return nil, nil, "", false
		}
		if isUpperName(v.Name) {
			return nil, nil, v.Name, true
		}
		c.d.errorf(v.Pos, "unknown field %s on record %s", v.Name, t.Record)
		return nil, nil, "", false
	case *ast.SessionRef:
		if c.ctx.Session == nil {
			c.d.errorf(v.Pos, "Session.%s used but no session block is declared", v.Field)
			return nil, nil, "", false
		}
		f := c.ctx.Session.Field(v.Field)
		if f == nil {
			c.d.errorf(v.Pos, "unknown session field %s", v.Field)
			return nil, nil, "", false
		}
		ft := f.Type
		return SessionRef{Field: f.Name}, &ft, "", true
	case *ast.NullLit:
		return Literal{Value: nil}, nil, "", true
	case *ast.IntLit:
		return Literal{Value: v.Value}, &Type{Kind: KindInt}, "", true
	case *ast.FloatLit:
		return Literal{Value: v.Value}, &Type{Kind: KindFloat}, "", true
	case *ast.StringLit:
		return Literal{Value: v.Value}, &Type{Kind: KindString}, "", true
	case *ast.BoolLit:
		return Literal{Value: v.Value}, &Type{Kind: KindBool}, "", true
	case *ast.ParamRef:
		c.d.errorf(v.Pos, "parameters cannot be used in permission rules")
	case *ast.Call:
		c.d.errorf(v.Pos, "function calls cannot be used in permission rules")
	case *ast.VariantLit:
		c.d.errorf(v.Pos, "compare union values by tag: write %s without fields", v.Tag)
	default:
		c.d.errorf(e.Position(), "expected a field, session field or literal, got %s", e)
	}
	return nil, nil, "", false
}

// resolveTag turns a bare uppercase identifier into a variant tag literal of
// the union on the other side of the comparison.
func (c *checker) resolveTag(t *Table, pos ast.Pos, tag string, other *Type) (Operand, *Type) {
	if other == nil || other.Kind != KindUnion {
		c.d.errorf(pos, "unknown field %s on record %s", tag, t.Record)
		return nil, nil
	}
	if c.ctx.unions[other.Union].Variant(tag) == nil {
		c.d.errorf(pos, "%s is not a variant of %s", tag, other.Union)
		return nil, nil
	}
	typ := Type{Kind: KindUnion, Union: other.Union}
	return Literal{Value: tag}, &typ
}

func isUpperName(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}
