package sqlgen

import (
	"github.com/pthm/loam/internal/sqlgen/sqldsl"
	"github.com/pthm/loam/pkg/ast"
	"github.com/pthm/loam/pkg/schema"
)

// valueExpr renders v. Column reads resolve against alias; an empty alias
// leaves them unqualified, as an UPDATE's SET clause needs. Union values
// render as their tag.
func (g *generator) valueExpr(v schema.Value, alias string) sqldsl.Expr {
	switch v := v.(type) {
	case schema.ColumnValue:
		return sqldsl.Col{Table: alias, Column: v.Column.Name}
	case schema.ParamValue:
		return sqldsl.Param(v.Param.Name)
	case schema.SessionValue:
		return sqldsl.Param(SessionParam(v.Field.Name))
	case schema.LiteralValue:
		return sqldsl.Raw(schema.SQLLiteral(v.Value))
	case schema.VariantValue:
		return sqldsl.Lit(v.Variant.Name)
	case schema.CallValue:
		if v.Func == "now" {
			return sqldsl.UnixEpoch()
		}
		args := make([]sqldsl.Expr, len(v.Args))
		for i, a := range v.Args {
			args[i] = g.valueExpr(a, alias)
		}
		return sqldsl.Func{Name: v.Func, Args: args}
	}
	return sqldsl.Null{}
}

// condExpr renders a @where condition. A nil condition is nil, which And
// drops.
func (g *generator) condExpr(c schema.Cond, alias string) sqldsl.Expr {
	switch c := c.(type) {
	case nil:
		return nil
	case schema.CondAnd:
		return sqldsl.And(g.condExpr(c.Left, alias), g.condExpr(c.Right, alias))
	case schema.CondOr:
		return sqldsl.Or(g.condExpr(c.Left, alias), g.condExpr(c.Right, alias))
	case schema.CondCmp:
		left, right := c.Left, c.Right
		if schema.IsNullValue(left) {
			left, right = right, left
		}
		l := g.valueExpr(left, alias)
		if schema.IsNullValue(right) {
			if c.Op == ast.OpNe {
				return sqldsl.IsNotNull{Expr: l}
			}
			return sqldsl.IsNull{Expr: l}
		}
		return compare(c.Op, l, g.valueExpr(right, alias))
	}
	return sqldsl.Bool(false)
}

func compare(op ast.BinaryOp, l, r sqldsl.Expr) sqldsl.Expr {
	switch op {
	case ast.OpNe:
		return sqldsl.Ne{Left: l, Right: r}
	case ast.OpLt:
		return sqldsl.Lt{Left: l, Right: r}
	case ast.OpLte:
		return sqldsl.Lte{Left: l, Right: r}
	case ast.OpGt:
		return sqldsl.Gt{Left: l, Right: r}
	case ast.OpGte:
		return sqldsl.Gte{Left: l, Right: r}
	}
	return sqldsl.Eq{Left: l, Right: r}
}

// permission renders t's predicate for op against the row under alias.
func (g *generator) permission(t *schema.Table, op schema.Op, alias string) sqldsl.Expr {
	return Permission(t, op, alias)
}

// Permission renders t's predicate for op against the row under alias.
// Session fields render as $session_<field> parameters.
func Permission(t *schema.Table, op schema.Op, alias string) sqldsl.Expr {
	return predExpr(t.Permission(op), func(column string) sqldsl.Expr {
		return sqldsl.Col{Table: alias, Column: column}
	})
}

// predExpr renders a permission predicate. row supplies the expression for
// each referenced column.
func predExpr(p schema.Pred, row func(column string) sqldsl.Expr) sqldsl.Expr {
	switch p := p.(type) {
	case schema.Const:
		return sqldsl.Bool(p.Value)
	case schema.And:
		return sqldsl.And(predExpr(p.Left, row), predExpr(p.Right, row))
	case schema.Or:
		return sqldsl.Or(predExpr(p.Left, row), predExpr(p.Right, row))
	case schema.Eq:
		left, right := p.Left, p.Right
		if schema.IsNull(left) {
			left, right = right, left
		}
		l := operandExpr(left, row)
		if schema.IsNull(right) {
			if p.Negate {
				return sqldsl.IsNotNull{Expr: l}
			}
			return sqldsl.IsNull{Expr: l}
		}
		if p.Negate {
			return sqldsl.Ne{Left: l, Right: operandExpr(right, row)}
		}
		return sqldsl.Eq{Left: l, Right: operandExpr(right, row)}
	}
	return sqldsl.Bool(false)
}

func operandExpr(o schema.Operand, row func(string) sqldsl.Expr) sqldsl.Expr {
	switch o := o.(type) {
	case schema.FieldRef:
		return row(o.Column)
	case schema.SessionRef:
		return sqldsl.Param(SessionParam(o.Field))
	case schema.Literal:
		return sqldsl.Raw(schema.SQLLiteral(o.Value))
	}
	return sqldsl.Null{}
}

func (g *generator) orderBy(sel *schema.Selection, alias string) []sqldsl.OrderBy {
	out := make([]sqldsl.OrderBy, len(sel.Sorts))
	for i, s := range sel.Sorts {
		out[i] = sqldsl.OrderBy{Expr: sqldsl.Col{Table: alias, Column: s.Column.Name}, Desc: s.Desc}
	}
	return out
}

func (g *generator) limitExpr(sel *schema.Selection) sqldsl.Expr {
	if sel.Limit == nil {
		return nil
	}
	return g.valueExpr(sel.Limit, "")
}
