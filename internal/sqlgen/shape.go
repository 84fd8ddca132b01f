package sqlgen

import (
	"github.com/pthm/loam/internal/sqlgen/sqldsl"
	"github.com/pthm/loam/pkg/schema"
)

// objectExpr builds the json_object for one row of sel's table under alias.
// Nested selections without output fields are left out.
func (g *generator) objectExpr(sel *schema.Selection, alias string) sqldsl.Expr {
	var pairs []sqldsl.JSONPair
	for _, f := range sel.Fields {
		switch {
		case f.Column != nil:
			pairs = append(pairs, sqldsl.JSONPair{Key: f.Key, Value: g.columnJSON(f.Column, alias)})
		case f.Sub != nil && len(f.Sub.Fields) > 0:
			pairs = append(pairs, sqldsl.JSONPair{Key: f.Key, Value: g.linkJSON(f.Sub, alias)})
		}
	}
	return sqldsl.JSONObject{Pairs: pairs}
}

// columnJSON converts a column to its language-level JSON value. Bools
// become true/false, JSON columns are embedded, and unions with fields
// become {"tag": ..., field: ...} objects.
func (g *generator) columnJSON(col *schema.Column, alias string) sqldsl.Expr {
	ref := sqldsl.Col{Table: alias, Column: col.Name}
	switch col.Type.Kind {
	case schema.KindBool:
		return sqldsl.JSONBool(ref)
	case schema.KindJSON:
		return sqldsl.JSON(ref)
	case schema.KindUnion:
		u := g.ctx.Union(col.Type.Union)
		if u == nil || !u.HasFields() {
			return ref
		}
		whens := make([]sqldsl.CaseWhen, len(u.Variants))
		for i, v := range u.Variants {
			pairs := []sqldsl.JSONPair{{Key: "tag", Value: sqldsl.Lit(v.Name)}}
			for _, f := range v.Fields {
				fieldRef := sqldsl.Col{Table: alias, Column: schema.VariantColumnName(col.Name, f.Name)}
				pairs = append(pairs, sqldsl.JSONPair{Key: f.Name, Value: scalarJSON(f.Type, fieldRef)})
			}
			whens[i] = sqldsl.CaseWhen{Cond: sqldsl.Lit(v.Name), Result: sqldsl.JSONObject{Pairs: pairs}}
		}
		return sqldsl.JSON(sqldsl.CaseExpr{Operand: ref, Whens: whens})
	}
	return ref
}

func scalarJSON(t schema.Type, ref sqldsl.Expr) sqldsl.Expr {
	switch t.Kind {
	case schema.KindBool:
		return sqldsl.JSONBool(ref)
	case schema.KindJSON:
		return sqldsl.JSON(ref)
	}
	return ref
}

// linkJSON embeds the rows sub reaches from the parent row under
// parentAlias: an array for to-many links, an object or null otherwise.
// The target's query permission applies.
func (g *generator) linkJSON(sub *schema.Selection, parentAlias string) sqldsl.Expr {
	target := sub.Table
	a := g.alias()
	where := sqldsl.And(
		sqldsl.Eq{
			Left:  sqldsl.Col{Table: a, Column: sub.Link.ForeignColumn},
			Right: sqldsl.Col{Table: parentAlias, Column: sub.Link.LocalColumn},
		},
		g.permission(target, schema.OpQuery, a),
		g.condExpr(sub.Where, a),
	)
	if !sub.Link.Many() {
		return sqldsl.JSON(sqldsl.Subquery{Query: sqldsl.SelectStmt{
			Columns: []sqldsl.Expr{g.objectExpr(sub, a)},
			From:    sqldsl.TableAs(target.Name, a),
			Where:   where,
			Limit:   sqldsl.Int(1),
		}})
	}
	rows := sqldsl.SelectStmt{
		Columns: []sqldsl.Expr{sqldsl.SelectAs(g.objectExpr(sub, a), "j")},
		From:    sqldsl.TableAs(target.Name, a),
		Where:   where,
		OrderBy: g.orderBy(sub, a),
		Limit:   g.limitExpr(sub),
	}
	return sqldsl.JSON(sqldsl.Subquery{Query: aggregate(rows, g.alias())})
}

// aggregate folds the j column of rows into one JSON array, preserving the
// row order.
func aggregate(rows sqldsl.SelectStmt, alias string) sqldsl.SelectStmt {
	return sqldsl.SelectStmt{
		Columns: []sqldsl.Expr{sqldsl.JSONGroupArray(sqldsl.JSON(sqldsl.Col{Table: alias, Column: "j"}))},
		From:    sqldsl.SubqueryTable{Query: rows, Alias: alias},
	}
}

// listExpr selects the rows of sel's table matching where as one JSON
// array, after the query permission. With limit set, @limit applies too.
func (g *generator) listExpr(sel *schema.Selection, where func(alias string) sqldsl.Expr, limit bool) sqldsl.SelectStmt {
	a := g.alias()
	rows := sqldsl.SelectStmt{
		Columns: []sqldsl.Expr{sqldsl.SelectAs(g.objectExpr(sel, a), "j")},
		From:    sqldsl.TableAs(sel.Table.Name, a),
		Where:   sqldsl.And(where(a), g.permission(sel.Table, schema.OpQuery, a)),
		OrderBy: g.orderBy(sel, a),
	}
	if limit {
		rows.Limit = g.limitExpr(sel)
	}
	return aggregate(rows, g.alias())
}
