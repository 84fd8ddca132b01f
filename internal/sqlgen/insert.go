package sqlgen

import (
	"github.com/pthm/loam/internal/sqlgen/sqldsl"
	"github.com/pthm/loam/pkg/schema"
)

// insert renders one single-row INSERT per inserted selection. Rows a
// selection references (many-to-one) are inserted before it, rows that
// reference it (one-to-many) after it.
func (g *generator) insert() ([]Statement, error) {
	stmts := setupStatements(false)
	for _, root := range g.op.Roots {
		dml, err := g.insertRow(root, root.Key, nil, "")
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, dml...)
	}
	for _, root := range g.op.Roots {
		stmts = append(stmts, g.insertResponse(root))
	}
	stmts = append(stmts, responseStatement(RoleAffectedRows, AffectedRowsKey, g.affectedRows().SQL()))
	return stmts, nil
}

// insertRow renders the statements inserting sel under key. parent and
// parentKey identify the row sel is nested in, if any.
func (g *generator) insertRow(sel *schema.Selection, key string, parent *schema.Table, parentKey string) ([]Statement, error) {
	if sel.Where != nil || len(sel.Sorts) > 0 || sel.Limit != nil {
		return nil, g.errorf(sel.Pos, "inserted rows of %s cannot be filtered, sorted or limited", sel.Key)
	}
	t := sel.Table
	row := newRowValues()
	var stmts []Statement

	for _, f := range sel.Fields {
		sub := f.Sub
		if sub == nil || !sub.Writes() || !sub.Link.HoldsKey {
			continue
		}
		childKey := key + "." + sub.Key
		child, err := g.insertRow(sub, childKey, t, key)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, child...)
		row.set(sub.Link.LocalColumn, g.keyValue(sub.Table, childKey, sub.Link.ForeignColumn))
	}
	if sel.Link != nil && !sel.Link.HoldsKey {
		if parent == nil {
			return nil, g.errorf(sel.Pos, "cannot capture the key of the row %s is nested in", sel.Key)
		}
		row.set(sel.Link.ForeignColumn, g.keyValue(parent, parentKey, sel.Link.LocalColumn))
	}
	for _, set := range sel.Sets {
		for _, a := range g.assignments(set, false) {
			row.set(a.Column, a.Value)
		}
	}
	if len(row.columns) == 0 {
		pk := t.PrimaryKey()
		if pk == nil || pk.Type.Kind != schema.KindInt {
			return nil, g.errorf(sel.Pos, "insert into %s assigns no columns", t.Name)
		}
		// NULL into an INTEGER PRIMARY KEY allocates the next rowid.
		row.set(pk.Name, sqldsl.Null{})
	}

	stmt := sqldsl.InsertStmt{Table: t.Name, Columns: row.columns, Values: row.values()}
	if pred := t.Permission(schema.OpInsert); !isTrue(pred) {
		stmt.Values = nil
		stmt.Query = sqldsl.SelectStmt{
			Columns: row.values(),
			Where: predExpr(pred, func(column string) sqldsl.Expr {
				if v, ok := row.byColumn[column]; ok {
					return v
				}
				return g.defaultExpr(t, column)
			}),
		}
	}
	stmts = append(stmts, newStatement(RoleDML, stmt.SQL()), captureInserted(key))
	g.capture(t.Name, key)

	for _, f := range sel.Fields {
		sub := f.Sub
		if sub == nil || !sub.Writes() || sub.Link.HoldsKey {
			continue
		}
		child, err := g.insertRow(sub, key+"."+sub.Key, t, key)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, child...)
	}
	return stmts, nil
}

// insertResponse shapes the row inserted for root as a single object, or
// null when the row was not inserted or is not visible.
func (g *generator) insertResponse(root *schema.Selection) Statement {
	a := g.alias()
	obj := sqldsl.SelectStmt{
		Columns: []sqldsl.Expr{g.objectExpr(root, a)},
		From:    sqldsl.TableAs(root.Table.Name, a),
		Where:   sqldsl.And(rowidIn(a, root.Key), g.permission(root.Table, schema.OpQuery, a)),
	}
	sql := sqldsl.SelectStmt{Columns: []sqldsl.Expr{sqldsl.SelectAs(sqldsl.Subquery{Query: obj}, root.Key)}}.SQL()
	return responseStatement(RoleResponse, root.Key, sql)
}

// defaultExpr is the value SQLite stores in an unassigned column.
func (g *generator) defaultExpr(t *schema.Table, column string) sqldsl.Expr {
	for _, sc := range g.ctx.StorageColumns(t) {
		if sc.Name == column && sc.Default != "" {
			return sqldsl.Raw(sc.Default)
		}
	}
	return sqldsl.Null{}
}

func isTrue(p schema.Pred) bool {
	c, ok := p.(schema.Const)
	return ok && c.Value
}

// rowValues collects the column values of one written row in assignment
// order. A later assignment to the same column replaces the earlier one.
type rowValues struct {
	columns  []string
	byColumn map[string]sqldsl.Expr
}

func newRowValues() *rowValues {
	return &rowValues{byColumn: make(map[string]sqldsl.Expr)}
}

func (r *rowValues) set(column string, v sqldsl.Expr) {
	if _, ok := r.byColumn[column]; !ok {
		r.columns = append(r.columns, column)
	}
	r.byColumn[column] = v
}

func (r *rowValues) values() []sqldsl.Expr {
	out := make([]sqldsl.Expr, len(r.columns))
	for i, c := range r.columns {
		out[i] = r.byColumn[c]
	}
	return out
}

// assignments expands one assignment into storage-level SET clauses. A
// union with fields writes its tag column and every field column; fields
// the chosen variant lacks are cleared. In updates a null nullable
// parameter leaves the stored value unchanged.
func (g *generator) assignments(set *schema.Set, update bool) []sqldsl.SetClause {
	col := set.Column
	var keepIfNull sqldsl.Expr
	if p, ok := set.Value.(schema.ParamValue); ok && update && p.Param.Type.Nullable {
		keepIfNull = sqldsl.Param(p.Param.Name)
	}
	keep := func(storage string, v sqldsl.Expr) sqldsl.Expr {
		if keepIfNull == nil {
			return v
		}
		return sqldsl.CaseExpr{
			Whens: []sqldsl.CaseWhen{{Cond: sqldsl.IsNull{Expr: keepIfNull}, Result: sqldsl.Col{Column: storage}}},
			Else:  v,
		}
	}

	var u *schema.Union
	if col.Type.Kind == schema.KindUnion {
		u = g.ctx.Union(col.Type.Union)
	}
	if u == nil || !u.HasFields() {
		v := g.valueExpr(set.Value, "")
		if keepIfNull != nil {
			v = sqldsl.Coalesce(v, sqldsl.Col{Column: col.Name})
		}
		return []sqldsl.SetClause{{Column: col.Name, Value: v}}
	}

	tag, fields := g.unionParts(u, set.Value)
	out := []sqldsl.SetClause{{Column: col.Name, Value: keep(col.Name, tag)}}
	for _, name := range u.FieldNames() {
		storage := schema.VariantColumnName(col.Name, name)
		out = append(out, sqldsl.SetClause{Column: storage, Value: keep(storage, fields[name])})
	}
	return out
}

// unionParts splits a union value into its tag and field expressions.
// Missing fields are NULL.
func (g *generator) unionParts(u *schema.Union, v schema.Value) (sqldsl.Expr, map[string]sqldsl.Expr) {
	fields := make(map[string]sqldsl.Expr)
	var tag sqldsl.Expr
	switch v := v.(type) {
	case schema.VariantValue:
		tag = sqldsl.Lit(v.Variant.Name)
		for name, fv := range v.Fields {
			fields[name] = g.valueExpr(fv, "")
		}
	case schema.ParamValue:
		tag = sqldsl.Param(v.Param.Name)
		for _, name := range u.FieldNames() {
			fields[name] = sqldsl.Param(UnionParamField(v.Param.Name, name))
		}
	case schema.ColumnValue:
		tag = sqldsl.Col{Column: v.Column.Name}
		for _, name := range u.FieldNames() {
			fields[name] = sqldsl.Col{Column: schema.VariantColumnName(v.Column.Name, name)}
		}
	default:
		tag = g.valueExpr(v, "")
	}
	for _, name := range u.FieldNames() {
		if fields[name] == nil {
			fields[name] = sqldsl.Null{}
		}
	}
	return tag, fields
}

// UnionParamField is the bind name carrying field of a union parameter.
func UnionParamField(param, field string) string {
	return schema.VariantColumnName(param, field)
}
