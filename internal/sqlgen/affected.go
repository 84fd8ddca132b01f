package sqlgen

import (
	"github.com/pthm/loam/internal/sqlgen/sqldsl"
)

// affectedRows selects every captured row at storage level, one group per
// table in sync order:
//
//	[{"table_name": "posts", "headers": ["id", ...], "rows": [[1, ...]]}]
//
// Tables without captured rows are left out.
func (g *generator) affectedRows() sqldsl.SelectStmt {
	var groups []sqldsl.SQLer
	for _, t := range g.ctx.SyncOrder() {
		keys := g.captured[t.Name]
		if len(keys) == 0 {
			continue
		}
		headers := g.ctx.Headers(t)
		a := g.alias()
		values := make([]sqldsl.Expr, len(headers))
		for i, h := range headers {
			values[i] = sqldsl.Col{Table: a, Column: h}
		}
		group := sqldsl.SelectStmt{
			Columns: []sqldsl.Expr{
				sqldsl.SelectAs(sqldsl.JSONObject{Pairs: []sqldsl.JSONPair{
					{Key: "table_name", Value: sqldsl.Lit(t.Name)},
					{Key: "headers", Value: sqldsl.JSONStrings(headers)},
					{Key: "rows", Value: sqldsl.JSONGroupArray(sqldsl.JSONArray(values...))},
				}}, "g"),
				sqldsl.SelectAs(sqldsl.Func{Name: "count", Args: []sqldsl.Expr{sqldsl.Raw("*")}}, "n"),
			},
			From:  sqldsl.TableAs(t.Name, a),
			Where: rowidIn(a, keys...),
		}
		s := g.alias()
		groups = append(groups, sqldsl.SelectStmt{
			Columns: []sqldsl.Expr{sqldsl.Col{Table: s, Column: "g"}},
			From:    sqldsl.SubqueryTable{Query: group, Alias: s},
			Where:   sqldsl.Gt{Left: sqldsl.Col{Table: s, Column: "n"}, Right: sqldsl.Int(0)},
		})
	}
	if len(groups) == 0 {
		return sqldsl.SelectStmt{Columns: []sqldsl.Expr{sqldsl.SelectAs(sqldsl.JSONArray(), AffectedRowsKey)}}
	}
	u := g.alias()
	return sqldsl.SelectStmt{
		Columns: []sqldsl.Expr{sqldsl.SelectAs(sqldsl.JSONGroupArray(sqldsl.JSON(sqldsl.Col{Table: u, Column: "g"})), AffectedRowsKey)},
		From:    sqldsl.SubqueryTable{Query: sqldsl.UnionAll{Queries: groups}, Alias: u},
	}
}
