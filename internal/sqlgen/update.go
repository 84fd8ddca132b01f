package sqlgen

import (
	"github.com/pthm/loam/internal/sqlgen/sqldsl"
	"github.com/pthm/loam/pkg/schema"
)

// update captures the rowids matching each root's @where and update
// permission, updates exactly those rows and reads them back.
func (g *generator) update() ([]Statement, error) {
	for _, root := range g.op.Roots {
		if err := g.rejectNestedWrites(root); err != nil {
			return nil, err
		}
	}
	stmts := setupStatements(false)
	for _, root := range g.op.Roots {
		stmts = append(stmts, g.captureMatching(root, schema.OpUpdate))

		var sets []sqldsl.SetClause
		for _, set := range root.Sets {
			sets = append(sets, g.assignments(set, true)...)
		}
		if root.Table.Column(schema.UpdatedAtColumn) != nil && root.Set(schema.UpdatedAtColumn) == nil {
			sets = append(sets, sqldsl.SetClause{Column: schema.UpdatedAtColumn, Value: sqldsl.UnixEpoch()})
		}
		stmts = append(stmts, newStatement(RoleDML, sqldsl.UpdateStmt{
			Table: root.Table.Name,
			Sets:  sets,
			Where: rowidIn("", root.Key),
		}.SQL()))
	}
	for _, root := range g.op.Roots {
		stmts = append(stmts, g.listResponse(root))
	}
	stmts = append(stmts, responseStatement(RoleAffectedRows, AffectedRowsKey, g.affectedRows().SQL()))
	return stmts, nil
}

// listResponse shapes the rows captured for root as a JSON array.
func (g *generator) listResponse(root *schema.Selection) Statement {
	list := g.listExpr(root, func(a string) sqldsl.Expr { return rowidIn(a, root.Key) }, false)
	list.Columns[0] = sqldsl.SelectAs(list.Columns[0], root.Key)
	return responseStatement(RoleResponse, root.Key, list.SQL())
}
