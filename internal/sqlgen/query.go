package sqlgen

import (
	"github.com/pthm/loam/internal/sqlgen/sqldsl"
)

// query renders one response statement per top-level field.
func (g *generator) query() ([]Statement, error) {
	stmts := make([]Statement, 0, len(g.op.Roots))
	for _, root := range g.op.Roots {
		list := g.listExpr(root, func(a string) sqldsl.Expr { return g.condExpr(root.Where, a) }, true)
		list.Columns[0] = sqldsl.SelectAs(list.Columns[0], root.Key)
		stmts = append(stmts, responseStatement(RoleResponse, root.Key, list.SQL()))
	}
	return stmts, nil
}
