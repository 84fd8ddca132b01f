package sqlgen

import (
	"sort"

	"github.com/pthm/loam/internal/sqlgen/sqldsl"
	"github.com/pthm/loam/pkg/schema"
)

const affectedSnapshot = "affected"

// delete captures the rows to remove, snapshots the response and the
// affected rows while the rows still exist, deletes them and returns the
// snapshots.
func (g *generator) delete() ([]Statement, error) {
	for _, root := range g.op.Roots {
		if err := g.rejectNestedWrites(root); err != nil {
			return nil, err
		}
	}
	stmts := setupStatements(true)
	for _, root := range g.op.Roots {
		stmts = append(stmts, g.captureMatching(root, schema.OpDelete))
	}
	for _, root := range g.op.Roots {
		list := g.listExpr(root, func(a string) sqldsl.Expr { return rowidIn(a, root.Key) }, false)
		stmts = append(stmts, snapshot(responseSnapshot(root.Key), list))
	}
	stmts = append(stmts, snapshot(affectedSnapshot, g.affectedRows()))

	// Referencing rows go first so foreign keys never dangle mid-batch.
	roots := make([]*schema.Selection, len(g.op.Roots))
	copy(roots, g.op.Roots)
	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].Table.Layer > roots[j].Table.Layer
	})
	for _, root := range roots {
		stmts = append(stmts, newStatement(RoleDML, sqldsl.DeleteStmt{
			Table: root.Table.Name,
			Where: rowidIn("", root.Key),
		}.SQL()))
	}

	for _, root := range g.op.Roots {
		stmts = append(stmts, responseStatement(RoleResponse, root.Key, readSnapshot(responseSnapshot(root.Key), root.Key)))
	}
	stmts = append(stmts, responseStatement(RoleAffectedRows, AffectedRowsKey, readSnapshot(affectedSnapshot, AffectedRowsKey)))
	return stmts, nil
}

func responseSnapshot(key string) string {
	return "response:" + key
}

// snapshot stores the single value query yields under key.
func snapshot(key string, query sqldsl.SQLer) Statement {
	return newStatement(RoleDML, sqldsl.InsertStmt{
		Table:   snapshotsTable,
		Columns: []string{"k", "body"},
		Query: sqldsl.SelectStmt{
			Columns: []sqldsl.Expr{sqldsl.Lit(key), sqldsl.Subquery{Query: query}},
		},
	}.SQL())
}

func readSnapshot(key, column string) string {
	body := sqldsl.SelectStmt{
		Columns: []sqldsl.Expr{sqldsl.Col{Column: "body"}},
		From:    sqldsl.TableRef{Name: snapshotsTable},
		Where:   sqldsl.Eq{Left: sqldsl.Col{Column: "k"}, Right: sqldsl.Lit(key)},
	}
	return sqldsl.SelectStmt{Columns: []sqldsl.Expr{sqldsl.SelectAs(sqldsl.Subquery{Query: body}, column)}}.SQL()
}
