package sqlgen

import (
	"strconv"
	"strings"

	"github.com/pthm/loam/internal/sqlgen/sqldsl"
	"github.com/pthm/loam/pkg/ast"
	"github.com/pthm/loam/pkg/schema"
)

// Temp tables shared by every mutation batch. Both live in the temp schema
// of the connection and are cleared by the batch's setup statements.
const (
	idsTable       = "_loam_ids"
	snapshotsTable = "_loam_snapshots"
)

// generator holds the state of one Generate call.
type generator struct {
	ctx     *schema.Context
	op      *schema.Operation
	aliases int
	// captured maps table names to the capture keys of their rows, in the
	// order the keys were first captured.
	captured map[string][]string
}

// Generate produces the statement batch for op.
func Generate(ctx *schema.Context, op *schema.Operation) ([]Statement, error) {
	g := &generator{ctx: ctx, op: op, captured: make(map[string][]string)}
	for _, p := range op.Params {
		if strings.HasPrefix(p.Name, SessionParamPrefix) {
			return nil, g.errorf(op.Pos, "parameter $%s collides with session bindings", p.Name)
		}
	}
	switch op.Kind {
	case ast.OpQuery:
		return g.query()
	case ast.OpInsert:
		return g.insert()
	case ast.OpUpdate:
		return g.update()
	case ast.OpDelete:
		return g.delete()
	}
	return nil, g.errorf(op.Pos, "unknown operation kind %s", op.Kind)
}

func (g *generator) alias() string {
	a := "t" + strconv.Itoa(g.aliases)
	g.aliases++
	return a
}

// capture records that rows of table are captured under key.
func (g *generator) capture(table, key string) {
	for _, k := range g.captured[table] {
		if k == key {
			return
		}
	}
	g.captured[table] = append(g.captured[table], key)
}

// setupStatements creates and clears the temp tables a mutation batch uses.
func setupStatements(snapshots bool) []Statement {
	stmts := []Statement{
		newStatement(RoleSetup, sqldsl.CreateTableStmt{
			Name:        idsTable,
			Temp:        true,
			IfNotExists: true,
			Columns: []sqldsl.ColumnDef{
				{Name: "k", Type: "TEXT", NotNull: true},
				{Name: "id", Type: "INTEGER", NotNull: true},
			},
		}.SQL()),
		newStatement(RoleSetup, sqldsl.DeleteStmt{Table: idsTable}.SQL()),
	}
	if snapshots {
		stmts = append(stmts,
			newStatement(RoleSetup, sqldsl.CreateTableStmt{
				Name:        snapshotsTable,
				Temp:        true,
				IfNotExists: true,
				Columns: []sqldsl.ColumnDef{
					{Name: "k", Type: "TEXT", NotNull: true},
					{Name: "body", Type: "TEXT"},
				},
			}.SQL()),
			newStatement(RoleSetup, sqldsl.DeleteStmt{Table: snapshotsTable}.SQL()),
		)
	}
	return stmts
}

// capturedIDs selects the rowids captured under keys.
func capturedIDs(keys ...string) sqldsl.SQLer {
	var where sqldsl.Expr
	if len(keys) == 1 {
		where = sqldsl.Eq{Left: sqldsl.Col{Column: "k"}, Right: sqldsl.Lit(keys[0])}
	} else {
		where = sqldsl.In{Expr: sqldsl.Col{Column: "k"}, Values: keys}
	}
	return sqldsl.SelectStmt{
		Columns: []sqldsl.Expr{sqldsl.Col{Column: "id"}},
		From:    sqldsl.TableRef{Name: idsTable},
		Where:   where,
	}
}

// rowidIn restricts alias to the rows captured under keys.
func rowidIn(alias string, keys ...string) sqldsl.Expr {
	return sqldsl.InQuery{Expr: sqldsl.Col{Table: alias, Column: "rowid"}, Query: capturedIDs(keys...)}
}

// captureInserted records the row the preceding INSERT wrote. When the
// INSERT was filtered out by its permission predicate nothing is recorded.
func captureInserted(key string) Statement {
	return newStatement(RoleDML, sqldsl.InsertStmt{
		Table:   idsTable,
		Columns: []string{"k", "id"},
		Query: sqldsl.SelectStmt{
			Columns: []sqldsl.Expr{sqldsl.Lit(key), sqldsl.LastInsertRowID()},
			Where:   sqldsl.Eq{Left: sqldsl.Changes(), Right: sqldsl.Int(1)},
		},
	}.SQL())
}

// captureMatching records every row of sel's table that passes its @where
// and the permission for op, honoring @sort and @limit.
func (g *generator) captureMatching(sel *schema.Selection, op schema.Op) Statement {
	a := g.alias()
	g.capture(sel.Table.Name, sel.Key)
	return newStatement(RoleDML, sqldsl.InsertStmt{
		Table:   idsTable,
		Columns: []string{"k", "id"},
		Query: sqldsl.SelectStmt{
			Columns: []sqldsl.Expr{sqldsl.Lit(sel.Key), sqldsl.Col{Table: a, Column: "rowid"}},
			From:    sqldsl.TableAs(sel.Table.Name, a),
			Where:   sqldsl.And(g.condExpr(sel.Where, a), g.permission(sel.Table, op, a)),
			OrderBy: g.orderBy(sel, a),
			Limit:   g.limitExpr(sel),
		},
	}.SQL())
}

// keyValue reads column of the row captured under key.
func (g *generator) keyValue(t *schema.Table, key, column string) sqldsl.Expr {
	ids := capturedIDs(key)
	if pk := t.PrimaryKey(); pk != nil && pk.Name == column && pk.Type.Kind == schema.KindInt {
		// An INTEGER PRIMARY KEY is the rowid.
		return sqldsl.Subquery{Query: ids}
	}
	a := g.alias()
	return sqldsl.Subquery{Query: sqldsl.SelectStmt{
		Columns: []sqldsl.Expr{sqldsl.Col{Table: a, Column: column}},
		From:    sqldsl.TableAs(t.Name, a),
		Where:   sqldsl.Eq{Left: sqldsl.Col{Table: a, Column: "rowid"}, Right: sqldsl.Subquery{Query: ids}},
	}}
}

// rejectNestedWrites fails when a selection below sel assigns values.
func (g *generator) rejectNestedWrites(sel *schema.Selection) error {
	for _, f := range sel.Fields {
		if f.Sub == nil {
			continue
		}
		if f.Sub.Writes() {
			return g.errorf(f.Sub.Pos, "nested writes are only supported in insert, not %s", g.op.Kind)
		}
		if err := g.rejectNestedWrites(f.Sub); err != nil {
			return err
		}
	}
	return nil
}
