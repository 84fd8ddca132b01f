package catchup

import (
	"database/sql"
	"fmt"

	"github.com/pthm/loam/internal/sqlgen"
	"github.com/pthm/loam/internal/sqlgen/sqldsl"
	"github.com/pthm/loam/pkg/schema"
)

// DefaultPageSize is used when SyncSQL gets a page size below one.
const DefaultPageSize = 100

// Plan is the phase two output.
type Plan struct {
	Tables []TablePlan `json:"tables"`
}

// TablePlan is the page query for one table.
type TablePlan struct {
	TableName      string   `json:"table_name"`
	PermissionHash string   `json:"permission_hash"`
	SQL            string   `json:"sql"`
	Args           []any    `json:"-"`
	Headers        []string `json:"headers"`
	PrimaryKey     string   `json:"primary_key,omitempty"`
	FullResync     bool     `json:"full_resync"`
	Layer          int      `json:"layer"`
	// Cursor is where the page starts. It already carries the current
	// permission hash.
	Cursor TableCursor `json:"cursor"`
}

// SyncSQL builds one page query for every table status marks as needing
// sync, in sync layer order. Rows are read in (updatedAt, id) order,
// pageSize+1 at a time.
func SyncSQL(ctx *schema.Context, status []TableStatus, cursor *Cursor, session map[string]any, pageSize int) (*Plan, error) {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	byName := make(map[string]TableStatus, len(status))
	for _, s := range status {
		if ctx.TableByName(s.TableName) == nil {
			return nil, fmt.Errorf("sync status names unknown table %s", s.TableName)
		}
		byName[s.TableName] = s
	}

	plan := &Plan{}
	for _, t := range ctx.SyncOrder() {
		s, ok := byName[t.Name]
		if !ok {
			continue
		}
		// The schema may have moved on between the two phases.
		full := s.FullResync || s.PermissionHash != t.PermissionHash()
		if !full && !s.HasChanges {
			continue
		}
		args, err := sessionArgs(ctx, []*schema.Table{t}, session)
		if err != nil {
			return nil, err
		}

		start := TableCursor{PermissionHash: t.PermissionHash()}
		if !full {
			prev, _ := cursor.Table(t.Name)
			start.LastSeenUpdatedAt = prev.LastSeenUpdatedAt
			start.LastSeenID = prev.LastSeenID
		}
		headers := ctx.Headers(t)
		var pk string
		if c := t.PrimaryKey(); c != nil {
			pk = c.Name
		}
		plan.Tables = append(plan.Tables, TablePlan{
			TableName:      t.Name,
			PermissionHash: t.PermissionHash(),
			SQL:            pageQuery(t, headers, full, pageSize).SQL(),
			Args:           append(args, pageArgs(start, full)...),
			Headers:        headers,
			PrimaryKey:     pk,
			FullResync:     full,
			Layer:          t.Layer,
			Cursor:         start,
		})
	}
	return plan, nil
}

func pageQuery(t *schema.Table, headers []string, full bool, pageSize int) sqldsl.SelectStmt {
	cols := make([]sqldsl.Expr, len(headers))
	for i, h := range headers {
		cols[i] = sqldsl.Col{Table: rowAlias, Column: h}
	}
	var bound sqldsl.Expr
	if !full {
		bound = after(t, "cursor")
	}
	order := []sqldsl.OrderBy{{Expr: sqldsl.Col{Table: rowAlias, Column: schema.UpdatedAtColumn}}}
	if pk := t.PrimaryKey(); pk != nil {
		order = append(order, sqldsl.OrderBy{Expr: sqldsl.Col{Table: rowAlias, Column: pk.Name}})
	}
	return sqldsl.SelectStmt{
		Columns: cols,
		From:    sqldsl.TableAs(t.Name, rowAlias),
		Where:   sqldsl.And(bound, sqlgen.Permission(t, schema.OpQuery, rowAlias)),
		OrderBy: order,
		Limit:   sqldsl.Int(pageSize + 1),
	}
}

func pageArgs(start TableCursor, full bool) []any {
	if full {
		return nil
	}
	return []any{
		sql.Named("cursor_updated_at", start.LastSeenUpdatedAt),
		sql.Named("cursor_id", lastSeenID(start)),
	}
}
