// Package catchup pages a reconnecting client through the rows it missed.
//
// Catch-up runs in two phases. StatusSQL builds one statement reporting,
// per table, whether the client's cursor still holds the current
// permission hash and whether any visible row changed after it. SyncSQL
// then builds one page query per table that needs work, in sync layer
// order. Each page fetches one row more than the page size so ReadPage can
// tell whether more rows follow.
//
// A table whose permission predicate changed since the cursor was issued
// is resynced from the start: rows the client already holds may no longer
// be visible, and rows it never received may now be.
package catchup

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"

	"github.com/pthm/loam/internal/sqlgen"
	"github.com/pthm/loam/internal/sqlgen/sqldsl"
	"github.com/pthm/loam/pkg/compiler"
	"github.com/pthm/loam/pkg/schema"
)

const rowAlias = "t0"

// Statement is SQL with its named arguments.
type Statement struct {
	SQL  string
	Args []any
}

// TableStatus is one row of the status query.
type TableStatus struct {
	TableName      string `json:"table_name"`
	PermissionHash string `json:"permission_hash"`
	// FullResync is set when the cursor has no entry for the table or holds
	// another permission hash.
	FullResync bool `json:"full_resync"`
	// HasChanges is set when a row visible to the session lies past the
	// cursor, or anywhere in the table when FullResync is set.
	HasChanges bool `json:"has_changes"`
	Layer      int  `json:"layer"`
}

// NeedsSync reports whether the table gets a page query.
func (s TableStatus) NeedsSync() bool {
	return s.FullResync || s.HasChanges
}

// StatusSQL builds the phase one query. It returns one row per table with
// the columns table_name, permission_hash, full_resync, has_changes and
// layer.
func StatusSQL(ctx *schema.Context, cursor *Cursor, session map[string]any) (Statement, error) {
	tables := ctx.SyncOrder()
	args, err := sessionArgs(ctx, tables, session)
	if err != nil {
		return Statement{}, err
	}

	queries := make([]sqldsl.SQLer, 0, len(tables))
	for i, t := range tables {
		prefix := "cursor_" + strconv.Itoa(i)
		tc, ok := cursor.Table(t.Name)
		var hash any
		if ok {
			hash = tc.PermissionHash
		}
		args = append(args,
			sql.Named(prefix+"_hash", hash),
			sql.Named(prefix+"_updated_at", tc.LastSeenUpdatedAt),
			sql.Named(prefix+"_id", lastSeenID(tc)),
		)

		stale := sqldsl.Raw(sqldsl.Param(prefix+"_hash").SQL() + " IS NOT " + sqldsl.Lit(t.PermissionHash()).SQL())
		changed := sqldsl.SelectStmt{
			From: sqldsl.TableAs(t.Name, rowAlias),
			Where: sqldsl.And(
				sqldsl.Or(stale, after(t, prefix)),
				sqlgen.Permission(t, schema.OpQuery, rowAlias),
			),
			Limit: sqldsl.Int(1),
		}
		queries = append(queries, sqldsl.SelectStmt{
			Columns: []sqldsl.Expr{
				sqldsl.SelectAs(sqldsl.Lit(t.Name), "table_name"),
				sqldsl.SelectAs(sqldsl.Lit(t.PermissionHash()), "permission_hash"),
				sqldsl.SelectAs(stale, "full_resync"),
				sqldsl.SelectAs(sqldsl.Exists{Query: changed}, "has_changes"),
				sqldsl.SelectAs(sqldsl.Int(t.Layer), "layer"),
			},
		})
	}
	return Statement{SQL: sqldsl.UnionAll{Queries: queries}.SQL(), Args: args}, nil
}

// ReadStatus scans the rows of the status query and closes them.
func ReadStatus(rows *sql.Rows) ([]TableStatus, error) {
	defer func() { _ = rows.Close() }()
	var out []TableStatus
	for rows.Next() {
		var s TableStatus
		if err := rows.Scan(&s.TableName, &s.PermissionHash, &s.FullResync, &s.HasChanges, &s.Layer); err != nil {
			return nil, fmt.Errorf("scanning sync status: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading sync status: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out, nil
}

// after restricts the row to positions past the cursor bound under prefix.
// A NULL id bound compares as unknown, which leaves the strict updatedAt
// comparison.
func after(t *schema.Table, prefix string) sqldsl.Expr {
	updatedAt := sqldsl.Col{Table: rowAlias, Column: schema.UpdatedAtColumn}
	bound := sqldsl.Param(prefix + "_updated_at")
	pk := t.PrimaryKey()
	if pk == nil {
		return sqldsl.Gt{Left: updatedAt, Right: bound}
	}
	return sqldsl.Or(
		sqldsl.Gt{Left: updatedAt, Right: bound},
		sqldsl.And(
			sqldsl.Eq{Left: updatedAt, Right: bound},
			sqldsl.Gt{Left: sqldsl.Col{Table: rowAlias, Column: pk.Name}, Right: sqldsl.Param(prefix + "_id")},
		),
	)
}

func lastSeenID(tc TableCursor) any {
	if tc.LastSeenID == nil {
		return nil
	}
	return *tc.LastSeenID
}

// sessionArgs binds every session field the query permissions of tables
// read. A missing field is an error, so a broken session sees nothing.
func sessionArgs(ctx *schema.Context, tables []*schema.Table, session map[string]any) ([]any, error) {
	var fields []string
	seen := make(map[string]bool)
	for _, t := range tables {
		for _, f := range schema.SessionFields(t.Permission(schema.OpQuery)) {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	b, err := compiler.BindSession(ctx, session, fields)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	args := make([]any, 0, len(names))
	for _, name := range names {
		args = append(args, sql.Named(name, b[name]))
	}
	return args, nil
}
