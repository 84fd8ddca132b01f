// Package delta decides which connected sessions receive which changed
// rows.
//
// A mutation yields affected rows (see ParseAffectedRows). For every row
// and every session the engine evaluates the row table's query permission
// with the session's fields. Sessions that see exactly the same rows share
// a Group, so the payload for a group is built once however many sessions
// it fans out to.
//
// Evaluation fails closed: a session missing a field a predicate reads
// does not see the row, and the failure is logged and reported in
// Result.Errors.
package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pthm/loam/pkg/schema"
)

// AffectedRow is one row touched by a mutation, at storage level.
type AffectedRow struct {
	TableName string         `json:"table_name"`
	Row       map[string]any `json:"row"`
	Headers   []string       `json:"headers"`
}

// TableGroup is the wire encoding of rows sharing a table.
type TableGroup struct {
	TableName string   `json:"table_name"`
	Headers   []string `json:"headers"`
	Rows      [][]any  `json:"rows"`
}

// ConnectedSession is a live client and its session fields.
type ConnectedSession struct {
	SessionID string         `json:"session_id"`
	Fields    map[string]any `json:"fields"`
}

// Group is a set of sessions that see the same affected rows.
type Group struct {
	SessionIDs []string `json:"session_ids"`
	// AffectedRowIndices index Result.AllAffectedRows, ascending.
	AffectedRowIndices []int `json:"affected_row_indices"`
}

// Result is the outcome of CalculateSyncDeltas.
type Result struct {
	// AllAffectedRows is the input, deduplicated by table and primary key.
	AllAffectedRows []AffectedRow `json:"all_affected_rows"`
	Groups          []Group       `json:"groups"`
	// Errors lists evaluation failures, at most one per session and table.
	Errors []*SyncError `json:"-"`
}

// TableGroups encodes the rows of g for the wire, one group per table in
// order of first appearance.
func (r *Result) TableGroups(g Group) []TableGroup {
	var out []TableGroup
	pos := make(map[string]int)
	for _, i := range g.AffectedRowIndices {
		row := r.AllAffectedRows[i]
		at, ok := pos[row.TableName]
		if !ok {
			at = len(out)
			pos[row.TableName] = at
			out = append(out, TableGroup{TableName: row.TableName, Headers: row.Headers})
		}
		values := make([]any, len(out[at].Headers))
		for j, h := range out[at].Headers {
			values[j] = row.Row[h]
		}
		out[at].Rows = append(out[at].Rows, values)
	}
	return out
}

// Engine evaluates permissions against the schema held by a Cache.
type Engine struct {
	cache  *Cache
	logger *slog.Logger
}

// NewEngine creates an engine reading cache. A nil logger uses
// slog.Default().
func NewEngine(cache *Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cache: cache, logger: logger}
}

// CalculateSyncDeltas deduplicates rows, evaluates visibility for every
// session and groups sessions with identical outcomes. Sessions that see
// nothing are left out of every group. The schema is read once, so a
// concurrent Cache.Store does not affect a running calculation.
func (e *Engine) CalculateSyncDeltas(rows []AffectedRow, sessions []ConnectedSession) (*Result, error) {
	var ctx *schema.Context
	if snap := e.cache.Load(); snap != nil {
		ctx = snap.Context
	}
	res := &Result{AllAffectedRows: dedupe(ctx, rows)}
	if len(rows) == 0 || len(sessions) == 0 {
		return res, nil
	}
	if ctx == nil {
		return nil, ErrNoSchema
	}

	tables := make([]*schema.Table, len(res.AllAffectedRows))
	for i, row := range res.AllAffectedRows {
		tables[i] = ctx.TableByName(row.TableName)
	}

	groups := make(map[string]int)
	for _, s := range sessions {
		var visible []int
		failed := make(map[string]bool)
		for i, row := range res.AllAffectedRows {
			t := tables[i]
			if t == nil {
				if !failed[row.TableName] {
					failed[row.TableName] = true
					res.Errors = append(res.Errors, e.syncError(s, row.TableName, fmt.Errorf("unknown table %s", row.TableName)))
				}
				continue
			}
			ok, err := schema.Evaluate(t.Permission(schema.OpQuery), row.Row, s.Fields)
			if err != nil {
				if !failed[row.TableName] {
					failed[row.TableName] = true
					res.Errors = append(res.Errors, e.syncError(s, row.TableName, err))
				}
				continue
			}
			if ok {
				visible = append(visible, i)
			}
		}
		if len(visible) == 0 {
			continue
		}
		key := indexKey(visible)
		if at, ok := groups[key]; ok {
			res.Groups[at].SessionIDs = append(res.Groups[at].SessionIDs, s.SessionID)
			continue
		}
		groups[key] = len(res.Groups)
		res.Groups = append(res.Groups, Group{SessionIDs: []string{s.SessionID}, AffectedRowIndices: visible})
	}
	return res, nil
}

func (e *Engine) syncError(s ConnectedSession, table string, err error) *SyncError {
	e.logger.Warn("permission evaluation failed, row withheld",
		"session_id", s.SessionID,
		"table", table,
		"error", err)
	return &SyncError{SessionID: s.SessionID, Table: table, Err: err}
}

func indexKey(indices []int) string {
	var b strings.Builder
	for i, n := range indices {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// dedupe keeps one row per table and primary key. The last row wins and
// takes the position of the first. Without a schema, or for tables it does
// not know, rows are kept as they are.
func dedupe(ctx *schema.Context, rows []AffectedRow) []AffectedRow {
	out := make([]AffectedRow, 0, len(rows))
	if ctx == nil {
		return append(out, rows...)
	}
	seen := make(map[string]int)
	for _, row := range rows {
		t := ctx.TableByName(row.TableName)
		if t == nil || t.PrimaryKey() == nil {
			out = append(out, row)
			continue
		}
		v, ok := row.Row[t.PrimaryKey().Name]
		if !ok {
			out = append(out, row)
			continue
		}
		key := row.TableName + "\x00" + fmt.Sprint(v)
		if at, ok := seen[key]; ok {
			out[at] = row
			continue
		}
		seen[key] = len(out)
		out = append(out, row)
	}
	return out
}

// ParseAffectedRows decodes an _affectedRows payload. Numbers decode as
// json.Number so integer ids survive intact.
func ParseAffectedRows(data []byte) ([]AffectedRow, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var groups []TableGroup
	if err := dec.Decode(&groups); err != nil {
		return nil, fmt.Errorf("decoding affected rows: %w", err)
	}
	var out []AffectedRow
	for _, g := range groups {
		for n, values := range g.Rows {
			if len(values) != len(g.Headers) {
				return nil, fmt.Errorf("decoding affected rows: %s row %d has %d values for %d headers",
					g.TableName, n, len(values), len(g.Headers))
			}
			row := make(map[string]any, len(g.Headers))
			for i, h := range g.Headers {
				row[h] = values[i]
			}
			out = append(out, AffectedRow{TableName: g.TableName, Row: row, Headers: g.Headers})
		}
	}
	return out, nil
}
