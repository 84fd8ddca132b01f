package catchup

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pthm/loam/pkg/schema"
)

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Result is one round of catch-up.
type Result struct {
	Pages []Page `json:"pages"`
	// Cursor is the input cursor advanced past every page.
	Cursor *Cursor `json:"cursor"`
	// HasMore is set when the client should ask again with Cursor.
	HasMore bool `json:"has_more"`
}

// Run executes both phases against db and reads one page per table. Once a
// table reports more rows, tables in higher layers wait for the next round
// so a client never receives rows whose references it has not seen. Run
// db inside a read transaction for a consistent snapshot.
func Run(ctx context.Context, db Queryer, sc *schema.Context, cursor *Cursor, session map[string]any, pageSize int) (*Result, error) {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	status, err := StatusSQL(sc, cursor, session)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, status.SQL, status.Args...)
	if err != nil {
		return nil, fmt.Errorf("querying sync status: %w", err)
	}
	statuses, err := ReadStatus(rows)
	if err != nil {
		return nil, err
	}
	plan, err := SyncSQL(sc, statuses, cursor, session, pageSize)
	if err != nil {
		return nil, err
	}

	res := &Result{Pages: []Page{}, Cursor: cursor.Clone()}
	blocked := -1
	for _, tp := range plan.Tables {
		if blocked >= 0 && tp.Layer > blocked {
			res.HasMore = true
			break
		}
		values, err := queryPage(ctx, db, tp)
		if err != nil {
			return nil, err
		}
		page := ReadPage(tp, values, pageSize)
		res.Pages = append(res.Pages, page)
		res.Cursor.Advance(page)
		if page.HasMore {
			res.HasMore = true
			if blocked < 0 {
				blocked = tp.Layer
			}
		}
	}
	return res, nil
}

func queryPage(ctx context.Context, db Queryer, tp TablePlan) ([][]any, error) {
	rows, err := db.QueryContext(ctx, tp.SQL, tp.Args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s page: %w", tp.TableName, err)
	}
	defer func() { _ = rows.Close() }()

	out := [][]any{}
	for rows.Next() {
		values := make([]any, len(tp.Headers))
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s page: %w", tp.TableName, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s page: %w", tp.TableName, err)
	}
	return out, nil
}
