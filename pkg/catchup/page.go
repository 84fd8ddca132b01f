package catchup

import (
	"encoding/json"
	"strconv"

	"github.com/pthm/loam/pkg/schema"
)

// Page is one table's slice of a catch-up response. Headers and Rows use
// the same encoding as delta table groups.
type Page struct {
	TableName      string   `json:"table_name"`
	Headers        []string `json:"headers"`
	Rows           [][]any  `json:"rows"`
	HasMore        bool     `json:"has_more"`
	FullResync     bool     `json:"full_resync"`
	PermissionHash string   `json:"permission_hash"`
	// Cursor is the position after the last row in Rows.
	Cursor TableCursor `json:"cursor"`
}

// ReadPage turns the rows a page query returned into a Page. A row past
// pageSize means more rows follow; it is dropped and the cursor is taken
// from the last row kept.
func ReadPage(table TablePlan, rows [][]any, pageSize int) Page {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	p := Page{
		TableName:      table.TableName,
		Headers:        table.Headers,
		Rows:           rows,
		FullResync:     table.FullResync,
		PermissionHash: table.PermissionHash,
		Cursor:         table.Cursor,
	}
	if p.Rows == nil {
		p.Rows = [][]any{}
	}
	if len(p.Rows) > pageSize {
		p.Rows = p.Rows[:pageSize]
		p.HasMore = true
	}
	if len(p.Rows) == 0 {
		return p
	}

	last := p.Rows[len(p.Rows)-1]
	for i, h := range table.Headers {
		if i >= len(last) {
			break
		}
		switch h {
		case schema.UpdatedAtColumn:
			if v, ok := toInt64(last[i]); ok {
				p.Cursor.LastSeenUpdatedAt = v
			}
		case table.PrimaryKey:
			if v, ok := toInt64(last[i]); ok {
				p.Cursor.LastSeenID = &v
			}
		}
	}
	return p
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}
