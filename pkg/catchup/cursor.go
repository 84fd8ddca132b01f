package catchup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCursor is returned when a client cursor is not well formed.
var ErrInvalidCursor = errors.New("loam: invalid sync cursor")

// IsInvalidCursorErr returns true if err is or wraps ErrInvalidCursor.
func IsInvalidCursorErr(err error) bool {
	return errors.Is(err, ErrInvalidCursor)
}

// Cursor is the client's per-table bookmark. Tables it does not name are
// synced from scratch.
type Cursor struct {
	Tables map[string]TableCursor `json:"tables"`
}

// TableCursor marks the last row a client received from one table.
type TableCursor struct {
	LastSeenUpdatedAt int64  `json:"last_seen_updated_at"`
	PermissionHash    string `json:"permission_hash"`
	// LastSeenID breaks ties between rows sharing an updatedAt. Without it
	// the next page starts strictly after LastSeenUpdatedAt.
	LastSeenID *int64 `json:"last_seen_id,omitempty"`
}

// NewCursor returns an empty cursor.
func NewCursor() *Cursor {
	return &Cursor{Tables: make(map[string]TableCursor)}
}

// ParseCursor decodes a cursor. Empty input and null yield an empty cursor.
func ParseCursor(data []byte) (*Cursor, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return NewCursor(), nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var c Cursor
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.Tables == nil {
		c.Tables = make(map[string]TableCursor)
	}
	for name, tc := range c.Tables {
		if name == "" {
			return nil, fmt.Errorf("%w: empty table name", ErrInvalidCursor)
		}
		if tc.LastSeenUpdatedAt < 0 {
			return nil, fmt.Errorf("%w: %s: negative last_seen_updated_at", ErrInvalidCursor, name)
		}
	}
	return &c, nil
}

// Encode returns the JSON form of c.
func (c *Cursor) Encode() ([]byte, error) {
	if c.Tables == nil {
		return []byte(`{"tables":{}}`), nil
	}
	return json.Marshal(c)
}

// Table returns the bookmark for a table.
func (c *Cursor) Table(name string) (TableCursor, bool) {
	if c == nil {
		return TableCursor{}, false
	}
	tc, ok := c.Tables[name]
	return tc, ok
}

// Advance records the position reached by p.
func (c *Cursor) Advance(p Page) {
	if c.Tables == nil {
		c.Tables = make(map[string]TableCursor)
	}
	c.Tables[p.TableName] = p.Cursor
}

// Clone returns a deep copy of c.
func (c *Cursor) Clone() *Cursor {
	out := NewCursor()
	if c == nil {
		return out
	}
	for name, tc := range c.Tables {
		if tc.LastSeenID != nil {
			id := *tc.LastSeenID
			tc.LastSeenID = &id
		}
		out.Tables[name] = tc
	}
	return out
}
