package delta

import (
	"errors"
	"sync/atomic"

	"github.com/pthm/loam/pkg/schema"
)

// ErrNoSchema is returned when the cache holds no schema yet.
var ErrNoSchema = errors.New("loam: no schema loaded")

// IsNoSchemaErr returns true if err is or wraps ErrNoSchema.
func IsNoSchemaErr(err error) bool {
	return errors.Is(err, ErrNoSchema)
}

// Snapshot is one immutable schema generation.
type Snapshot struct {
	// Version identifies the generation, typically the schema hash.
	Version string
	Context *schema.Context
}

// Cache holds the active schema. Store swaps the whole snapshot at once,
// so readers never see a half-updated schema.
type Cache struct {
	current atomic.Pointer[Snapshot]
}

// Store replaces the active snapshot and returns it.
func (c *Cache) Store(version string, ctx *schema.Context) *Snapshot {
	s := &Snapshot{Version: version, Context: ctx}
	c.current.Store(s)
	return s
}

// Load returns the active snapshot, or nil before the first Store.
func (c *Cache) Load() *Snapshot {
	return c.current.Load()
}

// Context returns the active schema.
func (c *Cache) Context() (*schema.Context, error) {
	s := c.current.Load()
	if s == nil {
		return nil, ErrNoSchema
	}
	return s.Context, nil
}
