package testutil

import (
	"context"
	"database/sql"
	"fmt"
)

// Fixtures inserts rows into a database migrated to BlogSchema.
type Fixtures struct {
	db  *sql.DB
	ctx context.Context
}

// NewFixtures creates a new Fixtures instance.
func NewFixtures(ctx context.Context, db *sql.DB) *Fixtures {
	return &Fixtures{db: db, ctx: ctx}
}

// CreateUsers creates n users and returns their IDs.
func (f *Fixtures) CreateUsers(n int) ([]int64, error) {
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		res, err := f.db.ExecContext(f.ctx,
			"INSERT INTO users (name, email) VALUES (?, ?)",
			fmt.Sprintf("user%d", i), fmt.Sprintf("user%d@example.com", i))
		if err != nil {
			return nil, fmt.Errorf("insert user %d: %w", i, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CreatePost creates one post and returns its ID. updatedAt is set
// explicitly so catch-up tests control the watermark.
func (f *Fixtures) CreatePost(authorID int64, title string, published bool, updatedAt int64) (int64, error) {
	res, err := f.db.ExecContext(f.ctx,
		`INSERT INTO posts ("authorUserId", title, published, "updatedAt") VALUES (?, ?, ?, ?)`,
		authorID, title, published, updatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert post %q: %w", title, err)
	}
	return res.LastInsertId()
}
