package catchup

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/loam/internal/testutil"
	"github.com/pthm/loam/pkg/migrator"
	"github.com/pthm/loam/pkg/schema"
)

func TestParseCursor(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]TableCursor
		wantErr bool
	}{
		{name: "empty", input: "", want: map[string]TableCursor{}},
		{name: "null", input: "null", want: map[string]TableCursor{}},
		{
			name:  "one table",
			input: `{"tables": {"posts": {"last_seen_updated_at": 1700000000, "permission_hash": "abc123"}}}`,
			want:  map[string]TableCursor{"posts": {LastSeenUpdatedAt: 1700000000, PermissionHash: "abc123"}},
		},
		{name: "no tables", input: `{}`, want: map[string]TableCursor{}},
		{name: "unknown field", input: `{"tables": {}, "extra": 1}`, wantErr: true},
		{name: "negative watermark", input: `{"tables": {"posts": {"last_seen_updated_at": -1}}}`, wantErr: true},
		{name: "wrong type", input: `{"tables": {"posts": {"last_seen_updated_at": "soon"}}}`, wantErr: true},
		{name: "malformed", input: `{"tables":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseCursor([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsInvalidCursorErr(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Tables)
		})
	}
}

func TestCursor_Encode(t *testing.T) {
	id := int64(42)
	c := NewCursor()
	c.Tables["posts"] = TableCursor{LastSeenUpdatedAt: 7, PermissionHash: "h", LastSeenID: &id}

	data, err := c.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"tables": {"posts": {"last_seen_updated_at": 7, "permission_hash": "h", "last_seen_id": 42}}}`, string(data))

	clone := c.Clone()
	*clone.Tables["posts"].LastSeenID = 1
	assert.Equal(t, int64(42), *c.Tables["posts"].LastSeenID)
}

func TestReadPage(t *testing.T) {
	prev := int64(3)
	table := TablePlan{
		TableName:      "posts",
		PermissionHash: "h",
		Headers:        []string{"id", "title", "updatedAt"},
		PrimaryKey:     "id",
		Cursor:         TableCursor{LastSeenUpdatedAt: 50, PermissionHash: "h", LastSeenID: &prev},
	}

	t.Run("overflow row is dropped", func(t *testing.T) {
		p := ReadPage(table, [][]any{
			{int64(4), "a", int64(60)},
			{int64(5), "b", int64(70)},
			{int64(6), "c", int64(80)},
		}, 2)
		assert.True(t, p.HasMore)
		require.Len(t, p.Rows, 2)
		assert.Equal(t, int64(70), p.Cursor.LastSeenUpdatedAt)
		require.NotNil(t, p.Cursor.LastSeenID)
		assert.Equal(t, int64(5), *p.Cursor.LastSeenID)
		assert.Equal(t, "h", p.Cursor.PermissionHash)
	})

	t.Run("exact page has no more", func(t *testing.T) {
		p := ReadPage(table, [][]any{{int64(4), "a", int64(60)}, {int64(5), "b", int64(70)}}, 2)
		assert.False(t, p.HasMore)
		assert.Equal(t, int64(70), p.Cursor.LastSeenUpdatedAt)
	})

	t.Run("empty page keeps the cursor", func(t *testing.T) {
		p := ReadPage(table, nil, 2)
		assert.False(t, p.HasMore)
		assert.NotNil(t, p.Rows)
		assert.Equal(t, table.Cursor, p.Cursor)
	})
}

// blog migrates a fresh database to the blog schema and adds two users
// and five posts. User 1 can see posts 1, 3, 4 and 5.
func blog(t *testing.T) (*sql.DB, *schema.Context) {
	t.Helper()
	ctx := context.Background()
	db := testutil.DB(t)
	res, err := migrator.NewMigrator(db, nil).Migrate(ctx, testutil.BlogSchema, migrator.MigrateOptions{})
	require.NoError(t, err)

	f := testutil.NewFixtures(ctx, db)
	users, err := f.CreateUsers(2)
	require.NoError(t, err)
	for _, p := range []struct {
		author    int64
		title     string
		published bool
		updatedAt int64
	}{
		{users[0], "draft", false, 100},
		{users[1], "hidden", false, 100},
		{users[1], "shared", true, 100},
		{users[0], "live", true, 101},
		{users[0], "later", false, 102},
	} {
		_, err := f.CreatePost(p.author, p.title, p.published, p.updatedAt)
		require.NoError(t, err)
	}
	return db, res.Context
}

func pageIDs(p Page) []int64 {
	out := make([]int64, len(p.Rows))
	for i, row := range p.Rows {
		out[i] = row[0].(int64)
	}
	return out
}

func TestStatusSQL(t *testing.T) {
	db, sc := blog(t)
	ctx := context.Background()
	session := map[string]any{"userId": 1}

	stmt, err := StatusSQL(sc, NewCursor(), session)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "UNION ALL")
	assert.Contains(t, stmt.SQL, "$session_userId")

	rows, err := db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	require.NoError(t, err)
	status, err := ReadStatus(rows)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, TableStatus{
		TableName:      "users",
		PermissionHash: sc.TableByName("users").PermissionHash(),
		FullResync:     true,
		HasChanges:     true,
		Layer:          0,
	}, status[0])
	assert.Equal(t, "posts", status[1].TableName)
	assert.True(t, status[1].FullResync)
	assert.True(t, status[1].NeedsSync())

	// A current hash past every row reports nothing to do.
	cursor := NewCursor()
	for _, tbl := range sc.Tables {
		cursor.Tables[tbl.Name] = TableCursor{LastSeenUpdatedAt: 1 << 40, PermissionHash: tbl.PermissionHash()}
	}
	stmt, err = StatusSQL(sc, cursor, session)
	require.NoError(t, err)
	rows, err = db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	require.NoError(t, err)
	status, err = ReadStatus(rows)
	require.NoError(t, err)
	for _, s := range status {
		assert.False(t, s.NeedsSync(), s.TableName)
	}

	plan, err := SyncSQL(sc, status, cursor, session, 10)
	require.NoError(t, err)
	assert.Empty(t, plan.Tables)
}

func TestStatusSQL_MissingSessionField(t *testing.T) {
	_, sc := blog(t)
	_, err := StatusSQL(sc, NewCursor(), map[string]any{})
	require.Error(t, err)
	assert.True(t, schema.IsMissingSessionFieldErr(err))
}

func TestSyncSQL(t *testing.T) {
	_, sc := blog(t)
	posts := sc.TableByName("posts")

	status := []TableStatus{
		{TableName: "posts", PermissionHash: posts.PermissionHash(), HasChanges: true, Layer: posts.Layer},
	}
	id := int64(3)
	cursor := NewCursor()
	cursor.Tables["posts"] = TableCursor{LastSeenUpdatedAt: 100, PermissionHash: posts.PermissionHash(), LastSeenID: &id}

	plan, err := SyncSQL(sc, status, cursor, map[string]any{"userId": 1}, 2)
	require.NoError(t, err)
	require.Len(t, plan.Tables, 1)
	tp := plan.Tables[0]
	assert.Equal(t, "posts", tp.TableName)
	assert.False(t, tp.FullResync)
	assert.Equal(t, "id", tp.PrimaryKey)
	assert.Equal(t, []string{"id", "authorUserId", "title", "published", "createdAt", "updatedAt"}, tp.Headers)
	assert.Contains(t, tp.SQL, "t0.updatedAt > $cursor_updated_at")
	assert.Contains(t, tp.SQL, "$session_userId")
	assert.Contains(t, tp.SQL, "ORDER BY t0.updatedAt ASC, t0.id ASC LIMIT 3")
	assert.Equal(t, cursor.Tables["posts"], tp.Cursor)

	// A stale hash in the status forces a full resync from zero.
	status[0].PermissionHash = "stale"
	plan, err = SyncSQL(sc, status, cursor, map[string]any{"userId": 1}, 2)
	require.NoError(t, err)
	require.Len(t, plan.Tables, 1)
	assert.True(t, plan.Tables[0].FullResync)
	assert.NotContains(t, plan.Tables[0].SQL, "$cursor_updated_at")
	assert.Equal(t, TableCursor{PermissionHash: posts.PermissionHash()}, plan.Tables[0].Cursor)

	_, err = SyncSQL(sc, []TableStatus{{TableName: "missing", HasChanges: true}}, cursor, nil, 2)
	assert.Error(t, err)
}

func TestRun_Pages(t *testing.T) {
	db, sc := blog(t)
	ctx := context.Background()
	session := map[string]any{"userId": 1}

	res, err := Run(ctx, db, sc, NewCursor(), session, 2)
	require.NoError(t, err)
	require.Len(t, res.Pages, 2)
	assert.True(t, res.HasMore)

	users := res.Pages[0]
	assert.Equal(t, "users", users.TableName)
	assert.True(t, users.FullResync)
	assert.False(t, users.HasMore)
	assert.Equal(t, []int64{1, 2}, pageIDs(users))

	posts := res.Pages[1]
	assert.Equal(t, "posts", posts.TableName)
	assert.True(t, posts.HasMore)
	assert.Equal(t, []int64{1, 3}, pageIDs(posts))
	assert.Equal(t, int64(100), res.Cursor.Tables["posts"].LastSeenUpdatedAt)
	assert.Equal(t, int64(3), *res.Cursor.Tables["posts"].LastSeenID)

	// Resume from the returned cursor, through its JSON form.
	data, err := res.Cursor.Encode()
	require.NoError(t, err)
	cursor, err := ParseCursor(data)
	require.NoError(t, err)

	res, err = Run(ctx, db, sc, cursor, session, 2)
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)
	assert.False(t, res.HasMore)
	assert.Equal(t, "posts", res.Pages[0].TableName)
	assert.False(t, res.Pages[0].FullResync)
	assert.Equal(t, []int64{4, 5}, pageIDs(res.Pages[0]))
	assert.Equal(t, int64(102), res.Cursor.Tables["posts"].LastSeenUpdatedAt)

	res, err = Run(ctx, db, sc, res.Cursor, session, 2)
	require.NoError(t, err)
	assert.Empty(t, res.Pages)
	assert.False(t, res.HasMore)
}

func TestRun_PermissionHashMismatch(t *testing.T) {
	db, sc := blog(t)
	ctx := context.Background()

	cursor := NewCursor()
	cursor.Tables["users"] = TableCursor{LastSeenUpdatedAt: 1 << 40, PermissionHash: sc.TableByName("users").PermissionHash()}
	cursor.Tables["posts"] = TableCursor{LastSeenUpdatedAt: 102, PermissionHash: "stale"}

	res, err := Run(ctx, db, sc, cursor, map[string]any{"userId": 1}, 10)
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)
	p := res.Pages[0]
	assert.True(t, p.FullResync)
	assert.Equal(t, []int64{1, 3, 4, 5}, pageIDs(p))
	assert.Equal(t, sc.TableByName("posts").PermissionHash(), res.Cursor.Tables["posts"].PermissionHash)
}

func TestRun_HigherLayersWait(t *testing.T) {
	db, sc := blog(t)
	ctx := context.Background()
	session := map[string]any{"userId": 1}

	res, err := Run(ctx, db, sc, NewCursor(), session, 1)
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)
	assert.Equal(t, "users", res.Pages[0].TableName)
	assert.True(t, res.HasMore)
	_, ok := res.Cursor.Table("posts")
	assert.False(t, ok)

	res, err = Run(ctx, db, sc, res.Cursor, session, 1)
	require.NoError(t, err)
	require.Len(t, res.Pages, 2)
	assert.Equal(t, []int64{2}, pageIDs(res.Pages[0]))
	assert.Equal(t, []int64{1}, pageIDs(res.Pages[1]))
	assert.True(t, res.Pages[1].HasMore)
}
