package loam_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/loam"
	"github.com/pthm/loam/internal/testutil"
	"github.com/pthm/loam/pkg/compiler"
	"github.com/pthm/loam/pkg/delta"
	"github.com/pthm/loam/pkg/migrator"
)

const blogQueries = `
insert CreateUser($name: String, $email: String, $title: String) {
    user {
        name = $name
        email = $email
        posts { title = $title }
        id
        name
    }
}

query Posts {
    post {
        @sort(id, Asc)
        id
        title
        published
    }
}

insert CreateAuthors($first: String, $firstEmail: String, $second: String, $secondEmail: String) {
    first: user {
        name = $first
        email = $firstEmail
        posts { title = $first }
        id
    }
    second: user {
        name = $second
        email = $secondEmail
        posts { title = $second }
        id
    }
}

delete RemovePost($id: Int) {
    post {
        @where { id == $id }
        id
        title
        published
    }
}

update PublishPost($id: Int) {
    post {
        @where { id == $id }
        published = True
        id
        published
    }
}
`

func newRuntime(t *testing.T) (*loam.Runtime, *compiler.Compiled) {
	t.Helper()
	ctx := context.Background()
	rt := loam.New(testutil.DB(t), loam.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_, err := rt.Migrate(ctx, testutil.BlogSchema, migrator.MigrateOptions{})
	require.NoError(t, err)
	compiled, err := rt.Compile(compiler.Source{Name: "blog.loam", Text: testutil.BlogSchema + blogQueries})
	require.NoError(t, err)
	return rt, compiled
}

func session(userID int) map[string]any {
	return map[string]any{"userId": userID}
}

func TestRuntime_NestedInsert(t *testing.T) {
	rt, compiled := newRuntime(t)
	ctx := context.Background()

	resp, err := rt.ExecuteNamed(ctx, compiled, "CreateUser",
		map[string]any{"name": "ada", "email": "ada@example.com", "title": "Hello"},
		session(1))
	require.NoError(t, err)

	assert.JSONEq(t, `{"id": 1, "name": "ada"}`, string(resp.Data["user"]))
	assert.NotContains(t, resp.Data, compiler.AffectedRowsKey)

	require.Len(t, resp.AffectedRows, 2)
	users, posts := resp.AffectedRows[0], resp.AffectedRows[1]
	assert.Equal(t, "users", users.TableName)
	assert.Equal(t, "posts", posts.TableName)
	assert.Equal(t, users.Row["id"], posts.Row["authorUserId"])
	assert.Equal(t, json.Number("0"), posts.Row["published"])

	res, err := rt.Deltas(resp.AffectedRows, []delta.ConnectedSession{
		{SessionID: "s1", Fields: session(1)},
		{SessionID: "s2", Fields: session(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, []delta.Group{
		{SessionIDs: []string{"s1"}, AffectedRowIndices: []int{0, 1}},
		{SessionIDs: []string{"s2"}, AffectedRowIndices: []int{0}},
	}, res.Groups)

	// Only the author can read the draft.
	resp, err = rt.ExecuteNamed(ctx, compiled, "Posts", nil, session(1))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id": 1, "title": "Hello", "published": false}]`, string(resp.Data["post"]))
	assert.Empty(t, resp.AffectedRows)

	resp, err = rt.ExecuteNamed(ctx, compiled, "Posts", nil, session(2))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(resp.Data["post"]))
}

func TestRuntime_InsertDeniedByPermission(t *testing.T) {
	rt, compiled := newRuntime(t)

	// The new user gets id 1, so a session for user 5 may not author its
	// post. The user row is public and still inserted.
	resp, err := rt.ExecuteNamed(context.Background(), compiled, "CreateUser",
		map[string]any{"name": "bob", "email": "bob@example.com", "title": "Nope"},
		session(5))
	require.NoError(t, err)
	require.Len(t, resp.AffectedRows, 1)
	assert.Equal(t, "users", resp.AffectedRows[0].TableName)
}

func TestRuntime_InsertLinksEachChildToItsOwnParent(t *testing.T) {
	// Users 1 and 2 are inserted in one batch. Only the post whose author
	// matches the session survives, and it must carry its own parent's id.
	tests := []struct {
		name   string
		userID int
		title  string
	}{
		{name: "first parent", userID: 1, title: "ada"},
		{name: "second parent", userID: 2, title: "bob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, compiled := newRuntime(t)
			ctx := context.Background()

			resp, err := rt.ExecuteNamed(ctx, compiled, "CreateAuthors", map[string]any{
				"first": "ada", "firstEmail": "ada@example.com",
				"second": "bob", "secondEmail": "bob@example.com",
			}, session(tt.userID))
			require.NoError(t, err)
			assert.JSONEq(t, `{"id": 1}`, string(resp.Data["first"]))
			assert.JSONEq(t, `{"id": 2}`, string(resp.Data["second"]))

			var posts []delta.AffectedRow
			for _, row := range resp.AffectedRows {
				if row.TableName == "posts" {
					posts = append(posts, row)
				}
			}
			require.Len(t, posts, 1)
			assert.Equal(t, json.Number(fmt.Sprint(tt.userID)), posts[0].Row["authorUserId"])
			assert.Equal(t, tt.title, posts[0].Row["title"])

			var author int
			var title string
			require.NoError(t, rt.DB().QueryRowContext(ctx,
				`SELECT "authorUserId", title FROM posts`).Scan(&author, &title))
			assert.Equal(t, tt.userID, author)
			assert.Equal(t, tt.title, title)
		})
	}
}

func TestRuntime_Delete(t *testing.T) {
	rt, compiled := newRuntime(t)
	ctx := context.Background()

	_, err := rt.ExecuteNamed(ctx, compiled, "CreateUser",
		map[string]any{"name": "ada", "email": "ada@example.com", "title": "Hello"}, session(1))
	require.NoError(t, err)

	countPosts := func() int {
		var n int
		require.NoError(t, rt.DB().QueryRowContext(ctx, "SELECT count(*) FROM posts").Scan(&n))
		return n
	}

	// Someone else's post is left alone.
	resp, err := rt.ExecuteNamed(ctx, compiled, "RemovePost", map[string]any{"id": 1}, session(2))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(resp.Data["post"]))
	assert.Empty(t, resp.AffectedRows)
	assert.Equal(t, 1, countPosts())

	// The author's delete reports the row as it was before removal.
	resp, err = rt.ExecuteNamed(ctx, compiled, "RemovePost", map[string]any{"id": 1}, session(1))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id": 1, "title": "Hello", "published": false}]`, string(resp.Data["post"]))
	require.Len(t, resp.AffectedRows, 1)
	assert.Equal(t, "posts", resp.AffectedRows[0].TableName)
	assert.Equal(t, json.Number("1"), resp.AffectedRows[0].Row["id"])
	assert.Equal(t, "Hello", resp.AffectedRows[0].Row["title"])
	assert.Equal(t, 0, countPosts())
}

func TestRuntime_Arguments(t *testing.T) {
	rt, compiled := newRuntime(t)
	ctx := context.Background()

	_, err := rt.ExecuteNamed(ctx, compiled, "CreateUser", map[string]any{"name": "ada", "title": "x"}, session(1))
	assert.True(t, loam.IsMissingArgumentErr(err))

	_, err = rt.ExecuteNamed(ctx, compiled, "CreateUser",
		map[string]any{"name": "ada", "email": "a@example.com", "title": "x", "extra": 1}, session(1))
	assert.True(t, loam.IsInvalidArgumentErr(err))

	_, err = rt.ExecuteNamed(ctx, compiled, "Missing", nil, session(1))
	assert.True(t, loam.IsUnknownOperationErr(err))

	// A failing statement rolls the batch back.
	_, err = rt.ExecuteNamed(ctx, compiled, "CreateUser",
		map[string]any{"name": "ada", "email": "dup@example.com", "title": "a"}, session(1))
	require.NoError(t, err)
	_, err = rt.ExecuteNamed(ctx, compiled, "CreateUser",
		map[string]any{"name": "eve", "email": "dup@example.com", "title": "b"}, session(2))
	require.Error(t, err)

	var count int
	require.NoError(t, rt.DB().QueryRowContext(ctx, "SELECT count(*) FROM users").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRuntime_CatchUp(t *testing.T) {
	rt, compiled := newRuntime(t)
	ctx := context.Background()

	_, err := rt.ExecuteNamed(ctx, compiled, "CreateUser",
		map[string]any{"name": "ada", "email": "ada@example.com", "title": "Hello"}, session(1))
	require.NoError(t, err)

	res, err := rt.CatchUp(ctx, nil, session(2), 0)
	require.NoError(t, err)
	require.Len(t, res.Pages, 2)
	assert.Equal(t, "users", res.Pages[0].TableName)
	assert.Len(t, res.Pages[0].Rows, 1)
	assert.Equal(t, "posts", res.Pages[1].TableName)
	assert.True(t, res.Pages[1].FullResync)
	assert.Empty(t, res.Pages[1].Rows)
	assert.False(t, res.HasMore)

	resp, err := rt.ExecuteNamed(ctx, compiled, "PublishPost", map[string]any{"id": 1}, session(1))
	require.NoError(t, err)
	require.Len(t, resp.AffectedRows, 1)

	deltas, err := rt.Deltas(resp.AffectedRows, []delta.ConnectedSession{{SessionID: "s2", Fields: session(2)}})
	require.NoError(t, err)
	require.Len(t, deltas.Groups, 1)

	res, err = rt.CatchUp(ctx, res.Cursor, session(2), 0)
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)
	assert.Equal(t, "posts", res.Pages[0].TableName)
	assert.False(t, res.Pages[0].FullResync)
	require.Len(t, res.Pages[0].Rows, 1)
	assert.Equal(t, int64(1), res.Pages[0].Rows[0][0])
}

func TestRuntime_Load(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rt := loam.New(db, loam.Options{Logger: logger})
	assert.True(t, loam.IsNotMigratedErr(rt.Load(ctx)))

	_, err := rt.CatchUp(ctx, nil, session(1), 0)
	assert.True(t, loam.IsNoSchemaErr(err))
	_, err = rt.Deltas(
		[]delta.AffectedRow{{TableName: "users", Row: map[string]any{"id": 1}}},
		[]delta.ConnectedSession{{SessionID: "s1"}})
	assert.True(t, loam.IsNoSchemaErr(err))

	_, err = rt.Migrate(ctx, testutil.BlogSchema, migrator.MigrateOptions{})
	require.NoError(t, err)

	restarted := loam.New(db, loam.Options{Logger: logger})
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, rt.Version(), restarted.Version())
	require.NotNil(t, restarted.Schema())
	assert.NotNil(t, restarted.Schema().TableByName("posts"))

	_, err = restarted.Compile(compiler.Source{Name: "other.loam", Text: "record Tag {\n    id Int @id\n}\n"})
	assert.True(t, loam.IsSchemaMismatchErr(err))
}
