package compiler

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/loam/pkg/parser"
	"github.com/pthm/loam/pkg/schema"
)

const testSchema = `
session {
    userId Int
}

type Role
    = Admin
    | Member
    | Guest { reason String, until DateTime? }

record User {
    @tablename "users"
    @public
    id     Int    @id
    name   String
    email  String @unique
    role   Role   @default(Member)
    meta   JSON?
    posts  @link(Post.authorUserId)
}

record Post {
    @allow(query) { authorUserId == Session.userId || published == True }
    @allow(insert, update, delete) { authorUserId == Session.userId }
    id           Int    @id
    authorUserId Int    @index
    title        String
    published    Bool   @default(False)
    author       @link(authorUserId, User.id)
}
`

const testQueries = `
query ListPosts($authorId: Int) {
    post {
        @where { authorUserId == $authorId }
        id
        title
    }
}

insert CreateUser($name: String, $email: String, $role: Role, $meta: JSON?) {
    user {
        name = $name
        email = $email
        role = $role
        meta = $meta
        id
    }
}

update Rename($id: Int, $name: String?) {
    user {
        @where { id == $id }
        name = $name
        id
    }
}

update Publish($id: Int, $published: Bool) {
    post {
        @where { id == $id }
        published = $published
        id
    }
}
`

func compileTest(t *testing.T) *Compiled {
	t.Helper()
	c, err := Compile([]Source{
		{Name: "schema.loam", Text: testSchema},
		{Name: "queries.loam", Text: testQueries},
	})
	require.NoError(t, err)
	return c
}

func TestCompile(t *testing.T) {
	c := compileTest(t)

	require.Len(t, c.Context.Tables, 2)
	require.Len(t, c.Batches, 4)
	assert.Equal(t, []string{"ListPosts", "CreateUser", "Rename", "Publish"}, batchNames(c.Batches))

	list := c.Batch("ListPosts")
	require.NotNil(t, list)
	assert.False(t, list.Mutation())
	assert.Equal(t, "query", list.Kind)
	assert.Equal(t, []ParamInfo{{Name: "authorId", Type: "Int"}}, list.Params)
	require.Len(t, list.Statements, 1)
	assert.Equal(t, RoleResponse, list.Statements[0].Role)

	create := c.Batch("CreateUser")
	require.NotNil(t, create)
	assert.True(t, create.Mutation())
	last := create.Statements[len(create.Statements)-1]
	assert.Equal(t, RoleAffectedRows, last.Role)
	assert.Equal(t, AffectedRowsKey, last.Key)

	assert.Nil(t, c.Batch("Missing"))
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		sources []Source
		check   func(t *testing.T, err error)
	}{
		{
			name:    "syntax",
			sources: []Source{{Name: "bad.loam", Text: "record {"}},
			check: func(t *testing.T, err error) {
				assert.True(t, parser.IsSyntaxErr(err))
			},
		},
		{
			name: "type",
			sources: []Source{{Name: "bad.loam", Text: `
record Post {
    id    Int @id
    owner Missing
}
`}},
			check: func(t *testing.T, err error) {
				assert.True(t, schema.IsInvalidSchemaErr(err))
			},
		},
		{
			name: "unsupported",
			sources: []Source{
				{Name: "schema.loam", Text: testSchema},
				{Name: "q.loam", Text: `
insert Sorted($name: String, $email: String) {
    user {
        @sort(name)
        name = $name
        email = $email
        id
    }
}
`},
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsUnsupportedErr(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.sources)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestCompileSchema(t *testing.T) {
	ctx, err := CompileSchema(Source{Name: "schema.loam", Text: testSchema})
	require.NoError(t, err)
	assert.NotNil(t, ctx.Table("User"))

	_, err = CompileSchema(Source{Name: "q.loam", Text: testQueries})
	require.Error(t, err)
	assert.True(t, parser.IsSyntaxErr(err))
}

func TestBind(t *testing.T) {
	c := compileTest(t)

	t.Run("union tag and JSON", func(t *testing.T) {
		b, err := c.Batch("CreateUser").Bind(map[string]any{
			"name":  "Ada",
			"email": "ada@example.com",
			"role":  "Admin",
			"meta":  map[string]any{"theme": "dark"},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Ada", b["name"])
		assert.Equal(t, "Admin", b["role"])
		assert.Nil(t, b["role__reason"])
		assert.Nil(t, b["role__until"])
		assert.Equal(t, `{"theme":"dark"}`, b["meta"])
	})

	t.Run("union object", func(t *testing.T) {
		until := time.Unix(1700000000, 0)
		b, err := c.Batch("CreateUser").Bind(map[string]any{
			"name":  "Ada",
			"email": "ada@example.com",
			"role":  map[string]any{"tag": "Guest", "reason": "trial", "until": until},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Guest", b["role"])
		assert.Equal(t, "trial", b["role__reason"])
		assert.Equal(t, int64(1700000000), b["role__until"])
		assert.Nil(t, b["meta"])
	})

	t.Run("bool and session", func(t *testing.T) {
		b, err := c.Batch("Publish").Bind(map[string]any{"id": 3, "published": true},
			map[string]any{"userId": json.Number("7")})
		require.NoError(t, err)
		assert.Equal(t, int64(3), b["id"])
		assert.Equal(t, int64(1), b["published"])
		assert.Equal(t, int64(7), b["session_userId"])
	})

	t.Run("nullable param", func(t *testing.T) {
		b, err := c.Batch("Rename").Bind(map[string]any{"id": 1}, nil)
		require.NoError(t, err)
		v, ok := b["name"]
		assert.True(t, ok)
		assert.Nil(t, v)
	})

	errs := []struct {
		name    string
		batch   string
		args    map[string]any
		session map[string]any
		check   func(error) bool
	}{
		{"missing", "ListPosts", nil, map[string]any{"userId": 1}, IsMissingArgumentErr},
		{"unknown", "ListPosts", map[string]any{"authorId": 1, "x": 1}, map[string]any{"userId": 1}, IsInvalidArgumentErr},
		{"wrong type", "ListPosts", map[string]any{"authorId": "one"}, map[string]any{"userId": 1}, IsInvalidArgumentErr},
		{"fractional int", "ListPosts", map[string]any{"authorId": 1.5}, map[string]any{"userId": 1}, IsInvalidArgumentErr},
		{"missing session", "ListPosts", map[string]any{"authorId": 1}, nil, schema.IsMissingSessionFieldErr},
		{"bad variant", "CreateUser", map[string]any{"name": "a", "email": "b", "role": "Owner"}, nil, IsInvalidArgumentErr},
		{"missing variant field", "CreateUser", map[string]any{"name": "a", "email": "b", "role": map[string]any{"tag": "Guest"}}, nil, IsMissingArgumentErr},
		{"extra variant field", "CreateUser", map[string]any{"name": "a", "email": "b", "role": map[string]any{"tag": "Admin", "reason": "x"}}, nil, IsInvalidArgumentErr},
	}
	for _, tt := range errs {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Batch(tt.batch).Bind(tt.args, tt.session)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestBindings_Args(t *testing.T) {
	b := Bindings{"id": int64(1), "session_userId": int64(2)}
	args := b.Args(Statement{Params: []string{"id", "session_userId"}})
	assert.Equal(t, []any{sql.Named("id", int64(1)), sql.Named("session_userId", int64(2))}, args)
}

func TestExport(t *testing.T) {
	c := compileTest(t)
	e := c.Export()

	require.Len(t, e.Schema.Tables, 2)
	users := e.Schema.Tables[0]
	assert.Equal(t, "users", users.Name)
	assert.Equal(t, 0, users.Layer)
	assert.True(t, users.Public)
	assert.Nil(t, users.Permissions)
	assert.Contains(t, users.Headers, "role__reason")

	posts := e.Schema.Tables[1]
	assert.Equal(t, 1, posts.Layer)
	assert.Contains(t, posts.Permissions["query"], "session.userId")
	assert.Len(t, posts.Permissions, 4)
	assert.NotEmpty(t, posts.PermissionHash)

	require.Len(t, e.Schema.Unions, 1)
	assert.Equal(t, "Role", e.Schema.Unions[0].Name)
	assert.Equal(t, []FieldIR{{Name: "userId", Type: "Int"}}, e.Schema.Session)

	data, err := json.Marshal(e)
	require.NoError(t, err)
	var round map[string]any
	require.NoError(t, json.Unmarshal(data, &round))
	ops := round["operations"].([]any)
	require.Len(t, ops, 4)
	first := ops[0].(map[string]any)
	assert.Equal(t, "ListPosts", first["name"])
	stmts := first["statements"].([]any)
	assert.Equal(t, "response", stmts[0].(map[string]any)["role"])
}

func batchNames(bs []*Batch) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Name
	}
	return out
}
