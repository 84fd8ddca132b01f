package sqlgen

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/loam/pkg/parser"
	"github.com/pthm/loam/pkg/schema"
)

const blogSchema = `
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
    posts  @link(Post.authorUserId)
}

record Post {
    @watch
    @allow(query) { authorUserId == Session.userId || published == True }
    @allow(insert, update, delete) { authorUserId == Session.userId }
    id           Int    @id
    authorUserId Int    @index
    title        String
    published    Bool   @default(False)
    author       @link(authorUserId, User.id)
}
`

func compile(t *testing.T, queries string) (*schema.Context, map[string]*schema.Operation) {
	t.Helper()
	ast, err := parser.ParseSchemaString("schema.loam", blogSchema)
	require.NoError(t, err)
	ctx, err := schema.Typecheck(ast)
	require.NoError(t, err)
	qf, err := parser.ParseQueriesString("queries.loam", queries)
	require.NoError(t, err)
	ops, err := schema.ResolveQueries(ctx, qf)
	require.NoError(t, err)
	byName := make(map[string]*schema.Operation)
	for _, op := range ops {
		byName[op.Name] = op
	}
	return ctx, byName
}

func roles(stmts []Statement) []Role {
	out := make([]Role, len(stmts))
	for i, s := range stmts {
		out[i] = s.Role
	}
	return out
}

func TestGenerateQuery(t *testing.T) {
	ctx, ops := compile(t, `
query ListPosts($authorId: Int) {
    post {
        @where { authorUserId == $authorId }
        @sort(createdAt, Desc)
        @limit(10)
        id
        title
        published
        writer: author { id name role }
    }
}
`)
	stmts, err := Generate(ctx, ops["ListPosts"])
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	s := stmts[0]
	assert.Equal(t, RoleResponse, s.Role)
	assert.True(t, s.IncludeInResponse)
	assert.Equal(t, "post", s.Key)
	assert.ElementsMatch(t, []string{"authorId", "session_userId"}, s.Params)

	for _, want := range []string{
		"json_group_array(json(",
		"AS post",
		"FROM posts t0",
		"t0.authorUserId = $authorId",
		// query permission folded into the WHERE clause
		"(t0.authorUserId = $session_userId OR t0.published = 1)",
		"ORDER BY t0.createdAt DESC LIMIT 10",
		"'published', json(CASE t0.published WHEN 1 THEN 'true' WHEN 0 THEN 'false' END)",
		"'writer', json((SELECT json_object(",
		"t1.id = t0.authorUserId",
		"CASE t1.role WHEN 'Admin' THEN json_object('tag', 'Admin')",
		"t1.role__reason",
	} {
		assert.Contains(t, s.SQL, want)
	}
}

func TestGenerateQuery_NestedList(t *testing.T) {
	ctx, ops := compile(t, `
query Authors {
    user {
        name
        posts {
            @sort(title)
            @limit(3)
            title
        }
    }
}
`)
	stmts, err := Generate(ctx, ops["Authors"])
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	sql := stmts[0].SQL
	assert.Contains(t, sql, "'posts', json((SELECT json_group_array(json(")
	assert.Contains(t, sql, "t1.authorUserId = t0.id")
	assert.Contains(t, sql, "ORDER BY t1.title ASC LIMIT 3")
	// users is @public, posts carries its own rule
	assert.Contains(t, sql, "t1.authorUserId = $session_userId OR t1.published = 1")
	assert.Equal(t, []string{"session_userId"}, stmts[0].Params)
}

func TestGenerateInsert_Nested(t *testing.T) {
	ctx, ops := compile(t, `
insert CreateUser($name: String, $email: String, $title: String) {
    user {
        name = $name
        email = $email
        posts { title = $title }
        id
        name
    }
}
`)
	stmts, err := Generate(ctx, ops["CreateUser"])
	require.NoError(t, err)

	assert.Equal(t, []Role{
		RoleSetup, RoleSetup,
		RoleDML, RoleDML, // users row + capture
		RoleDML, RoleDML, // posts row + capture
		RoleResponse,
		RoleAffectedRows,
	}, roles(stmts))

	assert.Equal(t, "CREATE TEMP TABLE IF NOT EXISTS _loam_ids (k TEXT NOT NULL, id INTEGER NOT NULL)", stmts[0].SQL)
	assert.Equal(t, "DELETE FROM _loam_ids", stmts[1].SQL)

	// role is left to its column default
	assert.Equal(t, "INSERT INTO users (name, email) VALUES ($name, $email)", stmts[2].SQL)
	assert.Equal(t, "INSERT INTO _loam_ids (k, id) SELECT 'user', last_insert_rowid() WHERE changes() = 1", stmts[3].SQL)

	// The post references the captured user and is gated by the insert rule.
	post := stmts[4].SQL
	assert.True(t, strings.HasPrefix(post, "INSERT INTO posts (authorUserId, title) SELECT (SELECT id FROM _loam_ids WHERE k = 'user'), $title WHERE"), post)
	assert.Contains(t, post, "(SELECT id FROM _loam_ids WHERE k = 'user') = $session_userId")
	assert.Equal(t, "INSERT INTO _loam_ids (k, id) SELECT 'user.posts', last_insert_rowid() WHERE changes() = 1", stmts[5].SQL)

	resp := stmts[6]
	assert.Equal(t, "user", resp.Key)
	assert.Contains(t, resp.SQL, "rowid IN (SELECT id FROM _loam_ids WHERE k = 'user')")

	affected := stmts[7]
	assert.Equal(t, AffectedRowsKey, affected.Key)
	assert.True(t, affected.IncludeInResponse)
	usersAt := strings.Index(affected.SQL, "'table_name', 'users'")
	postsAt := strings.Index(affected.SQL, "'table_name', 'posts'")
	require.NotEqual(t, -1, usersAt)
	require.NotEqual(t, -1, postsAt)
	assert.Less(t, usersAt, postsAt, "groups follow sync order")
	assert.Contains(t, affected.SQL, "json_array('id', 'authorUserId', 'title', 'published', 'createdAt', 'updatedAt')")
}

func TestGenerateInsert_ManyToOneFirst(t *testing.T) {
	ctx, ops := compile(t, `
insert CreatePostWithAuthor($name: String, $email: String, $title: String) {
    post {
        title = $title
        author {
            name = $name
            email = $email
        }
        id
    }
}
`)
	stmts, err := Generate(ctx, ops["CreatePostWithAuthor"])
	require.NoError(t, err)

	var inserts []string
	for _, s := range stmts {
		if s.Role == RoleDML && !strings.HasPrefix(s.SQL, "INSERT INTO _loam_ids") {
			inserts = append(inserts, s.SQL)
		}
	}
	require.Len(t, inserts, 2)
	assert.True(t, strings.HasPrefix(inserts[0], "INSERT INTO users "), inserts[0])
	assert.True(t, strings.HasPrefix(inserts[1], "INSERT INTO posts (authorUserId, title)"), inserts[1])
	assert.Contains(t, inserts[1], "(SELECT id FROM _loam_ids WHERE k = 'post.author')")
}

func TestGenerateInsert_UnionParam(t *testing.T) {
	ctx, ops := compile(t, `
insert Invite($name: String, $email: String, $role: Role) {
    user {
        name = $name
        email = $email
        role = $role
        id
    }
}
`)
	stmts, err := Generate(ctx, ops["Invite"])
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (name, email, role, role__reason, role__until) VALUES ($name, $email, $role, $role__reason, $role__until)", stmts[2].SQL)
	assert.Equal(t, []string{"name", "email", "role", "role__reason", "role__until"}, stmts[2].Params)
}

func TestGenerateUpdate(t *testing.T) {
	ctx, ops := compile(t, `
update PublishPost($id: Int, $title: String?) {
    post {
        @where { id == $id }
        published = True
        title = $title
        id
        published
    }
}
`)
	stmts, err := Generate(ctx, ops["PublishPost"])
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleSetup, RoleSetup, RoleDML, RoleDML, RoleResponse, RoleAffectedRows}, roles(stmts))

	capture := stmts[2].SQL
	assert.True(t, strings.HasPrefix(capture, "INSERT INTO _loam_ids (k, id) SELECT 'post', t0.rowid FROM posts t0 WHERE"), capture)
	assert.Contains(t, capture, "t0.id = $id")
	assert.Contains(t, capture, "t0.authorUserId = $session_userId")

	assert.Equal(t,
		"UPDATE posts SET published = 1, title = coalesce($title, title), updatedAt = unixepoch() WHERE rowid IN (SELECT id FROM _loam_ids WHERE k = 'post')",
		stmts[3].SQL)
	assert.Contains(t, stmts[4].SQL, "AS post")
}

func TestGenerateDelete(t *testing.T) {
	ctx, ops := compile(t, `
delete RemovePost($id: Int) {
    post {
        @where { id == $id }
        id
        title
    }
}
`)
	stmts, err := Generate(ctx, ops["RemovePost"])
	require.NoError(t, err)
	assert.Equal(t, []Role{
		RoleSetup, RoleSetup, RoleSetup, RoleSetup,
		RoleDML,          // capture
		RoleDML, RoleDML, // snapshots
		RoleDML, // delete
		RoleResponse,
		RoleAffectedRows,
	}, roles(stmts))

	assert.True(t, strings.HasPrefix(stmts[5].SQL, "INSERT INTO _loam_snapshots (k, body) SELECT 'response:post', (SELECT json_group_array("), stmts[5].SQL)
	assert.True(t, strings.HasPrefix(stmts[6].SQL, "INSERT INTO _loam_snapshots (k, body) SELECT 'affected', ("), stmts[6].SQL)
	assert.Equal(t, "DELETE FROM posts WHERE rowid IN (SELECT id FROM _loam_ids WHERE k = 'post')", stmts[7].SQL)
	assert.Equal(t, "SELECT (SELECT body FROM _loam_snapshots WHERE k = 'response:post') AS post", stmts[8].SQL)
	assert.Equal(t, "SELECT (SELECT body FROM _loam_snapshots WHERE k = 'affected') AS _affectedRows", stmts[9].SQL)
}

func TestGenerate_Unsupported(t *testing.T) {
	ctx, ops := compile(t, `
update RenameAuthorPosts($id: Int, $name: String) {
    user {
        @where { id == $id }
        name = $name
        posts { title = $name }
        id
    }
}

insert SortedInsert($name: String, $email: String) {
    user {
        @sort(name)
        name = $name
        email = $email
    }
}
`)
	for _, name := range []string{"RenameAuthorPosts", "SortedInsert"} {
		t.Run(name, func(t *testing.T) {
			_, err := Generate(ctx, ops[name])
			require.Error(t, err)
			assert.True(t, IsUnsupportedErr(err))
			var genErr *GenError
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, name, genErr.Operation)
		})
	}
}

func TestBindNames(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{"none", "SELECT 1", nil},
		{"dedupes in order", "SELECT $b, $a, $b", []string{"b", "a"}},
		{"skips literals", "SELECT '$x', $y", []string{"y"}},
		{"skips quoted identifiers", `SELECT "$x", $session_userId`, []string{"session_userId"}},
		{"bare dollar", "SELECT '$' || $1x", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bindNames(tt.sql))
		})
	}
}

func TestStatementJSON(t *testing.T) {
	s := responseStatement(RoleAffectedRows, AffectedRowsKey, "SELECT json_array() AS _affectedRows")
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sql":"SELECT json_array() AS _affectedRows","include_in_response":true,"role":"affected_rows","key":"_affectedRows"}`, string(data))

	var back Statement
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s, back)
}
