package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/loam/pkg/ast"
)

const blogSchema = `// blog schema
session {
    userId Int
    role   Role
}

type Role
    = Admin
    | Member
    | Guest { reason String, until DateTime? }

record User {
    @tablename "users"
    @public
    id        Int      @id
    name      String
    email     String   @unique
    role      Role     @default(Member)
    posts     @link(Post.authorUserId)
}

record Post {
    @watch
    @allow(query) { authorUserId == Session.userId || published == True }
    @allow(insert, update, delete) {
        authorUserId == Session.userId
    }
    id           Int     @id
    authorUserId Int     @index
    title        String
    published    Bool    @default(False)
    author       @link(authorUserId, User.id)
}
`

func TestParseSchemaString(t *testing.T) {
	s, err := ParseSchemaString("blog.loam", blogSchema)
	require.NoError(t, err)

	require.NotNil(t, s.Session)
	require.Len(t, s.Session.Fields, 2)
	assert.Equal(t, "role", s.Session.Fields[1].Name)
	assert.Equal(t, "Role", s.Session.Fields[1].Type.Name)

	require.Len(t, s.Unions, 1)
	role := s.Unions[0]
	require.Len(t, role.Variants, 3)
	assert.Equal(t, "Guest", role.Variants[2].Name)
	require.Len(t, role.Variants[2].Fields, 2)
	assert.True(t, role.Variants[2].Fields[1].Type.Nullable)

	require.Len(t, s.Records, 2)
	user := s.Records[0]
	assert.Equal(t, "users", user.TableName)
	assert.True(t, user.Public)
	require.Len(t, user.Fields, 4)
	assert.True(t, user.Fields[0].ID)
	assert.True(t, user.Fields[2].Unique)
	assert.Equal(t, "Member", user.Fields[3].Default.String())
	require.Len(t, user.Links, 1)
	assert.Equal(t, &ast.Link{
		Pos:           ast.Pos{File: "blog.loam", Line: 19, Column: 5},
		Name:          "posts",
		Target:        "Post",
		ForeignColumn: "authorUserId",
	}, user.Links[0])

	post := s.Records[1]
	assert.True(t, post.Watch)
	require.Len(t, post.Allows, 2)
	assert.Equal(t, []string{"query"}, post.Allows[0].Ops)
	assert.Equal(t, "((authorUserId == Session.userId) || (published == True))", post.Allows[0].Expr.String())
	assert.Equal(t, []string{"insert", "update", "delete"}, post.Allows[1].Ops)
	assert.Equal(t, "(authorUserId == Session.userId)", post.Allows[1].Expr.String())
	assert.Equal(t, "authorUserId", post.Links[0].LocalColumn)
	assert.Equal(t, "User", post.Links[0].Target)
	assert.Equal(t, "id", post.Links[0].ForeignColumn)
}

func TestParseQueriesString(t *testing.T) {
	src := `query ListPosts($authorId: Int, $max: Int?) {
    post {
        @where { authorUserId == $authorId }
        @where { published == True }
        @sort(createdAt, Desc)
        @sort(id)
        @limit($max)
        id
        title
        writer: author { id name }
    }
}

insert CreateUser($name: String, $email: String, $title: String) {
    user {
        name = $name
        email = lower($email)
        role = Guest { reason = "new", until = Null }
        posts { title = $title }
        id
    }
}

delete RemovePost($id: Int) {
    post {
        @where { id == $id }
        id
    }
}
`
	qf, err := ParseQueriesString("q.loam", src)
	require.NoError(t, err)
	require.Len(t, qf.Operations, 3)

	list := qf.Operations[0]
	assert.Equal(t, ast.OpQuery, list.Kind)
	assert.Equal(t, "ListPosts", list.Name)
	require.Len(t, list.Params, 2)
	assert.True(t, list.Params[1].Type.Nullable)

	require.Len(t, list.Fields, 1)
	post := list.Fields[0]
	assert.Equal(t, "post", post.Key())
	assert.Len(t, post.Where, 2)
	require.Len(t, post.Sorts, 2)
	assert.True(t, post.Sorts[0].Desc, "first @sort is the primary key")
	assert.Equal(t, "createdAt", post.Sorts[0].Field)
	assert.False(t, post.Sorts[1].Desc)
	assert.Equal(t, "$max", post.Limit.String())
	require.Len(t, post.Fields, 3)
	writer := post.Fields[2]
	assert.Equal(t, "writer", writer.Key())
	assert.Equal(t, "author", writer.Name)
	assert.True(t, writer.Block)
	assert.Len(t, writer.Fields, 2)

	create := qf.Operations[1]
	assert.Equal(t, ast.OpInsert, create.Kind)
	user := create.Fields[0]
	require.Len(t, user.Assignments, 3)
	assert.Equal(t, "lower($email)", user.Assignments[1].Value.String())
	variant, ok := user.Assignments[2].Value.(*ast.VariantLit)
	require.True(t, ok)
	assert.Equal(t, "Guest", variant.Tag)
	assert.Len(t, variant.Fields, 2)
	require.Len(t, user.Fields, 2)
	assert.Equal(t, "posts", user.Fields[0].Name)
	require.Len(t, user.Fields[0].Assignments, 1)

	assert.Equal(t, ast.OpDelete, qf.Operations[2].Kind)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		line   int
		column int
		msg    string
	}{
		{
			name:   "indented top level",
			src:    "  record User {\n}\n",
			line:   1,
			column: 3,
			msg:    "column 1",
		},
		{
			name:   "missing brace runs into next definition",
			src:    "record User {\n    id Int @id\nrecord Post {\n}\n",
			line:   3,
			column: 1,
			msg:    "inside record User",
		},
		{
			name:   "unknown directive",
			src:    "record User {\n    id Int @primary\n}\n",
			line:   2,
			column: 12,
			msg:    "@primary",
		},
		{
			name:   "unterminated string",
			src:    "record User {\n    @tablename \"users\n}\n",
			line:   2,
			column: 16,
			msg:    "unterminated string",
		},
		{
			name:   "chained comparison",
			src:    "record User {\n    @allow(query) { a == b == c }\n    id Int @id\n}\n",
			line:   2,
			column: 28,
			msg:    "chained",
		},
		{
			name:   "two fields on one line",
			src:    "record User {\n    id Int @id name String\n}\n",
			line:   2,
			column: 16,
			msg:    "end of line",
		},
		{
			name:   "unterminated record",
			src:    "record User {\n    id Int @id\n",
			line:   3,
			column: 1,
			msg:    "missing '}'",
		},
		{
			name:   "unknown sort direction",
			src:    "query Q {\n    user {\n        @sort(id, Down)\n        id\n    }\n}\n",
			line:   3,
			column: 19,
			msg:    "Asc or Desc",
		},
		{
			name:   "field at column 1 in query",
			src:    "query Q {\n    user {\nid\n    }\n}\n",
			line:   3,
			column: 1,
			msg:    "column 1",
		},
		{
			name:   "unexpected character",
			src:    "record User {\n    id Int # nope\n}\n",
			line:   2,
			column: 12,
			msg:    "unexpected character",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFile("bad.loam", tt.src)
			require.Error(t, err)
			assert.Nil(t, f, "no partial tree on error")
			assert.True(t, IsSyntaxErr(err))

			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "bad.loam", perr.File)
			assert.Equal(t, tt.line, perr.Line, perr.Error())
			assert.Equal(t, tt.column, perr.Column, perr.Error())
			assert.Contains(t, perr.Message, tt.msg)
		})
	}
}

func TestParseFileKinds(t *testing.T) {
	_, err := ParseSchemaString("s.loam", "query Q {\n    user { id }\n}\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed in a schema file")

	_, err = ParseQueriesString("q.loam", "record User {\n    id Int @id\n}\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed in a query file")
}

func TestParseCommentsAndBlankLines(t *testing.T) {
	src := "// leading\n\nrecord A { // trailing\n\n    id Int @id // pk\n\n}\n\n// end\n"
	s, err := ParseSchemaString("", src)
	require.NoError(t, err)
	require.Len(t, s.Records, 1)
	assert.Len(t, s.Records[0].Fields, 1)
}

func TestParseDeterministic(t *testing.T) {
	a, err := ParseSchemaString("blog.loam", blogSchema)
	require.NoError(t, err)
	b, err := ParseSchemaString("blog.loam", blogSchema)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
