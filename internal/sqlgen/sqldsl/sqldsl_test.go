package sqldsl

import (
	"testing"
)

func TestExpr_SQL(t *testing.T) {
	tests := []struct {
		name string
		expr Expr
		want string
	}{
		{"param", Param("authorId"), "$authorId"},
		{"column", Col{Table: "t0", Column: "title"}, "t0.title"},
		{"keyword column is quoted", Col{Table: "t0", Column: "order"}, `t0."order"`},
		{"unqualified column", Col{Column: "published"}, "published"},
		{"literal escapes quotes", Lit("it's"), "'it''s'"},
		{"true", Bool(true), "1"},
		{"false", Bool(false), "0"},
		{"whole float keeps decimal", Float(2), "2.0"},
		{"float", Float(1.5), "1.5"},
		{"null", Null{}, "NULL"},
		{"coalesce", Coalesce(Param("title"), Col{Column: "title"}), "coalesce($title, title)"},
		{"empty and", And(), "1"},
		{"and drops true", And(Bool(true), Eq{Left: Col{Column: "a"}, Right: Int(1)}), "a = 1"},
		{"empty or", Or(), "0"},
		{"or", Or(Eq{Left: Col{Column: "a"}, Right: Int(1)}, IsNull{Expr: Col{Column: "b"}}), "(a = 1 OR b IS NULL)"},
		{"empty in", In{Expr: Col{Column: "k"}, Values: nil}, "0"},
		{"in", In{Expr: Col{Column: "k"}, Values: []string{"a", "b"}}, "k IN ('a', 'b')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.expr.SQL(); got != tt.want {
				t.Errorf("SQL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJSON_SQL(t *testing.T) {
	tests := []struct {
		name string
		expr Expr
		want string
	}{
		{
			name: "object",
			expr: JSONObject{Pairs: []JSONPair{
				{Key: "id", Value: Col{Table: "t0", Column: "id"}},
				{Key: "title", Value: Col{Table: "t0", Column: "title"}},
			}},
			want: "json_object('id', t0.id, 'title', t0.title)",
		},
		{
			name: "group array",
			expr: JSONGroupArray(JSON(Col{Table: "s", Column: "j"})),
			want: "json_group_array(json(s.j))",
		},
		{
			name: "bool",
			expr: JSONBool(Col{Table: "t0", Column: "published"}),
			want: "json(CASE t0.published WHEN 1 THEN 'true' WHEN 0 THEN 'false' END)",
		},
		{
			name: "string array",
			expr: JSONStrings([]string{"id", "title"}),
			want: "json_array('id', 'title')",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.expr.SQL(); got != tt.want {
				t.Errorf("SQL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatements_SQL(t *testing.T) {
	tests := []struct {
		name string
		stmt SQLer
		want string
	}{
		{
			name: "select",
			stmt: SelectStmt{
				Columns: []Expr{Col{Table: "t0", Column: "id"}},
				From:    TableAs("posts", "t0"),
				Where:   Eq{Left: Col{Table: "t0", Column: "authorUserId"}, Right: Param("session_userId")},
				OrderBy: []OrderBy{{Expr: Col{Table: "t0", Column: "createdAt"}, Desc: true}},
				Limit:   Int(10),
			},
			want: "SELECT t0.id FROM posts t0 WHERE t0.authorUserId = $session_userId ORDER BY t0.createdAt DESC LIMIT 10",
		},
		{
			name: "insert values",
			stmt: InsertStmt{Table: "posts", Columns: []string{"title", "published"}, Values: []Expr{Param("title"), Bool(false)}},
			want: "INSERT INTO posts (title, published) VALUES ($title, 0)",
		},
		{
			name: "insert select",
			stmt: InsertStmt{
				Table:   "_loam_ids",
				Columns: []string{"k", "id"},
				Query:   SelectStmt{Columns: []Expr{Lit("post"), LastInsertRowID()}, Where: Eq{Left: Changes(), Right: Int(1)}},
			},
			want: "INSERT INTO _loam_ids (k, id) SELECT 'post', last_insert_rowid() WHERE changes() = 1",
		},
		{
			name: "insert defaults",
			stmt: InsertStmt{Table: "users"},
			want: "INSERT INTO users DEFAULT VALUES",
		},
		{
			name: "update",
			stmt: UpdateStmt{
				Table: "posts",
				Sets:  []SetClause{{Column: "title", Value: Coalesce(Param("title"), Col{Column: "title"})}},
				Where: Eq{Left: Col{Column: "id"}, Right: Param("id")},
			},
			want: "UPDATE posts SET title = coalesce($title, title) WHERE id = $id",
		},
		{
			name: "delete",
			stmt: DeleteStmt{Table: "posts", Where: Eq{Left: Col{Column: "id"}, Right: Int(3)}},
			want: "DELETE FROM posts WHERE id = 3",
		},
		{
			name: "create table",
			stmt: CreateTableStmt{Name: "posts", Columns: []ColumnDef{
				{Name: "id", Type: "INTEGER", PrimaryKey: true, NotNull: true},
				{Name: "authorUserId", Type: "INTEGER", NotNull: true, References: &Reference{Table: "users", Column: "id"}},
				{Name: "published", Type: "INTEGER", NotNull: true, Default: "0"},
			}},
			want: "CREATE TABLE posts (id INTEGER PRIMARY KEY, authorUserId INTEGER NOT NULL REFERENCES users(id), published INTEGER NOT NULL DEFAULT 0)",
		},
		{
			name: "temp table",
			stmt: CreateTableStmt{Name: "_loam_ids", Temp: true, IfNotExists: true, Columns: []ColumnDef{
				{Name: "k", Type: "TEXT", NotNull: true},
			}},
			want: "CREATE TEMP TABLE IF NOT EXISTS _loam_ids (k TEXT NOT NULL)",
		},
		{
			name: "unique index",
			stmt: CreateIndexStmt{Name: "uq_users_email", Table: "users", Columns: []string{"email"}, Unique: true},
			want: "CREATE UNIQUE INDEX uq_users_email ON users (email)",
		},
		{
			name: "add column",
			stmt: AddColumnStmt{Table: "users", Column: ColumnDef{Name: "bio", Type: "TEXT"}},
			want: "ALTER TABLE users ADD COLUMN bio TEXT",
		},
		{
			name: "rename",
			stmt: RenameTableStmt{From: "_loam_new_users", To: "users"},
			want: "ALTER TABLE _loam_new_users RENAME TO users",
		},
		{
			name: "drop table",
			stmt: DropTableStmt{Name: "users", IfExists: true},
			want: "DROP TABLE IF EXISTS users",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stmt.SQL(); got != tt.want {
				t.Errorf("SQL() = %q, want %q", got, tt.want)
			}
		})
	}
}
