// Package sqldsl provides a type-safe DSL for building SQLite statements.
//
// # Overview
//
// Rather than constructing SQL strings through concatenation or templating,
// this package provides typed building blocks that compose together to form
// complete statements. Identifiers are quoted only when they collide with a
// keyword or are not plain names, so generated SQL stays readable.
//
// # Core Interfaces
//
// All DSL types implement one of two interfaces:
//
//   - Expr: Represents SQL expressions (columns, literals, operators, function calls)
//   - SQLer: Represents complete SQL statements (SELECT, INSERT, UNION ALL, etc.)
//
// Both interfaces define a SQL() method that renders SQLite syntax.
//
// # Expression Types
//
// Basic expressions:
//
//	Param("authorId")                 // Named bind parameter: $authorId
//	Col{Table: "t0", Column: "id"}    // Column reference: t0.id
//	Lit("Member")                     // String literal: 'Member'
//	Int(42)                           // Integer literal: 42
//	Bool(true)                        // Boolean literal: 1
//	Null{}                            // NULL literal
//	Raw("unixepoch()")                // Raw SQL (escape hatch)
//
// Operators:
//
//	Eq{Left: col, Right: param}       // col = param
//	In{Expr: col, Values: []string}   // col IN ('a', 'b')
//	And(expr1, expr2, expr3)          // (expr1 AND expr2 AND expr3)
//	Or(expr1, expr2)                  // (expr1 OR expr2)
//	Exists{Query: subquery}           // EXISTS (subquery)
//
// JSON shaping:
//
//	JSONObject{Pairs: []JSONPair{{Key: "id", Value: col}}} // json_object('id', t0.id)
//	JSONGroupArray(JSON(Col{Table: "s", Column: "j"}))     // json_group_array(json(s.j))
//	JSONBool(col)                                          // 0/1 column as JSON true/false
//
// # Statement Types
//
//	SelectStmt{Columns: cols, From: TableAs("posts", "t0"), Where: cond, Limit: Int(10)}
//	InsertStmt{Table: "posts", Columns: []string{"title"}, Values: []Expr{Param("title")}}
//	UpdateStmt{Table: "posts", Sets: []SetClause{{Column: "title", Value: Param("title")}}}
//	DeleteStmt{Table: "posts", Where: cond}
//	CreateTableStmt{Name: "posts", Columns: []ColumnDef{...}}
//
// # Design Rationale
//
// Type safety: The compiler catches many errors that would otherwise only
// be found at runtime when executing the generated SQL.
//
// Composition: Complex statements are built from simple parts that can be
// tested and reasoned about independently.
//
// SQL visibility: Unlike heavy ORMs, the DSL stays close to SQL syntax.
// Developers familiar with SQLite can easily read and write DSL code.
package sqldsl
