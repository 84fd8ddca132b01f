// Package parser reads loam schema and query source into an untyped AST.
//
// The grammar is line-oriented at the top level: every definition (record,
// type, session, query, insert, update, delete) starts at column 1, and any
// other token at column 1 is an error. This keeps recovery from a missing
// brace local to the definition that lost it.
//
// # Basic Usage
//
// Parse a schema file:
//
//	s, err := parser.ParseSchema("app.loam")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Parse queries from a string:
//
//	qf, err := parser.ParseQueriesString("queries.loam", src)
//
// Errors are *Error values carrying file, line and column. The parser never
// returns a partial tree together with an error.
//
// The result is unchecked. Pass it to schema.Typecheck and
// schema.ResolveQueries before generating SQL.
package parser

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pthm/loam/pkg/ast"
)

// ParseSchema reads and parses a schema file.
func ParseSchema(path string) (*ast.Schema, error) {
	content, err := os.ReadFile(path) //nolint:gosec // path is from trusted source
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return ParseSchemaString(path, string(content))
}

// ParseSchemaString parses schema source. file is only used for positions.
// Query definitions are rejected; they belong in query files.
func ParseSchemaString(file, content string) (*ast.Schema, error) {
	f, err := ParseFile(file, content)
	if err != nil {
		return nil, err
	}
	if len(f.Queries.Operations) > 0 {
		op := f.Queries.Operations[0]
		return nil, newError(op.Pos, "%s definitions are not allowed in a schema file", op.Kind)
	}
	return f.Schema, nil
}

// ParseQueries reads and parses a query file.
func ParseQueries(path string) (*ast.QueryFile, error) {
	content, err := os.ReadFile(path) //nolint:gosec // path is from trusted source
	if err != nil {
		return nil, fmt.Errorf("reading query file: %w", err)
	}
	return ParseQueriesString(path, string(content))
}

// ParseQueriesString parses query source. Schema definitions are rejected.
func ParseQueriesString(file, content string) (*ast.QueryFile, error) {
	f, err := ParseFile(file, content)
	if err != nil {
		return nil, err
	}
	if pos, kind, ok := firstSchemaDef(f.Schema); ok {
		return nil, newError(pos, "%s definitions are not allowed in a query file", kind)
	}
	return f.Queries, nil
}

// File holds every definition of a source file, schema and queries alike.
type File struct {
	Schema  *ast.Schema
	Queries *ast.QueryFile
}

// ParseFile parses source that may mix schema and query definitions.
func ParseFile(file, content string) (*File, error) {
	toks, err := lex(file, content)
	if err != nil {
		return nil, err
	}
	p := &parser{file: file, toks: toks}
	out := &File{
		Schema:  &ast.Schema{File: file},
		Queries: &ast.QueryFile{File: file},
	}
	if err := p.parseTopLevel(out); err != nil {
		return nil, err
	}
	return out, nil
}

func firstSchemaDef(s *ast.Schema) (ast.Pos, string, bool) {
	var (
		best  ast.Pos
		kind  string
		found bool
	)
	consider := func(pos ast.Pos, k string) {
		if !found || pos.Line < best.Line {
			best, kind, found = pos, k, true
		}
	}
	if s.Session != nil {
		consider(s.Session.Pos, "session")
	}
	for _, r := range s.Records {
		consider(r.Pos, "record")
	}
	for _, u := range s.Unions {
		consider(u.Pos, "type")
	}
	return best, kind, found
}

type parser struct {
	file string
	toks []token
	i    int
	// nested counts open parentheses and predicate braces; newlines are
	// insignificant while it is positive.
	nested int
}

func (p *parser) peek() token {
	if p.nested > 0 {
		for p.toks[p.i].kind == tokNewline {
			p.i++
		}
	}
	return p.toks[p.i]
}

// peekAt looks n tokens past the current one, skipping newlines when nested.
func (p *parser) peekAt(n int) token {
	j := p.i
	for {
		for p.nested > 0 && p.toks[j].kind == tokNewline {
			j++
		}
		if n == 0 || p.toks[j].kind == tokEOF {
			return p.toks[j]
		}
		j++
		n--
	}
}

func (p *parser) next() token {
	t := p.peek()
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) accept(kind tokenKind) bool {
	if p.peek().kind == kind {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		return t, p.unexpected(t, what)
	}
	return p.next(), nil
}

func (p *parser) expectIdent(what string) (token, error) {
	return p.expect(tokIdent, what)
}

func (p *parser) expectKeyword(word string) error {
	t := p.peek()
	if t.kind != tokIdent || t.text != word {
		return p.unexpected(t, strconv.Quote(word))
	}
	p.next()
	return nil
}

func (p *parser) skipNewlines() {
	for p.toks[p.i].kind == tokNewline {
		p.i++
	}
}

// endLine requires the current line to end, or the enclosing block to close.
func (p *parser) endLine() error {
	switch t := p.peek(); t.kind {
	case tokNewline:
		p.next()
		return nil
	case tokRBrace, tokEOF:
		return nil
	default:
		return p.unexpected(t, "end of line")
	}
}

func (p *parser) unexpected(t token, want string) error {
	return newError(t.pos, "unexpected %s, expected %s", t.describe(), want)
}

func (p *parser) errorf(pos ast.Pos, format string, args ...any) error {
	return newError(pos, format, args...)
}

// inBody checks a token found inside a block. Only '}' may sit at column 1.
func (p *parser) inBody(t token, block string) error {
	if t.kind == tokEOF {
		return p.errorf(t.pos, "unterminated %s: missing '}'", block)
	}
	if t.pos.Column == 1 && t.kind != tokRBrace {
		return p.errorf(t.pos, "unexpected %s at column 1 inside %s: top-level definitions must follow a closing '}'", t.describe(), block)
	}
	return nil
}

func (p *parser) parseTopLevel(out *File) error {
	for {
		p.skipNewlines()
		t := p.peek()
		if t.kind == tokEOF {
			return nil
		}
		if t.pos.Column != 1 {
			return p.errorf(t.pos, "top-level definitions must start at column 1")
		}
		if t.kind != tokIdent {
			return p.unexpected(t, "a definition")
		}
		switch t.text {
		case "record":
			r, err := p.parseRecord()
			if err != nil {
				return err
			}
			out.Schema.Records = append(out.Schema.Records, r)
		case "type":
			u, err := p.parseUnion()
			if err != nil {
				return err
			}
			out.Schema.Unions = append(out.Schema.Unions, u)
		case "session":
			if out.Schema.Session != nil {
				return p.errorf(t.pos, "duplicate session block (first declared at %s)", out.Schema.Session.Pos)
			}
			s, err := p.parseSession()
			if err != nil {
				return err
			}
			out.Schema.Session = s
		case "query", "insert", "update", "delete":
			op, err := p.parseOperation()
			if err != nil {
				return err
			}
			out.Queries.Operations = append(out.Queries.Operations, op)
		default:
			return p.errorf(t.pos, "unknown definition %q: expected record, type, session, query, insert, update or delete", t.text)
		}
		if t := p.peek(); t.kind != tokNewline && t.kind != tokEOF {
			return p.unexpected(t, "newline after definition")
		}
	}
}

// parseTypeRef reads `Name` or `Name?`.
func (p *parser) parseTypeRef() (ast.TypeRef, error) {
	t, err := p.expectIdent("a type name")
	if err != nil {
		return ast.TypeRef{}, err
	}
	ref := ast.TypeRef{Pos: t.pos, Name: t.text}
	if p.accept(tokQuestion) {
		ref.Nullable = true
	}
	return ref, nil
}
