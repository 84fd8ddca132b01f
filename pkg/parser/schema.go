package parser

import (
	"unicode"
	"unicode/utf8"

	"github.com/pthm/loam/pkg/ast"
)

func (p *parser) parseRecord() (*ast.Record, error) {
	kw := p.next()
	name, err := p.expectIdent("a record name")
	if err != nil {
		return nil, err
	}
	if !isUpper(name.text) {
		return nil, p.errorf(name.pos, "record name %q must start with an uppercase letter", name.text)
	}
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	r := &ast.Record{Pos: kw.pos, Name: name.text}
	block := "record " + name.text
	for {
		p.skipNewlines()
		t := p.peek()
		if err := p.inBody(t, block); err != nil {
			return nil, err
		}
		switch t.kind {
		case tokRBrace:
			p.next()
			return r, nil
		case tokDirective:
			if err := p.parseRecordDirective(r); err != nil {
				return nil, err
			}
		case tokIdent:
			if err := p.parseRecordMember(r); err != nil {
				return nil, err
			}
		default:
			return nil, p.unexpected(t, "a field or directive")
		}
		if err := p.endLine(); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseRecordDirective(r *ast.Record) error {
	d := p.next()
	switch d.text {
	case "tablename":
		s, err := p.expect(tokString, "a quoted table name")
		if err != nil {
			return err
		}
		if r.TableName != "" {
			return p.errorf(d.pos, "duplicate @tablename")
		}
		if s.text == "" {
			return p.errorf(s.pos, "@tablename must not be empty")
		}
		r.TableName = s.text
	case "public":
		r.Public = true
		r.PublicPos = d.pos
	case "watch":
		r.Watch = true
	case "allow":
		a, err := p.parseAllow(d.pos)
		if err != nil {
			return err
		}
		r.Allows = append(r.Allows, a)
	default:
		return p.errorf(d.pos, "unknown record directive @%s", d.text)
	}
	return nil
}

// parseAllow reads `(ops) { predicate }` after @allow.
func (p *parser) parseAllow(pos ast.Pos) (*ast.Allow, error) {
	if _, err := p.expect(tokLParen, "'(' after @allow"); err != nil {
		return nil, err
	}
	p.nested++
	a := &ast.Allow{Pos: pos}
	for {
		t := p.next()
		switch t.kind {
		case tokStar:
			a.Ops = append(a.Ops, "*")
		case tokIdent:
			a.Ops = append(a.Ops, t.text)
		default:
			p.nested--
			return nil, p.unexpected(t, "an operation (query, insert, update, delete or *)")
		}
		if p.accept(tokComma) {
			continue
		}
		break
	}
	p.nested--
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	expr, err := p.parseBraced()
	if err != nil {
		return nil, err
	}
	a.Expr = expr
	return a, nil
}

// parseRecordMember reads a column or a link line.
func (p *parser) parseRecordMember(r *ast.Record) error {
	name := p.next()
	if t := p.peek(); t.kind == tokDirective && t.text == "link" {
		p.next()
		l, err := p.parseLink(name)
		if err != nil {
			return err
		}
		r.Links = append(r.Links, l)
		return nil
	}
	typ, err := p.parseTypeRef()
	if err != nil {
		return err
	}
	f := &ast.Field{Pos: name.pos, Name: name.text, Type: typ}
	for p.peek().kind == tokDirective {
		d := p.next()
		switch d.text {
		case "id":
			f.ID = true
		case "unique":
			f.Unique = true
		case "index":
			f.Index = true
		case "default":
			if f.Default != nil {
				return p.errorf(d.pos, "duplicate @default on %s", f.Name)
			}
			if _, err := p.expect(tokLParen, "'(' after @default"); err != nil {
				return err
			}
			p.nested++
			v, err := p.parseExpr()
			p.nested--
			if err != nil {
				return err
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return err
			}
			f.Default = v
		case "link":
			return p.errorf(d.pos, "@link replaces the type: write `%s @link(...)`", f.Name)
		default:
			return p.errorf(d.pos, "unknown field directive @%s", d.text)
		}
	}
	r.Fields = append(r.Fields, f)
	return nil
}

// parseLink reads `(local, Target.foreign)` or `(Target.foreign)`.
func (p *parser) parseLink(name token) (*ast.Link, error) {
	if _, err := p.expect(tokLParen, "'(' after @link"); err != nil {
		return nil, err
	}
	p.nested++
	defer func() { p.nested-- }()
	first, err := p.expectIdent("a column or record name")
	if err != nil {
		return nil, err
	}
	l := &ast.Link{Pos: name.pos, Name: name.text}
	if p.accept(tokComma) {
		l.LocalColumn = first.text
		target, err := p.expectIdent("a record name")
		if err != nil {
			return nil, err
		}
		l.Target = target.text
	} else {
		l.Target = first.text
	}
	if _, err := p.expect(tokDot, "'.' between record and column"); err != nil {
		return nil, err
	}
	foreign, err := p.expectIdent("a column name")
	if err != nil {
		return nil, err
	}
	l.ForeignColumn = foreign.text
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return l, nil
}

// parseUnion reads `type Name = A | B { f T }`, variants may continue on
// following indented lines.
func (p *parser) parseUnion() (*ast.Union, error) {
	kw := p.next()
	name, err := p.expectIdent("a type name")
	if err != nil {
		return nil, err
	}
	if !isUpper(name.text) {
		return nil, p.errorf(name.pos, "type name %q must start with an uppercase letter", name.text)
	}
	u := &ast.Union{Pos: kw.pos, Name: name.text}
	if err := p.continuation(tokAssign, "type "+name.text); err != nil {
		return nil, err
	}
	for {
		v, err := p.parseVariant()
		if err != nil {
			return nil, err
		}
		u.Variants = append(u.Variants, v)
		if !p.continues(tokPipe) {
			return u, nil
		}
		if err := p.continuation(tokPipe, "type "+name.text); err != nil {
			return nil, err
		}
	}
}

// continues reports whether the next non-newline token has the given kind.
func (p *parser) continues(kind tokenKind) bool {
	j := p.i
	for p.toks[j].kind == tokNewline {
		j++
	}
	return p.toks[j].kind == kind
}

// continuation consumes a token that may start an indented follow-up line.
func (p *parser) continuation(kind tokenKind, block string) error {
	p.skipNewlines()
	t := p.peek()
	if t.kind != kind {
		return p.unexpected(t, kind.String())
	}
	if t.pos.Column == 1 {
		return p.errorf(t.pos, "continuation of %s must be indented", block)
	}
	p.next()
	return nil
}

func (p *parser) parseVariant() (*ast.Variant, error) {
	name, err := p.expectIdent("a variant name")
	if err != nil {
		return nil, err
	}
	if !isUpper(name.text) {
		return nil, p.errorf(name.pos, "variant name %q must start with an uppercase letter", name.text)
	}
	v := &ast.Variant{Pos: name.pos, Name: name.text}
	if p.peek().kind != tokLBrace {
		return v, nil
	}
	p.next()
	p.nested++
	defer func() { p.nested-- }()
	for {
		if p.accept(tokRBrace) {
			if len(v.Fields) == 0 {
				return nil, p.errorf(name.pos, "variant %s has an empty field list; drop the braces", name.text)
			}
			return v, nil
		}
		fname, err := p.expectIdent("a variant field name")
		if err != nil {
			return nil, err
		}
		typ, err := p.parseTypeRef()
		if err != nil {
			return nil, err
		}
		v.Fields = append(v.Fields, &ast.Field{Pos: fname.pos, Name: fname.text, Type: typ})
		if !p.accept(tokComma) && p.peek().kind != tokRBrace {
			return nil, p.unexpected(p.peek(), "',' or '}'")
		}
	}
}

func (p *parser) parseSession() (*ast.Session, error) {
	kw := p.next()
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	s := &ast.Session{Pos: kw.pos}
	for {
		p.skipNewlines()
		t := p.peek()
		if err := p.inBody(t, "session"); err != nil {
			return nil, err
		}
		if t.kind == tokRBrace {
			p.next()
			return s, nil
		}
		name, err := p.expectIdent("a session field name")
		if err != nil {
			return nil, err
		}
		typ, err := p.parseTypeRef()
		if err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, &ast.Field{Pos: name.pos, Name: name.text, Type: typ})
		if err := p.endLine(); err != nil {
			return nil, err
		}
	}
}

func isUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}
