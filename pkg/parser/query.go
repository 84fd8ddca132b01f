package parser

import (
	"github.com/pthm/loam/pkg/ast"
)

var opKinds = map[string]ast.OpKind{
	"query":  ast.OpQuery,
	"insert": ast.OpInsert,
	"update": ast.OpUpdate,
	"delete": ast.OpDelete,
}

// parseOperation reads `kind Name($p: T, ...) { selections }`.
func (p *parser) parseOperation() (*ast.Operation, error) {
	kw := p.next()
	name, err := p.expectIdent("an operation name")
	if err != nil {
		return nil, err
	}
	op := &ast.Operation{Pos: kw.pos, Kind: opKinds[kw.text], Name: name.text}
	if p.peek().kind == tokLParen {
		params, err := p.parseParams()
		if err != nil {
			return nil, err
		}
		op.Params = params
	}
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	root := &ast.Selection{Pos: kw.pos, Name: name.text, Block: true}
	if err := p.parseBlock(root, kw.text+" "+name.text); err != nil {
		return nil, err
	}
	if len(root.Where) > 0 || len(root.Sorts) > 0 || root.Limit != nil || len(root.Assignments) > 0 {
		return nil, p.errorf(kw.pos, "directives and assignments belong inside a record selection, not directly in %s %s", kw.text, name.text)
	}
	for _, f := range root.Fields {
		if !f.Block {
			return nil, p.errorf(f.Pos, "top-level field %q needs a selection block", f.Name)
		}
	}
	if len(root.Fields) == 0 {
		return nil, p.errorf(kw.pos, "%s %s selects nothing", kw.text, name.text)
	}
	op.Fields = root.Fields
	return op, nil
}

func (p *parser) parseParams() ([]*ast.Param, error) {
	p.next()
	p.nested++
	defer func() { p.nested-- }()
	var params []*ast.Param
	if p.accept(tokRParen) {
		return params, nil
	}
	for {
		t, err := p.expect(tokParam, "a parameter like $name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokColon, "':' before the parameter type"); err != nil {
			return nil, err
		}
		typ, err := p.parseTypeRef()
		if err != nil {
			return nil, err
		}
		params = append(params, &ast.Param{Pos: t.pos, Name: t.text, Type: typ})
		if p.accept(tokComma) {
			continue
		}
		if _, err := p.expect(tokRParen, "',' or ')'"); err != nil {
			return nil, err
		}
		return params, nil
	}
}

// parseBlock fills sel from the items of a selection block. The opening
// brace has been consumed; newlines inside the block are insignificant.
func (p *parser) parseBlock(sel *ast.Selection, block string) error {
	p.nested++
	defer func() { p.nested-- }()
	for {
		t := p.peek()
		if err := p.inBody(t, block); err != nil {
			return err
		}
		switch t.kind {
		case tokRBrace:
			p.next()
			return nil
		case tokDirective:
			if err := p.parseSelectionDirective(sel); err != nil {
				return err
			}
		case tokIdent:
			if err := p.parseSelectionItem(sel); err != nil {
				return err
			}
		default:
			return p.unexpected(t, "a field, assignment or directive")
		}
	}
}

func (p *parser) parseSelectionDirective(sel *ast.Selection) error {
	d := p.next()
	switch d.text {
	case "where":
		e, err := p.parseBraced()
		if err != nil {
			return err
		}
		sel.Where = append(sel.Where, e)
	case "sort":
		if _, err := p.expect(tokLParen, "'(' after @sort"); err != nil {
			return err
		}
		f, err := p.expectIdent("a field to sort by")
		if err != nil {
			return err
		}
		s := &ast.Sort{Pos: d.pos, Field: f.text}
		if p.accept(tokComma) {
			dir, err := p.expectIdent("Asc or Desc")
			if err != nil {
				return err
			}
			switch dir.text {
			case "Asc":
			case "Desc":
				s.Desc = true
			default:
				return p.errorf(dir.pos, "sort direction must be Asc or Desc, got %q", dir.text)
			}
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return err
		}
		sel.Sorts = append(sel.Sorts, s)
	case "limit":
		if sel.Limit != nil {
			return p.errorf(d.pos, "duplicate @limit")
		}
		if _, err := p.expect(tokLParen, "'(' after @limit"); err != nil {
			return err
		}
		v, err := p.parseOperand()
		if err != nil {
			return err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return err
		}
		sel.Limit = v
	default:
		return p.errorf(d.pos, "unknown selection directive @%s", d.text)
	}
	return nil
}

// parseSelectionItem reads `field`, `alias: field`, `field { ... }` or
// `field = value`.
func (p *parser) parseSelectionItem(sel *ast.Selection) error {
	first := p.next()
	if p.peek().kind == tokAssign {
		p.next()
		v, err := p.parseExpr()
		if err != nil {
			return err
		}
		sel.Assignments = append(sel.Assignments, &ast.Assignment{Pos: first.pos, Field: first.text, Value: v})
		return nil
	}
	item := &ast.Selection{Pos: first.pos, Name: first.text}
	if p.accept(tokColon) {
		name, err := p.expectIdent("the aliased field name")
		if err != nil {
			return err
		}
		item.Alias = first.text
		item.Name = name.text
		if p.peek().kind == tokAssign {
			return p.errorf(first.pos, "an alias cannot be assigned to")
		}
	}
	if p.accept(tokLBrace) {
		item.Block = true
		if err := p.parseBlock(item, item.Name); err != nil {
			return err
		}
	}
	sel.Fields = append(sel.Fields, item)
	return nil
}
