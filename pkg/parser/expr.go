package parser

import (
	"strconv"

	"github.com/pthm/loam/pkg/ast"
)

var comparisonOps = map[tokenKind]ast.BinaryOp{
	tokEq:  ast.OpEq,
	tokNe:  ast.OpNe,
	tokLt:  ast.OpLt,
	tokLte: ast.OpLte,
	tokGt:  ast.OpGt,
	tokGte: ast.OpGte,
}

// parseBraced reads `{ expr }`; newlines inside the braces are ignored.
func (p *parser) parseBraced() (ast.Expr, error) {
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	p.nested++
	e, err := p.parseExpr()
	if err != nil {
		p.nested--
		return nil, err
	}
	_, err = p.expect(tokRBrace, "'}'")
	p.nested--
	if err != nil {
		return nil, err
	}
	return e, nil
}

// parseExpr parses `||` chains of `&&` chains of single comparisons.
// Comparisons do not chain: `a == b == c` is an error.
func (p *parser) parseExpr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		op := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Pos: op.pos, Op: ast.OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		op := p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Pos: op.pos, Op: ast.OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	op, ok := comparisonOps[p.peek().kind]
	if !ok {
		return left, nil
	}
	opTok := p.next()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if _, chained := comparisonOps[p.peek().kind]; chained {
		return nil, p.errorf(p.peek().pos, "comparisons cannot be chained; use && to combine them")
	}
	return &ast.Binary{Pos: opTok.pos, Op: op, Left: left, Right: right}, nil
}

func (p *parser) parseOperand() (ast.Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.next()
		p.nested++
		e, err := p.parseExpr()
		if err != nil {
			p.nested--
			return nil, err
		}
		_, err = p.expect(tokRParen, "')'")
		p.nested--
		if err != nil {
			return nil, err
		}
		return e, nil
	case tokParam:
		p.next()
		return &ast.ParamRef{Pos: t.pos, Name: t.text}, nil
	case tokInt:
		p.next()
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, p.errorf(t.pos, "integer literal %s out of range", t.text)
		}
		return &ast.IntLit{Pos: t.pos, Value: v}, nil
	case tokFloat:
		p.next()
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t.pos, "invalid float literal %s", t.text)
		}
		return &ast.FloatLit{Pos: t.pos, Value: v}, nil
	case tokString:
		p.next()
		return &ast.StringLit{Pos: t.pos, Value: t.text}, nil
	case tokIdent:
		return p.parseIdentOperand()
	}
	return nil, p.unexpected(t, "a value")
}

func (p *parser) parseIdentOperand() (ast.Expr, error) {
	t := p.next()
	switch t.text {
	case "True":
		return &ast.BoolLit{Pos: t.pos, Value: true}, nil
	case "False":
		return &ast.BoolLit{Pos: t.pos, Value: false}, nil
	case "Null":
		return &ast.NullLit{Pos: t.pos}, nil
	case "Session":
		if p.peek().kind == tokDot {
			p.next()
			f, err := p.expectIdent("a session field name")
			if err != nil {
				return nil, err
			}
			return &ast.SessionRef{Pos: t.pos, Field: f.text}, nil
		}
	}
	switch p.peek().kind {
	case tokLParen:
		return p.parseCall(t)
	case tokLBrace:
		if isUpper(t.text) {
			return p.parseVariantLit(t)
		}
	case tokDot:
		return nil, p.errorf(p.peek().pos, "only Session fields can be accessed with '.'")
	}
	return &ast.Ident{Pos: t.pos, Name: t.text}, nil
}

func (p *parser) parseCall(name token) (ast.Expr, error) {
	p.next()
	p.nested++
	defer func() { p.nested-- }()
	c := &ast.Call{Pos: name.pos, Func: name.text}
	if p.accept(tokRParen) {
		return c, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Args = append(c.Args, arg)
		if p.accept(tokComma) {
			continue
		}
		if _, err := p.expect(tokRParen, "',' or ')'"); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// parseVariantLit reads `Tag { field = value, ... }`.
func (p *parser) parseVariantLit(tag token) (ast.Expr, error) {
	p.next()
	p.nested++
	defer func() { p.nested-- }()
	v := &ast.VariantLit{Pos: tag.pos, Tag: tag.text}
	for {
		if p.accept(tokRBrace) {
			return v, nil
		}
		f, err := p.expectIdent("a variant field name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokAssign, "'='"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		v.Fields = append(v.Fields, &ast.Assignment{Pos: f.pos, Field: f.text, Value: val})
		if !p.accept(tokComma) && p.peek().kind != tokRBrace {
			return nil, p.unexpected(p.peek(), "',' or '}'")
		}
	}
}
