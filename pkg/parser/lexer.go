package parser

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pthm/loam/pkg/ast"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNewline
	tokIdent
	tokInt
	tokFloat
	tokString
	tokParam     // $name
	tokDirective // @name
	tokLBrace
	tokRBrace
	tokLParen
	tokRParen
	tokComma
	tokColon
	tokDot
	tokAssign
	tokEq
	tokNe
	tokLt
	tokLte
	tokGt
	tokGte
	tokAnd
	tokOr
	tokPipe
	tokQuestion
	tokStar
)

var tokenNames = map[tokenKind]string{
	tokEOF:       "end of file",
	tokNewline:   "newline",
	tokIdent:     "identifier",
	tokInt:       "integer",
	tokFloat:     "float",
	tokString:    "string",
	tokParam:     "parameter",
	tokDirective: "directive",
	tokLBrace:    "'{'",
	tokRBrace:    "'}'",
	tokLParen:    "'('",
	tokRParen:    "')'",
	tokComma:     "','",
	tokColon:     "':'",
	tokDot:       "'.'",
	tokAssign:    "'='",
	tokEq:        "'=='",
	tokNe:        "'!='",
	tokLt:        "'<'",
	tokLte:       "'<='",
	tokGt:        "'>'",
	tokGte:       "'>='",
	tokAnd:       "'&&'",
	tokOr:        "'||'",
	tokPipe:      "'|'",
	tokQuestion:  "'?'",
	tokStar:      "'*'",
}

func (k tokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return "token"
}

type token struct {
	kind tokenKind
	text string
	pos  ast.Pos
}

func (t token) describe() string {
	switch t.kind {
	case tokIdent, tokInt, tokFloat:
		return strconv.Quote(t.text)
	case tokParam:
		return strconv.Quote("$" + t.text)
	case tokDirective:
		return strconv.Quote("@" + t.text)
	case tokString:
		return "string " + strconv.Quote(t.text)
	}
	return t.kind.String()
}

// two-character operators, checked before single characters
var operators2 = []struct {
	text string
	kind tokenKind
}{
	{"==", tokEq},
	{"!=", tokNe},
	{"<=", tokLte},
	{">=", tokGte},
	{"&&", tokAnd},
	{"||", tokOr},
}

var operators1 = map[byte]tokenKind{
	'{': tokLBrace,
	'}': tokRBrace,
	'(': tokLParen,
	')': tokRParen,
	',': tokComma,
	':': tokColon,
	'.': tokDot,
	'=': tokAssign,
	'<': tokLt,
	'>': tokGt,
	'|': tokPipe,
	'?': tokQuestion,
	'*': tokStar,
}

type lexer struct {
	file      string
	src       string
	i         int
	line      int
	lineStart int
	tokens    []token
}

// lex splits src into tokens. Comments start with // and run to the end of
// the line; newlines are kept as tokens because record bodies are
// line-oriented.
func lex(file, src string) ([]token, error) {
	l := &lexer{file: file, src: src, line: 1}
	for l.i < len(l.src) {
		ch := l.src[l.i]
		switch {
		case ch == '\n':
			l.emit(tokNewline, "\n", l.pos())
			l.i++
			l.line++
			l.lineStart = l.i
		case ch == ' ' || ch == '\t' || ch == '\r':
			l.i++
		case ch == '/' && l.peekByte(1) == '/':
			for l.i < len(l.src) && l.src[l.i] != '\n' {
				l.i++
			}
		case ch == '"':
			if err := l.lexString(); err != nil {
				return nil, err
			}
		case isDigit(ch) || (ch == '-' && isDigit(l.peekByte(1))):
			l.lexNumber()
		case ch == '$' || ch == '@':
			pos := l.pos()
			l.i++
			name := l.readIdent()
			if name == "" {
				return nil, l.errorf(pos, "expected name after %q", string(ch))
			}
			kind := tokParam
			if ch == '@' {
				kind = tokDirective
			}
			l.emit(kind, name, pos)
		case isIdentStart(l.runeAt()):
			pos := l.pos()
			l.emit(tokIdent, l.readIdent(), pos)
		default:
			if err := l.lexOperator(); err != nil {
				return nil, err
			}
		}
	}
	l.emit(tokEOF, "", l.pos())
	return l.tokens, nil
}

func (l *lexer) pos() ast.Pos {
	return ast.Pos{File: l.file, Line: l.line, Column: utf8.RuneCountInString(l.src[l.lineStart:l.i]) + 1}
}

func (l *lexer) emit(kind tokenKind, text string, pos ast.Pos) {
	l.tokens = append(l.tokens, token{kind: kind, text: text, pos: pos})
}

func (l *lexer) peekByte(n int) byte {
	if l.i+n < len(l.src) {
		return l.src[l.i+n]
	}
	return 0
}

func (l *lexer) runeAt() rune {
	r, _ := utf8.DecodeRuneInString(l.src[l.i:])
	return r
}

func (l *lexer) readIdent() string {
	start := l.i
	for l.i < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.i:])
		if l.i == start && !isIdentStart(r) {
			break
		}
		if !isIdentPart(r) {
			break
		}
		l.i += size
	}
	return l.src[start:l.i]
}

func (l *lexer) lexString() error {
	pos := l.pos()
	start := l.i
	l.i++
	for {
		if l.i >= len(l.src) || l.src[l.i] == '\n' {
			return l.errorf(pos, "unterminated string literal")
		}
		if l.src[l.i] == '\\' {
			l.i += 2
			continue
		}
		if l.src[l.i] == '"' {
			l.i++
			break
		}
		l.i++
	}
	value, err := strconv.Unquote(l.src[start:l.i])
	if err != nil {
		return l.errorf(pos, "invalid string literal: %v", err)
	}
	l.emit(tokString, value, pos)
	return nil
}

func (l *lexer) lexNumber() {
	pos := l.pos()
	start := l.i
	if l.src[l.i] == '-' {
		l.i++
	}
	for l.i < len(l.src) && isDigit(l.src[l.i]) {
		l.i++
	}
	kind := tokInt
	if l.i < len(l.src) && l.src[l.i] == '.' && isDigit(l.peekByte(1)) {
		kind = tokFloat
		l.i++
		for l.i < len(l.src) && isDigit(l.src[l.i]) {
			l.i++
		}
	}
	l.emit(kind, l.src[start:l.i], pos)
}

func (l *lexer) lexOperator() error {
	pos := l.pos()
	rest := l.src[l.i:]
	for _, op := range operators2 {
		if strings.HasPrefix(rest, op.text) {
			l.emit(op.kind, op.text, pos)
			l.i += len(op.text)
			return nil
		}
	}
	if kind, ok := operators1[l.src[l.i]]; ok {
		l.emit(kind, l.src[l.i:l.i+1], pos)
		l.i++
		return nil
	}
	return l.errorf(pos, "unexpected character %q", l.runeAt())
}

func (l *lexer) errorf(pos ast.Pos, format string, args ...any) error {
	return newError(pos, format, args...)
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
