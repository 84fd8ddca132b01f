package parser

import (
	"errors"
	"fmt"

	"github.com/pthm/loam/pkg/ast"
)

// ErrSyntax is wrapped by every error returned from this package.
var ErrSyntax = errors.New("loam: syntax error")

// Error is a syntax error with its source location. Parsing stops at the
// first Error; no partial tree is returned alongside it.
type Error struct {
	File    string
	Line    int
	Column  int
	Message string
}

func newError(pos ast.Pos, format string, args ...any) *Error {
	return &Error{
		File:    pos.File,
		Line:    pos.Line,
		Column:  pos.Column,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	if e.File == "" {
		return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

func (e *Error) Unwrap() error { return ErrSyntax }

// Pos returns the location of the error.
func (e *Error) Pos() ast.Pos {
	return ast.Pos{File: e.File, Line: e.Line, Column: e.Column}
}

// IsSyntaxErr returns true if err is or wraps ErrSyntax.
func IsSyntaxErr(err error) bool {
	return errors.Is(err, ErrSyntax)
}
