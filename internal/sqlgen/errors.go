package sqlgen

import (
	"errors"
	"fmt"

	"github.com/pthm/loam/pkg/ast"
)

// ErrUnsupported is wrapped by every GenError: the operation typechecked
// but has no SQL translation.
var ErrUnsupported = errors.New("loam: unsupported operation")

// IsUnsupportedErr returns true if err is or wraps ErrUnsupported.
func IsUnsupportedErr(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// GenError reports a construct the generator cannot express.
type GenError struct {
	Pos       ast.Pos
	Operation string
	Message   string
}

func (e *GenError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Operation, e.Message)
}

func (e *GenError) Unwrap() error { return ErrUnsupported }

func (g *generator) errorf(pos ast.Pos, format string, args ...any) error {
	return &GenError{Pos: pos, Operation: g.op.Name, Message: fmt.Sprintf(format, args...)}
}
