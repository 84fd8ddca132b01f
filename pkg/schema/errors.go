package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pthm/loam/pkg/ast"
)

// Sentinel errors for schema and query validation.
var (
	// ErrInvalidSchema is wrapped by every TypeError.
	ErrInvalidSchema = errors.New("loam: invalid schema")

	// ErrCyclicSchema is returned alongside ErrInvalidSchema when required
	// foreign keys form a cycle.
	ErrCyclicSchema = errors.New("loam: cyclic foreign keys")

	// ErrMissingSessionField is returned by predicate evaluation when the
	// session map lacks a field the predicate references.
	ErrMissingSessionField = errors.New("loam: missing session field")

	// ErrMissingRowField is returned by predicate evaluation when the row
	// map lacks a referenced column.
	ErrMissingRowField = errors.New("loam: missing row field")
)

// IsInvalidSchemaErr returns true if err is or wraps ErrInvalidSchema.
func IsInvalidSchemaErr(err error) bool {
	return errors.Is(err, ErrInvalidSchema)
}

// IsCyclicSchemaErr returns true if err is or wraps ErrCyclicSchema.
func IsCyclicSchemaErr(err error) bool {
	return errors.Is(err, ErrCyclicSchema)
}

// IsMissingSessionFieldErr returns true if err is or wraps ErrMissingSessionField.
func IsMissingSessionFieldErr(err error) bool {
	return errors.Is(err, ErrMissingSessionField)
}

// TypeError is one diagnostic from typechecking.
type TypeError struct {
	Pos     ast.Pos
	Message string
	// Cause is an extra sentinel such as ErrCyclicSchema, or nil.
	Cause error
}

func (e *TypeError) Error() string {
	return e.Pos.String() + ": " + e.Message
}

func (e *TypeError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrInvalidSchema, e.Cause}
	}
	return []error{ErrInvalidSchema}
}

// Errors is every TypeError found in one pass, in source order.
type Errors []*TypeError

func (es Errors) Error() string {
	switch len(es) {
	case 0:
		return "no errors"
	case 1:
		return es[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d errors:", len(es))
	for _, e := range es {
		b.WriteString("\n  ")
		b.WriteString(e.Error())
	}
	return b.String()
}

func (es Errors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// diag accumulates TypeErrors.
type diag struct {
	errs Errors
}

func (d *diag) errorf(pos ast.Pos, format string, args ...any) {
	d.errs = append(d.errs, &TypeError{Pos: pos, Message: fmt.Sprintf(format, args...)})
}

func (d *diag) cause(pos ast.Pos, cause error, format string, args ...any) {
	d.errs = append(d.errs, &TypeError{Pos: pos, Message: fmt.Sprintf(format, args...), Cause: cause})
}

func (d *diag) err() error {
	if len(d.errs) == 0 {
		return nil
	}
	return d.errs
}
