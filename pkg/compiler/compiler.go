// Package compiler provides the public API for compiling loam source into
// SQLite statement batches.
//
// This is a thin layer over pkg/parser, pkg/schema and internal/sqlgen that
// exposes only the types external consumers need. For migrations use
// pkg/migrator instead.
//
//	compiled, err := compiler.Compile(
//	    compiler.Source{Name: "schema.loam", Text: schemaSrc},
//	    compiler.Source{Name: "queries.loam", Text: querySrc},
//	)
//	batch := compiled.Batch("ListPosts")
//	binds, err := batch.Bind(args, session)
package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/pthm/loam/internal/sqlgen"
	"github.com/pthm/loam/pkg/ast"
	"github.com/pthm/loam/pkg/parser"
	"github.com/pthm/loam/pkg/schema"
)

// Statement is one SQL statement of a batch.
type Statement = sqlgen.Statement

// Role classifies a statement within a batch.
type Role = sqlgen.Role

// Statement roles.
const (
	RoleSetup        = sqlgen.RoleSetup
	RoleDML          = sqlgen.RoleDML
	RoleResponse     = sqlgen.RoleResponse
	RoleAffectedRows = sqlgen.RoleAffectedRows
)

// AffectedRowsKey names the trailing column of every mutation batch.
const AffectedRowsKey = sqlgen.AffectedRowsKey

// GenError reports an operation the generator cannot express.
type GenError = sqlgen.GenError

// ErrUnsupported is wrapped by every GenError.
var ErrUnsupported = sqlgen.ErrUnsupported

// IsUnsupportedErr returns true if err is or wraps ErrUnsupported.
func IsUnsupportedErr(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// Source is one named source text.
type Source struct {
	Name string
	Text string
}

// ReadSources reads files into Sources.
func ReadSources(paths ...string) ([]Source, error) {
	out := make([]Source, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		out = append(out, Source{Name: p, Text: string(data)})
	}
	return out, nil
}

// Option configures compilation.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for compile diagnostics. The default is
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Batch is the compiled form of one operation.
type Batch struct {
	Operation  *schema.Operation `json:"-"`
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	Params     []ParamInfo       `json:"params"`
	Statements []Statement       `json:"statements"`

	ctx *schema.Context
}

// ParamInfo describes an operation parameter.
type ParamInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Mutation reports whether the batch writes rows.
func (b *Batch) Mutation() bool {
	return b.Operation.Kind != ast.OpQuery
}

// Compiled is the result of compiling a set of sources.
type Compiled struct {
	Context    *schema.Context
	Operations []*schema.Operation
	Batches    []*Batch

	byName map[string]*Batch
}

// Batch returns the batch for the named operation, or nil.
func (c *Compiled) Batch(name string) *Batch {
	return c.byName[name]
}

// Compile parses, typechecks and generates SQL for sources. A source may
// mix schema and query definitions. Errors are returned per stage: parse
// errors stop compilation, type errors and generation errors are
// accumulated.
func Compile(sources []Source, opts ...Option) (*Compiled, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	files := make([]*parser.File, 0, len(sources))
	for _, src := range sources {
		f, err := parser.ParseFile(src.Name, src.Text)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	schemas := make([]*ast.Schema, len(files))
	queries := make([]*ast.QueryFile, len(files))
	for i, f := range files {
		schemas[i] = f.Schema
		queries[i] = f.Queries
	}
	ctx, err := schema.Typecheck(schemas...)
	if err != nil {
		return nil, err
	}
	ops, err := schema.ResolveQueries(ctx, queries...)
	if err != nil {
		return nil, err
	}

	batches, err := generate(ctx, ops)
	if err != nil {
		return nil, err
	}
	c := &Compiled{Context: ctx, Operations: ops, Batches: batches, byName: make(map[string]*Batch, len(batches))}
	for _, b := range batches {
		c.byName[b.Name] = b
	}
	o.logger.Debug("compiled sources",
		"sources", len(sources),
		"tables", len(ctx.Tables),
		"operations", len(ops))
	return c, nil
}

// CompileSchema parses and typechecks schema sources only.
func CompileSchema(sources ...Source) (*schema.Context, error) {
	schemas := make([]*ast.Schema, 0, len(sources))
	for _, src := range sources {
		s, err := parser.ParseSchemaString(src.Name, src.Text)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schema.Typecheck(schemas...)
}

// generate builds every batch concurrently. The Context is immutable, so
// generators share it freely.
func generate(ctx *schema.Context, ops []*schema.Operation) ([]*Batch, error) {
	batches := make([]*Batch, len(ops))
	errs := make([]error, len(ops))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, op := range ops {
		g.Go(func() error {
			stmts, err := sqlgen.Generate(ctx, op)
			if err != nil {
				errs[i] = err
				return nil
			}
			batches[i] = newBatch(ctx, op, stmts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return batches, nil
}

func newBatch(ctx *schema.Context, op *schema.Operation, stmts []Statement) *Batch {
	params := make([]ParamInfo, len(op.Params))
	for i, p := range op.Params {
		params[i] = ParamInfo{Name: p.Name, Type: p.Type.String()}
	}
	return &Batch{
		Operation:  op,
		Name:       op.Name,
		Kind:       op.Kind.String(),
		Params:     params,
		Statements: stmts,
		ctx:        ctx,
	}
}
