package compiler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pthm/loam/internal/sqlgen"
	"github.com/pthm/loam/pkg/schema"
)

// Argument errors returned by Batch.Bind.
var (
	// ErrMissingArgument is returned when a non-nullable parameter has no
	// value.
	ErrMissingArgument = errors.New("loam: missing argument")

	// ErrInvalidArgument is returned when an argument does not fit its
	// parameter type, or names no parameter.
	ErrInvalidArgument = errors.New("loam: invalid argument")
)

// IsMissingArgumentErr returns true if err is or wraps ErrMissingArgument.
func IsMissingArgumentErr(err error) bool {
	return errors.Is(err, ErrMissingArgument)
}

// IsInvalidArgumentErr returns true if err is or wraps ErrInvalidArgument.
func IsInvalidArgumentErr(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// Bindings maps bind names to storage-level values.
type Bindings map[string]any

// Args returns the named arguments stmt references, ready for
// ExecContext or QueryContext.
func (b Bindings) Args(stmt Statement) []any {
	args := make([]any, len(stmt.Params))
	for i, name := range stmt.Params {
		args[i] = sql.Named(name, b[name])
	}
	return args
}

// Bind checks args against the batch's parameters and session against the
// session fields its statements reference, and converts both to storage
// values: bools become 0/1, DateTime values unix seconds, JSON values text.
// A union argument is either its tag or an object {"tag": ..., field: ...};
// its fields bind as <param>__<field>.
func (b *Batch) Bind(args, session map[string]any) (Bindings, error) {
	out := make(Bindings)
	for name := range args {
		if b.Operation.Param(name) == nil {
			return nil, fmt.Errorf("%w: %s has no parameter $%s", ErrInvalidArgument, b.Name, name)
		}
	}
	for _, p := range b.Operation.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if !p.Type.Nullable {
				return nil, fmt.Errorf("%w: $%s of %s", ErrMissingArgument, p.Name, b.Name)
			}
			v = nil
		}
		if err := b.bindValue(out, p.Name, p.Type, v); err != nil {
			return nil, fmt.Errorf("$%s: %w", p.Name, err)
		}
	}

	var fields []string
	if b.ctx.Session != nil {
		used := make(map[string]bool)
		for _, stmt := range b.Statements {
			for _, name := range stmt.Params {
				used[name] = true
			}
		}
		for _, f := range b.ctx.Session.Fields {
			if used[sqlgen.SessionParam(f.Name)] {
				fields = append(fields, f.Name)
			}
		}
	}
	if err := bindSession(b.ctx, out, session, fields); err != nil {
		return nil, err
	}
	return out, nil
}

// BindSession converts the named session fields to storage values bound
// as $session_<field>. A field absent from session is an error wrapping
// schema.ErrMissingSessionField.
func BindSession(ctx *schema.Context, session map[string]any, fields []string) (Bindings, error) {
	out := make(Bindings, len(fields))
	if err := bindSession(ctx, out, session, fields); err != nil {
		return nil, err
	}
	return out, nil
}

func bindSession(ctx *schema.Context, out Bindings, session map[string]any, fields []string) error {
	b := binder{ctx: ctx}
	for _, name := range fields {
		f := ctx.Session.Field(name)
		if f == nil {
			return fmt.Errorf("%w: %s is not declared", ErrInvalidArgument, name)
		}
		v, ok := session[name]
		if !ok {
			return fmt.Errorf("%w: %s", schema.ErrMissingSessionField, name)
		}
		sv, err := b.convert(f.Type, v)
		if err != nil {
			return fmt.Errorf("session.%s: %w", name, err)
		}
		if u, ok := sv.(unionValue); ok {
			sv = u.tag
		}
		out[sqlgen.SessionParam(name)] = sv
	}
	return nil
}

type unionValue struct {
	tag    any
	fields map[string]any
}

// binder converts Go values to storage values for one schema.
type binder struct {
	ctx *schema.Context
}

func (b *Batch) bindValue(out Bindings, name string, t schema.Type, v any) error {
	cv, err := binder{ctx: b.ctx}.convert(t, v)
	if err != nil {
		return err
	}
	if t.Kind != schema.KindUnion {
		out[name] = cv
		return nil
	}
	u := b.ctx.Union(t.Union)
	uv, _ := cv.(unionValue)
	out[name] = uv.tag
	for _, field := range u.FieldNames() {
		out[sqlgen.UnionParamField(name, field)] = uv.fields[field]
	}
	return nil
}

// convert maps a Go value to its storage form for t.
func (b binder) convert(t schema.Type, v any) (any, error) {
	if v == nil {
		if t.Kind == schema.KindUnion {
			return unionValue{}, nil
		}
		return nil, nil
	}
	switch t.Kind {
	case schema.KindInt:
		return toInt(v)
	case schema.KindFloat:
		return toFloat(v)
	case schema.KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.KindBool:
		if x, ok := v.(bool); ok {
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case schema.KindDateTime:
		switch x := v.(type) {
		case time.Time:
			return x.Unix(), nil
		case string:
			ts, err := time.Parse(time.RFC3339, x)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			}
			return ts.Unix(), nil
		}
		return toInt(v)
	case schema.KindJSON:
		if raw, ok := v.(json.RawMessage); ok {
			if !json.Valid(raw) {
				return nil, fmt.Errorf("%w: invalid JSON", ErrInvalidArgument)
			}
			return string(raw), nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return string(data), nil
	case schema.KindUnion:
		return b.convertUnion(t, v)
	}
	return nil, fmt.Errorf("%w: %T is not a %s", ErrInvalidArgument, v, t)
}

func (b binder) convertUnion(t schema.Type, v any) (any, error) {
	u := b.ctx.Union(t.Union)
	if u == nil {
		return nil, fmt.Errorf("%w: unknown union %s", ErrInvalidArgument, t.Union)
	}
	var tag string
	var fields map[string]any
	switch x := v.(type) {
	case string:
		tag = x
	case map[string]any:
		s, ok := x["tag"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s value needs a string tag", ErrInvalidArgument, u.Name)
		}
		tag = s
		fields = x
	default:
		return nil, fmt.Errorf("%w: %T is not a %s", ErrInvalidArgument, v, u.Name)
	}
	variant := u.Variant(tag)
	if variant == nil {
		return nil, fmt.Errorf("%w: %s has no variant %s", ErrInvalidArgument, u.Name, tag)
	}
	out := unionValue{tag: tag, fields: make(map[string]any)}
	for name := range fields {
		if name != "tag" && variant.Field(name) == nil {
			return nil, fmt.Errorf("%w: %s has no field %s", ErrInvalidArgument, tag, name)
		}
	}
	for _, f := range variant.Fields {
		fv, ok := fields[f.Name]
		if !ok || fv == nil {
			if !f.Type.Nullable {
				return nil, fmt.Errorf("%w: %s.%s", ErrMissingArgument, tag, f.Name)
			}
			continue
		}
		cv, err := b.convert(f.Type, fv)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", tag, f.Name, err)
		}
		out.fields[f.Name] = cv
	}
	return out, nil
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrInvalidArgument, x)
		}
		return int64(x), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return n, nil
	}
	return nil, fmt.Errorf("%w: %T is not an Int", ErrInvalidArgument, v)
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return f, nil
	}
	n, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %T is not a Float", ErrInvalidArgument, v)
	}
	return float64(n.(int64)), nil
}
