package schema

import (
	"encoding/json"

	"github.com/pthm/loam/pkg/ast"
)

// ResolveQueries validates query and mutation definitions against ctx and
// returns them in source order. Errors are accumulated like Typecheck's.
func ResolveQueries(ctx *Context, files ...*ast.QueryFile) ([]*Operation, error) {
	r := &resolver{ctx: ctx}
	seen := make(map[string]ast.Pos)
	var ops []*Operation
	for _, f := range files {
		if f == nil {
			continue
		}
		for _, def := range f.Operations {
			if prev, ok := seen[def.Name]; ok {
				r.d.errorf(def.Pos, "%s is already defined at %s", def.Name, prev)
				continue
			}
			seen[def.Name] = def.Pos
			if op := r.operation(def); op != nil {
				ops = append(ops, op)
			}
		}
	}
	if err := r.d.err(); err != nil {
		return nil, err
	}
	return ops, nil
}

type resolver struct {
	d   diag
	ctx *Context
	op  *Operation
}

func (r *resolver) operation(def *ast.Operation) *Operation {
	before := len(r.d.errs)
	op := &Operation{Pos: def.Pos, Kind: def.Kind, Name: def.Name}
	r.op = op
	for _, p := range def.Params {
		if op.Param(p.Name) != nil {
			r.d.errorf(p.Pos, "duplicate parameter $%s", p.Name)
			continue
		}
		typ, ok := r.resolveType(p.Type)
		if !ok {
			continue
		}
		op.Params = append(op.Params, &Param{Name: p.Name, Type: typ})
	}
	keys := make(map[string]bool)
	for _, f := range def.Fields {
		t := r.ctx.TableForField(f.Name)
		if t == nil {
			r.d.errorf(f.Pos, "unknown record %q; top-level fields name a record with a lowercase first letter", f.Name)
			continue
		}
		if keys[f.Key()] {
			r.d.errorf(f.Pos, "duplicate field %s", f.Key())
			continue
		}
		keys[f.Key()] = true
		if sel := r.selection(f, t, nil, true); sel != nil {
			op.Roots = append(op.Roots, sel)
		}
	}
	if len(r.d.errs) > before {
		return nil
	}
	return op
}

func (r *resolver) resolveType(ref ast.TypeRef) (Type, bool) {
	if k, ok := primitiveKinds[ref.Name]; ok {
		return Type{Kind: k, Nullable: ref.Nullable}, true
	}
	if r.ctx.Union(ref.Name) != nil {
		return Type{Kind: KindUnion, Union: ref.Name, Nullable: ref.Nullable}, true
	}
	r.d.errorf(ref.Pos, "unknown type %q", ref.Name)
	return Type{}, false
}

// selection resolves a record block. writable is true when assignments in
// this block are inserted or updated rows rather than misplaced.
func (r *resolver) selection(f *ast.Selection, t *Table, link *Link, writable bool) *Selection {
	sel := &Selection{Pos: f.Pos, Key: f.Key(), Table: t, Link: link}
	kind := r.op.Kind

	for _, w := range f.Where {
		c := r.cond(t, w)
		if c == nil {
			continue
		}
		if sel.Where == nil {
			sel.Where = c
		} else {
			sel.Where = CondAnd{Left: sel.Where, Right: c}
		}
	}
	for _, s := range f.Sorts {
		col := t.Column(s.Field)
		switch {
		case col == nil:
			r.d.errorf(s.Pos, "cannot sort by %s: %s has no such field", s.Field, t.Record)
		case col.Type.Kind == KindJSON:
			r.d.errorf(s.Pos, "cannot sort by JSON field %s", s.Field)
		default:
			sel.Sorts = append(sel.Sorts, Sort{Column: col, Desc: s.Desc})
		}
	}
	if f.Limit != nil {
		sel.Limit = r.limit(f.Limit)
	}
	if link != nil && !link.Many() && (len(f.Sorts) > 0 || f.Limit != nil) {
		r.d.errorf(f.Pos, "@sort and @limit need a list; %s.%s is a single record", link.Table, link.Name)
	}

	if len(f.Assignments) > 0 {
		switch {
		case kind == ast.OpQuery || kind == ast.OpDelete:
			r.d.errorf(f.Assignments[0].Pos, "assignments are only allowed in insert and update")
		case !writable:
			r.d.errorf(f.Assignments[0].Pos, "nested writes must sit directly inside an inserted record")
		default:
			for _, a := range f.Assignments {
				r.set(sel, a)
			}
		}
	}

	keys := make(map[string]bool)
	for _, item := range f.Fields {
		key := item.Key()
		if keys[key] {
			r.d.errorf(item.Pos, "duplicate field %s", key)
			continue
		}
		keys[key] = true
		if col := t.Column(item.Name); col != nil {
			if item.Block {
				r.d.errorf(item.Pos, "%s is a field of %s, not a link", item.Name, t.Record)
				continue
			}
			sel.Fields = append(sel.Fields, &FieldSel{Key: key, Column: col})
			continue
		}
		l := t.Link(item.Name)
		if l == nil {
			r.d.errorf(item.Pos, "%s has no field %s", t.Record, item.Name)
			continue
		}
		if !item.Block {
			r.d.errorf(item.Pos, "link %s needs a selection block", item.Name)
			continue
		}
		target := r.ctx.Table(l.Target)
		childWritable := sel.Writes() || (kind == ast.OpInsert && link == nil)
		sub := r.selection(item, target, l, childWritable)
		if sub != nil {
			sel.Fields = append(sel.Fields, &FieldSel{Key: key, Sub: sub})
		}
	}

	switch {
	case kind == ast.OpUpdate && link == nil && !sel.Writes():
		r.d.errorf(f.Pos, "update %s must assign at least one field of %s", r.op.Name, t.Record)
	case kind == ast.OpDelete && link == nil && len(sel.Fields) == 0:
		r.d.errorf(f.Pos, "delete %s must return at least one field; the response reflects the rows before deletion", r.op.Name)
	case len(sel.Fields) == 0 && !sel.Writes() && !(kind == ast.OpInsert && link == nil):
		r.d.errorf(f.Pos, "selection %s selects nothing", sel.Key)
	}
	if kind == ast.OpInsert && (link == nil || sel.Writes()) {
		r.checkRequired(sel)
	}
	return sel
}

// checkRequired reports non-nullable columns without a default that an
// inserted row leaves unset. Keys filled through nested links count as set.
func (r *resolver) checkRequired(sel *Selection) {
	t := sel.Table
	filled := make(map[string]string)
	if sel.Link != nil && !sel.Link.HoldsKey {
		filled[sel.Link.ForeignColumn] = sel.Link.Name
	}
	for _, f := range sel.Fields {
		if f.Sub != nil && f.Sub.Writes() && f.Sub.Link.HoldsKey {
			filled[f.Sub.Link.LocalColumn] = f.Sub.Link.Name
		}
	}
	for _, col := range t.Columns {
		by, isFilled := filled[col.Name]
		set := sel.Set(col.Name)
		switch {
		case isFilled && set != nil:
			r.d.errorf(sel.Pos, "%s.%s is set by the nested link %s and cannot also be assigned", t.Record, col.Name, by)
		case isFilled, set != nil, col.PrimaryKey, col.Type.Nullable, col.Default != nil:
		default:
			r.d.errorf(sel.Pos, "insert into %s must set %s", t.Record, col.Name)
		}
	}
}

func (r *resolver) set(sel *Selection, a *ast.Assignment) {
	t := sel.Table
	col := t.Column(a.Field)
	if col == nil {
		if t.Link(a.Field) != nil {
			r.d.errorf(a.Pos, "link %s is written with a nested block, not an assignment", a.Field)
		} else {
			r.d.errorf(a.Pos, "%s has no field %s", t.Record, a.Field)
		}
		return
	}
	if col.PrimaryKey {
		r.d.errorf(a.Pos, "%s.%s is generated and cannot be assigned", t.Record, col.Name)
		return
	}
	if sel.Set(col.Name) != nil {
		r.d.errorf(a.Pos, "%s is assigned twice", col.Name)
		return
	}
	v := r.value(t, a.Value, &col.Type, r.op.Kind == ast.OpUpdate)
	if v == nil {
		return
	}
	if !r.checkAssign(a.Value.Position(), col.Name, col.Type, v) {
		return
	}
	sel.Sets = append(sel.Sets, &Set{Column: col, Value: v})
}

// checkAssign checks that v can be stored in a slot of type want. In updates
// a nullable parameter may target a non-nullable column: a null argument
// leaves the column unchanged.
func (r *resolver) checkAssign(pos ast.Pos, name string, want Type, v Value) bool {
	vt := v.ValueType()
	if IsNullValue(v) {
		if !want.Nullable {
			r.d.errorf(pos, "%s is not nullable", name)
			return false
		}
		return true
	}
	if !assignable(want, vt) {
		r.d.errorf(pos, "cannot assign %s to %s (%s)", vt, name, want)
		return false
	}
	if vt.Nullable && !want.Nullable {
		if _, isParam := v.(ParamValue); isParam && r.op.Kind == ast.OpUpdate {
			return true
		}
		r.d.errorf(pos, "%s is %s but %s is not nullable; non-nullable fields need a non-nullable value", describeValue(v), vt, name)
		return false
	}
	return true
}

func describeValue(v Value) string {
	switch v := v.(type) {
	case ParamValue:
		return "$" + v.Param.Name
	case SessionValue:
		return "Session." + v.Field.Name
	case ColumnValue:
		return v.Column.Name
	case CallValue:
		return v.Func + "(...)"
	}
	return "the value"
}

// value resolves a value expression. want is the type of the slot being
// filled, used to resolve bare variant tags; it may be nil.
func (r *resolver) value(t *Table, e ast.Expr, want *Type, allowColumns bool) Value {
	switch v := e.(type) {
	case *ast.ParamRef:
		p := r.op.Param(v.Name)
		if p == nil {
			r.d.errorf(v.Pos, "undeclared parameter $%s", v.Name)
			return nil
		}
		return ParamValue{Param: p}
	case *ast.SessionRef:
		f := r.ctx.Session.Field(v.Field)
		if f == nil {
			r.d.errorf(v.Pos, "unknown session field %s", v.Field)
			return nil
		}
		return SessionValue{Field: f}
	case *ast.Ident:
		if want != nil && want.Kind == KindUnion && isUpperName(v.Name) {
			variant := r.ctx.Union(want.Union).Variant(v.Name)
			if variant == nil {
				r.d.errorf(v.Pos, "%s is not a variant of %s", v.Name, want.Union)
				return nil
			}
			if len(variant.Fields) > 0 {
				r.d.errorf(v.Pos, "variant %s has fields; write %s { ... } with every field", v.Name, v.Name)
				return nil
			}
			return VariantValue{Union: want.Union, Variant: variant, Fields: map[string]Value{}}
		}
		if col := t.Column(v.Name); col != nil {
			if !allowColumns {
				r.d.errorf(v.Pos, "field %s cannot be read here", v.Name)
				return nil
			}
			return ColumnValue{Column: col}
		}
		r.d.errorf(v.Pos, "unknown value %s", v.Name)
		return nil
	case *ast.IntLit:
		return LiteralValue{Value: v.Value, Type: Type{Kind: KindInt}}
	case *ast.FloatLit:
		return LiteralValue{Value: v.Value, Type: Type{Kind: KindFloat}}
	case *ast.StringLit:
		if want != nil && want.Kind == KindJSON {
			if !json.Valid([]byte(v.Value)) {
				r.d.errorf(v.Pos, "string is not valid JSON")
				return nil
			}
			return LiteralValue{Value: v.Value, Type: Type{Kind: KindJSON}}
		}
		return LiteralValue{Value: v.Value, Type: Type{Kind: KindString}}
	case *ast.BoolLit:
		return LiteralValue{Value: v.Value, Type: Type{Kind: KindBool}}
	case *ast.NullLit:
		typ := Type{Kind: KindString, Nullable: true}
		if want != nil {
			typ = *want
			typ.Nullable = true
		}
		return LiteralValue{Value: nil, Type: typ}
	case *ast.Call:
		return r.call(t, v, want, allowColumns)
	case *ast.VariantLit:
		return r.variant(t, v, want, allowColumns)
	case *ast.Binary:
		r.d.errorf(v.Pos, "expected a value, got the condition %s", v)
		return nil
	}
	r.d.errorf(e.Position(), "unsupported value %s", e)
	return nil
}

func (r *resolver) call(t *Table, c *ast.Call, want *Type, allowColumns bool) Value {
	switch c.Func {
	case "now":
		if len(c.Args) != 0 {
			r.d.errorf(c.Pos, "now() takes no arguments")
			return nil
		}
		return CallValue{Func: "now", Type: Type{Kind: KindDateTime}}
	case "lower", "upper":
		if len(c.Args) != 1 {
			r.d.errorf(c.Pos, "%s() takes one argument", c.Func)
			return nil
		}
		arg := r.value(t, c.Args[0], &Type{Kind: KindString}, allowColumns)
		if arg == nil {
			return nil
		}
		at := arg.ValueType()
		if at.Kind != KindString {
			r.d.errorf(c.Args[0].Position(), "%s() needs a String, got %s", c.Func, at)
			return nil
		}
		return CallValue{Func: c.Func, Args: []Value{arg}, Type: at}
	case "coalesce":
		if len(c.Args) < 2 {
			r.d.errorf(c.Pos, "coalesce() takes at least two arguments")
			return nil
		}
		out := CallValue{Func: "coalesce"}
		nullable := true
		for i, a := range c.Args {
			v := r.value(t, a, want, allowColumns)
			if v == nil {
				return nil
			}
			vt := v.ValueType()
			if i == 0 {
				out.Type = vt
			} else if !IsNullValue(v) && !comparable(out.Type, vt) {
				r.d.errorf(a.Position(), "coalesce() arguments must share a type: %s and %s", out.Type, vt)
				return nil
			}
			if !vt.Nullable {
				nullable = false
			}
			out.Args = append(out.Args, v)
		}
		out.Type.Nullable = nullable
		return out
	}
	r.d.errorf(c.Pos, "unknown function %s; expected now, lower, upper or coalesce", c.Func)
	return nil
}

func (r *resolver) variant(t *Table, v *ast.VariantLit, want *Type, allowColumns bool) Value {
	if want == nil || want.Kind != KindUnion {
		r.d.errorf(v.Pos, "variant %s is not valid here", v.Tag)
		return nil
	}
	variant := r.ctx.Union(want.Union).Variant(v.Tag)
	if variant == nil {
		r.d.errorf(v.Pos, "%s is not a variant of %s", v.Tag, want.Union)
		return nil
	}
	out := VariantValue{Union: want.Union, Variant: variant, Fields: make(map[string]Value)}
	ok := checkVariantFields(&r.d, v, variant, func(a *ast.Assignment, f *VariantField) bool {
		fv := r.value(t, a.Value, &f.Type, allowColumns)
		if fv == nil || !r.checkAssign(a.Value.Position(), v.Tag+"."+f.Name, f.Type, fv) {
			return false
		}
		out.Fields[f.Name] = fv
		return true
	})
	if !ok {
		return nil
	}
	return out
}

func (r *resolver) limit(e ast.Expr) Value {
	switch v := e.(type) {
	case *ast.IntLit:
		if v.Value < 0 {
			r.d.errorf(v.Pos, "@limit must not be negative")
			return nil
		}
		return LiteralValue{Value: v.Value, Type: Type{Kind: KindInt}}
	case *ast.ParamRef:
		p := r.op.Param(v.Name)
		if p == nil {
			r.d.errorf(v.Pos, "undeclared parameter $%s", v.Name)
			return nil
		}
		if p.Type != (Type{Kind: KindInt}) {
			r.d.errorf(v.Pos, "@limit parameter $%s must be Int, got %s", v.Name, p.Type)
			return nil
		}
		return ParamValue{Param: p}
	}
	r.d.errorf(e.Position(), "@limit takes an integer or an Int parameter")
	return nil
}

// cond resolves a @where expression on t.
func (r *resolver) cond(t *Table, e ast.Expr) Cond {
	switch v := e.(type) {
	case *ast.Binary:
		if v.Op.IsLogical() {
			l := r.cond(t, v.Left)
			rc := r.cond(t, v.Right)
			if l == nil || rc == nil {
				return nil
			}
			if v.Op == ast.OpAnd {
				return CondAnd{Left: l, Right: rc}
			}
			return CondOr{Left: l, Right: rc}
		}
		return r.compare(t, v)
	case *ast.Ident:
		if col := t.Column(v.Name); col != nil && col.Type.Kind == KindBool {
			return CondCmp{Op: ast.OpEq, Left: ColumnValue{Column: col}, Right: LiteralValue{Value: true, Type: Type{Kind: KindBool}}}
		}
	}
	r.d.errorf(e.Position(), "@where needs a condition, got %s", e)
	return nil
}

func (r *resolver) compare(t *Table, b *ast.Binary) Cond {
	isTag := func(e ast.Expr) bool {
		id, ok := e.(*ast.Ident)
		return ok && isUpperName(id.Name) && t.Column(id.Name) == nil
	}
	var left, right Value
	switch {
	case isTag(b.Left) && isTag(b.Right):
		r.d.errorf(b.Pos, "cannot compare %s with %s", b.Left, b.Right)
		return nil
	case isTag(b.Left):
		if right = r.value(t, b.Right, nil, true); right == nil {
			return nil
		}
		rt := right.ValueType()
		left = r.value(t, b.Left, &rt, true)
	default:
		if left = r.value(t, b.Left, nil, true); left == nil {
			return nil
		}
		lt := left.ValueType()
		right = r.value(t, b.Right, &lt, true)
	}
	if left == nil || right == nil {
		return nil
	}
	if IsNullValue(left) || IsNullValue(right) {
		if b.Op != ast.OpEq && b.Op != ast.OpNe {
			r.d.errorf(b.Pos, "Null can only be compared with == or !=")
			return nil
		}
		return CondCmp{Op: b.Op, Left: left, Right: right}
	}
	lt, rt := left.ValueType(), right.ValueType()
	if !comparable(lt, rt) {
		r.d.errorf(b.Pos, "cannot compare %s (%s) with %s (%s)", b.Left, lt, b.Right, rt)
		return nil
	}
	if b.Op != ast.OpEq && b.Op != ast.OpNe && !(lt.numeric() || lt.Kind == KindString) {
		r.d.errorf(b.Pos, "operator %s needs numbers or strings, got %s", b.Op, lt)
		return nil
	}
	return CondCmp{Op: b.Op, Left: left, Right: right}
}
