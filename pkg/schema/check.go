package schema

import (
	"encoding/json"
	"strings"

	"github.com/pthm/loam/pkg/ast"
)

// reservedPrefixes are table name prefixes owned by loam or SQLite.
var reservedPrefixes = []string{"_loam_", "sqlite_"}

// Typecheck validates parsed schema files and builds a Context. All
// independent errors are collected; the returned error is then an Errors
// value and no Context is returned.
func Typecheck(files ...*ast.Schema) (*Context, error) {
	c := &checker{
		ctx: &Context{
			byRecord: make(map[string]*Table),
			byName:   make(map[string]*Table),
			byField:  make(map[string]*Table),
			unions:   make(map[string]*Union),
		},
		recordPos: make(map[string]ast.Pos),
		linkPos:   make(map[*Link]ast.Pos),
	}
	c.register(files)
	c.resolveUnions()
	c.resolveSession()
	c.resolveColumns()
	c.resolveLinks()
	c.computeLayers()
	c.resolvePermissions()
	if err := c.d.err(); err != nil {
		return nil, err
	}
	return c.ctx, nil
}

type checker struct {
	d   diag
	ctx *Context

	records   []*ast.Record
	unionDefs []*ast.Union
	session   *ast.Session
	recordPos map[string]ast.Pos
	linkPos   map[*Link]ast.Pos
}

// register declares every record, union and the session before anything
// is resolved, so definitions may reference names declared later.
func (c *checker) register(files []*ast.Schema) {
	declared := make(map[string]ast.Pos)
	declare := func(name string, pos ast.Pos, what string) bool {
		if _, ok := primitiveKinds[name]; ok {
			c.d.errorf(pos, "%s name %q shadows a primitive type", what, name)
			return false
		}
		if prev, ok := declared[name]; ok {
			c.d.errorf(pos, "%q is already declared at %s", name, prev)
			return false
		}
		declared[name] = pos
		return true
	}
	var sessionPos ast.Pos
	for _, f := range files {
		if f == nil {
			continue
		}
		if f.Session != nil {
			if c.session != nil {
				c.d.errorf(f.Session.Pos, "duplicate session block (first declared at %s)", sessionPos)
			} else {
				c.session = f.Session
				sessionPos = f.Session.Pos
			}
		}
		for _, u := range f.Unions {
			if !declare(u.Name, u.Pos, "type") {
				continue
			}
			c.unionDefs = append(c.unionDefs, u)
			union := &Union{Name: u.Name}
			c.ctx.Unions = append(c.ctx.Unions, union)
			c.ctx.unions[u.Name] = union
		}
		for _, r := range f.Records {
			if !declare(r.Name, r.Pos, "record") {
				continue
			}
			name := r.TableName
			if name == "" {
				name = DefaultTableName(r.Name)
			}
			for _, prefix := range reservedPrefixes {
				if strings.HasPrefix(strings.ToLower(name), prefix) {
					c.d.errorf(r.Pos, "table name %q uses the reserved prefix %q", name, prefix)
				}
			}
			if other, ok := c.ctx.byName[name]; ok {
				c.d.errorf(r.Pos, "record %s maps to table %q, already used by record %s", r.Name, name, other.Record)
				continue
			}
			t := &Table{Record: r.Name, Name: name, Public: r.Public, Watch: r.Watch}
			c.records = append(c.records, r)
			c.recordPos[r.Name] = r.Pos
			c.ctx.Tables = append(c.ctx.Tables, t)
			c.ctx.byRecord[r.Name] = t
			c.ctx.byName[name] = t
			c.ctx.byField[FieldName(r.Name)] = t
		}
	}
}

func (c *checker) resolveType(ref ast.TypeRef) (Type, bool) {
	if k, ok := primitiveKinds[ref.Name]; ok {
		return Type{Kind: k, Nullable: ref.Nullable}, true
	}
	if _, ok := c.ctx.unions[ref.Name]; ok {
		return Type{Kind: KindUnion, Union: ref.Name, Nullable: ref.Nullable}, true
	}
	if _, ok := c.ctx.byRecord[ref.Name]; ok {
		c.d.errorf(ref.Pos, "%s is a record; use @link to reference it", ref.Name)
		return Type{}, false
	}
	c.d.errorf(ref.Pos, "unknown type %q", ref.Name)
	return Type{}, false
}

func (c *checker) resolveUnions() {
	for _, def := range c.unionDefs {
		u := c.ctx.unions[def.Name]
		fieldTypes := make(map[string]Type)
		for _, vd := range def.Variants {
			if u.Variant(vd.Name) != nil {
				c.d.errorf(vd.Pos, "duplicate variant %s in type %s", vd.Name, def.Name)
				continue
			}
			v := &Variant{Name: vd.Name}
			for _, fd := range vd.Fields {
				if v.Field(fd.Name) != nil {
					c.d.errorf(fd.Pos, "duplicate field %s in variant %s", fd.Name, vd.Name)
					continue
				}
				typ, ok := c.resolveType(fd.Type)
				if !ok {
					continue
				}
				if typ.Kind == KindUnion {
					c.d.errorf(fd.Type.Pos, "variant fields must be primitive types, got %s", typ)
					continue
				}
				if prev, ok := fieldTypes[fd.Name]; ok && prev.Kind.Storage() != typ.Kind.Storage() {
					c.d.errorf(fd.Pos, "field %s of %s.%s conflicts with another variant's %s field of type %s", fd.Name, def.Name, vd.Name, fd.Name, prev)
					continue
				}
				fieldTypes[fd.Name] = typ
				v.Fields = append(v.Fields, &VariantField{Name: fd.Name, Type: typ})
			}
			u.Variants = append(u.Variants, v)
		}
		if len(u.Variants) == 0 {
			c.d.errorf(def.Pos, "type %s has no variants", def.Name)
		}
	}
}

func (c *checker) resolveSession() {
	if c.session == nil {
		return
	}
	s := &Session{}
	for _, fd := range c.session.Fields {
		if s.Field(fd.Name) != nil {
			c.d.errorf(fd.Pos, "duplicate session field %s", fd.Name)
			continue
		}
		typ, ok := c.resolveType(fd.Type)
		if !ok {
			continue
		}
		s.Fields = append(s.Fields, &SessionField{Name: fd.Name, Type: typ})
	}
	c.ctx.Session = s
}

// Timestamp columns every table carries. UpdatedAtColumn is the catch-up
// watermark and is refreshed by every update.
const (
	CreatedAtColumn = "createdAt"
	UpdatedAtColumn = "updatedAt"
)

var timestampColumns = []string{CreatedAtColumn, UpdatedAtColumn}

func (c *checker) resolveColumns() {
	for _, r := range c.records {
		t := c.ctx.byRecord[r.Name]
		var pkSeen bool
		for _, fd := range r.Fields {
			if t.Column(fd.Name) != nil {
				c.d.errorf(fd.Pos, "duplicate field %s on record %s", fd.Name, r.Name)
				continue
			}
			if strings.Contains(fd.Name, "__") {
				c.d.errorf(fd.Pos, "field name %s must not contain \"__\"", fd.Name)
				continue
			}
			typ, ok := c.resolveType(fd.Type)
			if !ok {
				continue
			}
			col := &Column{Name: fd.Name, Type: typ, PrimaryKey: fd.ID, Unique: fd.Unique, Index: fd.Index}
			if fd.ID {
				switch {
				case pkSeen:
					c.d.errorf(fd.Pos, "record %s has more than one @id field", r.Name)
				case typ.Kind != KindInt || typ.Nullable:
					c.d.errorf(fd.Pos, "@id field %s must be Int, got %s", fd.Name, typ)
				}
				pkSeen = true
			}
			if typ.Kind == KindJSON && (fd.Unique || fd.Index) {
				c.d.errorf(fd.Pos, "JSON field %s cannot be @unique or @index", fd.Name)
			}
			if fd.Default != nil {
				if fd.ID {
					c.d.errorf(fd.Default.Position(), "@id field %s cannot have a default", fd.Name)
				} else {
					col.Default = c.resolveDefault(fd.Default, typ)
				}
			}
			t.Columns = append(t.Columns, col)
		}
		if !pkSeen {
			c.d.errorf(r.Pos, "record %s has no @id field", r.Name)
		}
		for _, name := range timestampColumns {
			col := t.Column(name)
			if col == nil {
				t.Columns = append(t.Columns, &Column{
					Name:        name,
					Type:        Type{Kind: KindDateTime},
					Default:     &Default{Now: true},
					Synthesized: true,
				})
				continue
			}
			if col.Type != (Type{Kind: KindDateTime}) {
				c.d.errorf(r.Pos, "%s.%s must be DateTime, got %s", r.Name, name, col.Type)
			}
		}
	}
}

func (c *checker) resolveDefault(e ast.Expr, typ Type) *Default {
	switch v := e.(type) {
	case *ast.Ident:
		if v.Name == "now" {
			return c.nowDefault(e, typ)
		}
		if typ.Kind == KindUnion {
			u := c.ctx.unions[typ.Union]
			variant := u.Variant(v.Name)
			if variant == nil {
				c.d.errorf(e.Position(), "%s is not a variant of %s", v.Name, typ.Union)
				return nil
			}
			if len(variant.Fields) > 0 {
				c.d.errorf(e.Position(), "variant %s has fields; write %s { ... } with every field", v.Name, v.Name)
				return nil
			}
			return &Default{Value: v.Name}
		}
	case *ast.Call:
		if v.Func == "now" && len(v.Args) == 0 {
			return c.nowDefault(e, typ)
		}
	case *ast.VariantLit:
		if typ.Kind != KindUnion {
			c.d.errorf(e.Position(), "variant %s is not a %s", v.Tag, typ)
			return nil
		}
		variant := c.ctx.unions[typ.Union].Variant(v.Tag)
		if variant == nil {
			c.d.errorf(e.Position(), "%s is not a variant of %s", v.Tag, typ.Union)
			return nil
		}
		fields := make(map[string]any)
		if !checkVariantFields(&c.d, v, variant, func(a *ast.Assignment, f *VariantField) bool {
			val, ok := c.literal(a.Value, f.Type)
			fields[f.Name] = val
			return ok
		}) {
			return nil
		}
		return &Default{Value: v.Tag, VariantFields: fields}
	}
	val, ok := c.literal(e, typ)
	if !ok {
		return nil
	}
	return &Default{Value: val}
}

func (c *checker) nowDefault(e ast.Expr, typ Type) *Default {
	if typ.Kind != KindDateTime {
		c.d.errorf(e.Position(), "now is only valid for DateTime fields, not %s", typ)
		return nil
	}
	return &Default{Now: true}
}

// checkVariantFields requires every field of the variant, and nothing else.
// each is called for every matching assignment.
func checkVariantFields(d *diag, v *ast.VariantLit, variant *Variant, each func(*ast.Assignment, *VariantField) bool) bool {
	ok := true
	given := make(map[string]bool)
	for _, a := range v.Fields {
		f := variant.Field(a.Field)
		if f == nil {
			d.errorf(a.Pos, "variant %s has no field %s", variant.Name, a.Field)
			ok = false
			continue
		}
		if given[a.Field] {
			d.errorf(a.Pos, "field %s given twice", a.Field)
			ok = false
			continue
		}
		given[a.Field] = true
		if !each(a, f) {
			ok = false
		}
	}
	for _, f := range variant.Fields {
		if !given[f.Name] {
			d.errorf(v.Pos, "variant %s is missing field %s; every field must be given", variant.Name, f.Name)
			ok = false
		}
	}
	return ok
}

// literal checks a constant expression against typ and returns its value.
func (c *checker) literal(e ast.Expr, typ Type) (any, bool) {
	switch v := e.(type) {
	case *ast.NullLit:
		if !typ.Nullable {
			c.d.errorf(e.Position(), "Null is not a valid %s", typ)
			return nil, false
		}
		return nil, true
	case *ast.IntLit:
		switch typ.Kind {
		case KindInt, KindDateTime:
			return v.Value, true
		case KindFloat:
			return float64(v.Value), true
		}
	case *ast.FloatLit:
		if typ.Kind == KindFloat {
			return v.Value, true
		}
	case *ast.StringLit:
		switch typ.Kind {
		case KindString:
			return v.Value, true
		case KindJSON:
			if !json.Valid([]byte(v.Value)) {
				c.d.errorf(e.Position(), "default for JSON field is not valid JSON")
				return nil, false
			}
			return v.Value, true
		}
	case *ast.BoolLit:
		if typ.Kind == KindBool {
			return v.Value, true
		}
	}
	c.d.errorf(e.Position(), "%s is not a valid %s", e, typ)
	return nil, false
}

func (c *checker) resolvePermissions() {
	for _, r := range c.records {
		t := c.ctx.byRecord[r.Name]
		if r.Public && len(r.Allows) > 0 {
			c.d.errorf(r.PublicPos, "@public cannot be combined with @allow on record %s", r.Name)
			continue
		}
		for _, a := range r.Allows {
			rule := &Rule{}
			seen := make(map[Op]bool)
			for _, name := range a.Ops {
				var ops []Op
				switch name {
				case "*":
					ops = AllOps
				case "query", "insert", "update", "delete":
					ops = []Op{Op(name)}
				default:
					c.d.errorf(a.Pos, "unknown operation %q in @allow; expected query, insert, update, delete or *", name)
				}
				for _, op := range ops {
					if !seen[op] {
						seen[op] = true
						rule.Ops = append(rule.Ops, op)
					}
				}
			}
			p, ok := c.predicate(t, a.Expr)
			if !ok {
				continue
			}
			rule.Pred = p
			t.Rules = append(t.Rules, rule)
		}
		c.buildPermissions(t)
	}
}

func (c *checker) buildPermissions(t *Table) {
	t.perms = make(map[Op]Pred)
	if t.Restricted() {
		for _, op := range AllOps {
			var p Pred
			for _, rule := range t.Rules {
				for _, ruleOp := range rule.Ops {
					if ruleOp != op {
						continue
					}
					if p == nil {
						p = rule.Pred
					} else {
						p = Or{Left: p, Right: rule.Pred}
					}
				}
			}
			if p == nil {
				p = Const{Value: false}
			}
			t.perms[op] = p
		}
	}
	t.permHash = permissionHash(t.Permission(OpQuery))
}
