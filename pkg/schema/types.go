package schema

import "fmt"

// Kind is the language-level type of a column, parameter or session field.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
	KindBool
	KindDateTime
	KindJSON
	KindUnion
)

var primitiveKinds = map[string]Kind{
	"Int":      KindInt,
	"Float":    KindFloat,
	"String":   KindString,
	"Bool":     KindBool,
	"DateTime": KindDateTime,
	"JSON":     KindJSON,
}

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindBool:
		return "Bool"
	case KindDateTime:
		return "DateTime"
	case KindJSON:
		return "JSON"
	case KindUnion:
		return "union"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Type is a resolved type reference.
type Type struct {
	Kind     Kind
	Nullable bool
	// Union names the union when Kind is KindUnion.
	Union string
}

func (t Type) String() string {
	name := t.Kind.String()
	if t.Kind == KindUnion {
		name = t.Union
	}
	if t.Nullable {
		return name + "?"
	}
	return name
}

// NonNull returns t without nullability.
func (t Type) NonNull() Type {
	t.Nullable = false
	return t
}

func (t Type) numeric() bool {
	return t.Kind == KindInt || t.Kind == KindFloat || t.Kind == KindDateTime
}

// comparable reports whether values of a and b may be compared with
// == and != (and the ordering operators when both are numeric or strings).
func comparable(a, b Type) bool {
	if a.Kind == KindJSON || b.Kind == KindJSON {
		return false
	}
	if a.numeric() && b.numeric() {
		return true
	}
	if a.Kind == KindUnion || b.Kind == KindUnion {
		return a.Kind == b.Kind && a.Union == b.Union
	}
	return a.Kind == b.Kind
}

// assignable reports whether a value of type v can be stored in a column of
// type col, ignoring nullability.
func assignable(col, v Type) bool {
	switch col.Kind {
	case KindFloat:
		return v.Kind == KindFloat || v.Kind == KindInt
	case KindDateTime:
		return v.Kind == KindDateTime || v.Kind == KindInt
	case KindUnion:
		return v.Kind == KindUnion && v.Union == col.Union
	}
	return col.Kind == v.Kind
}

// StorageType is the SQLite column type a Kind is stored as.
type StorageType string

const (
	StorageInteger StorageType = "INTEGER"
	StorageReal    StorageType = "REAL"
	StorageText    StorageType = "TEXT"
)

// Storage returns the SQLite type for k. Bools are 0/1 integers, DateTime
// values are unix seconds and union tags are text.
func (k Kind) Storage() StorageType {
	switch k {
	case KindInt, KindBool, KindDateTime:
		return StorageInteger
	case KindFloat:
		return StorageReal
	}
	return StorageText
}

// Union is a resolved tagged union.
type Union struct {
	Name     string
	Variants []*Variant
}

// Variant returns the named variant or nil.
func (u *Union) Variant(name string) *Variant {
	for _, v := range u.Variants {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// HasFields reports whether any variant carries fields. Such unions are
// shaped as objects in responses; plain enums are shaped as strings.
func (u *Union) HasFields() bool {
	for _, v := range u.Variants {
		if len(v.Fields) > 0 {
			return true
		}
	}
	return false
}

// FieldNames returns the distinct variant field names in declaration order.
func (u *Union) FieldNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, v := range u.Variants {
		for _, f := range v.Fields {
			if !seen[f.Name] {
				seen[f.Name] = true
				names = append(names, f.Name)
			}
		}
	}
	return names
}

// Variant is one arm of a union.
type Variant struct {
	Name   string
	Fields []*VariantField
}

// Field returns the named variant field or nil.
func (v *Variant) Field(name string) *VariantField {
	for _, f := range v.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// VariantField is a field carried by a variant. Variant field types are
// primitives.
type VariantField struct {
	Name string
	Type Type
}

// Session is the set of fields a connected client carries.
type Session struct {
	Fields []*SessionField
}

// Field returns the named session field or nil.
func (s *Session) Field(name string) *SessionField {
	if s == nil {
		return nil
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// SessionField is one declared session field.
type SessionField struct {
	Name string
	Type Type
}
