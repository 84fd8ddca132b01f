package schema

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Op is an operation a permission rule can cover.
type Op string

const (
	OpQuery  Op = "query"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// AllOps lists every Op in a stable order.
var AllOps = []Op{OpQuery, OpInsert, OpUpdate, OpDelete}

// Context is the validated schema. It is immutable once Typecheck returns
// it and safe to share between goroutines.
type Context struct {
	// Tables in declaration order.
	Tables  []*Table
	Unions  []*Union
	Session *Session

	byRecord map[string]*Table
	byName   map[string]*Table
	byField  map[string]*Table
	unions   map[string]*Union
}

// Table returns the table for a record name, or nil.
func (c *Context) Table(record string) *Table {
	return c.byRecord[record]
}

// TableByName returns the table with the given physical name, or nil.
func (c *Context) TableByName(name string) *Table {
	return c.byName[name]
}

// TableForField returns the table a top-level query field names: the
// record name with its first letter lowered (`post` for Post).
func (c *Context) TableForField(name string) *Table {
	return c.byField[name]
}

// Union returns the named union, or nil.
func (c *Context) Union(name string) *Union {
	return c.unions[name]
}

// SyncOrder returns the tables ordered by sync layer, then declaration
// order. Referenced tables always come before the tables that reference
// them.
func (c *Context) SyncOrder() []*Table {
	out := make([]*Table, len(c.Tables))
	copy(out, c.Tables)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Layer < out[j].Layer
	})
	return out
}

// Table is a resolved record.
type Table struct {
	Record  string
	Name    string
	Columns []*Column
	Links   []*Link
	Public  bool
	Watch   bool
	// Layer is greater than the layer of every table this one references.
	Layer int
	Rules []*Rule

	perms    map[Op]Pred
	permHash string
}

// Rule is one @allow rule.
type Rule struct {
	Ops  []Op
	Pred Pred
}

// Column returns the named column or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Link returns the named link or nil.
func (t *Table) Link(name string) *Link {
	for _, l := range t.Links {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// PrimaryKey returns the @id column.
func (t *Table) PrimaryKey() *Column {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c
		}
	}
	return nil
}

// Restricted reports whether any @allow rule applies to the table.
func (t *Table) Restricted() bool {
	return !t.Public && len(t.Rules) > 0
}

// Permission returns the predicate gating op. Unrestricted tables return
// Const{true}; restricted tables with no rule for op return Const{false}.
func (t *Table) Permission(op Op) Pred {
	if p, ok := t.perms[op]; ok {
		return p
	}
	return Const{Value: true}
}

// PermissionHash identifies the current query predicate. A client cursor
// holding another hash must resync the table from scratch.
func (t *Table) PermissionHash() string {
	return t.permHash
}

// Column is a resolved scalar field.
type Column struct {
	Name       string
	Type       Type
	PrimaryKey bool
	Unique     bool
	Index      bool
	Default    *Default
	// Synthesized marks createdAt/updatedAt columns added by the typechecker.
	Synthesized bool
}

// Default is a column default.
type Default struct {
	// Now is true for @default(now): the current unix time.
	Now bool
	// Value is int64, float64, string, bool or nil. Union defaults hold the
	// variant tag.
	Value any
	// VariantFields holds the field values of a union default.
	VariantFields map[string]any
}

// SQL renders the default as a SQLite column default expression.
func (d *Default) SQL() string {
	if d.Now {
		return "(unixepoch())"
	}
	return SQLLiteral(d.Value)
}

// SQLLiteral renders a Go value as a SQLite literal. Bools are 1 and 0.
func SQLLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		return s
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	}
	return "NULL"
}

// Cardinality describes a link from its owning table's side.
type Cardinality int

const (
	// OneToMany: one owner row has many target rows. The target holds the key.
	OneToMany Cardinality = iota
	// ManyToOne: many owner rows point at one target row. The owner holds the key.
	ManyToOne
	// OneToOne: at most one row on each side.
	OneToOne
)

func (c Cardinality) String() string {
	switch c {
	case OneToMany:
		return "OneToMany"
	case ManyToOne:
		return "ManyToOne"
	case OneToOne:
		return "OneToOne"
	}
	return "Cardinality(" + strconv.Itoa(int(c)) + ")"
}

// Link is one side of a relationship. Tables refer to each other by record
// name through the Context, never by pointer.
type Link struct {
	Name   string
	Table  string // owning record
	Target string // target record
	// LocalColumn is on the owning table, ForeignColumn on the target.
	LocalColumn   string
	ForeignColumn string
	Cardinality   Cardinality
	// HoldsKey is true when LocalColumn references Target.ForeignColumn.
	HoldsKey bool
	// Reverse names the reciprocal link on Target.
	Reverse     string
	Synthesized bool
}

// Many reports whether the link yields a list.
func (l *Link) Many() bool { return l.Cardinality == OneToMany }

// ForeignKey is a reference from a storage column to another table.
type ForeignKey struct {
	Table  string
	Column string
}

// StorageColumn is a physical SQLite column. Union columns expand to a tag
// column plus one nullable column per variant field named
// `<column>__<field>`.
type StorageColumn struct {
	Name       string
	Type       StorageType
	NotNull    bool
	PrimaryKey bool
	Unique     bool
	Index      bool
	// Default is a SQL expression, empty when there is none.
	Default    string
	References *ForeignKey
	// Column is the language-level column this storage column belongs to.
	Column string
	// VariantField is set for union field columns.
	VariantField string
}

// VariantColumnName returns the storage column for a union field.
func VariantColumnName(column, field string) string {
	return column + "__" + field
}

// StorageColumns returns the physical columns of t in order.
func (c *Context) StorageColumns(t *Table) []StorageColumn {
	refs := make(map[string]*ForeignKey)
	for _, l := range t.Links {
		if !l.HoldsKey {
			continue
		}
		target := c.Table(l.Target)
		if target == nil {
			continue
		}
		refs[l.LocalColumn] = &ForeignKey{Table: target.Name, Column: l.ForeignColumn}
	}
	var out []StorageColumn
	for _, col := range t.Columns {
		sc := StorageColumn{
			Name:       col.Name,
			Type:       col.Type.Kind.Storage(),
			NotNull:    !col.Type.Nullable,
			PrimaryKey: col.PrimaryKey,
			Unique:     col.Unique && !col.PrimaryKey,
			Index:      col.Index && !col.Unique && !col.PrimaryKey,
			References: refs[col.Name],
			Column:     col.Name,
		}
		if col.Default != nil {
			sc.Default = col.Default.SQL()
		}
		out = append(out, sc)
		if col.Type.Kind != KindUnion {
			continue
		}
		u := c.Union(col.Type.Union)
		for _, name := range u.FieldNames() {
			fc := StorageColumn{
				Name:         VariantColumnName(col.Name, name),
				Type:         unionFieldType(u, name).Kind.Storage(),
				Column:       col.Name,
				VariantField: name,
			}
			if col.Default != nil {
				if v, ok := col.Default.VariantFields[name]; ok && v != nil {
					fc.Default = SQLLiteral(v)
				}
			}
			out = append(out, fc)
		}
	}
	return out
}

// unionFieldType returns the type of a field name shared across variants.
func unionFieldType(u *Union, name string) Type {
	for _, v := range u.Variants {
		if f := v.Field(name); f != nil {
			return f.Type
		}
	}
	return Type{Kind: KindString, Nullable: true}
}

// Headers returns the storage column names of t, the order used for
// affected rows and catch-up pages.
func (c *Context) Headers(t *Table) []string {
	cols := c.StorageColumns(t)
	out := make([]string, len(cols))
	for i, sc := range cols {
		out[i] = sc.Name
	}
	return out
}

// DefaultTableName is the snake_case plural used when no @tablename is set.
func DefaultTableName(record string) string {
	var b strings.Builder
	prevLower := false
	for i, r := range record {
		if unicode.IsUpper(r) {
			if i > 0 && prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
			continue
		}
		b.WriteRune(r)
		prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
	}
	return b.String() + "s"
}

// FieldName is the query field for a record: its name with the first
// letter lowered.
func FieldName(record string) string {
	r, size := utf8.DecodeRuneInString(record)
	return string(unicode.ToLower(r)) + record[size:]
}
