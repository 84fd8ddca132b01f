package compiler

import (
	"github.com/pthm/loam/pkg/schema"
)

// Export is the serializable form of a compilation: the schema IR plus
// every batch. The CLI prints it as JSON or YAML.
type Export struct {
	Schema     SchemaIR `json:"schema"`
	Operations []*Batch `json:"operations"`
}

// SchemaIR describes the validated schema.
type SchemaIR struct {
	Tables  []TableIR `json:"tables"`
	Unions  []UnionIR `json:"unions,omitempty"`
	Session []FieldIR `json:"session,omitempty"`
}

// TableIR describes one table.
type TableIR struct {
	Record         string            `json:"record"`
	Name           string            `json:"name"`
	Layer          int               `json:"layer"`
	Public         bool              `json:"public,omitempty"`
	Watch          bool              `json:"watch,omitempty"`
	Columns        []ColumnIR        `json:"columns"`
	Links          []LinkIR          `json:"links,omitempty"`
	Headers        []string          `json:"headers"`
	Permissions    map[string]string `json:"permissions,omitempty"`
	PermissionHash string            `json:"permission_hash"`
}

// ColumnIR describes one language-level column.
type ColumnIR struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
	Unique     bool   `json:"unique,omitempty"`
	Index      bool   `json:"index,omitempty"`
	Default    string `json:"default,omitempty"`
}

// LinkIR describes one link.
type LinkIR struct {
	Name          string `json:"name"`
	Target        string `json:"target"`
	LocalColumn   string `json:"local_column"`
	ForeignColumn string `json:"foreign_column"`
	Cardinality   string `json:"cardinality"`
}

// UnionIR describes a tagged union.
type UnionIR struct {
	Name     string      `json:"name"`
	Variants []VariantIR `json:"variants"`
}

// VariantIR is one union arm.
type VariantIR struct {
	Name   string    `json:"name"`
	Fields []FieldIR `json:"fields,omitempty"`
}

// FieldIR is a named, typed field.
type FieldIR struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Export returns the serializable form of c.
func (c *Compiled) Export() Export {
	ops := c.Batches
	if ops == nil {
		ops = []*Batch{}
	}
	return Export{Schema: ExportSchema(c.Context), Operations: ops}
}

// ExportSchema converts ctx into its IR. Restricted tables list their
// permission predicate per operation.
func ExportSchema(ctx *schema.Context) SchemaIR {
	ir := SchemaIR{Tables: make([]TableIR, 0, len(ctx.Tables))}
	for _, t := range ctx.Tables {
		tir := TableIR{
			Record:         t.Record,
			Name:           t.Name,
			Layer:          t.Layer,
			Public:         t.Public,
			Watch:          t.Watch,
			Headers:        ctx.Headers(t),
			PermissionHash: t.PermissionHash(),
		}
		for _, col := range t.Columns {
			cir := ColumnIR{
				Name:       col.Name,
				Type:       col.Type.String(),
				PrimaryKey: col.PrimaryKey,
				Unique:     col.Unique,
				Index:      col.Index,
			}
			if col.Default != nil {
				cir.Default = col.Default.SQL()
			}
			tir.Columns = append(tir.Columns, cir)
		}
		for _, l := range t.Links {
			tir.Links = append(tir.Links, LinkIR{
				Name:          l.Name,
				Target:        l.Target,
				LocalColumn:   l.LocalColumn,
				ForeignColumn: l.ForeignColumn,
				Cardinality:   l.Cardinality.String(),
			})
		}
		if t.Restricted() {
			tir.Permissions = make(map[string]string, len(schema.AllOps))
			for _, op := range schema.AllOps {
				tir.Permissions[string(op)] = t.Permission(op).String()
			}
		}
		ir.Tables = append(ir.Tables, tir)
	}
	for _, u := range ctx.Unions {
		uir := UnionIR{Name: u.Name}
		for _, v := range u.Variants {
			vir := VariantIR{Name: v.Name}
			for _, f := range v.Fields {
				vir.Fields = append(vir.Fields, FieldIR{Name: f.Name, Type: f.Type.String()})
			}
			uir.Variants = append(uir.Variants, vir)
		}
		ir.Unions = append(ir.Unions, uir)
	}
	if ctx.Session != nil {
		for _, f := range ctx.Session.Fields {
			ir.Session = append(ir.Session, FieldIR{Name: f.Name, Type: f.Type.String()})
		}
	}
	return ir
}
