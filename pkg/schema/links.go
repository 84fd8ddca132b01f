package schema

import "strings"

// resolveLinks resolves every declared @link, pairs declared reciprocals and
// derives the reverse side of links declared only once.
func (c *checker) resolveLinks() {
	var declared []*Link
	for _, r := range c.records {
		t := c.ctx.byRecord[r.Name]
		for _, ld := range r.Links {
			if t.Column(ld.Name) != nil || t.Link(ld.Name) != nil {
				c.d.errorf(ld.Pos, "duplicate field %s on record %s", ld.Name, r.Name)
				continue
			}
			target := c.ctx.byRecord[ld.Target]
			if target == nil {
				c.d.errorf(ld.Pos, "link %s.%s targets unknown record %s", r.Name, ld.Name, ld.Target)
				continue
			}
			foreign := target.Column(ld.ForeignColumn)
			if foreign == nil {
				c.d.errorf(ld.Pos, "link %s.%s: %s has no field %s", r.Name, ld.Name, ld.Target, ld.ForeignColumn)
				continue
			}
			var local *Column
			if ld.LocalColumn == "" {
				local = t.PrimaryKey()
				if local == nil {
					continue // reported as a missing @id
				}
			} else if local = t.Column(ld.LocalColumn); local == nil {
				c.d.errorf(ld.Pos, "link %s.%s: %s has no field %s", r.Name, ld.Name, r.Name, ld.LocalColumn)
				continue
			}
			if local.Type.Kind != foreign.Type.Kind || local.Type.Kind == KindJSON || local.Type.Kind == KindUnion {
				c.d.errorf(ld.Pos, "link %s.%s: %s.%s (%s) cannot reference %s.%s (%s)",
					r.Name, ld.Name, r.Name, local.Name, local.Type, target.Record, foreign.Name, foreign.Type)
				continue
			}
			l := &Link{
				Name:          ld.Name,
				Table:         t.Record,
				Target:        target.Record,
				LocalColumn:   local.Name,
				ForeignColumn: foreign.Name,
			}
			switch {
			case local.PrimaryKey && foreign.PrimaryKey:
				c.d.errorf(ld.Pos, "link %s.%s joins two primary keys; link through a foreign key field instead", r.Name, ld.Name)
				continue
			case local.PrimaryKey:
				// the target holds the key
				l.Cardinality = OneToMany
				if foreign.Unique {
					l.Cardinality = OneToOne
				}
			default:
				if !foreign.PrimaryKey && !foreign.Unique {
					c.d.errorf(ld.Pos, "link %s.%s: %s.%s must be @id or @unique to be referenced", r.Name, ld.Name, target.Record, foreign.Name)
					continue
				}
				l.HoldsKey = true
				l.Cardinality = ManyToOne
				if local.Unique {
					l.Cardinality = OneToOne
				}
			}
			t.Links = append(t.Links, l)
			c.linkPos[l] = ld.Pos
			declared = append(declared, l)
		}
	}

	for _, l := range declared {
		if l.Reverse != "" {
			continue
		}
		target := c.ctx.byRecord[l.Target]
		if m := findReciprocal(target, l); m != nil {
			l.Reverse = m.Name
			m.Reverse = l.Name
			continue
		}
		rev := &Link{
			Table:         l.Target,
			Target:        l.Table,
			LocalColumn:   l.ForeignColumn,
			ForeignColumn: l.LocalColumn,
			HoldsKey:      !l.HoldsKey,
			Cardinality:   mirror(l.Cardinality),
			Reverse:       l.Name,
			Synthesized:   true,
		}
		rev.Name = FieldName(l.Table)
		if rev.Cardinality == OneToMany {
			rev.Name += "s"
		}
		if target.Column(rev.Name) != nil || target.Link(rev.Name) != nil {
			c.d.errorf(c.linkPos[l], "cannot derive the reverse of %s.%s: %s already has a field named %s; declare the link on both records",
				l.Table, l.Name, l.Target, rev.Name)
			continue
		}
		l.Reverse = rev.Name
		target.Links = append(target.Links, rev)
	}
}

// findReciprocal returns a declared link on target that describes the same
// foreign key as l from the other side.
func findReciprocal(target *Table, l *Link) *Link {
	for _, m := range target.Links {
		if m == l || m.Synthesized || m.Reverse != "" {
			continue
		}
		if m.Target == l.Table && m.HoldsKey != l.HoldsKey &&
			m.LocalColumn == l.ForeignColumn && m.ForeignColumn == l.LocalColumn {
			return m
		}
	}
	return nil
}

func mirror(c Cardinality) Cardinality {
	switch c {
	case OneToMany:
		return ManyToOne
	case ManyToOne:
		return OneToMany
	}
	return c
}

// color represents the state of a node during DFS cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // in current DFS path (cycle if revisited)
	black              // fully processed
)

// computeLayers assigns sync layers. Required foreign keys must be acyclic.
// Nullable foreign keys are added afterwards in declaration order, skipping
// any that would close a cycle; self references never count.
func (c *checker) computeLayers() {
	required := make(map[string][]string)
	type edge struct{ from, to string }
	var optional []edge
	for _, t := range c.ctx.Tables {
		for _, l := range t.Links {
			if !l.HoldsKey || l.Target == t.Record {
				continue
			}
			col := t.Column(l.LocalColumn)
			if col == nil {
				continue
			}
			if col.Type.Nullable {
				optional = append(optional, edge{from: t.Record, to: l.Target})
				continue
			}
			required[t.Record] = appendUnique(required[t.Record], l.Target)
		}
	}

	if cycle := c.findCycle(required); cycle != nil {
		c.d.cause(c.recordPos[cycle[0]], ErrCyclicSchema,
			"required foreign keys form a cycle: %s; make one of them nullable", strings.Join(cycle, " -> "))
		return
	}

	graph := make(map[string][]string, len(required))
	for k, v := range required {
		graph[k] = append([]string(nil), v...)
	}
	for _, e := range optional {
		if reachable(graph, e.to, e.from) {
			continue
		}
		graph[e.from] = appendUnique(graph[e.from], e.to)
	}

	layers := make(map[string]int)
	var layerOf func(record string) int
	layerOf = func(record string) int {
		if l, ok := layers[record]; ok {
			return l
		}
		layer := 0
		for _, dep := range graph[record] {
			if d := layerOf(dep) + 1; d > layer {
				layer = d
			}
		}
		layers[record] = layer
		return layer
	}
	for _, t := range c.ctx.Tables {
		t.Layer = layerOf(t.Record)
	}
}

// findCycle runs a three-color DFS in declaration order and returns the
// first cycle found as a closed path of record names.
func (c *checker) findCycle(graph map[string][]string) []string {
	colors := make(map[string]color)
	var stack []string
	var dfs func(n string) []string
	dfs = func(n string) []string {
		colors[n] = gray
		stack = append(stack, n)
		for _, next := range graph[n] {
			switch colors[next] {
			case gray:
				for i, s := range stack {
					if s == next {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[n] = black
		return nil
	}
	for _, t := range c.ctx.Tables {
		if colors[t.Record] == white {
			if cycle := dfs(t.Record); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func reachable(graph map[string][]string, from, to string) bool {
	seen := make(map[string]bool)
	var visit func(n string) bool
	visit = func(n string) bool {
		if n == to {
			return true
		}
		if seen[n] {
			return false
		}
		seen[n] = true
		for _, next := range graph[n] {
			if visit(next) {
				return true
			}
		}
		return false
	}
	return visit(from)
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
