// Package callsite finds generation calls in template source, records the
// filter pipeline written after each call and rewrites the source so every
// call carries its positional id.
package callsite

import (
	"fmt"
	"sort"
	"strings"
)

// Filter is one filter reference from a pipeline. Args holds the literal
// arguments written after the name.
type Filter struct {
	Name string
	Args []any
}

func (f Filter) String() string {
	if len(f.Args) == 0 {
		return f.Name
	}
	parts := make([]string, len(f.Args))
	for i, arg := range f.Args {
		if s, ok := arg.(string); ok {
			parts[i] = fmt.Sprintf("%q", s)
			continue
		}
		parts[i] = fmt.Sprint(arg)
	}
	return f.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Table maps call-site ids to their filter chains. Ids are assigned from 0 in
// the order calls appear in the source.
type Table map[int][]Filter

// Chain returns the filters recorded for id.
func (t Table) Chain(id int) []Filter {
	return t[id]
}

// Names returns the bare filter names recorded for id.
func (t Table) Names(id int) []string {
	chain := t[id]
	if len(chain) == 0 {
		return nil
	}
	names := make([]string, len(chain))
	for i, f := range chain {
		names[i] = f.Name
	}
	return names
}

// IDs returns the recorded ids in ascending order.
func (t Table) IDs() []int {
	ids := make([]int, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Site locates a call in the original source.
type Site struct {
	ID     int
	Line   int
	Column int
	Call   string
}

// Result is the outcome of Extract.
type Result struct {
	Source string
	Table  Table
	Sites  []Site
}
