package emit

import (
	"fmt"
	"sort"

	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/resolver"
)

// AllTypes returns every emittable type of g in canonical order: all
// structures except constraint profiles. Extension definitions are kept;
// Options.ExtensionSupport decides on them.
func AllTypes(g *resolver.Graph) []*resolver.Type {
	var out []*resolver.Type
	for _, t := range g.Types() {
		if t.Record.IsConstraint() && t.Kind() != definition.KindExtension {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Target selects the named types (short names or canonical URLs) together
// with every type they reference, transitively: ancestors and element
// types. The result is in canonical order. No names selects AllTypes.
func Target(g *resolver.Graph, names ...string) ([]*resolver.Type, error) {
	if len(names) == 0 {
		return AllTypes(g), nil
	}

	seen := make(map[string]*resolver.Type)
	var queue []*resolver.Type
	for _, name := range names {
		t, ok := g.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("target type %q is not in the graph", name)
		}
		if _, dup := seen[t.URL()]; !dup {
			seen[t.URL()] = t
			queue = append(queue, t)
		}
	}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		for _, url := range t.Dependencies() {
			if _, ok := seen[url]; ok {
				continue
			}
			dep, ok := g.Lookup(url)
			if !ok {
				continue
			}
			seen[url] = dep
			queue = append(queue, dep)
		}
	}

	out := make([]*resolver.Type, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL() < out[j].URL() })
	return out, nil
}

// Sort returns types in the given order. Within each group types stay in
// canonical URL order.
func Sort(types []*resolver.Type, order Order) []*resolver.Type {
	out := append([]*resolver.Type(nil), types...)
	rank := func(t *resolver.Type) int { return 0 }
	switch order {
	case OrderResourceFirst:
		rank = func(t *resolver.Type) int {
			if t.Kind() == definition.KindResource {
				return 0
			}
			return 1
		}
	case OrderElementFirst:
		rank = func(t *resolver.Type) int {
			switch t.URL() {
			case definition.BaseURL + "Element":
				return 0
			case definition.BaseURL + "BackboneElement":
				return 1
			}
			return 2
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i].URL() < out[j].URL()
	})
	return out
}
