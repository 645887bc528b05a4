package resolver

import (
	"sort"
	"strings"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
)

// SystemPrefix marks the FHIRPath system types used for primitive values
// ("http://hl7.org/fhirpath/System.String").
const SystemPrefix = "http://hl7.org/fhirpath/System."

// Origin tells where a reference was resolved.
type Origin uint8

const (
	// OriginNone is an unresolved reference.
	OriginNone Origin = iota
	// OriginCollection is a record of the loaded collection.
	OriginCollection
	// OriginBase is a record of the embedded base definitions.
	OriginBase
	// OriginSystem is a FHIRPath system type; it has no record.
	OriginSystem
)

// Ref points at a resolved definition: a slot in the collection (or base
// collection) named by Origin.
type Ref struct {
	URL    string
	Slot   int
	Kind   definition.Kind
	Origin Origin
}

// Resolved reports whether the reference found a definition.
func (r Ref) Resolved() bool {
	return r.Origin != OriginNone
}

// IsSystem reports whether the reference is a FHIRPath system type.
func (r Ref) IsSystem() bool {
	return r.Origin == OriginSystem
}

// SystemName returns "String" for "http://hl7.org/fhirpath/System.String".
func (r Ref) SystemName() string {
	return strings.TrimPrefix(r.URL, SystemPrefix)
}

// TypeRef is an element type reference together with its resolution.
type TypeRef struct {
	definition.TypeReference

	Ref     Ref
	Targets []Ref
}

// Element is an element of a resolved type.
type Element struct {
	*definition.Element

	// Types keeps declaration order; the first entry is the representative.
	Types []TypeRef

	// ValueSet is the bound value set, when it resolved.
	ValueSet Ref

	// Content is the element a contentReference points at.
	Content *Element
}

// Representative returns the first declared type.
func (e *Element) Representative() (TypeRef, bool) {
	if len(e.Types) == 0 {
		return TypeRef{}, false
	}
	return e.Types[0], true
}

// IsSlice reports whether the element describes a slice of another element.
func (e *Element) IsSlice() bool {
	return strings.Contains(e.ID, ":")
}

// IsBackbone reports whether the element declares an inline structure
// (BackboneElement or Element with children of its own).
func (e *Element) IsBackbone() bool {
	rep, ok := e.Representative()
	if !ok || len(e.Types) != 1 {
		return false
	}
	code := rep.Name()
	return code == "BackboneElement" || code == "Element"
}

// Type is a resolved structure definition.
type Type struct {
	Record *definition.Record
	Ref    Ref

	// Chain lists the type followed by its ancestors up to the root.
	// It is nil when the type takes part in an inheritance cycle.
	Chain []Ref

	// Failed is set when the inheritance chain could not be built.
	Failed bool

	Elements []*Element
	byPath   map[string]*Element
}

// Name returns the record's short name.
func (t *Type) Name() string {
	return t.Record.Name
}

// URL returns the record's canonical URL.
func (t *Type) URL() string {
	return t.Record.URL
}

// Kind returns the record's kind.
func (t *Type) Kind() definition.Kind {
	return t.Record.Kind
}

// Element returns the non-slice element at path.
func (t *Type) Element(path string) (*Element, bool) {
	e, ok := t.byPath[path]
	return e, ok
}

// Root returns the element describing the type itself.
func (t *Type) Root() (*Element, bool) {
	return t.Element(t.Record.Root())
}

// Children returns the direct, non-slice children of path in declaration
// order.
func (t *Type) Children(path string) []*Element {
	prefix := path + "."
	var out []*Element
	for _, e := range t.Elements {
		if e.IsSlice() || !strings.HasPrefix(e.Path, prefix) {
			continue
		}
		if !strings.Contains(e.Path[len(prefix):], ".") {
			out = append(out, e)
		}
	}
	return out
}

// Parent returns the reference to the direct base type, if any.
func (t *Type) Parent() (Ref, bool) {
	if len(t.Chain) < 2 {
		return Ref{}, false
	}
	return t.Chain[1], true
}

// Dependencies returns the canonical URLs of the structures this type
// refers to: its parent and the types of its elements. System types and
// value sets are excluded. The result is sorted.
func (t *Type) Dependencies() []string {
	seen := make(map[string]struct{})
	add := func(r Ref) {
		if !r.Resolved() || r.IsSystem() || r.Kind == definition.KindValueSet || r.URL == t.URL() {
			return
		}
		seen[r.URL] = struct{}{}
	}
	if p, ok := t.Parent(); ok {
		add(p)
	}
	for _, e := range t.Elements {
		for _, tr := range e.Types {
			add(tr.Ref)
		}
	}
	out := make([]string, 0, len(seen))
	for url := range seen {
		out = append(out, url)
	}
	sort.Strings(out)
	return out
}

// Graph is the resolved, read-only view of a collection. Emitters, the
// converter and the diff engine consume it.
type Graph struct {
	Collection *definition.Collection
	// Base is the embedded base collection used for fallback lookups; nil
	// when fallback is disabled.
	Base *definition.Collection

	types map[string]*Type
	order []*Type
}

// Version returns the FHIR version of the underlying collection.
func (g *Graph) Version() string {
	return g.Collection.Version()
}

// Types returns every resolved type sorted by canonical URL. Base
// definitions appear only when something in the collection referenced them.
func (g *Graph) Types() []*Type {
	return g.order
}

// TypesOfKind returns the resolved types of one kind sorted by canonical URL.
func (g *Graph) TypesOfKind(kinds ...definition.Kind) []*Type {
	var out []*Type
	for _, t := range g.order {
		for _, k := range kinds {
			if t.Kind() == k {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// TypeOf returns the resolved type a reference points at.
func (g *Graph) TypeOf(r Ref) (*Type, bool) {
	if !r.Resolved() || r.IsSystem() {
		return nil, false
	}
	t, ok := g.types[r.URL]
	return t, ok
}

// Lookup finds a resolved type by canonical URL or short name.
func (g *Graph) Lookup(name string) (*Type, bool) {
	if t, ok := g.types[name]; ok {
		return t, true
	}
	for _, c := range []*definition.Collection{g.Collection, g.Base} {
		if c == nil {
			continue
		}
		if r, ok := c.ByCanonicalName(name); ok {
			if t, ok := g.types[r.URL]; ok {
				return t, true
			}
		}
	}
	return nil, false
}

// Record returns the record a reference points at.
func (g *Graph) Record(r Ref) *definition.Record {
	switch r.Origin {
	case OriginCollection:
		return g.Collection.At(r.Slot)
	case OriginBase:
		if g.Base != nil {
			return g.Base.At(r.Slot)
		}
	}
	return nil
}

// ValueSet returns the value set record a reference points at.
func (g *Graph) ValueSet(r Ref) (*definition.Record, bool) {
	if r.Kind != definition.KindValueSet {
		return nil, false
	}
	rec := g.Record(r)
	return rec, rec != nil
}

// Release returns the graph's FHIR release, R4 when the version is unknown.
func (g *Graph) Release() fc.FHIRVersion {
	if v, ok := fc.ParseVersion(g.Version()); ok {
		return v
	}
	return fc.R4
}

func newGraph(coll, base *definition.Collection) *Graph {
	return &Graph{
		Collection: coll,
		Base:       base,
		types:      make(map[string]*Type),
	}
}

func (g *Graph) add(t *Type) {
	if _, dup := g.types[t.URL()]; dup {
		return
	}
	g.types[t.URL()] = t
	g.order = append(g.order, t)
}

func (g *Graph) sort() {
	sort.Slice(g.order, func(i, j int) bool { return g.order[i].URL() < g.order[j].URL() })
}
