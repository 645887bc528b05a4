// Package diff compares two definition collections type by type and
// element by element and classifies every structural difference.
package diff

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/logger"
)

// Class classifies a difference.
type Class string

const (
	Added          Class = "added"
	Removed        Class = "removed"
	Narrowed       Class = "narrowed"
	Widened        Class = "widened"
	Retyped        Class = "retyped"
	BindingChanged Class = "binding-changed"
)

// Classes lists every class in report order.
var Classes = []Class{Added, Removed, Narrowed, Widened, Retyped, BindingChanged}

// Entry is one difference. For an added or removed type, Path is the
// type's short name; for value set codes it is "system|code".
type Entry struct {
	TypeURL string `json:"type" yaml:"type"`
	Path    string `json:"path" yaml:"path"`
	Class   Class  `json:"class" yaml:"class"`
	Before  string `json:"before,omitempty" yaml:"before,omitempty"`
	After   string `json:"after,omitempty" yaml:"after,omitempty"`
}

func (e Entry) String() string {
	switch {
	case e.Before != "" && e.After != "":
		return fmt.Sprintf("%s %s %s: %s -> %s", e.Class, e.TypeURL, e.Path, e.Before, e.After)
	case e.After != "":
		return fmt.Sprintf("%s %s %s: %s", e.Class, e.TypeURL, e.Path, e.After)
	case e.Before != "":
		return fmt.Sprintf("%s %s %s: %s", e.Class, e.TypeURL, e.Path, e.Before)
	}
	return fmt.Sprintf("%s %s %s", e.Class, e.TypeURL, e.Path)
}

// Result holds the ordered differences between two collections.
type Result struct {
	From, To string
	Entries  []Entry
}

// Empty reports whether the collections are structurally equal.
func (r *Result) Empty() bool {
	return len(r.Entries) == 0
}

// Filter returns the entries of one class.
func (r *Result) Filter(class Class) []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Class == class {
			out = append(out, e)
		}
	}
	return out
}

// Summary counts the entries per class.
func (r *Result) Summary() map[Class]int {
	out := make(map[Class]int, len(Classes))
	for _, e := range r.Entries {
		out[e.Class]++
	}
	return out
}

// WriteText writes a human readable report: a header, one aligned line per
// entry and the per-class counts.
func (r *Result) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Comparing %s -> %s\n\n", r.From, r.To)
	if r.Empty() {
		fmt.Fprintln(tw, "No differences.")
		return tw.Flush()
	}
	for _, e := range r.Entries {
		change := e.After
		if e.Before != "" && e.After != "" {
			change = e.Before + " -> " + e.After
		} else if e.Before != "" {
			change = e.Before
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Class, e.TypeURL, e.Path, change)
	}
	fmt.Fprintln(tw)
	summary := r.Summary()
	parts := make([]string, 0, len(Classes))
	for _, c := range Classes {
		if n := summary[c]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", c, n))
		}
	}
	fmt.Fprintf(tw, "%d differences (%s)\n", len(r.Entries), strings.Join(parts, ", "))
	return tw.Flush()
}

// Compare reports the differences from a to b. Types are matched by
// canonical URL and visited in URL order. Within a type the report follows
// a's declaration order, followed by b's additions in b's declaration order.
func Compare(a, b *definition.Collection) *Result {
	res := &Result{From: a.Version(), To: b.Version()}

	urls := make(map[string]struct{}, a.Len()+b.Len())
	for _, r := range a.All() {
		urls[r.URL] = struct{}{}
	}
	for _, r := range b.All() {
		urls[r.URL] = struct{}{}
	}
	sorted := make([]string, 0, len(urls))
	for u := range urls {
		sorted = append(sorted, u)
	}
	sort.Strings(sorted)

	for _, url := range sorted {
		ra, inA := lookup(a, url)
		rb, inB := lookup(b, url)
		switch {
		case !inB:
			res.Entries = append(res.Entries, Entry{TypeURL: url, Path: ra.Name, Class: Removed})
		case !inA:
			res.Entries = append(res.Entries, Entry{TypeURL: url, Path: rb.Name, Class: Added})
		case ra.Kind == definition.KindValueSet || rb.Kind == definition.KindValueSet:
			res.Entries = append(res.Entries, compareCodes(ra, rb)...)
		default:
			res.Entries = append(res.Entries, compareElements(ra, rb)...)
		}
	}

	log := logger.Component("diff")
	log.Debug().
		Str("from", res.From).
		Str("to", res.To).
		Int("entries", len(res.Entries)).
		Msg("collections compared")
	return res
}

func lookup(c *definition.Collection, url string) (*definition.Record, bool) {
	slot, ok := c.Slot(url)
	if !ok {
		return nil, false
	}
	return c.At(slot), true
}

// key identifies an element within its type. Slices share their base
// element's path, so the element id is used when present.
func key(e *definition.Element) string {
	if e.ID != "" {
		return e.ID
	}
	return e.Path
}

func compareElements(a, b *definition.Record) []Entry {
	var out []Entry
	inB := make(map[string]*definition.Element, len(b.Elements))
	for i := range b.Elements {
		inB[key(&b.Elements[i])] = &b.Elements[i]
	}
	seen := make(map[string]struct{}, len(a.Elements))

	for i := range a.Elements {
		ea := &a.Elements[i]
		k := key(ea)
		seen[k] = struct{}{}
		eb, ok := inB[k]
		if !ok {
			out = append(out, Entry{TypeURL: a.URL, Path: k, Class: Removed, Before: typeList(ea)})
			continue
		}
		out = append(out, compareElement(a.URL, k, ea, eb)...)
	}
	for i := range b.Elements {
		eb := &b.Elements[i]
		if _, ok := seen[key(eb)]; !ok {
			out = append(out, Entry{TypeURL: b.URL, Path: key(eb), Class: Added, After: typeList(eb)})
		}
	}
	return out
}

func compareElement(url, path string, a, b *definition.Element) []Entry {
	var out []Entry
	if class, ok := compareCardinality(a.Cardinality, b.Cardinality); ok {
		out = append(out, Entry{
			TypeURL: url, Path: path, Class: class,
			Before: a.Cardinality.String(), After: b.Cardinality.String(),
		})
	}
	if class, ok := compareTypes(a, b); ok {
		out = append(out, Entry{
			TypeURL: url, Path: path, Class: class,
			Before: typeList(a), After: typeList(b),
		})
	}
	if before, after := bindingString(a.Binding), bindingString(b.Binding); before != after {
		out = append(out, Entry{
			TypeURL: url, Path: path, Class: BindingChanged,
			Before: before, After: after,
		})
	}
	return out
}

// compareCardinality classifies a change of the allowed range. A range that
// only grows is Widened; any other change restricts some instance and is
// Narrowed.
func compareCardinality(a, b definition.Cardinality) (Class, bool) {
	if a == b {
		return "", false
	}
	if b.Min <= a.Min && covers(b, a) {
		return Widened, true
	}
	return Narrowed, true
}

// covers reports whether the upper bound of b admits every count a does.
func covers(b, a definition.Cardinality) bool {
	if b.Max == definition.Unbounded {
		return true
	}
	if a.Max == definition.Unbounded {
		return false
	}
	return b.Max >= a.Max
}

// compareTypes compares the sets of type codes. Dropping choices narrows,
// adding choices widens, anything else retypes.
func compareTypes(a, b *definition.Element) (Class, bool) {
	sa, sb := typeSet(a), typeSet(b)
	if len(sa) == len(sb) && subset(sa, sb) {
		return "", false
	}
	switch {
	case subset(sb, sa):
		return Narrowed, true
	case subset(sa, sb):
		return Widened, true
	}
	return Retyped, true
}

func typeSet(e *definition.Element) map[string]struct{} {
	out := make(map[string]struct{}, len(e.Types))
	for _, t := range e.Types {
		out[t.Code] = struct{}{}
	}
	return out
}

func subset(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func typeList(e *definition.Element) string {
	codes := make([]string, 0, len(e.Types))
	for _, t := range e.Types {
		codes = append(codes, t.Code)
	}
	return strings.Join(codes, "|")
}

// bindingString renders a binding with the value set version stripped, so
// that a version bump alone is not reported.
func bindingString(b *definition.Binding) string {
	if b == nil || b.ValueSet == "" {
		return ""
	}
	vs, _, _ := strings.Cut(b.ValueSet, "|")
	return fmt.Sprintf("%s %s", b.Strength, vs)
}

func compareCodes(a, b *definition.Record) []Entry {
	var out []Entry
	codeKey := func(c definition.Code) string { return c.System + "|" + c.Code }
	inB := make(map[string]struct{}, len(b.Codes))
	for _, c := range b.Codes {
		inB[codeKey(c)] = struct{}{}
	}
	inA := make(map[string]struct{}, len(a.Codes))
	for _, c := range a.Codes {
		k := codeKey(c)
		inA[k] = struct{}{}
		if _, ok := inB[k]; !ok {
			out = append(out, Entry{TypeURL: a.URL, Path: k, Class: Removed, Before: c.Display})
		}
	}
	for _, c := range b.Codes {
		k := codeKey(c)
		if _, ok := inA[k]; !ok {
			out = append(out, Entry{TypeURL: b.URL, Path: k, Class: Added, After: c.Display})
		}
	}
	return out
}
