// Package definition holds the normalized, version-scoped model of FHIR
// definitions: records parsed from packages, their elements, and the
// collection that indexes them.
package definition

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a definition record.
type Kind string

// Record kinds.
const (
	KindPrimitive Kind = "primitive-type"
	KindComplex   Kind = "complex-type"
	KindResource  Kind = "resource"
	KindValueSet  Kind = "value-set"
	KindExtension Kind = "extension"
	KindLogical   Kind = "logical"
)

// Derivation values of StructureDefinition.derivation.
const (
	DerivationSpecialization = "specialization"
	DerivationConstraint     = "constraint"
)

// BaseURL is the canonical prefix of core FHIR StructureDefinitions.
const BaseURL = "http://hl7.org/fhir/StructureDefinition/"

// ClassifyStructure maps StructureDefinition kind/type/derivation to a Kind.
// Extension profiles are split out from other complex types.
func ClassifyStructure(kind, typ, derivation string) (Kind, error) {
	switch kind {
	case "primitive-type":
		return KindPrimitive, nil
	case "complex-type":
		if typ == "Extension" && derivation == DerivationConstraint {
			return KindExtension, nil
		}
		return KindComplex, nil
	case "resource":
		return KindResource, nil
	case "logical":
		return KindLogical, nil
	default:
		return "", fmt.Errorf("unknown StructureDefinition kind %q", kind)
	}
}

// Unbounded is the Max of a cardinality whose upper bound is "*".
const Unbounded = -1

// Cardinality is an element's min..max.
type Cardinality struct {
	Min int
	Max int
}

// ParseCardinality builds a Cardinality from the ElementDefinition min/max
// fields. An empty max is treated as "1".
func ParseCardinality(minVal int, maxVal string) (Cardinality, error) {
	c := Cardinality{Min: minVal}
	switch maxVal {
	case "*":
		c.Max = Unbounded
	case "":
		c.Max = 1
	default:
		n, err := strconv.Atoi(maxVal)
		if err != nil || n < 0 {
			return c, fmt.Errorf("invalid max cardinality %q", maxVal)
		}
		c.Max = n
	}
	if minVal < 0 {
		return c, fmt.Errorf("invalid min cardinality %d", minVal)
	}
	if c.Max != Unbounded && c.Min > c.Max {
		return c, fmt.Errorf("min %d exceeds max %d", c.Min, c.Max)
	}
	return c, nil
}

// IsArray reports whether more than one value is allowed.
func (c Cardinality) IsArray() bool {
	return c.Max == Unbounded || c.Max > 1
}

// IsRequired reports whether at least one value is required.
func (c Cardinality) IsRequired() bool {
	return c.Min > 0
}

// IsProhibited reports whether the element was constrained out (max 0).
func (c Cardinality) IsProhibited() bool {
	return c.Max == 0
}

// MaxString returns max in FHIR notation.
func (c Cardinality) MaxString() string {
	if c.Max == Unbounded {
		return "*"
	}
	return strconv.Itoa(c.Max)
}

// String returns "min..max".
func (c Cardinality) String() string {
	return strconv.Itoa(c.Min) + ".." + c.MaxString()
}

// TypeReference is one allowed type of an element. Code is a type name or a
// canonical URL; Reference and canonical types are parametrized by their
// target profiles.
type TypeReference struct {
	Code           string
	Profiles       []string
	TargetProfiles []string
}

// Name returns the short type name for Code, trimming the core prefix
// from URL-valued codes.
func (t TypeReference) Name() string {
	return strings.TrimPrefix(t.Code, BaseURL)
}

// IsParametrized reports whether the type carries target profiles.
func (t TypeReference) IsParametrized() bool {
	return len(t.TargetProfiles) > 0
}

// BindingStrength is ElementDefinition.binding.strength.
type BindingStrength string

// Binding strengths.
const (
	BindingRequired   BindingStrength = "required"
	BindingExtensible BindingStrength = "extensible"
	BindingPreferred  BindingStrength = "preferred"
	BindingExample    BindingStrength = "example"
)

// MustResolve reports whether a binding of this strength has to point at a
// known value set.
func (s BindingStrength) MustResolve() bool {
	return s == BindingRequired
}

// Binding ties an element to a value set.
type Binding struct {
	Strength    BindingStrength
	ValueSet    string
	Description string
}

// Constraint is an invariant declared on an element.
type Constraint struct {
	Key        string
	Severity   string
	Human      string
	Expression string
}

// Element is a named structural field of a complex type or resource.
type Element struct {
	ID    string
	Path  string
	Short string

	Cardinality Cardinality
	Types       []TypeReference
	Binding     *Binding

	// ContentReference points at another element of the same type whose
	// definition is reused ("#Questionnaire.item").
	ContentReference string

	Constraints []Constraint
	IsModifier  bool
	IsSummary   bool

	// Owner is the canonical URL of the record the element belongs to.
	Owner string
}

// Name returns the last segment of the path.
func (e *Element) Name() string {
	if i := strings.LastIndexByte(e.Path, '.'); i >= 0 {
		return e.Path[i+1:]
	}
	return e.Path
}

// Depth returns the number of path segments below the root.
func (e *Element) Depth() int {
	return strings.Count(e.Path, ".")
}

// IsRoot reports whether this is the element describing the type itself.
func (e *Element) IsRoot() bool {
	return !strings.Contains(e.Path, ".")
}

// IsChoice reports whether the element allows more than one type.
func (e *Element) IsChoice() bool {
	return len(e.Types) > 1 || strings.HasSuffix(e.Path, "[x]")
}

// Representative returns the type used by consumers that need exactly one:
// the first declared.
func (e *Element) Representative() (TypeReference, bool) {
	if len(e.Types) == 0 {
		return TypeReference{}, false
	}
	return e.Types[0], true
}

// Code is one concept of a value set.
type Code struct {
	System  string
	Code    string
	Display string
}

// Record is one parsed definition. Records are immutable once parsed; the
// resolver keeps derived data in its graph, not here.
type Record struct {
	Kind           Kind
	URL            string
	Name           string
	Type           string
	BaseDefinition string
	Derivation     string
	Abstract       bool
	Description    string
	Status         string
	FHIRVersion    string

	// Package is the "name#version" directive the record was loaded from.
	Package string
	// Document is the document name within the package.
	Document string

	Elements []Element
	Codes    []Code
}

// IsConstraint reports whether the record profiles another type rather than
// defining a new one.
func (r *Record) IsConstraint() bool {
	return r.Derivation == DerivationConstraint
}

// IsStructure reports whether the record defines a structure with elements.
func (r *Record) IsStructure() bool {
	switch r.Kind {
	case KindComplex, KindResource, KindExtension, KindLogical:
		return true
	}
	return false
}

// Element returns the element with the given path.
func (r *Record) Element(path string) (*Element, bool) {
	for i := range r.Elements {
		if r.Elements[i].Path == path {
			return &r.Elements[i], true
		}
	}
	return nil, false
}

// Children returns the direct child elements of path in declaration order.
func (r *Record) Children(path string) []*Element {
	prefix := path + "."
	var out []*Element
	for i := range r.Elements {
		e := &r.Elements[i]
		if strings.HasPrefix(e.Path, prefix) && !strings.Contains(e.Path[len(prefix):], ".") {
			out = append(out, e)
		}
	}
	return out
}

// Root returns the root path of the record's elements.
func (r *Record) Root() string {
	if r.Type != "" {
		return r.Type
	}
	return r.Name
}

// Validate checks that the record has a canonical URL and that element paths
// are unique.
func (r *Record) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("definition %q has no canonical url", r.Name)
	}
	seen := make(map[string]struct{}, len(r.Elements))
	for i := range r.Elements {
		e := &r.Elements[i]
		if e.Path == "" {
			return fmt.Errorf("%s: element %d has no path", r.URL, i)
		}
		// Sliced elements repeat a path; their id disambiguates.
		key := e.Path
		if e.ID != "" && strings.Contains(e.ID, ":") {
			key = e.ID
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%s: duplicate element path %s", r.URL, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
