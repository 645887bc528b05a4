package emit

import (
	"fmt"
	"strings"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/resolver"
)

// PropertyKind tells how a property's type is rendered.
type PropertyKind int

const (
	// PropertyPrimitive maps through the emitter's primitive type map.
	PropertyPrimitive PropertyKind = iota
	// PropertyComplex refers to another emitted type.
	PropertyComplex
	// PropertyComponent refers to a backbone shape of the same type.
	PropertyComponent
	// PropertyPlaceholder could not be resolved; emitters write their
	// placeholder type (any, object).
	PropertyPlaceholder
)

// Property is one member of a shape. Choice elements expand to one
// property per declared type ("deceasedBoolean", "deceasedDateTime").
type Property struct {
	Element *resolver.Element
	// Name is the JSON member name.
	Name string
	Kind PropertyKind
	// TypeName is the FHIR type name, or the canonical shape name
	// ("Patient.contact") for components.
	TypeName string
	Array    bool
	Required bool
	Choice   bool
	Doc      string
	// Codes lists the allowed codes of a code element with a required
	// binding.
	Codes []definition.Code
}

// Shape is a type or one of its backbone components, flattened for
// emission.
type Shape struct {
	Type *resolver.Type
	// Name is the canonical shape name: the type name, or the element path
	// for components ("Patient.contact").
	Name string
	Path string
	// Base is the FHIR name of the parent type; "" for roots.
	Base       string
	Doc        string
	Abstract   bool
	Resource   bool
	Component  bool
	Properties []Property
}

// systemTypes maps FHIRPath system types to FHIR primitives.
var systemTypes = map[string]string{
	"String":   "string",
	"Boolean":  "boolean",
	"Integer":  "integer",
	"Decimal":  "decimal",
	"Date":     "date",
	"DateTime": "dateTime",
	"Time":     "time",
}

// Shapes flattens t into its root shape followed by its backbone
// components in declaration order. Inherited elements are left out.
// Unresolved element types become placeholder properties and add an
// emission-placeholder diagnostic naming emitter.
func Shapes(g *resolver.Graph, t *resolver.Type, opts Options, diags *fc.Diagnostics, emitter string) []Shape {
	b := &shapeBuilder{g: g, t: t, opts: opts, diags: diags, emitter: emitter}

	root := Shape{
		Type:     t,
		Name:     t.Name(),
		Path:     t.Record.Root(),
		Doc:      t.Record.Description,
		Abstract: t.Record.Abstract,
		Resource: t.Kind() == definition.KindResource,
	}
	var inherited *resolver.Type
	if p, ok := t.Parent(); ok {
		if pt, ok := g.TypeOf(p); ok {
			root.Base = pt.Name()
			inherited = pt
		}
	}
	if rootElem, ok := t.Root(); ok && root.Doc == "" {
		root.Doc = rootElem.Short
	}

	out := []Shape{root}
	b.fill(&out, 0, inherited)
	return out
}

type shapeBuilder struct {
	g       *resolver.Graph
	t       *resolver.Type
	opts    Options
	diags   *fc.Diagnostics
	emitter string
}

// fill adds the properties of (*shapes)[idx] and appends the component
// shapes it declares.
func (b *shapeBuilder) fill(shapes *[]Shape, idx int, inherited *resolver.Type) {
	path := (*shapes)[idx].Path
	var props []Property
	var components []Shape

	for _, e := range b.t.Children(path) {
		if e.Cardinality.IsProhibited() || !b.opts.IncludeElement(e) {
			continue
		}
		if inherited != nil {
			if _, ok := inherited.Element(inherited.Record.Root() + "." + e.Name()); ok {
				continue
			}
		}

		name := strings.TrimSuffix(e.Name(), "[x]")
		if e.IsBackbone() && len(b.t.Children(e.Path)) > 0 {
			props = append(props, b.property(e, name, PropertyComponent, e.Path, false))
			components = append(components, Shape{
				Type:      b.t,
				Name:      e.Path,
				Path:      e.Path,
				Base:      "BackboneElement",
				Doc:       e.Short,
				Component: true,
			})
			continue
		}
		if e.ContentReference != "" {
			if e.Content == nil {
				props = append(props, b.placeholder(e, name, e.ContentReference))
				continue
			}
			props = append(props, b.property(e, name, PropertyComponent, e.Content.Path, false))
			continue
		}

		choice := len(e.Types) > 1
		for _, tr := range e.Types {
			kind, typeName, ok := b.typeOf(tr)
			propName := name
			if choice {
				propName = name + upperFirst(typeName)
				if !ok {
					propName = name + upperFirst(tr.Name())
				}
			}
			if !ok {
				props = append(props, b.placeholder(e, propName, tr.Code))
				continue
			}
			p := b.property(e, propName, kind, typeName, choice)
			if kind == PropertyPrimitive {
				p.Codes = b.codes(e, typeName)
			}
			props = append(props, p)
		}
	}
	(*shapes)[idx].Properties = props

	var backbone *resolver.Type
	if len(components) > 0 {
		backbone, _ = b.g.Lookup("BackboneElement")
	}
	for _, c := range components {
		*shapes = append(*shapes, c)
		b.fill(shapes, len(*shapes)-1, backbone)
	}
}

func (b *shapeBuilder) property(e *resolver.Element, name string, kind PropertyKind, typeName string, choice bool) Property {
	return Property{
		Element:  e,
		Name:     name,
		Kind:     kind,
		TypeName: typeName,
		Array:    e.Cardinality.IsArray(),
		Required: e.Cardinality.IsRequired() && !choice,
		Choice:   choice,
		Doc:      e.Short,
	}
}

func (b *shapeBuilder) placeholder(e *resolver.Element, name, subject string) Property {
	if b.diags != nil {
		b.diags.Add(PlaceholderDiagnostic(b.emitter, b.t.URL(), e.Path, subject))
	}
	return Property{
		Element:  e,
		Name:     name,
		Kind:     PropertyPlaceholder,
		Array:    e.Cardinality.IsArray(),
		Required: e.Cardinality.IsRequired(),
		Doc:      e.Short,
	}
}

// PlaceholderDiagnostic reports a reference emitted as a placeholder
// type.
func PlaceholderDiagnostic(emitter, source, path, subject string) fc.Diagnostic {
	return fc.Warning(fc.KindEmissionPlaceholder).
		Message(fmt.Sprintf("%s: unresolved type %q emitted as placeholder", emitter, subject)).
		Source(source).At(path).Subject(subject).Build()
}

// typeOf classifies a resolved type reference.
func (b *shapeBuilder) typeOf(tr resolver.TypeRef) (PropertyKind, string, bool) {
	switch {
	case tr.Ref.IsSystem():
		if name, ok := systemTypes[tr.Ref.SystemName()]; ok {
			return PropertyPrimitive, name, true
		}
		return PropertyPrimitive, "string", true
	case !tr.Ref.Resolved():
		return PropertyPlaceholder, "", false
	}
	name := tr.Name()
	if rec := b.g.Record(tr.Ref); rec != nil {
		name = rec.Name
	}
	if tr.Ref.Kind == definition.KindPrimitive {
		return PropertyPrimitive, name, true
	}
	return PropertyComplex, name, true
}

// codes returns the codes of a required binding on a code element.
func (b *shapeBuilder) codes(e *resolver.Element, typeName string) []definition.Code {
	if typeName != "code" || e.Binding == nil || e.Binding.Strength != definition.BindingRequired {
		return nil
	}
	vs, ok := b.g.ValueSet(e.ValueSet)
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(vs.Codes))
	var out []definition.Code
	for _, c := range vs.Codes {
		if seen[c.Code] {
			continue
		}
		seen[c.Code] = true
		out = append(out, c)
	}
	return out
}

// ShapeTypes returns the canonical names of the complex types and
// components a shape's properties refer to, in first-use order.
func ShapeTypes(s Shape) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range s.Properties {
		if p.Kind != PropertyComplex && p.Kind != PropertyComponent {
			continue
		}
		if !seen[p.TypeName] {
			seen[p.TypeName] = true
			out = append(out, p.TypeName)
		}
	}
	return out
}
