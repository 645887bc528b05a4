// Package emittest builds small resolved graphs for emitter tests.
package emittest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/resolver"
)

// GenderValueSet is the value set Patient.gender binds to.
const GenderValueSet = "http://hl7.org/fhir/ValueSet/administrative-gender"

// Card parses a cardinality or panics.
func Card(minVal int, maxVal string) definition.Cardinality {
	c, err := definition.ParseCardinality(minVal, maxVal)
	if err != nil {
		panic(err)
	}
	return c
}

// Elem returns an element with the given type codes.
func Elem(path string, c definition.Cardinality, codes ...string) definition.Element {
	e := definition.Element{ID: path, Path: path, Cardinality: c}
	for _, code := range codes {
		e.Types = append(e.Types, definition.TypeReference{Code: code})
	}
	return e
}

// Structure returns a specialization record under the core URL prefix.
func Structure(kind definition.Kind, name, base string, elements ...definition.Element) *definition.Record {
	r := &definition.Record{
		Kind:       kind,
		URL:        definition.BaseURL + name,
		Name:       name,
		Type:       name,
		Derivation: definition.DerivationSpecialization,
		Elements:   append([]definition.Element{Elem(name, Card(0, "*"))}, elements...),
	}
	if base != "" {
		r.BaseDefinition = definition.BaseURL + base
	}
	for i := range r.Elements {
		r.Elements[i].Owner = r.URL
	}
	return r
}

// Collection returns a self-contained R4 collection: the primitives
// string, boolean, code and dateTime; Element, BackboneElement, Resource,
// DomainResource and HumanName; and Patient with a choice, a required
// code binding and a backbone component.
func Collection() *definition.Collection {
	c := definition.NewCollection("4.0.1")
	for _, p := range []string{"string", "boolean", "code", "dateTime"} {
		c.Insert(Structure(definition.KindPrimitive, p, "Element"), definition.OverrideNewer)
	}

	element := Structure(definition.KindComplex, "Element", "",
		Elem("Element.id", Card(0, "1"), "string"),
	)
	element.Abstract = true
	c.Insert(element, definition.OverrideNewer)
	backbone := Structure(definition.KindComplex, "BackboneElement", "Element")
	backbone.Abstract = true
	c.Insert(backbone, definition.OverrideNewer)

	resource := Structure(definition.KindResource, "Resource", "",
		Elem("Resource.id", Card(0, "1"), "string"),
	)
	resource.Abstract = true
	c.Insert(resource, definition.OverrideNewer)
	domain := Structure(definition.KindResource, "DomainResource", "Resource")
	domain.Abstract = true
	c.Insert(domain, definition.OverrideNewer)

	c.Insert(Structure(definition.KindComplex, "HumanName", "Element",
		Elem("HumanName.family", Card(0, "1"), "string"),
		Elem("HumanName.given", Card(0, "*"), "string"),
	), definition.OverrideNewer)

	gender := Elem("Patient.gender", Card(0, "1"), "code")
	gender.Binding = &definition.Binding{Strength: definition.BindingRequired, ValueSet: GenderValueSet}
	c.Insert(Structure(definition.KindResource, "Patient", "DomainResource",
		Elem("Patient.active", Card(0, "1"), "boolean"),
		Elem("Patient.name", Card(0, "*"), "HumanName"),
		gender,
		Elem("Patient.deceased[x]", Card(0, "1"), "boolean", "dateTime"),
		Elem("Patient.contact", Card(0, "*"), "BackboneElement"),
		Elem("Patient.contact.name", Card(1, "1"), "HumanName"),
	), definition.OverrideNewer)

	c.Insert(&definition.Record{
		Kind: definition.KindValueSet,
		URL:  GenderValueSet,
		Name: "AdministrativeGender",
		Codes: []definition.Code{
			{System: "http://hl7.org/fhir/administrative-gender", Code: "male"},
			{System: "http://hl7.org/fhir/administrative-gender", Code: "female"},
		},
	}, definition.OverrideNewer)
	return c
}

// Resolve resolves c without the embedded base definitions.
func Resolve(t testing.TB, c *definition.Collection) (*resolver.Graph, []fc.Diagnostic) {
	t.Helper()
	g, diags := resolver.Resolve(context.Background(), c, fc.NewOptions(fc.WithBaseFallback(false), fc.WithWorkerCount(2)))
	require.NotNil(t, g)
	return g, diags
}

// Graph resolves Collection and fails the test on any error diagnostic.
func Graph(t testing.TB) *resolver.Graph {
	t.Helper()
	g, diags := Resolve(t, Collection())
	require.False(t, fc.HasErrors(diags), "unexpected diagnostics: %v", diags)
	return g
}

// WithMissingType adds Observation, whose value[x] refers to the absent
// Quantity type.
func WithMissingType(c *definition.Collection) *definition.Collection {
	c.Insert(Structure(definition.KindResource, "Observation", "DomainResource",
		Elem("Observation.status", Card(1, "1"), "code"),
		Elem("Observation.value[x]", Card(0, "1"), "Quantity", "string"),
	), definition.OverrideNewer)
	return c
}
