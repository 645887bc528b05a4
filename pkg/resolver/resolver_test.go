package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
)

func card(minVal int, maxVal string) definition.Cardinality {
	c, err := definition.ParseCardinality(minVal, maxVal)
	if err != nil {
		panic(err)
	}
	return c
}

func elem(path string, c definition.Cardinality, codes ...string) definition.Element {
	e := definition.Element{ID: path, Path: path, Cardinality: c}
	for _, code := range codes {
		e.Types = append(e.Types, definition.TypeReference{Code: code})
	}
	return e
}

func structure(kind definition.Kind, name, base string, elements ...definition.Element) *definition.Record {
	r := &definition.Record{
		Kind:       kind,
		URL:        definition.BaseURL + name,
		Name:       name,
		Type:       name,
		Derivation: definition.DerivationSpecialization,
		Elements:   append([]definition.Element{elem(name, card(0, "*"))}, elements...),
	}
	if base != "" {
		r.BaseDefinition = definition.BaseURL + base
	}
	for i := range r.Elements {
		r.Elements[i].Owner = r.URL
	}
	return r
}

func patientCollection() *definition.Collection {
	gender := elem("Patient.gender", card(0, "1"), "code")
	gender.Binding = &definition.Binding{
		Strength: definition.BindingRequired,
		ValueSet: "http://hl7.org/fhir/ValueSet/administrative-gender|4.0.1",
	}
	gp := elem("Patient.generalPractitioner", card(0, "*"))
	gp.Types = []definition.TypeReference{{
		Code:           "Reference",
		TargetProfiles: []string{definition.BaseURL + "Patient"},
	}}
	root := elem("Patient", card(0, "*"))
	root.Constraints = []definition.Constraint{{Key: "dom-2", Severity: "error", Expression: "contained.contained.empty()"}}

	patient := structure(definition.KindResource, "Patient", "DomainResource",
		elem("Patient.active", card(0, "1"), "boolean"),
		elem("Patient.name", card(0, "*"), "HumanName"),
		gender,
		elem("Patient.deceased[x]", card(0, "1"), "boolean", "dateTime"),
		gp,
		elem("Patient.contact", card(0, "*"), "BackboneElement"),
		elem("Patient.contact.name", card(0, "1"), "HumanName"),
	)
	patient.Elements[0] = root
	patient.Elements[0].Owner = patient.URL

	humanName := structure(definition.KindComplex, "HumanName", "Element",
		elem("HumanName.family", card(0, "1"), "string"),
		elem("HumanName.given", card(0, "*"), "string"),
	)

	c := definition.NewCollection("4.0.1")
	c.Insert(patient, definition.OverrideNewer)
	c.Insert(humanName, definition.OverrideNewer)
	c.Insert(&definition.Record{
		Kind: definition.KindValueSet,
		URL:  "http://hl7.org/fhir/ValueSet/administrative-gender",
		Name: "AdministrativeGender",
		Codes: []definition.Code{
			{System: "http://hl7.org/fhir/administrative-gender", Code: "male"},
			{System: "http://hl7.org/fhir/administrative-gender", Code: "female"},
		},
	}, definition.OverrideNewer)
	return c
}

func testOptions(opts ...fc.Option) *fc.Options {
	return fc.NewOptions(append([]fc.Option{fc.WithWorkerCount(4)}, opts...)...)
}

func TestResolve_Patient(t *testing.T) {
	g, diags := Resolve(context.Background(), patientCollection(), testOptions())
	require.NotNil(t, g)
	assert.False(t, fc.HasErrors(diags), "unexpected diagnostics: %v", diags)
	assert.Empty(t, fc.Filter(diags, fc.KindUnresolvedReference))

	patient, ok := g.Lookup("Patient")
	require.True(t, ok)
	require.Len(t, patient.Chain, 3)
	assert.Equal(t, definition.BaseURL+"DomainResource", patient.Chain[1].URL)
	assert.Equal(t, OriginBase, patient.Chain[1].Origin)
	assert.Equal(t, definition.BaseURL+"Resource", patient.Chain[2].URL)

	name, ok := patient.Element("Patient.name")
	require.True(t, ok)
	assert.Equal(t, OriginCollection, name.Types[0].Ref.Origin)

	gender, _ := patient.Element("Patient.gender")
	vs, ok := g.ValueSet(gender.ValueSet)
	require.True(t, ok)
	assert.Equal(t, "AdministrativeGender", vs.Name)

	gp, _ := patient.Element("Patient.generalPractitioner")
	require.Len(t, gp.Types[0].Targets, 1)
	assert.Equal(t, patient.URL(), gp.Types[0].Targets[0].URL)

	// Base definitions referenced by the collection join the graph.
	for _, name := range []string{"DomainResource", "Resource", "Element", "boolean", "string", "Reference"} {
		_, ok := g.Lookup(name)
		assert.True(t, ok, "%s should be in the graph", name)
	}
	_, ok = g.Lookup("Coding")
	assert.True(t, ok, "closure follows base definitions transitively")

	contact, _ := patient.Element("Patient.contact")
	assert.True(t, contact.IsBackbone())
	assert.Len(t, patient.Children("Patient.contact"), 1)

	deps := patient.Dependencies()
	assert.Contains(t, deps, definition.BaseURL+"HumanName")
	assert.Contains(t, deps, definition.BaseURL+"DomainResource")
	assert.NotContains(t, deps, patient.URL())
}

func TestResolve_ChoiceKeepsDeclarationOrder(t *testing.T) {
	g, _ := Resolve(context.Background(), patientCollection(), testOptions())
	require.NotNil(t, g)

	patient, _ := g.Lookup("Patient")
	deceased, ok := patient.Element("Patient.deceased[x]")
	require.True(t, ok)
	require.Len(t, deceased.Types, 2)
	assert.Equal(t, "boolean", deceased.Types[0].Code)
	assert.Equal(t, "dateTime", deceased.Types[1].Code)

	rep, ok := deceased.Representative()
	require.True(t, ok)
	assert.Equal(t, "boolean", rep.Code)
}

func TestResolve_MissingType(t *testing.T) {
	c := patientCollection()
	obs := structure(definition.KindResource, "Observation", "DomainResource",
		elem("Observation.status", card(1, "1"), "code"),
		elem("Observation.value[x]", card(0, "1"), "Quantity", "string"),
	)
	c.Insert(obs, definition.OverrideNewer)

	g, diags := Resolve(context.Background(), c, testOptions())
	require.NotNil(t, g)

	unresolved := fc.Filter(diags, fc.KindUnresolvedReference)
	require.Len(t, unresolved, 1)
	d := unresolved[0]
	assert.Equal(t, fc.SeverityError, d.Severity)
	assert.Equal(t, "Quantity", d.Subject)
	assert.Equal(t, obs.URL, d.Source)
	assert.Equal(t, "Observation.value[x]", d.Path)

	// The rest of the type still resolves.
	o, ok := g.Lookup("Observation")
	require.True(t, ok)
	value, _ := o.Element("Observation.value[x]")
	assert.False(t, value.Types[0].Ref.Resolved())
	assert.True(t, value.Types[1].Ref.Resolved())
}

func TestResolve_Cycle(t *testing.T) {
	c := definition.NewCollection("4.0.1")
	c.Insert(structure(definition.KindComplex, "A", "B"), definition.OverrideNewer)
	c.Insert(structure(definition.KindComplex, "B", "A"), definition.OverrideNewer)
	c.Insert(structure(definition.KindComplex, "C", "Element"), definition.OverrideNewer)
	c.Insert(structure(definition.KindComplex, "D", "A"), definition.OverrideNewer)

	g, diags := Resolve(context.Background(), c, testOptions())
	require.NotNil(t, g)

	cycles := fc.Filter(diags, fc.KindCycle)
	require.Len(t, cycles, 1)
	assert.Equal(t, fc.SeverityFatal, cycles[0].Severity)
	assert.Equal(t, []string{definition.BaseURL + "A", definition.BaseURL + "B"}, cycles[0].Members)

	for _, name := range []string{"A", "B", "D"} {
		typ, ok := g.Lookup(name)
		require.True(t, ok)
		assert.True(t, typ.Failed, "%s should fail", name)
		assert.Nil(t, typ.Chain)
	}

	other, _ := g.Lookup("C")
	assert.False(t, other.Failed)
	assert.Len(t, other.Chain, 2)
}

func TestResolve_Bindings(t *testing.T) {
	required := elem("T.required", card(0, "1"), "code")
	required.Binding = &definition.Binding{Strength: definition.BindingRequired, ValueSet: "http://example.org/ValueSet/missing"}
	example := elem("T.example", card(0, "1"), "code")
	example.Binding = &definition.Binding{Strength: definition.BindingExample, ValueSet: "http://example.org/ValueSet/also-missing"}

	c := definition.NewCollection("4.0.1")
	c.Insert(structure(definition.KindComplex, "T", "Element", required, example), definition.OverrideNewer)

	_, diags := Resolve(context.Background(), c, testOptions())
	bindings := fc.Filter(diags, fc.KindUnresolvedBinding)
	require.Len(t, bindings, 1)
	assert.Equal(t, "T.required", bindings[0].Path)
}

func TestResolve_ContentReference(t *testing.T) {
	item := elem("Questionnaire.item", card(0, "*"), "BackboneElement")
	nested := elem("Questionnaire.item.item", card(0, "*"))
	nested.ContentReference = "#Questionnaire.item"
	broken := elem("Questionnaire.item.broken", card(0, "1"))
	broken.ContentReference = "#Questionnaire.nope"

	c := definition.NewCollection("4.0.1")
	c.Insert(structure(definition.KindResource, "Questionnaire", "DomainResource", item, nested, broken), definition.OverrideNewer)

	g, diags := Resolve(context.Background(), c, testOptions())
	q, _ := g.Lookup("Questionnaire")
	n, _ := q.Element("Questionnaire.item.item")
	require.NotNil(t, n.Content)
	assert.Equal(t, "Questionnaire.item", n.Content.Path)

	unresolved := fc.Filter(diags, fc.KindUnresolvedReference)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "#Questionnaire.nope", unresolved[0].Subject)
}

func TestResolve_InvalidExpression(t *testing.T) {
	root := elem("T", card(0, "*"))
	root.Constraints = []definition.Constraint{
		{Key: "t-1", Expression: "name.exists() and (("},
		{Key: "t-2", Expression: "name.exists()"},
	}
	rec := structure(definition.KindComplex, "T", "Element")
	rec.Elements[0] = root

	c := definition.NewCollection("4.0.1")
	c.Insert(rec, definition.OverrideNewer)

	_, diags := Resolve(context.Background(), c, testOptions())
	invalid := fc.Filter(diags, fc.KindInvalidExpression)
	require.Len(t, invalid, 1)
	assert.Equal(t, "t-1", invalid[0].Subject)
	assert.Equal(t, fc.SeverityWarning, invalid[0].Severity)

	_, diags = Resolve(context.Background(), c, testOptions(fc.WithExpressionCheck(false)))
	assert.Empty(t, fc.Filter(diags, fc.KindInvalidExpression))
}

func TestResolve_WithoutBaseFallback(t *testing.T) {
	g, diags := Resolve(context.Background(), patientCollection(), testOptions(fc.WithBaseFallback(false)))
	require.NotNil(t, g)
	assert.Nil(t, g.Base)

	subjects := map[string]bool{}
	for _, d := range fc.Filter(diags, fc.KindUnresolvedReference) {
		subjects[d.Subject] = true
	}
	assert.True(t, subjects["boolean"])
	assert.True(t, subjects[definition.BaseURL+"DomainResource"])
}

func TestResolve_Deterministic(t *testing.T) {
	c := patientCollection()
	c.Insert(structure(definition.KindComplex, "X", "Y", elem("X.a", card(0, "1"), "Missing1"), elem("X.b", card(0, "1"), "Missing2")), definition.OverrideNewer)

	_, first := Resolve(context.Background(), c, testOptions())
	for i := 0; i < 5; i++ {
		_, again := Resolve(context.Background(), c, testOptions())
		assert.Equal(t, first, again)
	}
}

func TestResolve_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g, _ := Resolve(ctx, patientCollection(), testOptions())
	assert.Nil(t, g)
}
