package typescript_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/emit"
	"github.com/gofhir/codegen/pkg/emit/emittest"
	"github.com/gofhir/codegen/pkg/emit/typescript"
	"github.com/gofhir/codegen/pkg/resolver"
)

func export(t *testing.T, g *resolver.Graph, target []*resolver.Type, opts emit.Options) (*emit.MemorySink, []fc.Diagnostic) {
	t.Helper()
	sink := emit.NewMemorySink()
	diags, err := typescript.New().Export(context.Background(), g, target, sink, opts)
	require.NoError(t, err)
	return sink, diags
}

func file(t *testing.T, sink *emit.MemorySink, name string) string {
	t.Helper()
	data, ok := sink.File(name)
	require.True(t, ok, "missing %s in %v", name, sink.Names())
	return string(data)
}

func noComments() emit.Options {
	opts := emit.DefaultOptions()
	opts.IncludeComments = false
	return opts
}

func TestExport_SingleFile(t *testing.T) {
	sink, diags := export(t, emittest.Graph(t), nil, noComments())
	assert.Empty(t, diags)
	assert.Equal(t, []string{"Fhir.ts"}, sink.Names())

	out := file(t, sink, "Fhir.ts")
	assert.Contains(t, out, "export namespace Fhir {\n")
	assert.Contains(t, out, `  export interface Patient extends DomainResource {
    resourceType: 'Patient';
    active?: boolean;
    name?: HumanName[];
    gender?: 'male' | 'female';
    deceasedBoolean?: boolean;
    deceasedDateTime?: string;
    contact?: PatientContact[];
  }

  export interface PatientContact extends BackboneElement {
    name: HumanName;
  }
`)
	assert.Contains(t, out, "  export interface Resource {\n    id?: string;\n  }\n")
	assert.Contains(t, out, "export type ResourceUnion = Patient;")
	assert.NotContains(t, out, "interface string", "primitives map to built-in types")
	assert.NotContains(t, out, "resourceType: 'DomainResource'", "abstract resources have no discriminator")
}

func TestExport_Idempotent(t *testing.T) {
	g := emittest.Graph(t)
	for _, format := range []emit.FileFormat{emit.FormatSingle, emit.FormatMulti} {
		opts := emit.DefaultOptions()
		opts.FileFormat = format
		first, _ := export(t, g, nil, opts)
		second, _ := export(t, g, nil, opts)
		assert.Equal(t, first.Files(), second.Files(), string(format))
	}
}

func TestExport_Multi(t *testing.T) {
	opts := noComments()
	opts.FileFormat = emit.FormatMulti
	sink, _ := export(t, emittest.Graph(t), nil, opts)

	assert.Equal(t, []string{
		"BackboneElement.ts", "DomainResource.ts", "Element.ts", "HumanName.ts",
		"Patient.ts", "Resource.ts", "index.ts",
	}, sink.Names())

	patient := file(t, sink, "Patient.ts")
	assert.Contains(t, patient, "import { BackboneElement } from './BackboneElement';\n"+
		"import { DomainResource } from './DomainResource';\n"+
		"import { HumanName } from './HumanName';\n")
	assert.NotContains(t, patient, "import { Patient }")

	assert.Contains(t, file(t, sink, "index.ts"), "export * from './Patient';\n")
}

func TestExport_Comments(t *testing.T) {
	c := emittest.Collection()
	human, _ := c.ByCanonicalName("HumanName")
	human.Description = "A human's name.\nParts of the name."

	g, _ := emittest.Resolve(t, c)
	opts := emit.DefaultOptions()
	opts.Targets = []string{"HumanName"}
	sink, _ := export(t, g, nil, opts)

	assert.Contains(t, file(t, sink, "Fhir.ts"), "  /**\n   * A human's name.\n   * Parts of the name.\n   */\n  export interface HumanName extends Element {\n")
}

func TestExport_PrimitiveExtensions(t *testing.T) {
	opts := noComments()
	opts.ExtensionSupport = emit.ExtensionFull
	opts.Targets = []string{"HumanName"}
	sink, _ := export(t, emittest.Graph(t), nil, opts)

	out := file(t, sink, "Fhir.ts")
	assert.Contains(t, out, "    family?: string;\n    _family?: Element;\n")
	assert.Contains(t, out, "    given?: string[];\n    _given?: (Element | null)[];\n")
}

func TestExport_Placeholders(t *testing.T) {
	t.Run("unresolved type", func(t *testing.T) {
		g, _ := emittest.Resolve(t, emittest.WithMissingType(emittest.Collection()))
		sink, diags := export(t, g, nil, noComments())

		assert.Contains(t, file(t, sink, "Fhir.ts"), "    valueQuantity?: any;\n    valueString?: string;\n")
		placeholders := fc.Filter(diags, fc.KindEmissionPlaceholder)
		require.Len(t, placeholders, 1)
		assert.Equal(t, "Quantity", placeholders[0].Subject)
	})

	t.Run("type outside the target", func(t *testing.T) {
		g := emittest.Graph(t)
		patient, _ := g.Lookup("Patient")
		sink, diags := export(t, g, []*resolver.Type{patient}, noComments())

		out := file(t, sink, "Fhir.ts")
		assert.Contains(t, out, "export interface Patient {\n")
		assert.Contains(t, out, "    name?: any[];\n")
		assert.Contains(t, out, "    name: any;\n")

		subjects := make(map[string]bool)
		for _, d := range fc.Filter(diags, fc.KindEmissionPlaceholder) {
			subjects[d.Subject] = true
		}
		assert.True(t, subjects["HumanName"])
	})
}

func TestExport_NoNamespace(t *testing.T) {
	opts := noComments()
	opts.Namespace = ""
	sink, _ := export(t, emittest.Graph(t), nil, opts)
	out := file(t, sink, "fhir.ts")
	assert.Contains(t, out, "\nexport interface Patient extends DomainResource {\n")
}

func TestExport_InvalidOptions(t *testing.T) {
	_, err := typescript.New().Export(context.Background(), emittest.Graph(t), nil, emit.NewMemorySink(), emit.Options{FileFormat: "xml"})
	assert.Error(t, err)
}

func TestExport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := typescript.New().Export(ctx, emittest.Graph(t), nil, emit.NewMemorySink(), emit.DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExport_CodeLiterals(t *testing.T) {
	c := emittest.Collection()
	c.Insert(&definition.Record{
		Kind: definition.KindValueSet,
		URL:  emittest.GenderValueSet,
		Name: "AdministrativeGender",
		Codes: []definition.Code{
			{System: "http://example.org/codes", Code: `a\b`},
			{System: "http://example.org/codes", Code: "o'clock"},
		},
	}, definition.OverrideNewer)
	g, _ := emittest.Resolve(t, c)

	sink, _ := export(t, g, nil, noComments())
	assert.Contains(t, file(t, sink, "Fhir.ts"), `gender?: 'a\\b' | 'o\'clock';`)
}

func TestPrimitiveTypeMap(t *testing.T) {
	m := typescript.New().PrimitiveTypeMap()
	assert.Equal(t, "boolean", m["boolean"])
	assert.Equal(t, "number", m["decimal"])
	assert.Equal(t, "string", m["dateTime"])
}

func TestSanitize(t *testing.T) {
	e := typescript.New()
	assert.Equal(t, "UsCorePatient", e.Sanitize("us-core-patient"))
	assert.Equal(t, "Boolean", e.Sanitize("boolean"))
}

func TestRegistered(t *testing.T) {
	e, err := emit.DefaultRegistry.Get(typescript.Name)
	require.NoError(t, err)
	assert.Equal(t, typescript.Name, e.Name())
}
