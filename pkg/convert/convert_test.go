package convert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/resolver"
)

const patientTable = `
from: R4
to: R5
types:
  - type: Patient
    elements:
      - source: name
      - source: birthDate
        target: dateOfBirth
      - source: [phone, email]
        target: telecom
      - source: nickname
        target: [alias, displayName]
      - source: multipleBirthInteger
        target: multipleBirthInteger
        narrow: positiveInt
      - source: rank
        narrow: integer
      - source: contact
  - type: Patient.contact
    elements:
      - source: relationship
`

func mustTable(t *testing.T, src string) *Table {
	t.Helper()
	table, err := ParseTable([]byte(src))
	require.NoError(t, err)
	return table
}

func mustNode(t *testing.T, src string) *Node {
	t.Helper()
	n, err := ParseNode([]byte(src))
	require.NoError(t, err)
	return n
}

func TestConvert_Rename(t *testing.T) {
	c := New(WithTable(mustTable(t, patientTable)))
	in := mustNode(t, `{
		"resourceType": "Patient",
		"id": "p1",
		"name": [{"family": "Doe", "given": ["Jane"]}],
		"birthDate": "1970-01-01"
	}`)

	out, diags, err := c.Convert(context.Background(), in, fc.R4, fc.R5)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t,
		`{"resourceType":"Patient","id":"p1","name":[{"family":"Doe","given":["Jane"]}],"dateOfBirth":"1970-01-01"}`,
		out.String())

	_, ok := out.Child("birthDate")
	assert.False(t, ok)
	dob, ok := out.Child("dateOfBirth")
	require.True(t, ok)
	assert.Equal(t, "1970-01-01", dob.Value)
}

func TestConvert_PrimitiveShadowFollowsRename(t *testing.T) {
	c := New(WithTable(mustTable(t, patientTable)))
	in := mustNode(t, `{
		"resourceType": "Patient",
		"birthDate": "1970-01-01",
		"_birthDate": {"extension": [{"url": "http://example.org/time", "valueTime": "10:00:00"}]}
	}`)

	out, diags, err := c.Convert(context.Background(), in, fc.R4, fc.R5)
	require.NoError(t, err)
	assert.Empty(t, diags)
	_, ok := out.Child("_dateOfBirth")
	assert.True(t, ok)
}

func TestConvert_UnmappedElementIsLossy(t *testing.T) {
	c := New(WithTable(mustTable(t, patientTable)))
	in := mustNode(t, `{
		"resourceType": "Patient",
		"id": "p1",
		"meta": {"versionId": "2"},
		"extension": [{"url": "http://example.org/x", "valueString": "kept"}],
		"animal": {"species": {"text": "dog"}},
		"photo": [{"url": "a"}, {"url": "b"}]
	}`)

	out, diags, err := c.Convert(context.Background(), in, fc.R4, fc.R5)
	require.NoError(t, err)

	lossy := fc.Filter(diags, fc.KindLossyConversion)
	require.Len(t, lossy, 2, "one diagnostic per dropped element name")
	assert.Equal(t, "Patient.animal", lossy[0].Path)
	assert.Equal(t, "Patient.photo", lossy[1].Path)
	assert.Equal(t, fc.SeverityWarning, lossy[0].Severity)

	assert.Equal(t,
		`{"resourceType":"Patient","id":"p1","meta":{"versionId":"2"},"extension":[{"url":"http://example.org/x","valueString":"kept"}]}`,
		out.String())
}

func TestConvert_CollapseAndSplit(t *testing.T) {
	c := New(WithTable(mustTable(t, patientTable)))
	in := mustNode(t, `{
		"resourceType": "Patient",
		"phone": {"value": "555"},
		"email": {"value": "a@b.c"},
		"nickname": "JD"
	}`)

	out, diags, err := c.Convert(context.Background(), in, fc.R4, fc.R5)
	require.NoError(t, err)
	assert.Empty(t, diags)

	telecom := out.All("telecom")
	require.Len(t, telecom, 2)
	assert.True(t, telecom[0].Array)
	assert.Equal(t,
		`{"resourceType":"Patient","telecom":[{"value":"555"},{"value":"a@b.c"}],"alias":"JD","displayName":"JD"}`,
		out.String())
}

func TestConvert_Narrowing(t *testing.T) {
	table := mustTable(t, patientTable)
	src := `{
		"resourceType": "Patient",
		"rank": 3.0,
		"multipleBirthInteger": 0,
		"birthDate": "1970-01-01"
	}`

	t.Run("without fallback the subtree fails", func(t *testing.T) {
		out, diags, err := New(WithTable(table)).Convert(context.Background(), mustNode(t, src), fc.R4, fc.R5)
		var convErr *ConversionError
		require.True(t, errors.As(err, &convErr))
		require.Len(t, convErr.Failures, 1)
		assert.Equal(t, "Patient.multipleBirthInteger", convErr.Failures[0].Path)

		failures := fc.Filter(diags, fc.KindNarrowingFailure)
		require.Len(t, failures, 1)
		assert.Equal(t, fc.SeverityError, failures[0].Severity)

		require.NotNil(t, out, "siblings still convert")
		assert.Equal(t, `{"resourceType":"Patient","rank":3,"dateOfBirth":"1970-01-01"}`, out.String())
	})

	t.Run("fallback replaces the value", func(t *testing.T) {
		var seen []string
		fallback := func(path string, value any, target string, cause error) (any, error) {
			seen = append(seen, path+" "+target)
			return json.Number("1"), nil
		}
		out, diags, err := New(WithTable(table), WithFallback(fallback)).Convert(context.Background(), mustNode(t, src), fc.R4, fc.R5)
		require.NoError(t, err)
		assert.Equal(t, []string{"Patient.multipleBirthInteger positiveInt"}, seen)

		replaced := fc.Filter(diags, fc.KindNarrowingFailure)
		require.Len(t, replaced, 1)
		assert.Equal(t, fc.SeverityWarning, replaced[0].Severity)

		mb, ok := out.Child("multipleBirthInteger")
		require.True(t, ok)
		assert.Equal(t, json.Number("1"), mb.Value)
	})

	t.Run("failing fallback fails the subtree", func(t *testing.T) {
		fallback := func(string, any, string, error) (any, error) {
			return nil, errors.New("no replacement")
		}
		_, _, err := New(WithTable(table), WithFallback(fallback)).Convert(context.Background(), mustNode(t, src), fc.R4, fc.R5)
		var convErr *ConversionError
		require.True(t, errors.As(err, &convErr))
		assert.EqualError(t, convErr.Failures[0].Err, "no replacement")
	})
}

func TestConvert_BackbonePath(t *testing.T) {
	c := New(WithTable(mustTable(t, patientTable)))
	in := mustNode(t, `{
		"resourceType": "Patient",
		"contact": [{"relationship": [{"text": "mother"}], "gender": "female"}]
	}`)

	out, diags, err := c.Convert(context.Background(), in, fc.R4, fc.R5)
	require.NoError(t, err)
	lossy := fc.Filter(diags, fc.KindLossyConversion)
	require.Len(t, lossy, 1)
	assert.Equal(t, "Patient.contact.gender", lossy[0].Path)
	assert.Equal(t, `{"resourceType":"Patient","contact":[{"relationship":[{"text":"mother"}]}]}`, out.String())
}

func TestConvert_NestedTypeFromGraph(t *testing.T) {
	card := func(maxVal string) definition.Cardinality {
		c, _ := definition.ParseCardinality(0, maxVal)
		return c
	}
	rec := func(kind definition.Kind, name, base string, elements ...definition.Element) *definition.Record {
		r := &definition.Record{
			Kind: kind, URL: definition.BaseURL + name, Name: name, Type: name,
			BaseDefinition: definition.BaseURL + base,
			Elements:       append([]definition.Element{{ID: name, Path: name, Cardinality: card("*")}}, elements...),
		}
		for i := range r.Elements {
			r.Elements[i].Owner = r.URL
		}
		return r
	}
	typed := func(path, maxVal string, codes ...string) definition.Element {
		e := definition.Element{ID: path, Path: path, Cardinality: card(maxVal)}
		for _, code := range codes {
			e.Types = append(e.Types, definition.TypeReference{Code: code})
		}
		return e
	}

	coll := definition.NewCollection("4.0.1")
	coll.Insert(rec(definition.KindResource, "Patient", "DomainResource",
		typed("Patient.name", "*", "HumanName"),
		typed("Patient.deceased[x]", "1", "boolean", "dateTime"),
	), definition.OverrideNewer)
	coll.Insert(rec(definition.KindComplex, "HumanName", "Element",
		typed("HumanName.family", "1", "string"),
	), definition.OverrideNewer)
	graph, _ := resolver.Resolve(context.Background(), coll, fc.NewOptions())
	require.NotNil(t, graph)

	table := mustTable(t, `
from: 4.0.1
to: 5.0.0
types:
  - type: Patient
    elements:
      - source: name
      - source: deceasedBoolean
  - type: HumanName
    elements:
      - source: family
        target: surname
`)
	c := New(WithTable(table), WithGraph(graph))
	in := mustNode(t, `{"resourceType":"Patient","name":[{"family":"Doe"}],"deceasedBoolean":false}`)

	out, diags, err := c.Convert(context.Background(), in, fc.R4, fc.R5)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, `{"resourceType":"Patient","name":[{"surname":"Doe"}],"deceasedBoolean":false}`, out.String())

	name, ok := graph.Lookup("Patient")
	require.True(t, ok)
	got, ok := choiceType(name, "Patient.deceasedDateTime")
	assert.True(t, ok)
	assert.Equal(t, "dateTime", got)
}

func TestConvert_TargetTypeAndTypeRename(t *testing.T) {
	table := mustTable(t, `
from: R4
to: R5
types:
  - type: MedicationStatement
    target: MedicationUsage
    elements:
      - source: dosage
        targetType: Dosage
  - type: Dosage
    elements:
      - source: text
        target: instruction
`)
	in := mustNode(t, `{"resourceType":"MedicationStatement","dosage":[{"text":"twice daily"}]}`)
	out, diags, err := New(WithTable(table)).Convert(context.Background(), in, fc.R4, fc.R5)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, "MedicationUsage", out.ResourceType())
	assert.Equal(t, `{"resourceType":"MedicationUsage","dosage":[{"instruction":"twice daily"}]}`, out.String())
}

func TestConvert_Errors(t *testing.T) {
	c := New(WithTable(mustTable(t, patientTable)))
	in := mustNode(t, `{"resourceType":"Patient","id":"p1"}`)

	same, diags, err := c.Convert(context.Background(), in, fc.R4, fc.R4)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, in.String(), same.String())
	assert.NotSame(t, in, same)

	_, _, err = c.Convert(context.Background(), in, fc.R5, fc.R4)
	assert.ErrorIs(t, err, ErrNoTable)

	_, _, err = c.Convert(context.Background(), mustNode(t, `{"id":"x"}`), fc.R4, fc.R5)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, _, err := c.Convert(ctx, in, fc.R4, fc.R5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestParseTable(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"bad version", "from: R9\nto: R5\n", "unknown source version"},
		{"many to many", "from: R4\nto: R5\ntypes:\n  - type: T\n    elements:\n      - source: [a, b]\n        target: [c, d]\n", "many to many"},
		{"duplicate source", "from: R4\nto: R5\ntypes:\n  - type: T\n    elements:\n      - source: a\n      - source: [b, a]\n        target: c\n", "mapped twice"},
		{"unknown narrow", "from: R4\nto: R5\ntypes:\n  - type: T\n    elements:\n      - source: a\n        narrow: Quantity\n", "unknown primitive"},
		{"duplicate type", "from: R4\nto: R5\ntypes:\n  - type: T\n  - type: T\n", "listed twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	table := mustTable(t, patientTable)
	from, to := table.Versions()
	assert.Equal(t, fc.R4, from)
	assert.Equal(t, fc.R5, to)

	tm, ok := table.Type("Patient")
	require.True(t, ok)
	ops := map[string]Op{}
	for _, src := range []string{"name", "birthDate", "phone", "nickname"} {
		em, ok := tm.Element(src)
		require.True(t, ok)
		ops[src] = em.Op()
	}
	assert.Equal(t, map[string]Op{
		"name": OpIdentity, "birthDate": OpRename, "phone": OpCollapse, "nickname": OpSplit,
	}, ops)

	data, err := table.Marshal()
	require.NoError(t, err)
	again, err := ParseTable(data)
	require.NoError(t, err)
	assert.Equal(t, len(table.Types), len(again.Types))
}

func TestNode_JSON(t *testing.T) {
	src := `{"resourceType":"Observation","valueQuantity":{"value":1.50,"unit":"mg"},"component":[{"code":{"text":"x"}}],"given":["a",null],"active":true,"note":null}`
	n := mustNode(t, src)
	assert.Equal(t, src, n.String(), "member order, number literals and nulls are preserved")

	q, ok := n.Child("valueQuantity")
	require.True(t, ok)
	v, _ := q.Child("value")
	assert.Equal(t, json.Number("1.50"), v.Value)

	_, err := ParseNode([]byte(`{"a":`))
	assert.Error(t, err)
}
