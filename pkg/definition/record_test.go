package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCardinality(t *testing.T) {
	tests := []struct {
		min     int
		max     string
		want    string
		array   bool
		wantErr bool
	}{
		{0, "1", "0..1", false, false},
		{1, "1", "1..1", false, false},
		{0, "*", "0..*", true, false},
		{1, "*", "1..*", true, false},
		{0, "0", "0..0", false, false},
		{0, "", "0..1", false, false},
		{2, "5", "2..5", true, false},
		{2, "1", "", false, true},
		{0, "many", "", false, true},
		{-1, "1", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.want+tt.max, func(t *testing.T) {
			c, err := ParseCardinality(tt.min, tt.max)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.String())
			assert.Equal(t, tt.array, c.IsArray())
		})
	}
}

func TestClassifyStructure(t *testing.T) {
	tests := []struct {
		kind, typ, derivation string
		want                  Kind
	}{
		{"primitive-type", "string", "specialization", KindPrimitive},
		{"complex-type", "Address", "specialization", KindComplex},
		{"complex-type", "Extension", "specialization", KindComplex},
		{"complex-type", "Extension", "constraint", KindExtension},
		{"resource", "Patient", "specialization", KindResource},
		{"logical", "Definition", "", KindLogical},
	}
	for _, tt := range tests {
		got, err := ClassifyStructure(tt.kind, tt.typ, tt.derivation)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s/%s/%s", tt.kind, tt.typ, tt.derivation)
	}

	_, err := ClassifyStructure("widget", "", "")
	assert.Error(t, err)
}

func TestElementHelpers(t *testing.T) {
	e := Element{
		Path: "Observation.value[x]",
		Types: []TypeReference{
			{Code: "Quantity"},
			{Code: "string"},
		},
	}
	assert.Equal(t, "value[x]", e.Name())
	assert.Equal(t, 1, e.Depth())
	assert.True(t, e.IsChoice())
	assert.False(t, e.IsRoot())

	rep, ok := e.Representative()
	require.True(t, ok)
	assert.Equal(t, "Quantity", rep.Code, "first declared type wins")

	empty := Element{Path: "Observation"}
	assert.True(t, empty.IsRoot())
	_, ok = empty.Representative()
	assert.False(t, ok)

	ref := TypeReference{Code: BaseURL + "Reference", TargetProfiles: []string{BaseURL + "Patient"}}
	assert.Equal(t, "Reference", ref.Name())
	assert.True(t, ref.IsParametrized())
}

func TestRecordChildrenAndValidate(t *testing.T) {
	r := &Record{
		URL:  BaseURL + "Patient",
		Name: "Patient",
		Type: "Patient",
		Elements: []Element{
			{Path: "Patient"},
			{Path: "Patient.name"},
			{Path: "Patient.contact"},
			{Path: "Patient.contact.name"},
			{Path: "Patient.gender"},
		},
	}
	require.NoError(t, r.Validate())

	children := r.Children("Patient")
	require.Len(t, children, 3)
	assert.Equal(t, "Patient.name", children[0].Path)
	assert.Equal(t, "Patient.gender", children[2].Path)
	assert.Len(t, r.Children("Patient.contact"), 1)

	e, ok := r.Element("Patient.gender")
	require.True(t, ok)
	assert.Equal(t, "gender", e.Name())

	r.Elements = append(r.Elements, Element{Path: "Patient.name"})
	assert.Error(t, r.Validate())

	sliced := &Record{URL: "x", Elements: []Element{
		{ID: "Patient.identifier", Path: "Patient.identifier"},
		{ID: "Patient.identifier:mrn", Path: "Patient.identifier"},
	}}
	assert.NoError(t, sliced.Validate())

	assert.Error(t, (&Record{Name: "NoURL"}).Validate())
}
