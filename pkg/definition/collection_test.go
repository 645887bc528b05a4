package definition

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func structure(kind Kind, name string) *Record {
	return &Record{
		Kind:       kind,
		URL:        BaseURL + name,
		Name:       name,
		Type:       name,
		Derivation: DerivationSpecialization,
	}
}

func TestCollection_InsertAndLookup(t *testing.T) {
	c := NewCollection("4.0.1")
	c.Insert(structure(KindResource, "Patient"), OverrideNewer)
	c.Insert(structure(KindPrimitive, "string"), OverrideNewer)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "4.0.1", c.Version())

	r, ok := c.ByCanonicalName(BaseURL + "Patient")
	require.True(t, ok)
	assert.Equal(t, "Patient", r.Name)

	r, ok = c.ByCanonicalName("string")
	require.True(t, ok)
	assert.Equal(t, KindPrimitive, r.Kind)

	_, ok = c.ByCanonicalName("Observation")
	assert.False(t, ok)
}

func TestCollection_OverrideNewerWins(t *testing.T) {
	c := NewCollection("4.0.1")
	first := structure(KindComplex, "Address")
	first.Package = "p1#1.0.0"
	second := structure(KindComplex, "Address")
	second.Package = "p2#1.0.0"

	slot := func() int {
		s, ok := c.Slot("Address")
		require.True(t, ok)
		return s
	}

	assert.Nil(t, c.Insert(first, OverrideNewer))
	before := slot()
	replaced := c.Insert(second, OverrideNewer)

	assert.Same(t, first, replaced)
	r, _ := c.ByCanonicalName("Address")
	assert.Equal(t, "p2#1.0.0", r.Package)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, before, slot(), "override must keep the arena slot")

	overrides := c.Overrides()
	require.Len(t, overrides, 1)
	assert.Same(t, first, overrides[0].Previous)
	assert.Same(t, second, overrides[0].Current)
}

func TestCollection_OverrideKeepExisting(t *testing.T) {
	c := NewCollection("4.0.1")
	first := structure(KindComplex, "Address")
	second := structure(KindComplex, "Address")

	c.Insert(first, OverrideKeepExisting)
	rejected := c.Insert(second, OverrideKeepExisting)

	assert.Same(t, second, rejected)
	r, _ := c.ByCanonicalName(BaseURL + "Address")
	assert.Same(t, first, r)
	require.Len(t, c.Overrides(), 1)
}

func TestCollection_NameIndexPrefersBaseDefinitions(t *testing.T) {
	c := NewCollection("4.0.1")
	base := structure(KindResource, "Patient")
	profile := &Record{
		Kind:       KindResource,
		URL:        "http://example.org/StructureDefinition/my-patient",
		Name:       "Patient",
		Type:       "Patient",
		Derivation: DerivationConstraint,
	}

	c.Insert(base, OverrideNewer)
	c.Insert(profile, OverrideNewer)

	r, ok := c.ByCanonicalName("Patient")
	require.True(t, ok)
	assert.Same(t, base, r)

	r, ok = c.ByCanonicalName(profile.URL)
	require.True(t, ok)
	assert.Same(t, profile, r)
}

func TestCollection_OverrideRenames(t *testing.T) {
	c := NewCollection("4.0.1")
	old := structure(KindComplex, "Address")
	profile := &Record{
		Kind:       KindComplex,
		URL:        "http://example.org/StructureDefinition/address-profile",
		Name:       "Address",
		Type:       "Address",
		Derivation: DerivationConstraint,
	}
	renamed := &Record{
		Kind:       KindComplex,
		URL:        old.URL,
		Name:       "PostalAddress",
		Type:       "PostalAddress",
		Derivation: DerivationSpecialization,
	}

	c.Insert(old, OverrideNewer)
	c.Insert(profile, OverrideNewer)
	assert.Same(t, old, c.Insert(renamed, OverrideNewer))

	r, ok := c.ByCanonicalName("PostalAddress")
	require.True(t, ok)
	assert.Same(t, renamed, r)

	r, ok = c.ByCanonicalName("Address")
	require.True(t, ok)
	assert.Same(t, profile, r, "the displaced name falls back to the remaining record carrying it")

	c2 := NewCollection("4.0.1")
	c2.Insert(structure(KindComplex, "Address"), OverrideNewer)
	c2.Insert(renamed, OverrideNewer)
	_, ok = c2.ByCanonicalName("Address")
	assert.False(t, ok, "no record is named Address any more")
}

func TestCollection_Views(t *testing.T) {
	c := NewCollection("4.0.1")
	c.Insert(structure(KindResource, "Patient"), OverrideNewer)
	c.Insert(structure(KindResource, "Account"), OverrideNewer)
	c.Insert(structure(KindComplex, "HumanName"), OverrideNewer)
	c.Insert(structure(KindExtension, "patient-birthPlace"), OverrideNewer)
	c.Insert(structure(KindPrimitive, "boolean"), OverrideNewer)
	c.Insert(&Record{Kind: KindValueSet, URL: "http://hl7.org/fhir/ValueSet/administrative-gender", Name: "AdministrativeGender"}, OverrideNewer)

	res := c.Resources()
	require.Len(t, res, 2)
	assert.Equal(t, "Account", res[0].Name, "views are sorted by canonical url")
	assert.Len(t, c.ComplexTypes(), 2)
	assert.Len(t, c.Primitives(), 1)
	assert.Len(t, c.ValueSets(), 1)
	assert.Len(t, c.AllOfKind(KindExtension), 1)
	assert.Len(t, c.All(), 6)

	// Cached until the next mutation.
	assert.Same(t, &c.Resources()[0], &res[0])
	c.Insert(structure(KindResource, "Observation"), OverrideNewer)
	assert.Len(t, c.Resources(), 3)
}

func TestCollection_ConcurrentInsertAndRead(t *testing.T) {
	c := NewCollection("4.0.1")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Insert(structure(KindComplex, fmt.Sprintf("T%d", i)), OverrideNewer)
		}(i)
		go func() {
			defer wg.Done()
			_ = c.ComplexTypes()
			_, _ = c.ByCanonicalName("T1")
		}()
	}
	wg.Wait()
	assert.Len(t, c.ComplexTypes(), 20)
}
