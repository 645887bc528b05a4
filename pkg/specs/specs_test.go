package specs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
)

func TestBase(t *testing.T) {
	for _, v := range []fc.FHIRVersion{fc.R4, fc.R4B} {
		t.Run(string(v), func(t *testing.T) {
			c, err := Base(v)
			require.NoError(t, err)
			assert.Equal(t, v.Semver(), c.Version())

			for _, name := range []string{"Element", "BackboneElement", "Resource", "DomainResource", "Extension", "string", "code"} {
				_, ok := c.ByCanonicalName(name)
				assert.True(t, ok, "base should define %s", name)
			}
			assert.Len(t, c.Primitives(), 20)
			assert.Len(t, c.ValueSets(), 1)

			code, _ := c.ByCanonicalName("code")
			assert.Equal(t, definition.BaseURL+"string", code.BaseDefinition)
		})
	}
}

func TestBaseIsShared(t *testing.T) {
	a, err := Base(fc.R4)
	require.NoError(t, err)
	b, err := Base(fc.R4)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestBaseRejectsUnknownVersion(t *testing.T) {
	_, err := Base(fc.FHIRVersion("R9"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoBase)
}

func TestBaseOnlyServesR4Line(t *testing.T) {
	for _, v := range []fc.FHIRVersion{fc.R3, fc.R5} {
		_, err := Base(v)
		assert.ErrorIs(t, err, ErrNoBase, "%s", v)
	}
}

func TestDocuments(t *testing.T) {
	src, err := Documents()
	require.NoError(t, err)
	assert.Contains(t, src, "StructureDefinition-Element.json")
	assert.Contains(t, src, "ValueSet-narrative-status.json")
}
