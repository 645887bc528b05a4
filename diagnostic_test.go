package fhircodegen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnostic_IsError(t *testing.T) {
	tests := []struct {
		severity Severity
		want     bool
	}{
		{SeverityFatal, true},
		{SeverityError, true},
		{SeverityWarning, false},
		{SeverityInformation, false},
	}

	for _, tt := range tests {
		d := Diagnostic{Severity: tt.severity}
		assert.Equal(t, tt.want, d.IsError(), "severity %s", tt.severity)
	}
}

func TestDiagnostic_String(t *testing.T) {
	d := Errorf(KindUnresolvedReference).
		Message("type Foo not found").
		Source("http://example.org/StructureDefinition/Bar").
		At("Bar.foo").
		Subject("Foo").
		Build()

	assert.Equal(t,
		"error [unresolved-reference] type Foo not found (http://example.org/StructureDefinition/Bar at Bar.foo)",
		d.String())
	assert.Equal(t, "Foo", d.Subject)

	bare := Warning(KindLossyConversion).Message("dropped").Build()
	assert.Equal(t, "warning [lossy-conversion] dropped", bare.String())
}

func TestDiagnostics_ConcurrentAdd(t *testing.T) {
	var c Diagnostics
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(Warning(KindCycle).Build())
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}

func TestDiagnostics_Sorted(t *testing.T) {
	var c Diagnostics
	c.Add(
		Warning(KindInvalidExpression).Source("b").At("B.x").Build(),
		Errorf(KindUnresolvedReference).Source("a").At("A.y").Build(),
		Fatal(KindCycle).Source("a").At("A.y").Build(),
		Errorf(KindUnresolvedReference).Source("a").At("A.b").Build(),
	)

	got := c.Sorted()
	require.Len(t, got, 4)
	assert.Equal(t, "A.b", got[0].Path)
	assert.Equal(t, KindCycle, got[1].Kind)
	assert.Equal(t, KindUnresolvedReference, got[2].Kind)
	assert.Equal(t, "b", got[3].Source)

	// Items keeps insertion order.
	assert.Equal(t, "b", c.Items()[0].Source)
}

func TestFilterAndHasErrors(t *testing.T) {
	ds := []Diagnostic{
		Warning(KindInvalidExpression).Build(),
		Errorf(KindUnresolvedReference).Build(),
		Errorf(KindUnresolvedReference).Build(),
	}
	assert.Len(t, Filter(ds, KindUnresolvedReference), 2)
	assert.Empty(t, Filter(ds, KindCycle))
	assert.True(t, HasErrors(ds))
	assert.False(t, HasErrors(ds[:1]))
}
