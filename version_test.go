package fhircodegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFHIRVersion_IsValid(t *testing.T) {
	tests := []struct {
		version FHIRVersion
		want    bool
	}{
		{R3, true},
		{R4, true},
		{R4B, true},
		{R5, true},
		{"R2", false},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.version.IsValid(), "%q.IsValid()", tt.version)
	}
}

func TestFHIRVersion_CorePackage(t *testing.T) {
	name, version := R4.CorePackage()
	assert.Equal(t, "hl7.fhir.r4.core", name)
	assert.Equal(t, "4.0.1", version)

	name, version = FHIRVersion("R9").CorePackage()
	assert.Empty(t, name)
	assert.Empty(t, version)

	assert.Equal(t, "5.0.0", R5.Semver())
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want FHIRVersion
		ok   bool
	}{
		{"R4", R4, true},
		{"r4b", R4B, true},
		{"4.0.1", R4, true},
		{"4.3.0", R4B, true},
		{"5.0.0-ballot", R5, true},
		{"3.0.2", R3, true},
		{" R5 ", R5, true},
		{"1.0.2", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseVersion(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
