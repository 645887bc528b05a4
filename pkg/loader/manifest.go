package loader

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Manifest is the package.json of a FHIR NPM package.
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	FHIRVersions []string          `json:"fhirVersions,omitempty"`
	FHIRVersion  string            `json:"fhirVersion,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// ParseManifest decodes a package.json document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse package manifest: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("package manifest has no name")
	}
	return &m, nil
}

// Directive returns the manifest's name#version.
func (m *Manifest) Directive() Directive {
	return Directive{Name: m.Name, Version: m.Version}
}

// Release returns the FHIR version the package targets. Older packages use
// the singular fhirVersion field.
func (m *Manifest) Release() string {
	if len(m.FHIRVersions) > 0 {
		return m.FHIRVersions[0]
	}
	return m.FHIRVersion
}

// DependencyDirectives returns the declared dependencies sorted by name.
func (m *Manifest) DependencyDirectives() []Directive {
	out := make([]Directive, 0, len(m.Dependencies))
	for name, version := range m.Dependencies {
		out = append(out, Directive{Name: name, Version: version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
