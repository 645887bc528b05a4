package fhircodegen

import "strings"

// FHIRVersion represents a FHIR specification version.
type FHIRVersion string

// Supported FHIR versions.
const (
	// R3 is FHIR STU3 (3.0.2)
	R3 FHIRVersion = "R3"
	// R4 is FHIR Release 4 (4.0.1)
	R4 FHIRVersion = "R4"
	// R4B is FHIR Release 4B (4.3.0)
	R4B FHIRVersion = "R4B"
	// R5 is FHIR Release 5 (5.0.0)
	R5 FHIRVersion = "R5"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a supported FHIR version.
func (v FHIRVersion) IsValid() bool {
	_, ok := versionConfigs[v]
	return ok
}

// CorePackage returns the core package name and version for this FHIR version.
func (v FHIRVersion) CorePackage() (name, version string) {
	cfg, ok := versionConfigs[v]
	if !ok {
		return "", ""
	}
	return cfg.CorePackageName, cfg.CorePackageVersion
}

// Semver returns the fhirVersion string used in StructureDefinitions.
func (v FHIRVersion) Semver() string {
	return versionConfigs[v].FHIRVersionString
}

// versionConfig holds version-specific configuration.
type versionConfig struct {
	CorePackageName    string
	CorePackageVersion string

	// FHIRVersionString is the version string used in StructureDefinitions
	FHIRVersionString string
}

var versionConfigs = map[FHIRVersion]versionConfig{
	R3: {
		CorePackageName:    "hl7.fhir.r3.core",
		CorePackageVersion: "3.0.2",
		FHIRVersionString:  "3.0.2",
	},
	R4: {
		CorePackageName:    "hl7.fhir.r4.core",
		CorePackageVersion: "4.0.1",
		FHIRVersionString:  "4.0.1",
	},
	R4B: {
		CorePackageName:    "hl7.fhir.r4b.core",
		CorePackageVersion: "4.3.0",
		FHIRVersionString:  "4.3.0",
	},
	R5: {
		CorePackageName:    "hl7.fhir.r5.core",
		CorePackageVersion: "5.0.0",
		FHIRVersionString:  "5.0.0",
	},
}

// ParseVersion accepts release names ("R4", "r4b") as well as semver
// strings ("4.0.1", "4.3", "5.0.0-ballot") and returns the matching release.
func ParseVersion(s string) (FHIRVersion, bool) {
	s = strings.TrimSpace(s)
	if v := FHIRVersion(strings.ToUpper(s)); v.IsValid() {
		return v, true
	}
	switch {
	case strings.HasPrefix(s, "3.0"):
		return R3, true
	case strings.HasPrefix(s, "4.0"):
		return R4, true
	case strings.HasPrefix(s, "4.3"), strings.HasPrefix(s, "4.1"):
		return R4B, true
	case strings.HasPrefix(s, "5."):
		return R5, true
	}
	return "", false
}
