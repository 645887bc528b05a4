package emit

import (
	"fmt"
	"strings"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/resolver"
)

// FileFormat selects the layout of emitted artifacts. JSON and YAML apply
// to schema emitters; single and multi to code emitters.
type FileFormat string

const (
	FormatJSON   FileFormat = "json"
	FormatYAML   FileFormat = "yaml"
	FormatSingle FileFormat = "single"
	FormatMulti  FileFormat = "multi"
)

// ExtensionSupport controls how much of the extension machinery is emitted.
type ExtensionSupport string

const (
	// ExtensionNone drops extension elements and extension definitions.
	ExtensionNone ExtensionSupport = "none"
	// ExtensionOfficial keeps extension elements and the extension
	// definitions published under hl7.org.
	ExtensionOfficial ExtensionSupport = "official"
	// ExtensionFull keeps everything, including primitive extension
	// siblings ("_birthDate").
	ExtensionFull ExtensionSupport = "full"
)

// Order selects the type enumeration order.
type Order string

const (
	// OrderCanonical sorts by canonical URL.
	OrderCanonical Order = "canonical"
	// OrderResourceFirst lists resources before everything else.
	OrderResourceFirst Order = "resource-first"
	// OrderElementFirst lists Element and BackboneElement first, so that
	// languages that need base classes declared first compile.
	OrderElementFirst Order = "element-first"
)

// Options configure one emitter run.
type Options struct {
	// Namespace wraps all emitted declarations.
	Namespace        string           `yaml:"namespace"`
	FileFormat       FileFormat       `yaml:"fileFormat"`
	ExtensionSupport ExtensionSupport `yaml:"extensionSupport"`
	Order            Order            `yaml:"order"`
	IncludeComments  bool             `yaml:"includeComments"`
	// Targets restricts output to these types and what they reference;
	// empty means every type.
	Targets []string `yaml:"targets"`

	Metrics *fc.Metrics `yaml:"-"`
}

// DefaultOptions returns the defaults: single file, official extensions,
// canonical order, comments on.
func DefaultOptions() Options {
	return Options{
		Namespace:        "Fhir",
		FileFormat:       FormatSingle,
		ExtensionSupport: ExtensionOfficial,
		Order:            OrderCanonical,
		IncludeComments:  true,
	}
}

// Validate reports invalid option values.
func (o Options) Validate() error {
	switch o.FileFormat {
	case "", FormatJSON, FormatYAML, FormatSingle, FormatMulti:
	default:
		return fmt.Errorf("unknown file format %q", o.FileFormat)
	}
	switch o.ExtensionSupport {
	case "", ExtensionNone, ExtensionOfficial, ExtensionFull:
	default:
		return fmt.Errorf("unknown extension support %q", o.ExtensionSupport)
	}
	switch o.Order {
	case "", OrderCanonical, OrderResourceFirst, OrderElementFirst:
	default:
		return fmt.Errorf("unknown order %q", o.Order)
	}
	return nil
}

// withDefaults fills unset fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FileFormat == "" {
		o.FileFormat = d.FileFormat
	}
	if o.ExtensionSupport == "" {
		o.ExtensionSupport = d.ExtensionSupport
	}
	if o.Order == "" {
		o.Order = d.Order
	}
	return o
}

// IncludeType reports whether a type is emitted under the extension level.
func (o Options) IncludeType(t *resolver.Type) bool {
	if t.Kind() != definition.KindExtension {
		return true
	}
	switch o.ExtensionSupport {
	case ExtensionNone:
		return false
	case ExtensionOfficial:
		return isOfficial(t.URL())
	}
	return true
}

// IncludeElement reports whether an element is emitted under the
// extension level.
func (o Options) IncludeElement(e *resolver.Element) bool {
	if o.ExtensionSupport != ExtensionNone {
		return true
	}
	rep, ok := e.Representative()
	return !ok || rep.Name() != "Extension"
}

func isOfficial(url string) bool {
	return strings.HasPrefix(url, "http://hl7.org/fhir/")
}
