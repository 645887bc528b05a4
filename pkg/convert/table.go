package convert

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/primitive"
)

// Names is a list of element names that may be written in YAML as a single
// string or as a sequence.
type Names []string

// UnmarshalYAML accepts either a scalar or a sequence of strings.
func (n *Names) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		if s == "" {
			*n = Names{}
		} else {
			*n = Names{s}
		}
		return nil
	case yaml.SequenceNode:
		var arr []string
		if err := node.Decode(&arr); err != nil {
			return err
		}
		*n = arr
		return nil
	default:
		return fmt.Errorf("expected string or list, got %v", node.Kind)
	}
}

// MarshalYAML writes a single name as a scalar.
func (n Names) MarshalYAML() (any, error) {
	if len(n) == 1 {
		return n[0], nil
	}
	return []string(n), nil
}

// Op is the structural operation of an element mapping.
type Op string

const (
	OpIdentity Op = "identity"
	OpRename   Op = "rename"
	OpCollapse Op = "collapse"
	OpSplit    Op = "split"
)

// ElementMapping maps source elements of one type to target elements.
// One source and one target is a rename (or identity when the names agree),
// several sources and one target a collapse, one source and several targets
// a split. Narrow casts primitive values to the named target primitive.
// TargetType names the mapping used to convert nested complex values.
type ElementMapping struct {
	Source     Names  `yaml:"source"`
	Target     Names  `yaml:"target,omitempty"`
	Narrow     string `yaml:"narrow,omitempty"`
	TargetType string `yaml:"targetType,omitempty"`
}

// Op classifies the mapping.
func (m *ElementMapping) Op() Op {
	switch {
	case len(m.Source) > 1:
		return OpCollapse
	case len(m.Target) > 1:
		return OpSplit
	case m.Source[0] == m.Target[0]:
		return OpIdentity
	default:
		return OpRename
	}
}

// TypeMapping lists the element mappings of one source type. Type is a
// type name ("Patient") or the path of a backbone element
// ("Patient.contact"). Target renames the type itself.
type TypeMapping struct {
	Type     string           `yaml:"type"`
	Target   string           `yaml:"target,omitempty"`
	Elements []ElementMapping `yaml:"elements"`

	bySource map[string]*ElementMapping
}

// Element returns the mapping that consumes the source element name.
func (t *TypeMapping) Element(name string) (*ElementMapping, bool) {
	m, ok := t.bySource[name]
	return m, ok
}

// Table is a declarative mapping between two FHIR releases. Types the
// table does not list convert element for element.
type Table struct {
	From  string        `yaml:"from"`
	To    string        `yaml:"to"`
	Types []TypeMapping `yaml:"types"`

	from, to fc.FHIRVersion
	byType   map[string]*TypeMapping
}

// Versions returns the parsed source and target releases.
func (t *Table) Versions() (from, to fc.FHIRVersion) {
	return t.from, t.to
}

// Type returns the mapping of a type name or backbone path.
func (t *Table) Type(name string) (*TypeMapping, bool) {
	m, ok := t.byType[name]
	return m, ok
}

// LoadTable reads and parses a YAML mapping table.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping table %s: %w", path, err)
	}
	return ParseTable(data)
}

// ParseTable parses a YAML mapping table, applies defaults and validates
// it.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse mapping YAML: %w", err)
	}
	applyDefaults(&t)
	if err := t.index(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Marshal serializes the table to YAML.
func (t *Table) Marshal() ([]byte, error) {
	return yaml.Marshal(t)
}

func applyDefaults(t *Table) {
	for i := range t.Types {
		tm := &t.Types[i]
		for j := range tm.Elements {
			em := &tm.Elements[j]
			if len(em.Target) == 0 {
				em.Target = append(Names(nil), em.Source...)
			}
		}
	}
}

func (t *Table) index() error {
	var ok bool
	if t.from, ok = fc.ParseVersion(t.From); !ok {
		return fmt.Errorf("mapping table: unknown source version %q", t.From)
	}
	if t.to, ok = fc.ParseVersion(t.To); !ok {
		return fmt.Errorf("mapping table: unknown target version %q", t.To)
	}

	t.byType = make(map[string]*TypeMapping, len(t.Types))
	for i := range t.Types {
		tm := &t.Types[i]
		if tm.Type == "" {
			return fmt.Errorf("mapping table: type entry %d has no type", i)
		}
		if _, dup := t.byType[tm.Type]; dup {
			return fmt.Errorf("mapping table: type %s listed twice", tm.Type)
		}
		t.byType[tm.Type] = tm

		tm.bySource = make(map[string]*ElementMapping)
		for j := range tm.Elements {
			em := &tm.Elements[j]
			if err := em.validate(); err != nil {
				return fmt.Errorf("mapping table: %s element %d: %w", tm.Type, j, err)
			}
			for _, src := range em.Source {
				if _, dup := tm.bySource[src]; dup {
					return fmt.Errorf("mapping table: %s.%s mapped twice", tm.Type, src)
				}
				tm.bySource[src] = em
			}
		}
	}
	return nil
}

func (m *ElementMapping) validate() error {
	if len(m.Source) == 0 {
		return fmt.Errorf("no source")
	}
	if len(m.Source) > 1 && len(m.Target) > 1 {
		return fmt.Errorf("%s -> %s maps many to many", strings.Join(m.Source, ","), strings.Join(m.Target, ","))
	}
	for _, name := range append(append(Names(nil), m.Source...), m.Target...) {
		if name == "" || strings.ContainsAny(name, ". ") {
			return fmt.Errorf("invalid element name %q", name)
		}
	}
	if m.Narrow != "" && !primitive.IsPrimitive(m.Narrow) {
		return fmt.Errorf("narrow: unknown primitive %q", m.Narrow)
	}
	return nil
}
