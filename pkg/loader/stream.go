package loader

import (
	"errors"
	"fmt"

	"github.com/buger/jsonparser"

	"github.com/gofhir/codegen/pkg/definition"
)

// streamParser reads only the fields it needs straight from the raw bytes.
type streamParser struct{}

func (streamParser) structure(data []byte) (*rawStructure, error) {
	f := fields{data: data}
	s := &rawStructure{
		URL:            f.str("url"),
		Name:           f.str("name"),
		Type:           f.str("type"),
		Kind:           f.str("kind"),
		Derivation:     f.str("derivation"),
		BaseDefinition: f.str("baseDefinition"),
		Abstract:       f.boolean("abstract"),
		Description:    f.str("description"),
		Status:         f.str("status"),
		FHIRVersion:    f.str("fhirVersion"),
	}
	if f.err != nil {
		return nil, f.err
	}

	elements, err := streamElements(data, "snapshot", "element")
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		if elements, err = streamElements(data, "differential", "element"); err != nil {
			return nil, err
		}
	}
	s.Elements = elements
	return s, nil
}

func streamElements(data []byte, keys ...string) ([]rawElement, error) {
	var out []rawElement
	err := each(data, func(value []byte) error {
		f := fields{data: value}
		e := rawElement{
			ID:               f.str("id"),
			Path:             f.str("path"),
			Short:            f.str("short"),
			Min:              f.integer("min"),
			Max:              f.str("max"),
			ContentReference: f.str("contentReference"),
			IsModifier:       f.boolean("isModifier"),
			IsSummary:        f.boolean("isSummary"),
		}
		if f.err != nil {
			return f.err
		}
		var err error
		if e.Types, err = streamTypes(value); err != nil {
			return err
		}
		if e.Binding, err = streamBinding(value); err != nil {
			return err
		}
		if e.Constraints, err = streamConstraints(value); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	}, keys...)
	return out, err
}

func streamTypes(elem []byte) ([]definition.TypeReference, error) {
	var out []definition.TypeReference
	err := each(elem, func(value []byte) error {
		f := fields{data: value}
		code := f.str("code")
		profiles := f.strings("profile")
		targets := f.strings("targetProfile")
		if f.err != nil {
			return f.err
		}
		if code == "" {
			return nil
		}
		out = append(out, definition.TypeReference{Code: code, Profiles: profiles, TargetProfiles: targets})
		return nil
	}, "type")
	return out, err
}

func streamBinding(elem []byte) (*definition.Binding, error) {
	value, dt, _, err := jsonparser.Get(elem, "binding")
	if errors.Is(err, jsonparser.KeyPathNotFoundError) || dt == jsonparser.Null {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if dt != jsonparser.Object {
		return nil, fmt.Errorf("binding is not an object")
	}
	f := fields{data: value}
	b := &definition.Binding{
		Strength:    definition.BindingStrength(f.str("strength")),
		ValueSet:    f.str("valueSet"),
		Description: f.str("description"),
	}
	return b, f.err
}

func streamConstraints(elem []byte) ([]definition.Constraint, error) {
	var out []definition.Constraint
	err := each(elem, func(value []byte) error {
		f := fields{data: value}
		c := definition.Constraint{
			Key:        f.str("key"),
			Severity:   f.str("severity"),
			Human:      f.str("human"),
			Expression: f.str("expression"),
		}
		if f.err != nil {
			return f.err
		}
		out = append(out, c)
		return nil
	}, "constraint")
	return out, err
}

func (streamParser) valueSet(data []byte) (*rawValueSet, error) {
	f := fields{data: data}
	v := &rawValueSet{
		URL:         f.str("url"),
		Name:        f.str("name"),
		Description: f.str("description"),
		Status:      f.str("status"),
	}
	if f.err != nil {
		return nil, f.err
	}

	if expansion, dt, _, err := jsonparser.Get(data, "expansion"); err == nil && dt == jsonparser.Object {
		codes, err := streamContains(expansion, nil)
		if err != nil {
			return nil, err
		}
		v.Codes = codes
		return v, nil
	}

	err := each(data, func(include []byte) error {
		inc := fields{data: include}
		system := inc.str("system")
		if inc.err != nil {
			return inc.err
		}
		if system == "" {
			return nil
		}
		return each(include, func(concept []byte) error {
			c := fields{data: concept}
			code := c.str("code")
			display := c.str("display")
			if c.err != nil {
				return c.err
			}
			if code != "" {
				v.Codes = append(v.Codes, definition.Code{System: system, Code: code, Display: display})
			}
			return nil
		}, "concept")
	}, "compose", "include")
	if err != nil {
		return nil, err
	}
	return v, nil
}

// streamContains walks expansion.contains depth first, pre-order.
func streamContains(node []byte, codes []definition.Code) ([]definition.Code, error) {
	err := each(node, func(value []byte) error {
		f := fields{data: value}
		system, code, display := f.str("system"), f.str("code"), f.str("display")
		if f.err != nil {
			return f.err
		}
		if code != "" && system != "" {
			codes = append(codes, definition.Code{System: system, Code: code, Display: display})
		}
		var err error
		codes, err = streamContains(value, codes)
		return err
	}, "contains")
	return codes, err
}

// each calls fn for every element of the array at keys. A missing array is
// not an error; the first error returned by fn stops reporting further ones.
func each(data []byte, fn func(value []byte) error, keys ...string) error {
	var first error
	_, err := jsonparser.ArrayEach(data, func(value []byte, dt jsonparser.ValueType, _ int, err error) {
		if first != nil {
			return
		}
		if err != nil {
			first = err
			return
		}
		first = fn(value)
	}, keys...)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return first
	}
	if err != nil {
		return err
	}
	return first
}

// fields reads scalar members of one JSON object, keeping the first error.
// Absent and null members read as zero values.
type fields struct {
	data []byte
	err  error
}

func (f *fields) get(key string, want jsonparser.ValueType) ([]byte, bool) {
	if f.err != nil {
		return nil, false
	}
	value, dt, _, err := jsonparser.Get(f.data, key)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) || dt == jsonparser.Null {
		return nil, false
	}
	if err != nil {
		f.err = err
		return nil, false
	}
	if dt != want {
		f.err = fmt.Errorf("%s: unexpected JSON type %v", key, dt)
		return nil, false
	}
	return value, true
}

func (f *fields) str(key string) string {
	value, ok := f.get(key, jsonparser.String)
	if !ok {
		return ""
	}
	s, err := jsonparser.ParseString(value)
	if err != nil {
		f.err = err
	}
	return s
}

func (f *fields) boolean(key string) bool {
	value, ok := f.get(key, jsonparser.Boolean)
	if !ok {
		return false
	}
	b, err := jsonparser.ParseBoolean(value)
	if err != nil {
		f.err = err
	}
	return b
}

func (f *fields) integer(key string) int {
	value, ok := f.get(key, jsonparser.Number)
	if !ok {
		return 0
	}
	n, err := jsonparser.ParseInt(value)
	if err != nil {
		f.err = err
	}
	return int(n)
}

func (f *fields) strings(key string) []string {
	if f.err != nil {
		return nil
	}
	var out []string
	f.err = each(f.data, func(value []byte) error {
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	}, key)
	return out
}
