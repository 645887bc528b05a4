package loader

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/buger/jsonparser"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
)

// rawStructure is the flat extraction of a StructureDefinition shared by both
// parse pipelines. Normalization into a definition.Record happens once, in
// record, so the pipelines only differ in how they read bytes.
type rawStructure struct {
	URL            string
	Name           string
	Type           string
	Kind           string
	Derivation     string
	BaseDefinition string
	Abstract       bool
	Description    string
	Status         string
	FHIRVersion    string
	Elements       []rawElement
}

type rawElement struct {
	ID               string
	Path             string
	Short            string
	Min              int
	Max              string
	Types            []definition.TypeReference
	Binding          *definition.Binding
	ContentReference string
	Constraints      []definition.Constraint
	IsModifier       bool
	IsSummary        bool
}

type rawValueSet struct {
	URL         string
	Name        string
	Description string
	Status      string
	Codes       []definition.Code
}

func (s *rawStructure) record() (*definition.Record, error) {
	kind, err := definition.ClassifyStructure(s.Kind, s.Type, s.Derivation)
	if err != nil {
		return nil, err
	}
	r := &definition.Record{
		Kind:           kind,
		URL:            s.URL,
		Name:           s.Name,
		Type:           s.Type,
		BaseDefinition: s.BaseDefinition,
		Derivation:     s.Derivation,
		Abstract:       s.Abstract,
		Description:    s.Description,
		Status:         s.Status,
		FHIRVersion:    s.FHIRVersion,
	}
	if len(s.Elements) > 0 {
		r.Elements = make([]definition.Element, 0, len(s.Elements))
	}
	for i := range s.Elements {
		e := &s.Elements[i]
		card, err := definition.ParseCardinality(e.Min, e.Max)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Path, err)
		}
		r.Elements = append(r.Elements, definition.Element{
			ID:               e.ID,
			Path:             e.Path,
			Short:            e.Short,
			Cardinality:      card,
			Types:            e.Types,
			Binding:          e.Binding,
			ContentReference: e.ContentReference,
			Constraints:      e.Constraints,
			IsModifier:       e.IsModifier,
			IsSummary:        e.IsSummary,
			Owner:            s.URL,
		})
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (v *rawValueSet) record() (*definition.Record, error) {
	r := &definition.Record{
		Kind:        definition.KindValueSet,
		URL:         v.URL,
		Name:        v.Name,
		Description: v.Description,
		Status:      v.Status,
		Codes:       v.Codes,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// parser turns one definition document into a record.
type parser interface {
	structure(data []byte) (*rawStructure, error)
	valueSet(data []byte) (*rawValueSet, error)
}

func parserFor(mode fc.ParseMode) parser {
	if mode == fc.ParseModeStream {
		return streamParser{}
	}
	return objectParser{}
}

// parsedDocument is the outcome of parsing one document: zero or more
// records (Bundles yield several), the number of skipped resources, and the
// failures of individual entries.
type parsedDocument struct {
	records  []*definition.Record
	skipped  int
	failures []Failure
}

// parseDocument dispatches a document by resourceType. Bundles are unpacked
// entry by entry; a failing entry does not fail its siblings.
func parseDocument(p parser, pkg Directive, doc Document) parsedDocument {
	var out parsedDocument
	fail := func(name string, err error) {
		out.failures = append(out.failures, Failure{Package: pkg, Document: name, Err: err})
	}

	if !json.Valid(doc.Data) {
		fail(doc.Name, fmt.Errorf("malformed JSON"))
		return out
	}

	rt, err := resourceType(doc.Data)
	if err != nil {
		fail(doc.Name, err)
		return out
	}

	if rt == "Bundle" {
		i := 0
		_, err := jsonparser.ArrayEach(doc.Data, func(value []byte, dt jsonparser.ValueType, _ int, _ error) {
			name := doc.Name + "#" + strconv.Itoa(i)
			i++
			resource, rdt, _, err := jsonparser.Get(value, "resource")
			if err != nil || rdt != jsonparser.Object {
				return
			}
			entry := parseResource(p, pkg, Document{Name: name, Data: resource})
			out.records = append(out.records, entry.records...)
			out.skipped += entry.skipped
			out.failures = append(out.failures, entry.failures...)
		}, "entry")
		if err != nil && err != jsonparser.KeyPathNotFoundError {
			fail(doc.Name, fmt.Errorf("failed to read bundle entries: %w", err))
		}
		return out
	}

	return parseResource(p, pkg, doc)
}

func parseResource(p parser, pkg Directive, doc Document) parsedDocument {
	var out parsedDocument
	rt, err := resourceType(doc.Data)
	if err != nil {
		out.failures = append(out.failures, Failure{Package: pkg, Document: doc.Name, Err: err})
		return out
	}

	var r *definition.Record
	switch rt {
	case "StructureDefinition":
		var s *rawStructure
		if s, err = p.structure(doc.Data); err == nil {
			r, err = s.record()
		}
	case "ValueSet":
		var v *rawValueSet
		if v, err = p.valueSet(doc.Data); err == nil {
			r, err = v.record()
		}
	default:
		// CodeSystem, SearchParameter, examples, ...
		out.skipped++
		return out
	}
	if err != nil {
		out.failures = append(out.failures, Failure{Package: pkg, Document: doc.Name, Err: err})
		return out
	}

	r.Package = pkg.String()
	r.Document = doc.Name
	out.records = append(out.records, r)
	return out
}

func resourceType(data []byte) (string, error) {
	rt, err := jsonparser.GetString(data, "resourceType")
	if err != nil {
		return "", fmt.Errorf("document has no resourceType")
	}
	return rt, nil
}
