package loader

import (
	"encoding/json"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/codegen/pkg/definition"
)

// objectParser decodes documents into typed projections of the R4 model.
// Only the members the stream pipeline reads are declared, so an
// ill-typed member neither pipeline looks at fails neither of them.
type objectParser struct{}

type structureDoc struct {
	URL            *string                     `json:"url"`
	Name           *string                     `json:"name"`
	Type           *string                     `json:"type"`
	Kind           *r4.StructureDefinitionKind `json:"kind"`
	Derivation     *string                     `json:"derivation"`
	BaseDefinition *string                     `json:"baseDefinition"`
	Abstract       *bool                       `json:"abstract"`
	Description    *string                     `json:"description"`
	Status         *string                     `json:"status"`
	FhirVersion    *r4.FHIRVersion             `json:"fhirVersion"`
	Snapshot       *elementsDoc                `json:"snapshot"`
	Differential   *elementsDoc                `json:"differential"`
}

type elementsDoc struct {
	Element []elementDoc `json:"element"`
}

type elementDoc struct {
	ID               *string         `json:"id"`
	Path             *string         `json:"path"`
	Short            *string         `json:"short"`
	Min              *int            `json:"min"`
	Max              *string         `json:"max"`
	ContentReference *string         `json:"contentReference"`
	IsModifier       *bool           `json:"isModifier"`
	IsSummary        *bool           `json:"isSummary"`
	Type             []typeDoc       `json:"type"`
	Binding          *bindingDoc     `json:"binding"`
	Constraint       []constraintDoc `json:"constraint"`
}

type typeDoc struct {
	Code          *string  `json:"code"`
	Profile       []string `json:"profile"`
	TargetProfile []string `json:"targetProfile"`
}

type bindingDoc struct {
	Strength    *r4.BindingStrength `json:"strength"`
	ValueSet    *string             `json:"valueSet"`
	Description *string             `json:"description"`
}

type constraintDoc struct {
	Key        *string                `json:"key"`
	Severity   *r4.ConstraintSeverity `json:"severity"`
	Human      *string                `json:"human"`
	Expression *string                `json:"expression"`
}

type valueSetDoc struct {
	URL         *string `json:"url"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Compose     *struct {
		Include []struct {
			System  *string `json:"system"`
			Concept []struct {
				Code    *string `json:"code"`
				Display *string `json:"display"`
			} `json:"concept"`
		} `json:"include"`
	} `json:"compose"`
	Expansion *struct {
		Contains []containsDoc `json:"contains"`
	} `json:"expansion"`
}

type containsDoc struct {
	System   *string       `json:"system"`
	Code     *string       `json:"code"`
	Display  *string       `json:"display"`
	Contains []containsDoc `json:"contains"`
}

func (objectParser) structure(data []byte) (*rawStructure, error) {
	var sd structureDoc
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, err
	}

	s := &rawStructure{
		URL:            derefString(sd.URL),
		Name:           derefString(sd.Name),
		Type:           derefString(sd.Type),
		Derivation:     derefString(sd.Derivation),
		BaseDefinition: derefString(sd.BaseDefinition),
		Abstract:       derefBool(sd.Abstract),
		Description:    derefString(sd.Description),
		Status:         derefString(sd.Status),
	}
	if sd.Kind != nil {
		s.Kind = string(*sd.Kind)
	}
	if sd.FhirVersion != nil {
		s.FHIRVersion = string(*sd.FhirVersion)
	}

	// Snapshot wins; profiles shipped without one fall back to the differential.
	switch {
	case sd.Snapshot != nil && len(sd.Snapshot.Element) > 0:
		s.Elements = convertElements(sd.Snapshot.Element)
	case sd.Differential != nil:
		s.Elements = convertElements(sd.Differential.Element)
	}
	return s, nil
}

func convertElements(elements []elementDoc) []rawElement {
	if len(elements) == 0 {
		return nil
	}
	out := make([]rawElement, 0, len(elements))
	for i := range elements {
		ed := &elements[i]
		e := rawElement{
			ID:               derefString(ed.ID),
			Path:             derefString(ed.Path),
			Short:            derefString(ed.Short),
			Max:              derefString(ed.Max),
			ContentReference: derefString(ed.ContentReference),
			Types:            convertTypes(ed.Type),
			Binding:          convertBinding(ed.Binding),
			Constraints:      convertConstraints(ed.Constraint),
			IsModifier:       derefBool(ed.IsModifier),
			IsSummary:        derefBool(ed.IsSummary),
		}
		if ed.Min != nil {
			e.Min = *ed.Min
		}
		out = append(out, e)
	}
	return out
}

func convertTypes(types []typeDoc) []definition.TypeReference {
	var out []definition.TypeReference
	for i := range types {
		t := &types[i]
		code := derefString(t.Code)
		if code == "" {
			continue
		}
		out = append(out, definition.TypeReference{
			Code:           code,
			Profiles:       nonEmpty(t.Profile),
			TargetProfiles: nonEmpty(t.TargetProfile),
		})
	}
	return out
}

func convertBinding(b *bindingDoc) *definition.Binding {
	if b == nil {
		return nil
	}
	out := &definition.Binding{
		ValueSet:    derefString(b.ValueSet),
		Description: derefString(b.Description),
	}
	if b.Strength != nil {
		out.Strength = definition.BindingStrength(*b.Strength)
	}
	return out
}

func convertConstraints(constraints []constraintDoc) []definition.Constraint {
	var out []definition.Constraint
	for i := range constraints {
		c := &constraints[i]
		con := definition.Constraint{
			Key:        derefString(c.Key),
			Human:      derefString(c.Human),
			Expression: derefString(c.Expression),
		}
		if c.Severity != nil {
			con.Severity = string(*c.Severity)
		}
		out = append(out, con)
	}
	return out
}

func (objectParser) valueSet(data []byte) (*rawValueSet, error) {
	var vs valueSetDoc
	if err := json.Unmarshal(data, &vs); err != nil {
		return nil, err
	}

	v := &rawValueSet{
		URL:         derefString(vs.URL),
		Name:        derefString(vs.Name),
		Description: derefString(vs.Description),
		Status:      derefString(vs.Status),
	}

	// An expansion is authoritative; compose is read only without one.
	if vs.Expansion != nil {
		for i := range vs.Expansion.Contains {
			v.Codes = appendContains(v.Codes, &vs.Expansion.Contains[i])
		}
		return v, nil
	}
	if vs.Compose == nil {
		return v, nil
	}
	for _, include := range vs.Compose.Include {
		system := derefString(include.System)
		if system == "" {
			continue
		}
		for _, concept := range include.Concept {
			code := derefString(concept.Code)
			if code == "" {
				continue
			}
			v.Codes = append(v.Codes, definition.Code{
				System:  system,
				Code:    code,
				Display: derefString(concept.Display),
			})
		}
	}
	return v, nil
}

// appendContains walks expansion.contains depth first, pre-order.
func appendContains(codes []definition.Code, c *containsDoc) []definition.Code {
	system, code := derefString(c.System), derefString(c.Code)
	if code != "" && system != "" {
		codes = append(codes, definition.Code{
			System:  system,
			Code:    code,
			Display: derefString(c.Display),
		})
	}
	for i := range c.Contains {
		codes = appendContains(codes, &c.Contains[i])
	}
	return codes
}

func nonEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
