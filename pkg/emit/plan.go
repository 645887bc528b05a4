package emit

import (
	"context"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/resolver"
)

// Unit is one emitted type with its shapes.
type Unit struct {
	Type   *resolver.Type
	Shapes []Shape
}

// Plan is the naming pass of a code emitter run: every non-primitive
// target type flattened into shapes, and every shape named in emission
// order so that collision suffixes are deterministic.
type Plan struct {
	Units []Unit
	Namer *Namer

	emitter string
	diags   *fc.Diagnostics
	emitted map[string]bool
}

// NewPlan builds the plan for target, which must already be sorted (see
// Prepare). It checks ctx before each type.
func NewPlan(ctx context.Context, g *resolver.Graph, target []*resolver.Type, opts Options, namer *Namer, diags *fc.Diagnostics, emitter string) (*Plan, error) {
	p := &Plan{
		Namer:   namer,
		emitter: emitter,
		diags:   diags,
		emitted: make(map[string]bool),
	}
	for _, t := range target {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.Kind() == definition.KindPrimitive {
			continue
		}
		shapes := Shapes(g, t, opts, diags, emitter)
		for _, s := range shapes {
			namer.Name(s.Name)
			p.emitted[s.Name] = true
		}
		p.Units = append(p.Units, Unit{Type: t, Shapes: shapes})
	}
	return p, nil
}

// Emitted reports whether a canonical shape name is part of the run.
func (p *Plan) Emitted(canonical string) bool {
	return p.emitted[canonical]
}

// Ident returns the identifier of an emitted shape.
func (p *Plan) Ident(canonical string) string {
	return p.Namer.Name(canonical)
}

// Ref returns the identifier a complex or component property refers to.
// A type outside the run is reported as a placeholder and ok is false.
func (p *Plan) Ref(s Shape, prop Property) (string, bool) {
	if !p.emitted[prop.TypeName] {
		if p.diags != nil {
			p.diags.Add(PlaceholderDiagnostic(p.emitter, s.Type.URL(), prop.Element.Path, prop.TypeName))
		}
		return "", false
	}
	return p.Namer.Name(prop.TypeName), true
}

// Base returns the identifier of a shape's base type when it is emitted.
func (p *Plan) Base(s Shape) (string, bool) {
	if s.Base == "" || !p.emitted[s.Base] {
		return "", false
	}
	return p.Namer.Name(s.Base), true
}

// Resources returns the concrete resource units.
func (p *Plan) Resources() []Unit {
	var out []Unit
	for _, u := range p.Units {
		if u.Type.Kind() == definition.KindResource && !u.Type.Record.Abstract {
			out = append(out, u)
		}
	}
	return out
}
