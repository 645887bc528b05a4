// Package openapi emits an OpenAPI 3 components document describing FHIR
// types as JSON schemas.
package openapi

import (
	"bytes"
	"context"
	"encoding/json"

	"gopkg.in/yaml.v3"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/emit"
	"github.com/gofhir/codegen/pkg/primitive"
	"github.com/gofhir/codegen/pkg/resolver"
)

// Name is the registry key.
const Name = "openapi"

const refPrefix = "#/components/schemas/"

func init() {
	emit.DefaultRegistry.MustRegister(New())
}

// Emitter writes a single openapi.json or openapi.yaml.
type Emitter struct{}

// New returns the OpenAPI emitter.
func New() *Emitter { return &Emitter{} }

func (e *Emitter) Name() string { return Name }

// PrimitiveTypeMap maps primitives to JSON schema types.
func (e *Emitter) PrimitiveTypeMap() map[string]string {
	out := make(map[string]string)
	for _, name := range primitive.Names() {
		out[name] = schemaType(name)
	}
	return out
}

func (e *Emitter) Sanitize(name string) string {
	return emit.Sanitize(name, emit.PascalCase)
}

// Export writes the document. FormatYAML selects YAML; anything else JSON.
func (e *Emitter) Export(ctx context.Context, g *resolver.Graph, target []*resolver.Type, sink emit.Sink, opts emit.Options) ([]fc.Diagnostic, error) {
	target, opts, err := emit.Prepare(g, target, opts)
	if err != nil {
		return nil, err
	}
	var diags fc.Diagnostics
	plan, err := emit.NewPlan(ctx, g, target, opts, emit.NewNamer(emit.PascalCase), &diags, Name)
	if err != nil {
		return nil, err
	}

	schemas := make(map[string]any)
	for _, u := range plan.Units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, s := range u.Shapes {
			schemas[plan.Ident(s.Name)] = shapeSchema(plan, s, opts)
		}
	}

	title := opts.Namespace
	if title == "" {
		title = "FHIR"
	}
	doc := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   title,
			"version": g.Version(),
		},
		"paths": map[string]any{},
		"components": map[string]any{
			"schemas": schemas,
		},
	}

	var (
		data []byte
		file string
	)
	if opts.FileFormat == emit.FormatYAML {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return diags.Sorted(), err
		}
		if err := enc.Close(); err != nil {
			return diags.Sorted(), err
		}
		data, file = buf.Bytes(), "openapi.yaml"
	} else {
		// encoding/json sorts map keys, which keeps the output stable.
		if data, err = json.MarshalIndent(doc, "", "  "); err != nil {
			return diags.Sorted(), err
		}
		data, file = append(data, '\n'), "openapi.json"
	}
	return diags.Sorted(), emit.WriteFile(sink, file, data)
}

func shapeSchema(plan *emit.Plan, s emit.Shape, opts emit.Options) map[string]any {
	props := make(map[string]any, len(s.Properties)+1)
	var required []string

	if s.Resource && !s.Abstract && !s.Component {
		props["resourceType"] = map[string]any{"type": "string", "enum": []string{s.Type.Record.Type}}
		required = append(required, "resourceType")
	}
	for _, p := range s.Properties {
		schema := propertySchema(plan, s, p)
		if opts.IncludeComments && p.Doc != "" {
			schema["description"] = p.Doc
		}
		props[p.Name] = schema
		if p.Required {
			required = append(required, p.Name)
		}
	}

	obj := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		obj["required"] = required
	}
	if opts.IncludeComments && s.Doc != "" {
		obj["description"] = s.Doc
	}
	if base, ok := plan.Base(s); ok {
		return map[string]any{
			"allOf": []any{map[string]any{"$ref": refPrefix + base}, obj},
		}
	}
	return obj
}

func propertySchema(plan *emit.Plan, s emit.Shape, p emit.Property) map[string]any {
	var item map[string]any
	switch p.Kind {
	case emit.PropertyPrimitive:
		item = map[string]any{"type": schemaType(p.TypeName)}
		if len(p.Codes) > 0 {
			codes := make([]string, len(p.Codes))
			for i, c := range p.Codes {
				codes[i] = c.Code
			}
			item["enum"] = codes
		} else if pattern := primitive.Pattern(p.TypeName); pattern != "" && primitive.Expected(p.TypeName) == primitive.JSONString {
			item["pattern"] = "^(" + pattern + ")$"
		}
	case emit.PropertyComplex, emit.PropertyComponent:
		if ident, ok := plan.Ref(s, p); ok {
			item = map[string]any{"$ref": refPrefix + ident}
		} else {
			item = placeholder(p)
		}
	default:
		item = placeholder(p)
	}
	if p.Array {
		return map[string]any{"type": "array", "items": item}
	}
	return item
}

func placeholder(p emit.Property) map[string]any {
	return map[string]any{"type": "object", "x-unresolved": true}
}

func schemaType(name string) string {
	switch primitive.Expected(name) {
	case primitive.JSONBoolean:
		return "boolean"
	case primitive.JSONNumber:
		if name == "decimal" {
			return "number"
		}
		return "integer"
	}
	return "string"
}
