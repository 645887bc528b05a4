// Package typescript emits TypeScript interfaces for FHIR types.
package typescript

import (
	"context"
	"fmt"
	"sort"
	"strings"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/emit"
	"github.com/gofhir/codegen/pkg/emit/writer"
	"github.com/gofhir/codegen/pkg/primitive"
	"github.com/gofhir/codegen/pkg/resolver"
)

// Name is the registry key.
const Name = "typescript"

var reserved = []string{
	"any", "as", "boolean", "break", "case", "catch", "class", "const", "continue",
	"debugger", "default", "delete", "do", "else", "enum", "export", "extends",
	"false", "finally", "for", "from", "function", "if", "implements", "import",
	"in", "instanceof", "interface", "let", "new", "null", "number", "of",
	"package", "private", "protected", "public", "return", "static", "string",
	"super", "switch", "symbol", "this", "throw", "true", "try", "type",
	"typeof", "var", "void", "while", "with", "yield",
}

func init() {
	emit.DefaultRegistry.MustRegister(New())
}

// Emitter writes interfaces, one per type and backbone component.
type Emitter struct {
	primitives map[string]string
}

// New returns the TypeScript emitter.
func New() *Emitter {
	m := make(map[string]string)
	for _, name := range primitive.Names() {
		switch primitive.Expected(name) {
		case primitive.JSONNumber:
			m[name] = "number"
		case primitive.JSONBoolean:
			m[name] = "boolean"
		default:
			m[name] = "string"
		}
	}
	return &Emitter{primitives: m}
}

func (e *Emitter) Name() string { return Name }

func (e *Emitter) PrimitiveTypeMap() map[string]string {
	out := make(map[string]string, len(e.primitives))
	for k, v := range e.primitives {
		out[k] = v
	}
	return out
}

func (e *Emitter) Sanitize(name string) string {
	return emit.NewNamer(emit.PascalCase, reserved...).Name(name)
}

// Export writes a single "<namespace>.ts" file, or with FormatMulti one
// module per type plus an index.
func (e *Emitter) Export(ctx context.Context, g *resolver.Graph, target []*resolver.Type, sink emit.Sink, opts emit.Options) ([]fc.Diagnostic, error) {
	target, opts, err := emit.Prepare(g, target, opts)
	if err != nil {
		return nil, err
	}
	var diags fc.Diagnostics
	plan, err := emit.NewPlan(ctx, g, target, opts, emit.NewNamer(emit.PascalCase, reserved...), &diags, Name)
	if err != nil {
		return nil, err
	}

	if opts.FileFormat == emit.FormatMulti {
		err = e.writeModules(ctx, plan, sink, opts)
	} else {
		err = e.writeSingle(ctx, plan, sink, opts)
	}
	return diags.Sorted(), err
}

func (e *Emitter) writeSingle(ctx context.Context, plan *emit.Plan, sink emit.Sink, opts emit.Options) error {
	w := writer.New("  ", "//")
	w.Line("// Generated FHIR type definitions. Do not edit.")
	w.BlankLine()

	ns := emit.Sanitize(opts.Namespace, emit.PascalCase)
	wrap := opts.Namespace != ""
	if wrap {
		w.Linef("export namespace %s {", ns)
		w.Indent()
	}
	for i, u := range plan.Units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			w.BlankLine()
		}
		e.writeUnit(w, plan, u, opts)
	}
	if resources := plan.Resources(); len(resources) > 0 {
		w.BlankLine()
		names := make([]string, len(resources))
		for i, u := range resources {
			names[i] = plan.Ident(u.Type.Name())
		}
		w.Linef("export type Resource%s = %s;", unionSuffix(plan), strings.Join(names, " | "))
	}
	if wrap {
		w.Dedent()
		w.Line("}")
	}

	file := "fhir.ts"
	if wrap {
		file = ns + ".ts"
	}
	return emit.WriteFile(sink, file, w.Bytes())
}

// unionSuffix avoids clashing with an emitted "Resource" interface.
func unionSuffix(plan *emit.Plan) string {
	if plan.Emitted("Resource") {
		return "Union"
	}
	return ""
}

func (e *Emitter) writeModules(ctx context.Context, plan *emit.Plan, sink emit.Sink, opts emit.Options) error {
	index := writer.New("  ", "//")
	for _, u := range plan.Units {
		if err := ctx.Err(); err != nil {
			return err
		}
		ident := plan.Ident(u.Type.Name())

		body := writer.New("  ", "//")
		e.writeUnit(body, plan, u, opts)

		w := writer.New("  ", "//")
		w.Line("// Generated FHIR type definitions. Do not edit.")
		if imports := importsOf(plan, u); len(imports) > 0 {
			for _, imp := range imports {
				w.Linef("import { %s } from './%s';", imp, imp)
			}
		}
		w.BlankLine()
		w.Write(body.String())

		if err := emit.WriteFile(sink, ident+".ts", w.Bytes()); err != nil {
			return err
		}
		index.Linef("export * from './%s';", ident)
	}
	return emit.WriteFile(sink, "index.ts", index.Bytes())
}

// importsOf lists the identifiers of other units a unit refers to.
func importsOf(plan *emit.Plan, u emit.Unit) []string {
	own := make(map[string]bool, len(u.Shapes))
	for _, s := range u.Shapes {
		own[s.Name] = true
	}
	set := make(map[string]bool)
	for _, s := range u.Shapes {
		refs := emit.ShapeTypes(s)
		if s.Base != "" {
			refs = append(refs, s.Base)
		}
		for _, r := range refs {
			if !own[r] && plan.Emitted(r) {
				set[plan.Ident(owner(plan, r))] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// owner maps a component name ("Patient.contact") to its type name.
func owner(plan *emit.Plan, canonical string) string {
	typeName, _, _ := strings.Cut(canonical, ".")
	if plan.Emitted(typeName) {
		return typeName
	}
	return canonical
}

func (e *Emitter) writeUnit(w *writer.Writer, plan *emit.Plan, u emit.Unit, opts emit.Options) {
	for i, s := range u.Shapes {
		if i > 0 {
			w.BlankLine()
		}
		e.writeShape(w, plan, s, opts)
	}
}

func (e *Emitter) writeShape(w *writer.Writer, plan *emit.Plan, s emit.Shape, opts emit.Options) {
	if opts.IncludeComments && s.Doc != "" {
		w.DocBlock("/**", " *", " */", s.Doc)
	}
	header := fmt.Sprintf("export interface %s", plan.Ident(s.Name))
	if base, ok := plan.Base(s); ok {
		header += " extends " + base
	}

	w.Block(header+" {", "}", func() {
		if s.Resource && !s.Abstract && !s.Component {
			w.Linef("resourceType: %s;", stringLiteral(s.Type.Record.Type))
		}
		for _, p := range s.Properties {
			if opts.IncludeComments && p.Doc != "" {
				w.DocBlock("/**", " *", " */", p.Doc)
			}
			optional := "?"
			if p.Required {
				optional = ""
			}
			w.Linef("%s%s: %s;", p.Name, optional, e.propertyType(plan, s, p))

			if opts.ExtensionSupport == emit.ExtensionFull && p.Kind == emit.PropertyPrimitive && plan.Emitted("Element") {
				elem := plan.Ident("Element")
				if p.Array {
					elem = "(" + elem + " | null)[]"
				}
				w.Linef("_%s?: %s;", p.Name, elem)
			}
		}
	})
}

var literalEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)

// stringLiteral quotes s as a single-quoted TypeScript string.
func stringLiteral(s string) string {
	return "'" + literalEscaper.Replace(s) + "'"
}

func (e *Emitter) propertyType(plan *emit.Plan, s emit.Shape, p emit.Property) string {
	var typ string
	switch p.Kind {
	case emit.PropertyPrimitive:
		if len(p.Codes) > 0 {
			codes := make([]string, len(p.Codes))
			for i, c := range p.Codes {
				codes[i] = stringLiteral(c.Code)
			}
			typ = strings.Join(codes, " | ")
			if p.Array {
				return "(" + typ + ")[]"
			}
			return typ
		}
		var ok bool
		if typ, ok = e.primitives[p.TypeName]; !ok {
			typ = "string"
		}
	case emit.PropertyComplex, emit.PropertyComponent:
		ident, ok := plan.Ref(s, p)
		if !ok {
			ident = "any"
		}
		typ = ident
	default:
		typ = "any"
	}
	if p.Array {
		return typ + "[]"
	}
	return typ
}
