// Package csharp emits C# classes for FHIR types.
package csharp

import (
	"context"
	"fmt"
	"strings"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/emit"
	"github.com/gofhir/codegen/pkg/emit/writer"
	"github.com/gofhir/codegen/pkg/resolver"
)

// Name is the registry key.
const Name = "csharp"

var reserved = []string{
	"abstract", "as", "base", "bool", "break", "byte", "case", "catch", "char",
	"checked", "class", "const", "continue", "decimal", "default", "delegate",
	"do", "double", "else", "enum", "event", "explicit", "extern", "false",
	"finally", "fixed", "float", "for", "foreach", "goto", "if", "implicit",
	"in", "int", "interface", "internal", "is", "lock", "long", "namespace",
	"new", "null", "object", "operator", "out", "override", "params", "private",
	"protected", "public", "readonly", "ref", "return", "sbyte", "sealed",
	"short", "sizeof", "stackalloc", "static", "string", "struct", "switch",
	"this", "throw", "true", "try", "typeof", "uint", "ulong", "unchecked",
	"unsafe", "ushort", "using", "virtual", "void", "volatile", "while",
	// System types the generated code uses unqualified.
	"List", "Object", "String",
}

var primitives = map[string]string{
	"boolean":      "bool",
	"integer":      "int",
	"positiveInt":  "int",
	"unsignedInt":  "int",
	"integer64":    "long",
	"decimal":      "decimal",
	"base64Binary": "byte[]",
}

// valueTypes need "?" to be optional.
var valueTypes = map[string]bool{"bool": true, "int": true, "long": true, "decimal": true}

func init() {
	emit.DefaultRegistry.MustRegister(New())
}

// Emitter writes one class per type and component and one enum per
// required code binding.
type Emitter struct{}

// New returns the C# emitter.
func New() *Emitter { return &Emitter{} }

func (e *Emitter) Name() string { return Name }

// PrimitiveTypeMap maps every primitive not listed to string.
func (e *Emitter) PrimitiveTypeMap() map[string]string {
	out := make(map[string]string, len(primitives))
	for k, v := range primitives {
		out[k] = v
	}
	return out
}

func (e *Emitter) Sanitize(name string) string {
	return emit.NewNamer(emit.PascalCase, reserved...).Name(name)
}

// Export writes "<Namespace>.cs", or with FormatMulti one file per type.
func (e *Emitter) Export(ctx context.Context, g *resolver.Graph, target []*resolver.Type, sink emit.Sink, opts emit.Options) ([]fc.Diagnostic, error) {
	target, opts, err := emit.Prepare(g, target, opts)
	if err != nil {
		return nil, err
	}
	var diags fc.Diagnostics
	// C# identifiers are case sensitive, but file names on common file
	// systems are not; fold so multi-file output cannot overwrite itself.
	namer := emit.NewNamer(emit.PascalCase, reserved...).CaseInsensitive()
	plan, err := emit.NewPlan(ctx, g, target, opts, namer, &diags, Name)
	if err != nil {
		return nil, err
	}

	r := &render{plan: plan, opts: opts, enums: emit.NewNamer(emit.PascalCase, reserved...)}
	// Enum names share the type namespace.
	for _, u := range plan.Units {
		for _, s := range u.Shapes {
			r.enums.Reserve(plan.Ident(s.Name))
		}
	}

	ns := emit.Sanitize(opts.Namespace, emit.PascalCase)
	if opts.Namespace == "" {
		ns = "Fhir"
	}

	if opts.FileFormat == emit.FormatMulti {
		for _, u := range plan.Units {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			w := r.file(ns)
			w.Block("{", "}", func() { r.unit(w, u) })
			if err := emit.WriteFile(sink, plan.Ident(u.Type.Name())+".cs", w.Bytes()); err != nil {
				return diags.Sorted(), err
			}
		}
		return diags.Sorted(), nil
	}

	w := r.file(ns)
	var cerr error
	w.Block("{", "}", func() {
		for i, u := range plan.Units {
			if cerr = ctx.Err(); cerr != nil {
				return
			}
			if i > 0 {
				w.BlankLine()
			}
			r.unit(w, u)
		}
	})
	if cerr != nil {
		return nil, cerr
	}
	return diags.Sorted(), emit.WriteFile(sink, ns+".cs", w.Bytes())
}

type render struct {
	plan  *emit.Plan
	opts  emit.Options
	enums *emit.Namer
}

func (r *render) file(ns string) *writer.Writer {
	w := writer.New("    ", "//")
	w.Line("// <auto-generated/>")
	w.Line("using System.Collections.Generic;")
	w.BlankLine()
	w.Linef("namespace %s", ns)
	return w
}

func (r *render) unit(w *writer.Writer, u emit.Unit) {
	for i, s := range u.Shapes {
		if i > 0 {
			w.BlankLine()
		}
		r.class(w, s)
	}
}

func (r *render) class(w *writer.Writer, s emit.Shape) {
	ident := r.plan.Ident(s.Name)
	members := emit.NewNamer(emit.PascalCase, reserved...)
	// A member may not share its enclosing class's name.
	members.Reserve(ident)

	type enumDecl struct {
		name  string
		codes []definition.Code
	}
	var enums []enumDecl

	if r.opts.IncludeComments && s.Doc != "" {
		w.DocBlock("/// <summary>", "///", "/// </summary>", escapeXML(s.Doc))
	}
	header := "public "
	if s.Abstract {
		header += "abstract "
	}
	header += "partial class " + ident
	if base, ok := r.plan.Base(s); ok {
		header += " : " + base
	}
	w.Line(header)
	w.Block("{", "}", func() {
		if s.Resource && !s.Abstract && !s.Component {
			w.Linef("public const string TypeName = \"%s\";", s.Type.Record.Type)
			members.Reserve("TypeName")
		}
		for _, p := range s.Properties {
			if r.opts.IncludeComments && p.Doc != "" {
				w.DocBlock("/// <summary>", "///", "/// </summary>", escapeXML(p.Doc))
			}
			name := members.Name(p.Name)
			typ := r.propertyType(s, p)
			if len(p.Codes) > 0 {
				enumName := r.enums.Name(s.Name + "." + p.Name + "Code")
				enums = append(enums, enumDecl{name: enumName, codes: p.Codes})
				typ = enumName
				if p.Array {
					typ = "List<" + enumName + ">"
				} else {
					typ += "?"
				}
			}
			if name != p.Name && !strings.EqualFold(name, p.Name) {
				w.Linef("[FhirElement(\"%s\")]", p.Name)
			}
			w.Linef("public %s %s { get; set; }", typ, name)
		}
	})

	for _, en := range enums {
		w.BlankLine()
		codes := emit.NewNamer(emit.PascalCase, reserved...)
		w.Linef("public enum %s", en.name)
		w.Block("{", "}", func() {
			for _, c := range en.codes {
				w.Linef("[EnumLiteral(\"%s\")]", strings.ReplaceAll(c.Code, `"`, `\"`))
				w.Linef("%s,", codes.Name(c.Code))
			}
		})
	}
}

func (r *render) propertyType(s emit.Shape, p emit.Property) string {
	var typ string
	switch p.Kind {
	case emit.PropertyPrimitive:
		var ok bool
		if typ, ok = primitives[p.TypeName]; !ok {
			typ = "string"
		}
	case emit.PropertyComplex, emit.PropertyComponent:
		ident, ok := r.plan.Ref(s, p)
		if !ok {
			ident = "object"
		}
		typ = ident
	default:
		typ = "object"
	}
	if p.Array {
		return fmt.Sprintf("List<%s>", typ)
	}
	if valueTypes[typ] {
		return typ + "?"
	}
	return typ
}

func escapeXML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
