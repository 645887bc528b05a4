// Package info emits a plain-text summary of the types in a run.
package info

import (
	"context"
	"fmt"
	"sort"
	"strings"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/emit"
	"github.com/gofhir/codegen/pkg/emit/writer"
	"github.com/gofhir/codegen/pkg/resolver"
)

// Name is the registry key.
const Name = "info"

// FileName is the single file the emitter writes.
const FileName = "info.txt"

func init() {
	emit.DefaultRegistry.MustRegister(New())
}

// Emitter lists every type with its kind, URL, base and element count,
// grouped by kind.
type Emitter struct{}

// New returns the info emitter.
func New() *Emitter { return &Emitter{} }

func (e *Emitter) Name() string { return Name }

// PrimitiveTypeMap is the identity: the summary prints FHIR names.
func (e *Emitter) PrimitiveTypeMap() map[string]string {
	return map[string]string{}
}

func (e *Emitter) Sanitize(name string) string {
	return emit.Sanitize(name, emit.Verbatim)
}

var kindOrder = []definition.Kind{
	definition.KindPrimitive,
	definition.KindComplex,
	definition.KindResource,
	definition.KindLogical,
	definition.KindExtension,
}

// Export writes info.txt. Value sets follow the types, with their code
// count.
func (e *Emitter) Export(ctx context.Context, g *resolver.Graph, target []*resolver.Type, sink emit.Sink, opts emit.Options) ([]fc.Diagnostic, error) {
	target, opts, err := emit.Prepare(g, target, opts)
	if err != nil {
		return nil, err
	}

	byKind := make(map[definition.Kind][]*resolver.Type)
	for _, t := range target {
		byKind[t.Kind()] = append(byKind[t.Kind()], t)
	}

	w := writer.New("  ", "#")
	w.Linef("FHIR %s (%s)", g.Release(), g.Version())
	if opts.Namespace != "" {
		w.Linef("Namespace: %s", opts.Namespace)
	}
	w.Linef("Types: %d", len(target))

	for _, kind := range kindOrder {
		types := byKind[kind]
		if len(types) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w.BlankLine()
		w.Linef("%s (%d)", kind, len(types))
		w.Indent()
		width := 0
		for _, t := range types {
			width = max(width, len(t.Name()))
		}
		for _, t := range types {
			w.Linef("%-*s  %s", width, t.Name(), describe(t))
			if opts.IncludeComments && t.Record.Description != "" {
				w.Indent()
				w.Comment(firstLine(t.Record.Description))
				w.Dedent()
			}
		}
		w.Dedent()
	}

	if sets := valueSets(g, target, opts); len(sets) > 0 {
		w.BlankLine()
		w.Linef("%s (%d)", definition.KindValueSet, len(sets))
		w.Indent()
		for _, vs := range sets {
			w.Linef("%s  codes=%d", vs.URL, len(vs.Codes))
		}
		w.Dedent()
	}
	return nil, emit.WriteFile(sink, FileName, w.Bytes())
}

// valueSets returns every value set of the collection, or with Targets set
// only those bound by the target types, in canonical order.
func valueSets(g *resolver.Graph, target []*resolver.Type, opts emit.Options) []*definition.Record {
	if len(opts.Targets) == 0 {
		return g.Collection.ValueSets()
	}
	seen := make(map[string]*definition.Record)
	for _, t := range target {
		for _, e := range t.Elements {
			if vs, ok := g.ValueSet(e.ValueSet); ok {
				seen[vs.URL] = vs
			}
		}
	}
	out := make([]*definition.Record, 0, len(seen))
	for _, vs := range seen {
		out = append(out, vs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func describe(t *resolver.Type) string {
	parts := []string{t.URL()}
	if base := t.Record.BaseDefinition; base != "" {
		parts = append(parts, "base="+strings.TrimPrefix(base, definition.BaseURL))
	}
	parts = append(parts, fmt.Sprintf("elements=%d", len(t.Elements)))
	if t.Record.Abstract {
		parts = append(parts, "abstract")
	}
	if t.Failed {
		parts = append(parts, "unresolved")
	}
	return strings.Join(parts, " ")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
