// Package resolver turns a definition collection into a resolved graph:
// element type references point at definitions, inheritance chains are
// built and checked for cycles, bindings and content references are
// resolved, and invariant expressions are parsed.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/logger"
	"github.com/gofhir/codegen/pkg/specs"
)

// Resolve resolves every structure of coll. Problems are returned as
// diagnostics next to a best-effort graph; resolution never stops at the
// first one.
//
// Types are resolved in parallel. If ctx is cancelled, Resolve stops at the
// next type boundary and returns a nil graph.
func Resolve(ctx context.Context, coll *definition.Collection, opts *fc.Options) (*Graph, []fc.Diagnostic) {
	if opts == nil {
		opts = fc.DefaultOptions()
	}
	start := time.Now()
	log := logger.Component("resolver")

	r := &resolver{
		coll:   coll,
		opts:   opts,
		log:    log,
		chains: make(map[string]chainResult),
		cycles: make(map[string]bool),
		exprs:  newExpressionCache(),
		used:   make(map[string]Ref),
	}
	if opts.BaseFallback {
		v, ok := fc.ParseVersion(coll.Version())
		if !ok {
			v = fc.R4
		}
		base, err := specs.Base(v)
		switch {
		case errors.Is(err, specs.ErrNoBase):
			log.Debug().Stringer("version", v).Msg("no base definitions for release, fallback disabled")
		case err != nil:
			log.Warn().Err(err).Msg("base definitions unavailable, fallback disabled")
		default:
			r.base = base
		}
	}
	g := newGraph(coll, r.base)

	var work []*definition.Record
	for _, rec := range coll.All() {
		if rec.Kind != definition.KindValueSet {
			work = append(work, rec)
		}
	}
	types, err := r.resolveAll(ctx, work, OriginCollection)
	if err != nil {
		return nil, dedupe(r.diags.Sorted())
	}
	for _, t := range types {
		g.add(t)
	}

	// Pull in the base definitions the collection referenced, transitively.
	for {
		pending := r.takeUsed(g)
		if len(pending) == 0 {
			break
		}
		recs := make([]*definition.Record, 0, len(pending))
		for _, ref := range pending {
			recs = append(recs, r.base.At(ref.Slot))
		}
		types, err := r.resolveAll(ctx, recs, OriginBase)
		if err != nil {
			return nil, dedupe(r.diags.Sorted())
		}
		for _, t := range types {
			g.add(t)
		}
	}
	g.sort()

	diags := dedupe(r.diags.Sorted())
	log.Debug().
		Int("types", len(g.order)).
		Int("diagnostics", len(diags)).
		Dur("elapsed", time.Since(start)).
		Msg("collection resolved")
	return g, diags
}

type chainResult struct {
	chain  []Ref
	failed bool
}

type resolver struct {
	coll  *definition.Collection
	base  *definition.Collection
	opts  *fc.Options
	log   zerolog.Logger
	diags fc.Diagnostics
	exprs *expressionCache

	// chain memo; the visiting set of a walk is local to that walk
	mu     sync.Mutex
	chains map[string]chainResult
	cycles map[string]bool

	usedMu sync.Mutex
	used   map[string]Ref
}

func (r *resolver) resolveAll(ctx context.Context, recs []*definition.Record, origin Origin) ([]*Type, error) {
	out := make([]*Type, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.opts.WorkerCount))
	for i, rec := range recs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = r.resolveType(rec, origin)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, ctx.Err()
}

// takeUsed returns the base references not yet in g and clears the set.
func (r *resolver) takeUsed(g *Graph) []Ref {
	r.usedMu.Lock()
	defer r.usedMu.Unlock()
	var out []Ref
	for url, ref := range r.used {
		if _, ok := g.types[url]; !ok {
			out = append(out, ref)
		}
	}
	r.used = make(map[string]Ref)
	return out
}

func (r *resolver) resolveType(rec *definition.Record, origin Origin) *Type {
	slot := -1
	if origin == OriginBase {
		slot, _ = r.base.Slot(rec.URL)
	} else {
		slot, _ = r.coll.Slot(rec.URL)
	}
	t := &Type{
		Record: rec,
		Ref:    Ref{URL: rec.URL, Slot: slot, Kind: rec.Kind, Origin: origin},
		byPath: make(map[string]*Element, len(rec.Elements)),
	}

	cr := r.chain(t.Ref)
	t.Chain, t.Failed = cr.chain, cr.failed

	t.Elements = make([]*Element, 0, len(rec.Elements))
	for i := range rec.Elements {
		e := &Element{Element: &rec.Elements[i]}
		t.Elements = append(t.Elements, e)
		if _, dup := t.byPath[e.Path]; !dup && !e.IsSlice() {
			t.byPath[e.Path] = e
		}
	}
	for _, e := range t.Elements {
		r.resolveElement(t, e)
	}
	return t
}

func (r *resolver) resolveElement(t *Type, e *Element) {
	src := t.URL()

	if len(e.Element.Types) > 0 {
		e.Types = make([]TypeRef, 0, len(e.Element.Types))
	}
	for _, tr := range e.Element.Types {
		ref, ok := r.lookup(tr.Code)
		if !ok {
			r.diags.Add(fc.Errorf(fc.KindUnresolvedReference).
				Message(fmt.Sprintf("type %q does not resolve", tr.Code)).
				Source(src).At(e.Path).Subject(tr.Code).Build())
		}
		resolved := TypeRef{TypeReference: tr, Ref: ref}
		for _, target := range tr.TargetProfiles {
			tref, ok := r.lookup(target)
			if !ok {
				r.diags.Add(fc.Warning(fc.KindUnresolvedReference).
					Message(fmt.Sprintf("target profile %q does not resolve", target)).
					Source(src).At(e.Path).Subject(target).Build())
			}
			resolved.Targets = append(resolved.Targets, tref)
		}
		e.Types = append(e.Types, resolved)
	}

	if b := e.Binding; b != nil && b.ValueSet != "" {
		ref, ok := r.lookup(b.ValueSet)
		switch {
		case ok && ref.Kind == definition.KindValueSet:
			e.ValueSet = ref
		case b.Strength.MustResolve():
			r.diags.Add(fc.Errorf(fc.KindUnresolvedBinding).
				Message(fmt.Sprintf("required binding to %q does not resolve to a value set", b.ValueSet)).
				Source(src).At(e.Path).Subject(b.ValueSet).Build())
		}
	}

	if cr := e.ContentReference; cr != "" {
		target, ok := r.contentTarget(t, cr)
		if !ok {
			r.diags.Add(fc.Errorf(fc.KindUnresolvedReference).
				Message(fmt.Sprintf("content reference %q does not resolve", cr)).
				Source(src).At(e.Path).Subject(cr).Build())
		}
		e.Content = target
	}

	if r.opts.CheckExpressions {
		for _, c := range e.Constraints {
			if c.Expression == "" {
				continue
			}
			if err := r.exprs.check(c.Expression); err != nil {
				r.diags.Add(fc.Warning(fc.KindInvalidExpression).
					Message(fmt.Sprintf("invariant %s: %v", c.Key, err)).
					Source(src).At(e.Path).Subject(c.Key).Build())
			}
		}
	}
}

// contentTarget resolves "#Questionnaire.item" (or "<url>#path") to an
// element of t.
func (r *resolver) contentTarget(t *Type, ref string) (*Element, bool) {
	url, path, ok := strings.Cut(ref, "#")
	if !ok {
		return nil, false
	}
	if url != "" && url != t.URL() {
		return nil, false
	}
	return t.Element(path)
}

// lookup resolves a type code, profile or value set URL: the collection by
// URL then short name, then the base definitions. A "|version" suffix is
// ignored.
func (r *resolver) lookup(name string) (Ref, bool) {
	if strings.HasPrefix(name, SystemPrefix) {
		return Ref{URL: name, Slot: -1, Kind: definition.KindPrimitive, Origin: OriginSystem}, true
	}
	if i := strings.IndexByte(name, '|'); i >= 0 {
		name = name[:i]
	}

	if slot, ok := r.coll.Slot(name); ok {
		rec := r.coll.At(slot)
		return Ref{URL: rec.URL, Slot: slot, Kind: rec.Kind, Origin: OriginCollection}, true
	}
	if r.base != nil {
		if slot, ok := r.base.Slot(name); ok {
			rec := r.base.At(slot)
			ref := Ref{URL: rec.URL, Slot: slot, Kind: rec.Kind, Origin: OriginBase}
			if rec.IsStructure() || rec.Kind == definition.KindPrimitive {
				r.usedMu.Lock()
				r.used[rec.URL] = ref
				r.usedMu.Unlock()
			}
			return ref, true
		}
	}
	return Ref{Slot: -1}, false
}

// dedupe drops adjacent identical diagnostics from a sorted list. Walks
// that run concurrently can report the same broken base definition twice.
func dedupe(ds []fc.Diagnostic) []fc.Diagnostic {
	out := ds[:0]
	for i, d := range ds {
		if i > 0 && sameDiagnostic(ds[i-1], d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func sameDiagnostic(a, b fc.Diagnostic) bool {
	return a.Severity == b.Severity && a.Kind == b.Kind && a.Message == b.Message &&
		a.Source == b.Source && a.Path == b.Path && a.Subject == b.Subject &&
		strings.Join(a.Members, " ") == strings.Join(b.Members, " ")
}
