// Package convert transforms FHIR instances between releases following a
// declarative mapping table.
//
// The transform walks the instance tree. For each element it consults the
// mapping of the owning type (or backbone path), applies the rename,
// collapse, split or narrowing it describes, and recurses into complex
// values. Elements a listed type does not map are dropped with a
// lossy-conversion diagnostic. A value that does not narrow to its target
// primitive is handed to the caller's FallbackFunc; without one, that
// subtree fails and its siblings carry on.
package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/logger"
	"github.com/gofhir/codegen/pkg/primitive"
	"github.com/gofhir/codegen/pkg/resolver"
)

// identityElements always pass through unchanged.
var identityElements = map[string]bool{
	"resourceType": true,
	"id":           true,
	"meta":         true,
	"extension":    true,
}

// FallbackFunc supplies a replacement for a value that does not narrow to
// the target primitive. Returning an error fails the subtree.
type FallbackFunc func(path string, value any, target string, cause error) (any, error)

// Failure is one subtree that could not be converted.
type Failure struct {
	Path string
	Err  error
}

// ConversionError reports the subtrees dropped from a conversion. The
// converted node returned next to it holds everything else.
type ConversionError struct {
	From, To fc.FHIRVersion
	Failures []Failure
}

func (e *ConversionError) Error() string {
	if len(e.Failures) == 1 {
		f := e.Failures[0]
		return fmt.Sprintf("convert %s to %s: %s: %v", e.From, e.To, f.Path, f.Err)
	}
	paths := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		paths[i] = f.Path
	}
	return fmt.Sprintf("convert %s to %s: %d subtrees failed (%s)", e.From, e.To, len(e.Failures), strings.Join(paths, ", "))
}

// Unwrap returns the individual failure causes.
func (e *ConversionError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// ErrNoTable is returned when no mapping table covers a version pair.
var ErrNoTable = errors.New("no mapping table for version pair")

// Option configures a Converter.
type Option func(*Converter)

// WithTable registers a mapping table for its version pair.
func WithTable(t *Table) Option {
	return func(c *Converter) {
		from, to := t.Versions()
		c.tables[[2]fc.FHIRVersion{from, to}] = t
	}
}

// WithGraph supplies the resolved source-release graph used to find the
// type of nested values the table does not name.
func WithGraph(g *resolver.Graph) Option {
	return func(c *Converter) {
		c.graph = g
	}
}

// WithFallback installs the narrowing fallback handler.
func WithFallback(f FallbackFunc) Option {
	return func(c *Converter) {
		c.fallback = f
	}
}

// Converter converts instances between releases. It is safe for concurrent
// use once built.
type Converter struct {
	tables   map[[2]fc.FHIRVersion]*Table
	graph    *resolver.Graph
	fallback FallbackFunc
	log      zerolog.Logger
}

// New returns a converter configured by opts.
func New(opts ...Option) *Converter {
	c := &Converter{
		tables: make(map[[2]fc.FHIRVersion]*Table),
		log:    logger.Component("convert"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert converts node from one release to another. Converting to the
// same release returns a copy.
//
// Recoverable problems come back as diagnostics. When subtrees had to be
// dropped the converted node is returned together with a
// *ConversionError. Other errors (no table, no resource type, cancelled
// context) return a nil node.
func (c *Converter) Convert(ctx context.Context, node *Node, from, to fc.FHIRVersion) (*Node, []fc.Diagnostic, error) {
	if node == nil {
		return nil, nil, errors.New("convert: nil node")
	}
	if from == to {
		return node.Clone(), nil, nil
	}
	table, ok := c.tables[[2]fc.FHIRVersion{from, to}]
	if !ok {
		return nil, nil, fmt.Errorf("convert %s to %s: %w", from, to, ErrNoTable)
	}
	rootType := node.ResourceType()
	if rootType == "" {
		rootType = node.Name
	}
	if rootType == "" {
		return nil, nil, errors.New("convert: instance has no resourceType")
	}

	r := &run{Converter: c, table: table}
	out, err := r.object(ctx, node, rootType, rootType)
	if err != nil {
		return nil, r.diags.Sorted(), err
	}

	diags := r.diags.Sorted()
	c.log.Debug().
		Str("type", rootType).
		Str("from", string(from)).
		Str("to", string(to)).
		Int("diagnostics", len(diags)).
		Int("failures", len(r.failures)).
		Msg("instance converted")

	if len(r.failures) > 0 {
		return out, diags, &ConversionError{From: from, To: to, Failures: r.failures}
	}
	return out, diags, nil
}

// run holds the state of one Convert call.
type run struct {
	*Converter
	table    *Table
	diags    fc.Diagnostics
	failures []Failure
}

// object converts a complex value. key selects the type mapping; path is
// the element path used in diagnostics.
func (r *run) object(ctx context.Context, src *Node, key, path string) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tm, mapped := r.table.Type(key)
	out := &Node{Name: src.Name, Array: src.Array, Children: make([]*Node, 0, len(src.Children))}
	dropped := make(map[string]bool)

	for _, child := range src.Children {
		if identityElements[child.Name] {
			n := child.Clone()
			if child.Name == "resourceType" && mapped && tm.Target != "" {
				n.Value = tm.Target
			}
			out.Children = append(out.Children, n)
			continue
		}

		// "_birthDate" carries the id and extensions of "birthDate" and
		// follows it through renames.
		base := strings.TrimPrefix(child.Name, "_")
		shadow := base != child.Name
		childPath := path + "." + base

		var (
			em      *ElementMapping
			targets = []string{base}
		)
		if mapped {
			var ok bool
			if em, ok = tm.Element(base); !ok {
				if !dropped[child.Name] {
					dropped[child.Name] = true
					r.diags.Add(fc.Warning(fc.KindLossyConversion).
						Message(fmt.Sprintf("element %s has no mapping to %s", child.Name, r.table.to)).
						Source(key).At(childPath).Subject(child.Name).Build())
				}
				continue
			}
			targets = em.Target
		}

		for _, target := range targets {
			n, err := r.value(ctx, child, em, key, childPath, shadow)
			if err != nil {
				return nil, err
			}
			if n == nil {
				continue
			}
			n.Name = target
			if shadow {
				n.Name = "_" + target
			}
			if em != nil && em.Op() == OpCollapse {
				n.Array = true
			}
			out.Children = append(out.Children, n)
		}
	}
	return out, nil
}

// value converts one element value. A nil node without error means the
// subtree failed and was recorded.
func (r *run) value(ctx context.Context, child *Node, em *ElementMapping, owner, path string, shadow bool) (*Node, error) {
	if child.IsComplex() {
		if shadow {
			return child.Clone(), nil
		}
		return r.object(ctx, child, r.nestedKey(child, em, owner), path)
	}
	if em == nil || em.Narrow == "" || child.Value == nil || shadow {
		return child.Clone(), nil
	}

	n := child.Clone()
	v, err := primitive.Cast(child.Value, em.Narrow)
	if err == nil {
		n.Value = v
		return n, nil
	}
	if r.fallback != nil {
		repl, ferr := r.fallback(path, child.Value, em.Narrow, err)
		if ferr == nil {
			r.diags.Add(fc.Warning(fc.KindNarrowingFailure).
				Message(fmt.Sprintf("value replaced by fallback: %v", err)).
				Source(owner).At(path).Subject(em.Narrow).Build())
			n.Value = repl
			return n, nil
		}
		err = ferr
	}
	r.diags.Add(fc.Errorf(fc.KindNarrowingFailure).
		Message(err.Error()).
		Source(owner).At(path).Subject(em.Narrow).Build())
	r.failures = append(r.failures, Failure{Path: path, Err: err})
	return nil, nil
}

// nestedKey picks the mapping key of a nested complex value: the value's
// own resourceType, the mapping's targetType, the element type from the
// graph, or the backbone path.
func (r *run) nestedKey(child *Node, em *ElementMapping, owner string) string {
	if rt := child.ResourceType(); rt != "" {
		return rt
	}
	if em != nil && em.TargetType != "" {
		return em.TargetType
	}
	if name, ok := r.elementType(owner, child.Name); ok {
		return name
	}
	return owner + "." + child.Name
}

// elementType looks up the type of owner.name in the graph. Backbone
// elements keep their path as key; a content reference resolves to the
// path it points at.
func (r *run) elementType(owner, name string) (string, bool) {
	if r.graph == nil {
		return "", false
	}
	typeName, _, _ := strings.Cut(owner, ".")
	t, ok := r.graph.Lookup(typeName)
	if !ok {
		return "", false
	}
	path := owner + "." + name
	e, ok := t.Element(path)
	if !ok {
		return choiceType(t, path)
	}
	if e.Content != nil {
		return e.Content.Path, true
	}
	if e.IsBackbone() {
		return path, true
	}
	if rep, ok := e.Representative(); ok {
		return rep.Name(), true
	}
	return "", false
}

// choiceType matches "Observation.valueQuantity" against
// "Observation.value[x]" and returns "Quantity".
func choiceType(t *resolver.Type, path string) (string, bool) {
	for _, e := range t.Elements {
		if !strings.HasSuffix(e.Path, "[x]") {
			continue
		}
		prefix := strings.TrimSuffix(e.Path, "[x]")
		if !strings.HasPrefix(path, prefix) || len(path) == len(prefix) {
			continue
		}
		suffix := path[len(prefix):]
		for _, tr := range e.Types {
			if strings.EqualFold(tr.Name(), suffix) {
				return tr.Name(), true
			}
		}
	}
	return "", false
}
