// Package emit defines the emitter contract and the machinery shared by
// emitters: a registry keyed by name, identifier naming with collision
// handling, output sinks, target selection and the flattened shape model.
//
// Backends live in subpackages and register themselves with
// DefaultRegistry when imported; import pkg/emit/all for every backend.
package emit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/logger"
	"github.com/gofhir/codegen/pkg/resolver"
)

// Emitter renders resolved types for one target language or format.
// Implementations are independent strategies; they share helpers from this
// package but no implementation.
type Emitter interface {
	// Name is the registry key ("typescript").
	Name() string
	// PrimitiveTypeMap maps FHIR primitive names to target types.
	PrimitiveTypeMap() map[string]string
	// Sanitize converts a canonical name to a target identifier using the
	// emitter's convention and reserved words. Collisions within a run are
	// resolved by the Namer the emitter uses in Export.
	Sanitize(name string) string
	// Export writes target to sink. Output must be byte-identical for the
	// same graph, target and options. Unresolved references produce
	// placeholders and diagnostics, not errors; errors are sink failures
	// and invalid options.
	Export(ctx context.Context, g *resolver.Graph, target []*resolver.Type, sink Sink, opts Options) ([]fc.Diagnostic, error)
}

// ErrUnknownEmitter is returned by Registry.Get for an unregistered name.
var ErrUnknownEmitter = errors.New("unknown emitter")

// Registry holds emitters by name.
type Registry struct {
	mu       sync.RWMutex
	emitters map[string]Emitter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{emitters: make(map[string]Emitter)}
}

// DefaultRegistry is populated by the backend packages' init functions.
var DefaultRegistry = NewRegistry()

// Register adds e under e.Name(). Registering a name twice is an error.
func (r *Registry) Register(e Emitter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.emitters[e.Name()]; dup {
		return fmt.Errorf("emitter %q already registered", e.Name())
	}
	r.emitters[e.Name()] = e
	return nil
}

// MustRegister is Register for init functions; it panics on a duplicate.
func (r *Registry) MustRegister(e Emitter) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Get returns the emitter registered under name.
func (r *Registry) Get(name string) (Emitter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.emitters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEmitter, name)
	}
	return e, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.emitters))
	for name := range r.emitters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Prepare validates opts, applies defaults and selects the target types
// from opts.Targets when target is nil. Backends call it at the start of
// Export.
func Prepare(g *resolver.Graph, target []*resolver.Type, opts Options) ([]*resolver.Type, Options, error) {
	if err := opts.Validate(); err != nil {
		return nil, opts, err
	}
	opts = opts.withDefaults()
	if target == nil {
		var err error
		if target, err = Target(g, opts.Targets...); err != nil {
			return nil, opts, err
		}
	}
	kept := make([]*resolver.Type, 0, len(target))
	for _, t := range target {
		if opts.IncludeType(t) {
			kept = append(kept, t)
		}
	}
	return Sort(kept, opts.Order), opts, nil
}

// ExportAll runs several emitters in parallel. Each writes below its own
// name in sink ("typescript/...", "csharp/..."). Diagnostics of all runs
// are merged and sorted; the first error cancels the remaining runs.
func ExportAll(ctx context.Context, g *resolver.Graph, emitters []Emitter, target []*resolver.Type, sink Sink, opts Options) ([]fc.Diagnostic, error) {
	log := logger.Component("emit")
	var all fc.Diagnostics

	eg, ctx := errgroup.WithContext(ctx)
	for _, e := range emitters {
		eg.Go(func() error {
			start := time.Now()
			var out Sink = PrefixSink{Sink: sink, Prefix: e.Name()}
			if opts.Metrics != nil {
				out = countingSink{Sink: out, metrics: opts.Metrics}
			}
			diags, err := e.Export(ctx, g, target, out, opts)
			all.Add(diags...)
			opts.Metrics.RecordStage("emit:"+e.Name(), time.Since(start))
			if err != nil {
				return fmt.Errorf("emitter %s: %w", e.Name(), err)
			}
			log.Debug().
				Str("emitter", e.Name()).
				Int("diagnostics", len(diags)).
				Dur("elapsed", time.Since(start)).
				Msg("export finished")
			return nil
		})
	}
	err := eg.Wait()
	diags := all.Sorted()
	opts.Metrics.RecordDiagnostics(diags)
	return diags, err
}
