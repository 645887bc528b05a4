// Package session tracks package loads for long-running processes. A
// Manager moves every requested directive through
//
//	Unknown -> Queued -> InProgress -> Loaded -> Parsed
//	                                \-> Failed
//
// and coalesces concurrent requests, so a directive is loaded at most once
// at a time. The Manager is owned by the caller; there is no process-wide
// instance.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/loader"
	"github.com/gofhir/codegen/pkg/logger"
	"github.com/gofhir/codegen/pkg/resolver"
)

// State is the load state of one directive.
type State int

const (
	StateUnknown State = iota
	StateQueued
	StateInProgress
	StateLoaded
	StateFailed
	StateParsed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateInProgress:
		return "in-progress"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	case StateParsed:
		return "parsed"
	default:
		return "unknown"
	}
}

// Done reports whether a load in state s has finished.
func (s State) Done() bool {
	return s == StateFailed || s == StateParsed
}

var (
	// ErrUnknownDirective is returned for a directive that was never
	// requested, or whose load was invalidated.
	ErrUnknownDirective = errors.New("unknown directive")
	// ErrNotLoaded is returned by Collection and Graph before the load got
	// that far, or when it failed.
	ErrNotLoaded = errors.New("directive not loaded")
	// ErrClosed is returned by RequestLoad after Close.
	ErrClosed = errors.New("session closed")
)

// EntryFunc maps a requested directive to the package entries to load, in
// override order: the directive's own package last.
type EntryFunc func(d loader.Directive) ([]loader.Entry, error)

// Option configures a Manager.
type Option func(*Manager)

// WithEntries sets how directives map to package entries.
func WithEntries(fn EntryFunc) Option {
	return func(m *Manager) {
		m.entries = fn
	}
}

// WithCacheDir reads directives from the NPM package cache at dir, with
// their dependencies, and lets Watch observe it.
func WithCacheDir(dir string) Option {
	return func(m *Manager) {
		m.cacheDir = dir
		m.entries = CacheEntries(dir)
	}
}

// WithWorkers bounds the number of loads running at once.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		m.workers = n
	}
}

// WithMetrics attaches a metrics sink to the loads.
func WithMetrics(metrics *fc.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// Manager owns the loads of one process.
type Manager struct {
	opts     *fc.Options
	loader   *loader.Loader
	entries  EntryFunc
	cacheDir string
	workers  int
	metrics  *fc.Metrics
	log      zerolog.Logger
	pool     *pool

	mu    sync.Mutex
	loads map[string]*load
}

type load struct {
	directive loader.Directive
	requested time.Time

	// guarded by Manager.mu
	packages []loader.Directive // every package read, dependencies included
	state    State
	err      error
	result   *loader.Result
	graph    *resolver.Graph
	diags    []fc.Diagnostic
	stale    bool

	done chan struct{}
}

// NewManager returns a Manager with its load workers running. A nil opts
// uses the defaults. Without WithEntries or WithCacheDir, directives are
// read from loader.DefaultPackagePath().
func NewManager(opts *fc.Options, options ...Option) *Manager {
	if opts == nil {
		opts = fc.DefaultOptions()
	}
	m := &Manager{
		opts:    opts,
		loader:  loader.New(opts),
		workers: 2,
		log:     logger.Component("session"),
		loads:   make(map[string]*load),
	}
	for _, o := range options {
		o(m)
	}
	if m.entries == nil {
		m.cacheDir = loader.DefaultPackagePath()
		m.entries = CacheEntries(m.cacheDir)
	}
	m.loader.SetMetrics(m.metrics)
	m.pool = newPool(m.workers, m.run)
	return m
}

// Close stops the workers. Running loads are cancelled and fail; later
// requests return ErrClosed.
func (m *Manager) Close() {
	m.pool.close()
}

// StateForDirective returns the current state of d.
func (m *Manager) StateForDirective(d loader.Directive) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.loads[d.String()]; ok {
		return l.state
	}
	return StateUnknown
}

// RequestLoad starts loading d unless a load is queued, running or
// finished, and returns the resulting state. Only a failed or invalidated
// directive is loaded again. RequestLoad does not wait for the load; see
// Wait.
func (m *Manager) RequestLoad(ctx context.Context, d loader.Directive) (State, error) {
	if err := ctx.Err(); err != nil {
		return StateUnknown, err
	}
	if d.Name == "" {
		return StateUnknown, fmt.Errorf("%w: empty package name", ErrUnknownDirective)
	}
	if m.pool.closed.Load() {
		return StateUnknown, ErrClosed
	}

	key := d.String()
	m.mu.Lock()
	if l, ok := m.loads[key]; ok && l.state != StateFailed {
		state := l.state
		m.mu.Unlock()
		m.log.Debug().Str("directive", key).Stringer("state", state).Msg("load coalesced")
		return state, nil
	}
	l := &load{
		directive: d,
		requested: time.Now(),
		state:     StateQueued,
		done:      make(chan struct{}),
	}
	m.loads[key] = l
	m.mu.Unlock()

	m.log.Debug().Str("directive", key).Msg("load queued")
	go func() {
		if !m.pool.submit(l) {
			m.finish(l, StateFailed, ErrClosed)
		}
	}()
	return StateQueued, nil
}

// Wait blocks until the current load of d finishes or ctx is done. It
// returns the final state and, for a failed load, its error.
func (m *Manager) Wait(ctx context.Context, d loader.Directive) (State, error) {
	m.mu.Lock()
	l, ok := m.loads[d.String()]
	m.mu.Unlock()
	if !ok {
		return StateUnknown, fmt.Errorf("%w: %s", ErrUnknownDirective, d)
	}

	select {
	case <-ctx.Done():
		return m.StateForDirective(d), ctx.Err()
	case <-l.done:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return l.state, l.err
}

// Collection returns the loaded collection of d.
func (m *Manager) Collection(d loader.Directive) (*definition.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.lookup(d)
	if err != nil {
		return nil, err
	}
	if l.result == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotLoaded, d, l.state)
	}
	return l.result.Collection, nil
}

// Graph returns the resolved graph of d and the load and resolution
// diagnostics.
func (m *Manager) Graph(d loader.Directive) (*resolver.Graph, []fc.Diagnostic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.lookup(d)
	if err != nil {
		return nil, nil, err
	}
	if l.graph == nil {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrNotLoaded, d, l.state)
	}
	return l.graph, l.diags, nil
}

func (m *Manager) lookup(d loader.Directive) (*load, error) {
	l, ok := m.loads[d.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDirective, d)
	}
	return l, nil
}

// Invalidate forgets the load of d, and of every directive that read d as a
// dependency, and drops the cached parse of d, so the next RequestLoad reads
// the package again. A load still running is forgotten when it finishes.
func (m *Manager) Invalidate(d loader.Directive) {
	m.loader.Invalidate(d)

	m.mu.Lock()
	defer m.mu.Unlock()
	target := d.String()
	for key, l := range m.loads {
		if key != target && !l.reads(d) {
			continue
		}
		if l.state.Done() {
			delete(m.loads, key)
		} else {
			l.stale = true
		}
		m.log.Info().Str("directive", key).Str("changed", target).Msg("load invalidated")
	}
}

func (l *load) reads(d loader.Directive) bool {
	for _, p := range l.packages {
		if p == d {
			return true
		}
	}
	return false
}

// Status is the state of one requested directive.
type Status struct {
	Directive loader.Directive
	State     State
	Err       error
}

// Statuses returns every requested directive, sorted.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.loads))
	for _, l := range m.loads {
		out = append(out, Status{Directive: l.directive, State: l.state, Err: l.err})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Directive.String() < out[j].Directive.String() })
	return out
}

// Stats returns the load worker statistics.
func (m *Manager) Stats() Stats {
	return m.pool.stats()
}

func (m *Manager) setState(l *load, s State) {
	m.mu.Lock()
	l.state = s
	m.mu.Unlock()
}

// finish records the final state and releases waiters.
func (m *Manager) finish(l *load, s State, err error) {
	m.mu.Lock()
	l.state = s
	l.err = err
	if l.stale {
		key := l.directive.String()
		if m.loads[key] == l {
			delete(m.loads, key)
		}
	}
	m.mu.Unlock()
	close(l.done)

	ev := m.log.Info()
	if err != nil {
		ev = m.log.Warn().Err(err)
	}
	ev.Str("directive", l.directive.String()).
		Stringer("state", s).
		Dur("elapsed", time.Since(l.requested)).
		Msg("load finished")
}

// run is executed by a pool worker.
func (m *Manager) run(ctx context.Context, l *load) {
	m.setState(l, StateInProgress)
	d := l.directive

	entries, err := m.entries(d)
	if err != nil {
		m.finish(l, StateFailed, fmt.Errorf("locate %s: %w", d, err))
		return
	}
	packages := make([]loader.Directive, 0, len(entries))
	for _, e := range entries {
		packages = append(packages, e.Directive)
	}
	m.mu.Lock()
	l.packages = packages
	m.mu.Unlock()
	res, err := m.loader.LoadPackages(ctx, d.Name, entries)
	if err != nil {
		m.finish(l, StateFailed, err)
		return
	}

	m.mu.Lock()
	l.state = StateLoaded
	l.result = res
	m.mu.Unlock()

	start := time.Now()
	g, diags := resolver.Resolve(ctx, res.Collection, m.opts)
	m.metrics.RecordStage("resolve", time.Since(start))
	if g == nil {
		err := ctx.Err()
		if err == nil {
			err = errors.New("resolution aborted")
		}
		m.finish(l, StateFailed, err)
		return
	}

	all := append(res.Diagnostics(), diags...)
	fc.SortDiagnostics(all)
	m.metrics.RecordDiagnostics(all)

	m.mu.Lock()
	l.graph = g
	l.diags = all
	m.mu.Unlock()
	m.finish(l, StateParsed, nil)
}
