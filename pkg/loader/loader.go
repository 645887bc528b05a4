// Package loader reads FHIR definition packages (NPM cache directories,
// .tgz tarballs, or in-memory documents) and fills a definition collection.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/cache"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/logger"
)

// DefaultPackagePath returns the default FHIR package cache path.
func DefaultPackagePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fhir", "packages")
}

// Directive names one package version.
type Directive struct {
	Name    string
	Version string
}

// String returns the directive in "name#version" form.
func (d Directive) String() string {
	if d.Version == "" {
		return d.Name
	}
	return d.Name + "#" + d.Version
}

// ParseDirective parses "name#version". A missing version is left empty.
func ParseDirective(spec string) Directive {
	name, version, _ := strings.Cut(spec, "#")
	return Directive{Name: name, Version: version}
}

// Entry is one package to load: which package, and where its bytes come from.
type Entry struct {
	Directive Directive
	Source    Source
}

// CoreEntry returns the entry for the core package of v in the package cache.
func CoreEntry(base string, v fc.FHIRVersion) Entry {
	name, version := v.CorePackage()
	d := Directive{Name: name, Version: version}
	return Entry{Directive: d, Source: CacheSource(base, d)}
}

// Failure is a document (or a whole package) that could not be parsed.
type Failure struct {
	Package  Directive
	Document string
	Err      error
}

func (f Failure) Error() string {
	if f.Document == "" {
		return fmt.Sprintf("%s: %v", f.Package, f.Err)
	}
	return fmt.Sprintf("%s/%s: %v", f.Package, f.Document, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Diagnostic converts the failure into a parse-failure diagnostic.
func (f Failure) Diagnostic() fc.Diagnostic {
	return fc.Errorf(fc.KindParseFailure).
		Message(f.Err.Error()).
		Source(f.Package.String()).
		At(f.Document).
		Build()
}

// LoadError aborts a load: strict mode with failures, or nothing to load.
type LoadError struct {
	Reason   string
	Failures []Failure
}

func (e *LoadError) Error() string {
	if len(e.Failures) == 0 {
		return "load failed: " + e.Reason
	}
	return fmt.Sprintf("load failed: %s (%d failures, first: %v)", e.Reason, len(e.Failures), e.Failures[0])
}

func (e *LoadError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i := range e.Failures {
		errs[i] = e.Failures[i]
	}
	return errs
}

// PackageInfo summarizes one loaded entry.
type PackageInfo struct {
	Directive   Directive
	Manifest    *Manifest
	Documents   int
	Definitions int
	Skipped     int
	Replaced    int
	Cached      bool
}

// Result is the outcome of LoadPackages.
type Result struct {
	Collection *definition.Collection
	Failures   []Failure
	Packages   []PackageInfo
}

// Diagnostics returns the failures as parse-failure diagnostics.
func (r *Result) Diagnostics() []fc.Diagnostic {
	out := make([]fc.Diagnostic, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Diagnostic())
	}
	return out
}

// parsedPackage is the cached, collection-independent parse of one entry.
type parsedPackage struct {
	manifest  *Manifest
	documents int
	records   []*definition.Record
	skipped   int
	failures  []Failure
}

// Loader loads package entries into collections. A Loader is safe for
// concurrent use; parsed packages are shared through its cache.
type Loader struct {
	opts    *fc.Options
	cache   *cache.Cache[string, *parsedPackage]
	metrics *fc.Metrics
	log     zerolog.Logger

	// generations counts the invalidations per directive, so a parse that
	// raced with Invalidate is not cached.
	genMu       sync.Mutex
	generations map[string]uint64
}

// New creates a Loader. A nil opts uses the defaults.
func New(opts *fc.Options) *Loader {
	if opts == nil {
		opts = fc.DefaultOptions()
	}
	return &Loader{
		opts:        opts,
		cache:       cache.New[string, *parsedPackage](opts.PackageCacheSize),
		log:         logger.Component("loader"),
		generations: make(map[string]uint64),
	}
}

// SetMetrics attaches a metrics sink.
func (l *Loader) SetMetrics(m *fc.Metrics) {
	l.metrics = m
}

// CacheStats returns the parsed-package cache statistics.
func (l *Loader) CacheStats() cache.Stats {
	return l.cache.Stats()
}

// Invalidate drops the cached parse of d, in every parse mode. A parse of d
// that is running is not cached when it finishes.
func (l *Loader) Invalidate(d Directive) {
	l.genMu.Lock()
	l.generations[d.String()]++
	l.genMu.Unlock()
	for _, mode := range []fc.ParseMode{fc.ParseModeObject, fc.ParseModeStream} {
		l.cache.Delete(cacheKey(d, mode))
	}
}

func (l *Loader) generation(d Directive) uint64 {
	l.genMu.Lock()
	defer l.genMu.Unlock()
	return l.generations[d.String()]
}

func cacheKey(d Directive, mode fc.ParseMode) string {
	return d.String() + "|" + string(mode)
}

// LoadPackages loads entries with a throwaway Loader.
func LoadPackages(ctx context.Context, primary string, entries []Entry, opts *fc.Options) (*Result, error) {
	return New(opts).LoadPackages(ctx, primary, entries)
}

// LoadPackages parses every entry and inserts its records into a new
// collection, in entry order. Later entries override earlier ones for the
// same canonical URL unless KeepExisting is set.
//
// primary names the package that fixes the collection's FHIR version; an
// empty primary selects the first entry. Failing documents are collected in
// Result.Failures and the rest of the load continues, unless StrictMode is
// set, in which case any failure returns a *LoadError.
func (l *Loader) LoadPackages(ctx context.Context, primary string, entries []Entry) (*Result, error) {
	start := time.Now()
	defer func() { l.metrics.RecordStage("load", time.Since(start)) }()

	if len(entries) == 0 {
		return nil, &LoadError{Reason: "no package entries"}
	}

	parsed := make([]*parsedPackage, len(entries))
	cached := make([]bool, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, l.opts.WorkerCount))
	for i := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, hit := l.parseEntry(gctx, entries[i])
			parsed[i], cached[i] = p, hit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{}
	policy := definition.OverrideNewer
	if l.opts.KeepExisting {
		policy = definition.OverrideKeepExisting
	}

	version := l.primaryVersion(primary, entries, parsed)
	res.Collection = definition.NewCollection(version)

	total := 0
	for i, p := range parsed {
		info := PackageInfo{
			Directive: entries[i].Directive,
			Manifest:  p.manifest,
			Documents: p.documents,
			Skipped:   p.skipped,
			Cached:    cached[i],
		}
		for _, r := range p.records {
			loser := res.Collection.Insert(r, policy)
			replaced := loser != nil && loser != r
			if replaced {
				info.Replaced++
				l.log.Debug().
					Str("url", r.URL).
					Str("previous", loser.Package).
					Str("package", r.Package).
					Msg("definition overridden")
			}
			l.metrics.RecordDefinition(loser != nil)
			info.Definitions++
		}
		total += p.documents
		res.Failures = append(res.Failures, p.failures...)
		res.Packages = append(res.Packages, info)

		l.log.Info().
			Str("package", info.Directive.String()).
			Int("documents", info.Documents).
			Int("definitions", info.Definitions).
			Int("skipped", info.Skipped).
			Bool("cached", info.Cached).
			Msg("package loaded")
	}

	for _, f := range res.Failures {
		l.log.Warn().Err(f.Err).Str("package", f.Package.String()).Str("document", f.Document).Msg("document failed to parse")
	}

	if total == 0 {
		return nil, &LoadError{Reason: "no documents found", Failures: res.Failures}
	}
	if l.opts.StrictMode && len(res.Failures) > 0 {
		return nil, &LoadError{Reason: "strict mode", Failures: res.Failures}
	}
	return res, nil
}

// primaryVersion picks the FHIR version of the primary package: its
// manifest's, else its directive version.
func (l *Loader) primaryVersion(primary string, entries []Entry, parsed []*parsedPackage) string {
	idx := 0
	for i, e := range entries {
		if primary != "" && (e.Directive.Name == primary || e.Directive.String() == primary) {
			idx = i
			break
		}
	}
	if m := parsed[idx].manifest; m != nil && m.Release() != "" {
		return m.Release()
	}
	return entries[idx].Directive.Version
}

// parseEntry returns the parse of one entry, from the cache when possible.
// Only entries with a versioned directive are cached.
func (l *Loader) parseEntry(ctx context.Context, e Entry) (*parsedPackage, bool) {
	cacheable := e.Directive.Name != "" && e.Directive.Version != ""
	key := cacheKey(e.Directive, l.opts.ParseMode)
	if cacheable {
		if p, ok := l.cache.Get(key); ok {
			l.metrics.RecordCacheHit()
			return p, true
		}
		l.metrics.RecordCacheMiss()
	}

	gen := l.generation(e.Directive)
	p := l.parsePackage(ctx, e)
	// Incomplete parses (a cancelled or unreadable source) are not cached,
	// nor are parses invalidated while they ran.
	if cacheable && ctx.Err() == nil && !sourceFailed(p) {
		l.genMu.Lock()
		if l.generations[e.Directive.String()] == gen {
			l.cache.Set(key, p)
		}
		l.genMu.Unlock()
	}
	return p, false
}

func sourceFailed(p *parsedPackage) bool {
	for _, f := range p.failures {
		if f.Document == "" {
			return true
		}
	}
	return false
}

func (l *Loader) parsePackage(ctx context.Context, e Entry) *parsedPackage {
	p := &parsedPackage{}
	if e.Source == nil {
		p.failures = append(p.failures, Failure{Package: e.Directive, Err: errors.New("entry has no source")})
		return p
	}

	docs, err := e.Source.Documents(ctx)
	if err != nil {
		p.failures = append(p.failures, Failure{Package: e.Directive, Err: err})
		return p
	}

	prs := parserFor(l.opts.ParseMode)
	for _, doc := range docs {
		if ctx.Err() != nil {
			return p
		}
		if doc.Name == ManifestName {
			m, err := ParseManifest(doc.Data)
			if err != nil {
				p.failures = append(p.failures, Failure{Package: e.Directive, Document: doc.Name, Err: err})
				continue
			}
			p.manifest = m
			continue
		}

		p.documents++
		out := parseDocument(prs, e.Directive, doc)
		p.records = append(p.records, out.records...)
		p.skipped += out.skipped
		p.failures = append(p.failures, out.failures...)
		l.metrics.RecordDocument(len(out.failures) == 0)
	}

	l.log.Debug().
		Str("package", e.Directive.String()).
		Str("mode", string(l.opts.ParseMode)).
		Int("records", len(p.records)).
		Int("failures", len(p.failures)).
		Msg("package parsed")
	return p
}
