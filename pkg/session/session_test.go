package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/loader"
)

const addressSD = `{
  "resourceType": "StructureDefinition",
  "url": "http://hl7.org/fhir/StructureDefinition/Address",
  "name": "Address",
  "kind": "complex-type",
  "type": "Address",
  "fhirVersion": "4.0.1",
  "derivation": "specialization",
  "baseDefinition": "http://hl7.org/fhir/StructureDefinition/Element",
  "snapshot": {"element": [
    {"path": "Address", "min": 0, "max": "*"},
    {"path": "Address.city", "min": 0, "max": "1", "type": [{"code": "string"}]}
  ]}
}`

var example = loader.Directive{Name: "example.pkg", Version: "1.0.0"}

// gatedEntries serves addressSD once gate is closed and counts its calls.
type gatedEntries struct {
	gate  chan struct{}
	calls atomic.Int32
	err   error
}

func newGatedEntries() *gatedEntries {
	return &gatedEntries{gate: make(chan struct{})}
}

func (g *gatedEntries) entries(d loader.Directive) ([]loader.Entry, error) {
	g.calls.Add(1)
	<-g.gate
	if g.err != nil {
		return nil, g.err
	}
	src := loader.MemorySource{"StructureDefinition-Address.json": []byte(addressSD)}
	return []loader.Entry{{Directive: d, Source: src}}, nil
}

func newManager(t *testing.T, options ...Option) *Manager {
	t.Helper()
	m := NewManager(fc.NewOptions(fc.WithWorkerCount(2)), options...)
	t.Cleanup(m.Close)
	return m
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unknown", StateUnknown.String())
	assert.Equal(t, "in-progress", StateInProgress.String())
	assert.Equal(t, "parsed", StateParsed.String())
	assert.True(t, StateFailed.Done())
	assert.False(t, StateLoaded.Done())
}

func TestRequestLoad_Lifecycle(t *testing.T) {
	src := newGatedEntries()
	m := newManager(t, WithEntries(src.entries))

	assert.Equal(t, StateUnknown, m.StateForDirective(example))

	state, err := m.RequestLoad(context.Background(), example)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, state)

	_, err = m.Collection(example)
	assert.ErrorIs(t, err, ErrNotLoaded)

	close(src.gate)
	state, err = m.Wait(waitCtx(t), example)
	require.NoError(t, err)
	assert.Equal(t, StateParsed, state)
	assert.Equal(t, StateParsed, m.StateForDirective(example))

	coll, err := m.Collection(example)
	require.NoError(t, err)
	_, ok := coll.ByCanonicalName("Address")
	assert.True(t, ok)

	g, diags, err := m.Graph(example)
	require.NoError(t, err)
	assert.False(t, fc.HasErrors(diags), "diagnostics: %v", diags)
	_, ok = g.Lookup("Address")
	assert.True(t, ok)

	statuses := m.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, example, statuses[0].Directive)
	assert.Equal(t, StateParsed, statuses[0].State)
}

func TestRequestLoad_Coalesces(t *testing.T) {
	src := newGatedEntries()
	m := newManager(t, WithEntries(src.entries), WithWorkers(4))

	var wg sync.WaitGroup
	states := make([]State, 16)
	for i := range states {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.RequestLoad(context.Background(), example)
			assert.NoError(t, err)
			states[i] = s
		}()
	}
	wg.Wait()
	for _, s := range states {
		assert.Contains(t, []State{StateQueued, StateInProgress}, s)
	}

	close(src.gate)
	state, err := m.Wait(waitCtx(t), example)
	require.NoError(t, err)
	assert.Equal(t, StateParsed, state)

	// A finished load is not repeated either.
	state, err = m.RequestLoad(context.Background(), example)
	require.NoError(t, err)
	assert.Equal(t, StateParsed, state)

	assert.EqualValues(t, 1, m.Stats().LoadsStarted)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestRequestLoad_FailureAndRetry(t *testing.T) {
	src := newGatedEntries()
	src.err = errors.New("package not found")
	close(src.gate)
	m := newManager(t, WithEntries(src.entries))

	_, err := m.RequestLoad(context.Background(), example)
	require.NoError(t, err)
	state, err := m.Wait(waitCtx(t), example)
	assert.Equal(t, StateFailed, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package not found")

	_, _, err = m.Graph(example)
	assert.ErrorIs(t, err, ErrNotLoaded)

	src.err = nil
	state, err = m.RequestLoad(context.Background(), example)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, state, "a failed directive is loaded again")
	state, err = m.Wait(waitCtx(t), example)
	require.NoError(t, err)
	assert.Equal(t, StateParsed, state)
	assert.EqualValues(t, 2, m.Stats().LoadsStarted)
}

func TestUnknownDirective(t *testing.T) {
	m := newManager(t, WithEntries(newGatedEntries().entries))

	_, err := m.Wait(context.Background(), example)
	assert.ErrorIs(t, err, ErrUnknownDirective)
	_, err = m.Collection(example)
	assert.ErrorIs(t, err, ErrUnknownDirective)
	_, _, err = m.Graph(example)
	assert.ErrorIs(t, err, ErrUnknownDirective)

	_, err = m.RequestLoad(context.Background(), loader.Directive{})
	assert.ErrorIs(t, err, ErrUnknownDirective)
}

func TestWait_ContextDone(t *testing.T) {
	src := newGatedEntries()
	m := newManager(t, WithEntries(src.entries))
	_, err := m.RequestLoad(context.Background(), example)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	state, err := m.Wait(ctx, example)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, []State{StateQueued, StateInProgress}, state)
	close(src.gate)
}

func TestInvalidate(t *testing.T) {
	src := newGatedEntries()
	close(src.gate)
	m := newManager(t, WithEntries(src.entries))

	_, err := m.RequestLoad(context.Background(), example)
	require.NoError(t, err)
	_, err = m.Wait(waitCtx(t), example)
	require.NoError(t, err)

	m.Invalidate(example)
	assert.Equal(t, StateUnknown, m.StateForDirective(example))

	state, err := m.RequestLoad(context.Background(), example)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, state)
	_, err = m.Wait(waitCtx(t), example)
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
}

// blockingSource reads its documents, then blocks until release is closed.
type blockingSource struct {
	mu      sync.Mutex
	docs    loader.MemorySource
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSource) set(name, data string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[name] = []byte(data)
}

func (b *blockingSource) Documents(ctx context.Context) ([]loader.Document, error) {
	b.mu.Lock()
	docs, err := b.docs.Documents(ctx)
	b.mu.Unlock()
	b.once.Do(func() {
		close(b.read)
		<-b.release
	})
	return docs, err
}

func TestInvalidate_DuringLoad(t *testing.T) {
	src := &blockingSource{
		docs:    loader.MemorySource{"StructureDefinition-Address.json": []byte(addressSD)},
		read:    make(chan struct{}),
		release: make(chan struct{}),
	}
	m := newManager(t, WithEntries(func(d loader.Directive) ([]loader.Entry, error) {
		return []loader.Entry{{Directive: d, Source: src}}, nil
	}))

	_, err := m.RequestLoad(context.Background(), example)
	require.NoError(t, err)
	<-src.read

	town := strings.Replace(addressSD, `"Address.city"`, `"Address.town"`, 1)
	src.set("StructureDefinition-Address.json", town)
	m.Invalidate(example)
	close(src.release)

	assert.Eventually(t, func() bool {
		return m.StateForDirective(example) == StateUnknown
	}, 5*time.Second, 10*time.Millisecond, "a load invalidated while running is forgotten")

	_, err = m.RequestLoad(context.Background(), example)
	require.NoError(t, err)
	state, err := m.Wait(waitCtx(t), example)
	require.NoError(t, err)
	require.Equal(t, StateParsed, state)

	coll, err := m.Collection(example)
	require.NoError(t, err)
	r, ok := coll.ByCanonicalName("Address")
	require.True(t, ok)
	_, ok = r.Element("Address.town")
	assert.True(t, ok, "the reload reads the changed package")
}

func TestInvalidate_Dependents(t *testing.T) {
	dep := loader.Directive{Name: "example.base", Version: "0.1.0"}
	other := loader.Directive{Name: "example.other", Version: "1.0.0"}
	m := newManager(t, WithEntries(func(d loader.Directive) ([]loader.Entry, error) {
		src := loader.MemorySource{"StructureDefinition-Address.json": []byte(addressSD)}
		if d == other {
			return []loader.Entry{{Directive: d, Source: src}}, nil
		}
		return []loader.Entry{{Directive: dep, Source: src}, {Directive: d, Source: src}}, nil
	}))

	for _, d := range []loader.Directive{example, other} {
		_, err := m.RequestLoad(context.Background(), d)
		require.NoError(t, err)
		_, err = m.Wait(waitCtx(t), d)
		require.NoError(t, err)
	}

	m.Invalidate(dep)
	assert.Equal(t, StateUnknown, m.StateForDirective(example), "a dependent of the changed package is reloaded")
	assert.Equal(t, StateParsed, m.StateForDirective(other))
}

func TestClose(t *testing.T) {
	m := NewManager(nil, WithEntries(newGatedEntries().entries))
	m.Close()
	_, err := m.RequestLoad(context.Background(), example)
	assert.ErrorIs(t, err, ErrClosed)
}

func writePackage(t *testing.T, base string, d loader.Directive, manifest string, docs map[string]string) string {
	t.Helper()
	dir := filepath.Join(base, d.String(), "package")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if manifest != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, loader.ManifestName), []byte(manifest), 0o644))
	}
	for name, data := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
	}
	return dir
}

func TestCacheEntries(t *testing.T) {
	base := t.TempDir()
	dep := loader.Directive{Name: "example.base", Version: "0.1.0"}
	writePackage(t, base, dep, `{"name": "example.base", "version": "0.1.0"}`, nil)
	writePackage(t, base, example, `{"name": "example.pkg", "version": "1.0.0", "dependencies": {"example.base": "0.1.0"}}`, nil)

	entries, err := CacheEntries(base)(example)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, dep, entries[0].Directive, "dependencies load first")
	assert.Equal(t, example, entries[1].Directive)

	broken := loader.Directive{Name: "example.broken", Version: "1.0.0"}
	writePackage(t, base, broken, `{"name": "example.broken", "version": "1.0.0", "dependencies": {"example.missing": "2.0.0"}}`, nil)
	_, err = CacheEntries(base)(broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "example.missing#2.0.0")

	_, err = CacheEntries(base)(loader.Directive{Name: "absent", Version: "1"})
	assert.Error(t, err)
}

func TestWatch_InvalidatesChangedPackage(t *testing.T) {
	base := t.TempDir()
	dir := writePackage(t, base, example, "", map[string]string{"StructureDefinition-Address.json": addressSD})
	m := newManager(t, WithCacheDir(base))

	_, err := m.RequestLoad(context.Background(), example)
	require.NoError(t, err)
	state, err := m.Wait(waitCtx(t), example)
	require.NoError(t, err)
	require.Equal(t, StateParsed, state)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, ready) }()
	<-ready

	require.NoError(t, os.WriteFile(filepath.Join(dir, "StructureDefinition-Address.json"), []byte(addressSD), 0o644))
	assert.Eventually(t, func() bool {
		return m.StateForDirective(example) == StateUnknown
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatch_NoCacheDir(t *testing.T) {
	m := newManager(t, WithEntries(newGatedEntries().entries))
	assert.ErrorIs(t, m.Watch(context.Background(), nil), ErrNoCacheDir)
}

func TestDirectiveOf(t *testing.T) {
	m := &Manager{cacheDir: filepath.Join("cache", "packages")}

	d, ok := m.directiveOf(filepath.Join("cache", "packages", "hl7.fhir.us.core#6.1.0", "package", "x.json"))
	require.True(t, ok)
	assert.Equal(t, loader.Directive{Name: "hl7.fhir.us.core", Version: "6.1.0"}, d)

	_, ok = m.directiveOf(filepath.Join("cache", "packages"))
	assert.False(t, ok)
	_, ok = m.directiveOf(filepath.Join("elsewhere", "x"))
	assert.False(t, ok)
}
