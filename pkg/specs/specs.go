// Package specs embeds the base FHIR definitions every package builds on
// (primitive types, Element, BackboneElement, Resource, DomainResource and
// the handful of data types they reference).
//
// The resolver falls back to these when a loaded package set does not carry
// its own copy, so that profiles and IG packages resolve without the full
// core package. The embedded set is FHIR 4.0.1 and only serves the R4 line
// (R4 and R4B, whose base types are unchanged); other releases have no
// fallback.
package specs

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/loader"
)

//go:embed base/*.json
var baseFS embed.FS

// PackageName is the directive name the base definitions load under.
const PackageName = "gofhir.codegen.base"

// ErrNoBase is returned by Base for a release the embedded set does not
// describe.
var ErrNoBase = errors.New("no embedded base definitions")

var (
	mu    sync.Mutex
	bases = make(map[fc.FHIRVersion]*definition.Collection)
)

// Documents returns the embedded definitions as an in-memory package.
func Documents() (loader.MemorySource, error) {
	entries, err := fs.ReadDir(baseFS, "base")
	if err != nil {
		return nil, err
	}
	src := make(loader.MemorySource, len(entries))
	for _, e := range entries {
		data, err := baseFS.ReadFile(path.Join("base", e.Name()))
		if err != nil {
			return nil, err
		}
		src[e.Name()] = data
	}
	return src, nil
}

// Base returns the base collection for a FHIR version. Collections are
// built once per version and shared; callers must not insert into them.
func Base(v fc.FHIRVersion) (*definition.Collection, error) {
	if !v.IsValid() {
		return nil, fmt.Errorf("unsupported FHIR version: %s", v)
	}
	if v != fc.R4 && v != fc.R4B {
		return nil, fmt.Errorf("%w for FHIR %s", ErrNoBase, v)
	}

	mu.Lock()
	defer mu.Unlock()
	if c, ok := bases[v]; ok {
		return c, nil
	}

	src, err := Documents()
	if err != nil {
		return nil, fmt.Errorf("read embedded base definitions: %w", err)
	}
	entry := loader.Entry{
		Directive: loader.Directive{Name: PackageName, Version: v.Semver()},
		Source:    src,
	}
	opts := fc.NewOptions(fc.WithStrictMode(true), fc.WithParseMode(fc.ParseModeStream), fc.WithWorkerCount(1))
	res, err := loader.LoadPackages(context.Background(), PackageName, []loader.Entry{entry}, opts)
	if err != nil {
		return nil, fmt.Errorf("load embedded base definitions: %w", err)
	}
	bases[v] = res.Collection
	return res.Collection, nil
}

// MustBase is Base for versions known to be valid.
func MustBase(v fc.FHIRVersion) *definition.Collection {
	c, err := Base(v)
	if err != nil {
		panic(err)
	}
	return c
}
