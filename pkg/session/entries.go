package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofhir/codegen/pkg/loader"
)

// CacheEntries returns an EntryFunc reading packages from the NPM package
// cache at base. A package's dependencies, taken from the package.json
// manifests, are loaded before it, depth first, so that the requested
// package overrides what it depends on. Dependencies missing from the
// cache are an error.
func CacheEntries(base string) EntryFunc {
	return func(d loader.Directive) ([]loader.Entry, error) {
		var (
			out     []loader.Entry
			visited = make(map[string]bool)
		)
		var visit func(d loader.Directive, chain []string) error
		visit = func(d loader.Directive, chain []string) error {
			key := d.String()
			if visited[key] {
				return nil
			}
			visited[key] = true

			src := loader.CacheSource(base, d)
			if _, err := os.Stat(src.Path); err != nil {
				if errors.Is(err, fs.ErrNotExist) && len(chain) > 0 {
					return fmt.Errorf("dependency %s of %s is not in the package cache", key, chain[len(chain)-1])
				}
				return fmt.Errorf("package %s: %w", key, err)
			}

			m, err := readManifest(src)
			if err != nil {
				return err
			}
			if m != nil {
				for _, dep := range m.DependencyDirectives() {
					if err := visit(dep, append(chain, key)); err != nil {
						return err
					}
				}
			}
			out = append(out, loader.Entry{Directive: d, Source: src})
			return nil
		}
		if err := visit(d, nil); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// readManifest returns nil when the package has no manifest.
func readManifest(src loader.DirSource) (*loader.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(src.ContentDir(), loader.ManifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return loader.ParseManifest(data)
}
