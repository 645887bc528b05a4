package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/gofhir/codegen/pkg/loader"
)

// ErrNoCacheDir is returned by Watch when the Manager does not read from a
// package cache directory.
var ErrNoCacheDir = errors.New("no package cache directory to watch")

// Watch observes the package cache until ctx is done. A change below a
// package directory ("name#version/...") invalidates that directive, so the
// next RequestLoad reads the package again. ready, when not nil, is closed
// once the watches are in place.
func (m *Manager) Watch(ctx context.Context, ready chan<- struct{}) error {
	if m.cacheDir == "" {
		return ErrNoCacheDir
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := addTree(w, m.cacheDir); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}
	m.log.Info().Str("dir", m.cacheDir).Msg("watching package cache")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return errors.New("watcher channel closed")
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := addTree(w, event.Name); err != nil {
						m.log.Warn().Err(err).Str("dir", event.Name).Msg("cannot watch directory")
					}
				}
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if d, ok := m.directiveOf(event.Name); ok {
				m.log.Debug().Str("path", event.Name).Stringer("op", event.Op).Msg("package changed")
				m.Invalidate(d)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			m.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// directiveOf maps a path inside the cache to its package directive.
func (m *Manager) directiveOf(path string) (loader.Directive, bool) {
	rel, err := filepath.Rel(m.cacheDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return loader.Directive{}, false
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	d := loader.ParseDirective(first)
	if d.Name == "" {
		return loader.Directive{}, false
	}
	return d, true
}

// addTree watches dir and every directory below it; fsnotify watches are
// not recursive.
func addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if err := w.Add(path); err != nil {
				return fmt.Errorf("failed to watch directory %s: %w", path, err)
			}
		}
		return nil
	})
}
