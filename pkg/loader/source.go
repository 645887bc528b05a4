package loader

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ManifestName is the file name of a package manifest.
const ManifestName = "package.json"

// Document is one named file of a package.
type Document struct {
	Name string
	Data []byte
}

// Source yields the documents of one package. The loader does no I/O of its
// own; everything it reads comes through a Source.
type Source interface {
	Documents(ctx context.Context) ([]Document, error)
}

// DirSource reads a package laid out as in the NPM package cache: JSON files
// under Path, or under Path/package when that directory exists.
type DirSource struct {
	Path string
}

// CacheSource returns the DirSource for d inside the package cache at base.
func CacheSource(base string, d Directive) DirSource {
	return DirSource{Path: filepath.Join(base, d.String())}
}

// ContentDir returns the directory holding the package's JSON files.
func (s DirSource) ContentDir() string {
	sub := filepath.Join(s.Path, "package")
	if fi, err := os.Stat(sub); err == nil && fi.IsDir() {
		return sub
	}
	return s.Path
}

// Documents reads every JSON file of the package in name order.
func (s DirSource) Documents(ctx context.Context) ([]Document, error) {
	dir := s.ContentDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var docs []Document
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !isPackageFile(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		docs = append(docs, Document{Name: entry.Name(), Data: data})
	}
	return docs, nil
}

// TgzSource reads a gzipped tarball package (.tgz) from disk.
type TgzSource struct {
	Path string
}

// Documents extracts the package's JSON files in name order.
func (s TgzSource) Documents(ctx context.Context) ([]Document, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tgz file: %w", err)
	}
	defer f.Close()
	return readTgz(ctx, f)
}

// TgzBytes is a tarball package already held in memory, e.g. handed over by
// a registry client.
type TgzBytes []byte

// Documents extracts the package's JSON files in name order.
func (b TgzBytes) Documents(ctx context.Context) ([]Document, error) {
	return readTgz(ctx, bytes.NewReader(b))
}

func readTgz(ctx context.Context, r io.Reader) ([]Document, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var docs []Document
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}

		// Only top-level files of package/ count; examples and other
		// subfolders are not part of the definition set.
		name := strings.TrimPrefix(path.Clean(header.Name), "package/")
		if strings.Contains(name, "/") || !isPackageFile(name) {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		docs = append(docs, Document{Name: name, Data: data})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// MemorySource is a package held in memory, keyed by document name.
type MemorySource map[string][]byte

// Documents returns the documents in name order.
func (m MemorySource) Documents(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(m))
	for name, data := range m {
		docs = append(docs, Document{Name: name, Data: data})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func isPackageFile(name string) bool {
	return strings.HasSuffix(name, ".json") && name != ".index.json"
}
