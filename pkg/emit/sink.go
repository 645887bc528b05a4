package emit

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	fc "github.com/gofhir/codegen"
)

// Sink receives emitted files. Emitters do no I/O other than through it.
type Sink interface {
	// Create opens the file name (slash separated, relative) for writing.
	Create(name string) (io.WriteCloser, error)
}

// DirSink writes files under a directory, creating parents as needed.
type DirSink struct {
	Dir string
}

// NewDirSink returns a sink rooted at dir.
func NewDirSink(dir string) *DirSink {
	return &DirSink{Dir: dir}
}

// Create implements Sink.
func (s *DirSink) Create(name string) (io.WriteCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(s.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return f, nil
}

// MemorySink keeps files in memory, for tests and previews.
type MemorySink struct {
	mu    sync.Mutex
	files map[string]*bytes.Buffer
}

// NewMemorySink returns an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{files: make(map[string]*bytes.Buffer)}
}

// Create implements Sink. Creating an existing name truncates it.
func (s *MemorySink) Create(name string) (io.WriteCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	s.mu.Lock()
	s.files[name] = buf
	s.mu.Unlock()
	return &memoryFile{sink: s, buf: buf}, nil
}

// Names returns the file names, sorted.
func (s *MemorySink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for name := range s.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// File returns a copy of a file's content.
func (s *MemorySink) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.files[name]
	if !ok {
		return nil, false
	}
	return bytes.Clone(buf.Bytes()), true
}

// Files returns a copy of every file.
func (s *MemorySink) Files() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.files))
	for name, buf := range s.files {
		out[name] = bytes.Clone(buf.Bytes())
	}
	return out
}

type memoryFile struct {
	sink *MemorySink
	buf  *bytes.Buffer
}

func (f *memoryFile) Write(p []byte) (int, error) {
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	return f.buf.Write(p)
}

func (f *memoryFile) Close() error { return nil }

// PrefixSink places every file under a directory prefix of another sink.
// ExportAll gives each emitter its own prefix.
type PrefixSink struct {
	Sink   Sink
	Prefix string
}

// Create implements Sink.
func (s PrefixSink) Create(name string) (io.WriteCloser, error) {
	return s.Sink.Create(strings.TrimSuffix(s.Prefix, "/") + "/" + name)
}

// countingSink records every created file in metrics.
type countingSink struct {
	Sink
	metrics *fc.Metrics
}

func (s countingSink) Create(name string) (io.WriteCloser, error) {
	w, err := s.Sink.Create(name)
	if err == nil {
		s.metrics.RecordFile()
	}
	return w, err
}

// WriteFile creates name in sink and writes data to it.
func WriteFile(sink Sink, name string, data []byte) error {
	w, err := sink.Create(name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

func checkName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return fmt.Errorf("invalid output name %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return fmt.Errorf("output name %q leaves the sink", name)
		}
	}
	return nil
}
