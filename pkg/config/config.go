// Package config reads the YAML project file of the code generator.
//
//	fhirVersion: R4
//	packageCache: ~/.fhir/packages
//	packages:
//	  - hl7.fhir.r4.core#4.0.1
//	  - hl7.fhir.us.core#6.1.0
//	emitters: [typescript, openapi]
//	output: ./generated
//	emit:
//	  namespace: Fhir
//	  fileFormat: multi
//	mapping: mappings/r4-r5.yaml
//	load:
//	  parseMode: stream
//	  strict: true
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/convert"
	"github.com/gofhir/codegen/pkg/emit"
	"github.com/gofhir/codegen/pkg/loader"
)

// DefaultOutput is the output directory when none is configured.
const DefaultOutput = "generated"

// File is a project file.
type File struct {
	FHIRVersion  string   `yaml:"fhirVersion"`
	PackageCache string   `yaml:"packageCache,omitempty"`
	Packages     []string `yaml:"packages"`
	// Primary names the package that fixes the FHIR version; defaults to
	// the last package.
	Primary  string       `yaml:"primary,omitempty"`
	Emitters []string     `yaml:"emitters,omitempty"`
	Output   string       `yaml:"output,omitempty"`
	Emit     emit.Options `yaml:"emit"`
	// Mapping is a cross-version mapping table, relative to the file.
	Mapping string       `yaml:"mapping,omitempty"`
	Load    LoadSettings `yaml:"load"`

	// dir is the directory of the file, for relative paths.
	dir string
}

// LoadSettings override the loader and resolver defaults; unset fields
// keep them.
type LoadSettings struct {
	Strict           *bool        `yaml:"strict,omitempty"`
	ParseMode        fc.ParseMode `yaml:"parseMode,omitempty"`
	KeepExisting     *bool        `yaml:"keepExisting,omitempty"`
	Workers          int          `yaml:"workers,omitempty"`
	BaseFallback     *bool        `yaml:"baseFallback,omitempty"`
	CheckExpressions *bool        `yaml:"checkExpressions,omitempty"`
	PackageCacheSize int          `yaml:"packageCacheSize,omitempty"`
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// Parse decodes and validates a project file. Unknown keys are errors; an
// empty file yields the defaults.
func Parse(data []byte) (*File, error) {
	f := &File{Emit: emit.DefaultOptions()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	applyDefaults(f)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func applyDefaults(f *File) {
	if f.FHIRVersion == "" {
		f.FHIRVersion = string(fc.R4)
	}
	if f.Output == "" {
		f.Output = DefaultOutput
	}
}

// Validate reports invalid settings.
func (f *File) Validate() error {
	var errs []error
	if _, ok := fc.ParseVersion(f.FHIRVersion); !ok {
		errs = append(errs, fmt.Errorf("unsupported fhirVersion %q", f.FHIRVersion))
	}
	for _, p := range f.Packages {
		if loader.ParseDirective(p).Name == "" {
			errs = append(errs, fmt.Errorf("invalid package %q", p))
		}
	}
	if f.Primary != "" && !f.hasPackage(f.Primary) {
		errs = append(errs, fmt.Errorf("primary package %q is not listed", f.Primary))
	}
	switch f.Load.ParseMode {
	case "", fc.ParseModeObject, fc.ParseModeStream:
	default:
		errs = append(errs, fmt.Errorf("unknown parseMode %q", f.Load.ParseMode))
	}
	if err := f.Emit.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("emit: %w", err))
	}
	return errors.Join(errs...)
}

func (f *File) hasPackage(name string) bool {
	for _, p := range f.Packages {
		if loader.ParseDirective(p).Name == name {
			return true
		}
	}
	return false
}

// Version returns the configured FHIR release.
func (f *File) Version() fc.FHIRVersion {
	v, _ := fc.ParseVersion(f.FHIRVersion)
	return v
}

// Options returns the loader and resolver options with the file's
// overrides applied on top of extra.
func (f *File) Options(extra ...fc.Option) *fc.Options {
	var opts []fc.Option
	l := f.Load
	if l.Strict != nil {
		opts = append(opts, fc.WithStrictMode(*l.Strict))
	}
	if l.ParseMode != "" {
		opts = append(opts, fc.WithParseMode(l.ParseMode))
	}
	if l.KeepExisting != nil {
		opts = append(opts, fc.WithKeepExisting(*l.KeepExisting))
	}
	if l.Workers > 0 {
		opts = append(opts, fc.WithWorkerCount(l.Workers))
	}
	if l.BaseFallback != nil {
		opts = append(opts, fc.WithBaseFallback(*l.BaseFallback))
	}
	if l.CheckExpressions != nil {
		opts = append(opts, fc.WithExpressionCheck(*l.CheckExpressions))
	}
	if l.PackageCacheSize > 0 {
		opts = append(opts, fc.WithPackageCache(l.PackageCacheSize))
	}
	return fc.NewOptions(append(extra, opts...)...)
}

// CacheDir returns the package cache: the file's setting with "~"
// expanded, else fallback, else the loader default.
func (f *File) CacheDir(fallback string) string {
	dir := f.PackageCache
	if dir == "" {
		dir = fallback
	}
	if dir == "" {
		return loader.DefaultPackagePath()
	}
	if rest, ok := strings.CutPrefix(dir, "~"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return dir
}

// Entries returns the configured packages as cache entries in file order.
// Without packages it returns the core package of the FHIR version.
func (f *File) Entries(cacheDir string) []loader.Entry {
	if len(f.Packages) == 0 {
		return []loader.Entry{loader.CoreEntry(cacheDir, f.Version())}
	}
	out := make([]loader.Entry, 0, len(f.Packages))
	for _, p := range f.Packages {
		d := loader.ParseDirective(p)
		out = append(out, loader.Entry{Directive: d, Source: loader.CacheSource(cacheDir, d)})
	}
	return out
}

// PrimaryPackage returns Primary, or the name of the last package.
func (f *File) PrimaryPackage() string {
	if f.Primary != "" || len(f.Packages) == 0 {
		return f.Primary
	}
	return loader.ParseDirective(f.Packages[len(f.Packages)-1]).Name
}

// Path resolves p against the file's directory.
func (f *File) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || f.dir == "" {
		return p
	}
	return filepath.Join(f.dir, p)
}

// Table loads the mapping table; it returns nil when none is configured.
func (f *File) Table() (*convert.Table, error) {
	if f.Mapping == "" {
		return nil, nil
	}
	return convert.LoadTable(f.Path(f.Mapping))
}
