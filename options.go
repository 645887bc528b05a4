package fhircodegen

import (
	"runtime"
)

// ParseMode selects the document parse pipeline used by the package loader.
type ParseMode string

const (
	// ParseModeObject decodes each document into the typed FHIR R4 model
	// before converting it to a definition record.
	ParseModeObject ParseMode = "object"
	// ParseModeStream extracts the needed fields directly from the raw bytes
	// without materializing the full resource model.
	ParseModeStream ParseMode = "stream"
)

// Option configures loading and resolution.
type Option func(*Options)

// Options holds the configuration shared by the loader and the resolver.
// It is plain data built once by the caller (usually the CLI) and passed
// explicitly to each operation.
type Options struct {
	// Loading
	StrictMode   bool
	ParseMode    ParseMode
	KeepExisting bool
	WorkerCount  int

	// Resolution
	BaseFallback     bool
	CheckExpressions bool

	// Cache sizes
	PackageCacheSize int
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		StrictMode:   false,
		ParseMode:    ParseModeObject,
		KeepExisting: false,
		WorkerCount:  runtime.NumCPU(),

		BaseFallback:     true,
		CheckExpressions: true,

		PackageCacheSize: 64,
	}
}

// NewOptions returns the defaults with opts applied.
func NewOptions(opts ...Option) *Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// --- Loading Options ---

// WithStrictMode makes any document parse failure abort the load.
func WithStrictMode(enable bool) Option {
	return func(o *Options) {
		o.StrictMode = enable
	}
}

// WithParseMode selects the parse pipeline. Unknown modes are ignored.
func WithParseMode(mode ParseMode) Option {
	return func(o *Options) {
		if mode == ParseModeObject || mode == ParseModeStream {
			o.ParseMode = mode
		}
	}
}

// WithKeepExisting makes the first definition loaded for a canonical URL
// win instead of the last one.
func WithKeepExisting(enable bool) Option {
	return func(o *Options) {
		o.KeepExisting = enable
	}
}

// WithWorkerCount sets the number of packages read and parsed concurrently.
// Defaults to runtime.NumCPU().
func WithWorkerCount(count int) Option {
	return func(o *Options) {
		if count > 0 {
			o.WorkerCount = count
		}
	}
}

// --- Resolution Options ---

// WithBaseFallback enables lookup of the embedded base definitions for
// type codes not present in the loaded packages.
func WithBaseFallback(enable bool) Option {
	return func(o *Options) {
		o.BaseFallback = enable
	}
}

// WithExpressionCheck enables compiling invariant expressions during resolution.
func WithExpressionCheck(enable bool) Option {
	return func(o *Options) {
		o.CheckExpressions = enable
	}
}

// --- Cache Options ---

// WithPackageCache sets how many parsed packages are kept in memory.
func WithPackageCache(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.PackageCacheSize = size
		}
	}
}
