package fhircodegen

import (
	"sort"
	"strings"
	"sync"
)

// Severity represents the severity of a diagnostic.
// Values follow OperationOutcome.issue.severity in FHIR.
type Severity string

const (
	// SeverityFatal aborts processing of the affected item (e.g. an inheritance cycle).
	SeverityFatal Severity = "fatal"
	// SeverityError marks an item that could not be processed correctly.
	SeverityError Severity = "error"
	// SeverityWarning indicates a potential problem that should be reviewed.
	SeverityWarning Severity = "warning"
	// SeverityInformation indicates informational feedback.
	SeverityInformation Severity = "information"
)

// rank orders severities from most to least severe.
func (s Severity) rank() int {
	switch s {
	case SeverityFatal:
		return 0
	case SeverityError:
		return 1
	case SeverityWarning:
		return 2
	default:
		return 3
	}
}

// DiagnosticKind classifies the condition a diagnostic reports.
type DiagnosticKind string

const (
	// KindParseFailure is a document that could not be parsed.
	KindParseFailure DiagnosticKind = "parse-failure"
	// KindUnresolvedReference is a type reference with no matching definition.
	KindUnresolvedReference DiagnosticKind = "unresolved-reference"
	// KindUnresolvedBinding is a required binding whose value set is unknown.
	KindUnresolvedBinding DiagnosticKind = "unresolved-binding"
	// KindCycle is an inheritance cycle.
	KindCycle DiagnosticKind = "cycle"
	// KindInvalidExpression is an invariant whose expression does not parse.
	KindInvalidExpression DiagnosticKind = "invalid-expression"
	// KindLossyConversion is an element dropped during version conversion.
	KindLossyConversion DiagnosticKind = "lossy-conversion"
	// KindNarrowingFailure is a value that does not fit the target primitive.
	KindNarrowingFailure DiagnosticKind = "narrowing-failure"
	// KindEmissionPlaceholder is a placeholder emitted for an unresolved type.
	KindEmissionPlaceholder DiagnosticKind = "emission-placeholder"
)

// Diagnostic is a structured, non-fatal report produced alongside a
// best-effort result. Loading, resolution, conversion and emission all
// return diagnostics instead of failing on expected conditions.
type Diagnostic struct {
	Severity Severity       `json:"severity"`
	Kind     DiagnosticKind `json:"kind"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Source identifies the definition or document (canonical URL, file name).
	Source string `json:"source,omitempty"`

	// Path is the element path the diagnostic applies to, if any.
	Path string `json:"path,omitempty"`

	// Subject is the missing or offending name (type code, value set URL, ...).
	Subject string `json:"subject,omitempty"`

	// Members lists every participant for multi-party conditions such as cycles.
	Members []string `json:"members,omitempty"`
}

// IsError returns true if this is an error or fatal diagnostic.
func (d Diagnostic) IsError() bool {
	return d.Severity == SeverityError || d.Severity == SeverityFatal
}

// String returns a human-readable representation of the diagnostic.
func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(string(d.Severity))
	b.WriteString(" [")
	b.WriteString(string(d.Kind))
	b.WriteString("] ")
	b.WriteString(d.Message)
	if d.Source != "" {
		b.WriteString(" (")
		b.WriteString(d.Source)
		if d.Path != "" {
			b.WriteString(" at ")
			b.WriteString(d.Path)
		}
		b.WriteString(")")
	}
	return b.String()
}

// DiagnosticBuilder provides a fluent API for building diagnostics.
type DiagnosticBuilder struct {
	d Diagnostic
}

// NewDiagnostic creates a new DiagnosticBuilder.
func NewDiagnostic(severity Severity, kind DiagnosticKind) *DiagnosticBuilder {
	return &DiagnosticBuilder{d: Diagnostic{Severity: severity, Kind: kind}}
}

// Errorf starts an error diagnostic.
func Errorf(kind DiagnosticKind) *DiagnosticBuilder {
	return NewDiagnostic(SeverityError, kind)
}

// Warning starts a warning diagnostic.
func Warning(kind DiagnosticKind) *DiagnosticBuilder {
	return NewDiagnostic(SeverityWarning, kind)
}

// Fatal starts a fatal diagnostic.
func Fatal(kind DiagnosticKind) *DiagnosticBuilder {
	return NewDiagnostic(SeverityFatal, kind)
}

// Message sets the message.
func (b *DiagnosticBuilder) Message(msg string) *DiagnosticBuilder {
	b.d.Message = msg
	return b
}

// Source sets the source definition or document.
func (b *DiagnosticBuilder) Source(src string) *DiagnosticBuilder {
	b.d.Source = src
	return b
}

// At sets the element path.
func (b *DiagnosticBuilder) At(path string) *DiagnosticBuilder {
	b.d.Path = path
	return b
}

// Subject sets the offending name.
func (b *DiagnosticBuilder) Subject(s string) *DiagnosticBuilder {
	b.d.Subject = s
	return b
}

// Members sets the participants.
func (b *DiagnosticBuilder) Members(m ...string) *DiagnosticBuilder {
	b.d.Members = m
	return b
}

// Build returns the constructed diagnostic.
func (b *DiagnosticBuilder) Build() Diagnostic {
	return b.d
}

// Diagnostics is a concurrency-safe collector of diagnostics.
// The zero value is ready to use.
type Diagnostics struct {
	mu    sync.Mutex
	items []Diagnostic
}

// Add appends diagnostics.
func (c *Diagnostics) Add(d ...Diagnostic) {
	if len(d) == 0 {
		return
	}
	c.mu.Lock()
	c.items = append(c.items, d...)
	c.mu.Unlock()
}

// Len returns the number of collected diagnostics.
func (c *Diagnostics) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Items returns a copy of the collected diagnostics in insertion order.
func (c *Diagnostics) Items() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.items))
	copy(out, c.items)
	return out
}

// Sorted returns a copy ordered by source, path, kind, severity and message.
// Parallel producers append in nondeterministic order; callers that report
// diagnostics use this to keep output stable.
func (c *Diagnostics) Sorted() []Diagnostic {
	out := c.Items()
	SortDiagnostics(out)
	return out
}

// SortDiagnostics sorts diagnostics in place into a stable, deterministic order.
func SortDiagnostics(ds []Diagnostic) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Severity != b.Severity {
			return a.Severity.rank() < b.Severity.rank()
		}
		return a.Message < b.Message
	})
}

// Filter returns the diagnostics of the given kind.
func Filter(ds []Diagnostic, kind DiagnosticKind) []Diagnostic {
	var out []Diagnostic
	for _, d := range ds {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// HasErrors reports whether any diagnostic is an error or fatal.
func HasErrors(ds []Diagnostic) bool {
	for _, d := range ds {
		if d.IsError() {
			return true
		}
	}
	return false
}
