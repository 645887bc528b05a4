package fhircodegen

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks pipeline counters using lock-free atomic operations.
// All methods are safe for concurrent use and on a nil receiver, so
// components can record unconditionally.
type Metrics struct {
	// Loading
	documentsParsed atomic.Uint64
	parseFailures   atomic.Uint64
	definitions     atomic.Uint64
	overrides       atomic.Uint64

	// Package cache
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	// Emission
	filesEmitted atomic.Uint64

	// Diagnostics by severity
	errorsTotal   atomic.Uint64
	warningsTotal atomic.Uint64
	infosTotal    atomic.Uint64

	// Per-stage timing (load, resolve, emit:<name>, ...)
	stageTiming sync.Map // map[string]*stageMetrics
}

type stageMetrics struct {
	invocations atomic.Uint64
	totalTime   atomic.Uint64 // nanoseconds
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// --- Recording Methods ---

// RecordDocument records a parsed document, successful or not.
func (m *Metrics) RecordDocument(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.documentsParsed.Add(1)
	} else {
		m.parseFailures.Add(1)
	}
}

// RecordDefinition records a definition inserted into a collection.
func (m *Metrics) RecordDefinition(replaced bool) {
	if m == nil {
		return
	}
	m.definitions.Add(1)
	if replaced {
		m.overrides.Add(1)
	}
}

// RecordCacheHit records a package cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Add(1)
}

// RecordCacheMiss records a package cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Add(1)
}

// RecordFile records an emitted artifact.
func (m *Metrics) RecordFile() {
	if m == nil {
		return
	}
	m.filesEmitted.Add(1)
}

// RecordDiagnostics counts diagnostics by severity.
func (m *Metrics) RecordDiagnostics(ds []Diagnostic) {
	if m == nil {
		return
	}
	for _, d := range ds {
		switch d.Severity {
		case SeverityError, SeverityFatal:
			m.errorsTotal.Add(1)
		case SeverityWarning:
			m.warningsTotal.Add(1)
		default:
			m.infosTotal.Add(1)
		}
	}
}

// RecordStage records the duration of one pipeline stage invocation.
func (m *Metrics) RecordStage(name string, duration time.Duration) {
	if m == nil {
		return
	}
	sm := m.getOrCreateStage(name)
	sm.invocations.Add(1)
	sm.totalTime.Add(uint64(duration.Nanoseconds())) //nolint:gosec // Safe: durations are positive
}

func (m *Metrics) getOrCreateStage(name string) *stageMetrics {
	if v, ok := m.stageTiming.Load(name); ok {
		return v.(*stageMetrics)
	}
	actual, _ := m.stageTiming.LoadOrStore(name, &stageMetrics{})
	return actual.(*stageMetrics)
}

// --- Query Methods ---

// StageStats holds timing statistics for one stage.
type StageStats struct {
	Name        string        `json:"name"`
	Invocations uint64        `json:"invocations"`
	TotalTime   time.Duration `json:"total_time"`
	AvgTime     time.Duration `json:"avg_time"`
}

// StageStats returns statistics for a specific stage.
func (m *Metrics) StageStats(name string) (StageStats, bool) {
	v, ok := m.stageTiming.Load(name)
	if !ok {
		return StageStats{Name: name}, false
	}
	return stageStats(name, v.(*stageMetrics)), true
}

func stageStats(name string, sm *stageMetrics) StageStats {
	invocations := sm.invocations.Load()
	total := sm.totalTime.Load()
	var avg time.Duration
	if invocations > 0 {
		avg = time.Duration(total / invocations) //nolint:gosec // Safe: nanoseconds within int64 range
	}
	return StageStats{
		Name:        name,
		Invocations: invocations,
		TotalTime:   time.Duration(total), //nolint:gosec // Safe: nanoseconds within int64 range
		AvgTime:     avg,
	}
}

// CacheHitRate returns the package cache hit rate (0.0 to 1.0).
func (m *Metrics) CacheHitRate() float64 {
	hits := m.cacheHits.Load()
	total := hits + m.cacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Snapshot represents a point-in-time snapshot of all metrics.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	DocumentsParsed uint64 `json:"documents_parsed"`
	ParseFailures   uint64 `json:"parse_failures"`
	Definitions     uint64 `json:"definitions"`
	Overrides       uint64 `json:"overrides"`

	CacheHits    uint64  `json:"cache_hits"`
	CacheMisses  uint64  `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	FilesEmitted uint64 `json:"files_emitted"`

	ErrorsTotal   uint64 `json:"errors_total"`
	WarningsTotal uint64 `json:"warnings_total"`
	InfosTotal    uint64 `json:"infos_total"`

	Stages []StageStats `json:"stages,omitempty"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
// Stages are sorted by name.
func (m *Metrics) Snapshot() Snapshot {
	var stages []StageStats
	m.stageTiming.Range(func(key, value any) bool {
		stages = append(stages, stageStats(key.(string), value.(*stageMetrics)))
		return true
	})
	sort.Slice(stages, func(i, j int) bool { return stages[i].Name < stages[j].Name })

	return Snapshot{
		Timestamp:       time.Now(),
		DocumentsParsed: m.documentsParsed.Load(),
		ParseFailures:   m.parseFailures.Load(),
		Definitions:     m.definitions.Load(),
		Overrides:       m.overrides.Load(),
		CacheHits:       m.cacheHits.Load(),
		CacheMisses:     m.cacheMisses.Load(),
		CacheHitRate:    m.CacheHitRate(),
		FilesEmitted:    m.filesEmitted.Load(),
		ErrorsTotal:     m.errorsTotal.Load(),
		WarningsTotal:   m.warningsTotal.Load(),
		InfosTotal:      m.infosTotal.Load(),
		Stages:          stages,
	}
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.documentsParsed.Store(0)
	m.parseFailures.Store(0)
	m.definitions.Store(0)
	m.overrides.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.filesEmitted.Store(0)
	m.errorsTotal.Store(0)
	m.warningsTotal.Store(0)
	m.infosTotal.Store(0)

	m.stageTiming.Range(func(key, _ any) bool {
		m.stageTiming.Delete(key)
		return true
	})
}
