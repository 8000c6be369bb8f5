package kindling

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks engine counters using lock-free atomic operations.
// All methods are safe for concurrent use.
type Metrics struct {
	// Load counts
	definitionsLoaded  atomic.Uint64
	definitionsSkipped atomic.Uint64

	// Conversion counts
	conversionsTotal  atomic.Uint64
	conversionsLossy  atomic.Uint64
	conversionsFailed atomic.Uint64
	hopsTotal         atomic.Uint64
	notesTotal        atomic.Uint64

	// Validation counts
	validationsTotal atomic.Uint64
	validationsClean atomic.Uint64

	// Timing (stored as nanoseconds)
	validationTimeTotal atomic.Uint64
	validationTimeMin   atomic.Uint64
	validationTimeMax   atomic.Uint64

	// Terminology and expression cache lookups
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	// Issue counts by severity
	fatalsTotal   atomic.Uint64
	errorsTotal   atomic.Uint64
	warningsTotal atomic.Uint64
	infosTotal    atomic.Uint64

	// Per-stage timing
	stageTiming sync.Map // map[string]*stageMetrics
}

type stageMetrics struct {
	invocations atomic.Uint64
	totalTime   atomic.Uint64 // nanoseconds
	issuesFound atomic.Uint64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	// first value becomes the minimum
	m.validationTimeMin.Store(^uint64(0))
	return m
}

// --- Recording Methods ---

// RecordLoad records a source that was parsed into the registry (loaded)
// or rejected (skipped).
func (m *Metrics) RecordLoad(loaded bool) {
	if loaded {
		m.definitionsLoaded.Add(1)
		return
	}
	m.definitionsSkipped.Add(1)
}

// RecordConversion records a finished conversion attempt.
func (m *Metrics) RecordConversion(hops, notes int, lossy, failed bool) {
	m.conversionsTotal.Add(1)
	if failed {
		m.conversionsFailed.Add(1)
		return
	}
	if lossy {
		m.conversionsLossy.Add(1)
	}
	m.hopsTotal.Add(uint64(hops))   //nolint:gosec // small positive count
	m.notesTotal.Add(uint64(notes)) //nolint:gosec // small positive count
}

// RecordValidation records a completed validation.
func (m *Metrics) RecordValidation(duration time.Duration, clean bool) {
	m.validationsTotal.Add(1)
	if clean {
		m.validationsClean.Add(1)
	}

	ns := uint64(duration.Nanoseconds()) //nolint:gosec // durations are positive
	m.validationTimeTotal.Add(ns)

	for {
		old := m.validationTimeMin.Load()
		if ns >= old {
			break
		}
		if m.validationTimeMin.CompareAndSwap(old, ns) {
			break
		}
	}

	for {
		old := m.validationTimeMax.Load()
		if ns <= old {
			break
		}
		if m.validationTimeMax.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordIssue records an issue based on severity.
func (m *Metrics) RecordIssue(severity IssueSeverity) {
	switch severity {
	case SeverityFatal:
		m.fatalsTotal.Add(1)
	case SeverityError:
		m.errorsTotal.Add(1)
	case SeverityWarning:
		m.warningsTotal.Add(1)
	case SeverityInformation:
		m.infosTotal.Add(1)
	}
}

// RecordIssues records every issue in the slice.
func (m *Metrics) RecordIssues(issues []Issue) {
	for _, is := range issues {
		m.RecordIssue(is.Severity)
	}
}

// RecordStage records metrics for a pipeline stage.
func (m *Metrics) RecordStage(name string, duration time.Duration, issuesFound int) {
	sm := m.getOrCreateStage(name)
	sm.invocations.Add(1)
	sm.totalTime.Add(uint64(duration.Nanoseconds())) //nolint:gosec // durations are positive
	sm.issuesFound.Add(uint64(issuesFound))          //nolint:gosec // small positive count
}

func (m *Metrics) getOrCreateStage(name string) *stageMetrics {
	if v, ok := m.stageTiming.Load(name); ok {
		return v.(*stageMetrics)
	}
	actual, _ := m.stageTiming.LoadOrStore(name, &stageMetrics{})
	return actual.(*stageMetrics)
}

// --- Query Methods ---

// DefinitionsLoaded returns the number of definitions added to the registry.
func (m *Metrics) DefinitionsLoaded() uint64 {
	return m.definitionsLoaded.Load()
}

// DefinitionsSkipped returns the number of rejected sources.
func (m *Metrics) DefinitionsSkipped() uint64 {
	return m.definitionsSkipped.Load()
}

// ConversionsTotal returns the number of conversion attempts.
func (m *Metrics) ConversionsTotal() uint64 {
	return m.conversionsTotal.Load()
}

// ConversionsLossy returns the number of successful lossy conversions.
func (m *Metrics) ConversionsLossy() uint64 {
	return m.conversionsLossy.Load()
}

// ConversionsFailed returns the number of failed conversions.
func (m *Metrics) ConversionsFailed() uint64 {
	return m.conversionsFailed.Load()
}

// ValidationsTotal returns the total number of validations performed.
func (m *Metrics) ValidationsTotal() uint64 {
	return m.validationsTotal.Load()
}

// ValidationsClean returns the number of validations without errors.
func (m *Metrics) ValidationsClean() uint64 {
	return m.validationsClean.Load()
}

// AverageValidationTime returns the average validation duration.
func (m *Metrics) AverageValidationTime() time.Duration {
	total := m.validationsTotal.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.validationTimeTotal.Load() / total) //nolint:gosec // within int64 range
}

// MinValidationTime returns the minimum validation duration.
func (m *Metrics) MinValidationTime() time.Duration {
	minVal := m.validationTimeMin.Load()
	if minVal == ^uint64(0) {
		return 0
	}
	return time.Duration(minVal) //nolint:gosec // within int64 range
}

// MaxValidationTime returns the maximum validation duration.
func (m *Metrics) MaxValidationTime() time.Duration {
	return time.Duration(m.validationTimeMax.Load()) //nolint:gosec // within int64 range
}

// CacheHitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) CacheHitRate() float64 {
	hits := m.cacheHits.Load()
	total := hits + m.cacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// ErrorsTotal returns the number of error and fatal issues.
func (m *Metrics) ErrorsTotal() uint64 {
	return m.errorsTotal.Load() + m.fatalsTotal.Load()
}

// WarningsTotal returns the number of warnings.
func (m *Metrics) WarningsTotal() uint64 {
	return m.warningsTotal.Load()
}

// StageStats holds the statistics of one pipeline stage.
type StageStats struct {
	Name        string        `json:"name"`
	Invocations uint64        `json:"invocations"`
	TotalTime   time.Duration `json:"total_time"`
	AvgTime     time.Duration `json:"avg_time"`
	IssuesFound uint64        `json:"issues_found"`
}

func (sm *stageMetrics) stats(name string) StageStats {
	invocations := sm.invocations.Load()
	totalTime := sm.totalTime.Load()
	var avg time.Duration
	if invocations > 0 {
		avg = time.Duration(totalTime / invocations) //nolint:gosec // within int64 range
	}
	return StageStats{
		Name:        name,
		Invocations: invocations,
		TotalTime:   time.Duration(totalTime), //nolint:gosec // within int64 range
		AvgTime:     avg,
		IssuesFound: sm.issuesFound.Load(),
	}
}

// StageStats returns statistics for a specific stage.
func (m *Metrics) StageStats(name string) (StageStats, bool) {
	v, ok := m.stageTiming.Load(name)
	if !ok {
		return StageStats{Name: name}, false
	}
	return v.(*stageMetrics).stats(name), true
}

// AllStageStats returns statistics for all stages, ordered by name.
func (m *Metrics) AllStageStats() []StageStats {
	var stats []StageStats
	m.stageTiming.Range(func(key, value any) bool {
		stats = append(stats, value.(*stageMetrics).stats(key.(string)))
		return true
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// --- Export Methods ---

// Snapshot represents a point-in-time snapshot of all metrics.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	DefinitionsLoaded  uint64 `json:"definitions_loaded"`
	DefinitionsSkipped uint64 `json:"definitions_skipped"`

	ConversionsTotal  uint64 `json:"conversions_total"`
	ConversionsLossy  uint64 `json:"conversions_lossy"`
	ConversionsFailed uint64 `json:"conversions_failed"`
	HopsTotal         uint64 `json:"hops_total"`
	NotesTotal        uint64 `json:"notes_total"`

	ValidationsTotal    uint64 `json:"validations_total"`
	ValidationsClean    uint64 `json:"validations_clean"`
	AvgValidationTimeNs uint64 `json:"avg_validation_time_ns"`
	MinValidationTimeNs uint64 `json:"min_validation_time_ns"`
	MaxValidationTimeNs uint64 `json:"max_validation_time_ns"`

	CacheHits    uint64  `json:"cache_hits"`
	CacheMisses  uint64  `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	FatalsTotal   uint64 `json:"fatals_total"`
	ErrorsTotal   uint64 `json:"errors_total"`
	WarningsTotal uint64 `json:"warnings_total"`
	InfosTotal    uint64 `json:"infos_total"`

	Stages []StageStats `json:"stages,omitempty"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	total := m.validationsTotal.Load()
	var avg uint64
	if total > 0 {
		avg = m.validationTimeTotal.Load() / total
	}
	minTime := m.validationTimeMin.Load()
	if minTime == ^uint64(0) {
		minTime = 0
	}

	return Snapshot{
		Timestamp:           time.Now(),
		DefinitionsLoaded:   m.definitionsLoaded.Load(),
		DefinitionsSkipped:  m.definitionsSkipped.Load(),
		ConversionsTotal:    m.conversionsTotal.Load(),
		ConversionsLossy:    m.conversionsLossy.Load(),
		ConversionsFailed:   m.conversionsFailed.Load(),
		HopsTotal:           m.hopsTotal.Load(),
		NotesTotal:          m.notesTotal.Load(),
		ValidationsTotal:    total,
		ValidationsClean:    m.validationsClean.Load(),
		AvgValidationTimeNs: avg,
		MinValidationTimeNs: minTime,
		MaxValidationTimeNs: m.validationTimeMax.Load(),
		CacheHits:           m.cacheHits.Load(),
		CacheMisses:         m.cacheMisses.Load(),
		CacheHitRate:        m.CacheHitRate(),
		FatalsTotal:         m.fatalsTotal.Load(),
		ErrorsTotal:         m.errorsTotal.Load(),
		WarningsTotal:       m.warningsTotal.Load(),
		InfosTotal:          m.infosTotal.Load(),
		Stages:              m.AllStageStats(),
	}
}

type metricsKey struct{}

// ContextWithMetrics returns a copy of ctx carrying m. The terminology and
// expression caches record their hits and misses in the metrics carried by
// the context they are consulted under.
func ContextWithMetrics(ctx context.Context, m *Metrics) context.Context {
	return context.WithValue(ctx, metricsKey{}, m)
}

// MetricsFromContext returns the metrics carried by ctx, or nil.
func MetricsFromContext(ctx context.Context) *Metrics {
	m, _ := ctx.Value(metricsKey{}).(*Metrics)
	return m
}
