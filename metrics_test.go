package kindling

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetrics_Basic(t *testing.T) {
	m := NewMetrics()

	if m.ValidationsTotal() != 0 {
		t.Errorf("ValidationsTotal() = %d; want 0", m.ValidationsTotal())
	}

	m.RecordValidation(100*time.Millisecond, true)
	m.RecordValidation(100*time.Millisecond, false)

	if m.ValidationsTotal() != 2 {
		t.Errorf("ValidationsTotal() = %d; want 2", m.ValidationsTotal())
	}
	if m.ValidationsClean() != 1 {
		t.Errorf("ValidationsClean() = %d; want 1", m.ValidationsClean())
	}
}

func TestMetrics_ValidationTime(t *testing.T) {
	m := NewMetrics()

	if avg := m.AverageValidationTime(); avg != 0 {
		t.Errorf("AverageValidationTime() = %v; want 0", avg)
	}
	if minTime := m.MinValidationTime(); minTime != 0 {
		t.Errorf("MinValidationTime() = %v; want 0", minTime)
	}

	m.RecordValidation(100*time.Millisecond, true)
	m.RecordValidation(300*time.Millisecond, true)

	if avg := m.AverageValidationTime(); avg != 200*time.Millisecond {
		t.Errorf("AverageValidationTime() = %v; want 200ms", avg)
	}
	if minTime := m.MinValidationTime(); minTime != 100*time.Millisecond {
		t.Errorf("MinValidationTime() = %v; want 100ms", minTime)
	}
	if maxTime := m.MaxValidationTime(); maxTime != 300*time.Millisecond {
		t.Errorf("MaxValidationTime() = %v; want 300ms", maxTime)
	}
}

func TestMetrics_Conversions(t *testing.T) {
	m := NewMetrics()

	m.RecordConversion(2, 3, true, false)
	m.RecordConversion(1, 0, false, false)
	m.RecordConversion(0, 0, false, true)

	if m.ConversionsTotal() != 3 {
		t.Errorf("ConversionsTotal() = %d; want 3", m.ConversionsTotal())
	}
	if m.ConversionsLossy() != 1 {
		t.Errorf("ConversionsLossy() = %d; want 1", m.ConversionsLossy())
	}
	if m.ConversionsFailed() != 1 {
		t.Errorf("ConversionsFailed() = %d; want 1", m.ConversionsFailed())
	}
	s := m.Snapshot()
	if s.HopsTotal != 3 || s.NotesTotal != 3 {
		t.Errorf("HopsTotal = %d, NotesTotal = %d; want 3, 3", s.HopsTotal, s.NotesTotal)
	}
}

func TestMetrics_Issues(t *testing.T) {
	m := NewMetrics()

	m.RecordIssues([]Issue{
		{Severity: SeverityFatal},
		{Severity: SeverityError},
		{Severity: SeverityWarning},
		{Severity: SeverityInformation},
	})

	if m.ErrorsTotal() != 2 {
		t.Errorf("ErrorsTotal() = %d; want 2", m.ErrorsTotal())
	}
	if m.WarningsTotal() != 1 {
		t.Errorf("WarningsTotal() = %d; want 1", m.WarningsTotal())
	}
}

func TestMetrics_CacheHitRate(t *testing.T) {
	m := NewMetrics()
	if r := m.CacheHitRate(); r != 0 {
		t.Errorf("CacheHitRate() = %f; want 0", r)
	}
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	if r := m.CacheHitRate(); r != 0.75 {
		t.Errorf("CacheHitRate() = %f; want 0.75", r)
	}
}

func TestMetrics_Stages(t *testing.T) {
	m := NewMetrics()

	m.RecordStage("validate", 10*time.Millisecond, 2)
	m.RecordStage("validate", 30*time.Millisecond, 1)
	m.RecordStage("convert", 5*time.Millisecond, 0)

	st, ok := m.StageStats("validate")
	if !ok {
		t.Fatal("StageStats(validate) not found")
	}
	if st.Invocations != 2 || st.IssuesFound != 3 || st.AvgTime != 20*time.Millisecond {
		t.Errorf("StageStats(validate) = %+v", st)
	}

	if _, ok := m.StageStats("missing"); ok {
		t.Error("StageStats(missing) should not be found")
	}

	all := m.AllStageStats()
	if len(all) != 2 || all[0].Name != "convert" || all[1].Name != "validate" {
		t.Errorf("AllStageStats() = %+v; want convert, validate", all)
	}
}

func TestMetrics_Concurrent(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordValidation(time.Microsecond, true)
				m.RecordStage("validate", time.Microsecond, 1)
			}
		}()
	}
	wg.Wait()

	if m.ValidationsTotal() != 5000 {
		t.Errorf("ValidationsTotal() = %d; want 5000", m.ValidationsTotal())
	}
	st, _ := m.StageStats("validate")
	if st.Invocations != 5000 {
		t.Errorf("Invocations = %d; want 5000", st.Invocations)
	}
}

func TestMetricsFromContext(t *testing.T) {
	if m := MetricsFromContext(context.Background()); m != nil {
		t.Errorf("MetricsFromContext(background) = %p; want nil", m)
	}
	m := NewMetrics()
	ctx := ContextWithMetrics(context.Background(), m)
	if got := MetricsFromContext(ctx); got != m {
		t.Errorf("MetricsFromContext() = %p; want %p", got, m)
	}
}
