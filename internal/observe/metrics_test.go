package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics builds a Metrics instance backed by a manual reader so tests
// can collect recorded data points.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesAllInstruments(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m.TurnDuration == nil || m.VersionConflicts == nil || m.DeadLetters == nil ||
		m.CacheRequests == nil || m.DLQSize == nil || m.MemoriesSaved == nil {
		t.Fatal("expected all instruments to be initialised")
	}
}

func TestRecordCache_HitAndMiss(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCache(ctx, "partner_persona", true)
	m.RecordCache(ctx, "partner_persona", false)
	m.RecordCache(ctx, "personality_profile", true)

	rm := collect(t, reader)
	metric := findMetric(rm, "solace.cache.requests")
	if metric == nil {
		t.Fatal("solace.cache.requests not recorded")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", metric.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Fatalf("total cache requests = %d, want 3", total)
	}
}

func TestRecordDeadLetter_IncrementsCounterAndGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDeadLetter(ctx, "stm")
	m.RecordDeadLetter(ctx, "stm")

	rm := collect(t, reader)
	if findMetric(rm, "solace.actor.dead_letters") == nil {
		t.Fatal("dead_letters not recorded")
	}
	gauge := findMetric(rm, "solace.actor.dlq_size")
	if gauge == nil {
		t.Fatal("dlq_size not recorded")
	}
	sum, ok := gauge.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatalf("unexpected dlq_size data %T", gauge.Data)
	}
	if sum.DataPoints[0].Value != 2 {
		t.Fatalf("dlq_size = %d, want 2", sum.DataPoints[0].Value)
	}
}

func TestRecordHelpers_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	// Must not panic on a nil receiver or uninitialised instruments.
	m.RecordCache(ctx, "x", true)
	m.RecordDeadLetter(ctx, "x")
	m.RecordVersionConflict(ctx)

	empty := &Metrics{}
	empty.RecordCache(ctx, "x", false)
	empty.RecordDeadLetter(ctx, "x")
	empty.RecordVersionConflict(ctx)
}

func TestMiddleware_RecordsDurationAndStatus(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rec.Code)
	}
	rm := collect(t, reader)
	if findMetric(rm, "solace.http.duration") == nil {
		t.Fatal("http duration not recorded")
	}
}
