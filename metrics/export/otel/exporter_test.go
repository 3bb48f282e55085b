package otel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	goVerify "github.com/MrEthical07/goVerify"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// fakeSource swaps whole snapshots so collection never sees a map being written.
type fakeSource struct {
	snap    atomic.Pointer[goVerify.MetricsSnapshot]
	dropped atomic.Uint64
}

func newFakeSource(counters map[goVerify.MetricID]uint64, hist []uint64, dropped uint64) *fakeSource {
	src := &fakeSource{}
	src.set(counters, hist)
	src.dropped.Store(dropped)
	return src
}

func (f *fakeSource) set(counters map[goVerify.MetricID]uint64, hist []uint64) {
	snap := goVerify.MetricsSnapshot{Counters: counters, Histograms: map[goVerify.MetricID][]uint64{}}
	if hist != nil {
		snap.Histograms[goVerify.MetricAuthorizeLatency] = hist
	}
	f.snap.Store(&snap)
}

func (f *fakeSource) MetricsSnapshot() goVerify.MetricsSnapshot {
	if s := f.snap.Load(); s != nil {
		return *s
	}
	return goVerify.MetricsSnapshot{}
}

func (f *fakeSource) AuditDropped() uint64 { return f.dropped.Load() }

func newTestMeter(t *testing.T) (metric.Meter, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return provider.Meter("goverify-test"), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func pointFor(t *testing.T, agg metricdata.Aggregation, key, value string) int64 {
	t.Helper()
	var points []metricdata.DataPoint[int64]
	switch data := agg.(type) {
	case metricdata.Sum[int64]:
		points = data.DataPoints
	case metricdata.Gauge[int64]:
		points = data.DataPoints
	default:
		t.Fatalf("unexpected aggregation %T", agg)
	}
	for _, dp := range points {
		v, ok := dp.Attributes.Value(attribute.Key(key))
		if ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("no data point with %s=%s", key, value)
	return 0
}

func startExporter(t *testing.T, meter metric.Meter, src metricsSource) {
	t.Helper()
	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	t.Cleanup(func() {
		if err := exp.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
}

func TestExporterCollectsLabeledFamilies(t *testing.T) {
	meter, reader := newTestMeter(t)
	startExporter(t, meter, newFakeSource(map[goVerify.MetricID]uint64{
		goVerify.MetricLoginOTPIssued:       3,
		goVerify.MetricSecondFactorVerified: 2,
		goVerify.MetricAuthorizeFailure:     5,
		goVerify.MetricSessionCreated:       4,
	}, []uint64{1, 1, 1, 1, 1, 1, 1, 1}, 1))

	got := collect(t, reader)
	checks := []struct {
		metric, key, value string
		want               int64
	}{
		{"goverify_tokens_issued_total", "purpose", "login_otp", 3},
		{"goverify_tokens_issued_total", "purpose", "email_ownership", 0},
		{"goverify_tokens_verified_total", "purpose", "second_factor", 2},
		{"goverify_authorize_total", "result", "failure", 5},
		{"goverify_authorize_duration_seconds_bucket", "le", "0.025", 3},
		{"goverify_authorize_duration_seconds_bucket", "le", "+Inf", 8},
		{"goverify_audit_events_total", "outcome", "dropped", 1},
	}
	for _, c := range checks {
		if v := pointFor(t, got[c.metric], c.key, c.value); v != c.want {
			t.Fatalf("%s{%s=%q} = %d, want %d", c.metric, c.key, c.value, v, c.want)
		}
	}

	sessions, ok := got["goverify_sessions_created_total"].(metricdata.Sum[int64])
	if !ok || len(sessions.DataPoints) != 1 || sessions.DataPoints[0].Value != 4 {
		t.Fatalf("unexpected sessions data %+v", got["goverify_sessions_created_total"])
	}
}

func TestExporterSkipsHistogramWhenDisabled(t *testing.T) {
	meter, reader := newTestMeter(t)
	startExporter(t, meter, newFakeSource(map[goVerify.MetricID]uint64{}, nil, 0))

	if agg, ok := collect(t, reader)["goverify_authorize_duration_seconds_bucket"]; ok {
		if g, _ := agg.(metricdata.Gauge[int64]); len(g.DataPoints) != 0 {
			t.Fatalf("expected no bucket points, got %+v", g.DataPoints)
		}
	}
}

func TestExporterRejectsNilMeter(t *testing.T) {
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	meter, _ := newTestMeter(t)
	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	meter, reader := newTestMeter(t)
	src := newFakeSource(map[goVerify.MetricID]uint64{goVerify.MetricLoginOTPIssued: 1}, []uint64{1}, 0)
	startExporter(t, meter, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.set(map[goVerify.MetricID]uint64{goVerify.MetricLoginOTPIssued: v}, []uint64{v})
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
