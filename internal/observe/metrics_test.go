package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

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
		t.Fatalf("Collect: %v", err)
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

// sumFor returns the value of the data point of an int64 sum whose
// attributes contain key=value, or the first point when key is empty.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordFrameSent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameSent(ctx, 2048)
	m.RecordFrameSent(ctx, 682)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxstream.frames.sent", "", ""); got != 2 {
		t.Errorf("frames sent = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voxstream.bytes.sent", "", ""); got != 2730 {
		t.Errorf("bytes sent = %d, want 2730", got)
	}
}

func TestRecordFrameDropped_ByReason(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameDropped(ctx, "not_streaming")
	m.RecordFrameDropped(ctx, "not_streaming")
	m.RecordFrameDropped(ctx, "not_writable")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxstream.frames.dropped", "reason", "not_streaming"); got != 2 {
		t.Errorf("not_streaming = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voxstream.frames.dropped", "reason", "not_writable"); got != 1 {
		t.Errorf("not_writable = %d, want 1", got)
	}
}

func TestRecordTransitionAndTokenRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "streaming")
	m.RecordTokenRequest(ctx, "init", "ok")
	m.RecordTokenRequest(ctx, "refresh", "error")
	m.RecordTokenRequest(ctx, "refresh", "error")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxstream.session.transitions", "state", "streaming"); got != 1 {
		t.Errorf("transitions = %d, want 1", got)
	}
	if got := sumFor(t, rm, "voxstream.token.requests", "kind", "refresh"); got != 2 {
		t.Errorf("refresh requests = %d, want 2", got)
	}
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.BlockDuration.Record(ctx, 0.00004)
	m.BlockDuration.Record(ctx, 0.0002)
	m.ConnectDuration.Record(ctx, 0.3)
	m.HTTPRequestDuration.Record(ctx, 0.001)

	rm := collect(t, reader)
	for name, want := range map[string]uint64{
		"voxstream.block.duration":           2,
		"voxstream.session.connect.duration": 1,
		"voxstream.http.request.duration":    1,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) == 0 {
			t.Fatalf("metric %q has no histogram points", name)
		}
		if got := hist.DataPoints[0].Count; got != want {
			t.Errorf("%s count = %d, want %d", name, got, want)
		}
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxstream.active_sessions", "", ""); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
