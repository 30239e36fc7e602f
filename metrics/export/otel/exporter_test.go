package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/authbridge"
	"github.com/MrEthical07/authbridge/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu        sync.RWMutex
	snapshot  authbridge.MetricsSnapshot
	dropped   uint64
	delivered uint64
}

func (f *fakeSource) MetricsSnapshot() authbridge.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authbridge.MetricsSnapshot{
		Counters:   make(map[authbridge.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authbridge.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func (f *fakeSource) AuditDelivered() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.delivered
}

func (f *fakeSource) AuditFailed() uint64 { return 0 }

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authbridge-test")

	src := &fakeSource{
		snapshot: authbridge.MetricsSnapshot{
			Counters: map[authbridge.MetricID]uint64{
				authbridge.MetricLoginSuccess:      3,
				authbridge.MetricGateDeny:          7,
				authbridge.MetricIntegrityConflict: 2,
			},
			Histograms: map[authbridge.MetricID][]uint64{
				authbridge.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped:   1,
		delivered: 9,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	if got := pointOf(t, rm, "authbridge.gate", "outcome", "deny"); got != 7 {
		t.Fatalf("gate deny = %d, want 7", got)
	}
	if got := pointOf(t, rm, "authbridge.gate", "outcome", "allow"); got != 0 {
		t.Fatalf("gate allow = %d, want 0", got)
	}
	if got := pointOf(t, rm, "authbridge.login", "outcome", "success"); got != 3 {
		t.Fatalf("login success = %d, want 3", got)
	}
	if got := pointOf(t, rm, "authbridge.migration", "outcome", "integrity_conflict"); got != 2 {
		t.Fatalf("integrity conflicts = %d, want 2", got)
	}
	if got := pointOf(t, rm, "authbridge.audit.events", "outcome", "dropped"); got != 1 {
		t.Fatalf("audit dropped = %d, want 1", got)
	}
	if got := pointOf(t, rm, "authbridge.audit.events", "outcome", "delivered"); got != 9 {
		t.Fatalf("audit delivered = %d, want 9", got)
	}
	if got := pointOf(t, rm, "authbridge_validate_latency_seconds_bucket", "le", "inf"); got != 8 {
		t.Fatalf("latency +Inf bucket = %d, want 8", got)
	}
	if got := pointOf(t, rm, "authbridge_validate_latency_seconds_bucket", "le", "0_005"); got != 1 {
		t.Fatalf("latency first bucket = %d, want 1", got)
	}
}

// pointOf returns the data point of name carrying attribute key=value.
func pointOf(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var points []metricdata.DataPoint[int64]
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				points = data.DataPoints
			case metricdata.Gauge[int64]:
				points = data.DataPoints
			default:
				t.Fatalf("%s: unexpected data %T", name, m.Data)
			}
			for _, dp := range points {
				if got, ok := dp.Attributes.Value(attribute.Key(key)); ok && got.AsString() == value {
					return dp.Value
				}
			}
			t.Fatalf("%s: no point with %s=%s", name, key, value)
		}
	}
	t.Fatalf("%s: not collected", name)
	return 0
}

func TestFlowInstrumentsCoverEveryCounterOnce(t *testing.T) {
	seen := map[authbridge.MetricID]int{}
	for _, f := range flowInstruments {
		for _, o := range f.outcomes {
			seen[o.id]++
		}
	}
	for _, def := range internaldefs.CounterDefs {
		if seen[def.ID] != 1 {
			t.Fatalf("%s observed %d times, want 1", def.Name, seen[def.ID])
		}
	}
	if len(seen) != len(internaldefs.CounterDefs) {
		t.Fatalf("flow table has %d counters, defs have %d", len(seen), len(internaldefs.CounterDefs))
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authbridge-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authbridge-test")

	src := &fakeSource{
		snapshot: authbridge.MetricsSnapshot{
			Counters: map[authbridge.MetricID]uint64{
				authbridge.MetricLoginSuccess: 1,
			},
			Histograms: map[authbridge.MetricID][]uint64{
				authbridge.MetricValidateLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authbridge.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
