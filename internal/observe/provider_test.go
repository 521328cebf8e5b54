package observe

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

// restoreGlobals puts the global OTel providers back after a test that calls
// InitProvider.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp, prop := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestInitProvider_ExportsToRegistry(t *testing.T) {
	restoreGlobals(t)

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		DeviceID:       "crate-1",
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordSession(context.Background(), "recorded")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawTarget, sawSessions bool
	for _, f := range families {
		switch f.GetName() {
		case "target_info":
			for _, l := range f.GetMetric()[0].GetLabel() {
				if l.GetName() == "cratequiet_device_id" && l.GetValue() == "crate-1" {
					sawTarget = true
				}
			}
		default:
			if len(f.GetMetric()) > 0 && f.GetMetric()[0].GetCounter() != nil && f.GetMetric()[0].GetCounter().GetValue() == 1 {
				sawSessions = true
			}
		}
	}
	if !sawTarget {
		t.Error("target_info without cratequiet_device_id=crate-1")
	}
	if !sawSessions {
		t.Error("session counter not exported")
	}
}

func TestInitProvider_SamplesEverySpanByDefault(t *testing.T) {
	restoreGlobals(t)

	shutdown, err := InitProvider(context.Background(), ProviderConfig{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer shutdown(context.Background())

	_, span := StartSpan(context.Background(), "probe")
	defer span.End()
	if !span.SpanContext().IsSampled() {
		t.Error("span not sampled with default ratio")
	}
}

func TestInitProvider_RejectsBadRatio(t *testing.T) {
	for _, r := range []float64{-0.1, 1.5} {
		if _, err := InitProvider(context.Background(), ProviderConfig{TraceSampleRatio: r}); err == nil {
			t.Errorf("ratio %g: expected error", r)
		}
	}
}
