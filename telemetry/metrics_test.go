package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestCounterAndHistogramEmit(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(previous) })

	Counter("requests.total", "outcome", "success")
	Counter("requests.total", "outcome", "success")
	Histogram("request.duration_ms", 12.5, "outcome", "success")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	found := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			found[m.Name] = true
			if m.Name == "requests.total" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
					t.Errorf("requests.total data = %+v, want a single point of 2", m.Data)
				}
			}
		}
	}
	if !found["requests.total"] || !found["request.duration_ms"] {
		t.Errorf("collected = %v, want both instruments", found)
	}
}
