package otel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/copseworks/forage"
	forageotel "github.com/copseworks/forage/otel"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collecting metrics: %v", err)
	}
	return rm
}

func sumCounter(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestFetchMetrics_RecordFetch(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	metrics, err := forageotel.NewFetchMetrics(meter)
	if err != nil {
		t.Fatalf("NewFetchMetrics: %v", err)
	}

	ctx := context.Background()
	metrics.RecordFetch(ctx, forage.ProviderSpider, 50*time.Millisecond, nil)
	metrics.RecordFetch(ctx, forage.ProviderLlamaParse, 10*time.Millisecond, errors.New("upstream failure"))

	rm := collect(t, reader)
	if got := sumCounter(rm, "forage.fetch.executions"); got != 2 {
		t.Errorf("fetch.executions = %d, want 2", got)
	}
	if got := sumCounter(rm, "forage.fetch.failures"); got != 1 {
		t.Errorf("fetch.failures = %d, want 1", got)
	}
}

func TestFetchMetrics_RecordValidationFailure(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	metrics, err := forageotel.NewFetchMetrics(meter)
	if err != nil {
		t.Fatalf("NewFetchMetrics: %v", err)
	}

	metrics.RecordValidationFailure(context.Background(), forage.ProviderLlamaParse, "num_workers")

	rm := collect(t, reader)
	if got := sumCounter(rm, "forage.validation.failures"); got != 1 {
		t.Errorf("validation.failures = %d, want 1", got)
	}
}

func TestFetchMetrics_NilReceiver(t *testing.T) {
	var metrics *forageotel.FetchMetrics

	// Must not panic.
	metrics.RecordFetch(context.Background(), forage.ProviderSpider, time.Second, nil)
	metrics.RecordValidationFailure(context.Background(), forage.ProviderSpider, "url")
}
