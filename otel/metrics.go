package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/copseworks/forage"
)

// FetchMetrics records counters and histograms for provider fetches and
// validation failures. A nil *FetchMetrics is safe to use; every method
// becomes a no-op, so the server can run without a meter configured.
type FetchMetrics struct {
	fetches            metric.Int64Counter
	failures           metric.Int64Counter
	duration           metric.Float64Histogram
	validationFailures metric.Int64Counter
}

// NewFetchMetrics creates a FetchMetrics that uses the given meter to
// create its instruments.
func NewFetchMetrics(meter metric.Meter) (*FetchMetrics, error) {
	fetches, err := meter.Int64Counter("forage.fetch.executions",
		metric.WithDescription("Number of provider fetch executions"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("forage.fetch.failures",
		metric.WithDescription("Number of failed provider fetches"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("forage.fetch.duration",
		metric.WithDescription("Duration of provider fetches in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	validationFailures, err := meter.Int64Counter("forage.validation.failures",
		metric.WithDescription("Number of rejected setup or argument payloads"),
	)
	if err != nil {
		return nil, err
	}

	return &FetchMetrics{
		fetches:            fetches,
		failures:           failures,
		duration:           duration,
		validationFailures: validationFailures,
	}, nil
}

// RecordFetch records one fetch execution with its outcome and duration.
func (m *FetchMetrics) RecordFetch(ctx context.Context, provider forage.Provider, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", string(provider)),
	)
	m.fetches.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.failures.Add(ctx, 1, attrs)
	}
}

// RecordValidationFailure records one rejected setup or argument payload.
func (m *FetchMetrics) RecordValidationFailure(ctx context.Context, provider forage.Provider, field string) {
	if m == nil {
		return
	}
	m.validationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("field", field),
	))
}
