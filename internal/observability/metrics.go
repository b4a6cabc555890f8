package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"list-mutator/internal/merr"
)

// MutationMetrics holds the instruments recorded for each mutation.
type MutationMetrics struct {
	mutations metric.Int64Counter
	duration  metric.Float64Histogram
	nested    metric.Int64Histogram
	errors    metric.Int64Counter
}

// InitMutationMetrics creates the mutation instruments on the global
// meter provider.
func InitMutationMetrics() (*MutationMetrics, error) {
	meter := otel.Meter("list-mutator")

	mutations, err := meter.Int64Counter(
		"mutation.operations.total",
		metric.WithDescription("Total number of mutation operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mutation counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"mutation.duration",
		metric.WithDescription("Mutation operation duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mutation duration histogram: %w", err)
	}

	nested, err := meter.Int64Histogram(
		"mutation.nested.operations",
		metric.WithDescription("Number of nested creates triggered by one mutation"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create nested operation histogram: %w", err)
	}

	errors, err := meter.Int64Counter(
		"mutation.errors.total",
		metric.WithDescription("Total number of failed mutation operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mutation error counter: %w", err)
	}

	return &MutationMetrics{
		mutations: mutations,
		duration:  duration,
		nested:    nested,
		errors:    errors,
	}, nil
}

// RecordNested records how many nested creates one mutation triggered.
func (m *MutationMetrics) RecordNested(ctx context.Context, operation, collection string, count int) {
	m.nested.Record(ctx, int64(count), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("collection", collection),
	))
}

// RecordMutation records one completed mutation operation.
func (m *MutationMetrics) RecordMutation(ctx context.Context, operation, collection string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("collection", collection),
	)
	m.mutations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(d.Milliseconds()), attrs)
	if err != nil {
		kind := string(merr.KindOf(err))
		if kind == "" {
			kind = "internal"
		}
		m.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("collection", collection),
			attribute.String("kind", kind),
		))
	}
}
