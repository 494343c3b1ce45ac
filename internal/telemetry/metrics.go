package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PollMetricsMeterName is the meter of the polling pipeline
const PollMetricsMeterName = "github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/poll"

// PollMetrics holds the instruments of the bootstrap and polling pipeline.
// All methods are no-ops on a nil receiver.
type PollMetrics struct {
	fetchTotal     metric.Int64Counter
	tickDuration   metric.Float64Histogram
	skippedTotal   metric.Int64Counter
	updatedTotal   metric.Int64Counter
	bootstrapTotal metric.Int64Counter
	droppedTicks   metric.Int64Counter
}

// NewPollMetrics creates the poll instruments. A nil provider yields nil.
func NewPollMetrics(provider metric.MeterProvider) (*PollMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(PollMetricsMeterName)

	fetchTotal, err := meter.Int64Counter(
		"hcb_fetch_total",
		metric.WithDescription("Stop fetches by segment and result"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	tickDuration, err := meter.Float64Histogram(
		"hcb_tick_duration_seconds",
		metric.WithDescription("Duration of a polling tick in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	skippedTotal, err := meter.Int64Counter(
		"hcb_tick_skipped_total",
		metric.WithDescription("Students skipped by a tick, by reason"),
		metric.WithUnit("{student}"),
	)
	if err != nil {
		return nil, err
	}

	updatedTotal, err := meter.Int64Counter(
		"hcb_students_updated_total",
		metric.WithDescription("Student records changed by a poll"),
		metric.WithUnit("{student}"),
	)
	if err != nil {
		return nil, err
	}

	bootstrapTotal, err := meter.Int64Counter(
		"hcb_bootstrap_total",
		metric.WithDescription("Session bootstraps by result"),
		metric.WithUnit("{bootstrap}"),
	)
	if err != nil {
		return nil, err
	}

	droppedTicks, err := meter.Int64Counter(
		"hcb_tick_dropped_total",
		metric.WithDescription("Ticks dropped because the previous tick was still running"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}

	return &PollMetrics{
		fetchTotal:     fetchTotal,
		tickDuration:   tickDuration,
		skippedTotal:   skippedTotal,
		updatedTotal:   updatedTotal,
		bootstrapTotal: bootstrapTotal,
		droppedTicks:   droppedTicks,
	}, nil
}

// RecordFetch counts one stop fetch for segment
func (m *PollMetrics) RecordFetch(ctx context.Context, segment string, err error) {
	if m == nil {
		return
	}
	m.fetchTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("segment", segment),
		attribute.String("result", result(err == nil)),
	))
}

// RecordBootstrap counts one bootstrap attempt
func (m *PollMetrics) RecordBootstrap(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.bootstrapTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result(ok))))
}

// RecordTick records the duration of a completed tick
func (m *PollMetrics) RecordTick(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Record(ctx, duration.Seconds())
}

// RecordSkip counts a student left alone by a tick
func (m *PollMetrics) RecordSkip(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.skippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordUpdated counts changed records
func (m *PollMetrics) RecordUpdated(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.updatedTotal.Add(ctx, int64(count))
}

// RecordTickDropped counts a tick that found the previous one still running
func (m *PollMetrics) RecordTickDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.droppedTicks.Add(ctx, 1)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
