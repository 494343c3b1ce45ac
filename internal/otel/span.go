// Package otel provides OpenTelemetry helpers shared by the polling packages.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys used on spans.
const (
	AttrStudentID    = attribute.Key("student.id")
	AttrSegment      = attribute.Key("segment")
	AttrSchoolID     = attribute.Key("school.id")
	AttrStudentCount = attribute.Key("student.count")
	AttrTickID       = attribute.Key("tick.id")
	AttrChanged      = attribute.Key("result.changed")
)

// StartSpan starts a span on tracer. A nil tracer yields a no-op span and
// leaves ctx untouched, so ending it never ends a parent span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError marks span as failed. The status description stays generic
// since service errors may echo credentials; the error itself is kept as a
// span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
