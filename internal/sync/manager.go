package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"go.opentelemetry.io/otel/trace"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/hcb"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/otel"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/schedule"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/session"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/student"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/telemetry"
)

// Decision is the outcome of ShouldPoll
type Decision struct {
	Segment schedule.Segment
	Reason  Reason
}

// Manager runs the per-student polling rules
type Manager interface {
	// ShouldPoll decides whether rec needs a fetch at now
	ShouldPoll(now time.Time, rec *student.Record) Decision

	// Poll fetches seg for rec and returns the merged copy and whether any
	// field changed. rec itself is never modified. On error the returned
	// record is nil.
	Poll(ctx context.Context, sess session.Session, rec *student.Record, seg schedule.Segment) (*student.Record, bool, error)
}

// Option configures the manager
type Option func(*defaultManager)

// WithTracer sets the tracer used for poll spans
func WithTracer(tracer trace.Tracer) Option {
	return func(m *defaultManager) {
		m.tracer = tracer
	}
}

// WithMetrics sets the poll metrics
func WithMetrics(metrics *telemetry.PollMetrics) Option {
	return func(m *defaultManager) {
		m.metrics = metrics
	}
}

type defaultManager struct {
	client  hcb.Client
	tz      *time.Location
	tracer  trace.Tracer
	metrics *telemetry.PollMetrics
}

// NewManager creates a Manager. Dates and clock times are evaluated in tz.
func NewManager(client hcb.Client, tz *time.Location, opts ...Option) Manager {
	m := &defaultManager{client: client, tz: tz}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ShouldPoll implements Manager
func (m *defaultManager) ShouldPoll(now time.Time, rec *student.Record) Decision {
	local := now.In(m.tz)
	clock := civil.TimeOf(local)
	seg := schedule.At(clock)
	d := Decision{Segment: seg}

	state := rec.Segment(seg)
	switch {
	case local.Weekday() == time.Saturday || local.Weekday() == time.Sunday:
		d.Reason = ReasonWeekend
	case seg == schedule.Mid && !rec.HasMidStops:
		d.Reason = ReasonNoMidStops
	case !state.Contains(clock):
		d.Reason = ReasonOutsideWindow
	case rec.DoneFor(seg, civil.DateOf(local)):
		d.Reason = ReasonSegmentDone
	case state.Done():
		d.Reason = ReasonNewServiceDay
	default:
		d.Reason = ReasonAwaitingArrivals
	}
	return d
}

// Poll implements Manager
func (m *defaultManager) Poll(
	ctx context.Context, sess session.Session, rec *student.Record, seg schedule.Segment,
) (next *student.Record, changed bool, err error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "sync.Poll",
		trace.WithAttributes(
			otel.AttrStudentID.String(rec.StudentID),
			otel.AttrSegment.String(seg.String()),
		))
	defer func() {
		otel.RecordError(span, err)
		span.SetAttributes(otel.AttrChanged.Bool(changed))
		span.End()
	}()

	resp, err := m.client.FetchStops(ctx, sess.SchoolID, sess.ParentID, rec.StudentID, hcb.TokenFor(seg))
	m.metrics.RecordFetch(ctx, seg.String(), err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch %s stops: %w", seg, err)
	}

	u, err := student.Normalize(seg, resp)
	if err != nil {
		return nil, false, fmt.Errorf("invalid %s stops: %w", seg, err)
	}
	if !u.HasStops() {
		return nil, false, fmt.Errorf("%s: %w", seg, student.ErrNoStops)
	}

	next = rec.Clone()
	next.Apply(u, m.tz)
	changed = !next.Equal(rec)

	slog.DebugContext(ctx, "Student polled",
		"student", rec.StudentID,
		"segment", seg.String(),
		"changed", changed)
	return next, changed, nil
}
