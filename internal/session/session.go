// Package session resolves the parent account once per process lifetime and
// seeds the student records with a full schedule refresh.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/hcb"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/otel"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/schedule"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/student"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/telemetry"
)

// Credentials identify a parent account.
type Credentials struct {
	SchoolCode string
	Username   string
	Password   string
}

// Session holds the ids resolved at login. It never changes once built.
type Session struct {
	SchoolID string
	ParentID string
}

// Result is the outcome of a successful bootstrap.
type Result struct {
	Session  Session
	Students map[string]*student.Record
}

// EmptyScheduleError is returned when a student has no stops for a segment
// that every student must have.
type EmptyScheduleError struct {
	StudentID string
	Segment   schedule.Segment
}

// Error implements error.
func (e *EmptyScheduleError) Error() string {
	return fmt.Sprintf("student %s has no %s stops", e.StudentID, e.Segment)
}

// Unwrap lets callers match student.ErrNoStops.
func (*EmptyScheduleError) Unwrap() error {
	return student.ErrNoStops
}

// IsFatal reports whether a bootstrap error needs operator action. Fatal
// errors are rejected school codes and credentials; everything else is worth
// retrying.
func IsFatal(err error) bool {
	return hcb.IsSessionError(err)
}

// Bootstrapper builds sessions.
type Bootstrapper interface {
	// Bootstrap resolves the account and seeds every student record.
	Bootstrap(ctx context.Context, creds Credentials) (*Result, error)

	// TestCredentials resolves the account only. It returns false with a nil
	// error when the school code or credentials are rejected.
	TestCredentials(ctx context.Context, creds Credentials) (bool, error)
}

// Option configures the bootstrapper
type Option func(*defaultBootstrapper)

// WithTracer sets the tracer used for bootstrap spans
func WithTracer(tracer trace.Tracer) Option {
	return func(b *defaultBootstrapper) {
		b.tracer = tracer
	}
}

// WithMetrics sets the poll metrics
func WithMetrics(m *telemetry.PollMetrics) Option {
	return func(b *defaultBootstrapper) {
		b.metrics = m
	}
}

type defaultBootstrapper struct {
	client  hcb.Client
	tz      *time.Location
	tracer  trace.Tracer
	metrics *telemetry.PollMetrics
}

// NewBootstrapper creates a Bootstrapper. Log times are interpreted in tz.
func NewBootstrapper(client hcb.Client, tz *time.Location, opts ...Option) Bootstrapper {
	b := &defaultBootstrapper{client: client, tz: tz}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bootstrap implements Bootstrapper
func (b *defaultBootstrapper) Bootstrap(ctx context.Context, creds Credentials) (result *Result, err error) {
	ctx, span := otel.StartSpan(ctx, b.tracer, "session.Bootstrap")
	defer func() {
		otel.RecordError(span, err)
		span.End()
		b.metrics.RecordBootstrap(ctx, err == nil)
	}()

	sess, parent, err := b.login(ctx, creds)
	if err != nil {
		return nil, err
	}

	students := make(map[string]*student.Record, len(parent.Students))
	for _, s := range parent.Students {
		rec, err := b.seed(ctx, sess, s)
		if err != nil {
			return nil, err
		}
		students[rec.StudentID] = rec
	}
	span.SetAttributes(otel.AttrStudentCount.Int(len(students)))

	slog.InfoContext(ctx, "Session bootstrapped",
		"school_id", sess.SchoolID,
		"parent_id", sess.ParentID,
		"student_count", len(students))

	return &Result{Session: *sess, Students: students}, nil
}

// TestCredentials implements Bootstrapper
func (b *defaultBootstrapper) TestCredentials(ctx context.Context, creds Credentials) (bool, error) {
	_, _, err := b.login(ctx, creds)
	if err == nil {
		return true, nil
	}
	if IsFatal(err) {
		slog.InfoContext(ctx, "Credentials rejected", "error", err)
		return false, nil
	}
	return false, err
}

func (b *defaultBootstrapper) login(ctx context.Context, creds Credentials) (*Session, *hcb.ParentInfo, error) {
	schoolID, err := b.client.ResolveSchool(ctx, creds.SchoolCode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve school: %w", err)
	}

	parent, err := b.client.ResolveParent(ctx, schoolID, creds.Username, creds.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to log in: %w", err)
	}

	return &Session{SchoolID: schoolID, ParentID: parent.AccountID}, parent, nil
}

// seed performs one stop fetch per segment. Vehicle location is taken from
// each response in segment order, so the last one carrying it wins.
func (b *defaultBootstrapper) seed(ctx context.Context, sess *Session, s hcb.Student) (*student.Record, error) {
	rec := student.New(s.ID, s.FirstName)

	for _, seg := range schedule.All {
		resp, err := b.client.FetchStops(ctx, sess.SchoolID, sess.ParentID, s.ID, hcb.TokenFor(seg))
		b.metrics.RecordFetch(ctx, seg.String(), err)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s stops for student %s: %w", seg, s.ID, err)
		}

		u, err := student.Normalize(seg, resp)
		if err != nil {
			return nil, fmt.Errorf("invalid %s stops for student %s: %w", seg, s.ID, err)
		}

		if !u.HasStops() {
			if seg != schedule.Mid {
				return nil, &EmptyScheduleError{StudentID: s.ID, Segment: seg}
			}
			slog.DebugContext(ctx, "Student has no midday stops", "student", s.ID)
		}
		rec.Apply(u, b.tz)
	}

	return rec, nil
}
