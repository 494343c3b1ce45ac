package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/schedule"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/student"
)

// DefaultListLimit caps List when no limit is given
const DefaultListLimit = 50

// Entry is one completed segment
type Entry struct {
	ID            string           `json:"id"`
	StudentID     string           `json:"student_id"`
	ServiceDate   civil.Date       `json:"service_date"`
	Segment       schedule.Segment `json:"segment"`
	SchoolArrival civil.Time       `json:"school_arrival_time"`
	StopArrival   civil.Time       `json:"stop_arrival_time"`
	RecordedAt    time.Time        `json:"recorded_at"`
}

// Recorder writes completed segments. It is safe for concurrent use.
type Recorder struct {
	db    *db
	clock clock.PassiveClock
}

// Option configures the recorder
type Option func(*Recorder)

// WithClock sets the clock stamping recorded_at
func WithClock(clk clock.PassiveClock) Option {
	return func(r *Recorder) {
		r.clock = clk
	}
}

// Open opens or creates the history database at path
func Open(ctx context.Context, path string, opts ...Option) (*Recorder, error) {
	d, err := connect(ctx, path)
	if err != nil {
		return nil, err
	}
	r := &Recorder{db: d, clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close closes the database
func (r *Recorder) Close() error {
	return r.db.conn.Close()
}

// OnUpdate records every segment the records completed on their reporting
// day. Failures are logged; the poller never waits on history.
func (r *Recorder) OnUpdate(ctx context.Context, records []*student.Record) {
	n, err := r.Record(ctx, records)
	if err != nil {
		slog.WarnContext(ctx, "Failed to record arrival history", "error", err)
		return
	}
	if n > 0 {
		slog.DebugContext(ctx, "Recorded arrival history", "segments", n)
	}
}

// Record inserts the completed segments of records and returns how many rows
// were new. A segment already recorded for the day is left alone.
func (r *Recorder) Record(ctx context.Context, records []*student.Record) (int, error) {
	r.db.writeMu.Lock()
	defer r.db.writeMu.Unlock()

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segment_arrivals (
			id, student_id, service_date, segment, school_arrival, stop_arrival, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id, service_date, segment) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	recordedAt := r.clock.Now().UTC().Format(time.RFC3339Nano)
	inserted := 0
	for _, rec := range records {
		serviceDate, ok := rec.LogDate()
		if !ok {
			continue
		}
		for _, seg := range schedule.All {
			if !rec.DoneFor(seg, serviceDate) {
				continue
			}
			state := rec.Segment(seg)
			res, err := stmt.ExecContext(ctx,
				uuid.NewString(),
				rec.StudentID,
				serviceDate.String(),
				seg.String(),
				state.SchoolArrival.String(),
				state.StopArrival.String(),
				recordedAt,
			)
			if err != nil {
				return 0, fmt.Errorf("failed to insert %s arrival for student %s: %w", seg, rec.StudentID, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return inserted, nil
}

// List returns the most recent entries for a student, newest first
func (r *Recorder) List(ctx context.Context, studentID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, student_id, service_date, segment, school_arrival, stop_arrival, recorded_at
		FROM segment_arrivals
		WHERE student_id = ?
		ORDER BY service_date DESC, recorded_at DESC
		LIMIT ?`, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		var (
			e                                   Entry
			date, seg, school, stop, recordedAt string
		)
		if err := rows.Scan(&e.ID, &e.StudentID, &date, &seg, &school, &stop, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if e.ServiceDate, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("invalid service date %q: %w", date, err)
		}
		if e.Segment, err = schedule.ParseSegment(seg); err != nil {
			return nil, err
		}
		if e.SchoolArrival, err = civil.ParseTime(school); err != nil {
			return nil, fmt.Errorf("invalid school arrival %q: %w", school, err)
		}
		if e.StopArrival, err = civil.ParseTime(stop); err != nil {
			return nil, fmt.Errorf("invalid stop arrival %q: %w", stop, err)
		}
		if e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("invalid recorded_at %q: %w", recordedAt, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
