package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/hcb"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/otel"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/session"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/state"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/student"
	pkgsync "github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/sync"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/telemetry"
)

// DefaultInterval is the tick period when none is configured
const DefaultInterval = 20 * time.Second

// ErrTickInProgress is returned when a tick or bootstrap is already running
var ErrTickInProgress = errors.New("tick already in progress")

//go:generate mockgen -destination=mocks/mock_coordinator.go -package=mocks -source=coordinator.go Listener,Coordinator

// Listener is notified with the records changed by a tick
type Listener interface {
	OnUpdate(ctx context.Context, records []*student.Record)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(ctx context.Context, records []*student.Record)

// OnUpdate implements Listener
func (f ListenerFunc) OnUpdate(ctx context.Context, records []*student.Record) {
	f(ctx, records)
}

// Coordinator schedules polls for every student in the store
type Coordinator interface {
	// Start runs the ticker loop until ctx is cancelled or Stop is called.
	// The first tick runs immediately.
	Start(ctx context.Context) error

	// Stop cancels the loop and waits for it to return
	Stop() error

	// Bootstrap resolves the session and replaces the store contents
	Bootstrap(ctx context.Context) error

	// Tick runs one pass at now and returns the ids of changed students.
	// With no session in the store it bootstraps instead of polling.
	Tick(ctx context.Context, now time.Time) ([]string, error)
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithInterval sets the tick period
func WithInterval(d time.Duration) Option {
	return func(c *defaultCoordinator) {
		c.interval = d
	}
}

// WithClock replaces the wall clock, for tests
func WithClock(clk clock.WithTicker) Option {
	return func(c *defaultCoordinator) {
		c.clock = clk
	}
}

// WithListener registers listeners notified after changing ticks
func WithListener(listeners ...Listener) Option {
	return func(c *defaultCoordinator) {
		c.listeners = append(c.listeners, listeners...)
	}
}

// WithMetrics sets the poll metrics
func WithMetrics(metrics *telemetry.PollMetrics) Option {
	return func(c *defaultCoordinator) {
		c.metrics = metrics
	}
}

// WithTracer sets the tracer used for tick spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *defaultCoordinator) {
		c.tracer = tracer
	}
}

type defaultCoordinator struct {
	manager      pkgsync.Manager
	bootstrapper session.Bootstrapper
	store        *state.Store
	creds        session.Credentials

	interval  time.Duration
	clock     clock.WithTicker
	listeners []Listener
	metrics   *telemetry.PollMetrics
	tracer    trace.Tracer

	// guard admits one tick or bootstrap at a time
	guard *semaphore.Weighted

	mu         gosync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// New creates a new coordinator with injected dependencies
func New(
	manager pkgsync.Manager,
	bootstrapper session.Bootstrapper,
	store *state.Store,
	creds session.Credentials,
	opts ...Option,
) Coordinator {
	c := &defaultCoordinator{
		manager:      manager,
		bootstrapper: bootstrapper,
		store:        store,
		creds:        creds,
		interval:     DefaultInterval,
		clock:        clock.RealClock{},
		guard:        semaphore.NewWeighted(1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start implements Coordinator
func (c *defaultCoordinator) Start(ctx context.Context) error {
	slog.Info("Starting polling coordinator", "interval", c.interval)

	coordCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer func() {
		close(c.done)
		slog.Info("Polling coordinator shut down")
	}()

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	c.runTick(coordCtx)

	for {
		select {
		case <-ticker.C():
			c.runTick(coordCtx)
		case <-coordCtx.Done():
			slog.Info("Polling coordinator stopping")
			return nil
		}
	}
}

// Stop implements Coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping polling coordinator")
		cancel()
		<-c.done
	}
	return nil
}

// Bootstrap implements Coordinator
func (c *defaultCoordinator) Bootstrap(ctx context.Context) error {
	if !c.guard.TryAcquire(1) {
		return ErrTickInProgress
	}
	defer c.guard.Release(1)

	_, err := c.bootstrap(ctx)
	return err
}

// Tick implements Coordinator
func (c *defaultCoordinator) Tick(ctx context.Context, now time.Time) (updated []string, err error) {
	if !c.guard.TryAcquire(1) {
		c.metrics.RecordTickDropped(ctx)
		return nil, ErrTickInProgress
	}
	defer c.guard.Release(1)

	tickID := uuid.NewString()
	start := c.clock.Now()
	ctx, span := otel.StartSpan(ctx, c.tracer, "coordinator.Tick",
		trace.WithAttributes(otel.AttrTickID.String(tickID)))
	defer func() {
		otel.RecordError(span, err)
		span.End()
		c.metrics.RecordTick(ctx, c.clock.Since(start))
	}()

	sess, ok := c.store.Session()
	if !ok {
		slog.InfoContext(ctx, "No session, bootstrapping", "tick_id", tickID)
		return c.bootstrap(ctx)
	}

	var changed []*student.Record
	for _, id := range c.store.IDs() {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		rec, ok := c.store.Get(id)
		if !ok {
			continue
		}

		decision := c.manager.ShouldPoll(now, rec)
		if !decision.Reason.ShouldPoll() {
			slog.DebugContext(ctx, "Student does not need a poll",
				"tick_id", tickID,
				"student", id,
				"segment", decision.Segment.String(),
				"reason", decision.Reason.String())
			c.metrics.RecordSkip(ctx, decision.Reason.String())
			continue
		}

		next, didChange, err := c.manager.Poll(ctx, sess, rec, decision.Segment)
		if err != nil {
			if hcb.IsSessionError(err) {
				slog.WarnContext(ctx, "Session rejected, bootstrapping on next tick",
					"tick_id", tickID,
					"student", id,
					"error", err)
				c.store.Invalidate()
				break
			}
			slog.WarnContext(ctx, "Poll failed",
				"tick_id", tickID,
				"student", id,
				"segment", decision.Segment.String(),
				"error", err)
			continue
		}
		if !didChange {
			continue
		}

		c.store.Put(next)
		changed = append(changed, next)
		updated = append(updated, id)
	}

	c.metrics.RecordUpdated(ctx, len(updated))
	span.SetAttributes(otel.AttrStudentCount.Int(len(updated)))
	if len(updated) > 0 {
		slog.InfoContext(ctx, "Tick updated students", "tick_id", tickID, "students", updated)
		c.notify(ctx, changed)
	}
	return updated, nil
}

// bootstrap must be called with the guard held
func (c *defaultCoordinator) bootstrap(ctx context.Context) ([]string, error) {
	result, err := c.bootstrapper.Bootstrap(ctx, c.creds)
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap session: %w", err)
	}

	c.store.Replace(result.Session, result.Students)
	records := c.store.List()
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.StudentID)
	}
	c.notify(ctx, records)
	return ids, nil
}

func (c *defaultCoordinator) notify(ctx context.Context, records []*student.Record) {
	if len(records) == 0 {
		return
	}
	for _, l := range c.listeners {
		l.OnUpdate(ctx, records)
	}
}

func (c *defaultCoordinator) runTick(ctx context.Context) {
	_, err := c.Tick(ctx, c.clock.Now())
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, ErrTickInProgress):
		slog.Debug("Tick dropped, previous tick still running")
	case session.IsFatal(err):
		slog.Error("Session bootstrap rejected, check the account configuration", "error", err)
	default:
		slog.Warn("Tick failed", "error", err)
	}
}
