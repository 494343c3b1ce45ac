package coordinator

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	testingclock "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/hcb"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/hcb/mocks"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/schedule"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/session"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/state"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/student"
	pkgsync "github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/sync"
)

var testCreds = session.Credentials{SchoolCode: "ABC123", Username: "parent", Password: "secret"}

func at(h, m int) civil.Time {
	return civil.Time{Hour: h, Minute: m}
}

// 2024-10-29 is a Tuesday
func day(d, h, m int) time.Time {
	return time.Date(2024, time.October, d, h, m, 0, 0, time.UTC)
}

func logAt(t time.Time) *civil.DateTime {
	dt := civil.DateTimeOf(t)
	return &dt
}

func amStops(school, stop *civil.Time) []hcb.Stop {
	return []hcb.Stop{
		{Name: "Elm", Type: hcb.StopTypeStop, Token: hcb.TokenAM, ScheduledStart: at(7, 15), Arrival: stop},
		{Name: "Lincoln", Type: hcb.StopTypeSchool, Token: hcb.TokenAM, ScheduledStart: at(7, 45), Arrival: school},
	}
}

func pmStops() []hcb.Stop {
	return []hcb.Stop{
		{Name: "Lincoln", Type: hcb.StopTypeSchool, Token: hcb.TokenPM, ScheduledStart: at(14, 50)},
		{Name: "Elm", Type: hcb.StopTypeStop, Token: hcb.TokenPM, ScheduledStart: at(15, 40)},
	}
}

type recordingListener struct {
	mu    gosync.Mutex
	calls [][]string
}

func (l *recordingListener) OnUpdate(_ context.Context, records []*student.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.StudentID)
	}
	l.calls = append(l.calls, ids)
}

func (l *recordingListener) Calls() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.calls...)
}

type fixture struct {
	client   *mocks.MockClient
	store    *state.Store
	listener *recordingListener
	coord    *defaultCoordinator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	store := state.NewStore()
	listener := &recordingListener{}

	opts = append([]Option{WithListener(listener)}, opts...)
	c := New(
		pkgsync.NewManager(client, time.UTC),
		session.NewBootstrapper(client, time.UTC),
		store,
		testCreds,
		opts...,
	).(*defaultCoordinator)

	return &fixture{client: client, store: store, listener: listener, coord: c}
}

// expectBootstrap scripts a login plus the seeding fetches for each student
func (f *fixture) expectBootstrap(students ...hcb.Student) {
	f.client.EXPECT().ResolveSchool(gomock.Any(), "ABC123").Return("SCH-1", nil)
	f.client.EXPECT().ResolveParent(gomock.Any(), "SCH-1", "parent", "secret").
		Return(&hcb.ParentInfo{AccountID: "PAR-1", Students: students}, nil)
	for _, s := range students {
		f.client.EXPECT().FetchStops(gomock.Any(), "SCH-1", "PAR-1", s.ID, hcb.TokenAM).
			Return(&hcb.StopResponse{Stops: amStops(nil, nil)}, nil)
		f.client.EXPECT().FetchStops(gomock.Any(), "SCH-1", "PAR-1", s.ID, hcb.TokenMid).
			Return(&hcb.StopResponse{}, nil)
		f.client.EXPECT().FetchStops(gomock.Any(), "SCH-1", "PAR-1", s.ID, hcb.TokenPM).
			Return(&hcb.StopResponse{Stops: pmStops()}, nil)
	}
}

func (f *fixture) bootstrap(t *testing.T, students ...hcb.Student) {
	t.Helper()
	f.expectBootstrap(students...)
	require.NoError(t, f.coord.Bootstrap(context.Background()))
}

var (
	aliceStudent = hcb.Student{ID: "STU-1", FirstName: "Alice"}
	bobStudent   = hcb.Student{ID: "STU-2", FirstName: "Bob"}
)

func TestBootstrapSeedsStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bootstrap(t, aliceStudent)

	require.True(t, f.store.Ready())
	rec, ok := f.store.Get("STU-1")
	require.True(t, ok)
	assert.Equal(t, schedule.Window{Start: at(6, 45), End: at(8, 15)}, rec.AM.Window)
	assert.Equal(t, schedule.Window{Start: at(14, 20), End: at(16, 10)}, rec.PM.Window)
	assert.False(t, rec.HasMidStops)
	for _, seg := range schedule.All {
		if seg == schedule.Mid {
			continue
		}
		w := rec.Segment(seg).Window
		assert.LessOrEqual(t, schedule.Compare(w.Start, w.End), 0, "window of %s is ordered", seg)
	}
	assert.Equal(t, [][]string{{"STU-1"}}, f.listener.Calls())
}

func TestTickAliceMorning(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bootstrap(t, aliceStudent)

	f.client.EXPECT().FetchStops(gomock.Any(), "SCH-1", "PAR-1", "STU-1", hcb.TokenAM).
		Return(&hcb.StopResponse{
			VehicleLocation: &hcb.Location{
				BusName:   ptr.To("Bus 42"),
				Latitude:  ptr.To(35.1),
				Longitude: ptr.To(-78.2),
				LogTime:   logAt(day(29, 6, 59)),
			},
			Stops: amStops(nil, nil),
		}, nil)

	updated, err := f.coord.Tick(context.Background(), day(29, 7, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"STU-1"}, updated)

	rec, _ := f.store.Get("STU-1")
	assert.Equal(t, "Bus 42", *rec.Telemetry.BusName)

	// 09:00 is past the 08:15 window end; any fetch fails the mock
	updated, err = f.coord.Tick(context.Background(), day(29, 9, 0))
	require.NoError(t, err)
	assert.Empty(t, updated)
}

func TestTickIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bootstrap(t, aliceStudent)

	resp := &hcb.StopResponse{
		VehicleLocation: &hcb.Location{Speed: ptr.To(25), LogTime: logAt(day(29, 7, 0))},
		Stops:           amStops(nil, nil),
	}
	f.client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenAM).
		Return(resp, nil).Times(2)

	updated, err := f.coord.Tick(context.Background(), day(29, 7, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"STU-1"}, updated)

	updated, err = f.coord.Tick(context.Background(), day(29, 7, 0))
	require.NoError(t, err)
	assert.Empty(t, updated)

	assert.Len(t, f.listener.Calls(), 2, "bootstrap and the first tick only")
}

func TestTickGates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		now       time.Time
		wantToken hcb.SegmentToken
	}{
		{name: "saturday", now: time.Date(2024, time.November, 2, 7, 0, 0, 0, time.UTC)},
		{name: "sunday afternoon", now: time.Date(2024, time.November, 3, 15, 0, 0, 0, time.UTC)},
		{name: "midday without mid stops", now: day(29, 11, 30)},
		{name: "before window", now: day(29, 6, 0)},
		{name: "window end is inclusive", now: day(29, 8, 15), wantToken: hcb.TokenAM},
		{name: "just past window end", now: day(29, 8, 16)},
		{name: "pm window", now: day(29, 15, 0), wantToken: hcb.TokenPM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.bootstrap(t, aliceStudent)

			wantUpdated := 0
			if tt.wantToken != "" {
				stops := amStops(nil, nil)
				if tt.wantToken == hcb.TokenPM {
					stops = pmStops()
				}
				f.client.EXPECT().FetchStops(gomock.Any(), "SCH-1", "PAR-1", "STU-1", tt.wantToken).
					Return(&hcb.StopResponse{
						VehicleLocation: &hcb.Location{Speed: ptr.To(12)},
						Stops:           stops,
					}, nil)
				wantUpdated = 1
			}

			updated, err := f.coord.Tick(context.Background(), tt.now)
			require.NoError(t, err)
			assert.Len(t, updated, wantUpdated)
		})
	}
}

func TestTickCompletionGate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bootstrap(t, aliceStudent)

	f.client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenAM).
		Return(&hcb.StopResponse{
			VehicleLocation: &hcb.Location{LogTime: logAt(day(29, 7, 50))},
			Stops:           amStops(ptr.To(at(7, 44)), ptr.To(at(7, 16))),
		}, nil)

	updated, err := f.coord.Tick(context.Background(), day(29, 7, 50))
	require.NoError(t, err)
	require.Equal(t, []string{"STU-1"}, updated)

	// both arrivals known for today; the mock fails on any fetch
	for _, now := range []time.Time{day(29, 7, 55), day(29, 8, 15)} {
		updated, err = f.coord.Tick(context.Background(), now)
		require.NoError(t, err)
		assert.Empty(t, updated)
	}

	// the next service day polls again and starts with fresh arrivals
	f.client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenAM).
		Return(&hcb.StopResponse{
			VehicleLocation: &hcb.Location{LogTime: logAt(day(30, 7, 0))},
			Stops:           amStops(nil, ptr.To(at(7, 18))),
		}, nil)

	updated, err = f.coord.Tick(context.Background(), day(30, 7, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"STU-1"}, updated)

	rec, _ := f.store.Get("STU-1")
	assert.Nil(t, rec.AM.SchoolArrival)
	assert.Equal(t, at(7, 18), *rec.AM.StopArrival)
}

func TestTickIsolatesStudentFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bootstrap(t, aliceStudent, bobStudent)

	gomock.InOrder(
		f.client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenAM).
			Return(nil, errors.New("connection reset")),
		f.client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-2", hcb.TokenAM).
			Return(&hcb.StopResponse{
				VehicleLocation: &hcb.Location{BusName: ptr.To("Bus 7")},
				Stops:           amStops(nil, nil),
			}, nil),
	)

	updated, err := f.coord.Tick(context.Background(), day(29, 7, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"STU-2"}, updated)

	alice, _ := f.store.Get("STU-1")
	assert.Nil(t, alice.Telemetry.BusName)
	assert.True(t, f.store.Ready())
}

func TestTickEmptyStopsLeaveRecordUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bootstrap(t, aliceStudent)

	before, _ := f.store.Get("STU-1")
	f.client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenAM).
		Return(&hcb.StopResponse{VehicleLocation: &hcb.Location{BusName: ptr.To("Bus 42")}}, nil)

	updated, err := f.coord.Tick(context.Background(), day(29, 7, 0))
	require.NoError(t, err)
	assert.Empty(t, updated)

	after, _ := f.store.Get("STU-1")
	assert.True(t, before.Equal(after))
}

func TestTickRebootstrapsAfterSessionError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bootstrap(t, aliceStudent, bobStudent)

	// Bob is never polled once the session is rejected
	f.client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenAM).
		Return(nil, &hcb.AuthError{Username: "parent"})

	updated, err := f.coord.Tick(context.Background(), day(29, 7, 0))
	require.NoError(t, err)
	assert.Empty(t, updated)
	assert.False(t, f.store.Ready())

	f.expectBootstrap(aliceStudent, bobStudent)
	updated, err = f.coord.Tick(context.Background(), day(29, 7, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"STU-1", "STU-2"}, updated)
	assert.True(t, f.store.Ready())
}

func TestTickBootstrapFailure(t *testing.T) {
	t.Parallel()

	t.Run("retryable", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.client.EXPECT().ResolveSchool(gomock.Any(), gomock.Any()).Return("SCH-1", nil)
		f.client.EXPECT().ResolveParent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&hcb.ParentInfo{AccountID: "PAR-1", Students: []hcb.Student{aliceStudent}}, nil)
		f.client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenAM).
			Return(&hcb.StopResponse{}, nil)

		_, err := f.coord.Tick(context.Background(), day(29, 7, 0))
		var empty *session.EmptyScheduleError
		require.ErrorAs(t, err, &empty)
		assert.Equal(t, schedule.AM, empty.Segment)
		assert.False(t, session.IsFatal(err))
		assert.False(t, f.store.Ready())
		assert.Empty(t, f.listener.Calls())
	})

	t.Run("fatal", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.client.EXPECT().ResolveSchool(gomock.Any(), gomock.Any()).
			Return("", &hcb.ResolutionError{SchoolCode: "ABC123"})

		err := f.coord.Bootstrap(context.Background())
		assert.True(t, session.IsFatal(err))
	})
}

func TestTickInProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.True(t, f.coord.guard.TryAcquire(1))

	_, err := f.coord.Tick(context.Background(), day(29, 7, 0))
	assert.ErrorIs(t, err, ErrTickInProgress)
	assert.ErrorIs(t, f.coord.Bootstrap(context.Background()), ErrTickInProgress)

	f.coord.guard.Release(1)
}

func TestTickStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bootstrap(t, aliceStudent, bobStudent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.coord.Tick(ctx, day(29, 7, 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	clk := testingclock.NewFakeClock(day(29, 6, 0))
	f := newFixture(t, WithClock(clk), WithInterval(20*time.Second))
	f.expectBootstrap(aliceStudent)

	ticked := make(chan []string, 4)
	f.coord.listeners = append(f.coord.listeners, ListenerFunc(func(_ context.Context, records []*student.Record) {
		ids := make([]string, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.StudentID)
		}
		ticked <- ids
	}))

	errCh := make(chan error, 1)
	go func() { errCh <- f.coord.Start(context.Background()) }()

	// the first tick bootstraps right away
	select {
	case ids := <-ticked:
		assert.Equal(t, []string{"STU-1"}, ids)
	case <-time.After(5 * time.Second):
		t.Fatal("first tick did not bootstrap")
	}

	f.client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenAM).
		Return(&hcb.StopResponse{VehicleLocation: &hcb.Location{Speed: ptr.To(30)}, Stops: amStops(nil, nil)}, nil)

	require.Eventually(t, clk.HasWaiters, 5*time.Second, 10*time.Millisecond)
	// jumping past the first ticker deadline fires it once, at 07:00
	clk.SetTime(day(29, 7, 0))

	select {
	case ids := <-ticked:
		assert.Equal(t, []string{"STU-1"}, ids)
	case <-time.After(5 * time.Second):
		t.Fatal("ticker did not fire")
	}

	require.NoError(t, f.coord.Stop())
	require.NoError(t, <-errCh)
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	assert.NoError(t, f.coord.Stop())
}
