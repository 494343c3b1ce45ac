package student

import (
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/hcb"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/schedule"
)

func at(h, m int) civil.Time {
	return civil.Time{Hour: h, Minute: m}
}

func logTime(year int, month time.Month, day, h, m int) *civil.DateTime {
	return &civil.DateTime{
		Date: civil.Date{Year: year, Month: month, Day: day},
		Time: at(h, m),
	}
}

func amStops() []hcb.Stop {
	return []hcb.Stop{
		{Name: "Elm", Type: hcb.StopTypeStop, Token: hcb.TokenAM, ScheduledStart: at(7, 15)},
		{Name: "Lincoln", Type: hcb.StopTypeSchool, Token: hcb.TokenAM, ScheduledStart: at(7, 45)},
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		seg        schedule.Segment
		stops      []hcb.Stop
		wantWindow schedule.Window
		wantSchool *civil.Time
		wantStop   *civil.Time
		wantErr    bool
		wantEmpty  bool
	}{
		{
			name:       "window padded by thirty minutes",
			seg:        schedule.AM,
			stops:      amStops(),
			wantWindow: schedule.Window{Start: at(6, 45), End: at(8, 15)},
		},
		{
			name: "unordered stops",
			seg:  schedule.PM,
			stops: []hcb.Stop{
				{Type: hcb.StopTypeStop, Token: hcb.TokenPM, ScheduledStart: at(15, 40)},
				{Type: hcb.StopTypeSchool, Token: hcb.TokenPM, ScheduledStart: at(14, 50)},
			},
			wantWindow: schedule.Window{Start: at(14, 20), End: at(16, 10)},
		},
		{
			name: "arrivals taken from first stop of each type",
			seg:  schedule.AM,
			stops: []hcb.Stop{
				{Type: hcb.StopTypeStop, Token: hcb.TokenAM, ScheduledStart: at(7, 15),
					Arrival: &civil.Time{Hour: 7, Minute: 16, Second: 30, Nanosecond: 4000}},
				{Type: hcb.StopTypeStop, Token: hcb.TokenAM, ScheduledStart: at(7, 20), Arrival: ptr.To(at(7, 21))},
				{Type: hcb.StopTypeSchool, Token: hcb.TokenAM, ScheduledStart: at(7, 45), Arrival: ptr.To(at(7, 44))},
			},
			wantWindow: schedule.Window{Start: at(6, 45), End: at(8, 15)},
			wantSchool: ptr.To(at(7, 44)),
			wantStop:   &civil.Time{Hour: 7, Minute: 16, Second: 30},
		},
		{
			name: "midnight sentinel means unknown",
			seg:  schedule.AM,
			stops: []hcb.Stop{
				{Type: hcb.StopTypeStop, Token: hcb.TokenAM, ScheduledStart: at(7, 15), Arrival: ptr.To(civil.Time{})},
				{Type: hcb.StopTypeSchool, Token: hcb.TokenAM, ScheduledStart: at(7, 45)},
			},
			wantWindow: schedule.Window{Start: at(6, 45), End: at(8, 15)},
		},
		{
			name:      "no stops",
			seg:       schedule.Mid,
			wantEmpty: true,
		},
		{
			name: "stop from another segment",
			seg:  schedule.AM,
			stops: []hcb.Stop{
				{Type: hcb.StopTypeStop, Token: hcb.TokenPM, ScheduledStart: at(15, 0)},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u, err := Normalize(tt.seg, &hcb.StopResponse{Stops: tt.stops})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.seg, u.Segment)
			if tt.wantEmpty {
				assert.False(t, u.HasStops())
				return
			}
			require.True(t, u.HasStops())
			assert.Equal(t, tt.wantWindow, u.State.Window)
			assert.True(t, schedule.Compare(u.State.Start, u.State.End) <= 0)
			assert.Equal(t, tt.wantSchool, u.State.SchoolArrival)
			assert.Equal(t, tt.wantStop, u.State.StopArrival)
		})
	}
}

func TestNormalizeNilResponse(t *testing.T) {
	t.Parallel()

	_, err := Normalize(schedule.AM, nil)
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	t.Parallel()

	tz := time.UTC

	t.Run("writes schedule and telemetry", func(t *testing.T) {
		t.Parallel()

		rec := New("STU-1", "Alice")
		u, err := Normalize(schedule.AM, &hcb.StopResponse{
			Stops: amStops(),
			VehicleLocation: &hcb.Location{
				BusName:     ptr.To("Bus 42"),
				Latitude:    ptr.To(35.1),
				Longitude:   ptr.To(-78.2),
				MessageCode: ptr.To(1),
				LogTime:     logTime(2024, time.October, 29, 7, 5),
			},
		})
		require.NoError(t, err)

		rec.Apply(u, tz)

		assert.Equal(t, schedule.Window{Start: at(6, 45), End: at(8, 15)}, rec.AM.Window)
		assert.Equal(t, "Bus 42", *rec.Telemetry.BusName)
		assert.Equal(t, InService, *rec.Telemetry.MessageCode)
		assert.Equal(t, time.Date(2024, time.October, 29, 7, 5, 0, 0, tz), *rec.Telemetry.LogTime)
		assert.False(t, rec.HasMidStops)
	})

	t.Run("missing telemetry is never cleared", func(t *testing.T) {
		t.Parallel()

		rec := New("STU-1", "Alice")
		rec.Telemetry.Address = ptr.To("1 Main St")
		rec.Telemetry.Speed = ptr.To(30)

		rec.Apply(&Update{
			Segment:  schedule.AM,
			Location: &hcb.Location{Speed: ptr.To(0)},
		}, tz)

		assert.Equal(t, "1 Main St", *rec.Telemetry.Address)
		assert.Equal(t, 0, *rec.Telemetry.Speed)

		rec.Apply(&Update{Segment: schedule.AM}, tz)
		assert.Equal(t, "1 Main St", *rec.Telemetry.Address)
	})

	t.Run("mid stops mark the student", func(t *testing.T) {
		t.Parallel()

		rec := New("STU-1", "Alice")
		rec.Apply(&Update{
			Segment: schedule.Mid,
			State:   &SegmentState{Window: schedule.Window{Start: at(11, 0), End: at(12, 0)}},
		}, tz)
		assert.True(t, rec.HasMidStops)
	})

	t.Run("date rollover clears arrivals", func(t *testing.T) {
		t.Parallel()

		rec := New("STU-1", "Alice")
		rec.Telemetry.LogTime = ptr.To(time.Date(2024, time.October, 28, 16, 0, 0, 0, tz))
		rec.AM.SchoolArrival = ptr.To(at(7, 44))
		rec.AM.StopArrival = ptr.To(at(7, 16))
		rec.PM.SchoolArrival = ptr.To(at(14, 50))
		rec.PM.StopArrival = ptr.To(at(15, 40))

		rec.Apply(&Update{
			Segment:  schedule.AM,
			Location: &hcb.Location{LogTime: logTime(2024, time.October, 29, 6, 50)},
		}, tz)

		assert.Nil(t, rec.AM.SchoolArrival)
		assert.Nil(t, rec.AM.StopArrival)
		assert.Nil(t, rec.PM.SchoolArrival)
		assert.Nil(t, rec.PM.StopArrival)
	})

	t.Run("same day keeps arrivals", func(t *testing.T) {
		t.Parallel()

		rec := New("STU-1", "Alice")
		rec.Telemetry.LogTime = ptr.To(time.Date(2024, time.October, 29, 8, 0, 0, 0, tz))
		rec.AM.SchoolArrival = ptr.To(at(7, 44))

		rec.Apply(&Update{
			Segment:  schedule.PM,
			Location: &hcb.Location{LogTime: logTime(2024, time.October, 29, 14, 0)},
		}, tz)

		assert.Equal(t, at(7, 44), *rec.AM.SchoolArrival)
	})
}

func TestRecordCloneAndEqual(t *testing.T) {
	t.Parallel()

	rec := New("STU-1", "Alice")
	rec.Telemetry.BusName = ptr.To("Bus 42")
	rec.Telemetry.LogTime = ptr.To(time.Date(2024, time.October, 29, 7, 5, 0, 0, time.UTC))
	rec.AM.SchoolArrival = ptr.To(at(7, 44))

	clone := rec.Clone()
	assert.True(t, rec.Equal(clone))

	*clone.Telemetry.BusName = "Bus 7"
	assert.Equal(t, "Bus 42", *rec.Telemetry.BusName, "clone must not share pointers")
	assert.False(t, rec.Equal(clone))

	clone = rec.Clone()
	clone.AM.SchoolArrival = nil
	assert.False(t, rec.Equal(clone))

	clone = rec.Clone()
	clone.Telemetry.LogTime = ptr.To(rec.Telemetry.LogTime.In(time.FixedZone("X", 3600)))
	assert.True(t, rec.Equal(clone), "log times are compared as instants")

	var nilRec *Record
	assert.True(t, nilRec.Equal(nil))
	assert.False(t, rec.Equal(nil))
}

func TestDoneFor(t *testing.T) {
	t.Parallel()

	today := civil.Date{Year: 2024, Month: time.October, Day: 29}
	rec := New("STU-1", "Alice")
	rec.AM.SchoolArrival = ptr.To(at(7, 44))
	rec.AM.StopArrival = ptr.To(at(7, 16))

	assert.False(t, rec.DoneFor(schedule.AM, today), "no log time")

	rec.Telemetry.LogTime = ptr.To(time.Date(2024, time.October, 29, 7, 50, 0, 0, time.UTC))
	assert.True(t, rec.DoneFor(schedule.AM, today))
	assert.False(t, rec.DoneFor(schedule.AM, today.AddDays(1)))
	assert.False(t, rec.DoneFor(schedule.PM, today))
}

func TestMessageCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusInService, InService.Status())
	assert.Equal(t, StatusOutOfService, OutOfService.Status())
	assert.Equal(t, StatusUnknown, MessageCode(7).Status())
	assert.Equal(t, "unknown_code(7)", MessageCode(7).String())
	assert.Equal(t, "in_service", InService.String())
}

func TestRecordJSON(t *testing.T) {
	t.Parallel()

	rec := New("STU-1", "Alice")
	rec.AM.Window = schedule.Window{Start: at(6, 45), End: at(8, 15)}
	rec.AM.StopArrival = ptr.To(at(7, 16))

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	am := decoded["am"].(map[string]any)
	assert.Equal(t, "06:45:00", am["start_time"])
	assert.Equal(t, "08:15:00", am["end_time"])
	assert.Equal(t, "07:16:00", am["stop_arrival_time"])
	assert.Nil(t, am["school_arrival_time"])
	assert.Equal(t, "STU-1", decoded["student_id"])
}
