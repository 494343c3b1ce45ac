package student

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/hcb"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/schedule"
)

// WindowMargin pads the scheduled stop times on both sides.
const WindowMargin = 30 * time.Minute

// ErrNoStops is returned by callers that require a stop list and got none.
var ErrNoStops = errors.New("no stops in response")

// Update is a validated stop fetch, ready to be applied to a record.
type Update struct {
	Segment schedule.Segment
	// State is nil when the response carried no stops
	State    *SegmentState
	Location *hcb.Location
}

// HasStops reports whether the response carried a schedule.
func (u *Update) HasStops() bool {
	return u.State != nil
}

// Normalize validates a stop fetch for seg and derives the segment window
// and arrival times from it.
func Normalize(seg schedule.Segment, resp *hcb.StopResponse) (*Update, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil stop response")
	}

	u := &Update{Segment: seg, Location: resp.VehicleLocation}
	if len(resp.Stops) == 0 {
		return u, nil
	}

	earliest := resp.Stops[0].ScheduledStart
	latest := earliest
	for i, stop := range resp.Stops {
		stopSeg, ok := stop.Token.Segment()
		if !ok || stopSeg != seg {
			return nil, fmt.Errorf("stop %d belongs to %s, expected %s", i, stop.Token, seg)
		}
		if schedule.Compare(stop.ScheduledStart, earliest) < 0 {
			earliest = stop.ScheduledStart
		}
		if schedule.Compare(stop.ScheduledStart, latest) > 0 {
			latest = stop.ScheduledStart
		}
	}

	u.State = &SegmentState{
		Window: schedule.Window{
			Start: schedule.Truncate(schedule.Shift(earliest, -WindowMargin)),
			End:   schedule.Truncate(schedule.Shift(latest, WindowMargin)),
		},
		SchoolArrival: firstArrival(resp.Stops, hcb.StopTypeSchool),
		StopArrival:   firstArrival(resp.Stops, hcb.StopTypeStop),
	}
	return u, nil
}

// firstArrival returns the arrival time of the first stop of type t. The
// service reports an unknown arrival as midnight.
func firstArrival(stops []hcb.Stop, t hcb.StopType) *civil.Time {
	for _, stop := range stops {
		if stop.Type != t {
			continue
		}
		if stop.Arrival == nil || schedule.IsMidnight(*stop.Arrival) {
			return nil
		}
		arrival := schedule.Truncate(*stop.Arrival)
		return &arrival
	}
	return nil
}

// Apply folds u into the record. Only values present in u are written. A
// report from a later calendar day clears the arrival times of every
// segment before the new schedule is applied.
func (r *Record) Apply(u *Update, tz *time.Location) {
	if loc := u.Location; loc != nil {
		if loc.LogTime != nil {
			logTime := loc.LogTime.In(tz)
			if prev, ok := r.LogDate(); ok && civil.DateOf(logTime).After(prev) {
				for _, seg := range schedule.All {
					r.Segment(seg).resetArrivals()
				}
			}
			r.Telemetry.LogTime = &logTime
		}
		r.Telemetry.applyLocation(loc)
	}

	if u.State != nil {
		*r.Segment(u.Segment) = u.State.clone()
		if u.Segment == schedule.Mid {
			r.HasMidStops = true
		}
	}
}

func (t *Telemetry) applyLocation(loc *hcb.Location) {
	setIfPresent(&t.BusName, loc.BusName)
	setIfPresent(&t.Latitude, loc.Latitude)
	setIfPresent(&t.Longitude, loc.Longitude)
	setIfPresent(&t.Address, loc.Address)
	setIfPresent(&t.Heading, loc.Heading)
	setIfPresent(&t.Speed, loc.Speed)
	setIfPresent(&t.Ignition, loc.Ignition)
	setIfPresent(&t.DisplayOnMap, loc.DisplayOnMap)
	setIfPresent(&t.Latent, loc.Latent)
	if loc.MessageCode != nil {
		code := MessageCode(*loc.MessageCode)
		t.MessageCode = &code
	}
}

func setIfPresent[T any](dst **T, src *T) {
	if src != nil {
		*dst = clonePtr(src)
	}
}
