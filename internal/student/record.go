// Package student holds the per-student state record and the rules that fold
// a stop fetch into it.
package student

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"k8s.io/utils/ptr"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/schedule"
)

// MessageCode is the vehicle status code reported with a location.
type MessageCode int

const (
	// OutOfService is reported when the vehicle is not on a run
	OutOfService MessageCode = 0
	// InService is reported while the vehicle is on a run
	InService MessageCode = 1
)

// ServiceStatus is the interpretation of a MessageCode.
type ServiceStatus string

const (
	// StatusInService means the bus is running
	StatusInService ServiceStatus = "in_service"
	// StatusOutOfService means the bus is parked
	StatusOutOfService ServiceStatus = "out_of_service"
	// StatusUnknown covers any code this package does not know
	StatusUnknown ServiceStatus = "unknown"
)

// Status interprets the code.
func (m MessageCode) Status() ServiceStatus {
	switch m {
	case InService:
		return StatusInService
	case OutOfService:
		return StatusOutOfService
	default:
		return StatusUnknown
	}
}

// String renders unknown codes with their raw value.
func (m MessageCode) String() string {
	if s := m.Status(); s != StatusUnknown {
		return string(s)
	}
	return fmt.Sprintf("unknown_code(%d)", int(m))
}

// Telemetry is the last-known vehicle state. A nil field has never been
// reported.
type Telemetry struct {
	BusName      *string      `json:"bus_name"`
	Latitude     *float64     `json:"latitude"`
	Longitude    *float64     `json:"longitude"`
	Address      *string      `json:"address"`
	Heading      *string      `json:"heading"`
	Speed        *int         `json:"speed"`
	Ignition     *bool        `json:"ignition"`
	DisplayOnMap *bool        `json:"display_on_map"`
	Latent       *bool        `json:"latent"`
	MessageCode  *MessageCode `json:"message_code"`
	LogTime      *time.Time   `json:"log_time"`
}

// SegmentState is the schedule of one segment for the current day.
type SegmentState struct {
	schedule.Window
	SchoolArrival *civil.Time `json:"school_arrival_time"`
	StopArrival   *civil.Time `json:"stop_arrival_time"`
}

// Done reports whether both arrival times are known.
func (s *SegmentState) Done() bool {
	return s.SchoolArrival != nil && s.StopArrival != nil
}

func (s *SegmentState) resetArrivals() {
	s.SchoolArrival = nil
	s.StopArrival = nil
}

// Record is the state of one tracked student.
type Record struct {
	StudentID   string       `json:"student_id"`
	FirstName   string       `json:"first_name"`
	Telemetry   Telemetry    `json:"telemetry"`
	AM          SegmentState `json:"am"`
	Mid         SegmentState `json:"mid"`
	PM          SegmentState `json:"pm"`
	HasMidStops bool         `json:"has_mid_stops"`
}

// New creates an empty record for a student on the roster.
func New(studentID, firstName string) *Record {
	return &Record{StudentID: studentID, FirstName: firstName}
}

// Segment returns the state of seg.
func (r *Record) Segment(seg schedule.Segment) *SegmentState {
	switch seg {
	case schedule.Mid:
		return &r.Mid
	case schedule.PM:
		return &r.PM
	default:
		return &r.AM
	}
}

// LogDate returns the calendar date of the last vehicle report.
func (r *Record) LogDate() (civil.Date, bool) {
	if r.Telemetry.LogTime == nil {
		return civil.Date{}, false
	}
	return civil.DateOf(*r.Telemetry.LogTime), true
}

// DoneFor reports whether seg is complete for the service day today.
func (r *Record) DoneFor(seg schedule.Segment, today civil.Date) bool {
	if !r.Segment(seg).Done() {
		return false
	}
	logDate, ok := r.LogDate()
	return ok && logDate == today
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Telemetry = r.Telemetry.clone()
	for _, seg := range schedule.All {
		*c.Segment(seg) = r.Segment(seg).clone()
	}
	return &c
}

// Equal reports whether two records hold the same values.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.StudentID != o.StudentID || r.FirstName != o.FirstName || r.HasMidStops != o.HasMidStops {
		return false
	}
	for _, seg := range schedule.All {
		if !r.Segment(seg).equal(o.Segment(seg)) {
			return false
		}
	}
	return r.Telemetry.equal(&o.Telemetry)
}

func (s *SegmentState) clone() SegmentState {
	return SegmentState{
		Window:        s.Window,
		SchoolArrival: clonePtr(s.SchoolArrival),
		StopArrival:   clonePtr(s.StopArrival),
	}
}

func (s *SegmentState) equal(o *SegmentState) bool {
	return s.Window == o.Window &&
		ptr.Equal(s.SchoolArrival, o.SchoolArrival) &&
		ptr.Equal(s.StopArrival, o.StopArrival)
}

func (t *Telemetry) clone() Telemetry {
	return Telemetry{
		BusName:      clonePtr(t.BusName),
		Latitude:     clonePtr(t.Latitude),
		Longitude:    clonePtr(t.Longitude),
		Address:      clonePtr(t.Address),
		Heading:      clonePtr(t.Heading),
		Speed:        clonePtr(t.Speed),
		Ignition:     clonePtr(t.Ignition),
		DisplayOnMap: clonePtr(t.DisplayOnMap),
		Latent:       clonePtr(t.Latent),
		MessageCode:  clonePtr(t.MessageCode),
		LogTime:      clonePtr(t.LogTime),
	}
}

func (t *Telemetry) equal(o *Telemetry) bool {
	sameLogTime := (t.LogTime == nil) == (o.LogTime == nil) &&
		(t.LogTime == nil || t.LogTime.Equal(*o.LogTime))
	return sameLogTime &&
		ptr.Equal(t.BusName, o.BusName) &&
		ptr.Equal(t.Latitude, o.Latitude) &&
		ptr.Equal(t.Longitude, o.Longitude) &&
		ptr.Equal(t.Address, o.Address) &&
		ptr.Equal(t.Heading, o.Heading) &&
		ptr.Equal(t.Speed, o.Speed) &&
		ptr.Equal(t.Ignition, o.Ignition) &&
		ptr.Equal(t.DisplayOnMap, o.DisplayOnMap) &&
		ptr.Equal(t.Latent, o.Latent) &&
		ptr.Equal(t.MessageCode, o.MessageCode)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return ptr.To(*p)
}
