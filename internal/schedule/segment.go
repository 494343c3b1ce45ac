// Package schedule models the three daily bus segments and the clock windows
// during which a segment is worth polling.
package schedule

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Segment is a time-of-day bucket of a school day.
type Segment int

const (
	// AM is the morning pickup run, [00:00, 10:00)
	AM Segment = iota
	// Mid is the midday run, [10:00, 13:30)
	Mid
	// PM is the afternoon drop-off run, [13:30, 24:00)
	PM
)

// All lists the segments in bootstrap order.
var All = []Segment{AM, Mid, PM}

var (
	midStart = civil.Time{Hour: 10}
	pmStart  = civil.Time{Hour: 13, Minute: 30}
	dayEnd   = civil.Time{Hour: 23, Minute: 59, Second: 59, Nanosecond: 999999999}
)

// String returns the lower-case segment name.
func (s Segment) String() string {
	switch s {
	case AM:
		return "am"
	case Mid:
		return "mid"
	case PM:
		return "pm"
	default:
		return fmt.Sprintf("segment(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Segment) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Segment) UnmarshalText(text []byte) error {
	seg, err := ParseSegment(string(text))
	if err != nil {
		return err
	}
	*s = seg
	return nil
}

// ParseSegment is the inverse of Segment.String.
func ParseSegment(s string) (Segment, error) {
	switch s {
	case "am":
		return AM, nil
	case "mid":
		return Mid, nil
	case "pm":
		return PM, nil
	default:
		return 0, fmt.Errorf("unknown segment %q", s)
	}
}

// At resolves the segment a wall-clock time falls into.
func At(t civil.Time) Segment {
	switch {
	case Compare(t, midStart) < 0:
		return AM
	case Compare(t, pmStart) < 0:
		return Mid
	default:
		return PM
	}
}

// Window is a closed interval of clock time.
type Window struct {
	Start civil.Time `json:"start_time"`
	End   civil.Time `json:"end_time"`
}

// Contains reports whether t lies in [Start, End]; both ends are inclusive.
func (w Window) Contains(t civil.Time) bool {
	return Compare(t, w.Start) >= 0 && Compare(t, w.End) <= 0
}

// Compare returns -1, 0 or +1 depending on whether a is before, equal to or
// after b.
func Compare(a, b civil.Time) int {
	na, nb := sinceMidnight(a), sinceMidnight(b)
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	default:
		return 0
	}
}

// Shift moves t by d, clamped to the same day.
func Shift(t civil.Time, d time.Duration) civil.Time {
	shifted := sinceMidnight(t) + d
	if shifted < 0 {
		return civil.Time{}
	}
	if shifted > sinceMidnight(dayEnd) {
		return dayEnd
	}
	return fromSinceMidnight(shifted)
}

// Truncate drops sub-second precision.
func Truncate(t civil.Time) civil.Time {
	t.Nanosecond = 0
	return t
}

// IsMidnight reports whether t is exactly 00:00:00, ignoring sub-seconds.
func IsMidnight(t civil.Time) bool {
	return t.Hour == 0 && t.Minute == 0 && t.Second == 0
}

func sinceMidnight(t civil.Time) time.Duration {
	return time.Duration(t.Hour)*time.Hour +
		time.Duration(t.Minute)*time.Minute +
		time.Duration(t.Second)*time.Second +
		time.Duration(t.Nanosecond)
}

func fromSinceMidnight(d time.Duration) civil.Time {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return civil.Time{Hour: int(h), Minute: int(m), Second: int(s), Nanosecond: int(d)}
}
