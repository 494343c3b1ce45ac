package sync

// Reason explains a poll decision
type Reason int

const (
	// ReasonWeekend means no service on Saturday and Sunday
	ReasonWeekend Reason = iota
	// ReasonNoMidStops means the student has no midday run
	ReasonNoMidStops
	// ReasonOutsideWindow means the clock is outside the segment window
	ReasonOutsideWindow
	// ReasonSegmentDone means both arrivals for today are known
	ReasonSegmentDone
	// ReasonAwaitingArrivals means the segment is in progress
	ReasonAwaitingArrivals
	// ReasonNewServiceDay means the known arrivals belong to an earlier day
	ReasonNewServiceDay
)

var reasonNames = map[Reason]string{
	ReasonWeekend:          "weekend",
	ReasonNoMidStops:       "no-mid-stops",
	ReasonOutsideWindow:    "outside-window",
	ReasonSegmentDone:      "segment-done",
	ReasonAwaitingArrivals: "awaiting-arrivals",
	ReasonNewServiceDay:    "new-service-day",
}

// String returns the reason as a kebab-case label
func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// ShouldPoll reports whether the reason calls for a fetch
func (r Reason) ShouldPoll() bool {
	return r == ReasonAwaitingArrivals || r == ReasonNewServiceDay
}
