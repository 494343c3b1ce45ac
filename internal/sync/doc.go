// Package sync decides, per student and tick, whether a stop fetch is
// warranted and folds the fetched stops into the student's record.
//
// # Poll decisions
//
// Manager.ShouldPoll evaluates the gates in order and returns a Decision
// carrying the segment in effect and a Reason. Use Reason.ShouldPoll() to
// check whether a fetch is needed and Reason.String() for logging.
//
// Reasons that skip the student:
//   - ReasonWeekend: Saturday or Sunday in the configured timezone
//   - ReasonNoMidStops: midday segment for a student without midday stops
//   - ReasonOutsideWindow: the clock is outside the segment window
//   - ReasonSegmentDone: both arrivals known for today
//
// Reasons that fetch:
//   - ReasonAwaitingArrivals: inside the window, arrivals still pending
//   - ReasonNewServiceDay: arrivals are left over from a previous day
//
// # Coordinator Package
//
// The sync/coordinator subpackage owns the ticker loop, the tick guard, the
// session lifecycle and listener notification.
package sync
