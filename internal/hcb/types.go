// Package hcb is a client for the Here Comes The Bus (Synovia) SOAP API.
//
// The API is consumed through three calls: resolving a school code, logging a
// parent in, and fetching the stop schedule and vehicle location of one
// student for one time of day. Responses are decoded into a strict schema and
// validated here, so callers only ever see well-formed values.
package hcb

import (
	"context"

	"cloud.google.com/go/civil"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/schedule"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=types.go Client

// SegmentToken identifies a time of day on the remote service.
type SegmentToken string

const (
	// TokenAM is the morning time-of-day id
	TokenAM SegmentToken = "55632A13-35C5-4169-B872-F5ABDC25DF6A"
	// TokenMid is the midday time-of-day id
	TokenMid SegmentToken = "27AADCA0-6D7E-4247-A80F-7847C448EEED"
	// TokenPM is the afternoon time-of-day id
	TokenPM SegmentToken = "6E7A050E-0295-4200-8EDC-3611BB5DE1C1"
)

// TokenFor maps a segment to its remote token.
func TokenFor(seg schedule.Segment) SegmentToken {
	switch seg {
	case schedule.Mid:
		return TokenMid
	case schedule.PM:
		return TokenPM
	default:
		return TokenAM
	}
}

// Segment maps a token back to its segment.
func (t SegmentToken) Segment() (schedule.Segment, bool) {
	switch t {
	case TokenAM:
		return schedule.AM, true
	case TokenMid:
		return schedule.Mid, true
	case TokenPM:
		return schedule.PM, true
	default:
		return 0, false
	}
}

// StopType tags a stop in the schedule.
type StopType string

const (
	// StopTypeSchool is the school end of a run
	StopTypeSchool StopType = "School"
	// StopTypeStop is the student's bus stop
	StopTypeStop StopType = "Stop"
)

// Stop is one scheduled stop of a run.
type Stop struct {
	Name           string
	Type           StopType
	Token          SegmentToken
	ScheduledStart civil.Time
	// Arrival is nil when the service did not report it
	Arrival *civil.Time
}

// Location is the last reported vehicle position. Every field is optional;
// nil means the response did not carry it.
type Location struct {
	BusName      *string
	Latitude     *float64
	Longitude    *float64
	Address      *string
	Heading      *string
	Speed        *int
	Ignition     *bool
	DisplayOnMap *bool
	Latent       *bool
	MessageCode  *int
	// LogTime is the wall-clock time reported by the service, without zone
	LogTime *civil.DateTime
}

// StopResponse is the result of a stop fetch.
type StopResponse struct {
	VehicleLocation *Location
	Stops           []Stop
}

// Student is a child linked to a parent account.
type Student struct {
	ID        string
	FirstName string
}

// ParentInfo is the result of a parent login.
type ParentInfo struct {
	AccountID string
	Students  []Student
}

// Client is the collaborator contract consumed by the polling core.
type Client interface {
	// ResolveSchool maps a school code to a school id.
	// Returns *ResolutionError for an unknown code.
	ResolveSchool(ctx context.Context, schoolCode string) (string, error)

	// ResolveParent logs a parent in and returns the account id and roster.
	// Returns *AuthError for rejected credentials.
	ResolveParent(ctx context.Context, schoolID, username, password string) (*ParentInfo, error)

	// FetchStops returns the vehicle location and stop list of one student
	// for one time of day.
	FetchStops(ctx context.Context, schoolID, parentID, studentID string, token SegmentToken) (*StopResponse, error)
}
