// Package feed publishes the last-known bus positions as a GTFS-realtime
// vehicle positions feed.
package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/student"
)

// Content types served for the feed
const (
	ContentTypeProtobuf = "application/x-protobuf"
	ContentTypeJSON     = "application/json"
)

const gtfsRealtimeVersion = "2.0"

var compassPoints = map[string]float32{
	"N": 0, "NNE": 22.5, "NE": 45, "ENE": 67.5,
	"E": 90, "ESE": 112.5, "SE": 135, "SSE": 157.5,
	"S": 180, "SSW": 202.5, "SW": 225, "WSW": 247.5,
	"W": 270, "WNW": 292.5, "NW": 315, "NNW": 337.5,
	"NORTH": 0, "NORTHEAST": 45, "EAST": 90, "SOUTHEAST": 135,
	"SOUTH": 180, "SOUTHWEST": 225, "WEST": 270, "NORTHWEST": 315,
}

// BuildVehiclePositions returns a full-dataset feed with one entity per
// student whose bus position is known.
func BuildVehiclePositions(records []*student.Record, now time.Time) *gtfs.FeedMessage {
	entities := make([]*gtfs.FeedEntity, 0, len(records))
	for _, rec := range records {
		if e := vehicleEntity(rec); e != nil {
			entities = append(entities, e)
		}
	}

	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: entities,
	}
}

func vehicleEntity(rec *student.Record) *gtfs.FeedEntity {
	tel := rec.Telemetry
	if tel.Latitude == nil || tel.Longitude == nil {
		return nil
	}

	vehicle := &gtfs.VehiclePosition{
		Position: &gtfs.Position{
			Latitude:  proto.Float32(float32(*tel.Latitude)),
			Longitude: proto.Float32(float32(*tel.Longitude)),
		},
	}
	if bearing, ok := Bearing(tel.Heading); ok {
		vehicle.Position.Bearing = proto.Float32(bearing)
	}
	if tel.BusName != nil {
		vehicle.Vehicle = &gtfs.VehicleDescriptor{
			Id:    proto.String(*tel.BusName),
			Label: proto.String(*tel.BusName),
		}
	}
	if tel.LogTime != nil {
		vehicle.Timestamp = proto.Uint64(uint64(tel.LogTime.Unix()))
	}

	return &gtfs.FeedEntity{
		Id:      proto.String(rec.StudentID),
		Vehicle: vehicle,
	}
}

// Bearing converts a reported heading, either degrees or a compass point,
// into degrees clockwise from north.
func Bearing(heading *string) (float32, bool) {
	if heading == nil {
		return 0, false
	}
	h := strings.ToUpper(strings.TrimSpace(*heading))
	if h == "" {
		return 0, false
	}
	if deg, err := strconv.ParseFloat(h, 32); err == nil {
		if deg < 0 || deg >= 360 {
			return 0, false
		}
		return float32(deg), true
	}
	deg, ok := compassPoints[h]
	return deg, ok
}

// Encode marshals the feed as protobuf, or as protojson when format is
// "json". It returns the content type to serve.
func Encode(msg *gtfs.FeedMessage, format string) ([]byte, string, error) {
	switch format {
	case "", "pb", "protobuf":
		data, err := proto.Marshal(msg)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal feed: %w", err)
		}
		return data, ContentTypeProtobuf, nil
	case "json":
		data, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal feed: %w", err)
		}
		return data, ContentTypeJSON, nil
	default:
		return nil, "", fmt.Errorf("unsupported feed format %q", format)
	}
}
