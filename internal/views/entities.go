// Package views projects student records into the entities a home
// automation platform consumes: sensors, binary sensors and a tracker.
package views

import (
	"fmt"
	"strings"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/schedule"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/student"
)

const (
	// Manufacturer is reported on every device
	Manufacturer = "Here Comes The Bus"

	busSuffix = "Bus"
)

// Device groups the entities of one student
type Device struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
}

// Sensor is a read-only value entity
type Sensor struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	UniqueID    string `json:"unique_id"`
	DeviceClass string `json:"device_class,omitempty"`
	Unit        string `json:"unit_of_measurement,omitempty"`
	State       any    `json:"state"`
}

// BinarySensor is an on/off entity. A nil state is unknown.
type BinarySensor struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	UniqueID string `json:"unique_id"`
	Icon     string `json:"icon,omitempty"`
	State    *bool  `json:"state"`
}

// Tracker is the bus position entity
type Tracker struct {
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	UniqueID     string   `json:"unique_id"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	LocationName *string  `json:"location_name"`
}

// Entities is every projection of one record
type Entities struct {
	Device        Device         `json:"device"`
	Sensors       []Sensor       `json:"sensors"`
	BinarySensors []BinarySensor `json:"binary_sensors"`
	Tracker       Tracker        `json:"tracker"`
}

type sensorDesc struct {
	key         string
	name        string
	deviceClass string
	unit        string
	// midOnly restricts the sensor to students with midday stops
	midOnly bool
	value   func(*student.Record) any
}

type binaryDesc struct {
	key    string
	name   string
	icon   string
	iconOn string
	value  func(*student.Record) *bool
}

var sensors = []sensorDesc{
	{key: "bus_name", name: "Number", value: func(r *student.Record) any { return deref(r.Telemetry.BusName) }},
	{key: "speed", name: "Speed", deviceClass: "speed", unit: "mph",
		value: func(r *student.Record) any { return deref(r.Telemetry.Speed) }},
	{key: "address", name: "Address", value: func(r *student.Record) any { return deref(r.Telemetry.Address) }},
	{key: "heading", name: "Heading", value: func(r *student.Record) any { return deref(r.Telemetry.Heading) }},
	{key: "log_time", name: "Log time", deviceClass: "timestamp",
		value: func(r *student.Record) any { return deref(r.Telemetry.LogTime) }},
	arrivalSensor(schedule.AM, "school"),
	arrivalSensor(schedule.AM, "stop"),
	arrivalSensor(schedule.Mid, "school"),
	arrivalSensor(schedule.Mid, "stop"),
	arrivalSensor(schedule.PM, "school"),
	arrivalSensor(schedule.PM, "stop"),
}

var binarySensors = []binaryDesc{
	{key: "ignition", name: "Ignition on", icon: "mdi:engine-off", iconOn: "mdi:engine",
		value: func(r *student.Record) *bool { return r.Telemetry.Ignition }},
	{key: "display_on_map", name: "Display on map", icon: "mdi:map-marker-alert", iconOn: "mdi:map-marker-check",
		value: func(r *student.Record) *bool { return r.Telemetry.DisplayOnMap }},
	{key: "message_code", name: "In Service", value: inService},
}

var segmentLabels = map[schedule.Segment]string{
	schedule.AM:  "AM",
	schedule.Mid: "Mid",
	schedule.PM:  "PM",
}

func arrivalSensor(seg schedule.Segment, kind string) sensorDesc {
	return sensorDesc{
		key:     fmt.Sprintf("%s_%s_arrival_time", seg, kind),
		name:    fmt.Sprintf("%s %s arrival time", segmentLabels[seg], kind),
		midOnly: seg == schedule.Mid,
		value: func(r *student.Record) any {
			state := r.Segment(seg)
			if kind == "school" {
				return deref(state.SchoolArrival)
			}
			return deref(state.StopArrival)
		},
	}
}

func inService(r *student.Record) *bool {
	if r.Telemetry.MessageCode == nil {
		return nil
	}
	on := *r.Telemetry.MessageCode == student.InService
	return &on
}

// Build projects rec. Midday arrival sensors exist only for students with
// midday stops.
func Build(rec *student.Record) Entities {
	prefix := rec.FirstName + " " + busSuffix
	e := Entities{
		Device: Device{
			ID:           rec.StudentID,
			Name:         prefix,
			Manufacturer: Manufacturer,
		},
		Sensors:       make([]Sensor, 0, len(sensors)),
		BinarySensors: make([]BinarySensor, 0, len(binarySensors)),
		Tracker: Tracker{
			Key:          "location",
			Name:         prefix,
			UniqueID:     uniqueID(rec, "location"),
			Latitude:     rec.Telemetry.Latitude,
			Longitude:    rec.Telemetry.Longitude,
			LocationName: rec.Telemetry.Address,
		},
	}

	for _, d := range sensors {
		if d.midOnly && !rec.HasMidStops {
			continue
		}
		e.Sensors = append(e.Sensors, Sensor{
			Key:         d.key,
			Name:        prefix + " " + d.name,
			UniqueID:    uniqueID(rec, d.key),
			DeviceClass: d.deviceClass,
			Unit:        d.unit,
			State:       d.value(rec),
		})
	}

	for _, d := range binarySensors {
		state := d.value(rec)
		icon := d.icon
		if state != nil && *state && d.iconOn != "" {
			icon = d.iconOn
		}
		e.BinarySensors = append(e.BinarySensors, BinarySensor{
			Key:      d.key,
			Name:     prefix + " " + d.name,
			UniqueID: uniqueID(rec, d.key),
			Icon:     icon,
			State:    state,
		})
	}

	return e
}

func uniqueID(rec *student.Record, key string) string {
	return strings.ToLower(fmt.Sprintf("%s_%s_%s", rec.FirstName, busSuffix, key))
}

// deref turns typed nil pointers into an untyped nil so JSON renders null
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
