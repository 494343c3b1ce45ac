package hcb

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	serviceNS      = "http://tempuri.org/"
)

// buildEnvelope renders a SOAP 1.1 request for action with positional
// parameters P1..Pn.
func buildEnvelope(action string, params ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" ` +
		`xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap="` + soapEnvelopeNS + `">`)
	buf.WriteString(`<soap:Body><` + action + ` xmlns="` + serviceNS + `">`)
	for i, p := range params {
		tag := fmt.Sprintf("P%d", i+1)
		buf.WriteString("<" + tag + ">")
		// EscapeText only fails when the writer does
		_ = xml.EscapeText(&buf, []byte(p))
		buf.WriteString("</" + tag + ">")
	}
	buf.WriteString(`</` + action + `></soap:Body></soap:Envelope>`)
	return buf.Bytes()
}

type envelopeXML struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault *faultXML  `xml:"Fault"`
		S1100 *resultXML `xml:"s1100Response>s1100Result"`
		S1157 *resultXML `xml:"s1157Response>s1157Result"`
		S1158 *resultXML `xml:"s1158Response>s1158Result"`
	} `xml:"Body"`
}

type faultXML struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

// resultXML holds a method result. The service returns the payload either as
// nested elements or as an entity-escaped document.
type resultXML struct {
	InnerXML string `xml:",innerxml"`
	Text     string `xml:",chardata"`
}

func (r *resultXML) payload() []byte {
	if strings.Contains(r.InnerXML, "<SynoviaApi") {
		return []byte(r.InnerXML)
	}
	return []byte(strings.TrimSpace(r.Text))
}

type synoviaXML struct {
	XMLName          xml.Name `xml:"SynoviaApi"`
	ValidateCustomer *struct {
		Customer *struct {
			ID   string `xml:"ID,attr"`
			Name string `xml:"Name,attr"`
		} `xml:"Customer"`
	} `xml:"ValidateCustomerAccountNumber"`
	ParentLogin *struct {
		Account *struct {
			ID string `xml:"ID,attr"`
		} `xml:"Account"`
		Students []studentXML `xml:"LinkedStudents>Student"`
	} `xml:"ParentLogin"`
	StopsAndScans *struct {
		Stops *struct {
			VehicleLocation *vehicleLocationXML `xml:"VehicleLocation"`
			StudentStops    []stopXML           `xml:"StudentStops>StudentStop"`
		} `xml:"GetStudentStops"`
	} `xml:"GetStudentStopsAndScans"`
}

type studentXML struct {
	EntityID  string `xml:"EntityID,attr"`
	FirstName string `xml:"FirstName,attr"`
}

type vehicleLocationXML struct {
	Name         string `xml:"Name,attr"`
	Latitude     string `xml:"Latitude,attr"`
	Longitude    string `xml:"Longitude,attr"`
	Address      string `xml:"Address,attr"`
	Heading      string `xml:"Heading,attr"`
	Speed        string `xml:"Speed,attr"`
	Ignition     string `xml:"Ignition,attr"`
	DisplayOnMap string `xml:"DisplayOnMap,attr"`
	Latent       string `xml:"Latent,attr"`
	MessageCode  string `xml:"MessageCode,attr"`
	LogTime      string `xml:"LogTime,attr"`
}

type stopXML struct {
	Name        string `xml:"Name,attr"`
	StopType    string `xml:"StopType,attr"`
	TimeOfDayID string `xml:"TimeOfDayId,attr"`
	StartTime   string `xml:"StartTime,attr"`
	ArrivalTime string `xml:"ArrivalTime,attr"`
}

// decodeEnvelope parses a response body into the service payload of action.
func decodeEnvelope(action string, body []byte) (*synoviaXML, error) {
	var env envelopeXML
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, &MalformedResponseError{Action: action, Detail: "invalid envelope", Err: err}
	}
	if env.Body.Fault != nil {
		return nil, &MalformedResponseError{
			Action: action,
			Detail: fmt.Sprintf("fault %s: %s", env.Body.Fault.Code, env.Body.Fault.String),
		}
	}

	var result *resultXML
	switch action {
	case actionResolveSchool:
		result = env.Body.S1100
	case actionResolveParent:
		result = env.Body.S1157
	case actionFetchStops:
		result = env.Body.S1158
	}
	if result == nil {
		return nil, &MalformedResponseError{Action: action, Detail: "missing result element"}
	}

	payload := result.payload()
	if len(payload) == 0 {
		return nil, &MalformedResponseError{Action: action, Detail: "empty result"}
	}
	var api synoviaXML
	if err := xml.Unmarshal(payload, &api); err != nil {
		return nil, &MalformedResponseError{Action: action, Detail: "invalid result document", Err: err}
	}
	return &api, nil
}

func (v *vehicleLocationXML) toLocation() (*Location, error) {
	loc := &Location{
		BusName: optString(v.Name),
		Address: optString(v.Address),
		Heading: optString(v.Heading),
	}

	var err error
	if loc.Latitude, err = optFloat(v.Latitude); err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	if loc.Longitude, err = optFloat(v.Longitude); err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}
	if loc.Speed, err = optInt(v.Speed); err != nil {
		return nil, fmt.Errorf("speed: %w", err)
	}
	if loc.MessageCode, err = optInt(v.MessageCode); err != nil {
		return nil, fmt.Errorf("message code: %w", err)
	}
	if loc.Ignition, err = optFlag(v.Ignition); err != nil {
		return nil, fmt.Errorf("ignition: %w", err)
	}
	if loc.DisplayOnMap, err = optFlag(v.DisplayOnMap); err != nil {
		return nil, fmt.Errorf("display on map: %w", err)
	}
	if loc.Latent, err = optFlag(v.Latent); err != nil {
		return nil, fmt.Errorf("latent: %w", err)
	}
	if v.LogTime != "" {
		dt, err := parseDateTime(v.LogTime)
		if err != nil {
			return nil, fmt.Errorf("log time: %w", err)
		}
		loc.LogTime = &dt
	}
	return loc, nil
}

func (s *stopXML) toStop() (Stop, error) {
	stop := Stop{
		Name:  s.Name,
		Type:  StopType(s.StopType),
		Token: SegmentToken(strings.ToUpper(s.TimeOfDayID)),
	}
	if _, ok := stop.Token.Segment(); !ok {
		return Stop{}, fmt.Errorf("unknown time of day %q", s.TimeOfDayID)
	}

	start, err := parseClock(s.StartTime)
	if err != nil {
		return Stop{}, fmt.Errorf("start time: %w", err)
	}
	stop.ScheduledStart = start

	if s.ArrivalTime != "" {
		arrival, err := parseClock(s.ArrivalTime)
		if err != nil {
			return Stop{}, fmt.Errorf("arrival time: %w", err)
		}
		stop.Arrival = &arrival
	}
	return stop, nil
}

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"1/2/2006 3:04:05 PM",
}

var clockLayouts = []string{
	"15:04:05.999999999",
	"15:04",
	"3:04:05 PM",
	"3:04 PM",
}

// parseDateTime parses a service timestamp into wall-clock time. Timestamps
// carrying an offset keep the wall time at that offset.
func parseDateTime(s string) (civil.DateTime, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return civil.DateTimeOf(t), nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateTimeOf(t), nil
		}
	}
	return civil.DateTime{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// parseClock parses a time of day, accepting a bare clock time or a full
// timestamp whose date is ignored.
func parseClock(s string) (civil.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Time{}, fmt.Errorf("empty time")
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.TimeOf(t), nil
		}
	}
	dt, err := parseDateTime(s)
	if err != nil {
		return civil.Time{}, err
	}
	return dt.Time, nil
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optFloat(s string) (*float64, error) {
	if s = strings.TrimSpace(s); s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func optInt(s string) (*int, error) {
	if s = strings.TrimSpace(s); s == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		// Speeds are occasionally reported with a fractional part
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil, err
		}
		i = int(f)
	}
	return &i, nil
}

func optFlag(s string) (*bool, error) {
	var b bool
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return nil, nil
	case "Y", "YES", "TRUE", "1":
		b = true
	case "N", "NO", "FALSE", "0":
		b = false
	default:
		return nil, fmt.Errorf("unrecognized flag %q", s)
	}
	return &b, nil
}
