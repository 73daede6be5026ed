// Package cot implements the Cursor-on-Target event model and its wire
// serialization (spec.md §3 "CoTEvent", §6 "Wire format to TAK servers").
// No example repo in the retrieved pack carries a CoT codec, so this
// package is built directly against the standard library's encoding/xml —
// see DESIGN.md for the justification of that one stdlib-only choice.
package cot

import (
	"encoding/xml"
	"fmt"
	"time"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// unknownHAE / unknownCE / unknownLE are the CoT schema's sentinel values
// for "unknown" point precision (spec.md §6).
const (
	unknownHAE = 9999999.0
	unknownCEorLE = 99.9
)

// Event is the structural view of one CoT 2.0 event (spec.md §3 "CoTEvent").
type Event struct {
	UID   string
	Type  string
	How   string
	Time  time.Time
	Start time.Time
	Stale time.Time

	Lat float64
	Lon float64
	HAE *float64
	CE  *float64
	LE  *float64

	Callsign string
	Remarks  string
	Course   *float64
	Speed    *float64
}

// NewEvent builds an Event with How defaulted to "m-g" (machine-generated,
// GPS) per spec.md §6, and Start/Time set equal to the supplied timestamp.
func NewEvent(uid, cotType string, at time.Time, lat, lon float64, staleAfter time.Duration) *Event {
	return &Event{
		UID:   uid,
		Type:  cotType,
		How:   "m-g",
		Time:  at,
		Start: at,
		Stale: at.Add(staleAfter),
		Lat:   lat,
		Lon:   lon,
	}
}

// xmlEvent mirrors the CoT 2.0 XML schema subset this bridge emits.
type xmlEvent struct {
	XMLName xml.Name  `xml:"event"`
	Version string    `xml:"version,attr"`
	UID     string    `xml:"uid,attr"`
	Type    string    `xml:"type,attr"`
	How     string    `xml:"how,attr"`
	Time    string    `xml:"time,attr"`
	Start   string    `xml:"start,attr"`
	Stale   string    `xml:"stale,attr"`
	Point   xmlPoint  `xml:"point"`
	Detail  xmlDetail `xml:"detail"`
}

type xmlPoint struct {
	Lat float64 `xml:"lat,attr"`
	Lon float64 `xml:"lon,attr"`
	HAE float64 `xml:"hae,attr"`
	CE  float64 `xml:"ce,attr"`
	LE  float64 `xml:"le,attr"`
}

type xmlDetail struct {
	Contact xmlContact `xml:"contact"`
	Track   *xmlTrack  `xml:"track,omitempty"`
	Remarks string     `xml:"remarks,omitempty"`
}

type xmlContact struct {
	Callsign string `xml:"callsign,attr"`
}

type xmlTrack struct {
	Course float64 `xml:"course,attr"`
	Speed  float64 `xml:"speed,attr"`
}

// MarshalXML serializes the event to CoT 2.0 XML (UTF-8, no BOM), one
// self-contained <event> element, per spec.md §6.
func (e *Event) MarshalXML() ([]byte, error) {
	hae := unknownHAE
	if e.HAE != nil {
		hae = *e.HAE
	}
	ce := unknownCEorLE
	if e.CE != nil {
		ce = *e.CE
	}
	le := unknownCEorLE
	if e.LE != nil {
		le = *e.LE
	}

	how := e.How
	if how == "" {
		how = "m-g"
	}

	x := xmlEvent{
		Version: "2.0",
		UID:     e.UID,
		Type:    e.Type,
		How:     how,
		Time:    e.Time.UTC().Format(timeLayout),
		Start:   e.Start.UTC().Format(timeLayout),
		Stale:   e.Stale.UTC().Format(timeLayout),
		Point: xmlPoint{
			Lat: e.Lat,
			Lon: e.Lon,
			HAE: hae,
			CE:  ce,
			LE:  le,
		},
		Detail: xmlDetail{
			Contact: xmlContact{Callsign: e.Callsign},
			Remarks: e.Remarks,
		},
	}

	if e.Course != nil && e.Speed != nil {
		x.Detail.Track = &xmlTrack{Course: *e.Course, Speed: *e.Speed}
	}

	body, err := xml.Marshal(x)
	if err != nil {
		return nil, fmt.Errorf("cot: marshal event %s: %w", e.UID, err)
	}

	out := make([]byte, 0, len(xml.Header)+len(body))
	out = append(out, xml.Header...)
	out = append(out, body...)
	return out, nil
}
