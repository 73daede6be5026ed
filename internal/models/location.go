package models

import "time"

// Location is the normalized shape every plugin produces from an upstream
// fetch (spec.md §4.5 "A Location carries..."). It is transient: built on
// each poll, consumed by the resolver and transform stage, never persisted.
type Location struct {
	DeviceUID string
	Name      string
	Timestamp time.Time

	Lat float64
	Lon float64

	Alt      *float64
	Course   *float64
	Speed    *float64
	Accuracy *float64

	// AdditionalData carries plugin-specific fields (IMEI, battery, raw
	// payload fragments) used as a fallback identifier source by the
	// Callsign Resolver when a plugin does not implement CallsignMappable.
	AdditionalData map[string]interface{}

	// CotType, if non-empty, is the plugin's declared per-event CoT type
	// override; honored only when the owning stream is CotTypeModePerPoint.
	CotType string
}

// FieldMeta describes one identifier field a CallsignMappable plugin exposes
// for the callsign-mapping UI (spec.md §4.5 "available_identifier_fields").
type FieldMeta struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
}

// DeviceState is the runtime-only per-(stream, device) dedup record
// (spec.md §3 "DeviceState"). Owned exclusively by one StreamWorker's
// DeviceStateTracker (spec.md §3 "Ownership").
type DeviceState struct {
	LastEventTimestamp time.Time
	LastSeenWallClock  time.Time
}
