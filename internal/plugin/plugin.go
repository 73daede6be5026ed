// Package plugin defines the provider Plugin Contract (spec.md §4.5,
// component C5): the stable interface every tracker/OSINT/EMS source
// implements, the Registry that enumerates and loads them, and the shared
// PluginError taxonomy. Built-in plugins live in sibling packages
// (garmin, spot, traccar, deepstate); importing one registers nothing.
// cmd/trakbridged registers each of them with Registry.RegisterBuiltin at
// startup.
package plugin

import (
	"context"
	"time"
)

// Category classifies a plugin for UI grouping (spec.md §4.5 "metadata()").
type Category string

const (
	CategoryTracker Category = "tracker"
	CategoryOSINT   Category = "osint"
	CategoryEMS     Category = "ems"
)

// FieldMeta describes one identifier field a CallsignMappable plugin can
// expose for operator mapping (spec.md §4.5, §3 "FieldMeta").
type FieldMeta struct {
	Name    string
	Display string
	Type    string
}

// Metadata is a plugin's static self-description (spec.md §4.5 "metadata()").
type Metadata struct {
	ID             string
	DisplayName    string
	Category       Category
	ConfigSchema   map[string]interface{}
	DefaultCotType string
	HelpSections   []string
}

// Location is one reported position, the plugin-facing shape feeding the
// Stream Worker's Admit/Resolve/Transform pipeline (spec.md §4.5 "Location",
// §3 "Location").
type Location struct {
	DeviceUID      string
	Name           string
	Timestamp      time.Time
	Lat            float64
	Lon            float64
	Alt            *float64
	Course         *float64
	Speed          *float64
	Accuracy       *float64
	AdditionalData map[string]interface{}
	CotType        *string
}

// HealthReport is the result of a lightweight connectivity probe
// (spec.md §4.5 "test_connection(cfg)").
type HealthReport struct {
	OK      bool
	Message string
}

// FieldError describes one invalid or unknown configuration field
// (spec.md §4.5 "validate_config(cfg)").
type FieldError struct {
	Field   string
	Message string
}

// Plugin is the contract every provider variant implements (spec.md §4.5).
// A Plugin instance is reused across fetches of the same stream and is
// safe to call from exactly one worker goroutine at a time; it is never
// shared across workers concurrently.
type Plugin interface {
	Metadata() Metadata
	ValidateConfig(cfg map[string]interface{}) []FieldError
	Fetch(ctx context.Context, cfg map[string]interface{}) ([]Location, error)
	TestConnection(ctx context.Context, cfg map[string]interface{}) (HealthReport, error)
}

// CallsignMappable is an optional capability (spec.md §4.5 "Optional
// CallsignMappable capability") for plugins whose upstream data carries a
// natural device identifier usable as a callsign-mapping key.
type CallsignMappable interface {
	AvailableIdentifierFields() []FieldMeta
	ApplyCallsigns(locations []Location, fieldName string, mapping map[string]string)
}

// Config size/shape limits checked by ValidateShape (spec.md §4.5
// "enforces size and depth limits"). The built-in plugins' ValidateConfig
// methods do not apply them.
const (
	MaxConfigBytes     = 64 * 1024
	MaxConfigDepth      = 32
	MaxConfigObjectKeys = 1000
	MaxConfigArrayElems = 10000
)
