// Package callsign implements the Callsign/CoT Resolver (spec.md §4.6,
// component C6): rewrites a batch of plugin locations' display names using
// a stream's CallsignMapping set, and decides the CoT type precedence for
// each location.
package callsign

import (
	"sync"

	"github.com/trakbridge/trakbridge/internal/models"
	"github.com/trakbridge/trakbridge/internal/plugin"
)

// MappingSet is one stream's enabled/disabled CallsignMapping rows, keyed
// by identifier value for O(1) lookup during Resolve.
type MappingSet struct {
	ConfigVersion int64
	ByIdentifier  map[string]models.CallsignMapping
}

func newMappingSet(configVersion int64, rows []models.CallsignMapping) MappingSet {
	byID := make(map[string]models.CallsignMapping, len(rows))
	for _, row := range rows {
		byID[row.IdentifierValue] = row
	}
	return MappingSet{ConfigVersion: configVersion, ByIdentifier: byID}
}

// Loader fetches the current CallsignMapping rows for a stream, used to
// refresh the Resolver's cache when config_version changes.
type Loader func(streamID uint64) ([]models.CallsignMapping, error)

// Resolver caches one MappingSet per stream, invalidated by config_version
// (spec.md §4.6 step 2 "cached until config_version changes").
type Resolver struct {
	load Loader

	mu    sync.Mutex
	cache map[uint64]MappingSet
}

// New constructs a Resolver backed by load.
func New(load Loader) *Resolver {
	return &Resolver{load: load, cache: make(map[uint64]MappingSet)}
}

// Result is the outcome of one Resolve call: the surviving locations plus
// the count dropped by disabled mappings or skip policy (spec.md §8
// scenario 5 "skip metric increments").
type Result struct {
	Locations []plugin.Location
	Skipped   uint64
}

// Resolve applies callsign resolution to locations in place, returning the
// surviving subset (spec.md §4.6 steps 1-5). The stream argument supplies
// enable_callsign_mapping, callsign_identifier_field,
// enable_per_callsign_cot_types, callsign_error_handling and
// default_cot_type.
func (r *Resolver) Resolve(stream *models.Stream, mappable plugin.CallsignMappable, locations []plugin.Location) (Result, error) {
	if !stream.EnableCallsignMapping {
		return Result{Locations: applyCotTypePrecedence(stream, locations, nil)}, nil
	}

	set, err := r.mappingSet(stream)
	if err != nil {
		return Result{}, err
	}

	identifierField := ""
	if stream.CallsignIdentifierField != nil {
		identifierField = *stream.CallsignIdentifierField
	}

	if mappable != nil {
		mapped := buildStringMapping(set)
		mappable.ApplyCallsigns(locations, identifierField, mapped)
	}

	out := make([]plugin.Location, 0, len(locations))
	overrides := make([]*string, 0, len(locations))
	var skipped uint64
	for _, loc := range locations {
		identifier := extractIdentifier(loc, identifierField)
		row, matched := set.ByIdentifier[identifier]

		var override *string
		switch {
		case matched && !row.Enabled:
			// Operational disable: drop unconditionally (spec.md §4.6
			// "Disabled mappings... cause the location to be dropped").
			skipped++
			continue
		case matched && row.Enabled:
			loc.Name = row.CustomCallsign
			if stream.EnablePerCallsignCotType && row.CotType != nil {
				cotType := *row.CotType
				override = &cotType
			}
		case stream.CallsignErrorHandling == models.CallsignErrorSkip:
			skipped++
			continue
		// fallback: leave loc.Name as the plugin's default.
		}
		out = append(out, loc)
		overrides = append(overrides, override)
	}

	return Result{Locations: applyCotTypePrecedence(stream, out, overrides), Skipped: skipped}, nil
}

func (r *Resolver) mappingSet(stream *models.Stream) (MappingSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.cache[stream.ID]; ok && set.ConfigVersion == stream.ConfigVersion {
		return set, nil
	}

	rows, err := r.load(stream.ID)
	if err != nil {
		return MappingSet{}, err
	}
	set := newMappingSet(stream.ConfigVersion, rows)
	r.cache[stream.ID] = set
	return set, nil
}

func buildStringMapping(set MappingSet) map[string]string {
	m := make(map[string]string, len(set.ByIdentifier))
	for id, row := range set.ByIdentifier {
		if row.Enabled {
			m[id] = row.CustomCallsign
		}
	}
	return m
}

// extractIdentifier reads the identifier value from a location's
// AdditionalData (spec.md §4.6 step 3 "best-effort lookup in
// additional_data"). Resolve uses it for every location, whether or not the
// plugin implements CallsignMappable.
func extractIdentifier(loc plugin.Location, field string) string {
	if field == "" || loc.AdditionalData == nil {
		return ""
	}
	v, _ := loc.AdditionalData[field].(string)
	return v
}

// applyCotTypePrecedence sets each location's effective CoT type following
// spec.md §4.6 "CoT type precedence": (1) per-callsign override, (2) the
// plugin-declared cot_type but only when the stream is per_point, (3) the
// stream default. overrides is nil or index-aligned with locations; a nil
// entry means no per-callsign override applies to that location.
func applyCotTypePrecedence(stream *models.Stream, locations []plugin.Location, overrides []*string) []plugin.Location {
	for i := range locations {
		if overrides != nil && overrides[i] != nil {
			locations[i].CotType = overrides[i]
			continue
		}
		if stream.CotTypeMode == models.CotTypeModePerPoint && locations[i].CotType != nil {
			continue // plugin's own declared cot_type passes through
		}
		defaultType := stream.DefaultCotType
		locations[i].CotType = &defaultType
	}
	return locations
}
