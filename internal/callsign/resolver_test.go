package callsign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trakbridge/trakbridge/internal/models"
	"github.com/trakbridge/trakbridge/internal/plugin"
)

func ptr(s string) *string { return &s }

func TestResolve_PassthroughWhenDisabled(t *testing.T) {
	r := New(func(uint64) ([]models.CallsignMapping, error) { return nil, nil })
	stream := &models.Stream{EnableCallsignMapping: false, DefaultCotType: "a-f-G"}

	result, err := r.Resolve(stream, nil, []plugin.Location{{Name: "raw-id"}})
	require.NoError(t, err)
	require.Len(t, result.Locations, 1)
	assert.Equal(t, "raw-id", result.Locations[0].Name)
	assert.Equal(t, "a-f-G", *result.Locations[0].CotType)
}

func TestResolve_AppliesMappingFromAdditionalData(t *testing.T) {
	load := func(uint64) ([]models.CallsignMapping, error) {
		return []models.CallsignMapping{{IdentifierValue: "123", CustomCallsign: "ALPHA", Enabled: true}}, nil
	}
	r := New(load)
	field := "device_id"
	stream := &models.Stream{
		ID:                      1,
		EnableCallsignMapping:   true,
		CallsignIdentifierField: &field,
		CallsignErrorHandling:   models.CallsignErrorFallback,
		DefaultCotType:          "a-f-G",
	}

	locs := []plugin.Location{{Name: "raw", AdditionalData: map[string]interface{}{"device_id": "123"}}}
	result, err := r.Resolve(stream, nil, locs)
	require.NoError(t, err)
	require.Len(t, result.Locations, 1)
	assert.Equal(t, "ALPHA", result.Locations[0].Name)
}

func TestResolve_DisabledMappingDropsLocation(t *testing.T) {
	load := func(uint64) ([]models.CallsignMapping, error) {
		return []models.CallsignMapping{{IdentifierValue: "123", CustomCallsign: "ALPHA", Enabled: false}}, nil
	}
	r := New(load)
	field := "device_id"
	stream := &models.Stream{ID: 1, EnableCallsignMapping: true, CallsignIdentifierField: &field, DefaultCotType: "a-f-G"}

	locs := []plugin.Location{{Name: "raw", AdditionalData: map[string]interface{}{"device_id": "123"}}}
	result, err := r.Resolve(stream, nil, locs)
	require.NoError(t, err)
	assert.Empty(t, result.Locations)
}

func TestResolve_UnmatchedSkipPolicyDrops(t *testing.T) {
	load := func(uint64) ([]models.CallsignMapping, error) { return nil, nil }
	r := New(load)
	field := "device_id"
	stream := &models.Stream{
		ID: 1, EnableCallsignMapping: true, CallsignIdentifierField: &field,
		CallsignErrorHandling: models.CallsignErrorSkip, DefaultCotType: "a-f-G",
	}

	locs := []plugin.Location{{Name: "raw", AdditionalData: map[string]interface{}{"device_id": "999"}}}
	result, err := r.Resolve(stream, nil, locs)
	require.NoError(t, err)
	assert.Empty(t, result.Locations)
}

func TestResolve_CotTypePrecedence_PerCallsignWins(t *testing.T) {
	load := func(uint64) ([]models.CallsignMapping, error) {
		return []models.CallsignMapping{{IdentifierValue: "123", CustomCallsign: "ALPHA", Enabled: true, CotType: ptr("a-f-A")}}, nil
	}
	r := New(load)
	field := "device_id"
	stream := &models.Stream{
		ID: 1, EnableCallsignMapping: true, CallsignIdentifierField: &field,
		EnablePerCallsignCotType: true, DefaultCotType: "a-f-G", CotTypeMode: models.CotTypeModePerPoint,
	}

	locs := []plugin.Location{{AdditionalData: map[string]interface{}{"device_id": "123"}, CotType: ptr("a-f-X")}}
	result, err := r.Resolve(stream, nil, locs)
	require.NoError(t, err)
	require.Len(t, result.Locations, 1)
	assert.Equal(t, "a-f-A", *result.Locations[0].CotType)
}

func TestResolve_CotTypePrecedence_PerPointPluginType(t *testing.T) {
	r := New(func(uint64) ([]models.CallsignMapping, error) { return nil, nil })
	stream := &models.Stream{EnableCallsignMapping: false, CotTypeMode: models.CotTypeModePerPoint, DefaultCotType: "a-f-G"}

	locs := []plugin.Location{{CotType: ptr("a-f-X")}}
	result, err := r.Resolve(stream, nil, locs)
	require.NoError(t, err)
	assert.Equal(t, "a-f-X", *result.Locations[0].CotType)
}

func TestResolve_DefaultCotTypeWhenPerStream(t *testing.T) {
	r := New(func(uint64) ([]models.CallsignMapping, error) { return nil, nil })
	stream := &models.Stream{EnableCallsignMapping: false, CotTypeMode: models.CotTypeModePerStream, DefaultCotType: "a-f-G"}

	// per_stream mode ignores any plugin-declared cot_type and always uses
	// the stream default.
	locs := []plugin.Location{{CotType: ptr("a-f-X")}}
	result, err := r.Resolve(stream, nil, locs)
	require.NoError(t, err)
	assert.Equal(t, "a-f-G", *result.Locations[0].CotType)
}
