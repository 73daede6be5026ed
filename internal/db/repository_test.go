package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trakbridge/trakbridge/internal/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	gdb, err := Open(Config{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	return New(gdb, nil)
}

func TestRepository_CreateAndLoadStream(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	server := &models.TAKServer{Name: "primary", Host: "tak.example.com", Port: 8089, Protocol: models.ProtocolTCP}
	require.NoError(t, repo.db.WithContext(ctx).Create(server).Error)

	stream := &models.Stream{
		Name: "garmin-fleet", PluginType: "garmin_inreach", PollInterval: 60,
		DefaultCotType: "a-f-G-E-V-C", CotTypeMode: models.CotTypeModePerStream,
		TAKServerIDs: []uint64{server.ID},
	}
	require.NoError(t, repo.CreateStream(ctx, stream))
	assert.NotZero(t, stream.ID)
	assert.NotZero(t, stream.ConfigVersion)

	loaded, err := repo.Load(ctx, stream.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{server.ID}, loaded.TAKServerIDs)
}

func TestRepository_Save_RejectsStaleConfigVersion(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stream := &models.Stream{
		Name: "s1", PluginType: "garmin_inreach", PollInterval: 60,
		DefaultCotType: "a-f-G", CotTypeMode: models.CotTypeModePerStream,
	}
	require.NoError(t, repo.CreateStream(ctx, stream))

	loaded, err := repo.Load(ctx, stream.ID)
	require.NoError(t, err)

	// Simulate a concurrent writer that already bumped config_version.
	loaded.ConfigVersion--
	err = repo.Save(ctx, loaded)
	require.Error(t, err)
}

func TestRepository_LoadSnapshot_DecodesPluginConfig(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stream := &models.Stream{
		Name: "s2", PluginType: "garmin_inreach", PollInterval: 60,
		DefaultCotType: "a-f-G", CotTypeMode: models.CotTypeModePerStream,
	}
	require.NoError(t, repo.CreateStream(ctx, stream))

	cfg, err := encodePluginConfig(map[string]interface{}{"mapshare_id": "abc123"})
	require.NoError(t, err)
	require.NoError(t, repo.db.WithContext(ctx).Model(&models.Stream{}).
		Where("id = ?", stream.ID).Update("plugin_config", cfg).Error)

	snap, err := repo.LoadSnapshot(stream.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", snap.PluginConfig["mapshare_id"])
}

func TestRepository_CallsignMappings_CreateAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stream := &models.Stream{
		Name: "s3", PluginType: "garmin_inreach", PollInterval: 60,
		DefaultCotType: "a-f-G", CotTypeMode: models.CotTypeModePerStream,
	}
	require.NoError(t, repo.CreateStream(ctx, stream))

	mapping := &models.CallsignMapping{StreamID: stream.ID, IdentifierValue: "123", CustomCallsign: "ALPHA", Enabled: true}
	require.NoError(t, repo.SaveCallsignMapping(ctx, mapping))

	rows, err := repo.LoadCallsignMappings(stream.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ALPHA", rows[0].CustomCallsign)
}
