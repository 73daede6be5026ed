package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trakbridge/trakbridge/internal/cotservice"
	"github.com/trakbridge/trakbridge/internal/db"
	"github.com/trakbridge/trakbridge/internal/logging"
	"github.com/trakbridge/trakbridge/internal/models"
	"github.com/trakbridge/trakbridge/internal/plugin"
	"github.com/trakbridge/trakbridge/internal/streammanager"
	"github.com/trakbridge/trakbridge/internal/streamworker"
)

type discoverPlugin struct{}

func (discoverPlugin) Metadata() plugin.Metadata { return plugin.Metadata{ID: "fake"} }
func (discoverPlugin) ValidateConfig(map[string]interface{}) []plugin.FieldError { return nil }
func (discoverPlugin) Fetch(context.Context, map[string]interface{}) ([]plugin.Location, error) {
	return []plugin.Location{{DeviceUID: "D1", Name: "Alpha"}}, nil
}
func (discoverPlugin) TestConnection(context.Context, map[string]interface{}) (plugin.HealthReport, error) {
	return plugin.HealthReport{OK: true}, nil
}

func newTestServer(t *testing.T) (*Server, *db.Repository) {
	t.Helper()
	gdb, err := db.Open(db.Config{Driver: db.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	repo := db.New(gdb, nil)

	registry := plugin.NewRegistry(nil)
	require.NoError(t, registry.RegisterBuiltin("fake", func() plugin.Plugin { return discoverPlugin{} }))

	cotSvc := cotservice.New(cotservice.Options{LingerAfterEmpty: time.Minute})
	t.Cleanup(func() { cotSvc.Shutdown(time.Second) })

	mgr := streammanager.New(streammanager.Options{
		NewWorker: func(id uint64) *streamworker.Worker {
			return streamworker.New(streamworker.Options{
				StreamID: id,
				Load: func(uint64) (*streamworker.Snapshot, error) {
					return repo.LoadSnapshot(id)
				},
				Registry:   registry,
				CotService: cotSvc,
			})
		},
		Store: repo,
	})

	return New(mgr, repo, cotSvc, registry, logging.New(context.Background())), repo
}

func TestHandleHealth_NoActiveStreams(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleDiscoverTrackers_ReturnsLocations(t *testing.T) {
	srv, repo := newTestServer(t)
	ctx := context.Background()

	stream := &models.Stream{
		Name: "s1", PluginType: "fake", PollInterval: 60,
		DefaultCotType: "a-f-G", CotTypeMode: models.CotTypeModePerStream,
	}
	require.NoError(t, repo.CreateStream(ctx, stream))

	req := httptest.NewRequest(http.MethodPost, "/streams/1/discover-trackers", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Alpha")
}

func TestHandleStreamHealth_NotRunning(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/streams/99/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":false`)
}
