package streamworker

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trakbridge/trakbridge/internal/callsign"
	"github.com/trakbridge/trakbridge/internal/cotservice"
	"github.com/trakbridge/trakbridge/internal/models"
	"github.com/trakbridge/trakbridge/internal/plugin"
)

type fakeFetchPlugin struct {
	locations []plugin.Location
}

func (f *fakeFetchPlugin) Metadata() plugin.Metadata { return plugin.Metadata{ID: "fake"} }
func (f *fakeFetchPlugin) ValidateConfig(map[string]interface{}) []plugin.FieldError { return nil }
func (f *fakeFetchPlugin) Fetch(context.Context, map[string]interface{}) ([]plugin.Location, error) {
	return f.locations, nil
}
func (f *fakeFetchPlugin) TestConnection(context.Context, map[string]interface{}) (plugin.HealthReport, error) {
	return plugin.HealthReport{OK: true}, nil
}

func TestWorker_SingleIterationDelivers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		received <- buf[:n]
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	registry := plugin.NewRegistry(nil)
	fp := &fakeFetchPlugin{locations: []plugin.Location{
		{DeviceUID: "D1", Name: "raw", Timestamp: time.Now().UTC(), Lat: 1, Lon: 2},
	}}
	require.NoError(t, registry.RegisterBuiltin("fake", func() plugin.Plugin { return fp }))

	svc := cotservice.New(cotservice.Options{LingerAfterEmpty: time.Minute})
	defer svc.Shutdown(time.Second)

	resolver := callsign.New(func(uint64) ([]models.CallsignMapping, error) { return nil, nil })

	stream := &models.Stream{
		ID: 1, PluginType: "fake", PollInterval: 1, DefaultCotType: "a-f-G",
		CotTypeMode: models.CotTypeModePerStream,
	}
	dest := cotservice.Destination{ServerID: 1, Server: &models.TAKServer{ID: 1, Host: host, Port: port, Protocol: models.ProtocolTCP}}

	snap := &Snapshot{Stream: stream, Destinations: []cotservice.Destination{dest}}
	loader := func(uint64) (*Snapshot, error) { return snap, nil }

	w := New(Options{
		StreamID:   1,
		Load:       loader,
		Registry:   registry,
		CotService: svc,
		Resolver:   resolver,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go w.Run(ctx)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("frame was not delivered")
	}

	w.Stop()
	<-w.Done()

	m := w.Metrics()
	assert.EqualValues(t, 1, m.Sent)
}

func TestWorker_DedupOnReplay(t *testing.T) {
	registry := plugin.NewRegistry(nil)
	ts := time.Now().UTC()
	fp := &fakeFetchPlugin{locations: []plugin.Location{{DeviceUID: "D1", Timestamp: ts, Lat: 1, Lon: 2}}}
	require.NoError(t, registry.RegisterBuiltin("fake", func() plugin.Plugin { return fp }))

	svc := cotservice.New(cotservice.Options{LingerAfterEmpty: time.Minute})
	defer svc.Shutdown(time.Second)

	resolver := callsign.New(func(uint64) ([]models.CallsignMapping, error) { return nil, nil })
	stream := &models.Stream{ID: 1, PluginType: "fake", PollInterval: 1, DefaultCotType: "a-f-G"}
	snap := &Snapshot{Stream: stream}
	loader := func(uint64) (*Snapshot, error) { return snap, nil }

	w := New(Options{StreamID: 1, Load: loader, Registry: registry, CotService: svc, Resolver: resolver})

	ctx := context.Background()
	require.NoError(t, w.refreshSnapshot())
	w.runIteration(ctx)
	w.runIteration(ctx)

	m := w.Metrics()
	assert.EqualValues(t, 1, m.Deduped)
}

func TestWorker_PurgeStaleDevicesForgetsExpiredEntries(t *testing.T) {
	registry := plugin.NewRegistry(nil)
	svc := cotservice.New(cotservice.Options{LingerAfterEmpty: time.Minute})
	defer svc.Shutdown(time.Second)
	resolver := callsign.New(func(uint64) ([]models.CallsignMapping, error) { return nil, nil })

	w := New(Options{
		StreamID:       1,
		Load:           func(uint64) (*Snapshot, error) { return &Snapshot{Stream: &models.Stream{ID: 1}}, nil },
		Registry:       registry,
		CotService:     svc,
		Resolver:       resolver,
		DeviceStateTTL: time.Millisecond,
	})

	w.tracker.Admit("D1", time.Now())
	require.Equal(t, 1, w.tracker.Snapshot().DeviceCount)

	time.Sleep(5 * time.Millisecond)
	w.purgeStaleDevices()

	assert.Equal(t, 0, w.tracker.Snapshot().DeviceCount)
}
