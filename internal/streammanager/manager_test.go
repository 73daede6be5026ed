package streammanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trakbridge/trakbridge/internal/models"
	"github.com/trakbridge/trakbridge/internal/plugin"
	"github.com/trakbridge/trakbridge/internal/streamworker"
)

type fakeStore struct {
	mu          sync.Mutex
	stream      *models.Stream
	failFirstN  int
	saveAttempt int
}

func (s *fakeStore) Load(_ context.Context, _ uint64) (*models.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.stream
	return &cp, nil
}

func (s *fakeStore) Save(_ context.Context, stream *models.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveAttempt++
	if s.saveAttempt <= s.failFirstN {
		return errors.New("database is locked")
	}
	s.stream = stream
	return nil
}

func newNoopWorker(id uint64) *streamworker.Worker {
	return streamworker.New(streamworker.Options{
		StreamID: id,
		Registry: plugin.NewRegistry(nil),
		Load: func(uint64) (*streamworker.Snapshot, error) {
			return &streamworker.Snapshot{Stream: &models.Stream{ID: id, PollInterval: 60}}, nil
		},
	})
}

func TestManager_StartStopIdempotent(t *testing.T) {
	m := New(Options{NewWorker: newNoopWorker})

	require.NoError(t, m.Start(1))
	require.NoError(t, m.Start(1)) // idempotent, no duplicate worker

	require.NoError(t, m.Stop(1))
	require.NoError(t, m.Stop(1)) // idempotent, no error on double-stop
}

func TestManager_UpdateStreamSafely_RetriesOnConcurrencyViolation(t *testing.T) {
	store := &fakeStore{stream: &models.Stream{ID: 1, ConfigVersion: 1}, failFirstN: 2}
	m := New(Options{NewWorker: newNoopWorker, Store: store})

	err := m.UpdateStreamSafely(context.Background(), 1, func(s *models.Stream) error {
		s.ConfigVersion++
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, store.stream.ConfigVersion)
	assert.Equal(t, 3, store.saveAttempt)
}

func TestManager_UpdateStreamSafely_GivesUpAfterMaxAttempts(t *testing.T) {
	store := &fakeStore{stream: &models.Stream{ID: 1}, failFirstN: 10}
	m := New(Options{NewWorker: newNoopWorker, Store: store})

	err := m.UpdateStreamSafely(context.Background(), 1, func(s *models.Stream) error { return nil })
	require.Error(t, err)
	assert.Equal(t, DefaultConcurrencyTries, store.saveAttempt)
}

func TestManager_Shutdown_StopsAllWorkers(t *testing.T) {
	m := New(Options{NewWorker: newNoopWorker, ManagerGrace: time.Second})
	require.NoError(t, m.Start(1))
	require.NoError(t, m.Start(2))

	m.Shutdown()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.workers)
}
