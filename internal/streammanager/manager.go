// Package streammanager implements the Stream Manager (spec.md §4.8,
// component C8): the process-wide singleton that starts, stops, restarts,
// and health-monitors one streamworker.Worker per active stream, and
// wraps persistence updates with optimistic-concurrency retry.
package streammanager

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/trakbridge/trakbridge/internal/cotservice"
	"github.com/trakbridge/trakbridge/internal/logging"
	"github.com/trakbridge/trakbridge/internal/models"
	"github.com/trakbridge/trakbridge/internal/streamworker"
	"github.com/trakbridge/trakbridge/internal/xerror"
)

// Default tunables from spec.md §4.8.
const (
	DefaultWorkerGrace     = 10 * time.Second
	DefaultManagerGrace    = 15 * time.Second
	DefaultHealthInterval  = 15 * time.Second
	DefaultMinMaxSilence   = 60 * time.Second
	DefaultConcurrencyTries = 3
)

// WorkerFactory constructs a streamworker.Worker for streamID; the Manager
// owns its lifecycle from here on.
type WorkerFactory func(streamID uint64) *streamworker.Worker

// Mutator is a persistence-layer update applied to a Stream row
// (spec.md §4.8 "update_stream_safely").
type Mutator func(stream *models.Stream) error

// StreamStore loads and saves Stream rows; Save must return an error
// recognizable via xerror.IsConcurrencyViolation on an optimistic-lock
// conflict (spec.md §9 "Optimistic locking across databases").
type StreamStore interface {
	Load(ctx context.Context, streamID uint64) (*models.Stream, error)
	Save(ctx context.Context, stream *models.Stream) error
}

type runningWorker struct {
	worker *streamworker.Worker
	cancel context.CancelFunc
}

// Manager is the process-wide singleton for stream lifecycle control
// (spec.md §4.8). Construct with New; call HealthLoop in its own
// goroutine and Shutdown on process exit.
type Manager struct {
	newWorker WorkerFactory
	store     StreamStore
	cotSvc    *cotservice.Service
	log       logging.Logger

	workerGrace    time.Duration
	managerGrace   time.Duration
	healthInterval time.Duration

	// perStreamLocks serializes control operations on one stream, per
	// spec.md §4.8 "Concurrency discipline": the mapping of stream->worker
	// is mutated only by Manager control operations, each serialized by a
	// per-stream lock.
	locksMu sync.Mutex
	locks   map[uint64]*sync.Mutex

	mu      sync.Mutex
	workers map[uint64]*runningWorker

	stopCh chan struct{}
}

// Options configures a Manager.
type Options struct {
	NewWorker      WorkerFactory
	Store          StreamStore
	CotService     *cotservice.Service
	Logger         logging.Logger
	WorkerGrace    time.Duration
	ManagerGrace   time.Duration
	HealthInterval time.Duration
}

// New constructs a Manager.
func New(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = logging.New(context.Background())
	}
	workerGrace := opts.WorkerGrace
	if workerGrace <= 0 {
		workerGrace = DefaultWorkerGrace
	}
	managerGrace := opts.ManagerGrace
	if managerGrace <= 0 {
		managerGrace = DefaultManagerGrace
	}
	healthInterval := opts.HealthInterval
	if healthInterval <= 0 {
		healthInterval = DefaultHealthInterval
	}
	return &Manager{
		newWorker:      opts.NewWorker,
		store:          opts.Store,
		cotSvc:         opts.CotService,
		log:            log,
		workerGrace:    workerGrace,
		managerGrace:   managerGrace,
		healthInterval: healthInterval,
		locks:          make(map[uint64]*sync.Mutex),
		workers:        make(map[uint64]*runningWorker),
		stopCh:         make(chan struct{}),
	}
}

func (m *Manager) lockFor(streamID uint64) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[streamID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[streamID] = l
	}
	return l
}

// Start starts the worker for streamID if not already running; idempotent
// (spec.md §4.8 "start(stream_id)").
func (m *Manager) Start(streamID uint64) error {
	lock := m.lockFor(streamID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	_, running := m.workers[streamID]
	m.mu.Unlock()
	if running {
		return nil
	}

	w := m.newWorker(streamID)
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.workers[streamID] = &runningWorker{worker: w, cancel: cancel}
	m.mu.Unlock()

	go w.Run(ctx)
	return nil
}

// Stop requests cancellation and joins up to workerGrace, discarding the
// worker instance (spec.md §4.8 "stop(stream_id)").
func (m *Manager) Stop(streamID uint64) error {
	lock := m.lockFor(streamID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	rw, ok := m.workers[streamID]
	if ok {
		delete(m.workers, streamID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	rw.worker.Stop()
	rw.cancel()

	select {
	case <-rw.worker.Done():
	case <-time.After(m.workerGrace):
		m.log.Warn("worker stop exceeded grace period", logging.Fields{"stream_id": streamID})
	}
	return nil
}

// Restart stops then starts a stream's worker (spec.md §4.8
// "restart(stream_id)").
func (m *Manager) Restart(streamID uint64) error {
	if err := m.Stop(streamID); err != nil {
		return err
	}
	return m.Start(streamID)
}

// WorkerMetrics returns the running worker's observable metrics for
// streamID, used by internal/api's GET /streams/{id}/health.
func (m *Manager) WorkerMetrics(streamID uint64) (streamworker.Metrics, bool) {
	m.mu.Lock()
	rw, ok := m.workers[streamID]
	m.mu.Unlock()
	if !ok {
		return streamworker.Metrics{}, false
	}
	return rw.worker.Metrics(), true
}

// ActiveStreamIDs returns the set of streams with a running worker.
func (m *Manager) ActiveStreamIDs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	return ids
}

// Reload is a hint that streamID's config_version changed; the running
// worker notices it on its own next tick, so this method does nothing and
// does not check that a worker for streamID exists (spec.md §4.8
// "reload(stream_id)").
func (m *Manager) Reload(streamID uint64) {
	// Intentionally empty: Worker.refreshSnapshot polls config_version
	// itself each iteration. Safe to call frequently and from any goroutine.
}

// UpdateStreamSafely wraps a persistence update with optimistic-concurrency
// retry (spec.md §4.8 "update_stream_safely"): on a database-reported
// concurrency violation, retries mutator up to 3 times with a 50-250ms
// jittered sleep; on final failure returns a Concurrency xerror and takes
// no side effect on the running worker.
func (m *Manager) UpdateStreamSafely(ctx context.Context, streamID uint64, mutate Mutator) error {
	var lastErr error
	for attempt := 1; attempt <= DefaultConcurrencyTries; attempt++ {
		stream, err := m.store.Load(ctx, streamID)
		if err != nil {
			return fmt.Errorf("streammanager: load stream %d: %w", streamID, err)
		}

		if err := mutate(stream); err != nil {
			return err
		}

		err = m.store.Save(ctx, stream)
		if err == nil {
			return nil
		}
		if !xerror.IsConcurrencyViolation(err) {
			return err
		}
		lastErr = err

		jitter := 50*time.Millisecond + time.Duration(rand.Int63n(int64(200*time.Millisecond)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
	}
	return xerror.AsConcurrency(lastErr)
}

// HealthLoop scans all workers every healthInterval, restarting any whose
// last iteration (Worker.Metrics().LastPoll) is older than maxSilence
// (spec.md §4.8 "Health loop"). LastPoll is set after every iteration,
// failed or not, so a worker whose iterations keep failing is not
// restarted by this loop. Run in its own goroutine; returns when Shutdown
// is called.
func (m *Manager) HealthLoop(maxSilenceFor func(streamID uint64) time.Duration) {
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		snapshot := make(map[uint64]*runningWorker, len(m.workers))
		for id, rw := range m.workers {
			snapshot[id] = rw
		}
		m.mu.Unlock()

		for id, rw := range snapshot {
			maxSilence := maxSilenceFor(id)
			if maxSilence < DefaultMinMaxSilence {
				maxSilence = DefaultMinMaxSilence
			}
			last := rw.worker.Metrics().LastPoll
			if last.IsZero() {
				continue
			}
			if time.Since(last) > maxSilence {
				m.log.Warn("worker silent past max_silence, restarting", logging.Fields{
					"stream_id": id, "max_silence": maxSilence.String(),
				})
				_ = m.Restart(id)
			}
		}
	}
}

// Shutdown signals all workers to stop, waits up to managerGrace, then
// invokes cot_service.shutdown() (spec.md §4.8 "shutdown()").
func (m *Manager) Shutdown() {
	close(m.stopCh)

	m.mu.Lock()
	ids := make([]uint64, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	deadline := time.Now().Add(m.managerGrace)
	for _, id := range ids {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		m.stopWithin(id, remaining)
	}

	if m.cotSvc != nil {
		m.cotSvc.Shutdown(m.managerGrace)
	}
}

func (m *Manager) stopWithin(streamID uint64, grace time.Duration) {
	m.mu.Lock()
	rw, ok := m.workers[streamID]
	if ok {
		delete(m.workers, streamID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	rw.worker.Stop()
	rw.cancel()
	select {
	case <-rw.worker.Done():
	case <-time.After(grace):
	}
}
