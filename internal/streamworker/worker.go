// Package streamworker implements the Stream Worker (spec.md §4.7,
// component C7): a long-running per-stream poll loop that fetches
// locations from a plugin, admits/resolves/transforms them, and hands the
// resulting CoT frames to the CoT Service.
package streamworker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trakbridge/trakbridge/internal/callsign"
	"github.com/trakbridge/trakbridge/internal/cotservice"
	"github.com/trakbridge/trakbridge/internal/devicestate"
	"github.com/trakbridge/trakbridge/internal/logging"
	"github.com/trakbridge/trakbridge/internal/metrics"
	"github.com/trakbridge/trakbridge/internal/models"
	"github.com/trakbridge/trakbridge/internal/plugin"
)

// Default tunables from spec.md §6 "Core"/"Parallelism".
const (
	DefaultTransformBatchSize    = 50
	DefaultTransformParallelism  = 8
	DefaultTransformEventTimeout = 2 * time.Second
	DefaultStale                 = 5 * time.Minute
	DefaultCircuitBreakerN       = 5
	DefaultMaxFetchAttempts      = 3

	// DefaultDeviceStateTTL is spec.md §3's DeviceState purge TTL: entries
	// with no newer event in this long are forgotten by the Device State
	// Tracker (spec.md §4.1 "forget_older_than").
	DefaultDeviceStateTTL = 24 * time.Hour
	minPurgeInterval      = time.Minute
)

// Snapshot is the immutable view of a stream's configuration a worker
// operates on for one iteration (spec.md §4.7 step 1 "Config snapshot").
// A new Snapshot is taken only when ConfigVersion changes.
type Snapshot struct {
	Stream          *models.Stream
	PluginConfig    map[string]interface{}
	Destinations    []cotservice.Destination
}

// SnapshotLoader loads the current Snapshot for a stream (spec.md §4.7
// step 1).
type SnapshotLoader func(streamID uint64) (*Snapshot, error)

// Bookkeeper persists the post-iteration bookkeeping fields (spec.md §4.7
// step 7: total_messages_sent, last_poll, last_error).
type Bookkeeper interface {
	RecordIteration(streamID uint64, sent int, fetchErr error)
}

// Metrics are the observable per-iteration counters a worker reports.
type Metrics struct {
	LastPoll       time.Time
	LastError      string
	Deduped        uint64
	Skipped        uint64
	Sent           uint64
	CircuitOpen    bool
	ConsecutiveErr int
}

// Options configures one Worker instance.
type Options struct {
	StreamID        uint64
	Load            SnapshotLoader
	Registry        *plugin.Registry
	CotService      *cotservice.Service
	Resolver        *callsign.Resolver
	Bookkeeper      Bookkeeper
	Logger          logging.Logger
	Metrics         *metrics.Registry

	TransformBatchSize    int
	TransformParallelism  int
	TransformEventTimeout time.Duration
	CircuitBreakerN       int
	DeviceStateTTL        time.Duration
}

// Worker drives one stream's poll loop (spec.md §4.7). Call Run in its own
// goroutine; Stop requests termination.
type Worker struct {
	opts Options
	log  logging.Logger

	tracker *devicestate.Tracker

	stopCh chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	metrics Metrics

	snapshot      *Snapshot
	configVersion int64

	nextPurge time.Time
}

// New constructs a Worker. Snapshot is loaded lazily on first iteration.
func New(opts Options) *Worker {
	if opts.TransformBatchSize <= 0 {
		opts.TransformBatchSize = DefaultTransformBatchSize
	}
	if opts.TransformParallelism <= 0 {
		opts.TransformParallelism = DefaultTransformParallelism
	}
	if opts.TransformEventTimeout <= 0 {
		opts.TransformEventTimeout = DefaultTransformEventTimeout
	}
	if opts.CircuitBreakerN <= 0 {
		opts.CircuitBreakerN = DefaultCircuitBreakerN
	}
	if opts.DeviceStateTTL <= 0 {
		opts.DeviceStateTTL = DefaultDeviceStateTTL
	}
	log := opts.Logger
	if log == nil {
		log = logging.New(context.Background())
	}
	return &Worker{
		opts:    opts,
		log:     log,
		tracker: devicestate.New(time.Now),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run executes the poll loop until ctx is cancelled or Stop is called
// (spec.md §4.7). It blocks; callers run it in its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		if err := w.refreshSnapshot(); err != nil {
			w.recordError(err)
		}

		w.purgeStaleDevices()

		interval := w.currentPollInterval()
		w.runIteration(ctx)

		if w.circuitOpen() {
			interval *= 4
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-w.stopCh:
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Stop requests the loop to exit after its current iteration.
func (w *Worker) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}

// Done returns a channel closed once Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Metrics returns a snapshot of the worker's observable counters.
func (w *Worker) Metrics() Metrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func (w *Worker) currentPollInterval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.snapshot == nil || w.snapshot.Stream.PollInterval <= 0 {
		return time.Second
	}
	return time.Duration(w.snapshot.Stream.PollInterval) * time.Second
}

func (w *Worker) circuitOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics.CircuitOpen
}

// refreshSnapshot reloads the Snapshot when the stream's config_version
// has changed (spec.md §4.7 step 1).
func (w *Worker) refreshSnapshot() error {
	snap, err := w.opts.Load(w.opts.StreamID)
	if err != nil {
		return fmt.Errorf("streamworker: load snapshot for stream %d: %w", w.opts.StreamID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.snapshot == nil || snap.Stream.ConfigVersion != w.configVersion {
		w.snapshot = snap
		w.configVersion = snap.Stream.ConfigVersion
	}
	return nil
}

// purgeStaleDevices runs the Device State Tracker's TTL sweep at most once
// per minPurgeInterval, regardless of how often Run ticks (spec.md §3
// "Entries older than a configurable TTL (default 24h) are purged", §4.1
// "forget_older_than"). Every long-running worker must call this or
// DeviceState entries for devices that stop reporting accumulate forever.
func (w *Worker) purgeStaleDevices() {
	now := time.Now()
	if now.Before(w.nextPurge) {
		return
	}
	w.tracker.ForgetOlderThan(w.opts.DeviceStateTTL)
	w.nextPurge = now.Add(minPurgeInterval)
}

func (w *Worker) recordError(err error) {
	w.mu.Lock()
	w.metrics.LastError = err.Error()
	w.metrics.ConsecutiveErr++
	if w.metrics.ConsecutiveErr >= w.opts.CircuitBreakerN {
		w.metrics.CircuitOpen = true
	}
	circuitOpen := w.metrics.CircuitOpen
	w.mu.Unlock()
	w.log.Warn("stream worker iteration failed", logging.Fields{
		"stream_id": w.opts.StreamID, "error": err.Error(),
	})

	if w.opts.Metrics != nil {
		label := w.streamLabel()
		w.opts.Metrics.WorkerIterations.WithLabelValues(label, "error").Inc()
		w.opts.Metrics.WorkerCircuitOpen.WithLabelValues(label).Set(boolToFloat(circuitOpen))
	}
}

func (w *Worker) recordSuccess() {
	w.mu.Lock()
	w.metrics.ConsecutiveErr = 0
	w.metrics.CircuitOpen = false
	w.mu.Unlock()

	if w.opts.Metrics != nil {
		label := w.streamLabel()
		w.opts.Metrics.WorkerIterations.WithLabelValues(label, "success").Inc()
		w.opts.Metrics.WorkerCircuitOpen.WithLabelValues(label).Set(0)
	}
}

func (w *Worker) streamLabel() string {
	return fmt.Sprintf("%d", w.opts.StreamID)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
