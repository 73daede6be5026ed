// Package cotservice implements the process-wide CoT Service (spec.md §4.4,
// component C4): one goroutine-backed fan-out point per TAK server, each
// pairing a takconn.Connection with a queue.Queue and a sender loop. Stream
// Workers never touch a Connection directly; they call Enqueue.
package cotservice

import (
	"context"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"github.com/trakbridge/trakbridge/internal/logging"
	"github.com/trakbridge/trakbridge/internal/metrics"
	"github.com/trakbridge/trakbridge/internal/models"
	"github.com/trakbridge/trakbridge/internal/queue"
	"github.com/trakbridge/trakbridge/internal/syncmap"
	"github.com/trakbridge/trakbridge/internal/takcert"
	"github.com/trakbridge/trakbridge/internal/takconn"
)

// Destination identifies one target TAK server.
type Destination struct {
	ServerID uint64
	Server   *models.TAKServer
	Bundle   *takcert.Bundle
}

// Options configures service-wide tunables (spec.md §6).
type Options struct {
	QueueCapacity    int
	FreshnessWindow  time.Duration
	LingerAfterEmpty time.Duration
	Logger           logging.Logger
	Metrics          *metrics.Registry
}

type entry struct {
	conn  *takconn.Connection
	queue *queue.Queue

	cancel context.CancelFunc
	done   chan struct{}

	idleMu    sync.Mutex
	idleSince time.Time // zero while the queue has been non-empty

	// lastSent/lastDropped track queue.Metrics' cumulative counters so the
	// periodic reporter can publish them to Prometheus as counter deltas
	// rather than re-deriving absolute values (spec.md §6 "metrics are a
	// non-goal of the core but SHOULD be exposed when a Prometheus stack is
	// present" is satisfied here without the queue package depending on
	// Prometheus itself).
	lastSent    uint64
	lastDropped uint64
}

// Service owns the {tak_server_id -> (Connection, Queue)} map (spec.md §4.4
// "State owned"). It is a process-wide singleton; construct one with New and
// share it across Stream Workers.
type Service struct {
	opts Options
	log  logging.Logger

	mu      sync.Mutex
	entries *syncmap.Map[uint64, *entry]

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Service. Call Shutdown to drain and stop all connections.
func New(opts Options) *Service {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = queue.DefaultCapacity
	}
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = 60 * time.Second
	}
	if opts.LingerAfterEmpty <= 0 {
		opts.LingerAfterEmpty = 5 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = logging.New(context.Background())
	}
	s := &Service{
		opts:    opts,
		log:     log,
		entries: syncmap.New[uint64, *entry](),
		stopCh:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.idleReaper()
	return s
}

// idleReaper closes Connections whose queue has sat empty for longer than
// LingerAfterEmpty (spec.md §4.4 "lazily opened on first enqueue... closed
// after a linger period of inactivity"). Frames enqueued after a close
// simply reopen the entry via getOrOpen.
func (s *Service) idleReaper() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.LingerAfterEmpty / 4)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		now := time.Now()
		s.reportMetrics()
		s.entries.Range(func(id uint64, e *entry) bool {
			e.idleMu.Lock()
			idleSince := e.idleSince
			e.idleMu.Unlock()

			if idleSince.IsZero() || now.Sub(idleSince) < s.opts.LingerAfterEmpty {
				return true
			}

			s.mu.Lock()
			cur, ok := s.entries.Load(id)
			if ok && cur == e {
				s.entries.Delete(id)
			}
			s.mu.Unlock()

			if ok && cur == e {
				e.cancel()
				s.log.Info("closed idle tak server connection", logging.Fields{"tak_server_id": id})
			}
			return true
		})
	}
}

// reportMetrics publishes per-destination queue depth, connection state and
// counter deltas to Prometheus. A no-op when Options.Metrics is nil.
func (s *Service) reportMetrics() {
	if s.opts.Metrics == nil {
		return
	}
	s.entries.Range(func(id uint64, e *entry) bool {
		label := fmt.Sprintf("%d", id)
		qm := e.queue.Metrics()

		s.opts.Metrics.QueueDepth.WithLabelValues(label).Set(float64(qm.Depth))
		s.opts.Metrics.ConnectionState.WithLabelValues(label).Set(float64(e.conn.Health().State))

		if delta := qm.Sent - e.lastSent; delta > 0 {
			s.opts.Metrics.FramesSent.WithLabelValues(label).Add(float64(delta))
			e.lastSent = qm.Sent
		}
		dropped := qm.DroppedFull + qm.DroppedStale
		if delta := dropped - e.lastDropped; delta > 0 {
			s.opts.Metrics.QueueDropped.WithLabelValues(label, "overflow_or_stale").Add(float64(delta))
			e.lastDropped = dropped
		}
		return true
	})
}

// Enqueue hands frames to the per-destination queue, lazily opening the
// underlying Connection on first use (spec.md §4.4 "enqueue(frames,
// destinations)").
func (s *Service) Enqueue(ctx context.Context, dest Destination, frames []*queue.Frame) error {
	e, err := s.getOrOpen(ctx, dest)
	if err != nil {
		return err
	}
	e.queue.Enqueue(frames)
	return nil
}

func (s *Service) getOrOpen(ctx context.Context, dest Destination) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries.Load(dest.ServerID); ok {
		return e, nil
	}

	var externalCA *x509.CertPool
	if len(dest.Server.CATrustBundle) > 0 {
		pool, err := takcert.LoadCATrust(dest.Server.CATrustBundle)
		if err != nil {
			return nil, fmt.Errorf("cotservice: load ca trust for server %d: %w", dest.ServerID, err)
		}
		externalCA = pool
	}

	tlsConfig, err := takcert.BuildTLSConfig(dest.Server, dest.Bundle, externalCA)
	if err != nil && dest.Server.Protocol == models.ProtocolTLS {
		return nil, fmt.Errorf("cotservice: build tls config for server %d: %w", dest.ServerID, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	conn := takconn.New(takconn.Options{
		Server:    dest.Server,
		TLSConfig: tlsConfig,
		Logger:    s.log,
	})

	e := &entry{
		conn:   conn,
		queue:  queue.New(s.opts.QueueCapacity),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.entries.Store(dest.ServerID, e)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.Run(connCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(e.done)
		s.senderLoop(connCtx, dest.ServerID, e)
	}()

	_ = ctx
	return e, nil
}

// senderLoop drains e.queue and sends frames over e.conn, requeueing on
// transient send failure (spec.md §4.4 "Per-destination sender").
func (s *Service) senderLoop(ctx context.Context, serverID uint64, e *entry) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if e.conn.Health().State != takconn.Connected {
			continue
		}

		f, ok := e.queue.Dequeue(s.opts.FreshnessWindow)
		if !ok {
			e.idleMu.Lock()
			if e.idleSince.IsZero() {
				e.idleSince = time.Now()
			}
			e.idleMu.Unlock()
			continue
		}
		e.idleMu.Lock()
		e.idleSince = time.Time{}
		e.idleMu.Unlock()

		start := time.Now()
		if err := e.conn.Send(ctx, f.Bytes); err != nil {
			e.queue.RecordSendError()
			f.Attempts++
			if f.Attempts < 3 {
				e.queue.Requeue(f)
			} else {
				s.log.Warn("dropping frame after repeated send failures", logging.Fields{
					"tak_server_id": serverID, "uid": f.UID, "attempts": f.Attempts,
				})
			}
			continue
		}
		e.queue.RecordSent(time.Since(start))
	}
}

// ReloadServer tears down and re-opens the Connection for a TAK server
// whose configuration changed (spec.md §4.4 "reload_server(tak_server_id)"),
// preserving the existing queue so buffered frames are not lost.
func (s *Service) ReloadServer(dest Destination) error {
	s.mu.Lock()
	old, existed := s.entries.Load(dest.ServerID)
	if existed {
		s.entries.Delete(dest.ServerID)
	}
	s.mu.Unlock()

	if existed {
		old.cancel()
		<-old.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tlsConfig, err := takcert.BuildTLSConfig(dest.Server, dest.Bundle, nil)
	if err != nil && dest.Server.Protocol == models.ProtocolTLS {
		return fmt.Errorf("cotservice: build tls config for server %d: %w", dest.ServerID, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	conn := takconn.New(takconn.Options{Server: dest.Server, TLSConfig: tlsConfig, Logger: s.log})

	q := queue.New(s.opts.QueueCapacity)
	if existed {
		q = old.queue
	}

	e := &entry{conn: conn, queue: q, cancel: cancel, done: make(chan struct{})}
	s.entries.Store(dest.ServerID, e)

	s.wg.Add(2)
	go func() { defer s.wg.Done(); conn.Run(connCtx) }()
	go func() { defer s.wg.Done(); defer close(e.done); s.senderLoop(connCtx, dest.ServerID, e) }()

	return nil
}

// QueueMetrics returns the queue.Metrics for a destination, if it has an
// open entry.
func (s *Service) QueueMetrics(serverID uint64) (queue.Metrics, bool) {
	e, ok := s.entries.Load(serverID)
	if !ok {
		return queue.Metrics{}, false
	}
	return e.queue.Metrics(), true
}

// ConnectionsOpen counts destinations currently in the Connected state,
// used by internal/api's GET /api/health "cot.connections_open".
func (s *Service) ConnectionsOpen() int {
	count := 0
	s.entries.Range(func(_ uint64, e *entry) bool {
		if e.conn.Health().State == takconn.Connected {
			count++
		}
		return true
	})
	return count
}

// ConnectionHealth returns the takconn.Health for a destination, if open.
func (s *Service) ConnectionHealth(serverID uint64) (takconn.Health, bool) {
	e, ok := s.entries.Load(serverID)
	if !ok {
		return takconn.Health{}, false
	}
	return e.conn.Health(), true
}

// Shutdown cancels every Connection and sender loop and waits up to grace
// for them to exit (spec.md §4.4 "shutdown()").
func (s *Service) Shutdown(grace time.Duration) {
	close(s.stopCh)
	s.entries.Range(func(_ uint64, e *entry) bool {
		e.cancel()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.log.Warn("cotservice shutdown grace period exceeded", nil)
	}
}
