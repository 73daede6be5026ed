package takconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/trakbridge/trakbridge/internal/logging"
	"github.com/trakbridge/trakbridge/internal/models"
	"github.com/trakbridge/trakbridge/internal/xerror"
)

// Default tunables from spec.md §4.2 and §6.
const (
	DefaultBackoffBase   = 1 * time.Second
	DefaultBackoffCap    = 60 * time.Second
	DefaultHeartbeat     = 30 * time.Second
	DefaultWriteTimeout  = 10 * time.Second
	DefaultHandshakeWait = 15 * time.Second
)

// Health reports a point-in-time view of a Persistent Connection
// (spec.md §4.2 "health()").
type Health struct {
	State              State
	LastSuccessfulSend time.Time
	LastError          string
}

// Options configures a Connection's dial target and policy.
type Options struct {
	Server         *models.TAKServer
	TLSConfig      *tls.Config // nil for plain TCP
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	Heartbeat      time.Duration
	WriteTimeout   time.Duration
	HandshakeWait  time.Duration
	Logger         logging.Logger
}

// Connection is one authenticated, reconnecting link to a TAK server
// (spec.md §4.2, component C2). Create with New, then call Run in a
// goroutine to drive the reconnect loop; Send/Health/Close are safe to call
// concurrently from other goroutines.
type Connection struct {
	opts Options

	mu    sync.Mutex
	conn  net.Conn
	state State

	lastSuccessfulSend time.Time
	lastError          string

	// brokenCh/brokenOnce are (re)allocated each time Run dials a new
	// connection; Send closes brokenCh on a write failure so waitUntilBroken
	// wakes immediately instead of waiting for the next heartbeat tick
	// (spec.md §4.2 "Connected -(write err | heartbeat miss)-> Disconnected").
	brokenCh   chan struct{}
	brokenOnce *sync.Once

	closeOnce sync.Once
	stopCh    chan struct{}
	stopped   chan struct{}
}

// New constructs a Connection. Zero-valued duration options are replaced
// with the spec.md defaults.
func New(opts Options) *Connection {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = DefaultBackoffCap
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.HandshakeWait <= 0 {
		opts.HandshakeWait = DefaultHandshakeWait
	}
	return &Connection{
		opts:    opts,
		state:   Disconnected,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run drives the dial/reconnect loop until ctx is cancelled or Close is
// called. It blocks; callers run it in its own goroutine.
func (c *Connection) Run(ctx context.Context) {
	defer close(c.stopped)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			c.transition(ShuttingDown)
			c.closeSocket()
			c.transition(Closed)
			return
		case <-c.stopCh:
			c.transition(ShuttingDown)
			c.closeSocket()
			c.transition(Closed)
			return
		default:
		}

		c.transition(Connecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.setLastError(err)
			c.transition(Backoff)
			attempt++
			if !c.sleepBackoff(ctx, attempt) {
				c.transition(Closed)
				return
			}
			continue
		}

		attempt = 0
		c.mu.Lock()
		c.conn = conn
		c.brokenCh = make(chan struct{})
		c.brokenOnce = &sync.Once{}
		c.mu.Unlock()
		c.transition(Connected)

		c.waitUntilBroken(ctx)

		c.closeSocket()
		select {
		case <-ctx.Done():
			c.transition(Closed)
			return
		case <-c.stopCh:
			c.transition(Closed)
			return
		default:
			c.transition(Disconnected)
		}
	}
}

func (c *Connection) dial(ctx context.Context) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", c.opts.Server.Host, c.opts.Server.Port)
	dialer := &net.Dialer{Timeout: c.opts.HandshakeWait}

	if c.opts.Server.Protocol == models.ProtocolTLS {
		dctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeWait)
		defer cancel()
		conn, err := (&tls.Dialer{NetDialer: dialer, Config: c.opts.TLSConfig}).DialContext(dctx, "tcp", addr)
		if err != nil {
			return nil, xerror.Wrap(xerror.KindTransportTransient, err)
		}
		return conn, nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindTransportTransient, err)
	}
	return conn, nil
}

// waitUntilBroken blocks, calling heartbeat on every tick (no ping frame is
// sent; the connection relies on TCP keepalive as spec.md §4.2 allows),
// until the connection fails, is closed, or ctx is cancelled.
func (c *Connection) waitUntilBroken(ctx context.Context) {
	c.mu.Lock()
	broken := c.brokenCh
	c.mu.Unlock()

	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-broken:
			return
		case <-ticker.C:
			if err := c.heartbeat(); err != nil {
				c.setLastError(err)
				return
			}
		}
	}
}

// markBroken signals waitUntilBroken that a write failed on the current
// connection, without waiting for the next heartbeat tick. Safe to call
// more than once per connection cycle.
func (c *Connection) markBroken() {
	c.mu.Lock()
	ch, once := c.brokenCh, c.brokenOnce
	c.mu.Unlock()
	if ch == nil || once == nil {
		return
	}
	once.Do(func() { close(ch) })
}

// heartbeat enables TCP keepalive on a plain TCP socket and writes nothing;
// on other connection types it does nothing. It reports an error only when
// there is no active connection or SetKeepAlive fails.
func (c *Connection) heartbeat() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("takconn: no active connection")
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		return tc.SetKeepAlive(true)
	}
	return nil
}

func (c *Connection) sleepBackoff(ctx context.Context, attempt int) bool {
	d := backoffDuration(c.opts.BackoffBase, c.opts.BackoffCap, attempt)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.stopCh:
		return false
	case <-t.C:
		return true
	}
}

// backoffDuration computes exponential backoff with jitter, base 1s,
// cap 60s (spec.md §4.2 "Reconnect policy").
func backoffDuration(base, capDuration time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt && d < capDuration; i++ {
		d *= 2
	}
	if d > capDuration {
		d = capDuration
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d/2 + jitter
}

// Send writes frameBytes to the transport, blocking until the write buffer
// accepts it or ctx is cancelled (spec.md §4.2 "send"). Returns a
// KindTransportTransient error on I/O failure, or KindCancelled if ctx was
// cancelled first.
func (c *Connection) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return xerror.New(xerror.KindTransportTransient, "takconn: not connected")
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetWriteDeadline(deadline)

	if _, err := conn.Write(frame); err != nil {
		if ctx.Err() != nil {
			return xerror.Wrap(xerror.KindCancelled, ctx.Err())
		}
		wrapped := xerror.Wrap(xerror.KindTransportTransient, err)
		c.setLastError(wrapped)
		c.markBroken()
		return wrapped
	}

	c.mu.Lock()
	c.lastSuccessfulSend = time.Now()
	c.lastError = ""
	c.mu.Unlock()
	return nil
}

// Health returns the current observable state (spec.md §4.2 "health()").
func (c *Connection) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Health{
		State:              c.state,
		LastSuccessfulSend: c.lastSuccessfulSend,
		LastError:          c.lastError,
	}
}

// Close requests the reconnect loop to stop, then waits (up to grace) for
// Run to exit (spec.md §4.2 "close()"). It does not drain or flush anything.
func (c *Connection) Close(grace time.Duration) {
	c.closeOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.stopped:
	case <-time.After(grace):
	}
}

func (c *Connection) closeSocket() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Connection) transition(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) setLastError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
}
