// Package natsclient manages the NATS connection used to publish replay
// diagnostics. Connection attempts and stream operations go through a
// circuit breaker so a dead server costs one timeout, not one per event.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/streamreplay/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int32

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

var statusNames = [...]string{
	StatusDisconnected: "disconnected",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusReconnecting: "reconnecting",
	StatusCircuitOpen:  "circuit_open",
}

func (s ConnectionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Sentinel errors returned without wrapping so callers can errors.Is them.
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client owns one NATS connection and its JetStream context.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	onHealthChange func(bool)

	state   atomic.Int32 // ConnectionStatus
	breaker *breaker
	closed  atomic.Bool

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewClient creates a disconnected client. Connect dials the server.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:           url,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  5 * time.Second,
		breaker:       newBreaker(defaultBreakerThreshold, defaultMaxBackoff),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the connection state. An open breaker reports
// StatusCircuitOpen regardless of the underlying state.
func (c *Client) Status() ConnectionStatus {
	if c.breaker.isOpen() {
		return StatusCircuitOpen
	}
	return ConnectionStatus(c.state.Load())
}

// IsHealthy reports whether the client can publish right now.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the failures recorded since the last success.
func (c *Client) Failures() int32 {
	n, _, _ := c.breaker.stats()
	return n
}

// Backoff returns how long the breaker stays open the next time it trips.
func (c *Client) Backoff() time.Duration {
	_, d, _ := c.breaker.stats()
	return d
}

// LastFailure returns when the last failure was recorded, or the zero time.
func (c *Client) LastFailure() time.Time {
	_, _, t := c.breaker.stats()
	return t
}

func (c *Client) setState(s ConnectionStatus) {
	c.state.Store(int32(s))
}

func (c *Client) recordFailure() {
	if opened, wait := c.breaker.failure(); opened {
		c.logger.Warn("NATS circuit breaker opened", "url", c.url, "backoff", wait)
	}
}

func (c *Client) recordSuccess() {
	c.breaker.success()
}

func (c *Client) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ReconnectHandler(c.onReconnect),
		nats.ClosedHandler(c.onClosed),
		nats.ErrorHandler(c.onAsyncError),
	}
	if c.name != "" {
		opts = append(opts, nats.Name(c.name))
	}
	return opts
}

// Connect dials the server. It fails fast with ErrCircuitOpen while the
// breaker is open; other failures are transient.
func (c *Client) Connect(ctx context.Context) error {
	if c.breaker.isOpen() {
		return ErrCircuitOpen
	}

	c.setState(StatusConnecting)
	c.logger.Debug("Connecting to NATS", "url", c.url)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.natsOptions()...)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		c.recordFailure()
		c.setState(StatusDisconnected)
		// a dial that completes after cancellation is not leaked
		go func() {
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	if res.err != nil {
		c.recordFailure()
		c.setState(StatusDisconnected)
		if c.breaker.isOpen() {
			return ErrCircuitOpen
		}
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(res.conn)
	if err != nil {
		c.logger.Warn("JetStream unavailable", "error", err)
	}

	c.mu.Lock()
	c.conn = res.conn
	c.js = js
	c.mu.Unlock()

	c.setState(StatusConnected)
	c.recordSuccess()
	c.logger.Info("Connected to NATS", "url", c.url)
	if c.onHealthChange != nil {
		c.onHealthChange(true)
	}
	return nil
}

// connection returns the live connection or ErrNotConnected.
func (c *Client) connection() (*nats.Conn, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// Publish sends data on subject without waiting for delivery.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	return conn.Publish(subject, data)
}

// Flush waits until the server has processed everything published so far
func (c *Client) Flush(ctx context.Context) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	return conn.FlushWithContext(ctx)
}

// Close drains and closes the connection within the drain timeout or the
// ctx deadline, whichever is sooner. Further calls are no-ops.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	c.setState(StatusDisconnected)
	if conn == nil {
		return nil
	}
	defer conn.Close()

	timeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	drained := make(chan error, 1)
	go func() {
		drained <- conn.Drain()
	}()

	select {
	case err := <-drained:
		if err != nil {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-time.After(timeout):
		c.logger.Warn("NATS drain timed out, closing", "timeout", timeout)
		return errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout),
			"Client", "Close", "drain connection")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
}

func (c *Client) onDisconnect(_ *nats.Conn, err error) {
	c.setState(StatusReconnecting)
	if err != nil {
		c.logger.Warn("Disconnected from NATS", "error", err)
	}
	c.notifyHealth(false)
}

func (c *Client) onReconnect(_ *nats.Conn) {
	c.setState(StatusConnected)
	c.recordSuccess()
	c.logger.Info("Reconnected to NATS", "url", c.url)
	c.notifyHealth(true)
}

func (c *Client) onClosed(_ *nats.Conn) {
	c.setState(StatusDisconnected)
	c.notifyHealth(false)
}

// onAsyncError also fires for slow consumers and permission errors, so it
// does not count against the breaker.
func (c *Client) onAsyncError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Error("NATS error", "error", err)
}

func (c *Client) notifyHealth(healthy bool) {
	if c.onHealthChange != nil {
		go c.onHealthChange(healthy)
	}
}
