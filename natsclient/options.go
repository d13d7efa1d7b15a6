package natsclient

import (
	"fmt"
	"log/slog"
	"time"
)

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithMaxReconnects sets the maximum number of reconnection attempts (-1 for infinite)
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait sets the wait time between reconnection attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithLogger routes client logs through logger. Nil keeps the client quiet.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger.With("component", "natsclient")
		}
		return nil
	}
}

// WithHealthChangeCallback is called with true on connect and reconnect and
// with false on disconnect and close.
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithCircuitBreaker sets how many consecutive failures open the breaker
// and the ceiling for its backoff.
func WithCircuitBreaker(threshold int32, maxBackoff time.Duration) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			return fmt.Errorf("breaker threshold must be >= 1, got %d", threshold)
		}
		if maxBackoff < initialBreakerBackoff {
			return fmt.Errorf("breaker max backoff must be >= %v, got %v", initialBreakerBackoff, maxBackoff)
		}
		c.breaker = newBreaker(threshold, maxBackoff)
		return nil
	}
}

// WithName sets the connection name shown in server monitoring.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.name = name
		return nil
	}
}

// WithTimeout sets the connection timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout caps how long Close waits for pending publishes.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}
