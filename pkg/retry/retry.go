// Package retry provides exponential backoff for the few operations streamreplay
// is willing to repeat: binding the listener and connecting to NATS.
//
//	cfg := retry.Quick()
//	cfg.Retryable = errors.IsTransient
//	ln, err := retry.DoWithResult(ctx, cfg, func() (net.Listener, error) {
//	    return lc.Listen(ctx, "tcp", addr)
//	})
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Config provides retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = just run once)
	InitialDelay time.Duration // Initial delay between attempts
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Backoff multiplier
	AddJitter    bool          // Add up to 25% random delay

	// Retryable decides whether an error deserves another attempt.
	// nil retries every error.
	Retryable func(error) bool
}

// DefaultConfig suits connecting to a remote service.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Quick returns a config for fast retries during startup
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// normalize fills zero fields with defaults and rejects contradictory ones.
func (c Config) normalize() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return c, errors.New("retry: negative delay or multiplier")
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	c.Multiplier = min(c.Multiplier, 1000)
	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

func (c Config) retryable(err error) bool {
	return c.Retryable == nil || c.Retryable(err)
}

// sleepFor returns delay plus jitter when enabled.
func (c Config) sleepFor(delay time.Duration) time.Duration {
	if !c.AddJitter || delay < 4 {
		return delay
	}
	randMu.Lock()
	defer randMu.Unlock()
	return delay + time.Duration(randSource.Int63n(int64(delay/4)))
}

func (c Config) next(delay time.Duration) time.Duration {
	n := float64(delay) * c.Multiplier
	if n > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(n)
}

// Do runs fn until it succeeds, returns an error Retryable rejects, runs
// out of attempts, or ctx is cancelled. An unretryable error is returned
// as is.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !cfg.retryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(cfg.sleepFor(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
		delay = cfg.next(delay)
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
