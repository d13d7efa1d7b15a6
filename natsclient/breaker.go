package natsclient

import (
	"sync"
	"time"
)

const (
	defaultBreakerThreshold = 5
	initialBreakerBackoff   = time.Second
	defaultMaxBackoff       = time.Minute
)

// breaker opens after threshold consecutive failures and half-opens once
// its backoff has elapsed. Every trip while already open doubles the
// backoff, up to maxBackoff.
type breaker struct {
	threshold  int32
	maxBackoff time.Duration

	mu          sync.Mutex
	open        bool
	failures    int32
	streak      int32
	backoff     time.Duration
	lastFailure time.Time
	timer       *time.Timer
}

func newBreaker(threshold int32, maxBackoff time.Duration) *breaker {
	return &breaker{
		threshold:  threshold,
		maxBackoff: maxBackoff,
		backoff:    initialBreakerBackoff,
	}
}

// failure records a failed operation and reports whether this call opened
// the breaker, with the wait before it half-opens.
func (b *breaker) failure() (opened bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.streak++
	b.lastFailure = time.Now()
	if b.streak < b.threshold {
		return false, 0
	}
	b.streak = 0

	wait = b.backoff
	b.backoff = min(b.backoff*2, b.maxBackoff)
	if b.open {
		return false, 0
	}

	b.open = true
	b.timer = time.AfterFunc(wait, b.halfOpen)
	return true, wait
}

// success closes the breaker and forgets past failures.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.open = false
	b.failures = 0
	b.streak = 0
	b.backoff = initialBreakerBackoff
	b.lastFailure = time.Time{}
}

func (b *breaker) halfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.timer = nil
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *breaker) stats() (failures int32, backoff time.Duration, last time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures, b.backoff, b.lastFailure
}
