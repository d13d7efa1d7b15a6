// Package pacer turns the ordered row stream into paced socket writes.
//
// A Batcher gathers rows until a row cap or a soft byte cap is reached and
// then hands the whole batch to the writer in one Write call. After each
// flush the Pacer sleeps so that n rows take n times the per-row interval,
// measured from an anchor rather than from the end of the previous sleep,
// so rounding and write latency do not accumulate into drift.
package pacer

import (
	"context"
	"time"
)

// Option configures a Pacer.
type Option func(*Pacer)

// WithClock replaces time.Now. Tests use it with WithSleep to run without
// real waiting.
func WithClock(now func() time.Time) Option {
	return func(p *Pacer) {
		p.now = now
	}
}

// WithSleep replaces the context-aware sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pacer) {
		p.sleep = sleep
	}
}

// Pacer holds the send schedule of one session.
type Pacer struct {
	perRow time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	anchor time.Time
}

// PerRow converts the two mutually exclusive pacing settings into a per-row
// interval. Zero means unpaced.
func PerRow(delay time.Duration, rowsPerSec float64) time.Duration {
	if delay > 0 {
		return delay
	}
	if rowsPerSec > 0 {
		return time.Duration(float64(time.Second) / rowsPerSec)
	}
	return 0
}

// New returns a pacer whose schedule starts now.
func New(perRow time.Duration, opts ...Option) *Pacer {
	p := &Pacer{
		perRow: perRow,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.anchor = p.now()
	return p
}

// PerRow returns the configured interval.
func (p *Pacer) PerRow() time.Duration {
	return p.perRow
}

// Wait blocks until n more rows are due, measured from the anchor. When the
// schedule is already behind it returns at once and re-anchors at now, so a
// stall is never followed by a burst.
func (p *Pacer) Wait(ctx context.Context, n int) error {
	if p == nil || p.perRow <= 0 || n <= 0 {
		return nil
	}

	wakeAt := p.anchor.Add(time.Duration(n) * p.perRow)
	now := p.now()
	if d := wakeAt.Sub(now); d > 0 {
		if err := p.sleep(ctx, d); err != nil {
			return err
		}
		p.anchor = wakeAt
		return nil
	}

	p.anchor = now
	return ctx.Err()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
