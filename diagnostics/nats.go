package diagnostics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultSubject is where NATSSink publishes unless told otherwise.
const DefaultSubject = "streamreplay.diagnostics"

// Publisher sends one payload to a subject. *natsclient.Client and
// natsclient.StreamPublisher satisfy it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSSink publishes every event as a JSON document.
type NATSSink struct {
	pub     Publisher
	subject string
	timeout time.Duration
	logger  *slog.Logger
	limiter *rate.Limiter
	failed  atomic.Int64
	skipped atomic.Int64
}

// NewNATSSink returns a sink publishing to subject through pub.
func NewNATSSink(pub Publisher, subject string, logger *slog.Logger) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{
		pub:     pub,
		subject: subject,
		timeout: 2 * time.Second,
		logger:  logger.With("component", "diagnostics-nats", "subject", subject),
	}
}

// Subject returns the subject events are published on.
func (n *NATSSink) Subject() string {
	return n.subject
}

// WithRateLimit caps publishing at perSec events per second with a burst of
// the same size. Events over the limit are counted and dropped so a burst of
// bad rows cannot stall the replay on the broker. perSec <= 0 removes the cap.
func (n *NATSSink) WithRateLimit(perSec float64) *NATSSink {
	if perSec <= 0 {
		n.limiter = nil
		return n
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	n.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	return n
}

// Skipped returns how many events the rate limit has dropped.
func (n *NATSSink) Skipped() int64 {
	return n.skipped.Load()
}

// Failures returns how many publishes have failed so far.
func (n *NATSSink) Failures() int64 {
	return n.failed.Load()
}

// Emit publishes ev. Failures are logged, the first one at warn and the rest
// at debug so a dead broker cannot flood the log.
func (n *NATSSink) Emit(ev Event) {
	if n == nil || n.pub == nil {
		return
	}

	if n.limiter != nil && !n.limiter.Allow() {
		if n.skipped.Add(1) == 1 {
			n.logger.Warn("Diagnostic publish rate exceeded, dropping events", "kind", ev.Kind)
		}
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Warn("Failed to encode diagnostic", "kind", ev.Kind, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.pub.Publish(ctx, n.subject, data); err != nil {
		if failed := n.failed.Add(1); failed == 1 {
			n.logger.Warn("Failed to publish diagnostic", "kind", ev.Kind, "error", err)
		} else {
			n.logger.Debug("Failed to publish diagnostic", "kind", ev.Kind, "failures", failed, "error", err)
		}
	}
}
