package natsclient

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/streamreplay/errors"
)

// JetStream returns the JetStream context of the live connection.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("JetStream not initialized"),
			"Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// ready checks the breaker and connection before a JetStream call.
func (c *Client) ready() (jetstream.JetStream, error) {
	switch c.Status() {
	case StatusCircuitOpen:
		return nil, ErrCircuitOpen
	case StatusConnected:
	default:
		return nil, ErrNotConnected
	}

	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return nil, err
	}
	return js, nil
}

// EnsureStream creates the named file-backed stream over subjects, or
// updates it when it already exists.
func (c *Client) EnsureStream(ctx context.Context, name string, subjects ...string) (jetstream.Stream, error) {
	js, err := c.ready()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "create stream "+name)
	}

	c.recordSuccess()
	return stream, nil
}

// PublishToStream publishes to a JetStream subject and waits for the ack.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := c.ready()
	if err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish to "+subject)
	}

	c.recordSuccess()
	return nil
}

// StreamPublisher publishes through JetStream so diagnostics are persisted
// in a stream rather than fired and forgotten.
type StreamPublisher struct {
	Client *Client
}

// Publish implements the plain publisher signature on top of PublishToStream
func (p StreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return p.Client.PublishToStream(ctx, subject, data)
}
