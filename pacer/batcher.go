package pacer

import (
	"bytes"
	"context"
	"io"

	"github.com/c360/streamreplay/errors"
)

// Config bounds one batch.
type Config struct {
	// MaxRows flushes once this many rows are buffered. Values below 1 mean 1.
	MaxRows int
	// MaxBytes flushes once the buffer reaches this size. 0 disables the cap.
	// The cap is soft: the row that crosses it is part of the batch.
	MaxBytes int
}

// FlushFunc observes every flush.
type FlushFunc func(rows, n int)

// Batcher buffers rows and writes them to w in batches.
type Batcher struct {
	w       io.Writer
	cfg     Config
	pacer   *Pacer
	onFlush FlushFunc

	buf  bytes.Buffer
	rows int

	rowsSent  int64
	bytesSent int64
	batches   int64
}

// NewBatcher returns a batcher writing to w and pacing with p. A nil pacer
// never waits.
func NewBatcher(w io.Writer, cfg Config, p *Pacer) *Batcher {
	if cfg.MaxRows < 1 {
		cfg.MaxRows = 1
	}
	if cfg.MaxBytes < 0 {
		cfg.MaxBytes = 0
	}
	return &Batcher{w: w, cfg: cfg, pacer: p}
}

// OnFlush registers fn to be called after every successful write.
func (b *Batcher) OnFlush(fn FlushFunc) {
	b.onFlush = fn
}

// Add buffers one serialized row, terminator included, flushing and pacing
// when a cap is reached.
func (b *Batcher) Add(ctx context.Context, line []byte) error {
	b.buf.Write(line)
	b.rows++

	if b.rows < b.cfg.MaxRows && (b.cfg.MaxBytes == 0 || b.buf.Len() < b.cfg.MaxBytes) {
		return nil
	}

	flushed := b.rows
	if err := b.write(); err != nil {
		return err
	}
	return b.pacer.Wait(ctx, flushed)
}

// Flush writes whatever is buffered without pacing. Call it once at the end
// of the stream.
func (b *Batcher) Flush() error {
	if b.rows == 0 {
		return nil
	}
	return b.write()
}

// Pending returns the number of buffered rows.
func (b *Batcher) Pending() int {
	return b.rows
}

// Sent returns rows, bytes and write calls delivered so far.
func (b *Batcher) Sent() (rows, n, batches int64) {
	return b.rowsSent, b.bytesSent, b.batches
}

func (b *Batcher) write() error {
	data := b.buf.Bytes()
	rows := b.rows

	n, err := b.w.Write(data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	b.buf.Reset()
	b.rows = 0
	if err != nil {
		return errors.Wrap(err, "Batcher", "write", "send batch")
	}

	b.rowsSent += int64(rows)
	b.bytesSent += int64(n)
	b.batches++
	if b.onFlush != nil {
		b.onFlush(rows, n)
	}
	return nil
}
