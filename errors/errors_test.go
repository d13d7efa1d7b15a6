package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"connection lost", ErrConnectionLost, true},
		{"context canceled", context.Canceled, true},
		{"address in use", fmt.Errorf("listen tcp: bind: address already in use"), true},
		{"invalid config", ErrInvalidConfig, false},
		{"source missing", ErrSourceNotFound, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("connection")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"source missing", ErrSourceNotFound, true},
		{"wrapped source missing", fmt.Errorf("open: %w", ErrSourceNotFound), true},
		{"permission denied", fmt.Errorf("open x.csv: permission denied"), true},
		{"connection lost", ErrConnectionLost, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsFatal(test.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.True(t, IsInvalid(ErrInvalidConfig))
	assert.True(t, IsInvalid(fmt.Errorf("wrapped: %w", ErrInvalidConfig)))
	assert.True(t, IsInvalid(WrapInvalid(fmt.Errorf("bad"), "Config", "Validate", "check")))
	assert.False(t, IsInvalid(ErrConnectionLost))
}

func TestClassificationWinsOverSentinel(t *testing.T) {
	// a missing source wrapped as invalid is no longer fatal
	err := WrapInvalid(ErrSourceNotFound, "config", "Validate", "check source")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrSourceNotFound)

	err = WrapFatal(fmt.Errorf("connection refused"), "server", "Listen", "bind")
	assert.False(t, IsTransient(err))
}

func TestIsPeerDisconnect(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"broken pipe", &net.OpError{Op: "write", Err: syscall.EPIPE}, true},
		{"reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"closed conn", net.ErrClosed, true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"connection lost", WrapTransient(ErrConnectionLost, "replay", "Run", "write batch"), true},
		{"other", errors.New("disk on fire"), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsPeerDisconnect(test.err))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "c", "m", "a"))
	assert.Nil(t, WrapFatal(nil, "c", "m", "a"))

	base := errors.New("boom")
	err := WrapFatal(base, "source", "Open", "stat file")
	require.Error(t, err)
	assert.Equal(t, "source.Open: stat file failed: boom", err.Error())
	assert.ErrorIs(t, err, base)

	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorFatal, ce.Class)
	assert.Equal(t, "source", ce.Component)
	assert.Equal(t, "Open", ce.Operation)
}
