// Package errors provides standardized error handling patterns for streamreplay.
// It includes error classification, standard error variables, and helper functions
// for consistent error wrapping and classification across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

var classNames = map[ErrorClass]string{
	ErrorTransient: "transient",
	ErrorInvalid:   "invalid",
	ErrorFatal:     "fatal",
}

func (ec ErrorClass) String() string {
	if name, ok := classNames[ec]; ok {
		return name
	}
	return "unknown"
}

// Standard error variables
var (
	ErrAlreadyStarted = errors.New("already started")
	ErrNoConnection   = errors.New("no connection available")
	ErrConnectionLost = errors.New("connection lost")
	ErrSourceNotFound = errors.New("source file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf returns the class of the outermost ClassifiedError in err's chain.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

func containsAny(err error, patterns ...string) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying. Explicit
// classification wins over the sentinel and message heuristics.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	if errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	return containsAny(err, "timeout", "connection", "network", "temporary", "unavailable", "address already in use")
}

// IsFatal reports whether err should stop the process.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}
	if errors.Is(err, ErrSourceNotFound) {
		return true
	}
	return containsAny(err, "fatal", "panic", "permission denied", "disk full")
}

// IsInvalid reports whether err comes from bad input or configuration.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}
	return errors.Is(err, ErrInvalidConfig)
}

// IsPeerDisconnect reports whether err means the remote end of a stream went
// away: broken pipe, connection reset, or a write on an already closed socket.
func IsPeerDisconnect(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}
