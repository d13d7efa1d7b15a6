// Package errors provides standardized error handling patterns for streamreplay.
//
// # Overview
//
// Errors are sorted into three classes: Transient (temporary, retryable),
// Invalid (bad input or configuration, do not retry) and Fatal (stop the
// process). The command maps the classes onto exit codes and the acceptor
// uses them to decide whether a failed session is worth logging loudly.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// for example
//
//	return errors.WrapFatal(err, "source", "Open", "stat source file")
//
// The wrapped chain stays compatible with errors.Is and errors.As, so callers
// test for the standard variables directly:
//
//	if errors.Is(err, errors.ErrSourceNotFound) {
//	    os.Exit(1)
//	}
//
// # Peer Disconnects
//
// IsPeerDisconnect recognises the ways a TCP consumer can vanish mid-write
// (EPIPE, ECONNRESET, a closed socket). Sessions convert those into
// ErrConnectionLost so the acceptor can return to accepting without treating
// the session as failed.
package errors
