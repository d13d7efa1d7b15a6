// Package server accepts TCP clients one at a time and hands each connection
// to a session function. A client that connects while a session is running
// waits in the listen backlog until the current session ends.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/c360/streamreplay/errors"
	"github.com/c360/streamreplay/health"
	"github.com/c360/streamreplay/pkg/retry"
)

// Config controls the listening socket and per-connection tuning.
type Config struct {
	Host string
	Port int
	// NoDelay disables Nagle's algorithm on accepted connections.
	NoDelay bool
	// SendBuffer sets SO_SNDBUF on accepted connections when positive.
	SendBuffer int
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SessionFunc serves one client. The connection is closed by the server
// after it returns.
type SessionFunc func(ctx context.Context, conn net.Conn) error

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server is a serial TCP acceptor.
type Server struct {
	cfg         Config
	session     SessionFunc
	logger      *slog.Logger
	retryConfig retry.Config
	monitor     *health.Monitor

	mu       sync.Mutex
	listener net.Listener
	served   int64
	failures int64
}

const healthName = "server"

// New creates a server. Listen or ListenAndServe binds the socket.
func New(cfg Config, session SessionFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	rc := retry.Quick()
	rc.Retryable = isBindRetryable
	return &Server{
		cfg:         cfg,
		session:     session,
		logger:      logger.With("component", "server"),
		retryConfig: rc,
	}
}

// SetHealthMonitor reports listener and session outcomes to monitor.
func (s *Server) SetHealthMonitor(monitor *health.Monitor) {
	s.monitor = monitor
}

// isBindRetryable retries "address already in use" and friends; a bad host
// or a privileged port will not fix itself.
func isBindRetryable(err error) bool {
	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}
	return errors.IsTransient(err)
}

// Listen binds the listening socket with SO_REUSEADDR, retrying transient
// failures with backoff.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "server", "Listen", "bind listener")
	}

	lc := net.ListenConfig{Control: reuseAddrControl}
	addr := s.cfg.Address()

	ln, err := retry.DoWithResult(ctx, s.retryConfig, func() (net.Listener, error) {
		l, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			s.logger.Debug("Bind attempt failed", "address", addr, "error", err)
		}
		return l, err
	})
	if err != nil {
		s.monitor.Update(healthName, health.FromError(healthName, health.StateUnhealthy, err))
		return errors.WrapFatal(fmt.Errorf("listen on %s: %w", addr, err), "server", "Listen", "bind listener")
	}

	s.listener = ln
	s.monitor.UpdateHealthy(healthName, "listening")
	s.logger.Info("Listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Served returns how many connections have been handed to the session
// function.
func (s *Server) Served() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

// Serve accepts connections until ctx is cancelled or Close is called, running
// one session at a time. Session errors are logged and never stop the loop.
// It returns nil on cancellation.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.WrapInvalid(errors.ErrNoConnection, "server", "Serve", "accept")
	}

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer func() {
		stop()
		s.monitor.UpdateUnhealthy(healthName, "listener closed")
	}()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				s.logger.Info("Listener closed")
				return nil
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			s.logger.Warn("Accept failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		backoff = 0
		s.handle(ctx, conn)
	}
}

// ListenAndServe binds and serves.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Close closes the listener. A running Serve returns nil.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	if err != nil && !stderrors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "server", "Close", "close listener")
	}
	return nil
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	s.mu.Lock()
	s.served++
	s.mu.Unlock()
	s.report(nil)

	logger := s.logger.With("remote", conn.RemoteAddr().String())
	logger.Info("Client connected")

	// Unblocks a write stuck on a slow client when the process is interrupted.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer func() {
		stop()
		_ = conn.Close()
	}()

	s.tune(conn, logger)

	err := s.session(ctx, conn)
	switch {
	case err == nil:
		logger.Info("Client session complete")
	case ctx.Err() != nil:
		logger.Info("Client session interrupted")
	case errors.IsPeerDisconnect(err):
		logger.Info("Client disconnected", "error", err)
	default:
		logger.Error("Client session failed", "error", err)
		s.report(err)
	}
}

// report marks the server degraded after a failed session until the next
// client connects.
func (s *Server) report(err error) {
	if s.monitor == nil {
		return
	}
	s.mu.Lock()
	if err != nil {
		s.failures++
	}
	details := health.Details{Sessions: s.served, Failures: s.failures, LastActivity: time.Now()}
	s.mu.Unlock()

	status := health.NewHealthy(healthName, "serving")
	if err != nil {
		status = health.FromError(healthName, health.StateDegraded, err)
	}
	s.monitor.Update(healthName, status.WithDetails(details))
}

// tune applies best-effort socket options. The session runs even when the
// kernel refuses them.
func (s *Server) tune(conn net.Conn, logger *slog.Logger) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if s.cfg.NoDelay {
		if err := tcp.SetNoDelay(true); err != nil {
			logger.Warn("Could not set TCP_NODELAY", "error", err)
		}
	}
	if s.cfg.SendBuffer > 0 {
		if err := tcp.SetWriteBuffer(s.cfg.SendBuffer); err != nil {
			logger.Warn("Could not set send buffer size",
				"send_buffer", s.cfg.SendBuffer,
				"error", err)
		}
	}
}
