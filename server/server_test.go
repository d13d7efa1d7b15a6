package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamreplay/errors"
	"github.com/c360/streamreplay/health"
	"github.com/c360/streamreplay/pkg/retry"
)

func startServer(t *testing.T, cfg Config, fn SessionFunc) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	srv := New(cfg, fn, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Listen(ctx))

	// done carries Serve's result to the test; stopped lets cleanup wait
	// even after the test has consumed that result.
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		done <- srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, cancel, done
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestConfig_Address(t *testing.T) {
	assert.Equal(t, "127.0.0.1:32323", Config{Host: "127.0.0.1", Port: 32323}.Address())
	assert.Equal(t, ":0", Config{}.Address())
	assert.Equal(t, "[::1]:80", Config{Host: "::1", Port: 80}.Address())
}

func TestServer_ServesClientsSerially(t *testing.T) {
	var n atomic.Int64
	srv, _, _ := startServer(t, Config{NoDelay: true, SendBuffer: 64 * 1024}, func(_ context.Context, conn net.Conn) error {
		_, err := fmt.Fprintf(conn, "hello %d\n", n.Add(1))
		return err
	})

	for i := 1; i <= 3; i++ {
		conn := dial(t, srv)
		data, err := io.ReadAll(conn)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("hello %d\n", i), string(data))
		conn.Close()
	}
	assert.Equal(t, int64(3), srv.Served())
}

func TestServer_SecondClientAfterDisconnect(t *testing.T) {
	var (
		mu       sync.Mutex
		sessions int
		firstErr = make(chan error, 1)
	)

	srv, _, _ := startServer(t, Config{}, func(ctx context.Context, conn net.Conn) error {
		mu.Lock()
		sessions++
		n := sessions
		mu.Unlock()

		if n > 1 {
			_, err := io.WriteString(conn, "second\n")
			return err
		}

		line := []byte("0123456789abcdef\n")
		for {
			if _, err := conn.Write(line); err != nil {
				firstErr <- err
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	})

	first := dial(t, srv)
	buf := make([]byte, 17)
	_, err := io.ReadFull(first, buf)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef\n", string(buf))
	require.NoError(t, first.Close())

	select {
	case err := <-firstErr:
		assert.True(t, errors.IsPeerDisconnect(err), "unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("first session did not notice the disconnect")
	}

	second := dial(t, srv)
	defer second.Close()
	data, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))
}

func TestServer_SessionErrorKeepsAccepting(t *testing.T) {
	var calls atomic.Int64
	srv, _, _ := startServer(t, Config{}, func(_ context.Context, conn net.Conn) error {
		if calls.Add(1) == 1 {
			return errors.WrapFatal(errors.ErrSourceNotFound, "test", "session", "open")
		}
		_, err := io.WriteString(conn, "ok\n")
		return err
	})

	first := dial(t, srv)
	data, err := io.ReadAll(first)
	require.NoError(t, err)
	assert.Empty(t, data)
	first.Close()

	second := dial(t, srv)
	defer second.Close()
	data, err = io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(data))
}

func TestServer_ReportsHealth(t *testing.T) {
	monitor := health.NewMonitor()
	var calls atomic.Int64
	srv := New(Config{Host: "127.0.0.1"}, func(context.Context, net.Conn) error {
		if calls.Add(1) == 1 {
			return fmt.Errorf("read /data/replay.csv: input/output error")
		}
		return nil
	}, nil)
	srv.SetHealthMonitor(monitor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Listen(ctx))
	status, ok := monitor.Get("server")
	require.True(t, ok)
	assert.True(t, status.Healthy)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	conn := dial(t, srv)
	_, _ = io.ReadAll(conn)
	conn.Close()

	status, _ = monitor.Get("server")
	assert.True(t, status.IsDegraded())
	assert.NotContains(t, status.Message, "/data")
	require.NotNil(t, status.Details)
	assert.Equal(t, int64(1), status.Details.Failures)

	conn = dial(t, srv)
	_, _ = io.ReadAll(conn)
	conn.Close()

	status, _ = monitor.Get("server")
	assert.True(t, status.Healthy)
	assert.Equal(t, int64(2), status.Details.Sessions)

	cancel()
	require.NoError(t, <-done)
	status, _ = monitor.Get("server")
	assert.True(t, status.IsUnhealthy())
}

func TestServer_CancelInterruptsSession(t *testing.T) {
	started := make(chan struct{})
	srv, cancel, done := startServer(t, Config{}, func(ctx context.Context, _ net.Conn) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	conn := dial(t, srv)
	defer conn.Close()
	<-started

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	// the connection was closed by the server
	_, err := io.ReadAll(conn)
	assert.NoError(t, err)
}

func TestServer_Close(t *testing.T) {
	srv, _, done := startServer(t, Config{}, func(context.Context, net.Conn) error { return nil })

	require.NoError(t, srv.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
	assert.NoError(t, srv.Close())
}

func TestServer_ListenErrors(t *testing.T) {
	t.Run("serve before listen", func(t *testing.T) {
		srv := New(Config{Host: "127.0.0.1"}, nil, nil)
		err := srv.Serve(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
		assert.Nil(t, srv.Addr())
	})

	t.Run("listen twice", func(t *testing.T) {
		srv := New(Config{Host: "127.0.0.1"}, nil, nil)
		require.NoError(t, srv.Listen(context.Background()))
		defer srv.Close()

		err := srv.Listen(context.Background())
		require.ErrorIs(t, err, errors.ErrAlreadyStarted)
	})

	t.Run("port in use", func(t *testing.T) {
		busy, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer busy.Close()

		port := busy.Addr().(*net.TCPAddr).Port
		srv := New(Config{Host: "127.0.0.1", Port: port}, nil, nil)
		srv.retryConfig = retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Retryable: isBindRetryable}

		err = srv.Listen(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
		assert.Contains(t, err.Error(), "retry failed after 2 attempts")
	})
}
