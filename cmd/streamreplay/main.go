// Package main implements the streamreplay server: it replays a CSV file to
// TCP clients, one client at a time, enforcing strictly increasing
// timestamps on the way out.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/c360/streamreplay/config"
	"github.com/c360/streamreplay/diagnostics"
	"github.com/c360/streamreplay/errors"
	"github.com/c360/streamreplay/health"
	"github.com/c360/streamreplay/metric"
	"github.com/c360/streamreplay/natsclient"
	"github.com/c360/streamreplay/pkg/retry"
	"github.com/c360/streamreplay/replay"
	"github.com/c360/streamreplay/server"
	"github.com/c360/streamreplay/source"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "streamreplay"
)

// Process exit codes.
const (
	exitOK             = 0
	exitSourceNotFound = 1
	exitConfig         = 2
	exitRuntime        = 3
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(exitRuntime)
		}
	}()

	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, cli, err := parseArgs(args, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return exitCode(err)
	}

	if cli.ShowHelp {
		printUsage(newHelpFlagSet(stderr), stderr)
		return exitOK
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return exitOK
	}

	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return exitConfig
	}

	logger := setupLogger(cfg, stdout)
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	if err := source.Check(cfg.Source.Path); err != nil {
		_, _ = fmt.Fprintf(stderr, "File not found: %s\n", cfg.Source.Path)
		return exitCode(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		return exitCode(err)
	}
	logger.Info("Server stopped")
	return exitOK
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case stderrors.Is(err, errors.ErrSourceNotFound):
		return exitSourceNotFound
	case stderrors.Is(err, errors.ErrInvalidConfig):
		return exitConfig
	default:
		return exitRuntime
	}
}

// newHelpFlagSet builds a throwaway flag set so --help prints defaults
// rather than the values already merged from the file.
func newHelpFlagSet(w io.Writer) *flag.FlagSet {
	fs, _ := newFlagSet(config.Default(), &CLIConfig{}, w)
	return fs
}

// serve runs the acceptor, and the metrics server when configured, until
// ctx is cancelled or either of them fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	opts, err := cfg.ReplayOptions()
	if err != nil {
		return err
	}

	monitor := health.NewMonitor()

	var (
		m          *metric.Metrics
		reg        metric.Registrar
		metricsSrv *metric.Server
	)
	if cfg.Metrics.Port > 0 {
		registry := metric.NewMetricsRegistry()
		m = registry.CoreMetrics()
		reg = registry
		metricsSrv = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry).WithHealth(monitor)
	}

	sink, closeSinks := buildDiagnostics(ctx, cfg, m, reg, monitor, logger)
	defer closeSinks()

	logger.Info("Starting streamreplay",
		"version", Version,
		"path", cfg.Source.Path,
		"address", cfg.ServerConfig().Address(),
		"order_scope", opts.Ordering.Scope,
		"no_order", opts.NoOrder,
		"sort_per_key", opts.SortPerKey,
		"loop", opts.Source.Loop,
		"per_row", opts.PerRow,
		"batch_rows", opts.Batch.MaxRows)

	srv := server.New(cfg.ServerConfig(), func(ctx context.Context, conn net.Conn) error {
		session := replay.NewSession(opts,
			replay.WithDiagnostics(sink),
			replay.WithMetrics(m),
			replay.WithLogger(logger))
		_, err := session.Run(ctx, conn)
		return err
	}, logger)
	srv.SetHealthMonitor(monitor)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if metricsSrv != nil {
		logger.Info("Metrics server starting", "address", metricsSrv.Address())
		g.Go(metricsSrv.Start)
		g.Go(func() error {
			<-gctx.Done()
			return metricsSrv.Stop()
		})
	}
	g.Go(func() error {
		defer cancel()
		return srv.ListenAndServe(gctx)
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

// buildDiagnostics assembles the configured sinks. NATS problems are logged
// and leave the remaining sinks in place.
func buildDiagnostics(ctx context.Context, cfg *config.Config, m *metric.Metrics, reg metric.Registrar, monitor *health.Monitor, logger *slog.Logger) (diagnostics.Sink, func()) {
	var sinks []diagnostics.Sink
	closers := []func(){}

	if cfg.Diagnostics.FilteredLog != "" {
		sinks = append(sinks, diagnostics.NewFileSink(cfg.Diagnostics.FilteredLog, logger))
	}
	if cfg.Diagnostics.SampleFiltered > 0 {
		sinks = append(sinks, diagnostics.NewSampleSink(cfg.Diagnostics.SampleFiltered, logger))
	}
	if cfg.Log.Verbose && !cfg.Log.Quiet {
		sinks = append(sinks, diagnostics.LogSink(logger))
	}
	if m != nil {
		sinks = append(sinks, diagnostics.NewMetricsSink(m))
	}
	if cfg.Diagnostics.NATSURL != "" {
		if sink, closeFn, err := connectNATSSink(ctx, cfg, monitor, logger); err != nil {
			logger.Warn("NATS diagnostics disabled", "url", cfg.Diagnostics.NATSURL, "error", err)
			monitor.Update("nats", health.FromError("nats", health.StateDegraded, err))
		} else {
			sinks = append(sinks, sink)
			closers = append(closers, closeFn)
			if reg != nil {
				registerNATSMetrics(reg, sink, logger)
			}
		}
	}

	return diagnostics.Multi(sinks...), func() {
		for _, fn := range closers {
			fn()
		}
	}
}

// registerNATSMetrics exposes the sink's drop counters next to the core
// metrics.
func registerNATSMetrics(reg metric.Registrar, sink *diagnostics.NATSSink, logger *slog.Logger) {
	collectors := map[string]prometheus.Collector{
		"skipped": prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "streamreplay",
			Subsystem: "diagnostics_nats",
			Name:      "skipped_total",
			Help:      "Diagnostic events not published because of the rate limit",
		}, func() float64 { return float64(sink.Skipped()) }),
		"failures": prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "streamreplay",
			Subsystem: "diagnostics_nats",
			Name:      "publish_failures_total",
			Help:      "Diagnostic events the NATS publisher rejected",
		}, func() float64 { return float64(sink.Failures()) }),
	}
	for name, c := range collectors {
		if err := reg.Register("diagnostics_nats", name, c); err != nil {
			logger.Warn("Could not register NATS diagnostics metric", "metric", name, "error", err)
		}
	}
}

func connectNATSSink(ctx context.Context, cfg *config.Config, monitor *health.Monitor, logger *slog.Logger) (*diagnostics.NATSSink, func(), error) {
	client, err := natsclient.NewClient(cfg.Diagnostics.NATSURL,
		natsclient.WithLogger(logger),
		natsclient.WithName(appName),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				monitor.UpdateHealthy("nats", "connected")
			} else {
				monitor.UpdateDegraded("nats", "disconnected, diagnostics are not published")
			}
		}))
	if err != nil {
		return nil, nil, err
	}

	rc := retry.DefaultConfig()
	rc.Retryable = errors.IsTransient
	if err := retry.Do(ctx, rc, func() error { return client.Connect(ctx) }); err != nil {
		return nil, nil, err
	}

	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}

	var pub diagnostics.Publisher = client
	if stream := cfg.Diagnostics.NATSStream; stream != "" {
		if _, err := client.EnsureStream(ctx, stream, cfg.Diagnostics.NATSSubject); err != nil {
			closeFn()
			return nil, nil, err
		}
		pub = natsclient.StreamPublisher{Client: client}
	}

	sink := diagnostics.NewNATSSink(pub, cfg.Diagnostics.NATSSubject, logger).
		WithRateLimit(cfg.Diagnostics.NATSRate)
	logger.Info("Publishing diagnostics to NATS",
		"url", cfg.Diagnostics.NATSURL,
		"subject", sink.Subject(),
		"stream", cfg.Diagnostics.NATSStream)
	return sink, closeFn, nil
}
