package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/c360/streamreplay/config"
	"github.com/c360/streamreplay/errors"
)

// CLIConfig holds the flags that are not part of config.Config.
type CLIConfig struct {
	ConfigPath  string
	ShowVersion bool
	ShowHelp    bool
}

// intList is a repeatable flag taking comma or space separated integers.
// The first Set replaces whatever the config file put there.
type intList struct {
	target *[]int
	set    bool
}

func (l *intList) String() string {
	if l.target == nil {
		return ""
	}
	parts := make([]string, len(*l.target))
	for i, v := range *l.target {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (l *intList) Set(s string) error {
	if !l.set {
		*l.target = nil
		l.set = true
	}
	for _, part := range splitList(s) {
		v, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("invalid integer %q", part)
		}
		*l.target = append(*l.target, v)
	}
	return nil
}

// stringList is the string counterpart of intList.
type stringList struct {
	target *[]string
	set    bool
}

func (l *stringList) String() string {
	if l.target == nil {
		return ""
	}
	return strings.Join(*l.target, ",")
}

func (l *stringList) Set(s string) error {
	if !l.set {
		*l.target = nil
		l.set = true
	}
	*l.target = append(*l.target, splitList(s)...)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// listFlags take every following non-flag token as a value, so
// "--key-col-index 1 2" works. Integer lists stop at the first token that is
// not an integer, which lets the csv path follow them.
var listFlags = map[string]bool{
	"key-col-index":    true,
	"filter-device-id": false,
	"filter-values":    false,
}

// parseArgs layers explicitly set flags over the file and environment
// configuration. The csv path may appear anywhere among the flags.
func parseArgs(args []string, stderr io.Writer) (*config.Config, *CLIConfig, error) {
	cli := &CLIConfig{ConfigPath: scanConfigPath(args)}
	if cli.ConfigPath == "" {
		cli.ConfigPath = os.Getenv(config.EnvPrefix + "CONFIG")
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	fs, batchRows := newFlagSet(cfg, cli, stderr)

	flagArgs, trailing := expandArgs(args)
	var positional []string
	for {
		if err := fs.Parse(flagArgs); err != nil {
			return nil, nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"cli", "parseArgs", "parse flags")
		}
		rest := fs.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		flagArgs = rest[1:]
	}
	positional = append(positional, trailing...)

	switch len(positional) {
	case 0:
	case 1:
		cfg.Source.Path = positional[0]
	default:
		return nil, nil, errors.WrapInvalid(
			fmt.Errorf("%w: expected one csv path, got %q", errors.ErrInvalidConfig, positional),
			"cli", "parseArgs", "parse arguments")
	}

	if *batchRows > 0 {
		cfg.Pacing.BatchRows = *batchRows
	}
	return cfg, cli, nil
}

func newFlagSet(cfg *config.Config, cli *CLIConfig, stderr io.Writer) (*flag.FlagSet, *int) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(fs, stderr) }

	fs.StringVar(&cli.ConfigPath, "config", cli.ConfigPath, "YAML configuration file (env: STREAMREPLAY_CONFIG)")
	fs.BoolVar(&cli.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cli.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cli.ShowHelp, "h", false, "Show help information")

	// Networking
	fs.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "Host/IP to bind")
	fs.IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "Port to bind")
	fs.BoolVar(&cfg.Server.NoDelay, "tcp-nodelay", cfg.Server.NoDelay, "Enable TCP_NODELAY on client sockets")
	fs.IntVar(&cfg.Server.SendBuffer, "send-buffer", cfg.Server.SendBuffer, "SO_SNDBUF bytes for client sockets (0 keeps default)")

	// Pacing and batching
	fs.Float64Var(&cfg.Pacing.Delay, "delay", cfg.Pacing.Delay, "Delay in seconds between rows")
	fs.Float64Var(&cfg.Pacing.RowsPerSec, "rows-per-sec", cfg.Pacing.RowsPerSec, "Target rows per second (mutually exclusive with --delay)")
	fs.IntVar(&cfg.Pacing.BatchRows, "batch-size", cfg.Pacing.BatchRows, "Rows per socket write")
	batchRows := fs.Int("batch-rows", 0, "Alias for --batch-size (wins if set)")
	fs.IntVar(&cfg.Pacing.MaxBatchBytes, "max-batch-bytes", cfg.Pacing.MaxBatchBytes, "Soft cap for bytes per batch (0 disables)")

	// CSV
	fs.StringVar(&cfg.Source.Delimiter, "delimiter", cfg.Source.Delimiter, `Field delimiter; \t or "tab" for tabs`)
	fs.BoolVar(&cfg.Source.SkipHeader, "skip-header", cfg.Source.SkipHeader, "Skip the first line as a header")
	fs.IntVar(&cfg.Source.TimestampIndex, "ts-col-index", cfg.Source.TimestampIndex, "Zero-based index of the timestamp column")

	// Ordering
	fs.StringVar(&cfg.Ordering.Scope, "order-scope", cfg.Ordering.Scope, "Ordering scope: global, per-key or both")
	fs.Var(&intList{target: &cfg.Ordering.KeyIndices}, "key-col-index", "Zero-based key column index(es) for per-key ordering")
	fs.IntVar(&cfg.Ordering.NudgeSeconds, "nudge-equal-seconds", cfg.Ordering.NudgeSeconds, "If >0, advance equal timestamps by this many seconds")
	fs.IntVar(&cfg.Ordering.RepairSeconds, "repair-monotonic-seconds", cfg.Ordering.RepairSeconds, "If >0, advance any non-increasing timestamp by this many seconds")
	fs.StringVar(&cfg.Ordering.LoopState, "loop-state", cfg.Ordering.LoopState, "Ordering state across loop passes: persist or reset")

	// Filtering
	fs.Var(&stringList{target: &cfg.Filter.DeviceIDs}, "filter-device-id", "Only include rows whose field 1 is one of these values")
	fs.IntVar(&cfg.Filter.ColIndex, "filter-col-index", cfg.Filter.ColIndex, "Zero-based column for --filter-values (-1 disables)")
	fs.Var(&stringList{target: &cfg.Filter.Values}, "filter-values", "Values accepted in --filter-col-index")

	// Mode and diagnostics
	fs.BoolVar(&cfg.Ordering.Disabled, "no-order", cfg.Ordering.Disabled, "Bypass ordering enforcement")
	fs.BoolVar(&cfg.Source.Preload, "preload", cfg.Source.Preload, "Load the file into memory before streaming")
	fs.BoolVar(&cfg.Ordering.SortPerKey, "sort-per-key", cfg.Ordering.SortPerKey, "Pre-sort rows per key and merge by timestamp (implies --preload)")
	fs.StringVar(&cfg.Diagnostics.FilteredLog, "filtered-log", cfg.Diagnostics.FilteredLog, "Append dropped/nudged/repaired diagnostics as TSV to this path")
	fs.IntVar(&cfg.Diagnostics.SampleFiltered, "sample-filtered", cfg.Diagnostics.SampleFiltered, "Log the first N diagnostics")
	fs.StringVar(&cfg.Diagnostics.NATSURL, "diagnostics-nats-url", cfg.Diagnostics.NATSURL, "Publish diagnostics as JSON to this NATS server")
	fs.StringVar(&cfg.Diagnostics.NATSSubject, "diagnostics-nats-subject", cfg.Diagnostics.NATSSubject, "NATS subject for diagnostics")
	fs.StringVar(&cfg.Diagnostics.NATSStream, "diagnostics-nats-stream", cfg.Diagnostics.NATSStream, "Persist diagnostics in this JetStream stream")
	fs.Float64Var(&cfg.Diagnostics.NATSRate, "diagnostics-nats-rate", cfg.Diagnostics.NATSRate, "Max diagnostics published per second (0 = unlimited)")
	fs.BoolVar(&cfg.Log.Verbose, "verbose", cfg.Log.Verbose, "Debug logging, including every diagnostic")
	fs.BoolVar(&cfg.Log.Quiet, "quiet", cfg.Log.Quiet, "Only log warnings and errors")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "Log format: json or text")
	fs.IntVar(&cfg.Metrics.Port, "metrics-port", cfg.Metrics.Port, "Prometheus metrics port (0 disables)")
	fs.BoolVar(&cfg.Source.Loop, "loop", cfg.Source.Loop, "Replay the file indefinitely")

	return fs, batchRows
}

// scanConfigPath finds --config before the flag set exists, since the file
// supplies the flag defaults.
func scanConfigPath(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		name, value, hasValue := splitFlag(arg)
		if name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// expandArgs folds space separated list values into a single comma list
// and splits off everything after "--" as positional.
func expandArgs(args []string) (flags, positional []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, append(positional, args[i+1:]...)
		}

		name, _, hasValue := splitFlag(arg)
		intsOnly, isList := listFlags[name]
		if !isList || hasValue {
			flags = append(flags, arg)
			continue
		}

		var values []string
		for i+1 < len(args) && isListValue(args[i+1], intsOnly) {
			values = append(values, args[i+1])
			i++
		}
		if len(values) == 0 {
			flags = append(flags, arg)
			continue
		}
		flags = append(flags, "--"+name+"="+strings.Join(values, ","))
	}
	return flags, positional
}

func isListValue(arg string, intsOnly bool) bool {
	if arg == "--" || (strings.HasPrefix(arg, "-") && len(arg) > 1) {
		return false
	}
	if !intsOnly {
		return true
	}
	for _, part := range splitList(arg) {
		if _, err := strconv.Atoi(part); err != nil {
			return false
		}
	}
	return true
}

// splitFlag returns the flag name of arg without dashes, or "" when arg is
// not a flag.
func splitFlag(arg string) (name, value string, hasValue bool) {
	if len(arg) < 2 || arg[0] != '-' {
		return "", "", false
	}
	name = strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")
	if i := strings.IndexByte(name, '='); i >= 0 {
		return name[:i], name[i+1:], true
	}
	return name, "", false
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - replay a CSV file to TCP clients with timestamp ordering

Usage: %s [options] <csv_path>

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Stream at 200 rows/s in batches of 10, repairing out-of-order rows
  %s --rows-per-sec 200 --batch-size 10 --repair-monotonic-seconds 1 data.csv

  # Per-device ordering with a pre-sorted merge, replayed forever
  %s --order-scope both --key-col-index 1 --sort-per-key --loop data.csv

  # Settings from a file and the environment
  export STREAMREPLAY_SERVER_PORT=4000
  %s --config replay.yaml

Version: %s
Build: %s
`, appName, appName, appName, Version, BuildTime)
}
