package config

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/c360/streamreplay/errors"
)

// EnvPrefix is prepended to every environment variable the loader reads.
const EnvPrefix = "STREAMREPLAY_"

// DeviceIDIndex is the field --filter-device-id filters on.
const DeviceIDIndex = 1

// Config is the complete replay server configuration.
type Config struct {
	Source      SourceConfig      `yaml:"source"      envPrefix:"SOURCE_"`
	Server      ServerConfig      `yaml:"server"      envPrefix:"SERVER_"`
	Pacing      PacingConfig      `yaml:"pacing"      envPrefix:"PACING_"`
	Ordering    OrderingConfig    `yaml:"ordering"    envPrefix:"ORDERING_"`
	Filter      FilterConfig      `yaml:"filter"      envPrefix:"FILTER_"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" envPrefix:"DIAGNOSTICS_"`
	Log         LogConfig         `yaml:"log"         envPrefix:"LOG_"`
	Metrics     MetricsConfig     `yaml:"metrics"     envPrefix:"METRICS_"`
}

// SourceConfig describes the replay file.
type SourceConfig struct {
	Path           string `yaml:"path"         env:"PATH"`
	Delimiter      string `yaml:"delimiter"    env:"DELIMITER"`
	SkipHeader     bool   `yaml:"skip_header"  env:"SKIP_HEADER"`
	TimestampIndex int    `yaml:"ts_col_index" env:"TS_COL_INDEX"`
	Preload        bool   `yaml:"preload"      env:"PRELOAD"`
	Loop           bool   `yaml:"loop"         env:"LOOP"`
}

// ServerConfig describes the listening socket.
type ServerConfig struct {
	Host       string `yaml:"host"        env:"HOST"`
	Port       int    `yaml:"port"        env:"PORT"`
	NoDelay    bool   `yaml:"tcp_nodelay" env:"TCP_NODELAY"`
	SendBuffer int    `yaml:"send_buffer" env:"SEND_BUFFER"`
}

// PacingConfig controls batch size and send rate. Delay is in seconds.
type PacingConfig struct {
	Delay         float64 `yaml:"delay"           env:"DELAY"`
	RowsPerSec    float64 `yaml:"rows_per_sec"    env:"ROWS_PER_SEC"`
	BatchRows     int     `yaml:"batch_size"      env:"BATCH_SIZE"`
	MaxBatchBytes int     `yaml:"max_batch_bytes" env:"MAX_BATCH_BYTES"`
}

// OrderingConfig controls timestamp enforcement.
type OrderingConfig struct {
	Disabled      bool   `yaml:"no_order"                 env:"NO_ORDER"`
	Scope         string `yaml:"order_scope"              env:"SCOPE"`
	KeyIndices    []int  `yaml:"key_col_index"            env:"KEY_COL_INDEX"`
	NudgeSeconds  int    `yaml:"nudge_equal_seconds"      env:"NUDGE_EQUAL_SECONDS"`
	RepairSeconds int    `yaml:"repair_monotonic_seconds" env:"REPAIR_MONOTONIC_SECONDS"`
	SortPerKey    bool   `yaml:"sort_per_key"             env:"SORT_PER_KEY"`
	LoopState     string `yaml:"loop_state"               env:"LOOP_STATE"`
}

// FilterConfig keeps only rows whose field matches one of the values.
// DeviceIDs is shorthand for ColIndex 1 and wins over ColIndex.
type FilterConfig struct {
	DeviceIDs []string `yaml:"device_id" env:"DEVICE_ID"`
	// ColIndex is -1 when unset.
	ColIndex int      `yaml:"col_index" env:"COL_INDEX"`
	Values   []string `yaml:"values"    env:"VALUES"`
}

// DiagnosticsConfig controls where altered and dropped rows are reported.
type DiagnosticsConfig struct {
	FilteredLog    string  `yaml:"filtered_log"    env:"FILTERED_LOG"`
	SampleFiltered int     `yaml:"sample_filtered" env:"SAMPLE_FILTERED"`
	NATSURL        string  `yaml:"nats_url"        env:"NATS_URL"`
	NATSSubject    string  `yaml:"nats_subject"    env:"NATS_SUBJECT"`
	NATSStream     string  `yaml:"nats_stream"     env:"NATS_STREAM"`
	NATSRate       float64 `yaml:"nats_rate"       env:"NATS_RATE"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Verbose bool   `yaml:"verbose" env:"VERBOSE"`
	Quiet   bool   `yaml:"quiet"   env:"QUIET"`
	Format  string `yaml:"format"  env:"FORMAT"`
}

// MetricsConfig controls the Prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `yaml:"port" env:"PORT"`
	Path string `yaml:"path" env:"PATH"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Delimiter: ",",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 32323,
		},
		Pacing: PacingConfig{
			BatchRows: 1,
		},
		Ordering: OrderingConfig{
			Scope:     "global",
			LoopState: "persist",
		},
		Filter: FilterConfig{
			ColIndex: -1,
		},
		Diagnostics: DiagnosticsConfig{
			NATSSubject: "streamreplay.diagnostics",
		},
		Log: LogConfig{
			Format: "text",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load builds a configuration from defaults, the YAML file at path (when
// path is not empty) and STREAMREPLAY_* environment variables, in that order.
// The result is not validated; callers apply flag overrides first.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MergeFile overlays the YAML document at path. Keys absent from the file
// keep their current values; unknown keys are rejected.
func (c *Config) MergeFile(path string) error {
	data, err := safeReadFile(path)
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"config", "MergeFile", "read config file")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, path, err),
			"config", "MergeFile", "decode config file")
	}
	return nil
}

// ApplyEnv overlays STREAMREPLAY_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(env.Options{Prefix: EnvPrefix})
}

func (c *Config) applyEnv(opts env.Options) error {
	if err := env.ParseWithOptions(c, opts); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"config", "ApplyEnv", "parse environment")
	}
	return nil
}

// Delim returns the field delimiter as a rune. It accepts a literal
// character or the escapes \t, "tab", \| and \\.
func (c *Config) Delim() (rune, error) {
	d := c.Source.Delimiter
	switch strings.ToLower(d) {
	case `\t`, "tab":
		return '\t', nil
	case "":
		return ',', nil
	}
	if len(d) == 2 && d[0] == '\\' {
		d = d[1:]
	}
	runes := []rune(d)
	if len(runes) != 1 {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: delimiter must be a single character, got %q", errors.ErrInvalidConfig, c.Source.Delimiter),
			"config", "Delim", "parse delimiter")
	}
	if runes[0] == '\n' || runes[0] == '\r' || runes[0] == '"' {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: delimiter %q is not allowed", errors.ErrInvalidConfig, c.Source.Delimiter),
			"config", "Delim", "parse delimiter")
	}
	return runes[0], nil
}

// FilterSpec resolves the filter shorthand. ok is false when no filter
// applies.
func (c *Config) FilterSpec() (index int, values []string, ok bool) {
	if len(c.Filter.DeviceIDs) > 0 {
		return DeviceIDIndex, c.Filter.DeviceIDs, true
	}
	if c.Filter.ColIndex >= 0 && len(c.Filter.Values) > 0 {
		return c.Filter.ColIndex, c.Filter.Values, true
	}
	return 0, nil, false
}

// Warnings lists settings that are accepted but have no effect.
func (c *Config) Warnings() []string {
	var warnings []string
	o := c.Ordering
	if o.Disabled && (o.NudgeSeconds > 0 || o.RepairSeconds > 0 ||
		!strings.EqualFold(o.Scope, "global") || len(o.KeyIndices) > 0 || o.SortPerKey) {
		warnings = append(warnings,
			"no_order disables ordering; nudge, repair, order scope, key columns and sort_per_key are ignored")
	}
	if c.Filter.ColIndex < 0 && len(c.Filter.Values) > 0 && len(c.Filter.DeviceIDs) == 0 {
		warnings = append(warnings, "filter values given without a filter column; no filter applied")
	}
	if len(c.Filter.DeviceIDs) > 0 && c.Filter.ColIndex >= 0 {
		warnings = append(warnings, "filter device_id overrides filter col_index")
	}
	if c.Log.Verbose && c.Log.Quiet {
		warnings = append(warnings, "verbose and quiet both set; quiet wins")
	}
	return warnings
}
