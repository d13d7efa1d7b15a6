package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamreplay/errors"
	"github.com/c360/streamreplay/ordering"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Source.Path = "replay.csv"
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 32323, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Pacing.BatchRows)
	assert.Equal(t, ",", cfg.Source.Delimiter)
	assert.Equal(t, "global", cfg.Ordering.Scope)
	assert.Equal(t, "persist", cfg.Ordering.LoopState)
	assert.Equal(t, -1, cfg.Filter.ColIndex)
	assert.Equal(t, "streamreplay.diagnostics", cfg.Diagnostics.NATSSubject)
	assert.Equal(t, 0, cfg.Metrics.Port)

	// a default config only lacks the file path
	err := cfg.Validate()
	require.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.NoError(t, validConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"delay and rate", func(c *Config) { c.Pacing.Delay = 0.1; c.Pacing.RowsPerSec = 10 }, "mutually exclusive"},
		{"batch size zero", func(c *Config) { c.Pacing.BatchRows = 0 }, "batch-size must be >= 1"},
		{"negative byte cap", func(c *Config) { c.Pacing.MaxBatchBytes = -1 }, "max-batch-bytes"},
		{"negative rate", func(c *Config) { c.Pacing.RowsPerSec = -1 }, "rows-per-sec"},
		{"negative delay", func(c *Config) { c.Pacing.Delay = -0.5 }, "delay must be >= 0"},
		{"per-key without keys", func(c *Config) { c.Ordering.Scope = "per-key" }, "requires --key-col-index"},
		{"both without keys", func(c *Config) { c.Ordering.Scope = "both" }, "requires --key-col-index"},
		{"sort per key without keys", func(c *Config) { c.Ordering.SortPerKey = true }, "--sort-per-key requires"},
		{"unknown scope", func(c *Config) { c.Ordering.Scope = "sideways" }, "unknown order scope"},
		{"unknown loop state", func(c *Config) { c.Ordering.LoopState = "forget" }, "unknown loop state"},
		{"negative key index", func(c *Config) { c.Ordering.KeyIndices = []int{1, -2} }, "key-col-index must be >= 0"},
		{"negative ts index", func(c *Config) { c.Source.TimestampIndex = -1 }, "ts-col-index"},
		{"filter column without values", func(c *Config) { c.Filter.ColIndex = 2 }, "--filter-values required"},
		{"negative filter column", func(c *Config) { c.Filter.ColIndex = -3 }, "filter-col-index"},
		{"long delimiter", func(c *Config) { c.Source.Delimiter = ";;" }, "single character"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "port must be in 0..65535"},
		{"negative send buffer", func(c *Config) { c.Server.SendBuffer = -1 }, "send-buffer"},
		{"metrics port clash", func(c *Config) { c.Metrics.Port = c.Server.Port }, "must differ"},
		{"negative sample", func(c *Config) { c.Diagnostics.SampleFiltered = -1 }, "sample-filtered"},
		{"negative nats rate", func(c *Config) { c.Diagnostics.NATSRate = -1 }, "nats-rate"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log-format"},
		{"negative nudge", func(c *Config) { c.Ordering.NudgeSeconds = -1 }, "nudge-equal-seconds"},
		{"no-order per-key without keys", func(c *Config) {
			c.Ordering.Disabled = true
			c.Ordering.Scope = "per-key"
		}, "requires --key-col-index"},
		{"no-order sort per key without keys", func(c *Config) {
			c.Ordering.Disabled = true
			c.Ordering.SortPerKey = true
		}, "--sort-per-key requires"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_Accepts(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"per-key with keys", func(c *Config) { c.Ordering.Scope = "per-key"; c.Ordering.KeyIndices = []int{1} }},
		{"no-order with keyed scope and keys", func(c *Config) {
			c.Ordering.Disabled = true
			c.Ordering.Scope = "both"
			c.Ordering.KeyIndices = []int{1}
		}},
		{"device filter", func(c *Config) { c.Filter.DeviceIDs = []string{"1000"} }},
		{"column filter", func(c *Config) { c.Filter.ColIndex = 3; c.Filter.Values = []string{"x"} }},
		{"tab delimiter", func(c *Config) { c.Source.Delimiter = `\t` }},
		{"rate only", func(c *Config) { c.Pacing.RowsPerSec = 100 }},
		{"json logs", func(c *Config) { c.Log.Format = "JSON" }},
		{"ephemeral port", func(c *Config) { c.Server.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestDelim(t *testing.T) {
	tests := []struct {
		in      string
		want    rune
		wantErr bool
	}{
		{",", ',', false},
		{";", ';', false},
		{"|", '|', false},
		{"\t", '\t', false},
		{`\t`, '\t', false},
		{"TAB", '\t', false},
		{`\|`, '|', false},
		{"", ',', false},
		{"ab", 0, true},
		{"\n", 0, true},
		{`"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cfg := validConfig()
			cfg.Source.Delimiter = tt.in
			got, err := cfg.Delim()
			if tt.wantErr {
				require.ErrorIs(t, err, errors.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterSpec(t *testing.T) {
	cfg := validConfig()
	_, _, ok := cfg.FilterSpec()
	assert.False(t, ok)

	cfg.Filter.ColIndex = 4
	cfg.Filter.Values = []string{"a"}
	idx, values, ok := cfg.FilterSpec()
	require.True(t, ok)
	assert.Equal(t, 4, idx)
	assert.Equal(t, []string{"a"}, values)

	cfg.Filter.DeviceIDs = []string{"1000", "1001"}
	idx, values, ok = cfg.FilterSpec()
	require.True(t, ok)
	assert.Equal(t, DeviceIDIndex, idx)
	assert.Equal(t, []string{"1000", "1001"}, values)
}

func TestWarnings(t *testing.T) {
	cfg := validConfig()
	assert.Empty(t, cfg.Warnings())

	cfg.Ordering.Disabled = true
	cfg.Ordering.RepairSeconds = 1
	cfg.Log.Verbose = true
	cfg.Log.Quiet = true
	warnings := cfg.Warnings()
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "no_order disables ordering")
	assert.Contains(t, warnings[1], "quiet wins")
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, "replay.yaml", `
source:
  path: data/replay.csv
  skip_header: true
  loop: true
server:
  port: 4000
pacing:
  rows_per_sec: 50
  batch_size: 5
ordering:
  order_scope: both
  key_col_index: [1, 2]
  repair_monotonic_seconds: 1
  loop_state: reset
diagnostics:
  filtered_log: filtered.tsv
`)
	t.Setenv("STREAMREPLAY_SERVER_PORT", "4100")
	t.Setenv("STREAMREPLAY_ORDERING_KEY_COL_INDEX", "3,4")
	t.Setenv("STREAMREPLAY_DIAGNOSTICS_NATS_URL", "nats://localhost:4222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "data/replay.csv", cfg.Source.Path)
	assert.True(t, cfg.Source.SkipHeader)
	assert.True(t, cfg.Source.Loop)
	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "untouched keys keep defaults")
	assert.Equal(t, 50.0, cfg.Pacing.RowsPerSec)
	assert.Equal(t, 5, cfg.Pacing.BatchRows)
	assert.Equal(t, "both", cfg.Ordering.Scope)
	assert.Equal(t, []int{3, 4}, cfg.Ordering.KeyIndices)
	assert.Equal(t, "reset", cfg.Ordering.LoopState)
	assert.Equal(t, "filtered.tsv", cfg.Diagnostics.FilteredLog)
	assert.Equal(t, "nats://localhost:4222", cfg.Diagnostics.NATSURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("STREAMREPLAY_SOURCE_PATH", "from-env.csv")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env.csv", cfg.Source.Path)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("unknown key", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "server:\n  prot: 1\n")
		_, err := Load(path)
		require.ErrorIs(t, err, errors.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "prot")
	})

	t.Run("wrong extension", func(t *testing.T) {
		path := writeFile(t, "config.toml", "port = 1\n")
		_, err := Load(path)
		require.ErrorIs(t, err, errors.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "only YAML or JSON")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.ErrorIs(t, err, errors.ErrInvalidConfig)
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("STREAMREPLAY_SERVER_PORT", "not-a-port")
		_, err := Load("")
		require.ErrorIs(t, err, errors.ErrInvalidConfig)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("empty file keeps defaults", func(t *testing.T) {
		path := writeFile(t, "empty.yml", "\n")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 32323, cfg.Server.Port)
	})

	t.Run("json document", func(t *testing.T) {
		path := writeFile(t, "cfg.json", `{"server": {"port": 5000}, "source": {"path": "x.csv"}}`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})
}

func TestReplayOptions(t *testing.T) {
	cfg := validConfig()
	cfg.Source.Delimiter = `\t`
	cfg.Source.TimestampIndex = 2
	cfg.Ordering.Scope = "both"
	cfg.Ordering.KeyIndices = []int{1}
	cfg.Ordering.SortPerKey = true
	cfg.Ordering.NudgeSeconds = 2
	cfg.Ordering.RepairSeconds = 1
	cfg.Ordering.LoopState = "reset"
	cfg.Pacing.RowsPerSec = 4
	cfg.Pacing.BatchRows = 3
	cfg.Pacing.MaxBatchBytes = 512
	cfg.Filter.DeviceIDs = []string{"1000"}
	require.NoError(t, cfg.Validate())

	opts, err := cfg.ReplayOptions()
	require.NoError(t, err)

	assert.Equal(t, '\t', opts.Source.Delimiter)
	assert.True(t, opts.Source.Preload, "sort-per-key implies preload")
	require.NotNil(t, opts.Source.Filter)
	assert.Equal(t, DeviceIDIndex, opts.Source.Filter.Index)

	assert.Equal(t, ordering.ScopeBoth, opts.Ordering.Scope)
	assert.Equal(t, 2, opts.Ordering.TimestampIndex)
	assert.Equal(t, []int{1}, opts.Ordering.KeyIndices)
	assert.Equal(t, ordering.Policy{NudgeSeconds: 2, RepairSeconds: 1}, opts.Ordering.Policy)
	assert.True(t, opts.Ordering.ResetOnLoop)

	assert.Equal(t, 250*time.Millisecond, opts.PerRow)
	assert.Equal(t, 3, opts.Batch.MaxRows)
	assert.Equal(t, 512, opts.Batch.MaxBytes)
	assert.True(t, opts.SortPerKey)
	assert.False(t, opts.NoOrder)
}

func TestReplayOptions_Delay(t *testing.T) {
	cfg := validConfig()
	cfg.Pacing.Delay = 0.05
	opts, err := cfg.ReplayOptions()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, opts.PerRow)
	assert.Nil(t, opts.Source.Filter)
	assert.False(t, opts.Ordering.ResetOnLoop)
}

func TestServerConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Server.NoDelay = true
	cfg.Server.SendBuffer = 1 << 16

	sc := cfg.ServerConfig()
	assert.Equal(t, "127.0.0.1:32323", sc.Address())
	assert.True(t, sc.NoDelay)
	assert.Equal(t, 1<<16, sc.SendBuffer)
}
