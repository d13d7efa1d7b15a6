package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamreplay/config"
	"github.com/c360/streamreplay/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func parse(t *testing.T, args ...string) *config.Config {
	t.Helper()
	cfg, _, err := parseArgs(args, io.Discard)
	require.NoError(t, err)
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestParseArgs_Interspersed(t *testing.T) {
	cfg := parse(t,
		"--port", "4000",
		"data.csv",
		"--key-col-index", "1", "2",
		"--order-scope", "both",
		"--filter-device-id", "1000", "1001")

	assert.Equal(t, "data.csv", cfg.Source.Path)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, []int{1, 2}, cfg.Ordering.KeyIndices)
	assert.Equal(t, "both", cfg.Ordering.Scope)
	assert.Equal(t, []string{"1000", "1001"}, cfg.Filter.DeviceIDs)
	assert.NoError(t, cfg.Validate())
}

func TestParseArgs_IntListStopsAtPath(t *testing.T) {
	cfg := parse(t, "--key-col-index", "1", "3", "data.csv")
	assert.Equal(t, []int{1, 3}, cfg.Ordering.KeyIndices)
	assert.Equal(t, "data.csv", cfg.Source.Path)
}

func TestParseArgs_ListForms(t *testing.T) {
	cfg := parse(t,
		"--filter-values", "a,b",
		"--filter-values", "c",
		"--filter-col-index", "2",
		"-key-col-index=4,5",
		"x.csv")

	assert.Equal(t, []string{"a", "b", "c"}, cfg.Filter.Values)
	assert.Equal(t, 2, cfg.Filter.ColIndex)
	assert.Equal(t, []int{4, 5}, cfg.Ordering.KeyIndices)
}

func TestParseArgs_BatchRowsAlias(t *testing.T) {
	cfg := parse(t, "--batch-rows", "5", "--batch-size", "2", "x.csv")
	assert.Equal(t, 5, cfg.Pacing.BatchRows)

	cfg = parse(t, "--batch-size", "2", "x.csv")
	assert.Equal(t, 2, cfg.Pacing.BatchRows)
}

func TestParseArgs_DoubleDash(t *testing.T) {
	cfg := parse(t, "--loop", "--", "-odd-name.csv")
	assert.Equal(t, "-odd-name.csv", cfg.Source.Path)
	assert.True(t, cfg.Source.Loop)
}

func TestParseArgs_ConfigFileThenFlags(t *testing.T) {
	path := writeFile(t, "replay.yaml", `
source:
  path: from-file.csv
server:
  port: 4000
pacing:
  batch_size: 3
ordering:
  key_col_index: [7]
`)
	t.Setenv("STREAMREPLAY_PACING_MAX_BATCH_BYTES", "2048")

	cfg, cli, err := parseArgs([]string{"--port", "4100", "--config", path}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, path, cli.ConfigPath)
	assert.Equal(t, "from-file.csv", cfg.Source.Path)
	assert.Equal(t, 4100, cfg.Server.Port, "explicit flag wins")
	assert.Equal(t, 3, cfg.Pacing.BatchRows, "unset flag keeps the file value")
	assert.Equal(t, 2048, cfg.Pacing.MaxBatchBytes)
	assert.Equal(t, []int{7}, cfg.Ordering.KeyIndices)

	cfg = parse(t, "--config="+path, "--key-col-index", "1", "other.csv")
	assert.Equal(t, []int{1}, cfg.Ordering.KeyIndices, "a list flag replaces the file list")
	assert.Equal(t, "other.csv", cfg.Source.Path)
}

func TestParseArgs_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--bogus", "x.csv"}},
		{"two paths", []string{"a.csv", "b.csv"}},
		{"bad int", []string{"--port", "many", "x.csv"}},
		{"bad list item", []string{"--key-col-index=1,x", "x.csv"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseArgs(tt.args, io.Discard)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Equal(t, exitConfig, exitCode(err))
		})
	}
}

func TestExpandArgs(t *testing.T) {
	flags, positional := expandArgs([]string{
		"--key-col-index", "1", "2", "data.csv",
		"--filter-device-id", "a", "b",
		"--port=1",
		"--", "tail",
	})
	assert.Equal(t, []string{
		"--key-col-index=1,2", "data.csv",
		"--filter-device-id=a,b",
		"--port=1",
	}, flags)
	assert.Equal(t, []string{"tail"}, positional)
}

func TestRun_ExitCodes(t *testing.T) {
	csv := writeFile(t, "data.csv", "1,a\n")

	tests := []struct {
		name       string
		args       []string
		want       int
		wantStderr string
		wantStdout string
	}{
		{"version", []string{"--version"}, exitOK, "", "streamreplay version"},
		{"help", []string{"--help"}, exitOK, "Usage: streamreplay", ""},
		{"missing path", nil, exitConfig, "source file path is required", ""},
		{"delay and rate", []string{"--delay", "0.1", "--rows-per-sec", "5", csv}, exitConfig, "mutually exclusive", ""},
		{"per-key without keys", []string{"--order-scope", "per-key", csv}, exitConfig, "requires --key-col-index", ""},
		{"unknown flag", []string{"--nope", csv}, exitConfig, "nope", ""},
		{"file not found", []string{filepath.Join(t.TempDir(), "missing.csv")}, exitSourceNotFound, "File not found", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			got := run(tt.args, &stdout, &stderr)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, stderr.String(), tt.wantStderr)
			assert.Contains(t, stdout.String(), tt.wantStdout)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitSourceNotFound, exitCode(errors.WrapFatal(errors.ErrSourceNotFound, "source", "Check", "stat")))
	assert.Equal(t, exitConfig, exitCode(errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "validate")))
	assert.Equal(t, exitRuntime, exitCode(errors.WrapFatal(errors.ErrConnectionLost, "server", "Listen", "bind")))
}

func TestServe_EndToEnd(t *testing.T) {
	csv := writeFile(t, "data.csv", "ts,id\n10,a\n10,a\n9,a\nbad,a\n11,a\n")
	filtered := filepath.Join(t.TempDir(), "filtered.tsv")
	port := freePort(t)
	metricsPort := freePort(t)

	cfg := parse(t,
		"--port", strconv.Itoa(port),
		"--metrics-port", strconv.Itoa(metricsPort),
		"--skip-header",
		"--nudge-equal-seconds", "1",
		"--filtered-log", filtered,
		"--batch-size", "2",
		csv)
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, setupLogger(cfg, io.Discard))
	}()

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	conn.Close()

	// [10, 10, 9, 11] with nudge 1: the second 10 becomes 11, then 11 ties it and becomes 12
	assert.Equal(t, "10,a\n11,a\n12,a\n", string(data))

	log, err := os.ReadFile(filtered)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(log)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "nudged_global\t"))
	assert.True(t, strings.HasPrefix(lines[1], "nonincreasing_global\t"))
	assert.True(t, strings.HasPrefix(lines[2], "unparsable\t"))
	assert.True(t, strings.HasPrefix(lines[3], "nudged_global\t"))

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(metricsPort) + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return strings.Contains(body, "streamreplay_stream_rows_sent_total 3")
	}, 5*time.Second, 50*time.Millisecond, "metrics: %s", body)
	assert.Contains(t, body, `streamreplay_ordering_diagnostics_total{kind="unparsable"} 1`)
	assert.Contains(t, body, `streamreplay_ordering_diagnostics_total{kind="nudged_global"} 2`)

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(metricsPort) + "/health")
	require.NoError(t, err)
	healthBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(healthBody), `"component":"server"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
