package config

import (
	"strings"
	"time"

	"github.com/c360/streamreplay/ordering"
	"github.com/c360/streamreplay/pacer"
	"github.com/c360/streamreplay/replay"
	"github.com/c360/streamreplay/server"
	"github.com/c360/streamreplay/source"
)

// ReplayOptions translates a validated configuration into session options.
func (c *Config) ReplayOptions() (replay.Options, error) {
	delim, err := c.Delim()
	if err != nil {
		return replay.Options{}, err
	}
	scope, err := ordering.ParseScope(c.Ordering.Scope)
	if err != nil {
		return replay.Options{}, err
	}
	loopState, err := ordering.ParseLoopState(c.Ordering.LoopState)
	if err != nil {
		return replay.Options{}, err
	}

	src := source.Config{
		Path:       c.Source.Path,
		Delimiter:  delim,
		SkipHeader: c.Source.SkipHeader,
		Preload:    c.Source.Preload || c.Ordering.SortPerKey,
		Loop:       c.Source.Loop,
	}
	if index, values, ok := c.FilterSpec(); ok {
		src.Filter = source.NewFilter(index, values)
	}

	return replay.Options{
		Source: src,
		Ordering: ordering.Config{
			Scope:          scope,
			TimestampIndex: c.Source.TimestampIndex,
			KeyIndices:     append([]int(nil), c.Ordering.KeyIndices...),
			Policy: ordering.Policy{
				NudgeSeconds:  c.Ordering.NudgeSeconds,
				RepairSeconds: c.Ordering.RepairSeconds,
			},
			ResetOnLoop: loopState == ordering.LoopReset,
		},
		Batch: pacer.Config{
			MaxRows:  c.Pacing.BatchRows,
			MaxBytes: c.Pacing.MaxBatchBytes,
		},
		PerRow:     pacer.PerRow(seconds(c.Pacing.Delay), c.Pacing.RowsPerSec),
		NoOrder:    c.Ordering.Disabled,
		SortPerKey: c.Ordering.SortPerKey,
	}, nil
}

// ServerConfig returns the listener settings.
func (c *Config) ServerConfig() server.Config {
	return server.Config{
		Host:       c.Server.Host,
		Port:       c.Server.Port,
		NoDelay:    c.Server.NoDelay,
		SendBuffer: c.Server.SendBuffer,
	}
}

// JSONLogs reports whether the logger should emit JSON.
func (c *Config) JSONLogs() bool {
	return strings.EqualFold(c.Log.Format, "json")
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
