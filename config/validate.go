package config

import (
	"fmt"
	"strings"

	"github.com/c360/streamreplay/errors"
	"github.com/c360/streamreplay/ordering"
)

// Validate reports the first setting that makes the configuration unusable.
// The error wraps errors.ErrInvalidConfig and is classified invalid.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateSource,
		c.validateServer,
		c.validatePacing,
		c.validateOrdering,
		c.validateFilter,
		c.validateDiagnostics,
		c.validateLog,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"config", "Validate", "validate configuration")
}

func (c *Config) validateSource() error {
	if strings.TrimSpace(c.Source.Path) == "" {
		return invalid("a source file path is required")
	}
	if c.Source.TimestampIndex < 0 {
		return invalid("ts-col-index must be >= 0, got %d", c.Source.TimestampIndex)
	}
	if _, err := c.Delim(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("port must be in 0..65535, got %d", c.Server.Port)
	}
	if c.Server.SendBuffer < 0 {
		return invalid("send-buffer must be >= 0, got %d", c.Server.SendBuffer)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return invalid("metrics-port must be in 0..65535, got %d", c.Metrics.Port)
	}
	if c.Metrics.Port != 0 && c.Metrics.Port == c.Server.Port {
		return invalid("metrics-port and port must differ, both are %d", c.Server.Port)
	}
	return nil
}

func (c *Config) validatePacing() error {
	p := c.Pacing
	if p.Delay > 0 && p.RowsPerSec > 0 {
		return invalid("--delay and --rows-per-sec are mutually exclusive")
	}
	if p.Delay < 0 {
		return invalid("delay must be >= 0, got %g", p.Delay)
	}
	if p.RowsPerSec < 0 {
		return invalid("rows-per-sec must be >= 0, got %g", p.RowsPerSec)
	}
	if p.BatchRows < 1 {
		return invalid("batch-size must be >= 1, got %d", p.BatchRows)
	}
	if p.MaxBatchBytes < 0 {
		return invalid("max-batch-bytes must be >= 0, got %d", p.MaxBatchBytes)
	}
	return nil
}

func (c *Config) validateOrdering() error {
	o := c.Ordering
	scope, err := ordering.ParseScope(o.Scope)
	if err != nil {
		return err
	}
	if _, err := ordering.ParseLoopState(o.LoopState); err != nil {
		return err
	}
	if o.NudgeSeconds < 0 {
		return invalid("nudge-equal-seconds must be >= 0, got %d", o.NudgeSeconds)
	}
	if o.RepairSeconds < 0 {
		return invalid("repair-monotonic-seconds must be >= 0, got %d", o.RepairSeconds)
	}
	for _, idx := range o.KeyIndices {
		if idx < 0 {
			return invalid("key-col-index must be >= 0, got %d", idx)
		}
	}
	if scope.PerKey() && len(o.KeyIndices) == 0 {
		return invalid("--order-scope %s requires --key-col-index <idx ...>", scope)
	}
	if o.SortPerKey && len(o.KeyIndices) == 0 {
		return invalid("--sort-per-key requires --key-col-index <idx ...>")
	}
	return nil
}

func (c *Config) validateFilter() error {
	f := c.Filter
	if len(f.DeviceIDs) > 0 {
		return nil
	}
	if f.ColIndex < -1 {
		return invalid("filter-col-index must be >= 0, got %d", f.ColIndex)
	}
	if f.ColIndex >= 0 && len(f.Values) == 0 {
		return invalid("--filter-values required when --filter-col-index is set")
	}
	return nil
}

func (c *Config) validateDiagnostics() error {
	d := c.Diagnostics
	if d.SampleFiltered < 0 {
		return invalid("sample-filtered must be >= 0, got %d", d.SampleFiltered)
	}
	if d.NATSRate < 0 {
		return invalid("diagnostics-nats-rate must be >= 0, got %g", d.NATSRate)
	}
	if d.NATSURL != "" && strings.TrimSpace(d.NATSSubject) == "" {
		return invalid("diagnostics-nats-subject must not be empty")
	}
	return nil
}

func (c *Config) validateLog() error {
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		return nil
	}
	return invalid("log-format must be json or text, got %q", c.Log.Format)
}
