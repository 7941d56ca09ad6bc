package supervisor

import (
	"fmt"
	"time"
)

// RestartLogPolicy decides what happens to a record's log buffer when it is
// started again.
type RestartLogPolicy string

const (
	// RestartLogClear drops the previous run's lines.
	RestartLogClear RestartLogPolicy = "clear"
	// RestartLogAppendSeparator keeps them and appends a separator line.
	RestartLogAppendSeparator RestartLogPolicy = "append_separator"
)

// Config defines the supervisor tuning knobs.
type Config struct {
	// LogCap is the maximum number of entries kept per process.
	LogCap int
	// BatchLimit caps how many queue items one processor iteration drains.
	BatchLimit int
	// FlushInterval is the debounce between log flushes to the sink.
	FlushInterval time.Duration
	// PollInterval is the processor's idle sleep.
	PollInterval time.Duration
	// StopTimeout bounds each of the terminate and kill waits in Stop.
	StopTimeout time.Duration
	// ShutdownTimeout is the per-process wait used by ShutdownAll.
	ShutdownTimeout time.Duration
	// ExitGrace is how long the processor waits for the end-of-stream
	// sentinel after the pid disappears, and for the exit status after
	// the sentinel.
	ExitGrace time.Duration
	// DisconnectGrace delays the primary stop after a UI disconnect.
	// Zero stops immediately.
	DisconnectGrace time.Duration

	RestartLogPolicy RestartLogPolicy
	// PrimaryID names the process a UI disconnect applies to.
	PrimaryID string
}

// DefaultConfig returns the default supervisor configuration.
func DefaultConfig() *Config {
	return &Config{
		LogCap:           1000,
		BatchLimit:       20,
		FlushInterval:    200 * time.Millisecond,
		PollInterval:     100 * time.Millisecond,
		StopTimeout:      time.Second,
		ShutdownTimeout:  500 * time.Millisecond,
		ExitGrace:        500 * time.Millisecond,
		RestartLogPolicy: RestartLogClear,
		PrimaryID:        "main",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.LogCap < 1:
		return fmt.Errorf("log cap must be at least 1, got %d", c.LogCap)
	case c.BatchLimit < 1:
		return fmt.Errorf("batch limit must be at least 1, got %d", c.BatchLimit)
	case c.FlushInterval <= 0:
		return fmt.Errorf("flush interval must be positive")
	case c.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive")
	case c.StopTimeout <= 0:
		return fmt.Errorf("stop timeout must be positive")
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown timeout must be positive")
	case c.ExitGrace < 0:
		return fmt.Errorf("exit grace must not be negative")
	case c.DisconnectGrace < 0:
		return fmt.Errorf("disconnect grace must not be negative")
	case c.PrimaryID == "":
		return fmt.Errorf("primary id must not be empty")
	}
	switch c.RestartLogPolicy {
	case RestartLogClear, RestartLogAppendSeparator:
	default:
		return fmt.Errorf("unknown restart log policy %q", c.RestartLogPolicy)
	}
	return nil
}
