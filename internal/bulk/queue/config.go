package queue

import (
	"fmt"
	"time"
)

// Enabled reports whether any flush threshold is set. Without one the
// queue would only flush on explicit calls.
func (c Config) Enabled() bool {
	return c.MaxActions > 0 || c.MaxBytes > 0 || c.FlushInterval > 0
}

// ApplyDefaults fills in a missing flush timeout. Thresholds stay as
// configured since zero disables them.
func (c *Config) ApplyDefaults() {
	if c.FlushTimeout == 0 {
		c.FlushTimeout = DefaultConfig().FlushTimeout
	}
}

// ApplyEnvOverrides is a no-op; the queue is configured by file only.
func (c *Config) ApplyEnvOverrides() {}

// ResolvePaths is a no-op; the queue has no file paths.
func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.FlushTimeout < 0 {
		return fmt.Errorf("queue.flush_timeout must not be negative")
	}
	if c.FlushInterval != 0 && c.FlushInterval < time.Millisecond {
		return fmt.Errorf("queue.flush_interval must be at least 1ms, got %s", c.FlushInterval)
	}
	return nil
}
