package bulk

import (
	"fmt"
	"os"
	"strconv"
)

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConfig().Concurrency
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("DOCSTORE_BULK_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Concurrency = n
		}
	}
}

// ResolvePaths is a no-op; the executor has no file paths.
func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("bulk.concurrency must be positive, got %d", c.Concurrency)
	}
	return nil
}
