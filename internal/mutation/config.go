package mutation

import (
	"fmt"
	"os"
	"strings"
)

// ApplyDefaults fills in zero values with defaults. An empty node id is
// kept; the controller picks a random one.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.DefaultBatchSize == 0 {
		c.DefaultBatchSize = defaults.DefaultBatchSize
	}
	if c.ResultRetention == 0 {
		c.ResultRetention = defaults.ResultRetention
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = defaults.ReapInterval
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("DOCSTORE_NODE_ID"); val != "" {
		c.NodeID = val
	}
}

// ResolvePaths is a no-op; tasks have no file paths.
func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if strings.Contains(c.NodeID, ":") {
		return fmt.Errorf("tasks.node_id must not contain ':', got %q", c.NodeID)
	}
	if c.DefaultBatchSize < 1 {
		return fmt.Errorf("tasks.default_batch_size must be positive")
	}
	if c.ResultRetention < 0 || c.ReapInterval < 0 {
		return fmt.Errorf("tasks.result_retention and tasks.reap_interval must not be negative")
	}
	return nil
}
