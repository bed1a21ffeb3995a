package document

import (
	"fmt"

	"github.com/syntrixbase/docstore/pkg/model"
)

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Defaults.Shards == 0 {
		c.Defaults.Shards = 1
	}
}

// ApplyEnvOverrides is a no-op; collections are configured by file only.
func (c *Config) ApplyEnvOverrides() {}

// ResolvePaths is a no-op; collections have no file paths.
func (c *Config) ResolvePaths(_, _ string) {}

// Validate checks shard counts and collection names.
func (c *Config) Validate() error {
	if c.Defaults.Shards < 1 {
		return fmt.Errorf("collections.defaults.shards must be positive")
	}
	for name, settings := range c.Collections {
		if !model.CheckCollectionName(name) {
			return fmt.Errorf("invalid collection name [%s]", name)
		}
		if settings.Shards < 0 {
			return fmt.Errorf("collections.predefined.%s.shards must not be negative", name)
		}
	}
	return nil
}
