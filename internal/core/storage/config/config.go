package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/syntrixbase/docstore/internal/core/storage/mongo"
	"github.com/syntrixbase/docstore/internal/core/storage/pebble"
	"github.com/syntrixbase/docstore/internal/core/storage/postgres"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPebble   = "pebble"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Config selects and configures the storage engine.
type Config struct {
	Backend  string          `yaml:"backend"`
	Pebble   pebble.Config   `yaml:"pebble"`
	Mongo    mongo.Config    `yaml:"mongo"`
	Postgres postgres.Config `yaml:"postgres"`
	// MaxWriteRetries bounds re-reads after an engine-level CAS miss.
	MaxWriteRetries int `yaml:"max_write_retries"`
}

func DefaultConfig() Config {
	return Config{
		Backend:         BackendPebble,
		Pebble:          pebble.DefaultConfig(),
		Mongo:           mongo.DefaultConfig(),
		Postgres:        postgres.DefaultConfig(),
		MaxWriteRetries: 3,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Backend == "" {
		c.Backend = defaults.Backend
	}
	if c.Pebble.Path == "" {
		c.Pebble.Path = defaults.Pebble.Path
	}
	if c.Pebble.BlockCacheSize == 0 {
		c.Pebble.BlockCacheSize = defaults.Pebble.BlockCacheSize
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = defaults.Mongo.URI
	}
	if c.Mongo.DatabaseName == "" {
		c.Mongo.DatabaseName = defaults.Mongo.DatabaseName
	}
	if c.Mongo.DocumentCollection == "" {
		c.Mongo.DocumentCollection = defaults.Mongo.DocumentCollection
	}
	if c.Mongo.CollectionCollection == "" {
		c.Mongo.CollectionCollection = defaults.Mongo.CollectionCollection
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = defaults.Postgres.MaxOpenConns
	}
	if c.MaxWriteRetries == 0 {
		c.MaxWriteRetries = defaults.MaxWriteRetries
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("DOCSTORE_STORAGE_BACKEND"); val != "" {
		c.Backend = val
	}
	if val := os.Getenv("DOCSTORE_PEBBLE_PATH"); val != "" {
		c.Pebble.Path = val
	}
	if val := os.Getenv("DOCSTORE_MONGO_URI"); val != "" {
		c.Mongo.URI = val
	}
	if val := os.Getenv("DOCSTORE_MONGO_DB"); val != "" {
		c.Mongo.DatabaseName = val
	}
	if val := os.Getenv("DOCSTORE_POSTGRES_DSN"); val != "" {
		c.Postgres.DSN = val
	}
}

// ResolvePaths makes a relative pebble path relative to dataDir.
func (c *Config) ResolvePaths(_, dataDir string) {
	if c.Pebble.Path != "" && !filepath.IsAbs(c.Pebble.Path) && dataDir != "" {
		c.Pebble.Path = filepath.Join(dataDir, c.Pebble.Path)
	}
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendPebble:
		if c.Pebble.Path == "" {
			return fmt.Errorf("storage.pebble.path is required")
		}
	case BackendMongo:
		if c.Mongo.URI == "" || c.Mongo.DatabaseName == "" {
			return fmt.Errorf("storage.mongo.uri and storage.mongo.database_name are required")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unknown storage backend '%s'", c.Backend)
	}
	if c.MaxWriteRetries < 0 {
		return fmt.Errorf("storage.max_write_retries must be non-negative")
	}
	return nil
}
