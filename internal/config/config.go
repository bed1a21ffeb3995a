// Package config loads the process configuration from yaml files and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/syntrixbase/docstore/internal/bulk"
	"github.com/syntrixbase/docstore/internal/bulk/queue"
	"github.com/syntrixbase/docstore/internal/core/pubsub"
	storage "github.com/syntrixbase/docstore/internal/core/storage/config"
	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/mutation"
	"github.com/syntrixbase/docstore/internal/server"
)

// Config holds the application configuration
type Config struct {
	// DataDir anchors relative runtime paths. Empty means the parent of
	// the config directory.
	DataDir string `yaml:"data_dir"`

	Server      server.Config   `yaml:"server"`
	Storage     storage.Config  `yaml:"storage"`
	Collections document.Config `yaml:"collections"`
	Bulk        bulk.Config     `yaml:"bulk"`
	Queue       queue.Config    `yaml:"queue"`
	Tasks       mutation.Config `yaml:"tasks"`
	Events      pubsub.Config   `yaml:"events"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Server:  server.DefaultConfig(),
		Storage: storage.DefaultConfig(),
		Bulk:    bulk.DefaultConfig(),
		Queue:   queue.DefaultConfig(),
		Tasks:   mutation.DefaultConfig(),
		Events:  pubsub.DefaultConfig(),
		Logging: DefaultLoggingConfig(),
	}
}

// LoadConfig loads configuration from files in configDir and the environment.
// Order: defaults -> config.yml -> config.local.yml -> ApplyEnvOverrides -> ResolvePaths -> Validate
// Missing files are skipped; unreadable or malformed ones are errors.
func LoadConfig(configDir string) (*Config, error) {
	cfg := Default()

	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Apply(configDir); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// Apply runs the lifecycle of every section.
func (c *Config) Apply(configDir string) error {
	if val := os.Getenv("DOCSTORE_DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Dir(configDir)
	} else if !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(filepath.Dir(configDir), c.DataDir)
	}

	if err := ApplyServiceConfigs(configDir, c.DataDir,
		&c.Server,
		&c.Storage,
		&c.Collections,
		&c.Bulk,
		&c.Queue,
		&c.Tasks,
		&c.Events,
		&c.Logging,
	); err != nil {
		return err
	}
	c.Collections.MaxWriteRetries = c.Storage.MaxWriteRetries
	return nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}
