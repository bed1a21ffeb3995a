package pubsub

import (
	"fmt"
	"os"
	"time"
)

// StorageType defines the storage backend for streams.
type StorageType int

const (
	// MemoryStorage stores data in memory (default).
	MemoryStorage StorageType = iota
	// FileStorage stores data on disk.
	FileStorage
)

// ParseStorage accepts "memory" and "file".
func ParseStorage(s string) (StorageType, error) {
	switch s {
	case "", "memory":
		return MemoryStorage, nil
	case "file":
		return FileStorage, nil
	}
	return MemoryStorage, fmt.Errorf("unknown stream storage '%s'", s)
}

// PublisherOptions configures publisher behavior.
type PublisherOptions struct {
	// StreamName is the name of the stream to publish to.
	StreamName string

	// SubjectPrefix is prepended to all subjects.
	SubjectPrefix string

	// RetryAttempts is the number of retry attempts for publishing.
	// 0 means no retry (default).
	RetryAttempts int

	// Storage is the storage type for the stream.
	Storage StorageType

	// OnPublish is called after each publish attempt (for metrics).
	OnPublish func(subject string, err error, latency time.Duration)
}

// Event backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// Config selects where task events go.
type Config struct {
	Backend       string `yaml:"backend"`
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Storage       string `yaml:"storage"`
	RetryAttempts int    `yaml:"retry_attempts"`
}

func DefaultConfig() Config {
	return Config{
		Backend:       BackendMemory,
		URL:           "nats://localhost:4222",
		Stream:        "DOCSTORE_TASKS",
		SubjectPrefix: "docstore.tasks",
		Storage:       "memory",
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Backend == "" {
		c.Backend = defaults.Backend
	}
	if c.URL == "" {
		c.URL = defaults.URL
	}
	if c.Stream == "" {
		c.Stream = defaults.Stream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = defaults.SubjectPrefix
	}
	if c.Storage == "" {
		c.Storage = defaults.Storage
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("DOCSTORE_EVENTS_BACKEND"); val != "" {
		c.Backend = val
	}
	if val := os.Getenv("DOCSTORE_NATS_URL"); val != "" {
		c.URL = val
	}
}

// ResolvePaths is a no-op; events have no file paths.
func (c *Config) ResolvePaths(_, _ string) {}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendNone, BackendMemory:
	case BackendNATS:
		if c.URL == "" {
			return fmt.Errorf("events.url is required for the nats backend")
		}
		if c.Stream == "" {
			return fmt.Errorf("events.stream is required for the nats backend")
		}
	default:
		return fmt.Errorf("unknown events backend '%s'", c.Backend)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("events.retry_attempts must be >= 0")
	}
	_, err := ParseStorage(c.Storage)
	return err
}

// PublisherOptions converts the config. onPublish may be nil.
func (c Config) PublisherOptions(onPublish func(string, error, time.Duration)) PublisherOptions {
	storage, _ := ParseStorage(c.Storage)
	return PublisherOptions{
		StreamName:    c.Stream,
		SubjectPrefix: c.SubjectPrefix,
		RetryAttempts: c.RetryAttempts,
		Storage:       storage,
		OnPublish:     onPublish,
	}
}
