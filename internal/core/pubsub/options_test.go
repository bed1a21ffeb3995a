package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DOCSTORE_EVENTS_BACKEND", "nats")
	t.Setenv("DOCSTORE_NATS_URL", "nats://events:4222")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, BackendNATS, cfg.Backend)
	assert.Equal(t, "nats://events:4222", cfg.URL)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "kafka" }, "unknown events backend 'kafka'"},
		{"nats without url", func(c *Config) { c.Backend = BackendNATS; c.URL = "" }, "events.url is required"},
		{"nats without stream", func(c *Config) { c.Backend = BackendNATS; c.Stream = "" }, "events.stream is required"},
		{"negative retries", func(c *Config) { c.RetryAttempts = -1 }, "retry_attempts"},
		{"bad storage", func(c *Config) { c.Storage = "tape" }, "unknown stream storage 'tape'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	cfg := DefaultConfig()
	cfg.Backend = BackendNone
	assert.NoError(t, cfg.Validate())
}

func TestConfig_PublisherOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage = "file"
	cfg.RetryAttempts = 3

	opts := cfg.PublisherOptions(func(string, error, time.Duration) {})
	assert.Equal(t, "DOCSTORE_TASKS", opts.StreamName)
	assert.Equal(t, "docstore.tasks", opts.SubjectPrefix)
	assert.Equal(t, 3, opts.RetryAttempts)
	assert.Equal(t, FileStorage, opts.Storage)
	assert.NotNil(t, opts.OnPublish)
}
