// Package ratelimit limits requests per client.
package ratelimit

// Limiter decides whether a request from a key may proceed.
type Limiter interface {
	// Allow reports whether a request from key is allowed now.
	Allow(key string) bool

	// Reset forgets the state of key.
	Reset(key string)
}

// Stoppable extends Limiter with a Stop method for cleanup.
type Stoppable interface {
	Limiter
	Stop()
}

// Config holds the configuration for rate limiting.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// RequestsPerSecond is the sustained rate per client.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the number of requests a client may make at once.
	Burst int `yaml:"burst"`
}

// DefaultConfig returns the default rate limiting configuration. It is
// disabled; bulk clients are expected to pace themselves.
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		RequestsPerSecond: 100,
		Burst:             200,
	}
}
