package server

import (
	"context"
	"net/http"
)

// Service is the HTTP front of the process.
type Service interface {
	// Start listens and serves until a fatal error occurs or ctx is done.
	Start(ctx context.Context) error

	// Stop initiates a graceful shutdown and waits for active requests to
	// drain or for ctx to expire.
	Stop(ctx context.Context) error

	// RegisterHTTPHandler registers a handler for a pattern.
	// This must be called BEFORE Start().
	RegisterHTTPHandler(pattern string, handler http.Handler)

	// Handler returns the mux wrapped in the middleware chain.
	Handler() http.Handler

	// Addr returns the bound address once Start is listening, or "".
	Addr() string
}
