// Package gateway assembles the HTTP routes of the document API.
package gateway

import (
	"net/http"

	"github.com/syntrixbase/docstore/internal/gateway/rest"
	"github.com/syntrixbase/docstore/internal/metrics"
)

// Server is a route registrar for the API layer.
// It registers REST and metrics routes to a given ServeMux.
type Server struct {
	rest    *rest.Handler
	metrics bool
}

// ServerOption is a function that configures a Server.
type ServerOption func(*Server)

// WithMetrics exposes the prometheus registry on GET /metrics.
func WithMetrics() ServerOption {
	return func(s *Server) {
		s.metrics = true
	}
}

// NewServer creates a new API Server (route registrar).
func NewServer(handler *rest.Handler, opts ...ServerOption) *Server {
	s := &Server{rest: handler}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes registers all API routes to the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	s.rest.RegisterRoutes(mux)

	if s.metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
}
