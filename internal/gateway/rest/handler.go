// Package rest exposes the document, bulk and task operations over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/schema"

	"github.com/syntrixbase/docstore/internal/bulk"
	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/mutation"
	"github.com/syntrixbase/docstore/internal/server"
	"github.com/syntrixbase/docstore/internal/update"
	"github.com/syntrixbase/docstore/pkg/model"
)

// Documents is the part of the document store the handler serves.
type Documents interface {
	Get(ctx context.Context, key model.Key, opts document.GetOptions) (*document.GetResult, error)
	ExistsSource(ctx context.Context, key model.Key) (bool, error)
	Index(ctx context.Context, req document.IndexRequest) (*document.WriteResult, error)
	Delete(ctx context.Context, req document.DeleteRequest) (*document.WriteResult, error)
	MultiGet(ctx context.Context, items []document.MultiGetItem) []document.MultiGetResponse
}

// Updater runs partial updates.
type Updater interface {
	Update(ctx context.Context, req update.Request) (*update.Result, error)
}

// Executor runs bulk batches synchronously.
type Executor interface {
	Execute(ctx context.Context, items []bulk.Item) (*bulk.Response, error)
}

// Queue buffers bulk items for background execution.
type Queue interface {
	Add(item bulk.Item) error
}

// Tasks manages mutate-by-query tasks.
type Tasks interface {
	Start(ctx context.Context, req mutation.Request) (*mutation.Task, error)
	RethrottleAction(id mutation.TaskID, action string, rps float64) (mutation.TaskInfo, error)
	Cancel(id mutation.TaskID, reason string) (mutation.TaskInfo, error)
	Get(id mutation.TaskID) (mutation.TaskInfo, error)
	List(opts mutation.ListOptions) []mutation.TaskGroup
}

// Request timeouts. Waiting by-query requests are bounded by the task
// itself, not by a handler timeout.
const (
	DefaultRequestTimeout = 30 * time.Second
	BulkRequestTimeout    = 5 * time.Minute
)

// Handler serves the REST surface.
type Handler struct {
	docs    Documents
	updater Updater
	bulk    Executor
	queue   Queue
	tasks   Tasks
	logger  *slog.Logger
	decoder *schema.Decoder
}

// HandlerOption configures optional collaborators.
type HandlerOption func(*Handler)

// WithQueue enables asynchronous bulk requests.
func WithQueue(q Queue) HandlerOption {
	return func(h *Handler) { h.queue = q }
}

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler creates the REST handler.
func NewHandler(docs Documents, updater Updater, executor Executor, tasks Tasks, opts ...HandlerOption) *Handler {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	h := &Handler{
		docs:    docs,
		updater: updater,
		bulk:    executor,
		tasks:   tasks,
		logger:  slog.Default(),
		decoder: decoder,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "rest")
	return h
}

// RegisterRoutes registers every endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Documents
	mux.HandleFunc("GET /{collection}/_doc/{id}", withTimeout(h.handleGet, DefaultRequestTimeout))
	mux.HandleFunc("HEAD /{collection}/_doc/{id}", withTimeout(h.handleExists, DefaultRequestTimeout))
	mux.HandleFunc("PUT /{collection}/_doc/{id}", withTimeout(h.handleIndex, DefaultRequestTimeout))
	mux.HandleFunc("POST /{collection}/_doc", withTimeout(h.handleIndex, DefaultRequestTimeout))
	mux.HandleFunc("DELETE /{collection}/_doc/{id}", withTimeout(h.handleDelete, DefaultRequestTimeout))
	mux.HandleFunc("PUT /{collection}/_create/{id}", withTimeout(h.handleCreate, DefaultRequestTimeout))
	mux.HandleFunc("HEAD /{collection}/_source/{id}", withTimeout(h.handleExistsSource, DefaultRequestTimeout))

	// Batches
	mux.HandleFunc("POST /_bulk", withTimeout(h.handleBulk, BulkRequestTimeout))
	mux.HandleFunc("POST /{collection}/_bulk", withTimeout(h.handleBulk, BulkRequestTimeout))
	mux.HandleFunc("POST /_mget", withTimeout(h.handleMultiGet, DefaultRequestTimeout))
	mux.HandleFunc("POST /{collection}/_mget", withTimeout(h.handleMultiGet, DefaultRequestTimeout))

	// Tasks
	mux.HandleFunc("POST /{collection}/_update_by_query", h.handleUpdateByQuery)
	mux.HandleFunc("POST /{collection}/_delete_by_query", h.handleDeleteByQuery)
	mux.HandleFunc("GET /_tasks", withTimeout(h.handleListTasks, DefaultRequestTimeout))
	mux.HandleFunc("GET /_tasks/{task}", withTimeout(h.handleGetTask, DefaultRequestTimeout))

	// Three-segment POST paths overlap between collections and the
	// underscore namespaces, so one pattern dispatches them.
	mux.HandleFunc("POST /{first}/{second}/{third}", withTimeout(h.dispatchPost, DefaultRequestTimeout))

	mux.HandleFunc("GET /health", withTimeout(h.handleHealth, 5*time.Second))
}

func (h *Handler) dispatchPost(w http.ResponseWriter, r *http.Request) {
	first, second, third := r.PathValue("first"), r.PathValue("second"), r.PathValue("third")
	switch {
	case first == "_tasks" && third == "_cancel":
		h.cancelTask(w, r, second)
	case (first == "_update_by_query" || first == "_delete_by_query") && third == "_rethrottle":
		h.rethrottle(w, r, second, actionOfRoute(first))
	case second == "_update":
		h.update(w, r, model.Key{Collection: first, ID: third})
	case second == "_doc":
		h.index(w, r, model.Key{Collection: first, ID: third}, "")
	default:
		writeError(w, http.StatusNotFound, model.StatusNotFound.String(), "no handler found for uri ["+r.URL.Path+"] and method [POST]")
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// APIError is the body of an error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{Code: code, Message: message}); err != nil {
		slog.Warn("Failed to encode error response", "error", err)
	}
}

// writeErr maps a typed error to its status. Client cancellations get a
// bare 499, server errors are logged.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := model.StatusOf(err)
	switch status {
	case model.StatusClientClosed:
		w.WriteHeader(int(status))
		return
	case model.StatusInternalError:
		h.logger.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", server.GetRequestID(r.Context()),
		)
	}
	writeError(w, int(status), status.String(), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

// withTimeout wraps a handler with a context timeout.
func withTimeout(next http.HandlerFunc, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

// readSource reads the body as a source in the request content type.
func readSource(r *http.Request) (model.Source, error) {
	ct, err := model.ParseContentType(r.Header.Get("Content-Type"))
	if err != nil {
		return model.Source{}, err
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return model.Source{}, model.Validationf("failed to read request body: %v", err)
	}
	if len(data) == 0 {
		return model.Source{}, model.Validationf("request body is required")
	}
	return model.Source{ContentType: ct, Data: data}, nil
}

// decodeBody decodes a structured body in any supported content type into v
// and validates it. Non-JSON bodies are normalized to JSON first so that v
// only needs json tags. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	ct, err := model.ParseContentType(r.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return model.Validationf("failed to read request body: %v", err)
	}
	if len(data) == 0 {
		return nil
	}
	if ct != model.ContentJSON {
		doc, err := model.Source{ContentType: ct, Data: data}.Decode()
		if err != nil {
			return err
		}
		if data, err = model.Canonical(doc); err != nil {
			return model.Validationf("failed to normalize request body: %v", err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return model.Validationf("failed to parse request body: %v", err)
	}
	return validateBody(v)
}
