package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/metrics"
	"github.com/syntrixbase/docstore/internal/update"
	"github.com/syntrixbase/docstore/pkg/model"
)

// ErrNoItems is returned for an empty batch.
var ErrNoItems = model.Validationf("no requests added")

// Store is the part of the document store the executor writes through.
type Store interface {
	Index(ctx context.Context, req document.IndexRequest) (*document.WriteResult, error)
	Delete(ctx context.Context, req document.DeleteRequest) (*document.WriteResult, error)
}

// Updater runs partial updates.
type Updater interface {
	Update(ctx context.Context, req update.Request) (*update.Result, error)
}

// Config tunes the executor.
type Config struct {
	// Concurrency bounds the number of keys processed in parallel.
	Concurrency int `yaml:"concurrency"`
}

func DefaultConfig() Config {
	return Config{Concurrency: 8}
}

// Executor runs batches. Items on the same key run sequentially in input
// order; distinct keys run in parallel.
type Executor struct {
	store   Store
	updater Updater
	cfg     Config
	logger  *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(store Store, updater Updater, cfg Config, logger *slog.Logger) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, updater: updater, cfg: cfg, logger: logger.With("component", "bulk-executor")}
}

// Execute runs every item and returns one result per item in input order.
// Item failures are reported in the results; the returned error is set
// only when the batch as a whole could not run.
func (e *Executor) Execute(ctx context.Context, items []Item) (*Response, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if err := ctx.Err(); err != nil {
		return nil, model.WrapError(err)
	}

	start := time.Now()
	results := make([]ItemResult, len(items))

	// Group item positions by key, keeping first-seen order.
	groups := make(map[string][]int)
	var order []string
	for i, item := range items {
		k := item.DocumentKey().String()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, k := range order {
		positions := groups[k]
		g.Go(func() error {
			for _, i := range positions {
				results[i] = e.run(ctx, i, items[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := &Response{Items: results, Took: time.Since(start), Status: model.StatusOK}
	for i := range results {
		r := &results[i]
		if r.Failed() {
			resp.Errors = true
		}
		if r.Status.Worse(resp.Status) {
			resp.Status = r.Status
		}
		metrics.BulkItems.WithLabelValues(string(r.Op), r.Status.String()).Inc()
	}
	metrics.BulkLatency.Observe(resp.Took.Seconds())
	return resp, nil
}

func (e *Executor) run(ctx context.Context, index int, item Item) (res ItemResult) {
	res = ItemResult{Index: index, Op: item.OpType(), Key: item.DocumentKey()}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Bulk item panicked", "op", res.Op, "key", res.Key.String(), "panic", r, "stack", string(debug.Stack()))
			res.Result, res.Get = nil, nil
			res.Failure = &Failure{Err: fmt.Errorf("[%s]: item execution panicked: %v", res.Key.ID, r), Status: model.StatusInternalError}
			res.Status = model.StatusInternalError
		}
	}()

	if err := ctx.Err(); err != nil {
		return fail(res, model.WrapError(err))
	}

	switch it := item.(type) {
	case IndexItem:
		wr, err := e.store.Index(ctx, document.IndexRequest{Key: it.Key, Source: it.Source, OpType: document.OpIndex, Expectation: it.Expectation})
		if err != nil {
			return fail(res, err)
		}
		res.Key, res.Result, res.Status = wr.Key, wr, wr.Status()
	case CreateItem:
		wr, err := e.store.Index(ctx, document.IndexRequest{Key: it.Key, Source: it.Source, OpType: document.OpCreate, Expectation: it.Expectation})
		if err != nil {
			return fail(res, err)
		}
		res.Key, res.Result, res.Status = wr.Key, wr, wr.Status()
	case UpdateItem:
		if e.updater == nil {
			return fail(res, model.Validationf("updates are not supported by this executor"))
		}
		ur, err := e.updater.Update(ctx, it.Request)
		if err != nil {
			return fail(res, err)
		}
		res.Result, res.Get = &ur.WriteResult, ur.Get
		res.Status = model.StatusOK
		if ur.Result == document.ResultCreated {
			res.Status = model.StatusCreated
		}
	case DeleteItem:
		wr, err := e.store.Delete(ctx, document.DeleteRequest{Key: it.Key, Expectation: it.Expectation})
		if err != nil {
			return fail(res, err)
		}
		res.Result, res.Status = wr, wr.Status()
	default:
		return fail(res, model.Validationf("unsupported bulk item %T", item))
	}
	return res
}

func fail(res ItemResult, err error) ItemResult {
	status := model.StatusOf(err)
	res.Failure = &Failure{Err: err, Status: status}
	res.Status = status
	return res
}
