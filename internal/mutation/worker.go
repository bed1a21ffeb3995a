package mutation

import (
	"context"
	"time"

	"github.com/syntrixbase/docstore/internal/bulk"
	"github.com/syntrixbase/docstore/internal/core/storage/types"
	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/metrics"
	"github.com/syntrixbase/docstore/internal/query"
	"github.com/syntrixbase/docstore/internal/script"
	"github.com/syntrixbase/docstore/pkg/model"
)

func (c *Controller) run(t *Task) {
	defer c.wg.Done()
	state, err := c.work(t)
	c.complete(t, state, err)
}

// work is the batch loop of a leaf task. Cancellation and rethrottling
// are observed between batches only.
func (c *Controller) work(t *Task) (State, error) {
	ctx := c.ctx
	req := t.req
	logger := c.logger.With("task", t.id.String())

	total, err := c.searcher.Count(ctx, req.Query)
	if err != nil {
		return c.searchFailed(t, err)
	}
	if req.MaxDocs > 0 && total > req.MaxDocs {
		total = req.MaxDocs
	}
	t.mu.Lock()
	t.status.Total = total
	t.mu.Unlock()

	var after *types.Location
	var processed int64
	for {
		if t.canceled() {
			return StateCancelled, nil
		}
		size := req.BatchSize
		if req.MaxDocs > 0 {
			left := req.MaxDocs - processed
			if left <= 0 {
				return StateCompleted, nil
			}
			if left < int64(size) {
				size = int(left)
			}
		}

		batchStart := time.Now()
		page, err := c.searcher.Search(ctx, req.Query, after, size)
		if err != nil {
			return c.searchFailed(t, err)
		}
		if len(page.Hits) == 0 {
			return StateCompleted, nil
		}

		abort, err := c.runBatch(ctx, t, page.Hits)
		if err != nil {
			logger.Error("Task batch failed", "error", err)
			return StateFailed, err
		}
		processed += int64(len(page.Hits))
		after = page.Next
		if abort || page.Done {
			return StateCompleted, nil
		}

		slept, ok := t.throttle.sleep(ctx, t.cancelCh, len(page.Hits), time.Since(batchStart))
		if slept > 0 {
			metrics.TaskThrottled.WithLabelValues(shortAction(t.action)).Observe(slept.Seconds())
		}
		if !ok {
			return StateCancelled, nil
		}
	}
}

func (c *Controller) searchFailed(t *Task, err error) (State, error) {
	if model.IsCanceled(err) && t.canceled() {
		return StateCancelled, nil
	}
	t.mu.Lock()
	t.status.SearchFailures++
	t.searches = append(t.searches, SearchFailure{Reason: err.Error()})
	t.mu.Unlock()
	c.logger.Error("Task search failed", "task", t.id.String(), "error", err)
	return StateFailed, model.Transport("search", err)
}

// runBatch converts hits to writes, executes them and tallies the
// outcome. It reports whether a conflict should stop the task.
func (c *Controller) runBatch(ctx context.Context, t *Task, hits []query.Hit) (bool, error) {
	items := make([]bulk.Item, 0, len(hits))
	var noops int64
	var failures []BulkFailure
	for _, h := range hits {
		item, err := c.itemFor(t, h)
		switch {
		case err != nil:
			failures = append(failures, BulkFailure{Collection: h.Key.Collection, ID: h.Key.ID, Cause: err.Error(), Status: model.StatusOf(err)})
		case item == nil:
			noops++
		default:
			items = append(items, item)
		}
	}

	var resp *bulk.Response
	if len(items) > 0 {
		var err error
		if resp, err = c.executor.Execute(ctx, items); err != nil {
			return false, model.Transport("bulk", err)
		}
	}

	abort := false
	var st Status
	st.Noops = noops
	st.BulkFailures = int64(len(failures))
	if resp != nil {
		for _, r := range resp.Items {
			if r.Failed() {
				if r.Status == model.StatusConflict {
					st.VersionConflicts++
					if t.req.Conflicts == ConflictsProceed {
						continue
					}
					abort = true
				} else {
					st.BulkFailures++
				}
				failures = append(failures, BulkFailure{Collection: r.Key.Collection, ID: r.Key.ID, Cause: r.Failure.Reason(), Status: r.Status})
				continue
			}
			switch r.Result.Result {
			case document.ResultCreated:
				st.Created++
			case document.ResultUpdated:
				st.Updated++
			case document.ResultDeleted:
				st.Deleted++
			case document.ResultNoop:
				st.Noops++
			}
		}
	}

	t.mu.Lock()
	t.status.Batches++
	t.status.add(st)
	t.failures = append(t.failures, failures...)
	t.mu.Unlock()

	action := shortAction(t.action)
	metrics.TaskDocuments.WithLabelValues(action, "updated").Add(float64(st.Updated + st.Created))
	metrics.TaskDocuments.WithLabelValues(action, "deleted").Add(float64(st.Deleted))
	metrics.TaskDocuments.WithLabelValues(action, "noop").Add(float64(st.Noops))
	metrics.TaskDocuments.WithLabelValues(action, "conflict").Add(float64(st.VersionConflicts))
	metrics.TaskDocuments.WithLabelValues(action, "failed").Add(float64(st.BulkFailures))
	return abort, nil
}

// itemFor builds the write for one hit. A nil item means the hit is a noop.
func (c *Controller) itemFor(t *Task, h query.Hit) (bulk.Item, error) {
	pinned := model.IfSeqNoTerm(h.SeqNo, h.PrimaryTerm)
	if t.action == ActionDeleteByQuery {
		return bulk.DeleteItem{Key: h.Key, Expectation: pinned}, nil
	}
	if h.Source == nil {
		return nil, model.Validationf("[%s]: document source missing", h.Key.ID)
	}
	if t.req.Script == nil {
		return bulk.IndexItem{Key: h.Key, Source: model.JSONSource(h.Source), Expectation: pinned}, nil
	}

	out, err := c.scripts.Run(t.req.Script, script.Context{
		ID:          h.Key.ID,
		Source:      h.Source,
		Version:     h.Version,
		SeqNo:       h.SeqNo,
		PrimaryTerm: h.PrimaryTerm,
	})
	if err != nil {
		return nil, err
	}
	switch out.Op {
	case script.OpNoop:
		return nil, nil
	case script.OpDelete:
		return bulk.DeleteItem{Key: h.Key, Expectation: pinned}, nil
	}
	return bulk.IndexItem{Key: h.Key, Source: model.JSONSource(out.Source), Expectation: pinned}, nil
}
