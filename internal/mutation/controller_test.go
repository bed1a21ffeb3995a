package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/docstore/internal/bulk"
	pubsubtesting "github.com/syntrixbase/docstore/internal/core/pubsub/testing"
	"github.com/syntrixbase/docstore/internal/core/storage/memory"
	"github.com/syntrixbase/docstore/internal/core/storage/types"
	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/query"
	"github.com/syntrixbase/docstore/internal/script"
	"github.com/syntrixbase/docstore/internal/update"
	"github.com/syntrixbase/docstore/pkg/model"
)

const slow = 0.00001

type fixture struct {
	ctl       *Controller
	store     *document.Store
	exec      *bulk.Executor
	source    *query.Source
	scripts   *script.Service
	publisher *pubsubtesting.MockPublisher
}

func newFixture(t *testing.T, docs int) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := document.New(ctx, memory.NewEngine(), document.Config{}, nil)
	require.NoError(t, err)
	_, err = store.CreateCollection(ctx, "test", document.CollectionSettings{Shards: 2})
	require.NoError(t, err)
	for i := 1; i <= docs; i++ {
		_, err := store.Index(ctx, document.IndexRequest{
			Key:    key(fmt.Sprint(i)),
			Source: model.JSONSource(model.Document{"foo": float64(i)}),
		})
		require.NoError(t, err)
	}
	scripts, err := script.NewService(nil)
	require.NoError(t, err)

	f := &fixture{
		store:     store,
		exec:      bulk.NewExecutor(store, update.New(store, scripts, nil), bulk.Config{}, nil),
		source:    query.NewSource(store, scripts),
		scripts:   scripts,
		publisher: pubsubtesting.NewMockPublisher(),
	}
	f.ctl = f.controller(f.exec, f.source)
	f.close(t, f.ctl)
	return f
}

func (f *fixture) controller(exec Executor, searcher Searcher) *Controller {
	return NewController(exec, searcher, f.scripts, f.publisher, Config{NodeID: "node"}, nil)
}

func (f *fixture) close(t *testing.T, c *Controller) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, c.Close(ctx))
	})
}

func key(id string) model.Key { return model.Key{Collection: "test", ID: id} }

func all() query.Query { return query.Query{Collection: "test"} }

func byIDs(ids ...string) query.Query { return query.Query{Collection: "test", IDs: ids} }

func wait(t *testing.T, task *Task) (*Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := task.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "task did not finish")
	return resp, err
}

func (f *fixture) get(t *testing.T, id string) *document.GetResult {
	t.Helper()
	res, err := f.store.Get(context.Background(), key(id), document.GetOptions{})
	require.NoError(t, err)
	return res
}

func TestUpdateByQuery_ReindexWithoutScript(t *testing.T) {
	f := newFixture(t, 3)

	task, err := f.ctl.Start(context.Background(), UpdateByQuery(byIDs("1"), nil))
	require.NoError(t, err)
	assert.Equal(t, "node:1", task.ID().String())

	resp, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Total)
	assert.Equal(t, int64(1), resp.Updated)
	assert.Equal(t, int64(1), resp.Batches)
	assert.Zero(t, resp.Noops)
	assert.Empty(t, resp.Failures)

	assert.Equal(t, int64(2), f.get(t, "1").Version)
	assert.Equal(t, int64(1), f.get(t, "2").Version)
}

func TestUpdateByQuery_Script(t *testing.T) {
	f := newFixture(t, 3)

	req := UpdateByQuery(all(), &script.Script{Source: `{"foo": ctx._source.foo + params.inc}`, Params: map[string]any{"inc": 1.0}})
	req.BatchSize = 2
	task, err := f.ctl.Start(context.Background(), req)
	require.NoError(t, err)

	resp, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Total)
	assert.Equal(t, int64(3), resp.Updated)
	assert.Equal(t, int64(2), resp.Batches)
	assert.Equal(t, 3.0, f.get(t, "2").Source["foo"])
}

func TestUpdateByQuery_ScriptOps(t *testing.T) {
	f := newFixture(t, 3)

	req := UpdateByQuery(all(), &script.Script{Source: `ctx._source.foo > 1.0 ? {"_op": "delete"} : {"_op": "noop"}`})
	task, err := f.ctl.Start(context.Background(), req)
	require.NoError(t, err)

	resp, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Deleted)
	assert.Equal(t, int64(1), resp.Noops)
	assert.Zero(t, resp.Updated)

	ok, err := f.store.Exists(context.Background(), key("1"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.store.Exists(context.Background(), key("3"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateByQuery_ScriptFailuresAreCounted(t *testing.T) {
	f := newFixture(t, 2)

	task, err := f.ctl.Start(context.Background(), UpdateByQuery(all(), &script.Script{Source: `{"foo": ctx._source.missing + 1.0}`}))
	require.NoError(t, err)

	resp, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.BulkFailures)
	require.Len(t, resp.Failures, 2)
	assert.Equal(t, model.StatusBadRequest, resp.Failures[0].Status)
	assert.Contains(t, resp.Failures[0].Cause, "script evaluation error")
}

func TestDeleteByQuery(t *testing.T) {
	f := newFixture(t, 3)

	task, err := f.ctl.Start(context.Background(), DeleteByQuery(byIDs("1")))
	require.NoError(t, err)
	resp, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Deleted)

	n, err := f.source.Count(context.Background(), all())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	info, err := f.ctl.Get(task.ID())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, info.State)
	assert.True(t, info.Completed)
	assert.Equal(t, "delete-by-query [test]", info.Description)
}

func TestDeleteByQuery_MaxDocs(t *testing.T) {
	f := newFixture(t, 5)

	req := DeleteByQuery(all())
	req.MaxDocs = 3
	req.BatchSize = 2
	task, err := f.ctl.Start(context.Background(), req)
	require.NoError(t, err)

	resp, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Total)
	assert.Equal(t, int64(3), resp.Deleted)
	assert.Equal(t, int64(2), resp.Batches)

	n, err := f.source.Count(context.Background(), all())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRethrottle_CompletedTaskIsMissing(t *testing.T) {
	for _, action := range []string{ActionUpdateByQuery, ActionDeleteByQuery} {
		t.Run(shortAction(action), func(t *testing.T) {
			f := newFixture(t, 3)

			req := Request{Action: action, Query: byIDs("2", "3"), BatchSize: 1, RequestsPerSecond: slow}
			task, err := f.ctl.Start(context.Background(), req)
			require.NoError(t, err)

			var groups []TaskGroup
			require.Eventually(t, func() bool {
				groups = f.ctl.FindByAction(action)
				return len(groups) == 1
			}, time.Second, 5*time.Millisecond)
			assert.Empty(t, groups[0].Children)
			assert.Equal(t, slow, groups[0].Task.Status["requests_per_second"])

			info, err := f.ctl.Rethrottle(task.ID(), 1000)
			require.NoError(t, err)
			assert.Equal(t, 1000.0, info.Status["requests_per_second"])

			resp, err := wait(t, task)
			require.NoError(t, err)
			assert.Equal(t, int64(2), resp.Total)
			assert.Equal(t, 1000.0, resp.RequestsPerSecond)

			_, err = f.ctl.Rethrottle(task.ID(), 1000)
			require.Error(t, err)
			assert.Equal(t, fmt.Sprintf("task [%s] is missing", task.ID()), err.Error())
			assert.ErrorIs(t, err, ErrTaskMissing)
			assert.ErrorIs(t, err, model.ErrNotFound)
			assert.Eventually(t, func() bool { return len(f.ctl.FindByAction(action)) == 0 }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestRethrottle_Unlimited(t *testing.T) {
	f := newFixture(t, 3)

	req := DeleteByQuery(all())
	req.BatchSize = 1
	req.RequestsPerSecond = slow
	task, err := f.ctl.Start(context.Background(), req)
	require.NoError(t, err)

	info, err := f.ctl.Rethrottle(task.ID(), -1)
	require.NoError(t, err)
	assert.Equal(t, -1.0, info.Status["requests_per_second"])

	resp, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Deleted)

	_, err = f.ctl.Rethrottle(task.ID(), -3)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.ctl.Rethrottle(task.ID(), 0)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestRethrottleAction(t *testing.T) {
	f := newFixture(t, 3)

	req := DeleteByQuery(all())
	req.BatchSize = 1
	req.RequestsPerSecond = slow
	task, err := f.ctl.Start(context.Background(), req)
	require.NoError(t, err)

	_, err = f.ctl.RethrottleAction(task.ID(), ActionUpdateByQuery, 1000)
	assert.ErrorIs(t, err, ErrTaskUnsupported)
	assert.ErrorIs(t, err, model.ErrNotFound)

	info, err := f.ctl.RethrottleAction(task.ID(), ActionDeleteByQuery, -1)
	require.NoError(t, err)
	assert.Equal(t, -1.0, info.Status["requests_per_second"])

	_, err = wait(t, task)
	require.NoError(t, err)
}

func TestUnknownTask(t *testing.T) {
	f := newFixture(t, 0)

	id := TaskID{Node: "node", ID: 99}
	for _, fn := range []func() error{
		func() error { _, err := f.ctl.Rethrottle(id, 1); return err },
		func() error { _, err := f.ctl.Cancel(id, ""); return err },
		func() error { _, err := f.ctl.Get(id); return err },
	} {
		err := fn()
		require.Error(t, err)
		assert.Equal(t, "task [node:99] isn't running and hasn't stored its results", err.Error())
		assert.ErrorIs(t, err, ErrTaskNotFound)
		assert.ErrorIs(t, err, model.ErrNotFound)
		assert.NotErrorIs(t, err, ErrTaskMissing)
		assert.Equal(t, model.StatusNotFound, model.StatusOf(err))
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t, 3)

	req := DeleteByQuery(all())
	req.BatchSize = 1
	req.RequestsPerSecond = slow
	task, err := f.ctl.Start(context.Background(), req)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, err := f.ctl.Get(task.ID())
		return err == nil && info.Status["batches"] == int64(1)
	}, 2*time.Second, 5*time.Millisecond)

	info, err := f.ctl.Cancel(task.ID(), "")
	require.NoError(t, err)
	assert.True(t, info.Cancellable)

	resp, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Deleted)
	assert.Equal(t, "by user request", resp.Canceled)

	info, err = f.ctl.Get(task.ID())
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, info.State)

	_, err = f.ctl.Cancel(task.ID(), "")
	assert.ErrorIs(t, err, ErrTaskMissing)

	n, err := f.source.Count(context.Background(), all())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSlices(t *testing.T) {
	f := newFixture(t, 20)

	req := DeleteByQuery(all())
	req.BatchSize = 1
	req.Slices = 2
	req.RequestsPerSecond = slow
	task, err := f.ctl.Start(context.Background(), req)
	require.NoError(t, err)

	groups := f.ctl.List(ListOptions{Actions: []string{"*byquery"}, Detailed: true})
	require.Len(t, groups, 1)
	assert.Equal(t, task.ID(), groups[0].Task.ID)
	require.Len(t, groups[0].Children, 2)
	for i, child := range groups[0].Children {
		require.NotNil(t, child.Task.ParentID)
		assert.Equal(t, task.ID(), *child.Task.ParentID)
		assert.Equal(t, i, child.Task.Status["slice_id"])
		assert.Equal(t, slow/2, child.Task.Status["requests_per_second"])
	}

	_, err = f.ctl.Rethrottle(task.ID(), 1000)
	require.NoError(t, err)
	groups = f.ctl.FindByAction(ActionDeleteByQuery)
	if len(groups) == 1 {
		assert.Equal(t, 1000.0, groups[0].Task.Status["requests_per_second"])
		for _, child := range groups[0].Children {
			assert.LessOrEqual(t, child.Task.Status["requests_per_second"], 1000.0)
			assert.GreaterOrEqual(t, child.Task.Status["requests_per_second"], 500.0)
		}
	}

	resp, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, int64(20), resp.Total)
	assert.Equal(t, int64(20), resp.Deleted)
	require.Len(t, resp.Slices, 2)
	assert.Equal(t, int64(20), resp.Slices[0].Deleted+resp.Slices[1].Deleted)

	for _, child := range task.children {
		info, err := f.ctl.Get(child.ID())
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, info.State)
	}
	assert.Eventually(t, func() bool { return len(f.ctl.List(ListOptions{})) == 0 }, time.Second, 5*time.Millisecond)
}

func TestSlices_SplitMaxDocs(t *testing.T) {
	assert.Equal(t, []int64{4, 3, 3}, []int64{splitMaxDocs(10, 3, 0), splitMaxDocs(10, 3, 1), splitMaxDocs(10, 3, 2)})
	assert.Equal(t, int64(0), splitMaxDocs(0, 3, 1))
	assert.Equal(t, 5.0, splitRate(10, 2))
	assert.Equal(t, -1.0, splitRate(-1, 2))
}

// racingExecutor rewrites the first document of the first batch before
// the batch runs.
type racingExecutor struct {
	inner *bulk.Executor
	store *document.Store
	raced bool
}

func (r *racingExecutor) Execute(ctx context.Context, items []bulk.Item) (*bulk.Response, error) {
	if !r.raced {
		r.raced = true
		_, err := r.store.Index(ctx, document.IndexRequest{Key: items[0].DocumentKey(), Source: model.JSONSource(model.Document{"foo": -1.0})})
		if err != nil {
			return nil, err
		}
	}
	return r.inner.Execute(ctx, items)
}

func TestConflicts(t *testing.T) {
	t.Run("proceed", func(t *testing.T) {
		f := newFixture(t, 4)
		c := f.controller(&racingExecutor{inner: f.exec, store: f.store}, f.source)
		f.close(t, c)

		req := UpdateByQuery(all(), nil)
		req.BatchSize = 2
		task, err := c.Start(context.Background(), req)
		require.NoError(t, err)

		resp, err := wait(t, task)
		require.NoError(t, err)
		assert.Equal(t, int64(1), resp.VersionConflicts)
		assert.Equal(t, int64(3), resp.Updated)
		assert.Equal(t, int64(2), resp.Batches)
		assert.Empty(t, resp.Failures)
	})

	t.Run("abort", func(t *testing.T) {
		f := newFixture(t, 4)
		c := f.controller(&racingExecutor{inner: f.exec, store: f.store}, f.source)
		f.close(t, c)

		req := UpdateByQuery(all(), nil)
		req.BatchSize = 2
		req.Conflicts = ConflictsAbort
		task, err := c.Start(context.Background(), req)
		require.NoError(t, err)

		resp, err := wait(t, task)
		require.NoError(t, err)
		assert.Equal(t, int64(1), resp.VersionConflicts)
		assert.Equal(t, int64(1), resp.Updated)
		assert.Equal(t, int64(1), resp.Batches)
		require.Len(t, resp.Failures, 1)
		assert.Equal(t, model.StatusConflict, resp.Failures[0].Status)
		assert.Contains(t, resp.Failures[0].Cause, "version conflict")

		info, err := c.Get(task.ID())
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, info.State)
	})
}

type failingSearcher struct {
	*query.Source
}

func (failingSearcher) Search(context.Context, query.Query, *types.Location, int) (*query.Page, error) {
	return nil, errors.New("disk on fire")
}

type failingExecutor struct{}

func (failingExecutor) Execute(context.Context, []bulk.Item) (*bulk.Response, error) {
	return nil, errors.New("executor is gone")
}

func TestFailures(t *testing.T) {
	t.Run("search", func(t *testing.T) {
		f := newFixture(t, 2)
		c := f.controller(f.exec, failingSearcher{f.source})
		f.close(t, c)

		task, err := c.Start(context.Background(), DeleteByQuery(all()))
		require.NoError(t, err)
		resp, err := wait(t, task)
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrTransport)
		require.Len(t, resp.SearchErrors, 1)
		assert.Equal(t, "disk on fire", resp.SearchErrors[0].Reason)
		assert.Equal(t, int64(1), resp.SearchFailures)

		info, err := c.Get(task.ID())
		require.NoError(t, err)
		assert.Equal(t, StateFailed, info.State)
		assert.Contains(t, info.Error, "disk on fire")
	})

	t.Run("executor", func(t *testing.T) {
		f := newFixture(t, 2)
		c := f.controller(failingExecutor{}, f.source)
		f.close(t, c)

		task, err := c.Start(context.Background(), DeleteByQuery(all()))
		require.NoError(t, err)
		_, err = wait(t, task)
		assert.ErrorIs(t, err, model.ErrTransport)

		info, err := c.Get(task.ID())
		require.NoError(t, err)
		assert.Equal(t, StateFailed, info.State)
	})
}

func TestStart_Validation(t *testing.T) {
	f := newFixture(t, 1)

	withScript := DeleteByQuery(all())
	withScript.Script = &script.Script{Source: `{}`}

	tests := []struct {
		name string
		req  Request
		msg  string
	}{
		{"script on delete", withScript, "delete by query does not support scripts"},
		{"batch size", Request{Action: ActionDeleteByQuery, Query: all(), BatchSize: -1}, "batch size must be between 1 and 10000, got [-1]"},
		{"rate", Request{Action: ActionDeleteByQuery, Query: all(), RequestsPerSecond: -5}, "requests_per_second must be positive or -1 for unlimited, got [-5]"},
		{"max docs", Request{Action: ActionDeleteByQuery, Query: all(), MaxDocs: -2}, "max_docs should be greater than or equal to 0, got [-2]"},
		{"max docs under slices", Request{Action: ActionDeleteByQuery, Query: all(), MaxDocs: 1, Slices: 2}, "max_docs [1] should be greater or equal to slices [2]"},
		{"slices", Request{Action: ActionDeleteByQuery, Query: all(), Slices: MaxSlices + 1}, "slices must be between 1 and 1024, got [1025]"},
		{"conflicts", Request{Action: ActionDeleteByQuery, Query: all(), Conflicts: "maybe"}, "conflicts may only be [abort] or [proceed] but was [maybe]"},
		{"action", Request{Action: "reindex", Query: all()}, "unknown action [reindex]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctl.Start(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrValidation)
			assert.Equal(t, tt.msg, err.Error())
		})
	}

	_, err := f.ctl.Start(context.Background(), DeleteByQuery(query.Query{Collection: "nope"}))
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, f.ctl.List(ListOptions{}))
}

func TestEvents(t *testing.T) {
	f := newFixture(t, 1)

	task, err := f.ctl.Start(context.Background(), DeleteByQuery(all()))
	require.NoError(t, err)
	_, err = wait(t, task)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.publisher.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := f.publisher.Messages()
	assert.Equal(t, "delete_by_query.running", msgs[0].Subject)
	assert.Equal(t, "delete_by_query.completed", msgs[1].Subject)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Data, &ev))
	assert.Equal(t, "completed", ev["state"])
	info := ev["task"].(map[string]any)
	assert.Equal(t, task.ID().String(), info["id"])
	assert.Equal(t, ActionDeleteByQuery, info["action"])
	assert.Equal(t, 1.0, info["status"].(map[string]any)["deleted"])
}

func TestEvents_PublishErrorsDoNotFailTasks(t *testing.T) {
	f := newFixture(t, 1)
	f.publisher.SetError(errors.New("broker down"))

	task, err := f.ctl.Start(context.Background(), DeleteByQuery(all()))
	require.NoError(t, err)
	resp, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Deleted)
}

func TestReap(t *testing.T) {
	f := newFixture(t, 1)

	task, err := f.ctl.Start(context.Background(), DeleteByQuery(all()))
	require.NoError(t, err)
	_, err = wait(t, task)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.ctl.List(ListOptions{})) == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, f.ctl.reap(time.Now()))

	assert.Equal(t, 1, f.ctl.reap(time.Now().Add(time.Hour)))
	_, err = f.ctl.Get(task.ID())
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = f.ctl.Rethrottle(task.ID(), 5)
	assert.ErrorIs(t, err, ErrTaskMissing)
	assert.EqualError(t, err, fmt.Sprintf("task [%s] is missing", task.ID()))
	_, err = f.ctl.Cancel(task.ID(), "")
	assert.ErrorIs(t, err, ErrTaskMissing)

	never := TaskID{Node: f.ctl.NodeID(), ID: task.ID().ID + 100}
	_, err = f.ctl.Rethrottle(never, 5)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = f.ctl.Cancel(TaskID{Node: "other", ID: task.ID().ID}, "")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestClose(t *testing.T) {
	f := newFixture(t, 3)

	req := DeleteByQuery(all())
	req.BatchSize = 1
	req.RequestsPerSecond = slow
	task, err := f.ctl.Start(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.ctl.Close(ctx))

	resp, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, "node shutting down", resp.Canceled)

	_, err = f.ctl.Start(context.Background(), DeleteByQuery(all()))
	assert.ErrorIs(t, err, ErrControllerClosed)
	assert.NoError(t, f.ctl.Close(ctx))
}
