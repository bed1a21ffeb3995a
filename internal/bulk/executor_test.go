package bulk

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/docstore/internal/core/storage/memory"
	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/script"
	"github.com/syntrixbase/docstore/internal/update"
	"github.com/syntrixbase/docstore/pkg/model"
)

func newExecutor(t *testing.T) (*Executor, *document.Store) {
	t.Helper()
	store, err := document.New(context.Background(), memory.NewEngine(), document.Config{}, nil)
	require.NoError(t, err)
	scripts, err := script.NewService(nil)
	require.NoError(t, err)
	return NewExecutor(store, update.New(store, scripts, nil), Config{Concurrency: 4}, nil), store
}

func k(id string) model.Key { return model.Key{Collection: "test", ID: id} }

func doc(fields model.Document) model.Source { return model.JSONSource(fields) }

func TestExecute_IsolatesFailures(t *testing.T) {
	e, _ := newExecutor(t)
	ctx := context.Background()

	items := make([]Item, 0, 5)
	for i := 0; i < 5; i++ {
		item := IndexItem{Key: k(fmt.Sprintf("%d", i)), Source: doc(model.Document{"n": float64(i)})}
		if i == 2 {
			item.Expectation = model.IfSeqNoTerm(7, 1)
		}
		items = append(items, item)
	}

	resp, err := e.Execute(ctx, items)
	require.NoError(t, err)
	require.Len(t, resp.Items, 5)
	assert.True(t, resp.Errors)
	assert.Equal(t, model.StatusConflict, resp.Status)

	for i, r := range resp.Items {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, fmt.Sprintf("%d", i), r.Key.ID)
		if i == 2 {
			require.True(t, r.Failed())
			assert.Equal(t, model.StatusConflict, r.Status)
			assert.Equal(t, "[2]: version conflict, required seqNo [7], primary term [1]. but no document was found", r.Failure.Reason())
			continue
		}
		assert.False(t, r.Failed())
		assert.Equal(t, model.StatusCreated, r.Status)
		assert.Equal(t, int64(1), r.Result.Version)
	}
}

func TestExecute_StatusMapping(t *testing.T) {
	e, store := newExecutor(t)
	ctx := context.Background()
	_, err := store.Index(ctx, document.IndexRequest{Key: k("existing"), Source: doc(model.Document{"a": 1.0})})
	require.NoError(t, err)

	upsert := doc(model.Document{"status": "created"})
	patch := doc(model.Document{"b": 2.0})
	items := []Item{
		IndexItem{Key: k("new"), Source: doc(model.Document{"a": 1.0})},
		IndexItem{Key: k("existing"), Source: doc(model.Document{"a": 2.0})},
		CreateItem{Key: k("existing"), Source: doc(model.Document{"a": 3.0})},
		UpdateItem{Request: update.Request{Key: k("missing"), Doc: &patch}},
		UpdateItem{Request: update.Request{Key: k("upserted"), Doc: &patch, Upsert: &upsert}},
		DeleteItem{Key: k("absent")},
		DeleteItem{Key: k("new")},
		IndexItem{Key: model.Key{Collection: "Bad Name", ID: "1"}, Source: doc(model.Document{})},
	}

	resp, err := e.Execute(ctx, items)
	require.NoError(t, err)

	want := []struct {
		status model.Status
		failed bool
	}{
		{model.StatusCreated, false},
		{model.StatusOK, false},
		{model.StatusConflict, true},
		{model.StatusNotFound, true},
		{model.StatusCreated, false},
		{model.StatusNotFound, false},
		{model.StatusOK, false},
		{model.StatusBadRequest, true},
	}
	require.Len(t, resp.Items, len(want))
	for i, w := range want {
		r := resp.Items[i]
		assert.Equal(t, w.status, r.Status, "item %d", i)
		assert.Equal(t, w.failed, r.Failed(), "item %d", i)
	}
	assert.Equal(t, "[missing]: document missing", resp.Items[3].Failure.Reason())
	assert.Equal(t, document.ResultNotFound, resp.Items[5].Result.Result)
	assert.Equal(t, model.StatusBadRequest, resp.Status)
}

func TestExecute_SameKeyRunsInOrder(t *testing.T) {
	e, store := newExecutor(t)
	ctx := context.Background()

	patch := doc(model.Document{"b": 2.0})
	items := []Item{
		IndexItem{Key: k("x"), Source: doc(model.Document{"a": 1.0})},
		UpdateItem{Request: update.Request{Key: k("x"), Doc: &patch}},
		IndexItem{Key: k("y"), Source: doc(model.Document{"a": 1.0})},
		UpdateItem{Request: update.Request{Key: k("x"), Doc: &patch}},
		DeleteItem{Key: k("y"), Expectation: model.IfSeqNoTerm(0, 1)},
	}

	resp, err := e.Execute(ctx, items)
	require.NoError(t, err)
	assert.False(t, resp.Errors)
	assert.Equal(t, document.ResultCreated, resp.Items[0].Result.Result)
	assert.Equal(t, document.ResultUpdated, resp.Items[1].Result.Result)
	assert.Equal(t, document.ResultNoop, resp.Items[3].Result.Result)
	assert.Equal(t, document.ResultDeleted, resp.Items[4].Result.Result)

	got, err := store.Get(ctx, k("x"), document.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.Document{"a": 1.0, "b": 2.0}, got.Source)
	assert.Equal(t, int64(1), got.SeqNo)
}

type panickyStore struct {
	Store
	panicID string
}

func (p *panickyStore) Index(ctx context.Context, req document.IndexRequest) (*document.WriteResult, error) {
	if req.Key.ID == p.panicID {
		panic("boom")
	}
	return p.Store.Index(ctx, req)
}

func TestExecute_RecoversPanics(t *testing.T) {
	_, store := newExecutor(t)
	e := NewExecutor(&panickyStore{Store: store, panicID: "bad"}, nil, Config{}, nil)

	resp, err := e.Execute(context.Background(), []Item{
		IndexItem{Key: k("good"), Source: doc(model.Document{})},
		IndexItem{Key: k("bad"), Source: doc(model.Document{})},
		UpdateItem{Request: update.Request{Key: k("good")}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, resp.Items[0].Status)
	assert.Equal(t, model.StatusInternalError, resp.Items[1].Status)
	assert.Contains(t, resp.Items[1].Failure.Reason(), "panicked: boom")
	assert.Equal(t, model.StatusBadRequest, resp.Items[2].Status)
	assert.Equal(t, model.StatusInternalError, resp.Status)
}

func TestExecute_BatchErrors(t *testing.T) {
	e, _ := newExecutor(t)

	_, err := e.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrValidation)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Execute(ctx, []Item{DeleteItem{Key: k("1")}})
	assert.ErrorIs(t, err, model.ErrCanceled)
}

func TestEstimatedSize(t *testing.T) {
	src := doc(model.Document{"field": "value"})
	base := EstimatedSize(DeleteItem{Key: k("1")})
	assert.Equal(t, itemOverhead+len("test")+1, base)
	assert.Equal(t, base+len(src.Data), EstimatedSize(IndexItem{Key: k("1"), Source: src}))
	assert.Equal(t, base+len(src.Data), EstimatedSize(UpdateItem{Request: update.Request{Key: k("1"), Doc: &src}}))
}
