package update

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/docstore/internal/core/storage/memory"
	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/script"
	"github.com/syntrixbase/docstore/pkg/model"
)

func setup(t *testing.T) (*Engine, *document.Store) {
	t.Helper()
	store, err := document.New(context.Background(), memory.NewEngine(), document.Config{}, nil)
	require.NoError(t, err)
	scripts, err := script.NewService(nil)
	require.NoError(t, err)
	return New(store, scripts, nil), store
}

func key(id string) model.Key {
	return model.Key{Collection: "index", ID: id}
}

func seed(t *testing.T, store *document.Store, id string, doc model.Document) *document.WriteResult {
	t.Helper()
	res, err := store.Index(context.Background(), document.IndexRequest{Key: key(id), Source: model.JSONSource(doc)})
	require.NoError(t, err)
	return res
}

func src(doc model.Document) *model.Source {
	s := model.JSONSource(doc)
	return &s
}

func TestUpdate_DocMergeAndNoop(t *testing.T) {
	e, store := setup(t)
	ctx := context.Background()
	seed(t, store, "id", model.Document{"field": "value"})

	res, err := e.Update(ctx, Request{Key: key("id"), Doc: src(model.Document{"field": "updated"})})
	require.NoError(t, err)
	assert.Equal(t, document.ResultUpdated, res.Result)
	assert.Equal(t, int64(2), res.Version)
	assert.Equal(t, int64(1), res.SeqNo)

	for i := 0; i < 3; i++ {
		res, err = e.Update(ctx, Request{Key: key("id"), Doc: src(model.Document{"field": "updated"})})
		require.NoError(t, err)
		assert.Equal(t, document.ResultNoop, res.Result)
		assert.Equal(t, int64(2), res.Version)
		assert.Equal(t, int64(1), res.SeqNo)
	}

	off := false
	res, err = e.Update(ctx, Request{Key: key("id"), Doc: src(model.Document{"field": "updated"}), DetectNoop: &off})
	require.NoError(t, err)
	assert.Equal(t, document.ResultUpdated, res.Result)
	assert.Equal(t, int64(3), res.Version)
}

func TestUpdate_MissingDocument(t *testing.T) {
	e, _ := setup(t)
	_, err := e.Update(context.Background(), Request{Key: key("does_not_exist"), Doc: src(model.Document{"field": "value"})})
	require.Error(t, err)
	assert.Equal(t, "[does_not_exist]: document missing", err.Error())
	assert.Equal(t, model.StatusNotFound, model.StatusOf(err))
}

func TestUpdate_Upserts(t *testing.T) {
	e, store := setup(t)
	ctx := context.Background()

	t.Run("upsert document", func(t *testing.T) {
		res, err := e.Update(ctx, Request{
			Key:         key("with_upsert"),
			Doc:         src(model.Document{"field": "doc"}),
			Upsert:      src(model.Document{"field": "upsert"}),
			FetchSource: &model.FetchSource{},
		})
		require.NoError(t, err)
		assert.Equal(t, document.ResultCreated, res.Result)
		assert.Equal(t, int64(1), res.Version)
		require.NotNil(t, res.Get)
		assert.Equal(t, model.Document{"field": "upsert"}, res.Get.Source)
	})

	t.Run("doc as upsert", func(t *testing.T) {
		res, err := e.Update(ctx, Request{Key: key("doc_as_upsert"), Doc: src(model.Document{"field": "doc"}), DocAsUpsert: true})
		require.NoError(t, err)
		assert.Equal(t, document.ResultCreated, res.Result)

		got, err := store.Get(ctx, key("doc_as_upsert"), document.GetOptions{})
		require.NoError(t, err)
		assert.Equal(t, model.Document{"field": "doc"}, got.Source)
	})

	t.Run("scripted upsert", func(t *testing.T) {
		res, err := e.Update(ctx, Request{
			Key:            key("scripted"),
			Script:         &script.Script{Source: `{"counter": ctx._source.counter + params.n}`, Params: map[string]any{"n": 2.0}},
			Upsert:         src(model.Document{"counter": 1.0}),
			ScriptedUpsert: true,
		})
		require.NoError(t, err)
		assert.Equal(t, document.ResultCreated, res.Result)

		got, err := store.Get(ctx, key("scripted"), document.GetOptions{})
		require.NoError(t, err)
		assert.Equal(t, 3.0, got.Source["counter"])
	})

	t.Run("upsert over tombstone", func(t *testing.T) {
		seed(t, store, "gone", model.Document{"a": 1.0})
		_, err := store.Delete(ctx, document.DeleteRequest{Key: key("gone")})
		require.NoError(t, err)

		res, err := e.Update(ctx, Request{Key: key("gone"), Doc: src(model.Document{"a": 2.0}), DocAsUpsert: true})
		require.NoError(t, err)
		assert.Equal(t, document.ResultCreated, res.Result)
		assert.Equal(t, int64(2), res.SeqNo)
	})
}

func TestUpdate_Script(t *testing.T) {
	e, store := setup(t)
	ctx := context.Background()
	seed(t, store, "s", model.Document{"field": "value", "n": 1.0})

	res, err := e.Update(ctx, Request{
		Key:         key("s"),
		Script:      &script.Script{Source: `{"n": ctx._source.n * 10.0}`},
		FetchSource: model.FetchFields([]string{"n"}, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, document.ResultUpdated, res.Result)
	require.NotNil(t, res.Get)
	assert.Equal(t, model.Document{"n": 10.0}, res.Get.Source)

	res, err = e.Update(ctx, Request{Key: key("s"), Script: &script.Script{Source: `{"_op": "noop"}`}})
	require.NoError(t, err)
	assert.Equal(t, document.ResultNoop, res.Result)

	res, err = e.Update(ctx, Request{Key: key("s"), Script: &script.Script{Source: `{"_op": "delete"}`}})
	require.NoError(t, err)
	assert.Equal(t, document.ResultDeleted, res.Result)

	ok, err := store.Exists(ctx, key("s"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdate_Validation(t *testing.T) {
	e, _ := setup(t)
	ctx := context.Background()
	yaml := model.YAMLSource([]byte("field: value\n"))

	tests := []struct {
		name    string
		req     Request
		wantMsg string
	}{
		{"neither", Request{Key: key("1")}, "script or doc is missing"},
		{"both", Request{Key: key("1"), Doc: src(model.Document{}), Script: &script.Script{Source: "{}"}}, "can't provide both script and doc"},
		{"content types", Request{Key: key("1"), Doc: src(model.Document{"a": 1.0}), Upsert: &yaml},
			"Update request cannot have different content types for doc [JSON] and upsert [YAML] documents"},
		{"external version", Request{Key: key("1"), Doc: src(model.Document{}), Expectation: model.ExternalVersion(3)},
			"version type [external] is not supported by the update API"},
		{"scripted upsert without upsert", Request{Key: key("1"), Script: &script.Script{Source: "{}"}, ScriptedUpsert: true},
			"scripted_upsert requires a script and an upsert document"},
		{"doc as upsert without doc", Request{Key: key("1"), Script: &script.Script{Source: "{}"}, DocAsUpsert: true},
			"doc must be specified if doc_as_upsert is enabled"},
		{"retry with cas", Request{Key: key("1"), Doc: src(model.Document{}), Expectation: model.IfSeqNoTerm(0, 1), RetryOnConflict: 2},
			"compare and write operations can not be retried"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Update(ctx, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrValidation)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestUpdate_ExpectationConflict(t *testing.T) {
	e, store := setup(t)
	ctx := context.Background()
	seed(t, store, "c", model.Document{"a": 1.0})

	_, err := e.Update(ctx, Request{Key: key("c"), Doc: src(model.Document{"a": 2.0}), Expectation: model.IfSeqNoTerm(5, 1)})
	require.Error(t, err)
	assert.Equal(t, "[c]: version conflict, required seqNo [5], primary term [1]. current document has seqNo [0] and primary term [1]", err.Error())

	res, err := e.Update(ctx, Request{Key: key("c"), Doc: src(model.Document{"a": 2.0}), Expectation: model.IfSeqNoTerm(0, 1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.SeqNo)
}

func TestUpdate_SourceDisabled(t *testing.T) {
	e, store := setup(t)
	ctx := context.Background()
	off := false
	_, err := store.CreateCollection(ctx, "nosrc", document.CollectionSettings{SourceEnabled: &off})
	require.NoError(t, err)
	k := model.Key{Collection: "nosrc", ID: "1"}
	_, err = store.Index(ctx, document.IndexRequest{Key: k, Source: model.JSONSource(model.Document{"a": 1.0})})
	require.NoError(t, err)

	_, err = e.Update(ctx, Request{Key: k, Doc: src(model.Document{"a": 2.0})})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Contains(t, err.Error(), "document source missing")
}

// racingStore injects a concurrent write between the read and the write.
type racingStore struct {
	*document.Store
	races int
}

func (r *racingStore) Read(ctx context.Context, k model.Key) (*document.Snapshot, error) {
	snap, err := r.Store.Read(ctx, k)
	if err == nil && r.races > 0 {
		r.races--
		_, err = r.Store.Index(ctx, document.IndexRequest{Key: k, Source: model.JSONSource(model.Document{"raced": float64(r.races)})})
	}
	return snap, err
}

func TestUpdate_ConflictSurfacedAndRetried(t *testing.T) {
	_, store := setup(t)
	ctx := context.Background()
	seed(t, store, "r", model.Document{"a": 1.0})

	racing := &racingStore{Store: store, races: 1}
	e := New(racing, nil, nil)
	_, err := e.Update(ctx, Request{Key: key("r"), Doc: src(model.Document{"a": 2.0})})
	assert.True(t, errors.Is(err, model.ErrConflict))

	racing.races = 1
	res, err := e.Update(ctx, Request{Key: key("r"), Doc: src(model.Document{"a": 3.0}), RetryOnConflict: 1})
	require.NoError(t, err)
	assert.Equal(t, document.ResultUpdated, res.Result)

	_, err = e.Update(ctx, Request{Key: key("r"), Script: &script.Script{Source: "{}"}})
	assert.ErrorIs(t, err, model.ErrValidation)
}
