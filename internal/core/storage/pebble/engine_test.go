package pebble

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/docstore/internal/core/storage/storagetest"
	"github.com/syntrixbase/docstore/internal/core/storage/types"
)

func TestEngineConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) types.Engine {
		e, err := NewEngine(Config{Path: t.TempDir(), NoSync: true}, slog.Default())
		require.NoError(t, err)
		return e
	})
}

func TestEngine_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e, err := NewEngine(Config{Path: dir}, nil)
	require.NoError(t, err)
	doc := &types.StoredDoc{Collection: "c", ID: "1", SeqNo: 0, PrimaryTerm: 1, Version: 1, Source: []byte(`{"a":1}`)}
	_, err = e.Put(ctx, doc, types.IfAbsent())
	require.NoError(t, err)
	require.NoError(t, e.PutCollection(ctx, types.CollectionMeta{Name: "c", Shards: 1, SourceEnabled: true, PrimaryTerms: []int64{3}}))
	require.NoError(t, e.Close(ctx))
	require.NoError(t, e.Close(ctx))

	e, err = NewEngine(Config{Path: dir}, nil)
	require.NoError(t, err)
	defer e.Close(ctx)

	got, err := e.Get(ctx, doc.Location())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, types.StorageID(doc.Location()), got.StorageID)

	metas, err := e.Collections(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, []int64{3}, metas[0].PrimaryTerms)
}

func TestNewEngine_SyncByDefault(t *testing.T) {
	assert.Same(t, pebble.Sync, newEngine(&failingDB{}, Config{}, slog.Default()).wopts)
	assert.Same(t, pebble.NoSync, newEngine(&failingDB{}, Config{NoSync: true}, slog.Default()).wopts)
	assert.False(t, DefaultConfig().NoSync)
}

func TestNewEngine_RequiresPath(t *testing.T) {
	_, err := NewEngine(Config{}, nil)
	assert.Error(t, err)
}

type failingDB struct {
	DB
	getErr  error
	setErr  error
	iterErr error
}

func (f *failingDB) Get(key []byte) ([]byte, io.Closer, error) {
	if f.getErr != nil {
		return nil, nil, f.getErr
	}
	return nil, nil, pebble.ErrNotFound
}

func (f *failingDB) Set(key, value []byte, o *pebble.WriteOptions) error { return f.setErr }

func (f *failingDB) NewIter(o *pebble.IterOptions) (Iterator, error) { return nil, f.iterErr }

func (f *failingDB) Close() error { return nil }

func TestEngine_PropagatesDBErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	doc := &types.StoredDoc{Collection: "c", ID: "1"}

	e := newEngine(&failingDB{getErr: boom}, Config{}, slog.Default())
	_, err := e.Get(ctx, doc.Location())
	assert.ErrorIs(t, err, boom)
	_, err = e.Put(ctx, doc, types.IfAbsent())
	assert.ErrorIs(t, err, boom)

	e = newEngine(&failingDB{setErr: boom}, Config{}, slog.Default())
	_, err = e.Put(ctx, doc, types.IfAbsent())
	assert.ErrorIs(t, err, boom)

	e = newEngine(&failingDB{iterErr: boom}, Config{}, slog.Default())
	_, err = e.Scan(ctx, types.ScanRequest{Collection: "c"})
	assert.ErrorIs(t, err, boom)
	_, err = e.Collections(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "doc/c/00000002/x", string(docKey(types.Location{Collection: "c", Partition: 2, ID: "x"})))
	assert.Equal(t, []byte("doc/c0"), prefixEnd([]byte("doc/c/")))
	assert.Nil(t, prefixEnd([]byte{0xff}))
	assert.Equal(t, []byte{'a', 0}, successor([]byte("a")))
}
