// Package storagetest holds the behavior every storage engine must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/docstore/internal/core/storage/types"
)

// Factory returns a fresh, empty engine. The suite closes it.
type Factory func(t *testing.T) types.Engine

func doc(coll string, partition int, id string, seq int64, source string) *types.StoredDoc {
	d := &types.StoredDoc{
		Collection:  coll,
		Partition:   partition,
		ID:          id,
		SeqNo:       seq,
		PrimaryTerm: 1,
		Version:     seq + 1,
		UpdatedAt:   1,
	}
	if source != "" {
		d.Source = []byte(source)
	}
	return d
}

// Run executes the engine conformance tests.
func Run(t *testing.T, newEngine Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		e := newEngine(t)
		defer e.Close(context.Background())

		_, err := e.Get(context.Background(), types.Location{Collection: "c", ID: "none"})
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("PutConditions", func(t *testing.T) {
		ctx := context.Background()
		e := newEngine(t)
		defer e.Close(ctx)

		first := doc("c", 0, "1", 0, `{"a":1}`)
		info, err := e.Put(ctx, first, types.IfAbsent())
		require.NoError(t, err)
		assert.Equal(t, 1, info.Successful)

		_, err = e.Put(ctx, doc("c", 0, "1", 0, `{"a":2}`), types.IfAbsent())
		assert.ErrorIs(t, err, types.ErrPreconditionFailed)

		_, err = e.Put(ctx, doc("c", 0, "1", 1, `{"a":2}`), types.IfRevision(types.Revision{SeqNo: 5, PrimaryTerm: 1}))
		assert.ErrorIs(t, err, types.ErrPreconditionFailed)

		_, err = e.Put(ctx, doc("c", 0, "1", 1, `{"a":2}`), types.IfRevision(first.Revision()))
		require.NoError(t, err)

		got, err := e.Get(ctx, first.Location())
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.SeqNo)
		assert.Equal(t, types.StorageID(first.Location()), got.StorageID)
		assert.Equal(t, int64(2), got.Version)
		assert.JSONEq(t, `{"a":2}`, string(got.Source))

		_, err = e.Put(ctx, doc("c", 0, "2", 0, `{}`), types.IfRevision(types.Revision{SeqNo: 0, PrimaryTerm: 1}))
		assert.ErrorIs(t, err, types.ErrPreconditionFailed)
	})

	t.Run("TombstonesHiddenFromScan", func(t *testing.T) {
		ctx := context.Background()
		e := newEngine(t)
		defer e.Close(ctx)

		live := doc("c", 0, "live", 0, `{}`)
		dead := doc("c", 0, "dead", 0, `{}`)
		_, err := e.Put(ctx, live, types.IfAbsent())
		require.NoError(t, err)
		_, err = e.Put(ctx, dead, types.IfAbsent())
		require.NoError(t, err)

		tomb := doc("c", 0, "dead", 1, "")
		tomb.Deleted = true
		_, err = e.Put(ctx, tomb, types.IfRevision(dead.Revision()))
		require.NoError(t, err)

		got, err := e.Get(ctx, tomb.Location())
		require.NoError(t, err)
		assert.True(t, got.Deleted)
		assert.Nil(t, got.Source)

		docs, err := e.Scan(ctx, types.ScanRequest{Collection: "c"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "live", docs[0].ID)

		n, err := e.Count(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("ScanPagesInOrder", func(t *testing.T) {
		ctx := context.Background()
		e := newEngine(t)
		defer e.Close(ctx)

		for p := 0; p < 2; p++ {
			for i := 0; i < 3; i++ {
				_, err := e.Put(ctx, doc("c", p, fmt.Sprintf("id%d", i), 0, `{}`), types.IfAbsent())
				require.NoError(t, err)
			}
		}
		_, err := e.Put(ctx, doc("other", 0, "x", 0, `{}`), types.IfAbsent())
		require.NoError(t, err)

		var seen []types.Location
		var after *types.Location
		for {
			page, err := e.Scan(ctx, types.ScanRequest{Collection: "c", After: after, Limit: 4})
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			for _, d := range page {
				seen = append(seen, d.Location())
			}
			last := page[len(page)-1].Location()
			after = &last
		}
		require.Len(t, seen, 6)
		for i := 1; i < len(seen); i++ {
			assert.True(t, seen[i-1].Less(seen[i]), "out of order at %d: %v %v", i, seen[i-1], seen[i])
		}

		only, err := e.Scan(ctx, types.ScanRequest{Collection: "c", Partitions: []int{1}})
		require.NoError(t, err)
		assert.Len(t, only, 3)
		for _, d := range only {
			assert.Equal(t, 1, d.Partition)
		}
	})

	t.Run("Collections", func(t *testing.T) {
		ctx := context.Background()
		e := newEngine(t)
		defer e.Close(ctx)

		require.NoError(t, e.PutCollection(ctx, types.CollectionMeta{Name: "b", Shards: 2, SourceEnabled: true, PrimaryTerms: []int64{1, 1}}))
		require.NoError(t, e.PutCollection(ctx, types.CollectionMeta{Name: "a", Shards: 1, PrimaryTerms: []int64{1}}))
		require.NoError(t, e.PutCollection(ctx, types.CollectionMeta{Name: "b", Shards: 2, SourceEnabled: true, PrimaryTerms: []int64{1, 2}}))

		metas, err := e.Collections(ctx)
		require.NoError(t, err)
		require.Len(t, metas, 2)
		assert.Equal(t, "a", metas[0].Name)
		assert.False(t, metas[0].SourceEnabled)
		assert.Equal(t, []int64{1, 2}, metas[1].PrimaryTerms)
	})

	t.Run("ConcurrentConditionalPuts", func(t *testing.T) {
		ctx := context.Background()
		e := newEngine(t)
		defer e.Close(ctx)

		base := doc("c", 0, "k", 0, `{}`)
		_, err := e.Put(ctx, base, types.IfAbsent())
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.Put(ctx, doc("c", 0, "k", 1, `{}`), types.IfRevision(base.Revision()))
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		e := newEngine(t)
		defer e.Close(context.Background())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := e.Get(ctx, types.Location{Collection: "c", ID: "1"})
		assert.Error(t, err)
	})
}
