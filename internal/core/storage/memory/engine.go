// Package memory is an in-process storage engine used for tests and
// single-node deployments without persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/syntrixbase/docstore/internal/core/storage/types"
)

const btreeDegree = 32

// collection keeps records in Location order. live counts non-deleted
// records.
type collection struct {
	tree *btree.BTreeG[*types.StoredDoc]
	live int64
}

func lessDoc(a, b *types.StoredDoc) bool {
	return a.Location().Less(b.Location())
}

func pivot(loc types.Location) *types.StoredDoc {
	return &types.StoredDoc{Collection: loc.Collection, Partition: loc.Partition, ID: loc.ID}
}

type engine struct {
	mu          sync.RWMutex
	docs        map[string]*collection
	collections map[string]types.CollectionMeta
	closed      bool
}

// NewEngine returns an empty in-memory engine.
func NewEngine() types.Engine {
	return &engine{
		docs:        make(map[string]*collection),
		collections: make(map[string]types.CollectionMeta),
	}
}

func (e *engine) Get(ctx context.Context, loc types.Location) (*types.StoredDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, types.ErrClosed
	}
	coll, ok := e.docs[loc.Collection]
	if !ok {
		return nil, types.ErrNotFound
	}
	doc, ok := coll.tree.Get(pivot(loc))
	if !ok {
		return nil, types.ErrNotFound
	}
	return doc.Clone(), nil
}

func (e *engine) Put(ctx context.Context, doc *types.StoredDoc, cond types.Condition) (types.ShardInfo, error) {
	if err := ctx.Err(); err != nil {
		return types.ShardInfo{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return types.ShardInfo{}, types.ErrClosed
	}
	loc := doc.Location()
	coll, ok := e.docs[loc.Collection]
	if !ok {
		coll = &collection{tree: btree.NewG(btreeDegree, lessDoc)}
		e.docs[loc.Collection] = coll
	}
	cur, _ := coll.tree.Get(pivot(loc))
	if !cond.Matches(cur) {
		return types.ShardInfo{}, types.ErrPreconditionFailed
	}
	stored := doc.Clone()
	stored.StorageID = types.StorageID(loc)
	coll.tree.ReplaceOrInsert(stored)
	if cur != nil && !cur.Deleted {
		coll.live--
	}
	if !stored.Deleted {
		coll.live++
	}
	return types.SingleCopy(), nil
}

func (e *engine) Scan(ctx context.Context, req types.ScanRequest) ([]*types.StoredDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, types.ErrClosed
	}
	coll, ok := e.docs[req.Collection]
	if !ok {
		return nil, nil
	}

	var partitions map[int]bool
	if len(req.Partitions) > 0 {
		partitions = make(map[int]bool, len(req.Partitions))
		for _, p := range req.Partitions {
			partitions[p] = true
		}
	}

	var out []*types.StoredDoc
	visit := func(doc *types.StoredDoc) bool {
		if req.After != nil && !req.After.Less(doc.Location()) {
			return true
		}
		if doc.Deleted || (partitions != nil && !partitions[doc.Partition]) {
			return true
		}
		out = append(out, doc.Clone())
		return req.Limit <= 0 || len(out) < req.Limit
	}
	if req.After != nil {
		coll.tree.AscendGreaterOrEqual(pivot(*req.After), visit)
	} else {
		coll.tree.Ascend(visit)
	}
	return out, nil
}

func (e *engine) Count(ctx context.Context, collection string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if coll, ok := e.docs[collection]; ok {
		return coll.live, nil
	}
	return 0, nil
}

func (e *engine) PutCollection(ctx context.Context, meta types.CollectionMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return types.ErrClosed
	}
	meta.PrimaryTerms = append([]int64(nil), meta.PrimaryTerms...)
	e.collections[meta.Name] = meta
	return nil
}

func (e *engine) Collections(ctx context.Context) ([]types.CollectionMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.CollectionMeta, 0, len(e.collections))
	for _, meta := range e.collections {
		meta.PrimaryTerms = append([]int64(nil), meta.PrimaryTerms...)
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (e *engine) Close(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
