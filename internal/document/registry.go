package document

import (
	"context"
	"sync"

	"github.com/syntrixbase/docstore/internal/core/storage/types"
	"github.com/syntrixbase/docstore/pkg/model"
)

// CollectionSettings are the per-collection options.
type CollectionSettings struct {
	Shards int `yaml:"shards" json:"shards"`
	// SourceEnabled defaults to true.
	SourceEnabled *bool `yaml:"source_enabled" json:"source_enabled,omitempty"`
}

func (s CollectionSettings) sourceEnabled() bool {
	return s.SourceEnabled == nil || *s.SourceEnabled
}

// registry caches collection metadata and persists changes through the engine.
type registry struct {
	engine   types.Engine
	defaults CollectionSettings

	mu    sync.RWMutex
	metas map[string]types.CollectionMeta
}

func newRegistry(engine types.Engine, defaults CollectionSettings) *registry {
	if defaults.Shards <= 0 {
		defaults.Shards = 1
	}
	return &registry{engine: engine, defaults: defaults, metas: make(map[string]types.CollectionMeta)}
}

func (r *registry) load(ctx context.Context) error {
	metas, err := r.engine.Collections(ctx)
	if err != nil {
		return model.Transport("load collections", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range metas {
		r.metas[m.Name] = m
	}
	return nil
}

func (r *registry) get(name string) (types.CollectionMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metas[name]
	return m, ok
}

func (r *registry) list() []types.CollectionMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.CollectionMeta, 0, len(r.metas))
	for _, m := range r.metas {
		out = append(out, m)
	}
	return out
}

// create registers name. When mustBeNew is false an existing collection is
// returned unchanged.
func (r *registry) create(ctx context.Context, name string, settings CollectionSettings, mustBeNew bool) (types.CollectionMeta, error) {
	if !model.CheckCollectionName(name) {
		return types.CollectionMeta{}, model.Validationf("invalid collection name [%s]", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metas[name]; ok {
		if mustBeNew {
			return types.CollectionMeta{}, model.Validationf("collection [%s] already exists", name)
		}
		return m, nil
	}
	shards := settings.Shards
	if shards <= 0 {
		shards = r.defaults.Shards
	}
	meta := types.CollectionMeta{
		Name:          name,
		Shards:        shards,
		SourceEnabled: settings.sourceEnabled(),
		PrimaryTerms:  make([]int64, shards),
	}
	for i := range meta.PrimaryTerms {
		meta.PrimaryTerms[i] = 1
	}
	if err := r.engine.PutCollection(ctx, meta); err != nil {
		return types.CollectionMeta{}, model.Transport("create collection", err)
	}
	r.metas[name] = meta
	return meta, nil
}

func (r *registry) ensure(ctx context.Context, name string) (types.CollectionMeta, error) {
	if m, ok := r.get(name); ok {
		return m, nil
	}
	return r.create(ctx, name, r.defaults, false)
}

// promote bumps the primary term of one partition.
func (r *registry) promote(ctx context.Context, name string, partition int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metas[name]
	if !ok {
		return 0, model.CollectionMissing(name)
	}
	if partition < 0 || partition >= m.Shards {
		return 0, model.Validationf("partition [%d] out of range for collection [%s] with [%d] shards", partition, name, m.Shards)
	}
	terms := append([]int64(nil), m.PrimaryTerms...)
	terms[partition]++
	m.PrimaryTerms = terms
	if err := r.engine.PutCollection(ctx, m); err != nil {
		return 0, model.Transport("promote primary", err)
	}
	r.metas[name] = m
	return terms[partition], nil
}

// term returns the current primary term of a partition.
func (r *registry) term(name string, partition int) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.metas[name]
	if partition < len(m.PrimaryTerms) {
		return m.PrimaryTerms[partition]
	}
	return 1
}

func locate(meta types.CollectionMeta, key model.Key) types.Location {
	return types.Location{
		Collection: meta.Name,
		Partition:  PartitionFor(key.RoutingValue(), meta.Shards),
		ID:         key.ID,
	}
}
