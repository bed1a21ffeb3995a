// Package pebble is a persistent single-node storage engine on PebbleDB.
package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/syntrixbase/docstore/internal/core/storage/types"
)

// Config configures the pebble engine.
type Config struct {
	// Path is the directory to store the database.
	Path string `yaml:"path"`

	// BlockCacheSize is the size of the block cache in bytes.
	BlockCacheSize int64 `yaml:"block_cache_size"`

	// NoSync skips the fsync after each write. Writes are durable by default.
	NoSync bool `yaml:"no_sync"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Path:           "data/docstore",
		BlockCacheSize: 64 * 1024 * 1024,
	}
}

type engine struct {
	db     DB
	logger *slog.Logger
	wopts  *pebble.WriteOptions

	// Conditional puts are read-compare-write; writeMu makes them atomic.
	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// NewEngine opens (or creates) the database at cfg.Path.
func NewEngine(cfg Config, logger *slog.Logger) (types.Engine, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("pebble path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BlockCacheSize <= 0 {
		cfg.BlockCacheSize = DefaultConfig().BlockCacheSize
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	cache := pebble.NewCache(cfg.BlockCacheSize)
	defer cache.Unref()

	db, err := pebble.Open(cfg.Path, &pebble.Options{
		Cache: cache,
		Levels: []pebble.LevelOptions{
			{FilterPolicy: bloom.FilterPolicy(10)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	logger.Info("Pebble engine opened", "path", cfg.Path)
	return newEngine(&pebbleDB{db: db}, cfg, logger), nil
}

func newEngine(db DB, cfg Config, logger *slog.Logger) *engine {
	wopts := pebble.Sync
	if cfg.NoSync {
		wopts = pebble.NoSync
	}
	return &engine{
		db:     db,
		logger: logger.With("component", "pebble-engine"),
		wopts:  wopts,
	}
}

func (e *engine) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.closed {
		return types.ErrClosed
	}
	return nil
}

func (e *engine) Get(ctx context.Context, loc types.Location) (*types.StoredDoc, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(ctx); err != nil {
		return nil, err
	}
	return e.get(docKey(loc))
}

func (e *engine) get(key []byte) (*types.StoredDoc, error) {
	value, closer, err := e.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	return decodeDoc(key, value)
}

// decodeDoc reads a record. The storage id is derived from the location
// and is not part of the encoded value.
func decodeDoc(key, value []byte) (*types.StoredDoc, error) {
	var doc types.StoredDoc
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil, fmt.Errorf("decode record %q: %w", key, err)
	}
	doc.StorageID = types.StorageID(doc.Location())
	return &doc, nil
}

func (e *engine) Put(ctx context.Context, doc *types.StoredDoc, cond types.Condition) (types.ShardInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(ctx); err != nil {
		return types.ShardInfo{}, err
	}

	loc := doc.Location()
	key := docKey(loc)
	stored := *doc
	stored.StorageID = types.StorageID(loc)
	value, err := json.Marshal(&stored)
	if err != nil {
		return types.ShardInfo{}, fmt.Errorf("encode record: %w", err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	cur, err := e.get(key)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return types.ShardInfo{}, err
	}
	if !cond.Matches(cur) {
		return types.ShardInfo{}, types.ErrPreconditionFailed
	}
	if err := e.db.Set(key, value, e.wopts); err != nil {
		return types.ShardInfo{}, fmt.Errorf("pebble set: %w", err)
	}
	return types.SingleCopy(), nil
}

func (e *engine) Scan(ctx context.Context, req types.ScanRequest) ([]*types.StoredDoc, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(ctx); err != nil {
		return nil, err
	}

	prefixes := [][]byte{collectionPrefix(req.Collection)}
	if len(req.Partitions) > 0 {
		parts := append([]int(nil), req.Partitions...)
		sort.Ints(parts)
		prefixes = prefixes[:0]
		for _, p := range parts {
			prefixes = append(prefixes, partitionPrefix(req.Collection, p))
		}
	}

	var lower []byte
	if req.After != nil {
		lower = successor(docKey(*req.After))
	}

	var out []*types.StoredDoc
	for _, prefix := range prefixes {
		remaining := 0
		if req.Limit > 0 {
			remaining = req.Limit - len(out)
			if remaining <= 0 {
				break
			}
		}
		docs, err := e.scanPrefix(ctx, prefix, lower, remaining)
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

func (e *engine) scanPrefix(ctx context.Context, prefix, lower []byte, limit int) ([]*types.StoredDoc, error) {
	lo := prefix
	if lower != nil && string(lower) > string(prefix) {
		lo = lower
	}
	upper := prefixEnd(prefix)
	if upper != nil && string(lo) >= string(upper) {
		return nil, nil
	}

	iter, err := e.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var out []*types.StoredDoc
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(iter.Key(), iter.Value())
		if err != nil {
			return nil, err
		}
		if doc.Deleted {
			continue
		}
		out = append(out, doc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return out, nil
}

func (e *engine) Count(ctx context.Context, collection string) (int64, error) {
	docs, err := e.Scan(ctx, types.ScanRequest{Collection: collection})
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (e *engine) PutCollection(ctx context.Context, meta types.CollectionMeta) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(ctx); err != nil {
		return err
	}
	value, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}
	if err := e.db.Set(collectionMetaKey(meta.Name), value, e.wopts); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (e *engine) Collections(ctx context.Context) ([]types.CollectionMeta, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(ctx); err != nil {
		return nil, err
	}
	prefix := []byte(prefixCollection)
	iter, err := e.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var out []types.CollectionMeta
	for iter.First(); iter.Valid(); iter.Next() {
		var meta types.CollectionMeta
		if err := json.Unmarshal(iter.Value(), &meta); err != nil {
			return nil, fmt.Errorf("decode collection %q: %w", iter.Key(), err)
		}
		out = append(out, meta)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return out, nil
}

func (e *engine) Close(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	start := time.Now()
	err := e.db.Close()
	e.logger.Info("Pebble engine closed", "duration", time.Since(start))
	return err
}
