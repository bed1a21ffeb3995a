// Package document implements single-document reads and conditional writes
// on top of a storage engine.
package document

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/syntrixbase/docstore/internal/core/storage/types"
	"github.com/syntrixbase/docstore/internal/core/version"
	"github.com/syntrixbase/docstore/pkg/model"
)

// Config configures the Store.
type Config struct {
	// MaxWriteRetries bounds re-reads after an engine-level CAS miss caused
	// by a writer outside this process. It comes from the storage section.
	MaxWriteRetries int `yaml:"-"`
	// Defaults apply to auto-created collections.
	Defaults CollectionSettings `yaml:"defaults"`
	// Collections are registered at startup if missing.
	Collections map[string]CollectionSettings `yaml:"predefined"`
}

// Store is the document store.
type Store struct {
	engine   types.Engine
	registry *registry
	locks    *keyLocks
	retries  int
	logger   *slog.Logger
	now      func() time.Time
}

// New loads collection metadata and registers configured collections.
func New(ctx context.Context, engine types.Engine, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		engine:   engine,
		registry: newRegistry(engine, cfg.Defaults),
		locks:    newKeyLocks(),
		retries:  cfg.MaxWriteRetries,
		logger:   logger.With("component", "document-store"),
		now:      time.Now,
	}
	if err := s.registry.load(ctx); err != nil {
		return nil, err
	}
	for name, settings := range cfg.Collections {
		if _, err := s.registry.create(ctx, name, settings, false); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateCollection registers a new collection.
func (s *Store) CreateCollection(ctx context.Context, name string, settings CollectionSettings) (types.CollectionMeta, error) {
	meta, err := s.registry.create(ctx, name, settings, true)
	if err == nil {
		s.logger.Info("Collection created", "collection", name, "shards", meta.Shards, "source_enabled", meta.SourceEnabled)
	}
	return meta, err
}

// Collection returns the metadata of name.
func (s *Store) Collection(name string) (types.CollectionMeta, error) {
	meta, ok := s.registry.get(name)
	if !ok {
		return types.CollectionMeta{}, model.CollectionMissing(name)
	}
	return meta, nil
}

// Collections lists registered collections.
func (s *Store) Collections() []types.CollectionMeta {
	return s.registry.list()
}

// PromotePrimary records a leadership change for one partition. Writes
// accepted afterwards carry the new primary term.
func (s *Store) PromotePrimary(ctx context.Context, collection string, partition int) (int64, error) {
	term, err := s.registry.promote(ctx, collection, partition)
	if err == nil {
		s.logger.Info("Primary promoted", "collection", collection, "partition", partition, "primary_term", term)
	}
	return term, err
}

// Partition returns the partition key routes to.
func (s *Store) Partition(key model.Key) (int, error) {
	meta, err := s.Collection(key.Collection)
	if err != nil {
		return 0, err
	}
	return locate(meta, key).Partition, nil
}

// Engine exposes the underlying engine to query sources.
func (s *Store) Engine() types.Engine {
	return s.engine
}

func stateOf(cur *types.StoredDoc) version.State {
	if cur == nil {
		return version.Absent()
	}
	return version.State{
		Found:       true,
		Live:        !cur.Deleted,
		SeqNo:       cur.SeqNo,
		PrimaryTerm: cur.PrimaryTerm,
		Version:     cur.Version,
	}
}

func (s *Store) load(ctx context.Context, loc types.Location) (*types.StoredDoc, error) {
	cur, err := s.engine.Get(ctx, loc)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Transport("get", err)
	}
	return cur, nil
}

// Get reads one document. A missing document is not an error: Exists is
// false and Version is -1.
func (s *Store) Get(ctx context.Context, key model.Key, opts GetOptions) (*GetResult, error) {
	if err := key.Validate(false); err != nil {
		return nil, err
	}
	meta, err := s.Collection(key.Collection)
	if err != nil {
		return nil, err
	}
	cur, err := s.load(ctx, locate(meta, key))
	if err != nil {
		return nil, err
	}
	state := stateOf(cur)
	if err := version.CheckRead(key.ID, state, opts.Version); err != nil {
		return nil, err
	}

	res := &GetResult{Key: key, Exists: state.Live}
	if !state.Live {
		res.SeqNo = model.UnassignedSeqNo
		res.PrimaryTerm = model.UnassignedPrimaryTerm
		res.Version = model.NotFoundVersion
		return res, nil
	}
	res.SeqNo, res.PrimaryTerm, res.Version = cur.SeqNo, cur.PrimaryTerm, cur.Version
	if cur.Source == nil || (opts.FetchSource != nil && opts.FetchSource.Disabled) {
		return res, nil
	}
	doc, err := model.DecodeCanonical(cur.Source)
	if err != nil {
		return nil, model.Transport("decode", err)
	}
	res.Source = opts.FetchSource.Apply(doc)
	return res, nil
}

// Exists reports whether a live document is stored under key.
func (s *Store) Exists(ctx context.Context, key model.Key) (bool, error) {
	res, err := s.Get(ctx, key, GetOptions{FetchSource: model.NoSource()})
	var nf *model.NotFoundError
	if errors.As(err, &nf) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.Exists, nil
}

// ExistsSource reports whether the document exists and its source is kept.
func (s *Store) ExistsSource(ctx context.Context, key model.Key) (bool, error) {
	snap, err := s.Read(ctx, key)
	if err != nil {
		return false, err
	}
	return snap.Live && snap.Source != nil, nil
}

// Read returns the current state of key including its decoded source.
// Unknown collections read as absent.
func (s *Store) Read(ctx context.Context, key model.Key) (*Snapshot, error) {
	if err := key.Validate(false); err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Key:           key,
		SeqNo:         model.UnassignedSeqNo,
		PrimaryTerm:   model.UnassignedPrimaryTerm,
		Version:       model.NotFoundVersion,
		SourceEnabled: true,
	}
	meta, ok := s.registry.get(key.Collection)
	if !ok {
		return snap, nil
	}
	snap.SourceEnabled = meta.SourceEnabled
	cur, err := s.load(ctx, locate(meta, key))
	if err != nil {
		return nil, err
	}
	st := stateOf(cur)
	snap.Found, snap.Live = st.Found, st.Live
	snap.SeqNo, snap.PrimaryTerm, snap.Version = st.SeqNo, st.PrimaryTerm, st.Version
	if st.Live && cur.Source != nil {
		if snap.Source, err = model.DecodeCanonical(cur.Source); err != nil {
			return nil, model.Transport("decode", err)
		}
	}
	return snap, nil
}

// MultiGet reads several documents. Each item fails or succeeds on its own.
func (s *Store) MultiGet(ctx context.Context, items []MultiGetItem) []MultiGetResponse {
	out := make([]MultiGetResponse, len(items))
	for i, item := range items {
		res, err := s.Get(ctx, item.Key, item.Options)
		out[i] = MultiGetResponse{Result: res, Err: err}
	}
	return out
}

// Index writes a whole document. An empty id is replaced by a generated one
// and forces create semantics.
func (s *Store) Index(ctx context.Context, req IndexRequest) (*WriteResult, error) {
	key, generated := req.Key.WithGeneratedID()
	op := req.OpType
	if generated {
		op = OpCreate
	}
	if err := key.Validate(false); err != nil {
		return nil, err
	}
	if err := req.Expectation.Validate(); err != nil {
		return nil, err
	}
	if op == OpCreate {
		if req.Expectation.HasSeqNoTerm() {
			return nil, model.Validationf("create operations do not support compare and set. use index instead")
		}
		if req.Expectation.IsExternal() {
			return nil, model.Validationf("create operations only support internal versioning. use index instead")
		}
	}
	doc, err := req.Source.Decode()
	if err != nil {
		return nil, err
	}
	source, err := model.Canonical(doc)
	if err != nil {
		return nil, model.Validationf("failed to encode source: %v", err)
	}

	meta, err := s.registry.ensure(ctx, key.Collection)
	if err != nil {
		return nil, err
	}
	vop := version.OpIndex
	if op == OpCreate {
		vop = version.OpCreate
	}
	return s.write(ctx, meta, key, req.Expectation, vop, source)
}

// Delete removes a document. Deleting an absent key succeeds with
// ResultNotFound and still records a tombstone.
func (s *Store) Delete(ctx context.Context, req DeleteRequest) (*WriteResult, error) {
	if err := req.Key.Validate(false); err != nil {
		return nil, err
	}
	if err := req.Expectation.Validate(); err != nil {
		return nil, err
	}
	meta, err := s.registry.ensure(ctx, req.Key.Collection)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, meta, req.Key, req.Expectation, version.OpDelete, nil)
}

func (s *Store) write(ctx context.Context, meta types.CollectionMeta, key model.Key, exp model.Expectation, op version.Op, source []byte) (*WriteResult, error) {
	loc := locate(meta, key)
	unlock := s.locks.lock(loc)
	defer unlock()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, model.WrapError(err)
		}
		cur, err := s.load(ctx, loc)
		if err != nil {
			return nil, err
		}
		state := stateOf(cur)
		if err := version.Check(key.ID, state, exp, op); err != nil {
			return nil, err
		}

		next := &types.StoredDoc{
			Collection:  meta.Name,
			Partition:   loc.Partition,
			ID:          key.ID,
			Routing:     key.Routing,
			SeqNo:       version.NextSeqNo(state),
			PrimaryTerm: s.registry.term(meta.Name, loc.Partition),
			Version:     version.NextVersion(state, exp),
			Deleted:     op == version.OpDelete,
			UpdatedAt:   s.now().UnixMilli(),
		}
		if !next.Deleted && meta.SourceEnabled {
			next.Source = source
		}
		cond := types.IfAbsent()
		if cur != nil {
			cond = types.IfRevision(cur.Revision())
		}

		shards, err := s.engine.Put(ctx, next, cond)
		if errors.Is(err, types.ErrPreconditionFailed) {
			if attempt < s.retries {
				s.logger.Debug("Concurrent write detected, retrying", "key", key.String(), "attempt", attempt+1)
				continue
			}
			return nil, model.NewConflictError(key.ID, "document was modified concurrently")
		}
		if err != nil {
			return nil, model.Transport("put", err)
		}

		res := &WriteResult{
			Key:         key,
			SeqNo:       next.SeqNo,
			PrimaryTerm: next.PrimaryTerm,
			Version:     next.Version,
			Shards:      shards,
		}
		switch {
		case op == version.OpDelete && state.Live:
			res.Result = ResultDeleted
		case op == version.OpDelete:
			res.Result = ResultNotFound
		case state.Live:
			res.Result = ResultUpdated
		default:
			res.Result = ResultCreated
		}
		return res, nil
	}
}
