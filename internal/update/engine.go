// Package update applies partial documents, scripts and upserts to stored
// documents with no-op detection.
package update

import (
	"context"
	"errors"
	"log/slog"

	"github.com/syntrixbase/docstore/internal/core/storage/types"
	"github.com/syntrixbase/docstore/internal/core/version"
	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/script"
	"github.com/syntrixbase/docstore/pkg/model"
)

// Store is the part of the document store updates need.
type Store interface {
	Read(ctx context.Context, key model.Key) (*document.Snapshot, error)
	Index(ctx context.Context, req document.IndexRequest) (*document.WriteResult, error)
	Delete(ctx context.Context, req document.DeleteRequest) (*document.WriteResult, error)
}

// Engine runs updates.
type Engine struct {
	store   Store
	scripts *script.Service
	logger  *slog.Logger
}

// New returns an update engine over store.
func New(store Store, scripts *script.Service, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, scripts: scripts, logger: logger.With("component", "update-engine")}
}

// Update applies req. Version conflicts are returned unchanged unless the
// caller opted into RetryOnConflict.
func (e *Engine) Update(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Script != nil && e.scripts == nil {
		return nil, model.Validationf("scripts are not enabled")
	}

	var patch, upsert model.Document
	var err error
	if req.Doc != nil {
		if patch, err = req.Doc.Decode(); err != nil {
			return nil, err
		}
	}
	if req.Upsert != nil {
		if upsert, err = req.Upsert.Decode(); err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		res, err := e.apply(ctx, &req, patch, upsert)
		if errors.Is(err, model.ErrConflict) && attempt < req.RetryOnConflict {
			e.logger.Debug("Retrying update after conflict", "key", req.Key.String(), "attempt", attempt+1)
			continue
		}
		return res, err
	}
}

func (e *Engine) apply(ctx context.Context, req *Request, patch, upsert model.Document) (*Result, error) {
	snap, err := e.store.Read(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	state := version.State{Found: snap.Found, Live: snap.Live, SeqNo: snap.SeqNo, PrimaryTerm: snap.PrimaryTerm, Version: snap.Version}
	if err := version.Check(req.Key.ID, state, req.Expectation, version.OpIndex); err != nil {
		return nil, err
	}

	if !snap.Live {
		return e.upsert(ctx, req, snap, patch, upsert)
	}
	if !snap.SourceEnabled || snap.Source == nil {
		return nil, model.Validationf("[%s]: document source missing", req.Key.ID)
	}

	candidate := snap.Source.Clone()
	op := script.OpIndex
	if req.Script != nil {
		out, err := e.scripts.Run(req.Script, script.Context{
			ID:          req.Key.ID,
			Source:      snap.Source,
			Version:     snap.Version,
			SeqNo:       snap.SeqNo,
			PrimaryTerm: snap.PrimaryTerm,
		})
		if err != nil {
			return nil, err
		}
		op, candidate = out.Op, out.Source
	} else {
		candidate.Merge(patch)
	}

	pinned := model.IfSeqNoTerm(snap.SeqNo, snap.PrimaryTerm)
	switch op {
	case script.OpNoop:
		return noop(snap, req), nil
	case script.OpDelete:
		wr, err := e.store.Delete(ctx, document.DeleteRequest{Key: req.Key, Expectation: pinned})
		if err != nil {
			return nil, err
		}
		return &Result{WriteResult: *wr}, nil
	}

	if req.detectNoop() && model.Equal(map[string]any(candidate), map[string]any(snap.Source)) {
		return noop(snap, req), nil
	}
	return e.write(ctx, req, candidate, pinned, document.OpIndex)
}

func (e *Engine) upsert(ctx context.Context, req *Request, snap *document.Snapshot, patch, upsert model.Document) (*Result, error) {
	var source model.Document
	switch {
	case req.DocAsUpsert:
		source = patch
	case upsert != nil:
		source = upsert
	default:
		return nil, model.DocumentMissing(req.Key.ID)
	}

	if req.ScriptedUpsert {
		out, err := e.scripts.Run(req.Script, script.Context{
			ID:          req.Key.ID,
			Source:      source,
			Version:     model.NotFoundVersion,
			SeqNo:       model.UnassignedSeqNo,
			PrimaryTerm: model.UnassignedPrimaryTerm,
		})
		if err != nil {
			return nil, err
		}
		if out.Op != script.OpIndex {
			return noop(snap, req), nil
		}
		source = out.Source
	}

	// A tombstone can be pinned; a never-written key is guarded by create semantics.
	if snap.Found {
		return e.write(ctx, req, source, model.IfSeqNoTerm(snap.SeqNo, snap.PrimaryTerm), document.OpIndex)
	}
	return e.write(ctx, req, source, model.NoExpectation(), document.OpCreate)
}

func (e *Engine) write(ctx context.Context, req *Request, source model.Document, exp model.Expectation, op document.OpType) (*Result, error) {
	wr, err := e.store.Index(ctx, document.IndexRequest{
		Key:         req.Key,
		Source:      model.JSONSource(source),
		OpType:      op,
		Expectation: exp,
	})
	if err != nil {
		return nil, err
	}
	res := &Result{WriteResult: *wr}
	if req.FetchSource != nil && !req.FetchSource.Disabled {
		res.Get = &document.GetResult{
			Key:         req.Key,
			Exists:      true,
			SeqNo:       wr.SeqNo,
			PrimaryTerm: wr.PrimaryTerm,
			Version:     wr.Version,
			Source:      req.FetchSource.Apply(source),
		}
	}
	return res, nil
}

func noop(snap *document.Snapshot, req *Request) *Result {
	res := &Result{WriteResult: document.WriteResult{
		Key:         req.Key,
		SeqNo:       snap.SeqNo,
		PrimaryTerm: snap.PrimaryTerm,
		Version:     snap.Version,
		Result:      document.ResultNoop,
		Shards:      types.ShardInfo{},
	}}
	if snap.Live && req.FetchSource != nil && !req.FetchSource.Disabled {
		res.Get = &document.GetResult{
			Key:         req.Key,
			Exists:      true,
			SeqNo:       snap.SeqNo,
			PrimaryTerm: snap.PrimaryTerm,
			Version:     snap.Version,
			Source:      req.FetchSource.Apply(snap.Source),
		}
	}
	return res
}
