package document

import (
	"github.com/syntrixbase/docstore/internal/core/storage/types"
	"github.com/syntrixbase/docstore/pkg/model"
)

// Result is the outcome of a write.
type Result int

const (
	ResultCreated Result = iota
	ResultUpdated
	ResultDeleted
	ResultNotFound
	ResultNoop
)

func (r Result) String() string {
	switch r {
	case ResultCreated:
		return "created"
	case ResultUpdated:
		return "updated"
	case ResultDeleted:
		return "deleted"
	case ResultNotFound:
		return "not_found"
	case ResultNoop:
		return "noop"
	}
	return "unknown"
}

func (r Result) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// OpType selects index semantics.
type OpType int

const (
	// OpIndex creates or replaces.
	OpIndex OpType = iota
	// OpCreate fails when a live document exists.
	OpCreate
)

// ParseOpType accepts "index" and "create".
func ParseOpType(s string) (OpType, error) {
	switch s {
	case "", "index":
		return OpIndex, nil
	case "create":
		return OpCreate, nil
	}
	return OpIndex, model.Validationf("op_type must be [index] or [create], got [%s]", s)
}

// WriteResult is returned by every accepted write.
type WriteResult struct {
	Key         model.Key       `json:"-"`
	SeqNo       int64           `json:"_seq_no"`
	PrimaryTerm int64           `json:"_primary_term"`
	Version     int64           `json:"_version"`
	Result      Result          `json:"result"`
	Shards      types.ShardInfo `json:"_shards"`
}

// Status maps the outcome to a status code.
func (r *WriteResult) Status() model.Status {
	switch r.Result {
	case ResultCreated:
		return model.StatusCreated
	case ResultNotFound:
		return model.StatusNotFound
	default:
		return model.StatusOK
	}
}

// GetResult is a point read.
type GetResult struct {
	Key         model.Key      `json:"-"`
	Exists      bool           `json:"found"`
	SeqNo       int64          `json:"_seq_no"`
	PrimaryTerm int64          `json:"_primary_term"`
	Version     int64          `json:"_version"`
	Source      model.Document `json:"_source,omitempty"`
}

// IsSourceEmpty reports whether no source is attached.
func (r *GetResult) IsSourceEmpty() bool {
	return r.Source == nil
}

// GetOptions tune a read.
type GetOptions struct {
	FetchSource *model.FetchSource
	// Version, when set, must equal the current internal version.
	Version *int64
}

// IndexRequest writes a whole document.
type IndexRequest struct {
	Key         model.Key
	Source      model.Source
	OpType      OpType
	Expectation model.Expectation
}

// DeleteRequest removes a document.
type DeleteRequest struct {
	Key         model.Key
	Expectation model.Expectation
}

// MultiGetItem is one read of a MultiGet.
type MultiGetItem struct {
	Key     model.Key
	Options GetOptions
}

// MultiGetResponse holds either a result or a failure.
type MultiGetResponse struct {
	Result *GetResult
	Err    error
}

// Snapshot is the full current state of a key, used by read-modify-write callers.
type Snapshot struct {
	Key         model.Key
	Live        bool
	Found       bool
	SeqNo       int64
	PrimaryTerm int64
	Version     int64
	// Source is nil when the document is absent or the collection does not keep source.
	Source        model.Document
	SourceEnabled bool
}
