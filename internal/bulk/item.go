// Package bulk executes heterogeneous batches of document operations with
// per-item failure isolation.
package bulk

import (
	"time"

	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/update"
	"github.com/syntrixbase/docstore/pkg/model"
)

// OpType names a bulk action.
type OpType string

const (
	OpIndex  OpType = "index"
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Item is one operation of a batch. It is implemented only by IndexItem,
// CreateItem, UpdateItem and DeleteItem.
type Item interface {
	OpType() OpType
	DocumentKey() model.Key
	isItem()
}

// IndexItem creates or replaces a document.
type IndexItem struct {
	Key         model.Key
	Source      model.Source
	Expectation model.Expectation
}

// CreateItem writes a document that must not exist yet.
type CreateItem struct {
	Key         model.Key
	Source      model.Source
	Expectation model.Expectation
}

// UpdateItem runs a partial update.
type UpdateItem struct {
	Request update.Request
}

// DeleteItem removes a document.
type DeleteItem struct {
	Key         model.Key
	Expectation model.Expectation
}

func (IndexItem) OpType() OpType  { return OpIndex }
func (CreateItem) OpType() OpType { return OpCreate }
func (UpdateItem) OpType() OpType { return OpUpdate }
func (DeleteItem) OpType() OpType { return OpDelete }

func (i IndexItem) DocumentKey() model.Key  { return i.Key }
func (i CreateItem) DocumentKey() model.Key { return i.Key }
func (i UpdateItem) DocumentKey() model.Key { return i.Request.Key }
func (i DeleteItem) DocumentKey() model.Key { return i.Key }

func (IndexItem) isItem()  {}
func (CreateItem) isItem() {}
func (UpdateItem) isItem() {}
func (DeleteItem) isItem() {}

// itemOverhead approximates the per-action metadata line of a bulk request.
const itemOverhead = 50

// EstimatedSize approximates the wire size of item in bytes.
func EstimatedSize(item Item) int {
	k := item.DocumentKey()
	n := itemOverhead + len(k.Collection) + len(k.ID) + len(k.Routing)
	switch it := item.(type) {
	case IndexItem:
		n += len(it.Source.Data)
	case CreateItem:
		n += len(it.Source.Data)
	case UpdateItem:
		if it.Request.Doc != nil {
			n += len(it.Request.Doc.Data)
		}
		if it.Request.Upsert != nil {
			n += len(it.Request.Upsert.Data)
		}
		if it.Request.Script != nil {
			n += len(it.Request.Script.Source)
		}
	}
	return n
}

// Failure describes why an item failed.
type Failure struct {
	Err    error
	Status model.Status
}

// Reason is the client-visible failure text.
func (f *Failure) Reason() string {
	if f == nil || f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// ItemResult is the outcome of one item. It is never mutated after the
// executor returns it.
type ItemResult struct {
	Index  int
	Op     OpType
	Key    model.Key
	Result *document.WriteResult
	Get    *document.GetResult
	// Failure is nil for a delete of an absent key, which carries a
	// not-found status without counting as failed.
	Failure *Failure
	Status  model.Status
}

// Failed reports whether the item did not apply.
func (r *ItemResult) Failed() bool {
	return r.Failure != nil
}

// Response is the outcome of a batch.
type Response struct {
	Items []ItemResult
	Took  time.Duration
	// Errors is true when any item failed.
	Errors bool
	// Status is the most severe item status, for top-level reporting only.
	Status model.Status
}
