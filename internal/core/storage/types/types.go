package types

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when no record exists for a location.
	ErrNotFound = errors.New("record not found")
	// ErrPreconditionFailed is returned by Put when the stored revision no
	// longer matches the write condition.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// Location is where a document lives: collection, partition and id.
type Location struct {
	Collection string
	Partition  int
	ID         string
}

func (l Location) String() string {
	return fmt.Sprintf("%s/%d/%s", l.Collection, l.Partition, l.ID)
}

// Less orders locations by partition, then id, within a collection.
func (l Location) Less(other Location) bool {
	if l.Partition != other.Partition {
		return l.Partition < other.Partition
	}
	return l.ID < other.ID
}

// StoredDoc is the persisted record of one key. A deleted document is kept
// as a tombstone so that its sequence number survives.
type StoredDoc struct {
	// StorageID is hash(collection/partition/id), see StorageID.
	StorageID string `json:"-" bson:"_id"`

	Collection string `json:"collection" bson:"collection"`
	Partition  int    `json:"partition" bson:"partition"`
	ID         string `json:"id" bson:"doc_id"`
	Routing    string `json:"routing,omitempty" bson:"routing,omitempty"`

	SeqNo       int64 `json:"seq_no" bson:"seq_no"`
	PrimaryTerm int64 `json:"primary_term" bson:"primary_term"`
	Version     int64 `json:"version" bson:"version"`

	// Source is canonical JSON, nil when the collection does not keep source.
	Source []byte `json:"source,omitempty" bson:"source,omitempty"`

	Deleted bool `json:"deleted,omitempty" bson:"deleted"`

	// UpdatedAt is the timestamp of the last write (Unix milliseconds)
	UpdatedAt int64 `json:"updated_at" bson:"updated_at"`
}

// Location returns the address of the record.
func (d *StoredDoc) Location() Location {
	return Location{Collection: d.Collection, Partition: d.Partition, ID: d.ID}
}

// Revision returns the concurrency pair of the record.
func (d *StoredDoc) Revision() Revision {
	return Revision{SeqNo: d.SeqNo, PrimaryTerm: d.PrimaryTerm}
}

// Clone returns a copy that shares no mutable memory with d.
func (d *StoredDoc) Clone() *StoredDoc {
	out := *d
	if d.Source != nil {
		out.Source = append([]byte(nil), d.Source...)
	}
	return &out
}

// Revision identifies one write of a key.
type Revision struct {
	SeqNo       int64
	PrimaryTerm int64
}

// Condition guards Put. A nil Expected means no record may exist yet.
type Condition struct {
	Expected *Revision
}

// IfAbsent requires that no record exists.
func IfAbsent() Condition { return Condition{} }

// IfRevision requires the stored record to carry r.
func IfRevision(r Revision) Condition { return Condition{Expected: &r} }

// Matches reports whether cur satisfies the condition. cur is nil when no
// record exists.
func (c Condition) Matches(cur *StoredDoc) bool {
	if c.Expected == nil {
		return cur == nil
	}
	return cur != nil && cur.Revision() == *c.Expected
}

// ShardInfo summarizes replication of one write. Engines without replicas
// report a single successful copy.
type ShardInfo struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// SingleCopy is the ShardInfo of an unreplicated write.
func SingleCopy() ShardInfo { return ShardInfo{Total: 1, Successful: 1} }

// ScanRequest pages through live documents of a collection in Location order.
type ScanRequest struct {
	Collection string
	// After is exclusive; nil starts from the beginning.
	After *Location
	Limit int
	// Partitions restricts the scan; empty means all partitions.
	Partitions []int
}

// CollectionMeta is the persisted registry entry of a collection.
type CollectionMeta struct {
	Name          string  `json:"name" bson:"_id"`
	Shards        int     `json:"shards" bson:"shards"`
	SourceEnabled bool    `json:"source_enabled" bson:"source_enabled"`
	PrimaryTerms  []int64 `json:"primary_terms" bson:"primary_terms"`
}

// Engine is the storage collaborator behind the document store. Put must
// be atomic with respect to the condition check for a single location.
type Engine interface {
	Get(ctx context.Context, loc Location) (*StoredDoc, error)
	Put(ctx context.Context, doc *StoredDoc, cond Condition) (ShardInfo, error)
	Scan(ctx context.Context, req ScanRequest) ([]*StoredDoc, error)
	Count(ctx context.Context, collection string) (int64, error)

	PutCollection(ctx context.Context, meta CollectionMeta) error
	Collections(ctx context.Context) ([]CollectionMeta, error)

	Close(ctx context.Context) error
}
