// Package query selects documents of a collection for mutate-by-query
// jobs. Results come back in stable location order with a resumable cursor.
package query

import (
	"context"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/syntrixbase/docstore/internal/core/storage/types"
	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/script"
	"github.com/syntrixbase/docstore/pkg/model"
)

// DefaultScanSize is the number of stored documents read per engine call.
const DefaultScanSize = 500

// Query selects documents. All set criteria must hold.
type Query struct {
	Collection string        `json:"-"`
	IDs        []string      `json:"ids,omitempty"`
	Filters    model.Filters `json:"filters,omitempty"`
	// Condition is a CEL boolean expression over `doc`.
	Condition string `json:"condition,omitempty"`
	// Slice restricts the query to one hash slice of the key space.
	Slice *Slice `json:"slice,omitempty"`
}

// Slice selects documents whose id hashes to ID modulo Max.
type Slice struct {
	ID  int `json:"id"`
	Max int `json:"max"`
}

// SliceOf returns the slice of max that id belongs to. Slices hash the id
// independently of routing so that every slice spans all partitions.
func SliceOf(id string, max int) int {
	if max <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(id) % uint64(max))
}

// Validate checks the query before any store access.
func (q Query) Validate() error {
	if !model.CheckCollectionName(q.Collection) {
		return model.Validationf("invalid collection name [%s]", q.Collection)
	}
	if err := q.Filters.Validate(); err != nil {
		return err
	}
	if q.Slice != nil && (q.Slice.Max < 1 || q.Slice.ID < 0 || q.Slice.ID >= q.Slice.Max) {
		return model.Validationf("invalid slice [%d] of [%d]", q.Slice.ID, q.Slice.Max)
	}
	return nil
}

// WithSlice returns a copy of q restricted to slice id of max.
func (q Query) WithSlice(id, max int) Query {
	q.Slice = &Slice{ID: id, Max: max}
	return q
}

func (q Query) condition() (string, error) {
	filters, err := compileFilters(q.Filters)
	if err != nil {
		return "", err
	}
	switch {
	case filters == "":
		return q.Condition, nil
	case q.Condition == "":
		return filters, nil
	}
	return filters + " && (" + q.Condition + ")", nil
}

func (q Query) matchesAll() bool {
	return len(q.IDs) == 0 && len(q.Filters) == 0 && strings.TrimSpace(q.Condition) == "" && q.Slice == nil
}

// Hit is one matching document with the state needed to pin a write to it.
type Hit struct {
	Key         model.Key
	SeqNo       int64
	PrimaryTerm int64
	Version     int64
	Source      model.Document
}

// Page is one batch of hits.
type Page struct {
	Hits []Hit
	// Next resumes the scan after this page.
	Next *types.Location
	// Done is set once the collection is exhausted.
	Done bool
}

// Store is the part of the document store the query source reads.
type Store interface {
	Collection(name string) (types.CollectionMeta, error)
	Engine() types.Engine
}

// Source runs queries against a document store.
type Source struct {
	store    Store
	scripts  *script.Service
	scanSize int
}

// NewSource creates a query source. scripts may be nil when queries
// never carry filters or conditions.
func NewSource(store Store, scripts *script.Service) *Source {
	return &Source{store: store, scripts: scripts, scanSize: DefaultScanSize}
}

var _ Store = (*document.Store)(nil)

// Check validates q and resolves its collection without scanning.
func (s *Source) Check(q Query) error {
	_, err := s.matcher(q)
	return err
}

// Search returns up to size hits after the cursor.
func (s *Source) Search(ctx context.Context, q Query, after *types.Location, size int) (*Page, error) {
	if size <= 0 {
		return nil, model.Validationf("search size must be positive, got [%d]", size)
	}
	m, err := s.matcher(q)
	if err != nil {
		return nil, err
	}

	page := &Page{Next: after}
	for len(page.Hits) < size {
		limit := s.scanSize
		if m.all {
			limit = size - len(page.Hits)
		}
		docs, err := s.store.Engine().Scan(ctx, types.ScanRequest{Collection: q.Collection, After: page.Next, Limit: limit})
		if err != nil {
			return nil, model.Transport("scan", err)
		}
		for i, d := range docs {
			hit, ok, err := m.match(d)
			if err != nil {
				return nil, err
			}
			loc := d.Location()
			page.Next = &loc
			if !ok {
				continue
			}
			page.Hits = append(page.Hits, hit)
			if len(page.Hits) == size {
				// A short engine page means nothing follows this document.
				page.Done = i == len(docs)-1 && len(docs) < limit
				return page, nil
			}
		}
		if len(docs) < limit {
			page.Done = true
			return page, nil
		}
	}
	return page, nil
}

// Count returns the number of matching documents.
func (s *Source) Count(ctx context.Context, q Query) (int64, error) {
	m, err := s.matcher(q)
	if err != nil {
		return 0, err
	}
	if m.all {
		n, err := s.store.Engine().Count(ctx, q.Collection)
		if err != nil {
			return 0, model.Transport("count", err)
		}
		return n, nil
	}

	var total int64
	var after *types.Location
	for {
		docs, err := s.store.Engine().Scan(ctx, types.ScanRequest{Collection: q.Collection, After: after, Limit: s.scanSize})
		if err != nil {
			return 0, model.Transport("scan", err)
		}
		for _, d := range docs {
			_, ok, err := m.match(d)
			if err != nil {
				return 0, err
			}
			if ok {
				total++
			}
		}
		if len(docs) < s.scanSize {
			return total, nil
		}
		loc := docs[len(docs)-1].Location()
		after = &loc
	}
}

type matcher struct {
	src  *Source
	q    Query
	ids  map[string]struct{}
	cond string
	all  bool
}

func (s *Source) matcher(q Query) (*matcher, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.Collection(q.Collection); err != nil {
		return nil, err
	}
	cond, err := q.condition()
	if err != nil {
		return nil, err
	}
	if cond != "" {
		if s.scripts == nil {
			return nil, model.Validationf("query conditions are not enabled")
		}
		if err := s.scripts.Compile(cond); err != nil {
			return nil, err
		}
	}
	m := &matcher{src: s, q: q, cond: cond, all: q.matchesAll()}
	if len(q.IDs) > 0 {
		m.ids = make(map[string]struct{}, len(q.IDs))
		for _, id := range q.IDs {
			m.ids[id] = struct{}{}
		}
	}
	return m, nil
}

func (m *matcher) match(d *types.StoredDoc) (Hit, bool, error) {
	if d.Deleted {
		return Hit{}, false, nil
	}
	if m.ids != nil {
		if _, ok := m.ids[d.ID]; !ok {
			return Hit{}, false, nil
		}
	}
	if s := m.q.Slice; s != nil && s.Max > 1 && SliceOf(d.ID, s.Max) != s.ID {
		return Hit{}, false, nil
	}

	var source model.Document
	if len(d.Source) > 0 {
		var err error
		if source, err = model.DecodeCanonical(d.Source); err != nil {
			return Hit{}, false, model.Transport("decode source", err)
		}
	}
	if m.cond != "" {
		ok, err := m.src.scripts.Match(m.cond, d.ID, source)
		if err != nil || !ok {
			return Hit{}, false, err
		}
	}
	return Hit{
		Key:         model.Key{Collection: d.Collection, ID: d.ID, Routing: d.Routing},
		SeqNo:       d.SeqNo,
		PrimaryTerm: d.PrimaryTerm,
		Version:     d.Version,
		Source:      source,
	}, true, nil
}
