// Package mutation runs update-by-query and delete-by-query as cancellable,
// rate-limited background tasks.
package mutation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/syntrixbase/docstore/internal/query"
	"github.com/syntrixbase/docstore/internal/script"
	"github.com/syntrixbase/docstore/pkg/model"
)

// Task actions.
const (
	ActionUpdateByQuery = "indices:data/write/update/byquery"
	ActionDeleteByQuery = "indices:data/write/delete/byquery"
)

// shortAction names an action in event subjects and metric labels.
func shortAction(action string) string {
	switch action {
	case ActionUpdateByQuery:
		return "update_by_query"
	case ActionDeleteByQuery:
		return "delete_by_query"
	}
	return strings.NewReplacer(":", "_", "/", "_").Replace(action)
}

const (
	DefaultBatchSize = 1000
	MaxBatchSize     = 10000
	MaxSlices        = 1024
)

// State is the lifecycle state of a task.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Conflicts selects what a version conflict does to a task.
type Conflicts string

const (
	ConflictsProceed Conflicts = "proceed"
	ConflictsAbort   Conflicts = "abort"
)

// TaskID identifies a task as node:sequence.
type TaskID struct {
	Node string
	ID   int64
}

func (id TaskID) String() string {
	return fmt.Sprintf("%s:%d", id.Node, id.ID)
}

func (id TaskID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TaskID) UnmarshalText(b []byte) error {
	parsed, err := ParseTaskID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseTaskID parses "node:n".
func ParseTaskID(s string) (TaskID, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return TaskID{}, model.Validationf("malformed task id %s", s)
	}
	n, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || n < 0 {
		return TaskID{}, model.Validationf("malformed task id %s", s)
	}
	return TaskID{Node: s[:i], ID: n}, nil
}

// Request describes one mutate-by-query task.
type Request struct {
	Action string
	Query  query.Query
	// Script transforms each hit of an update-by-query. Without a script
	// every hit is reindexed as is.
	Script    *script.Script
	BatchSize int
	// RequestsPerSecond caps the document rate. -1 means unlimited; the zero
	// value is treated as -1.
	RequestsPerSecond float64
	// MaxDocs caps the documents processed; zero means all.
	MaxDocs   int64
	Slices    int
	Conflicts Conflicts
}

// UpdateByQuery builds an update-by-query request.
func UpdateByQuery(q query.Query, s *script.Script) Request {
	return Request{Action: ActionUpdateByQuery, Query: q, Script: s}
}

// DeleteByQuery builds a delete-by-query request.
func DeleteByQuery(q query.Query) Request {
	return Request{Action: ActionDeleteByQuery, Query: q}
}

func (r *Request) applyDefaults(batchSize int) {
	if r.BatchSize == 0 {
		r.BatchSize = batchSize
	}
	if r.Slices == 0 {
		r.Slices = 1
	}
	if r.Conflicts == "" {
		r.Conflicts = ConflictsProceed
	}
	if r.RequestsPerSecond == 0 {
		r.RequestsPerSecond = -1
	}
}

// Validate rejects malformed requests before the task is registered.
func (r *Request) Validate() error {
	switch r.Action {
	case ActionUpdateByQuery:
		if r.Script != nil {
			if err := r.Script.Validate(); err != nil {
				return err
			}
		}
	case ActionDeleteByQuery:
		if r.Script != nil {
			return model.Validationf("delete by query does not support scripts")
		}
	default:
		return model.Validationf("unknown action [%s]", r.Action)
	}
	if err := r.Query.Validate(); err != nil {
		return err
	}
	if r.BatchSize < 1 || r.BatchSize > MaxBatchSize {
		return model.Validationf("batch size must be between 1 and %d, got [%d]", MaxBatchSize, r.BatchSize)
	}
	if err := ValidateRate(r.RequestsPerSecond); err != nil {
		return err
	}
	if r.MaxDocs < 0 {
		return model.Validationf("max_docs should be greater than or equal to 0, got [%d]", r.MaxDocs)
	}
	if r.Slices < 1 || r.Slices > MaxSlices {
		return model.Validationf("slices must be between 1 and %d, got [%d]", MaxSlices, r.Slices)
	}
	if r.MaxDocs > 0 && r.MaxDocs < int64(r.Slices) {
		return model.Validationf("max_docs [%d] should be greater or equal to slices [%d]", r.MaxDocs, r.Slices)
	}
	if r.Conflicts != ConflictsProceed && r.Conflicts != ConflictsAbort {
		return model.Validationf("conflicts may only be [abort] or [proceed] but was [%s]", r.Conflicts)
	}
	return nil
}

// ValidateRate checks a client supplied requests_per_second. Zero is
// rejected so that a near-zero rate never flips to unlimited.
func ValidateRate(rps float64) error {
	if rps == 0 {
		return model.Validationf("[requests_per_second] must be greater than 0. Use -1 to disable throttling")
	}
	if math.IsNaN(rps) || (rps < 0 && rps != -1) {
		return model.Validationf("requests_per_second must be positive or -1 for unlimited, got [%v]", rps)
	}
	return nil
}

// Status is the progress of a task. Counters only include completed batches.
type Status struct {
	SliceID           *int          `json:"slice_id,omitempty"`
	Total             int64         `json:"total"`
	Updated           int64         `json:"updated"`
	Created           int64         `json:"created"`
	Deleted           int64         `json:"deleted"`
	Batches           int64         `json:"batches"`
	VersionConflicts  int64         `json:"version_conflicts"`
	Noops             int64         `json:"noops"`
	BulkFailures      int64         `json:"bulk_failures"`
	SearchFailures    int64         `json:"search_failures"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Throttled         time.Duration `json:"-"`
	ThrottledUntil    time.Duration `json:"-"`
	Canceled          string        `json:"canceled,omitempty"`
	Slices            []Status      `json:"slices,omitempty"`
}

func (s *Status) add(o Status) {
	s.Total += o.Total
	s.Updated += o.Updated
	s.Created += o.Created
	s.Deleted += o.Deleted
	s.Batches += o.Batches
	s.VersionConflicts += o.VersionConflicts
	s.Noops += o.Noops
	s.BulkFailures += o.BulkFailures
	s.SearchFailures += o.SearchFailures
	s.Throttled += o.Throttled
	if o.ThrottledUntil > 0 && (s.ThrottledUntil == 0 || o.ThrottledUntil < s.ThrottledUntil) {
		s.ThrottledUntil = o.ThrottledUntil
	}
}

// Raw is the status as a plain map, as reported by detailed task listings.
func (s Status) Raw() map[string]any {
	raw := map[string]any{
		"total":                  s.Total,
		"updated":                s.Updated,
		"created":                s.Created,
		"deleted":                s.Deleted,
		"batches":                s.Batches,
		"version_conflicts":      s.VersionConflicts,
		"noops":                  s.Noops,
		"bulk_failures":          s.BulkFailures,
		"search_failures":        s.SearchFailures,
		"requests_per_second":    s.RequestsPerSecond,
		"throttled_millis":       s.Throttled.Milliseconds(),
		"throttled_until_millis": s.ThrottledUntil.Milliseconds(),
	}
	if s.SliceID != nil {
		raw["slice_id"] = *s.SliceID
	}
	if s.Canceled != "" {
		raw["canceled"] = s.Canceled
	}
	if len(s.Slices) > 0 {
		slices := make([]any, len(s.Slices))
		for i, sl := range s.Slices {
			slices[i] = sl.Raw()
		}
		raw["slices"] = slices
	}
	return raw
}

// BulkFailure is an item that did not apply.
type BulkFailure struct {
	Collection string       `json:"index"`
	ID         string       `json:"id"`
	Cause      string       `json:"cause"`
	Status     model.Status `json:"status"`
}

// SearchFailure is a failure to fetch the next batch.
type SearchFailure struct {
	Reason string `json:"reason"`
}

// Response is the final outcome of a task.
type Response struct {
	Took     time.Duration `json:"-"`
	TimedOut bool          `json:"timed_out"`
	Status   `json:"status"`
	Failures []BulkFailure `json:"failures"`
	// SearchErrors describe why fetching a batch failed.
	SearchErrors []SearchFailure `json:"search_errors,omitempty"`
}

// TaskInfo is a point-in-time view of a task.
type TaskInfo struct {
	ID          TaskID         `json:"id"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	StartTime   time.Time      `json:"start_time"`
	RunningTime time.Duration  `json:"running_time_in_nanos"`
	Cancellable bool           `json:"cancellable"`
	ParentID    *TaskID        `json:"parent_task_id,omitempty"`
	State       State          `json:"state"`
	Completed   bool           `json:"completed"`
	Status      map[string]any `json:"status,omitempty"`
	Response    *Response      `json:"response,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// TaskGroup is a running task with its running children.
type TaskGroup struct {
	Task     TaskInfo    `json:"task"`
	Children []TaskGroup `json:"children,omitempty"`
}

// ListOptions filters List.
type ListOptions struct {
	// Actions are wildcard patterns; empty matches every action.
	Actions  []string
	Detailed bool
}

func (o ListOptions) matches(action string) bool {
	if len(o.Actions) == 0 {
		return true
	}
	for _, p := range o.Actions {
		if model.Wildcard(p, action) {
			return true
		}
	}
	return false
}
