// Package version decides whether a write expectation holds against the
// current state of a document and computes the post-write numbers.
package version

import (
	"fmt"

	"github.com/syntrixbase/docstore/pkg/model"
)

// State is the concurrency-relevant view of one key.
type State struct {
	// Found is true when any record exists for the key, live or tombstone.
	Found bool
	// Live is true when the record is a live document.
	Live        bool
	SeqNo       int64
	PrimaryTerm int64
	Version     int64
}

// Absent is the state of a key that has never been written.
func Absent() State {
	return State{SeqNo: model.UnassignedSeqNo, PrimaryTerm: model.UnassignedPrimaryTerm, Version: model.NotFoundVersion}
}

// Op distinguishes writes that must not find a live document.
type Op int

const (
	OpIndex Op = iota
	OpCreate
	OpDelete
)

// Check returns nil when exp holds against cur, otherwise a *model.ConflictError.
// The expectation must already be validated.
func Check(id string, cur State, exp model.Expectation, op Op) error {
	if op == OpCreate && cur.Live {
		return model.NewConflictError(id, fmt.Sprintf("document already exists (current version [%d])", cur.Version))
	}
	switch {
	case exp.HasSeqNoTerm():
		n, t := *exp.IfSeqNo, *exp.IfPrimaryTerm
		if !cur.Found {
			return model.NewConflictError(id, fmt.Sprintf(
				"required seqNo [%d], primary term [%d]. but no document was found", n, t))
		}
		if cur.SeqNo != n || cur.PrimaryTerm != t {
			return model.NewConflictError(id, fmt.Sprintf(
				"required seqNo [%d], primary term [%d]. current document has seqNo [%d] and primary term [%d]",
				n, t, cur.SeqNo, cur.PrimaryTerm))
		}
	case exp.IsExternal():
		if !cur.Live {
			return nil
		}
		v := *exp.Version
		if exp.VersionType == model.VersionExternalGTE {
			if v < cur.Version {
				return model.NewConflictError(id, fmt.Sprintf(
					"current version [%d] is higher than the one provided [%d]", cur.Version, v))
			}
			return nil
		}
		if v <= cur.Version {
			return model.NewConflictError(id, fmt.Sprintf(
				"current version [%d] is higher or equal to the one provided [%d]", cur.Version, v))
		}
	}
	return nil
}

// CheckRead validates an internal version requested by a get.
func CheckRead(id string, cur State, requested *int64) error {
	if requested == nil || !cur.Live || *requested == cur.Version {
		return nil
	}
	return model.NewConflictError(id, fmt.Sprintf(
		"current version [%d] is different than the one provided [%d]", cur.Version, *requested))
}

// NextSeqNo returns the sequence number assigned by the next accepted write.
func NextSeqNo(cur State) int64 {
	if cur.SeqNo < 0 {
		return 0
	}
	return cur.SeqNo + 1
}

// NextVersion returns the version stored by the next accepted write.
func NextVersion(cur State, exp model.Expectation) int64 {
	if exp.IsExternal() {
		return *exp.Version
	}
	if cur.Version < 1 {
		return 1
	}
	return cur.Version + 1
}
