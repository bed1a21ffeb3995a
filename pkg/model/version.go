package model

import "strings"

// Sentinels describing a key that has never been written.
const (
	UnassignedSeqNo       int64 = -2
	UnassignedPrimaryTerm int64 = 0
	NotFoundVersion       int64 = -1
)

// VersionType selects how Expectation.Version is compared.
type VersionType int

const (
	// VersionInternal means the store assigns versions; Version must be unset on writes.
	VersionInternal VersionType = iota
	// VersionExternal accepts the write when the supplied version is strictly higher.
	VersionExternal
	// VersionExternalGTE accepts the write when the supplied version is higher or equal.
	VersionExternalGTE
)

func (v VersionType) String() string {
	switch v {
	case VersionExternal:
		return "external"
	case VersionExternalGTE:
		return "external_gte"
	default:
		return "internal"
	}
}

// ParseVersionType accepts "internal", "external" and "external_gte".
func ParseVersionType(s string) (VersionType, error) {
	switch strings.ToLower(s) {
	case "", "internal":
		return VersionInternal, nil
	case "external", "external_gt":
		return VersionExternal, nil
	case "external_gte":
		return VersionExternalGTE, nil
	}
	return VersionInternal, Validationf("no version type match [%s]", s)
}

// Expectation is the precondition a write carries. At most one scheme may
// be set: the (IfSeqNo, IfPrimaryTerm) pair or an external Version.
type Expectation struct {
	IfSeqNo       *int64      `json:"if_seq_no,omitempty"`
	IfPrimaryTerm *int64      `json:"if_primary_term,omitempty"`
	Version       *int64      `json:"version,omitempty"`
	VersionType   VersionType `json:"version_type,omitempty"`
}

// NoExpectation accepts any current state.
func NoExpectation() Expectation { return Expectation{} }

// IfSeqNoTerm requires the current document to carry exactly this pair.
func IfSeqNoTerm(seqNo, primaryTerm int64) Expectation {
	return Expectation{IfSeqNo: &seqNo, IfPrimaryTerm: &primaryTerm}
}

// ExternalVersion requires v to be strictly higher than the current version.
func ExternalVersion(v int64) Expectation {
	return Expectation{Version: &v, VersionType: VersionExternal}
}

// ExternalVersionGTE requires v to be higher than or equal to the current version.
func ExternalVersionGTE(v int64) Expectation {
	return Expectation{Version: &v, VersionType: VersionExternalGTE}
}

// IsNone reports whether no precondition is set.
func (e Expectation) IsNone() bool {
	return e.IfSeqNo == nil && e.IfPrimaryTerm == nil && e.Version == nil
}

// HasSeqNoTerm reports whether the seqNo/term scheme is used.
func (e Expectation) HasSeqNoTerm() bool {
	return e.IfSeqNo != nil && e.IfPrimaryTerm != nil
}

// IsExternal reports whether an external version is supplied.
func (e Expectation) IsExternal() bool {
	return e.Version != nil && e.VersionType != VersionInternal
}

// Validate rejects mixed schemes and malformed values.
func (e Expectation) Validate() error {
	if (e.IfSeqNo == nil) != (e.IfPrimaryTerm == nil) {
		return Validationf("if_seq_no and if_primary_term must be set together")
	}
	if e.HasSeqNoTerm() {
		if *e.IfSeqNo < 0 && *e.IfSeqNo != UnassignedSeqNo {
			return Validationf("sequence numbers must be non negative. got [%d]", *e.IfSeqNo)
		}
		if *e.IfPrimaryTerm < 0 {
			return Validationf("primary term must be non negative. got [%d]", *e.IfPrimaryTerm)
		}
		if e.Version != nil {
			return Validationf("compare and write operations can not use versioning")
		}
		if e.VersionType != VersionInternal {
			return Validationf("compare and write operations can not be used with version type [%s]", e.VersionType)
		}
		return nil
	}
	if e.Version != nil {
		if e.VersionType == VersionInternal {
			return Validationf("internal versioning can not be used for optimistic concurrency control. Please use `if_seq_no` and `if_primary_term` instead")
		}
		if *e.Version < 0 {
			return Validationf("illegal version value [%d] for version type [%s]", *e.Version, e.VersionType)
		}
	} else if e.VersionType != VersionInternal {
		return Validationf("version type [%s] requires a version", e.VersionType)
	}
	return nil
}
