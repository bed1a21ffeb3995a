package rest

import (
	"net/http"
	"strings"

	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/mutation"
	"github.com/syntrixbase/docstore/pkg/model"
)

// DocumentParams are the query parameters shared by single-document endpoints.
type DocumentParams struct {
	Routing         string `schema:"routing"`
	IfSeqNo         *int64 `schema:"if_seq_no"`
	IfPrimaryTerm   *int64 `schema:"if_primary_term"`
	Version         *int64 `schema:"version"`
	VersionType     string `schema:"version_type"`
	OpType          string `schema:"op_type"`
	Source          string `schema:"_source"`
	SourceIncludes  string `schema:"_source_includes"`
	SourceExcludes  string `schema:"_source_excludes"`
	RetryOnConflict int    `schema:"retry_on_conflict"`
}

// TaskParams are the query parameters of the by-query and task endpoints.
type TaskParams struct {
	RequestsPerSecond *float64 `schema:"requests_per_second"`
	ScrollSize        int      `schema:"scroll_size"`
	Slices            int      `schema:"slices"`
	MaxDocs           int64    `schema:"max_docs"`
	Conflicts         string   `schema:"conflicts"`
	WaitForCompletion *bool    `schema:"wait_for_completion"`
	Actions           string   `schema:"actions"`
	Detailed          bool     `schema:"detailed"`
	Reason            string   `schema:"reason"`
}

// BulkParams are the query parameters of the bulk and multi-get endpoints.
type BulkParams struct {
	Routing        string `schema:"routing"`
	Async          bool   `schema:"async"`
	Source         string `schema:"_source"`
	SourceIncludes string `schema:"_source_includes"`
	SourceExcludes string `schema:"_source_excludes"`
}

func (h *Handler) decodeParams(r *http.Request, dst any) error {
	if err := h.decoder.Decode(dst, r.URL.Query()); err != nil {
		return model.Validationf("invalid query parameters: %v", err)
	}
	return nil
}

// expectation builds the write precondition from the request parameters.
func (p DocumentParams) expectation() (model.Expectation, error) {
	vt, err := model.ParseVersionType(p.VersionType)
	if err != nil {
		return model.Expectation{}, err
	}
	exp := model.Expectation{IfSeqNo: p.IfSeqNo, IfPrimaryTerm: p.IfPrimaryTerm, Version: p.Version, VersionType: vt}
	return exp, exp.Validate()
}

func (p DocumentParams) fetchSource() (*model.FetchSource, error) {
	return parseFetchSource(p.Source, p.SourceIncludes, p.SourceExcludes)
}

func (p BulkParams) fetchSource() (*model.FetchSource, error) {
	return parseFetchSource(p.Source, p.SourceIncludes, p.SourceExcludes)
}

// getOptions builds read options. An explicit version is an internal
// version check.
func (p DocumentParams) getOptions() (document.GetOptions, error) {
	fs, err := p.fetchSource()
	if err != nil {
		return document.GetOptions{}, err
	}
	return document.GetOptions{FetchSource: fs, Version: p.Version}, nil
}

// parseFetchSource interprets `_source` as a boolean or a field list,
// refined by the explicit include and exclude lists.
func parseFetchSource(source, includes, excludes string) (*model.FetchSource, error) {
	fs := &model.FetchSource{Includes: splitList(includes), Excludes: splitList(excludes)}
	switch strings.ToLower(source) {
	case "":
	case "true":
	case "false":
		if len(fs.Includes) > 0 || len(fs.Excludes) > 0 {
			return nil, model.Validationf("_source=false can't be combined with _source_includes or _source_excludes")
		}
		return model.NoSource(), nil
	default:
		fs.Includes = append(splitList(source), fs.Includes...)
	}
	if !fs.IsFiltering() {
		return nil, nil
	}
	return fs, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseConflicts accepts "proceed" and "abort".
func parseConflicts(s string) (mutation.Conflicts, error) {
	switch mutation.Conflicts(s) {
	case "":
		return "", nil
	case mutation.ConflictsProceed, mutation.ConflictsAbort:
		return mutation.Conflicts(s), nil
	}
	return "", model.Validationf("conflicts may only be %q or %q but was [%s]", mutation.ConflictsAbort, mutation.ConflictsProceed, s)
}

func (p TaskParams) waitForCompletion() bool {
	return p.WaitForCompletion == nil || *p.WaitForCompletion
}
