package update

import (
	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/script"
	"github.com/syntrixbase/docstore/pkg/model"
)

// Request is a partial update of one document.
type Request struct {
	Key model.Key
	// Doc is merged onto the current source.
	Doc *model.Source
	// Script transforms the current source.
	Script *script.Script
	// Upsert is indexed when the document is absent.
	Upsert *model.Source
	// DocAsUpsert indexes Doc when the document is absent.
	DocAsUpsert bool
	// ScriptedUpsert runs Script against Upsert when the document is absent.
	ScriptedUpsert bool
	// DetectNoop defaults to true.
	DetectNoop *bool
	// FetchSource attaches the resulting source to the response.
	FetchSource *model.FetchSource
	Expectation model.Expectation
	// RetryOnConflict re-runs the whole read-modify-write this many times
	// after a version conflict. Zero disables retries.
	RetryOnConflict int
}

func (r *Request) detectNoop() bool {
	return r.DetectNoop == nil || *r.DetectNoop
}

// Validate rejects malformed requests before any store access.
func (r *Request) Validate() error {
	if err := r.Key.Validate(false); err != nil {
		return err
	}
	if r.Doc == nil && r.Script == nil {
		return model.Validationf("script or doc is missing")
	}
	if r.Doc != nil && r.Script != nil {
		return model.Validationf("can't provide both script and doc")
	}
	if r.Doc != nil && r.Upsert != nil && r.Doc.ContentType != r.Upsert.ContentType {
		return model.Validationf("Update request cannot have different content types for doc [%s] and upsert [%s] documents",
			r.Doc.ContentType, r.Upsert.ContentType)
	}
	if r.DocAsUpsert && r.Doc == nil {
		return model.Validationf("doc must be specified if doc_as_upsert is enabled")
	}
	if r.ScriptedUpsert && (r.Script == nil || r.Upsert == nil) {
		return model.Validationf("scripted_upsert requires a script and an upsert document")
	}
	if r.Script != nil {
		if err := r.Script.Validate(); err != nil {
			return err
		}
	}
	if r.RetryOnConflict < 0 {
		return model.Validationf("retry_on_conflict must be non negative")
	}
	if err := r.Expectation.Validate(); err != nil {
		return err
	}
	if r.Expectation.IsExternal() {
		return model.Validationf("version type [%s] is not supported by the update API", r.Expectation.VersionType)
	}
	if r.Expectation.HasSeqNoTerm() && r.RetryOnConflict > 0 {
		return model.Validationf("compare and write operations can not be retried")
	}
	return nil
}

// Result is the outcome of an update.
type Result struct {
	document.WriteResult
	// Get is set when FetchSource was requested and a document remains.
	Get *document.GetResult `json:"get,omitempty"`
}
