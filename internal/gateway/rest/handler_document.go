package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/script"
	"github.com/syntrixbase/docstore/internal/update"
	"github.com/syntrixbase/docstore/pkg/model"
)

// WriteResponse is the body of index, create, delete and update responses.
type WriteResponse struct {
	Index   string `json:"_index"`
	ID      string `json:"_id"`
	Routing string `json:"_routing,omitempty"`
	*document.WriteResult
	Get *GetResponse `json:"get,omitempty"`
}

// GetResponse is the body of a point read.
type GetResponse struct {
	Index   string `json:"_index"`
	ID      string `json:"_id"`
	Routing string `json:"_routing,omitempty"`
	*document.GetResult
}

// missingResponse is returned for a read of an absent document.
type missingResponse struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
	Found bool   `json:"found"`
}

func routingOf(key model.Key) string {
	if key.Routing == key.ID {
		return ""
	}
	return key.Routing
}

func newWriteResponse(res *document.WriteResult, get *document.GetResult) WriteResponse {
	resp := WriteResponse{Index: res.Key.Collection, ID: res.Key.ID, Routing: routingOf(res.Key), WriteResult: res}
	if get != nil {
		g := newGetResponse(get)
		resp.Get = &g
	}
	return resp
}

func newGetResponse(res *document.GetResult) GetResponse {
	return GetResponse{Index: res.Key.Collection, ID: res.Key.ID, Routing: routingOf(res.Key), GetResult: res}
}

func pathKey(r *http.Request, routing string) model.Key {
	return model.Key{Collection: r.PathValue("collection"), ID: r.PathValue("id"), Routing: routing}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	var params DocumentParams
	if err := h.decodeParams(r, &params); err != nil {
		h.writeErr(w, r, err)
		return
	}
	opts, err := params.getOptions()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	key := pathKey(r, params.Routing)
	res, err := h.docs.Get(r.Context(), key, opts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if !res.Exists {
		writeJSON(w, http.StatusNotFound, missingResponse{Index: key.Collection, ID: key.ID})
		return
	}
	writeJSON(w, http.StatusOK, newGetResponse(res))
}

func (h *Handler) handleExists(w http.ResponseWriter, r *http.Request) {
	var params DocumentParams
	if err := h.decodeParams(r, &params); err != nil {
		w.WriteHeader(int(model.StatusOf(err)))
		return
	}
	res, err := h.docs.Get(r.Context(), pathKey(r, params.Routing), document.GetOptions{FetchSource: model.NoSource(), Version: params.Version})
	switch {
	case err != nil:
		w.WriteHeader(int(model.StatusOf(err)))
	case res.Exists:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleExistsSource(w http.ResponseWriter, r *http.Request) {
	var params DocumentParams
	if err := h.decodeParams(r, &params); err != nil {
		w.WriteHeader(int(model.StatusOf(err)))
		return
	}
	ok, err := h.docs.ExistsSource(r.Context(), pathKey(r, params.Routing))
	switch {
	case err != nil:
		w.WriteHeader(int(model.StatusOf(err)))
	case ok:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.index(w, r, pathKey(r, ""), "")
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	h.index(w, r, pathKey(r, ""), "create")
}

// index writes a whole document. A forced op type overrides op_type.
func (h *Handler) index(w http.ResponseWriter, r *http.Request, key model.Key, opType string) {
	var params DocumentParams
	if err := h.decodeParams(r, &params); err != nil {
		h.writeErr(w, r, err)
		return
	}
	key.Routing = params.Routing
	if opType == "" {
		opType = params.OpType
	}
	op, err := document.ParseOpType(opType)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	exp, err := params.expectation()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	source, err := readSource(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	res, err := h.docs.Index(r.Context(), document.IndexRequest{Key: key, Source: source, OpType: op, Expectation: exp})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, int(res.Status()), newWriteResponse(res, nil))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var params DocumentParams
	if err := h.decodeParams(r, &params); err != nil {
		h.writeErr(w, r, err)
		return
	}
	exp, err := params.expectation()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	res, err := h.docs.Delete(r.Context(), document.DeleteRequest{Key: pathKey(r, params.Routing), Expectation: exp})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, int(res.Status()), newWriteResponse(res, nil))
}

// UpdateBody is the body of an update, also used by bulk update lines.
type UpdateBody struct {
	Doc            json.RawMessage `json:"doc,omitempty"`
	Upsert         json.RawMessage `json:"upsert,omitempty"`
	DocAsUpsert    bool            `json:"doc_as_upsert,omitempty"`
	ScriptedUpsert bool            `json:"scripted_upsert,omitempty"`
	DetectNoop     *bool           `json:"detect_noop,omitempty"`
	Script         json.RawMessage `json:"script,omitempty"`
	Source         json.RawMessage `json:"_source,omitempty"`
}

// Request converts the body into an update request for key.
func (b *UpdateBody) Request(key model.Key) (update.Request, error) {
	req := update.Request{
		Key:            key,
		DocAsUpsert:    b.DocAsUpsert,
		ScriptedUpsert: b.ScriptedUpsert,
		DetectNoop:     b.DetectNoop,
	}
	if len(b.Doc) > 0 {
		req.Doc = &model.Source{ContentType: model.ContentJSON, Data: b.Doc}
	}
	if len(b.Upsert) > 0 {
		req.Upsert = &model.Source{ContentType: model.ContentJSON, Data: b.Upsert}
	}
	s, err := parseScript(b.Script)
	if err != nil {
		return update.Request{}, err
	}
	req.Script = s
	if req.FetchSource, err = parseSourceValue(b.Source); err != nil {
		return update.Request{}, err
	}
	return req, nil
}

// parseScript accepts either an inline expression string or a script object.
func parseScript(raw json.RawMessage) (*script.Script, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var inline string
	if err := json.Unmarshal(raw, &inline); err == nil {
		return &script.Script{Source: inline}, nil
	}
	var s script.Script
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, model.Validationf("failed to parse script: %v", err)
	}
	return &s, nil
}

// parseSourceValue interprets a body `_source` given as a boolean, a
// field list, a single field or an include/exclude object.
func parseSourceValue(raw json.RawMessage) (*model.FetchSource, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var enabled bool
	if err := json.Unmarshal(raw, &enabled); err == nil {
		if enabled {
			return &model.FetchSource{}, nil
		}
		return model.NoSource(), nil
	}
	var field string
	if err := json.Unmarshal(raw, &field); err == nil {
		return model.FetchFields(splitList(field), nil), nil
	}
	var fields []string
	if err := json.Unmarshal(raw, &fields); err == nil {
		return model.FetchFields(fields, nil), nil
	}
	var fs model.FetchSource
	if err := json.Unmarshal(raw, &fs); err != nil {
		return nil, model.Validationf("failed to parse _source: %v", err)
	}
	return &fs, nil
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, key model.Key) {
	var params DocumentParams
	if err := h.decodeParams(r, &params); err != nil {
		h.writeErr(w, r, err)
		return
	}
	key.Routing = params.Routing
	exp, err := params.expectation()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var body UpdateBody
	if err := decodeBody(r, &body); err != nil {
		h.writeErr(w, r, err)
		return
	}
	req, err := body.Request(key)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	req.Expectation = exp
	req.RetryOnConflict = params.RetryOnConflict
	if req.FetchSource == nil {
		fs, err := params.fetchSource()
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		if fs == nil && strings.EqualFold(params.Source, "true") {
			fs = &model.FetchSource{}
		}
		req.FetchSource = fs
	}

	res, err := h.updater.Update(r.Context(), req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, int(res.Status()), newWriteResponse(&res.WriteResult, res.Get))
}
