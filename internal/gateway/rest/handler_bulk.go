package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/syntrixbase/docstore/internal/bulk"
	"github.com/syntrixbase/docstore/internal/bulk/queue"
	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/pkg/model"
)

// bulkMeta is the metadata object of a bulk action line.
type bulkMeta struct {
	Index           string          `json:"_index"`
	ID              string          `json:"_id"`
	Routing         string          `json:"routing"`
	IfSeqNo         *int64          `json:"if_seq_no"`
	IfPrimaryTerm   *int64          `json:"if_primary_term"`
	Version         *int64          `json:"version"`
	VersionType     string          `json:"version_type"`
	RetryOnConflict int             `json:"retry_on_conflict"`
	Source          json.RawMessage `json:"_source"`
}

func (m *bulkMeta) expectation() (model.Expectation, error) {
	vt, err := model.ParseVersionType(m.VersionType)
	if err != nil {
		return model.Expectation{}, err
	}
	return model.Expectation{IfSeqNo: m.IfSeqNo, IfPrimaryTerm: m.IfPrimaryTerm, Version: m.Version, VersionType: vt}, nil
}

// BulkItemResponse is one entry of a bulk response, keyed by its action.
type BulkItemResponse struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
	*document.WriteResult
	Get    *GetResponse `json:"get,omitempty"`
	Status int          `json:"status"`
	Error  *APIError    `json:"error,omitempty"`
}

// BulkResponse is the body of a synchronous bulk request.
type BulkResponse struct {
	Took   int64                              `json:"took"`
	Errors bool                               `json:"errors"`
	Items  []map[bulk.OpType]BulkItemResponse `json:"items"`
}

// parseBulk reads newline delimited action and source lines. Index, create
// and update actions are followed by one source line; delete is not.
func parseBulk(body []byte, collection, routing string, fs *model.FetchSource) ([]bulk.Item, error) {
	lines := bytes.Split(body, []byte("\n"))
	next := func(i int) (int, []byte) {
		for ; i < len(lines); i++ {
			if line := bytes.TrimSpace(lines[i]); len(line) > 0 {
				return i, line
			}
		}
		return len(lines), nil
	}

	var items []bulk.Item
	for i, line := next(0); line != nil; i, line = next(i + 1) {
		var action map[bulk.OpType]*bulkMeta
		if err := json.Unmarshal(line, &action); err != nil {
			return nil, model.Validationf("malformed action/metadata line [%d]: %v", i+1, err)
		}
		if len(action) != 1 {
			return nil, model.Validationf("malformed action/metadata line [%d], expected a single action", i+1)
		}
		var op bulk.OpType
		var meta *bulkMeta
		for k, v := range action {
			op, meta = k, v
		}
		if meta == nil {
			meta = &bulkMeta{}
		}
		key := model.Key{Collection: meta.Index, ID: meta.ID, Routing: meta.Routing}
		if key.Collection == "" {
			key.Collection = collection
		}
		if key.Routing == "" {
			key.Routing = routing
		}
		exp, err := meta.expectation()
		if err != nil {
			return nil, err
		}

		if op == bulk.OpDelete {
			items = append(items, bulk.DeleteItem{Key: key, Expectation: exp})
			continue
		}

		actionLine := i + 1
		var source []byte
		if i, source = next(i + 1); source == nil {
			return nil, model.Validationf("action [%s] on line [%d] is missing its source line", op, actionLine)
		}
		switch op {
		case bulk.OpIndex:
			items = append(items, bulk.IndexItem{Key: key, Source: model.Source{Data: source}, Expectation: exp})
		case bulk.OpCreate:
			items = append(items, bulk.CreateItem{Key: key, Source: model.Source{Data: source}, Expectation: exp})
		case bulk.OpUpdate:
			var body UpdateBody
			if err := json.Unmarshal(source, &body); err != nil {
				return nil, model.Validationf("malformed update body on line [%d]: %v", i+1, err)
			}
			req, err := body.Request(key)
			if err != nil {
				return nil, err
			}
			if req.FetchSource == nil {
				if req.FetchSource, err = parseSourceValue(meta.Source); err != nil {
					return nil, err
				}
			}
			if req.FetchSource == nil {
				req.FetchSource = fs
			}
			req.Expectation = exp
			req.RetryOnConflict = meta.RetryOnConflict
			items = append(items, bulk.UpdateItem{Request: req})
		default:
			return nil, model.Validationf("unknown action [%s] on line [%d]", op, actionLine)
		}
	}
	if len(items) == 0 {
		return nil, bulk.ErrNoItems
	}
	return items, nil
}

func newBulkResponse(resp *bulk.Response) BulkResponse {
	out := BulkResponse{
		Took:   resp.Took.Milliseconds(),
		Errors: resp.Errors,
		Items:  make([]map[bulk.OpType]BulkItemResponse, len(resp.Items)),
	}
	for i := range resp.Items {
		item := &resp.Items[i]
		entry := BulkItemResponse{
			Index:       item.Key.Collection,
			ID:          item.Key.ID,
			WriteResult: item.Result,
			Status:      int(item.Status),
		}
		if item.Get != nil {
			g := newGetResponse(item.Get)
			entry.Get = &g
		}
		if item.Failed() {
			entry.Error = &APIError{Code: item.Failure.Status.String(), Message: item.Failure.Reason()}
		}
		out.Items[i] = map[bulk.OpType]BulkItemResponse{item.Op: entry}
	}
	return out
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	var params BulkParams
	if err := h.decodeParams(r, &params); err != nil {
		h.writeErr(w, r, err)
		return
	}
	fs, err := params.fetchSource()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if ct, err := model.ParseContentType(r.Header.Get("Content-Type")); err != nil || ct != model.ContentJSON {
		h.writeErr(w, r, model.Validationf("bulk requests must be newline delimited JSON"))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeErr(w, r, model.Validationf("failed to read request body: %v", err))
		return
	}
	items, err := parseBulk(body, r.PathValue("collection"), params.Routing, fs)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	if params.Async {
		h.enqueue(w, r, items)
		return
	}

	resp, err := h.bulk.Execute(r.Context(), items)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBulkResponse(resp))
}

// enqueue hands items to the background queue and answers 202.
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, items []bulk.Item) {
	if h.queue == nil {
		h.writeErr(w, r, model.Validationf("asynchronous bulk requests are not enabled"))
		return
	}
	for i, item := range items {
		if err := h.queue.Add(item); err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", err.Error())
				return
			}
			h.logger.Error("Failed to queue bulk item", "queued", i, "error", err)
			h.writeErr(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": len(items)})
}

type mgetDoc struct {
	Index   string          `json:"_index"`
	ID      string          `json:"_id" validate:"required"`
	Routing string          `json:"routing"`
	Source  json.RawMessage `json:"_source"`
}

type mgetBody struct {
	Docs []mgetDoc `json:"docs" validate:"dive"`
	IDs  []string  `json:"ids"`
}

// mgetFailure is a multi-get entry that could not be read.
type mgetFailure struct {
	Index string   `json:"_index"`
	ID    string   `json:"_id"`
	Error APIError `json:"error"`
}

func (h *Handler) handleMultiGet(w http.ResponseWriter, r *http.Request) {
	var params BulkParams
	if err := h.decodeParams(r, &params); err != nil {
		h.writeErr(w, r, err)
		return
	}
	fs, err := params.fetchSource()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var body mgetBody
	if err := decodeBody(r, &body); err != nil {
		h.writeErr(w, r, err)
		return
	}
	collection := r.PathValue("collection")
	for _, id := range body.IDs {
		body.Docs = append(body.Docs, mgetDoc{ID: id})
	}
	if len(body.Docs) == 0 {
		h.writeErr(w, r, model.Validationf("no documents to get"))
		return
	}

	items := make([]document.MultiGetItem, len(body.Docs))
	for i, d := range body.Docs {
		key := model.Key{Collection: d.Index, ID: d.ID, Routing: d.Routing}
		if key.Collection == "" {
			key.Collection = collection
		}
		if key.Routing == "" {
			key.Routing = params.Routing
		}
		itemFS, err := parseSourceValue(d.Source)
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		if itemFS == nil {
			itemFS = fs
		}
		items[i] = document.MultiGetItem{Key: key, Options: document.GetOptions{FetchSource: itemFS}}
	}

	results := h.docs.MultiGet(r.Context(), items)
	docs := make([]any, len(results))
	for i, res := range results {
		key := items[i].Key
		switch {
		case res.Err != nil:
			status := model.StatusOf(res.Err)
			docs[i] = mgetFailure{Index: key.Collection, ID: key.ID, Error: APIError{Code: status.String(), Message: res.Err.Error()}}
		case !res.Result.Exists:
			docs[i] = missingResponse{Index: key.Collection, ID: key.ID}
		default:
			docs[i] = newGetResponse(res.Result)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"docs": docs})
}
