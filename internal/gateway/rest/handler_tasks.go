package rest

import (
	"encoding/json"
	"net/http"

	"github.com/syntrixbase/docstore/internal/mutation"
	"github.com/syntrixbase/docstore/internal/query"
	"github.com/syntrixbase/docstore/pkg/model"
)

type byQueryBody struct {
	Query     query.Query     `json:"query"`
	Script    json.RawMessage `json:"script,omitempty"`
	MaxDocs   int64           `json:"max_docs,omitempty" validate:"gte=0"`
	Conflicts string          `json:"conflicts,omitempty" validate:"omitempty,oneof=abort proceed"`
}

// ByQueryResponse is the body of a by-query request that waited for its task.
type ByQueryResponse struct {
	Took int64 `json:"took"`
	*mutation.Response
}

// StartedResponse is the body of a by-query request that did not wait.
type StartedResponse struct {
	Task mutation.TaskID `json:"task"`
}

func (h *Handler) handleUpdateByQuery(w http.ResponseWriter, r *http.Request) {
	h.byQuery(w, r, mutation.ActionUpdateByQuery)
}

func (h *Handler) handleDeleteByQuery(w http.ResponseWriter, r *http.Request) {
	h.byQuery(w, r, mutation.ActionDeleteByQuery)
}

// byQuery starts a mutate-by-query task and either waits for it or returns
// its id. The task itself is not bound to the request context.
func (h *Handler) byQuery(w http.ResponseWriter, r *http.Request, action string) {
	var params TaskParams
	if err := h.decodeParams(r, &params); err != nil {
		h.writeErr(w, r, err)
		return
	}
	var body byQueryBody
	if err := decodeBody(r, &body); err != nil {
		h.writeErr(w, r, err)
		return
	}
	body.Query.Collection = r.PathValue("collection")

	req := mutation.Request{Action: action, Query: body.Query, BatchSize: params.ScrollSize, Slices: params.Slices, MaxDocs: body.MaxDocs}
	if action == mutation.ActionUpdateByQuery {
		s, err := parseScript(body.Script)
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		req.Script = s
	} else if len(body.Script) > 0 {
		h.writeErr(w, r, model.Validationf("delete by query does not support scripts"))
		return
	}
	if params.MaxDocs > 0 {
		req.MaxDocs = params.MaxDocs
	}
	if params.RequestsPerSecond != nil {
		if err := mutation.ValidateRate(*params.RequestsPerSecond); err != nil {
			h.writeErr(w, r, err)
			return
		}
		req.RequestsPerSecond = *params.RequestsPerSecond
	}
	conflicts := params.Conflicts
	if conflicts == "" {
		conflicts = body.Conflicts
	}
	var err error
	if req.Conflicts, err = parseConflicts(conflicts); err != nil {
		h.writeErr(w, r, err)
		return
	}

	task, err := h.tasks.Start(r.Context(), req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if !params.waitForCompletion() {
		writeJSON(w, http.StatusOK, StartedResponse{Task: task.ID()})
		return
	}

	resp, err := task.Wait(r.Context())
	if resp == nil {
		h.writeErr(w, r, model.WrapError(err))
		return
	}
	if err != nil {
		h.logger.Warn("Task finished with an error", "task", task.ID().String(), "error", err)
	}
	writeJSON(w, http.StatusOK, ByQueryResponse{Took: resp.Took.Milliseconds(), Response: resp})
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var params TaskParams
	if err := h.decodeParams(r, &params); err != nil {
		h.writeErr(w, r, err)
		return
	}
	groups := h.tasks.List(mutation.ListOptions{Actions: splitList(params.Actions), Detailed: params.Detailed})
	writeJSON(w, http.StatusOK, map[string]any{"tasks": groups})
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := mutation.ParseTaskID(r.PathValue("task"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	info, err := h.tasks.Get(id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request, task string) {
	var params TaskParams
	if err := h.decodeParams(r, &params); err != nil {
		h.writeErr(w, r, err)
		return
	}
	id, err := mutation.ParseTaskID(task)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	info, err := h.tasks.Cancel(id, params.Reason)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// actionOfRoute maps a rethrottle path prefix to the task action it
// addresses.
func actionOfRoute(prefix string) string {
	if prefix == "_delete_by_query" {
		return mutation.ActionDeleteByQuery
	}
	return mutation.ActionUpdateByQuery
}

func (h *Handler) rethrottle(w http.ResponseWriter, r *http.Request, task, action string) {
	var params TaskParams
	if err := h.decodeParams(r, &params); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if params.RequestsPerSecond == nil {
		h.writeErr(w, r, model.Validationf("requests_per_second is required"))
		return
	}
	id, err := mutation.ParseTaskID(task)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	info, err := h.tasks.RethrottleAction(id, action, *params.RequestsPerSecond)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
