package mutation

import (
	"context"
	"sync"
	"time"
)

// Task is a running or finished mutate-by-query job.
type Task struct {
	id          TaskID
	action      string
	description string
	req         Request
	start       time.Time
	parent      *Task
	children    []*Task
	sliceID     *int
	throttle    *throttle

	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}

	mu       sync.Mutex
	state    State
	status   Status
	failures []BulkFailure
	searches []SearchFailure
	reason   string
	response *Response
	err      error
}

func newTask(id TaskID, req Request, parent *Task, sliceID *int) *Task {
	return &Task{
		id:          id,
		action:      req.Action,
		description: describe(req),
		req:         req,
		start:       time.Now(),
		parent:      parent,
		sliceID:     sliceID,
		throttle:    newThrottle(limitFor(req.RequestsPerSecond)),
		cancelCh:    make(chan struct{}),
		done:        make(chan struct{}),
		state:       StateRunning,
	}
}

func describe(req Request) string {
	kind := "update-by-query"
	if req.Action == ActionDeleteByQuery {
		kind = "delete-by-query"
	}
	return kind + " [" + req.Query.Collection + "]"
}

// ID returns the task id.
func (t *Task) ID() TaskID { return t.id }

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes. The error is set when the task failed.
func (t *Task) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response, t.err
}

func (t *Task) cancel(reason string) {
	t.cancelOnce.Do(func() {
		t.mu.Lock()
		t.reason = reason
		t.mu.Unlock()
		close(t.cancelCh)
	})
	for _, c := range t.children {
		c.cancel(reason)
	}
}

func (t *Task) canceled() bool {
	select {
	case <-t.cancelCh:
		return true
	default:
		return false
	}
}

func (t *Task) isRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateRunning
}

// currentStatus returns the progress including live throttle figures. A
// parent reports the sum of its slices.
func (t *Task) currentStatus() Status {
	if len(t.children) > 0 {
		var st Status
		st.Slices = make([]Status, len(t.children))
		for i, c := range t.children {
			cs := c.currentStatus()
			st.Slices[i] = cs
			st.add(cs)
		}
		limit, _, _ := t.throttle.snapshot()
		st.RequestsPerSecond = rpsOf(limit)
		t.mu.Lock()
		st.Canceled = t.reason
		t.mu.Unlock()
		return st
	}

	limit, throttled, left := t.throttle.snapshot()
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.status
	st.SliceID = t.sliceID
	st.RequestsPerSecond = rpsOf(limit)
	st.Throttled = throttled
	st.ThrottledUntil = left
	st.Canceled = t.reason
	return st
}

// Info returns a view of the task. Detailed views carry the raw status.
func (t *Task) Info(detailed bool) TaskInfo {
	info := TaskInfo{
		ID:          t.id,
		Action:      t.action,
		Description: t.description,
		StartTime:   t.start,
		Cancellable: true,
	}
	if t.parent != nil {
		pid := t.parent.id
		info.ParentID = &pid
	}
	st := t.currentStatus()
	if detailed {
		info.Status = st.Raw()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	info.State = t.state
	info.Completed = t.state != StateRunning
	info.Response = t.response
	if info.Completed && t.response != nil {
		info.RunningTime = t.response.Took
	} else {
		info.RunningTime = time.Since(t.start)
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	return info
}

// finish records the terminal state and builds the response.
func (t *Task) finish(state State, err error) *Response {
	st := t.currentStatus()
	t.mu.Lock()
	t.state = state
	t.err = err
	st.ThrottledUntil = 0
	resp := &Response{
		Took:         time.Since(t.start),
		Status:       st,
		Failures:     append([]BulkFailure(nil), t.failures...),
		SearchErrors: append([]SearchFailure(nil), t.searches...),
	}
	if len(t.children) > 0 {
		for _, c := range t.children {
			c.mu.Lock()
			if c.response != nil {
				resp.Failures = append(resp.Failures, c.response.Failures...)
				resp.SearchErrors = append(resp.SearchErrors, c.response.SearchErrors...)
			}
			c.mu.Unlock()
		}
	}
	if resp.Failures == nil {
		resp.Failures = []BulkFailure{}
	}
	t.response = resp
	t.mu.Unlock()
	close(t.done)
	return resp
}
