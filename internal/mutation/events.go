package mutation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/syntrixbase/docstore/internal/metrics"
)

const publishTimeout = 5 * time.Second

// Event is published on every task state transition, on subject
// "<action>.<state>" such as "update_by_query.completed".
type Event struct {
	Task      TaskInfo `json:"task"`
	State     State    `json:"state"`
	Timestamp int64    `json:"timestamp"`
}

// EventSubject returns the subject a transition is published on.
func EventSubject(action string, state State) string {
	return shortAction(action) + "." + string(state)
}

func (c *Controller) publish(t *Task, state State) {
	metrics.TaskTransitions.WithLabelValues(shortAction(t.action), string(state)).Inc()
	if c.publisher == nil {
		return
	}

	data, err := json.Marshal(Event{Task: t.Info(true), State: state, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		c.logger.Warn("Failed to encode task event", "task", t.id.String(), "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.publisher.Publish(ctx, EventSubject(t.action, state), data); err != nil {
		c.logger.Warn("Failed to publish task event", "task", t.id.String(), "state", state, "error", err)
	}
}
