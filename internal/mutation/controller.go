package mutation

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/syntrixbase/docstore/internal/bulk"
	"github.com/syntrixbase/docstore/internal/core/pubsub"
	"github.com/syntrixbase/docstore/internal/core/storage/types"
	"github.com/syntrixbase/docstore/internal/query"
	"github.com/syntrixbase/docstore/internal/script"
	"github.com/syntrixbase/docstore/pkg/model"
)

// Executor runs one batch of writes.
type Executor interface {
	Execute(ctx context.Context, items []bulk.Item) (*bulk.Response, error)
}

// Searcher selects the documents a task mutates.
type Searcher interface {
	Check(q query.Query) error
	Count(ctx context.Context, q query.Query) (int64, error)
	Search(ctx context.Context, q query.Query, after *types.Location, size int) (*query.Page, error)
}

// Config tunes the controller.
type Config struct {
	// NodeID prefixes task ids. Empty picks a random one.
	NodeID string `yaml:"node_id"`
	// DefaultBatchSize applies to requests without a batch size.
	DefaultBatchSize int `yaml:"default_batch_size"`
	// ResultRetention is how long finished tasks stay queryable.
	ResultRetention time.Duration `yaml:"result_retention"`
	// ReapInterval is the period of the archive reaper.
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultBatchSize: DefaultBatchSize,
		ResultRetention:  10 * time.Minute,
		ReapInterval:     time.Minute,
	}
}

type archived struct {
	task *Task
	at   time.Time
}

// Controller owns the task registry and runs tasks in the background.
type Controller struct {
	executor  Executor
	searcher  Searcher
	scripts   *script.Service
	publisher pubsub.Publisher
	cfg       Config
	logger    *slog.Logger

	nextID atomic.Int64

	mu       sync.RWMutex
	running  map[TaskID]*Task
	archived map[TaskID]archived
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	reaper sync.WaitGroup
}

// NewController creates a controller and starts its reaper. publisher
// may be nil to disable lifecycle events.
func NewController(executor Executor, searcher Searcher, scripts *script.Service, publisher pubsub.Publisher, cfg Config, logger *slog.Logger) *Controller {
	defaults := DefaultConfig()
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.New().String()[:8]
	}
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = defaults.DefaultBatchSize
	}
	if cfg.ResultRetention <= 0 {
		cfg.ResultRetention = defaults.ResultRetention
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaults.ReapInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		executor:  executor,
		searcher:  searcher,
		scripts:   scripts,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "task-controller", "node", cfg.NodeID),
		running:   make(map[TaskID]*Task),
		archived:  make(map[TaskID]archived),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.reaper.Add(1)
	go c.reapLoop()
	return c
}

// NodeID returns the prefix of task ids.
func (c *Controller) NodeID() string { return c.cfg.NodeID }

// Start validates req, registers a running task and returns immediately.
func (c *Controller) Start(ctx context.Context, req Request) (*Task, error) {
	req.applyDefaults(c.cfg.DefaultBatchSize)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Script != nil && c.scripts == nil {
		return nil, model.Validationf("scripts are not enabled")
	}
	if err := c.searcher.Check(req.Query); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, model.WrapError(err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrControllerClosed
	}
	t := newTask(c.newID(), req, nil, nil)
	if req.Slices > 1 {
		t.children = make([]*Task, req.Slices)
		for i := 0; i < req.Slices; i++ {
			sliceID := i
			child := req
			child.Query = req.Query.WithSlice(i, req.Slices)
			child.RequestsPerSecond = splitRate(req.RequestsPerSecond, req.Slices)
			child.MaxDocs = splitMaxDocs(req.MaxDocs, req.Slices, i)
			child.Slices = 1
			t.children[i] = newTask(c.newID(), child, t, &sliceID)
		}
	}
	c.running[t.id] = t
	for _, child := range t.children {
		c.running[child.id] = child
	}
	c.wg.Add(1 + len(t.children))
	c.mu.Unlock()

	c.logger.Info("Task started", "task", t.id.String(), "action", t.action, "collection", req.Query.Collection,
		"batch_size", req.BatchSize, "requests_per_second", req.RequestsPerSecond, "slices", req.Slices)
	c.publish(t, StateRunning)

	if len(t.children) == 0 {
		go c.run(t)
		return t, nil
	}
	for _, child := range t.children {
		go c.run(child)
	}
	go c.awaitChildren(t)
	return t, nil
}

func (c *Controller) newID() TaskID {
	return TaskID{Node: c.cfg.NodeID, ID: c.nextID.Add(1)}
}

func splitRate(rps float64, n int) float64 {
	if rps <= 0 {
		return rps
	}
	return rps / float64(n)
}

func splitMaxDocs(maxDocs int64, n, i int) int64 {
	if maxDocs == 0 {
		return 0
	}
	share := maxDocs / int64(n)
	if int64(i) < maxDocs%int64(n) {
		share++
	}
	return share
}

// awaitChildren finishes a sliced parent once every slice is done.
func (c *Controller) awaitChildren(t *Task) {
	defer c.wg.Done()
	for _, child := range t.children {
		<-child.done
	}

	state := StateCompleted
	var err error
	for _, child := range t.children {
		child.mu.Lock()
		cs, cerr := child.state, child.err
		child.mu.Unlock()
		switch {
		case cs == StateFailed && state != StateFailed:
			state, err = StateFailed, cerr
		case cs == StateCancelled && state == StateCompleted:
			state = StateCancelled
		}
	}
	if t.canceled() && state == StateCompleted {
		state = StateCancelled
	}
	c.complete(t, state, err)
}

// complete archives t and publishes its final state.
func (c *Controller) complete(t *Task, state State, err error) {
	resp := t.finish(state, err)

	c.mu.Lock()
	delete(c.running, t.id)
	c.archived[t.id] = archived{task: t, at: time.Now()}
	c.mu.Unlock()

	c.logger.Info("Task finished", "task", t.id.String(), "state", state, "took", resp.Took,
		"total", resp.Total, "updated", resp.Updated, "deleted", resp.Deleted, "noops", resp.Noops,
		"version_conflicts", resp.VersionConflicts, "batches", resp.Batches)
	c.publish(t, state)
}

// lookup finds a task, distinguishing finished tasks from unknown ids. A
// task issued here but already reaped yields a nil task and no error.
func (c *Controller) lookup(id TaskID) (*Task, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.running[id]; ok {
		return t, true, nil
	}
	if a, ok := c.archived[id]; ok {
		return a.task, false, nil
	}
	if c.issued(id) {
		return nil, false, nil
	}
	return nil, false, taskNotFound(id)
}

func (c *Controller) issued(id TaskID) bool {
	return id.Node == c.cfg.NodeID && id.ID > 0 && id.ID <= c.nextID.Load()
}

// Rethrottle changes the rate of a running task. A parent's rate is split
// across its running slices.
func (c *Controller) Rethrottle(id TaskID, rps float64) (TaskInfo, error) {
	return c.RethrottleAction(id, "", rps)
}

// RethrottleAction is Rethrottle restricted to tasks of one action. An
// empty action matches every task.
func (c *Controller) RethrottleAction(id TaskID, action string, rps float64) (TaskInfo, error) {
	if err := ValidateRate(rps); err != nil {
		return TaskInfo{}, err
	}
	t, running, err := c.lookup(id)
	if err != nil {
		return TaskInfo{}, err
	}
	if !running || !t.isRunning() {
		return TaskInfo{}, taskMissing(id)
	}
	if action != "" && t.action != action {
		return TaskInfo{}, taskUnsupported(id)
	}

	limit := limitFor(rps)
	t.throttle.setRate(limit)
	if len(t.children) > 0 {
		var live []*Task
		for _, child := range t.children {
			if child.isRunning() {
				live = append(live, child)
			}
		}
		for _, child := range live {
			child.throttle.setRate(limitFor(splitRate(rps, len(live))))
		}
	}
	c.logger.Info("Task rethrottled", "task", id.String(), "requests_per_second", rpsOf(limit))
	return t.Info(true), nil
}

// Cancel asks a running task to stop after its in-flight batch.
func (c *Controller) Cancel(id TaskID, reason string) (TaskInfo, error) {
	t, running, err := c.lookup(id)
	if err != nil {
		return TaskInfo{}, err
	}
	if !running || !t.isRunning() {
		return TaskInfo{}, taskMissing(id)
	}
	if reason == "" {
		reason = "by user request"
	}
	t.cancel(reason)
	c.logger.Info("Task cancel requested", "task", id.String(), "reason", reason)
	return t.Info(false), nil
}

// Get returns a running or archived task.
func (c *Controller) Get(id TaskID) (TaskInfo, error) {
	t, _, err := c.lookup(id)
	if err != nil {
		return TaskInfo{}, err
	}
	if t == nil {
		return TaskInfo{}, taskNotFound(id)
	}
	return t.Info(true), nil
}

// List returns running tasks grouped under their parents.
func (c *Controller) List(opts ListOptions) []TaskGroup {
	c.mu.RLock()
	tasks := make([]*Task, 0, len(c.running))
	for _, t := range c.running {
		if t.parent == nil && opts.matches(t.action) {
			tasks = append(tasks, t)
		}
	}
	c.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].id.ID < tasks[j].id.ID })
	groups := make([]TaskGroup, 0, len(tasks))
	for _, t := range tasks {
		group := TaskGroup{Task: t.Info(opts.Detailed)}
		for _, child := range t.children {
			if child.isRunning() {
				group.Children = append(group.Children, TaskGroup{Task: child.Info(opts.Detailed)})
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// FindByAction lists running tasks of one action with detailed status.
func (c *Controller) FindByAction(action string) []TaskGroup {
	return c.List(ListOptions{Actions: []string{action}, Detailed: true})
}

func (c *Controller) reapLoop() {
	defer c.reaper.Done()
	ticker := time.NewTicker(c.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.reap(time.Now())
		}
	}
}

// reap drops archived tasks older than the retention.
func (c *Controller) reap(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, a := range c.archived {
		if now.Sub(a.at) >= c.cfg.ResultRetention {
			delete(c.archived, id)
			n++
		}
	}
	if n > 0 {
		c.logger.Debug("Reaped finished tasks", "count", n)
	}
	return n
}

// Close cancels running tasks and waits for them. If ctx ends first,
// in-flight batches are aborted.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	tasks := make([]*Task, 0, len(c.running))
	for _, t := range c.running {
		tasks = append(tasks, t)
	}
	c.mu.Unlock()

	for _, t := range tasks {
		t.cancel("node shutting down")
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.cancel()
	c.reaper.Wait()
	if err != nil {
		<-done
	}
	return err
}
