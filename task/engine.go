package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cmdahl/taskvault/task/emit"
	"github.com/cmdahl/taskvault/task/store"
)

// Engine orchestrates durable task execution.
//
// The Engine is the core runtime that:
//   - Creates tasks from caller-supplied step lists
//   - Drives steps strictly sequentially, persisting a checkpoint every
//     K completed steps
//   - Retries a failing step up to its bound, then fails the task
//   - Observes suspend requests and context cancellation between steps,
//     taking a final checkpoint before stopping
//   - Resumes suspended or interrupted tasks from their latest checkpoint
//   - Cleans up completed tasks past a retention age
//
// Execute is a blocking call per task; callers choose their own
// concurrency (one goroutine per in-flight task). Two concurrent Execute
// calls for the same task ID are rejected with ErrAlreadyRunning.
//
// Example:
//
//	st, _ := store.NewSQLiteStore("./tasks.db")
//	mgr, _ := store.NewManager(st, "./snapshots")
//	engine, _ := task.New(mgr, emit.NewLogEmitter(os.Stdout, false),
//	    task.WithCheckpointInterval(5),
//	)
//	defer engine.Close()
//
//	id, _ := engine.CreateTask(ctx, "report", steps, "nightly report", task.PriorityNormal)
//	ok, err := engine.Execute(ctx, id)
type Engine struct {
	mu       sync.Mutex
	active   map[string]*runHandle
	registry *registry
	manager  *store.Manager
	emitter  emit.Emitter
	metrics  *Metrics
	opts     Options
}

// runHandle tracks a live Execute loop for cooperative suspension.
type runHandle struct {
	suspend atomic.Bool
	done    chan struct{}
}

// New creates a new Engine over the given persistence manager.
//
// The emitter may be nil, in which case events are discarded. Options
// configure checkpoint cadence, retry bound, step timeout, backoff, and
// metrics.
func New(manager *store.Manager, emitter emit.Emitter, options ...Option) (*Engine, error) {
	if manager == nil {
		return nil, &EngineError{Message: "persistence manager is required", Code: "MISSING_MANAGER"}
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	cfg := engineConfig{opts: Options{}.withDefaults()}
	for _, opt := range options {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return &Engine{
		active:   make(map[string]*runHandle),
		registry: newRegistry(),
		manager:  manager,
		emitter:  emitter,
		metrics:  cfg.metrics,
		opts:     cfg.opts,
	}, nil
}

// Close releases the engine's persistence resources. Tasks still executing
// are not stopped; cancel their contexts first.
func (e *Engine) Close() error {
	return e.manager.Close()
}

// CreateTask allocates an ID, constructs a pending task, and persists it.
//
// The step list is held in memory only; storage records the step count.
// Priority is advisory and defaults to PriorityNormal when empty.
func (e *Engine) CreateTask(ctx context.Context, name string, steps []Step, description string, priority Priority) (string, error) {
	if name == "" {
		return "", &EngineError{Message: "task name cannot be empty", Code: "INVALID_TASK"}
	}
	if len(steps) == 0 {
		return "", &EngineError{Message: "task requires at least one step", Code: "INVALID_TASK"}
	}
	if priority == "" {
		priority = PriorityNormal
	}

	t := &Task{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Steps:       steps,
		Status:      StatusPending,
		Priority:    priority,
		CreatedAt:   time.Now(),
		State:       State{},
		MaxRetries:  e.opts.MaxRetries,
	}

	if err := e.persistTask(ctx, t); err != nil {
		return "", err
	}
	e.registry.put(t)

	e.emitEvent(t.ID, -1, "task_created", map[string]interface{}{"name": name})
	return t.ID, nil
}

// Rebind re-attaches step functions to a task loaded from the store.
//
// Step functions are not serializable; after a process restart the caller
// must supply the same ordered step list before Execute or Resume. The
// list length must match the persisted step count.
func (e *Engine) Rebind(ctx context.Context, taskID string, steps []Step) error {
	t, err := e.lookup(ctx, taskID)
	if err != nil {
		return err
	}
	if total := t.TotalSteps(); total != len(steps) {
		return &EngineError{
			Message: fmt.Sprintf("expected %d steps, got %d", total, len(steps)),
			Code:    "STEP_COUNT_MISMATCH",
		}
	}
	t.Steps = steps
	return nil
}

// Execute drives a task's step loop to a terminal or paused state.
//
// Behavior:
//   - Completed task: returns (true, nil) without re-running any step
//   - Failed task: returns (false, error) with the stored error
//   - Pending task: transitions to in_progress and runs from CurrentStep
//   - Suspended/interrupted task: rejected; use Resume
//
// The loop persists a checkpoint every CheckpointInterval completed steps
// and never advances past a step whose checkpoint failed to persist. On
// context cancellation it takes a best-effort checkpoint, marks the task
// interrupted, and returns the context error.
func (e *Engine) Execute(ctx context.Context, taskID string) (bool, error) {
	t, err := e.lookup(ctx, taskID)
	if err != nil {
		return false, err
	}

	switch status := t.currentStatus(); status {
	case StatusCompleted:
		return true, nil
	case StatusFailed:
		return false, &EngineError{Message: t.view().Error, Code: "TASK_FAILED"}
	case StatusSuspended, StatusInterrupted:
		return false, fmt.Errorf("%w: %s task requires Resume", ErrNotResumable, status)
	}

	if len(t.Steps) == 0 && t.TotalSteps() > 0 {
		return false, ErrStepsRequired
	}

	h := &runHandle{done: make(chan struct{})}
	e.mu.Lock()
	if _, running := e.active[taskID]; running {
		e.mu.Unlock()
		return false, ErrAlreadyRunning
	}
	e.active[taskID] = h
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.active, taskID)
		e.mu.Unlock()
		close(h.done)
		e.metrics.taskStopped()
	}()
	e.metrics.taskStarted()

	if t.currentStatus() == StatusPending {
		now := time.Now()
		t.setProgress(func() {
			t.Status = StatusInProgress
			t.StartedAt = &now
		})
		if err := e.persistTask(ctx, t); err != nil {
			t.setProgress(func() {
				t.Status = StatusPending
				t.StartedAt = nil
			})
			return false, err
		}
		e.emitEvent(t.ID, t.CurrentStep, "task_started", nil)
	}

	return e.runLoop(ctx, t, h)
}

// runLoop executes steps from CurrentStep until completion, failure,
// suspension, or interruption.
func (e *Engine) runLoop(ctx context.Context, t *Task, h *runHandle) (bool, error) {
	interval := e.opts.CheckpointInterval

	for t.CurrentStep < len(t.Steps) {
		if h.suspend.Load() {
			return false, e.finishSuspended(ctx, t)
		}
		select {
		case <-ctx.Done():
			return false, e.finishInterrupted(t, ctx.Err())
		default:
		}

		idx := t.CurrentStep
		sc := &StepContext{
			TaskID:     t.ID,
			StepIndex:  idx,
			TotalSteps: len(t.Steps),
			State:      t.State,
			Engine:     e,
		}

		start := time.Now()
		result, err := invokeStep(ctx, t.Steps[idx], sc, e.opts.StepTimeout)
		e.metrics.observeStep(err, time.Since(start))

		if err != nil {
			t.setProgress(func() { t.Error = err.Error() })
			e.emitEvent(t.ID, idx, "step_failure", map[string]interface{}{
				"error":   err.Error(),
				"attempt": t.RetryCount,
			})

			if t.RetryCount < t.MaxRetries {
				t.setProgress(func() { t.RetryCount++ })
				e.metrics.retryAttempted()
				e.emitEvent(t.ID, idx, "step_retry", map[string]interface{}{"attempt": t.RetryCount})
				if e.opts.Backoff != nil {
					delay := computeBackoff(t.RetryCount-1, e.opts.Backoff.BaseDelay, e.opts.Backoff.MaxDelay, nil)
					if werr := sleepContext(ctx, delay); werr != nil {
						return false, e.finishInterrupted(t, werr)
					}
				}
				continue
			}
			return false, e.finishFailed(ctx, t, err)
		}

		t.State[stepResultKey(idx)] = result
		t.setProgress(func() {
			t.RetryCount = 0
			t.Error = ""
		})
		e.emitEvent(t.ID, idx, "step_success", nil)

		next := idx + 1
		if next%interval == 0 {
			// Persist durability before committing the advance: CurrentStep
			// must never run ahead of a checkpoint that failed to write.
			if err := e.saveCheckpoint(ctx, t, next); err != nil {
				return false, err
			}
			t.setProgress(func() {
				t.CurrentStep = next
				t.Status = StatusCheckpointed
			})
			if err := e.persistTask(ctx, t); err != nil {
				return false, err
			}
		} else {
			t.setProgress(func() { t.CurrentStep = next })
		}
	}

	if err := e.finishCompleted(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

// Resume restores a suspended or interrupted task from its latest
// checkpoint and re-enters the step loop.
//
// When no checkpoint exists the task restarts from step 0; progress made
// before the first checkpoint boundary is discarded. Returns
// ErrNotResumable for tasks in any other state and ErrStepsRequired when
// the step functions have not been re-attached after a restart.
func (e *Engine) Resume(ctx context.Context, taskID string) (bool, error) {
	t, err := e.lookup(ctx, taskID)
	if err != nil {
		return false, err
	}

	if status := t.currentStatus(); status != StatusSuspended && status != StatusInterrupted {
		return false, fmt.Errorf("%w: status is %s", ErrNotResumable, status)
	}
	if len(t.Steps) == 0 && t.TotalSteps() > 0 {
		return false, ErrStepsRequired
	}

	cp, err := e.manager.LoadLatestCheckpoint(ctx, taskID)
	switch {
	case err == nil:
		restored, uerr := unmarshalState(cp.Snapshot)
		if uerr != nil {
			return false, uerr
		}
		t.setProgress(func() { t.CurrentStep = cp.StepIndex })
		t.State = restored
		e.emitEvent(t.ID, cp.StepIndex, "checkpoint_restored", map[string]interface{}{"checkpoint_id": cp.ID})
	case errors.Is(err, store.ErrNotFound):
		// No durable progress; restart from the beginning.
		t.setProgress(func() { t.CurrentStep = 0 })
		e.emitEvent(t.ID, 0, "restarted_from_beginning", nil)
	default:
		return false, err
	}

	t.setProgress(func() { t.Status = StatusInProgress })
	if err := e.persistTask(ctx, t); err != nil {
		return false, err
	}
	e.emitEvent(t.ID, t.CurrentStep, "task_resumed", nil)

	return e.Execute(ctx, taskID)
}

// Suspend requests cooperative suspension of an in-progress task.
//
// When the task's step loop is live in this process, Suspend signals it
// and blocks until the loop checkpoints and persists the suspended state;
// the loop is never interrupted mid-step. When the task is marked
// in_progress but has no live loop (a crash leftover), Suspend checkpoints
// and persists directly. Returns ErrNotSuspendable for tasks in any other
// state.
func (e *Engine) Suspend(ctx context.Context, taskID string) error {
	t, err := e.lookup(ctx, taskID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	h, running := e.active[taskID]
	e.mu.Unlock()

	if running {
		h.suspend.Store(true)
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if status := t.currentStatus(); status != StatusSuspended {
			return fmt.Errorf("%w: task reached %s before suspend took effect", ErrNotSuspendable, status)
		}
		return nil
	}

	if status := t.currentStatus(); status != StatusInProgress {
		return fmt.Errorf("%w: status is %s", ErrNotSuspendable, status)
	}

	if err := e.checkpointCurrent(ctx, t); err != nil {
		return err
	}
	t.setProgress(func() { t.Status = StatusSuspended })
	if err := e.persistTask(ctx, t); err != nil {
		return err
	}
	e.emitEvent(t.ID, t.CurrentStep, "task_suspended", nil)
	e.metrics.taskOutcome("suspended")
	return nil
}

// Status returns a read-only projection of a task.
//
// The view reflects the last durably-recorded state; while a task is
// executing, CurrentStep lags in-memory progress by up to the checkpoint
// interval. Returns ErrTaskNotFound for unknown task IDs.
func (e *Engine) Status(ctx context.Context, taskID string) (StatusView, error) {
	rec, _, err := e.manager.LoadTask(ctx, taskID)
	if err == nil {
		v := taskFromRecord(rec, nil).view()
		return v, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return StatusView{}, err
	}
	if t, ok := e.registry.get(taskID); ok {
		return t.view(), nil
	}
	return StatusView{}, ErrTaskNotFound
}

// ListActive returns views of the tasks whose step loops are live in this
// process.
func (e *Engine) ListActive() []StatusView {
	e.mu.Lock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	views := make([]StatusView, 0, len(ids))
	for _, id := range ids {
		if t, ok := e.registry.get(id); ok {
			views = append(views, t.view())
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].TaskID < views[j].TaskID })
	return views
}

// RunPending executes every pending task known to this process, in
// creation order, one at a time. Failures are recorded on the tasks and do
// not stop the sweep. Returns the number of tasks that completed.
func (e *Engine) RunPending(ctx context.Context) (int, error) {
	var pending []*Task
	for _, t := range e.registry.all() {
		if t.currentStatus() == StatusPending {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	completed := 0
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		ok, _ := e.Execute(ctx, t.ID)
		if ok {
			completed++
		}
	}
	return completed, nil
}

// ResumableTaskIDs enumerates tasks with incomplete work, for restart-time
// recovery sweeps. See store.Manager.ResumableTaskIDs.
func (e *Engine) ResumableTaskIDs(ctx context.Context) ([]string, error) {
	return e.manager.ResumableTaskIDs(ctx)
}

// CleanupCompleted deletes completed tasks (and their checkpoints, state,
// and snapshots) whose completion time predates now minus olderThan.
// Returns the count removed. Failed and active tasks are never removed.
func (e *Engine) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	removed, err := e.manager.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return removed, err
	}

	for _, t := range e.registry.all() {
		v := t.view()
		if v.Status == StatusCompleted && v.CompletedAt != nil && v.CompletedAt.Before(cutoff) {
			e.registry.remove(t.ID)
		}
	}
	return removed, nil
}

// lookup finds a task in the registry, falling back to the durable store.
// Tasks loaded from the store have no step functions until Rebind.
func (e *Engine) lookup(ctx context.Context, taskID string) (*Task, error) {
	if t, ok := e.registry.get(taskID); ok {
		return t, nil
	}

	rec, stateRaw, err := e.manager.LoadTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	state, err := unmarshalState(stateRaw)
	if err != nil {
		return nil, err
	}
	t := taskFromRecord(rec, state)
	e.registry.put(t)
	return t, nil
}

// persistTask saves the task record and its state payload through the
// persistence manager.
func (e *Engine) persistTask(ctx context.Context, t *Task) error {
	data, err := marshalState(t.State)
	if err != nil {
		return err
	}
	if err := e.manager.SaveTask(ctx, t.record(), data); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", t.ID, err)
	}
	return nil
}

// saveCheckpoint persists an immutable snapshot of the task's state at the
// given step index and appends it to the in-memory checkpoint list.
func (e *Engine) saveCheckpoint(ctx context.Context, t *Task, stepIndex int) error {
	data, err := marshalState(t.State)
	if err != nil {
		return err
	}
	rec, err := e.manager.SaveCheckpoint(ctx, t.ID, stepIndex, data)
	if err != nil {
		return fmt.Errorf("failed to persist checkpoint for task %s: %w", t.ID, err)
	}

	snap, err := unmarshalState(data)
	if err != nil {
		return err
	}
	t.Checkpoints = append(t.Checkpoints, Checkpoint{
		ID:        rec.ID,
		TaskID:    t.ID,
		StepIndex: stepIndex,
		Snapshot:  snap,
		CreatedAt: rec.CreatedAt,
	})

	e.metrics.checkpointSaved()
	e.emitEvent(t.ID, stepIndex, "checkpoint_saved", map[string]interface{}{"checkpoint_id": rec.ID})
	return nil
}

// checkpointCurrent writes a checkpoint at the task's current step unless
// one at that index (or beyond) is already durable, keeping persisted step
// indexes strictly increasing.
func (e *Engine) checkpointCurrent(ctx context.Context, t *Task) error {
	if n := len(t.Checkpoints); n > 0 && t.Checkpoints[n-1].StepIndex >= t.CurrentStep {
		return nil
	}
	cp, err := e.manager.LoadLatestCheckpoint(ctx, t.ID)
	if err == nil && cp.StepIndex >= t.CurrentStep {
		return nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return e.saveCheckpoint(ctx, t, t.CurrentStep)
}

// finishCompleted records the terminal completed state.
func (e *Engine) finishCompleted(ctx context.Context, t *Task) error {
	now := time.Now()
	result := finalResult(t.State)
	t.setProgress(func() {
		t.Status = StatusCompleted
		t.CompletedAt = &now
		t.Result = result
	})

	if err := e.persistTask(ctx, t); err != nil {
		return err
	}
	e.emitEvent(t.ID, len(t.Steps), "task_completed", map[string]interface{}{"result": result})
	e.metrics.taskOutcome("completed")
	return nil
}

// finishFailed records the terminal failed state after retry exhaustion
// and returns the step error. A persistence failure takes precedence so
// false durability is never reported.
func (e *Engine) finishFailed(ctx context.Context, t *Task, stepErr error) error {
	t.setProgress(func() { t.Status = StatusFailed })
	if err := e.persistTask(ctx, t); err != nil {
		return err
	}
	e.emitEvent(t.ID, t.CurrentStep, "task_failed", map[string]interface{}{"error": t.Error})
	e.metrics.taskOutcome("failed")
	return stepErr
}

// finishSuspended services a cooperative suspend request observed between
// steps: checkpoint, mark suspended, persist. Returns ErrSuspended on
// success so Execute's caller can distinguish suspension from failure.
func (e *Engine) finishSuspended(ctx context.Context, t *Task) error {
	if err := e.checkpointCurrent(ctx, t); err != nil {
		return err
	}
	t.setProgress(func() { t.Status = StatusSuspended })
	if err := e.persistTask(ctx, t); err != nil {
		return err
	}
	e.emitEvent(t.ID, t.CurrentStep, "task_suspended", nil)
	e.metrics.taskOutcome("suspended")
	return ErrSuspended
}

// finishInterrupted handles context cancellation: best-effort checkpoint,
// then mark interrupted. If the checkpoint write fails the task is left
// in_progress so the next load treats it as a crash and recovers from the
// last successful checkpoint.
//
// Persistence here uses a background context; the caller's context is
// already canceled.
func (e *Engine) finishInterrupted(t *Task, cause error) error {
	ctx := context.Background()

	if err := e.checkpointCurrent(ctx, t); err != nil {
		e.emitEvent(t.ID, t.CurrentStep, "interrupt_checkpoint_failed", map[string]interface{}{"error": err.Error()})
		return cause
	}
	t.setProgress(func() { t.Status = StatusInterrupted })
	if err := e.persistTask(ctx, t); err != nil {
		e.emitEvent(t.ID, t.CurrentStep, "interrupt_persist_failed", map[string]interface{}{"error": err.Error()})
		return cause
	}
	e.emitEvent(t.ID, t.CurrentStep, "task_interrupted", nil)
	e.metrics.taskOutcome("interrupted")
	return cause
}

// finalResult derives the task result from the well-known final_result
// state key, or a default message when absent.
func finalResult(state State) string {
	if v, ok := state[FinalResultKey]; ok {
		if s, isStr := v.(string); isStr {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return defaultResult
}

func (e *Engine) emitEvent(taskID string, step int, msg string, meta map[string]interface{}) {
	e.emitter.Emit(emit.Event{
		TaskID: taskID,
		Step:   step,
		Msg:    msg,
		Meta:   meta,
	})
}

// sleepContext waits for d or until the context is canceled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
