// Package task provides a durable task execution engine: named tasks run as
// ordered step sequences with periodic checkpointing, bounded retry, and
// suspend/interrupt/resume recovery backed by a persistent store.
package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/cmdahl/taskvault/task/store"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending marks a task that was created but not yet executed.
	StatusPending Status = "pending"
	// StatusInProgress marks a task whose step loop is running.
	StatusInProgress Status = "in_progress"
	// StatusCheckpointed is a transient marker set each time a checkpoint
	// is flushed. The loop keeps driving; it exists for observability only.
	StatusCheckpointed Status = "checkpointed"
	// StatusSuspended marks a task paused by an explicit suspend request.
	StatusSuspended Status = "suspended"
	// StatusCompleted marks a task that finished all steps.
	StatusCompleted Status = "completed"
	// StatusFailed marks a task whose step exhausted its retry bound.
	StatusFailed Status = "failed"
	// StatusInterrupted marks a task stopped by process termination.
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether the status is a final outcome.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Resumable reports whether the status indicates incomplete work that can
// be continued.
func (s Status) Resumable() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCheckpointed, StatusSuspended, StatusInterrupted:
		return true
	}
	return false
}

// Priority is advisory ordering metadata for external callers. The engine
// itself runs a started task to completion regardless of priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Task is a named, ordered sequence of steps executed with durable progress
// tracking.
//
// Steps are first-class function values and are never serialized; only
// their count and the current index survive a restart. Callers re-attach
// the concrete functions via Engine.Rebind before resuming.
//
// A task has a single writer at a time: its step loop, or the engine
// operation acting on it while no loop is live. Progress fields are guarded
// by mu so Status and ListActive can read them while the loop runs.
type Task struct {
	// mu guards the progress fields below (Status, CurrentStep, the
	// timestamps, Result, Error, RetryCount) against concurrent view
	// reads. State, Steps, and Checkpoints stay loop-owned.
	mu sync.RWMutex

	ID          string
	Name        string
	Description string
	Steps       []Step
	Status      Status
	Priority    Priority
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// CurrentStep is the 0-based index of the next step to execute.
	// Invariant: 0 <= CurrentStep <= len(Steps).
	CurrentStep int

	// State is the open key/value payload mutated by step functions and
	// carried across checkpoints and resumptions.
	State State

	// Checkpoints holds the checkpoint records appended during this
	// process's lifetime, newest last.
	Checkpoints []Checkpoint

	Result     string
	Error      string
	MaxRetries int
	RetryCount int

	// totalSteps preserves the persisted step count for tasks loaded from
	// the store before their functions are re-attached.
	totalSteps int
}

// TotalSteps returns the number of steps in the task, falling back to the
// persisted count when the functions have not been re-attached yet.
func (t *Task) TotalSteps() int {
	if len(t.Steps) > 0 {
		return len(t.Steps)
	}
	return t.totalSteps
}

// Checkpoint is an immutable snapshot of task progress at a step boundary.
//
// StepIndex is the number of steps completed when the snapshot was taken;
// resuming restores CurrentStep to this value.
type Checkpoint struct {
	ID        string
	TaskID    string
	StepIndex int
	Snapshot  State
	CreatedAt time.Time
}

// StatusView is the read-only projection returned by Status and ListActive.
type StatusView struct {
	TaskID      string
	Name        string
	Status      Status
	Priority    Priority
	CurrentStep int
	TotalSteps  int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

// Progress renders the view's step progress as "current/total".
func (v StatusView) Progress() string {
	return fmt.Sprintf("%d/%d", v.CurrentStep, v.TotalSteps)
}

// currentStatus reads the task's status under the progress lock.
func (t *Task) currentStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// setProgress runs a mutation of the progress fields under the lock. The
// caller must not persist or take other locks inside fn.
func (t *Task) setProgress(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn()
}

// record converts the task to its persisted representation.
func (t *Task) record() store.TaskRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return store.TaskRecord{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		CurrentStep: t.CurrentStep,
		TotalSteps:  t.TotalSteps(),
		Result:      t.Result,
		Error:       t.Error,
		MaxRetries:  t.MaxRetries,
		RetryCount:  t.RetryCount,
	}
}

// taskFromRecord rebuilds a Task from its persisted representation. The
// step functions cannot be reconstructed from storage and stay nil until
// Rebind attaches them.
func taskFromRecord(rec store.TaskRecord, state State) *Task {
	if state == nil {
		state = State{}
	}
	return &Task{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		Status:      Status(rec.Status),
		Priority:    Priority(rec.Priority),
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		CurrentStep: rec.CurrentStep,
		State:       state,
		Result:      rec.Result,
		Error:       rec.Error,
		MaxRetries:  rec.MaxRetries,
		RetryCount:  rec.RetryCount,
		totalSteps:  rec.TotalSteps,
	}
}

func (t *Task) view() StatusView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return StatusView{
		TaskID:      t.ID,
		Name:        t.Name,
		Status:      t.Status,
		Priority:    t.Priority,
		CurrentStep: t.CurrentStep,
		TotalSteps:  t.TotalSteps(),
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Error:       t.Error,
	}
}
