// Package store provides durable persistence for tasks, checkpoints, and
// task state beneath the execution engine.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested task, checkpoint, or state record
// does not exist.
var ErrNotFound = errors.New("not found")

// TaskRecord is the persisted representation of a task's metadata.
//
// Step functions are never stored; only TotalSteps and CurrentStep survive a
// restart, and callers re-supply the concrete functions on resume.
type TaskRecord struct {
	ID          string
	Name        string
	Description string
	Status      string
	Priority    string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CurrentStep int
	TotalSteps  int
	Result      string
	Error       string
	MaxRetries  int
	RetryCount  int
}

// CheckpointRecord is an immutable durable snapshot of task progress.
//
// StepIndex is the number of steps completed when the checkpoint was taken;
// resuming from this checkpoint re-enters the loop at that index.
type CheckpointRecord struct {
	ID        string
	TaskID    string
	StepIndex int
	Snapshot  json.RawMessage
	CreatedAt time.Time
}

// StateRecord holds the latest mutable state payload for a task.
type StateRecord struct {
	TaskID    string
	State     json.RawMessage
	UpdatedAt time.Time
}

// Store provides durable persistence for task records, checkpoints, and
// state payloads.
//
// Implementations must serialize writes so concurrent engine operations
// cannot interleave partial writes to the same task. Each save call is
// atomic with respect to a single task ID; no cross-task transactions are
// required.
//
// Implementations in this package:
//   - MemStore: in-memory, for tests and short-lived processes
//   - SQLiteStore: single-file database, the default durable backend
//   - MySQLStore: shared database for multi-host deployments
type Store interface {
	// SaveTask inserts or replaces a task record.
	SaveTask(ctx context.Context, rec TaskRecord) error

	// LoadTask retrieves a task record by ID.
	// Returns ErrNotFound if the task does not exist.
	LoadTask(ctx context.Context, taskID string) (TaskRecord, error)

	// ListByStatus returns all task records whose status is in the given set.
	// Used to find resumable tasks after a restart.
	ListByStatus(ctx context.Context, statuses ...string) ([]TaskRecord, error)

	// ListCompletedBefore returns completed tasks whose completion time
	// predates the cutoff. Used by retention cleanup.
	ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]TaskRecord, error)

	// SaveCheckpoint appends an immutable checkpoint record.
	SaveCheckpoint(ctx context.Context, rec CheckpointRecord) error

	// LoadLatestCheckpoint retrieves the checkpoint with the greatest step
	// index for a task. Returns ErrNotFound if none exists.
	LoadLatestCheckpoint(ctx context.Context, taskID string) (CheckpointRecord, error)

	// SaveState inserts or replaces the latest state payload for a task.
	SaveState(ctx context.Context, taskID string, state json.RawMessage) error

	// LoadState retrieves the latest state payload for a task.
	// Returns ErrNotFound if no state has been saved.
	LoadState(ctx context.Context, taskID string) (StateRecord, error)

	// DeleteTask removes a task record along with its checkpoints and state.
	DeleteTask(ctx context.Context, taskID string) error

	// Close releases the store's resources. Operations after Close fail.
	Close() error
}
