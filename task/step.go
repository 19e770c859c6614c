package task

import (
	"context"
	"fmt"
)

// Step is one unit of caller-supplied work within a task.
//
// Steps must be idempotent: the engine guarantees at-least-once execution,
// and a crash or retry re-runs the same step. A step receives a StepContext
// exposing the task's mutable state and returns a result value that is
// recorded in the state under a step-indexed key.
type Step interface {
	// Run executes the step. A non-nil error triggers the engine's retry
	// policy for this step index.
	Run(ctx context.Context, sc *StepContext) (any, error)
}

// StepContext is the execution context passed to each step.
type StepContext struct {
	// TaskID identifies the owning task.
	TaskID string

	// StepIndex is this step's 0-based position in the task.
	StepIndex int

	// TotalSteps is the number of steps in the task.
	TotalSteps int

	// State is the task's mutable state payload. Mutations are carried
	// forward across steps, checkpoints, and resumptions.
	State State

	// Engine is the executing engine, for steps that need to create or
	// inspect other tasks.
	Engine *Engine
}

// StepFunc is a function adapter that implements the Step interface.
//
// Example:
//
//	process := task.StepFunc(func(ctx context.Context, sc *task.StepContext) (any, error) {
//	    sc.State["processed"] = true
//	    return "done", nil
//	})
type StepFunc func(ctx context.Context, sc *StepContext) (any, error)

// Run implements the Step interface for StepFunc.
func (f StepFunc) Run(ctx context.Context, sc *StepContext) (any, error) {
	return f(ctx, sc)
}

// StepError represents a normalized failure from a step invocation. Panics
// and returned errors both surface as a StepError carrying the original
// message.
type StepError struct {
	TaskID    string
	StepIndex int
	Message   string
	Cause     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d of task %s: %s", e.StepIndex, e.TaskID, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *StepError) Unwrap() error {
	return e.Cause
}
