package task

import "errors"

// ErrTaskNotFound indicates the task ID is unknown to both the registry and
// the durable store. Distinct from step and store errors so callers can
// tell "never existed" apart from "failed".
var ErrTaskNotFound = errors.New("task not found")

// ErrNotResumable indicates Resume was called on a task that is not
// suspended or interrupted. The task is left unmodified.
var ErrNotResumable = errors.New("task is not in a resumable state")

// ErrNotSuspendable indicates Suspend was called on a task that is not in
// progress. The task is left unmodified.
var ErrNotSuspendable = errors.New("task is not in progress")

// ErrStepsRequired indicates a task loaded from the store needs its step
// functions re-attached (via Rebind) before it can execute. Step functions
// are not serializable and never survive a restart.
var ErrStepsRequired = errors.New("step functions must be re-supplied before execution")

// ErrAlreadyRunning indicates a second Execute was attempted for a task
// whose step loop is live. The engine assumes single-writer-per-task.
var ErrAlreadyRunning = errors.New("task is already executing")

// ErrSuspended is returned by Execute when the step loop exits because a
// suspend request was observed between steps.
var ErrSuspended = errors.New("task suspended")

// ErrInvalidBackoff indicates a retry backoff configuration that violates
// its constraints.
var ErrInvalidBackoff = errors.New("invalid retry backoff configuration")

// EngineError represents a structured error from Engine operations.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
