package emit

// Event represents an observability event emitted during task execution.
//
// Events cover the durable execution lifecycle:
//   - Task created / started / completed / failed
//   - Step start, success, failure, retry
//   - Checkpoint persisted
//   - Suspend, interrupt, resume transitions
//
// Events are delivered to an Emitter which can log them, convert them to
// spans, or drop them entirely.
type Event struct {
	// TaskID identifies the task that emitted this event.
	TaskID string

	// Step is the 0-based step index the event refers to.
	// Negative for task-level events (created, completed, failed).
	Step int

	// Msg is a short machine-friendly event name, e.g. "step_success",
	// "checkpoint_saved", "task_failed".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "error": failure detail
	//   - "attempt": retry attempt number
	//   - "duration_ms": step execution duration
	//   - "checkpoint_id": checkpoint identifier
	Meta map[string]interface{}
}
