package emit

// Emitter receives and processes observability events from task execution.
//
// Implementations should be:
//   - Non-blocking: never slow down the step loop
//   - Thread-safe: may be called concurrently for different tasks
//   - Resilient: failures are swallowed, never propagated into the engine
//
// Common patterns: logging (LogEmitter), tracing (OTelEmitter), or
// discarding (NullEmitter).
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	//
	// Emit must not panic. Errors should be handled internally.
	Emit(event Event)
}
