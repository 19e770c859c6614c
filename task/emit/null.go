package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use when observability output is not wanted, or in tests that don't
// capture events. Safe for concurrent use, zero overhead.
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}
