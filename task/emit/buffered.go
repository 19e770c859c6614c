package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// Events are organized by task ID for efficient retrieval and filtering.
// Useful for tests, debugging, and post-execution analysis of a task's
// lifecycle.
//
// Warning: all events stay in memory. For long-running deployments with
// high event volume, prefer LogEmitter or OTelEmitter, or call Clear
// periodically.
//
// Example:
//
//	emitter := emit.NewBufferedEmitter()
//	engine, _ := task.New(manager, emitter)
//	// ... execute tasks ...
//	retries := emitter.GetHistoryWithFilter(id, emit.HistoryFilter{Msg: "step_retry"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // taskID -> events, emission order
}

// HistoryFilter specifies criteria for filtering a task's event history.
// All fields are optional; set fields combine with AND logic.
type HistoryFilter struct {
	// Msg filters by event name (empty = no filter).
	Msg string
	// MinStep filters events with step >= MinStep (nil = no lower bound).
	MinStep *int
	// MaxStep filters events with step <= MaxStep (nil = no upper bound).
	MaxStep *int
}

// NewBufferedEmitter creates a new BufferedEmitter. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.TaskID] = append(b.events[event.TaskID], event)
}

// GetHistory retrieves all events for a task in emission order. Returns a
// copy; callers may mutate the result freely.
func (b *BufferedEmitter) GetHistory(taskID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[taskID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// GetHistoryWithFilter retrieves a task's events matching the filter.
func (b *BufferedEmitter) GetHistoryWithFilter(taskID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, ev := range b.events[taskID] {
		if filter.Msg != "" && ev.Msg != filter.Msg {
			continue
		}
		if filter.MinStep != nil && ev.Step < *filter.MinStep {
			continue
		}
		if filter.MaxStep != nil && ev.Step > *filter.MaxStep {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clear removes all buffered events for a task.
func (b *BufferedEmitter) Clear(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.events, taskID)
}

// ClearAll removes every buffered event.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = make(map[string][]Event)
}
