package task

import (
	"encoding/json"
	"fmt"
)

// State is the open key/value payload a task's steps read and mutate.
//
// Values must be JSON-serializable: state is round-tripped through JSON for
// checkpoints and durable saves, so numbers come back as float64 and nested
// maps as map[string]any.
type State map[string]any

// Clone creates a deep copy of the state using JSON round-trip
// serialization.
//
// Limitations: channels, functions, and other non-JSON values will fail;
// circular references are not supported.
func (s State) Clone() (State, error) {
	if s == nil {
		return State{}, nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied State
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if copied == nil {
		copied = State{}
	}
	return copied, nil
}

// marshalState serializes state for durable storage.
func marshalState(s State) (json.RawMessage, error) {
	if s == nil {
		s = State{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return data, nil
}

// unmarshalState deserializes a stored state payload. A nil payload yields
// an empty state.
func unmarshalState(raw json.RawMessage) (State, error) {
	if len(raw) == 0 {
		return State{}, nil
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if s == nil {
		s = State{}
	}
	return s, nil
}

// stepResultKey is the state key a step's return value is recorded under.
func stepResultKey(index int) string {
	return fmt.Sprintf("step_%d_result", index)
}

// FinalResultKey is the well-known state key a final step writes its result
// to; its value becomes the task's Result on completion.
const FinalResultKey = "final_result"

// defaultResult is recorded when no step wrote FinalResultKey.
const defaultResult = "Task completed successfully"
