package task

import (
	"testing"
)

func TestStateClone(t *testing.T) {
	t.Run("deep copy is independent", func(t *testing.T) {
		original := State{
			"count":  3,
			"nested": map[string]any{"inner": "value"},
			"list":   []any{"a", "b"},
		}

		copied, err := original.Clone()
		if err != nil {
			t.Fatalf("Clone failed: %v", err)
		}

		copied["count"] = 99
		copied["nested"].(map[string]any)["inner"] = "mutated"

		if original["count"] != 3 {
			t.Errorf("original count = %v, want 3", original["count"])
		}
		if original["nested"].(map[string]any)["inner"] != "value" {
			t.Error("nested map shared between original and clone")
		}
	})

	t.Run("numbers come back as float64", func(t *testing.T) {
		s := State{"n": 7}
		copied, err := s.Clone()
		if err != nil {
			t.Fatalf("Clone failed: %v", err)
		}
		if _, ok := copied["n"].(float64); !ok {
			t.Errorf("n = %T, want float64 after JSON round trip", copied["n"])
		}
	})

	t.Run("nil state clones to empty", func(t *testing.T) {
		var s State
		copied, err := s.Clone()
		if err != nil {
			t.Fatalf("Clone failed: %v", err)
		}
		if copied == nil || len(copied) != 0 {
			t.Errorf("clone of nil = %v, want empty state", copied)
		}
	})

	t.Run("unserializable value fails", func(t *testing.T) {
		s := State{"ch": make(chan int)}
		if _, err := s.Clone(); err == nil {
			t.Fatal("expected error for channel value")
		}
	})
}

func TestStepResultKey(t *testing.T) {
	if got := stepResultKey(0); got != "step_0_result" {
		t.Errorf("stepResultKey(0) = %q", got)
	}
	if got := stepResultKey(12); got != "step_12_result" {
		t.Errorf("stepResultKey(12) = %q", got)
	}
}

func TestStateMarshalRoundTrip(t *testing.T) {
	s := State{"step_0_result": "ok", "flag": true}
	raw, err := marshalState(s)
	if err != nil {
		t.Fatalf("marshalState failed: %v", err)
	}
	back, err := unmarshalState(raw)
	if err != nil {
		t.Fatalf("unmarshalState failed: %v", err)
	}
	if back["step_0_result"] != "ok" || back["flag"] != true {
		t.Errorf("round trip = %v", back)
	}

	empty, err := unmarshalState(nil)
	if err != nil || empty == nil {
		t.Errorf("unmarshalState(nil) = (%v, %v), want empty state", empty, err)
	}
}
