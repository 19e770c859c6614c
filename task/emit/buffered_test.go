package emit

import (
	"fmt"
	"sync"
	"testing"
)

func TestBufferedEmitter_History(t *testing.T) {
	emitter := NewBufferedEmitter()

	emitter.Emit(Event{TaskID: "t1", Step: 0, Msg: "step_success"})
	emitter.Emit(Event{TaskID: "t1", Step: 1, Msg: "step_failure"})
	emitter.Emit(Event{TaskID: "t2", Step: 0, Msg: "step_success"})

	got := emitter.GetHistory("t1")
	if len(got) != 2 {
		t.Fatalf("history length = %d, want 2", len(got))
	}
	if got[0].Msg != "step_success" || got[1].Msg != "step_failure" {
		t.Errorf("order not preserved: %v", got)
	}

	// The returned slice is a copy.
	got[0].Msg = "mutated"
	if emitter.GetHistory("t1")[0].Msg != "step_success" {
		t.Error("GetHistory exposed internal storage")
	}

	if n := len(emitter.GetHistory("unknown")); n != 0 {
		t.Errorf("unknown task history length = %d, want 0", n)
	}
}

func TestBufferedEmitter_Filter(t *testing.T) {
	emitter := NewBufferedEmitter()
	for i := 0; i < 6; i++ {
		msg := "step_success"
		if i%2 == 1 {
			msg = "step_retry"
		}
		emitter.Emit(Event{TaskID: "t1", Step: i, Msg: msg})
	}

	t.Run("by message", func(t *testing.T) {
		got := emitter.GetHistoryWithFilter("t1", HistoryFilter{Msg: "step_retry"})
		if len(got) != 3 {
			t.Errorf("filtered length = %d, want 3", len(got))
		}
	})

	t.Run("by step range", func(t *testing.T) {
		minStep, maxStep := 2, 4
		got := emitter.GetHistoryWithFilter("t1", HistoryFilter{MinStep: &minStep, MaxStep: &maxStep})
		if len(got) != 3 {
			t.Fatalf("filtered length = %d, want 3", len(got))
		}
		for _, ev := range got {
			if ev.Step < 2 || ev.Step > 4 {
				t.Errorf("event step %d outside range", ev.Step)
			}
		}
	})

	t.Run("combined", func(t *testing.T) {
		minStep := 3
		got := emitter.GetHistoryWithFilter("t1", HistoryFilter{Msg: "step_retry", MinStep: &minStep})
		if len(got) != 2 {
			t.Errorf("filtered length = %d, want 2", len(got))
		}
	})
}

func TestBufferedEmitter_Clear(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{TaskID: "t1", Msg: "a"})
	emitter.Emit(Event{TaskID: "t2", Msg: "b"})

	emitter.Clear("t1")
	if len(emitter.GetHistory("t1")) != 0 {
		t.Error("Clear left events behind")
	}
	if len(emitter.GetHistory("t2")) != 1 {
		t.Error("Clear removed another task's events")
	}

	emitter.ClearAll()
	if len(emitter.GetHistory("t2")) != 0 {
		t.Error("ClearAll left events behind")
	}
}

func TestBufferedEmitter_Concurrent(t *testing.T) {
	emitter := NewBufferedEmitter()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", g%2)
			for i := 0; i < 50; i++ {
				emitter.Emit(Event{TaskID: id, Step: i, Msg: "step_success"})
				_ = emitter.GetHistory(id)
			}
		}(g)
	}
	wg.Wait()

	total := len(emitter.GetHistory("t0")) + len(emitter.GetHistory("t1"))
	if total != 400 {
		t.Errorf("total events = %d, want 400", total)
	}
}
