package task

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func testStepContext() *StepContext {
	return &StepContext{
		TaskID:     "task-1",
		StepIndex:  2,
		TotalSteps: 5,
		State:      State{},
	}
}

func TestInvokeStep(t *testing.T) {
	ctx := context.Background()

	t.Run("successful step", func(t *testing.T) {
		step := StepFunc(func(ctx context.Context, sc *StepContext) (any, error) {
			return "done", nil
		})
		result, err := invokeStep(ctx, step, testStepContext(), 0)
		if err != nil {
			t.Fatalf("invokeStep failed: %v", err)
		}
		if result != "done" {
			t.Errorf("result = %v, want done", result)
		}
	})

	t.Run("error wrapped as StepError", func(t *testing.T) {
		cause := errors.New("backend unreachable")
		step := StepFunc(func(ctx context.Context, sc *StepContext) (any, error) {
			return nil, cause
		})
		_, err := invokeStep(ctx, step, testStepContext(), 0)

		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			t.Fatalf("err = %T, want *StepError", err)
		}
		if stepErr.TaskID != "task-1" || stepErr.StepIndex != 2 {
			t.Errorf("StepError identity = %s/%d", stepErr.TaskID, stepErr.StepIndex)
		}
		if !errors.Is(err, cause) {
			t.Error("cause not reachable through Unwrap")
		}
	})

	t.Run("existing StepError passes through", func(t *testing.T) {
		orig := &StepError{TaskID: "task-1", StepIndex: 2, Message: "already wrapped"}
		step := StepFunc(func(ctx context.Context, sc *StepContext) (any, error) {
			return nil, orig
		})
		_, err := invokeStep(ctx, step, testStepContext(), 0)
		if err != orig {
			t.Errorf("err = %v, want original StepError unchanged", err)
		}
	})

	t.Run("panic recovered", func(t *testing.T) {
		step := StepFunc(func(ctx context.Context, sc *StepContext) (any, error) {
			panic("boom")
		})
		result, err := invokeStep(ctx, step, testStepContext(), 0)
		if result != nil {
			t.Errorf("result = %v, want nil after panic", result)
		}
		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			t.Fatalf("err = %T, want *StepError", err)
		}
		if !strings.Contains(stepErr.Message, "panic: boom") {
			t.Errorf("message = %q, want panic text", stepErr.Message)
		}
	})

	t.Run("timeout on context-aware step", func(t *testing.T) {
		step := StepFunc(func(ctx context.Context, sc *StepContext) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "finished", nil
			}
		})
		_, err := invokeStep(ctx, step, testStepContext(), 20*time.Millisecond)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want DeadlineExceeded through StepError", err)
		}
	})

	t.Run("timeout flags step that ignores context", func(t *testing.T) {
		step := StepFunc(func(ctx context.Context, sc *StepContext) (any, error) {
			time.Sleep(50 * time.Millisecond)
			return "finished anyway", nil
		})
		result, err := invokeStep(ctx, step, testStepContext(), 10*time.Millisecond)
		if err == nil {
			t.Fatal("expected timeout error for overrunning step")
		}
		if result != nil {
			t.Errorf("result = %v, want nil on timeout", result)
		}
	})

	t.Run("fast step under timeout succeeds", func(t *testing.T) {
		step := StepFunc(func(ctx context.Context, sc *StepContext) (any, error) {
			return 42, nil
		})
		result, err := invokeStep(ctx, step, testStepContext(), time.Second)
		if err != nil || result != 42 {
			t.Errorf("invokeStep = (%v, %v), want (42, nil)", result, err)
		}
	})
}

func TestStepErrorFormat(t *testing.T) {
	err := &StepError{TaskID: "abc", StepIndex: 3, Message: "broke"}
	want := "step 3 of task abc: broke"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
