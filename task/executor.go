package task

import (
	"context"
	"fmt"
	"time"
)

// invokeStep is the pure invocation boundary between the engine and a step
// function. It runs one step against its context, normalizes panics into a
// StepError, and enforces the optional per-step timeout.
//
// It performs no retries and no persistence; the engine's retry and
// checkpoint logic stays independent of how an individual step is
// implemented.
func invokeStep(ctx context.Context, step Step, sc *StepContext, timeout time.Duration) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &StepError{
				TaskID:    sc.TaskID,
				StepIndex: sc.StepIndex,
				Message:   fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	if timeout <= 0 {
		result, err = step.Run(ctx, sc)
		return normalizeStepResult(sc, result, err)
	}

	// Timeout enforcement is cooperative: the step receives a deadline
	// context and is expected to honor it. A step that ignores the context
	// runs to completion but still fails once the deadline passed.
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err = step.Run(stepCtx, sc)

	if stepCtx.Err() == context.DeadlineExceeded {
		return nil, &StepError{
			TaskID:    sc.TaskID,
			StepIndex: sc.StepIndex,
			Message:   fmt.Sprintf("exceeded timeout of %v", timeout),
			Cause:     context.DeadlineExceeded,
		}
	}
	return normalizeStepResult(sc, result, err)
}

// normalizeStepResult wraps any step failure in a StepError carrying the
// original message, so the engine's retry path sees one error shape.
func normalizeStepResult(sc *StepContext, result any, err error) (any, error) {
	if err == nil {
		return result, nil
	}
	if stepErr, ok := err.(*StepError); ok {
		return nil, stepErr
	}
	return nil, &StepError{
		TaskID:    sc.TaskID,
		StepIndex: sc.StepIndex,
		Message:   err.Error(),
		Cause:     err,
	}
}
