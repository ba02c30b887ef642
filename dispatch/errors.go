package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// ErrTaskFailure is matched by every *TaskFailure.
var ErrTaskFailure = errors.New("task failed")

// ErrInterrupted is matched by every *Interrupted. Tasks may also return it to
// signal that they stopped because they were asked to.
var ErrInterrupted = errors.New("dispatch interrupted")

// TaskFailure wraps the error of the first failed task observed.
type TaskFailure struct {
	// Index is the position of the failed task in the dispatched slice.
	Index int
	Cause error
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("task %d failed: %v", e.Index, e.Cause)
}

// Is lets errors.Is match ErrTaskFailure.
func (e *TaskFailure) Is(target error) bool {
	return target == ErrTaskFailure
}

// Unwrap returns the task's own error.
func (e *TaskFailure) Unwrap() error {
	return e.Cause
}

// Interrupted reports that the caller's context ended before all tasks completed.
type Interrupted struct {
	Cause error
}

func (e *Interrupted) Error() string {
	return fmt.Sprintf("%s: %v", ErrInterrupted.Error(), e.Cause)
}

// Is lets errors.Is match ErrInterrupted.
func (e *Interrupted) Is(target error) bool {
	return target == ErrInterrupted
}

// Unwrap returns the context's cancellation cause.
func (e *Interrupted) Unwrap() error {
	return e.Cause
}

// PanicError is the cause of a TaskFailure for a task that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v\n%s", e.Value, e.Stack)
}

// classify maps a task error onto the dispatch outcome. A cancelled caller
// context wins and a task reporting its own interruption is passed through
// untouched. Everything else becomes a TaskFailure, including context errors
// from deadlines the task imposed on itself. taskCancelled reports whether
// the context handed to the task was done when the task returned.
func classify(ctx context.Context, index int, err error, taskCancelled bool) error {
	if ctx.Err() != nil {
		return &Interrupted{Cause: context.Cause(ctx)}
	}
	if isInterruption(err, taskCancelled) {
		return err
	}
	return &TaskFailure{Index: index, Cause: err}
}

// isInterruption reports whether err means the task stopped because it was
// asked to: ErrInterrupted, or a context error from a cancelled task context.
func isInterruption(err error, taskCancelled bool) bool {
	if errors.Is(err, ErrInterrupted) {
		return true
	}
	return taskCancelled &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
