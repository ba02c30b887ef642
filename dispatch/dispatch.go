// Package dispatch runs batches of independent commands with bounded
// parallelism.
//
// With a parallelism of one, tasks run one after another on the calling
// goroutine. Above one, a sliding window keeps at most that many tasks in
// flight and starts the next pending task as each one completes. The first
// failure observed stops further submissions, cancels running tasks and is
// reported immediately; teardown waits a bounded time for running tasks to
// return and never blocks indefinitely.
package dispatch

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds how long teardown waits for running tasks.
const DefaultShutdownTimeout = 10 * time.Second

// Task is one independent unit of work. Tasks must not share mutable state;
// they should return promptly once ctx is cancelled.
type Task[T any] func(ctx context.Context) (T, error)

// Option configures Dispatch.
type Option func(*options)

type options struct {
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// WithLogger sets the logger for teardown diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithShutdownTimeout sets how long teardown waits for running tasks after a
// failure or cancellation. Non-positive values keep the default.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:          slog.New(slog.DiscardHandler),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Dispatch runs tasks with at most parallelism of them in flight and returns
// their results indexed like tasks.
//
// On failure the results are discarded and the error is one of:
//   - *Interrupted when ctx ended first;
//   - the task's own error when it reports an interruption: ErrInterrupted, or
//     a context error after the context handed to the task was cancelled;
//   - *TaskFailure wrapping the first failure observed in completion order.
func Dispatch[T any](ctx context.Context, tasks []Task[T], parallelism int, opts ...Option) ([]T, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	o := newOptions(opts)

	results := make([]T, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	var err error
	if parallelism == 1 {
		err = runSequential(ctx, tasks, results)
	} else {
		err = runWindow(ctx, tasks, results, parallelism, o)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

func runSequential[T any](ctx context.Context, tasks []Task[T], results []T) error {
	for i, task := range tasks {
		if ctx.Err() != nil {
			return &Interrupted{Cause: context.Cause(ctx)}
		}
		v, err := runTask(ctx, task)
		if err != nil {
			return classify(ctx, i, err, ctx.Err() != nil)
		}
		results[i] = v
	}
	return nil
}

type completion[T any] struct {
	index int
	value T
	err   error
	// cancelled records whether the task's context was done when it
	// returned, before its own error cancels the group.
	cancelled bool
}

func runWindow[T any](ctx context.Context, tasks []Task[T], results []T, parallelism int, o options) error {
	windowCtx, cancel := context.WithCancel(ctx)

	// The first task error cancels taskCtx, interrupting its siblings before
	// the failure is even observed below.
	workers, taskCtx := errgroup.WithContext(windowCtx)
	workers.SetLimit(parallelism)
	defer shutdown(cancel, workers, o)

	// Buffered for every task so that abandoned workers never block on send.
	completions := make(chan completion[T], len(tasks))

	next := 0
	submit := func() {
		index, task := next, tasks[next]
		next++
		workers.Go(func() error {
			v, err := runTask(taskCtx, task)
			completions <- completion[T]{index: index, value: v, err: err, cancelled: taskCtx.Err() != nil}
			return err
		})
	}

	for next < len(tasks) && next < parallelism {
		submit()
	}

	for done := 0; done < len(tasks); done++ {
		select {
		case <-ctx.Done():
			return &Interrupted{Cause: context.Cause(ctx)}
		case c := <-completions:
			if c.err != nil {
				return classify(ctx, c.index, c.err, c.cancelled)
			}
			results[c.index] = c.value
			if next < len(tasks) {
				submit()
			}
		}
	}
	return nil
}

// shutdown cancels running tasks and waits up to the shutdown timeout for them.
func shutdown(cancel context.CancelFunc, workers *errgroup.Group, o options) {
	cancel()

	done := make(chan struct{})
	go func() {
		_ = workers.Wait()
		close(done)
	}()

	timer := time.NewTimer(o.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		o.logger.Warn("dispatched tasks did not terminate in time; continuing without them",
			"timeout", o.shutdownTimeout)
	}
}

// runTask runs task and converts a panic into a *PanicError carrying the
// panicking goroutine's stack.
func runTask[T any](ctx context.Context, task Task[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}
