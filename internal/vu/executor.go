package vu

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/clock"
	"github.com/wesleyorama2/stampede/internal/fixture"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/rate"
	"github.com/wesleyorama2/stampede/internal/runerr"
)

// Task is the body of one iteration. Returning an error marks the iteration
// failed; the VU moves on to its next iteration.
type Task interface {
	Run(it *Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(it *Context) error

// Run calls f(it).
func (f TaskFunc) Run(it *Context) error {
	return f(it)
}

// Options configures an Executor.
type Options struct {
	Registry *metrics.Registry
	// Builtins are registered on Registry when nil.
	Builtins *metrics.BuiltinMetrics
	Requests RequestExecutor
	// Shared is the read-only fixture passed to every iteration.
	Shared *fixture.Data
	// Limiter caps the request rate across all VUs. Optional.
	Limiter *rate.LeakyBucket
	// Timeout bounds a single iteration. Zero disables it.
	Timeout time.Duration
	// Tags are attached to every observation.
	Tags   metrics.TagSet
	Logger *zap.Logger
	Clock  clock.Clock
}

// Result describes a finished iteration.
type Result struct {
	Iteration       int64
	IterationInTest int64
	Duration        time.Duration
	Err             error
	// Failed is true when the body returned an error, panicked or timed out.
	Failed bool
	// Abort is true when the body asked to stop the whole run.
	Abort bool
	// Interrupted is true when the run context was cancelled mid-iteration
	// (hard stop). Interrupted iterations are not recorded.
	Interrupted bool
}

// Executor runs single iterations of a Task and records iteration metrics.
// It is shared by all VUs of a run.
type Executor struct {
	task    Task
	opts    Options
	builtin *metrics.BuiltinMetrics
	log     *zap.Logger
	clock   clock.Clock

	inTest    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewExecutor creates an Executor.
func NewExecutor(task Task, opts Options) (*Executor, error) {
	if task == nil {
		return nil, runerr.Configf("iteration executor", "task is required")
	}
	if opts.Registry == nil {
		return nil, runerr.Configf("iteration executor", "metric registry is required")
	}
	if opts.Timeout < 0 {
		return nil, runerr.Configf("iteration executor", "iteration timeout cannot be negative")
	}

	b := opts.Builtins
	if b == nil {
		var err error
		if b, err = metrics.RegisterBuiltins(opts.Registry); err != nil {
			return nil, err
		}
	}
	if opts.Shared == nil {
		opts.Shared = fixture.Empty()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}

	return &Executor{task: task, opts: opts, builtin: b, log: log, clock: c}, nil
}

// Builtins returns the built-in metric handles.
func (e *Executor) Builtins() *metrics.BuiltinMetrics {
	return e.builtin
}

// Completed returns the number of recorded iterations.
func (e *Executor) Completed() int64 {
	return e.completed.Load()
}

// Failed returns the number of recorded failed iterations.
func (e *Executor) Failed() int64 {
	return e.failed.Load()
}

// Run executes one iteration for vu. ctx is cancelled only on a hard stop;
// draining never interrupts a running iteration.
func (e *Executor) Run(ctx context.Context, v *VirtualUser) Result {
	res := Result{
		Iteration:       v.nextIteration(),
		IterationInTest: e.inTest.Add(1) - 1,
	}

	ictx := ctx
	cancel := context.CancelFunc(func() {})
	if e.opts.Timeout > 0 {
		ictx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
	}
	defer cancel()

	it := &Context{
		ctx:       ictx,
		vu:        v,
		iteration: res.Iteration,
		inTest:    res.IterationInTest,
		exec:      e,
	}

	start := e.clock.Now()
	err := e.invoke(ictx, it)
	res.Duration = e.clock.Now().Sub(start)

	switch {
	case ctx.Err() != nil:
		res.Interrupted = true
		res.Err = ctx.Err()
		return res
	case err == nil:
	case errors.Is(err, runerr.ErrAborted):
		res.Abort = true
		res.Err = err
	default:
		res.Failed = true
		res.Err = err
	}

	e.record(res)
	return res
}

// invoke runs the task, converting panics and timeouts into classified errors.
func (e *Executor) invoke(ictx context.Context, it *Context) error {
	if e.opts.Timeout <= 0 {
		return e.call(it)
	}

	done := make(chan error, 1)
	go func() { done <- e.call(it) }()

	select {
	case err := <-done:
		if err != nil && ictx.Err() == context.DeadlineExceeded {
			return runerr.Timeout("iteration", fmt.Errorf("exceeded %s: %w", e.opts.Timeout, err))
		}
		return err
	case <-ictx.Done():
		if ictx.Err() == context.DeadlineExceeded {
			// The body keeps running in the background with a cancelled
			// context; it can no longer delay this VU.
			return runerr.Timeout("iteration", fmt.Errorf("exceeded %s", e.opts.Timeout))
		}
		return ictx.Err()
	}
}

func (e *Executor) call(it *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = runerr.Iteration(fmt.Errorf("panic: %v", r))
		}
	}()

	err = e.task.Run(it)
	if err == nil {
		return nil
	}
	switch runerr.KindOf(err) {
	case runerr.KindAborted, runerr.KindTimeout, runerr.KindIteration:
		return err
	default:
		return runerr.Iteration(err)
	}
}

func (e *Executor) record(res Result) {
	tags := e.opts.Tags
	b := e.builtin

	e.completed.Add(1)
	_ = b.Iterations.Add(1, tags)
	_ = b.IterationDuration.Add(metrics.D(res.Duration), tags)

	failed := 0.0
	if res.Failed {
		failed = 1
		e.failed.Add(1)
		e.log.Debug("iteration failed",
			zap.Int64("iteration", res.IterationInTest),
			zap.Duration("duration", res.Duration),
			zap.Error(res.Err),
		)
	}
	_ = b.IterationsFailed.Add(failed, tags)
}
