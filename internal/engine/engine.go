// Package engine wires the load profile, scheduler, iteration executor,
// metric registry and threshold evaluator into a single run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/clock"
	"github.com/wesleyorama2/stampede/internal/fixture"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/profile"
	"github.com/wesleyorama2/stampede/internal/rate"
	"github.com/wesleyorama2/stampede/internal/runerr"
	"github.com/wesleyorama2/stampede/internal/scheduler"
	"github.com/wesleyorama2/stampede/internal/threshold"
	"github.com/wesleyorama2/stampede/internal/vu"
)

// DefaultSetupTimeout bounds fixture loading and the setup hook.
const DefaultSetupTimeout = 60 * time.Second

// MetricDecl declares a custom metric before the run starts.
type MetricDecl struct {
	Name     string
	Kind     metrics.Kind
	Contains metrics.ValueType
}

// SetupFunc runs once before any VU starts. Its error aborts the run.
type SetupFunc func(ctx context.Context, reg *metrics.Registry) error

// Options configures an Engine.
type Options struct {
	// Name is used as the scenario tag. Defaults to "default".
	Name    string
	Profile *profile.Profile
	Task    vu.Task
	// Requests is handed to iterations through vu.Context.Request.
	Requests vu.RequestExecutor

	Scheduler  scheduler.Config
	Thresholds map[string][]threshold.Spec
	Metrics    []MetricDecl
	// MetricsConfig sets trend accuracy. Zero uses metrics.DefaultConfig.
	MetricsConfig metrics.Config

	// FixturePath is loaded once during setup. Shared is used when set.
	FixturePath string
	Shared      *fixture.Data
	Setup       SetupFunc

	SetupTimeout       time.Duration
	IterationTimeout   time.Duration
	RPS                float64
	AbortCheckInterval time.Duration

	Logger *zap.Logger
	Clock  clock.Clock
}

// Engine runs one load test. Build it with New; configuration errors are
// reported there, before anything runs.
type Engine struct {
	opts       Options
	reg        *metrics.Registry
	builtins   *metrics.BuiltinMetrics
	thresholds threshold.Thresholds
	tags       metrics.TagSet
	log        *zap.Logger
	clock      clock.Clock
	running    atomic.Bool
}

// New validates opts and prepares the registry and thresholds.
func New(opts Options) (*Engine, error) {
	if opts.Profile == nil {
		return nil, runerr.Configf("engine", "load profile is required")
	}
	if opts.Task == nil {
		return nil, runerr.Configf("engine", "iteration task is required")
	}
	if err := opts.Scheduler.Validate(); err != nil {
		return nil, err
	}
	if opts.SetupTimeout < 0 || opts.IterationTimeout < 0 {
		return nil, runerr.Configf("engine", "timeouts cannot be negative")
	}
	if opts.RPS < 0 {
		return nil, runerr.Configf("engine", "rps cannot be negative")
	}
	if opts.SetupTimeout == 0 {
		opts.SetupTimeout = DefaultSetupTimeout
	}
	if opts.Name == "" {
		opts.Name = "default"
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}

	reg := metrics.NewRegistryWithConfig(opts.MetricsConfig)
	builtins, err := metrics.RegisterBuiltins(reg)
	if err != nil {
		return nil, err
	}
	for _, d := range opts.Metrics {
		if _, err := reg.NewMetric(d.Name, d.Kind, d.Contains); err != nil {
			return nil, err
		}
	}

	ths, err := threshold.Parse(opts.Thresholds)
	if err != nil {
		return nil, err
	}
	if err := ths.Validate(reg); err != nil {
		return nil, err
	}
	for _, sel := range ths.Selectors() {
		if m := reg.Get(sel.Metric); m != nil {
			m.Track(sel.Tags)
		}
	}

	return &Engine{
		opts:       opts,
		reg:        reg,
		builtins:   builtins,
		thresholds: ths,
		tags:       metrics.Tags("scenario", opts.Name),
		log:        log.With(zap.String("scenario", opts.Name)),
		clock:      c,
	}, nil
}

// Registry returns the run's metric registry.
func (e *Engine) Registry() *metrics.Registry {
	return e.reg
}

// Thresholds returns the parsed thresholds.
func (e *Engine) Thresholds() threshold.Thresholds {
	return e.thresholds
}

// Run executes setup and the load profile, then evaluates thresholds.
//
// Setup failures return a setup error and no iteration runs. Threshold
// failures are not errors; they are reported through Result.Passed.
// Cancelling ctx drains the VUs and still produces a Result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, errors.New("engine already running")
	}
	defer e.running.Store(false)

	runID := uuid.New().String()
	log := e.log.With(zap.String("runId", runID))

	shared, err := e.setup(ctx, log)
	if err != nil {
		log.Error("setup failed", zap.Error(err))
		return nil, err
	}

	var limiter *rate.LeakyBucket
	if e.opts.RPS > 0 {
		limiter = rate.NewLeakyBucket(e.opts.RPS, e.clock)
	}

	exec, err := vu.NewExecutor(e.opts.Task, vu.Options{
		Registry: e.reg,
		Builtins: e.builtins,
		Requests: e.opts.Requests,
		Shared:   shared,
		Limiter:  limiter,
		Timeout:  e.opts.IterationTimeout,
		Tags:     e.tags,
		Logger:   log,
		Clock:    e.clock,
	})
	if err != nil {
		return nil, err
	}

	var thresholdAbort atomic.Bool
	schedOpts := []scheduler.Option{
		scheduler.WithClock(e.clock),
		scheduler.WithLogger(log),
		scheduler.WithGauges(e.builtins.VUs, e.builtins.VUsMax, metrics.TagSet{}),
	}
	if e.thresholds.HasAbort() {
		schedOpts = append(schedOpts, scheduler.WithAbortCheck(e.abortInterval(), func(elapsed time.Duration) (string, bool) {
			reason, abort := e.thresholds.Evaluate(e.reg, elapsed).ShouldAbort()
			if abort {
				thresholdAbort.Store(true)
				log.Warn("threshold crossed, aborting run", zap.String("reason", reason))
			}
			return reason, abort
		}))
	}

	sched, err := scheduler.New(e.opts.Scheduler, e.opts.Profile, exec, schedOpts...)
	if err != nil {
		return nil, err
	}

	stats, err := sched.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	verdict := e.thresholds.Evaluate(e.reg, stats.Duration)

	res := &Result{
		RunID:            runID,
		Name:             e.opts.Name,
		StartTime:        stats.StartTime,
		EndTime:          stats.EndTime,
		Duration:         stats.Duration,
		Iterations:       exec.Completed(),
		FailedIterations: exec.Failed(),
		VUsMax:           stats.MaxActiveVUs,
		StopReason:       stats.StopReason,
		Aborted:          stats.Aborted,
		AbortReason:      stats.AbortReason,
		ThresholdAbort:   thresholdAbort.Load(),
		HardStopped:      stats.HardStopped,
		Metrics:          Summarize(e.reg, stats.Duration, e.thresholds.Selectors()),
		Thresholds:       verdict,
	}
	res.Passed = verdict.Passed && !res.Aborted

	log.Info("run complete",
		zap.Int64("iterations", res.Iterations),
		zap.Int64("failedIterations", res.FailedIterations),
		zap.Bool("passed", res.Passed),
		zap.String("verdict", verdict.String()),
	)
	return res, nil
}

// setup loads the fixture and runs the setup hook under SetupTimeout.
//
// Configuration and setup errors are returned as they are. Anything else,
// including classified iteration or timeout errors returned by the hook,
// is wrapped as a setup error.
func (e *Engine) setup(ctx context.Context, log *zap.Logger) (*fixture.Data, error) {
	sctx, cancel := context.WithTimeout(ctx, e.opts.SetupTimeout)
	defer cancel()

	type outcome struct {
		shared *fixture.Data
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		shared, err := e.prepare(sctx, log)
		done <- outcome{shared: shared, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return out.shared, nil
		}
		switch runerr.KindOf(out.err) {
		case runerr.KindConfiguration, runerr.KindSetup:
			return nil, out.err
		default:
			return nil, runerr.Setup("setup", out.err)
		}
	case <-sctx.Done():
		return nil, runerr.Setup("setup", fmt.Errorf("did not finish within %s: %w", e.opts.SetupTimeout, sctx.Err()))
	}
}

func (e *Engine) prepare(ctx context.Context, log *zap.Logger) (*fixture.Data, error) {
	shared := e.opts.Shared
	if shared == nil && e.opts.FixturePath != "" {
		var err error
		if shared, err = fixture.Load(e.opts.FixturePath); err != nil {
			return nil, err
		}
		log.Info("fixture loaded",
			zap.String("path", e.opts.FixturePath),
			zap.Int("rows", shared.Len()),
			zap.Int("bytes", len(shared.Raw())),
		)
	}
	if shared == nil {
		shared = fixture.Empty()
	}

	if e.opts.Setup != nil {
		if err := e.opts.Setup(ctx, e.reg); err != nil {
			return nil, err
		}
	}
	return shared, nil
}

func (e *Engine) abortInterval() time.Duration {
	if e.opts.AbortCheckInterval > 0 {
		return e.opts.AbortCheckInterval
	}
	return scheduler.DefaultAbortCheckInterval
}
