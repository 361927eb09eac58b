// Package scheduler drives VU workers according to a load profile.
//
// A single tick loop compares the profile's target with the number of
// running VUs. It starts new VUs when below target and drains the most
// recently started ones when above. A draining VU finishes the iteration in
// flight before exiting; iterations are never cut short by a target change.
//
// When the run ends (profile complete, a cap reached, parent context
// cancelled or an abort requested) every VU is drained. If draining takes
// longer than GracefulStop the run is hard stopped: iteration contexts are
// cancelled and the remaining workers are abandoned without waiting for
// them. A hard stop is the only case in which an in-flight iteration may be
// cut short; it is reported through Stats.HardStopped.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/clock"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/profile"
	"github.com/wesleyorama2/stampede/internal/runerr"
	"github.com/wesleyorama2/stampede/internal/vu"
)

// Defaults applied by New when a Config field is zero.
const (
	DefaultTickInterval       = 50 * time.Millisecond
	DefaultGracefulStop       = 30 * time.Second
	DefaultAbortCheckInterval = 2 * time.Second
)

// Stop reasons reported in Stats.StopReason.
const (
	StopProfileComplete = "profile complete"
	StopDurationCap     = "duration cap reached"
	StopIterationCap    = "iteration cap reached"
	StopCancelled       = "context cancelled"
	StopAborted         = "aborted"
)

// Config controls the tick loop and termination caps.
type Config struct {
	// TickInterval is how often the target is re-evaluated.
	TickInterval time.Duration
	// MaxIterations caps the number of iterations started across all VUs.
	// Zero means unlimited.
	MaxIterations int64
	// MaxDuration caps the run time regardless of the profile. Zero means
	// the profile decides.
	MaxDuration time.Duration
	// GracefulStop bounds how long draining may take before a hard stop.
	GracefulStop time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TickInterval < 0 {
		return runerr.Configf("scheduler", "tick interval cannot be negative")
	}
	if c.MaxIterations < 0 {
		return runerr.Configf("scheduler", "iterations cannot be negative")
	}
	if c.MaxDuration < 0 {
		return runerr.Configf("scheduler", "duration cannot be negative")
	}
	if c.GracefulStop < 0 {
		return runerr.Configf("scheduler", "gracefulStop cannot be negative")
	}
	return nil
}

// Runner executes one iteration for a VU. *vu.Executor implements it.
type Runner interface {
	Run(ctx context.Context, v *vu.VirtualUser) vu.Result
}

// AbortCheck is polled during the run. Returning abort=true stops the run.
type AbortCheck func(elapsed time.Duration) (reason string, abort bool)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithGauges reports the live VU count into vus and the profile maximum
// into vusMax. Either may be nil.
func WithGauges(vus, vusMax *metrics.Metric, tags metrics.TagSet) Option {
	return func(s *Scheduler) {
		s.vusGauge = vus
		s.vusMaxGauge = vusMax
		s.gaugeTags = tags
	}
}

// WithAbortCheck polls check every interval.
func WithAbortCheck(interval time.Duration, check AbortCheck) Option {
	return func(s *Scheduler) {
		s.abortInterval = interval
		s.abortCheck = check
	}
}

// Stats summarizes a finished run.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	// Iterations is the number of iterations started.
	Iterations   int64
	VUsStarted   int
	MaxActiveVUs int
	StopReason   string
	AbortReason  string
	Aborted      bool
	HardStopped  bool
	// Abandoned is the number of VUs still running at a hard stop.
	Abandoned int
}

// Scheduler runs a profile. A Scheduler is single use.
//
// It provides:
// - VU pool management (starting and draining VUs to follow the target)
// - Iteration and duration caps
// - Periodic abort checks
// - Graceful shutdown with a hard-stop fallback
//
// # Algorithm
//
// Every TickInterval the loop reads the profile target for the elapsed
// time. When it is above the running count new VUs are started, each on its
// own goroutine looping iterations back to back. When it is below, the
// newest VUs are asked to drain. Iterations reserve a slot against
// MaxIterations before they start, so the cap is never overshot.
//
// # Thread Safety
//
// Run must be called once. Active may be called from any goroutine while
// Run is in progress.
type Scheduler struct {
	cfg     Config
	profile *profile.Profile
	runner  Runner

	clock         clock.Clock
	log           *zap.Logger
	vusGauge      *metrics.Metric
	vusMaxGauge   *metrics.Metric
	gaugeTags     metrics.TagSet
	abortCheck    AbortCheck
	abortInterval time.Duration

	mu       sync.Mutex
	running  []*vu.VirtualUser // started and not draining, oldest first
	all      []*vu.VirtualUser
	nextID   int
	maxLive  int
	wg       sync.WaitGroup
	live     atomic.Int64
	started  atomic.Int64
	reserved atomic.Int64

	stopOnce    sync.Once
	stopCh      chan struct{}
	stopReason  string
	abortReason string
	ran         atomic.Bool
}

// New creates a scheduler for p that runs iterations through runner.
//
// Parameters:
//   - cfg: Tick interval, caps and graceful stop. Zero values use defaults.
//   - p: Load profile giving the VU target over time
//   - runner: Executes one iteration for a VU
//   - opts: Clock, logger, gauges and abort check
//
// Returns a configuration error if cfg is invalid or p or runner is nil.
func New(cfg Config, p *profile.Profile, runner Runner, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, runerr.Configf("scheduler", "load profile is required")
	}
	if runner == nil {
		return nil, runerr.Configf("scheduler", "iteration runner is required")
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.GracefulStop == 0 {
		cfg.GracefulStop = DefaultGracefulStop
	}

	s := &Scheduler{
		cfg:     cfg,
		profile: p,
		runner:  runner,
		clock:   clock.Real(),
		log:     zap.NewNop(),
		stopCh:  make(chan struct{}),
		nextID:  1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.abortCheck != nil && s.abortInterval <= 0 {
		s.abortInterval = DefaultAbortCheckInterval
	}
	return s, nil
}

// Run executes the profile and blocks until every VU has stopped or the run
// has been hard stopped.
//
// Cancelling ctx ends the run like a completed profile: VUs drain and the
// in-flight iterations finish. Only a hard stop cancels iterations.
//
// Returns:
//   - Stats describing the run
//   - error if the scheduler already ran
func (s *Scheduler) Run(ctx context.Context) (*Stats, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return nil, runerr.Configf("scheduler", "scheduler already ran")
	}

	// Iterations only see the hard-stop cancel, never the caller's: a
	// cancelled caller means drain, not interrupt.
	workCtx, hardStop := context.WithCancel(context.WithoutCancel(ctx))
	defer hardStop()

	start := s.clock.Now()
	stats := &Stats{StartTime: start}

	if s.vusMaxGauge != nil {
		_ = s.vusMaxGauge.Add(float64(s.profile.MaxTarget()), s.gaugeTags)
	}
	s.log.Info("run started",
		zap.Stringer("profile", s.profile),
		zap.Int64("maxIterations", s.cfg.MaxIterations),
		zap.Duration("maxDuration", s.cfg.MaxDuration),
	)

	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	var lastAbortCheck time.Duration
	phase := profile.Phase("")

	for {
		elapsed := s.clock.Now().Sub(start)

		if reason := s.terminal(ctx, elapsed); reason != "" {
			s.stop(reason, "")
			break
		}

		if s.abortCheck != nil && elapsed-lastAbortCheck >= s.abortInterval {
			lastAbortCheck = elapsed
			if reason, abort := s.abortCheck(elapsed); abort {
				s.stop(StopAborted, reason)
				break
			}
		}

		if p := s.profile.PhaseAt(elapsed); p != phase {
			phase = p
			s.log.Debug("phase changed", zap.String("phase", string(p)), zap.Duration("elapsed", elapsed))
		}

		s.adjust(workCtx, s.profile.TargetAt(elapsed))
		s.reportVUs()

		select {
		case <-ctx.Done():
		case <-s.stopCh:
		case <-ticker.C():
		}
	}

	s.drainAll()
	stats.HardStopped, stats.Abandoned = s.waitForStop(hardStop)
	s.reportVUs()

	stats.EndTime = s.clock.Now()
	stats.Duration = stats.EndTime.Sub(start)
	stats.Iterations = s.started.Load()

	s.mu.Lock()
	stats.VUsStarted = len(s.all)
	stats.MaxActiveVUs = s.maxLive
	stats.StopReason = s.stopReason
	stats.AbortReason = s.abortReason
	s.mu.Unlock()
	stats.Aborted = stats.StopReason == StopAborted

	s.log.Info("run finished",
		zap.String("reason", stats.StopReason),
		zap.Int64("iterations", stats.Iterations),
		zap.Duration("duration", stats.Duration),
		zap.Bool("hardStopped", stats.HardStopped),
	)
	return stats, nil
}

// Active returns the number of VU workers currently alive, including
// draining ones.
func (s *Scheduler) Active() int {
	return int(s.live.Load())
}

// terminal returns a stop reason when the run must end at elapsed.
func (s *Scheduler) terminal(ctx context.Context, elapsed time.Duration) string {
	select {
	case <-s.stopCh:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stopReason
	default:
	}
	switch {
	case ctx.Err() != nil:
		return StopCancelled
	case s.profile.IsRunComplete(elapsed):
		return StopProfileComplete
	case s.cfg.MaxDuration > 0 && elapsed >= s.cfg.MaxDuration:
		return StopDurationCap
	}
	return ""
}

// stop records the first stop reason and wakes the tick loop.
func (s *Scheduler) stop(reason, abortReason string) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopReason = reason
		s.abortReason = abortReason
		s.mu.Unlock()
		close(s.stopCh)
	})
}

// adjust starts or drains VUs so that the running count matches target.
func (s *Scheduler) adjust(ctx context.Context, target int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := len(s.running)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			v := vu.New(s.nextID)
			s.nextID++
			v.Start(s.clock.Now())
			s.running = append(s.running, v)
			s.all = append(s.all, v)
			s.wg.Add(1)
			if n := int(s.live.Add(1)); n > s.maxLive {
				s.maxLive = n
			}
			go s.runVU(ctx, v)
		}
		s.log.Debug("scaled up", zap.Int("from", current), zap.Int("to", target))
	case target < current:
		// Newest VUs drain first.
		for i := current - 1; i >= target; i-- {
			s.running[i].RequestDrain()
		}
		s.running = s.running[:target]
		s.log.Debug("scaled down", zap.Int("from", current), zap.Int("to", target))
	}
}

// runVU loops iterations until the VU is drained or the run is hard stopped.
func (s *Scheduler) runVU(ctx context.Context, v *vu.VirtualUser) {
	defer s.wg.Done()
	defer s.live.Add(-1)
	defer func() {
		// A VU still running here ended on its own: cap, abort or hard stop.
		s.log.Debug("vu stopped",
			zap.Int("vu", v.ID),
			zap.Stringer("state", v.State()),
			zap.Int64("iterations", v.Iterations()),
			zap.Duration("lifetime", s.clock.Now().Sub(v.StartedAt())),
		)
		v.MarkIdle()
	}()

	for !v.ShouldStop() && ctx.Err() == nil {
		if s.cfg.MaxIterations > 0 && s.reserved.Add(1) > s.cfg.MaxIterations {
			s.stop(StopIterationCap, "")
			return
		}
		s.started.Add(1)

		res := s.runner.Run(ctx, v)
		if res.Interrupted {
			return
		}
		if res.Abort {
			reason := "run aborted by iteration"
			if res.Err != nil {
				reason = res.Err.Error()
			}
			s.stop(StopAborted, reason)
			return
		}
		if s.cfg.MaxIterations > 0 && s.reserved.Load() >= s.cfg.MaxIterations {
			s.stop(StopIterationCap, "")
		}
	}
}

// drainAll asks every running VU to finish its iteration and exit.
func (s *Scheduler) drainAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.running {
		v.RequestDrain()
	}
	s.running = nil
}

// waitForStop waits up to GracefulStop for all workers, then hard stops.
func (s *Scheduler) waitForStop(hardStop context.CancelFunc) (hard bool, abandoned int) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return false, 0
	case <-s.clock.After(s.cfg.GracefulStop):
	}

	abandoned = s.Active()
	hardStop()
	s.log.Warn("graceful stop timed out, abandoning in-flight iterations",
		zap.Duration("gracefulStop", s.cfg.GracefulStop),
		zap.Int("vus", abandoned),
	)
	return true, abandoned
}

func (s *Scheduler) reportVUs() {
	if s.vusGauge != nil {
		_ = s.vusGauge.Add(float64(s.live.Load()), s.gaugeTags)
	}
}
