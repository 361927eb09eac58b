package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/profile"
	"github.com/wesleyorama2/stampede/internal/runerr"
	"github.com/wesleyorama2/stampede/internal/scheduler"
	"github.com/wesleyorama2/stampede/internal/threshold"
	"github.com/wesleyorama2/stampede/internal/vu"
)

func fixedResponses(status int, latency time.Duration) vu.RequestExecutor {
	return vu.RequestExecutorFunc(func(ctx context.Context, req *vu.Request) (*vu.Response, error) {
		return &vu.Response{Status: status, Duration: latency, Body: []byte(`{"ok":true}`)}, nil
	})
}

// pacedGet issues one GET per iteration and paces iterations by 5ms.
var pacedGet = vu.TaskFunc(func(it *vu.Context) error {
	if _, err := it.Get("http://api.test/health", nil); err != nil {
		return err
	}
	return it.Sleep(5 * time.Millisecond)
})

func flat(t *testing.T, vus int, d time.Duration) *profile.Profile {
	t.Helper()
	p, err := profile.Flat(vus, d)
	require.NoError(t, err)
	return p
}

func specs(raw map[string][]string) map[string][]threshold.Spec {
	out := make(map[string][]threshold.Spec, len(raw))
	for k, exprs := range raw {
		for _, e := range exprs {
			out[k] = append(out[k], threshold.Spec{Expression: e})
		}
	}
	return out
}

func fastScheduler() scheduler.Config {
	return scheduler.Config{TickInterval: 5 * time.Millisecond, GracefulStop: 5 * time.Second}
}

func TestRunPassesThresholds(t *testing.T) {
	e, err := engine.New(engine.Options{
		Profile:   flat(t, 3, 200*time.Millisecond),
		Task:      pacedGet,
		Requests:  fixedResponses(200, 80*time.Millisecond),
		Scheduler: fastScheduler(),
		Thresholds: specs(map[string][]string{
			"http_req_duration":             {"p(95)<150"},
			"http_req_duration{status:200}": {"max<2000"},
			"http_req_failed":               {"rate<0.01"},
		}),
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Passed, res.Thresholds.String())
	assert.NotEmpty(t, res.RunID)
	assert.Greater(t, res.Iterations, int64(0))
	assert.Equal(t, scheduler.StopProfileComplete, res.StopReason)

	require.Contains(t, res.Metrics, "http_req_duration")
	assert.InDelta(t, 80, res.Metrics["http_req_duration"].Values["p(95)"], 0.1)
	require.Contains(t, res.Metrics, "http_req_duration{status:200}")
	assert.Equal(t, metrics.Trend, res.Metrics["http_req_duration"].Kind)
	assert.Equal(t, float64(res.Iterations), res.Metrics["iterations"].Values["count"])
	assert.Equal(t, 3.0, res.Metrics["vus_max"].Values["value"])
}

func TestRunFailsThresholdsWithoutError(t *testing.T) {
	e, err := engine.New(engine.Options{
		Profile:   flat(t, 2, 100*time.Millisecond),
		Task:      pacedGet,
		Requests:  fixedResponses(200, 80*time.Millisecond),
		Scheduler: fastScheduler(),
		Thresholds: specs(map[string][]string{
			"http_req_duration": {"p(95)<50"},
		}),
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Passed)
	assert.False(t, res.Aborted)
	assert.Equal(t, []string{"http_req_duration"}, res.Thresholds.Breached())
}

func TestRunNeverObservedMetricFails(t *testing.T) {
	e, err := engine.New(engine.Options{
		Profile:    flat(t, 1, 50*time.Millisecond),
		Task:       vu.TaskFunc(func(it *vu.Context) error { return it.Sleep(5 * time.Millisecond) }),
		Scheduler:  fastScheduler(),
		Metrics:    []engine.MetricDecl{{Name: "logins", Kind: metrics.Counter}},
		Thresholds: specs(map[string][]string{"logins": {"count>20"}}),
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Passed)
	assert.True(t, res.Thresholds.Results[0].Conditions[0].NoData)
	assert.NotContains(t, res.Metrics, "logins")
}

func TestRunAbortOnFail(t *testing.T) {
	e, err := engine.New(engine.Options{
		Profile:            flat(t, 2, 10*time.Second),
		Task:               pacedGet,
		Requests:           fixedResponses(500, 10*time.Millisecond),
		Scheduler:          fastScheduler(),
		AbortCheckInterval: 20 * time.Millisecond,
		Thresholds: map[string][]threshold.Spec{
			"http_req_failed": {{Expression: "rate<0.01", AbortOnFail: true}},
		},
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.True(t, res.ThresholdAbort)
	assert.False(t, res.Passed)
	assert.Less(t, res.Duration, 3*time.Second)
	assert.Contains(t, res.AbortReason, "http_req_failed")
}

func TestRunIterationCap(t *testing.T) {
	sched := fastScheduler()
	sched.MaxIterations = 12

	e, err := engine.New(engine.Options{
		Profile:   flat(t, 4, 10*time.Second),
		Task:      pacedGet,
		Requests:  fixedResponses(200, time.Millisecond),
		Scheduler: sched,
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 12, res.Iterations)
	assert.Equal(t, scheduler.StopIterationCap, res.StopReason)
	assert.True(t, res.Passed)
}

func TestRunSetupFailureRunsNothing(t *testing.T) {
	var runs atomic.Int64
	task := vu.TaskFunc(func(it *vu.Context) error {
		runs.Add(1)
		return nil
	})

	e, err := engine.New(engine.Options{
		Profile:     flat(t, 2, 50*time.Millisecond),
		Task:        task,
		FixturePath: filepath.Join(t.TempDir(), "missing.json"),
	})
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	assert.True(t, errors.Is(err, runerr.ErrSetup))

	e, err = engine.New(engine.Options{
		Profile: flat(t, 2, 50*time.Millisecond),
		Task:    task,
		Setup: func(ctx context.Context, reg *metrics.Registry) error {
			return errors.New("auth server unreachable")
		},
	})
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	assert.True(t, errors.Is(err, runerr.ErrSetup))
	assert.Zero(t, runs.Load())
}

func TestRunSetupWrapsClassifiedErrors(t *testing.T) {
	cases := map[string]error{
		"iteration": runerr.Iteration(errors.New("token request failed")),
		"timeout":   runerr.Timeout("login", context.DeadlineExceeded),
		"aborted":   runerr.Abort("no users"),
	}
	for name, hookErr := range cases {
		t.Run(name, func(t *testing.T) {
			e, err := engine.New(engine.Options{
				Profile: flat(t, 1, 50*time.Millisecond),
				Task:    pacedGet,
				Setup: func(ctx context.Context, reg *metrics.Registry) error {
					return hookErr
				},
			})
			require.NoError(t, err)

			_, err = e.Run(context.Background())
			assert.Equal(t, runerr.KindSetup, runerr.KindOf(err), "got %v", err)
			assert.True(t, errors.Is(err, hookErr))
		})
	}
}

func TestRunSetupKeepsConfigurationErrors(t *testing.T) {
	e, err := engine.New(engine.Options{
		Profile: flat(t, 1, 50*time.Millisecond),
		Task:    pacedGet,
		Setup: func(ctx context.Context, reg *metrics.Registry) error {
			_, err := reg.NewMetric(metrics.HTTPReqsName, metrics.Trend)
			return err
		},
	})
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	assert.Equal(t, runerr.KindConfiguration, runerr.KindOf(err), "got %v", err)
}

func TestRunSetupTimeout(t *testing.T) {
	e, err := engine.New(engine.Options{
		Profile:      flat(t, 1, 50*time.Millisecond),
		Task:         pacedGet,
		SetupTimeout: 20 * time.Millisecond,
		Setup: func(ctx context.Context, reg *metrics.Registry) error {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return nil
		},
	})
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	assert.True(t, errors.Is(err, runerr.ErrSetup))
}

func TestNewConfigurationErrors(t *testing.T) {
	base := func() engine.Options {
		return engine.Options{Profile: flat(t, 1, time.Second), Task: pacedGet}
	}

	cases := map[string]func(o *engine.Options){
		"missing profile":   func(o *engine.Options) { o.Profile = nil },
		"missing task":      func(o *engine.Options) { o.Task = nil },
		"bad expression":    func(o *engine.Options) { o.Thresholds = specs(map[string][]string{"http_reqs": {"count>>1"}}) },
		"incompatible kind": func(o *engine.Options) { o.Thresholds = specs(map[string][]string{"http_req_failed": {"p(95)<1"}}) },
		"kind conflict": func(o *engine.Options) {
			o.Metrics = []engine.MetricDecl{{Name: metrics.HTTPReqsName, Kind: metrics.Trend}}
		},
		"negative rps":     func(o *engine.Options) { o.RPS = -1 },
		"negative timeout": func(o *engine.Options) { o.IterationTimeout = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := base()
			mutate(&o)
			_, err := engine.New(o)
			assert.True(t, errors.Is(err, runerr.ErrConfiguration), "got %v", err)
		})
	}
}

func TestRunWithRateLimit(t *testing.T) {
	e, err := engine.New(engine.Options{
		Profile:   flat(t, 5, 300*time.Millisecond),
		Task:      vu.TaskFunc(func(it *vu.Context) error { _, err := it.Get("http://api.test", nil); return err }),
		Requests:  fixedResponses(200, time.Millisecond),
		Scheduler: fastScheduler(),
		RPS:       50,
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	// 50 rps over ~0.3s admits about 15 requests plus one per VU draining.
	reqs := res.Metrics["http_reqs"].Values["count"]
	assert.LessOrEqual(t, reqs, 30.0)
	assert.GreaterOrEqual(t, reqs, 5.0)
}

func TestRunSingleFastResponsePassesP95(t *testing.T) {
	sched := fastScheduler()
	sched.MaxIterations = 1

	e, err := engine.New(engine.Options{
		Profile: flat(t, 1, time.Second),
		Task: vu.TaskFunc(func(it *vu.Context) error {
			_, err := it.Get("http://api.test/", nil)
			return err
		}),
		Requests:   fixedResponses(200, 80*time.Millisecond),
		Scheduler:  sched,
		Thresholds: specs(map[string][]string{"http_req_duration": {"p(95)<100"}}),
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Passed, res.Thresholds.String())
	assert.Equal(t, 1.0, res.Metrics["http_req_duration"].Values["count"])
	assert.InDelta(t, 80, res.Metrics["http_req_duration"].Values["p(95)"], 0.1)
}

func TestRunTracksTaggedThresholdDistribution(t *testing.T) {
	task := vu.TaskFunc(func(it *vu.Context) error {
		if _, err := it.Request(&vu.Request{Method: "GET", URL: "http://api.test/news", Name: "news"}); err != nil {
			return err
		}
		_, err := it.Request(&vu.Request{Method: "GET", URL: "http://api.test/home", Name: "home"})
		return err
	})
	slowHome := vu.RequestExecutorFunc(func(ctx context.Context, req *vu.Request) (*vu.Response, error) {
		latency := 40 * time.Millisecond
		if req.Name == "home" {
			latency = 900 * time.Millisecond
		}
		return &vu.Response{Status: 200, Duration: latency}, nil
	})

	sched := fastScheduler()
	sched.MaxIterations = 20

	e, err := engine.New(engine.Options{
		Profile:    flat(t, 2, 10*time.Second),
		Task:       task,
		Requests:   slowHome,
		Scheduler:  sched,
		Thresholds: specs(map[string][]string{"http_req_duration{name:news}": {"p(95)<50"}}),
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Passed, res.Thresholds.String())
	news := res.Metrics["http_req_duration{name:news}"]
	assert.InDelta(t, 40, news.Values["p(95)"], 0.1)
	assert.Equal(t, 20.0, news.Values["count"])
}
