package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/profile"
)

func TestProfileFlat(t *testing.T) {
	cfg := baseConfig()
	p, err := cfg.Profile()
	require.NoError(t, err)
	assert.True(t, p.IsFlat())
	assert.Equal(t, 10*time.Second, p.TotalDuration())
	assert.Equal(t, 2, p.TargetAt(0))

	cfg.Duration = 0
	cfg.Iterations = 50
	p, err = cfg.Profile()
	require.NoError(t, err)
	assert.Equal(t, DefaultIterationsDuration, p.TotalDuration())
}

func TestProfileStaged(t *testing.T) {
	cfg, err := ParseConfig([]byte(loginYAML), "run.yaml")
	require.NoError(t, err)

	p, err := cfg.Profile()
	require.NoError(t, err)
	stages := p.Stages()
	require.Len(t, stages, 3)
	assert.Equal(t, profile.ModeConstant, stages[1].Mode)
	assert.Equal(t, "plateau", stages[1].Name)
	assert.Equal(t, 7*time.Minute+30*time.Second, p.TotalDuration())
	assert.Equal(t, 5, p.TargetAt(time.Minute))
}

func TestEngineOptions(t *testing.T) {
	cfg, err := ParseConfig([]byte(loginYAML), "run.yaml")
	require.NoError(t, err)

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)

	assert.Equal(t, "login-flow", opts.Name)
	assert.EqualValues(t, 500, opts.Scheduler.MaxIterations)
	assert.Equal(t, 10*time.Second, opts.Scheduler.GracefulStop)
	assert.Equal(t, 25.0, opts.RPS)
	assert.Equal(t, "users.json", opts.FixturePath)

	require.Len(t, opts.Metrics, 2)
	assert.Equal(t, metrics.Trend, opts.Metrics[1].Kind)
	assert.Equal(t, metrics.Time, opts.Metrics[1].Contains)

	failed := opts.Thresholds["http_req_failed"]
	require.Len(t, failed, 1)
	assert.True(t, failed[0].AbortOnFail)
	assert.Equal(t, 10*time.Second, failed[0].DelayAbortEval)
	assert.Len(t, opts.Thresholds["http_req_duration{status:200}"], 2)
}

func TestTask(t *testing.T) {
	cfg, err := ParseConfig([]byte(loginYAML), "run.yaml")
	require.NoError(t, err)

	task, err := cfg.Task()
	require.NoError(t, err)

	steps := task.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, "POST", steps[0].Method)
	assert.Equal(t, time.Second, steps[0].ThinkTime)
	require.Len(t, steps[0].Checks, 2)
	assert.Equal(t, 500*time.Millisecond, steps[0].Checks[1].MaxDuration)
	assert.Equal(t, "body", steps[0].Extract[0].Source)
}

func TestHTTPExecConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(loginYAML), "run.yaml")
	require.NoError(t, err)

	h := cfg.HTTPExecConfig()
	assert.Equal(t, 5*time.Second, h.Timeout)
	assert.Equal(t, 50, h.MaxIdleConnsPerHost)
	assert.Equal(t, "https://api.example.com", h.BaseURL)
}

func TestLoggingConfigDefaults(t *testing.T) {
	l := baseConfig().LoggingConfig()
	assert.Equal(t, "info", l.Level)
	assert.Equal(t, "console", l.Format)
	assert.Equal(t, "stderr", l.Output)

	cfg, err := ParseConfig([]byte(loginYAML), "run.yaml")
	require.NoError(t, err)
	l = cfg.LoggingConfig()
	assert.Equal(t, "debug", l.Level)
	assert.Equal(t, "json", l.Format)
}

func TestTaskStepMetrics(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
vus: 1
duration: 1s
metrics:
  - name: my_counter
    kind: counter
  - name: response_time_news_page
    kind: trend
    contains: time
scenario:
  requests:
    - name: news
      url: http://api.test/news
      checks:
        - name: news ok
          status: 200
      metrics:
        - name: my_counter
        - name: my_counter
          value: 3
        - name: response_time_news_page
          from: duration
          tags:
            page: news
`), "run.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	task, err := cfg.Task()
	require.NoError(t, err)

	recs := task.Steps()[0].Records
	require.Len(t, recs, 3)
	assert.Equal(t, 1.0, recs[0].Value)
	assert.Equal(t, 3.0, recs[1].Value)
	assert.Equal(t, "duration", recs[2].From)
	assert.Equal(t, map[string]string{"page": "news"}, recs[2].Tags)
}
