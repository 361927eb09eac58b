package config

import (
	"time"

	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/httpexec"
	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/profile"
	"github.com/wesleyorama2/stampede/internal/scenario"
	"github.com/wesleyorama2/stampede/internal/scheduler"
	"github.com/wesleyorama2/stampede/internal/threshold"
)

// DefaultIterationsDuration bounds a flat profile that only sets
// iterations. The iteration cap normally ends the run first.
const DefaultIterationsDuration = 10 * time.Minute

// Profile builds the load profile. Call Validate first.
func (c *RunConfig) Profile() (*profile.Profile, error) {
	if len(c.Stages) == 0 {
		return profile.Flat(c.VUs, c.Duration.GetDuration(DefaultIterationsDuration))
	}

	stages := make([]profile.Stage, len(c.Stages))
	for i, st := range c.Stages {
		mode, err := profile.ParseMode(st.Mode)
		if err != nil {
			return nil, err
		}
		stages[i] = profile.Stage{
			Duration: time.Duration(st.Duration),
			Target:   st.Target,
			Mode:     mode,
			Name:     st.Name,
		}
	}
	return profile.Staged(stages)
}

// SchedulerConfig returns the scheduler caps.
func (c *RunConfig) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		MaxIterations: c.Iterations,
		MaxDuration:   time.Duration(c.MaxDuration),
		GracefulStop:  time.Duration(c.GracefulStop),
	}
}

// ThresholdSpecs returns the thresholds in the form the engine accepts.
func (c *RunConfig) ThresholdSpecs() map[string][]threshold.Spec {
	if len(c.Thresholds) == 0 {
		return nil
	}
	out := make(map[string][]threshold.Spec, len(c.Thresholds))
	for sel, list := range c.Thresholds {
		specs := make([]threshold.Spec, len(list))
		for i, t := range list {
			specs[i] = threshold.Spec{
				Expression:     t.Threshold,
				AbortOnFail:    t.AbortOnFail,
				DelayAbortEval: time.Duration(t.DelayAbortEval),
			}
		}
		out[sel] = specs
	}
	return out
}

// MetricDecls returns the custom metric declarations. Entries that fail to
// parse are skipped; Validate reports them.
func (c *RunConfig) MetricDecls() []engine.MetricDecl {
	var out []engine.MetricDecl
	for _, m := range c.Metrics {
		kind, err := metrics.ParseKind(m.Kind)
		if err != nil {
			continue
		}
		contains, err := metrics.ParseValueType(m.Contains)
		if err != nil {
			continue
		}
		out = append(out, engine.MetricDecl{Name: m.Name, Kind: kind, Contains: contains})
	}
	return out
}

// HTTPExecConfig returns the request executor settings.
func (c *RunConfig) HTTPExecConfig() httpexec.Config {
	h := c.HTTP
	return httpexec.Config{
		Timeout:             time.Duration(h.Timeout),
		MaxIdleConns:        h.MaxIdleConns,
		MaxIdleConnsPerHost: h.MaxIdleConnsPerHost,
		MaxConnsPerHost:     h.MaxConnsPerHost,
		IdleConnTimeout:     time.Duration(h.IdleConnTimeout),
		DisableKeepAlives:   h.DisableKeepAlives,
		InsecureSkipVerify:  h.InsecureSkipVerify,
		UserAgent:           h.UserAgent,
		BaseURL:             h.BaseURL,
		Headers:             h.Headers,
	}
}

// Task builds the declarative iteration task. {{baseUrl}} resolves to
// http.baseUrl unless the scenario defines it.
func (c *RunConfig) Task() (*scenario.Scenario, error) {
	vars := make(map[string]string, len(c.Scenario.Variables)+2)
	if c.HTTP.BaseURL != "" {
		vars["baseUrl"] = c.HTTP.BaseURL
		vars["baseURL"] = c.HTTP.BaseURL
	}
	for k, v := range c.Scenario.Variables {
		vars[k] = v
	}

	steps := make([]scenario.Step, len(c.Scenario.Requests))
	for i, r := range c.Scenario.Requests {
		st := scenario.Step{
			Name:      r.Name,
			Method:    r.Method,
			URL:       r.URL,
			Headers:   r.Headers,
			Body:      r.Body,
			Timeout:   time.Duration(r.Timeout),
			ThinkTime: time.Duration(r.ThinkTime),
			Tags:      r.Tags,
		}
		for _, ch := range r.Checks {
			st.Checks = append(st.Checks, scenario.Check{
				Name:         ch.Name,
				Status:       ch.Status,
				MaxDuration:  time.Duration(ch.MaxDuration),
				BodyContains: ch.BodyContains,
				JSONPath:     ch.JSONPath,
				Equals:       ch.Equals,
			})
		}
		for _, ex := range r.Extract {
			st.Extract = append(st.Extract, scenario.Extract{
				Name:   ex.Name,
				Source: ex.Source,
				Path:   ex.Path,
				Regex:  ex.Regex,
			})
		}
		for _, rec := range r.Metrics {
			value := 1.0
			if rec.Value != nil {
				value = *rec.Value
			}
			st.Records = append(st.Records, scenario.Record{
				Metric: rec.Name,
				From:   rec.From,
				Value:  value,
				Tags:   rec.Tags,
			})
		}
		steps[i] = st
	}
	return scenario.New(vars, steps)
}

// LoggingConfig converts the log section for the logging package.
func (c *RunConfig) LoggingConfig() logging.Config {
	out := logging.DefaultConfig()
	l := c.Log
	if l.Level != "" {
		out.Level = l.Level
	}
	if l.Format != "" {
		out.Format = l.Format
	}
	if l.Output != "" {
		out.Output = l.Output
	}
	out.FilePath = l.FilePath
	out.MaxSize = l.MaxSize
	out.MaxBackups = l.MaxBackups
	out.MaxAge = l.MaxAge
	return out
}

// EngineOptions assembles engine options from the configuration. The caller
// supplies the task, request executor and logger.
func (c *RunConfig) EngineOptions() (engine.Options, error) {
	p, err := c.Profile()
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Name:             c.Name,
		Profile:          p,
		Scheduler:        c.SchedulerConfig(),
		Thresholds:       c.ThresholdSpecs(),
		Metrics:          c.MetricDecls(),
		FixturePath:      c.Data,
		SetupTimeout:     time.Duration(c.SetupTimeout),
		IterationTimeout: time.Duration(c.IterationTimeout),
		RPS:              c.RPS,
	}, nil
}
