// Package config loads, validates and converts stampede run configurations.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RunConfig is the root configuration for a run.
//
// Example YAML:
//
//	name: login-flow
//	vus: 10
//	duration: 30s
//	thresholds:
//	  http_req_duration: ['p(95)<500']
//	scenario:
//	  requests:
//	    - name: home
//	      method: GET
//	      url: "{{baseUrl}}/"
type RunConfig struct {
	// Name of the run. Used as the scenario tag on every metric.
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// VUs and Duration describe a flat profile. Mutually exclusive with Stages.
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration Duration      `json:"duration,omitempty" yaml:"duration,omitempty"`
	Stages   []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Iterations caps the iterations started across all VUs.
	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	// MaxDuration caps wall time regardless of the profile.
	MaxDuration Duration `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	SetupTimeout     Duration `json:"setupTimeout,omitempty" yaml:"setupTimeout,omitempty"`
	IterationTimeout Duration `json:"iterationTimeout,omitempty" yaml:"iterationTimeout,omitempty"`
	GracefulStop     Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// RPS caps the request rate across all VUs.
	RPS float64 `json:"rps,omitempty" yaml:"rps,omitempty"`

	// Data is a JSON or YAML fixture loaded once before the run.
	Data string `json:"data,omitempty" yaml:"data,omitempty"`

	Metrics    []MetricConfig               `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Thresholds map[string][]ThresholdConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	HTTP     HTTPConfig     `json:"http,omitempty" yaml:"http,omitempty"`
	Scenario ScenarioConfig `json:"scenario" yaml:"scenario"`
	Log      LogConfig      `json:"log,omitempty" yaml:"log,omitempty"`

	// Environments are named overrides selected with ApplyEnvironment.
	Environments map[string]EnvironmentConfig `json:"environments,omitempty" yaml:"environments,omitempty"`
}

// EnvironmentConfig represents an environment configuration
type EnvironmentConfig struct {
	BaseURL   string            `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// StageConfig is one segment of a staged profile.
type StageConfig struct {
	Duration Duration `json:"duration" yaml:"duration"`
	Target   int      `json:"target" yaml:"target"`
	// Mode is ramp (default) or constant.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// MetricConfig declares a custom metric.
type MetricConfig struct {
	Name string `json:"name" yaml:"name"`
	// Kind is counter, gauge, rate or trend.
	Kind string `json:"kind" yaml:"kind"`
	// Contains is default, time or data.
	Contains string `json:"contains,omitempty" yaml:"contains,omitempty"`
}

// ThresholdConfig is one threshold expression. In YAML and JSON it may be
// written as a bare string or as an object.
type ThresholdConfig struct {
	Threshold      string   `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool     `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval Duration `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

// thresholdObject avoids recursing into the custom unmarshalers.
type thresholdObject ThresholdConfig

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ThresholdConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*t = ThresholdConfig{Threshold: value.Value}
		return nil
	}
	var obj thresholdObject
	if err := value.Decode(&obj); err != nil {
		return err
	}
	*t = ThresholdConfig(obj)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (t ThresholdConfig) MarshalYAML() (interface{}, error) {
	if !t.AbortOnFail && t.DelayAbortEval == 0 {
		return t.Threshold, nil
	}
	return thresholdObject(t), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ThresholdConfig) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = ThresholdConfig{Threshold: s}
		return nil
	}
	var obj thresholdObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*t = ThresholdConfig(obj)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t ThresholdConfig) MarshalJSON() ([]byte, error) {
	if !t.AbortOnFail && t.DelayAbortEval == 0 {
		return json.Marshal(t.Threshold)
	}
	return json.Marshal(thresholdObject(t))
}

// HTTPConfig contains HTTP client settings.
type HTTPConfig struct {
	// BaseURL is prepended to relative request URLs and available as
	// {{baseUrl}} in templates.
	BaseURL             string            `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Timeout             Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxIdleConns        int               `json:"maxIdleConns,omitempty" yaml:"maxIdleConns,omitempty"`
	MaxIdleConnsPerHost int               `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	MaxConnsPerHost     int               `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
	IdleConnTimeout     Duration          `json:"idleConnTimeout,omitempty" yaml:"idleConnTimeout,omitempty"`
	DisableKeepAlives   bool              `json:"disableKeepAlives,omitempty" yaml:"disableKeepAlives,omitempty"`
	InsecureSkipVerify  bool              `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	UserAgent           string            `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Headers             map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ScenarioConfig is the declarative iteration body.
type ScenarioConfig struct {
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	Requests  []RequestConfig   `json:"requests" yaml:"requests"`
}

// RequestConfig is one request of an iteration.
type RequestConfig struct {
	Name      string            `json:"name,omitempty" yaml:"name,omitempty"`
	Method    string            `json:"method" yaml:"method"`
	URL       string            `json:"url" yaml:"url"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body      string            `json:"body,omitempty" yaml:"body,omitempty"`
	Timeout   Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ThinkTime Duration          `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`
	Tags      map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Checks    []CheckConfig     `json:"checks,omitempty" yaml:"checks,omitempty"`
	Extract   []ExtractConfig   `json:"extract,omitempty" yaml:"extract,omitempty"`
	Metrics   []RecordConfig    `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// CheckConfig is a named response assertion.
type CheckConfig struct {
	Name         string   `json:"name" yaml:"name"`
	Status       int      `json:"status,omitempty" yaml:"status,omitempty"`
	MaxDuration  Duration `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`
	BodyContains string   `json:"bodyContains,omitempty" yaml:"bodyContains,omitempty"`
	JSONPath     string   `json:"jsonPath,omitempty" yaml:"jsonPath,omitempty"`
	Equals       string   `json:"equals,omitempty" yaml:"equals,omitempty"`
}

// ExtractConfig stores part of a response in a VU variable.
type ExtractConfig struct {
	Name string `json:"name" yaml:"name"`
	// Source is body, header or status. Defaults to body.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	Regex  string `json:"regex,omitempty" yaml:"regex,omitempty"`
}

// RecordConfig adds a value to a declared custom metric after every
// response of a request.
//
// Example YAML:
//
//	metrics:
//	  - name: news_page_views
//	  - name: news_page_time
//	    from: duration
type RecordConfig struct {
	Name string `json:"name" yaml:"name"`
	// Value is recorded when From is empty. Defaults to 1.
	Value *float64 `json:"value,omitempty" yaml:"value,omitempty"`
	// From is duration, status, size or check:<name>.
	From string            `json:"from,omitempty" yaml:"from,omitempty"`
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level      string `json:"level,omitempty" yaml:"level,omitempty"`
	Format     string `json:"format,omitempty" yaml:"format,omitempty"`
	Output     string `json:"output,omitempty" yaml:"output,omitempty"`
	FilePath   string `json:"filePath,omitempty" yaml:"filePath,omitempty"`
	MaxSize    int    `json:"maxSize,omitempty" yaml:"maxSize,omitempty"`
	MaxBackups int    `json:"maxBackups,omitempty" yaml:"maxBackups,omitempty"`
	MaxAge     int    `json:"maxAge,omitempty" yaml:"maxAge,omitempty"`
}

// Duration is a time.Duration that reads "30s"-style strings or bare
// seconds from YAML and JSON.
type Duration time.Duration

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		s = unq
	}
	if s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	dur, err := ParseDurationString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
