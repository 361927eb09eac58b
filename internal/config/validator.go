package config

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/profile"
	"github.com/wesleyorama2/stampede/internal/runerr"
	"github.com/wesleyorama2/stampede/internal/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the field of every error, in order.
func (e *ValidationErrors) Fields() []string {
	out := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err.Field
	}
	return out
}

// Validate validates the entire run configuration.
//
// Returns nil if valid, or a configuration error wrapping a
// *ValidationErrors that lists every problem found.
func (c *RunConfig) Validate() error {
	errs := &ValidationErrors{}

	validateProfile(c, errs)

	nonNegative := map[string]Duration{
		"maxDuration":      c.MaxDuration,
		"setupTimeout":     c.SetupTimeout,
		"iterationTimeout": c.IterationTimeout,
		"gracefulStop":     c.GracefulStop,
	}
	for _, field := range []string{"maxDuration", "setupTimeout", "iterationTimeout", "gracefulStop"} {
		if nonNegative[field] < 0 {
			errs.Add(field, "cannot be negative")
		}
	}
	if c.Iterations < 0 {
		errs.Add("iterations", "iterations cannot be negative")
	}
	if c.RPS < 0 {
		errs.Add("rps", "rps cannot be negative")
	}

	metricsOK := validateMetrics(c.Metrics, errs)
	validateThresholds(c, metricsOK, errs)
	validateHTTP(&c.HTTP, errs)
	for _, name := range c.EnvironmentNames() {
		if base := c.Environments[name].BaseURL; base != "" && !validBaseURL(base) {
			errs.Add(fmt.Sprintf("environments.%s.baseUrl", name), fmt.Sprintf("invalid base URL: %s", base))
		}
	}

	if len(c.Scenario.Requests) == 0 {
		errs.Add("scenario.requests", "at least one request is required")
	}
	declared := make(map[string]metrics.Kind, len(c.Metrics))
	for _, d := range c.MetricDecls() {
		declared[d.Name] = d.Kind
	}
	for i := range c.Scenario.Requests {
		validateRequest(fmt.Sprintf("scenario.requests[%d]", i), &c.Scenario.Requests[i], declared, errs)
	}

	if err := c.LoggingConfig().Validate(); err != nil {
		errs.Add("log", err.Error())
	}

	if errs.HasErrors() {
		return runerr.Config("validate config", errs)
	}
	return nil
}

func validateProfile(c *RunConfig, errs *ValidationErrors) {
	if c.VUs < 0 {
		errs.Add("vus", "vus cannot be negative")
	}

	switch {
	case c.VUs > 0 && len(c.Stages) > 0:
		errs.Add("stages", "vus and stages are mutually exclusive")
	case c.VUs == 0 && len(c.Stages) == 0:
		errs.Add("vus", "either vus or stages is required")
	case c.VUs > 0:
		if c.Duration < 0 {
			errs.Add("duration", "duration cannot be negative")
		} else if c.Duration == 0 && c.Iterations == 0 {
			errs.Add("duration", "duration or iterations is required with vus")
		}
	}

	if len(c.Stages) == 0 {
		return
	}
	if c.Duration != 0 {
		errs.Add("duration", "duration cannot be combined with stages, use maxDuration")
	}

	var total Duration
	for i, st := range c.Stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if st.Duration < 0 {
			errs.Add(prefix+".duration", "duration cannot be negative")
		} else {
			total += st.Duration
		}
		if st.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
		if _, err := profile.ParseMode(st.Mode); err != nil {
			errs.Add(prefix+".mode", err.Error())
		}
	}
	if total == 0 {
		errs.Add("stages", "stages must have a positive total duration")
	}
}

// validateMetrics reports whether every declaration is usable.
func validateMetrics(decls []MetricConfig, errs *ValidationErrors) bool {
	ok := true
	seen := make(map[string]bool)
	for i, m := range decls {
		prefix := fmt.Sprintf("metrics[%d]", i)
		if !metrics.ValidName(m.Name) {
			errs.Add(prefix+".name", fmt.Sprintf("invalid metric name %q", m.Name))
			ok = false
		} else if seen[m.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("metric %q declared twice", m.Name))
			ok = false
		}
		seen[m.Name] = true

		if _, err := metrics.ParseKind(m.Kind); err != nil {
			errs.Add(prefix+".kind", err.Error())
			ok = false
		}
		if _, err := metrics.ParseValueType(m.Contains); err != nil {
			errs.Add(prefix+".contains", err.Error())
			ok = false
		}
	}
	if !ok {
		return false
	}

	// Declarations may repeat a built-in name only with the same kind.
	reg := metrics.NewRegistry()
	if _, err := metrics.RegisterBuiltins(reg); err != nil {
		errs.Add("metrics", err.Error())
		return false
	}
	for i, m := range decls {
		kind, _ := metrics.ParseKind(m.Kind)
		contains, _ := metrics.ParseValueType(m.Contains)
		if _, err := reg.NewMetric(m.Name, kind, contains); err != nil {
			errs.Add(fmt.Sprintf("metrics[%d].kind", i), err.Error())
			ok = false
		}
	}
	return ok
}

func validateThresholds(c *RunConfig, metricsOK bool, errs *ValidationErrors) {
	keys := make([]string, 0, len(c.Thresholds))
	for raw := range c.Thresholds {
		keys = append(keys, raw)
	}
	sort.Strings(keys)

	syntaxOK := true
	for _, raw := range keys {
		list := c.Thresholds[raw]
		prefix := fmt.Sprintf("thresholds.%s", raw)
		if _, err := threshold.ParseSelector(raw); err != nil {
			errs.Add(prefix, err.Error())
			syntaxOK = false
		}
		if len(list) == 0 {
			errs.Add(prefix, "at least one expression is required")
			syntaxOK = false
		}
		for i, t := range list {
			if _, err := threshold.ParseExpression(t.Threshold); err != nil {
				errs.Add(fmt.Sprintf("%s[%d]", prefix, i), err.Error())
				syntaxOK = false
			}
			if t.DelayAbortEval < 0 {
				errs.Add(fmt.Sprintf("%s[%d].delayAbortEval", prefix, i), "cannot be negative")
			}
		}
	}
	if !syntaxOK || !metricsOK || len(c.Thresholds) == 0 {
		return
	}

	// Check that every selector names a known metric with a compatible kind.
	reg := metrics.NewRegistry()
	if _, err := metrics.RegisterBuiltins(reg); err != nil {
		errs.Add("thresholds", err.Error())
		return
	}
	for _, d := range c.MetricDecls() {
		if _, err := reg.NewMetric(d.Name, d.Kind, d.Contains); err != nil {
			return
		}
	}
	ths, err := threshold.Parse(c.ThresholdSpecs())
	if err == nil {
		err = ths.Validate(reg)
	}
	if err != nil {
		errs.Add("thresholds", err.Error())
	}
}

func validateHTTP(h *HTTPConfig, errs *ValidationErrors) {
	if h.Timeout < 0 {
		errs.Add("http.timeout", "timeout cannot be negative")
	}
	if h.IdleConnTimeout < 0 {
		errs.Add("http.idleConnTimeout", "idleConnTimeout cannot be negative")
	}
	if h.MaxIdleConns < 0 {
		errs.Add("http.maxIdleConns", "maxIdleConns cannot be negative")
	}
	if h.MaxIdleConnsPerHost < 0 {
		errs.Add("http.maxIdleConnsPerHost", "maxIdleConnsPerHost cannot be negative")
	}
	if h.MaxConnsPerHost < 0 {
		errs.Add("http.maxConnsPerHost", "maxConnsPerHost cannot be negative")
	}
	if h.BaseURL != "" && !validBaseURL(h.BaseURL) {
		errs.Add("http.baseUrl", fmt.Sprintf("invalid base URL: %s", h.BaseURL))
	}
}

func validBaseURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// validateRequest validates a single request configuration. declared maps
// custom metric names to their kinds.
func validateRequest(prefix string, req *RequestConfig, declared map[string]metrics.Kind, errs *ValidationErrors) {
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}

	// An empty method means GET.
	method := strings.ToUpper(req.Method)
	if method != "" && !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else {
		// Placeholders are resolved per iteration, so only the shape is checked.
		urlToCheck := placeholderPattern.ReplaceAllString(req.URL, "placeholder")
		if _, err := url.Parse(urlToCheck); err != nil {
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		}
	}

	if req.Timeout < 0 {
		errs.Add(prefix+".timeout", "timeout cannot be negative")
	}
	if req.ThinkTime < 0 {
		errs.Add(prefix+".thinkTime", "thinkTime cannot be negative")
	}

	for i, check := range req.Checks {
		p := fmt.Sprintf("%s.checks[%d]", prefix, i)
		if check.Status < 0 || check.Status > 999 {
			errs.Add(p+".status", fmt.Sprintf("invalid status: %d", check.Status))
		}
		if check.MaxDuration < 0 {
			errs.Add(p+".maxDuration", "maxDuration cannot be negative")
		}
		if check.Equals != "" && check.JSONPath == "" {
			errs.Add(p+".equals", "equals requires jsonPath")
		}
	}

	for i, extract := range req.Extract {
		validateExtract(fmt.Sprintf("%s.extract[%d]", prefix, i), &extract, errs)
	}

	for i, rec := range req.Metrics {
		validateRecord(fmt.Sprintf("%s.metrics[%d]", prefix, i), &rec, declared, errs)
	}
}

// validateRecord validates a per-request metric recording.
func validateRecord(prefix string, rec *RecordConfig, declared map[string]metrics.Kind, errs *ValidationErrors) {
	kind, ok := declared[rec.Name]
	if !ok {
		errs.Add(prefix+".name", fmt.Sprintf("metric %q is not declared in metrics", rec.Name))
	}

	switch {
	case rec.From == "", rec.From == "duration", rec.From == "status", rec.From == "size":
	case strings.HasPrefix(rec.From, "check:") && len(rec.From) > len("check:"):
	default:
		errs.Add(prefix+".from", fmt.Sprintf("invalid source: %s", rec.From))
	}

	if rec.Value != nil {
		if rec.From != "" {
			errs.Add(prefix+".value", "value cannot be combined with from")
		} else if ok && kind == metrics.Counter && *rec.Value < 0 {
			errs.Add(prefix+".value", "counter values cannot be negative")
		}
	}
}

var placeholderPattern = regexp.MustCompile(`\{\{[^{}]*\}\}`)

// validateExtract validates an extract configuration.
func validateExtract(prefix string, extract *ExtractConfig, errs *ValidationErrors) {
	if extract.Name == "" {
		errs.Add(prefix+".name", "name is required")
	}

	switch extract.Source {
	case "", "body", "status":
	case "header":
		if extract.Path == "" {
			errs.Add(prefix+".path", "path is required for header extraction")
		}
	default:
		errs.Add(prefix+".source", fmt.Sprintf("invalid source: %s", extract.Source))
	}

	if extract.Regex != "" {
		if _, err := regexp.Compile(extract.Regex); err != nil {
			errs.Add(prefix+".regex", fmt.Sprintf("invalid regex: %v", err))
		}
	}
}
