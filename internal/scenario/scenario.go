// Package scenario builds an iteration task from a declarative list of HTTP
// steps with templated values, checks and response extraction.
package scenario

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/runerr"
	"github.com/wesleyorama2/stampede/internal/vu"
)

// Check is a named assertion evaluated against every response of a step.
// Every set field must hold for the check to pass.
type Check struct {
	Name         string
	Status       int
	MaxDuration  time.Duration
	BodyContains string
	// JSONPath must exist in the body. When Equals is set the value at the
	// path must also equal it.
	JSONPath string
	Equals   string
}

// Extract stores a value from a response into the VU's variables.
type Extract struct {
	Name string
	// Source is body, header or status. Defaults to body.
	Source string
	// Path is a JSON path for body and a header name for header.
	Path string
	// Regex, when set, is applied to the source value and its first capture
	// group (or whole match) is stored.
	Regex string

	re *regexp.Regexp
}

// Record adds a value to a custom metric after every response of a step.
type Record struct {
	Metric string
	// From selects the value: duration (milliseconds), status, size (body
	// bytes) or check:<name> (1 when the step's named check held, else 0).
	// Empty records Value.
	From  string
	Value float64
	Tags  map[string]string
}

// Step is one request of an iteration.
type Step struct {
	Name      string
	Method    string
	URL       string
	Headers   map[string]string
	Body      string
	Timeout   time.Duration
	ThinkTime time.Duration
	Tags      map[string]string
	Checks    []Check
	Extract   []Extract
	Records   []Record
}

// Scenario runs its steps in order on every iteration.
type Scenario struct {
	vars  map[string]string
	steps []Step
}

var _ vu.Task = (*Scenario)(nil)

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true, http.MethodDelete: true,
	http.MethodPatch: true, http.MethodHead: true, http.MethodOptions: true,
}

// New validates steps and returns a Scenario. vars are the lowest-priority
// template values.
func New(vars map[string]string, steps []Step) (*Scenario, error) {
	if len(steps) == 0 {
		return nil, runerr.Configf("scenario", "at least one request is required")
	}

	out := make([]Step, len(steps))
	for i, st := range steps {
		st.Method = strings.ToUpper(st.Method)
		if st.Method == "" {
			st.Method = http.MethodGet
		}
		if !validMethods[st.Method] {
			return nil, runerr.Configf("scenario", "request %d: invalid HTTP method %q", i, st.Method)
		}
		if st.URL == "" {
			return nil, runerr.Configf("scenario", "request %d: url is required", i)
		}
		if st.Name == "" {
			st.Name = st.URL
		}

		st.Checks = append([]Check(nil), st.Checks...)
		for j := range st.Checks {
			if st.Checks[j].Name == "" {
				st.Checks[j].Name = fmt.Sprintf("%s check %d", st.Name, j+1)
			}
		}

		st.Extract = append([]Extract(nil), st.Extract...)
		for j := range st.Extract {
			ex := &st.Extract[j]
			if ex.Name == "" {
				return nil, runerr.Configf("scenario", "request %q: extract %d has no name", st.Name, j)
			}
			switch ex.Source {
			case "":
				ex.Source = "body"
			case "body", "header", "status":
			default:
				return nil, runerr.Configf("scenario", "request %q: invalid extract source %q", st.Name, ex.Source)
			}
			if ex.Regex != "" {
				re, err := regexp.Compile(ex.Regex)
				if err != nil {
					return nil, runerr.Config("scenario", fmt.Errorf("request %q: extract %q: %w", st.Name, ex.Name, err))
				}
				ex.re = re
			}
		}
		st.Records = append([]Record(nil), st.Records...)
		for j, rec := range st.Records {
			if !metrics.ValidName(rec.Metric) {
				return nil, runerr.Configf("scenario", "request %q: metrics[%d]: invalid metric name %q", st.Name, j, rec.Metric)
			}
			if err := validSource(rec.From, st.Checks); err != nil {
				return nil, runerr.Config("scenario", fmt.Errorf("request %q: metrics[%d]: %w", st.Name, j, err))
			}
		}
		out[i] = st
	}

	v := make(map[string]string, len(vars))
	for k, val := range vars {
		v[k] = val
	}
	return &Scenario{vars: v, steps: out}, nil
}

// Steps returns the validated steps.
func (s *Scenario) Steps() []Step {
	return append([]Step(nil), s.steps...)
}

// Run executes one iteration. A transport error fails the iteration; failed
// checks are recorded but do not.
func (s *Scenario) Run(it *vu.Context) error {
	for i := range s.steps {
		st := &s.steps[i]

		req := &vu.Request{
			Method:  st.Method,
			URL:     s.resolve(it, st.URL),
			Name:    st.Name,
			Tags:    st.Tags,
			Timeout: st.Timeout,
		}
		if st.Body != "" {
			req.Body = []byte(s.resolve(it, st.Body))
		}
		if len(st.Headers) > 0 {
			req.Headers = make(map[string]string, len(st.Headers))
			for k, v := range st.Headers {
				req.Headers[k] = s.resolve(it, v)
			}
		}

		resp, err := it.Request(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", st.Method, st.Name, err)
		}

		tags := map[string]string{"name": st.Name}
		var held map[string]bool
		if len(st.Records) > 0 {
			held = make(map[string]bool, len(st.Checks))
		}
		for _, c := range st.Checks {
			ok := it.Check(c.Name, c.holds(resp), tags)
			if held != nil {
				held[c.Name] = ok
			}
		}
		for _, rec := range st.Records {
			if err := it.Record(rec.Metric, rec.value(resp, held), rec.tags(tags)); err != nil {
				return fmt.Errorf("%s %s: %w", st.Method, st.Name, err)
			}
		}
		for j := range st.Extract {
			ex := &st.Extract[j]
			if value, ok := ex.from(resp); ok {
				it.VU().SetData(ex.Name, value)
			} else {
				it.Logger().Debug("extract found nothing",
					zap.String("request", st.Name),
					zap.String("variable", ex.Name))
			}
		}

		if st.ThinkTime > 0 && i < len(s.steps)-1 {
			if err := it.Sleep(st.ThinkTime); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c Check) holds(resp *vu.Response) bool {
	if c.Status != 0 && resp.Status != c.Status {
		return false
	}
	if c.MaxDuration > 0 && resp.Duration > c.MaxDuration {
		return false
	}
	if c.BodyContains != "" && !strings.Contains(string(resp.Body), c.BodyContains) {
		return false
	}
	if c.JSONPath != "" {
		r := resp.JSON(GJSONPath(c.JSONPath))
		if !r.Exists() {
			return false
		}
		if c.Equals != "" && r.String() != c.Equals {
			return false
		}
	}
	if c.Status == 0 && c.MaxDuration == 0 && c.BodyContains == "" && c.JSONPath == "" {
		return resp.OK()
	}
	return true
}

func validSource(from string, checks []Check) error {
	switch from {
	case "", "duration", "status", "size":
		return nil
	}
	name, ok := strings.CutPrefix(from, "check:")
	if !ok {
		return fmt.Errorf("invalid source %q", from)
	}
	for _, c := range checks {
		if c.Name == name {
			return nil
		}
	}
	return fmt.Errorf("source %q names no check of this request", from)
}

func (r Record) value(resp *vu.Response, held map[string]bool) float64 {
	switch r.From {
	case "":
		return r.Value
	case "duration":
		return metrics.D(resp.Duration)
	case "status":
		return float64(resp.Status)
	case "size":
		return float64(len(resp.Body))
	default:
		if held[strings.TrimPrefix(r.From, "check:")] {
			return 1
		}
		return 0
	}
}

func (r Record) tags(base map[string]string) map[string]string {
	if len(r.Tags) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(r.Tags))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range r.Tags {
		out[k] = v
	}
	return out
}

func (ex *Extract) from(resp *vu.Response) (string, bool) {
	var value string
	switch ex.Source {
	case "header":
		value = resp.Headers.Get(ex.Path)
	case "status":
		value = fmt.Sprintf("%d", resp.Status)
	default:
		if ex.Path == "" {
			value = string(resp.Body)
			break
		}
		r := resp.JSON(GJSONPath(ex.Path))
		if !r.Exists() {
			return "", false
		}
		value = r.String()
	}

	if ex.re != nil {
		m := ex.re.FindStringSubmatch(value)
		switch {
		case m == nil:
			return "", false
		case len(m) > 1:
			value = m[1]
		default:
			value = m[0]
		}
	}
	return value, value != ""
}
