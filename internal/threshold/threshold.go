// Package threshold parses pass/fail criteria and evaluates them against the
// metric registry.
//
// A threshold binds a selector ("http_req_duration{status:200}") to one or
// more expressions ("p(95)<150"). Expressions on the same selector are ANDed.
// Evaluation is pure: it reads registry snapshots and never mutates state, so
// it can run repeatedly during a run for abort checks.
package threshold

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/runerr"
)

// Spec is the configuration form of a single expression.
type Spec struct {
	Expression     string
	AbortOnFail    bool
	DelayAbortEval time.Duration
}

// Condition is a parsed expression together with its abort policy.
type Condition struct {
	Expression
	AbortOnFail    bool
	DelayAbortEval time.Duration
}

// Threshold is a parsed selector with its ANDed conditions.
type Threshold struct {
	Selector   Selector
	Conditions []Condition
}

// Thresholds is an ordered threshold list.
type Thresholds []*Threshold

// Parse parses a selector-to-specs mapping. Thresholds are ordered by
// selector text. Any parse failure is a configuration error.
func Parse(raw map[string][]Spec) (Thresholds, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Thresholds, 0, len(keys))
	seen := make(map[string]string, len(keys))
	for _, key := range keys {
		sel, err := ParseSelector(key)
		if err != nil {
			return nil, runerr.Config("parse thresholds", err)
		}
		if prev, dup := seen[sel.String()]; dup {
			return nil, runerr.Configf("parse thresholds", "selectors %q and %q are identical", prev, key)
		}
		seen[sel.String()] = key

		specs := raw[key]
		if len(specs) == 0 {
			return nil, runerr.Configf("parse thresholds", "threshold %q has no expressions", key)
		}

		th := &Threshold{Selector: sel}
		for _, spec := range specs {
			expr, err := ParseExpression(spec.Expression)
			if err != nil {
				return nil, runerr.Config("parse thresholds", fmt.Errorf("%s: %w", key, err))
			}
			if spec.DelayAbortEval < 0 {
				return nil, runerr.Configf("parse thresholds", "%s: delayAbortEval cannot be negative", key)
			}
			th.Conditions = append(th.Conditions, Condition{
				Expression:     expr,
				AbortOnFail:    spec.AbortOnFail,
				DelayAbortEval: spec.DelayAbortEval,
			})
		}
		out = append(out, th)
	}
	return out, nil
}

// ParseStrings is Parse for plain expression lists.
func ParseStrings(raw map[string][]string) (Thresholds, error) {
	specs := make(map[string][]Spec, len(raw))
	for k, exprs := range raw {
		for _, e := range exprs {
			specs[k] = append(specs[k], Spec{Expression: e})
		}
		if len(exprs) == 0 {
			specs[k] = nil
		}
	}
	return Parse(specs)
}

// Validate checks every aggregation against the kind of metrics already in
// reg. Metrics that do not exist yet are skipped; they fail at evaluation
// time if they never appear.
func (ts Thresholds) Validate(reg *metrics.Registry) error {
	for _, th := range ts {
		m := reg.Get(th.Selector.Metric)
		if m == nil {
			continue
		}
		for _, c := range th.Conditions {
			if !compatible(m.Kind, c.Aggregation) {
				return runerr.Configf("validate thresholds",
					"%s: aggregation %q is not supported by %s metric %q",
					th.Selector, c.Aggregation, m.Kind, m.Name)
			}
		}
	}
	return nil
}

// Selectors returns the selectors that carry a tag sub-selection.
func (ts Thresholds) Selectors() []Selector {
	var out []Selector
	for _, th := range ts {
		if th.Selector.Tags.Len() > 0 {
			out = append(out, th.Selector)
		}
	}
	return out
}

// HasAbort reports whether any condition requests abortOnFail.
func (ts Thresholds) HasAbort() bool {
	for _, th := range ts {
		for _, c := range th.Conditions {
			if c.AbortOnFail {
				return true
			}
		}
	}
	return false
}

// Evaluate computes a fresh verdict. elapsed is the run time so far; it
// drives per-second counter rates and abort delays.
func (ts Thresholds) Evaluate(reg *metrics.Registry, elapsed time.Duration) *Verdict {
	v := &Verdict{Passed: true, Elapsed: elapsed}

	for _, th := range ts {
		res := Result{Selector: th.Selector.String(), Metric: th.Selector.Metric, Passed: true}

		agg, found := reg.Snapshot(th.Selector.Metric, th.Selector.Tags)
		noData := !found || agg.Empty()

		for _, c := range th.Conditions {
			cr := ConditionResult{
				Expression:     c.Source,
				AbortOnFail:    c.AbortOnFail,
				DelayAbortEval: c.DelayAbortEval,
			}
			switch {
			case noData:
				cr.NoData = true
				cr.Reason = "no data: metric was never observed"
			default:
				observed, ok := agg.Value(c.Aggregation, elapsed)
				if !ok {
					cr.Reason = fmt.Sprintf("aggregation %s is not supported by %s metric", c.Aggregation, agg.Kind)
					break
				}
				cr.Observed = observed
				cr.Passed = c.Holds(observed)
				if !cr.Passed {
					cr.Reason = fmt.Sprintf("%s is %s, want %s %s",
						c.Aggregation, formatValue(observed), c.Operator, formatValue(c.Limit))
				}
			}

			if !cr.Passed {
				res.Passed = false
			}
			res.Conditions = append(res.Conditions, cr)
		}

		if !res.Passed {
			v.Passed = false
		}
		v.Results = append(v.Results, res)
	}
	return v
}

// Verdict is the outcome of one evaluation. It is not modified after Evaluate returns.
type Verdict struct {
	Passed  bool          `json:"passed"`
	Elapsed time.Duration `json:"elapsed"`
	Results []Result      `json:"results"`
}

// Result is the outcome for one selector.
type Result struct {
	Selector   string            `json:"selector"`
	Metric     string            `json:"metric"`
	Passed     bool              `json:"passed"`
	Conditions []ConditionResult `json:"conditions"`
}

// ConditionResult is the outcome for one expression.
type ConditionResult struct {
	Expression     string        `json:"expression"`
	Passed         bool          `json:"passed"`
	Observed       float64       `json:"observed"`
	NoData         bool          `json:"noData,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	AbortOnFail    bool          `json:"abortOnFail,omitempty"`
	DelayAbortEval time.Duration `json:"delayAbortEval,omitempty"`
}

// ShouldAbort returns the first failing abortOnFail condition whose delay has
// elapsed. Conditions without data never trigger an abort.
func (v *Verdict) ShouldAbort() (reason string, abort bool) {
	for _, r := range v.Results {
		for _, c := range r.Conditions {
			if c.Passed || c.NoData || !c.AbortOnFail {
				continue
			}
			if v.Elapsed < c.DelayAbortEval {
				continue
			}
			return fmt.Sprintf("threshold %s %s crossed: %s", r.Selector, c.Expression, c.Reason), true
		}
	}
	return "", false
}

// Breached returns the selectors that failed, in evaluation order.
func (v *Verdict) Breached() []string {
	var out []string
	for _, r := range v.Results {
		if !r.Passed {
			out = append(out, r.Selector)
		}
	}
	return out
}

// String summarizes the verdict on one line.
func (v *Verdict) String() string {
	if v.Passed {
		return fmt.Sprintf("all %d thresholds passed", len(v.Results))
	}
	return "thresholds breached: " + strings.Join(v.Breached(), ", ")
}

func formatValue(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", f), "0"), ".")
}
