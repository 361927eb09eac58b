package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wesleyorama2/stampede/internal/metrics"
)

// Expression is one parsed condition such as "p(95)<150".
type Expression struct {
	Source      string
	Aggregation string
	Operator    string
	Limit       float64
}

var expressionRegex = regexp.MustCompile(
	`^(count|rate|value|min|max|avg|med|p\(\s*([0-9]+(?:\.[0-9]+)?)\s*\))\s*(<=|>=|===|==|!=|<|>)\s*(-?[0-9]+(?:\.[0-9]+)?(?:[eE][-+]?[0-9]+)?)$`,
)

// ParseExpression parses an aggregation/operator/literal expression.
func ParseExpression(raw string) (Expression, error) {
	src := strings.TrimSpace(raw)
	m := expressionRegex.FindStringSubmatch(src)
	if m == nil {
		return Expression{}, fmt.Errorf("invalid threshold expression %q", raw)
	}

	agg := m[1]
	if m[2] != "" {
		p, err := strconv.ParseFloat(m[2], 64)
		if err != nil || p < 0 || p > 100 {
			return Expression{}, fmt.Errorf("threshold expression %q: percentile must be within 0-100", raw)
		}
		agg = "p(" + strconv.FormatFloat(p, 'f', -1, 64) + ")"
	}

	limit, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Expression{}, fmt.Errorf("threshold expression %q: %w", raw, err)
	}

	op := m[3]
	if op == "===" {
		op = "=="
	}
	return Expression{Source: src, Aggregation: agg, Operator: op, Limit: limit}, nil
}

// Holds reports whether observed satisfies the expression.
func (e Expression) Holds(observed float64) bool {
	return compareValues(observed, e.Operator, e.Limit)
}

// String returns the normalized form, e.g. "p(95)<150".
func (e Expression) String() string {
	return e.Aggregation + e.Operator + strconv.FormatFloat(e.Limit, 'f', -1, 64)
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}

// compatible reports whether aggregation agg applies to kind.
func compatible(kind metrics.Kind, agg string) bool {
	switch kind {
	case metrics.Counter:
		return agg == "count" || agg == "rate"
	case metrics.Gauge:
		return agg == "value" || agg == "min" || agg == "max"
	case metrics.Rate:
		return agg == "rate"
	case metrics.Trend:
		switch agg {
		case "avg", "min", "max", "med":
			return true
		}
		return strings.HasPrefix(agg, "p(")
	}
	return false
}
