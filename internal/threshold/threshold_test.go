package threshold_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/runerr"
	"github.com/wesleyorama2/stampede/internal/threshold"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		raw    string
		metric string
		tags   map[string]string
	}{
		{"http_req_duration", "http_req_duration", map[string]string{}},
		{"http_req_duration{status:200}", "http_req_duration", map[string]string{"status": "200"}},
		{"http_req_duration{ status : 200 , name:login }", "http_req_duration", map[string]string{"status": "200", "name": "login"}},
		{`checks{check:"status is 200"}`, "checks", map[string]string{"check": "status is 200"}},
		{`http_req_duration{url:http://host:8080/x}`, "http_req_duration", map[string]string{"url": "http://host:8080/x"}},
		{"errors{}", "errors", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			sel, err := threshold.ParseSelector(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.metric, sel.Metric)
			assert.Equal(t, tt.tags, sel.Tags.Map())
		})
	}
}

func TestParseSelectorErrors(t *testing.T) {
	for _, raw := range []string{
		"",
		"http req",
		"http_req_duration{status:200",
		"http_req_duration{status}",
		`http_req_duration{name:"unterminated}`,
		"http_req_duration{a:1,a:2}",
	} {
		_, err := threshold.ParseSelector(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseExpression(t *testing.T) {
	tests := []struct {
		raw   string
		agg   string
		op    string
		limit float64
	}{
		{"p(95)<150", "p(95)", "<", 150},
		{"p( 99.9 ) <= 2000", "p(99.9)", "<=", 2000},
		{"rate<0.01", "rate", "<", 0.01},
		{"count>20", "count", ">", 20},
		{"value>9", "value", ">", 9},
		{"max<2000", "max", "<", 2000},
		{"avg === 3", "avg", "==", 3},
		{"med != -1.5", "med", "!=", -1.5},
		{"  min>=1e3 ", "min", ">=", 1000},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			e, err := threshold.ParseExpression(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.agg, e.Aggregation)
			assert.Equal(t, tt.op, e.Operator)
			assert.Equal(t, tt.limit, e.Limit)
		})
	}
}

func TestParseExpressionErrors(t *testing.T) {
	for _, raw := range []string{"", "p95<150", "p(101)<1", "rate", "rate<", "rate<abc", "stddev<1", "rate=>1"} {
		_, err := threshold.ParseExpression(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseIsConfigurationError(t *testing.T) {
	_, err := threshold.ParseStrings(map[string][]string{"http_req_duration": {"p(95)<>1"}})
	assert.True(t, errors.Is(err, runerr.ErrConfiguration))

	_, err = threshold.ParseStrings(map[string][]string{"http_req_duration": {}})
	assert.True(t, errors.Is(err, runerr.ErrConfiguration))
}

func TestParseOrdersBySelector(t *testing.T) {
	ts, err := threshold.ParseStrings(map[string][]string{
		"iterations":        {"count>1"},
		"checks":            {"rate>0.9"},
		"http_req_duration": {"p(95)<500"},
	})
	require.NoError(t, err)
	require.Len(t, ts, 3)
	assert.Equal(t, "checks", ts[0].Selector.Metric)
	assert.Equal(t, "http_req_duration", ts[1].Selector.Metric)
	assert.Equal(t, "iterations", ts[2].Selector.Metric)
}

func TestValidateKindCompatibility(t *testing.T) {
	reg := metrics.NewRegistry()
	_, err := metrics.RegisterBuiltins(reg)
	require.NoError(t, err)

	ok, err := threshold.ParseStrings(map[string][]string{
		"http_req_duration": {"p(95)<500", "avg<200"},
		"http_req_failed":   {"rate<0.01"},
		"http_reqs":         {"count>10", "rate>1"},
		"vus":               {"value>0", "max<100"},
		"custom_metric":     {"p(99)<1"},
	})
	require.NoError(t, err)
	assert.NoError(t, ok.Validate(reg))

	bad, err := threshold.ParseStrings(map[string][]string{"http_req_failed": {"p(95)<1"}})
	require.NoError(t, err)
	assert.True(t, errors.Is(bad.Validate(reg), runerr.ErrConfiguration))
}

func newRegistry(t *testing.T) (*metrics.Registry, *metrics.BuiltinMetrics) {
	t.Helper()
	reg := metrics.NewRegistry()
	b, err := metrics.RegisterBuiltins(reg)
	require.NoError(t, err)
	return reg, b
}

func TestEvaluatePassAndFail(t *testing.T) {
	reg, b := newRegistry(t)
	for i := 0; i < 100; i++ {
		require.NoError(t, b.HTTPReqDuration.Add(80, metrics.Tags("status", "200")))
		require.NoError(t, b.HTTPReqFailed.Add(0, metrics.Tags("status", "200")))
		require.NoError(t, b.HTTPReqs.Add(1, metrics.Tags("status", "200")))
	}

	ts, err := threshold.ParseStrings(map[string][]string{
		"http_req_duration": {"p(95)<150", "max<2000"},
		"http_req_failed":   {"rate<0.01"},
		"http_reqs":         {"count>20"},
	})
	require.NoError(t, err)

	v := ts.Evaluate(reg, 10*time.Second)
	assert.True(t, v.Passed)
	assert.Empty(t, v.Breached())

	strict, err := threshold.ParseStrings(map[string][]string{"http_req_duration": {"max<2000", "p(95)<50"}})
	require.NoError(t, err)
	v = strict.Evaluate(reg, 10*time.Second)
	assert.False(t, v.Passed)
	require.Len(t, v.Results, 1)
	assert.True(t, v.Results[0].Conditions[0].Passed)
	assert.False(t, v.Results[0].Conditions[1].Passed)
	assert.InDelta(t, 80, v.Results[0].Conditions[1].Observed, 0.1)
	assert.Equal(t, []string{"http_req_duration"}, v.Breached())
}

func TestEvaluateNoDataFails(t *testing.T) {
	reg, _ := newRegistry(t)

	ts, err := threshold.ParseStrings(map[string][]string{
		"my_counter":        {"count>20"},
		"http_req_duration": {"p(95)<150"},
	})
	require.NoError(t, err)

	v := ts.Evaluate(reg, time.Second)
	assert.False(t, v.Passed)
	for _, r := range v.Results {
		assert.False(t, r.Passed)
		assert.True(t, r.Conditions[0].NoData)
	}
}

func TestEvaluateTagSelection(t *testing.T) {
	reg, b := newRegistry(t)
	for i := 0; i < 50; i++ {
		require.NoError(t, b.HTTPReqDuration.Add(100, metrics.Tags("status", "200")))
		require.NoError(t, b.HTTPReqDuration.Add(5000, metrics.Tags("status", "500")))
	}

	ts, err := threshold.ParseStrings(map[string][]string{
		"http_req_duration{status:200}": {"max<200"},
		"http_req_duration{status:404}": {"max<200"},
	})
	require.NoError(t, err)

	v := ts.Evaluate(reg, time.Second)
	require.Len(t, v.Results, 2)
	assert.True(t, v.Results[0].Passed)
	assert.False(t, v.Results[1].Passed)
	assert.True(t, v.Results[1].Conditions[0].NoData)
}

func TestEvaluateIsPure(t *testing.T) {
	reg, b := newRegistry(t)
	require.NoError(t, b.VUs.Add(10, metrics.TagSet{}))

	ts, err := threshold.ParseStrings(map[string][]string{"vus": {"value>9"}})
	require.NoError(t, err)

	first := ts.Evaluate(reg, time.Second)
	second := ts.Evaluate(reg, time.Second)
	assert.Equal(t, first, second)

	agg, _ := reg.Snapshot("vus", metrics.TagSet{})
	assert.EqualValues(t, 1, agg.Count)
}

func TestShouldAbort(t *testing.T) {
	reg, b := newRegistry(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, b.HTTPReqFailed.Add(1, metrics.TagSet{}))
	}

	ts, err := threshold.Parse(map[string][]threshold.Spec{
		"http_req_failed": {{Expression: "rate<0.01", AbortOnFail: true, DelayAbortEval: 10 * time.Second}},
		"unseen":          {{Expression: "count>1", AbortOnFail: true}},
	})
	require.NoError(t, err)
	assert.True(t, ts.HasAbort())

	_, abort := ts.Evaluate(reg, 5*time.Second).ShouldAbort()
	assert.False(t, abort, "delayAbortEval not reached")

	reason, abort := ts.Evaluate(reg, 11*time.Second).ShouldAbort()
	assert.True(t, abort)
	assert.Contains(t, reason, "http_req_failed")
}

func TestSelectorsWithTags(t *testing.T) {
	ts, err := threshold.ParseStrings(map[string][]string{
		"http_req_duration":             {"p(95)<1"},
		"http_req_duration{status:200}": {"p(95)<1"},
	})
	require.NoError(t, err)

	sels := ts.Selectors()
	require.Len(t, sels, 1)
	assert.Equal(t, "http_req_duration{status:200}", sels[0].String())
}
