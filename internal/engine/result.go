package engine

import (
	"time"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/threshold"
)

// Result contains the outcome of a run.
type Result struct {
	RunID     string        `json:"runId"`
	Name      string        `json:"name"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Iterations       int64 `json:"iterations"`
	FailedIterations int64 `json:"failedIterations"`
	VUsMax           int   `json:"vusMax"`

	StopReason     string `json:"stopReason"`
	Aborted        bool   `json:"aborted"`
	AbortReason    string `json:"abortReason,omitempty"`
	ThresholdAbort bool   `json:"thresholdAbort,omitempty"`
	// HardStopped is true when draining exceeded the graceful stop window
	// and in-flight iterations were abandoned.
	HardStopped bool `json:"hardStopped"`

	// Metrics maps metric names, and tagged threshold selectors, to their
	// summary values.
	Metrics    map[string]MetricSummary `json:"metrics"`
	Thresholds *threshold.Verdict       `json:"thresholds"`

	// Passed is true when every threshold passed and the run was not aborted.
	Passed bool `json:"passed"`
}

// MetricSummary is the exported view of one metric or sub-metric.
type MetricSummary struct {
	Kind     metrics.Kind       `json:"type"`
	Contains metrics.ValueType  `json:"contains"`
	Values   map[string]float64 `json:"values"`
}

// Summarize renders every observed metric plus one entry per tagged
// selector. Metrics without observations are omitted.
func Summarize(reg *metrics.Registry, elapsed time.Duration, selectors []threshold.Selector) map[string]MetricSummary {
	out := make(map[string]MetricSummary)
	for _, m := range reg.All() {
		agg := m.Snapshot(metrics.TagSet{})
		if agg.Empty() {
			continue
		}
		out[m.Name] = MetricSummary{Kind: m.Kind, Contains: m.Contains, Values: agg.Stats(elapsed)}
	}

	for _, sel := range selectors {
		m := reg.Get(sel.Metric)
		if m == nil {
			continue
		}
		agg := m.Snapshot(sel.Tags)
		if agg.Empty() {
			continue
		}
		out[sel.String()] = MetricSummary{Kind: m.Kind, Contains: m.Contains, Values: agg.Stats(elapsed)}
	}
	return out
}
