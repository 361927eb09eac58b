package metrics

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// ErrInvalidValue is returned when an observation cannot be recorded.
var ErrInvalidValue = errors.New("invalid metric value")

// series is the exact accumulator for one (metric, tag set) pair. Callers
// hold the owning metric's lock.
type series struct {
	tags TagSet

	count   int64
	sum     float64
	min     float64
	max     float64
	trues   int64
	last    float64
	lastSeq uint64
}

func (s *series) add(v float64, seq uint64) {
	if s.count == 0 || v < s.min {
		s.min = v
	}
	if s.count == 0 || v > s.max {
		s.max = v
	}
	s.count++
	s.sum += v
	if v != 0 {
		s.trues++
	}
	s.last = v
	s.lastSeq = seq
}

// distribution is a trend histogram for every observation whose tags
// contain selector. Callers hold the owning metric's lock.
type distribution struct {
	selector TagSet
	hist     *hdrhistogram.Histogram
	highest  int64
}

func newDistribution(selector TagSet, cfg Config) *distribution {
	return &distribution{
		selector: selector,
		hist:     cfg.newHistogram(),
		highest:  int64(cfg.TrendMaxValue * trendScale),
	}
}

func (d *distribution) record(v float64) {
	_ = d.hist.RecordValue(histValue(v, d.highest))
}

func histValue(v float64, highest int64) int64 {
	if v <= 0 {
		return 0
	}
	scaled := int64(math.Round(v * trendScale))
	if scaled > highest {
		return highest
	}
	return scaled
}

// Aggregate is a point-in-time view of a metric, possibly restricted to a
// tag sub-selection.
type Aggregate struct {
	Kind     Kind
	Contains ValueType

	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Trues int64
	Last  float64

	// dist is shared with the metric and read under owner.
	dist  *distribution
	owner *sync.Mutex
}

func (a *Aggregate) merge(s *series) {
	if s.count == 0 {
		return
	}
	if a.Count == 0 || s.min < a.Min {
		a.Min = s.min
	}
	if a.Count == 0 || s.max > a.Max {
		a.Max = s.max
	}
	a.Count += s.count
	a.Sum += s.sum
	a.Trues += s.trues
}

// Empty reports whether no observation matched.
func (a Aggregate) Empty() bool {
	return a.Count == 0
}

// Avg returns the arithmetic mean.
func (a Aggregate) Avg() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// Rate returns trues/total for Rate metrics.
func (a Aggregate) Rate() float64 {
	if a.Count == 0 {
		return 0
	}
	return float64(a.Trues) / float64(a.Count)
}

// PerSecond returns Sum divided by elapsed seconds for Counter metrics.
func (a Aggregate) PerSecond(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return a.Sum / elapsed.Seconds()
}

// Percentile estimates the p-th percentile (0-100) of a Trend.
//
// The estimate is within 10^-TrendSigFigs relative error of the exact
// nearest-rank value and is always inside [Min, Max]. The distribution is
// read when Percentile is called, so observations recorded after the
// snapshot may shift the estimate. Aggregates of untracked selectors have
// no distribution and report the mean.
func (a Aggregate) Percentile(p float64) float64 {
	if a.Count == 0 {
		return 0
	}
	if p <= 0 {
		return a.Min
	}
	if p >= 100 {
		return a.Max
	}
	if a.dist == nil {
		return a.Avg()
	}
	a.owner.Lock()
	v := float64(a.dist.hist.ValueAtQuantile(p)) / trendScale
	a.owner.Unlock()
	return math.Min(math.Max(v, a.Min), a.Max)
}

// Med returns the 50th percentile.
func (a Aggregate) Med() float64 {
	return a.Percentile(50)
}

// Value resolves a threshold aggregation name such as "avg" or "p(95)".
// ok is false when the aggregation does not apply to the metric kind.
func (a Aggregate) Value(agg string, elapsed time.Duration) (v float64, ok bool) {
	switch a.Kind {
	case Counter:
		switch agg {
		case "count":
			return a.Sum, true
		case "rate":
			return a.PerSecond(elapsed), true
		}
	case Gauge:
		switch agg {
		case "value":
			return a.Last, true
		case "min":
			return a.Min, true
		case "max":
			return a.Max, true
		}
	case Rate:
		if agg == "rate" {
			return a.Rate(), true
		}
	case Trend:
		switch agg {
		case "avg":
			return a.Avg(), true
		case "min":
			return a.Min, true
		case "max":
			return a.Max, true
		case "med":
			return a.Med(), true
		}
		var p float64
		if _, err := fmt.Sscanf(agg, "p(%g)", &p); err == nil {
			return a.Percentile(p), true
		}
	}
	return 0, false
}

// Stats renders the aggregate as the named values reported in run summaries.
func (a Aggregate) Stats(elapsed time.Duration) map[string]float64 {
	switch a.Kind {
	case Counter:
		return map[string]float64{
			"count": a.Sum,
			"rate":  a.PerSecond(elapsed),
		}
	case Gauge:
		return map[string]float64{
			"value": a.Last,
			"min":   a.Min,
			"max":   a.Max,
		}
	case Rate:
		return map[string]float64{
			"rate":   a.Rate(),
			"passes": float64(a.Trues),
			"fails":  float64(a.Count - a.Trues),
		}
	case Trend:
		return map[string]float64{
			"count": float64(a.Count),
			"avg":   a.Avg(),
			"min":   a.Min,
			"med":   a.Med(),
			"max":   a.Max,
			"p(90)": a.Percentile(90),
			"p(95)": a.Percentile(95),
			"p(99)": a.Percentile(99),
		}
	}
	return nil
}
