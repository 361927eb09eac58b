// Package metrics implements the run-wide metric registry.
//
// A Metric has a fixed name and Kind and holds one exact accumulator per
// distinct TagSet. Recording takes only the metric's own lock, so unrelated
// metrics never contend. Aggregates are built on demand from the per-tag-set
// series and may be filtered by a tag sub-selection.
//
// Trend distributions are not kept per tag set. A Trend metric owns one
// histogram for all of its observations plus one per tracked selector
// (see Metric.Track), so memory does not grow with tag cardinality.
package metrics

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Kind is the aggregation kind of a metric.
type Kind int

const (
	// Counter sums observed values.
	Counter Kind = iota + 1
	// Gauge keeps the last written value along with min and max.
	Gauge
	// Rate tracks the fraction of non-zero observations.
	Rate
	// Trend keeps a streaming distribution of observed values.
	Trend
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Rate:
		return "rate"
	case Trend:
		return "trend"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind converts a kind name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "counter":
		return Counter, nil
	case "gauge":
		return Gauge, nil
	case "rate":
		return Rate, nil
	case "trend":
		return Trend, nil
	default:
		return 0, fmt.Errorf("unknown metric kind %q", s)
	}
}

// ValueType describes the unit of a metric's values.
type ValueType int

const (
	// Default is a plain number.
	Default ValueType = iota
	// Time values are milliseconds.
	Time
	// Data values are bytes.
	Data
)

// String returns the value type name.
func (v ValueType) String() string {
	switch v {
	case Time:
		return "time"
	case Data:
		return "data"
	default:
		return "default"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v ValueType) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// ParseValueType parses a value type name. The empty string selects Default.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return Default, nil
	case "time":
		return Time, nil
	case "data":
		return Data, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", s)
	}
}

var nameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]{0,127}$`)

// ValidName reports whether name is a legal metric name.
func ValidName(name string) bool {
	return nameRegex.MatchString(name)
}

// D converts a duration into the millisecond float used by Time metrics.
func D(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Metric is a named, kinded accumulator. Obtain one through Registry.NewMetric.
type Metric struct {
	Name     string
	Kind     Kind
	Contains ValueType

	cfg Config

	mu      sync.Mutex
	series  map[string]*series
	dist    *distribution
	tracked map[string]*distribution
	seq     uint64
}

func newMetric(name string, kind Kind, contains ValueType, cfg Config) *Metric {
	m := &Metric{
		Name:     name,
		Kind:     kind,
		Contains: contains,
		cfg:      cfg,
		series:   make(map[string]*series),
	}
	if kind == Trend {
		m.dist = newDistribution(TagSet{}, cfg)
		m.tracked = make(map[string]*distribution)
	}
	return m
}

// Track keeps a dedicated distribution for observations whose tags contain
// selector, so percentiles of Snapshot(selector) carry the configured
// precision. It is a no-op for non-Trend metrics and for the empty selector,
// which is always tracked.
//
// Only observations recorded after Track are counted in the selector's
// distribution. Call it before the run starts.
func (m *Metric) Track(selector TagSet) {
	if m.Kind != Trend || selector.Len() == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tracked[selector.Key()]; !ok {
		m.tracked[selector.Key()] = newDistribution(selector, m.cfg)
	}
}

// Add records one observation under tags.
//
// Non-finite values are rejected for every kind; counters additionally
// reject negative values.
func (m *Metric) Add(value float64, tags TagSet) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("metric %s: %w: %v", m.Name, ErrInvalidValue, value)
	}
	if m.Kind == Counter && value < 0 {
		return fmt.Errorf("metric %s: %w: counter cannot decrease (%v)", m.Name, ErrInvalidValue, value)
	}

	key := tags.Key()

	m.mu.Lock()
	s, ok := m.series[key]
	if !ok {
		s = &series{tags: tags}
		m.series[key] = s
	}
	m.seq++
	s.add(value, m.seq)
	if m.dist != nil {
		m.dist.record(value)
		for _, d := range m.tracked {
			if tags.Contains(d.selector) {
				d.record(value)
			}
		}
	}
	m.mu.Unlock()

	return nil
}

// Snapshot merges every series whose tags contain selector.
// An empty selector matches all series.
//
// For Trend metrics the aggregate reads percentiles from the metric-wide
// distribution or from the selector's tracked one. Untracked selectors
// have exact count, sum, min and max but no distribution.
func (m *Metric) Snapshot(selector TagSet) Aggregate {
	agg := Aggregate{Kind: m.Kind, Contains: m.Contains}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dist != nil {
		agg.owner = &m.mu
		if selector.Len() == 0 {
			agg.dist = m.dist
		} else {
			agg.dist = m.tracked[selector.Key()]
		}
	}

	var lastSeq uint64
	for _, s := range m.series {
		if !s.tags.Contains(selector) {
			continue
		}
		agg.merge(s)
		if s.lastSeq > lastSeq {
			lastSeq = s.lastSeq
			agg.Last = s.last
		}
	}
	return agg
}

// TagSets returns the distinct tag sets observed so far, ordered by key.
func (m *Metric) TagSets() []TagSet {
	m.mu.Lock()
	out := make([]TagSet, 0, len(m.series))
	for _, s := range m.series {
		out = append(out, s.tags)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Config controls trend accuracy and range.
type Config struct {
	// TrendSigFigs is the number of significant decimal digits kept by the
	// trend histograms (1-5).
	TrendSigFigs int
	// TrendMaxValue is the largest trend value tracked exactly by the
	// histogram, in metric units. Larger values saturate.
	TrendMaxValue float64
}

// DefaultConfig keeps three significant digits up to one hour of milliseconds.
func DefaultConfig() Config {
	return Config{
		TrendSigFigs:  3,
		TrendMaxValue: float64(time.Hour / time.Millisecond),
	}
}

// trendScale is the number of histogram units per metric unit.
const trendScale = 1000

func (c Config) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(1, int64(c.TrendMaxValue*trendScale), c.TrendSigFigs)
}
