package metrics

import (
	"sort"
	"sync"

	"github.com/wesleyorama2/stampede/internal/runerr"
)

// Registry owns every metric of a run. Metric creation is idempotent by name.
type Registry struct {
	cfg Config

	mu      sync.RWMutex
	metrics map[string]*Metric
}

// NewRegistry creates a registry with DefaultConfig.
func NewRegistry() *Registry {
	return NewRegistryWithConfig(DefaultConfig())
}

// NewRegistryWithConfig creates a registry with custom trend settings.
// Out-of-range settings fall back to the defaults.
func NewRegistryWithConfig(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.TrendSigFigs < 1 || cfg.TrendSigFigs > 5 {
		cfg.TrendSigFigs = def.TrendSigFigs
	}
	if cfg.TrendMaxValue <= 0 {
		cfg.TrendMaxValue = def.TrendMaxValue
	}
	return &Registry{
		cfg:     cfg,
		metrics: make(map[string]*Metric),
	}
}

// Config returns the registry's trend settings.
func (r *Registry) Config() Config {
	return r.cfg
}

// NewMetric returns the metric called name, creating it when needed.
//
// Registering an existing name with a different kind is a configuration
// error. The value type is fixed by the first registration.
func (r *Registry) NewMetric(name string, kind Kind, contains ...ValueType) (*Metric, error) {
	if !ValidName(name) {
		return nil, runerr.Configf("register metric", "invalid metric name %q", name)
	}
	if kind < Counter || kind > Trend {
		return nil, runerr.Configf("register metric", "metric %q: invalid kind %d", name, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[name]; ok {
		if m.Kind != kind {
			return nil, runerr.Configf("register metric",
				"metric %q already registered as %s, cannot redefine as %s", name, m.Kind, kind)
		}
		return m, nil
	}

	vt := Default
	if len(contains) > 0 {
		vt = contains[0]
	}
	m := newMetric(name, kind, vt, r.cfg)
	r.metrics[name] = m
	return m, nil
}

// Get returns the metric called name, or nil.
func (r *Registry) Get(name string) *Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// All returns every registered metric ordered by name.
func (r *Registry) All() []*Metric {
	r.mu.RLock()
	out := make([]*Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot aggregates the named metric over series matching selector.
// ok is false when the metric does not exist.
func (r *Registry) Snapshot(name string, selector TagSet) (agg Aggregate, ok bool) {
	m := r.Get(name)
	if m == nil {
		return Aggregate{}, false
	}
	return m.Snapshot(selector), true
}
