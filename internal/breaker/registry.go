package breaker

import (
	"sort"
	"sync"
)

// Band classifies a dependency's rolling health.
type Band string

const (
	BandHealthy   Band = "healthy"
	BandDegraded  Band = "degraded"
	BandUnhealthy Band = "unhealthy"
)

const (
	healthyFloor  = 80
	degradedFloor = 50
)

// bandFor maps a health percentage to its band.
func bandFor(percent int) Band {
	switch {
	case percent >= healthyFloor:
		return BandHealthy
	case percent >= degradedFloor:
		return BandDegraded
	default:
		return BandUnhealthy
	}
}

// Health aggregates system-wide breaker health as band counts over the
// registered dependencies.
type Health struct {
	Status    Band `json:"status"`
	Healthy   int  `json:"healthy"`
	Degraded  int  `json:"degraded"`
	Unhealthy int  `json:"unhealthy"`
}

// Registry lazily creates one breaker per dependency name. Per-name config
// overrides take precedence over the registry default.
type Registry struct {
	mu        sync.Mutex
	defaults  Config
	overrides map[string]Config
	breakers  map[string]*Breaker
}

// NewRegistry constructs a registry with the given default breaker config and
// optional per-name overrides.
func NewRegistry(defaults Config, overrides map[string]Config) *Registry {
	return &Registry{
		defaults:  defaults,
		overrides: overrides,
		breakers:  make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg := r.defaults
	if override, ok := r.overrides[name]; ok {
		cfg = override
		if cfg.Clock == nil {
			cfg.Clock = r.defaults.Clock
		}
		if cfg.OnTransition == nil {
			cfg.OnTransition = r.defaults.OnTransition
		}
	}
	b := New(name, cfg)
	r.breakers[name] = b
	return b
}

// Lookup returns the breaker for name without creating one.
func (r *Registry) Lookup(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Names lists registered dependency names in stable order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot captures the stats of every registered breaker.
func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Health classifies every registered dependency into health bands and derives
// an overall status: unhealthy if any dependency is unhealthy, degraded if
// any is degraded, healthy otherwise (including an empty registry).
func (r *Registry) Health() Health {
	health := Health{Status: BandHealthy}
	for _, stats := range r.Snapshot() {
		switch bandFor(stats.HealthPercent) {
		case BandHealthy:
			health.Healthy++
		case BandDegraded:
			health.Degraded++
		case BandUnhealthy:
			health.Unhealthy++
		}
	}
	switch {
	case health.Unhealthy > 0:
		health.Status = BandUnhealthy
	case health.Degraded > 0:
		health.Status = BandDegraded
	}
	return health
}

// ResetAll forces every registered breaker Closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()
	for _, b := range breakers {
		b.Reset()
	}
}
