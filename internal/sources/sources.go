// Package sources declares the capability contracts for optional external
// integrations and the registry that selects a provider per capability.
package sources

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/solsticehq/centra/errs"
)

// Capability names one optional integration surface.
type Capability string

const (
	CapabilityCRM        Capability = "crm"
	CapabilityScheduling Capability = "scheduling"
	CapabilityMessaging  Capability = "messaging"
)

// Source is the contract every provider satisfies regardless of capability.
type Source interface {
	Name() string
	Configured() bool
	HealthCheck(ctx context.Context) error
}

// Options carries provider construction settings taken from configuration.
type Options struct {
	Provider   string
	LatencyMin time.Duration
	LatencyMax time.Duration
	StreamURL  string
	// Clock overrides time.Now so mock state is reproducible in tests.
	Clock func() time.Time
}

func (o Options) clock() func() time.Time {
	if o.Clock != nil {
		return o.Clock
	}
	return time.Now
}

// Factory builds a provider instance for one capability.
type Factory func(opts Options) (Source, error)

// Registry maps capability/provider pairs to factories. Providers register
// themselves at wiring time; configuration validation consults Providers to
// reject unknown names eagerly.
type Registry struct {
	mu        sync.Mutex
	factories map[Capability]map[string]Factory
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Capability]map[string]Factory)}
}

// Register installs a factory under the capability and provider name.
func (r *Registry) Register(capability Capability, provider string, factory Factory) {
	if factory == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.factories[capability]
	if !ok {
		byName = make(map[string]Factory)
		r.factories[capability] = byName
	}
	byName[name] = factory
}

// Create materialises the provider selected in opts for the capability.
// Unknown providers are configuration errors.
func (r *Registry) Create(capability Capability, opts Options) (Source, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Provider))
	r.mu.Lock()
	factory, ok := r.factories[capability][name]
	r.mu.Unlock()
	if !ok {
		return nil, errs.New(string(capability), errs.CodeConfig,
			errs.WithMessage("unknown provider "+name))
	}
	return factory(opts)
}

// Providers lists the registered provider names for a capability.
func (r *Registry) Providers(capability Capability) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories[capability]))
	for name := range r.factories[capability] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Seed derives the deterministic per-customer seed driving synthetic mock
// state: the FNV-64a hash of the customer id.
func Seed(customerID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(customerID))
	return h.Sum64()
}

// Latency simulates upstream round-trip time with seeded jitter so mock call
// timing is plausible yet reproducible. A zero max disables the delay, which
// keeps unit tests sleep-free.
type Latency struct {
	min, max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLatency builds a latency simulator seeded from the provider name.
func NewLatency(name string, min, max time.Duration) *Latency {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return &Latency{
		min: min,
		max: max,
		rng: rand.New(rand.NewSource(int64(Seed(name)))), // #nosec G404 -- simulation jitter, not security material.
	}
}

// Simulate blocks for one jittered round trip, honouring ctx cancellation.
func (l *Latency) Simulate(ctx context.Context) error {
	if l == nil || l.max <= 0 {
		return nil
	}
	d := l.min
	if span := l.max - l.min; span > 0 {
		l.mu.Lock()
		d += time.Duration(l.rng.Int63n(int64(span)))
		l.mu.Unlock()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
