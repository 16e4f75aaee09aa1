// Package aggregate assembles customer contexts from the primary store and
// the optional capability sources, applying cache, breaker, and cost-budget
// policy in one place.
package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/breaker"
	"github.com/solsticehq/centra/internal/budget"
	"github.com/solsticehq/centra/internal/cache"
	"github.com/solsticehq/centra/internal/observability"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/sources/crm"
	"github.com/solsticehq/centra/internal/sources/messaging"
	"github.com/solsticehq/centra/internal/sources/scheduling"
	"github.com/solsticehq/centra/internal/store"
	"github.com/solsticehq/centra/internal/telemetry"
)

// Breaker names guard each downstream dependency independently.
const (
	BreakerStore       = "store"
	BreakerCRM         = "crm"
	BreakerScheduling  = "scheduling"
	BreakerSupplements = "supplements"
)

const (
	// DefaultMaxCost bounds assembled contexts unless overridden per call.
	DefaultMaxCost = 8000

	defaultSourceTimeout = 2 * time.Second
	defaultContextTTL    = 5 * time.Minute
	defaultSectionTTL    = 2 * time.Minute
)

// ContextKey is the cache key holding a customer's assembled context.
func ContextKey(customerID string) string {
	return "customer:" + customerID + ":context"
}

// SectionKey is the cache key holding one optional section.
func SectionKey(customerID, section string) string {
	return "customer:" + customerID + ":" + section
}

// CustomerPattern matches every cache key belonging to a customer.
func CustomerPattern(customerID string) string {
	return "customer:" + customerID + ":*"
}

// ResultCache stores assembled results. cache.Local and cache.Remote both
// satisfy it; Get returns (nil, nil) on a clean miss.
type ResultCache interface {
	Get(ctx context.Context, key string) (*budget.Result, error)
	Set(ctx context.Context, key string, result *budget.Result, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
	Stats() cache.Stats
}

// Notifier is the dispatcher contract; notifications handed over here are
// fire-and-forget.
type Notifier interface {
	Dispatch(note schema.Notification) error
}

// Config carries the assembly policy knobs.
type Config struct {
	MaxCost       int
	SourceTimeout time.Duration
	ContextTTL    time.Duration
	SectionTTL    time.Duration
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxCost <= 0 {
		c.MaxCost = DefaultMaxCost
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = defaultSourceTimeout
	}
	if c.ContextTTL <= 0 {
		c.ContextTTL = defaultContextTTL
	}
	if c.SectionTTL <= 0 {
		c.SectionTTL = defaultSectionTTL
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Deps are the collaborators the manager coordinates. Store is required.
// A nil capability service means that source is disabled and its section is
// skipped without being treated as a failure.
type Deps struct {
	Store      store.Store
	CRM        crm.Service
	Scheduling scheduling.Service
	Messaging  messaging.Service
	Dispatcher Notifier

	Results  ResultCache
	Sections *cache.Cache[any]
	Breakers *breaker.Registry
	Metrics  *telemetry.Metrics
}

// Manager owns the assembly path. All collaborators are injected at
// construction; there are no globals.
type Manager struct {
	store      store.Store
	crm        crm.Service
	scheduling scheduling.Service
	messaging  messaging.Service
	dispatcher Notifier

	results  ResultCache
	sections *cache.Cache[any]
	breakers *breaker.Registry
	metrics  *telemetry.Metrics
	cfg      Config

	statsMu   sync.Mutex
	lastStats map[string]cache.Stats
}

// NewManager wires a manager. Missing caches and breaker registry fall back
// to in-process defaults so tests can construct one from a store alone.
func NewManager(deps Deps, cfg Config) (*Manager, error) {
	if deps.Store == nil {
		return nil, errs.New("aggregate", errs.CodeConfig, errs.WithMessage("store required"))
	}
	cfg = cfg.withDefaults()
	if deps.Results == nil {
		deps.Results = cache.NewLocal(cache.Config{TTL: cfg.ContextTTL, Clock: cfg.Clock})
	}
	if deps.Sections == nil {
		deps.Sections = cache.New[any](cache.Config{TTL: cfg.SectionTTL, Clock: cfg.Clock})
	}
	if deps.Breakers == nil {
		deps.Breakers = breaker.NewRegistry(breaker.Config{Clock: cfg.Clock}, nil)
	}
	return &Manager{
		store:      deps.Store,
		crm:        deps.CRM,
		scheduling: deps.Scheduling,
		messaging:  deps.Messaging,
		dispatcher: deps.Dispatcher,
		results:    deps.Results,
		sections:   deps.Sections,
		breakers:   deps.Breakers,
		metrics:    deps.Metrics,
		cfg:        cfg,
		lastStats:  make(map[string]cache.Stats),
	}, nil
}

// Option adjusts one assembly request.
type Option func(*request)

type request struct {
	maxCost int
}

// WithMaxCost overrides the cost budget for this request.
func WithMaxCost(n int) Option {
	return func(r *request) {
		if n > 0 {
			r.maxCost = n
		}
	}
}

// Breakers exposes the registry for health and ops surfaces.
func (m *Manager) Breakers() *breaker.Registry { return m.breakers }

// CustomerContext assembles the customer's context: cache first, then the
// required store bundle through its breaker, then the optional sections
// concurrently, then budget enforcement. Optional-source failures degrade
// the context; only cache-miss-plus-store-failure is an error.
func (m *Manager) CustomerContext(ctx context.Context, customerID string, opts ...Option) (*budget.Result, error) {
	if customerID == "" {
		return nil, errs.Validation("aggregate", "customerId", "customer id required")
	}
	req := request{maxCost: m.cfg.MaxCost}
	for _, opt := range opts {
		opt(&req)
	}

	started := m.cfg.Clock()
	log := observability.Log()

	key := ContextKey(customerID)
	if cached, err := m.results.Get(ctx, key); err != nil {
		log.Warn("context cache read failed", observability.String("key", key), observability.Err(err))
	} else if cached != nil {
		m.metrics.RecordAssembly(ctx, telemetry.ResultHit, m.sinceMillis(started))
		return cached, nil
	}

	bundle, err := breaker.Do(ctx, m.breakers.Get(BreakerStore), func(ctx context.Context) (*schema.Bundle, error) {
		return m.store.Bundle(ctx, customerID)
	})
	if err != nil {
		m.metrics.RecordAssembly(ctx, telemetry.ResultError, m.sinceMillis(started))
		return nil, fmt.Errorf("aggregate customer %s: %w", customerID, err)
	}

	now := m.cfg.Clock()
	cc := &schema.CustomerContext{
		CustomerID:    customerID,
		FetchedAt:     now,
		Profile:       bundle.Profile,
		LifeAreas:     bundle.LifeAreas,
		RecentEntries: bundle.RecentEntries,
		Progress:      bundle.Progress,
	}
	cc.Stamp(schema.SectionProfile, now)
	cc.Stamp(schema.SectionLifeAreas, now)
	cc.Stamp(schema.SectionRecentEntries, now)
	cc.Stamp(schema.SectionProgress, now)

	m.fetchOptional(ctx, cc)

	rawCost := budget.EstimateContext(cc)
	m.metrics.RecordContextCost(ctx, telemetry.StageRaw, rawCost)

	reduced, report := budget.Reduce(cc, req.maxCost)
	if len(report.DiscardedFields) > 0 {
		m.metrics.RecordReduction(ctx, len(report.DiscardedFields))
		log.Info("context reduced to budget",
			observability.String("customer", customerID),
			observability.Int("originalCost", report.OriginalCost),
			observability.Int("finalCost", report.FinalCost))
	}
	m.metrics.RecordContextCost(ctx, telemetry.StageReduced, report.FinalCost)

	result := &budget.Result{Context: reduced, Report: report}
	if err := m.results.Set(ctx, key, result, m.cfg.ContextTTL); err != nil {
		log.Error("context cache write failed", observability.String("key", key), observability.Err(err))
	}
	m.metrics.RecordAssembly(ctx, telemetry.ResultAssembled, m.sinceMillis(started))
	return result, nil
}

// fetchOptional runs the optional section fetches concurrently, each under
// its own deadline, breaker, and section cache entry. Failures leave the
// section unset.
func (m *Manager) fetchOptional(ctx context.Context, cc *schema.CustomerContext) {
	var (
		crmCtx      *schema.CRMContext
		schedCtx    *schema.SchedulingContext
		supplements []schema.Supplement
	)

	var group conc.WaitGroup
	if m.crm != nil {
		group.Go(func() {
			v, err := fetchSection(ctx, m, cc.CustomerID, schema.SectionCRM, BreakerCRM,
				func(ctx context.Context) (*schema.CRMContext, error) {
					return m.crm.Context(ctx, cc.CustomerID)
				})
			if err == nil {
				crmCtx = v
			}
		})
	}
	if m.scheduling != nil {
		group.Go(func() {
			v, err := fetchSection(ctx, m, cc.CustomerID, schema.SectionScheduling, BreakerScheduling,
				func(ctx context.Context) (*schema.SchedulingContext, error) {
					return m.scheduling.Context(ctx, cc.CustomerID)
				})
			if err == nil {
				schedCtx = v
			}
		})
	}
	group.Go(func() {
		v, err := fetchSection(ctx, m, cc.CustomerID, schema.SectionSupplements, BreakerSupplements,
			func(ctx context.Context) ([]schema.Supplement, error) {
				return m.store.Supplements(ctx, cc.CustomerID)
			})
		if err == nil {
			supplements = v
		}
	})
	group.Wait()

	now := m.cfg.Clock()
	if crmCtx != nil {
		cc.CRM = crmCtx
		cc.Stamp(schema.SectionCRM, now)
	}
	if schedCtx != nil {
		cc.Scheduling = schedCtx
		cc.Stamp(schema.SectionScheduling, now)
	}
	if supplements != nil {
		cc.Supplements = supplements
		cc.Stamp(schema.SectionSupplements, now)
	}
}

// fetchSection resolves one optional section through the section cache and
// the named breaker with the per-fetch deadline applied.
func fetchSection[T any](ctx context.Context, m *Manager, customerID, section, breakerName string, fetch func(context.Context) (T, error)) (T, error) {
	started := m.cfg.Clock()
	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.SourceTimeout)
	defer cancel()

	raw, err := m.sections.GetOrFetch(fetchCtx, SectionKey(customerID, section), func(ctx context.Context) (any, error) {
		return breaker.Do(ctx, m.breakers.Get(breakerName), func(ctx context.Context) (T, error) {
			return fetch(ctx)
		})
	}, m.cfg.SectionTTL)
	if err != nil {
		m.metrics.RecordSourceFetch(ctx, section, telemetry.ResultOmitted, m.sinceMillis(started))
		observability.Log().Warn("optional section omitted",
			observability.Correlation(ctx),
			observability.String("customer", customerID),
			observability.String("section", section),
			observability.Err(err))
		var zero T
		return zero, err
	}

	value, ok := raw.(T)
	if !ok {
		var zero T
		m.metrics.RecordSourceFetch(ctx, section, telemetry.ResultError, m.sinceMillis(started))
		return zero, errs.New("aggregate", errs.CodeUnavailable,
			errs.WithMessage("section "+section+" cached with unexpected type"))
	}
	m.metrics.RecordSourceFetch(ctx, section, telemetry.ResultSuccess, m.sinceMillis(started))
	return value, nil
}

// LogInteraction records a CRM interaction and invalidates the customer's
// CRM section and assembled context after success.
func (m *Manager) LogInteraction(ctx context.Context, customerID string, interaction schema.Interaction) (string, error) {
	if m.crm == nil {
		return "", errs.New("aggregate", errs.CodeUnavailable, errs.WithMessage("crm source disabled"))
	}
	id, err := breaker.Do(ctx, m.breakers.Get(BreakerCRM), func(ctx context.Context) (string, error) {
		return m.crm.LogInteraction(ctx, customerID, interaction)
	})
	if err != nil {
		return "", err
	}
	m.invalidateSection(ctx, customerID, schema.SectionCRM)
	return id, nil
}

// BookAppointment books a slot and invalidates the scheduling section after
// success.
func (m *Manager) BookAppointment(ctx context.Context, customerID string, req schema.BookingRequest) (*schema.Appointment, error) {
	if m.scheduling == nil {
		return nil, errs.New("aggregate", errs.CodeUnavailable, errs.WithMessage("scheduling source disabled"))
	}
	appt, err := breaker.Do(ctx, m.breakers.Get(BreakerScheduling), func(ctx context.Context) (*schema.Appointment, error) {
		return m.scheduling.Book(ctx, customerID, req)
	})
	if err != nil {
		return nil, err
	}
	m.invalidateSection(ctx, customerID, schema.SectionScheduling)
	return appt, nil
}

// CancelAppointment cancels a scheduled appointment and invalidates the
// scheduling section after success.
func (m *Manager) CancelAppointment(ctx context.Context, customerID, appointmentID string) error {
	if m.scheduling == nil {
		return errs.New("aggregate", errs.CodeUnavailable, errs.WithMessage("scheduling source disabled"))
	}
	_, err := breaker.Do(ctx, m.breakers.Get(BreakerScheduling), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.scheduling.Cancel(ctx, customerID, appointmentID)
	})
	if err != nil {
		return err
	}
	m.invalidateSection(ctx, customerID, schema.SectionScheduling)
	return nil
}

// UpdateProfile applies a profile mutation and invalidates the assembled
// context; the profile lives in the required bundle, not a section.
func (m *Manager) UpdateProfile(ctx context.Context, customerID string, params store.UpdateProfileParams) error {
	_, err := breaker.Do(ctx, m.breakers.Get(BreakerStore), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.store.UpdateProfile(ctx, customerID, params)
	})
	if err != nil {
		return err
	}
	if cerr := m.results.Invalidate(ctx, ContextKey(customerID)); cerr != nil {
		observability.Log().Error("context invalidation failed",
			observability.String("customer", customerID), observability.Err(cerr))
	}
	return nil
}

// InvalidateCustomer removes every cached key for the customer, returning
// the number of entries dropped.
func (m *Manager) InvalidateCustomer(ctx context.Context, customerID string) int {
	pattern := CustomerPattern(customerID)
	removed := m.sections.InvalidatePattern(pattern)
	n, err := m.results.InvalidatePattern(ctx, pattern)
	if err != nil {
		observability.Log().Error("context invalidation failed",
			observability.String("customer", customerID), observability.Err(err))
	}
	return removed + n
}

// Availability passes through to the scheduling source.
func (m *Manager) Availability(ctx context.Context, from, to time.Time) ([]schema.Slot, error) {
	if m.scheduling == nil {
		return nil, errs.New("aggregate", errs.CodeUnavailable, errs.WithMessage("scheduling source disabled"))
	}
	return breaker.Do(ctx, m.breakers.Get(BreakerScheduling), func(ctx context.Context) ([]schema.Slot, error) {
		return m.scheduling.Availability(ctx, from, to)
	})
}

// Upcoming passes through to the scheduling source.
func (m *Manager) Upcoming(ctx context.Context, customerID string) ([]schema.Appointment, error) {
	if m.scheduling == nil {
		return nil, errs.New("aggregate", errs.CodeUnavailable, errs.WithMessage("scheduling source disabled"))
	}
	return breaker.Do(ctx, m.breakers.Get(BreakerScheduling), func(ctx context.Context) ([]schema.Appointment, error) {
		return m.scheduling.Upcoming(ctx, customerID)
	})
}

// Past passes through to the scheduling source.
func (m *Manager) Past(ctx context.Context, customerID string) ([]schema.Appointment, error) {
	if m.scheduling == nil {
		return nil, errs.New("aggregate", errs.CodeUnavailable, errs.WithMessage("scheduling source disabled"))
	}
	return breaker.Do(ctx, m.breakers.Get(BreakerScheduling), func(ctx context.Context) ([]schema.Appointment, error) {
		return m.scheduling.Past(ctx, customerID)
	})
}

// SendNotification hands the notification to the dispatcher when wired, else
// delivers synchronously through the messaging source.
func (m *Manager) SendNotification(ctx context.Context, note schema.Notification) error {
	if err := note.Validate(); err != nil {
		return err
	}
	if m.dispatcher != nil {
		return m.dispatcher.Dispatch(note)
	}
	if m.messaging == nil {
		return errs.New("aggregate", errs.CodeUnavailable, errs.WithMessage("messaging source disabled"))
	}
	return m.messaging.Send(ctx, note)
}

// CacheStats reports result and section cache counters for ops surfaces.
func (m *Manager) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		"results":  m.results.Stats(),
		"sections": m.sections.Stats(),
	}
}

// FlushCacheMetrics mirrors cache counter deltas onto the telemetry bundle.
// The entrypoint calls this periodically alongside the janitor.
func (m *Manager) FlushCacheMetrics(ctx context.Context) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	for backend, stats := range m.CacheStats() {
		prev := m.lastStats[backend]
		m.metrics.RecordCacheAccess(ctx, backend,
			int64(stats.Hits-prev.Hits),
			int64(stats.Misses-prev.Misses),
			int64(stats.Evictions-prev.Evictions))
		m.lastStats[backend] = stats
	}
}

// CacheCleanup sweeps expired entries from the in-process caches.
func (m *Manager) CacheCleanup() int {
	removed := m.sections.Cleanup()
	if sweeper, ok := m.results.(interface{ Cleanup() int }); ok {
		removed += sweeper.Cleanup()
	}
	return removed
}

func (m *Manager) invalidateSection(ctx context.Context, customerID, section string) {
	m.sections.Invalidate(SectionKey(customerID, section))
	if err := m.results.Invalidate(ctx, ContextKey(customerID)); err != nil {
		observability.Log().Error("context invalidation failed",
			observability.String("customer", customerID), observability.Err(err))
	}
}

func (m *Manager) sinceMillis(started time.Time) float64 {
	return float64(m.cfg.Clock().Sub(started)) / float64(time.Millisecond)
}
