// Package memory provides the deterministic in-memory primary store used in
// development and tests. Every customer is synthesised once from the FNV hash
// of their id, so the same id always yields the same data within a process.
package memory

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/sources"
	"github.com/solsticehq/centra/internal/store"
)

var (
	lifeAreaCategories = []string{"health", "career", "relationships", "finances", "growth", "recreation"}
	entryCategories    = []string{"workout", "sleep", "nutrition", "meditation", "journaling"}
	journeyStages      = []string{"foundation", "momentum", "mastery"}
	actionTemplates    = []string{
		"completed daily check-in",
		"logged a workout session",
		"reviewed weekly goals",
		"finished a reflection exercise",
		"updated a life-area goal",
	}
	supplementNames = []string{"Vitamin D3", "Omega-3", "Magnesium", "Creatine", "Zinc"}
)

// Config controls store construction.
type Config struct {
	// Customers restricts the store to an explicit set of ids. Empty means
	// any non-blank id is synthesised on demand (the dev default).
	Customers []string
	// Clock overrides time.Now for reproducible timestamps.
	Clock func() time.Time
}

type record struct {
	profile     schema.Profile
	lifeAreas   []schema.LifeArea
	entries     []schema.Entry
	progress    schema.Progress
	supplements []schema.Supplement
}

// Store is the in-memory implementation of the primary store contract.
type Store struct {
	clock   func() time.Time
	allowed map[string]struct{}

	mu      sync.Mutex
	records map[string]*record
}

var _ store.Store = (*Store)(nil)

// New constructs the store.
func New(cfg Config) *Store {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &Store{
		clock:   clock,
		records: make(map[string]*record),
	}
	if len(cfg.Customers) > 0 {
		s.allowed = make(map[string]struct{}, len(cfg.Customers))
		for _, id := range cfg.Customers {
			s.allowed[id] = struct{}{}
		}
	}
	return s
}

// Bundle returns the required sections for a customer.
func (s *Store) Bundle(ctx context.Context, customerID string) (*schema.Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(customerID)
	if err != nil {
		return nil, err
	}
	bundle := &schema.Bundle{
		Profile:       rec.profile,
		LifeAreas:     rec.lifeAreas,
		RecentEntries: rec.entries,
		Progress:      rec.progress,
	}
	return bundle.Clone(), nil
}

// Supplements returns the customer's inventory.
func (s *Store) Supplements(ctx context.Context, customerID string) ([]schema.Supplement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(customerID)
	if err != nil {
		return nil, err
	}
	return append([]schema.Supplement(nil), rec.supplements...), nil
}

// UpdateProfile applies a partial profile mutation.
func (s *Store) UpdateProfile(ctx context.Context, customerID string, params store.UpdateProfileParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.record(customerID)
	if err != nil {
		return err
	}
	if params.Email != nil {
		email := strings.TrimSpace(*params.Email)
		if email == "" || !strings.Contains(email, "@") {
			return errs.Validation("store", "email", "valid email required")
		}
		rec.profile.Email = email
	}
	if params.DisplayName != nil {
		name := strings.TrimSpace(*params.DisplayName)
		if name == "" {
			return errs.Validation("store", "displayName", "display name required")
		}
		rec.profile.DisplayName = name
	}
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}

// record returns the synthetic record for customerID, creating it on first
// access. Caller must hold the mutex.
func (s *Store) record(customerID string) (*record, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, errs.Validation("store", "customerId", "customer id required")
	}
	if s.allowed != nil {
		if _, ok := s.allowed[id]; !ok {
			return nil, errs.New("store", errs.CodeNotFound,
				errs.WithMessage("customer "+id+" not found"))
		}
	}
	if rec, ok := s.records[id]; ok {
		return rec, nil
	}
	rec := s.synthesize(id)
	s.records[id] = rec
	return rec, nil
}

// synthesize builds the deterministic dataset for one customer.
func (s *Store) synthesize(customerID string) *record {
	seed := sources.Seed(customerID)
	rng := rand.New(rand.NewSource(int64(seed))) // #nosec G404 -- synthetic fixture data.
	now := s.clock()

	accountAgeDays := int(seed % 1000)
	createdAt := now.AddDate(0, 0, -accountAgeDays)

	rec := &record{
		profile: schema.Profile{
			Email:          fmt.Sprintf("%s@example.com", customerID),
			DisplayName:    displayName(rng),
			AccountAgeDays: accountAgeDays,
			CreatedAt:      createdAt,
		},
	}

	areaCount := 4 + rng.Intn(3)
	for i := 0; i < areaCount && i < len(lifeAreaCategories); i++ {
		history := make([]schema.ScorePoint, 4+rng.Intn(8))
		for j := range history {
			history[j] = schema.ScorePoint{
				Score:      30 + rng.Intn(70),
				RecordedAt: now.AddDate(0, 0, -7*(len(history)-j)),
			}
		}
		rec.lifeAreas = append(rec.lifeAreas, schema.LifeArea{
			Category:     lifeAreaCategories[i],
			Score:        30 + rng.Intn(70),
			Trend:        []schema.Trend{schema.TrendUp, schema.TrendDown, schema.TrendStable}[rng.Intn(3)],
			Goal:         fmt.Sprintf("improve %s step by step", lifeAreaCategories[i]),
			Notes:        fmt.Sprintf("coach notes for %s captured during the last review", lifeAreaCategories[i]),
			ScoreHistory: history,
			UpdatedAt:    now.AddDate(0, 0, -rng.Intn(14)),
		})
	}

	entryCount := 10 + rng.Intn(store.MaxRecentEntries-9)
	for i := 0; i < entryCount; i++ {
		rec.entries = append(rec.entries, schema.Entry{
			Category:   entryCategories[rng.Intn(len(entryCategories))],
			Value:      float64(rng.Intn(120)) + rng.Float64(),
			RecordedAt: now.Add(-time.Duration(i*6+rng.Intn(6)) * time.Hour),
		})
	}

	challenges := make([]string, rng.Intn(12))
	for i := range challenges {
		challenges[i] = fmt.Sprintf("challenge-%02d", i+1)
	}
	actions := make([]schema.ActionRecord, 6+rng.Intn(18))
	for i := range actions {
		actions[i] = schema.ActionRecord{
			Action:     actionTemplates[rng.Intn(len(actionTemplates))],
			RecordedAt: now.Add(-time.Duration(i*12) * time.Hour),
		}
	}
	rec.progress = schema.Progress{
		Stage:               journeyStages[min(accountAgeDays/365, len(journeyStages)-1)],
		StepIndex:           rng.Intn(10),
		StepProgress:        float64(rng.Intn(101)) / 100,
		CompletedChallenges: challenges,
		TotalPoints:         len(challenges)*50 + rng.Intn(500),
		ActionHistory:       actions,
	}

	supplementCount := rng.Intn(4)
	for i := 0; i < supplementCount; i++ {
		rec.supplements = append(rec.supplements, schema.Supplement{
			Name:      supplementNames[(i+rng.Intn(2))%len(supplementNames)],
			Dosage:    fmt.Sprintf("%d mg daily", (1+rng.Intn(5))*100),
			UnitPrice: decimal.NewFromInt(int64(9 + rng.Intn(30))).Add(decimal.NewFromFloat(0.99)),
			Active:    rng.Intn(4) != 0,
		})
	}

	return rec
}

func displayName(rng *rand.Rand) string {
	first := []string{"Alex", "Sam", "Jordan", "Riley", "Casey", "Morgan", "Jamie", "Taylor"}
	last := []string{"Lee", "Kim", "Rivera", "Novak", "Haas", "Okafor", "Ito", "Berg"}
	return first[rng.Intn(len(first))] + " " + last[rng.Intn(len(last))]
}
