package crm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/sources"
)

// tagPool is the fixed vocabulary synthetic customers draw tags from.
var tagPool = []string{
	"newsletter",
	"premium",
	"trial",
	"referral",
	"at-risk",
	"engaged",
	"beta",
	"annual-plan",
}

const (
	stageCustomerAfterDays = 90
	stageLoyalAfterDays    = 365
)

// customerRecord is the synthetic per-customer state. Seeded once from the
// customer id so every call within a process sees the same customer.
type customerRecord struct {
	accountAgeDays int
	stage          schema.LifecycleStage
	tags           []string
	sentiment      schema.Sentiment
	openTickets    int
	interactions   []schema.Interaction
}

// Mock is the in-memory relationship-management provider used for development
// and tests.
type Mock struct {
	latency *sources.Latency
	clock   func() time.Time

	stateMu sync.Mutex
	state   map[string]*customerRecord
}

// NewMock constructs the mock provider.
func NewMock(opts sources.Options) *Mock {
	return &Mock{
		latency: sources.NewLatency("crm", opts.LatencyMin, opts.LatencyMax),
		clock:   opts.Clock,
		state:   make(map[string]*customerRecord),
	}
}

func (m *Mock) Name() string { return "mock" }

// Configured always holds for the mock; there are no credentials to miss.
func (m *Mock) Configured() bool { return true }

// HealthCheck simulates one upstream round trip and reports healthy.
func (m *Mock) HealthCheck(ctx context.Context) error {
	return m.latency.Simulate(ctx)
}

func (m *Mock) now() time.Time {
	if m.clock != nil {
		return m.clock()
	}
	return time.Now()
}

// record returns the synthetic state for customerID, seeding it on first use.
// Caller must hold stateMu.
func (m *Mock) record(customerID string) *customerRecord {
	if rec, ok := m.state[customerID]; ok {
		return rec
	}
	seed := sources.Seed(customerID)
	rec := &customerRecord{
		accountAgeDays: int(seed % 1000),
		sentiment:      []schema.Sentiment{schema.SentimentPositive, schema.SentimentNeutral, schema.SentimentNegative}[seed%3],
		openTickets:    int(seed % 4),
	}
	switch {
	case rec.accountAgeDays >= stageLoyalAfterDays:
		rec.stage = schema.StageLoyal
	case rec.accountAgeDays >= stageCustomerAfterDays:
		rec.stage = schema.StageCustomer
	default:
		rec.stage = schema.StageLead
	}
	for i, tag := range tagPool {
		if seed>>(uint(i)+8)&1 == 1 {
			rec.tags = append(rec.tags, tag)
		}
	}
	rec.interactions = []schema.Interaction{{
		ID:         uuid.NewString(),
		Kind:       []schema.InteractionKind{schema.InteractionCall, schema.InteractionEmail, schema.InteractionChat}[seed%3],
		OccurredAt: m.now().AddDate(0, 0, -int(seed%28)-1),
		Summary:    "onboarding check-in",
		Sentiment:  rec.sentiment,
	}}
	m.state[customerID] = rec
	return rec
}

// LifecycleStage reports where the customer sits in the funnel.
func (m *Mock) LifecycleStage(ctx context.Context, customerID string) (schema.LifecycleStage, error) {
	if err := m.latency.Simulate(ctx); err != nil {
		return "", err
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.record(customerID).stage, nil
}

// Tags returns the customer's tag set.
func (m *Mock) Tags(ctx context.Context, customerID string) ([]string, error) {
	if err := m.latency.Simulate(ctx); err != nil {
		return nil, err
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return append([]string(nil), m.record(customerID).tags...), nil
}

// LogInteraction appends a touchpoint, minting an id when absent.
func (m *Mock) LogInteraction(ctx context.Context, customerID string, interaction schema.Interaction) (string, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", errs.Validation("crm", "customerId", "customer id required")
	}
	if !interaction.Kind.Valid() {
		return "", errs.Validation("crm", "kind", "kind must be call, email, chat, or note")
	}
	if err := m.latency.Simulate(ctx); err != nil {
		return "", err
	}
	if interaction.ID == "" {
		interaction.ID = uuid.NewString()
	}
	if interaction.OccurredAt.IsZero() {
		interaction.OccurredAt = m.now()
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	rec := m.record(customerID)
	rec.interactions = append(rec.interactions, interaction)
	if interaction.Sentiment != "" {
		rec.sentiment = interaction.Sentiment
	}
	return interaction.ID, nil
}

// OpenTickets reports the customer's open support ticket count.
func (m *Mock) OpenTickets(ctx context.Context, customerID string) (int, error) {
	if err := m.latency.Simulate(ctx); err != nil {
		return 0, err
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.record(customerID).openTickets, nil
}

// Context assembles the consolidated CRM section for aggregation.
func (m *Mock) Context(ctx context.Context, customerID string) (*schema.CRMContext, error) {
	if err := m.latency.Simulate(ctx); err != nil {
		return nil, err
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	rec := m.record(customerID)

	out := &schema.CRMContext{
		LifecycleStage: rec.stage,
		Tags:           append([]string(nil), rec.tags...),
		Sentiment:      rec.sentiment,
		OpenTickets:    rec.openTickets,
	}
	if n := len(rec.interactions); n > 0 {
		last := rec.interactions[n-1]
		out.LastInteraction = &last
	}
	return out, nil
}
