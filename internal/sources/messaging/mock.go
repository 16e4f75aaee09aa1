package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/sources"
)

// Mock records deliveries in memory for development and tests.
type Mock struct {
	latency *sources.Latency
	clock   func() time.Time

	mu   sync.Mutex
	sent map[string][]schema.Notification
}

// NewMock constructs the mock provider.
func NewMock(opts sources.Options) *Mock {
	return &Mock{
		latency: sources.NewLatency("messaging", opts.LatencyMin, opts.LatencyMax),
		clock:   opts.Clock,
		sent:    make(map[string][]schema.Notification),
	}
}

func (m *Mock) Name() string { return "mock" }

// Configured always holds for the mock.
func (m *Mock) Configured() bool { return true }

// HealthCheck simulates one upstream round trip and reports healthy.
func (m *Mock) HealthCheck(ctx context.Context) error {
	return m.latency.Simulate(ctx)
}

// Send validates and records the notification, minting an id when absent.
func (m *Mock) Send(ctx context.Context, note schema.Notification) error {
	if err := note.Validate(); err != nil {
		return err
	}
	if err := m.latency.Simulate(ctx); err != nil {
		return err
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[note.CustomerID] = append(m.sent[note.CustomerID], note)
	return nil
}

// Sent returns the recorded deliveries for a customer, oldest first.
func (m *Mock) Sent(customerID string) []schema.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.Notification(nil), m.sent[customerID]...)
}
