package aggregate

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeStore struct {
	mu           sync.Mutex
	bundleCalls  int
	suppCalls    int
	bundleErr    error
	suppErr      error
	updateErr    error
	entries      int
	supplements  []schema.Supplement
	updateCalled bool
}

func (s *fakeStore) Bundle(_ context.Context, customerID string) (*schema.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundleCalls++
	if s.bundleErr != nil {
		return nil, s.bundleErr
	}
	base := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	entries := make([]schema.Entry, s.entries)
	for i := range entries {
		entries[i] = schema.Entry{
			Category:   "sleep",
			Value:      7.5,
			RecordedAt: base.Add(-time.Duration(i) * time.Hour),
		}
	}
	return &schema.Bundle{
		Profile: schema.Profile{
			Email:       customerID + "@example.com",
			DisplayName: "Test Customer",
			CreatedAt:   base.AddDate(-1, 0, 0),
		},
		LifeAreas: []schema.LifeArea{
			{Category: "fitness", Score: 70, Trend: schema.TrendUp, Goal: "run a marathon", Notes: strings.Repeat("gradual base building ", 10)},
		},
		RecentEntries: entries,
		Progress:      schema.Progress{Stage: "foundation", StepProgress: 0.5},
	}, nil
}

func (s *fakeStore) Supplements(context.Context, string) ([]schema.Supplement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppCalls++
	if s.suppErr != nil {
		return nil, s.suppErr
	}
	return s.supplements, nil
}

func (s *fakeStore) UpdateProfile(context.Context, string, store.UpdateProfileParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalled = true
	return s.updateErr
}

func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close()                     {}

func (s *fakeStore) counts() (bundles, supps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bundleCalls, s.suppCalls
}

type fakeCRM struct {
	mu        sync.Mutex
	calls     int
	err       error
	logCalls  int
	logErr    error
	sentiment schema.Sentiment
}

func (c *fakeCRM) Name() string                      { return "fake" }
func (c *fakeCRM) Configured() bool                  { return true }
func (c *fakeCRM) HealthCheck(context.Context) error { return nil }

func (c *fakeCRM) Context(context.Context, string) (*schema.CRMContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &schema.CRMContext{
		LifecycleStage: schema.StageCustomer,
		Sentiment:      c.sentiment,
		OpenTickets:    1,
	}, nil
}

func (c *fakeCRM) LifecycleStage(context.Context, string) (schema.LifecycleStage, error) {
	return schema.StageCustomer, nil
}

func (c *fakeCRM) Tags(context.Context, string) ([]string, error) { return nil, nil }

func (c *fakeCRM) LogInteraction(context.Context, string, schema.Interaction) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logCalls++
	if c.logErr != nil {
		return "", c.logErr
	}
	return "int-1", nil
}

func (c *fakeCRM) OpenTickets(context.Context, string) (int, error) { return 1, nil }

type fakeScheduling struct {
	mu      sync.Mutex
	calls   int
	err     error
	bookErr error
	booked  []schema.BookingRequest
}

func (s *fakeScheduling) Name() string                      { return "fake" }
func (s *fakeScheduling) Configured() bool                  { return true }
func (s *fakeScheduling) HealthCheck(context.Context) error { return nil }

func (s *fakeScheduling) Context(context.Context, string) (*schema.SchedulingContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &schema.SchedulingContext{CompletedCount: 4}, nil
}

func (s *fakeScheduling) Upcoming(context.Context, string) ([]schema.Appointment, error) {
	return []schema.Appointment{{ID: "appt-1", Status: schema.AppointmentScheduled}}, nil
}

func (s *fakeScheduling) Past(context.Context, string) ([]schema.Appointment, error) {
	return nil, nil
}

func (s *fakeScheduling) Availability(context.Context, time.Time, time.Time) ([]schema.Slot, error) {
	return []schema.Slot{}, nil
}

func (s *fakeScheduling) Book(_ context.Context, _ string, req schema.BookingRequest) (*schema.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bookErr != nil {
		return nil, s.bookErr
	}
	s.booked = append(s.booked, req)
	return &schema.Appointment{ID: "appt-new", Kind: req.Kind, StartAt: req.StartAt, EndAt: req.EndAt, Status: schema.AppointmentScheduled}, nil
}

func (s *fakeScheduling) Cancel(context.Context, string, string) error { return nil }

func (s *fakeScheduling) contextCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestManager(t *testing.T, st store.Store, crmSvc *fakeCRM, schedSvc *fakeScheduling) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	deps := Deps{Store: st}
	if crmSvc != nil {
		deps.CRM = crmSvc
	}
	if schedSvc != nil {
		deps.Scheduling = schedSvc
	}
	mgr, err := NewManager(deps, Config{Clock: clock.Now})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, clock
}

func TestCustomerContextAssemblesAllSections(t *testing.T) {
	st := &fakeStore{entries: 5, supplements: []schema.Supplement{{Name: "magnesium", Active: true}}}
	mgr, _ := newTestManager(t, st, &fakeCRM{sentiment: schema.SentimentPositive}, &fakeScheduling{})

	result, err := mgr.CustomerContext(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("CustomerContext: %v", err)
	}
	cc := result.Context
	if cc.CRM == nil || cc.CRM.LifecycleStage != schema.StageCustomer {
		t.Fatalf("expected crm section, got %+v", cc.CRM)
	}
	if cc.Scheduling == nil || cc.Scheduling.CompletedCount != 4 {
		t.Fatalf("expected scheduling section, got %+v", cc.Scheduling)
	}
	if len(cc.Supplements) != 1 {
		t.Fatalf("expected supplements section, got %d", len(cc.Supplements))
	}
	if cc.Cost <= 0 {
		t.Fatalf("expected positive cost, got %d", cc.Cost)
	}
	if !result.Report.FullyPreserved {
		t.Fatalf("small context should be fully preserved: %+v", result.Report)
	}
	for _, section := range []string{schema.SectionProfile, schema.SectionCRM, schema.SectionScheduling, schema.SectionSupplements} {
		if _, ok := cc.Freshness[section]; !ok {
			t.Fatalf("missing freshness stamp for %s", section)
		}
	}
}

func TestCustomerContextCRMFailureDegrades(t *testing.T) {
	st := &fakeStore{entries: 3}
	failing := &fakeCRM{err: errs.New("crm", errs.CodeUnavailable, errs.WithMessage("connection refused"))}
	mgr, _ := newTestManager(t, st, failing, &fakeScheduling{})

	result, err := mgr.CustomerContext(context.Background(), "cust-2")
	if err != nil {
		t.Fatalf("optional source failure must not fail assembly: %v", err)
	}
	if result.Context.CRM != nil {
		t.Fatalf("failing crm must leave section unset, got %+v", result.Context.CRM)
	}
	if result.Context.Scheduling == nil {
		t.Fatal("healthy scheduling section should still be present")
	}
	if _, ok := result.Context.Freshness[schema.SectionCRM]; ok {
		t.Fatal("omitted section must not carry a freshness stamp")
	}
}

func TestCustomerContextStoreFailureAborts(t *testing.T) {
	st := &fakeStore{bundleErr: errs.New("store", errs.CodeUnavailable, errs.WithMessage("postgres unreachable"))}
	mgr, _ := newTestManager(t, st, nil, nil)

	if _, err := mgr.CustomerContext(context.Background(), "cust-3"); err == nil {
		t.Fatal("store failure must abort assembly")
	} else if errs.CodeOf(err) != errs.CodeUnavailable {
		t.Fatalf("expected unavailable code through wrapping, got %v", err)
	}
}

func TestCustomerContextNotFoundPropagates(t *testing.T) {
	st := &fakeStore{bundleErr: errs.New("store", errs.CodeNotFound, errs.WithMessage("customer missing"))}
	mgr, _ := newTestManager(t, st, nil, nil)

	_, err := mgr.CustomerContext(context.Background(), "ghost")
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestCustomerContextCacheHit(t *testing.T) {
	st := &fakeStore{entries: 2}
	mgr, _ := newTestManager(t, st, &fakeCRM{}, &fakeScheduling{})

	first, err := mgr.CustomerContext(context.Background(), "cust-4")
	if err != nil {
		t.Fatalf("first assembly: %v", err)
	}
	second, err := mgr.CustomerContext(context.Background(), "cust-4")
	if err != nil {
		t.Fatalf("second assembly: %v", err)
	}
	if bundles, _ := st.counts(); bundles != 1 {
		t.Fatalf("cache hit must not refetch the bundle, got %d calls", bundles)
	}
	if !second.Context.FetchedAt.Equal(first.Context.FetchedAt) {
		t.Fatal("cache hit must return the originally assembled context")
	}
	if len(second.Report.DiscardedFields) != len(first.Report.DiscardedFields) {
		t.Fatal("cache hit must carry the original reduction report")
	}
}

func TestCustomerContextCacheExpiry(t *testing.T) {
	st := &fakeStore{entries: 2}
	mgr, clock := newTestManager(t, st, nil, nil)

	if _, err := mgr.CustomerContext(context.Background(), "cust-5"); err != nil {
		t.Fatalf("first assembly: %v", err)
	}
	clock.Advance(6 * time.Minute)
	if _, err := mgr.CustomerContext(context.Background(), "cust-5"); err != nil {
		t.Fatalf("second assembly: %v", err)
	}
	if bundles, _ := st.counts(); bundles != 2 {
		t.Fatalf("expired context must be reassembled, got %d bundle calls", bundles)
	}
}

func TestCustomerContextReducesToBudget(t *testing.T) {
	st := &fakeStore{entries: 40}
	mgr, _ := newTestManager(t, st, &fakeCRM{}, &fakeScheduling{})

	result, err := mgr.CustomerContext(context.Background(), "cust-6", WithMaxCost(1000))
	if err != nil {
		t.Fatalf("CustomerContext: %v", err)
	}
	if result.Report.FinalCost > 1000 {
		t.Fatalf("final cost %d exceeds budget", result.Report.FinalCost)
	}
	if result.Context.Cost != result.Report.FinalCost {
		t.Fatalf("context cost %d disagrees with report %d", result.Context.Cost, result.Report.FinalCost)
	}
	if len(result.Report.DiscardedFields) == 0 {
		t.Fatal("oversized context must record discarded fields")
	}
	if result.Report.DiscardedFields[0] != schema.SectionRecentEntries {
		t.Fatalf("entries cap must fire first, got %v", result.Report.DiscardedFields)
	}
}

func TestLogInteractionInvalidatesCRMSection(t *testing.T) {
	st := &fakeStore{entries: 2}
	crmSvc := &fakeCRM{}
	schedSvc := &fakeScheduling{}
	mgr, _ := newTestManager(t, st, crmSvc, schedSvc)

	if _, err := mgr.CustomerContext(context.Background(), "cust-7"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	id, err := mgr.LogInteraction(context.Background(), "cust-7", schema.Interaction{Kind: schema.InteractionCall, Summary: "check-in"})
	if err != nil {
		t.Fatalf("LogInteraction: %v", err)
	}
	if id == "" {
		t.Fatal("expected interaction id")
	}
	if _, err := mgr.CustomerContext(context.Background(), "cust-7"); err != nil {
		t.Fatalf("reassembly: %v", err)
	}

	crmSvc.mu.Lock()
	crmCalls := crmSvc.calls
	crmSvc.mu.Unlock()
	if crmCalls != 2 {
		t.Fatalf("crm section must be refetched after mutation, got %d calls", crmCalls)
	}
	if schedSvc.contextCalls() != 1 {
		t.Fatalf("scheduling section cache must survive a crm mutation, got %d calls", schedSvc.contextCalls())
	}
}

func TestBookAppointmentInvalidatesOnlySchedulingSection(t *testing.T) {
	st := &fakeStore{entries: 2}
	crmSvc := &fakeCRM{}
	schedSvc := &fakeScheduling{}
	mgr, clock := newTestManager(t, st, crmSvc, schedSvc)

	if _, err := mgr.CustomerContext(context.Background(), "cust-8"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	start := clock.Now().Add(24 * time.Hour)
	appt, err := mgr.BookAppointment(context.Background(), "cust-8", schema.BookingRequest{
		Kind:    "coaching",
		StartAt: start,
		EndAt:   start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	if appt.ID == "" {
		t.Fatal("expected appointment id")
	}
	if _, err := mgr.CustomerContext(context.Background(), "cust-8"); err != nil {
		t.Fatalf("reassembly: %v", err)
	}
	if schedSvc.contextCalls() != 2 {
		t.Fatalf("scheduling must be refetched after booking, got %d calls", schedSvc.contextCalls())
	}
	crmSvc.mu.Lock()
	crmCalls := crmSvc.calls
	crmSvc.mu.Unlock()
	if crmCalls != 1 {
		t.Fatalf("crm section cache must survive a scheduling mutation, got %d calls", crmCalls)
	}
}

func TestBookingFailureLeavesCacheIntact(t *testing.T) {
	st := &fakeStore{entries: 2}
	schedSvc := &fakeScheduling{bookErr: errs.Validation("scheduling", "slot", "slot overlaps an existing appointment")}
	mgr, _ := newTestManager(t, st, nil, schedSvc)

	if _, err := mgr.CustomerContext(context.Background(), "cust-9"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	_, err := mgr.BookAppointment(context.Background(), "cust-9", schema.BookingRequest{Kind: "coaching"})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := mgr.CustomerContext(context.Background(), "cust-9"); err != nil {
		t.Fatalf("reassembly: %v", err)
	}
	if schedSvc.contextCalls() != 1 {
		t.Fatalf("failed mutation must not invalidate, got %d calls", schedSvc.contextCalls())
	}
}

func TestUpdateProfileInvalidatesContext(t *testing.T) {
	st := &fakeStore{entries: 2}
	mgr, _ := newTestManager(t, st, nil, nil)

	if _, err := mgr.CustomerContext(context.Background(), "cust-10"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	email := "new@example.com"
	if err := mgr.UpdateProfile(context.Background(), "cust-10", store.UpdateProfileParams{Email: &email}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if _, err := mgr.CustomerContext(context.Background(), "cust-10"); err != nil {
		t.Fatalf("reassembly: %v", err)
	}
	if bundles, _ := st.counts(); bundles != 2 {
		t.Fatalf("profile mutation must drop the assembled context, got %d bundle calls", bundles)
	}
}

func TestInvalidateCustomerSweepsAllKeys(t *testing.T) {
	st := &fakeStore{entries: 2, supplements: []schema.Supplement{{Name: "zinc"}}}
	mgr, _ := newTestManager(t, st, &fakeCRM{}, &fakeScheduling{})

	if _, err := mgr.CustomerContext(context.Background(), "cust-11"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	removed := mgr.InvalidateCustomer(context.Background(), "cust-11")
	// context key + crm + scheduling + supplements sections
	if removed != 4 {
		t.Fatalf("expected 4 keys removed, got %d", removed)
	}
	if _, err := mgr.CustomerContext(context.Background(), "cust-11"); err != nil {
		t.Fatalf("reassembly: %v", err)
	}
	if bundles, _ := st.counts(); bundles != 2 {
		t.Fatalf("sweep must force reassembly, got %d bundle calls", bundles)
	}
}

func TestSendNotificationValidatesAndRequiresTransport(t *testing.T) {
	st := &fakeStore{entries: 1}
	mgr, _ := newTestManager(t, st, nil, nil)

	err := mgr.SendNotification(context.Background(), schema.Notification{CustomerID: "cust-12"})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	err = mgr.SendNotification(context.Background(), schema.Notification{
		CustomerID: "cust-12", Channel: schema.ChannelPush, Body: "hello",
	})
	if errs.CodeOf(err) != errs.CodeUnavailable {
		t.Fatalf("expected unavailable without transport, got %v", err)
	}
}

func TestDisabledSourceIsSkippedSilently(t *testing.T) {
	st := &fakeStore{entries: 1}
	mgr, _ := newTestManager(t, st, nil, nil)

	result, err := mgr.CustomerContext(context.Background(), "cust-13")
	if err != nil {
		t.Fatalf("CustomerContext: %v", err)
	}
	if result.Context.CRM != nil || result.Context.Scheduling != nil {
		t.Fatal("disabled sources must leave their sections unset")
	}
	if _, err := mgr.LogInteraction(context.Background(), "cust-13", schema.Interaction{Kind: schema.InteractionNote}); errs.CodeOf(err) != errs.CodeUnavailable {
		t.Fatalf("mutation against a disabled source must fail, got %v", err)
	}
}
