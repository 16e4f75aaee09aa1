package scheduling

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/sources"
)

// Business hours bound the synthetic availability grid (UTC).
const (
	openingHour = 9
	closingHour = 17
	slotLength  = time.Hour
)

// calendar is the synthetic per-customer booking state.
type calendar struct {
	appointments   []schema.Appointment
	completedCount int
}

// Mock is the in-memory scheduling provider used for development and tests.
type Mock struct {
	latency *sources.Latency
	clock   func() time.Time

	stateMu sync.Mutex
	state   map[string]*calendar
}

// NewMock constructs the mock provider.
func NewMock(opts sources.Options) *Mock {
	return &Mock{
		latency: sources.NewLatency("scheduling", opts.LatencyMin, opts.LatencyMax),
		clock:   opts.Clock,
		state:   make(map[string]*calendar),
	}
}

func (m *Mock) Name() string { return "mock" }

// Configured always holds for the mock.
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

// cal returns the synthetic calendar for customerID, seeding it on first use:
// account tenure drives session cadence, so long-standing customers carry a
// completed history and roughly every second customer has a session booked.
// Caller must hold stateMu.
func (m *Mock) cal(customerID string) *calendar {
	if c, ok := m.state[customerID]; ok {
		return c
	}
	seed := sources.Seed(customerID)
	now := m.now()
	c := &calendar{completedCount: int(seed % 40)}

	if c.completedCount > 0 {
		start := atHour(now.AddDate(0, 0, -7-int(seed%14)), openingHour+int(seed%4))
		c.appointments = append(c.appointments, schema.Appointment{
			ID:      uuid.NewString(),
			Kind:    "coaching",
			StartAt: start,
			EndAt:   start.Add(slotLength),
			Status:  schema.AppointmentCompleted,
		})
	}
	if seed%2 == 0 {
		start := atHour(now.AddDate(0, 0, 1+int(seed%5)), openingHour+int(seed%6))
		c.appointments = append(c.appointments, schema.Appointment{
			ID:      uuid.NewString(),
			Kind:    "coaching",
			StartAt: start,
			EndAt:   start.Add(slotLength),
			Status:  schema.AppointmentScheduled,
		})
	}
	m.state[customerID] = c
	return c
}

// Upcoming lists scheduled appointments starting at or after now, soonest
// first.
func (m *Mock) Upcoming(ctx context.Context, customerID string) ([]schema.Appointment, error) {
	if err := m.latency.Simulate(ctx); err != nil {
		return nil, err
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	now := m.now()
	var out []schema.Appointment
	for _, appt := range m.cal(customerID).appointments {
		if appt.Status == schema.AppointmentScheduled && !appt.StartAt.Before(now) {
			out = append(out, appt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

// Past lists completed appointments, most recent first.
func (m *Mock) Past(ctx context.Context, customerID string) ([]schema.Appointment, error) {
	if err := m.latency.Simulate(ctx); err != nil {
		return nil, err
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	var out []schema.Appointment
	for _, appt := range m.cal(customerID).appointments {
		if appt.Status == schema.AppointmentCompleted {
			out = append(out, appt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.After(out[j].StartAt) })
	return out, nil
}

// Availability generates the hourly weekday slot grid between from and to.
func (m *Mock) Availability(ctx context.Context, from, to time.Time) ([]schema.Slot, error) {
	if !from.Before(to) {
		return nil, errs.Validation("scheduling", "range", "from must precede to")
	}
	if err := m.latency.Simulate(ctx); err != nil {
		return nil, err
	}
	var slots []schema.Slot
	for day := from.Truncate(24 * time.Hour); day.Before(to); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for hour := openingHour; hour < closingHour; hour++ {
			start := atHour(day, hour)
			end := start.Add(slotLength)
			if start.Before(from) || end.After(to) {
				continue
			}
			slots = append(slots, schema.Slot{StartAt: start, EndAt: end})
		}
	}
	return slots, nil
}

// Book validates the requested range against the availability grid and the
// customer's existing bookings, then confirms the appointment. Conflicting or
// out-of-hours requests fail with a validation error.
func (m *Mock) Book(ctx context.Context, customerID string, req schema.BookingRequest) (*schema.Appointment, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errs.Validation("scheduling", "customerId", "customer id required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !m.withinBusinessHours(req.StartAt, req.EndAt) {
		return nil, errs.Validation("scheduling", "slot", "requested time is outside available slots")
	}
	if err := m.latency.Simulate(ctx); err != nil {
		return nil, err
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	cal := m.cal(customerID)
	for _, appt := range cal.appointments {
		if appt.Status == schema.AppointmentScheduled && appt.Overlaps(req.StartAt, req.EndAt) {
			return nil, errs.Validation("scheduling", "slot", "requested time overlaps an existing appointment")
		}
	}

	appt := schema.Appointment{
		ID:      uuid.NewString(),
		Kind:    req.Kind,
		StartAt: req.StartAt,
		EndAt:   req.EndAt,
		Status:  schema.AppointmentScheduled,
	}
	cal.appointments = append(cal.appointments, appt)
	return &appt, nil
}

// Cancel marks a scheduled appointment cancelled.
func (m *Mock) Cancel(ctx context.Context, customerID, appointmentID string) error {
	if err := m.latency.Simulate(ctx); err != nil {
		return err
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	cal := m.cal(customerID)
	for i := range cal.appointments {
		appt := &cal.appointments[i]
		if appt.ID != appointmentID {
			continue
		}
		if appt.Status != schema.AppointmentScheduled {
			return errs.Validation("scheduling", "appointmentId", "appointment is not cancellable")
		}
		appt.Status = schema.AppointmentCancelled
		return nil
	}
	return errs.New("scheduling", errs.CodeNotFound,
		errs.WithMessage("appointment "+appointmentID+" not found"))
}

// Context assembles the consolidated scheduling section for aggregation.
func (m *Mock) Context(ctx context.Context, customerID string) (*schema.SchedulingContext, error) {
	if err := m.latency.Simulate(ctx); err != nil {
		return nil, err
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	now := m.now()
	cal := m.cal(customerID)

	out := &schema.SchedulingContext{CompletedCount: cal.completedCount}
	for _, appt := range cal.appointments {
		switch appt.Status {
		case schema.AppointmentScheduled:
			if appt.StartAt.Before(now) {
				continue
			}
			out.Upcoming = append(out.Upcoming, appt)
		case schema.AppointmentCompleted:
			if out.LastCompleted == nil || appt.StartAt.After(out.LastCompleted.StartAt) {
				completed := appt
				out.LastCompleted = &completed
			}
		case schema.AppointmentCancelled:
		}
	}
	sort.Slice(out.Upcoming, func(i, j int) bool { return out.Upcoming[i].StartAt.Before(out.Upcoming[j].StartAt) })
	if len(out.Upcoming) > 0 {
		next := out.Upcoming[0]
		out.NextAppointment = &next
	}
	return out, nil
}

func (m *Mock) withinBusinessHours(startAt, endAt time.Time) bool {
	start := startAt.UTC()
	end := endAt.UTC()
	if start.YearDay() != end.YearDay() || start.Year() != end.Year() {
		return false
	}
	if wd := start.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	window := schema.Slot{
		StartAt: atHour(start, openingHour),
		EndAt:   atHour(start, closingHour),
	}
	return window.Contains(start, end)
}

func atHour(day time.Time, hour int) time.Time {
	d := day.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}
