package schema

import (
	"strings"
	"time"

	"github.com/solsticehq/centra/errs"
)

// AppointmentStatus tracks an appointment through its lifecycle.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is one coaching session on the customer's calendar.
type Appointment struct {
	ID      string            `json:"id"`
	Kind    string            `json:"kind"`
	StartAt time.Time         `json:"startAt"`
	EndAt   time.Time         `json:"endAt"`
	Status  AppointmentStatus `json:"status"`
}

// Overlaps reports whether two appointments occupy intersecting time ranges.
func (a Appointment) Overlaps(startAt, endAt time.Time) bool {
	return a.StartAt.Before(endAt) && startAt.Before(a.EndAt)
}

// Slot is one bookable window exposed by the scheduling source.
type Slot struct {
	StartAt time.Time `json:"startAt"`
	EndAt   time.Time `json:"endAt"`
}

// Contains reports whether the requested range fits entirely inside the slot.
func (s Slot) Contains(startAt, endAt time.Time) bool {
	return !startAt.Before(s.StartAt) && !endAt.After(s.EndAt)
}

// BookingRequest asks the scheduling source for a new appointment.
type BookingRequest struct {
	Kind    string    `json:"kind"`
	StartAt time.Time `json:"startAt"`
	EndAt   time.Time `json:"endAt"`
}

// Validate rejects structurally impossible booking requests before they reach
// availability checks.
func (r BookingRequest) Validate() error {
	if strings.TrimSpace(r.Kind) == "" {
		return errs.Validation("scheduling", "kind", "appointment kind required")
	}
	if r.StartAt.IsZero() || r.EndAt.IsZero() {
		return errs.Validation("scheduling", "slot", "start and end times required")
	}
	if !r.StartAt.Before(r.EndAt) {
		return errs.Validation("scheduling", "slot", "start must precede end")
	}
	return nil
}

// SchedulingContext is the optional scheduling section.
type SchedulingContext struct {
	NextAppointment *Appointment  `json:"nextAppointment,omitempty"`
	Upcoming        []Appointment `json:"upcoming,omitempty"`
	LastCompleted   *Appointment  `json:"lastCompleted,omitempty"`
	CompletedCount  int           `json:"completedCount"`
}
