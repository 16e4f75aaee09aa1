// Package scheduling defines the appointment-booking capability.
package scheduling

import (
	"context"
	"time"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/sources"
)

// Service is the narrow contract the aggregation layer consumes.
type Service interface {
	sources.Source
	Upcoming(ctx context.Context, customerID string) ([]schema.Appointment, error)
	Past(ctx context.Context, customerID string) ([]schema.Appointment, error)
	Availability(ctx context.Context, from, to time.Time) ([]schema.Slot, error)
	Book(ctx context.Context, customerID string, req schema.BookingRequest) (*schema.Appointment, error)
	Cancel(ctx context.Context, customerID, appointmentID string) error
	Context(ctx context.Context, customerID string) (*schema.SchedulingContext, error)
}

// Register installs the built-in providers for this capability.
func Register(reg *sources.Registry) {
	if reg == nil {
		return
	}
	reg.Register(sources.CapabilityScheduling, "mock", func(opts sources.Options) (sources.Source, error) {
		return NewMock(opts), nil
	})
}

// FromRegistry creates the configured provider and asserts the capability
// contract.
func FromRegistry(reg *sources.Registry, opts sources.Options) (Service, error) {
	src, err := reg.Create(sources.CapabilityScheduling, opts)
	if err != nil {
		return nil, err
	}
	svc, ok := src.(Service)
	if !ok {
		return nil, errs.New("scheduling", errs.CodeConfig,
			errs.WithMessage("provider "+src.Name()+" does not implement the scheduling contract"))
	}
	return svc, nil
}
