// Package crm defines the relationship-management capability.
package crm

import (
	"context"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/sources"
)

// Service is the narrow contract the aggregation layer consumes.
type Service interface {
	sources.Source
	LifecycleStage(ctx context.Context, customerID string) (schema.LifecycleStage, error)
	Tags(ctx context.Context, customerID string) ([]string, error)
	LogInteraction(ctx context.Context, customerID string, interaction schema.Interaction) (string, error)
	OpenTickets(ctx context.Context, customerID string) (int, error)
	Context(ctx context.Context, customerID string) (*schema.CRMContext, error)
}

// Register installs the built-in providers for this capability.
func Register(reg *sources.Registry) {
	if reg == nil {
		return
	}
	reg.Register(sources.CapabilityCRM, "mock", func(opts sources.Options) (sources.Source, error) {
		return NewMock(opts), nil
	})
}

// FromRegistry creates the configured provider and asserts the capability
// contract.
func FromRegistry(reg *sources.Registry, opts sources.Options) (Service, error) {
	src, err := reg.Create(sources.CapabilityCRM, opts)
	if err != nil {
		return nil, err
	}
	svc, ok := src.(Service)
	if !ok {
		return nil, errs.New("crm", errs.CodeConfig,
			errs.WithMessage("provider "+src.Name()+" does not implement the crm contract"))
	}
	return svc, nil
}
