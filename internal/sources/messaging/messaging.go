// Package messaging defines the outbound notification capability.
package messaging

import (
	"context"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/sources"
)

// Service delivers fire-and-forget notifications. Delivery guarantees are the
// provider's concern; the aggregation layer only hands messages over.
type Service interface {
	sources.Source
	Send(ctx context.Context, note schema.Notification) error
}

// Register installs the built-in providers for this capability.
func Register(reg *sources.Registry) {
	if reg == nil {
		return
	}
	reg.Register(sources.CapabilityMessaging, "mock", func(opts sources.Options) (sources.Source, error) {
		return NewMock(opts), nil
	})
	reg.Register(sources.CapabilityMessaging, "stream", func(opts sources.Options) (sources.Source, error) {
		return NewStream(opts)
	})
}

// FromRegistry creates the configured provider and asserts the capability
// contract.
func FromRegistry(reg *sources.Registry, opts sources.Options) (Service, error) {
	src, err := reg.Create(sources.CapabilityMessaging, opts)
	if err != nil {
		return nil, err
	}
	svc, ok := src.(Service)
	if !ok {
		return nil, errs.New("messaging", errs.CodeConfig,
			errs.WithMessage("provider "+src.Name()+" does not implement the messaging contract"))
	}
	return svc, nil
}
