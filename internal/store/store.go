// Package store declares the primary customer store contract. Concrete
// implementations live in subpackages (memory, postgres).
package store

import (
	"context"

	"github.com/solsticehq/centra/internal/schema"
)

// MaxRecentEntries bounds the activity history a bundle carries.
const MaxRecentEntries = 50

// UpdateProfileParams carries the mutable profile fields; nil pointers leave
// the stored value untouched.
type UpdateProfileParams struct {
	Email       *string `json:"email,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}

// Store is the primary source of required customer data.
type Store interface {
	// Bundle returns the required sections for a customer, all-or-nothing.
	// Unknown customers yield a NotFound error.
	Bundle(ctx context.Context, customerID string) (*schema.Bundle, error)
	// Supplements returns the customer's inventory for the optional section.
	Supplements(ctx context.Context, customerID string) ([]schema.Supplement, error)
	// UpdateProfile applies a partial profile mutation.
	UpdateProfile(ctx context.Context, customerID string, params UpdateProfileParams) error
	// Ping probes store connectivity for health checks.
	Ping(ctx context.Context) error
	// Close releases store resources.
	Close()
}
