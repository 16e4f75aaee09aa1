// Package builtin wires the built-in capability providers into a registry.
package builtin

import (
	"github.com/solsticehq/centra/internal/sources"
	"github.com/solsticehq/centra/internal/sources/crm"
	"github.com/solsticehq/centra/internal/sources/messaging"
	"github.com/solsticehq/centra/internal/sources/scheduling"
)

// RegisterAll installs every built-in provider into the supplied registry.
func RegisterAll(reg *sources.Registry) {
	if reg == nil {
		return
	}
	crm.Register(reg)
	scheduling.Register(reg)
	messaging.Register(reg)
}
