package schema

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/solsticehq/centra/errs"
)

// Supplement is one inventory item the customer is currently taking.
type Supplement struct {
	Name      string          `json:"name"`
	Dosage    string          `json:"dosage"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Active    bool            `json:"active"`
}

// NotificationChannel enumerates outbound delivery transports.
type NotificationChannel string

const (
	ChannelPush  NotificationChannel = "push"
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
)

// Valid reports whether the channel is one of the canonical values.
func (c NotificationChannel) Valid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelSMS:
		return true
	default:
		return false
	}
}

// Notification is one outbound fire-and-forget message to a customer.
type Notification struct {
	ID         string              `json:"id,omitempty"`
	CustomerID string              `json:"customerId"`
	Channel    NotificationChannel `json:"channel"`
	Subject    string              `json:"subject"`
	Body       string              `json:"body"`
}

// Validate rejects notifications the messaging source could never deliver.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.CustomerID) == "" {
		return errs.Validation("messaging", "customerId", "customer id required")
	}
	if !n.Channel.Valid() {
		return errs.Validation("messaging", "channel", "channel must be push, email, or sms")
	}
	if strings.TrimSpace(n.Body) == "" {
		return errs.Validation("messaging", "body", "body required")
	}
	return nil
}
