package schema

import "time"

// LifecycleStage positions the customer in the relationship-management funnel.
type LifecycleStage string

const (
	StageLead     LifecycleStage = "lead"
	StageCustomer LifecycleStage = "customer"
	StageLoyal    LifecycleStage = "loyal"
)

// Sentiment classifies the tone of the latest customer interactions.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// InteractionKind enumerates how a customer touchpoint happened.
type InteractionKind string

const (
	InteractionCall  InteractionKind = "call"
	InteractionEmail InteractionKind = "email"
	InteractionChat  InteractionKind = "chat"
	InteractionNote  InteractionKind = "note"
)

// Valid reports whether the kind is one of the canonical values.
func (k InteractionKind) Valid() bool {
	switch k {
	case InteractionCall, InteractionEmail, InteractionChat, InteractionNote:
		return true
	default:
		return false
	}
}

// Interaction is one relationship-management touchpoint.
type Interaction struct {
	ID         string          `json:"id,omitempty"`
	Kind       InteractionKind `json:"kind"`
	OccurredAt time.Time       `json:"occurredAt"`
	Summary    string          `json:"summary"`
	Sentiment  Sentiment       `json:"sentiment,omitempty"`
}

// CRMContext is the optional relationship-management section.
type CRMContext struct {
	LifecycleStage  LifecycleStage `json:"lifecycleStage"`
	Tags            []string       `json:"tags,omitempty"`
	LastInteraction *Interaction   `json:"lastInteraction,omitempty"`
	Sentiment       Sentiment      `json:"sentiment"`
	OpenTickets     int            `json:"openTickets"`
}
