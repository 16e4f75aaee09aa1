// Package schema defines the customer context data model shared across layers.
package schema

import (
	"strings"
	"time"

	"github.com/solsticehq/centra/errs"
)

// Section names key the freshness map, the per-customer cache entries, and the
// reducer's discarded-field identifiers.
const (
	SectionProfile       = "profile"
	SectionLifeAreas     = "lifeAreas"
	SectionRecentEntries = "recentEntries"
	SectionProgress      = "progress"
	SectionCRM           = "crm"
	SectionScheduling    = "scheduling"
	SectionSupplements   = "supplements"
	SectionFreshness     = "freshness"
)

// Trend classifies the direction of a life-area score.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Valid reports whether the trend is one of the canonical values.
func (t Trend) Valid() bool {
	switch t {
	case TrendUp, TrendDown, TrendStable:
		return true
	default:
		return false
	}
}

// Profile carries the identity slice of the required data.
type Profile struct {
	Email          string    `json:"email"`
	DisplayName    string    `json:"displayName"`
	AccountAgeDays int       `json:"accountAgeDays"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ScorePoint is one historical observation of a life-area score.
type ScorePoint struct {
	Score      int       `json:"score"`
	RecordedAt time.Time `json:"recordedAt"`
}

// LifeArea is one coached dimension of the customer's life. Notes and
// ScoreHistory are the rich detail the reducer drops when summarising.
type LifeArea struct {
	Category     string       `json:"category"`
	Score        int          `json:"score"`
	Trend        Trend        `json:"trend"`
	Goal         string       `json:"goal"`
	Notes        string       `json:"notes,omitempty"`
	ScoreHistory []ScorePoint `json:"scoreHistory,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Entry is one recent-activity record, newest first in context slices.
type Entry struct {
	Category   string    `json:"category"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recordedAt"`
}

// ActionRecord is one logged journey action, newest first.
type ActionRecord struct {
	Action     string    `json:"action"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Progress summarises the customer's coaching journey.
type Progress struct {
	Stage               string         `json:"stage"`
	StepIndex           int            `json:"stepIndex"`
	StepProgress        float64        `json:"stepProgress"`
	CompletedChallenges []string       `json:"completedChallenges"`
	TotalPoints         int            `json:"totalPoints"`
	ActionHistory       []ActionRecord `json:"actionHistory"`
}

// CustomerContext is the aggregate handed to the AI layer. Profile, LifeAreas,
// RecentEntries, and Progress are required and never partially populated; the
// pointer/slice sections are optional and omitted when their source is
// disabled or failing.
type CustomerContext struct {
	CustomerID string               `json:"customerId"`
	FetchedAt  time.Time            `json:"fetchedAt"`
	Cost       int                  `json:"cost"`
	Freshness  map[string]time.Time `json:"freshness,omitempty"`

	Profile       Profile    `json:"profile"`
	LifeAreas     []LifeArea `json:"lifeAreas"`
	RecentEntries []Entry    `json:"recentEntries"`
	Progress      Progress   `json:"progress"`

	CRM         *CRMContext        `json:"crm,omitempty"`
	Scheduling  *SchedulingContext `json:"scheduling,omitempty"`
	Supplements []Supplement       `json:"supplements,omitempty"`
}

// Validate checks the invariants required sections must satisfy.
func (c *CustomerContext) Validate() error {
	if c == nil {
		return errs.New("schema", errs.CodeValidation, errs.WithMessage("context required"))
	}
	if strings.TrimSpace(c.CustomerID) == "" {
		return errs.Validation("schema", "customerId", "customer id required")
	}
	if strings.TrimSpace(c.Profile.Email) == "" {
		return errs.Validation("schema", "profile.email", "email required")
	}
	for i := range c.LifeAreas {
		area := &c.LifeAreas[i]
		if !area.Trend.Valid() {
			return errs.Validation("schema", "lifeAreas.trend", "trend must be up, down, or stable")
		}
		if area.Score < 0 || area.Score > 100 {
			return errs.Validation("schema", "lifeAreas.score", "score must be within [0,100]")
		}
	}
	if c.Progress.StepProgress < 0 || c.Progress.StepProgress > 1 {
		return errs.Validation("schema", "progress.stepProgress", "step progress must be within [0,1]")
	}
	return nil
}

// Stamp records the retrieval time of a section in the freshness map.
func (c *CustomerContext) Stamp(section string, at time.Time) {
	if c.Freshness == nil {
		c.Freshness = make(map[string]time.Time, 4)
	}
	c.Freshness[section] = at
}
