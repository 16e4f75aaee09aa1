package budget

import (
	"github.com/solsticehq/centra/internal/schema"
)

const (
	entriesFirstCap  = 20
	entriesSecondCap = 10
	actionsFirstCap  = 10
	actionsSecondCap = 5
	goalSummaryRunes = 100
)

// Report describes what a reduction pass did to a context.
type Report struct {
	OriginalCost     int      `json:"originalCost"`
	FinalCost        int      `json:"finalCost"`
	CompressionRatio float64  `json:"compressionRatio"`
	DiscardedFields  []string `json:"discardedFields"`
	FullyPreserved   bool     `json:"fullyPreserved"`
}

// step is one stage of the reduction pipeline. apply reports whether it
// changed the context; lossy steps flip FullyPreserved when they fire.
type step struct {
	id    string
	lossy bool
	apply func(*schema.CustomerContext) bool
}

// pipeline is ordered from cheap bounded trims to drops of whole sections.
// Identifiers are appended to the report in firing order.
var pipeline = []step{
	{id: schema.SectionRecentEntries, apply: capEntries(entriesFirstCap)},
	{id: "actionHistory", apply: capActions(actionsFirstCap)},
	{id: schema.SectionSupplements, apply: dropSupplements},
	{id: schema.SectionRecentEntries + ":10", apply: capEntries(entriesSecondCap)},
	{id: "actionHistory:5", apply: capActions(actionsSecondCap)},
	{id: schema.SectionFreshness, apply: dropFreshness},
	{id: schema.SectionLifeAreas + ":summarized", lossy: true, apply: summarizeLifeAreas},
	{id: schema.SectionScheduling, lossy: true, apply: dropScheduling},
	{id: schema.SectionCRM, lossy: true, apply: dropCRM},
}

// Reduce trims a context until it fits maxCost, re-measuring after every step
// and stopping as soon as the budget is met. The input is never mutated; the
// returned context is a detached copy carrying its recomputed cost. Reduction
// never fails: an unmeetable budget yields the fully reduced context.
func Reduce(original *schema.CustomerContext, maxCost int) (*schema.CustomerContext, Report) {
	report := Report{
		DiscardedFields: make([]string, 0, len(pipeline)),
		FullyPreserved:  true,
	}
	if original == nil {
		report.CompressionRatio = 1
		return nil, report
	}

	work := original.Clone()
	cost := EstimateContext(work)
	report.OriginalCost = cost

	for _, s := range pipeline {
		if cost <= maxCost {
			break
		}
		if !s.apply(work) {
			continue
		}
		report.DiscardedFields = append(report.DiscardedFields, s.id)
		if s.lossy {
			report.FullyPreserved = false
		}
		cost = EstimateContext(work)
	}

	work.Cost = cost
	report.FinalCost = cost
	report.CompressionRatio = ratio(report.OriginalCost, cost)
	return work, report
}

func ratio(original, final int) float64 {
	if original <= 0 {
		return 1
	}
	return float64(final) / float64(original)
}

func capEntries(limit int) func(*schema.CustomerContext) bool {
	return func(c *schema.CustomerContext) bool {
		if len(c.RecentEntries) <= limit {
			return false
		}
		c.RecentEntries = c.RecentEntries[:limit]
		return true
	}
}

func capActions(limit int) func(*schema.CustomerContext) bool {
	return func(c *schema.CustomerContext) bool {
		if len(c.Progress.ActionHistory) <= limit {
			return false
		}
		c.Progress.ActionHistory = c.Progress.ActionHistory[:limit]
		return true
	}
}

func dropSupplements(c *schema.CustomerContext) bool {
	if len(c.Supplements) == 0 {
		return false
	}
	c.Supplements = nil
	return true
}

func dropFreshness(c *schema.CustomerContext) bool {
	if len(c.Freshness) == 0 {
		return false
	}
	c.Freshness = nil
	return true
}

// summarizeLifeAreas strips each area to category, score, trend, truncated
// goal, and last-updated. Richer detail (notes, score history) is discarded.
func summarizeLifeAreas(c *schema.CustomerContext) bool {
	changed := false
	for i := range c.LifeAreas {
		area := &c.LifeAreas[i]
		if area.Notes != "" {
			area.Notes = ""
			changed = true
		}
		if len(area.ScoreHistory) > 0 {
			area.ScoreHistory = nil
			changed = true
		}
		if truncated := truncateRunes(area.Goal, goalSummaryRunes); truncated != area.Goal {
			area.Goal = truncated
			changed = true
		}
	}
	return changed
}

func dropScheduling(c *schema.CustomerContext) bool {
	if c.Scheduling == nil {
		return false
	}
	c.Scheduling = nil
	return true
}

func dropCRM(c *schema.CustomerContext) bool {
	if c.CRM == nil {
		return false
	}
	c.CRM = nil
	return true
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
