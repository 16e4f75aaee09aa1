package budget

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/solsticehq/centra/internal/schema"
)

// bigContext builds a context heavy enough to trigger every reduction step.
func bigContext() *schema.CustomerContext {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	entries := make([]schema.Entry, 60)
	for i := range entries {
		entries[i] = schema.Entry{
			Category:   "workout",
			Value:      float64(30 + i),
			RecordedAt: now.Add(-time.Duration(i) * time.Hour),
		}
	}

	actions := make([]schema.ActionRecord, 30)
	for i := range actions {
		actions[i] = schema.ActionRecord{
			Action:     fmt.Sprintf("completed step %d of the morning routine", i),
			RecordedAt: now.Add(-time.Duration(i) * time.Hour),
		}
	}

	areas := make([]schema.LifeArea, 6)
	for i := range areas {
		history := make([]schema.ScorePoint, 12)
		for j := range history {
			history[j] = schema.ScorePoint{Score: 50 + j, RecordedAt: now.AddDate(0, 0, -j*7)}
		}
		areas[i] = schema.LifeArea{
			Category:     fmt.Sprintf("area-%d", i),
			Score:        60 + i,
			Trend:        schema.TrendUp,
			Goal:         strings.Repeat("build a sustainable habit ", 6),
			Notes:        strings.Repeat("weekly reflection notes with plenty of detail ", 4),
			ScoreHistory: history,
			UpdatedAt:    now,
		}
	}

	next := schema.Appointment{ID: "appt-9", Kind: "coaching", StartAt: now.Add(48 * time.Hour), EndAt: now.Add(49 * time.Hour), Status: schema.AppointmentScheduled}
	ctx := &schema.CustomerContext{
		CustomerID:    "cust-42",
		FetchedAt:     now,
		LifeAreas:     areas,
		RecentEntries: entries,
		Profile: schema.Profile{
			Email:          "jo@example.com",
			DisplayName:    "Jo",
			AccountAgeDays: 500,
			CreatedAt:      now.AddDate(-1, -4, 0),
		},
		Progress: schema.Progress{
			Stage:               "momentum",
			StepIndex:           4,
			StepProgress:        0.25,
			CompletedChallenges: []string{"ch-1", "ch-2", "ch-3"},
			TotalPoints:         3400,
			ActionHistory:       actions,
		},
		CRM: &schema.CRMContext{
			LifecycleStage: schema.StageLoyal,
			Tags:           []string{"premium", "annual"},
			LastInteraction: &schema.Interaction{
				ID: "int-7", Kind: schema.InteractionChat, OccurredAt: now.Add(-72 * time.Hour),
				Summary: "asked about adjusting the training plan",
			},
			Sentiment:   schema.SentimentPositive,
			OpenTickets: 2,
		},
		Scheduling: &schema.SchedulingContext{
			NextAppointment: &next,
			Upcoming:        []schema.Appointment{next},
			CompletedCount:  11,
		},
		Supplements: []schema.Supplement{
			{Name: "magnesium", Dosage: "200mg", Active: true},
			{Name: "omega-3", Dosage: "1g", Active: true},
		},
	}
	for _, section := range []string{
		schema.SectionProfile, schema.SectionLifeAreas, schema.SectionRecentEntries,
		schema.SectionProgress, schema.SectionCRM, schema.SectionScheduling, schema.SectionSupplements,
	} {
		ctx.Stamp(section, now)
	}
	return ctx
}

var canonicalOrder = []string{
	"recentEntries", "actionHistory", "supplements", "recentEntries:10",
	"actionHistory:5", "freshness", "lifeAreas:summarized", "scheduling", "crm",
}

func TestReduceUnderBudgetIsIdentity(t *testing.T) {
	original := bigContext()
	cost := EstimateContext(original)

	reduced, report := Reduce(original, cost)

	if len(report.DiscardedFields) != 0 {
		t.Fatalf("expected no discards under budget, got %v", report.DiscardedFields)
	}
	if !report.FullyPreserved {
		t.Fatal("under-budget reduction must report fully preserved")
	}
	if report.CompressionRatio != 1 {
		t.Fatalf("expected ratio 1, got %f", report.CompressionRatio)
	}
	if report.OriginalCost != cost || report.FinalCost != cost {
		t.Fatalf("expected costs %d/%d to match measured %d", report.OriginalCost, report.FinalCost, cost)
	}

	// Cost is stamped on the copy; align before byte comparison.
	original.Cost = reduced.Cost
	wantJSON, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal original: %v", err)
	}
	gotJSON, err := json.Marshal(reduced)
	if err != nil {
		t.Fatalf("marshal reduced: %v", err)
	}
	if string(wantJSON) != string(gotJSON) {
		t.Fatal("under-budget reduction must return the context unchanged")
	}
}

func TestReduceStopsAtFirstSufficientStep(t *testing.T) {
	original := bigContext()

	capped := original.Clone()
	capped.RecentEntries = capped.RecentEntries[:20]
	budget := EstimateContext(capped)

	reduced, report := Reduce(original, budget)

	want := []string{"recentEntries"}
	if !reflect.DeepEqual(report.DiscardedFields, want) {
		t.Fatalf("expected exactly %v discarded, got %v", want, report.DiscardedFields)
	}
	if !report.FullyPreserved {
		t.Fatal("capping entries must keep fully preserved true")
	}
	if len(reduced.RecentEntries) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(reduced.RecentEntries))
	}
	if reduced.CRM == nil || reduced.Scheduling == nil || len(reduced.Supplements) == 0 {
		t.Fatal("later steps must not have fired")
	}
	if report.FinalCost > budget {
		t.Fatalf("final cost %d exceeds budget %d", report.FinalCost, budget)
	}
}

func TestReduceRunsStepsInCanonicalOrder(t *testing.T) {
	_, report := Reduce(bigContext(), 1)

	if !reflect.DeepEqual(report.DiscardedFields, canonicalOrder) {
		t.Fatalf("expected canonical order %v, got %v", canonicalOrder, report.DiscardedFields)
	}
}

func TestReduceFullyPreservedFlipsOnlyAtSummarization(t *testing.T) {
	original := bigContext()

	// Budget exactly at the cost after the first six steps: summarization
	// never fires and fidelity is preserved.
	trimmed := original.Clone()
	trimmed.RecentEntries = trimmed.RecentEntries[:10]
	trimmed.Progress.ActionHistory = trimmed.Progress.ActionHistory[:5]
	trimmed.Supplements = nil
	trimmed.Freshness = nil
	budget := EstimateContext(trimmed)

	reduced, report := Reduce(original, budget)
	if !report.FullyPreserved {
		t.Fatalf("bounded trims must preserve fidelity, discarded %v", report.DiscardedFields)
	}
	wantPrefix := []string{"recentEntries", "actionHistory", "supplements", "recentEntries:10", "actionHistory:5", "freshness"}
	if !reflect.DeepEqual(report.DiscardedFields, wantPrefix) {
		t.Fatalf("expected %v, got %v", wantPrefix, report.DiscardedFields)
	}
	if len(reduced.LifeAreas[0].ScoreHistory) == 0 {
		t.Fatal("life areas must be untouched before summarization fires")
	}

	// One unit tighter forces summarization and fidelity is lost.
	_, report = Reduce(original, budget-1)
	if report.FullyPreserved {
		t.Fatal("summarization firing must flip fullyPreserved")
	}
	if report.DiscardedFields[len(wantPrefix)] != "lifeAreas:summarized" {
		t.Fatalf("expected summarization after bounded trims, got %v", report.DiscardedFields)
	}
}

func TestReduceBestEffortWhenBudgetUnmeetable(t *testing.T) {
	reduced, report := Reduce(bigContext(), 1)

	if reduced == nil {
		t.Fatal("reduction must never fail")
	}
	if report.FinalCost <= 1 {
		t.Fatalf("a real context cannot fit cost 1, got %d", report.FinalCost)
	}
	if report.FinalCost != EstimateContext(reduced) {
		t.Fatalf("reported final cost %d disagrees with measurement %d", report.FinalCost, EstimateContext(reduced))
	}
	if reduced.Cost != report.FinalCost {
		t.Fatalf("context cost %d must match report %d", reduced.Cost, report.FinalCost)
	}
	if report.CompressionRatio >= 1 {
		t.Fatalf("expected real compression, got ratio %f", report.CompressionRatio)
	}
	if len(reduced.RecentEntries) != 10 || len(reduced.Progress.ActionHistory) != 5 {
		t.Fatal("bounded sections must survive at their final caps")
	}
	if reduced.Profile.Email == "" || len(reduced.LifeAreas) == 0 {
		t.Fatal("required sections must survive full reduction")
	}
	if reduced.CRM != nil || reduced.Scheduling != nil || reduced.Supplements != nil {
		t.Fatal("optional sections must be gone after full reduction")
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	original := bigContext()
	entries := len(original.RecentEntries)

	Reduce(original, 1)

	if len(original.RecentEntries) != entries {
		t.Fatal("input entries were mutated")
	}
	if original.CRM == nil || original.Scheduling == nil || original.Supplements == nil {
		t.Fatal("input sections were mutated")
	}
	if original.LifeAreas[0].Notes == "" {
		t.Fatal("input life areas were mutated")
	}
}

func TestReduceDeterministic(t *testing.T) {
	_, first := Reduce(bigContext(), 900)
	_, second := Reduce(bigContext(), 900)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same input and budget must reduce identically: %+v vs %+v", first, second)
	}
}

func TestReduceTruncatesGoalsAtSummarization(t *testing.T) {
	original := bigContext()
	longGoal := strings.Repeat("g", 150)
	original.LifeAreas[0].Goal = longGoal

	reduced, report := Reduce(original, 1)
	if report.FullyPreserved {
		t.Fatal("expected lossy reduction")
	}
	got := reduced.LifeAreas[0].Goal
	if len([]rune(got)) != 100 {
		t.Fatalf("expected goal truncated to 100 runes, got %d", len([]rune(got)))
	}
	if !strings.HasPrefix(longGoal, got) {
		t.Fatal("truncated goal must be a prefix of the original")
	}
}
