package memory

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/store"
)

func fixedClock() time.Time {
	return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
}

func TestBundleIsDeterministicAndComplete(t *testing.T) {
	s := New(Config{Clock: fixedClock})
	ctx := context.Background()

	first, err := s.Bundle(ctx, "cust-42")
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	second, err := s.Bundle(ctx, "cust-42")
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("same customer produced different bundles")
	}

	if first.Profile.Email == "" || first.Profile.DisplayName == "" {
		t.Fatalf("incomplete profile: %+v", first.Profile)
	}
	if len(first.LifeAreas) == 0 {
		t.Fatal("bundle has no life areas")
	}
	for _, area := range first.LifeAreas {
		if !area.Trend.Valid() {
			t.Fatalf("invalid trend %q", area.Trend)
		}
	}
	if len(first.RecentEntries) == 0 || len(first.RecentEntries) > store.MaxRecentEntries {
		t.Fatalf("entry count = %d", len(first.RecentEntries))
	}
	for i := 1; i < len(first.RecentEntries); i++ {
		if first.RecentEntries[i].RecordedAt.After(first.RecentEntries[i-1].RecordedAt) {
			t.Fatal("entries are not newest first")
		}
	}
	if first.Progress.Stage == "" {
		t.Fatal("bundle has no journey stage")
	}

	// Fresh store instances synthesise the same customer identically.
	other, err := New(Config{Clock: fixedClock}).Bundle(ctx, "cust-42")
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if !reflect.DeepEqual(first, other) {
		t.Fatal("synthetic data diverges across store instances")
	}
}

func TestBundleDetachedFromInternalState(t *testing.T) {
	s := New(Config{Clock: fixedClock})
	ctx := context.Background()

	bundle, err := s.Bundle(ctx, "cust-42")
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	bundle.LifeAreas[0].Score = -999
	bundle.Profile.Email = "tampered@example.com"

	again, err := s.Bundle(ctx, "cust-42")
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if again.LifeAreas[0].Score == -999 || again.Profile.Email == "tampered@example.com" {
		t.Fatal("caller mutation leaked into store state")
	}
}

func TestAllowlistYieldsNotFound(t *testing.T) {
	s := New(Config{Clock: fixedClock, Customers: []string{"cust-a"}})
	ctx := context.Background()

	if _, err := s.Bundle(ctx, "cust-a"); err != nil {
		t.Fatalf("allowed customer: %v", err)
	}
	if _, err := s.Bundle(ctx, "cust-b"); !errs.IsNotFound(err) {
		t.Fatalf("unknown customer: %v", err)
	}
	if _, err := s.Bundle(ctx, "  "); errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("blank id: %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	s := New(Config{Clock: fixedClock})
	ctx := context.Background()

	name := "Robin Fields"
	if err := s.UpdateProfile(ctx, "cust-42", store.UpdateProfileParams{DisplayName: &name}); err != nil {
		t.Fatalf("update: %v", err)
	}
	bundle, err := s.Bundle(ctx, "cust-42")
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if bundle.Profile.DisplayName != name {
		t.Fatalf("display name = %q, want %q", bundle.Profile.DisplayName, name)
	}

	bad := "not-an-email"
	if err := s.UpdateProfile(ctx, "cust-42", store.UpdateProfileParams{Email: &bad}); errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("bad email: %v", err)
	}
}

func TestSupplementsStable(t *testing.T) {
	s := New(Config{Clock: fixedClock})
	ctx := context.Background()

	first, err := s.Supplements(ctx, "cust-42")
	if err != nil {
		t.Fatalf("supplements: %v", err)
	}
	second, err := s.Supplements(ctx, "cust-42")
	if err != nil {
		t.Fatalf("supplements: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("supplement counts diverge: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].UnitPrice.Equal(second[i].UnitPrice) {
			t.Fatalf("prices diverge at %d: %s vs %s", i, first[i].UnitPrice, second[i].UnitPrice)
		}
	}
}
