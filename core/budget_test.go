package core

import (
	"testing"
	"time"
)

func TestBudgetValidate(t *testing.T) {
	soft := int64(500)
	b := &Budget{ID: "b-1", HardLimitMicros: 1000, SoftLimitMicros: &soft}
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	b.HardLimitMicros = 0
	if err := b.Validate(); err == nil {
		t.Error("Validate() accepted a zero hard limit")
	}

	b.HardLimitMicros = 400 // below the soft limit
	if err := b.Validate(); err == nil {
		t.Error("Validate() accepted soft limit >= hard limit")
	}
}

func TestBudgetAppliesTo(t *testing.T) {
	b := &Budget{
		Scope: BudgetScope{
			APIKeyIDs: []string{"key-1", "key-2"},
			ModelIDs:  []string{"m-1"},
		},
	}

	cases := []struct {
		apiKey, team, model string
		want                bool
	}{
		{"key-1", "", "m-1", true},
		{"key-2", "any-team", "m-1", true}, // empty team dimension matches everything
		{"key-3", "", "m-1", false},
		{"key-1", "", "m-2", false},
	}
	for _, tc := range cases {
		if got := b.AppliesTo(tc.apiKey, tc.team, tc.model); got != tc.want {
			t.Errorf("AppliesTo(%q, %q, %q) = %v, want %v", tc.apiKey, tc.team, tc.model, got, tc.want)
		}
	}

	unscoped := &Budget{}
	if !unscoped.AppliesTo("any", "any", "any") {
		t.Error("an empty scope must match every request")
	}
}

func TestBudgetPeriodElapsed(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	daily := &Budget{Period: PeriodDaily, PeriodStart: start}
	if daily.PeriodElapsed(start.Add(23 * time.Hour)) {
		t.Error("daily period elapsed before 24h")
	}
	if !daily.PeriodElapsed(start.Add(24 * time.Hour)) {
		t.Error("daily period not elapsed at exactly 24h")
	}

	monthly := &Budget{Period: PeriodMonthly, PeriodStart: start}
	if !monthly.PeriodElapsed(start.Add(30 * 24 * time.Hour)) {
		t.Error("monthly period not elapsed after 30 days")
	}

	lifetime := &Budget{Period: PeriodLifetime, PeriodStart: start}
	if lifetime.PeriodElapsed(start.Add(10 * 365 * 24 * time.Hour)) {
		t.Error("lifetime period must never elapse")
	}
}
