package registry

import (
	"context"
	"testing"
	"time"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/store"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(store.NewMemoryStore(), nil)
}

func TestRepositoryRoundTrip(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	model := &core.Model{
		ID:             "m-1",
		Name:           "primary",
		CredentialType: core.CredentialOpenAI,
		ProviderModel:  "gpt-4o",
		Enabled:        true,
	}
	if err := reg.Models.Create(ctx, model); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := reg.Models.Get(ctx, "m-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "primary" || got.ProviderModel != "gpt-4o" {
		t.Errorf("got = %+v", got)
	}

	got.Name = "renamed"
	if err := reg.Models.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = reg.Models.Get(ctx, "m-1")
	if got.Name != "renamed" {
		t.Errorf("name after update = %q", got.Name)
	}

	if err := reg.Models.Delete(ctx, "m-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := reg.Models.Get(ctx, "m-1"); !core.IsNotFound(err) {
		t.Errorf("Get after delete = %v, want not found", err)
	}
}

func TestRepositoryValidatesOnWrite(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	err := reg.Models.Create(ctx, &core.Model{ID: "bad id", ProviderModel: "gpt-4o"})
	if !core.IsValidation(err) {
		t.Errorf("Create invalid = %v, want validation error", err)
	}

	err = reg.Models.Create(ctx, &core.Model{ID: "m-1"}) // missing provider_model
	if !core.IsValidation(err) {
		t.Errorf("Create incomplete = %v, want validation error", err)
	}

	// deliveries have no validator; arbitrary rows pass
	if err := reg.Deliveries.Create(ctx, &core.WebhookDelivery{ID: "d-1"}); err != nil {
		t.Errorf("Deliveries.Create = %v", err)
	}
}

func TestRepositoryConflict(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	p := &core.Prompt{ID: "p-1", Template: "Hello ${name}"}
	if err := reg.Prompts.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := reg.Prompts.Create(ctx, p); !core.IsConflict(err) {
		t.Errorf("duplicate Create = %v, want conflict", err)
	}
}

func TestEnabledModels(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	for _, m := range []*core.Model{
		{ID: "m-on", ProviderModel: "gpt-4o", Enabled: true},
		{ID: "m-off", ProviderModel: "gpt-4o", Enabled: false},
	} {
		if err := reg.Models.Create(ctx, m); err != nil {
			t.Fatalf("Create %s: %v", m.ID, err)
		}
	}

	enabled, err := reg.EnabledModels(ctx)
	if err != nil {
		t.Fatalf("EnabledModels: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != "m-on" {
		t.Errorf("enabled = %+v", enabled)
	}
}

func TestActiveWebhooksFor(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	seed := []*core.Webhook{
		{ID: "wh-match", URL: "http://a", Active: true, Events: []core.EventKind{core.EventBudgetAlert}},
		{ID: "wh-other", URL: "http://b", Active: true, Events: []core.EventKind{core.EventCacheHit}},
		{ID: "wh-off", URL: "http://c", Active: false, Events: []core.EventKind{core.EventBudgetAlert}},
	}
	for _, w := range seed {
		if err := reg.Webhooks.Create(ctx, w); err != nil {
			t.Fatalf("Create %s: %v", w.ID, err)
		}
	}

	subs, err := reg.ActiveWebhooksFor(ctx, core.EventBudgetAlert)
	if err != nil {
		t.Fatalf("ActiveWebhooksFor: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "wh-match" {
		t.Errorf("subs = %+v", subs)
	}
}

func TestPendingRetries(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seed := []*core.WebhookDelivery{
		{ID: "d-due", Status: core.DeliveryRetry, NextRetryAt: now.Add(-time.Minute)},
		{ID: "d-exact", Status: core.DeliveryRetry, NextRetryAt: now},
		{ID: "d-later", Status: core.DeliveryRetry, NextRetryAt: now.Add(time.Minute)},
		{ID: "d-done", Status: core.DeliverySuccess, NextRetryAt: now.Add(-time.Hour)},
	}
	for _, d := range seed {
		if err := reg.Deliveries.Create(ctx, d); err != nil {
			t.Fatalf("Create %s: %v", d.ID, err)
		}
	}

	due, err := reg.PendingRetries(ctx, now)
	if err != nil {
		t.Fatalf("PendingRetries: %v", err)
	}
	ids := map[string]bool{}
	for _, d := range due {
		ids[d.ID] = true
	}
	if len(due) != 2 || !ids["d-due"] || !ids["d-exact"] {
		t.Errorf("due = %v, want d-due and d-exact", ids)
	}
}

func TestApplicableBudgets(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	seed := []*core.Budget{
		{ID: "b-global", HardLimitMicros: 1, Enabled: true},
		{ID: "b-key", HardLimitMicros: 1, Enabled: true, Scope: core.BudgetScope{APIKeyIDs: []string{"key-1"}}},
		{ID: "b-disabled", HardLimitMicros: 1, Enabled: false},
	}
	for _, b := range seed {
		if err := reg.Budgets.Create(ctx, b); err != nil {
			t.Fatalf("Create %s: %v", b.ID, err)
		}
	}

	got, err := reg.ApplicableBudgets(ctx, "key-2", "", "m-1")
	if err != nil {
		t.Fatalf("ApplicableBudgets: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b-global" {
		t.Errorf("budgets for key-2 = %+v, want the global one only", got)
	}

	got, _ = reg.ApplicableBudgets(ctx, "key-1", "", "m-1")
	if len(got) != 2 {
		t.Errorf("budgets for key-1 = %+v, want global and key-scoped", got)
	}
}
