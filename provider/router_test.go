package provider

import (
	"context"
	"fmt"
	"testing"

	"github.com/modelgate/modelgate/core"
)

// mapSources serves models and credentials from in-memory maps
type mapSources struct {
	models map[string]*core.Model
	creds  map[string]*core.Credential
}

func (s *mapSources) GetModel(ctx context.Context, id string) (*core.Model, error) {
	if m, ok := s.models[id]; ok {
		return m, nil
	}
	return nil, core.NewNotFoundError("test.GetModel", id)
}

func (s *mapSources) GetCredential(ctx context.Context, id string) (*core.Credential, error) {
	if c, ok := s.creds[id]; ok {
		return c, nil
	}
	return nil, core.NewNotFoundError("test.GetCredential", id)
}

func newRouterFixture(t *testing.T) (*Router, *fakePlugin, *mapSources) {
	t.Helper()
	reg := NewPluginRegistry(nil)
	plugin := &fakePlugin{id: "openai", credTypes: []core.CredentialType{core.CredentialOpenAI}}
	if err := reg.Register(plugin); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Initialize(context.Background(), "openai"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	sources := &mapSources{
		models: map[string]*core.Model{
			"m-1": {
				ID:             "m-1",
				CredentialType: core.CredentialOpenAI,
				ProviderModel:  "gpt-4o",
				CredentialID:   "cred-1",
				Enabled:        true,
			},
		},
		creds: map[string]*core.Credential{
			"cred-1": {ID: "cred-1", CredentialType: core.CredentialOpenAI, APIKey: "sk-test", Enabled: true},
		},
	}
	return NewRouter(reg, sources, sources, nil), plugin, sources
}

func TestRouterResolvesAndCaches(t *testing.T) {
	router, plugin, _ := newRouterFixture(t)
	ctx := context.Background()

	prov, err := router.GetProvider(ctx, "m-1")
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if prov.ProviderName() != "openai" {
		t.Errorf("provider = %s", prov.ProviderName())
	}

	// same credential: the cached instance is reused
	again, err := router.GetProvider(ctx, "m-1")
	if err != nil {
		t.Fatalf("GetProvider again: %v", err)
	}
	if prov != again {
		t.Error("second resolution created a new instance")
	}
	if plugin.created != 1 {
		t.Errorf("plugin created %d instances, want 1", plugin.created)
	}

	upstream, err := router.GetProviderModel(ctx, "m-1")
	if err != nil {
		t.Fatalf("GetProviderModel: %v", err)
	}
	if upstream != "gpt-4o" {
		t.Errorf("provider model = %q", upstream)
	}
}

func TestRouterRejectsUnusableModels(t *testing.T) {
	router, _, sources := newRouterFixture(t)
	ctx := context.Background()

	if _, err := router.GetProvider(ctx, "no-such"); !core.IsNotFound(err) {
		t.Errorf("unknown model = %v, want not found", err)
	}

	sources.models["m-off"] = &core.Model{
		ID:             "m-off",
		CredentialType: core.CredentialOpenAI,
		ProviderModel:  "gpt-4o",
		CredentialID:   "cred-1",
		Enabled:        false,
	}
	if _, err := router.GetProvider(ctx, "m-off"); !core.IsValidation(err) {
		t.Errorf("disabled model = %v, want validation error", err)
	}

	sources.models["m-bare"] = &core.Model{
		ID:             "m-bare",
		CredentialType: core.CredentialOpenAI,
		ProviderModel:  "gpt-4o",
		Enabled:        true,
	}
	if _, err := router.GetProvider(ctx, "m-bare"); !core.IsValidation(err) {
		t.Errorf("model without credential = %v, want validation error", err)
	}

	sources.models["m-dangling"] = &core.Model{
		ID:             "m-dangling",
		CredentialType: core.CredentialOpenAI,
		ProviderModel:  "gpt-4o",
		CredentialID:   "cred-gone",
		Enabled:        true,
	}
	if _, err := router.GetProvider(ctx, "m-dangling"); !core.IsNotFound(err) {
		t.Errorf("dangling credential = %v, want not found", err)
	}
}

func TestRouterCacheEviction(t *testing.T) {
	router, plugin, sources := newRouterFixture(t)
	ctx := context.Background()
	router.SetCacheCapacity(4)

	// distinct credentials occupy distinct cache slots
	for i := 0; i < 4; i++ {
		modelID := fmt.Sprintf("m-%d", i)
		credID := fmt.Sprintf("cred-%d", i)
		sources.models[modelID] = &core.Model{
			ID:             modelID,
			CredentialType: core.CredentialOpenAI,
			ProviderModel:  "gpt-4o",
			CredentialID:   credID,
			Enabled:        true,
		}
		sources.creds[credID] = &core.Credential{ID: credID, CredentialType: core.CredentialOpenAI, Enabled: true}
		if _, err := router.GetProvider(ctx, modelID); err != nil {
			t.Fatalf("GetProvider %s: %v", modelID, err)
		}
	}
	if router.CacheSize() != 4 {
		t.Fatalf("cache size = %d, want 4", router.CacheSize())
	}

	// the next distinct credential overflows and evicts the oldest half
	sources.models["m-extra"] = &core.Model{
		ID:             "m-extra",
		CredentialType: core.CredentialOpenAI,
		ProviderModel:  "gpt-4o",
		CredentialID:   "cred-extra",
		Enabled:        true,
	}
	sources.creds["cred-extra"] = &core.Credential{ID: "cred-extra", CredentialType: core.CredentialOpenAI, Enabled: true}
	if _, err := router.GetProvider(ctx, "m-extra"); err != nil {
		t.Fatalf("GetProvider m-extra: %v", err)
	}
	if size := router.CacheSize(); size != 3 {
		t.Errorf("cache size after eviction = %d, want 3", size)
	}

	// the oldest entry was evicted; resolving it creates a fresh instance
	created := plugin.created
	if _, err := router.GetProvider(ctx, "m-0"); err != nil {
		t.Fatalf("GetProvider m-0: %v", err)
	}
	if plugin.created != created+1 {
		t.Errorf("created = %d, want a new instance for the evicted credential", plugin.created)
	}
}
