package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/modelgate/modelgate/core"
)

// PluginRegistry manages registered provider plugins and the
// credential-type index used by the router. Plugin ids are unique; a plugin
// can only be initialized from Registered and only shut down from Ready.
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins map[string]*pluginEntry
	// credential_type → plugin ids advertising it, in registration order
	credentialTypeIndex map[core.CredentialType][]string
	logger              core.Logger
}

type pluginEntry struct {
	plugin Plugin
	state  PluginState
}

// NewPluginRegistry creates an empty registry
func NewPluginRegistry(logger core.Logger) *PluginRegistry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &PluginRegistry{
		plugins:             make(map[string]*pluginEntry),
		credentialTypeIndex: make(map[core.CredentialType][]string),
		logger:              logger,
	}
}

// Register adds a plugin in the Registered state. Duplicate registration
// fails.
func (r *PluginRegistry) Register(plugin Plugin) error {
	if plugin == nil {
		return core.NewValidationError("plugin cannot be nil")
	}
	meta := plugin.Metadata()
	if meta.ID == "" {
		return core.NewValidationError("plugin id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[meta.ID]; exists {
		return &core.GatewayError{
			Kind: core.KindConflict,
			Op:   "registry.Register",
			ID:   meta.ID,
			Err:  core.ErrPluginAlreadyRegistered,
		}
	}

	r.plugins[meta.ID] = &pluginEntry{plugin: plugin, state: StateRegistered}
	for _, ct := range plugin.SupportedCredentialTypes() {
		r.credentialTypeIndex[ct] = append(r.credentialTypeIndex[ct], meta.ID)
	}

	r.logger.Info("Plugin registered", map[string]interface{}{
		"operation":        "plugin_register",
		"plugin_id":        meta.ID,
		"plugin_version":   meta.Version,
		"credential_types": len(plugin.SupportedCredentialTypes()),
	})
	return nil
}

// Initialize transitions a plugin Registered → Initializing → Ready.
// A failed Initialize leaves the plugin in Error.
func (r *PluginRegistry) Initialize(ctx context.Context, pluginID string) error {
	r.mu.Lock()
	entry, exists := r.plugins[pluginID]
	if !exists {
		r.mu.Unlock()
		return &core.GatewayError{Kind: core.KindNotFound, Op: "registry.Initialize", ID: pluginID, Err: core.ErrPluginNotFound}
	}
	if entry.state != StateRegistered {
		r.mu.Unlock()
		return &core.GatewayError{
			Kind:    core.KindValidation,
			Op:      "registry.Initialize",
			ID:      pluginID,
			Message: fmt.Sprintf("cannot initialize plugin in state %s", entry.state),
			Err:     core.ErrInvalidPluginState,
		}
	}
	entry.state = StateInitializing
	plugin := entry.plugin
	r.mu.Unlock()

	// Initialize may perform I/O; the registry lock is not held across it.
	err := plugin.Initialize(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		entry.state = StateError
		r.logger.Error("Plugin initialization failed", map[string]interface{}{
			"operation": "plugin_initialize",
			"plugin_id": pluginID,
			"error":     err.Error(),
		})
		return err
	}
	entry.state = StateReady
	r.logger.Info("Plugin ready", map[string]interface{}{
		"operation": "plugin_initialize",
		"plugin_id": pluginID,
	})
	return nil
}

// Shutdown transitions a plugin Ready → ShuttingDown → Stopped
func (r *PluginRegistry) Shutdown(ctx context.Context, pluginID string) error {
	r.mu.Lock()
	entry, exists := r.plugins[pluginID]
	if !exists {
		r.mu.Unlock()
		return &core.GatewayError{Kind: core.KindNotFound, Op: "registry.Shutdown", ID: pluginID, Err: core.ErrPluginNotFound}
	}
	if entry.state != StateReady {
		r.mu.Unlock()
		return &core.GatewayError{
			Kind:    core.KindValidation,
			Op:      "registry.Shutdown",
			ID:      pluginID,
			Message: fmt.Sprintf("cannot shut down plugin in state %s", entry.state),
			Err:     core.ErrInvalidPluginState,
		}
	}
	entry.state = StateShuttingDown
	plugin := entry.plugin
	r.mu.Unlock()

	err := plugin.Shutdown(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	entry.state = StateStopped
	return err
}

// State returns the lifecycle state of a plugin
func (r *PluginRegistry) State(pluginID string) (PluginState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, exists := r.plugins[pluginID]
	if !exists {
		return "", false
	}
	return entry.state, true
}

// PluginFor returns the first Ready plugin advertising the credential type
func (r *PluginRegistry) PluginFor(credType core.CredentialType) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.credentialTypeIndex[credType] {
		if entry := r.plugins[id]; entry != nil && entry.state == StateReady {
			return entry.plugin, nil
		}
	}
	return nil, &core.GatewayError{
		Kind:    core.KindNotFound,
		Op:      "registry.PluginFor",
		Message: fmt.Sprintf("no ready plugin for credential type %q", credType),
		Err:     core.ErrPluginNotFound,
	}
}

// ListPlugins returns plugin metadata sorted by id
func (r *PluginRegistry) ListPlugins() []PluginMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginMetadata, 0, len(r.plugins))
	for _, entry := range r.plugins {
		out = append(out, entry.plugin.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
