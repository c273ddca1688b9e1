// Package gateway wires the subsystems into the completion data path and
// exposes them over HTTP.
package gateway

import (
	"context"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/provider"
	"github.com/modelgate/modelgate/registry"
)

// registrySources adapts the entity registry to the router's narrow
// lookup interfaces.
type registrySources struct {
	registry *registry.Registry
}

func (s *registrySources) GetModel(ctx context.Context, id string) (*core.Model, error) {
	return s.registry.Models.Get(ctx, id)
}

func (s *registrySources) GetCredential(ctx context.Context, id string) (*core.Credential, error) {
	return s.registry.Credentials.Get(ctx, id)
}

// Sources exposes the registry through the router's lookup interfaces
func Sources(reg *registry.Registry) (provider.ModelSource, provider.CredentialSource) {
	s := &registrySources{registry: reg}
	return s, s
}

var (
	_ provider.ModelSource      = (*registrySources)(nil)
	_ provider.CredentialSource = (*registrySources)(nil)
)
