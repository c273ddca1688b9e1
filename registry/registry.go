package registry

import (
	"context"
	"time"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/store"
)

// Registry bundles the typed repositories for every gateway entity type
// over a single storage backend.
type Registry struct {
	Models      *Repository[core.Model]
	Chains      *Repository[core.Chain]
	Prompts     *Repository[core.Prompt]
	Workflows   *Repository[core.Workflow]
	Credentials *Repository[core.Credential]
	Budgets     *Repository[core.Budget]
	Webhooks    *Repository[core.Webhook]
	Deliveries  *Repository[core.WebhookDelivery]
	Usage       *Repository[core.UsageRecord]
}

// New creates a registry over the given storage backend
func New(s store.EntityStore, logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		Models: NewRepository(s, store.TableModels,
			func(m *core.Model) string { return m.ID },
			func(m *core.Model) error { return m.Validate() }, logger),
		Chains: NewRepository(s, store.TableChains,
			func(c *core.Chain) string { return c.ID },
			func(c *core.Chain) error { return c.Validate() }, logger),
		Prompts: NewRepository(s, store.TablePrompts,
			func(p *core.Prompt) string { return p.ID },
			func(p *core.Prompt) error { return p.Validate() }, logger),
		Workflows: NewRepository(s, store.TableWorkflows,
			func(w *core.Workflow) string { return w.ID },
			func(w *core.Workflow) error { return w.Validate() }, logger),
		Credentials: NewRepository(s, store.TableCredentials,
			func(c *core.Credential) string { return c.ID },
			func(c *core.Credential) error { return c.Validate() }, logger),
		Budgets: NewRepository(s, store.TableBudgets,
			func(b *core.Budget) string { return b.ID },
			func(b *core.Budget) error { return b.Validate() }, logger),
		Webhooks: NewRepository(s, store.TableWebhooks,
			func(w *core.Webhook) string { return w.ID },
			func(w *core.Webhook) error { return w.Validate() }, logger),
		Deliveries: NewRepository(s, store.TableWebhookDeliveries,
			func(d *core.WebhookDelivery) string { return d.ID },
			nil, logger),
		Usage: NewRepository(s, store.TableUsageRecords,
			func(u *core.UsageRecord) string { return u.ID },
			nil, logger),
	}
}

// EnabledModels returns enabled models only
func (r *Registry) EnabledModels(ctx context.Context) ([]*core.Model, error) {
	return r.Models.ListFiltered(ctx, func(m *core.Model) bool { return m.Enabled })
}

// ActiveWebhooksFor returns active subscriptions listening for the event
// kind.
func (r *Registry) ActiveWebhooksFor(ctx context.Context, kind core.EventKind) ([]*core.Webhook, error) {
	return r.Webhooks.ListFiltered(ctx, func(w *core.Webhook) bool {
		return w.Active && w.Subscribed(kind)
	})
}

// PendingRetries returns deliveries whose retry time has arrived
func (r *Registry) PendingRetries(ctx context.Context, now time.Time) ([]*core.WebhookDelivery, error) {
	return r.Deliveries.ListFiltered(ctx, func(d *core.WebhookDelivery) bool {
		return d.Status == core.DeliveryRetry && !d.NextRetryAt.After(now)
	})
}

// ApplicableBudgets returns enabled budgets whose scope matches the request
func (r *Registry) ApplicableBudgets(ctx context.Context, apiKeyID, teamID, modelID string) ([]*core.Budget, error) {
	return r.Budgets.ListFiltered(ctx, func(b *core.Budget) bool {
		return b.Enabled && b.AppliesTo(apiKeyID, teamID, modelID)
	})
}
