package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/registry"
)

// deliveryTimeout caps one POST to a subscriber
const deliveryTimeout = 30 * time.Second

// Dispatcher fans events out to active subscriptions. Delivery happens
// on background goroutines; producers never wait on subscriber I/O.
type Dispatcher struct {
	registry   *registry.Registry
	httpClient *http.Client
	logger     core.Logger

	wg    sync.WaitGroup
	now   func() time.Time
	newID func() string
}

// NewDispatcher creates a dispatcher over the registry's subscriptions
func NewDispatcher(reg *registry.Registry, logger core.Logger) *Dispatcher {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Dispatcher{
		registry:   reg,
		httpClient: &http.Client{Timeout: deliveryTimeout},
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Dispatch builds an event from the payload and sends it. Marshal
// failures are logged and dropped; the producer is never failed.
func (d *Dispatcher) Dispatch(ctx context.Context, kind core.EventKind, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		d.logger.Error("Event payload marshal failed", map[string]interface{}{
			"operation": "webhook_dispatch",
			"kind":      string(kind),
			"error":     err.Error(),
		})
		return
	}
	d.SendEvent(ctx, &core.Event{
		ID:        d.newID(),
		Kind:      kind,
		Timestamp: d.now(),
		Data:      raw,
	})
}

// SendEvent fans the event out to every active subscription listening
// for its kind. Each subscription gets a persistent delivery row and an
// asynchronous first attempt.
func (d *Dispatcher) SendEvent(ctx context.Context, event *core.Event) {
	subs, err := d.registry.ActiveWebhooksFor(ctx, event.Kind)
	if err != nil {
		d.logger.Error("Subscription lookup failed, event dropped", map[string]interface{}{
			"operation": "webhook_dispatch",
			"event_id":  event.ID,
			"error":     err.Error(),
		})
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("Event marshal failed, event dropped", map[string]interface{}{
			"operation": "webhook_dispatch",
			"event_id":  event.ID,
			"error":     err.Error(),
		})
		return
	}

	for _, sub := range subs {
		delivery := &core.WebhookDelivery{
			ID:        d.newID(),
			WebhookID: sub.ID,
			EventID:   event.ID,
			EventKind: event.Kind,
			Payload:   payload,
			Status:    core.DeliveryPending,
			CreatedAt: d.now(),
			UpdatedAt: d.now(),
		}
		if err := d.registry.Deliveries.Create(ctx, delivery); err != nil {
			d.logger.Error("Delivery row creation failed", map[string]interface{}{
				"operation":  "webhook_dispatch",
				"webhook_id": sub.ID,
				"event_id":   event.ID,
				"error":      err.Error(),
			})
			continue
		}

		d.wg.Add(1)
		go func(sub *core.Webhook, delivery *core.WebhookDelivery) {
			defer d.wg.Done()
			deliverCtx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			d.attempt(deliverCtx, sub, delivery)
		}(sub, delivery)
	}
}

// Flush waits for in-flight deliveries; used on shutdown and in tests
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}

// attempt POSTs the delivery payload once and records the outcome
func (d *Dispatcher) attempt(ctx context.Context, sub *core.Webhook, delivery *core.WebhookDelivery) {
	delivery.Attempts++

	err := d.post(ctx, sub, delivery)
	if err == nil {
		delivery.Status = core.DeliverySuccess
		delivery.LastError = ""
		delivery.UpdatedAt = d.now()
		d.updateDelivery(ctx, delivery)
		d.recordSuccess(ctx, sub)
		return
	}

	delivery.LastError = err.Error()
	delivery.UpdatedAt = d.now()
	if delivery.Attempts > sub.MaxRetries {
		delivery.Status = core.DeliveryFailed
	} else {
		delivery.Status = core.DeliveryRetry
		delivery.NextRetryAt = d.now().Add(d.backoff(sub, delivery.Attempts))
	}
	d.updateDelivery(ctx, delivery)
	d.recordFailure(ctx, sub)

	d.logger.Warn("Webhook delivery failed", map[string]interface{}{
		"operation":   "webhook_deliver",
		"webhook_id":  sub.ID,
		"delivery_id": delivery.ID,
		"attempts":    delivery.Attempts,
		"status":      string(delivery.Status),
		"error":       err.Error(),
	})
}

// backoff doubles the subscription's base delay per prior attempt
func (d *Dispatcher) backoff(sub *core.Webhook, attempts int) time.Duration {
	base := time.Duration(sub.RetryDelaySec) * time.Second
	if base <= 0 {
		base = time.Minute
	}
	return base << uint(attempts-1)
}

func (d *Dispatcher) post(ctx context.Context, sub *core.Webhook, delivery *core.WebhookDelivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", string(delivery.EventKind))
	req.Header.Set("X-Webhook-Delivery-Id", delivery.ID)
	if sub.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(sub.Secret, delivery.Payload))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) updateDelivery(ctx context.Context, delivery *core.WebhookDelivery) {
	if err := d.registry.Deliveries.Update(ctx, delivery); err != nil {
		d.logger.Error("Delivery row update failed", map[string]interface{}{
			"operation":   "webhook_deliver",
			"delivery_id": delivery.ID,
			"error":       err.Error(),
		})
	}
}

// recordSuccess clears the subscription's consecutive failure streak
func (d *Dispatcher) recordSuccess(ctx context.Context, sub *core.Webhook) {
	current, err := d.registry.Webhooks.Get(ctx, sub.ID)
	if err != nil || current.FailureCount == 0 {
		return
	}
	current.FailureCount = 0
	current.UpdatedAt = d.now()
	if err := d.registry.Webhooks.Update(ctx, current); err != nil {
		d.logger.Error("Webhook update failed", map[string]interface{}{
			"operation":  "webhook_deliver",
			"webhook_id": sub.ID,
			"error":      err.Error(),
		})
	}
}

// recordFailure bumps the streak and disables the subscription once it
// reaches its configured cutoff.
func (d *Dispatcher) recordFailure(ctx context.Context, sub *core.Webhook) {
	current, err := d.registry.Webhooks.Get(ctx, sub.ID)
	if err != nil {
		return
	}
	current.FailureCount++
	if current.DisableAfter > 0 && current.FailureCount >= current.DisableAfter {
		current.Active = false
		d.logger.Warn("Webhook disabled after consecutive failures", map[string]interface{}{
			"operation":     "webhook_disable",
			"webhook_id":    current.ID,
			"failure_count": current.FailureCount,
		})
	}
	current.UpdatedAt = d.now()
	if err := d.registry.Webhooks.Update(ctx, current); err != nil {
		d.logger.Error("Webhook update failed", map[string]interface{}{
			"operation":  "webhook_deliver",
			"webhook_id": sub.ID,
			"error":      err.Error(),
		})
	}
}

// RetryDue re-attempts every delivery whose retry time has arrived.
// Returns how many deliveries were attempted.
func (d *Dispatcher) RetryDue(ctx context.Context) (int, error) {
	due, err := d.registry.PendingRetries(ctx, d.now())
	if err != nil {
		return 0, err
	}
	attempted := 0
	for _, delivery := range due {
		sub, err := d.registry.Webhooks.Get(ctx, delivery.WebhookID)
		if err != nil {
			// subscription deleted: the delivery can never complete
			delivery.Status = core.DeliveryFailed
			delivery.LastError = "subscription no longer exists"
			delivery.UpdatedAt = d.now()
			d.updateDelivery(ctx, delivery)
			continue
		}
		if !sub.Active {
			delivery.Status = core.DeliveryFailed
			delivery.LastError = "subscription disabled"
			delivery.UpdatedAt = d.now()
			d.updateDelivery(ctx, delivery)
			continue
		}
		d.attempt(ctx, sub, delivery)
		attempted++
	}
	return attempted, nil
}

// RunRetryWorker polls for due retries on a steady cadence until the
// context is cancelled.
func (d *Dispatcher) RunRetryWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RetryDue(ctx); err != nil {
				d.logger.Error("Webhook retry sweep failed", map[string]interface{}{
					"operation": "webhook_retry",
					"error":     err.Error(),
				})
			}
		}
	}
}
