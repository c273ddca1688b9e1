package core

import (
	"encoding/json"
	"time"
)

// EventKind names the gateway events a subscription can listen for
type EventKind string

const (
	EventCompletionFinished EventKind = "completion.finished"
	EventCompletionFailed   EventKind = "completion.failed"
	EventBudgetAlert        EventKind = "budget.alert"
	EventBudgetExceeded     EventKind = "budget.exceeded"
	EventWorkflowFinished   EventKind = "workflow.finished"
	EventCacheHit           EventKind = "cache.hit"
)

// Event is the payload fanned out to webhook subscribers
type Event struct {
	ID        string          `json:"id"`
	Kind      EventKind       `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Webhook is a subscription to gateway events. Secret, when set, is used
// to sign delivery bodies with HMAC-SHA256.
type Webhook struct {
	ID            string      `json:"id" yaml:"id"`
	Name          string      `json:"name" yaml:"name"`
	URL           string      `json:"url" yaml:"url"`
	Secret        string      `json:"secret,omitempty" yaml:"secret,omitempty"`
	Events        []EventKind `json:"events" yaml:"events"`
	Active        bool        `json:"active" yaml:"active"`
	MaxRetries    int         `json:"max_retries" yaml:"max_retries"`
	RetryDelaySec int64       `json:"retry_delay_secs" yaml:"retry_delay_secs"`
	DisableAfter  int         `json:"disable_after_failures" yaml:"disable_after_failures"`
	FailureCount  int         `json:"failure_count" yaml:"failure_count"`
	CreatedAt     time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" yaml:"updated_at"`
}

// Validate checks the subscription's identifier and target URL
func (w *Webhook) Validate() error {
	if err := ValidateID(w.ID); err != nil {
		return err
	}
	if w.URL == "" {
		return NewValidationError("webhook %s: url is required", w.ID)
	}
	return nil
}

// Subscribed reports whether the subscription listens for the event kind
func (w *Webhook) Subscribed(kind EventKind) bool {
	for _, k := range w.Events {
		if k == kind {
			return true
		}
	}
	return false
}

// DeliveryStatus tracks the lifecycle of one webhook delivery attempt row
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryRetry   DeliveryStatus = "retry"
)

// WebhookDelivery is a persistent attempt to POST an event to a
// subscriber URL.
type WebhookDelivery struct {
	ID          string         `json:"id" yaml:"id"`
	WebhookID   string         `json:"webhook_id" yaml:"webhook_id"`
	EventID     string         `json:"event_id" yaml:"event_id"`
	EventKind   EventKind      `json:"event_kind" yaml:"event_kind"`
	Payload     []byte         `json:"payload" yaml:"payload"`
	Status      DeliveryStatus `json:"status" yaml:"status"`
	Attempts    int            `json:"attempts" yaml:"attempts"`
	LastError   string         `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	NextRetryAt time.Time      `json:"next_retry_at,omitempty" yaml:"next_retry_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"updated_at"`
}
