package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/registry"
)

// EventSink receives budget notifications. The webhook dispatcher
// satisfies it; a nil sink drops the notifications.
type EventSink interface {
	Dispatch(ctx context.Context, kind core.EventKind, data interface{})
}

// Decision is the outcome of a budget admission check
type Decision struct {
	Allowed     bool     `json:"allowed"`
	ExceededIDs []string `json:"exceeded_ids,omitempty"`
	WarningIDs  []string `json:"warning_ids,omitempty"`
}

// AlertNotification is the payload published when usage crosses an
// alert threshold or the hard limit.
type AlertNotification struct {
	BudgetID           string  `json:"budget_id"`
	BudgetName         string  `json:"budget_name"`
	ThresholdPercent   float64 `json:"threshold_percent,omitempty"`
	CurrentUsageMicros int64   `json:"current_usage_micros"`
	HardLimitMicros    int64   `json:"hard_limit_micros"`
}

// Service is the budget and usage accounting layer
type Service struct {
	registry *registry.Registry
	pricing  *PricingTable
	sink     EventSink
	logger   core.Logger
	now      func() time.Time
	newID    func() string
}

// NewService creates the accounting service. The sink may be nil.
func NewService(reg *registry.Registry, pricing *PricingTable, sink EventSink, logger core.Logger) *Service {
	if pricing == nil {
		pricing = NewPricingTable()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Service{
		registry: reg,
		pricing:  pricing,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Pricing exposes the table so callers can estimate costs up front
func (s *Service) Pricing() *PricingTable { return s.pricing }

// CheckBudgetWithTeam decides whether a request may proceed. The request
// is refused iff any applicable budget would cross its hard limit. A
// storage failure fails open: blocking traffic on a database hiccup is
// worse than a briefly stale limit.
func (s *Service) CheckBudgetWithTeam(ctx context.Context, apiKeyID, teamID, modelID string, estimatedCostMicros int64) Decision {
	budgets, err := s.registry.ApplicableBudgets(ctx, apiKeyID, teamID, modelID)
	if err != nil {
		s.logger.Warn("Budget lookup failed, admitting request", map[string]interface{}{
			"operation":  "budget_check",
			"api_key_id": apiKeyID,
			"error":      err.Error(),
		})
		return Decision{Allowed: true}
	}

	decision := Decision{Allowed: true}
	for _, b := range budgets {
		projected := b.CurrentUsageMicros + estimatedCostMicros
		if projected > b.HardLimitMicros {
			decision.ExceededIDs = append(decision.ExceededIDs, b.ID)
			continue
		}
		if b.SoftLimitMicros != nil && projected > *b.SoftLimitMicros {
			decision.WarningIDs = append(decision.WarningIDs, b.ID)
		}
	}
	decision.Allowed = len(decision.ExceededIDs) == 0
	return decision
}

// RecordUsageWithTeam persists the usage record and charges every
// applicable budget, firing threshold alerts that this charge crossed.
func (s *Service) RecordUsageWithTeam(ctx context.Context, rec *core.UsageRecord, teamID string) error {
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	if err := s.registry.Usage.Create(ctx, rec); err != nil {
		return err
	}

	if rec.CostMicros == 0 {
		return nil
	}

	budgets, err := s.registry.ApplicableBudgets(ctx, rec.APIKeyID, teamID, rec.ModelID)
	if err != nil {
		s.logger.Warn("Budget charge skipped, lookup failed", map[string]interface{}{
			"operation":  "budget_charge",
			"api_key_id": rec.APIKeyID,
			"error":      err.Error(),
		})
		return nil
	}

	for _, b := range budgets {
		before := b.CurrentUsageMicros
		b.CurrentUsageMicros = before + rec.CostMicros
		s.fireCrossedAlerts(ctx, b, before)
		if err := s.registry.Budgets.Update(ctx, b); err != nil {
			s.logger.Error("Budget update failed", map[string]interface{}{
				"operation": "budget_charge",
				"budget_id": b.ID,
				"error":     err.Error(),
			})
		}
	}
	return nil
}

// fireCrossedAlerts emits one notification per alert threshold crossed
// by this charge; the triggered flag keeps each alert to once per period.
func (s *Service) fireCrossedAlerts(ctx context.Context, b *core.Budget, beforeMicros int64) {
	for i := range b.Alerts {
		alert := &b.Alerts[i]
		if alert.Triggered {
			continue
		}
		boundary := int64(float64(b.HardLimitMicros) * alert.ThresholdPercent / 100)
		if b.CurrentUsageMicros >= boundary {
			alert.Triggered = true
			s.publish(ctx, core.EventBudgetAlert, AlertNotification{
				BudgetID:           b.ID,
				BudgetName:         b.Name,
				ThresholdPercent:   alert.ThresholdPercent,
				CurrentUsageMicros: b.CurrentUsageMicros,
				HardLimitMicros:    b.HardLimitMicros,
			})
		}
	}

	if beforeMicros <= b.HardLimitMicros && b.CurrentUsageMicros > b.HardLimitMicros {
		s.publish(ctx, core.EventBudgetExceeded, AlertNotification{
			BudgetID:           b.ID,
			BudgetName:         b.Name,
			CurrentUsageMicros: b.CurrentUsageMicros,
			HardLimitMicros:    b.HardLimitMicros,
		})
	}
}

func (s *Service) publish(ctx context.Context, kind core.EventKind, data interface{}) {
	if s.sink != nil {
		s.sink.Dispatch(ctx, kind, data)
	}
}

// ResetExpiredPeriods rolls over every budget whose period has elapsed:
// the period start advances, usage zeroes, and alerts re-arm. Returns
// how many budgets were reset.
func (s *Service) ResetExpiredPeriods(ctx context.Context) (int, error) {
	budgets, err := s.registry.Budgets.List(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	reset := 0
	for _, b := range budgets {
		if !b.PeriodElapsed(now) {
			continue
		}
		// catch up across multiple missed periods in one sweep
		period := b.Period.Duration()
		for b.PeriodElapsed(now) {
			b.PeriodStart = b.PeriodStart.Add(period)
		}
		b.CurrentUsageMicros = 0
		for i := range b.Alerts {
			b.Alerts[i].Triggered = false
		}
		if err := s.registry.Budgets.Update(ctx, b); err != nil {
			s.logger.Error("Budget period reset failed", map[string]interface{}{
				"operation": "budget_reset",
				"budget_id": b.ID,
				"error":     err.Error(),
			})
			continue
		}
		reset++
	}
	return reset, nil
}

// RunPeriodSweeper resets elapsed budget periods on a steady cadence
// until the context is cancelled.
func (s *Service) RunPeriodSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.ResetExpiredPeriods(ctx); err != nil {
				s.logger.Error("Budget period sweep failed", map[string]interface{}{
					"operation": "budget_reset",
					"error":     err.Error(),
				})
			} else if n > 0 {
				s.logger.Info("Budget periods reset", map[string]interface{}{
					"operation": "budget_reset",
					"count":     n,
				})
			}
		}
	}
}
