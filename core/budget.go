package core

import "time"

// BudgetPeriod is the reset cadence of a budget. The set is closed.
type BudgetPeriod string

const (
	PeriodDaily    BudgetPeriod = "daily"
	PeriodWeekly   BudgetPeriod = "weekly"
	PeriodMonthly  BudgetPeriod = "monthly"
	PeriodLifetime BudgetPeriod = "lifetime"
)

// Duration returns the period length. Months are fixed 30-day spans, not
// calendar months; lifetime periods never elapse.
func (p BudgetPeriod) Duration() time.Duration {
	switch p {
	case PeriodDaily:
		return 24 * time.Hour
	case PeriodWeekly:
		return 7 * 24 * time.Hour
	case PeriodMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// BudgetAlert fires once per period when usage crosses ThresholdPercent of
// the hard limit. Triggered prevents re-fire until the period resets.
type BudgetAlert struct {
	ThresholdPercent float64 `json:"threshold_percent" yaml:"threshold_percent"`
	Triggered        bool    `json:"triggered" yaml:"triggered"`
}

// BudgetScope restricts which requests a budget applies to. Empty lists
// match everything; non-empty lists are AND-ed across dimensions.
type BudgetScope struct {
	APIKeyIDs []string `json:"api_key_ids,omitempty" yaml:"api_key_ids,omitempty"`
	TeamIDs   []string `json:"team_ids,omitempty" yaml:"team_ids,omitempty"`
	ModelIDs  []string `json:"model_ids,omitempty" yaml:"model_ids,omitempty"`
}

// Budget is a period-scoped spending limit. All monetary amounts are
// micro-dollars (integer $1e-6) for exact accounting.
type Budget struct {
	ID                 string        `json:"id" yaml:"id"`
	Name               string        `json:"name" yaml:"name"`
	Period             BudgetPeriod  `json:"period" yaml:"period"`
	PeriodStart        time.Time     `json:"period_start" yaml:"period_start"`
	HardLimitMicros    int64         `json:"hard_limit_micros" yaml:"hard_limit_micros"`
	SoftLimitMicros    *int64        `json:"soft_limit_micros,omitempty" yaml:"soft_limit_micros,omitempty"`
	CurrentUsageMicros int64         `json:"current_usage_micros" yaml:"current_usage_micros"`
	Alerts             []BudgetAlert `json:"alerts,omitempty" yaml:"alerts,omitempty"`
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	Scope              BudgetScope   `json:"scopes" yaml:"scopes"`
	CreatedAt          time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" yaml:"updated_at"`
}

// Validate checks the budget's identifier and limit ordering
func (b *Budget) Validate() error {
	if err := ValidateID(b.ID); err != nil {
		return err
	}
	if b.HardLimitMicros <= 0 {
		return NewValidationError("budget %s: hard_limit_micros must be positive", b.ID)
	}
	if b.SoftLimitMicros != nil && *b.SoftLimitMicros >= b.HardLimitMicros {
		return NewValidationError("budget %s: soft limit must be below hard limit", b.ID)
	}
	return nil
}

// PeriodElapsed reports whether the budget's current period has ended
func (b *Budget) PeriodElapsed(now time.Time) bool {
	d := b.Period.Duration()
	if d == 0 {
		return false
	}
	return !now.Before(b.PeriodStart.Add(d))
}

// AppliesTo reports whether the budget's scope matches a request.
// An empty scope dimension matches everything; non-empty dimensions are
// AND-ed.
func (b *Budget) AppliesTo(apiKeyID, teamID, modelID string) bool {
	if len(b.Scope.APIKeyIDs) > 0 && !containsString(b.Scope.APIKeyIDs, apiKeyID) {
		return false
	}
	if len(b.Scope.TeamIDs) > 0 && !containsString(b.Scope.TeamIDs, teamID) {
		return false
	}
	if len(b.Scope.ModelIDs) > 0 && !containsString(b.Scope.ModelIDs, modelID) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// UsageType classifies a usage record
type UsageType string

const (
	UsageChatCompletion UsageType = "chat_completion"
	UsageEmbedding      UsageType = "embedding"
	UsageWorkflow       UsageType = "workflow"
)

// UsageRecord is an immutable fact describing one completion's outcome
type UsageRecord struct {
	ID           string    `json:"id" yaml:"id"`
	UsageType    UsageType `json:"usage_type" yaml:"usage_type"`
	APIKeyID     string    `json:"api_key_id" yaml:"api_key_id"`
	ModelID      string    `json:"model_id,omitempty" yaml:"model_id,omitempty"`
	InputTokens  int       `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int       `json:"output_tokens" yaml:"output_tokens"`
	CostMicros   int64     `json:"cost_micros" yaml:"cost_micros"`
	LatencyMs    int64     `json:"latency_ms" yaml:"latency_ms"`
	Timestamp    time.Time `json:"timestamp" yaml:"timestamp"`
	Success      bool      `json:"success" yaml:"success"`
	Error        string    `json:"error,omitempty" yaml:"error,omitempty"`
}
