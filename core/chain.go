package core

import (
	"math"
	"time"
)

// FallbackBehavior selects the next action when a chain step fails.
// The set is closed.
type FallbackBehavior string

const (
	// FallbackContinue advances to the next step
	FallbackContinue FallbackBehavior = "continue"
	// FallbackStop halts the chain and propagates the step's error
	FallbackStop FallbackBehavior = "stop"
	// FallbackSkip halts the chain without an error (partial result)
	FallbackSkip FallbackBehavior = "skip"
)

// RetryConfig governs the retry loop of a single chain step.
// Delay for 0-indexed retry n is min(initial * multiplier^n, max); the first
// retry waits exactly InitialDelayMs.
type RetryConfig struct {
	MaxRetries        int     `json:"max_retries" yaml:"max_retries"`
	InitialDelayMs    int64   `json:"initial_delay_ms" yaml:"initial_delay_ms"`
	MaxDelayMs        int64   `json:"max_delay_ms" yaml:"max_delay_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultRetryConfig provides sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialDelayMs:    100,
		MaxDelayMs:        5000,
		BackoffMultiplier: 2.0,
	}
}

// DelayForAttempt returns the backoff delay before the given 0-indexed
// retry. Attempt 0 returns InitialDelayMs exactly.
func (r RetryConfig) DelayForAttempt(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Duration(r.InitialDelayMs) * time.Millisecond
	}
	mult := r.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(r.InitialDelayMs) * math.Pow(mult, float64(attempt))
	if max := float64(r.MaxDelayMs); r.MaxDelayMs > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay) * time.Millisecond
}

// ChainStep references a model by id plus the policy guarding its
// invocation. Resolution happens at execute time, so a dangling model
// reference surfaces as a step failure, not a save-time error.
type ChainStep struct {
	ModelID          string           `json:"model_id" yaml:"model_id"`
	Name             string           `json:"name,omitempty" yaml:"name,omitempty"`
	Retry            RetryConfig      `json:"retry_config" yaml:"retry_config"`
	MaxLatencyMs     int64            `json:"max_latency_ms" yaml:"max_latency_ms"` // 0 = no limit
	FallbackBehavior FallbackBehavior `json:"fallback_behavior" yaml:"fallback_behavior"`
	Priority         int              `json:"priority" yaml:"priority"`
}

// Chain is an ordered list of steps executed as a fallback pipeline.
// Empty or disabled chains are rejected at execution time, not storage time.
type Chain struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []ChainStep `json:"steps" yaml:"steps"`
	Enabled     bool        `json:"enabled" yaml:"enabled"`
	CreatedAt   time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"updated_at"`
}

// Validate checks the chain's identifiers. Step model ids must be lexically
// valid but are not resolved here.
func (c *Chain) Validate() error {
	if err := ValidateID(c.ID); err != nil {
		return err
	}
	for i, step := range c.Steps {
		if err := ValidateID(step.ModelID); err != nil {
			return NewValidationError("chain %s step %d: %v", c.ID, i, err)
		}
	}
	return nil
}
