package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/provider"
)

// Resolver turns a model id into a ready provider client and the
// upstream model name. provider.Router satisfies it.
type Resolver interface {
	GetProvider(ctx context.Context, modelID string) (provider.LlmProvider, error)
	GetProviderModel(ctx context.Context, modelID string) (string, error)
}

// StepResult records the outcome of one chain step
type StepResult struct {
	ModelID   string              `json:"model_id"`
	StepName  string              `json:"step_name,omitempty"`
	Success   bool                `json:"success"`
	Attempts  int                 `json:"attempts"`
	LatencyMs int64               `json:"latency_ms"`
	Error     string              `json:"error,omitempty"`
	Response  *core.ChatResponse  `json:"-"`
}

// Result summarises one chain execution. Provider failures are captured
// into step results, never returned as errors.
type Result struct {
	Success        bool                `json:"success"`
	Response       *core.ChatResponse  `json:"-"`
	StepResults    []StepResult        `json:"step_results"`
	TotalLatencyMs int64               `json:"total_latency_ms"`
	Error          string              `json:"error,omitempty"`
}

// Executor runs chains as fallback pipelines
type Executor struct {
	resolver Resolver
	breakers *breakerSet
	metrics  *metricsRegistry
	logger   core.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the executor's logger
func WithLogger(logger core.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBreakerPolicy sets the per-model circuit breaker thresholds
func WithBreakerPolicy(threshold int64, resetDuration time.Duration) Option {
	return func(e *Executor) {
		e.breakers = newBreakerSet(threshold, resetDuration)
	}
}

// NewExecutor creates a chain executor over the given resolver
func NewExecutor(resolver Resolver, opts ...Option) *Executor {
	e := &Executor{
		resolver: resolver,
		breakers: newBreakerSet(DefaultBreakerThreshold, DefaultBreakerReset),
		metrics:  newMetricsRegistry(),
		logger:   &core.NoOpLogger{},
		sleep:    sleepCtx,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CircuitState reports the breaker state for a model id
func (e *Executor) CircuitState(modelID string) BreakerState {
	return e.breakers.get(modelID).State()
}

// MetricsSnapshot returns a copy of the accumulated per-chain metrics
func (e *Executor) MetricsSnapshot() map[string]ChainMetrics {
	return e.metrics.snapshot()
}

// Execute runs the chain against the request. It returns an error only
// when the chain is disabled or empty; every other outcome, including
// total failure of all steps, is reported through the Result.
func (e *Executor) Execute(ctx context.Context, ch *core.Chain, req *core.ChatRequest) (*Result, error) {
	if !ch.Enabled {
		return nil, &core.GatewayError{Kind: core.KindValidation, Op: "chain.Execute", ID: ch.ID, Err: core.ErrChainDisabled}
	}
	if len(ch.Steps) == 0 {
		return nil, &core.GatewayError{Kind: core.KindValidation, Op: "chain.Execute", ID: ch.ID, Err: core.ErrChainEmpty}
	}

	start := e.now()
	result := &Result{StepResults: make([]StepResult, 0, len(ch.Steps))}

	for _, step := range ch.Steps {
		cb := e.breakers.get(step.ModelID)

		var stepResult StepResult
		if !cb.IsAvailable() {
			stepResult = StepResult{
				ModelID:  step.ModelID,
				StepName: step.Name,
				Attempts: 0,
				Error:    "Circuit breaker is open",
			}
			e.logger.Warn("Chain step short-circuited", map[string]interface{}{
				"operation": "chain_step_skipped",
				"chain_id":  ch.ID,
				"model_id":  step.ModelID,
			})
		} else {
			stepResult = e.executeStepWithRetry(ctx, cb, step, req)
		}
		result.StepResults = append(result.StepResults, stepResult)

		if stepResult.Success {
			result.Success = true
			result.Response = stepResult.Response
			break
		}

		stop := false
		switch step.FallbackBehavior {
		case core.FallbackStop:
			result.Error = stepResult.Error
			stop = true
		case core.FallbackSkip:
			stop = true
		default: // Continue
		}
		if stop {
			break
		}
	}

	if !result.Success && result.Error == "" {
		// every step fell through on Continue, or the last behavior was Skip
		if last := lastAttempted(result.StepResults); last != nil && !endsWithSkip(ch, result) {
			result.Error = last.Error
		}
	}

	result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
	e.metrics.record(ch.ID, result)

	e.logger.Info("Chain execution finished", map[string]interface{}{
		"operation":        "chain_execute",
		"chain_id":         ch.ID,
		"success":          result.Success,
		"steps_run":        len(result.StepResults),
		"total_latency_ms": result.TotalLatencyMs,
	})
	return result, nil
}

// lastAttempted returns the last step result that was actually tried
func lastAttempted(results []StepResult) *StepResult {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Attempts > 0 {
			return &results[i]
		}
	}
	return nil
}

// endsWithSkip reports whether the execution stopped on a Skip step, in
// which case the partial result carries no chain-level error.
func endsWithSkip(ch *core.Chain, result *Result) bool {
	n := len(result.StepResults)
	if n == 0 || n > len(ch.Steps) {
		return false
	}
	return ch.Steps[n-1].FallbackBehavior == core.FallbackSkip
}

// executeStepWithRetry attempts one step up to max_retries+1 times.
// The breaker records one outcome per step, not per attempt.
func (e *Executor) executeStepWithRetry(ctx context.Context, cb *CircuitBreaker, step core.ChainStep, req *core.ChatRequest) StepResult {
	maxAttempts := step.Retry.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, step.Retry.DelayForAttempt(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}

		attemptStart := e.now()
		resp, err := e.attempt(ctx, step, req)
		if err == nil {
			cb.RecordSuccess()
			return StepResult{
				ModelID:   step.ModelID,
				StepName:  step.Name,
				Success:   true,
				Attempts:  attempt + 1,
				LatencyMs: e.now().Sub(attemptStart).Milliseconds(),
				Response:  resp,
			}
		}
		lastErr = err
		e.logger.Warn("Chain step attempt failed", map[string]interface{}{
			"operation": "chain_step_attempt",
			"model_id":  step.ModelID,
			"attempt":   attempt + 1,
			"error":     err.Error(),
		})
	}

	cb.RecordFailure()
	result := StepResult{
		ModelID:  step.ModelID,
		StepName: step.Name,
		Attempts: maxAttempts,
	}
	if lastErr != nil {
		result.Error = lastErr.Error()
	}
	return result
}

// attempt performs a single provider call, applying the step's latency cap
func (e *Executor) attempt(ctx context.Context, step core.ChainStep, req *core.ChatRequest) (*core.ChatResponse, error) {
	llm, err := e.resolver.GetProvider(ctx, step.ModelID)
	if err != nil {
		return nil, err
	}
	providerModel, err := e.resolver.GetProviderModel(ctx, step.ModelID)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if step.MaxLatencyMs > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(step.MaxLatencyMs)*time.Millisecond)
		defer cancel()
	}

	resp, err := llm.Chat(callCtx, providerModel, req.Clone())
	if err != nil {
		if step.MaxLatencyMs > 0 && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("%s timed out after %dms", llm.ProviderName(), step.MaxLatencyMs)
		}
		return nil, err
	}
	return resp, nil
}
