package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelgate/modelgate/chain"
	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/registry"
	"github.com/modelgate/modelgate/semcache"
	"github.com/modelgate/modelgate/telemetry"
	"github.com/modelgate/modelgate/usage"
	"github.com/modelgate/modelgate/webhook"
	"github.com/modelgate/modelgate/workflow"
)

// estimatedOutputTokens is used for budget admission when the request
// carries no max_tokens. Admission is an estimate; settlement uses the
// provider's reported counts.
const estimatedOutputTokens = 1024

// Service is the completion data path: model resolution, budget
// admission, semantic cache, chain execution, usage settlement, and
// event publication, in that order.
type Service struct {
	registry  *registry.Registry
	chains    *chain.Executor
	workflows *workflow.Executor
	cache     *semcache.Service
	usage     *usage.Service
	events    *webhook.Dispatcher
	logger    core.Logger
	now       func() time.Time
}

// NewService wires the data path. Cache and events may be nil; budget
// accounting requires the usage service.
func NewService(reg *registry.Registry, chains *chain.Executor, workflows *workflow.Executor, cache *semcache.Service, usageSvc *usage.Service, events *webhook.Dispatcher, logger core.Logger) *Service {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Service{
		registry:  reg,
		chains:    chains,
		workflows: workflows,
		cache:     cache,
		usage:     usageSvc,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// CompletionRequest is the gateway-level completion request. Exactly one
// of ModelID and ChainID selects the route; the embedded chat request
// carries the conversation.
type CompletionRequest struct {
	ModelID  string `json:"model_id,omitempty"`
	ChainID  string `json:"chain_id,omitempty"`
	APIKeyID string `json:"api_key_id,omitempty"`
	TeamID   string `json:"team_id,omitempty"`

	core.ChatRequest
}

// CompletionResult is the gateway-level completion outcome. Provider
// failures are reported through Success and Error, mirroring the chain
// executor.
type CompletionResult struct {
	Success         bool               `json:"success"`
	Response        *core.ChatResponse `json:"response,omitempty"`
	Error           string             `json:"error,omitempty"`
	Cached          bool               `json:"cached"`
	CacheSimilarity float64            `json:"cache_similarity,omitempty"`
	CostMicros      int64              `json:"cost_micros"`
	StepResults     []chain.StepResult `json:"step_results,omitempty"`
	TotalLatencyMs  int64              `json:"total_latency_ms"`
}

// CompletionEvent is the payload for completion.finished and
// completion.failed events.
type CompletionEvent struct {
	ModelID    string `json:"model_id,omitempty"`
	ChainID    string `json:"chain_id,omitempty"`
	APIKeyID   string `json:"api_key_id,omitempty"`
	Success    bool   `json:"success"`
	CostMicros int64  `json:"cost_micros"`
	LatencyMs  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

// CacheHitEvent is the payload for cache.hit events
type CacheHitEvent struct {
	ModelID    string  `json:"model_id"`
	EntryID    string  `json:"entry_id"`
	Similarity float64 `json:"similarity"`
}

// WorkflowEvent is the payload for workflow.finished events
type WorkflowEvent struct {
	WorkflowID string `json:"workflow_id"`
	Success    bool   `json:"success"`
	StepsRun   int    `json:"steps_run"`
	LatencyMs  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

// Complete runs the full completion path. It returns an error for
// rejected requests (validation, unknown route, budget refusal);
// provider failures land in the result with Success false.
func (s *Service) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	ch, err := s.resolveRoute(ctx, req)
	if err != nil {
		return nil, err
	}

	primaryModelID := ""
	if len(ch.Steps) > 0 {
		primaryModelID = ch.Steps[0].ModelID
	}

	decision := s.usage.CheckBudgetWithTeam(ctx, req.APIKeyID, req.TeamID, primaryModelID, s.estimateCost(ctx, primaryModelID, &req.ChatRequest))
	if !decision.Allowed {
		s.logger.Warn("Completion refused by budget", map[string]interface{}{
			"operation":  "gateway_complete",
			"api_key_id": req.APIKeyID,
			"budgets":    decision.ExceededIDs,
		})
		return nil, &core.GatewayError{Kind: core.KindValidation, Op: "gateway.Complete", ID: primaryModelID, Err: core.ErrBudgetExceeded}
	}

	if s.cache != nil {
		if hit, ok := s.cache.Lookup(ctx, &req.ChatRequest, primaryModelID); ok {
			telemetry.Counter("gateway.cache.hit", "model_id", primaryModelID)
			s.recordUsage(ctx, req, primaryModelID, hit.Response, 0, 0, true, "")
			s.publish(ctx, core.EventCacheHit, CacheHitEvent{
				ModelID:    primaryModelID,
				EntryID:    hit.EntryID,
				Similarity: hit.Similarity,
			})
			return &CompletionResult{
				Success:         true,
				Response:        hit.Response,
				Cached:          true,
				CacheSimilarity: hit.Similarity,
			}, nil
		}
	}

	chainResult, err := s.chains.Execute(ctx, ch, &req.ChatRequest)
	if err != nil {
		return nil, err
	}

	result := &CompletionResult{
		Success:        chainResult.Success,
		Response:       chainResult.Response,
		Error:          chainResult.Error,
		StepResults:    chainResult.StepResults,
		TotalLatencyMs: chainResult.TotalLatencyMs,
	}

	servedModelID := servedModel(chainResult, primaryModelID)
	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	telemetry.Counter("gateway.completions", "outcome", outcome, "model_id", servedModelID)
	telemetry.Histogram("gateway.completion.duration_ms", float64(result.TotalLatencyMs), "outcome", outcome)

	if result.Success {
		result.CostMicros = s.settleCost(ctx, servedModelID, result.Response)
		s.recordUsage(ctx, req, servedModelID, result.Response, result.CostMicros, result.TotalLatencyMs, true, "")
		if s.cache != nil {
			s.cache.Store(ctx, &req.ChatRequest, primaryModelID, result.Response)
		}
		s.publish(ctx, core.EventCompletionFinished, CompletionEvent{
			ModelID:    servedModelID,
			ChainID:    req.ChainID,
			APIKeyID:   req.APIKeyID,
			Success:    true,
			CostMicros: result.CostMicros,
			LatencyMs:  result.TotalLatencyMs,
		})
		return result, nil
	}

	s.recordUsage(ctx, req, servedModelID, nil, 0, result.TotalLatencyMs, false, result.Error)
	if result.Error != "" {
		s.publish(ctx, core.EventCompletionFailed, CompletionEvent{
			ModelID:   servedModelID,
			ChainID:   req.ChainID,
			APIKeyID:  req.APIKeyID,
			LatencyMs: result.TotalLatencyMs,
			Error:     result.Error,
		})
	}
	return result, nil
}

// resolveRoute turns the request into an executable chain. A bare model
// id becomes a single-step chain with default retry policy.
func (s *Service) resolveRoute(ctx context.Context, req *CompletionRequest) (*core.Chain, error) {
	if (req.ModelID == "") == (req.ChainID == "") {
		return nil, core.NewValidationError("exactly one of model_id and chain_id is required")
	}
	if len(req.Messages) == 0 {
		return nil, core.NewValidationError("messages must not be empty")
	}

	if req.ChainID != "" {
		return s.registry.Chains.Get(ctx, req.ChainID)
	}

	model, err := s.registry.Models.Get(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}
	return &core.Chain{
		ID:      "direct:" + model.ID,
		Name:    model.Name,
		Enabled: true,
		Steps: []core.ChainStep{{
			ModelID:          model.ID,
			Retry:            core.DefaultRetryConfig(),
			FallbackBehavior: core.FallbackStop,
		}},
	}, nil
}

// servedModel is the model that actually produced the response, falling
// back to the primary when nothing succeeded.
func servedModel(result *chain.Result, primary string) string {
	for _, sr := range result.StepResults {
		if sr.Success {
			return sr.ModelID
		}
	}
	return primary
}

// estimateCost projects the request's cost for budget admission: prompt
// characters over four for input tokens, max_tokens or a fixed guess for
// output. Lookup failures estimate zero so admission fails open.
func (s *Service) estimateCost(ctx context.Context, modelID string, req *core.ChatRequest) int64 {
	model, err := s.registry.Models.Get(ctx, modelID)
	if err != nil {
		return 0
	}
	promptChars := 0
	for _, m := range req.Messages {
		promptChars += len(m.Text())
	}
	outputTokens := estimatedOutputTokens
	if req.MaxTokens != nil {
		outputTokens = *req.MaxTokens
	}
	return s.usage.Pricing().Cost(model.ProviderModel, promptChars/4, outputTokens)
}

// settleCost prices the response from the provider's reported token counts
func (s *Service) settleCost(ctx context.Context, modelID string, resp *core.ChatResponse) int64 {
	if resp == nil || resp.Usage == nil {
		return 0
	}
	model, err := s.registry.Models.Get(ctx, modelID)
	if err != nil {
		return 0
	}
	return s.usage.Pricing().Cost(model.ProviderModel, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
}

func (s *Service) recordUsage(ctx context.Context, req *CompletionRequest, modelID string, resp *core.ChatResponse, costMicros, latencyMs int64, success bool, errMsg string) {
	rec := &core.UsageRecord{
		UsageType:  core.UsageChatCompletion,
		APIKeyID:   req.APIKeyID,
		ModelID:    modelID,
		CostMicros: costMicros,
		LatencyMs:  latencyMs,
		Success:    success,
		Error:      errMsg,
	}
	if resp != nil && resp.Usage != nil {
		rec.InputTokens = resp.Usage.PromptTokens
		rec.OutputTokens = resp.Usage.CompletionTokens
	}
	if err := s.usage.RecordUsageWithTeam(ctx, rec, req.TeamID); err != nil {
		s.logger.Error("Usage record failed", map[string]interface{}{
			"operation":  "gateway_complete",
			"api_key_id": req.APIKeyID,
			"error":      err.Error(),
		})
	}
}

func (s *Service) publish(ctx context.Context, kind core.EventKind, data interface{}) {
	if s.events != nil {
		s.events.Dispatch(ctx, kind, data)
	}
}

// ExecuteChain runs a stored chain by id through the full data path
func (s *Service) ExecuteChain(ctx context.Context, chainID string, req *CompletionRequest) (*CompletionResult, error) {
	req.ChainID = chainID
	req.ModelID = ""
	return s.Complete(ctx, req)
}

// RunWorkflow executes a stored workflow and publishes the outcome
func (s *Service) RunWorkflow(ctx context.Context, workflowID string, input json.RawMessage) (*workflow.Result, error) {
	wf, err := s.registry.Workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	result, err := s.workflows.Execute(ctx, wf, input)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, core.EventWorkflowFinished, WorkflowEvent{
		WorkflowID: workflowID,
		Success:    result.Success,
		StepsRun:   len(result.StepResults),
		LatencyMs:  result.TotalLatencyMs,
		Error:      result.Error,
	})
	return result, nil
}

// ChainMetrics exposes the chain executor's accumulated metrics
func (s *Service) ChainMetrics() map[string]chain.ChainMetrics {
	return s.chains.MetricsSnapshot()
}

// CacheStats reports semantic cache effectiveness; nil when the cache is
// disabled.
func (s *Service) CacheStats(ctx context.Context) (*semcache.Stats, error) {
	if s.cache == nil {
		return nil, core.NewValidationError("semantic cache is not enabled")
	}
	return s.cache.Stats(ctx)
}

// ClearCache empties the semantic cache
func (s *Service) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return core.NewValidationError("semantic cache is not enabled")
	}
	return s.cache.Clear(ctx)
}

// InvalidateCacheModel drops cached responses keyed to a model, for use
// after a model's upstream mapping changes.
func (s *Service) InvalidateCacheModel(ctx context.Context, modelID string) (int, error) {
	if s.cache == nil {
		return 0, core.NewValidationError("semantic cache is not enabled")
	}
	return s.cache.InvalidateModel(ctx, modelID)
}
