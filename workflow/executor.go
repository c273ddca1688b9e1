package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/modelgate/modelgate/chain"
	"github.com/modelgate/modelgate/core"
)

// DefaultMaxSteps caps how many step executions one workflow run may
// perform. Backward jumps are legal; the budget is the termination
// guarantee.
const DefaultMaxSteps = 100

// StepResult records one step execution, in execution order. A step
// revisited through a backward jump appears once per visit.
type StepResult struct {
	StepName  string           `json:"step_name"`
	Kind      core.WorkflowStepKind `json:"kind"`
	Success   bool             `json:"success"`
	Skipped   bool             `json:"skipped,omitempty"`
	Output    json.RawMessage  `json:"output,omitempty"`
	Error     string           `json:"error,omitempty"`
	LatencyMs int64            `json:"latency_ms"`
}

// Result summarises one workflow execution
type Result struct {
	Success        bool            `json:"success"`
	Output         json.RawMessage `json:"output"`
	StepResults    []StepResult    `json:"step_results"`
	TotalLatencyMs int64           `json:"total_latency_ms"`
	Error          string          `json:"error,omitempty"`
}

// Executor runs workflows. The chat resolver is shared with the chain
// executor; knowledge base and scorer are optional collaborators and
// their absence fails only the steps that need them.
type Executor struct {
	resolver chain.Resolver
	kb       KnowledgeBase
	scorer   CragScorer
	maxSteps int
	logger   core.Logger
	now      func() time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithKnowledgeBase wires the retrieval collaborator
func WithKnowledgeBase(kb KnowledgeBase) Option {
	return func(e *Executor) { e.kb = kb }
}

// WithCragScorer wires the document scoring collaborator
func WithCragScorer(scorer CragScorer) Option {
	return func(e *Executor) { e.scorer = scorer }
}

// WithMaxSteps overrides the step execution budget
func WithMaxSteps(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithLogger sets the executor's logger
func WithLogger(logger core.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates a workflow executor over the given chat resolver
func NewExecutor(resolver chain.Resolver, opts ...Option) *Executor {
	e := &Executor{
		resolver: resolver,
		maxSteps: DefaultMaxSteps,
		logger:   &core.NoOpLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the workflow against the JSON input. It returns an error
// only when the workflow is disabled or empty; step failures are
// reported through the Result.
func (e *Executor) Execute(ctx context.Context, wf *core.Workflow, input json.RawMessage) (*Result, error) {
	if !wf.Enabled {
		return nil, &core.GatewayError{Kind: core.KindValidation, Op: "workflow.Execute", ID: wf.ID, Err: core.ErrWorkflowDisabled}
	}
	if len(wf.Steps) == 0 {
		return nil, &core.GatewayError{Kind: core.KindValidation, Op: "workflow.Execute", ID: wf.ID, Err: core.ErrWorkflowEmpty}
	}

	wfCtx, err := NewContext(input)
	if err != nil {
		return nil, err
	}

	stepIndex := make(map[string]int, len(wf.Steps))
	for i, step := range wf.Steps {
		stepIndex[step.Name] = i
	}

	start := e.now()
	result := &Result{Output: json.RawMessage("null")}
	var lastOutput json.RawMessage
	executed := 0

	finish := func() *Result {
		result.TotalLatencyMs = e.now().Sub(start).Milliseconds()
		e.logger.Info("Workflow execution finished", map[string]interface{}{
			"operation":        "workflow_execute",
			"workflow_id":      wf.ID,
			"success":          result.Success,
			"steps_run":        len(result.StepResults),
			"total_latency_ms": result.TotalLatencyMs,
		})
		return result
	}

	i := 0
	for i < len(wf.Steps) {
		if executed >= e.maxSteps {
			// the budget is a safety stop, not a failure
			result.Success = true
			if lastOutput != nil {
				result.Output = lastOutput
			}
			e.logger.Warn("Workflow step budget exhausted", map[string]interface{}{
				"operation":   "workflow_budget_stop",
				"workflow_id": wf.ID,
				"max_steps":   e.maxSteps,
			})
			return finish(), nil
		}
		executed++

		step := wf.Steps[i]
		stepStart := e.now()
		output, action, stepErr := e.runStep(ctx, wfCtx, step)
		latency := e.now().Sub(stepStart).Milliseconds()

		if stepErr != nil {
			sr := StepResult{StepName: step.Name, Kind: step.Kind, Error: stepErr.Error(), LatencyMs: latency}
			if step.OnError == core.ErrorSkipStep {
				sr.Skipped = true
				result.StepResults = append(result.StepResults, sr)
				e.logger.Warn("Workflow step skipped after failure", map[string]interface{}{
					"operation":   "workflow_step_skipped",
					"workflow_id": wf.ID,
					"step":        step.Name,
					"error":       stepErr.Error(),
				})
				i++
				continue
			}
			result.StepResults = append(result.StepResults, sr)
			result.Success = false
			result.Error = fmt.Sprintf("step %q failed: %v", step.Name, stepErr)
			return finish(), nil
		}

		result.StepResults = append(result.StepResults, StepResult{
			StepName:  step.Name,
			Kind:      step.Kind,
			Success:   true,
			Output:    output,
			LatencyMs: latency,
		})

		if step.Kind == core.StepConditional {
			switch action.Type {
			case core.ActionGoToStep:
				target, ok := stepIndex[action.Target]
				if !ok {
					result.Success = false
					result.Error = fmt.Sprintf("step_not_found: go_to_step target %q does not exist", action.Target)
					return finish(), nil
				}
				i = target
			case core.ActionEndWorkflow:
				result.Success = true
				if len(action.Output) > 0 {
					result.Output = action.Output
				}
				return finish(), nil
			default: // continue
				i++
			}
			continue
		}

		if err := wfCtx.SetStepOutput(step.Name, output); err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("step %q failed: %v", step.Name, err)
			return finish(), nil
		}
		lastOutput = output
		i++
	}

	result.Success = true
	if lastOutput != nil {
		result.Output = lastOutput
	}
	return finish(), nil
}

// runStep dispatches on the step kind. The returned action is only
// meaningful for conditional steps.
func (e *Executor) runStep(ctx context.Context, wfCtx *Context, step core.WorkflowStep) (json.RawMessage, core.ConditionalAction, error) {
	var noAction core.ConditionalAction
	switch step.Kind {
	case core.StepChatCompletion:
		out, err := e.runChatCompletion(ctx, wfCtx, step.ChatCompletion)
		return out, noAction, err
	case core.StepKnowledgeBaseSearch:
		out, err := e.runKnowledgeBaseSearch(ctx, wfCtx, step.KnowledgeBaseSearch)
		return out, noAction, err
	case core.StepCragScoring:
		out, err := e.runCragScoring(ctx, wfCtx, step.CragScoring)
		return out, noAction, err
	case core.StepConditional:
		return e.runConditional(wfCtx, step.Conditional)
	default:
		return nil, noAction, core.NewValidationError("unknown step kind %q", step.Kind)
	}
}

func (e *Executor) runChatCompletion(ctx context.Context, wfCtx *Context, step *core.ChatCompletionStep) (json.RawMessage, error) {
	user, err := wfCtx.Resolve(step.User)
	if err != nil {
		return nil, err
	}

	var messages []core.Message
	if step.System != "" {
		system, err := wfCtx.Resolve(step.System)
		if err != nil {
			return nil, err
		}
		messages = append(messages, core.Message{Role: core.RoleSystem, Content: system})
	}
	messages = append(messages, core.Message{Role: core.RoleUser, Content: user})

	llm, err := e.resolver.GetProvider(ctx, step.ModelID)
	if err != nil {
		return nil, err
	}
	providerModel, err := e.resolver.GetProviderModel(ctx, step.ModelID)
	if err != nil {
		return nil, err
	}

	resp, err := llm.Chat(ctx, providerModel, &core.ChatRequest{
		Messages:    messages,
		Temperature: step.Temperature,
		MaxTokens:   step.MaxTokens,
		TopP:        step.TopP,
	})
	if err != nil {
		return nil, err
	}

	content := resp.Message.Content
	if trimmed := strings.TrimSpace(content); json.Valid([]byte(trimmed)) && trimmed != "" {
		return json.RawMessage(trimmed), nil
	}
	return json.Marshal(map[string]interface{}{
		"content":       content,
		"model":         resp.Model,
		"finish_reason": string(resp.FinishReason),
	})
}

func (e *Executor) runKnowledgeBaseSearch(ctx context.Context, wfCtx *Context, step *core.KnowledgeBaseSearchStep) (json.RawMessage, error) {
	if e.kb == nil {
		return nil, core.NewValidationError("no knowledge base is configured")
	}
	query, err := wfCtx.Resolve(step.Query)
	if err != nil {
		return nil, err
	}
	docs, err := e.kb.Search(ctx, step.KnowledgeBaseID, query)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []Document{}
	}
	return json.Marshal(map[string]interface{}{
		"documents": docs,
		"total":     len(docs),
	})
}

func (e *Executor) runCragScoring(ctx context.Context, wfCtx *Context, step *core.CragScoringStep) (json.RawMessage, error) {
	if e.scorer == nil {
		return nil, core.NewValidationError("no document scorer is configured")
	}
	query, err := wfCtx.Resolve(step.Query)
	if err != nil {
		return nil, err
	}

	value, ok := wfCtx.lookupValue(step.InputDocumentsRef)
	if !ok {
		return nil, &resolutionError{token: step.InputDocumentsRef}
	}
	documents, ok := value.([]interface{})
	if !ok {
		return nil, core.NewValidationError("%s does not resolve to an array", step.InputDocumentsRef)
	}

	scored, err := e.scorer.Score(ctx, query, documents, step.Threshold, step.Strategy)
	if err != nil {
		return nil, err
	}
	if scored.CorrectDocuments == nil {
		scored.CorrectDocuments = []interface{}{}
	}
	if scored.AmbiguousDocuments == nil {
		scored.AmbiguousDocuments = []interface{}{}
	}
	if scored.IncorrectDocuments == nil {
		scored.IncorrectDocuments = []interface{}{}
	}
	return json.Marshal(scored)
}

// runConditional evaluates conditions in order; the first match selects
// the action, else the default applies. The step output records the
// decision but the control-flow effect takes precedence over data flow.
func (e *Executor) runConditional(wfCtx *Context, step *core.ConditionalStep) (json.RawMessage, core.ConditionalAction, error) {
	for _, cond := range step.Conditions {
		matched, err := e.evaluate(wfCtx, cond)
		if err != nil {
			return nil, core.ConditionalAction{}, err
		}
		if matched {
			out, err := json.Marshal(map[string]interface{}{
				"matched": true,
				"action":  string(cond.Action.Type),
			})
			return out, cond.Action, err
		}
	}
	out, err := json.Marshal(map[string]interface{}{
		"matched": false,
		"action":  string(step.DefaultAction.Type),
	})
	return out, step.DefaultAction, err
}

// evaluate resolves the condition's field leniently (a missing path
// reads as empty, so is_empty can match absent input keys) and applies
// the operator.
func (e *Executor) evaluate(wfCtx *Context, cond core.Condition) (bool, error) {
	field, err := wfCtx.ResolveLenient(cond.Field)
	if err != nil {
		return false, err
	}

	switch cond.Operator {
	case core.OpEquals:
		return field == cond.Value, nil
	case core.OpNotEquals:
		return field != cond.Value, nil
	case core.OpContains:
		return strings.Contains(field, cond.Value), nil
	case core.OpGreaterThan, core.OpLessThan:
		left, errL := strconv.ParseFloat(strings.TrimSpace(field), 64)
		right, errR := strconv.ParseFloat(strings.TrimSpace(cond.Value), 64)
		if errL != nil || errR != nil {
			return false, nil
		}
		if cond.Operator == core.OpGreaterThan {
			return left > right, nil
		}
		return left < right, nil
	case core.OpIsEmpty:
		return field == "", nil
	case core.OpIsNotEmpty:
		return field != "", nil
	default:
		return false, core.NewValidationError("unknown condition operator %q", cond.Operator)
	}
}
