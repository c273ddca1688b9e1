package core

import (
	"encoding/json"
	"time"
)

// WorkflowStepKind discriminates the four step shapes. The set is closed:
// the executor switches exhaustively and other kinds must not be added
// ad-hoc.
type WorkflowStepKind string

const (
	StepChatCompletion      WorkflowStepKind = "chat_completion"
	StepKnowledgeBaseSearch WorkflowStepKind = "knowledge_base_search"
	StepCragScoring         WorkflowStepKind = "crag_scoring"
	StepConditional         WorkflowStepKind = "conditional"
)

// StepErrorPolicy selects what a step failure does to the workflow
type StepErrorPolicy string

const (
	// ErrorFailWorkflow fails the whole workflow on step failure
	ErrorFailWorkflow StepErrorPolicy = "fail_workflow"
	// ErrorSkipStep records the failure and advances to the next step
	ErrorSkipStep StepErrorPolicy = "skip_step"
)

// ChatCompletionStep invokes a provider through the router. System and User
// are resolved for ${...} variables before the request is built.
type ChatCompletionStep struct {
	ModelID     string   `json:"model_id" yaml:"model_id"`
	System      string   `json:"system,omitempty" yaml:"system,omitempty"`
	User        string   `json:"user" yaml:"user"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
}

// KnowledgeBaseSearchStep queries an external knowledge base collaborator
type KnowledgeBaseSearchStep struct {
	KnowledgeBaseID string `json:"knowledge_base_id" yaml:"knowledge_base_id"`
	Query           string `json:"query" yaml:"query"`
}

// CragScoringStep classifies retrieved documents through the scorer
// collaborator. InputDocumentsRef must resolve to an array.
type CragScoringStep struct {
	InputDocumentsRef string  `json:"input_documents_ref" yaml:"input_documents_ref"`
	Query             string  `json:"query" yaml:"query"`
	Threshold         float64 `json:"threshold" yaml:"threshold"`
	Strategy          string  `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// ConditionOperator compares a resolved field against a literal value
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpContains    ConditionOperator = "contains"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpIsEmpty     ConditionOperator = "is_empty"
	OpIsNotEmpty  ConditionOperator = "is_not_empty"
)

// ActionType selects the control-flow effect of a matched condition.
// The set is closed.
type ActionType string

const (
	ActionContinue    ActionType = "continue"
	ActionGoToStep    ActionType = "go_to_step"
	ActionEndWorkflow ActionType = "end_workflow"
)

// ConditionalAction is the control-flow outcome of a condition
type ConditionalAction struct {
	Type   ActionType      `json:"type" yaml:"type"`
	Target string          `json:"target,omitempty" yaml:"target,omitempty"` // step name for go_to_step
	Output json.RawMessage `json:"output,omitempty" yaml:"output,omitempty"` // payload for end_workflow
}

// Condition is one ordered clause of a conditional step
type Condition struct {
	Field    string            `json:"field" yaml:"field"` // ${...} reference
	Operator ConditionOperator `json:"operator" yaml:"operator"`
	Value    string            `json:"value,omitempty" yaml:"value,omitempty"`
	Action   ConditionalAction `json:"action" yaml:"action"`
}

// ConditionalStep evaluates conditions in order; the first match wins,
// else DefaultAction applies.
type ConditionalStep struct {
	Conditions    []Condition       `json:"conditions" yaml:"conditions"`
	DefaultAction ConditionalAction `json:"default_action" yaml:"default_action"`
}

// WorkflowStep is a tagged variant: Kind selects exactly one of the four
// payload pointers.
type WorkflowStep struct {
	Name    string           `json:"name" yaml:"name"`
	Kind    WorkflowStepKind `json:"kind" yaml:"kind"`
	OnError StepErrorPolicy  `json:"on_error" yaml:"on_error"`

	ChatCompletion      *ChatCompletionStep      `json:"chat_completion,omitempty" yaml:"chat_completion,omitempty"`
	KnowledgeBaseSearch *KnowledgeBaseSearchStep `json:"knowledge_base_search,omitempty" yaml:"knowledge_base_search,omitempty"`
	CragScoring         *CragScoringStep         `json:"crag_scoring,omitempty" yaml:"crag_scoring,omitempty"`
	Conditional         *ConditionalStep         `json:"conditional,omitempty" yaml:"conditional,omitempty"`
}

// Workflow is a program over typed steps with a shared JSON context.
// Step names are unique within a workflow and are the jump targets for
// go_to_step actions.
type Workflow struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Steps     []WorkflowStep `json:"steps" yaml:"steps"`
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
}

// Validate checks the workflow id, step name uniqueness, and that each
// step carries the payload matching its kind.
func (w *Workflow) Validate() error {
	if err := ValidateID(w.ID); err != nil {
		return err
	}
	seen := make(map[string]bool, len(w.Steps))
	for i, step := range w.Steps {
		if step.Name == "" {
			return NewValidationError("workflow %s step %d: name is required", w.ID, i)
		}
		if seen[step.Name] {
			return NewValidationError("workflow %s: duplicate step name %q", w.ID, step.Name)
		}
		seen[step.Name] = true

		var ok bool
		switch step.Kind {
		case StepChatCompletion:
			ok = step.ChatCompletion != nil
		case StepKnowledgeBaseSearch:
			ok = step.KnowledgeBaseSearch != nil
		case StepCragScoring:
			ok = step.CragScoring != nil
		case StepConditional:
			ok = step.Conditional != nil
		default:
			return NewValidationError("workflow %s step %q: unknown kind %q", w.ID, step.Name, step.Kind)
		}
		if !ok {
			return NewValidationError("workflow %s step %q: missing %s payload", w.ID, step.Name, step.Kind)
		}
	}
	return nil
}
