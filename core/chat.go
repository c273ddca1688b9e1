package core

import "strings"

// Role identifies the author of a chat message. The set is closed.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason reports why a completion stopped. The set is closed.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishError         FinishReason = "error"
)

// ContentPartType discriminates the shapes of a structured content part
type ContentPartType string

const (
	PartText     ContentPartType = "text"
	PartImage    ContentPartType = "image"
	PartToolCall ContentPartType = "tool_call"
)

// ContentPart is one element of a structured message body
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
	ToolArgs string          `json:"tool_args,omitempty"`
}

// Message is a single chat message. Content holds plain text; Parts, when
// non-empty, carries an ordered list of structured parts instead.
type Message struct {
	Role    Role          `json:"role"`
	Content string        `json:"content"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// Text flattens the message body to plain text. Structured parts contribute
// their text segments only.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ChatRequest is the provider-neutral completion request
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Clone returns a deep copy so retries and fallback steps can mutate the
// request without affecting the caller's copy.
func (r *ChatRequest) Clone() *ChatRequest {
	cp := *r
	cp.Messages = make([]Message, len(r.Messages))
	copy(cp.Messages, r.Messages)
	if r.Temperature != nil {
		t := *r.Temperature
		cp.Temperature = &t
	}
	if r.MaxTokens != nil {
		mt := *r.MaxTokens
		cp.MaxTokens = &mt
	}
	if r.TopP != nil {
		tp := *r.TopP
		cp.TopP = &tp
	}
	return &cp
}

// UserQueryText joins the text of all user-role messages with newlines.
// This is the cache key text for the semantic cache.
func (r *ChatRequest) UserQueryText() string {
	var parts []string
	for _, m := range r.Messages {
		if m.Role == RoleUser {
			if t := m.Text(); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// TokenUsage reports token counts for a completion
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the provider-neutral completion response
type ChatResponse struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// StreamChunk is one element of a streaming completion
type StreamChunk struct {
	Delta        string       `json:"delta"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
}
