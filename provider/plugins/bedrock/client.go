// Package bedrock implements the LlmProvider contract over the AWS
// Bedrock Converse API. The Converse API gives one request shape across
// Claude, Llama, Titan and the other hosted model families.
package bedrock

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/provider"
	"github.com/modelgate/modelgate/provider/plugins"
)

// Client implements provider.LlmProvider for AWS Bedrock
type Client struct {
	*plugins.BaseClient
	bedrockClient *bedrockruntime.Client
	region        string
}

// NewClient creates a Bedrock Runtime client for the given AWS config
func NewClient(cfg aws.Config, region string, logger core.Logger) *Client {
	return &Client{
		BaseClient:    plugins.NewBaseClient(plugins.DefaultTimeout, logger),
		bedrockClient: bedrockruntime.NewFromConfig(cfg),
		region:        region,
	}
}

// ProviderName returns the static provider name
func (c *Client) ProviderName() string { return "bedrock" }

// AvailableModels lists commonly served model IDs
func (c *Client) AvailableModels() []string {
	return []string{
		"anthropic.claude-3-5-sonnet-20241022-v2:0",
		"anthropic.claude-3-haiku-20240307-v1:0",
		"meta.llama3-70b-instruct-v1:0",
		"amazon.titan-text-premier-v1:0",
	}
}

// mapStopReason translates a Bedrock stop reason into the gateway's
// closed set.
func mapStopReason(s types.StopReason) core.FinishReason {
	switch s {
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return core.FinishStop
	case types.StopReasonMaxTokens:
		return core.FinishLength
	case types.StopReasonToolUse:
		return core.FinishToolCalls
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		return core.FinishContentFilter
	case "":
		return ""
	default:
		return core.FinishStop
	}
}

// buildConverse converts the neutral request into Converse messages and
// inference configuration. System messages fold into the System blocks;
// the Converse API only accepts user and assistant conversation roles.
func buildConverse(req *core.ChatRequest) ([]types.Message, []types.SystemContentBlock, *types.InferenceConfiguration) {
	var system []types.SystemContentBlock
	var messages []types.Message

	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleSystem:
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Text()})
		case core.RoleAssistant:
			messages = append(messages, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Text()}},
			})
		default:
			messages = append(messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Text()}},
			})
		}
	}

	inference := &types.InferenceConfiguration{}
	configSet := false
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(int32(*req.MaxTokens))
		configSet = true
	}
	if req.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*req.Temperature))
		configSet = true
	}
	if req.TopP != nil {
		inference.TopP = aws.Float32(float32(*req.TopP))
		configSet = true
	}
	if !configSet {
		inference = nil
	}
	return messages, system, inference
}

// Chat performs a blocking completion through the Converse API
func (c *Client) Chat(ctx context.Context, model string, req *core.ChatRequest) (*core.ChatResponse, error) {
	c.LogRequest("bedrock", model, len(req.Messages))
	startTime := time.Now()

	messages, system, inference := buildConverse(req)
	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(model),
		Messages:        messages,
		System:          system,
		InferenceConfig: inference,
	}

	output, err := c.bedrockClient.Converse(ctx, input)
	if err != nil {
		return nil, core.NewProviderError("bedrock", "converse failed: %v", err)
	}
	if output.Output == nil {
		return nil, core.NewProviderError("bedrock", "response contained no output")
	}

	var text strings.Builder
	switch v := output.Output.(type) {
	case *types.ConverseOutputMemberMessage:
		for _, block := range v.Value.Content {
			if b, ok := block.(*types.ContentBlockMemberText); ok {
				text.WriteString(b.Value)
			}
		}
	default:
		return nil, core.NewProviderError("bedrock", "unexpected output type in response")
	}

	resp := &core.ChatResponse{
		Model: model,
		Message: core.Message{
			Role:    core.RoleAssistant,
			Content: text.String(),
		},
		FinishReason: mapStopReason(output.StopReason),
	}
	if output.Usage != nil {
		resp.Usage = &core.TokenUsage{
			PromptTokens:     int(aws.ToInt32(output.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(output.Usage.TotalTokens)),
		}
	}
	c.LogResponse("bedrock", model, resp.Usage, time.Since(startTime))
	return resp, nil
}

// ChatStream performs a streaming completion through the ConverseStream API
func (c *Client) ChatStream(ctx context.Context, model string, req *core.ChatRequest) (<-chan core.StreamChunk, error) {
	messages, system, inference := buildConverse(req)
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(model),
		Messages:        messages,
		System:          system,
		InferenceConfig: inference,
	}

	output, err := c.bedrockClient.ConverseStream(ctx, input)
	if err != nil {
		return nil, core.NewProviderError("bedrock", "converse stream failed: %v", err)
	}

	chunks := make(chan core.StreamChunk)
	go func() {
		defer close(chunks)
		eventStream := output.GetStream()
		defer func() { _ = eventStream.Close() }()

		emit := func(chunk core.StreamChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for event := range eventStream.Events() {
			switch v := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if v.Value.Delta != nil {
					if d, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
						if !emit(core.StreamChunk{Delta: d.Value}) {
							return
						}
					}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				if !emit(core.StreamChunk{FinishReason: mapStopReason(v.Value.StopReason)}) {
					return
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil {
					usage := &core.TokenUsage{
						PromptTokens:     int(aws.ToInt32(v.Value.Usage.InputTokens)),
						CompletionTokens: int(aws.ToInt32(v.Value.Usage.OutputTokens)),
						TotalTokens:      int(aws.ToInt32(v.Value.Usage.TotalTokens)),
					}
					if !emit(core.StreamChunk{Usage: usage}) {
						return
					}
				}
			}
		}
		if err := eventStream.Err(); err != nil {
			if emit(core.StreamChunk{FinishReason: core.FinishError}) && c.Logger != nil {
				c.Logger.Warn("Stream read failed", map[string]interface{}{
					"operation": "provider_stream_error",
					"provider":  "bedrock",
					"error":     err.Error(),
				})
			}
		}
	}()
	return chunks, nil
}

var _ provider.LlmProvider = (*Client)(nil)
