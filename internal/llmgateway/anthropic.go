package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicGateway implements Gateway against the Anthropic Messages API.
type AnthropicGateway struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicGateway.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string // empty uses the SDK default
	DefaultModel string
}

// NewAnthropicGateway builds a gateway against cfg.
func NewAnthropicGateway(cfg AnthropicConfig) *AnthropicGateway {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicGateway{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}
}

func (g *AnthropicGateway) Name() string { return "anthropic" }

func (g *AnthropicGateway) model(req ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return g.defaultModel
}

func (g *AnthropicGateway) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamItem, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("llmgateway: anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model(req)),
		Messages:  messages,
		MaxTokens: 4096,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("llmgateway: anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := g.client.Messages.NewStreaming(ctx, params)
	items := make(chan StreamItem)
	go processAnthropicStream(stream, items, g.Name(), g.model(req))
	return items, nil
}

func processAnthropicStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], items chan<- StreamItem, provider, model string) {
	defer close(items)

	var currentCall ToolCall
	var building bool
	var argBuf []byte

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = ToolCall{CallID: toolUse.ID, Name: toolUse.Name}
				argBuf = argBuf[:0]
				building = true
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					items <- StreamItem{Kind: ItemTextDelta, Text: delta.Text}
				}
			case "input_json_delta":
				if building && delta.PartialJSON != "" {
					argBuf = append(argBuf, delta.PartialJSON...)
				}
			}
		case "content_block_stop":
			if building {
				currentCall.Arguments = string(argBuf)
				items <- StreamItem{Kind: ItemToolCall, ToolCall: currentCall}
				building = false
			}
		case "message_stop":
			items <- StreamItem{Kind: ItemEnd, FinishReason: "stop"}
			return
		case "error":
			items <- StreamItem{Kind: ItemEnd, Err: NewGatewayError(provider, model, fmt.Errorf("anthropic stream error"))}
			return
		}
	}
	if err := stream.Err(); err != nil {
		items <- StreamItem{Kind: ItemEnd, Err: NewGatewayError(provider, model, err)}
		return
	}
	items <- StreamItem{Kind: ItemEnd, FinishReason: "stop"}
}

func convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.CallID, msg.Content, false))
		} else if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if tc.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.CallID, input, tc.Name))
		}

		if msg.Role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(tools []ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, param)
	}
	return result, nil
}

func (g *AnthropicGateway) Embed(ctx context.Context, text, model string) ([]float32, error) {
	return nil, fmt.Errorf("llmgateway: anthropic: embed not supported, configure a dedicated embeddings provider")
}
