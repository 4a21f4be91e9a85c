package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGateway implements Gateway against the OpenAI Chat Completions
// and Embeddings APIs.
type OpenAIGateway struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures an OpenAIGateway.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // empty uses the SDK default
	DefaultModel string
}

// NewOpenAIGateway builds a gateway against cfg.
func NewOpenAIGateway(cfg OpenAIConfig) *OpenAIGateway {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIGateway{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
	}
}

func (g *OpenAIGateway) Name() string { return "openai" }

func (g *OpenAIGateway) model(req ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return g.defaultModel
}

func (g *OpenAIGateway) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamItem, error) {
	messages := convertOpenAIMessages(req.Messages, req.System)

	chatReq := openai.ChatCompletionRequest{
		Model:    g.model(req),
		Messages: messages,
		Stream:   true,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("llmgateway: openai: create stream: %w", err)
	}

	items := make(chan StreamItem)
	go processOpenAIStream(ctx, stream, items, g.Name(), g.model(req))
	return items, nil
}

func processOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, items chan<- StreamItem, provider, model string) {
	defer close(items)
	defer stream.Close()

	calls := make(map[int]*ToolCall)
	orderedIndexes := make([]int, 0, 4)

	flushCalls := func() {
		for _, idx := range orderedIndexes {
			tc := calls[idx]
			if tc != nil && tc.CallID != "" && tc.Name != "" {
				items <- StreamItem{Kind: ItemToolCall, ToolCall: *tc}
			}
		}
		calls = make(map[int]*ToolCall)
		orderedIndexes = orderedIndexes[:0]
	}

	for {
		select {
		case <-ctx.Done():
			items <- StreamItem{Kind: ItemEnd, Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flushCalls()
				items <- StreamItem{Kind: ItemEnd, FinishReason: "stop"}
				return
			}
			items <- StreamItem{Kind: ItemEnd, Err: NewGatewayError(provider, model, err)}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			items <- StreamItem{Kind: ItemTextDelta, Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if calls[index] == nil {
				calls[index] = &ToolCall{}
				orderedIndexes = append(orderedIndexes, index)
			}
			if tc.ID != "" {
				calls[index].CallID = tc.ID
			}
			if tc.Function.Name != "" {
				calls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				calls[index].Arguments += tc.Function.Arguments
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flushCalls()
		}
	}
}

func convertOpenAIMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.CallID,
			})
		case RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}
	return result
}

func convertOpenAITools(tools []ToolSchema) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
		} else {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func (g *OpenAIGateway) Embed(ctx context.Context, text, model string) ([]float32, error) {
	if model == "" {
		model = string(openai.AdaEmbeddingV2)
	}
	resp, err := g.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("llmgateway: openai: embed: %w", NewGatewayError(g.Name(), model, err))
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("llmgateway: openai: embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}
