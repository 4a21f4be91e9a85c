package llmgateway

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestConvertOpenAIMessagesIncludesSystem(t *testing.T) {
	messages := convertOpenAIMessages([]Message{{Role: RoleUser, Content: "hi"}}, "be helpful")
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(messages))
	}
	if messages[0].Role != openai.ChatMessageRoleSystem || messages[0].Content != "be helpful" {
		t.Errorf("messages[0] = %+v, want system prompt first", messages[0])
	}
}

func TestConvertOpenAIMessagesToolTurn(t *testing.T) {
	messages := convertOpenAIMessages([]Message{
		{Role: RoleTool, CallID: "call-1", Content: "result"},
	}, "")
	if len(messages) != 1 || messages[0].ToolCallID != "call-1" {
		t.Fatalf("messages = %+v", messages)
	}
}

func TestConvertOpenAIMessagesAssistantToolCalls(t *testing.T) {
	messages := convertOpenAIMessages([]Message{
		{Role: RoleAssistant, Content: "", ToolCalls: []ToolCall{{CallID: "c1", Name: "search", Arguments: `{"q":"go"}`}}},
	}, "")
	if len(messages) != 1 || len(messages[0].ToolCalls) != 1 {
		t.Fatalf("messages = %+v", messages)
	}
	if messages[0].ToolCalls[0].Function.Name != "search" {
		t.Errorf("Function.Name = %q, want search", messages[0].ToolCalls[0].Function.Name)
	}
}

func TestConvertOpenAIToolsFallsBackOnInvalidSchema(t *testing.T) {
	tools := convertOpenAITools([]ToolSchema{{Name: "t", Description: "d", Parameters: json.RawMessage(`not json`)}})
	if len(tools) != 1 {
		t.Fatalf("len(tools) = %d, want 1", len(tools))
	}
	if tools[0].Function.Name != "t" {
		t.Errorf("Function.Name = %q, want t", tools[0].Function.Name)
	}
}
