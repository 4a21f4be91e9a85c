// Package llmgateway abstracts the upstream chat and embedding endpoints
// behind the two operations spec.md §4.7 names: chat_stream and embed. The
// Inference Loop never talks to a provider SDK directly.
package llmgateway

import "context"

// Role mirrors models.Role's string values without importing pkg/models,
// since a gateway Message is a wire-shape translation, not a stored Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall is a complete (or in-progress, while streaming) tool invocation
// request.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string // JSON, accumulated across stream fragments
}

// Message is one entry in the prompt assembled for chat_stream.
type Message struct {
	Role      Role
	Content   string
	ToolCalls []ToolCall // assistant turns only
	CallID    string     // tool turns only
	ToolName  string     // tool turns only
}

// ToolSchema describes one callable tool to the provider.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  []byte // JSON Schema object, may be nil/empty
}

// ChatRequest is one chat_stream call.
type ChatRequest struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSchema
}

// ItemKind identifies which field of StreamItem is populated.
type ItemKind int

const (
	ItemTextDelta ItemKind = iota
	ItemToolCall
	ItemEnd
)

// StreamItem is one item yielded by ChatStream, matching spec.md §4.7's
// "{text_delta}", "{tool_call_delta(...)}", "{end(reason)}" shapes. Unlike
// the wire protocol, ToolCall deltas here are already buffered into
// complete calls by the Gateway implementation before being emitted —
// fragments never reach the Inference Loop.
type StreamItem struct {
	Kind ItemKind

	Text string // ItemTextDelta

	ToolCall ToolCall // ItemToolCall, Arguments is complete JSON

	FinishReason string // ItemEnd: e.g. "stop"
	Err          error  // ItemEnd: set on network/upstream failure
}

// Gateway is the upstream chat and embedding abstraction the Inference
// Loop depends on.
type Gateway interface {
	// ChatStream streams a completion. The returned channel is closed
	// after an ItemEnd item (success or error) is sent.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamItem, error)

	// Embed returns model's embedding of text.
	Embed(ctx context.Context, text, model string) ([]float32, error)

	// Name identifies the backend, e.g. "anthropic", "openai".
	Name() string
}
