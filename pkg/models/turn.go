package models

import "encoding/json"

// Role identifies who produced a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCallRequest is the assistant's request to invoke a tool, as recorded
// on an assistant Turn.
type ToolCallRequest struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Turn is one message in a session's ordered history. Which fields are
// populated depends on Role: user turns carry SkillsSnapshot, assistant
// turns may carry ToolCalls, tool turns carry CallID/ToolName.
type Turn struct {
	Role           Role              `json:"role"`
	Content        string            `json:"content,omitempty"`
	SkillsSnapshot []string          `json:"skills_snapshot,omitempty"`
	ToolCalls      []ToolCallRequest `json:"tool_calls,omitempty"`
	CallID         string            `json:"call_id,omitempty"`
	ToolName       string            `json:"tool_name,omitempty"`

	// SkillSystem marks a system turn that exists solely to inject one
	// skill's body, so skill.remove can drop it without touching other
	// system turns.
	SkillSystem string `json:"skill_system,omitempty"`

	// RoundLimitNotice marks the synthetic turn injected when max_tool_rounds
	// is exceeded. It has no real CallID, so prompt assembly exempts it from
	// orphaned-tool-turn repair and renders it as a plain user message
	// instead of a tool result.
	RoundLimitNotice bool `json:"round_limit_notice,omitempty"`
}

// IsDedicatedSkillTurn reports whether this turn exists only to carry the
// named skill's injected instructions.
func (t Turn) IsDedicatedSkillTurn(skill string) bool {
	return t.Role == RoleSystem && t.SkillSystem == skill
}
