// Package promptassembler builds the ordered message list submitted to the
// LLM Gateway for one inference turn (spec.md §4.5): a fixed base system
// prompt, each active skill's body as its own system turn, that skill set's
// declared tools as the structured tool schema, historical turns, and the
// pending user message.
package promptassembler

import (
	"encoding/json"

	"github.com/haasonsaas/ruster/internal/llmgateway"
	"github.com/haasonsaas/ruster/internal/skills"
	"github.com/haasonsaas/ruster/internal/toolexec"
	"github.com/haasonsaas/ruster/pkg/models"
)

// BaseSystemPrompt is the daemon's fixed identity preamble. It always
// advertises paginate_tool_output since that builtin exists regardless of
// which skills are active.
const BaseSystemPrompt = "You are Ruster, a persistent conversational agent with access to the tools declared by your currently active skills. " +
	"You additionally have a built-in tool, paginate_tool_output, which reads a slice of a prior tool call's captured stdout/stderr " +
	"(by call_id, with optional offset_lines, max_lines, and a grep substring) without re-running it."

// SkillResolver looks up a skill by name so Assemble can render its body
// even when the registry has since been rescanned.
type SkillResolver interface {
	Get(name string) (*skills.Skill, bool)
}

// Assemble builds the ChatRequest for one turn. activeSkills is the
// session's current active_skills in prompt injection order; history is the
// turn log preceding pending; pending is the new user message's content
// (already appended to history by the caller is NOT assumed — Assemble
// appends it itself so callers don't need to mutate history just to build
// a prompt).
func Assemble(model string, activeSkills []string, resolver SkillResolver, history []models.Turn, pending string) llmgateway.ChatRequest {
	messages := make([]llmgateway.Message, 0, len(history)+len(activeSkills)+1)

	for _, name := range activeSkills {
		sk, ok := resolver.Get(name)
		if !ok {
			continue
		}
		messages = append(messages, llmgateway.Message{Role: llmgateway.RoleSystem, Content: sk.Body})
	}

	for _, turn := range repairOrphanedToolTurns(history) {
		messages = append(messages, turnToMessage(turn))
	}

	if pending != "" {
		messages = append(messages, llmgateway.Message{Role: llmgateway.RoleUser, Content: pending})
	}

	return llmgateway.ChatRequest{
		Model:    model,
		System:   BaseSystemPrompt,
		Messages: messages,
		Tools:    collectTools(activeSkills, resolver),
	}
}

func turnToMessage(t models.Turn) llmgateway.Message {
	if t.RoundLimitNotice {
		return llmgateway.Message{Role: llmgateway.RoleUser, Content: t.Content}
	}
	switch t.Role {
	case models.RoleTool:
		return llmgateway.Message{Role: llmgateway.RoleTool, Content: t.Content, CallID: t.CallID, ToolName: t.ToolName}
	case models.RoleAssistant:
		msg := llmgateway.Message{Role: llmgateway.RoleAssistant, Content: t.Content}
		for _, tc := range t.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llmgateway.ToolCall{
				CallID:    tc.CallID,
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			})
		}
		return msg
	case models.RoleSystem:
		return llmgateway.Message{Role: llmgateway.RoleSystem, Content: t.Content}
	default:
		return llmgateway.Message{Role: llmgateway.RoleUser, Content: t.Content}
	}
}

// collectTools concatenates the declared ToolDefs of every active skill
// that resolves, plus the paginate_tool_output builtin's schema.
func collectTools(activeSkills []string, resolver SkillResolver) []llmgateway.ToolSchema {
	tools := []llmgateway.ToolSchema{paginateToolSchema()}
	for _, name := range activeSkills {
		sk, ok := resolver.Get(name)
		if !ok {
			continue
		}
		for _, t := range sk.Tools {
			tools = append(tools, llmgateway.ToolSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
	}
	return tools
}

func paginateToolSchema() llmgateway.ToolSchema {
	params, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"call_id":      map[string]any{"type": "string"},
			"stream":       map[string]any{"type": "string", "enum": []string{"stdout", "stderr"}},
			"offset_lines": map[string]any{"type": "integer"},
			"max_lines":    map[string]any{"type": "integer"},
			"grep":         map[string]any{"type": "string"},
		},
		"required": []string{"call_id"},
	})
	return llmgateway.ToolSchema{
		Name:        toolexec.BuiltinPaginate,
		Description: "Read a slice of a prior tool call's captured output without re-running it.",
		Parameters:  params,
	}
}

// repairOrphanedToolTurns drops any tool turn whose call_id has no matching
// pending assistant tool_call, so a crash mid tool-round can never leave a
// dangling role=tool message the gateway would reject. Mirrors the
// teacher's transcript-repair pass, simplified for Ruster's single linear
// history (no branches).
func repairOrphanedToolTurns(history []models.Turn) []models.Turn {
	pending := make(map[string]struct{})
	repaired := make([]models.Turn, 0, len(history))

	for _, turn := range history {
		switch turn.Role {
		case models.RoleAssistant:
			pending = make(map[string]struct{}, len(turn.ToolCalls))
			for _, tc := range turn.ToolCalls {
				if tc.CallID != "" {
					pending[tc.CallID] = struct{}{}
				}
			}
			repaired = append(repaired, turn)
		case models.RoleTool:
			if turn.RoundLimitNotice {
				repaired = append(repaired, turn)
				continue
			}
			if _, ok := pending[turn.CallID]; !ok {
				continue
			}
			delete(pending, turn.CallID)
			repaired = append(repaired, turn)
		default:
			repaired = append(repaired, turn)
		}
	}
	return repaired
}
