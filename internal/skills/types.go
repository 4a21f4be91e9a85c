// Package skills implements the skill registry: discovery, parsing, and
// RAG-ready embedding caching of SKILL.md bundles.
package skills

import "encoding/json"

// Skill is an immutable, loaded skill bundle. Once added to a Registry
// snapshot a Skill is never mutated in place; a rescan builds an entirely
// new snapshot.
type Skill struct {
	// Name is the unique identifier: lowercase letters, digits, hyphens,
	// and must match the skill's directory name.
	Name string `json:"name"`

	// Description is the one-line summary used as half of the RAG
	// embedding descriptor.
	Description string `json:"description"`

	// Body is the markdown instruction text injected into the prompt when
	// the skill is active.
	Body string `json:"-"`

	// Tools are the skill's declared ToolDefs, in frontmatter order.
	Tools []ToolDef `json:"tools,omitempty"`

	// Path is the skill's root directory on disk.
	Path string `json:"path"`

	// ContentHash is a stable hash of the parsed SKILL.md bytes, used as
	// half of the embedding-cache key (path, content_hash).
	ContentHash string `json:"content_hash"`

	// Embedding is the cached vector for "{name}\n{description}", used by
	// the RAG selector. Nil until the registry embeds it.
	Embedding []float32 `json:"-"`
}

// Descriptor returns the exact string embedded for RAG selection.
func (s *Skill) Descriptor() string {
	return s.Name + "\n" + s.Description
}

// ToolDef is one executable (or purely declarative) capability a skill
// exposes to the model.
type ToolDef struct {
	// Name is unique within the skill. Tools are declared to the model under
	// this bare name, even when another active skill has a tool of the same
	// name; the tool executor also resolves the qualified "<skill>.<tool>"
	// form when the model sends it.
	Name string `json:"name"`

	Description string `json:"description"`

	// Parameters is a JSON-Schema object describing the call's arguments.
	Parameters json.RawMessage `json:"parameters,omitempty"`

	// Exec is a literal shell command template. It is NOT interpolated
	// with arguments: arguments reach the process only via the
	// RUSTER_TOOL_ARGS environment variable (JSON) or stdin, at the
	// implementer's choice within the command itself. Empty Exec means
	// the tool is a declarative capability the model may describe but the
	// runtime cannot execute.
	Exec string `json:"exec,omitempty"`
}

// QualifiedName returns "<skill>.<tool>", used to disambiguate a tool name
// that exists on more than one active skill.
func QualifiedName(skillName, toolName string) string {
	return skillName + "." + toolName
}
