package skills

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// SkillFilename is the expected filename for skill definitions.
	SkillFilename = "SKILL.md"

	// FrontmatterDelimiter marks the beginning and end of YAML frontmatter.
	FrontmatterDelimiter = "---"
)

// frontmatter mirrors the YAML shape of a SKILL.md header.
type frontmatter struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Tools       []toolDefYAML `yaml:"tools"`
}

type toolDefYAML struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Parameters  yaml.Node `yaml:"parameters"`
	Exec        string    `yaml:"exec"`
}

// yamlNodeToJSON converts a parsed YAML parameters block into a JSON-Schema
// object, since SKILL.md frontmatter is YAML but ToolDef.Parameters is
// carried as json.RawMessage for schema validation.
func yamlNodeToJSON(node yaml.Node) (json.RawMessage, error) {
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// ParseSkillFile reads dir/SKILL.md and parses it, validating that Name
// matches the directory's base name.
func ParseSkillFile(dir string) (*Skill, error) {
	path := filepath.Join(dir, SkillFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	skill, err := ParseSkill(data, dir)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(dir)
	if skill.Name != base {
		return nil, fmt.Errorf("skill name %q does not match directory %q", skill.Name, base)
	}
	return skill, nil
}

// ParseSkill parses SKILL.md content and returns a Skill rooted at path.
func ParseSkill(data []byte, path string) (*Skill, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var parsed frontmatter
	if err := yaml.Unmarshal(fm, &parsed); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if parsed.Name == "" {
		return nil, fmt.Errorf("skill name is required")
	}
	if parsed.Description == "" {
		return nil, fmt.Errorf("skill description is required")
	}
	if err := ValidateName(parsed.Name); err != nil {
		return nil, err
	}

	tools := make([]ToolDef, 0, len(parsed.Tools))
	for _, t := range parsed.Tools {
		var params json.RawMessage
		if !t.Parameters.IsZero() {
			params, err = yamlNodeToJSON(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %q parameters: %w", t.Name, err)
			}
		}
		tools = append(tools, ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
			Exec:        t.Exec,
		})
	}

	h := sha256.Sum256(data)
	return &Skill{
		Name:        parsed.Name,
		Description: parsed.Description,
		Body:        strings.TrimSpace(string(body)),
		Tools:       tools,
		Path:        path,
		ContentHash: hex.EncodeToString(h[:]),
	}, nil
}

// splitFrontmatter separates YAML frontmatter from markdown body.
func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != FrontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var frontLines []string
	foundClosing := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == FrontmatterDelimiter {
			foundClosing = true
			break
		}
		frontLines = append(frontLines, line)
	}
	if !foundClosing {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scanner error: %w", err)
	}

	return []byte(strings.Join(frontLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

// ValidateName enforces spec.md's name format: lowercase letters, digits,
// hyphens.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("name must be lowercase alphanumeric with hyphens: got %q", name)
		}
	}
	return nil
}
