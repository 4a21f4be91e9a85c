package toolexec

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/ruster/internal/skills"
)

// schemaCache memoizes compiled schemas by their raw JSON text, mirroring
// the teacher's pluginsdk.compileSchema cache so a hot tool isn't
// recompiled on every call.
var schemaCache sync.Map

// validateArguments checks call args against tool.Parameters, a JSON-Schema
// object declared in the skill's frontmatter. A tool with no declared
// schema accepts anything.
func validateArguments(tool skills.ToolDef, args json.RawMessage) error {
	if len(tool.Parameters) == 0 {
		return nil
	}

	schema, err := compileSchema(tool.Parameters)
	if err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}

	raw := args
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode tool arguments: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments do not match declared schema: %w", err)
	}
	return nil
}

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
