package tool

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Govcraft/acton-ai/types"
)

// compileSchema compiles a tool's declared input schema. A missing or null
// schema means the tool validates its own arguments.
func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, types.NewErrorf(types.ErrToolValidation,
			"tool %q has an unusable input schema", name).WithCause(err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, types.NewErrorf(types.ErrToolValidation,
			"input schema for tool %q does not compile", name).WithCause(err)
	}
	return compiled, nil
}

// validateArgs checks args against the tool's compiled input schema and
// returns a tool validation error describing the violation.
func (r *Registry) validateArgs(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()

	var value any = map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &value); err != nil {
			return types.NewErrorf(types.ErrToolValidation,
				"arguments for %q are not valid JSON", name).WithCause(err)
		}
	}
	if schema == nil {
		return nil
	}

	if err := schema.Validate(value); err != nil {
		return types.NewErrorf(types.ErrToolValidation,
			"arguments for %q failed schema validation", name).WithCause(err)
	}
	return nil
}
