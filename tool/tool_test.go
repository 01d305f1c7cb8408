package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Govcraft/acton-ai/types"
)

func echoTool(name string) Tool {
	return Func{
		Def: types.ToolDefinition{Name: name, Description: "echoes its arguments"},
		Fn: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
	}
}

func TestRegistry_RejectsDuplicateNames(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(echoTool("echo")))
	err := r.Register(echoTool("echo"))
	require.Error(t, err)
	assert.Equal(t, types.ErrToolDuplicate, types.GetErrorCode(err))
}

func TestRegistry_GetUnknownTool(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Get("nope")
	require.Error(t, err)
	assert.Equal(t, types.ErrToolNotFound, types.GetErrorCode(err))
}

func TestRegistry_DefinitionsSortedByName(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(echoTool("zeta")))
	require.NoError(t, r.Register(echoTool("alpha")))
	require.NoError(t, r.Register(echoTool("mid")))

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "mid", defs[1].Name)
	assert.Equal(t, "zeta", defs[2].Name)
}

func schemaTool(name, schema string) Tool {
	return Func{
		Def: types.ToolDefinition{
			Name:        name,
			Description: "echoes its arguments",
			InputSchema: json.RawMessage(schema),
		},
		Fn: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
	}
}

func TestValidateArgs(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(schemaTool("search", `{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"limit": {"type": "integer"},
			"order": {"type": "string", "enum": ["asc", "desc"]}
		},
		"required": ["query"]
	}`)))

	tests := []struct {
		name    string
		args    string
		wantErr bool
	}{
		{"valid minimal", `{"query": "go"}`, false},
		{"valid full", `{"query": "go", "limit": 5, "order": "desc"}`, false},
		{"missing required", `{"limit": 5}`, true},
		{"wrong type", `{"query": 42}`, true},
		{"non-integer", `{"query": "go", "limit": 1.5}`, true},
		{"enum violation", `{"query": "go", "order": "sideways"}`, true},
		{"not an object", `["go"]`, true},
		{"unknown keys pass", `{"query": "go", "extra": true}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.validateArgs("search", json.RawMessage(tt.args))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrToolValidation, types.GetErrorCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateArgs_NestedConstraints(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(schemaTool("batch", `{
		"type": "object",
		"properties": {
			"n": {"type": "integer", "minimum": 1},
			"tags": {"type": "array", "items": {"type": "string"}}
		}
	}`)))

	err := r.validateArgs("batch", json.RawMessage(`{"n": 0, "tags": [42]}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrToolValidation, types.GetErrorCode(err))

	err = r.validateArgs("batch", json.RawMessage(`{"n": 1, "tags": [42]}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrToolValidation, types.GetErrorCode(err))

	assert.NoError(t, r.validateArgs("batch", json.RawMessage(`{"n": 3, "tags": ["a", "b"]}`)))
}

func TestValidateArgs_NoSchemaOnlyRequiresJSON(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(echoTool("free")))

	assert.NoError(t, r.validateArgs("free", json.RawMessage(`{"anything": 1}`)))
	assert.NoError(t, r.validateArgs("free", nil))
	assert.Error(t, r.validateArgs("free", json.RawMessage(`{broken`)))
}

func TestRegistry_RejectsUncompilableSchema(t *testing.T) {
	r := NewRegistry(nil)

	err := r.Register(schemaTool("broken", `{"type": 7}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrToolValidation, types.GetErrorCode(err))

	_, err = r.Get("broken")
	require.Error(t, err)
}

func TestCalculateTool(t *testing.T) {
	calc := CalculateTool{}

	eval := func(t *testing.T, expr string) float64 {
		t.Helper()
		args, err := json.Marshal(map[string]string{"expression": expr})
		require.NoError(t, err)
		raw, err := calc.Execute(context.Background(), args)
		require.NoError(t, err)
		var out struct {
			Result float64 `json:"result"`
		}
		require.NoError(t, json.Unmarshal(raw, &out))
		return out.Result
	}

	assert.Equal(t, 4.0, eval(t, "2 + 2"))
	assert.Equal(t, 20.0, eval(t, "(2 + 3) * 4"))
	assert.Equal(t, -6.0, eval(t, "-2 * 3"))
	assert.Equal(t, 2.5, eval(t, "5 / 2"))
	assert.Equal(t, 14.0, eval(t, "2 + 3 * 4"))
}

func TestCalculateTool_Errors(t *testing.T) {
	calc := CalculateTool{}

	for _, expr := range []string{"1 / 0", "2 +", "(1 + 2", "abc", "1 2"} {
		args, err := json.Marshal(map[string]string{"expression": expr})
		require.NoError(t, err)
		_, err = calc.Execute(context.Background(), args)
		assert.Error(t, err, "expression %q", expr)
	}
}
