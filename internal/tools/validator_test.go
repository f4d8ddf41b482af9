package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateCallSchema(t *testing.T) {
	fsTool, err := NewFilesystem(t.TempDir(), true)
	require.NoError(t, err)
	reg := NewRegistry(fsTool, nil)

	require.NoError(t, ValidateCall(reg, ToolRead, map[string]interface{}{"file_path": "file.txt"}))
	require.ErrorContains(t, ValidateCall(reg, ToolRead, map[string]interface{}{}), "file_path is required")
	require.ErrorContains(t, ValidateCall(reg, ToolRead, map[string]interface{}{"file_path": "  "}), "must not be empty")
	require.ErrorContains(t, ValidateCall(reg, ToolEdit, map[string]interface{}{
		"file_path": "a", "old_string": "x", "new_string": "y", "replace_all": "yes",
	}), "replace_all must be boolean")
	require.ErrorContains(t, ValidateCall(reg, ToolBash, map[string]interface{}{"command": "ls"}), "exec disabled")
	require.ErrorContains(t, ValidateCall(reg, "Browse", map[string]interface{}{}), "unknown tool")
	require.ErrorContains(t, ValidateCall(nil, ToolRead, nil), "registry unavailable")
}

func TestRegistryRun(t *testing.T) {
	dir := t.TempDir()
	fsTool, err := NewFilesystem(dir, true)
	require.NoError(t, err)
	reg := NewRegistry(fsTool, &Terminal{WorkingDir: dir, AllowExecution: true, Timeout: 5 * time.Second})
	ctx := context.Background()

	run := func(name string, args map[string]any) (string, error) {
		raw, err := json.Marshal(args)
		require.NoError(t, err)
		return reg.Run(ctx, name, raw)
	}

	out, err := run(ToolWrite, map[string]any{"file_path": "intro.md", "content": "Hello reader"})
	require.NoError(t, err)
	require.Equal(t, "Wrote 12 bytes to intro.md", out)

	out, err = run(ToolEdit, map[string]any{"file_path": "intro.md", "old_string": "reader", "new_string": "friend"})
	require.NoError(t, err)
	require.Equal(t, "Replaced 1 occurrence(s) in intro.md", out)

	out, err = run(ToolRead, map[string]any{"file_path": "intro.md"})
	require.NoError(t, err)
	require.Equal(t, "     1\tHello friend", out)

	out, err = run(ToolGrep, map[string]any{"pattern": "friend"})
	require.NoError(t, err)
	require.Equal(t, "intro.md:1: Hello friend", out)

	out, err = run(ToolBash, map[string]any{"command": "cat intro.md"})
	require.NoError(t, err)
	require.Equal(t, "Hello friend", out)

	out, err = run(ToolTodoWrite, map[string]any{"todos": []map[string]string{{"content": "Draft", "status": "pending"}}})
	require.NoError(t, err)
	require.JSONEq(t, `{"todos":[{"title":"Draft","status":"pending"}]}`, out)

	_, err = reg.Run(ctx, ToolRead, json.RawMessage(`[1,2]`))
	require.Error(t, err)
}

func TestSchemaInputSchema(t *testing.T) {
	reg := NewRegistry(nil, nil)
	s, ok := reg.Schema(ToolEdit)
	require.True(t, ok)
	props, required := s.InputSchema()
	require.Equal(t, []string{"file_path", "old_string", "new_string"}, required)
	require.Contains(t, props, "replace_all")

	todoSchema, ok := reg.Schema(ToolTodoWrite)
	require.True(t, ok)
	props, _ = todoSchema.InputSchema()
	require.Contains(t, props["todos"], "items")
}
