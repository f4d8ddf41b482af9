package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/animus-coder/scribe/internal/todo"
)

// Registry exposes shared tool instances and runs tool calls by name.
type Registry struct {
	FS       *Filesystem
	Terminal *Terminal
}

// NewRegistry builds a registry from instantiated tools.
func NewRegistry(fs *Filesystem, term *Terminal) *Registry {
	return &Registry{FS: fs, Terminal: term}
}

// Schema returns schema for a given tool name if present.
func (r *Registry) Schema(name string) (Schema, bool) {
	for _, s := range r.Schemas() {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

// Run validates and executes one tool call, returning the text reported back to the
// agent. Errors are meant to be reported as failed tool results, not to end the turn.
func (r *Registry) Run(ctx context.Context, name string, input json.RawMessage) (string, error) {
	args := map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("tool input must be a JSON object: %w", err)
		}
	}
	if err := ValidateCall(r, name, args); err != nil {
		return "", err
	}

	switch name {
	case ToolRead:
		return r.FS.ReadFile(stringArg(args, "file_path"), intArg(args, "offset"), intArg(args, "limit"))
	case ToolWrite:
		path := stringArg(args, "file_path")
		content := stringArg(args, "content")
		if err := r.FS.WriteFile(path, content); err != nil {
			return "", err
		}
		return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
	case ToolEdit:
		path := stringArg(args, "file_path")
		n, err := r.FS.EditFile(path, stringArg(args, "old_string"), stringArg(args, "new_string"), boolArg(args, "replace_all"))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Replaced %d occurrence(s) in %s", n, path), nil
	case ToolBash:
		timeout := time.Duration(intArg(args, "timeout")) * time.Millisecond
		res, err := r.Terminal.Shell(ctx, stringArg(args, "command"), timeout)
		out := formatExec(res)
		if err != nil {
			if out != "" {
				return "", fmt.Errorf("%w\n%s", err, out)
			}
			return "", err
		}
		return out, nil
	case ToolGrep:
		results, err := r.FS.Search(stringArg(args, "path"), stringArg(args, "pattern"), intArg(args, "max_results"))
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return "No matches found.", nil
		}
		lines := make([]string, 0, len(results))
		for _, m := range results {
			lines = append(lines, fmt.Sprintf("%s:%d: %s", m.Path, m.Line, m.Snippet))
		}
		return strings.Join(lines, "\n"), nil
	case ToolTodoWrite:
		items, ok := todo.Parse(input)
		if !ok {
			return "", fmt.Errorf("todos payload not recognised")
		}
		out, err := json.Marshal(map[string]any{"todos": items})
		if err != nil {
			return "", err
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func formatExec(res ExecResult) string {
	var parts []string
	if s := strings.TrimRight(res.Stdout, "\n"); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimRight(res.Stderr, "\n"); s != "" {
		parts = append(parts, "stderr:\n"+s)
	}
	if res.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("exit code %d", res.ExitCode))
	}
	return strings.Join(parts, "\n")
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}
