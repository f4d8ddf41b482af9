// Package prompt renders the system and user prompts for a turn from embedded templates.
package prompt

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/animus-coder/scribe/internal/permission"
	"github.com/animus-coder/scribe/internal/tools"
)

//go:embed templates/system.md
var defaultSystemTemplate string

//go:embed templates/user.md
var defaultUserTemplate string

const (
	maxPreferenceBytes = 20000
	maxAttachmentBytes = 64 * 1024
	memoryFile         = ".scribe/memory.md"
)

// HistorySource renders recent history for the system prompt.
type HistorySource interface {
	PromptBlock(ctx context.Context, limit int) (string, error)
}

// TodoSource renders the current todo list.
type TodoSource interface {
	RenderPlain() string
}

// Builder implements turn.PromptBuilder.
type Builder struct {
	FS           *tools.Filesystem
	History      HistorySource
	HistoryLimit int
	Todos        TodoSource
	Logger       *zap.Logger

	// SystemTemplate and UserTemplate replace the embedded templates when set.
	SystemTemplate string
	UserTemplate   string
}

// SystemPrompt renders the system template. overrides replace any placeholder value.
func (b *Builder) SystemPrompt(ctx context.Context, overrides map[string]string) (string, error) {
	if b.FS == nil {
		return "", errors.New("prompt builder needs a filesystem")
	}
	values := b.baseValues(ctx)
	return b.render(firstNonEmpty(b.SystemTemplate, defaultSystemTemplate), "system prompt", values, overrides), nil
}

// UserPrompt renders the user template with the request and the contents of the
// attached workspace files.
func (b *Builder) UserPrompt(ctx context.Context, text string, attachments []string, overrides map[string]string) (string, error) {
	if b.FS == nil {
		return "", errors.New("prompt builder needs a filesystem")
	}
	refs, contents, err := b.readAttachments(attachments)
	if err != nil {
		return "", err
	}
	values := b.baseValues(ctx)
	values["user_message"] = strings.TrimSpace(text)
	values["file_refs_block"] = refs
	values["attachments_block"] = contents
	return strings.TrimSpace(b.render(firstNonEmpty(b.UserTemplate, defaultUserTemplate), "user prompt", values, overrides)), nil
}

func (b *Builder) baseValues(ctx context.Context) map[string]string {
	root := b.FS.Guard().BaseDir
	values := map[string]string{
		"working_dir":   root,
		"preferences":   b.readPreferences(root),
		"memory":        readOptional(filepath.Join(root, filepath.FromSlash(memoryFile)), "No memory recorded."),
		"history_block": "No prior history.",
		"todo_block":    "No todos yet.",
	}
	if outline, err := b.FS.DescribeStructure(".", 2, 80); err == nil {
		values["workspace_outline"] = outline
	} else {
		values["workspace_outline"] = "Workspace layout unavailable."
		b.logger().Debug("describe workspace failed", zap.Error(err))
	}
	if b.History != nil {
		limit := b.HistoryLimit
		if limit <= 0 {
			limit = 10
		}
		if block, err := b.History.PromptBlock(ctx, limit); err == nil {
			values["history_block"] = block
		} else {
			b.logger().Warn("read history failed", zap.Error(err))
		}
	}
	if b.Todos != nil {
		values["todo_block"] = b.Todos.RenderPlain()
	}
	return values
}

func (b *Builder) readPreferences(root string) string {
	const fallback = "Not provided. Ask the user to describe the project in .scribe/scribe.md."
	text := readOptional(filepath.Join(root, filepath.FromSlash(permission.ProtectedFile)), fallback)
	if len(text) > maxPreferenceBytes {
		text = text[:maxPreferenceBytes] + "\n... [truncated; edit " + permission.ProtectedFile + " to shorten it]"
	}
	return text
}

func (b *Builder) readAttachments(paths []string) (string, string, error) {
	if len(paths) == 0 {
		return "None", "", nil
	}
	guard := b.FS.Guard()
	var refs, contents strings.Builder
	for _, p := range paths {
		resolved, err := guard.Resolve(p)
		if err != nil {
			return "", "", fmt.Errorf("attachment %s: %w", p, err)
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return "", "", fmt.Errorf("attachment %s: %w", p, err)
		}
		rel := guard.Rel(resolved)
		fmt.Fprintf(&refs, "- %s\n", rel)

		body := string(data)
		if len(body) > maxAttachmentBytes {
			body = body[:maxAttachmentBytes] + "\n... [truncated]"
		}
		fmt.Fprintf(&contents, "\nFile: %s\n```\n%s\n```\n", rel, strings.TrimRight(body, "\n"))
	}
	return strings.TrimRight(refs.String(), "\n"), contents.String(), nil
}

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// render substitutes {key} placeholders. Keys containing a double quote belong to JSON
// examples and are kept verbatim.
func (b *Builder) render(template, name string, values, overrides map[string]string) string {
	missing := map[string]struct{}{}
	out := placeholder.ReplaceAllStringFunc(template, func(m string) string {
		key := strings.TrimSpace(m[1 : len(m)-1])
		if strings.Contains(key, `"`) {
			return m
		}
		if v, ok := overrides[key]; ok {
			return v
		}
		if v, ok := values[key]; ok {
			return v
		}
		missing[key] = struct{}{}
		return ""
	})
	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.logger().Warn("template placeholders without values", zap.String("template", name), zap.Strings("keys", keys))
	}
	return out
}

func (b *Builder) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

func readOptional(path, fallback string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
