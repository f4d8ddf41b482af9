// Package permission classifies tool calls by filesystem and shell risk and decides
// whether a human has to confirm them before they run.
package permission

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProtectedFile is the workspace-relative project instructions file. Rewriting it while
// it exists always needs confirmation.
const ProtectedFile = ".scribe/scribe.md"

var (
	fileTools     = map[string]bool{"Read": true, "Write": true, "Edit": true}
	mutatingTools = map[string]bool{"Write": true, "Edit": true}
	shellTools    = map[string]bool{"Bash": true, "BashOutput": true}
)

// Check is the verdict for a single tool call. Targets are the canonical paths that
// triggered the verdict.
type Check struct {
	NeedsConfirm bool     `json:"needs_confirm"`
	Reason       string   `json:"reason,omitempty"`
	Targets      []string `json:"targets,omitempty"`
}

// IsFileTool reports whether name reads or writes file contents.
func IsFileTool(name string) bool { return fileTools[name] }

// IsShellTool reports whether name executes shell commands.
func IsShellTool(name string) bool { return shellTools[name] }

// Evaluate decides whether a tool call needs confirmation. It performs no I/O beyond
// the existence and symlink lookups needed to canonicalize paths.
func Evaluate(toolName string, input map[string]any, cwd string, allowedRoots, deleteWhitelist []string) Check {
	cwd = Canonicalize(cwd, cwd)
	roots := canonicalAll(allowedRoots, cwd)

	switch {
	case fileTools[toolName]:
		return evaluateFile(toolName, input, cwd, roots)
	case shellTools[toolName]:
		command, _ := input["command"].(string)
		return evaluateShell(command, cwd, roots, canonicalAll(deleteWhitelist, cwd))
	default:
		return Check{}
	}
}

func evaluateFile(toolName string, input map[string]any, cwd string, roots []string) Check {
	raw := filePathArg(input)
	if raw == "" {
		return Check{}
	}
	resolved := Canonicalize(raw, cwd)
	if resolved == "" {
		return Check{}
	}
	if mutatingTools[toolName] && isExistingProtected(resolved, cwd) {
		return Check{
			NeedsConfirm: true,
			Reason:       "Modify protected file: " + resolved,
			Targets:      []string{resolved},
		}
	}
	if outsideRoots(resolved, roots) {
		return Check{
			NeedsConfirm: true,
			Reason:       fmt.Sprintf("%s path outside workspace: %s", toolName, resolved),
			Targets:      []string{resolved},
		}
	}
	return Check{}
}

func evaluateShell(command, cwd string, roots, whitelist []string) Check {
	if targets := ExtractDeleteTargets(command, cwd); len(targets) > 0 {
		remaining := excludeWhitelisted(targets, whitelist)
		if len(remaining) == 0 {
			return Check{}
		}
		return Check{
			NeedsConfirm: true,
			Reason:       "Delete command targets: " + strings.Join(remaining, ", "),
			Targets:      remaining,
		}
	}

	tokens := SplitCommand(command)
	redirections := ExtractRedirectionTargets(tokens, cwd)
	var protected []string
	for _, target := range redirections {
		if isExistingProtected(target, cwd) {
			protected = append(protected, target)
		}
	}
	if len(protected) > 0 {
		return Check{
			NeedsConfirm: true,
			Reason:       "Modify protected file via redirection: " + strings.Join(protected, ", "),
			Targets:      protected,
		}
	}

	var outside []string
	for _, p := range append(ExtractCommandPaths(tokens, cwd), redirections...) {
		if outsideRoots(p, roots) {
			outside = append(outside, p)
		}
	}
	if len(outside) > 0 {
		return Check{
			NeedsConfirm: true,
			Reason:       "Bash command targets outside workspace: " + strings.Join(outside, ", "),
			Targets:      outside,
		}
	}
	return Check{}
}

func filePathArg(input map[string]any) string {
	for _, key := range []string{"file_path", "path"} {
		if v, ok := input[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func isExistingProtected(path, cwd string) bool {
	candidate := Canonicalize(filepath.FromSlash(ProtectedFile), cwd)
	if path != candidate {
		return false
	}
	_, err := os.Stat(candidate)
	return err == nil
}

func excludeWhitelisted(targets, whitelist []string) []string {
	if len(whitelist) == 0 {
		return targets
	}
	allowed := make(map[string]struct{}, len(whitelist))
	for _, w := range whitelist {
		allowed[w] = struct{}{}
	}
	var remaining []string
	for _, t := range targets {
		if _, ok := allowed[t]; ok {
			continue
		}
		remaining = append(remaining, t)
	}
	return remaining
}
