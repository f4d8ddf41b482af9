package permission

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/match"
)

// Canonicalize makes p absolute against cwd, cleans it, and resolves symlinks along the
// longest prefix that exists on disk. Missing trailing components are kept as written.
func Canonicalize(p, cwd string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(cwd, p)
	}
	p = filepath.Clean(p)

	existing := p
	var rest []string
	for {
		if resolved, err := filepath.EvalSymlinks(existing); err == nil {
			parts := append([]string{resolved}, rest...)
			return filepath.Clean(filepath.Join(parts...))
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return p
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
}

// ExpandHome replaces a leading ~ with the current user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// IsWithin reports whether path equals root or lies beneath it.
func IsWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func outsideRoots(path string, roots []string) bool {
	for _, root := range roots {
		if IsWithin(path, root) {
			return false
		}
	}
	return true
}

func canonicalAll(paths []string, cwd string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if c := Canonicalize(ExpandHome(p), cwd); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Authorized reports whether every target matches at least one remembered pattern.
// Patterns are home-expanded, joined to cwd when relative, and matched as globs where
// '*' also crosses path separators. An empty target list is never authorized.
func Authorized(targets, patterns []string, cwd string) bool {
	if len(targets) == 0 {
		return false
	}
	normalized := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if n := normalizePattern(pattern, cwd); n != "" {
			normalized = append(normalized, n)
		}
	}
	if len(normalized) == 0 {
		return false
	}
	for _, target := range targets {
		t := filepath.ToSlash(Canonicalize(target, cwd))
		matched := false
		for _, pattern := range normalized {
			if match.Match(t, pattern) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func normalizePattern(pattern, cwd string) string {
	raw := ExpandHome(strings.TrimSpace(pattern))
	if raw == "" {
		return ""
	}
	if !filepath.IsAbs(raw) {
		raw = filepath.Join(cwd, raw)
	}
	return filepath.ToSlash(filepath.Clean(raw))
}
