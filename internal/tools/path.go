package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathGuard resolves tool paths against a base directory.
type PathGuard struct {
	BaseDir string
}

// NewPathGuard constructs a guard rooted at baseDir (defaults to current working directory).
func NewPathGuard(baseDir string) (*PathGuard, error) {
	if baseDir == "" {
		var err error
		baseDir, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	return &PathGuard{BaseDir: absBase}, nil
}

// Resolve validates and returns an absolute path inside BaseDir.
func (g *PathGuard) Resolve(p string) (string, error) {
	abs, err := g.ResolveAny(p)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, g.BaseDir+string(os.PathSeparator)) && abs != g.BaseDir {
		return "", fmt.Errorf("path escapes base directory")
	}
	return abs, nil
}

// ResolveAny returns p as a clean absolute path, joining relative paths to BaseDir. It
// does not confine the result; callers use it for calls the permission gate already
// approved.
func (g *PathGuard) ResolveAny(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Clean(filepath.Join(g.BaseDir, clean)), nil
}

// Rel renders abs relative to BaseDir when it is inside it.
func (g *PathGuard) Rel(abs string) string {
	rel, err := filepath.Rel(g.BaseDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return abs
	}
	return filepath.ToSlash(rel)
}
