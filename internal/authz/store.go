// Package authz persists the "remember this" answers given at permission prompts.
package authz

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/animus-coder/scribe/internal/permission"
)

// ErrInvalidPattern is returned for blank authorization patterns.
var ErrInvalidPattern = errors.New("authorization pattern must not be empty")

type fileFormat struct {
	Tools map[string][]string `yaml:"tools"`
}

// Store is a YAML-backed map from tool name to path patterns.
type Store struct {
	mu    sync.Mutex
	path  string
	root  string
	tools map[string][]string
}

// Open loads the store at path. A missing file yields an empty store; it is created on
// the first save. root is the workspace that relative patterns are anchored to.
func Open(path, root string) (*Store, error) {
	s := &Store{path: path, root: root, tools: map[string][]string{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read authorizations: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse authorizations %s: %w", path, err)
	}
	for tool, patterns := range f.Tools {
		s.tools[tool] = append([]string(nil), patterns...)
	}
	return s, nil
}

// Patterns returns the remembered patterns for tool.
func (s *Store) Patterns(tool string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tools[tool]...)
}

// IsAuthorized reports whether every target is covered by a remembered pattern for tool.
func (s *Store) IsAuthorized(tool string, targets []string) bool {
	return permission.Authorized(targets, s.Patterns(tool), s.root)
}

// AddAuthorizations remembers paths for tool and saves the file. Paths inside the
// workspace are stored relative to it so the file survives moving the project.
func (s *Store) AddAuthorizations(tool string, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]struct{}, len(s.tools[tool]))
	for _, p := range s.tools[tool] {
		existing[p] = struct{}{}
	}
	changed := false
	for _, p := range paths {
		pattern := s.patternFor(p)
		if pattern == "" {
			return ErrInvalidPattern
		}
		if _, ok := existing[pattern]; ok {
			continue
		}
		existing[pattern] = struct{}{}
		s.tools[tool] = append(s.tools[tool], pattern)
		changed = true
	}
	if !changed {
		return nil
	}
	return s.saveLocked()
}

func (s *Store) patternFor(p string) string {
	canonical := permission.Canonicalize(p, s.root)
	if canonical == "" {
		return ""
	}
	root := permission.Canonicalize(s.root, s.root)
	if permission.IsWithin(canonical, root) {
		if rel, err := filepath.Rel(root, canonical); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(canonical)
}

func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(fileFormat{Tools: s.tools})
	if err != nil {
		return fmt.Errorf("encode authorizations: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create authorizations dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write authorizations: %w", err)
	}
	return os.Rename(tmp, s.path)
}
