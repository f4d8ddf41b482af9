package tools

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Filesystem provides the file operations behind the Read, Write, Edit and Grep tools.
// Read, Write and Edit accept paths outside the base directory because the permission
// gate has already decided on them; Grep and the structure outline stay inside it.
type Filesystem struct {
	guard      *PathGuard
	allowWrite bool
}

// NewFilesystem builds a filesystem tool with write permissions controlled by allowWrite.
func NewFilesystem(baseDir string, allowWrite bool) (*Filesystem, error) {
	guard, err := NewPathGuard(baseDir)
	if err != nil {
		return nil, err
	}
	return &Filesystem{guard: guard, allowWrite: allowWrite}, nil
}

// Guard exposes the path guard for callers reading workspace files.
func (f *Filesystem) Guard() *PathGuard { return f.guard }

// ReadFile returns file contents as numbered lines. offset is 1-based; limit <= 0 reads
// to the end.
func (f *Filesystem) ReadFile(path string, offset, limit int) (string, error) {
	resolved, err := f.guard.ResolveAny(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "(empty file)", nil
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if offset < 1 {
		offset = 1
	}
	if offset > len(lines) {
		return "", fmt.Errorf("offset %d is past the end of %s (%d lines)", offset, path, len(lines))
	}
	end := len(lines)
	if limit > 0 && offset-1+limit < end {
		end = offset - 1 + limit
	}
	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

// WriteFile writes content to a file if allowed, creating parent directories.
func (f *Filesystem) WriteFile(path string, content string) error {
	if !f.allowWrite {
		return errors.New("write is disabled by configuration")
	}
	resolved, err := f.guard.ResolveAny(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

// EditFile replaces oldString with newString and returns the number of replacements.
// Without replaceAll, oldString must occur exactly once.
func (f *Filesystem) EditFile(path, oldString, newString string, replaceAll bool) (int, error) {
	if !f.allowWrite {
		return 0, errors.New("write is disabled by configuration")
	}
	if oldString == "" {
		return 0, errors.New("old_string must not be empty")
	}
	if oldString == newString {
		return 0, errors.New("old_string and new_string are identical")
	}
	resolved, err := f.guard.ResolveAny(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return 0, err
	}
	content := string(data)
	count := strings.Count(content, oldString)
	switch {
	case count == 0:
		return 0, fmt.Errorf("old_string not found in %s", path)
	case count > 1 && !replaceAll:
		return 0, fmt.Errorf("old_string occurs %d times in %s; pass replace_all or add context", count, path)
	}
	n := 1
	if replaceAll {
		n = -1
	}
	updated := strings.Replace(content, oldString, newString, n)
	if err := os.WriteFile(resolved, []byte(updated), info.Mode().Perm()); err != nil {
		return 0, err
	}
	if !replaceAll {
		count = 1
	}
	return count, nil
}

// Search looks for pattern occurrences in files under root (relative path).
func (f *Filesystem) Search(root string, pattern string, maxResults int) ([]SearchResult, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	if maxResults <= 0 {
		maxResults = 20
	}
	if root == "" {
		root = "."
	}

	resolved, err := f.guard.Resolve(root)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, maxResults)
	errLimit := errors.New("limit reached")
	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != resolved && skipStructureDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel := f.guard.Rel(path)

		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		lineNum := 1
		for scanner.Scan() {
			if strings.Contains(scanner.Text(), pattern) {
				results = append(results, SearchResult{
					Path:    rel,
					Line:    lineNum,
					Snippet: scanner.Text(),
				})
				if len(results) >= maxResults {
					return errLimit
				}
			}
			lineNum++
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return results, err
	}
	return results, nil
}

// SearchResult represents a single pattern match.
type SearchResult struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

// DescribeStructure returns a tree-like outline for a directory with depth/entry caps.
func (f *Filesystem) DescribeStructure(root string, maxDepth int, maxEntries int) (string, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	if maxEntries <= 0 {
		maxEntries = 200
	}

	resolved, err := f.guard.Resolve(root)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", root)
	}

	lines := []string{filepath.Clean(root) + "/"}
	added := 0

	var walk func(string, int) error
	walk = func(path string, depth int) error {
		if depth > maxDepth {
			return filepath.SkipDir
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, e := range entries {
			name := e.Name()
			if skipStructureDir(name) {
				continue
			}

			prefix := strings.Repeat("  ", depth-1)
			line := fmt.Sprintf("%s- %s", prefix, name)
			if e.IsDir() {
				line += "/"
			}
			lines = append(lines, line)
			added++
			if added >= maxEntries {
				lines = append(lines, fmt.Sprintf("%s... truncated after %d entries", prefix, maxEntries))
				return filepath.SkipDir
			}

			if e.IsDir() {
				if err := walk(filepath.Join(path, name), depth+1); err != nil {
					if errors.Is(err, filepath.SkipDir) {
						if added >= maxEntries {
							return err
						}
						continue
					}
					return err
				}
			}
		}
		return nil
	}

	if err := walk(resolved, 1); err != nil && !errors.Is(err, filepath.SkipDir) {
		return "", err
	}

	return strings.Join(lines, "\n"), nil
}

func skipStructureDir(name string) bool {
	switch strings.ToLower(name) {
	case ".git", ".scribe", "node_modules", ".idea", ".vscode", "vendor", ".cache":
		return true
	default:
		return false
	}
}
