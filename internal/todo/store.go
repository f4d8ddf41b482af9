// Package todo tracks the task list the agent maintains through its TodoWrite tool.
package todo

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Item is one todo entry.
type Item struct {
	Title  string `json:"title" yaml:"title"`
	Status string `json:"status" yaml:"status"`
	Note   string `json:"note,omitempty" yaml:"note,omitempty"`
}

// Done reports whether the item is finished.
func (i Item) Done() bool {
	switch strings.ToLower(strings.TrimSpace(i.Status)) {
	case "done", "complete", "completed":
		return true
	default:
		return false
	}
}

// Store holds the current todo list. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	items     []Item
	source    string
	listeners []func([]Item)
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// OnChange registers fn to be called with a snapshot after every change.
func (s *Store) OnChange(fn func([]Item)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// SetItems replaces the list wholesale.
func (s *Store) SetItems(items []Item, source string) {
	s.mu.Lock()
	s.items = append([]Item(nil), items...)
	s.source = source
	listeners := append([]func([]Item){}, s.listeners...)
	snapshot := append([]Item(nil), s.items...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// UpdateFromPayload replaces the list from a loosely shaped JSON payload and reports
// whether anything was recognised. Unrecognised payloads leave the list untouched.
func (s *Store) UpdateFromPayload(payload []byte, source string) bool {
	items, ok := Parse(payload)
	if !ok {
		return false
	}
	s.SetItems(items, source)
	return true
}

// Parse normalizes a loosely shaped JSON payload without touching any store.
func Parse(payload []byte) ([]Item, bool) {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return nil, false
	}
	return normalize(gjson.ParseBytes(payload))
}

// Summarize describes a todo payload in one line, e.g. "Todo update (3 items; pending:2, done:1)".
func Summarize(payload []byte) string {
	items, ok := Parse(payload)
	if !ok {
		return "Todo update"
	}
	var order []string
	counts := map[string]int{}
	for _, item := range items {
		if _, seen := counts[item.Status]; !seen {
			order = append(order, item.Status)
		}
		counts[item.Status]++
	}
	parts := make([]string, 0, len(order))
	for _, status := range order {
		parts = append(parts, fmt.Sprintf("%s:%d", status, counts[status]))
	}
	return fmt.Sprintf("Todo update (%d items; %s)", len(items), strings.Join(parts, ", "))
}

// ExportItems returns a copy of the current list.
func (s *Store) ExportItems() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Item(nil), s.items...)
}

// Source names whatever produced the current list.
func (s *Store) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Remaining returns the unfinished items.
func (s *Store) Remaining() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		if !item.Done() {
			out = append(out, item)
		}
	}
	return out
}

// RemainingMarkdown renders unfinished items as a markdown list, or "" when none remain.
func (s *Store) RemainingMarkdown() string {
	return FormatMarkdown(s.Remaining())
}

// RenderPlain renders the full list with status markers for console output.
func (s *Store) RenderPlain() string {
	items := s.ExportItems()
	if len(items) == 0 {
		return "No todos yet."
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		line := fmt.Sprintf("%s %s", statusMarker(item.Status), item.Title)
		if item.Note != "" {
			line += " - " + item.Note
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// FormatMarkdown renders items as "- [status] title - note" lines.
func FormatMarkdown(items []Item) string {
	var lines []string
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		line := fmt.Sprintf("- [%s] %s", strings.TrimSpace(item.Status), title)
		if note := strings.TrimSpace(item.Note); note != "" {
			line += " - " + note
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func statusMarker(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "todo":
		return "[ ]"
	case "doing", "in_progress", "in progress", "active":
		return "[~]"
	case "done", "complete", "completed":
		return "[x]"
	case "blocked":
		return "[!]"
	case "review":
		return "[?]"
	default:
		return "[-]"
	}
}

// normalize accepts a JSON string holding JSON, an object wrapping "items" or "todos",
// a single item object, or a list of any of those.
func normalize(v gjson.Result) ([]Item, bool) {
	switch {
	case v.Type == gjson.String:
		if !gjson.Valid(v.Str) {
			return nil, false
		}
		return normalize(gjson.Parse(v.Str))
	case v.IsObject():
		for _, key := range []string{"items", "todos"} {
			if inner := v.Get(key); inner.Exists() {
				return normalize(inner)
			}
		}
		for _, key := range []string{"title", "content", "task", "text"} {
			if v.Get(key).Exists() {
				return []Item{buildItem(v)}, true
			}
		}
		return nil, false
	case v.IsArray():
		var items []Item
		for _, elem := range v.Array() {
			if more, ok := normalize(elem); ok {
				items = append(items, more...)
			}
		}
		return items, len(items) > 0
	default:
		return nil, false
	}
}

func buildItem(v gjson.Result) Item {
	item := Item{
		Title:  firstNonEmpty(v, "title", "content", "task", "text"),
		Status: firstNonEmpty(v, "status"),
		Note:   firstNonEmpty(v, "note", "detail"),
	}
	if item.Status == "" {
		item.Status = "pending"
	}
	return item
}

func firstNonEmpty(v gjson.Result, keys ...string) string {
	for _, key := range keys {
		if s := strings.TrimSpace(v.Get(key).String()); s != "" {
			return s
		}
	}
	return ""
}
