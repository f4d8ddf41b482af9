// Package intent recognises tagged JSON envelopes that the agent emits in place of
// ordinary output when it needs the operator to clarify something or edit an outline.
package intent

import (
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// ClarificationTag marks a clarification request envelope.
	ClarificationTag = "[[SCRIBE_CLARIFICATION_JSON]]"
	// OutlineEditTag marks an outline edit request envelope.
	OutlineEditTag = "[[SCRIBE_OUTLINE_EDIT_JSON]]"
	// NeedsClarificationSentinel may appear in a final result to flag a clarification turn
	// without a structured payload.
	NeedsClarificationSentinel = "[[SCRIBE_STATUS:NEEDS_CLARIFICATION]]"
)

// HasClarificationTag reports whether text opens with the clarification tag.
func HasClarificationTag(text string) bool {
	_, ok := splitTagged(text, ClarificationTag)
	return ok
}

// HasOutlineEditTag reports whether text opens with the outline edit tag.
func HasOutlineEditTag(text string) bool {
	_, ok := splitTagged(text, OutlineEditTag)
	return ok
}

// StripTag removes a leading intent tag line (and any surrounding fence) so the rest
// can be shown as plain assistant output.
func StripTag(text string) string {
	for _, tag := range []string{ClarificationTag, OutlineEditTag} {
		if body, ok := splitTagged(text, tag); ok {
			return body
		}
	}
	return text
}

// splitTagged returns the text after tag when tag is the first non-blank line of text,
// ignoring at most one code fence around the whole text and one around the body.
func splitTagged(text, tag string) (string, bool) {
	lines := stripOuterFence(strings.Split(normalizeNewlines(text), "\n"))
	idx, first := firstNonBlank(lines)
	if idx < 0 || first != tag {
		return "", false
	}
	body := stripOuterFence(lines[idx+1:])
	return strings.TrimSpace(strings.Join(body, "\n")), true
}

func stripOuterFence(lines []string) []string {
	idx, first := firstNonBlank(lines)
	if idx < 0 || !strings.HasPrefix(first, "```") {
		return lines
	}
	for j := idx + 1; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) == "```" {
			return lines[idx+1 : j]
		}
	}
	return lines[idx+1:]
}

func firstNonBlank(lines []string) (int, string) {
	for i, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return i, trimmed
		}
	}
	return -1, ""
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}

// parseObject parses body as a JSON object, returning the error to report otherwise.
func parseObject(body, kind string) (gjson.Result, error) {
	if body == "" {
		return gjson.Result{}, &PayloadError{Msg: "No JSON payload found after " + kind + " tag."}
	}
	if !gjson.Valid(body) {
		return gjson.Result{}, &PayloadError{Msg: capitalize(kind) + " payload is not valid JSON."}
	}
	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return gjson.Result{}, &PayloadError{Msg: capitalize(kind) + " payload must be a JSON object."}
	}
	return doc, nil
}

// stringField returns the trimmed string at key, or "" when it is absent or not a string.
func stringField(doc gjson.Result, key string) string {
	v := doc.Get(key)
	if v.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(v.Str)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// PayloadError describes one problem with a tagged payload. Path is empty for
// document-level problems.
type PayloadError struct {
	Path string
	Msg  string
}

func (e *PayloadError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return e.Path + ": " + e.Msg
}
