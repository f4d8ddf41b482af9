package intent

import "strings"

// OutlineEdit asks the operator to review and edit an outline before the agent writes
// the document.
type OutlineEdit struct {
	Title       string `json:"title"`
	OutlineText string `json:"outline_text"`
}

// ExtractOutlineEdit parses an outline edit envelope out of cumulative assistant text.
// Unlike clarification there is no lenient coercion: title and outline_text must both be
// present and non-blank.
func ExtractOutlineEdit(text string) (*OutlineEdit, []error) {
	body, ok := splitTagged(text, OutlineEditTag)
	if !ok {
		return nil, nil
	}
	doc, err := parseObject(body, "outline edit")
	if err != nil {
		return nil, []error{err}
	}
	if doc.Get("response_type").String() != "outline_edit" {
		return nil, []error{&PayloadError{Msg: "Outline edit payload is missing required fields."}}
	}
	title := stringField(doc, "title")
	outline := doc.Get("outline_text")
	if title == "" || strings.TrimSpace(outline.Str) == "" {
		return nil, []error{&PayloadError{Msg: "Outline edit payload is missing required fields."}}
	}
	return &OutlineEdit{Title: title, OutlineText: outline.Str}, nil
}
