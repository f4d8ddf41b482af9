package intent

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Option is one selectable answer for a clarification question.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Question is a single clarification question.
type Question struct {
	ID               string   `json:"id"`
	Text             string   `json:"question"`
	Options          []Option `json:"options"`
	RecommendedValue string   `json:"recommended,omitempty"`
	AllowFreeform    bool     `json:"allow_freeform"`
	Placeholder      string   `json:"placeholder,omitempty"`
}

// Clarification is a request from the agent for the operator to answer questions
// before it continues.
type Clarification struct {
	Title     string     `json:"title"`
	Preface   string     `json:"preface,omitempty"`
	Questions []Question `json:"questions"`
}

// ExtractClarification parses a clarification envelope out of cumulative assistant text.
// It returns (nil, nil) when the tag is absent and (nil, errs) when the tag is present but
// the payload cannot be used.
func ExtractClarification(text string) (*Clarification, []error) {
	body, ok := splitTagged(text, ClarificationTag)
	if !ok {
		return nil, nil
	}
	doc, err := parseObject(body, "clarification")
	if err != nil {
		return nil, []error{err}
	}
	payload, errs := coerceClarification(doc)
	if len(errs) > 0 {
		return nil, errs
	}
	return payload, nil
}

// RecommendedIndex returns the index of the recommended option, or 0 when none is set
// or the recommended value does not match any option.
func RecommendedIndex(q Question) int {
	if q.RecommendedValue == "" {
		return 0
	}
	for i, opt := range q.Options {
		if opt.Value == q.RecommendedValue {
			return i
		}
	}
	return 0
}

func coerceClarification(doc gjson.Result) (*Clarification, []error) {
	var errs []error
	fail := func(path, format string, args ...any) {
		errs = append(errs, &PayloadError{Path: path, Msg: fmt.Sprintf(format, args...)})
	}

	if rt := doc.Get("response_type"); rt.Type != gjson.String || rt.Str != "clarification" {
		fail("response_type", "must be %q", "clarification")
	}
	title := stringField(doc, "title")
	if title == "" {
		fail("title", "must be a non-empty string")
	}
	rawQuestions := doc.Get("questions")
	if !rawQuestions.IsArray() || len(rawQuestions.Array()) == 0 {
		fail("questions", "must be a non-empty array")
	}
	if len(errs) > 0 {
		return nil, errs
	}

	out := &Clarification{
		Title:   title,
		Preface: stringField(doc, "preface"),
	}
	for i, raw := range rawQuestions.Array() {
		q, qerrs := coerceQuestion(raw, fmt.Sprintf("questions.%d", i))
		if len(qerrs) > 0 {
			errs = append(errs, qerrs...)
			continue
		}
		out.Questions = append(out.Questions, q)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

func coerceQuestion(raw gjson.Result, path string) (Question, []error) {
	var errs []error
	fail := func(sub, format string, args ...any) {
		errs = append(errs, &PayloadError{Path: path + sub, Msg: fmt.Sprintf(format, args...)})
	}
	if !raw.IsObject() {
		fail("", "must be an object")
		return Question{}, errs
	}

	text := firstString(raw, "question", "prompt")
	if text == "" {
		fail(".question", "must be a non-empty string")
	}
	id := questionID(raw)
	if id == "" {
		id = text
	}

	q := Question{
		ID:            id,
		Text:          text,
		AllowFreeform: raw.Get("allow_freeform").Bool(),
		Placeholder:   stringField(raw, "placeholder"),
	}

	rawOptions := raw.Get("options")
	switch {
	case !rawOptions.Exists() || rawOptions.Type == gjson.Null:
	case rawOptions.IsArray():
		for i, item := range rawOptions.Array() {
			opt, ok := coerceOption(item)
			if !ok {
				fail(fmt.Sprintf(".options.%d", i), "must be a string or an object with a non-empty label")
				continue
			}
			q.Options = append(q.Options, opt)
		}
	default:
		fail(".options", "must be an array")
	}
	if len(q.Options) == 0 && !q.AllowFreeform && len(errs) == 0 {
		fail(".options", "must contain at least one option unless allow_freeform is set")
	}
	if len(errs) > 0 {
		return Question{}, errs
	}

	q.RecommendedValue = recommendedValue(raw.Get("recommended"), q.Options)
	return q, nil
}

func questionID(raw gjson.Result) string {
	for _, key := range []string{"id", "question_id"} {
		v := raw.Get(key)
		switch v.Type {
		case gjson.String:
			if s := strings.TrimSpace(v.Str); s != "" {
				return s
			}
		case gjson.Number:
			return strconv.FormatFloat(v.Num, 'f', -1, 64)
		}
	}
	return ""
}

func coerceOption(item gjson.Result) (Option, bool) {
	var label, value string
	switch {
	case item.Type == gjson.String:
		label, value = strings.TrimSpace(item.Str), strings.TrimSpace(item.Str)
	case item.IsObject():
		label = stringField(item, "label")
		value = stringField(item, "value")
		if value == "" {
			value = label
		}
	default:
		return Option{}, false
	}
	if label == "" || value == "" {
		return Option{}, false
	}
	return Option{Label: label, Value: value}, true
}

// recommendedValue accepts an option index, an option value, or an object carrying
// value or label. Anything else yields no recommendation.
func recommendedValue(rec gjson.Result, options []Option) string {
	switch {
	case rec.Type == gjson.Number:
		if rec.Num != math.Trunc(rec.Num) {
			return ""
		}
		idx := int(rec.Num)
		if idx < 0 || idx >= len(options) {
			return ""
		}
		return options[idx].Value
	case rec.Type == gjson.String:
		return strings.TrimSpace(rec.Str)
	case rec.IsObject():
		return firstString(rec, "value", "label")
	}
	return ""
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, key := range keys {
		if s := stringField(doc, key); s != "" {
			return s
		}
	}
	return ""
}
