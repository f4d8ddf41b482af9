package intent

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestExtractClarificationRecommendedIndex(t *testing.T) {
	text := ClarificationTag + "\n" +
		`{"response_type":"clarification","title":"T","questions":[{"id":"q1","question":"Pick","options":["A","B"],"recommended":1}]}`

	payload, errs := ExtractClarification(text)
	require.Empty(t, errs)
	require.NotNil(t, payload)

	want := &Clarification{
		Title: "T",
		Questions: []Question{{
			ID:               "q1",
			Text:             "Pick",
			Options:          []Option{{Label: "A", Value: "A"}, {Label: "B", Value: "B"}},
			RecommendedValue: "B",
		}},
	}
	if diff := cmp.Diff(want, payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, RecommendedIndex(payload.Questions[0]))
}

func TestExtractClarificationWithoutTag(t *testing.T) {
	payload, errs := ExtractClarification("Here is the report you asked for.")
	require.Nil(t, payload)
	require.Empty(t, errs)
}

func TestExtractClarificationTagMustBeFirstLine(t *testing.T) {
	text := "Some preamble\n" + ClarificationTag + "\n{}"
	payload, errs := ExtractClarification(text)
	require.Nil(t, payload)
	require.Empty(t, errs)
}

func TestExtractClarificationFenced(t *testing.T) {
	text := "```\n" + ClarificationTag + "\n```json\n" +
		`{"response_type":"clarification","title":"Audience","preface":" Before I start ","questions":[` +
		`{"question_id":7,"prompt":"Who reads this?","options":[{"label":"Engineers","value":"eng"},{"label":"Managers"}],"recommended":{"label":"Managers"}}]}` +
		"\n```\n```"

	payload, errs := ExtractClarification(text)
	require.Empty(t, errs)
	require.NotNil(t, payload)
	require.Equal(t, "Before I start", payload.Preface)

	q := payload.Questions[0]
	require.Equal(t, "7", q.ID)
	require.Equal(t, "Who reads this?", q.Text)
	require.Equal(t, []Option{{Label: "Engineers", Value: "eng"}, {Label: "Managers", Value: "Managers"}}, q.Options)
	require.Equal(t, 1, RecommendedIndex(q))
}

func TestExtractClarificationLooseFields(t *testing.T) {
	text := ClarificationTag + "\n" +
		`{"response_type":"clarification","title":"T","questions":[` +
		`{"question":"Name?","allow_freeform":true,"placeholder":"type here"},` +
		`{"question":"Tone?","options":["formal","casual"],"recommended":"casual"},` +
		`{"question":"Length?","options":["short"],"recommended":5}]}`

	payload, errs := ExtractClarification(text)
	require.Empty(t, errs)
	require.Len(t, payload.Questions, 3)

	require.Equal(t, "Name?", payload.Questions[0].ID)
	require.Empty(t, payload.Questions[0].Options)
	require.True(t, payload.Questions[0].AllowFreeform)
	require.Equal(t, "type here", payload.Questions[0].Placeholder)

	require.Equal(t, 1, RecommendedIndex(payload.Questions[1]))

	require.Empty(t, payload.Questions[2].RecommendedValue)
	require.Equal(t, 0, RecommendedIndex(payload.Questions[2]))
}

func TestExtractClarificationErrors(t *testing.T) {
	cases := map[string]string{
		"empty body":     ClarificationTag,
		"invalid json":   ClarificationTag + "\n{not json",
		"not an object":  ClarificationTag + "\n[1,2]",
		"empty title":    ClarificationTag + "\n" + `{"response_type":"clarification","title":" ","questions":[{"question":"q","options":["a"]}]}`,
		"no questions":   ClarificationTag + "\n" + `{"response_type":"clarification","title":"T","questions":[]}`,
		"no options":     ClarificationTag + "\n" + `{"response_type":"clarification","title":"T","questions":[{"question":"q"}]}`,
		"blank question": ClarificationTag + "\n" + `{"response_type":"clarification","title":"T","questions":[{"question":"","options":["a"]}]}`,
		"bad option":     ClarificationTag + "\n" + `{"response_type":"clarification","title":"T","questions":[{"question":"q","options":[{"value":"x"}]}]}`,
		"wrong type":     ClarificationTag + "\n" + `{"response_type":"outline_edit","title":"T","questions":[{"question":"q","options":["a"]}]}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			payload, errs := ExtractClarification(text)
			require.Nil(t, payload)
			require.NotEmpty(t, errs)
		})
	}
}

func TestExtractClarificationErrorMessages(t *testing.T) {
	_, errs := ExtractClarification(ClarificationTag + "\n{oops")
	require.Len(t, errs, 1)
	require.Equal(t, "Clarification payload is not valid JSON.", errs[0].Error())

	_, errs = ExtractClarification(ClarificationTag + "\n```\n```")
	require.Len(t, errs, 1)
	require.Equal(t, "No JSON payload found after clarification tag.", errs[0].Error())

	_, errs = ExtractClarification(ClarificationTag + "\n" + `{"response_type":"clarification","title":"T","questions":[{"question":"q","options":[3]}]}`)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "questions.0.options.0")
}

func TestRecommendedIndexDefaults(t *testing.T) {
	q := Question{Options: []Option{{Label: "a", Value: "a"}}}
	require.Equal(t, 0, RecommendedIndex(q))
	q.RecommendedValue = "missing"
	require.Equal(t, 0, RecommendedIndex(q))
	require.Equal(t, 0, RecommendedIndex(Question{RecommendedValue: "x"}))
}

func TestExtractOutlineEdit(t *testing.T) {
	text := OutlineEditTag + "\n```json\n" +
		`{"response_type":"outline_edit","title":"Draft","outline_text":"# Intro\n- point"}` + "\n```"
	payload, errs := ExtractOutlineEdit(text)
	require.Empty(t, errs)
	require.Equal(t, &OutlineEdit{Title: "Draft", OutlineText: "# Intro\n- point"}, payload)
}

func TestExtractOutlineEditStrict(t *testing.T) {
	payload, errs := ExtractOutlineEdit("no tag here")
	require.Nil(t, payload)
	require.Empty(t, errs)

	payload, errs = ExtractOutlineEdit(OutlineEditTag + "\n{bad")
	require.Nil(t, payload)
	require.Equal(t, "Outline edit payload is not valid JSON.", errs[0].Error())

	payload, errs = ExtractOutlineEdit(OutlineEditTag + "\n" + `{"response_type":"outline_edit","title":"T","outline_text":"   "}`)
	require.Nil(t, payload)
	require.Equal(t, "Outline edit payload is missing required fields.", errs[0].Error())

	payload, errs = ExtractOutlineEdit(OutlineEditTag + "\n" + `"just a string"`)
	require.Nil(t, payload)
	require.Equal(t, "Outline edit payload must be a JSON object.", errs[0].Error())
}

func TestStripTag(t *testing.T) {
	require.Equal(t, "body text", StripTag(ClarificationTag+"\nbody text"))
	require.Equal(t, "plain", StripTag("plain"))
	require.True(t, HasOutlineEditTag("\n\n"+OutlineEditTag+"\n{}"))
	require.False(t, HasClarificationTag(OutlineEditTag))
}
