package turn

import (
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/animus-coder/scribe/internal/intent"
	"github.com/animus-coder/scribe/internal/todo"
)

const todoTool = "TodoWrite"

// errNoResult is reported when the stream ends without a result and nothing else
// explains why.
var errNoResult = errors.New("agent stream ended without a result")

// consume reads the session's events until the turn is terminal. On a nil return the
// turn has an outcome.
func (c *Controller) consume(t *turnState, sess Session) error {
	sawResult := false
	draining := false

	for {
		if t.has(flagInterrupted) {
			return nil
		}
		ev, err := sess.Receive(t.ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || t.finalized() || t.has(flagAbortRequested) {
				break
			}
			c.recordTransportError("receive")
			return err
		}
		if t.has(flagInterrupted) {
			return nil
		}
		if t.has(flagAbortRequested) && !draining {
			c.interruptOnAbort(t)
			draining = true
		}
		if t.finalized() {
			draining = true
		}

		if draining {
			if rs, ok := ev.(ResultSummary); ok {
				sawResult = true
				if !t.finalized() {
					c.flushText(t)
					c.handleResult(t, rs)
				}
				break
			}
			continue
		}

		switch e := ev.(type) {
		case AssistantText:
			c.onText(t, e.Text)
		case AssistantThinking:
			c.onThinking(t, e.Text)
		case ToolUse:
			c.onToolUse(t, e)
		case ToolResult:
			c.onToolResult(t, e)
		case ResultSummary:
			sawResult = true
			c.flushText(t)
			c.handleResult(t, e)
		}
		if sawResult {
			break
		}
		if t.needsIntent() {
			c.mu.Lock()
			live := c.session
			c.mu.Unlock()
			if live != nil {
				if err := stopForIntent(t, live); err != nil {
					c.logger.Debug("interrupt after intent failed", zap.Error(err))
				}
			}
			draining = true
		}
	}

	if t.finalized() || t.has(flagInterrupted) {
		return nil
	}
	if !sawResult {
		c.flushText(t)
		switch {
		case t.reason() != "":
			c.finalizeAborted(t)
		case t.needsIntent():
			c.handleResult(t, ResultSummary{})
		default:
			return errNoResult
		}
	}
	return nil
}

func stopForIntent(t *turnState, sess Session) error {
	if st, ok := sess.(Stopper); ok {
		return st.Stop(t.ctx)
	}
	return sess.Interrupt(t.ctx)
}

func (c *Controller) onText(t *turnState, text string) {
	if text == "" {
		return
	}
	t.text.WriteString(text)
	c.scanIntent(t)
}

// scanIntent re-checks the whole buffered message, since a tag and its JSON body
// usually arrive over many fragments.
func (c *Controller) scanIntent(t *turnState) {
	full := strings.TrimSpace(t.text.String())
	if full == "" {
		return
	}
	if !t.outlineEditSeen && intent.HasOutlineEditTag(full) {
		if p, _ := intent.ExtractOutlineEdit(full); p != nil {
			c.acceptOutlineEdit(t, p)
			return
		}
	}
	if !t.clarificationSeen && intent.HasClarificationTag(full) {
		if p, _ := intent.ExtractClarification(full); p != nil {
			c.acceptClarification(t, p)
		}
	}
}

// flushText closes the current assistant message: it is logged, shown, and any intent
// tag whose payload never became valid falls back to plain text with a warning.
func (c *Controller) flushText(t *turnState) {
	full := strings.TrimSpace(t.text.String())
	t.text.Reset()
	if full == "" {
		return
	}
	if c.sessionLog != nil {
		c.sessionLog.LogAssistantText(full)
	}
	if c.processOutlineEditText(t, full, true) {
		return
	}
	if c.processClarificationText(t, full, true) {
		return
	}
	c.show(t, Notice{Kind: NoticeText, Text: full})
}

// processOutlineEditText reports whether full was consumed as an outline edit (valid or not).
func (c *Controller) processOutlineEditText(t *turnState, full string, showReply bool) bool {
	if !intent.HasOutlineEditTag(full) {
		return false
	}
	if t.outlineEditSeen {
		return true
	}
	p, errs := intent.ExtractOutlineEdit(full)
	if p != nil {
		c.acceptOutlineEdit(t, p)
		return true
	}
	c.warnInvalid(t, "Outline edit payload invalid. Falling back to plain text.", full, errs, showReply)
	return true
}

// processClarificationText reports whether full was consumed as a clarification, either
// through a tagged payload or the needs-clarification sentinel.
func (c *Controller) processClarificationText(t *turnState, full string, showReply bool) bool {
	if intent.HasClarificationTag(full) {
		if t.clarificationSeen {
			return true
		}
		p, errs := intent.ExtractClarification(full)
		if p != nil {
			c.acceptClarification(t, p)
			return true
		}
		c.warnInvalid(t, "Clarification payload invalid. Falling back to plain text.", full, errs, showReply)
		return true
	}
	cleaned, found := stripSentinel(full)
	if !found {
		return false
	}
	if cleaned != "" && showReply {
		c.show(t, Notice{Kind: NoticeText, Text: cleaned})
	}
	t.needsClarification = true
	t.clarificationSeen = true
	if cleaned != "" {
		t.clarificationNote = cleaned
	}
	return true
}

func (c *Controller) warnInvalid(t *turnState, warning, full string, errs []error, showReply bool) {
	fields := []zap.Field{zap.String("turn_id", t.id)}
	if len(errs) > 0 {
		fields = append(fields, zap.Errors("problems", errs))
	}
	c.logger.Warn(warning, fields...)
	c.show(t, Notice{Kind: NoticeWarning, Text: warning})
	if showReply {
		if body := intent.StripTag(full); body != "" {
			c.show(t, Notice{Kind: NoticeText, Text: body})
		}
	}
}

func (c *Controller) acceptClarification(t *turnState, p *intent.Clarification) {
	c.payloadMu.Lock()
	c.clarification = p
	c.payloadMu.Unlock()
	t.needsClarification = true
	t.clarificationSeen = true
	t.clarificationNote = firstNonBlank(p.Preface, p.Title, "Clarification required.")
	c.show(t, Notice{Kind: NoticeClarification, Text: t.clarificationNote, Clarification: p})
}

func (c *Controller) acceptOutlineEdit(t *turnState, p *intent.OutlineEdit) {
	c.payloadMu.Lock()
	c.outlineEdit = p
	c.payloadMu.Unlock()
	t.needsOutlineEdit = true
	t.outlineEditSeen = true
	t.outlineEditNote = firstNonBlank(p.Title, "Outline edit required.")
	c.show(t, Notice{Kind: NoticeOutlineEdit, Text: t.outlineEditNote, OutlineEdit: p})
}

func (c *Controller) onThinking(t *turnState, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if c.sessionLog != nil {
		c.sessionLog.LogAssistantThinking(text)
	}
	if intent.HasClarificationTag(text) {
		c.processClarificationText(t, strings.TrimSpace(text), false)
		return
	}
	c.show(t, Notice{Kind: NoticeThinking, Text: text})
}

func (c *Controller) onToolUse(t *turnState, e ToolUse) {
	c.flushText(t)
	t.rememberTool(e.ID, e.Name)
	if c.sessionLog != nil {
		c.sessionLog.LogToolUse(e.ID, e.Name, e.Input)
	}
	if c.metrics != nil {
		c.metrics.RecordToolUse(e.Name)
	}
	summary := shorten(string(e.Input), 400)
	if e.Name == todoTool {
		summary = todo.Summarize(e.Input)
	}
	c.show(t, Notice{Kind: NoticeToolUse, ToolID: e.ID, ToolName: e.Name, Text: summary})
	if e.Name == todoTool && c.todos.UpdateFromPayload(e.Input, "TodoWrite (input)") {
		c.show(t, Notice{Kind: NoticeTodos, Todos: c.todos.ExportItems()})
	}
}

func (c *Controller) onToolResult(t *turnState, e ToolResult) {
	c.flushText(t)
	name := t.toolName(e.ToolID)
	if c.sessionLog != nil {
		c.sessionLog.LogToolResult(e.ToolID, name, e.Content, e.IsError)
	}
	detail := shorten(e.Content, 400)
	if name == todoTool {
		detail = todo.Summarize([]byte(e.Content))
		if c.todos.UpdateFromPayload([]byte(e.Content), "TodoWrite (result)") {
			c.show(t, Notice{Kind: NoticeTodos, Todos: c.todos.ExportItems()})
		}
	}
	if detail == "" {
		detail = "No content returned."
		if e.IsError {
			detail = "No details returned."
		}
	}
	c.show(t, Notice{Kind: NoticeToolResult, ToolID: e.ToolID, ToolName: name, Text: detail, IsError: e.IsError})
}

// handleResult finalizes the turn from the agent's result. Precedence, highest first:
// aborted, needs_outline_edit, needs_clarification, error, awaiting_input, completed.
func (c *Controller) handleResult(t *turnState, rs ResultSummary) {
	if t.finalized() {
		return
	}
	text := strings.TrimSpace(rs.Text)
	if text != "" && !t.needsClarification && !t.clarificationSeen &&
		(intent.HasClarificationTag(text) || strings.Contains(text, intent.NeedsClarificationSentinel)) {
		c.processClarificationText(t, text, false)
	}
	if text != "" && !t.needsOutlineEdit && !t.outlineEditSeen && intent.HasOutlineEditTag(text) {
		c.processOutlineEditText(t, text, false)
	}
	if cleaned, found := stripSentinel(text); found {
		text = cleaned
	}

	todos := c.todos.ExportItems()
	if todos == nil {
		todos = []todo.Item{}
	}
	remaining := c.todos.RemainingMarkdown()

	var status Status
	var summary string
	switch {
	case t.reason() != "":
		status, summary = StatusAborted, t.reason()
	case t.needsOutlineEdit:
		status, summary = StatusNeedsOutlineEdit, firstNonBlank(t.outlineEditNote, text, "Outline edit required.")
	case t.needsClarification:
		status, summary = StatusNeedsClarification, firstNonBlank(t.clarificationNote, text, "Clarification required.")
	case rs.IsError:
		status, summary = StatusError, firstNonBlank(text, "Task failed")
	case remaining != "":
		status, summary = StatusAwaitingInput, firstNonBlank(text, "Awaiting input.")
	default:
		status, summary = StatusCompleted, firstNonBlank(text, "Task completed")
	}

	u := usage{costUSD: rs.CostUSD}
	if rs.DurationMS > 0 {
		d := rs.DurationMS
		u.durationMS = &d
	}
	if rs.APIDurationMS > 0 {
		a := rs.APIDurationMS
		u.apiMS = &a
	}
	c.finalize(t, Outcome{Status: status, Summary: summary, Todos: todos, RemainingTodos: remaining}, u, summary)
}

func stripSentinel(text string) (string, bool) {
	if !strings.Contains(text, intent.NeedsClarificationSentinel) {
		return text, false
	}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, intent.NeedsClarificationSentinel) {
			if cleaned := strings.TrimSpace(strings.ReplaceAll(line, intent.NeedsClarificationSentinel, "")); cleaned != "" {
				lines = append(lines, cleaned)
			}
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), true
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func shorten(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + " ..."
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
