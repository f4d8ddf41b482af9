package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/animus-coder/scribe/internal/intent"
	"github.com/animus-coder/scribe/internal/todo"
	"github.com/animus-coder/scribe/internal/turn"
)

const maxResultLines = 6

// console renders notices for a terminal.
type console struct {
	mu  sync.Mutex
	out io.Writer

	dim   *color.Color
	tool  *color.Color
	warn  *color.Color
	good  *color.Color
	bad   *color.Color
	title *color.Color
}

func newConsole(out io.Writer) *console {
	return &console{
		out:   out,
		dim:   color.New(color.Faint),
		tool:  color.New(color.FgCyan, color.Bold),
		warn:  color.New(color.FgYellow),
		good:  color.New(color.FgGreen, color.Bold),
		bad:   color.New(color.FgRed, color.Bold),
		title: color.New(color.Bold),
	}
}

func (c *console) Show(n turn.Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch n.Kind {
	case turn.NoticeText:
		fmt.Fprintln(c.out, strings.TrimRight(n.Text, "\n"))
	case turn.NoticeThinking:
		c.dim.Fprintln(c.out, strings.TrimSpace(n.Text))
	case turn.NoticeToolUse:
		c.tool.Fprintf(c.out, "● %s", n.ToolName)
		fmt.Fprintf(c.out, " %s\n", n.Text)
	case turn.NoticeToolResult:
		c.showResult(n)
	case turn.NoticeTodos:
		if md := todo.FormatMarkdown(n.Todos); md != "" {
			c.title.Fprintln(c.out, "Todos")
			fmt.Fprintln(c.out, md)
		}
	case turn.NoticeWarning:
		c.warn.Fprintf(c.out, "! %s\n", n.Text)
	case turn.NoticeClarification:
		c.showClarification(n.Clarification)
	case turn.NoticeOutlineEdit:
		if n.OutlineEdit != nil {
			c.title.Fprintln(c.out, n.OutlineEdit.Title)
			fmt.Fprintln(c.out, n.OutlineEdit.OutlineText)
		}
	case turn.NoticeOutcome:
		if n.Outcome != nil {
			c.showOutcome(*n.Outcome)
		}
	}
}

func (c *console) showResult(n turn.Notice) {
	lines := strings.Split(strings.TrimRight(n.Text, "\n"), "\n")
	if len(lines) > maxResultLines {
		more := len(lines) - maxResultLines
		lines = append(lines[:maxResultLines], fmt.Sprintf("... %d more lines", more))
	}
	paint := c.dim
	if n.IsError {
		paint = c.warn
	}
	for i, line := range lines {
		prefix := "    "
		if i == 0 {
			prefix = "  ⎿ "
		}
		paint.Fprintln(c.out, prefix+line)
	}
}

func (c *console) showClarification(cl *intent.Clarification) {
	if cl == nil {
		return
	}
	c.title.Fprintln(c.out, cl.Title)
	if cl.Preface != "" {
		fmt.Fprintln(c.out, cl.Preface)
	}
	for i, q := range cl.Questions {
		fmt.Fprintf(c.out, "%d. %s\n", i+1, q.Text)
		rec := intent.RecommendedIndex(q)
		for j, opt := range q.Options {
			label := opt.Label
			if j == rec {
				label += " (recommended)"
			}
			fmt.Fprintf(c.out, "   %c) %s\n", 'a'+rune(j), label)
		}
		if q.AllowFreeform {
			hint := q.Placeholder
			if hint == "" {
				hint = "free text"
			}
			c.dim.Fprintf(c.out, "   or answer in your own words (%s)\n", hint)
		}
	}
}

func (c *console) showOutcome(out turn.Outcome) {
	paint := c.warn
	switch out.Status {
	case turn.StatusCompleted:
		paint = c.good
	case turn.StatusError, turn.StatusAborted:
		paint = c.bad
	}
	paint.Fprintf(c.out, "[%s]", out.Status)
	if out.Summary != "" {
		fmt.Fprintf(c.out, " %s", out.Summary)
	}
	fmt.Fprintln(c.out)
	if out.RemainingTodos != "" {
		fmt.Fprintln(c.out, out.RemainingTodos)
	}
}

// promptConfirmer asks on the terminal. Answers: y (allow once), a (allow and
// remember), anything else denies.
type promptConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	return &promptConfirmer{in: bufio.NewReader(in), out: out}
}

func (p *promptConfirmer) Ask(ctx context.Context, req turn.PermissionRequest) (turn.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	color.New(color.FgYellow, color.Bold).Fprintln(p.out, req.Title)
	fmt.Fprintln(p.out, req.Reason)
	for _, target := range req.Targets {
		fmt.Fprintf(p.out, "  %s\n", target)
	}
	fmt.Fprint(p.out, "Allow? [y]es / [a]lways / [N]o: ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	// A cancelled prompt leaves this read pending; run exits after one turn.
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return turn.Decision{}, ctx.Err()
	case a := <-ch:
		if a.err != nil && strings.TrimSpace(a.line) == "" {
			return turn.Decision{}, fmt.Errorf("read answer: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return turn.Decision{Allow: true}, nil
		case "a", "always":
			return turn.Decision{Allow: true, Remember: true}, nil
		default:
			return turn.Decision{}, nil
		}
	}
}
