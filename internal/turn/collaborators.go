package turn

import (
	"context"
	"encoding/json"
	"time"

	"github.com/animus-coder/scribe/internal/history"
	"github.com/animus-coder/scribe/internal/todo"
)

// Transport opens agent sessions.
type Transport interface {
	Connect(ctx context.Context, opts SessionOptions) (Session, error)
}

// SessionOptions configure a new session.
type SessionOptions struct {
	SessionID    string
	SystemPrompt string
	// Gate must be consulted before every tool execution. Nil allows everything.
	Gate ToolGate
}

// Session is a live connection to the agent.
//
// Query must return once the prompt is submitted; tool gating happens while events are
// being received, never inside Query. Receive returns io.EOF after the last event of a
// turn. Interrupt and Disconnect must tolerate being called on a closed session.
type Session interface {
	Query(ctx context.Context, prompt string) error
	Receive(ctx context.Context) (Event, error)
	Interrupt(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SetSystemPrompt(prompt string)
}

// Stopper is implemented by sessions that can end a run early while keeping the
// exchange so far. The controller stops, rather than interrupts, a run whose reply
// turned out to be a clarification or outline-edit request, so the next turn answers
// it in the same conversation.
type Stopper interface {
	Stop(ctx context.Context) error
}

// ToolGate decides whether the transport may run a tool call.
type ToolGate interface {
	Allow(ctx context.Context, call ToolCall) GateDecision
}

// TodoStore is the shared task list.
type TodoStore interface {
	UpdateFromPayload(payload []byte, source string) bool
	ExportItems() []todo.Item
	RemainingMarkdown() string
	SetItems(items []todo.Item, source string)
}

// HistoryLog records turn outcomes.
type HistoryLog interface {
	Append(ctx context.Context, e history.Entry) (history.Entry, error)
}

// SessionLog is a best-effort debug trace. Implementations must never block a turn.
type SessionLog interface {
	LogSystemPrompt(source, text string)
	LogUserPrompt(text string)
	LogAssistantText(text string)
	LogAssistantThinking(text string)
	LogToolUse(id, name string, input json.RawMessage)
	LogToolResult(id, name, content string, isError bool)
	LogResult(status, summary string, duration time.Duration)
	LogException(source string, err error)
}

// Confirmer asks a human to approve a tool call. It may block indefinitely and must
// return when ctx is cancelled.
type Confirmer interface {
	Ask(ctx context.Context, req PermissionRequest) (Decision, error)
}

// AuthorizationStore remembers paths a human approved for a tool.
type AuthorizationStore interface {
	IsAuthorized(tool string, targets []string) bool
	AddAuthorizations(tool string, paths []string) error
}

// PromptBuilder renders the prompts for a turn. Overrides adjust prompt inputs for a
// single turn.
type PromptBuilder interface {
	SystemPrompt(ctx context.Context, overrides map[string]string) (string, error)
	UserPrompt(ctx context.Context, text string, attachments []string, overrides map[string]string) (string, error)
}

// Display receives notices for rendering.
type Display interface {
	Show(n Notice)
}

// Metrics records turn-level measurements.
type Metrics interface {
	RecordTurn(status string, d time.Duration)
	RecordPermissionCheck(tool, decision string)
	RecordToolUse(tool string)
	RecordTransportError(stage string)
	IncActiveTurns()
	DecActiveTurns()
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(Notice)

// Show calls f(n).
func (f DisplayFunc) Show(n Notice) { f(n) }

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, req PermissionRequest) (Decision, error)

// Ask calls f(ctx, req).
func (f ConfirmFunc) Ask(ctx context.Context, req PermissionRequest) (Decision, error) {
	return f(ctx, req)
}
