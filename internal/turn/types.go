package turn

import (
	"encoding/json"

	"github.com/animus-coder/scribe/internal/intent"
	"github.com/animus-coder/scribe/internal/todo"
)

// Status is the terminal state of a turn. The string values are a stable contract with
// callers that map them to exit codes.
type Status string

const (
	StatusCompleted          Status = "completed"
	StatusError              Status = "error"
	StatusInterrupted        Status = "interrupted"
	StatusAborted            Status = "aborted"
	StatusNeedsClarification Status = "needs_clarification"
	StatusNeedsOutlineEdit   Status = "needs_outline_edit"
	StatusAwaitingInput      Status = "awaiting_input"
)

// Outcome is the immutable result of one turn.
type Outcome struct {
	Status         Status      `json:"status"`
	Summary        string      `json:"summary"`
	Todos          []todo.Item `json:"todos"`
	RemainingTodos string      `json:"remaining_todos,omitempty"`
}

// Event is one item of the transport's response stream.
type Event interface {
	isEvent()
}

// AssistantText is a fragment of assistant output. Consecutive fragments concatenate.
type AssistantText struct {
	Text string
}

// AssistantThinking is a block of assistant reasoning.
type AssistantThinking struct {
	Text string
}

// ToolUse announces a tool call made by the agent.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult carries the output of an earlier tool call.
type ToolResult struct {
	ToolID  string
	Content string
	IsError bool
}

// ResultSummary terminates a turn's stream.
type ResultSummary struct {
	Text          string
	IsError       bool
	CostUSD       *float64
	DurationMS    int64
	APIDurationMS int64
}

func (AssistantText) isEvent()     {}
func (AssistantThinking) isEvent() {}
func (ToolUse) isEvent()           {}
func (ToolResult) isEvent()        {}
func (ResultSummary) isEvent()     {}

// ToolCall is what the transport asks the gate about before executing a tool.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// GateDecision answers a ToolCall. When Allow is false, Message is reported to the
// agent as the tool error; Interrupt asks the transport to stop producing output.
type GateDecision struct {
	Allow     bool
	Message   string
	Interrupt bool
}

// PermissionRequest is shown to a human when a tool call needs confirmation.
type PermissionRequest struct {
	Title    string   `json:"title"`
	Reason   string   `json:"reason"`
	ToolName string   `json:"tool_name"`
	Targets  []string `json:"targets,omitempty"`
}

// Decision is the human's answer to a PermissionRequest.
type Decision struct {
	Allow    bool   `json:"allow"`
	Remember bool   `json:"remember"`
	Message  string `json:"message,omitempty"`
}

// NoticeKind classifies display notices.
type NoticeKind string

const (
	NoticeText          NoticeKind = "text"
	NoticeThinking      NoticeKind = "thinking"
	NoticeToolUse       NoticeKind = "tool_use"
	NoticeToolResult    NoticeKind = "tool_result"
	NoticeTodos         NoticeKind = "todos"
	NoticeWarning       NoticeKind = "warning"
	NoticeClarification NoticeKind = "clarification"
	NoticeOutlineEdit   NoticeKind = "outline_edit"
	NoticeOutcome       NoticeKind = "outcome"
)

// Notice is a display event. Only the fields relevant to Kind are set.
type Notice struct {
	Kind          NoticeKind            `json:"kind"`
	TurnID        string                `json:"turn_id,omitempty"`
	Text          string                `json:"text,omitempty"`
	ToolID        string                `json:"tool_id,omitempty"`
	ToolName      string                `json:"tool_name,omitempty"`
	IsError       bool                  `json:"is_error,omitempty"`
	Todos         []todo.Item           `json:"todos,omitempty"`
	Clarification *intent.Clarification `json:"clarification,omitempty"`
	OutlineEdit   *intent.OutlineEdit   `json:"outline_edit,omitempty"`
	Outcome       *Outcome              `json:"outcome,omitempty"`
}
