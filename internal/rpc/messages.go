package rpc

import "github.com/animus-coder/scribe/internal/turn"

// TurnRequest starts one turn on a session. An empty SessionID starts a new session.
type TurnRequest struct {
	SessionID   string            `json:"session_id"`
	Prompt      string            `json:"prompt"`
	Attachments []string          `json:"attachments,omitempty"`
	Overrides   map[string]string `json:"overrides,omitempty"`
}

// TurnStreamRequest is the client half of the Connect bidi stream. The first message
// must carry Turn; later messages carry control signals for that turn.
type TurnStreamRequest struct {
	Turn       *TurnRequest     `json:"turn,omitempty"`
	Interrupt  bool             `json:"interrupt,omitempty"`
	Abort      string           `json:"abort,omitempty"`
	Permission *PermissionReply `json:"permission,omitempty"`
}

// PermissionReply answers a PermissionPrompt.
type PermissionReply struct {
	RequestID string `json:"request_id"`
	Allow     bool   `json:"allow"`
	Remember  bool   `json:"remember,omitempty"`
	Message   string `json:"message,omitempty"`
}

// PermissionPrompt asks the client to approve a tool call.
type PermissionPrompt struct {
	RequestID string `json:"request_id"`
	turn.PermissionRequest
}

// Event types.
const (
	EventNotice     = "notice"
	EventPermission = "permission"
	EventOutcome    = "outcome"
	EventError      = "error"
)

// TurnEvent streams back progress from the daemon.
type TurnEvent struct {
	Type       string            `json:"type"` // notice|permission|outcome|error
	SessionID  string            `json:"session_id,omitempty"`
	Notice     *turn.Notice      `json:"notice,omitempty"`
	Permission *PermissionPrompt `json:"permission,omitempty"`
	Outcome    *turn.Outcome     `json:"outcome,omitempty"`
	Error      string            `json:"error,omitempty"`
}
