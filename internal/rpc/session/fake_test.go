package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/animus-coder/scribe/internal/todo"
	"github.com/animus-coder/scribe/internal/turn"
)

// script drives one query of a scriptSession.
type script func(ctx context.Context, gate turn.ToolGate, emit func(turn.Event) bool)

type scriptTransport struct {
	script   script
	connects atomic.Int32
}

func (s *scriptTransport) Connect(_ context.Context, opts turn.SessionOptions) (turn.Session, error) {
	s.connects.Add(1)
	return &scriptSession{script: s.script, gate: opts.Gate}, nil
}

type scriptSession struct {
	script script
	gate   turn.ToolGate

	mu     sync.Mutex
	events chan turn.Event
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *scriptSession) Query(_ context.Context, _ string) error {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan turn.Event, 16)
	done := make(chan struct{})
	s.mu.Lock()
	s.events, s.cancel, s.done = events, cancel, done
	s.mu.Unlock()
	go func() {
		defer close(done)
		defer close(events)
		s.script(ctx, s.gate, func(ev turn.Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return nil
}

func (s *scriptSession) Receive(ctx context.Context) (turn.Event, error) {
	s.mu.Lock()
	events := s.events
	s.mu.Unlock()
	select {
	case ev, ok := <-events:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *scriptSession) Interrupt(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *scriptSession) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

func (s *scriptSession) SetSystemPrompt(string) {}

type plainPrompts struct{}

func (plainPrompts) SystemPrompt(context.Context, map[string]string) (string, error) {
	return "system", nil
}

func (plainPrompts) UserPrompt(_ context.Context, text string, _ []string, _ map[string]string) (string, error) {
	return text, nil
}

func replyScript(text string) script {
	return func(_ context.Context, _ turn.ToolGate, emit func(turn.Event) bool) {
		if emit(turn.AssistantText{Text: text}) {
			emit(turn.ResultSummary{Text: text})
		}
	}
}

// outsideWriteScript asks to write outside the workspace, then finishes if allowed.
func outsideWriteScript(ctx context.Context, gate turn.ToolGate, emit func(turn.Event) bool) {
	input := json.RawMessage(`{"file_path":"/outside-scribe-workspace/a.md","content":"x"}`)
	if !emit(turn.ToolUse{ID: "t1", Name: "Write", Input: input}) {
		return
	}
	d := gate.Allow(ctx, turn.ToolCall{ID: "t1", Name: "Write", Input: input})
	if !d.Allow {
		emit(turn.ToolResult{ToolID: "t1", Content: d.Message, IsError: true})
		return
	}
	if emit(turn.ToolResult{ToolID: "t1", Content: "ok"}) {
		emit(turn.ResultSummary{Text: "Saved."})
	}
}

// blockingScript announces a tool call and waits for cancellation.
func blockingScript(ctx context.Context, _ turn.ToolGate, emit func(turn.Event) bool) {
	if emit(turn.ToolUse{ID: "t0", Name: "Grep", Input: json.RawMessage(`{"pattern":"x"}`)}) {
		<-ctx.Done()
	}
}

func newManager(t *testing.T, s script) *Manager {
	m, _ := newCountingManager(t, s)
	return m
}

// newCountingManager also returns the transport shared by every session, so tests can
// count connects.
func newCountingManager(t *testing.T, s script) (*Manager, *scriptTransport) {
	t.Helper()
	root := t.TempDir()
	tr := &scriptTransport{script: s}
	return NewManager(func(id string, display turn.Display) (*turn.Controller, error) {
		return turn.New(turn.Options{
			SessionID: id,
			Root:      root,
			Transport: tr,
			Prompts:   plainPrompts{},
			Todos:     todo.NewStore(),
			Display:   display,
		})
	}, nil), tr
}

func requireStatus(t *testing.T, want turn.Status, out turn.Outcome) {
	t.Helper()
	require.Equal(t, want, out.Status, "summary: %s", out.Summary)
}
