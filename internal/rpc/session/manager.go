// Package session serves turns over HTTP. A Manager keeps one turn.Controller per
// session id; the NDJSON and Connect handlers route each turn's notices and permission
// prompts to the request that started it.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/animus-coder/scribe/internal/rpc"
	"github.com/animus-coder/scribe/internal/turn"
)

// Factory builds the controller for a new session. display must be passed through to
// turn.Options.Display.
type Factory func(sessionID string, display turn.Display) (*turn.Controller, error)

// Hooks route one turn's output back to its caller.
type Hooks struct {
	Display   func(turn.Notice)
	Confirmer turn.Confirmer
}

// Manager owns the live sessions.
type Manager struct {
	factory Factory
	logger  *zap.Logger

	// ConfirmPolicy, when set, maps each turn's confirmer before it is installed.
	ConfirmPolicy func(turn.Confirmer) turn.Confirmer

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	ctrl *turn.Controller

	mu   sync.Mutex
	busy bool
	sink func(turn.Notice)
}

func (e *entry) Show(n turn.Notice) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink != nil {
		sink(n)
	}
}

// NewManager constructs a manager.
func NewManager(factory Factory, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{factory: factory, logger: logger, sessions: map[string]*entry{}}
}

// NewSessionID returns a fresh, sortable session id.
func NewSessionID() string {
	return strings.ToLower(ulid.Make().String())
}

// Run executes one turn on req.SessionID, creating the session on first use. The turn
// is interrupted when ctx ends.
func (m *Manager) Run(ctx context.Context, req rpc.TurnRequest, hooks Hooks) (turn.Outcome, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return turn.Outcome{}, errors.New("session id is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return turn.Outcome{}, errors.New("prompt is required")
	}
	e, err := m.get(req.SessionID)
	if err != nil {
		return turn.Outcome{}, err
	}

	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return turn.Outcome{}, turn.ErrTurnInProgress
	}
	e.busy = true
	e.sink = hooks.Display
	e.mu.Unlock()
	confirmer := hooks.Confirmer
	if m.ConfirmPolicy != nil {
		confirmer = m.ConfirmPolicy(confirmer)
	}
	// The confirmer stays set after the turn; the gate only consults it while a turn
	// is bound, and keeping it avoids replacing the session on every turn.
	e.ctrl.SetConfirmer(confirmer)

	defer func() {
		e.mu.Lock()
		e.busy = false
		e.sink = nil
		e.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() { e.ctrl.Interrupt("Client disconnected.") })
	defer stop()

	// Only Interrupt ends the turn early, so the outcome says why it stopped.
	return e.ctrl.SendMessage(context.WithoutCancel(ctx), req.Prompt, req.Attachments, req.Overrides), nil
}

// Interrupt stops the running turn of a session. It reports whether the session exists.
func (m *Manager) Interrupt(sessionID, reason string) bool {
	e := m.lookup(sessionID)
	if e == nil {
		return false
	}
	if reason == "" {
		reason = "Interrupted by user."
	}
	e.ctrl.Interrupt(reason)
	return true
}

// Abort stops the running turn of a session for a policy reason.
func (m *Manager) Abort(sessionID, reason string) bool {
	e := m.lookup(sessionID)
	if e == nil {
		return false
	}
	e.ctrl.Abort(reason)
	return true
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close interrupts running turns and disconnects every session.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.sessions = map[string]*entry{}
	m.mu.Unlock()

	for _, e := range entries {
		e.ctrl.Interrupt("Server shutting down.")
		e.ctrl.Reset()
	}
}

func (m *Manager) lookup(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *Manager) get(id string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		return e, nil
	}
	e := &entry{}
	ctrl, err := m.factory(id, e)
	if err != nil {
		return nil, err
	}
	e.ctrl = ctrl
	m.sessions[id] = e
	m.logger.Info("session created", zap.String("session_id", id))
	return e, nil
}
