// Package turn drives one conversational turn against a tool-using agent: it sends the
// prompt, consumes the streamed response, gates tool calls through the permission
// evaluator, recognises intent payloads, and produces exactly one Outcome per turn.
package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/animus-coder/scribe/internal/history"
	"github.com/animus-coder/scribe/internal/intent"
	"github.com/animus-coder/scribe/internal/todo"
)

// ErrTurnInProgress is reported when SendMessage is called while another turn runs.
var ErrTurnInProgress = errors.New("a turn is already in progress")

const teardownTimeout = 5 * time.Second

// Options wire a Controller to its collaborators. Transport, Prompts and Todos are
// required; everything else may be nil.
type Options struct {
	SessionID       string
	Root            string
	AllowedRoots    []string
	DeleteWhitelist []string

	Transport      Transport
	Prompts        PromptBuilder
	Todos          TodoStore
	History        HistoryLog
	SessionLog     SessionLog
	Confirmer      Confirmer
	Authorizations AuthorizationStore
	Display        Display
	Metrics        Metrics
	Logger         *zap.Logger
}

// Controller owns one agent session and runs turns on it.
type Controller struct {
	sessionID       string
	root            string
	allowedRoots    []string
	deleteWhitelist []string

	transport  Transport
	prompts    PromptBuilder
	todos      TodoStore
	history    HistoryLog
	sessionLog SessionLog
	authz      AuthorizationStore
	display    Display
	metrics    Metrics
	logger     *zap.Logger

	// mu guards the session handle. Transport calls that may block run outside it.
	mu      sync.Mutex
	session Session
	gate    *gate
	stale   bool

	confMu    sync.Mutex
	confirmer Confirmer

	current atomic.Pointer[turnState]

	payloadMu     sync.Mutex
	clarification *intent.Clarification
	outlineEdit   *intent.OutlineEdit
}

// New validates opts and builds a Controller.
func New(opts Options) (*Controller, error) {
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Prompts == nil {
		return nil, errors.New("prompt builder is required")
	}
	if opts.Todos == nil {
		return nil, errors.New("todo store is required")
	}
	if opts.Root == "" {
		return nil, errors.New("workspace root is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	roots := opts.AllowedRoots
	if len(roots) == 0 {
		roots = []string{opts.Root}
	}
	return &Controller{
		sessionID:       sessionID,
		root:            opts.Root,
		allowedRoots:    roots,
		deleteWhitelist: opts.DeleteWhitelist,
		transport:       opts.Transport,
		prompts:         opts.Prompts,
		todos:           opts.Todos,
		history:         opts.History,
		sessionLog:      opts.SessionLog,
		authz:           opts.Authorizations,
		display:         opts.Display,
		metrics:         opts.Metrics,
		confirmer:       opts.Confirmer,
		logger:          logger.With(zap.String("session_id", sessionID)),
	}, nil
}

// SessionID identifies the controller's session.
func (c *Controller) SessionID() string { return c.sessionID }

// SendMessage runs one turn and returns its Outcome. Agent-reported failures and
// transport errors are folded into the Outcome rather than returned.
func (c *Controller) SendMessage(ctx context.Context, text string, attachments []string, overrides map[string]string) Outcome {
	t := newTurnState(ctx, uuid.NewString(), text)
	defer t.cancel()
	if !c.current.CompareAndSwap(nil, t) {
		return Outcome{
			Status:         StatusError,
			Summary:        ErrTurnInProgress.Error(),
			Todos:          c.todos.ExportItems(),
			RemainingTodos: c.todos.RemainingMarkdown(),
		}
	}
	defer c.current.CompareAndSwap(t, nil)

	if c.metrics != nil {
		c.metrics.IncActiveTurns()
		defer c.metrics.DecActiveTurns()
	}
	c.resetPayloads()
	logger := c.logger.With(zap.String("turn_id", t.id))
	logger.Debug("turn started", zap.Int("attachments", len(attachments)))

	systemPrompt, err := c.prompts.SystemPrompt(t.ctx, overrides)
	if err != nil {
		return c.fail(t, fmt.Errorf("build system prompt: %w", err))
	}
	userPrompt, err := c.prompts.UserPrompt(t.ctx, text, attachments, overrides)
	if err != nil {
		return c.fail(t, fmt.Errorf("build user prompt: %w", err))
	}
	t.prompt = userPrompt
	if c.sessionLog != nil {
		c.sessionLog.LogSystemPrompt("agent", systemPrompt)
		c.sessionLog.LogUserPrompt(userPrompt)
	}
	c.appendHistory(t, history.Entry{
		Status:  "started",
		Summary: "User request",
		Prompt:  userPrompt,
		Todos:   c.todos.ExportItems(),
	})

	sess, err := c.open(t, systemPrompt, userPrompt)
	if err == nil {
		err = c.consume(t, sess)
	}
	if err != nil {
		return c.fail(t, err)
	}

	out := t.outcome.Load()
	switch out.Status {
	case StatusError, StatusAborted, StatusInterrupted:
		c.dropSession(false)
	}
	logger.Info("turn finished", zap.String("status", string(out.Status)), zap.Duration("elapsed", time.Since(t.started)))
	return *out
}

// open connects (or reuses) the session and submits the prompt.
func (c *Controller) open(t *turnState, systemPrompt, userPrompt string) (Session, error) {
	c.mu.Lock()
	var stale Session
	if c.session != nil && c.stale {
		stale, c.session, c.gate = c.session, nil, nil
	}
	c.mu.Unlock()
	c.teardown(stale, false)

	c.mu.Lock()
	defer c.mu.Unlock()

	if t.finalized() {
		return nil, context.Canceled
	}
	if c.session == nil {
		g := &gate{c: c}
		sess, err := c.transport.Connect(t.ctx, SessionOptions{
			SessionID:    c.sessionID,
			SystemPrompt: systemPrompt,
			Gate:         g,
		})
		if err != nil {
			c.recordTransportError("connect")
			return nil, fmt.Errorf("connect: %w", err)
		}
		c.session, c.gate = sess, g
		c.stale = false
	} else {
		c.session.SetSystemPrompt(systemPrompt)
	}
	c.gate.bind(t)
	if err := c.session.Query(t.ctx, userPrompt); err != nil {
		c.recordTransportError("query")
		return nil, fmt.Errorf("query: %w", err)
	}
	return c.session, nil
}

// fail turns err into the turn's Outcome unless the turn already has one.
func (c *Controller) fail(t *turnState, err error) Outcome {
	if !t.finalized() {
		c.logger.Warn("turn failed", zap.String("turn_id", t.id), zap.Error(err))
		if c.sessionLog != nil {
			c.sessionLog.LogException("agent", err)
		}
		if t.reason() != "" {
			c.finalizeAborted(t)
		} else {
			c.finalize(t, Outcome{Status: StatusError, Summary: err.Error()}, usage{}, "Session error: "+err.Error())
		}
	}
	c.dropSession(false)
	return *t.outcome.Load()
}

// Interrupt stops the running turn on behalf of the user. It is a no-op when no turn
// is in flight.
func (c *Controller) Interrupt(reason string) {
	t := c.current.Load()
	if t == nil {
		return
	}
	out := Outcome{Status: StatusInterrupted, Summary: reason}
	if !c.claim(t, &out) {
		return
	}
	t.set(flagInterrupted)
	t.cancel()
	c.dropSession(true)
	c.publish(t, out, usage{}, reason)
}

// Abort stops the running turn for a policy reason and disconnects the session. The
// turn is finalized as aborted at most once.
func (c *Controller) Abort(reason string) {
	t := c.current.Load()
	if t == nil || t.finalized() {
		return
	}
	if reason == "" {
		reason = "Aborted."
	}
	t.abortReason.CompareAndSwap(nil, &reason)
	t.set(flagAbortRequested)
	c.finalizeAborted(t)
	t.cancel()
	c.dropSession(false)
}

// Reset closes the session; the next turn reconnects.
func (c *Controller) Reset() {
	c.dropSession(false)
}

// RefreshSystemPrompt rebuilds the system prompt and applies it to the live session
// without reconnecting.
func (c *Controller) RefreshSystemPrompt(ctx context.Context) error {
	prompt, err := c.prompts.SystemPrompt(ctx, nil)
	if err != nil {
		return fmt.Errorf("build system prompt: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.SetSystemPrompt(prompt)
	}
	if c.sessionLog != nil {
		c.sessionLog.LogSystemPrompt("agent", prompt)
	}
	return nil
}

// SetConfirmer swaps the permission prompt. The gate reads it on every call, so a swap
// keeps the session; only adding or removing the prompt replaces the session before
// the next turn.
func (c *Controller) SetConfirmer(conf Confirmer) {
	c.confMu.Lock()
	changed := (c.confirmer == nil) != (conf == nil)
	c.confirmer = conf
	c.confMu.Unlock()
	if changed {
		c.mu.Lock()
		c.stale = true
		c.mu.Unlock()
	}
}

func (c *Controller) currentConfirmer() Confirmer {
	c.confMu.Lock()
	defer c.confMu.Unlock()
	return c.confirmer
}

// PopClarification returns and clears the latest clarification payload.
func (c *Controller) PopClarification() *intent.Clarification {
	c.payloadMu.Lock()
	defer c.payloadMu.Unlock()
	p := c.clarification
	c.clarification = nil
	return p
}

// PopOutlineEdit returns and clears the latest outline edit payload.
func (c *Controller) PopOutlineEdit() *intent.OutlineEdit {
	c.payloadMu.Lock()
	defer c.payloadMu.Unlock()
	p := c.outlineEdit
	c.outlineEdit = nil
	return p
}

func (c *Controller) resetPayloads() {
	c.payloadMu.Lock()
	c.clarification = nil
	c.outlineEdit = nil
	c.payloadMu.Unlock()
}

// dropSession detaches the session under the lock and closes it outside, so a run
// blocked in the gate can still reach the controller while Disconnect waits for it.
func (c *Controller) dropSession(interrupt bool) {
	c.mu.Lock()
	sess := c.session
	c.session, c.gate = nil, nil
	c.mu.Unlock()
	c.teardown(sess, interrupt)
}

// teardown closes sess, logging and swallowing transport errors.
func (c *Controller) teardown(sess Session, interrupt bool) {
	if sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if interrupt {
		if err := sess.Interrupt(ctx); err != nil {
			c.logger.Debug("session interrupt failed", zap.Error(err))
		}
	}
	if err := sess.Disconnect(ctx); err != nil {
		c.logger.Debug("session disconnect failed", zap.Error(err))
	}
}

// interruptOnAbort asks the transport to stop once per turn after an abort request.
func (c *Controller) interruptOnAbort(t *turnState) {
	if !t.set(flagAbortInterruptSent) {
		return
	}
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := sess.Interrupt(ctx); err != nil {
		c.logger.Debug("session interrupt failed", zap.Error(err))
	}
}

type usage struct {
	durationMS *int64
	apiMS      *int64
	costUSD    *float64
}

// claim records out as the turn's outcome, filling in the todo snapshot when the caller
// did not. It reports false when the turn already has an outcome.
func (c *Controller) claim(t *turnState, out *Outcome) bool {
	if t.finalized() {
		return false
	}
	if out.Todos == nil {
		out.Todos = c.todos.ExportItems()
		if out.Todos == nil {
			out.Todos = []todo.Item{}
		}
		out.RemainingTodos = c.todos.RemainingMarkdown()
	}
	stored := *out
	return t.outcome.CompareAndSwap(nil, &stored)
}

// publish applies the side effects of a claimed outcome.
func (c *Controller) publish(t *turnState, out Outcome, u usage, historySummary string) {
	if out.Status == StatusCompleted || out.Status == StatusAborted {
		c.todos.SetItems(nil, string(out.Status))
	}
	c.appendHistory(t, history.Entry{
		Status:        string(out.Status),
		Summary:       historySummary,
		Todos:         out.Todos,
		DurationMS:    u.durationMS,
		APIDurationMS: u.apiMS,
		CostUSD:       u.costUSD,
	})
	elapsed := time.Since(t.started)
	if c.sessionLog != nil {
		c.sessionLog.LogResult(string(out.Status), out.Summary, elapsed)
	}
	if c.metrics != nil {
		c.metrics.RecordTurn(string(out.Status), elapsed)
	}
	c.show(t, Notice{Kind: NoticeOutcome, Outcome: &out})
}

func (c *Controller) finalize(t *turnState, out Outcome, u usage, historySummary string) bool {
	if !c.claim(t, &out) {
		return false
	}
	c.publish(t, out, u, historySummary)
	return true
}

func (c *Controller) finalizeAborted(t *turnState) {
	reason := t.reason()
	if reason == "" {
		reason = "Aborted."
	}
	c.finalize(t, Outcome{Status: StatusAborted, Summary: reason}, usage{}, reason)
}

func (c *Controller) appendHistory(t *turnState, e history.Entry) {
	if c.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), teardownTimeout)
	defer cancel()
	if _, err := c.history.Append(ctx, e); err != nil {
		c.logger.Warn("append history failed", zap.String("turn_id", t.id), zap.Error(err))
	}
}

func (c *Controller) show(t *turnState, n Notice) {
	if c.display == nil {
		return
	}
	n.TurnID = t.id
	c.display.Show(n)
}

func (c *Controller) recordTransportError(stage string) {
	if c.metrics != nil {
		c.metrics.RecordTransportError(stage)
	}
}
