package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/animus-coder/scribe/internal/history"
	"github.com/animus-coder/scribe/internal/todo"
)

// script plays one turn against a fakeSession. It runs on its own goroutine, like a
// real transport's reader.
type script func(ctx context.Context, s *fakeSession)

type fakeTransport struct {
	mu       sync.Mutex
	scripts  []script
	sessions []*fakeSession
	connErr  error
	// stoppable makes Connect return sessions that implement Stopper.
	stoppable bool
}

func (f *fakeTransport) Connect(ctx context.Context, opts SessionOptions) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connErr != nil {
		err := f.connErr
		f.connErr = nil
		return nil, err
	}
	s := &fakeSession{transport: f, gate: opts.Gate, system: opts.SystemPrompt}
	f.sessions = append(f.sessions, s)
	if f.stoppable {
		return stoppableSession{s}, nil
	}
	return s, nil
}

func (f *fakeTransport) push(sc ...script) {
	f.mu.Lock()
	f.scripts = append(f.scripts, sc...)
	f.mu.Unlock()
}

func (f *fakeTransport) next() script {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scripts) == 0 {
		return func(context.Context, *fakeSession) {}
	}
	sc := f.scripts[0]
	f.scripts = f.scripts[1:]
	return sc
}

func (f *fakeTransport) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeTransport) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[len(f.sessions)-1]
}

type fakeSession struct {
	transport *fakeTransport
	gate      ToolGate

	mu      sync.Mutex
	system  string
	queries []string
	events  chan Event
	cancel  context.CancelFunc
	done    chan struct{}

	interrupts  atomic.Int32
	disconnects atomic.Int32
	stops       atomic.Int32

	// when set, Disconnect closes entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

// holdDisconnect makes the next Disconnect block until the returned release is closed.
func (s *fakeSession) holdDisconnect() (entered, release chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entered, s.release = make(chan struct{}), make(chan struct{})
	return s.entered, s.release
}

type stoppableSession struct {
	*fakeSession
}

func (s stoppableSession) Stop(ctx context.Context) error {
	s.stops.Add(1)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *fakeSession) Query(ctx context.Context, prompt string) error {
	sc := s.transport.next()
	runCtx, cancel := context.WithCancel(context.Background())
	events := make(chan Event, 64)
	done := make(chan struct{})

	s.mu.Lock()
	s.queries = append(s.queries, prompt)
	s.events = events
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer close(events)
		sc(runCtx, s)
	}()
	return nil
}

func (s *fakeSession) Receive(ctx context.Context) (Event, error) {
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

func (s *fakeSession) Interrupt(context.Context) error {
	s.interrupts.Add(1)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *fakeSession) Disconnect(ctx context.Context) error {
	s.disconnects.Add(1)
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	entered, release := s.entered, s.release
	s.entered, s.release = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if entered != nil {
		close(entered)
		<-release
	}
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSession) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	s.system = prompt
	s.mu.Unlock()
}

func (s *fakeSession) currentEvents() chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// emit delivers ev unless the run was interrupted.
func (s *fakeSession) emit(ctx context.Context, events ...Event) bool {
	ch := s.currentEvents()
	for _, ev := range events {
		if ctx.Err() != nil {
			return false
		}
		ch <- ev
	}
	return true
}

// tool asks the gate and, when allowed, reports the call and its result.
func (s *fakeSession) tool(ctx context.Context, id, name string, input any, result string) bool {
	raw, _ := json.Marshal(input)
	d := GateDecision{Allow: true}
	if s.gate != nil {
		d = s.gate.Allow(ctx, ToolCall{ID: id, Name: name, Input: raw})
	}
	if !d.Allow {
		if !d.Interrupt {
			return s.emit(ctx, ToolUse{ID: id, Name: name, Input: raw}, ToolResult{ToolID: id, Content: d.Message, IsError: true})
		}
		return false
	}
	return s.emit(ctx, ToolUse{ID: id, Name: name, Input: raw}, ToolResult{ToolID: id, Content: result})
}

type fakePrompts struct{}

func (fakePrompts) SystemPrompt(context.Context, map[string]string) (string, error) {
	return "system", nil
}

func (fakePrompts) UserPrompt(_ context.Context, text string, _ []string, _ map[string]string) (string, error) {
	return text, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (h *fakeHistory) Append(_ context.Context, e history.Entry) (history.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e.ID = fmt.Sprintf("%d", len(h.entries)+1)
	h.entries = append(h.entries, e)
	return e, nil
}

func (h *fakeHistory) statuses() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, e.Status)
	}
	return out
}

type fakeAuthz struct {
	mu      sync.Mutex
	allow   bool
	tool    string
	targets []string
}

func (a *fakeAuthz) IsAuthorized(string, []string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allow
}

func (a *fakeAuthz) AddAuthorizations(tool string, paths []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tool = tool
	a.targets = append([]string(nil), paths...)
	return nil
}

type recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recorder) Show(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *recorder) kinds(kind NoticeKind) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type fixture struct {
	c         *Controller
	transport *fakeTransport
	todos     *todo.Store
	history   *fakeHistory
	authz     *fakeAuthz
	display   *recorder
	root      string
}

func newFixture(root string, conf Confirmer) *fixture {
	f := &fixture{
		transport: &fakeTransport{},
		todos:     todo.NewStore(),
		history:   &fakeHistory{},
		authz:     &fakeAuthz{},
		display:   &recorder{},
		root:      root,
	}
	c, err := New(Options{
		SessionID:      "test-session",
		Root:           root,
		Transport:      f.transport,
		Prompts:        fakePrompts{},
		Todos:          f.todos,
		History:        f.history,
		Confirmer:      conf,
		Authorizations: f.authz,
		Display:        f.display,
	})
	if err != nil {
		panic(err)
	}
	f.c = c
	return f
}

func (f *fixture) send(text string) Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return f.c.SendMessage(ctx, text, nil, nil)
}

var errPromptClosed = errors.New("prompt closed")
