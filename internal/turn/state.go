package turn

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

type flag uint32

const (
	flagInterrupted flag = 1 << iota
	flagAbortRequested
	flagAbortInterruptSent
)

// turnState is owned by one SendMessage call. Flags, the abort reason and the outcome
// are shared with the gate and with Interrupt; the remaining fields belong to the
// goroutine consuming the stream.
type turnState struct {
	id      string
	prompt  string
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc

	flags       atomic.Uint32
	abortReason atomic.Pointer[string]
	outcome     atomic.Pointer[Outcome]

	toolNames map[string]string
	toolOrder []string
	text      strings.Builder

	needsClarification bool
	clarificationSeen  bool
	clarificationNote  string
	needsOutlineEdit   bool
	outlineEditSeen    bool
	outlineEditNote    string
}

func newTurnState(parent context.Context, id, prompt string) *turnState {
	ctx, cancel := context.WithCancel(parent)
	return &turnState{
		id:        id,
		prompt:    prompt,
		started:   time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		toolNames: make(map[string]string),
	}
}

func (t *turnState) has(f flag) bool {
	return flag(t.flags.Load())&f != 0
}

// set reports whether f was newly set.
func (t *turnState) set(f flag) bool {
	for {
		old := t.flags.Load()
		if flag(old)&f != 0 {
			return false
		}
		if t.flags.CompareAndSwap(old, old|uint32(f)) {
			return true
		}
	}
}

func (t *turnState) reason() string {
	if r := t.abortReason.Load(); r != nil {
		return *r
	}
	return ""
}

func (t *turnState) finalized() bool {
	return t.outcome.Load() != nil
}

func (t *turnState) needsIntent() bool {
	return t.needsClarification || t.needsOutlineEdit
}

// maxToolNames bounds the id-to-name map of a single turn.
const maxToolNames = 1024

func (t *turnState) rememberTool(id, name string) {
	if _, ok := t.toolNames[id]; !ok {
		if len(t.toolOrder) >= maxToolNames {
			delete(t.toolNames, t.toolOrder[0])
			t.toolOrder = t.toolOrder[1:]
		}
		t.toolOrder = append(t.toolOrder, id)
	}
	t.toolNames[id] = name
}

// toolName resolves a tool call id, falling back to "tool" for results whose call was
// never seen.
func (t *turnState) toolName(id string) string {
	if name, ok := t.toolNames[id]; ok {
		return name
	}
	return "tool"
}
