package claude

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/animus-coder/scribe/internal/turn"
)

// ErrClosed is returned by Query after Disconnect.
var ErrClosed = errors.New("session closed")

// session keeps the conversation for one turn.Session. Each Query starts a run
// goroutine that streams responses and executes tools until the model stops asking for
// them.
type session struct {
	t      *Transport
	id     string
	gate   turn.ToolGate
	logger *zap.Logger

	mu       sync.Mutex
	system   string
	messages []anthropic.MessageParam
	events   chan turn.Event
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
	// keep is set by Stop: the cancelled run commits what the model said so far.
	keep bool
}

func (s *session) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	s.system = prompt
	s.mu.Unlock()
}

// Query waits for any earlier run to finish, then starts a new one and returns.
func (s *session) Query(ctx context.Context, prompt string) error {
	s.mu.Lock()
	prev := s.done
	s.mu.Unlock()
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	runCtx, cancel := context.WithCancel(context.Background())
	events := make(chan turn.Event, 64)
	done := make(chan struct{})
	s.events, s.cancel, s.done = events, cancel, done
	s.keep = false

	go func() {
		defer close(done)
		defer close(events)
		defer cancel()
		s.run(runCtx, prompt, events)
	}()
	return nil
}

// Receive returns the next event of the current run, or io.EOF after its last one.
func (s *session) Receive(ctx context.Context) (turn.Event, error) {
	s.mu.Lock()
	events := s.events
	s.mu.Unlock()
	if events == nil {
		return nil, io.EOF
	}
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

// Interrupt cancels the current run without waiting for it. The run's exchange is
// discarded.
func (s *session) Interrupt(context.Context) error {
	return s.stopRun(false)
}

// Stop cancels the current run but keeps the prompt and the assistant text streamed so
// far, so the next Query continues the same conversation.
func (s *session) Stop(context.Context) error {
	return s.stopRun(true)
}

func (s *session) stopRun(keep bool) error {
	s.mu.Lock()
	cancel := s.cancel
	s.keep = keep
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Disconnect cancels the current run and waits for it to stop or for ctx.
func (s *session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
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

func (s *session) run(ctx context.Context, prompt string, events chan<- turn.Event) {
	started := time.Now()
	emit := func(ev turn.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	s.mu.Lock()
	system := s.system
	base := len(s.messages)
	messages := append(s.messages[:base:base], anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
	s.mu.Unlock()

	var apiTime time.Duration
	finish := func(text string, isErr bool) {
		emit(turn.ResultSummary{
			Text:          text,
			IsError:       isErr,
			DurationMS:    time.Since(started).Milliseconds(),
			APIDurationMS: apiTime.Milliseconds(),
		})
	}

	toolParams := s.t.toolParams()
	for step := 0; step < s.t.maxSteps; step++ {
		stepStart := len(messages)
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(s.t.model),
			MaxTokens: s.t.maxTokens,
			Messages:  messages,
			Tools:     toolParams,
		}
		if strings.TrimSpace(system) != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}

		callStart := time.Now()
		res, err := s.t.stream(ctx, params, emit)
		apiTime += time.Since(callStart)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Debug("run cancelled", zap.Int("step", step))
				s.commitPartial(messages, res.text)
				return
			}
			s.logger.Warn("model request failed", zap.Int("step", step), zap.Error(err))
			finish(fmt.Sprintf("Model request failed: %v", err), true)
			return
		}
		messages = append(messages, res.message.ToParam())

		if len(res.calls) == 0 {
			s.commit(messages)
			finish(res.text, false)
			return
		}

		results := make([]anthropic.ContentBlockParamUnion, 0, len(res.calls))
		for _, call := range res.calls {
			content, isErr, stop := s.execute(ctx, call, emit)
			if stop {
				s.commitPartial(messages[:stepStart], res.text)
				return
			}
			results = append(results, anthropic.NewToolResultBlock(call.id, content, isErr))
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}

	s.commit(messages)
	finish(fmt.Sprintf("Stopped after %d model steps without a final answer.", s.t.maxSteps), true)
}

// execute announces the call, consults the gate and runs the tool. stop reports that
// the run must end without a result.
func (s *session) execute(ctx context.Context, call toolCall, emit func(turn.Event) bool) (content string, isErr, stop bool) {
	if !emit(turn.ToolUse{ID: call.id, Name: call.name, Input: call.input}) {
		return "", false, true
	}

	if s.gate != nil {
		decision := s.gate.Allow(ctx, turn.ToolCall{ID: call.id, Name: call.name, Input: call.input})
		if !decision.Allow {
			msg := decision.Message
			if msg == "" {
				msg = "Tool call denied."
			}
			if !emit(turn.ToolResult{ToolID: call.id, Content: msg, IsError: true}) || decision.Interrupt {
				return "", false, true
			}
			return msg, true, false
		}
	}
	if ctx.Err() != nil {
		return "", false, true
	}

	out, err := s.t.tools.Run(ctx, call.name, call.input)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, true
		}
		content, isErr = err.Error(), true
	} else {
		content = out
	}
	if !emit(turn.ToolResult{ToolID: call.id, Content: content, IsError: isErr}) {
		return "", false, true
	}
	return content, isErr, false
}

// commit keeps a finished exchange for the next Query.
func (s *session) commit(messages []anthropic.MessageParam) {
	s.mu.Lock()
	s.messages = messages
	s.mu.Unlock()
}

// commitPartial keeps a stopped run when Stop asked for it. messages must end on a
// complete exchange or on the user prompt; text becomes a plain assistant reply, so the
// conversation never ends on an unanswered tool call.
func (s *session) commitPartial(messages []anthropic.MessageParam, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.keep || strings.TrimSpace(text) == "" {
		return
	}
	kept := append(messages[:len(messages):len(messages)], anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
	s.messages = kept
}
