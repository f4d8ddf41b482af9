// Package claude runs agent sessions against the Anthropic Messages API. Tools are
// executed locally after the turn's gate approves each call.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/animus-coder/scribe/internal/config"
	"github.com/animus-coder/scribe/internal/tools"
	"github.com/animus-coder/scribe/internal/turn"
	"github.com/animus-coder/scribe/internal/version"
)

const (
	defaultMaxTokens = 8192
	defaultMaxSteps  = 50
)

// ToolRunner describes and executes the tools offered to the model.
type ToolRunner interface {
	Schemas() []tools.Schema
	Run(ctx context.Context, name string, input json.RawMessage) (string, error)
}

// Transport implements turn.Transport.
type Transport struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	maxSteps  int
	timeout   time.Duration
	tools     ToolRunner
	logger    *zap.Logger
}

// New builds a transport from model configuration. Extra request options are applied
// after the configured key and base URL.
func New(cfg config.ModelConfig, runner ToolRunner, logger *zap.Logger, opts ...option.RequestOption) (*Transport, error) {
	if runner == nil {
		return nil, errors.New("tool runner is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("model name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	reqOpts := []option.RequestOption{option.WithHeader("User-Agent", version.UserAgent())}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(key))
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	reqOpts = append(reqOpts, opts...)

	t := &Transport{
		client:    anthropic.NewClient(reqOpts...),
		model:     strings.TrimSpace(cfg.Name),
		maxTokens: int64(cfg.MaxTokens),
		maxSteps:  cfg.MaxSteps,
		timeout:   cfg.RequestTimeout,
		tools:     runner,
		logger:    logger,
	}
	if t.maxTokens <= 0 {
		t.maxTokens = defaultMaxTokens
	}
	if t.maxSteps <= 0 {
		t.maxSteps = defaultMaxSteps
	}
	return t, nil
}

// Connect opens a session. No request is made until the first Query.
func (t *Transport) Connect(ctx context.Context, opts turn.SessionOptions) (turn.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{
		t:      t,
		id:     opts.SessionID,
		gate:   opts.Gate,
		system: opts.SystemPrompt,
		logger: t.logger.With(zap.String("session_id", opts.SessionID)),
	}, nil
}

func (t *Transport) toolParams() []anthropic.ToolUnionParam {
	schemas := t.tools.Schemas()
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		props, required := s.InputSchema()
		param := anthropic.ToolParam{
			Name:        s.Name,
			Description: anthropic.String(s.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: props, Required: required},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

// toolCall is a completed tool_use block from one model response.
type toolCall struct {
	id    string
	name  string
	input json.RawMessage
}

// stepResult is what one streamed model response produced.
type stepResult struct {
	message anthropic.Message
	text    string
	calls   []toolCall
}

// stream sends one request and forwards text and thinking as they arrive. emit reports
// false once the consumer is gone. On error the result still carries the text the
// consumer was shown.
func (t *Transport) stream(ctx context.Context, params anthropic.MessageNewParams, emit func(turn.Event) bool) (stepResult, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	stream := t.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	var text strings.Builder
	var thinking strings.Builder
	blockHasText := false

	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return stepResult{}, fmt.Errorf("accumulate stream: %w", err)
		}
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			blockHasText = false
			thinking.Reset()
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				chunk := delta.Text
				if !blockHasText && text.Len() > 0 {
					chunk = "\n\n" + chunk
				}
				if !emit(turn.AssistantText{Text: chunk}) {
					return stepResult{text: text.String()}, context.Canceled
				}
				blockHasText = true
				text.WriteString(chunk)
			case anthropic.ThinkingDelta:
				thinking.WriteString(delta.Thinking)
			}
		case anthropic.ContentBlockStopEvent:
			if strings.TrimSpace(thinking.String()) != "" {
				if !emit(turn.AssistantThinking{Text: thinking.String()}) {
					return stepResult{text: text.String()}, context.Canceled
				}
			}
			thinking.Reset()
		}
	}
	if err := stream.Err(); err != nil {
		return stepResult{text: text.String()}, err
	}

	res := stepResult{message: msg, text: text.String()}
	for i, block := range msg.Content {
		tu, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		id := strings.TrimSpace(tu.ID)
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}
		input := tu.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		res.calls = append(res.calls, toolCall{id: id, name: tu.Name, input: input})
	}
	return res, nil
}
