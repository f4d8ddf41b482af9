// Package sessionlog writes a per-session JSON lines debug trace of everything exchanged
// with the agent. Logging is best effort: the first write failure disables the log.
package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger appends session events to a file. A nil *Logger discards everything.
type Logger struct {
	path    string
	z       *zap.Logger
	sink    *fileSink
	mu      sync.Mutex
	systems map[string]string
}

// Open creates <dir>/session_<id>.jsonl.
func Open(dir, sessionID string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}
	path := filepath.Join(dir, "session_"+sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	sink := &fileSink{f: f}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.MessageKey = "event"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, zapcore.DebugLevel)

	return &Logger{
		path:    path,
		z:       zap.New(core).With(zap.String("session_id", sessionID)),
		sink:    sink,
		systems: map[string]string{},
	}, nil
}

// Path returns the log file location.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close flushes and closes the file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	_ = l.z.Sync()
	return l.sink.Close()
}

func (l *Logger) write(event string, fields ...zap.Field) {
	if l == nil || l.sink.closed.Load() {
		return
	}
	l.z.Info(event, fields...)
}

// LogSystemPrompt records the system prompt once per source, and again only when the
// text for that source changes.
func (l *Logger) LogSystemPrompt(source, text string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	if prev, ok := l.systems[source]; ok && prev == text {
		l.mu.Unlock()
		return
	}
	l.systems[source] = text
	l.mu.Unlock()
	l.write("system_prompt", zap.String("source", source), zap.String("text", text))
}

// LogUserPrompt records the rendered user prompt.
func (l *Logger) LogUserPrompt(text string) {
	l.write("user_prompt", zap.String("text", text))
}

// LogAssistantText records assistant output.
func (l *Logger) LogAssistantText(text string) {
	l.write("assistant_text", zap.String("text", text))
}

// LogAssistantThinking records assistant reasoning output.
func (l *Logger) LogAssistantThinking(text string) {
	l.write("assistant_thinking", zap.String("text", text))
}

// LogToolUse records a tool invocation.
func (l *Logger) LogToolUse(id, name string, input json.RawMessage) {
	l.write("tool_use", zap.String("tool_id", id), zap.String("tool", name), zap.ByteString("input", input))
}

// LogToolResult records the result of a tool invocation.
func (l *Logger) LogToolResult(id, name, content string, isError bool) {
	l.write("tool_result", zap.String("tool_id", id), zap.String("tool", name), zap.String("content", content), zap.Bool("is_error", isError))
}

// LogResult records the terminal outcome of a turn.
func (l *Logger) LogResult(status, summary string, duration time.Duration) {
	l.write("result", zap.String("status", status), zap.String("summary", summary), zap.Duration("duration", duration))
}

// LogException records a failure attributed to source.
func (l *Logger) LogException(source string, err error) {
	if err == nil {
		return
	}
	l.write("exception", zap.String("source", source), zap.Error(err))
}

// fileSink closes itself after the first failed write so a broken disk never stalls a turn.
type fileSink struct {
	mu     sync.Mutex
	f      *os.File
	closed atomic.Bool
}

func (s *fileSink) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return len(p), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.f.Write(p)
	if err != nil {
		s.closed.Store(true)
		_ = s.f.Close()
		return n, err
	}
	return n, nil
}

func (s *fileSink) Sync() error {
	if s.closed.Load() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Sync()
}

func (s *fileSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
