package cli

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/animus-coder/scribe/internal/app"
	"github.com/animus-coder/scribe/internal/config"
	"github.com/animus-coder/scribe/internal/daemon"
	"github.com/animus-coder/scribe/internal/turn"
)

// echoTransport answers every prompt with its own text.
type echoTransport struct{}

func (echoTransport) Connect(context.Context, turn.SessionOptions) (turn.Session, error) {
	return &echoSession{}, nil
}

type echoSession struct {
	events chan turn.Event
}

func (s *echoSession) Query(_ context.Context, prompt string) error {
	// the user prompt template wraps the text; keep the last line.
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	reply := "echo: " + lines[len(lines)-1]
	s.events = make(chan turn.Event, 2)
	s.events <- turn.AssistantText{Text: reply}
	s.events <- turn.ResultSummary{Text: reply}
	close(s.events)
	return nil
}

func (s *echoSession) Receive(ctx context.Context) (turn.Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *echoSession) Interrupt(context.Context) error  { return nil }
func (s *echoSession) Disconnect(context.Context) error { return nil }
func (s *echoSession) SetSystemPrompt(string)           {}

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "scribe.yaml")
	yaml := "workspace:\n  root: " + dir + "\nmodel:\n  api_key: test\nlogging:\n  session_log: false\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	a, err := app.Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	a.Transport = echoTransport{}
	return a
}

var outcomeOpts = cmp.Options{
	cmpopts.IgnoreFields(turn.Outcome{}, "Summary"),
	cmpopts.EquateEmpty(),
}

func TestRunTurnLocal(t *testing.T) {
	a := newTestApp(t)
	var buf bytes.Buffer
	sess, err := a.NewSession(context.Background(), "local-1", newConsole(&buf), app.AllowConfirmer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	out := runTurn(context.Background(), sess.Controller, "draft the intro", nil)
	if diff := cmp.Diff(turn.Outcome{Status: turn.StatusCompleted}, out, outcomeOpts); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}
	require.Contains(t, out.Summary, "echo:")
	require.Contains(t, buf.String(), "[completed]")
}

func TestRunRemote(t *testing.T) {
	a := newTestApp(t)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot open listener in sandbox: %v", err)
	}
	server := httptest.NewUnstartedServer(daemon.NewServer(a).Handler())
	server.Listener = ln
	server.Start()
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	out, err := runRemote(context.Background(), &runFlags{remote: server.URL, sessionID: "remote-1"}, "draft the intro", newConsole(&buf), app.DenyConfirmer)
	require.NoError(t, err)
	if diff := cmp.Diff(turn.Outcome{Status: turn.StatusCompleted}, out, outcomeOpts); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}
	require.Contains(t, out.Summary, "echo:")
	require.Contains(t, buf.String(), "echo:")
	require.Equal(t, ExitOK, ExitCode(out))
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt(strings.NewReader("ignored"), []string{"from args"}, false)
	require.NoError(t, err)
	require.Equal(t, "from args", got)

	got, err = readPrompt(strings.NewReader("from stdin\n"), nil, false)
	require.NoError(t, err)
	require.Equal(t, "from stdin\n", got)

	_, err = readPrompt(strings.NewReader(""), nil, true)
	require.EqualError(t, err, "prompt is required")

	_, err = readPrompt(strings.NewReader("  \n"), nil, false)
	require.EqualError(t, err, "prompt cannot be empty")
}

func TestDaemonURL(t *testing.T) {
	cases := map[string]string{
		":8080":                  "http://localhost:8080",
		"127.0.0.1:9000":         "http://127.0.0.1:9000",
		"http://scribe.local/":   "http://scribe.local",
		"https://scribe.example": "https://scribe.example",
	}
	for in, want := range cases {
		if got := daemonURL(in); got != want {
			t.Fatalf("daemonURL(%q) = %q, want %q", in, got, want)
		}
	}
}
