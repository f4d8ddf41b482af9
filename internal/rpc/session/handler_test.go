package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/animus-coder/scribe/internal/rpc"
	"github.com/animus-coder/scribe/internal/turn"
)

func decodeEvents(t *testing.T, body string) []rpc.TurnEvent {
	t.Helper()
	var events []rpc.TurnEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		var ev rpc.TurnEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("invalid json event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestHandlerStreamsEvents(t *testing.T) {
	handler := NewHandler(newManager(t, replyScript("Hi there")), nil)
	body := bytes.NewBufferString(`{"session_id":"test","prompt":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/turn/run", body)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	require.Equal(t, "application/x-ndjson", rr.Header().Get("Content-Type"))

	events := decodeEvents(t, rr.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, rpc.EventOutcome, last.Type)
	require.Equal(t, "test", last.SessionID)
	require.Equal(t, turn.StatusCompleted, last.Outcome.Status)

	var sawText bool
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, rpc.EventNotice, ev.Type)
		if ev.Notice.Kind == turn.NoticeText && ev.Notice.Text == "Hi there" {
			sawText = true
		}
	}
	require.True(t, sawText)
}

func TestHandlerDeniesPermissionPrompts(t *testing.T) {
	handler := NewHandler(newManager(t, outsideWriteScript), nil)
	req := httptest.NewRequest(http.MethodPost, "/turn/run", strings.NewReader(`{"prompt":"save"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	events := decodeEvents(t, rr.Body.String())
	last := events[len(events)-1]
	require.Equal(t, turn.StatusAborted, last.Outcome.Status)
	require.NotEmpty(t, last.SessionID)
	for _, ev := range events {
		require.NotEqual(t, rpc.EventPermission, ev.Type)
	}
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	handler := NewHandler(newManager(t, replyScript("x")), nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/turn/run", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/turn/run", strings.NewReader("{")))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/turn/run", strings.NewReader(`{"prompt":""}`)))
	events := decodeEvents(t, rr.Body.String())
	require.Len(t, events, 1)
	require.Equal(t, rpc.EventError, events[0].Type)
	require.Contains(t, events[0].Error, "prompt is required")
}
