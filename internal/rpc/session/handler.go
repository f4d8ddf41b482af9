package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/animus-coder/scribe/internal/observability"
	"github.com/animus-coder/scribe/internal/rpc"
	"github.com/animus-coder/scribe/internal/turn"
)

// Handler runs one turn per POST and streams NDJSON TurnEvents. There is no channel
// for permission replies, so calls that need confirmation are denied.
type Handler struct {
	manager *Manager
	metrics *observability.Metrics
}

// NewHandler constructs a handler instance.
func NewHandler(manager *Manager, metrics *observability.Metrics) *Handler {
	return &Handler{manager: manager, metrics: metrics}
}

// ServeHTTP handles POST /turn/run.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.metrics.RecordTransportError("ndjson_method")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rpc.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.RecordTransportError("ndjson_decode")
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = NewSessionID()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	var mu sync.Mutex
	writer := bufio.NewWriter(w)
	send := func(ev rpc.TurnEvent) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewEncoder(writer).Encode(ev); err != nil {
			h.metrics.RecordTransportError("ndjson_send")
			return
		}
		writer.Flush()
		flusher.Flush()
	}

	out, err := h.manager.Run(r.Context(), req, Hooks{
		Display: func(n turn.Notice) {
			send(rpc.TurnEvent{Type: rpc.EventNotice, SessionID: req.SessionID, Notice: &n})
		},
	})
	if err != nil {
		if !errors.Is(err, turn.ErrTurnInProgress) {
			h.metrics.RecordTransportError("ndjson_run")
		}
		send(rpc.TurnEvent{Type: rpc.EventError, SessionID: req.SessionID, Error: err.Error()})
		return
	}
	send(rpc.TurnEvent{Type: rpc.EventOutcome, SessionID: req.SessionID, Outcome: &out})
}
