package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/bufbuild/connect-go"
	"github.com/google/uuid"

	"github.com/animus-coder/scribe/internal/observability"
	"github.com/animus-coder/scribe/internal/rpc"
	"github.com/animus-coder/scribe/internal/rpc/connectjson"
	"github.com/animus-coder/scribe/internal/turn"
)

const ConnectTurnProcedure = "/scribe.turn.v1.TurnService/Turn"

var errRequestClosed = errors.New("client closed the request stream")

// NewConnectHandler builds a Connect bidi stream handler for Turn.
func NewConnectHandler(manager *Manager, metrics *observability.Metrics) (string, http.Handler) {
	h := &connectTurnHandler{manager: manager, metrics: metrics}
	return ConnectTurnProcedure, connect.NewBidiStreamHandler(ConnectTurnProcedure, h.handle, connect.WithCodec(connectjson.Codec{}))
}

type connectTurnHandler struct {
	manager *Manager
	metrics *observability.Metrics
}

func (h *connectTurnHandler) handle(ctx context.Context, stream *connect.BidiStream[rpc.TurnStreamRequest, rpc.TurnEvent]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first, err := stream.Receive()
	if err != nil {
		h.metrics.RecordTransportError("connect_receive_first")
		return err
	}
	if first == nil || first.Turn == nil {
		h.metrics.RecordTransportError("connect_missing_turn")
		return connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include turn payload"))
	}
	req := *first.Turn
	if req.SessionID == "" {
		req.SessionID = NewSessionID()
	}

	var sendMu sync.Mutex
	send := func(ev rpc.TurnEvent) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		if err := stream.Send(&ev); err != nil {
			h.metrics.RecordTransportError("connect_send")
			return err
		}
		return nil
	}
	prompts := newPendingPrompts()

	// Control messages from the client.
	go func() {
		defer prompts.close()
		for {
			msg, err := stream.Receive()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					if ctx.Err() == nil {
						h.metrics.RecordTransportError("connect_receive_stream")
					}
					cancel()
				}
				return
			}
			switch {
			case msg.Permission != nil:
				prompts.resolve(*msg.Permission)
			case msg.Interrupt:
				h.manager.Interrupt(req.SessionID, "Interrupted by user.")
			case msg.Abort != "":
				h.manager.Abort(req.SessionID, msg.Abort)
			}
		}
	}()

	confirm := turn.ConfirmFunc(func(ctx context.Context, pr turn.PermissionRequest) (turn.Decision, error) {
		id := uuid.NewString()
		replies, err := prompts.add(id)
		if err != nil {
			return turn.Decision{}, err
		}
		defer prompts.remove(id)
		if err := send(rpc.TurnEvent{
			Type:       rpc.EventPermission,
			SessionID:  req.SessionID,
			Permission: &rpc.PermissionPrompt{RequestID: id, PermissionRequest: pr},
		}); err != nil {
			return turn.Decision{}, err
		}
		select {
		case d, ok := <-replies:
			if !ok {
				return turn.Decision{}, errRequestClosed
			}
			return d, nil
		case <-ctx.Done():
			return turn.Decision{}, ctx.Err()
		}
	})

	out, err := h.manager.Run(ctx, req, Hooks{
		Display: func(n turn.Notice) {
			_ = send(rpc.TurnEvent{Type: rpc.EventNotice, SessionID: req.SessionID, Notice: &n})
		},
		Confirmer: confirm,
	})
	if errors.Is(err, turn.ErrTurnInProgress) {
		return connect.NewError(connect.CodeFailedPrecondition, err)
	}
	if err != nil {
		h.metrics.RecordTransportError("connect_run")
		return connect.NewError(connect.CodeInvalidArgument, err)
	}
	return send(rpc.TurnEvent{Type: rpc.EventOutcome, SessionID: req.SessionID, Outcome: &out})
}

// pendingPrompts matches permission replies to the prompts waiting for them.
type pendingPrompts struct {
	mu      sync.Mutex
	closed  bool
	waiting map[string]chan turn.Decision
}

func newPendingPrompts() *pendingPrompts {
	return &pendingPrompts{waiting: map[string]chan turn.Decision{}}
}

func (p *pendingPrompts) add(id string) (<-chan turn.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errRequestClosed
	}
	ch := make(chan turn.Decision, 1)
	p.waiting[id] = ch
	return ch, nil
}

func (p *pendingPrompts) remove(id string) {
	p.mu.Lock()
	delete(p.waiting, id)
	p.mu.Unlock()
}

func (p *pendingPrompts) resolve(reply rpc.PermissionReply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.waiting[reply.RequestID]
	if !ok {
		return
	}
	delete(p.waiting, reply.RequestID)
	ch <- turn.Decision{Allow: reply.Allow, Remember: reply.Remember, Message: reply.Message}
}

// close fails every waiting prompt and refuses new ones.
func (p *pendingPrompts) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, ch := range p.waiting {
		close(ch)
		delete(p.waiting, id)
	}
}
