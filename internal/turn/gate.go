package turn

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/animus-coder/scribe/internal/permission"
)

// gate evaluates tool calls for one session on behalf of the turn whose prompt the
// session is running. A call from a cancelled run is refused without touching the
// turn.
type gate struct {
	c    *Controller
	turn atomic.Pointer[turnState]
}

// bind points the gate at t before t's prompt is submitted.
func (g *gate) bind(t *turnState) {
	g.turn.Store(t)
}

func (g *gate) Allow(ctx context.Context, call ToolCall) GateDecision {
	c := g.c
	if ctx.Err() != nil {
		return GateDecision{Message: "Run cancelled.", Interrupt: true}
	}
	t := g.turn.Load()
	if t == nil || t != c.current.Load() {
		return GateDecision{Message: "No turn in progress.", Interrupt: true}
	}
	if t.has(flagAbortRequested) || t.finalized() {
		return GateDecision{Message: finishedMessage(t), Interrupt: true}
	}

	var input map[string]any
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &input); err != nil {
			c.logger.Debug("tool input is not an object", zap.String("tool", call.Name), zap.Error(err))
		}
	}
	check := permission.Evaluate(call.Name, input, c.root, c.allowedRoots, c.deleteWhitelist)
	if !check.NeedsConfirm {
		c.recordPermission(call.Name, "allowed")
		return GateDecision{Allow: true}
	}
	if c.authz != nil && c.authz.IsAuthorized(call.Name, check.Targets) {
		c.recordPermission(call.Name, "authorized")
		return GateDecision{Allow: true}
	}

	decision := c.ask(t, PermissionRequest{
		Title:    "Permission required: " + call.Name,
		Reason:   check.Reason,
		ToolName: call.Name,
		Targets:  check.Targets,
	})
	if t.finalized() {
		return GateDecision{Message: finishedMessage(t), Interrupt: true}
	}
	if decision.Allow {
		if decision.Remember && len(check.Targets) > 0 && c.authz != nil {
			if err := c.authz.AddAuthorizations(call.Name, check.Targets); err != nil {
				c.logger.Warn("remember authorization failed", zap.String("tool", call.Name), zap.Error(err))
			}
		}
		c.recordPermission(call.Name, "approved")
		return GateDecision{Allow: true}
	}

	reason := decision.Message
	if reason == "" {
		reason = "User denied permission: " + check.Reason
	}
	c.recordPermission(call.Name, "denied")
	t.abortReason.CompareAndSwap(nil, &reason)
	t.set(flagAbortRequested)
	c.interruptOnAbort(t)
	c.finalizeAborted(t)
	return GateDecision{Message: t.reason(), Interrupt: true}
}

// ask consults the confirmer. No confirmer, or a failed prompt, counts as a denial.
func (c *Controller) ask(t *turnState, req PermissionRequest) Decision {
	conf := c.currentConfirmer()
	if conf == nil {
		return Decision{}
	}
	d, err := conf.Ask(t.ctx, req)
	if err != nil {
		c.logger.Debug("permission prompt failed", zap.String("tool", req.ToolName), zap.Error(err))
		return Decision{}
	}
	return d
}

func (c *Controller) recordPermission(tool, decision string) {
	if c.metrics != nil {
		c.metrics.RecordPermissionCheck(tool, decision)
	}
}

func finishedMessage(t *turnState) string {
	if r := t.reason(); r != "" {
		return r
	}
	return "Turn already finished."
}
