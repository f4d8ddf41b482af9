// Package app wires configuration into the collaborators a turn controller needs. The
// CLI and the daemon share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/animus-coder/scribe/internal/authz"
	"github.com/animus-coder/scribe/internal/config"
	"github.com/animus-coder/scribe/internal/history"
	"github.com/animus-coder/scribe/internal/observability"
	"github.com/animus-coder/scribe/internal/prompt"
	"github.com/animus-coder/scribe/internal/sessionlog"
	"github.com/animus-coder/scribe/internal/todo"
	"github.com/animus-coder/scribe/internal/tools"
	"github.com/animus-coder/scribe/internal/transport/claude"
	"github.com/animus-coder/scribe/internal/turn"
)

// App holds the workspace-wide stores and the agent transport.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Sandbox   *tools.Sandbox
	History   *history.Store
	Authz     *authz.Store
	Transport turn.Transport
}

// Open builds the stores and the transport for cfg. Close releases them.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sandbox, err := tools.NewSandbox(cfg.Workspace.Root, cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("build sandbox: %w", err)
	}
	store, err := authz.Open(cfg.Permissions.AuthorizationsFile, cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("open authorizations: %w", err)
	}
	hist, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	transport, err := claude.New(cfg.Model, sandbox.Registry(), logger.Named("claude"))
	if err != nil {
		_ = hist.Close()
		return nil, fmt.Errorf("build transport: %w", err)
	}
	return &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   observability.NewMetrics(),
		Sandbox:   sandbox,
		History:   hist,
		Authz:     store,
		Transport: transport,
	}, nil
}

// Close releases the stores.
func (a *App) Close() error {
	if a.History != nil {
		return a.History.Close()
	}
	return nil
}

// Session bundles a controller with the per-session resources it owns.
type Session struct {
	Controller *turn.Controller
	Todos      *todo.Store
	log        *sessionlog.Logger
}

// Close releases the session log.
func (s *Session) Close() error {
	if s.log != nil {
		return s.log.Close()
	}
	return nil
}

// LogPath is the session log file, or "" when session logging is off.
func (s *Session) LogPath() string {
	if s.log == nil {
		return ""
	}
	return s.log.Path()
}

// NewSession builds a controller for sessionID. The todo list is restored from the
// latest history entry that recorded one.
func (a *App) NewSession(ctx context.Context, sessionID string, display turn.Display, confirmer turn.Confirmer) (*Session, error) {
	todos := todo.NewStore()
	if items, err := a.History.LatestTodos(ctx); err != nil {
		a.Logger.Warn("restore todos failed", zap.Error(err))
	} else if len(items) > 0 {
		todos.SetItems(items, "history")
	}

	s := &Session{Todos: todos}
	var sessLog turn.SessionLog
	if a.Config.Logging.SessionLog {
		l, err := sessionlog.Open(a.Config.Logging.SessionLogDir, sessionID)
		if err != nil {
			a.Logger.Warn("session log disabled", zap.Error(err))
		} else {
			s.log = l
			sessLog = l
		}
	}

	builder := &prompt.Builder{
		FS:           a.Sandbox.FS,
		History:      a.History,
		HistoryLimit: a.Config.History.PromptLimit,
		Todos:        todos,
		Logger:       a.Logger.Named("prompt"),
	}
	ctrl, err := turn.New(turn.Options{
		SessionID:       sessionID,
		Root:            a.Config.Workspace.Root,
		AllowedRoots:    a.Config.AllowedRoots(),
		DeleteWhitelist: a.Config.Workspace.DeleteWhitelist,
		Transport:       a.Transport,
		Prompts:         builder,
		Todos:           todos,
		History:         a.History,
		SessionLog:      sessLog,
		Confirmer:       a.Confirmer(confirmer),
		Authorizations:  a.Authz,
		Display:         display,
		Metrics:         a.Metrics,
		Logger:          a.Logger.Named("turn"),
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Controller = ctrl
	return s, nil
}

// Confirmer applies the configured permission mode to an interactive confirmer.
func (a *App) Confirmer(interactive turn.Confirmer) turn.Confirmer {
	return ConfirmerFor(a.Config.Permissions.Mode, interactive)
}

// ConfirmerFor applies a permission mode to an interactive confirmer. A nil
// interactive confirmer denies in prompt mode.
func ConfirmerFor(mode string, interactive turn.Confirmer) turn.Confirmer {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case config.ModeAllow:
		return AllowConfirmer
	case config.ModeDeny:
		return DenyConfirmer
	}
	if interactive == nil {
		return DenyConfirmer
	}
	return interactive
}

// AllowConfirmer approves every request without remembering it.
var AllowConfirmer = turn.ConfirmFunc(func(context.Context, turn.PermissionRequest) (turn.Decision, error) {
	return turn.Decision{Allow: true}, nil
})

// DenyConfirmer refuses every request. The message becomes the turn summary.
var DenyConfirmer = turn.ConfirmFunc(func(_ context.Context, req turn.PermissionRequest) (turn.Decision, error) {
	return turn.Decision{Message: "Permission required: " + req.Reason}, nil
})

// ErrNoAPIKey is reported by CheckCredentials.
var ErrNoAPIKey = errors.New("no API key configured; set ANTHROPIC_API_KEY or model.api_key")

// CheckCredentials reports whether the model can be called.
func CheckCredentials(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Model.APIKey) == "" {
		return ErrNoAPIKey
	}
	return nil
}
