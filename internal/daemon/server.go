package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/animus-coder/scribe/internal/app"
	"github.com/animus-coder/scribe/internal/config"
	"github.com/animus-coder/scribe/internal/rpc/session"
	toolrpc "github.com/animus-coder/scribe/internal/rpc/tools"
	"github.com/animus-coder/scribe/internal/turn"
	"github.com/animus-coder/scribe/internal/version"
)

// NDJSONPath serves one turn per POST.
const NDJSONPath = "/turn/run"

// Server hosts health, metrics, tool schemas and the turn endpoints.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	app      *app.App
	sessions *session.Manager

	mu      sync.Mutex
	opened  []*app.Session
	handler http.Handler
}

// NewServer constructs a daemon instance around an opened App.
func NewServer(a *app.App) *Server {
	s := &Server{cfg: a.Config, logger: a.Logger, app: a}
	s.sessions = session.NewManager(s.newController, a.Logger.Named("sessions"))
	s.sessions.ConfirmPolicy = a.Confirmer
	s.handler = s.routes()
	return s
}

func (s *Server) newController(sessionID string, display turn.Display) (*turn.Controller, error) {
	sess, err := s.app.NewSession(context.Background(), sessionID, display, nil)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.opened = append(s.opened, sess)
	s.mu.Unlock()
	return sess.Controller, nil
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.Handle("/tools/schemas", toolrpc.SchemaHandler{Registry: s.app.Sandbox.Registry()})
	mux.Handle(NDJSONPath, session.NewHandler(s.sessions, s.app.Metrics))
	path, handler := session.NewConnectHandler(s.sessions, s.app.Metrics)
	mux.Handle(path, handler)
	return h2c.NewHandler(mux, &http2.Server{})
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting scribe daemon", zap.String("addr", server.Addr), zap.String("workspace", s.cfg.Workspace.Root))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down scribe daemon")
		s.sessions.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	err := g.Wait()
	s.closeSessions()
	return err
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	opened := s.opened
	s.opened = nil
	s.mu.Unlock()
	for _, sess := range opened {
		if err := sess.Close(); err != nil {
			s.logger.Warn("close session log failed", zap.Error(err))
		}
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q,"sessions":%d}`, version.Version, s.sessions.Len())
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled {
		http.NotFound(w, r)
		return
	}

	promhttp.HandlerFor(s.app.Metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
