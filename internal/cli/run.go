package cli

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/bufbuild/connect-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/animus-coder/scribe/internal/app"
	"github.com/animus-coder/scribe/internal/config"
	"github.com/animus-coder/scribe/internal/logging"
	"github.com/animus-coder/scribe/internal/rpc"
	"github.com/animus-coder/scribe/internal/rpc/connectjson"
	"github.com/animus-coder/scribe/internal/rpc/session"
	"github.com/animus-coder/scribe/internal/turn"
)

type runFlags struct {
	attachments []string
	sessionID   string
	yes         bool
	deny        bool
	jsonOut     bool
	verbose     bool
	remote      string
}

// NewRunCmd runs one turn, in-process or through a daemon.
func NewRunCmd(opts *Options) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one turn in the workspace (the prompt is read from stdin when omitted)",
		Args:  func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return usageError(err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.yes && f.deny {
				return usageError(errors.New("--yes and --deny cannot be combined"))
			}
			interactive := isTerminal(cmd.InOrStdin())
			prompt, err := readPrompt(cmd.InOrStdin(), args, interactive)
			if err != nil {
				return usageError(err)
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			switch {
			case f.yes:
				cfg.Permissions.Mode = config.ModeAllow
			case f.deny, !interactive && cfg.Permissions.Mode == config.ModePrompt:
				cfg.Permissions.Mode = config.ModeDeny
			}

			display := newConsole(cmd.OutOrStdout())
			if f.jsonOut {
				display = newConsole(cmd.ErrOrStderr())
			}
			confirmer := app.ConfirmerFor(cfg.Permissions.Mode, newPromptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr()))

			var out turn.Outcome
			if f.remote != "" {
				out, err = runRemote(cmd.Context(), f, prompt, display, confirmer)
			} else {
				out, err = runLocal(cmd.Context(), cfg, f, prompt, display, confirmer)
			}
			if err != nil {
				return err
			}
			if f.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			return outcomeError(out)
		},
	}

	cmd.Flags().StringSliceVar(&f.attachments, "attach", nil, "Workspace files to attach to the prompt (repeatable or comma-separated)")
	cmd.Flags().StringVar(&f.sessionID, "session", "", "Session id (default: a new session)")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Approve every tool call that needs permission")
	cmd.Flags().BoolVar(&f.deny, "deny", false, "Deny every tool call that needs permission")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Print the outcome as JSON on stdout; progress goes to stderr")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log at the configured level instead of warn")
	cmd.Flags().StringVar(&f.remote, "remote", "", "Run the turn on a scribe daemon at this address")
	return cmd
}

func readPrompt(in io.Reader, args []string, interactive bool) (string, error) {
	if len(args) == 1 {
		if strings.TrimSpace(args[0]) == "" {
			return "", errors.New("prompt cannot be empty")
		}
		return args[0], nil
	}
	if interactive {
		return "", errors.New("prompt is required")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("prompt cannot be empty")
	}
	return string(data), nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func runLocal(ctx context.Context, cfg *config.Config, f *runFlags, prompt string, display turn.Display, confirmer turn.Confirmer) (turn.Outcome, error) {
	level := "warn"
	if f.verbose {
		level = cfg.Logging.Level
	}
	logger, err := logging.NewLogger(level, cfg.Logging.Format)
	if err != nil {
		return turn.Outcome{}, err
	}
	defer logger.Sync() //nolint:errcheck // best-effort

	if err := app.CheckCredentials(cfg); err != nil {
		return turn.Outcome{}, err
	}
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return turn.Outcome{}, err
	}
	defer a.Close()

	sessionID := f.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sess, err := a.NewSession(ctx, sessionID, display, confirmer)
	if err != nil {
		return turn.Outcome{}, err
	}
	defer sess.Close()

	return runTurn(ctx, sess.Controller, prompt, f.attachments), nil
}

// runTurn sends one message and interrupts it on SIGINT or SIGTERM.
func runTurn(ctx context.Context, ctrl *turn.Controller, prompt string, attachments []string) turn.Outcome {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	var out turn.Outcome
	var g errgroup.Group
	g.Go(func() error {
		defer close(done)
		out = ctrl.SendMessage(context.WithoutCancel(ctx), prompt, attachments, nil)
		return nil
	})
	g.Go(func() error {
		select {
		case <-sigCtx.Done():
			ctrl.Interrupt("Interrupted by user.")
		case <-done:
		}
		return nil
	})
	_ = g.Wait()
	return out
}

func runRemote(ctx context.Context, f *runFlags, prompt string, display turn.Display, confirmer turn.Confirmer) (turn.Outcome, error) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := connect.NewClient[rpc.TurnStreamRequest, rpc.TurnEvent](buildH2CClient(), daemonURL(f.remote)+session.ConnectTurnProcedure, connect.WithCodec(connectjson.Codec{}))
	stream := client.CallBidiStream(ctx)

	var sendMu sync.Mutex
	send := func(msg *rpc.TurnStreamRequest) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return stream.Send(msg)
	}

	if err := send(&rpc.TurnStreamRequest{Turn: &rpc.TurnRequest{SessionID: f.sessionID, Prompt: prompt, Attachments: f.attachments}}); err != nil {
		return turn.Outcome{}, err
	}

	// propagate interrupts to the daemon.
	go func() {
		select {
		case <-sigCtx.Done():
			if ctx.Err() == nil {
				_ = send(&rpc.TurnStreamRequest{Interrupt: true})
			}
		case <-ctx.Done():
		}
	}()

	var out *turn.Outcome
	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return turn.Outcome{}, err
		}
		switch evt.Type {
		case rpc.EventNotice:
			if evt.Notice != nil {
				display.Show(*evt.Notice)
			}
		case rpc.EventPermission:
			if evt.Permission == nil {
				continue
			}
			d, err := confirmer.Ask(ctx, evt.Permission.PermissionRequest)
			if err != nil {
				d = turn.Decision{}
			}
			if err := send(&rpc.TurnStreamRequest{Permission: &rpc.PermissionReply{
				RequestID: evt.Permission.RequestID,
				Allow:     d.Allow,
				Remember:  d.Remember,
				Message:   d.Message,
			}}); err != nil {
				return turn.Outcome{}, err
			}
		case rpc.EventOutcome:
			out = evt.Outcome
		case rpc.EventError:
			return turn.Outcome{}, fmt.Errorf("daemon error: %s", evt.Error)
		}
	}
	_ = stream.CloseRequest()
	if err := stream.CloseResponse(); err != nil {
		return turn.Outcome{}, err
	}
	if out == nil {
		return turn.Outcome{}, errors.New("daemon closed the stream without an outcome")
	}
	return *out, nil
}

func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
