package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/animus-coder/scribe/internal/app"
	"github.com/animus-coder/scribe/internal/config"
	"github.com/animus-coder/scribe/internal/daemon"
	"github.com/animus-coder/scribe/internal/logging"
)

// NewServeCmd runs the daemon in the foreground.
func NewServeCmd(opts *Options) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve turns over HTTP (NDJSON and Connect)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}
			return Serve(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen_addr)")
	return cmd
}

// Serve opens the app for cfg and runs the daemon until SIGINT or SIGTERM.
func Serve(cmd *cobra.Command, cfg *config.Config) error {
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort

	if err := app.CheckCredentials(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return daemon.NewServer(a).Run(ctx)
}
