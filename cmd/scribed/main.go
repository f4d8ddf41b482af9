package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/animus-coder/scribe/internal/cli"
	"github.com/animus-coder/scribe/internal/config"
	"github.com/animus-coder/scribe/internal/version"
)

func main() {
	var cfgPath, listen string

	root := &cobra.Command{
		Use:           "scribed",
		Short:         "Scribe daemon service",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}
			return cli.Serve(cmd, cfg)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "Path to config file (default: scribe.yaml in ., .scribe/ or configs/)")
	root.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen_addr)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
