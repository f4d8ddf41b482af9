package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/animus-coder/scribe/internal/app"
	"github.com/animus-coder/scribe/internal/permission"
)

// NewDoctorCmd returns a health-check command validating config and environment.
func NewDoctorCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Model: %s/%s, permissions: %s\n", cfg.Model.Provider, cfg.Model.Name, cfg.Permissions.Mode)
			fmt.Fprintf(out, "Workspace: %s\n", cfg.Workspace.Root)

			info, err := os.Stat(cfg.Workspace.Root)
			if err != nil || !info.IsDir() {
				return fmt.Errorf("workspace root %s is not a directory", cfg.Workspace.Root)
			}
			if _, err := os.Stat(filepath.Join(cfg.Workspace.Root, filepath.FromSlash(permission.ProtectedFile))); err != nil {
				fmt.Fprintf(out, "Preferences: %s not found (optional)\n", permission.ProtectedFile)
			} else {
				fmt.Fprintf(out, "Preferences: %s\n", permission.ProtectedFile)
			}
			fmt.Fprintf(out, "History: %s, metrics: %v\n", cfg.History.Path, cfg.Server.MetricsEnabled)

			if err := app.CheckCredentials(cfg); err != nil {
				if errors.Is(err, app.ErrNoAPIKey) {
					fmt.Fprintln(out, "API key: missing")
				}
				return err
			}
			fmt.Fprintln(out, "API key: set")
			return nil
		},
	}
}
