package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "scribe.yaml")
	configYAML := `
version: "0.1.0"
workspace:
  root: ` + dir + `
  allowed_roots: [shared]
model:
  name: claude-opus-4-1
  max_tokens: 4096
  request_timeout: 30s
permissions:
  mode: deny
history:
  prompt_limit: 3
tools:
  shell_timeout: 45s
  denied_commands: [shutdown]
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(configYAML), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4-1", cfg.Model.Name)
	require.Equal(t, 4096, cfg.Model.MaxTokens)
	require.Equal(t, 30*time.Second, cfg.Model.RequestTimeout)
	require.Equal(t, ModeDeny, cfg.Permissions.Mode)
	require.Equal(t, 45*time.Second, cfg.Tools.ShellTimeout)
	require.Equal(t, []string{"shutdown"}, cfg.Tools.DeniedCommands)
	require.Equal(t, 3, cfg.History.PromptLimit)

	require.Equal(t, filepath.Join(dir, ".scribe", "history.db"), cfg.History.Path)
	require.Equal(t, filepath.Join(dir, ".scribe", "authorizations.yaml"), cfg.Permissions.AuthorizationsFile)
	require.Equal(t, []string{dir, filepath.Join(dir, "shared")}, cfg.AllowedRoots())
	require.Equal(t, []string{".scribe/memory.md"}, cfg.Workspace.DeleteWhitelist)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "scribe.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("workspace:\n  root: "+dir+"\n"), 0o644))

	t.Setenv("SCRIBE_MODEL_MAX_STEPS", "12")
	t.Setenv("SCRIBE_MODEL_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, 12, cfg.Model.MaxSteps)
	require.Equal(t, "sk-test", cfg.Model.APIKey)
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Config{
		Workspace:   WorkspaceConfig{Root: "/work"},
		Model:       ModelConfig{Provider: "anthropic", Name: "m", MaxTokens: 1, MaxSteps: 1},
		Permissions: PermissionsConfig{Mode: "sometimes"},
		Tools:       ToolsConfig{ShellTimeout: time.Second},
	}
	require.ErrorContains(t, cfg.Validate(), "permissions.mode")

	cfg.Permissions.Mode = ModePrompt
	require.NoError(t, cfg.Validate())

	cfg.Model.Provider = "openai"
	require.ErrorContains(t, cfg.Validate(), "model.provider")
}
