package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config describes the top-level application configuration loaded from YAML and ENV.
type Config struct {
	Version     string            `mapstructure:"version"`
	Workspace   WorkspaceConfig   `mapstructure:"workspace"`
	Model       ModelConfig       `mapstructure:"model"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	History     HistoryConfig     `mapstructure:"history"`
	Tools       ToolsConfig       `mapstructure:"tools"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
}

// WorkspaceConfig describes the directory the agent works in.
type WorkspaceConfig struct {
	Root            string   `mapstructure:"root"`             // defaults to the working directory
	AllowedRoots    []string `mapstructure:"allowed_roots"`    // extra roots file tools may touch without asking
	DeleteWhitelist []string `mapstructure:"delete_whitelist"` // paths delete commands may remove without asking
}

// ModelConfig selects the agent model.
type ModelConfig struct {
	Provider       string        `mapstructure:"provider"` // anthropic
	Name           string        `mapstructure:"name"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	MaxSteps       int           `mapstructure:"max_steps"` // tool round-trips per turn
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PermissionsConfig controls how tool calls that need confirmation are answered.
type PermissionsConfig struct {
	Mode               string `mapstructure:"mode"` // prompt, deny or allow
	AuthorizationsFile string `mapstructure:"authorizations_file"`
}

// HistoryConfig locates the history database.
type HistoryConfig struct {
	Path        string `mapstructure:"path"`
	PromptLimit int    `mapstructure:"prompt_limit"`
}

// ToolsConfig configures tool behaviour.
type ToolsConfig struct {
	ShellTimeout   time.Duration `mapstructure:"shell_timeout"`
	DeniedCommands []string      `mapstructure:"denied_commands"`
	AllowNetwork   bool          `mapstructure:"allow_network"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`  // debug, info, warn, error
	Format        string `mapstructure:"format"` // console or json
	SessionLog    bool   `mapstructure:"session_log"`
	SessionLogDir string `mapstructure:"session_log_dir"`
}

// ServerConfig describes daemon settings.
type ServerConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

// Permission modes.
const (
	ModePrompt = "prompt"
	ModeDeny   = "deny"
	ModeAllow  = "allow"
)

// Load reads configuration from the provided path or looks for scribe.yaml in the working
// directory, .scribe/ and configs/. A missing default file is not an error.
// Environment variables override file values (prefix: SCRIBE_, dots replaced with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("model.api_key", "SCRIBE_MODEL_API_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if path == "" {
		v.SetConfigName("scribe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(".scribe")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults populates sensible defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace.root", "")
	v.SetDefault("workspace.allowed_roots", []string{})
	v.SetDefault("workspace.delete_whitelist", []string{".scribe/memory.md"})

	v.SetDefault("model.provider", "anthropic")
	v.SetDefault("model.name", "claude-sonnet-4-5")
	v.SetDefault("model.max_tokens", 8192)
	v.SetDefault("model.max_steps", 50)
	v.SetDefault("model.request_timeout", 10*time.Minute)

	v.SetDefault("permissions.mode", ModePrompt)
	v.SetDefault("permissions.authorizations_file", ".scribe/authorizations.yaml")

	v.SetDefault("history.path", ".scribe/history.db")
	v.SetDefault("history.prompt_limit", 10)

	v.SetDefault("tools.shell_timeout", 2*time.Minute)
	v.SetDefault("tools.denied_commands", []string{})
	v.SetDefault("tools.allow_network", false)
	v.SetDefault("tools.max_output_bytes", 64*1024)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.session_log", true)
	v.SetDefault("logging.session_log_dir", ".scribe/logs")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.metrics_enabled", true)
}

// resolvePaths anchors the workspace root and the workspace-relative file locations.
func (c *Config) resolvePaths() error {
	root := c.Workspace.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve workspace root: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve workspace root: %w", err)
	}
	c.Workspace.Root = abs
	c.Permissions.AuthorizationsFile = c.WorkspacePath(c.Permissions.AuthorizationsFile)
	c.History.Path = c.WorkspacePath(c.History.Path)
	c.Logging.SessionLogDir = c.WorkspacePath(c.Logging.SessionLogDir)
	return nil
}

// WorkspacePath joins a relative path to the workspace root.
func (c *Config) WorkspacePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workspace.Root, p)
}

// AllowedRoots returns the workspace root followed by any configured extra roots.
func (c *Config) AllowedRoots() []string {
	roots := []string{c.Workspace.Root}
	for _, r := range c.Workspace.AllowedRoots {
		if strings.TrimSpace(r) != "" {
			roots = append(roots, c.WorkspacePath(r))
		}
	}
	return roots
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Workspace.Root) == "" {
		return errors.New("workspace.root must be set")
	}

	switch strings.ToLower(strings.TrimSpace(c.Model.Provider)) {
	case "anthropic":
	default:
		return fmt.Errorf("model.provider must be anthropic, got %q", c.Model.Provider)
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		return errors.New("model.name must be set")
	}
	if c.Model.MaxTokens <= 0 {
		return errors.New("model.max_tokens must be > 0")
	}
	if c.Model.MaxSteps <= 0 {
		return errors.New("model.max_steps must be > 0")
	}
	if c.Model.RequestTimeout < 0 {
		return errors.New("model.request_timeout must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Permissions.Mode)) {
	case ModePrompt, ModeDeny, ModeAllow:
	default:
		return fmt.Errorf("permissions.mode must be one of prompt, deny or allow, got %q", c.Permissions.Mode)
	}

	if c.History.PromptLimit < 0 {
		return errors.New("history.prompt_limit must be >= 0")
	}

	if c.Tools.ShellTimeout <= 0 {
		return errors.New("tools.shell_timeout must be > 0")
	}
	if c.Tools.MaxOutputBytes < 0 {
		return errors.New("tools.max_output_bytes must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be one of console or json, got %q", c.Logging.Format)
	}

	return nil
}
