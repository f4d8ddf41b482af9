package tools

import (
	"fmt"

	"github.com/animus-coder/scribe/internal/config"
)

// Sandbox constructs configured tool instances based on the tools config.
type Sandbox struct {
	FS       *Filesystem
	Terminal *Terminal
}

var defaultNetworkDenied = []string{
	"curl", "wget", "ping", "nc", "netcat", "telnet", "ssh", "scp", "sftp",
}

// NewSandbox builds filesystem and terminal tools rooted at baseDir.
func NewSandbox(baseDir string, toolsCfg config.ToolsConfig) (*Sandbox, error) {
	fsTool, err := NewFilesystem(baseDir, true)
	if err != nil {
		return nil, fmt.Errorf("build filesystem tool: %w", err)
	}

	denied := append([]string{}, toolsCfg.DeniedCommands...)
	if !toolsCfg.AllowNetwork {
		denied = append(denied, defaultNetworkDenied...)
	}

	term := &Terminal{
		WorkingDir:     fsTool.Guard().BaseDir,
		Denied:         dedupeStrings(denied),
		Timeout:        toolsCfg.ShellTimeout,
		AllowExecution: true,
		MaxOutputBytes: toolsCfg.MaxOutputBytes,
	}

	return &Sandbox{
		FS:       fsTool,
		Terminal: term,
	}, nil
}

// Registry wraps the sandbox tools for the agent transport.
func (s *Sandbox) Registry() *Registry {
	return NewRegistry(s.FS, s.Terminal)
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
