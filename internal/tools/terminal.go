package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/anmitsu/go-shlex"
)

// Terminal executes commands with allow/deny checks.
type Terminal struct {
	WorkingDir     string
	Allowed        []string
	Denied         []string
	Timeout        time.Duration
	AllowExecution bool
	// MaxOutputBytes caps each captured stream; 0 keeps everything.
	MaxOutputBytes int
}

// ExecResult carries output and status code.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs a command if allowed by configuration.
func (t *Terminal) Exec(ctx context.Context, command string, args ...string) (ExecResult, error) {
	if !t.AllowExecution {
		return ExecResult{}, errors.New("execution disabled by configuration")
	}
	if command == "" {
		return ExecResult{}, fmt.Errorf("command is required")
	}
	if err := t.validateCommand(command); err != nil {
		return ExecResult{}, err
	}
	return t.run(ctx, 0, command, args...)
}

// Shell runs a command line through sh -c. Every command word of the line is checked
// against the allow and deny lists. timeout overrides the terminal default when positive.
func (t *Terminal) Shell(ctx context.Context, line string, timeout time.Duration) (ExecResult, error) {
	if !t.AllowExecution {
		return ExecResult{}, errors.New("execution disabled by configuration")
	}
	if strings.TrimSpace(line) == "" {
		return ExecResult{}, fmt.Errorf("command is required")
	}
	for _, word := range commandWords(line) {
		if err := t.validateCommand(word); err != nil {
			return ExecResult{}, err
		}
	}
	return t.run(ctx, timeout, "sh", "-c", line)
}

func (t *Terminal) run(ctx context.Context, timeout time.Duration, command string, args ...string) (ExecResult, error) {
	if timeout <= 0 {
		timeout = t.Timeout
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	// Children of sh may hold the output pipes open after the shell is killed.
	cmd.WaitDelay = time.Second
	if t.WorkingDir != "" {
		cmd.Dir = t.WorkingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := ExecResult{
		Stdout: t.clip(stdout.String()),
		Stderr: t.clip(stderr.String()),
		ExitCode: func() int {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return exitErr.ExitCode()
			}
			if err != nil {
				return -1
			}
			return 0
		}(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("command timed out after %s", timeout)
	}
	if err != nil {
		return res, err
	}
	return res, nil
}

func (t *Terminal) clip(s string) string {
	if t.MaxOutputBytes <= 0 || len(s) <= t.MaxOutputBytes {
		return s
	}
	return s[:t.MaxOutputBytes] + fmt.Sprintf("\n... output truncated (%d bytes total)", len(s))
}

func (t *Terminal) validateCommand(cmd string) error {
	lower := strings.ToLower(filepath.Base(cmd))
	for _, deny := range t.Denied {
		if lower == strings.ToLower(deny) {
			return fmt.Errorf("command %q is denied", cmd)
		}
	}
	if len(t.Allowed) > 0 {
		for _, allow := range t.Allowed {
			if lower == strings.ToLower(allow) {
				return nil
			}
		}
		return fmt.Errorf("command %q is not in allowlist", cmd)
	}
	return nil
}

// commandWords returns the words in command position: the first word and every word
// following a control operator. Leading VAR=value assignments are skipped.
func commandWords(line string) []string {
	tokens, err := shlex.Split(line, true)
	if err != nil {
		tokens = strings.Fields(line)
	}
	var words []string
	expect := true
	for _, tok := range tokens {
		switch tok {
		case "|", "||", "&&", ";", "&", "(", ")":
			expect = true
			continue
		}
		if !expect {
			continue
		}
		if strings.Contains(tok, "=") && !strings.HasPrefix(tok, "=") {
			continue
		}
		if tok == "sudo" || tok == "env" || tok == "exec" {
			continue
		}
		words = append(words, tok)
		expect = false
	}
	return words
}
