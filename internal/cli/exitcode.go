package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-coder/scribe/internal/turn"
)

// Process exit codes.
const (
	ExitOK                 = 0
	ExitError              = 1
	ExitUsage              = 2
	ExitPermissionRequired = 10
	ExitNeedsClarification = 11
	ExitNeedsOutlineEdit   = 12
	ExitAwaitingInput      = 13
	ExitInterrupted        = 14
	ExitAborted            = 15
)

// ExitCode maps a turn outcome to the process exit code.
func ExitCode(out turn.Outcome) int {
	switch out.Status {
	case turn.StatusCompleted:
		return ExitOK
	case turn.StatusNeedsClarification:
		return ExitNeedsClarification
	case turn.StatusNeedsOutlineEdit:
		return ExitNeedsOutlineEdit
	case turn.StatusAwaitingInput:
		return ExitAwaitingInput
	case turn.StatusInterrupted:
		return ExitInterrupted
	case turn.StatusAborted:
		if permissionRequired(out.Summary) {
			return ExitPermissionRequired
		}
		return ExitAborted
	default:
		return ExitError
	}
}

func permissionRequired(summary string) bool {
	s := strings.ToLower(strings.TrimSpace(summary))
	return strings.HasPrefix(s, "permission required:") || strings.HasPrefix(s, "user denied permission:")
}

// exitError carries a non-zero exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: ExitUsage, err: err}
}

// outcomeError is nil for completed turns. The outcome has already been rendered.
func outcomeError(out turn.Outcome) error {
	code := ExitCode(out)
	if code == ExitOK {
		return nil
	}
	return &exitError{code: code}
}

// codeFor returns the exit code for an error returned by a command.
func codeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitError
}
