package permission

import (
	"strings"

	shlex "github.com/anmitsu/go-shlex"
)

var deleteCommands = map[string]struct{}{
	"rm": {}, "rmdir": {}, "del": {}, "mv": {},
}

var redirectOperators = map[string]struct{}{
	">": {}, ">>": {}, "1>": {}, "2>": {}, "1>>": {}, "2>>": {},
}

// SplitCommand tokenizes a shell command with POSIX quoting rules. Unbalanced quotes
// or dangling escapes fall back to whitespace splitting.
func SplitCommand(command string) []string {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}
	tokens, err := shlex.Split(command, true)
	if err != nil {
		return strings.Fields(command)
	}
	return tokens
}

// ExtractDeleteTargets returns the canonical paths a delete-class command would remove
// or move away. Non-delete commands yield nothing.
func ExtractDeleteTargets(command, cwd string) []string {
	tokens := SplitCommand(command)
	if len(tokens) == 0 {
		return nil
	}
	if _, ok := deleteCommands[tokens[0]]; !ok {
		return nil
	}
	if tokens[0] == "mv" {
		return canonicalAll(mvSources(tokens[1:]), cwd)
	}
	return canonicalAll(positionalArgs(tokens[1:]), cwd)
}

// mvSources drops the destination argument unless the destination was given via
// -t/--target-directory, in which case every positional argument is a source.
func mvSources(args []string) []string {
	var sources []string
	targetDir := false
	literal := false
	for i := 0; i < len(args); i++ {
		tok := args[i]
		if !literal {
			switch {
			case tok == "--":
				literal = true
				continue
			case tok == "-t" || tok == "--target-directory":
				if i+1 < len(args) {
					targetDir = true
					i++
					continue
				}
			case strings.HasPrefix(tok, "--target-directory="):
				targetDir = true
				continue
			}
			if strings.HasPrefix(tok, "-") {
				continue
			}
		}
		sources = append(sources, tok)
	}
	if !targetDir && len(sources) > 1 {
		sources = sources[:len(sources)-1]
	}
	return sources
}

func positionalArgs(args []string) []string {
	var out []string
	literal := false
	for _, tok := range args {
		if !literal && tok == "--" {
			literal = true
			continue
		}
		if !literal && strings.HasPrefix(tok, "-") {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// ExtractRedirectionTargets returns the canonical paths written to by output
// redirections in tokens, including operators glued to a word such as "echo x>out".
func ExtractRedirectionTargets(tokens []string, cwd string) []string {
	var targets []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if _, ok := redirectOperators[tok]; ok {
			if i+1 < len(tokens) {
				if c := Canonicalize(tokens[i+1], cwd); c != "" {
					targets = append(targets, c)
				}
			}
			i++
			continue
		}
		if idx := strings.LastIndex(tok, ">"); idx >= 0 {
			if c := Canonicalize(tok[idx+1:], cwd); c != "" {
				targets = append(targets, c)
			}
		}
	}
	return targets
}

// ExtractCommandPaths returns canonical paths for every argument (after the command
// word) that looks like a filesystem path.
func ExtractCommandPaths(tokens []string, cwd string) []string {
	if len(tokens) < 2 {
		return nil
	}
	var paths []string
	for _, tok := range tokens[1:] {
		if p, ok := tokenPath(tok); ok {
			if c := Canonicalize(ExpandHome(p), cwd); c != "" {
				paths = append(paths, c)
			}
		}
	}
	return paths
}

func tokenPath(tok string) (string, bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" || strings.HasPrefix(tok, "-") || strings.Contains(tok, "://") {
		return "", false
	}
	if _, value, ok := strings.Cut(tok, "="); ok {
		value = strings.TrimSpace(value)
		if looksRooted(value) {
			return value, true
		}
		return "", false
	}
	if looksRooted(tok) || strings.Contains(tok, "/") {
		return tok, true
	}
	return "", false
}

func looksRooted(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "~") || strings.HasPrefix(s, ".")
}
