// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden via -ldflags "-X".
	Version = "0.1.0"
	// Commit is the git commit hash injected at build time.
	Commit = "dev"
	// BuildDate is the build timestamp injected at build time.
	BuildDate = "unknown"
)

// Full returns a human-friendly version string.
func Full() string {
	return fmt.Sprintf("scribe %s (commit:%s, built:%s)", Version, Commit, BuildDate)
}

// UserAgent identifies scribe to the model API.
func UserAgent() string {
	return "scribe/" + Version
}
