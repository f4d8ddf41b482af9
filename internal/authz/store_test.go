package authz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAuthorizationsStoresRelativeAndAbsolute(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	outside, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	path := filepath.Join(root, ".scribe", "authorizations.yaml")

	s, err := Open(path, root)
	require.NoError(t, err)

	inside := filepath.Join(root, "notes.txt")
	far := filepath.Join(outside, "data.csv")
	require.NoError(t, s.AddAuthorizations("Bash", []string{inside, far, inside}))
	require.Equal(t, []string{"notes.txt", filepath.ToSlash(far)}, s.Patterns("Bash"))

	require.True(t, s.IsAuthorized("Bash", []string{inside}))
	require.True(t, s.IsAuthorized("Bash", []string{inside, far}))
	require.False(t, s.IsAuthorized("Write", []string{inside}))
	require.False(t, s.IsAuthorized("Bash", nil))

	reopened, err := Open(path, root)
	require.NoError(t, err)
	require.Equal(t, s.Patterns("Bash"), reopened.Patterns("Bash"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "notes.txt")
}

func TestOpenRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authorizations.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools: [unclosed"), 0o644))

	_, err := Open(path, dir)
	require.Error(t, err)
}

func TestAddAuthorizationsRejectsBlank(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "a.yaml"), dir)
	require.NoError(t, err)
	require.ErrorIs(t, s.AddAuthorizations("Read", []string{"  "}), ErrInvalidPattern)
}
