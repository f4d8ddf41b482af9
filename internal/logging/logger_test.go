package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesJSONToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scribe.log")
	logger, err := NewLogger("info", "json", path)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("turn finished")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"turn finished"`)
	require.NotContains(t, string(data), "hidden")
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("chatty", "console")
	require.Error(t, err)
}
