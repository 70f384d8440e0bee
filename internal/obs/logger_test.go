package obs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLogger_WithFileSink(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "monitor.log")
	log, err := NewLogger(LogConfig{Level: "debug", App: "monitor", Env: "test", File: file})
	require.NoError(t, err)

	log.Info("file sink message")
	_ = log.Sync()

	_, err = os.Stat(filepath.Dir(file))
	require.NoError(t, err)
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	log, err := NewLogger(LogConfig{Level: "loud"})
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(-1))
	require.True(t, log.Core().Enabled(0))
}
