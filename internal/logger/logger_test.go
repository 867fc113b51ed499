package logger

import (
	"arbitrage-bot-go/internal/models"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arb.log")
	InitLogger(models.LogConfig{Level: "debug", Output: "file", File: path, MaxSize: 1})

	S().Infow("cycle finished", "signals", 3)
	require.NoError(t, L().Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cycle finished")
	assert.Contains(t, string(data), "INFO")
}

func TestNewFallsBackToInfoLevel(t *testing.T) {
	l := New(models.LogConfig{Level: "not-a-level", Output: "console"})
	assert.True(t, l.Core().Enabled(0))   // info
	assert.False(t, l.Core().Enabled(-1)) // debug
}
