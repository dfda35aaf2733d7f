package logging

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kingrea/lattice-hooks/internal/config"
)

func TestNewWritesJSONLines(t *testing.T) {
	cfg := config.Default(t.TempDir())
	logger, closer, err := New(cfg)
	require.NoError(t, err)

	logger.Info("worker completed", zap.String("worker", "security-orchestrator"))
	logger.Debug("dropped at info level")
	closer()

	data, err := os.ReadFile(cfg.LogPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "worker completed", entry["msg"])
	assert.Equal(t, "security-orchestrator", entry["worker"])
	assert.Equal(t, cfg.ProjectDir, entry["project"])
	assert.Contains(t, entry, "time")
}

func TestNewHonoursDebugLevel(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Settings.Log.Level = "debug"
	logger, closer, err := New(cfg)
	require.NoError(t, err)
	logger.Debug("probe")
	closer()

	data, err := os.ReadFile(cfg.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"probe"`)
}

func TestNewOrNopFallsBack(t *testing.T) {
	dir := t.TempDir()
	// A regular file where .claude should be makes the log dir impossible.
	require.NoError(t, os.WriteFile(dir+"/"+config.HooksDir, []byte("x"), 0o644))
	cfg := config.Default(dir)

	_, _, err := New(cfg)
	require.Error(t, err)

	logger, closer := NewOrNop(cfg)
	require.NotNil(t, logger)
	logger.Info("ignored")
	closer()
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, _, err := New(nil)
	assert.Error(t, err)
}
