package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kingrea/lattice-hooks/internal/config"
)

// New builds a JSON logger that appends to .claude/logs/lattice-hooks.log so
// users can inspect hook failures after the host has moved on. Stdout is
// reserved for the hook response, so nothing is ever written there.
//
// The returned func flushes and closes the log file.
func New(cfg *config.Config) (*zap.Logger, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("logging: config is required")
	}
	level, err := zapcore.ParseLevel(cfg.Settings.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: level %q: %w", cfg.Settings.Log.Level, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath()), 0o755); err != nil {
		return nil, nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open log file: %w", err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(f),
		zap.NewAtomicLevelAt(level),
	)
	logger := zap.New(core).With(zap.String("project", cfg.ProjectDir))
	closer := func() {
		_ = logger.Sync()
		_ = f.Close()
	}
	return logger, closer, nil
}

// NewOrNop is New with a silent fallback. Hooks must never fail because the
// log file is unwritable.
func NewOrNop(cfg *config.Config) (*zap.Logger, func()) {
	logger, closer, err := New(cfg)
	if err != nil {
		return zap.NewNop(), func() {}
	}
	return logger, closer
}
