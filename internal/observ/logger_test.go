package observ

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerProduction(t *testing.T) {
	logger, err := NewLogger("production", "warn")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Sync()

	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info enabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn not enabled at warn level")
	}
}

func TestNewLoggerDevelopment(t *testing.T) {
	logger, err := NewLogger("development", "debug")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug not enabled at debug level")
	}
}

func TestNewLoggerBadLevelDefaultsToInfo(t *testing.T) {
	logger, err := NewLogger("development", "shouty")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Sync()

	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug enabled after bad level should fall back to info")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info not enabled after bad level fallback")
	}
}
