package logging

import (
	"testing"

	"TrafficLens/internal/config"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "debug", Development: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Errorf("Expected debug level to be enabled")
	}

	logger, err = New(config.LoggingConfig{Level: "warn"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Errorf("Expected info level to be disabled at warn")
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatalf("Expected an error for an unknown level")
	}
}
