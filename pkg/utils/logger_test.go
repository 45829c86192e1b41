package utils

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	t.Run("debug mode returns development logger", func(t *testing.T) {
		logger, err := NewLogger(true)
		if err != nil {
			t.Fatalf("NewLogger(true) error: %v", err)
		}
		if !logger.Core().Enabled(zap.DebugLevel) {
			t.Error("debug level should be enabled")
		}
		_ = logger.Sync()
	})

	t.Run("production mode returns production logger", func(t *testing.T) {
		logger, err := NewLogger(false)
		if err != nil {
			t.Fatalf("NewLogger(false) error: %v", err)
		}
		if logger.Core().Enabled(zap.DebugLevel) {
			t.Error("debug level should be disabled")
		}
		_ = logger.Sync()
	})
}

func TestNewCLILogger(t *testing.T) {
	tests := []struct {
		debug   bool
		infoOn  bool
		debugOn bool
	}{
		{debug: false, infoOn: false, debugOn: false},
		{debug: true, infoOn: true, debugOn: true},
	}
	for _, tt := range tests {
		logger, err := NewCLILogger(tt.debug)
		if err != nil {
			t.Fatalf("NewCLILogger(%v) error: %v", tt.debug, err)
		}
		if got := logger.Core().Enabled(zap.InfoLevel); got != tt.infoOn {
			t.Errorf("debug=%v: info enabled = %v", tt.debug, got)
		}
		if got := logger.Core().Enabled(zap.DebugLevel); got != tt.debugOn {
			t.Errorf("debug=%v: debug enabled = %v", tt.debug, got)
		}
		if !logger.Core().Enabled(zap.WarnLevel) {
			t.Errorf("debug=%v: warn should always be enabled", tt.debug)
		}
	}
}
