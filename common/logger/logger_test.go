package logger_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/YaganovValera/dxfeed-go/common/logger"
)

func TestNew_Levels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", ""} {
		if _, err := logger.New(logger.Config{Level: lvl, DevMode: true}); err != nil {
			t.Errorf("level %q: unexpected error %v", lvl, err)
		}
	}
	if _, err := logger.New(logger.Config{Level: "invalid"}); err == nil {
		t.Error("expected error for invalid level, got nil")
	}
}

func TestNew_FileRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	l, err := logger.New(logger.Config{Level: "info", File: logger.FileConfig{Path: path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Named("dxfeed").Info("connected", zap.String("address", "demo.dxfeed.com:7300"))
	l.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(b) == 0 {
		t.Fatal("log file is empty")
	}
}

func TestWithContext_TraceAndRequestID(t *testing.T) {
	l, _ := logger.New(logger.Config{Level: "info", DevMode: true})
	ctx := logger.ContextWithTraceID(context.Background(), "trace-123")
	ctx = logger.ContextWithRequestID(ctx, "req-456")
	l.WithContext(ctx).Info("test message")
	l.WithContext(context.Background()).Info("no ids")
}

func TestNop(t *testing.T) {
	l := logger.Nop()
	l.Named("x").With(zap.Int("n", 1)).Error("dropped")
	l.Sync()
}
