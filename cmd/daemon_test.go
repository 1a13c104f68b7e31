package cmd

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"gotrack/config"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range tests {
		if got := parseLogLevel(input); got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestDaemonLogWriter(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "daemon.log")
	writer, closeLog, err := daemonLogWriter(config.DaemonConfig{LogFile: path, LogMaxSizeMB: 1}, false)
	if err != nil {
		t.Fatalf("log writer: %v", err)
	}
	rotating, ok := writer.(*lumberjack.Logger)
	if !ok || rotating.MaxSize != 1 {
		t.Fatalf("expected rotating file logger, got %T", writer)
	}
	if _, err := writer.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	closeLog()
	if content, _ := os.ReadFile(path); string(content) != "hello\n" {
		t.Fatalf("unexpected log content %q", content)
	}

	writer, closeLog, err = daemonLogWriter(config.DaemonConfig{LogFile: path}, true)
	if err != nil || writer != os.Stderr {
		t.Fatalf("expected stderr in foreground, got %T (%v)", writer, err)
	}
	closeLog()
}

func TestConfigReloadHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	valid := configReloadHandler(logger, func() error { return nil })
	valid(fsnotify.Event{Name: "/home/me/.gotrack.yaml", Op: fsnotify.Write})
	if !strings.Contains(buf.String(), "restart the daemon") {
		t.Fatalf("expected reload log, got %q", buf.String())
	}

	buf.Reset()
	invalid := configReloadHandler(logger, func() error { return errors.New("validation failed") })
	invalid(fsnotify.Event{Name: "/home/me/.gotrack.yaml", Op: fsnotify.Create})
	if !strings.Contains(buf.String(), "validation failed") {
		t.Fatalf("expected validation error in log, got %q", buf.String())
	}

	buf.Reset()
	valid(fsnotify.Event{Name: "/home/me/.gotrack.yaml", Op: fsnotify.Chmod})
	if buf.Len() != 0 {
		t.Fatalf("expected chmod to be ignored, got %q", buf.String())
	}
}
