package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"atticqueue/internal/logging"
)

func newFileLogger(t *testing.T, format, level string) (func() string, *logging.Options) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "test.log")
	opts := &logging.Options{Format: format, Level: level, OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}}
	return func() string {
		content, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		return string(content)
	}, opts
}

func TestRunIDTagsEveryRecord(t *testing.T) {
	read, opts := newFileLogger(t, "json", "info")
	opts.RunID = "20261018T101500.000Z"
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.NewComponentLogger(logger, "dispatcher").Info("dispatcher started")
	logger.Warn("second")

	lines := strings.Split(strings.TrimSpace(read()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d: %q", len(lines), lines)
	}
	for _, line := range lines {
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if record[logging.FieldRunID] != opts.RunID {
			t.Fatalf("record missing run id: %v", record)
		}
	}
}

func TestConsoleLoggerLiftsComponentAndPath(t *testing.T) {
	read, opts := newFileLogger(t, "console", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger = logging.NewComponentLogger(logger, "upload")
	logger.Info("upload finished",
		logging.String(logging.FieldArtifact, "/nix/store/0123456789abcdfghijklmnpqrsvwxyz-hello-2.12"),
		logging.Int64("nar_size", 4096),
	)

	content := read()
	if !strings.Contains(content, "INFO [upload] 0123456789abcdfghijklmnpqrsvwxyz-hello-2.12 - upload finished") {
		t.Fatalf("unexpected header: %q", content)
	}
	if !strings.Contains(content, "    nar_size: 4096") {
		t.Fatalf("expected indented field, got %q", content)
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information at info level, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	read, opts := newFileLogger(t, "console", "debug")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("with caller")
	if !strings.Contains(read(), "logger_test.go:") {
		t.Fatal("expected caller information in debug logs")
	}
}

func TestConsoleLoggerQuotesAmbiguousValues(t *testing.T) {
	read, opts := newFileLogger(t, "console", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("upload failed",
		logging.Error(errors.New("exit status 1: path not valid")),
		logging.String("selector", "cache=main"),
		logging.String("cache", "main"),
		logging.String("empty", ""),
	)

	content := read()
	for _, want := range []string{
		`    error: "exit status 1: path not valid"`,
		`    selector: "cache=main"`,
		"    cache: main\n",
		`    empty: ""`,
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %q in %q", want, content)
		}
	}
}

func TestJSONLoggerEmitsStructuredRecord(t *testing.T) {
	read, opts := newFileLogger(t, "json", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := logging.WithCorrelationID(context.Background(), "req-1")
	ctx = logging.WithArtifact(ctx, "/nix/store/abc-foo")
	logging.WithContext(ctx, logger).Info("queued")

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(read())), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record["msg"] != "queued" || record["level"] != "info" {
		t.Fatalf("unexpected record: %v", record)
	}
	if record[logging.FieldCorrelationID] != "req-1" || record[logging.FieldArtifact] != "/nix/store/abc-foo" {
		t.Fatalf("expected context fields, got %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts field, got %v", record)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	read, opts := newFileLogger(t, "json", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "upload failed", "upload_failed",
		logging.Error(errors.New("boom")),
		logging.String(logging.FieldImpact, "path will be retried"),
	)

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(read())), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record[logging.FieldEventType] != "upload_failed" {
		t.Fatalf("expected event_type, got %v", record)
	}
	if record[logging.FieldErrorHint] != "check logs for details" {
		t.Fatalf("expected default hint, got %v", record)
	}
	if record[logging.FieldImpact] != "path will be retried" {
		t.Fatalf("expected caller impact preserved, got %v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestCleanupOldLogsKeepsCurrentAndRecent(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "atticqueue-old.log")
	current := filepath.Join(dir, "atticqueue-current.log")
	recent := filepath.Join(dir, "atticqueue-recent.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, current, recent, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{old, current, other} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	logging.CleanupOldLogs(logging.NewNop(), 5, dir, "atticqueue-*.log", current)

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	for _, path := range []string{current, recent, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}
