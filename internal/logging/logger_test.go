package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kloak/internal/config"
)

func TestNewRejectsUnknownLevelAndFormat(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected level error")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected format error")
	}
}

func TestJSONHandlerFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, lvl, false))
	NewComponentLogger(logger, "stripper").Info("stripped", String(FieldSource, "IMG_0001.JPG"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["level"] != "info" || line["msg"] != "stripped" {
		t.Fatalf("unexpected line %v", line)
	}
	if line[FieldComponent] != "stripper" || line[FieldSource] != "IMG_0001.JPG" {
		t.Fatalf("missing attributes in %v", line)
	}
	if _, ok := line["ts"]; !ok {
		t.Fatalf("expected ts key in %v", line)
	}
}

func TestConsoleHandlerFormatsComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false, false))
	NewComponentLogger(logger, "batch").WithGroup("job").Info("done", String("name", "a b"), Int("n", 3))

	out := buf.String()
	if !strings.Contains(out, "INFO batch: done") {
		t.Fatalf("unexpected prefix in %q", out)
	}
	if !strings.Contains(out, `job.name="a b"`) || !strings.Contains(out, "job.n=3") {
		t.Fatalf("unexpected attrs in %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Fatalf("color codes without colorize: %q", out)
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, lvl, false, true))
	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered, got %q", buf.String())
	}
	logger.Warn("loud")
	if !strings.Contains(buf.String(), ansiYellow+"WARN"+ansiReset) {
		t.Fatalf("expected colored warn label, got %q", buf.String())
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newJSONHandler(&buf, new(slog.LevelVar), false))
	WarnWithContext(logger, "strip failed", "strip_failed", String(FieldErrorHint, "try again"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line[FieldEventType] != "strip_failed" || line[FieldErrorHint] != "try again" {
		t.Fatalf("unexpected fields %v", line)
	}
	if line[FieldImpact] == nil {
		t.Fatalf("expected default impact in %v", line)
	}
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Format = "json"

	logger, err := NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Info("hello")

	data, err := os.ReadFile(cfg.LogPath())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Fatalf("log file missing line: %q", data)
	}
}

func TestPruneLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -40)

	write := func(name string, mod time.Time) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
		return path
	}
	stale := write("kloak-old.log", old)
	active := write("kloak.log", old)
	fresh := write("kloak-new.log", now)
	other := write("notes.txt", old)

	removed := PruneLogs(NewNop(), Retention{
		Dir:     dir,
		Pattern: "*.log",
		Days:    30,
		Keep:    []string{active},
		Now:     func() time.Time { return now },
	})
	if removed != 1 {
		t.Fatalf("removed %d files, want 1", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale log should be gone: %v", err)
	}
	for _, path := range []string{active, fresh, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("%s should remain: %v", path, err)
		}
	}

	if n := PruneLogs(nil, Retention{Dir: dir, Days: 0}); n != 0 {
		t.Fatalf("zero retention removed %d", n)
	}
}

func TestJSONHandlerTimestampAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newJSONHandler(&buf, new(slog.LevelVar), false))
	logger.WithGroup("export").Info("progress", String("time", "kept"), Int64("written", 42))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ts, _ := line["ts"].(string)
	if _, err := time.Parse(jsonTimeLayout, ts); err != nil {
		t.Fatalf("ts %q does not match layout: %v", ts, err)
	}
	group, ok := line["export"].(map[string]any)
	if !ok || group["time"] != "kept" || group["written"] != float64(42) {
		t.Fatalf("grouped attrs altered: %v", line)
	}
}
