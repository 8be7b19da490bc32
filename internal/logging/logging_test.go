package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"json to file", Config{Path: tmpDir, Level: "info", Format: "json"}, false},
		{"text to file", Config{Path: tmpDir, Level: "debug", Format: "text"}, false},
		{"invalid level", Config{Path: tmpDir, Level: "loud"}, true},
		{"stderr only", Config{Level: "info", Format: "json"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil {
				_ = logger.Close()
			}
		})
	}
}

func TestLoggerWritesDailyFile(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := New(Config{Path: tmpDir, Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Debug("debug msg")
	logger.Infof("info %s", "formatted")
	logger.WarnCtx("warn ctx", map[string]any{"task_id": 7})
	logger.Err(os.ErrNotExist).Msg("error event")

	logFile := filepath.Join(tmpDir, "slotwise-"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 4 {
		t.Errorf("expected 4 log lines, got %d", lines)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, zerolog.InfoLevel).WithComponent("store")
	if logger.component != "store" {
		t.Errorf("component = %q, want store", logger.component)
	}

	logger.InfoCtx("task started", map[string]any{"task_id": 3, "transition": "start"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["component"] != "store" {
		t.Errorf("component field = %v, want store", entry["component"])
	}
	if entry["transition"] != "start" {
		t.Errorf("transition field = %v, want start", entry["transition"])
	}
	if entry["task_id"] != float64(3) {
		t.Errorf("task_id field = %v, want 3", entry["task_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, zerolog.WarnLevel)
	logger.Info("dropped")
	logger.Warn("kept")
	if strings.Contains(buf.String(), "dropped") {
		t.Error("info message written at warn level")
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Error("warn message missing")
	}
}

func TestLogRetention(t *testing.T) {
	tmpDir := t.TempDir()

	for _, days := range []int{-10, -8, -3} {
		name := filepath.Join(tmpDir, "slotwise-"+time.Now().AddDate(0, 0, days).Format("2006-01-02")+".log")
		if err := os.WriteFile(name, []byte("old"), 0644); err != nil {
			t.Fatalf("write old log: %v", err)
		}
	}

	logger, err := New(Config{Path: tmpDir, Level: "info", RetentionDays: 7})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer func() { _ = logger.Close() }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		files, _ := ListLogFiles(tmpDir)
		if len(files) == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	files, _ := ListLogFiles(tmpDir)
	t.Errorf("expected today's and the 3-day-old file to remain, got %v", files)
}

func TestListLogFilesNewestFirst(t *testing.T) {
	tmpDir := t.TempDir()
	for _, days := range []int{0, -1, -2} {
		name := filepath.Join(tmpDir, "slotwise-"+time.Now().AddDate(0, 0, days).Format("2006-01-02")+".log")
		if err := os.WriteFile(name, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "other.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	files, err := (&Logger{logDir: tmpDir}).LogFiles()
	if err != nil {
		t.Fatalf("LogFiles() error: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 log files, got %d", len(files))
	}
	if files[0] < files[1] || files[1] < files[2] {
		t.Errorf("log files not sorted newest first: %v", files)
	}
}

func TestGlobalLogger(t *testing.T) {
	if err := Init(Config{Path: t.TempDir(), Level: "info"}); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	t.Cleanup(func() {
		globalMu.Lock()
		_ = globalLogger.Close()
		globalLogger = nil
		globalMu.Unlock()
	})

	if c := Component("loop"); c.component != "loop" {
		t.Errorf("Component() component = %q, want loop", c.component)
	}
	if Get() == nil {
		t.Error("Get() returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    zerolog.Level
		wantErr bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"trace", zerolog.InfoLevel, true},
		{"", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.level)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestNopAndCloseAreSafe(t *testing.T) {
	l := Nop()
	l.Info("ignored")
	if err := l.Close(); err != nil {
		t.Errorf("Close() on nop logger = %v", err)
	}
	var nilLogger *Logger
	if err := nilLogger.Close(); err != nil {
		t.Errorf("Close() on nil logger = %v", err)
	}
}
