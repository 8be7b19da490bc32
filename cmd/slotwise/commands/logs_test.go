package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLogFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFormatLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DBG",
		"info":  "INF",
		"warn":  "WRN",
		"error": "ERR",
		"fatal": "FAT",
		"":      "???",
	}
	for in, want := range tests {
		if got := formatLogLevel(in); got != want {
			t.Errorf("formatLogLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPrintLogLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "structured",
			line: `{"level":"info","time":"2026-03-02T09:00:00Z","message":"window assigned","component":"planner","task_id":7}`,
			want: []string{"INF", "[planner]", "window assigned", "task=7"},
		},
		{
			name: "with error",
			line: `{"level":"error","time":"2026-03-02T09:00:00Z","message":"oracle call failed","error":"timeout"}`,
			want: []string{"ERR", "oracle call failed", "error=timeout"},
		},
		{
			name: "plain text",
			line: "not json at all",
			want: []string{"not json at all"},
		},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		printLogLine(&buf, tt.line)
		for _, w := range tt.want {
			if !strings.Contains(buf.String(), w) {
				t.Errorf("%s: output %q missing %q", tt.name, buf.String(), w)
			}
		}
	}
}

func TestReadLastLines(t *testing.T) {
	dir := t.TempDir()
	older := writeLogFile(t, dir, "slotwise-2026-03-01.log",
		`{"level":"info","message":"a1","component":"planner"}`,
		`{"level":"info","message":"a2","component":"oracle"}`,
	)
	newer := writeLogFile(t, dir, "slotwise-2026-03-02.log",
		`{"level":"info","message":"b1","component":"planner"}`,
		`{"level":"info","message":"b2","component":"scheduler"}`,
		`{"level":"info","message":"b3","component":"planner"}`,
	)
	files := []string{newer, older}

	got := readLastLines(files, 4, componentFilter(""))
	if len(got) != 4 {
		t.Fatalf("readLastLines() returned %d lines, want 4", len(got))
	}
	if !strings.Contains(got[0], "a2") || !strings.Contains(got[3], "b3") {
		t.Errorf("readLastLines() order wrong: %v", got)
	}

	planner := readLastLines(files, 10, componentFilter("planner"))
	if len(planner) != 3 {
		t.Fatalf("planner lines = %d, want 3: %v", len(planner), planner)
	}
	for i, want := range []string{"a1", "b1", "b3"} {
		if !strings.Contains(planner[i], want) {
			t.Errorf("planner[%d] = %q, want %s", i, planner[i], want)
		}
	}
}

func TestShowLogsMissingDir(t *testing.T) {
	var buf bytes.Buffer
	if err := showLogs(&buf, filepath.Join(t.TempDir(), "missing"), 10, componentFilter("")); err != nil {
		t.Fatalf("showLogs() error = %v", err)
	}
	if !strings.Contains(buf.String(), "No log files found") {
		t.Errorf("showLogs() = %q", buf.String())
	}
}

func TestIsLogFile(t *testing.T) {
	tests := map[string]bool{
		"/tmp/slotwise-2026-03-02.log": true,
		"slotwise-2026-03-02.log.gz":   false,
		"other-2026-03-02.log":         false,
	}
	for path, want := range tests {
		if got := isLogFile(path); got != want {
			t.Errorf("isLogFile(%q) = %v, want %v", path, got, want)
		}
	}
}
