package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marcus/slotwise/internal/config"
	"github.com/marcus/slotwise/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View logs",
	Long: `View slotwise logs.

Displays recent log entries. Use --follow to stream logs in real-time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetInt("tail")
		follow, _ := cmd.Flags().GetBool("follow")
		component, _ := cmd.Flags().GetString("component")

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logDir := config.ExpandPath(cfg.Logging.Path)
		filter := componentFilter(component)

		if follow {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return followLogs(ctx, os.Stdout, logDir, tail, filter)
		}
		return showLogs(os.Stdout, logDir, tail, filter)
	},
}

func init() {
	logsCmd.Flags().IntP("tail", "n", 50, "Number of log lines to show")
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	logsCmd.Flags().StringP("component", "c", "", "Only show lines from this component (planner, oracle, scheduler, ...)")
	rootCmd.AddCommand(logsCmd)
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Level     string    `json:"level"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	TaskID    *int64    `json:"task_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type lineFilter func(logEntry, bool) bool

func componentFilter(component string) lineFilter {
	return func(e logEntry, parsed bool) bool {
		if component == "" {
			return true
		}
		return parsed && e.Component == component
	}
}

func logFiles(logDir string) ([]string, error) {
	files, err := logging.ListLogFiles(logDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading log dir: %w", err)
	}
	return files, nil
}

func showLogs(w io.Writer, logDir string, n int, keep lineFilter) error {
	files, err := logFiles(logDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(w, "No log files found.")
		return nil
	}
	for _, line := range readLastLines(files, n, keep) {
		printLogLine(w, line)
	}
	return nil
}

func followLogs(ctx context.Context, w io.Writer, logDir string, initialLines int, keep lineFilter) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	files, err := logFiles(logDir)
	if err != nil {
		return err
	}
	if len(files) > 0 && initialLines > 0 {
		for _, line := range readLastLines(files, initialLines, keep) {
			printLogLine(w, line)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(logDir); err != nil {
		return fmt.Errorf("watching log dir: %w", err)
	}

	t := &tailer{keep: keep, w: w}
	defer t.close()
	if len(files) > 0 {
		t.open(files[0], true)
	}

	fmt.Fprintln(w, "--- Following logs (Ctrl+C to exit) ---")
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// A new daily file appeared.
			if event.Has(fsnotify.Create) && event.Name != t.path && isLogFile(event.Name) {
				t.drain()
				t.open(event.Name, false)
			}
			if event.Has(fsnotify.Write) && event.Name == t.path {
				t.drain()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watcher error: %v\n", err)
		}
	}
}

// tailer reads appended lines from the current log file.
type tailer struct {
	path   string
	file   *os.File
	reader *bufio.Reader
	keep   lineFilter
	w      io.Writer
}

func (t *tailer) open(path string, seekEnd bool) {
	t.close()
	f, err := os.Open(path)
	if err != nil {
		return
	}
	if seekEnd {
		_, _ = f.Seek(0, io.SeekEnd)
	}
	t.path, t.file, t.reader = path, f, bufio.NewReader(f)
}

func (t *tailer) drain() {
	if t.reader == nil {
		return
	}
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(line, "\n")
		if e, ok := parseLogLine(line); t.keep(e, ok) {
			printLogLine(t.w, line)
		}
	}
}

func (t *tailer) close() {
	if t.file != nil {
		_ = t.file.Close()
	}
	t.file, t.reader = nil, nil
}

func isLogFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, "slotwise-") && strings.HasSuffix(name, ".log")
}

// readLastLines returns the last n kept lines across files (newest file first).
func readLastLines(files []string, n int, keep lineFilter) []string {
	var lines []string
	for _, file := range files {
		if len(lines) >= n {
			break
		}
		var kept []string
		for _, line := range readFileLines(file) {
			if e, ok := parseLogLine(line); keep(e, ok) {
				kept = append(kept, line)
			}
		}
		remaining := n - len(lines)
		if len(kept) > remaining {
			kept = kept[len(kept)-remaining:]
		}
		lines = append(kept, lines...)
	}
	return lines
}

func readFileLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func parseLogLine(line string) (logEntry, bool) {
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return logEntry{}, false
	}
	return entry, true
}

func printLogLine(w io.Writer, line string) {
	entry, ok := parseLogLine(line)
	if !ok {
		fmt.Fprintln(w, line)
		return
	}

	var b strings.Builder
	b.WriteString(entry.Time.Local().Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(formatLogLevel(entry.Level))
	if entry.Component != "" {
		fmt.Fprintf(&b, " [%s]", entry.Component)
	}
	b.WriteString(" ")
	b.WriteString(entry.Message)
	if entry.TaskID != nil {
		fmt.Fprintf(&b, " task=%d", *entry.TaskID)
	}
	if entry.Error != "" {
		fmt.Fprintf(&b, " error=%s", entry.Error)
	}
	fmt.Fprintln(w, b.String())
}

func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return "DBG"
	case "info":
		return "INF"
	case "warn":
		return "WRN"
	case "error":
		return "ERR"
	case "":
		return "???"
	}
	if len(level) > 3 {
		level = level[:3]
	}
	return strings.ToUpper(level)
}
