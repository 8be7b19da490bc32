// Package audit records task transitions and oracle calls. Records go to an
// append-only JSONL log and to SQLite tables; a failing sink never fails the
// operation that produced the record.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes audit events.
type EventType string

const (
	EventTransition EventType = "transition"
	EventOracleCall EventType = "oracle_call"
)

// Event is a single JSONL audit entry.
type Event struct {
	Timestamp  time.Time     `json:"timestamp"`
	EventType  EventType     `json:"event_type"`
	TaskID     int64         `json:"task_id,omitempty"`
	Transition string        `json:"transition,omitempty"`
	Op         string        `json:"op,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Attempt    int           `json:"attempt,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
	Inputs     string        `json:"inputs,omitempty"`
	Outputs    string        `json:"outputs,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`
}

// FileLogger writes audit events to one append-only file per day.
type FileLogger struct {
	logDir    string
	file      *os.File
	mu        sync.Mutex
	sessionID string
	now       func() time.Time
}

// DefaultDir returns the default audit directory.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "slotwise", "audit")
}

// NewFileLogger creates a JSONL audit logger in logDir.
func NewFileLogger(logDir string) (*FileLogger, error) {
	if logDir == "" {
		logDir = DefaultDir()
	}
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit log dir: %w", err)
	}

	l := &FileLogger{
		logDir:    logDir,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) currentPath() string {
	return filepath.Join(l.logDir, fmt.Sprintf("audit-%s.jsonl", l.now().Format("2006-01-02")))
}

func (l *FileLogger) openLogFile() error {
	f, err := os.OpenFile(l.currentPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	l.file = f
	return nil
}

// rotate switches to the current day's file. Caller holds mu.
func (l *FileLogger) rotate() error {
	if l.file != nil {
		if l.file.Name() == l.currentPath() {
			return nil
		}
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("closing old audit log: %w", err)
		}
		l.file = nil
	}
	return l.openLogFile()
}

// Log appends event and syncs it to disk.
func (l *FileLogger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotate(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	event.SessionID = l.sessionID
	if event.RequestID == "" {
		event.RequestID = uuid.NewString()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("syncing audit log: %w", err)
	}
	return nil
}

// Close closes the current log file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// LogFiles lists audit files, oldest first.
func (l *FileLogger) LogFiles() ([]string, error) {
	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return nil, fmt.Errorf("reading audit log dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".jsonl" {
			files = append(files, filepath.Join(l.logDir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReadEvents reads audit events from a log file, skipping malformed lines.
func ReadEvents(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var events []Event
	for _, line := range splitLines(data) {
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
