// Package audit appends one JSON-lines record per render attempt to a
// process-scoped log file, independent of the render's success or failure.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is a single audit log record. Props are never included — they may
// carry user PII — only metadata about the attempt.
type Entry struct {
	Timestamp       string `json:"timestamp"` // RFC3339
	EntryPath       string `json:"entry_path"`
	Outcome         string `json:"outcome"` // "ok", "error", "timeout"
	DurationMS      int64  `json:"duration_ms"`
	HTMLBytes       int    `json:"html_bytes,omitempty"`
	Error           string `json:"error,omitempty"`
	IsolateRecycled bool   `json:"isolate_recycled,omitempty"`
}

// Logger appends Entry records to a process-specific JSON-lines file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger opens (creating if needed) "<stateDir>/audit-<pid>.jsonl" in
// append mode.
func NewLogger(stateDir string, pid int) (*Logger, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	path := filepath.Join(stateDir, fmt.Sprintf("audit-%d.jsonl", pid))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return &Logger{file: file, path: path}, nil
}

// Log appends entry, stamping Timestamp if unset. Write failures are
// returned to the caller but must never abort a render — the caller is
// expected to log them to stderr and continue.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit logger closed")
	}
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	l.file = nil
	return nil
}
