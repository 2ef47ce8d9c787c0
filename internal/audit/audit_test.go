package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLogger_AppendsOneLinePerEntry(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, 42)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	if err := l.Log(Entry{EntryPath: "entry.js", Outcome: "ok", DurationMS: 5, HTMLBytes: 20}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(Entry{EntryPath: "entry.js", Outcome: "timeout", DurationMS: 100, Error: "Render timed out after 100ms"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := filepath.Join(dir, "audit-42.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var first Entry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first entry: %v", err)
	}
	if first.Outcome != "ok" || first.Timestamp == "" {
		t.Errorf("first entry = %+v", first)
	}
}

func TestLogger_LogAfterCloseErrors(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, 1)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Log(Entry{Outcome: "ok"}); err == nil {
		t.Error("expected Log after Close to error")
	}
}
