// Package protocol implements the two ways a host process drives an
// Executor: a single render per process invocation, or a persistent
// server reading framed requests from stdin.
package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Munawwar/ssr-sandbox/internal/audit"
	"github.com/Munawwar/ssr-sandbox/internal/sandbox"
)

// Deps bundles what both modes need, kept separate from Settings so tests
// can substitute in-memory readers/writers without touching flags or files.
type Deps struct {
	Executor *sandbox.Executor
	Audit    *audit.Logger // nil is valid: audit failures are logged, never fatal
	Stdout   io.Writer
	Stderr   io.Writer
}

// RunSingleShot renders entryPoint once with propsJSON (empty means "{}"),
// writes HTML to Stdout and console entries to Stderr, and returns the
// process exit code spec.md §6 calls for: 0 on success, 1 on error.
func RunSingleShot(ctx context.Context, deps Deps, entryPoint, propsJSON string) int {
	props, err := parseProps(propsJSON)
	if err != nil {
		fmt.Fprintf(deps.Stderr, "ssr-sandbox: %v\n", err)
		return 1
	}

	start := time.Now()
	result, err := deps.Executor.Execute(ctx, entryPoint, props)
	duration := time.Since(start)

	deps.logAudit(entryPoint, result, err, duration)

	if err != nil {
		fmt.Fprintf(deps.Stderr, "ssr-sandbox: %v\n", err)
		return 1
	}

	writeConsole(deps.Stderr, result.Console)
	fmt.Fprintln(deps.Stdout, result.HTML)
	return 0
}

// RunServer reads framed requests from stdin until EOF, writing a framed
// response to deps.Stdout for each. It returns only on clean shutdown
// (EOF on the entry line) or a fatal read error.
func RunServer(ctx context.Context, deps Deps, stdin io.Reader, ready func()) error {
	reader := bufio.NewReader(stdin)
	if ready != nil {
		ready()
	}

	for {
		entryLine, err := readLine(reader)
		if err != nil {
			if err == io.EOF {
				return nil // graceful shutdown
			}
			return fmt.Errorf("read entry line: %w", err)
		}
		entry := strings.TrimSpace(entryLine)

		propsLine, err := readLine(reader)
		if err != nil && err != io.EOF {
			return fmt.Errorf("read props line: %w", err)
		}
		propsJSON := strings.TrimSpace(propsLine)

		props, parseErr := parseProps(propsJSON)
		if parseErr != nil {
			writeResponse(deps.Stdout, false, parseErr.Error())
			continue
		}

		start := time.Now()
		result, execErr := deps.Executor.Execute(ctx, entry, props)
		duration := time.Since(start)

		deps.logAudit(entry, result, execErr, duration)

		if execErr != nil {
			writeResponse(deps.Stdout, false, execErr.Error())
			continue
		}

		writeConsole(deps.Stderr, result.Console)
		writeResponse(deps.Stdout, true, result.HTML)
	}
}

// readLine reads one line, stripping the trailing newline, and returns
// io.EOF only when zero bytes were read (matching the original's
// BufRead::read_line == 0 shutdown signal rather than bufio.Scanner's
// line-at-EOF-without-newline ambiguity.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if len(line) == 0 && err != nil {
		return "", err
	}
	return line, nil
}

func parseProps(propsJSON string) (any, error) {
	if propsJSON == "" {
		return map[string]any{}, nil
	}
	var props any
	if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
		return nil, fmt.Errorf("invalid props JSON: %w", err)
	}
	return props, nil
}

func writeConsole(w io.Writer, console sandbox.ConsoleOutput) {
	for _, line := range console.Logs {
		fmt.Fprintf(w, "[LOG] %s\n", line)
	}
	for _, line := range console.Warns {
		fmt.Fprintf(w, "[WARN] %s\n", line)
	}
	for _, line := range console.Errors {
		fmt.Fprintf(w, "[ERROR] %s\n", line)
	}
}

// writeResponse writes the length-prefixed frame spec.md §4.6 defines.
func writeResponse(w io.Writer, ok bool, body string) {
	status := "Error"
	if ok {
		status = "Ok"
	}
	fmt.Fprintf(w, "Status:%s\nLength:%d\n\n%s", status, len(body), body)
}

func (d Deps) logAudit(entryPath string, result sandbox.SsrResult, err error, duration time.Duration) {
	if d.Audit == nil {
		return
	}

	entry := audit.Entry{
		EntryPath:       entryPath,
		DurationMS:      duration.Milliseconds(),
		HTMLBytes:       len(result.HTML),
		IsolateRecycled: d.Executor.Recycled(),
	}
	switch {
	case err == nil:
		entry.Outcome = "ok"
	case strings.Contains(err.Error(), "timed out"):
		entry.Outcome = "timeout"
		entry.Error = err.Error()
	default:
		entry.Outcome = "error"
		entry.Error = err.Error()
	}

	if logErr := d.Audit.Log(entry); logErr != nil {
		fmt.Fprintf(d.Stderr, "ssr-sandbox: warning: audit write failed: %v\n", logErr)
	}
}
