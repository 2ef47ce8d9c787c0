package sandbox

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	v8 "rogchap.com/v8go"

	"github.com/Munawwar/ssr-sandbox/internal/loader"
	"github.com/Munawwar/ssr-sandbox/internal/sanitize"
)

//go:embed bootstrap.js
var bootstrapSource string

// SsrResult is the outcome of one successful render.
type SsrResult struct {
	HTML    string
	Console ConsoleOutput
}

// Executor holds exactly one warm V8 isolate for the process's lifetime
// (or until a timeout poisons it and it is recreated), driving renders
// against a single chunks directory.
//
// Lock ordering: Execute holds mu for the whole call. There is no nested
// lock, unlike the teacher's per-tool isolate map, because this system has
// exactly one isolate instead of one per tool.
type Executor struct {
	mu     sync.Mutex
	cfg    Config
	loader *loader.Loader

	iso     *v8.Isolate
	ctx     *v8.Context
	console *consoleCapture
	leaked  bool // true if a timed-out render's goroutine may still be running

	lastRecycled bool // true if the most recent Execute call recreated the isolate
}

// Recycled reports whether the most recently completed Execute call found
// the isolate poisoned by a prior timeout and recreated it before
// rendering. Intended for audit logging, not for control flow.
func (e *Executor) Recycled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRecycled
}

// NewExecutor validates cfg, constructs the loader, and boots the first
// isolate. The isolate is created eagerly (matching the original
// implementation's create_runtime, called once at process startup) rather
// than lazily on first render, since server mode wants the V8 cold start
// to happen before it reports itself ready.
func NewExecutor(cfg Config) (*Executor, error) {
	ld, err := loader.New(cfg.ChunksDir, cfg.DenyGlobs)
	if err != nil {
		return nil, fmt.Errorf("create loader: %w", err)
	}

	e := &Executor{cfg: cfg, loader: ld}
	if err := e.bootIsolate(); err != nil {
		return nil, err
	}
	return e, nil
}

// bootIsolate creates a fresh isolate, injects the host op surface, and
// runs the bootstrap script. Caller must hold mu or be constructing e.
func (e *Executor) bootIsolate() error {
	iso := v8.NewIsolateWith(0, e.cfg.MaxHeapBytes)
	global := v8.NewObjectTemplate(iso)
	console := &consoleCapture{}

	if err := injectConsoleAPI(iso, global, console); err != nil {
		iso.Dispose()
		return fmt.Errorf("inject console API: %w", err)
	}
	if err := injectCryptoAPI(iso, global); err != nil {
		iso.Dispose()
		return fmt.Errorf("inject crypto API: %w", err)
	}
	if err := injectBase64API(iso, global); err != nil {
		iso.Dispose()
		return fmt.Errorf("inject base64 API: %w", err)
	}
	if err := injectFetchAPI(iso, global, FetchConfig{AllowedOrigins: e.cfg.AllowedOrigins}); err != nil {
		iso.Dispose()
		return fmt.Errorf("inject fetch API: %w", err)
	}
	if err := injectRequireAPI(iso, global, e.loader); err != nil {
		iso.Dispose()
		return fmt.Errorf("inject require API: %w", err)
	}

	ctx := v8.NewContext(iso, global)
	if _, err := ctx.RunScript(bootstrapSource, "bootstrap.js"); err != nil {
		ctx.Close()
		iso.Dispose()
		return wrapJSError(err, "bootstrap.js")
	}

	e.iso = iso
	e.ctx = ctx
	e.console = console
	e.leaked = false
	return nil
}

// recreateIsolate disposes the current (possibly leaked) isolate and boots
// a fresh one. Caller must hold mu.
func (e *Executor) recreateIsolate() error {
	e.disposeIsolateLocked()
	return e.bootIsolate()
}

func (e *Executor) disposeIsolateLocked() {
	if e.ctx != nil {
		e.ctx.Close()
		e.ctx = nil
	}
	if e.iso != nil {
		e.iso.Dispose()
		e.iso = nil
	}
}

// Close releases the isolate. Safe to call once; not safe to call
// concurrently with Execute.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposeIsolateLocked()
}

// Execute sanitizes props, resolves entryPath against the loader, and
// renders it, enforcing cfg.Timeout if it is non-zero. If a previous call
// left the isolate in a leaked (poisoned) state, it is transparently
// recreated before this render runs.
func (e *Executor) Execute(ctx context.Context, entryPath string, rawProps any) (SsrResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastRecycled = e.leaked
	if e.leaked {
		if err := e.recreateIsolate(); err != nil {
			return SsrResult{}, fmt.Errorf("recreate isolate after previous timeout: %w", err)
		}
	}

	cleaned, err := sanitize.Props(rawProps)
	if err != nil {
		return SsrResult{}, err
	}

	propsJSON, err := json.Marshal(cleaned)
	if err != nil {
		return SsrResult{}, fmt.Errorf("marshal sanitized props: %w", err)
	}

	entry, err := e.loader.ResolveEntry(entryPath)
	if err != nil {
		return SsrResult{}, err
	}

	html, renderErr := e.renderWithTimeout(ctx, entry, string(propsJSON))
	console := e.console.reset()
	if renderErr != nil {
		return SsrResult{Console: console}, renderErr
	}
	return SsrResult{HTML: html, Console: console}, nil
}

// renderWithTimeout runs renderOnce on a goroutine and races it against
// cfg.Timeout (if set) and ctx. On either firing first, it terminates the
// isolate and waits isolateGracePeriod for the goroutine to exit before
// marking the isolate leaked — mirroring the teacher's
// executeWithTimeout/disposeIsolate state machine, simplified to this
// system's single always-present isolate.
func (e *Executor) renderWithTimeout(ctx context.Context, entry loader.Specifier, propsJSON string) (string, error) {
	type result struct {
		html string
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		html, err := e.renderOnce(entry, propsJSON)
		resultCh <- result{html: html, err: err}
	}()

	var timeoutCh <-chan time.Time
	if e.cfg.Timeout > 0 {
		timer := time.NewTimer(e.cfg.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case r := <-resultCh:
		return r.html, r.err

	case <-timeoutCh:
		e.iso.TerminateExecution()
		select {
		case <-resultCh:
			// The render goroutine returned within the grace period
			// (interrupted by the termination, or finishing just before
			// it); the isolate is kept and not marked leaked.
		case <-time.After(isolateGracePeriod):
			e.leaked = true
		}
		return "", fmt.Errorf("Render timed out after %dms", e.cfg.Timeout.Milliseconds())

	case <-ctx.Done():
		e.iso.TerminateExecution()
		select {
		case <-resultCh:
		case <-time.After(isolateGracePeriod):
			e.leaked = true
		}
		return "", fmt.Errorf("render cancelled: %w", ctx.Err())
	}
}

// renderOnce invokes the dispatcher once, synchronously draining the
// microtask queue so an async render() function's returned promise has
// settled before its state is inspected. The empty "pump" script after
// the real call is what forces that checkpoint: V8's default (Auto)
// microtask policy runs pending microtasks whenever a top-level script
// finishes, and the dispatcher call itself is one such top-level script.
func (e *Executor) renderOnce(entry loader.Specifier, propsJSON string) (string, error) {
	script := fmt.Sprintf(
		"__ssr_internal_render__(%s, %s)",
		escapeJSString(string(entry)),
		escapeJSString(propsJSON),
	)

	val, err := e.ctx.RunScript(script, string(entry))
	if err != nil {
		return "", fmt.Errorf("Render function threw: %s", describeJSError(err))
	}

	if _, err := e.ctx.RunScript("void 0", "<microtask-pump>"); err != nil {
		return "", fmt.Errorf("Render function threw: %s", describeJSError(err))
	}

	if val.IsPromise() {
		promise, err := val.AsPromise()
		if err != nil {
			return "", fmt.Errorf("render: %w", err)
		}
		switch promise.State() {
		case v8.Fulfilled:
			val = promise.Result()
		case v8.Rejected:
			return "", fmt.Errorf("Render function threw: %s", promise.Result().String())
		default:
			return "", fmt.Errorf("Render function returned unresolved promise")
		}
	}

	if !val.IsString() {
		return "", fmt.Errorf("Render function must return a string")
	}
	return val.String(), nil
}

func describeJSError(err error) string {
	if jsErr, ok := err.(*v8.JSError); ok {
		return jsErr.Message
	}
	return err.Error()
}
