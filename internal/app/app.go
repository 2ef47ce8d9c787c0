// Package app wires configuration, the executor, and the audit logger
// together and dispatches to single-shot or server mode.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/Munawwar/ssr-sandbox/internal/audit"
	"github.com/Munawwar/ssr-sandbox/internal/config"
	"github.com/Munawwar/ssr-sandbox/internal/maintenance"
	"github.com/Munawwar/ssr-sandbox/internal/protocol"
	"github.com/Munawwar/ssr-sandbox/internal/sandbox"
)

// Version is the baked-in CLI version string reported by --version.
const Version = "0.1.0"

// StateDir is where the audit log and any future per-process state lives.
const StateDir = ".ssr-sandbox"

// banner renders s bold in the accent color when stderr is a TTY, else
// returns it unstyled.
func banner(s string) string {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")).Render(s)
	}
	return s
}

// Run parses args, builds Settings, boots an Executor, and dispatches to
// single-shot or server mode. It returns the process exit code.
func Run(ctx context.Context, args []string) int {
	if len(args) > 0 && (args[0] == "--version" || args[0] == "-v") {
		fmt.Println(Version)
		return 0
	}

	if len(args) > 0 && args[0] == "gc" {
		return runGC(args[1:])
	}

	settings, chunksDir, entryPoint, propsJSON, err := resolveSettings(args)
	if err != nil {
		printUsage()
		fmt.Fprintf(os.Stderr, "ssr-sandbox: %v\n", err)
		return 2
	}

	if chunksDir == "" {
		printUsage()
		fmt.Fprintln(os.Stderr, "ssr-sandbox: missing required arguments")
		return 2
	}
	if !settings.Server && entryPoint == "" {
		printUsage()
		fmt.Fprintln(os.Stderr, "ssr-sandbox: missing required arguments")
		return 2
	}

	cfg, err := settings.Resolve(chunksDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssr-sandbox: %v\n", err)
		return 1
	}

	executor, err := sandbox.NewExecutor(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssr-sandbox: %v\n", err)
		return 1
	}
	defer executor.Close()

	auditLogger, err := audit.NewLogger(StateDir, os.Getpid())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssr-sandbox: warning: audit logger init failed: %v\n", err)
		auditLogger = nil
	} else {
		defer auditLogger.Close()
	}

	deps := protocol.Deps{
		Executor: executor,
		Audit:    auditLogger,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}

	if settings.Server {
		fmt.Fprintln(os.Stderr, banner("[ssr-sandbox] server ready, reading from stdin..."))
		if err := protocol.RunServer(ctx, deps, os.Stdin, nil); err != nil {
			fmt.Fprintf(os.Stderr, "ssr-sandbox: %v\n", err)
			return 1
		}
		fmt.Fprintln(os.Stderr, banner("[ssr-sandbox] server shutting down"))
		return 0
	}

	return protocol.RunSingleShot(ctx, deps, entryPoint, propsJSON)
}

// resolveSettings loads sandbox.toml (if any) then overlays CLI flags.
func resolveSettings(args []string) (config.Settings, string, string, string, error) {
	defaults := config.DefaultSettings()

	if path := config.ConfigPath(args); path != "" {
		loaded, warnings, err := config.LoadFile(path, defaults)
		if err != nil {
			return config.Settings{}, "", "", "", err
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "ssr-sandbox: warning: %s\n", w)
		}
		defaults = loaded
	}

	return config.ParseFlags(args, defaults)
}

func runGC(args []string) int {
	maxAge := maintenance.DefaultMaxAge
	dryRun := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dry-run":
			dryRun = true
		case "--max-age":
			if i+1 < len(args) {
				d, err := time.ParseDuration(args[i+1])
				if err != nil {
					fmt.Fprintf(os.Stderr, "ssr-sandbox: invalid --max-age: %v\n", err)
					return 2
				}
				maxAge = d
				i++
			}
		}
	}

	result, err := maintenance.PruneAuditLogs(maintenance.PruneOptions{
		StateDir: StateDir,
		MaxAge:   maxAge,
		DryRun:   dryRun,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssr-sandbox: gc: %v\n", err)
		return 1
	}
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "ssr-sandbox: gc: warning: %s\n", e)
	}
	fmt.Fprintf(os.Stderr, "ssr-sandbox: gc: removed %d audit log(s)\n", result.Deleted)
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "SSR Sandbox - Secure server-side rendering runtime")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Single-shot mode:")
	fmt.Fprintln(os.Stderr, "  ssr-sandbox [options] <chunks-dir> <entry-point> [props-json]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Server mode (persistent process):")
	fmt.Fprintln(os.Stderr, "  ssr-sandbox --server [options] <chunks-dir>")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Maintenance:")
	fmt.Fprintln(os.Stderr, "  ssr-sandbox gc [--max-age <dur>] [--dry-run]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Options:")
	fmt.Fprintln(os.Stderr, "  --max-heap-size <MB>  Maximum V8 heap size in megabytes (default: 64, 0 = unlimited)")
	fmt.Fprintln(os.Stderr, "  --timeout <ms>        Maximum render time in milliseconds (default: 5000, 0 = unlimited)")
	fmt.Fprintln(os.Stderr, "  --allow-origin <url>  Allow fetch() to this origin, may repeat")
	fmt.Fprintln(os.Stderr, "  --deny-glob <pattern> Deny module specifiers matching this glob, may repeat")
	fmt.Fprintln(os.Stderr, "  --config <path>       Load settings from a sandbox.toml file")
}
