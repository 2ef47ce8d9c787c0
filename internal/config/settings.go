// Package config resolves the layered configuration a front end needs to
// build a sandbox.Config: built-in defaults, an optional TOML file, and
// CLI flags, each overriding the last.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Munawwar/ssr-sandbox/internal/sandbox"
)

// Settings is the pre-resolution configuration surface. Units mirror the
// CLI/TOML surface (megabytes, milliseconds) rather than sandbox.Config's
// bytes/time.Duration, since that's the shape a human edits.
type Settings struct {
	Server         bool     `toml:"-"`
	MaxHeapSizeMB  int      `toml:"max_heap_size_mb"`
	TimeoutMS      int      `toml:"timeout_ms"`
	AllowedOrigins []string `toml:"allow_origins"`
	DenyGlobs      []string `toml:"deny_globs"`
}

// DefaultSettings returns the built-in defaults: 64MB heap, 5000ms timeout,
// no allowed origins, no deny globs.
func DefaultSettings() Settings {
	return Settings{
		MaxHeapSizeMB: 64,
		TimeoutMS:     5000,
	}
}

// LoadFile overlays a sandbox.toml file's values onto defaults. A missing
// file is not an error — first-run and single-shot invocations need no
// file at all. Unknown keys are returned as warnings, not failures,
// matching the teacher's config.LoadFrom.
func LoadFile(path string, defaults Settings) (Settings, []string, error) {
	settings := defaults

	meta, err := toml.DecodeFile(path, &settings)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil, nil
		}
		return Settings{}, nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	var warnings []string
	for _, key := range meta.Undecoded() {
		warnings = append(warnings, fmt.Sprintf("unknown config key: %s", key))
	}
	return settings, warnings, nil
}

// ParseFlags parses args (excluding the program name) into settings,
// overriding any value already present in base. A flag repeated
// (--allow-origin, --deny-glob) appends rather than replaces.
func ParseFlags(args []string, base Settings) (Settings, string /* chunksDir */, string /* entryPoint */, string /* propsJSON */, error) {
	fs := flag.NewFlagSet("ssr-sandbox", flag.ContinueOnError)

	settings := base
	var configPath string
	var origins stringSliceFlag
	var denyGlobs stringSliceFlag

	fs.BoolVar(&settings.Server, "server", settings.Server, "run in persistent server mode")
	fs.IntVar(&settings.MaxHeapSizeMB, "max-heap-size", settings.MaxHeapSizeMB, "maximum V8 heap size in megabytes (0 = unlimited)")
	fs.IntVar(&settings.TimeoutMS, "timeout", settings.TimeoutMS, "maximum render time in milliseconds (0 = unlimited)")
	fs.Var(&origins, "allow-origin", "allow fetch() to this origin, may repeat")
	fs.Var(&denyGlobs, "deny-glob", "deny module specifiers matching this glob, may repeat")
	fs.StringVar(&configPath, "config", "", "path to sandbox.toml (default: ./sandbox.toml if present)")

	if err := fs.Parse(args); err != nil {
		return Settings{}, "", "", "", err
	}

	if len(origins) > 0 {
		settings.AllowedOrigins = append(append([]string{}, settings.AllowedOrigins...), origins...)
	}
	if len(denyGlobs) > 0 {
		settings.DenyGlobs = append(append([]string{}, settings.DenyGlobs...), denyGlobs...)
	}

	positional := fs.Args()
	var chunksDir, entryPoint, propsJSON string
	if len(positional) > 0 {
		chunksDir = positional[0]
	}
	if len(positional) > 1 {
		entryPoint = positional[1]
	}
	if len(positional) > 2 {
		propsJSON = positional[2]
	}

	_ = configPath // consumed by the caller before ParseFlags via a pre-scan; see ConfigPath
	return settings, chunksDir, entryPoint, propsJSON, nil
}

// ConfigPath returns --config's value if present in args (either
// "--config path" or "--config=path", matching flag.Parse's own two forms),
// else "sandbox.toml" if that file exists in the current directory, else "".
func ConfigPath(args []string) string {
	for i, a := range args {
		if value, ok := strings.CutPrefix(a, "--config="); ok {
			return value
		}
		if value, ok := strings.CutPrefix(a, "-config="); ok {
			return value
		}
		if (a == "--config" || a == "-config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	if _, err := os.Stat("sandbox.toml"); err == nil {
		return "sandbox.toml"
	}
	return ""
}

// Resolve turns Settings plus a chunks directory into an immutable
// sandbox.Config, converting MB to bytes and ms to time.Duration.
func (s Settings) Resolve(chunksDir string) (sandbox.Config, error) {
	abs, err := filepath.Abs(chunksDir)
	if err != nil {
		return sandbox.Config{}, fmt.Errorf("resolve chunks dir: %w", err)
	}

	var maxHeap uint64
	if s.MaxHeapSizeMB > 0 {
		maxHeap = uint64(s.MaxHeapSizeMB) * 1024 * 1024
	}

	var timeout time.Duration
	if s.TimeoutMS > 0 {
		timeout = time.Duration(s.TimeoutMS) * time.Millisecond
	}

	return sandbox.Config{
		ChunksDir:      abs,
		DenyGlobs:      s.DenyGlobs,
		MaxHeapBytes:   maxHeap,
		Timeout:        timeout,
		AllowedOrigins: s.AllowedOrigins,
	}, nil
}

// stringSliceFlag implements flag.Value for repeatable string flags.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%v", []string(*s))
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}
