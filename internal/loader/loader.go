// Package loader is the only bridge between a sandbox isolate and source
// code on disk. It resolves and loads JavaScript chunks from a single
// allowed directory, rejecting anything that would let an isolate escape
// that directory or load non-JavaScript content.
package loader

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Specifier is a normalized file:// URL within a Loader's chunks directory.
type Specifier string

// Loader resolves and loads .js/.mjs files from a single canonicalized
// directory, rejecting path traversal, remote specifiers, and
// non-JavaScript extensions.
type Loader struct {
	chunksDir string   // canonicalized absolute path, no trailing slash
	denyGlobs []string // doublestar patterns matched against paths relative to chunksDir
}

// New creates a Loader rooted at chunksDir. chunksDir must exist and be a
// directory; construction fails otherwise, matching SandboxConfig's
// invariant that chunks_dir is valid before an isolate is ever created.
// denyGlobs is an optional list of doublestar patterns (matched against the
// path relative to chunksDir) that are rejected even though they would
// otherwise pass containment and extension checks.
func New(chunksDir string, denyGlobs []string) (*Loader, error) {
	canonical, err := filepath.Abs(chunksDir)
	if err != nil {
		return nil, fmt.Errorf("resolve chunks dir: %w", err)
	}
	canonical, err = filepath.EvalSymlinks(canonical)
	if err != nil {
		return nil, fmt.Errorf("canonicalize chunks dir: %w", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat chunks dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("chunks dir %q is not a directory", chunksDir)
	}

	patterns := make([]string, len(denyGlobs))
	copy(patterns, denyGlobs)

	return &Loader{chunksDir: canonical, denyGlobs: patterns}, nil
}

// ChunksDir returns the canonicalized chunks directory.
func (l *Loader) ChunksDir() string {
	return l.chunksDir
}

// ResolveEntry resolves a host-supplied entry path (relative to chunksDir,
// or absolute) into a Specifier, applying the same containment and
// extension checks as Resolve. It has no referrer because it is the root
// of the module graph.
func (l *Loader) ResolveEntry(entryPath string) (Specifier, error) {
	var abs string
	if filepath.IsAbs(entryPath) {
		abs = entryPath
	} else {
		abs = filepath.Join(l.chunksDir, entryPath)
	}
	return l.finish(specifierFromPath(abs))
}

// Resolve maps a (specifier, referrer) pair to a Specifier, or returns a
// non-retryable error. referrer must be a Specifier previously returned by
// this Loader (or empty, for bare/absolute specifiers that don't need one).
func (l *Loader) Resolve(specifier string, referrer Specifier) (Specifier, error) {
	lower := specifier
	switch {
	case strings.HasPrefix(lower, "http://"),
		strings.HasPrefix(lower, "https://"),
		strings.HasPrefix(lower, "data:"),
		strings.HasPrefix(lower, "blob:"):
		return "", fmt.Errorf("remote imports are forbidden: %s", specifier)
	}

	var resolved *url.URL
	var err error

	switch {
	case strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
		if referrer == "" {
			return "", fmt.Errorf("relative specifier %q requires a referrer", specifier)
		}
		refURL, perr := url.Parse(string(referrer))
		if perr != nil {
			return "", fmt.Errorf("invalid referrer %q: %w", referrer, perr)
		}
		relURL, perr := url.Parse(specifier)
		if perr != nil {
			return "", fmt.Errorf("failed to resolve %q: %w", specifier, perr)
		}
		resolved = refURL.ResolveReference(relURL)

	case strings.HasPrefix(specifier, "file://"):
		resolved, err = url.Parse(specifier)
		if err != nil {
			return "", fmt.Errorf("invalid file URL %q: %w", specifier, err)
		}

	case strings.HasPrefix(specifier, "/"):
		resolved = fileURL(specifier)

	default:
		// Bare specifier: resolve from the chunks directory root. This
		// supports bundler chunk names like "chunk-abc123.js". The referrer
		// is never used for bare specifiers, so a malicious referrer string
		// cannot influence this path.
		resolved = fileURL(filepath.Join(l.chunksDir, specifier))
	}

	if resolved.Scheme != "file" {
		return "", fmt.Errorf("only file:// URLs allowed, got: %s", resolved.Scheme)
	}

	return l.finish(resolved.Path)
}

// finish applies the containment and extension checks shared by every
// resolution path and returns the canonical Specifier.
func (l *Loader) finish(rawPath string) (Specifier, error) {
	canonical, err := canonicalize(rawPath)
	if err != nil {
		return "", fmt.Errorf("access denied: %q could not be resolved: %w", rawPath, err)
	}

	if !l.contains(canonical) {
		return "", fmt.Errorf("access denied: %q is outside the allowed directory", canonical)
	}

	if !hasAllowedExtension(canonical) {
		return "", fmt.Errorf("only .js and .mjs files allowed, got: %s", canonical)
	}

	if l.denied(canonical) {
		return "", fmt.Errorf("access denied: %q matches a deny pattern", canonical)
	}

	return Specifier(fileURL(canonical).String()), nil
}

// Load re-resolves symlinks and re-checks containment and extension
// (defense in depth against a forged or since-symlinked Specifier — it is
// reachable directly from an isolate's host op surface, not just through
// Resolve) and returns the file's UTF-8 source text.
func (l *Loader) Load(specifier Specifier) (string, error) {
	u, err := url.Parse(string(specifier))
	if err != nil {
		return "", fmt.Errorf("invalid specifier %q: %w", specifier, err)
	}

	canonical, err := canonicalize(u.Path)
	if err != nil {
		return "", fmt.Errorf("access denied: %q could not be resolved: %w", u.Path, err)
	}

	if !l.contains(canonical) {
		return "", fmt.Errorf("access denied: %s", canonical)
	}
	if !hasAllowedExtension(canonical) {
		return "", fmt.Errorf("invalid extension: %s", canonical)
	}
	if l.denied(canonical) {
		return "", fmt.Errorf("access denied: %s matches a deny pattern", canonical)
	}

	data, err := os.ReadFile(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to read %q: %w", canonical, err)
	}
	return string(data), nil
}

// contains reports whether canonicalized path p is inside the chunks
// directory. p must already be canonicalized (symlinks resolved, .. collapsed).
func (l *Loader) contains(p string) bool {
	rel, err := filepath.Rel(l.chunksDir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (l *Loader) denied(p string) bool {
	if len(l.denyGlobs) == 0 {
		return false
	}
	rel, err := filepath.Rel(l.chunksDir, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range l.denyGlobs {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func hasAllowedExtension(p string) bool {
	ext := filepath.Ext(p)
	return ext == ".js" || ext == ".mjs"
}

// canonicalize resolves symlinks and collapses ".." segments. Unlike
// filepath.EvalSymlinks alone, it tolerates a non-existent final path
// segment (e.g. a typo'd import) by canonicalizing the parent directory
// and re-joining, so a clear "file not found" surfaces later from Load
// rather than a confusing symlink error here.
func canonicalize(p string) (string, error) {
	clean := filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		return resolved, nil
	}
	dir, base := filepath.Split(clean)
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

func specifierFromPath(p string) string {
	return filepath.Clean(p)
}

func fileURL(path string) *url.URL {
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
}
