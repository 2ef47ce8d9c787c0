package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustWrite(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestResolveEntry_AllowsValidEntry(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "entry.js", "module.exports = {}")

	l, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	spec, err := l.ResolveEntry("entry.js")
	if err != nil {
		t.Fatalf("ResolveEntry: %v", err)
	}
	if !strings.HasPrefix(string(spec), "file://") {
		t.Errorf("expected file:// specifier, got %s", spec)
	}
}

func TestResolve_AllowsValidRelativeImport(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "entry.js", "require('./helper.js')")
	mustWrite(t, dir, "helper.js", "module.exports = {}")

	l, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry, err := l.ResolveEntry("entry.js")
	if err != nil {
		t.Fatalf("ResolveEntry: %v", err)
	}
	helper, err := l.Resolve("./helper.js", entry)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := l.Load(helper); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestResolve_AllowsBareChunkSpecifier(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "entry.js", "")
	mustWrite(t, dir, "chunk-abc123.js", "module.exports = {}")

	l, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry, _ := l.ResolveEntry("entry.js")
	spec, err := l.Resolve("chunk-abc123.js", entry)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := l.Load(spec); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestResolve_BlocksRemoteURLs(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "entry.js", "")
	l, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry, _ := l.ResolveEntry("entry.js")

	for _, specifier := range []string{
		"http://evil.example/payload.js",
		"https://evil.example/payload.js",
		"data:text/javascript,alert(1)",
		"blob:https://evil.example/x",
	} {
		if _, err := l.Resolve(specifier, entry); err == nil {
			t.Errorf("expected remote specifier %q to be rejected", specifier)
		}
	}
}

func TestResolve_BlocksPathTraversal(t *testing.T) {
	root := t.TempDir()
	chunksDir := filepath.Join(root, "chunks")
	mustWrite(t, chunksDir, "entry.js", "")
	mustWrite(t, root, "secret.js", "module.exports = 'leaked'")

	l, err := New(chunksDir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry, _ := l.ResolveEntry("entry.js")

	for _, specifier := range []string{
		"../secret.js",
		"../../etc/passwd.js",
		"./../secret.js",
	} {
		if _, err := l.Resolve(specifier, entry); err == nil {
			t.Errorf("expected traversal specifier %q to be rejected", specifier)
		}
	}
}

func TestResolve_BlocksAbsolutePathEscape(t *testing.T) {
	root := t.TempDir()
	chunksDir := filepath.Join(root, "chunks")
	mustWrite(t, chunksDir, "entry.js", "")
	outside := mustWrite(t, root, "outside.js", "module.exports = {}")

	l, err := New(chunksDir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry, _ := l.ResolveEntry("entry.js")

	if _, err := l.Resolve(outside, entry); err == nil {
		t.Errorf("expected absolute escape to outside.js to be rejected")
	}
}

func TestResolve_BlocksNonJSFiles(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "entry.js", "")
	mustWrite(t, dir, "data.json", "{}")
	mustWrite(t, dir, "shell.sh", "#!/bin/sh")

	l, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry, _ := l.ResolveEntry("entry.js")

	for _, specifier := range []string{"./data.json", "./shell.sh"} {
		if _, err := l.Resolve(specifier, entry); err == nil {
			t.Errorf("expected non-JS specifier %q to be rejected", specifier)
		}
	}
}

func TestResolve_AllowsMjsExtension(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "entry.js", "")
	mustWrite(t, dir, "esm.mjs", "export default {}")

	l, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry, _ := l.ResolveEntry("entry.js")
	spec, err := l.Resolve("./esm.mjs", entry)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := l.Load(spec); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestResolve_DenyGlobTightensContainment(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "entry.js", "")
	mustWrite(t, dir, "__fixtures__/fixture.js", "module.exports = {}")

	l, err := New(dir, []string{"__fixtures__/**"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry, _ := l.ResolveEntry("entry.js")

	if _, err := l.Resolve("./__fixtures__/fixture.js", entry); err == nil {
		t.Error("expected deny-glob to reject fixture import")
	}

	l2, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry2, _ := l2.ResolveEntry("entry.js")
	if _, err := l2.Resolve("./__fixtures__/fixture.js", entry2); err != nil {
		t.Errorf("expected fixture import to be allowed without deny-glob, got %v", err)
	}
}

func TestResolve_BlocksSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	chunksDir := filepath.Join(root, "chunks")
	mustWrite(t, chunksDir, "entry.js", "")
	mustWrite(t, root, "secret.js", "module.exports = 'leaked'")

	if err := os.Symlink(filepath.Join(root, "secret.js"), filepath.Join(chunksDir, "link.js")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	l, err := New(chunksDir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry, _ := l.ResolveEntry("entry.js")

	if _, err := l.Resolve("./link.js", entry); err == nil {
		t.Error("expected symlink escape to be rejected")
	}
}

func TestLoad_BlocksSymlinkEscapeEvenWithoutGoingThroughResolve(t *testing.T) {
	root := t.TempDir()
	chunksDir := filepath.Join(root, "chunks")
	mustWrite(t, chunksDir, "entry.js", "")
	mustWrite(t, root, "secret.js", "module.exports = 'leaked'")

	linkPath := filepath.Join(chunksDir, "link.js")
	if err := os.Symlink(filepath.Join(root, "secret.js"), linkPath); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	l, err := New(chunksDir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// A forged specifier pointing straight at the symlink, bypassing
	// Resolve entirely (mirroring how a host op surface exposes Load
	// directly to an isolate).
	forged := Specifier(fileURL(linkPath).String())
	if _, err := l.Load(forged); err == nil {
		t.Error("expected Load to reject a specifier resolving to a symlink that escapes the chunks dir")
	}
}

func TestNew_RejectsMissingDirectory(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "does-not-exist"), nil); err == nil {
		t.Error("expected error for missing chunks directory")
	}
}
