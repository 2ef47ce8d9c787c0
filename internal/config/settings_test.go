package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestResolve_ConvertsUnits(t *testing.T) {
	s := Settings{MaxHeapSizeMB: 128, TimeoutMS: 2500}
	dir := t.TempDir()

	cfg, err := s.Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.MaxHeapBytes != 128*1024*1024 {
		t.Errorf("MaxHeapBytes = %d, want %d", cfg.MaxHeapBytes, 128*1024*1024)
	}
	if cfg.Timeout != 2500*time.Millisecond {
		t.Errorf("Timeout = %v, want 2500ms", cfg.Timeout)
	}
}

func TestResolve_ZeroMeansUnlimited(t *testing.T) {
	s := Settings{MaxHeapSizeMB: 0, TimeoutMS: 0}
	cfg, err := s.Resolve(t.TempDir())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.MaxHeapBytes != 0 || cfg.Timeout != 0 {
		t.Errorf("expected zero (unlimited) to pass through, got heap=%d timeout=%v", cfg.MaxHeapBytes, cfg.Timeout)
	}
}

func TestLoadFile_MissingFileReturnsDefaults(t *testing.T) {
	defaults := DefaultSettings()
	got, warnings, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"), defaults)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if warnings != nil {
		t.Errorf("warnings = %v, want nil", warnings)
	}
	if !reflect.DeepEqual(got, defaults) {
		t.Errorf("got %+v, want defaults %+v", got, defaults)
	}
}

func TestLoadFile_OverlaysValuesAndWarnsOnUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandbox.toml")
	contents := "max_heap_size_mb = 256\nallow_origins = [\"https://api.example.com\"]\nbogus_key = true\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}

	got, warnings, err := LoadFile(path, DefaultSettings())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got.MaxHeapSizeMB != 256 {
		t.Errorf("MaxHeapSizeMB = %d, want 256", got.MaxHeapSizeMB)
	}
	if len(got.AllowedOrigins) != 1 || got.AllowedOrigins[0] != "https://api.example.com" {
		t.Errorf("AllowedOrigins = %v", got.AllowedOrigins)
	}
	if got.TimeoutMS != DefaultSettings().TimeoutMS {
		t.Errorf("TimeoutMS should keep default, got %d", got.TimeoutMS)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want one entry for bogus_key", warnings)
	}
}

func TestParseFlags_OverridesBaseAndCollectsPositionals(t *testing.T) {
	base := DefaultSettings()
	settings, chunksDir, entryPoint, propsJSON, err := ParseFlags(
		[]string{"--timeout", "1000", "--allow-origin", "https://a.example.com", "./chunks", "entry.js", `{"a":1}`},
		base,
	)
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if settings.TimeoutMS != 1000 {
		t.Errorf("TimeoutMS = %d, want 1000", settings.TimeoutMS)
	}
	if len(settings.AllowedOrigins) != 1 || settings.AllowedOrigins[0] != "https://a.example.com" {
		t.Errorf("AllowedOrigins = %v", settings.AllowedOrigins)
	}
	if chunksDir != "./chunks" || entryPoint != "entry.js" || propsJSON != `{"a":1}` {
		t.Errorf("positionals = %q %q %q", chunksDir, entryPoint, propsJSON)
	}
}

func TestParseFlags_ServerFlag(t *testing.T) {
	settings, chunksDir, _, _, err := ParseFlags([]string{"--server", "./chunks"}, DefaultSettings())
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if !settings.Server {
		t.Error("Server = false, want true")
	}
	if chunksDir != "./chunks" {
		t.Errorf("chunksDir = %q", chunksDir)
	}
}

func TestConfigPath_ExplicitFlagWins(t *testing.T) {
	got := ConfigPath([]string{"--config", "/tmp/custom.toml", "./chunks"})
	if got != "/tmp/custom.toml" {
		t.Errorf("ConfigPath = %q", got)
	}
}

func TestConfigPath_EqualsFormIsRecognized(t *testing.T) {
	got := ConfigPath([]string{"--config=/tmp/custom.toml", "./chunks"})
	if got != "/tmp/custom.toml" {
		t.Errorf("ConfigPath = %q, want /tmp/custom.toml", got)
	}

	got = ConfigPath([]string{"-config=/tmp/other.toml"})
	if got != "/tmp/other.toml" {
		t.Errorf("ConfigPath = %q, want /tmp/other.toml", got)
	}
}
