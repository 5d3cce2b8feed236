// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"bindery/internal/config"
	"bindery/internal/logging"
	"bindery/internal/registry"
)

// NewConfig returns a validated config rooted in temporary directories.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.OutputDir = filepath.Join(base, "out")
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "log")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	return &cfg
}

// MustOpenRegistry opens a registry over a temporary store, closing both when
// the test finishes.
func MustOpenRegistry(t *testing.T, cfg *config.Config) *registry.Registry {
	t.Helper()
	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("open registry store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	reg := registry.New(store, logging.NewNop())
	t.Cleanup(reg.Close)
	return reg
}

// WriteBookDir creates a directory of fake audio sources plus a cover image
// and returns its path. Files are named so lexical order is chapter order.
func WriteBookDir(t *testing.T, title string, chapters []string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), title)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i, content := range chapters {
		name := filepath.Join(dir, string(rune('0'+i+1))+"0 - chapter.mp3")
		if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}
