package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadConfig(t.TempDir())
	if cfg != defaultConfig() {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestLoadConfigPartialFile(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(`{"sync":"full"}`), 0644)
	if err != nil {
		t.Fatal(err)
	}

	cfg := loadConfig(dir)
	if cfg.Sync != "full" {
		t.Errorf("sync = %q", cfg.Sync)
	}
	// Unset fields keep their defaults.
	if !cfg.Mirror || cfg.HandlerLimit != 16 {
		t.Errorf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadConfigBrokenFile(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(`{"sync":`), 0644)
	if err != nil {
		t.Fatal(err)
	}

	if cfg := loadConfig(dir); cfg != defaultConfig() {
		t.Errorf("got %+v, want defaults", cfg)
	}
}
