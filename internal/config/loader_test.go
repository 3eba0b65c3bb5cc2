package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Browser.MaxInstances != Default().Browser.MaxInstances {
		t.Errorf("MaxInstances = %d, want default", cfg.Browser.MaxInstances)
	}
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "browser:\n  max_instances: 9\n  headless: false\nai:\n  api_key: test-key\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Browser.MaxInstances != 9 {
		t.Errorf("MaxInstances = %d, want 9", cfg.Browser.MaxInstances)
	}
	if cfg.Browser.Headless {
		t.Error("Headless = true, want false (overridden)")
	}
	if cfg.AI.APIKey != "test-key" {
		t.Errorf("APIKey = %q, want test-key", cfg.AI.APIKey)
	}
	// Unset fields retain their defaults.
	if cfg.Scheduler.TickInterval != time.Second {
		t.Errorf("TickInterval = %v, want default 1s", cfg.Scheduler.TickInterval)
	}
}
