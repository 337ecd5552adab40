package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cartd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "listen: \":9000\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9000" {
		t.Errorf("listen = %q, want :9000", cfg.Listen)
	}

	p, ok := cfg.Platforms["ubereats"]
	if !ok {
		t.Fatal("ubereats platform not defaulted")
	}
	if p.MinDelay != 5*time.Second {
		t.Errorf("min_delay = %v, want 5s", p.MinDelay)
	}
	if p.MaxConcurrent != 1 {
		t.Errorf("max_concurrent = %d, want 1", p.MaxConcurrent)
	}
	if p.Cooldown != 30*time.Minute {
		t.Errorf("cooldown = %v, want 30m", p.Cooldown)
	}
	if p.MaxFailures != 3 {
		t.Errorf("max_failures = %d, want 3", p.MaxFailures)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
platforms:
  doordash:
    min_delay: 2s
    max_concurrent: 3
    cooldown: 10m
    max_failures: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.Platforms["doordash"]
	if p.MinDelay != 2*time.Second || p.MaxConcurrent != 3 ||
		p.Cooldown != 10*time.Minute || p.MaxFailures != 5 {
		t.Errorf("doordash config not applied: %+v", p)
	}
	// Other platforms still get defaults.
	if cfg.Platforms["instacart"].MaxConcurrent != 1 {
		t.Error("instacart defaults missing")
	}
}

func TestValidateSealingKey(t *testing.T) {
	cfg := Default()
	cfg.Store.SealingKey = "deadbeef"
	if err := cfg.Validate(); err == nil {
		t.Error("short sealing key accepted")
	}

	cfg.Store.SealingKey = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty sealing key rejected: %v", err)
	}
}
