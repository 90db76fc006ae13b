package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Sync.MaxAttempts != 3 {
		t.Errorf("expected 3 default attempts, got %d", cfg.Sync.MaxAttempts)
	}
	if cfg.Sync.InitialDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms initial delay, got %v", cfg.Sync.InitialDelay)
	}
	if cfg.Outbox.Enabled {
		t.Errorf("outbox must be opt-in")
	}
	if cfg.Outbox.SweepInterval != time.Minute {
		t.Errorf("expected 1m sweep interval, got %v", cfg.Outbox.SweepInterval)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	doc := `
agent:
  name: "ContentAgent"
playbooks:
  dir: "/etc/cloudflair/playbooks"
sync:
  endpoint: "https://tasks.cloudflair.dev/sync"
  max_attempts: 5
outbox:
  enabled: true
  sweep_interval: "30s"
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.Name != "ContentAgent" {
		t.Errorf("unexpected agent name: %s", cfg.Agent.Name)
	}
	if cfg.Playbooks.Dir != "/etc/cloudflair/playbooks" {
		t.Errorf("unexpected playbooks dir: %s", cfg.Playbooks.Dir)
	}
	if cfg.Sync.Endpoint != "https://tasks.cloudflair.dev/sync" || cfg.Sync.MaxAttempts != 5 {
		t.Errorf("unexpected sync config: %+v", cfg.Sync)
	}
	if !cfg.Outbox.Enabled || cfg.Outbox.SweepInterval != 30*time.Second {
		t.Errorf("unexpected outbox config: %+v", cfg.Outbox)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	os.Setenv("CLOUDFLAIR_AGENT_SECRET", "sk-from-env")
	os.Setenv("CLOUDFLAIR_SYNC_ENDPOINT", "https://env.example/sync")
	defer os.Unsetenv("CLOUDFLAIR_AGENT_SECRET")
	defer os.Unsetenv("CLOUDFLAIR_SYNC_ENDPOINT")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.Secret != "sk-from-env" {
		t.Errorf("env secret not applied")
	}
	if cfg.Sync.Endpoint != "https://env.example/sync" {
		t.Errorf("env endpoint not applied: %s", cfg.Sync.Endpoint)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty config")
	}
	cfg.Agent.Name = "ContentAgent"
	cfg.Agent.Secret = "sk-content"
	cfg.Playbooks.Dir = "./playbooks"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestIdentityFromConfig(t *testing.T) {
	cfg := &Config{}
	cfg.Agent.Name = "ContentAgent"
	cfg.Agent.Secret = "sk-content"
	id, err := cfg.Identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id.Name() != "ContentAgent" {
		t.Errorf("unexpected identity name: %s", id.Name())
	}

	cfg.Agent.Secret = ""
	if _, err := cfg.Identity(); err == nil {
		t.Errorf("expected error for missing secret")
	}
}

func TestRetryConfigMapping(t *testing.T) {
	sc := SyncConfig{MaxAttempts: 7, InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 3}
	retry := sc.RetryConfig()
	if retry.MaxAttempts != 7 || retry.InitialDelay != time.Second || retry.MaxDelay != time.Minute || retry.Multiplier != 3 {
		t.Errorf("mapping dropped fields: %+v", retry)
	}

	// Zero values keep the production defaults.
	retry = SyncConfig{}.RetryConfig()
	if retry.MaxAttempts != 3 {
		t.Errorf("expected default attempts, got %d", retry.MaxAttempts)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  name: \"A\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// Backdate so the rewrite below is unambiguously newer, even on
	// filesystems with coarse mod-time granularity.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	watcher, err := NewWatcher(path, WithWatchInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if watcher.Config().Agent.Name != "A" {
		t.Fatalf("initial config not loaded")
	}

	changed := make(chan *Config, 1)
	watcher.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)

	if err := os.WriteFile(path, []byte("agent:\n  name: \"B\"\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Agent.Name != "B" {
			t.Fatalf("stale config after reload: %s", cfg.Agent.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reload never fired")
	}
	watcher.Stop()
}
