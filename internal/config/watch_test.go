package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, graceperiod string) {
	t.Helper()
	content := "relay:\n  grace_period: \"" + graceperiod + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "30s")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 1)
	if err := Watch(ctx, path, func(cfg *Config) { changed <- cfg }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Give the watcher a moment to arm before we modify the file.
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "7s")

	select {
	case cfg := <-changed:
		if cfg.Relay.GracePeriod != 7*time.Second {
			t.Errorf("reloaded grace_period = %v, want 7s", cfg.Relay.GracePeriod)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload after file change")
	}
}

func TestWatchSkipsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "30s")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 1)
	if err := Watch(ctx, path, func(cfg *Config) { changed <- cfg }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	// Invalid: grace period must be positive.
	writeConfig(t, path, "0s")

	select {
	case <-changed:
		t.Error("invalid config must not trigger onChange")
	case <-time.After(600 * time.Millisecond):
		// expected: reload skipped
	}
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "30s")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 1)
	if err := Watch(ctx, path, func(cfg *Config) { changed <- cfg }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644)

	select {
	case <-changed:
		t.Error("sibling file change must not trigger a reload")
	case <-time.After(600 * time.Millisecond):
	}
}
