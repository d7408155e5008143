package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/lyrebird/internal/config"
)

func waitForEvent(t *testing.T, w *config.Watcher, path string, wantPresets bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	writeTick := time.NewTicker(50 * time.Millisecond)
	defer writeTick.Stop()

	if err := os.WriteFile(path, []byte("updated: true\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	for {
		select {
		case ev := <-w.Events():
			if filepath.Base(ev.Path) != filepath.Base(path) {
				t.Fatalf("event path = %s, want %s", ev.Path, path)
			}
			if ev.IsPresets() != wantPresets {
				t.Fatalf("IsPresets = %v, want %v", ev.IsPresets(), wantPresets)
			}
			return
		case <-writeTick.C:
			// Re-write in case the watcher was not yet ready.
			_ = os.WriteFile(path, []byte("updated: true\n"), 0o644)
		case <-deadline:
			t.Fatalf("timed out waiting for %s change event", filepath.Base(path))
		}
	}
}

func TestWatcher_DetectsConfigChange(t *testing.T) {
	homeDir := t.TempDir()
	cfgPath := config.ConfigPath(homeDir)
	if err := os.WriteFile(cfgPath, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	w := config.NewWatcher(homeDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	waitForEvent(t, w, cfgPath, false)
}

func TestWatcher_DetectsPresetsCreated(t *testing.T) {
	homeDir := t.TempDir()
	w := config.NewWatcher(homeDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	waitForEvent(t, w, config.PresetsPath(homeDir), true)
}

func TestWatcher_ClosesOnCancel(t *testing.T) {
	w := config.NewWatcher(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	cancel()
	select {
	case _, ok := <-w.Events():
		if ok {
			t.Fatal("expected closed events channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after cancel")
	}
}
