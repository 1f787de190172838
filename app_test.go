package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestAppWatcherSwapRacesShutdown(t *testing.T) {
	configDir := t.TempDir()
	watchA := filepath.Join(t.TempDir(), "a")
	watchB := filepath.Join(t.TempDir(), "b")
	for _, d := range []string{watchA, watchB} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("Failed to create watch dir: %v", err)
		}
	}

	app := NewApp("test")
	app.settings = NewSettingsService(configDir)

	// Swap the watch directory from one goroutine while the app shuts down
	// on another; the watcher field handoff must be safe either way.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dirs := []string{watchA, watchB, "", watchA}
		for _, d := range dirs {
			s := app.settings.Get()
			s.WatchDir = d
			if err := app.SaveSettings(s); err != nil {
				t.Errorf("SaveSettings failed: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		app.shutdown(context.Background())
	}()
	wg.Wait()

	// Whatever interleaving happened, a final shutdown must find a
	// consistent watcher field.
	app.shutdown(context.Background())
}
