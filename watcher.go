package main

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DropFolderWatcher monitors a directory and enqueues APKs placed into it, as
// if they had been dropped onto the window. Optional; only runs when a watch
// directory is configured in settings.
type DropFolderWatcher struct {
	dir     string
	enqueue func(paths []string)
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	mu      sync.Mutex

	// seen suppresses duplicate enqueues for the same path while the file is
	// still being written (Create followed by Write events).
	seen   map[string]time.Time
	seenMu sync.Mutex
}

// NewDropFolderWatcher creates a watcher over dir. enqueue receives settled
// APK paths.
func NewDropFolderWatcher(dir string, enqueue func(paths []string)) *DropFolderWatcher {
	return &DropFolderWatcher{
		dir:     dir,
		enqueue: enqueue,
		stopCh:  make(chan struct{}),
		seen:    make(map[string]time.Time),
	}
}

// Start begins watching the drop directory.
func (w *DropFolderWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		w.watcher = nil
		return err
	}

	WatcherLog().Str("path", w.dir).Msg("Started watching drop directory")

	go w.watch()
	return nil
}

// Stop stops watching.
func (w *DropFolderWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		close(w.stopCh)
		w.watcher.Close()
		w.watcher = nil
		WatcherLog().Msg("Stopped watching drop directory")
	}
}

// watch is the main watch loop.
func (w *DropFolderWatcher) watch() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".apk") {
				continue
			}
			if !w.markSeen(event.Name) {
				continue
			}
			go w.settleAndEnqueue(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			LogWarn("watcher").Err(err).Msg("Drop directory watch error")
		}
	}
}

// markSeen reports whether path should be picked up, suppressing repeats
// within a short window.
func (w *DropFolderWatcher) markSeen(path string) bool {
	w.seenMu.Lock()
	defer w.seenMu.Unlock()

	if last, ok := w.seen[path]; ok && time.Since(last) < 5*time.Second {
		return false
	}
	w.seen[path] = time.Now()

	// Keep the map from growing unboundedly.
	for p, t := range w.seen {
		if time.Since(t) > time.Minute {
			delete(w.seen, p)
		}
	}
	return true
}

// settleAndEnqueue waits for the file size to stop changing before enqueuing.
// A file copy into the watched directory fires Create long before the content
// has fully arrived.
func (w *DropFolderWatcher) settleAndEnqueue(path string) {
	var lastSize int64 = -1
	for i := 0; i < 20; i++ {
		select {
		case <-w.stopCh:
			return
		case <-time.After(250 * time.Millisecond):
		}

		info, err := os.Stat(path)
		if err != nil {
			return // removed before it settled
		}
		if info.Size() == lastSize && info.Size() > 0 {
			WatcherLog().Str("apk", filepath.Base(path)).Msg("New APK in drop directory")
			w.enqueue([]string{path})
			return
		}
		lastSize = info.Size()
	}
	LogWarn("watcher").Str("path", path).Msg("File never settled, skipping")
}
