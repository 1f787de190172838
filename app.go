package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// App is the glue between the window and the core. It validates what the
// user dropped, forwards it to the coordinator and relays core events to the
// frontend. No install or polling logic lives here.
type App struct {
	ctx     context.Context
	version string

	adbPath  string
	bridge   *AdbClient
	core     *Coordinator
	settings *SettingsService
	history  *HistoryStore

	// watcherMu guards watcher: SaveSettings swaps it while shutdown may be
	// tearing it down.
	watcherMu sync.Mutex
	watcher   *DropFolderWatcher
}

// NewApp creates a new App instance.
func NewApp(version string) *App {
	return &App{version: version}
}

// startup is called when the app starts.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	configDir := AppConfigDir()
	a.settings = NewSettingsService(configDir)
	settings := a.settings.Get()

	if settings.LogToFile {
		if err := InitLogger(PersistentLogConfig(configDir)); err != nil {
			LogWarn("app").Err(err).Msg("File logging unavailable, console only")
		}
	}

	a.adbPath = FindAdbPath()
	if a.adbPath == "" {
		LogError("app").Msg("adb not found on PATH or in common SDK locations")
	} else {
		LogInfo("app").Str("adb", a.adbPath).Msg("Using adb")
	}
	a.bridge = NewAdbClient(a.adbPath)

	store, err := NewHistoryStore(filepath.Join(configDir, "data"))
	if err != nil {
		LogWarn("app").Err(err).Msg("Install history unavailable")
	} else {
		a.history = store
	}

	a.core = NewCoordinator(
		a.bridge,
		time.Duration(settings.PollIntervalMs)*time.Millisecond,
		settings.MultiDevicePolicy,
		settings.PreferredSerial,
	)
	a.core.Subscribe(a.onCoreEvent)
	a.core.Start()

	if settings.WatchDir != "" {
		a.startWatcher(settings.WatchDir)
	}
}

// shutdown is called when the application is closing.
func (a *App) shutdown(ctx context.Context) {
	a.watcherMu.Lock()
	if a.watcher != nil {
		a.watcher.Stop()
		a.watcher = nil
	}
	a.watcherMu.Unlock()
	if a.core != nil {
		a.core.Shutdown()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			LogWarn("app").Err(err).Msg("Error closing history store")
		}
	}
	CloseLogger()
}

// onCoreEvent relays a core event to the frontend. It runs on the
// coordinator's dispatch goroutine; EventsEmit is the only crossing into
// presentation, the frontend applies it on its own tick.
func (a *App) onCoreEvent(event CoreEvent) {
	switch event.Kind {
	case EventStatusChanged:
		wailsRuntime.EventsEmit(a.ctx, "device-status", event.Status)
	case EventInstallStarted:
		wailsRuntime.EventsEmit(a.ctx, "install-started", event.Request)
	case EventInstallDone:
		if a.history != nil && event.Outcome != nil {
			if err := a.history.RecordOutcome(*event.Outcome); err != nil {
				LogWarn("app").Err(err).Msg("Failed to record install history")
			}
		}
		wailsRuntime.EventsEmit(a.ctx, "install-done", event.Outcome)
	}
}

func (a *App) startWatcher(dir string) {
	w := NewDropFolderWatcher(dir, func(paths []string) {
		a.core.EnqueueInstall(paths, a.settings.Get().PreferredSerial)
	})
	if err := w.Start(); err != nil {
		LogWarn("app").Err(err).Str("dir", dir).Msg("Failed to start drop directory watcher")
		return
	}

	a.watcherMu.Lock()
	a.watcher = w
	a.watcherMu.Unlock()
}

// ========================================
// Bound methods (frontend API)
// ========================================

// InstallDropped validates the dropped files and enqueues the valid APKs, in
// drop order. Returns an error message per rejected file; validation happens
// here so nothing invalid ever reaches the core.
func (a *App) InstallDropped(paths []string) []string {
	var rejected []string
	var valid []string

	for _, p := range paths {
		if !strings.EqualFold(filepath.Ext(p), ".apk") {
			rejected = append(rejected, fmt.Sprintf("%s: not an APK file", filepath.Base(p)))
			continue
		}
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			rejected = append(rejected, fmt.Sprintf("%s: file not found", filepath.Base(p)))
			continue
		}
		valid = append(valid, p)
	}

	target := a.settings.Get().PreferredSerial
	LogUserAction(ActionFileDrop, target, map[string]interface{}{
		"dropped":  len(paths),
		"accepted": len(valid),
	})

	if len(valid) > 0 {
		a.core.EnqueueInstall(valid, target)
	}
	return rejected
}

// GetDeviceStatus returns the current device status.
func (a *App) GetDeviceStatus() DeviceStatus {
	return a.core.Status()
}

// GetQueueLength returns the number of pending installs.
func (a *App) GetQueueLength() int {
	return a.core.QueueLen()
}

// GetDevices lists the currently attached devices, for target selection.
func (a *App) GetDevices() ([]BridgeDevice, error) {
	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()
	return a.bridge.ListDevices(ctx)
}

// GetInstallHistory returns the most recent install records.
func (a *App) GetInstallHistory(limit int) ([]HistoryEntry, error) {
	if a.history == nil {
		return []HistoryEntry{}, nil
	}
	return a.history.ListRecent(limit)
}

// ClearInstallHistory deletes all install records.
func (a *App) ClearInstallHistory() error {
	if a.history == nil {
		return nil
	}
	return a.history.ClearHistory()
}

// GetSettings returns the current settings.
func (a *App) GetSettings() Settings {
	return a.settings.Get()
}

// SaveSettings persists new settings. The watch directory is applied
// immediately; poll interval and device policy take effect on next launch.
func (a *App) SaveSettings(settings Settings) error {
	old := a.settings.Get()
	if err := a.settings.Save(settings); err != nil {
		return err
	}
	LogUserAction(ActionSettingsChange, settings.PreferredSerial, map[string]interface{}{
		"pollIntervalMs": settings.PollIntervalMs,
		"policy":         string(settings.MultiDevicePolicy),
		"watchDir":       settings.WatchDir,
	})

	if settings.WatchDir != old.WatchDir {
		a.watcherMu.Lock()
		if a.watcher != nil {
			a.watcher.Stop()
			a.watcher = nil
		}
		a.watcherMu.Unlock()
		if settings.WatchDir != "" {
			a.startWatcher(settings.WatchDir)
		}
	}
	return nil
}

// GetAppVersion returns the application version.
func (a *App) GetAppVersion() string {
	return a.version
}

// GetLogPath returns the active log file path, if file logging is enabled.
func (a *App) GetLogPath() string {
	return GetLogFilePath()
}
