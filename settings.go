package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// SettingsService manages persistent application settings in the user config
// directory.
type SettingsService struct {
	path string

	mu       sync.RWMutex
	settings Settings
}

// configDirName is the per-user directory all app state lives under.
const configDirName = "Droplet"

// AppConfigDir returns (creating if needed) the app's config directory.
func AppConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	dir := filepath.Join(configDir, configDirName)
	_ = os.MkdirAll(dir, 0755)
	return dir
}

// NewSettingsService loads settings from dir, falling back to defaults when
// the file is missing or unreadable.
func NewSettingsService(dir string) *SettingsService {
	s := &SettingsService{
		path:     filepath.Join(dir, "settings.json"),
		settings: DefaultSettings(),
	}
	s.load()
	return s
}

func (s *SettingsService) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		LogWarn("settings").Err(err).Str("path", s.path).Msg("Failed to parse settings, using defaults")
		return
	}
	if settings.PollIntervalMs <= 0 {
		settings.PollIntervalMs = DefaultSettings().PollIntervalMs
	}
	if settings.MultiDevicePolicy != PolicyFirstReady && settings.MultiDevicePolicy != PolicyRequireTarget {
		settings.MultiDevicePolicy = PolicyFirstReady
	}

	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

// Get returns a copy of the current settings.
func (s *SettingsService) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Save replaces the settings and persists them.
func (s *SettingsService) Save(settings Settings) error {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}
