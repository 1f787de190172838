package main

import "time"

// DeviceStatus is the classified connectivity state of the bridge, as seen by
// the last completed poll cycle. Exactly one value is current at a time; the
// coordinator replaces it wholesale, never mutates it.
type DeviceStatus string

const (
	StatusAbsent       DeviceStatus = "absent"       // no device attached
	StatusConnected    DeviceStatus = "connected"    // a ready, authorized device
	StatusUnauthorized DeviceStatus = "unauthorized" // device present but not authorized/offline
	StatusBridgeError  DeviceStatus = "bridge_error" // adb itself failed
)

// BridgeDevice is one row of `adb devices -l` output.
type BridgeDevice struct {
	ID    string `json:"id"`
	State string `json:"state"` // "device", "unauthorized", "offline", ...
	Model string `json:"model"`
}

// Ready reports whether the device is authorized and usable.
func (d BridgeDevice) Ready() bool {
	return d.State == "device"
}

// MultiDevicePolicy decides how a poll cycle classifies more than one
// attached device.
type MultiDevicePolicy string

const (
	// PolicyFirstReady treats the list as Connected if any device is ready.
	PolicyFirstReady MultiDevicePolicy = "first-ready"
	// PolicyRequireTarget only reports Connected when the configured
	// preferred serial is among the ready devices.
	PolicyRequireTarget MultiDevicePolicy = "require-target"
)

// InstallRequest is one queued APK install. Immutable once created; it is
// never retried or re-enqueued.
type InstallRequest struct {
	ID         string    `json:"id"`
	FilePath   string    `json:"filePath"`
	DeviceID   string    `json:"deviceId"` // empty = first ready device at install time
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// InstallOutcome is the terminal result of one InstallRequest. Exactly one
// outcome is produced per request, in enqueue order.
type InstallOutcome struct {
	Request    InstallRequest `json:"request"`
	Succeeded  bool           `json:"succeeded"`
	Message    string         `json:"message"`
	FinishedAt time.Time      `json:"finishedAt"`
	DurationMs int64          `json:"durationMs"`
}

// CoreEventKind discriminates the coordinator's outbound events.
type CoreEventKind string

const (
	EventStatusChanged  CoreEventKind = "status_changed"
	EventInstallStarted CoreEventKind = "install_started"
	EventInstallDone    CoreEventKind = "install_done"
)

// CoreEvent is the single ordered event stream the presentation layer drains.
// Status changes and install outcomes are delivered in the temporal order the
// underlying events were produced.
type CoreEvent struct {
	Kind      CoreEventKind   `json:"kind"`
	Status    DeviceStatus    `json:"status,omitempty"`
	Request   *InstallRequest `json:"request,omitempty"`
	Outcome   *InstallOutcome `json:"outcome,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// CoordinatorState is the coordinator's own lifecycle state.
type CoordinatorState string

const (
	StateIdle         CoordinatorState = "idle"
	StateRunning      CoordinatorState = "running"
	StateInstalling   CoordinatorState = "installing"
	StateShuttingDown CoordinatorState = "shutting_down"
	StateStopped      CoordinatorState = "stopped"
)

// Settings contains persistent application settings.
type Settings struct {
	PollIntervalMs    int               `json:"pollIntervalMs"`
	MultiDevicePolicy MultiDevicePolicy `json:"multiDevicePolicy"`
	PreferredSerial   string            `json:"preferredSerial"`
	WatchDir          string            `json:"watchDir"`
	LogToFile         bool              `json:"logToFile"`
}

// DefaultSettings returns the settings used when no settings file exists.
func DefaultSettings() Settings {
	return Settings{
		PollIntervalMs:    2000,
		MultiDevicePolicy: PolicyFirstReady,
		LogToFile:         true,
	}
}

// HistoryEntry is one persisted install record.
type HistoryEntry struct {
	ID         string `json:"id"`
	FilePath   string `json:"filePath"`
	DeviceID   string `json:"deviceId"`
	Succeeded  bool   `json:"succeeded"`
	Message    string `json:"message"`
	EnqueuedAt int64  `json:"enqueuedAt"` // unix ms
	FinishedAt int64  `json:"finishedAt"` // unix ms
	DurationMs int64  `json:"durationMs"`
}
