package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// BridgeClient is the contract the core has with the debugging bridge. Both
// operations are black-box calls that may fail or hang; callers bound them
// with a context deadline.
type BridgeClient interface {
	// ListDevices returns the currently attached devices.
	ListDevices(ctx context.Context) ([]BridgeDevice, error)
	// Install pushes an APK to the given device. deviceID may be empty when
	// exactly one device is attached. The returned output is the bridge's
	// own diagnostic text, surfaced verbatim in install outcomes.
	Install(ctx context.Context, apkPath string, deviceID string) (string, error)
}

// deviceIDPattern 用于验证 deviceId 格式
// 支持 USB 序列号、IP:端口 无线设备和 mDNS 设备名
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:\-]+$`)

// ValidateDeviceID 验证 deviceId 格式是否安全
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device ID cannot be empty")
	}
	if len(deviceID) > 256 {
		return fmt.Errorf("device ID too long (max 256 characters)")
	}
	if !deviceIDPattern.MatchString(deviceID) {
		return fmt.Errorf("invalid device ID format: contains illegal characters")
	}
	return nil
}

// AdbClient runs adb as a subprocess. It is the only BridgeClient used in
// production; tests substitute fakes.
type AdbClient struct {
	adbPath string

	// serverRestarts caps adb start-server recovery attempts so a dead
	// bridge doesn't trigger a restart storm from the 2s poll loop.
	serverRestarts *rate.Limiter
}

// NewAdbClient creates a client for the adb binary at adbPath.
func NewAdbClient(adbPath string) *AdbClient {
	return &AdbClient{
		adbPath:        adbPath,
		serverRestarts: rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
}

// FindAdbPath locates the adb executable: PATH first, then common SDK
// platform-tools locations.
func FindAdbPath() string {
	if path, err := exec.LookPath("adb"); err == nil {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	exe := "adb"
	if runtime.GOOS == "windows" {
		exe = "adb.exe"
	}

	candidates := []string{
		filepath.Join(home, "Android", "Sdk", "platform-tools", exe),
		filepath.Join(home, "Library", "Android", "sdk", "platform-tools", exe),
		filepath.Join(home, "AppData", "Local", "Android", "Sdk", "platform-tools", exe),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// newAdbCommand creates an exec.Cmd with a clean environment to avoid proxy
// issues interfering with adb's local server connection.
func (c *AdbClient) newAdbCommand(ctx context.Context, args ...string) *exec.Cmd {
	var cmd *exec.Cmd
	if ctx != nil {
		cmd = exec.CommandContext(ctx, c.adbPath, args...)
	} else {
		cmd = exec.Command(c.adbPath, args...)
	}

	env := os.Environ()
	newEnv := make([]string, 0, len(env))
	proxyVars := []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "all_proxy", "no_proxy"}

	for _, e := range env {
		isProxy := false
		for _, v := range proxyVars {
			if strings.HasPrefix(e, v+"=") {
				isProxy = true
				break
			}
		}
		if !isProxy {
			newEnv = append(newEnv, e)
		}
	}
	cmd.Env = newEnv
	return cmd
}

// ListDevices runs `adb devices -l` and parses the result.
func (c *AdbClient) ListDevices(ctx context.Context) ([]BridgeDevice, error) {
	if c.adbPath == "" {
		return nil, fmt.Errorf("adb path is not initialized")
	}

	cmd := c.newAdbCommand(ctx, "devices", "-l")
	output, err := cmd.CombinedOutput()
	if err != nil {
		c.tryRestartServer()
		return nil, fmt.Errorf("failed to run adb devices (path: %s): %w, output: %s", c.adbPath, err, string(output))
	}

	return parseDeviceList(string(output)), nil
}

// parseDeviceList parses `adb devices -l` output into device rows.
func parseDeviceList(output string) []BridgeDevice {
	var devices []BridgeDevice
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices attached") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		dev := BridgeDevice{
			ID:    parts[0],
			State: parts[1],
		}
		for _, p := range parts[2:] {
			if kv := strings.SplitN(p, ":", 2); len(kv) == 2 && kv[0] == "model" {
				dev.Model = strings.ReplaceAll(kv[1], "_", " ")
			}
		}
		devices = append(devices, dev)
	}
	return devices
}

// installTimeout bounds one install; large APKs over USB can take a while.
const installTimeout = 60 * time.Second

// Install runs `adb install -r` against the device. Success requires both a
// zero exit and "Success" in the output; adb reports some install failures
// with exit 0 and a Failure line.
func (c *AdbClient) Install(ctx context.Context, apkPath string, deviceID string) (string, error) {
	if c.adbPath == "" {
		return "", fmt.Errorf("adb path is not initialized")
	}
	if deviceID != "" {
		if err := ValidateDeviceID(deviceID); err != nil {
			return "", err
		}
	}
	if _, err := os.Stat(apkPath); err != nil {
		return "", fmt.Errorf("APK file not found: %s", apkPath)
	}

	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	timer := StartOperation("bridge", "install").AddDetail("apk", filepath.Base(apkPath)).AddDetail("device", deviceID)

	args := []string{}
	if deviceID != "" {
		args = append(args, "-s", deviceID)
	}
	args = append(args, "install", "-r", apkPath)

	cmd := c.newAdbCommand(ctx, args...)
	output, err := cmd.CombinedOutput()
	out := string(output)

	if ctx.Err() == context.DeadlineExceeded {
		timer.EndWithError(ctx.Err())
		return out, fmt.Errorf("install timed out after %s", installTimeout)
	}
	if err != nil {
		timer.EndWithError(err)
		return out, fmt.Errorf("failed to install APK: %w, output: %s", err, out)
	}
	if !strings.Contains(out, "Success") {
		failErr := fmt.Errorf("install rejected: %s", strings.TrimSpace(out))
		timer.EndWithError(failErr)
		return out, failErr
	}

	timer.End()
	return out, nil
}

// tryRestartServer attempts `adb start-server` after a failed bridge call.
// Rate limited; failures are logged and otherwise ignored, the next poll
// cycle retries naturally.
func (c *AdbClient) tryRestartServer() {
	if !c.serverRestarts.Allow() {
		return
	}
	go func() {
		DeviceLog().Msg("Bridge unreachable, attempting adb start-server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.newAdbCommand(ctx, "start-server").Run(); err != nil {
			LogWarn("bridge").Err(err).Msg("adb start-server failed")
		}
	}()
}
