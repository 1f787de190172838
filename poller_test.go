package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeBridge is a scriptable BridgeClient for tests.
type fakeBridge struct {
	listFunc    func(ctx context.Context) ([]BridgeDevice, error)
	installFunc func(ctx context.Context, apkPath, deviceID string) (string, error)
}

func (f *fakeBridge) ListDevices(ctx context.Context) ([]BridgeDevice, error) {
	if f.listFunc == nil {
		return nil, nil
	}
	return f.listFunc(ctx)
}

func (f *fakeBridge) Install(ctx context.Context, apkPath, deviceID string) (string, error) {
	if f.installFunc == nil {
		return "Success", nil
	}
	return f.installFunc(ctx, apkPath, deviceID)
}

func readyDevice(id string) BridgeDevice {
	return BridgeDevice{ID: id, State: "device"}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		devices []BridgeDevice
		err     error
		policy  MultiDevicePolicy
		target  string
		want    DeviceStatus
	}{
		{"bridge failure", nil, errors.New("adb: no such file"), PolicyFirstReady, "", StatusBridgeError},
		{"no devices", nil, nil, PolicyFirstReady, "", StatusAbsent},
		{"one ready", []BridgeDevice{readyDevice("a")}, nil, PolicyFirstReady, "", StatusConnected},
		{"one unauthorized", []BridgeDevice{{ID: "a", State: "unauthorized"}}, nil, PolicyFirstReady, "", StatusUnauthorized},
		{"one offline", []BridgeDevice{{ID: "a", State: "offline"}}, nil, PolicyFirstReady, "", StatusUnauthorized},
		{"first ready wins among many", []BridgeDevice{{ID: "a", State: "unauthorized"}, readyDevice("b")}, nil, PolicyFirstReady, "", StatusConnected},
		{"many but none ready", []BridgeDevice{{ID: "a", State: "offline"}, {ID: "b", State: "unauthorized"}}, nil, PolicyFirstReady, "", StatusUnauthorized},
		{"target present and ready", []BridgeDevice{readyDevice("a"), readyDevice("b")}, nil, PolicyRequireTarget, "b", StatusConnected},
		{"target absent", []BridgeDevice{readyDevice("a")}, nil, PolicyRequireTarget, "b", StatusUnauthorized},
		{"target present but unready", []BridgeDevice{{ID: "b", State: "unauthorized"}}, nil, PolicyRequireTarget, "b", StatusUnauthorized},
		{"require-target without target falls back", []BridgeDevice{readyDevice("a")}, nil, PolicyRequireTarget, "", StatusConnected},
	}

	for _, tt := range tests {
		if got := Classify(tt.devices, tt.err, tt.policy, tt.target); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
	}
}

func TestPollerSuppressesRepeatedStatus(t *testing.T) {
	var calls int64
	bridge := &fakeBridge{
		listFunc: func(ctx context.Context) ([]BridgeDevice, error) {
			// First poll sees nothing, every later poll sees the same
			// ready device.
			if atomic.AddInt64(&calls, 1) == 1 {
				return nil, nil
			}
			return []BridgeDevice{readyDevice("a")}, nil
		},
	}

	var mu sync.Mutex
	var emitted []DeviceStatus
	poller := NewStatusPoller(bridge, 10*time.Millisecond, PolicyFirstReady, "", func(s DeviceStatus) {
		mu.Lock()
		emitted = append(emitted, s)
		mu.Unlock()
	})

	poller.Start()
	time.Sleep(150 * time.Millisecond)
	poller.Stop()

	if atomic.LoadInt64(&calls) < 3 {
		t.Fatalf("Expected at least 3 polls, got %d", calls)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 2 {
		t.Fatalf("Expected exactly 2 status events [absent connected], got %v", emitted)
	}
	if emitted[0] != StatusAbsent || emitted[1] != StatusConnected {
		t.Errorf("Expected [absent connected], got %v", emitted)
	}
}

func TestPollerSkipsTicksWhileCallInFlight(t *testing.T) {
	const interval = 20 * time.Millisecond

	var inFlight, maxInFlight, calls int64
	bridge := &fakeBridge{
		listFunc: func(ctx context.Context) ([]BridgeDevice, error) {
			atomic.AddInt64(&calls, 1)
			n := atomic.AddInt64(&inFlight, 1)
			for {
				m := atomic.LoadInt64(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt64(&maxInFlight, m, n) {
					break
				}
			}
			// Block for 3x the poll interval.
			time.Sleep(3 * interval)
			atomic.AddInt64(&inFlight, -1)
			return []BridgeDevice{readyDevice("a")}, nil
		},
	}

	poller := NewStatusPoller(bridge, interval, PolicyFirstReady, "", func(DeviceStatus) {})
	poller.Start()
	time.Sleep(300 * time.Millisecond)
	poller.Stop()

	if got := atomic.LoadInt64(&maxInFlight); got != 1 {
		t.Errorf("Expected at most 1 ListDevices call in flight, got %d", got)
	}

	// ~15 ticks elapsed but each call holds the slot for 3 intervals, so
	// skipped ticks must not have been queued up behind it.
	if got := atomic.LoadInt64(&calls); got > 7 {
		t.Errorf("Expected skipped ticks to be dropped, got %d calls", got)
	}
}

func TestPollerReportsBridgeErrorAndRecovers(t *testing.T) {
	var calls int64
	bridge := &fakeBridge{
		listFunc: func(ctx context.Context) ([]BridgeDevice, error) {
			if atomic.AddInt64(&calls, 1) <= 2 {
				return nil, errors.New("cannot connect to daemon")
			}
			return []BridgeDevice{readyDevice("a")}, nil
		},
	}

	var mu sync.Mutex
	var emitted []DeviceStatus
	poller := NewStatusPoller(bridge, 10*time.Millisecond, PolicyFirstReady, "", func(s DeviceStatus) {
		mu.Lock()
		emitted = append(emitted, s)
		mu.Unlock()
	})

	poller.Start()
	time.Sleep(120 * time.Millisecond)
	poller.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 2 || emitted[0] != StatusBridgeError || emitted[1] != StatusConnected {
		t.Errorf("Expected [bridge_error connected], got %v", emitted)
	}
}

func TestPollerStopWaitsForInFlightPoll(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	bridge := &fakeBridge{
		listFunc: func(ctx context.Context) ([]BridgeDevice, error) {
			once.Do(func() { close(entered) })
			<-release
			return nil, nil
		},
	}

	poller := NewStatusPoller(bridge, 10*time.Millisecond, PolicyFirstReady, "", func(DeviceStatus) {})
	poller.Start()
	<-entered

	stopped := make(chan struct{})
	go func() {
		poller.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a poll was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop never returned after the poll finished")
	}
}
