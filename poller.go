package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// listTimeout bounds a single ListDevices call. A call that exceeds it is a
// bridge failure, not a hang.
const listTimeout = 10 * time.Second

// StatusPoller polls the bridge on a fixed interval, classifies the device
// list into a DeviceStatus and reports changes. Ticks never overlap: a tick
// that fires while the previous ListDevices call is still running is skipped
// entirely, so polling never backs up behind a slow bridge.
type StatusPoller struct {
	bridge   BridgeClient
	interval time.Duration
	policy   MultiDevicePolicy
	target   string // preferred serial, used by PolicyRequireTarget

	// onStatus receives every status change, in poll order. Identical
	// consecutive classifications are suppressed here so the UI is not
	// churned by steady-state polls.
	onStatus func(DeviceStatus)

	inFlight atomic.Bool
	last     DeviceStatus
	emitted  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewStatusPoller creates a poller. onStatus is invoked from the poller's
// goroutine; it must not block for long.
func NewStatusPoller(bridge BridgeClient, interval time.Duration, policy MultiDevicePolicy, target string, onStatus func(DeviceStatus)) *StatusPoller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &StatusPoller{
		bridge:   bridge,
		interval: interval,
		policy:   policy,
		target:   target,
		onStatus: onStatus,
	}
}

// Start begins periodic polling. The first poll runs immediately.
func (p *StatusPoller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop halts polling and waits for an in-flight poll to return.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *StatusPoller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one poll cycle unless the previous one is still in flight, in
// which case this tick is skipped rather than queued.
func (p *StatusPoller) tick(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		LogDebug("poller").Msg("Previous poll still running, skipping tick")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)

		listCtx, cancel := context.WithTimeout(ctx, listTimeout)
		defer cancel()

		devices, err := p.bridge.ListDevices(listCtx)
		if ctx.Err() != nil {
			return
		}
		status := Classify(devices, err, p.policy, p.target)
		p.report(status, err)
	}()
}

// report applies the change-detection filter and forwards a new status.
func (p *StatusPoller) report(status DeviceStatus, err error) {
	p.mu.Lock()
	changed := !p.emitted || status != p.last
	p.last = status
	p.emitted = true
	p.mu.Unlock()

	if !changed {
		return
	}

	if err != nil {
		DeviceLog().Err(err).Str("status", string(status)).Msg("Poll cycle failed")
	} else {
		DeviceLog().Str("status", string(status)).Msg("Device status changed")
	}
	p.onStatus(status)
}

// Classify turns one poll result into a DeviceStatus.
//
// With multiple devices attached, PolicyFirstReady reports Connected if any
// one is ready (first match wins); PolicyRequireTarget additionally requires
// the preferred serial to be ready. Either way a present-but-unready set of
// devices classifies as Unauthorized.
func Classify(devices []BridgeDevice, err error, policy MultiDevicePolicy, target string) DeviceStatus {
	if err != nil {
		return StatusBridgeError
	}
	if len(devices) == 0 {
		return StatusAbsent
	}

	if policy == PolicyRequireTarget && target != "" {
		for _, d := range devices {
			if d.ID == target && d.Ready() {
				return StatusConnected
			}
		}
		return StatusUnauthorized
	}

	for _, d := range devices {
		if d.Ready() {
			return StatusConnected
		}
	}
	return StatusUnauthorized
}
