package main

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// coreEventBuffer sizes the outbound event channel. The presentation layer
// drains continuously; the buffer only absorbs short bursts.
const coreEventBuffer = 256

// Coordinator owns the poller and the install worker, merges their events
// into a single ordered stream and mediates shutdown. It is the only piece of
// the core the presentation layer talks to.
type Coordinator struct {
	bridge BridgeClient
	queue  *InstallQueue
	poller *StatusPoller
	worker *InstallWorker

	events chan CoreEvent

	mu       sync.Mutex
	state    CoordinatorState
	status   DeviceStatus
	handlers []func(CoreEvent)

	dispatchWg sync.WaitGroup
}

// NewCoordinator wires up the core against a bridge client. interval, policy
// and target come from settings; nothing starts until Start is called.
func NewCoordinator(bridge BridgeClient, interval time.Duration, policy MultiDevicePolicy, target string) *Coordinator {
	c := &Coordinator{
		bridge: bridge,
		queue:  NewInstallQueue(),
		events: make(chan CoreEvent, coreEventBuffer),
		state:  StateIdle,
	}
	c.poller = NewStatusPoller(bridge, interval, policy, target, c.onStatusChanged)
	c.worker = NewInstallWorker(c.queue, bridge, c.onInstallStarted, c.onInstallOutcome)
	return c
}

// Subscribe registers a handler for the merged event stream. Handlers run on
// the coordinator's dispatch goroutine, in the order events were produced,
// and must never touch presentation state from another thread themselves —
// the whole point of the stream is that this is the only crossing.
func (c *Coordinator) Subscribe(handler func(CoreEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Start launches the poller, the worker and the event dispatcher.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateRunning
	c.mu.Unlock()

	c.dispatchWg.Add(1)
	go c.dispatch()

	c.worker.Start()
	c.poller.Start()
	CoreLog().Msg("Core started")
}

// EnqueueInstall creates one InstallRequest per path, in the given order, and
// enqueues them in that order so multi-file drops install in drop order. It
// never blocks the caller; the device I/O happens later on the worker.
// Returns the created requests; nil once shutdown has begun.
func (c *Coordinator) EnqueueInstall(paths []string, deviceID string) []InstallRequest {
	c.mu.Lock()
	if c.state == StateShuttingDown || c.state == StateStopped {
		c.mu.Unlock()
		CoreLog().Int("count", len(paths)).Msg("Enqueue ignored, core is shutting down")
		return nil
	}
	c.mu.Unlock()

	requests := make([]InstallRequest, 0, len(paths))
	for _, p := range paths {
		req := InstallRequest{
			ID:         uuid.New().String(),
			FilePath:   p,
			DeviceID:   deviceID,
			EnqueuedAt: time.Now(),
		}
		requests = append(requests, req)
		c.queue.Enqueue(req)
	}
	CoreLog().Int("count", len(requests)).Int("queued", c.queue.Len()).Msg("Install requests enqueued")
	return requests
}

// Status returns the most recently published device status.
func (c *Coordinator) Status() DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State returns the coordinator's lifecycle state.
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueLen returns the number of requests waiting behind the current one.
func (c *Coordinator) QueueLen() int {
	return c.queue.Len()
}

// Shutdown stops the poller, discards queued-but-unstarted requests, waits
// for an in-flight install to complete and emit its outcome, then closes the
// event stream once the dispatcher has drained it. Idempotent; returns once
// everything has terminated.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.state == StateStopped || c.state == StateShuttingDown {
		c.mu.Unlock()
		return
	}
	if c.state == StateIdle {
		c.state = StateStopped
		c.mu.Unlock()
		return
	}
	c.state = StateShuttingDown
	c.mu.Unlock()

	CoreLog().Msg("Core shutting down")
	c.poller.Stop()
	c.queue.Close()
	c.worker.Wait()

	close(c.events)
	c.dispatchWg.Wait()

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	CoreLog().Msg("Core stopped")
}

// dispatch fans events out to subscribers, preserving production order. It is
// the only consumer of c.events; Subscribe is the sole way to observe the
// stream, so every produced event reaches every handler exactly once.
func (c *Coordinator) dispatch() {
	defer c.dispatchWg.Done()
	for event := range c.events {
		c.mu.Lock()
		handlers := c.handlers
		c.mu.Unlock()
		for _, h := range handlers {
			h(event)
		}
	}
}

// onStatusChanged is the poller's callback. The new status value replaces the
// old one atomically; the poller has already filtered out no-change polls.
func (c *Coordinator) onStatusChanged(status DeviceStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	c.emit(CoreEvent{
		Kind:      EventStatusChanged,
		Status:    status,
		Timestamp: time.Now(),
	})
}

// onInstallStarted is the worker's per-item start callback.
func (c *Coordinator) onInstallStarted(req InstallRequest) {
	c.mu.Lock()
	if c.state == StateRunning {
		c.state = StateInstalling
	}
	c.mu.Unlock()

	r := req
	c.emit(CoreEvent{
		Kind:      EventInstallStarted,
		Request:   &r,
		Timestamp: time.Now(),
	})
}

// onInstallOutcome is the worker's per-item terminal callback.
func (c *Coordinator) onInstallOutcome(outcome InstallOutcome) {
	c.mu.Lock()
	if c.state == StateInstalling && c.queue.Len() == 0 {
		c.state = StateRunning
	}
	c.mu.Unlock()

	o := outcome
	c.emit(CoreEvent{
		Kind:      EventInstallDone,
		Outcome:   &o,
		Timestamp: time.Now(),
	})
}

// emit pushes onto the merged stream. Producers are the poller and worker
// goroutines only, and both are joined before the channel closes, so a send
// here can never race a close.
func (c *Coordinator) emit(event CoreEvent) {
	c.events <- event
}
