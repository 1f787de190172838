package main

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// InstallWorker drains the InstallQueue one request at a time for the
// lifetime of the coordinator. At most one bridge install is in flight at any
// instant; this serialization is the system's central correctness guarantee,
// since concurrent installs to the same device corrupt bridge state.
type InstallWorker struct {
	queue  *InstallQueue
	bridge BridgeClient

	// onStarted/onOutcome fire from the worker goroutine, once per request,
	// in dequeue (= enqueue) order.
	onStarted func(InstallRequest)
	onOutcome func(InstallOutcome)

	wg sync.WaitGroup
}

// NewInstallWorker creates a worker over the given queue and bridge.
func NewInstallWorker(queue *InstallQueue, bridge BridgeClient, onStarted func(InstallRequest), onOutcome func(InstallOutcome)) *InstallWorker {
	return &InstallWorker{
		queue:     queue,
		bridge:    bridge,
		onStarted: onStarted,
		onOutcome: onOutcome,
	}
}

// Start launches the single worker goroutine. The loop exits only when the
// queue is closed; an in-flight install always runs to completion and emits
// its outcome first.
func (w *InstallWorker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			req, ok := w.queue.DequeueBlocking()
			if !ok {
				InstallLog().Msg("Install queue closed, worker exiting")
				return
			}
			w.process(req)
		}
	}()
}

// Wait blocks until the worker goroutine has exited.
func (w *InstallWorker) Wait() {
	w.wg.Wait()
}

// process runs one install to its terminal outcome. Bridge failures never
// stop the loop: one bad APK must not block the rest of the batch. Exactly
// one outcome is emitted per request, even if something panics mid-item.
func (w *InstallWorker) process(req InstallRequest) {
	start := time.Now()
	finished := false
	emit := func(succeeded bool, message string) {
		if finished {
			return
		}
		finished = true
		w.finish(req, succeeded, message, start)
	}

	defer func() {
		if r := recover(); r != nil {
			LogPanic("install", r, string(debug.Stack()))
			emit(false, fmt.Sprintf("internal error during install: %v", r))
		}
	}()

	InstallLog().
		Str("request_id", req.ID).
		Str("apk", filepath.Base(req.FilePath)).
		Str("device", req.DeviceID).
		Msg("Install started")
	w.onStarted(req)

	output, err := w.bridge.Install(context.Background(), req.FilePath, req.DeviceID)

	if err != nil {
		msg := err.Error()
		if trimmed := strings.TrimSpace(output); trimmed != "" {
			msg = trimmed
		}
		emit(false, msg)
		return
	}
	emit(true, strings.TrimSpace(output))
}

func (w *InstallWorker) finish(req InstallRequest, succeeded bool, message string, start time.Time) {
	now := time.Now()
	outcome := InstallOutcome{
		Request:    req,
		Succeeded:  succeeded,
		Message:    message,
		FinishedAt: now,
		DurationMs: now.Sub(start).Milliseconds(),
	}

	evt := InstallLog().
		Str("request_id", req.ID).
		Str("apk", filepath.Base(req.FilePath)).
		Bool("succeeded", succeeded).
		Int64("duration_ms", outcome.DurationMs)
	if succeeded {
		evt.Msg("Install finished")
	} else {
		evt.Str("reason", message).Msg("Install failed")
	}

	w.onOutcome(outcome)
}
