package main

import "sync"

// InstallQueue is an unbounded FIFO of install requests. Producers (the
// coordinator) call Enqueue; the single InstallWorker is the only consumer.
// Removal order equals insertion order across the queue's whole lifetime.
type InstallQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []InstallRequest
	closed  bool
}

// NewInstallQueue creates an empty open queue.
func NewInstallQueue() *InstallQueue {
	q := &InstallQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a request to the tail. Never blocks, never rejects.
// Enqueueing on a closed queue is a no-op.
func (q *InstallQueue) Enqueue(req InstallRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.pending = append(q.pending, req)
	q.cond.Signal()
}

// DequeueBlocking removes and returns the head, suspending the caller while
// the queue is empty. Returns ok=false once the queue has been closed.
func (q *InstallQueue) DequeueBlocking() (InstallRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return InstallRequest{}, false
	}

	req := q.pending[0]
	q.pending = q.pending[1:]
	return req, true
}

// Close makes the queue terminal. Queued-but-not-started requests are
// discarded and all blocked DequeueBlocking callers are released.
func (q *InstallQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.pending = nil
	q.cond.Broadcast()
}

// Len returns the number of queued requests.
func (q *InstallQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
