package main

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func makeRequest(id string) InstallRequest {
	return InstallRequest{
		ID:         id,
		FilePath:   id + ".apk",
		EnqueuedAt: time.Now(),
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	q := NewInstallQueue()

	for i := 0; i < 10; i++ {
		q.Enqueue(makeRequest(fmt.Sprintf("req-%d", i)))
	}

	for i := 0; i < 10; i++ {
		req, ok := q.DequeueBlocking()
		if !ok {
			t.Fatalf("Queue reported closed at item %d", i)
		}
		want := fmt.Sprintf("req-%d", i)
		if req.ID != want {
			t.Errorf("Item %d: expected %s, got %s", i, want, req.ID)
		}
	}

	if q.Len() != 0 {
		t.Errorf("Expected empty queue, got %d items", q.Len())
	}
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewInstallQueue()

	got := make(chan InstallRequest, 1)
	go func() {
		req, ok := q.DequeueBlocking()
		if ok {
			got <- req
		}
	}()

	// The consumer should be parked, not spinning through an empty result.
	select {
	case <-got:
		t.Fatal("DequeueBlocking returned on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue(makeRequest("wake"))

	select {
	case req := <-got:
		if req.ID != "wake" {
			t.Errorf("Expected wake, got %s", req.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("DequeueBlocking never woke after enqueue")
	}
}

func TestQueueCloseReleasesWaitersAndDiscardsBacklog(t *testing.T) {
	q := NewInstallQueue()

	done := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, ok := q.DequeueBlocking()
			done <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Enqueue(makeRequest("a")) // one waiter consumes this
	time.Sleep(20 * time.Millisecond)

	q.Close()

	var okCount, closedCount int
	for i := 0; i < 2; i++ {
		select {
		case ok := <-done:
			if ok {
				okCount++
			} else {
				closedCount++
			}
		case <-time.After(time.Second):
			t.Fatal("Waiter never released after Close")
		}
	}

	if okCount != 1 || closedCount != 1 {
		t.Errorf("Expected 1 delivered + 1 closed, got %d delivered, %d closed", okCount, closedCount)
	}
}

func TestQueueCloseIsTerminalAndDiscardsBacklog(t *testing.T) {
	q := NewInstallQueue()

	q.Enqueue(makeRequest("a"))
	q.Enqueue(makeRequest("b"))
	q.Close()

	if q.Len() != 0 {
		t.Errorf("Close should discard the backlog, %d items remain", q.Len())
	}

	// Terminal: further dequeues return closed immediately, enqueues are no-ops.
	if _, ok := q.DequeueBlocking(); ok {
		t.Error("Dequeue after Close should report closed")
	}
	q.Enqueue(makeRequest("late"))
	if q.Len() != 0 {
		t.Error("Enqueue after Close should be a no-op")
	}

	q.Close() // idempotent
}

func TestQueueNoDuplicateDelivery(t *testing.T) {
	q := NewInstallQueue()

	const total = 200
	for i := 0; i < total; i++ {
		q.Enqueue(makeRequest(fmt.Sprintf("req-%d", i)))
	}

	seen := make(map[string]int)
	var seenMu sync.Mutex
	var wg sync.WaitGroup

	// Multiple consumers must never observe the same request twice.
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				req, ok := q.DequeueBlocking()
				if !ok {
					return
				}
				seenMu.Lock()
				seen[req.ID]++
				seenMu.Unlock()
			}
		}()
	}

	for {
		if q.Len() == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	q.Close()
	wg.Wait()

	if len(seen) != total {
		t.Errorf("Expected %d distinct requests delivered, got %d", total, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("Request %s delivered %d times", id, count)
		}
	}
}
