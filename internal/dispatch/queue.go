// Package dispatch hands callbacks from background goroutines to a single host
// goroutine, the way UI toolkits require state to be touched from their main
// thread.
//
// Producers call Enqueue from any goroutine. The host calls Drain once per
// frame or tick (or runs Run), which invokes every pending callback in enqueue
// order on the calling goroutine.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Queue is a FIFO of pending callbacks. The zero value is ready to use.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	ready   chan struct{}

	// held for the duration of a drain so drains never overlap
	drainMu sync.Mutex
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue schedules fn for the next Drain. Safe for concurrent use.
func (q *Queue) Enqueue(fn func()) {
	if fn == nil {
		return
	}

	q.mu.Lock()
	q.pending = append(q.pending, fn)
	ready := q.readyLocked()
	q.mu.Unlock()

	// edge signal, one pending wake-up is enough
	select {
	case ready <- struct{}{}:
	default:
	}
}

// Drain runs every callback that was pending when it was called, in enqueue
// order, and returns how many ran. Callbacks enqueued while draining run on the
// next Drain. A panicking callback is logged and does not stop the drain.
func (q *Queue) Drain() int {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, fn := range batch {
		invoke(fn)
	}
	return len(batch)
}

// Len returns the number of pending callbacks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Ready is signalled after Enqueue. Hosts without a frame loop can select on it
// and call Drain.
func (q *Queue) Ready() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readyLocked()
}

func (q *Queue) readyLocked() chan struct{} {
	if q.ready == nil {
		q.ready = make(chan struct{}, 1)
	}
	return q.ready
}

// Run drains the queue every interval, and whenever work is signalled, until
// ctx is done. It performs one last drain before returning so nothing enqueued
// before cancellation is lost.
func (q *Queue) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ready := q.Ready()

	for {
		select {
		case <-ctx.Done():
			q.Drain()
			return nil
		case <-ticker.C:
			q.Drain()
		case <-ready:
			q.Drain()
		}
	}
}

// Host runs work on a new goroutine and drains the queue on the calling
// goroutine until work returns, so the caller acts as the host thread for the
// duration. Callbacks enqueued by work before it returned are drained before
// Host returns work's error.
func (q *Queue) Host(ctx context.Context, interval time.Duration, work func(ctx context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("hosted work panicked: %v", r)
			}
		}()
		done <- work(ctx)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ready := q.Ready()

	for {
		select {
		case err := <-done:
			q.Drain()
			return err
		case <-ticker.C:
			q.Drain()
		case <-ready:
			q.Drain()
		}
	}
}

func invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatched callback panicked", "panic", r)
		}
	}()
	fn()
}
