// Package dispatch provides the strict FIFO execution gate that serializes
// every mutation of the synchronized store. At most one unit of work is in
// flight at any time; units run in submission order and a failing unit never
// blocks the ones queued behind it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStopped is returned for work submitted after the dispatcher shut down.
var ErrStopped = errors.New("dispatcher stopped")

// Handle resolves once its unit of work, and everything queued before it,
// has completed.
type Handle struct {
	done chan struct{}
	err  error
}

// Wait blocks until the unit has run and returns its error, if any.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Done exposes the completion signal for select-based callers.
func (h *Handle) Done() <-chan struct{} { return h.done }

type job struct {
	fn     func() error
	handle *Handle
}

// Dispatcher executes submitted work strictly one at a time in FIFO order.
type Dispatcher struct {
	queue chan job

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New constructs a dispatcher and starts its worker goroutine. queueSize
// bounds how many units may wait before Enqueue blocks; zero selects a
// default of 128.
func New(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 128
	}
	d := &Dispatcher{queue: make(chan job, queueSize)}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for j := range d.queue {
		j.handle.err = runUnit(j.fn)
		close(j.handle.done)
	}
}

// runUnit isolates a single unit: a panic inside the work function is
// converted to an error so the queue keeps draining.
func runUnit(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatched work panicked: %v", r)
		}
	}()
	return fn()
}

// Enqueue submits a unit of work and returns its completion handle.
// Submission order is execution order.
func (d *Dispatcher) Enqueue(fn func() error) *Handle {
	h := &Handle{done: make(chan struct{})}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		h.err = ErrStopped
		close(h.done)
		return h
	}
	d.queue <- fn2job(fn, h)
	d.mu.Unlock()
	return h
}

func fn2job(fn func() error, h *Handle) job { return job{fn: fn, handle: h} }

// Do submits a unit of work and waits for it, honoring ctx while waiting.
// The unit itself is not cancellable once queued: it runs to completion
// even if the caller stops waiting.
func (d *Dispatcher) Do(ctx context.Context, fn func() error) error {
	h := d.Enqueue(fn)
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects further submissions, drains the queue, and waits for the
// worker to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
