// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"errors"
	"sync"
	"time"

	"github.com/gviegas/accel/driver"
)

// fence implements driver.Fence.
type fence struct {
	mu       sync.Mutex
	done     chan struct{}
	signaled bool
	pending  bool
}

var errFenceBusy = errors.New("soft: fence is pending")

// NewFence creates a new fence.
func (d *Driver) NewFence(signaled bool) (driver.Fence, error) {
	if !d.open {
		return nil, errClosed
	}
	f := &fence{done: make(chan struct{})}
	if signaled {
		f.signaled = true
		close(f.done)
	}
	return f, nil
}

// Wait waits for the fence to be signaled.
func (f *fence) Wait(timeout time.Duration) error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	select {
	case <-done:
		return nil
	default:
	}
	if timeout < 0 {
		<-done
		return nil
	}
	tm := time.NewTimer(timeout)
	defer tm.Stop()
	select {
	case <-done:
		return nil
	case <-tm.C:
		return driver.ErrTimeout
	}
}

// Signaled returns whether the fence is signaled.
func (f *fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

// Reset unsignals the fence.
func (f *fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		return errFenceBusy
	}
	if f.signaled {
		f.done = make(chan struct{})
		f.signaled = false
	}
	return nil
}

// submit marks the fence as pending.
// The fence must be unsignaled.
func (f *fence) submit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.pending:
		return errFenceBusy
	case f.signaled:
		return errors.New("soft: submitted fence is signaled")
	}
	f.pending = true
	return nil
}

// signal signals the fence.
func (f *fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

// Destroy destroys the fence.
func (f *fence) Destroy() {}

// semaphore implements driver.Semaphore.
type semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a new binary semaphore.
func (d *Driver) NewSemaphore() (driver.Semaphore, error) {
	if !d.open {
		return nil, errClosed
	}
	return &semaphore{ch: make(chan struct{}, 1)}, nil
}

func (s *semaphore) signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *semaphore) wait() { <-s.ch }

// Destroy destroys the semaphore.
func (s *semaphore) Destroy() {}
