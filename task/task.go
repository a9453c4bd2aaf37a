// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package task

import (
	"errors"
	"fmt"

	"github.com/gviegas/accel/driver"
)

// Task is a command buffer paired with a fence that
// signals completion of its execution.
type Task struct {
	p       *Pool
	cb      driver.CmdBuffer
	fence   driver.Fence
	pending bool
}

// Begin prepares t for recording.
// If a previous execution is pending, it waits for it
// first.
func (t *Task) Begin() error {
	if err := t.Wait(); err != nil {
		return err
	}
	return t.cb.Begin()
}

// Cmd returns the command buffer of t.
func (t *Task) Cmd() driver.CmdBuffer { return t.cb }

// Record calls f with the command buffer of t, which must
// be recording.
func (t *Task) Record(f func(cb driver.CmdBuffer) error) error {
	if !t.cb.IsRecording() {
		return errors.New("task: not recording")
	}
	return f(t.cb)
}

// End ends recording.
func (t *Task) End() error { return t.cb.End() }

// Execute submits t for execution on the first queue.
// If block is true, it waits for completion. A wait that
// times out returns an error wrapping driver.ErrTimeout
// and leaves t pending.
func (t *Task) Execute(block bool, wait, signal []driver.Semaphore) error {
	if t.pending {
		return ErrPending
	}
	if t.cb.IsRecording() {
		if err := t.cb.End(); err != nil {
			return err
		}
	}
	if err := t.p.gpu.Submit(0, []driver.CmdBuffer{t.cb}, wait, signal, t.fence); err != nil {
		return fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	t.pending = true
	if !block {
		return nil
	}
	return t.Wait()
}

// Wait waits for the pending execution of t, if any, to
// complete.
func (t *Task) Wait() error {
	if !t.pending {
		return nil
	}
	if err := t.fence.Wait(t.p.timeout); err != nil {
		return fmt.Errorf("task: wait: %w", err)
	}
	t.pending = false
	return t.fence.Reset()
}

// Pending returns whether t has an execution that was not
// waited for.
func (t *Task) Pending() bool { return t.pending }

// Destroy destroys t.
// It must not be pending.
func (t *Task) Destroy() {
	if t == nil || t.p == nil {
		return
	}
	if t.p.cp != nil {
		t.p.cp.Free([]driver.CmdBuffer{t.cb})
	}
	t.fence.Destroy()
	*t = Task{}
}
