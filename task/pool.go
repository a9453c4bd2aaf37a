// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package task implements recording and submission of
// command buffers, with blocking completion bounded by
// a timeout.
package task

import (
	"errors"
	"time"

	"github.com/gviegas/accel/driver"
)

// ErrLoose means that some submitted work did not complete
// within the timeout. It may still be executing.
var ErrLoose = errors.New("task: work did not complete in time")

// ErrSubmit means that the driver rejected a submission.
var ErrSubmit = errors.New("task: submission failed")

// ErrPending means that the task still has work executing
// from a previous submission.
var ErrPending = errors.New("task: previous execution pending")

// Pool allocates command buffers for tasks and groups.
type Pool struct {
	gpu     driver.GPU
	cp      driver.CmdPool
	timeout time.Duration
}

// NewPool creates a new Pool.
// Tasks created from the pool wait at most timeout for
// their executions to complete. A negative timeout waits
// indefinitely.
func NewPool(gpu driver.GPU, timeout time.Duration) (*Pool, error) {
	cp, err := gpu.NewCmdPool()
	if err != nil {
		return nil, err
	}
	return &Pool{gpu, cp, timeout}, nil
}

// GPU returns the GPU that p uses.
func (p *Pool) GPU() driver.GPU { return p.gpu }

// Timeout returns the wait timeout.
func (p *Pool) Timeout() time.Duration { return p.timeout }

// NewTask creates a new Task.
func (p *Pool) NewTask() (*Task, error) {
	cb, err := p.cp.Alloc(1)
	if err != nil {
		return nil, err
	}
	fence, err := p.gpu.NewFence(false)
	if err != nil {
		p.cp.Free(cb)
		return nil, err
	}
	return &Task{p: p, cb: cb[0], fence: fence}, nil
}

// NewGroup creates a new Group with n command buffers.
func (p *Pool) NewGroup(n int) (*Group, error) {
	if n <= 0 {
		return nil, errors.New("task: invalid group size")
	}
	cb, err := p.cp.Alloc(n)
	if err != nil {
		return nil, err
	}
	fences := make([]driver.Fence, p.gpu.Queues())
	for i := range fences {
		if fences[i], err = p.gpu.NewFence(false); err != nil {
			for _, f := range fences[:i] {
				f.Destroy()
			}
			p.cp.Free(cb)
			return nil, err
		}
	}
	return &Group{p: p, cb: cb, fences: fences, loose: make([]bool, len(fences))}, nil
}

// Destroy destroys the pool.
// Tasks and groups created from p must not be used
// afterwards.
func (p *Pool) Destroy() {
	if p == nil {
		return
	}
	if p.cp != nil {
		p.cp.Destroy()
	}
	*p = Pool{}
}
