// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package task

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/gviegas/accel/driver"
)

// Group is a set of command buffers that are submitted
// together, spread across every queue of the GPU.
//
// The distribution is count based: it does not consider
// how much work each command buffer holds. Command buffers
// whose commands share transient resources (for instance,
// a scratch buffer) must not be placed in the same group.
type Group struct {
	p      *Pool
	cb     []driver.CmdBuffer
	fences []driver.Fence
	// Fences that were submitted but whose wait timed
	// out.
	loose []bool
}

// Batch is a contiguous range of command buffers that is
// submitted to a single queue.
type Batch struct {
	Queue int
	Start int
	End   int
}

// Len returns the number of command buffers in g.
func (g *Group) Len() int { return len(g.cb) }

// Cmd returns the ith command buffer of g.
func (g *Group) Cmd(i int) driver.CmdBuffer { return g.cb[i] }

// Record calls f with the ith command buffer of g,
// beginning it if needed.
func (g *Group) Record(i int, f func(cb driver.CmdBuffer) error) error {
	cb := g.cb[i]
	if !cb.IsRecording() {
		if err := cb.Begin(); err != nil {
			return err
		}
	}
	return f(cb)
}

// Plan distributes n command buffers across queues.
// Each queue gets at most n/queues+1 consecutive command
// buffers, in queue order, and queues left with nothing
// to execute are omitted.
func Plan(n, queues int) []Batch {
	if n <= 0 || queues <= 0 {
		return nil
	}
	size := n/queues + 1
	var b []Batch
	for q, start := 0, 0; q < queues && start < n; q++ {
		end := min(start+size, n)
		b = append(b, Batch{q, start, end})
		start = end
	}
	return b
}

// ExecuteAcrossQueues ends the command buffers that are
// recording and submits them for execution, then waits for
// every submission to complete.
// Waits are bounded by the pool's timeout; if any of them
// times out, the returned error wraps ErrLoose and
// driver.ErrTimeout.
func (g *Group) ExecuteAcrossQueues() error {
	if err := g.settle(); err != nil {
		return err
	}
	for _, cb := range g.cb {
		if cb.IsRecording() {
			if err := cb.End(); err != nil {
				return err
			}
		}
	}
	var used []int
	var err error
	for _, b := range Plan(len(g.cb), len(g.fences)) {
		if err = g.p.gpu.Submit(b.Queue, g.cb[b.Start:b.End], nil, nil, g.fences[b.Queue]); err != nil {
			err = fmt.Errorf("%w: queue %d: %w", ErrSubmit, b.Queue, err)
			break
		}
		used = append(used, b.Queue)
	}
	if werr := g.wait(used); werr != nil {
		err = errors.Join(err, werr)
	}
	return err
}

// wait waits concurrently for the fences of the given
// queues and resets those that signaled.
func (g *Group) wait(queues []int) error {
	var eg errgroup.Group
	for _, q := range queues {
		eg.Go(func() error {
			if err := g.fences[q].Wait(g.p.timeout); err != nil {
				g.loose[q] = true
				return fmt.Errorf("%w: queue %d: %w", ErrLoose, q, err)
			}
			g.loose[q] = false
			return g.fences[q].Reset()
		})
	}
	return eg.Wait()
}

// settle waits for submissions left loose by a previous
// call to ExecuteAcrossQueues.
func (g *Group) settle() error {
	var q []int
	for i, x := range g.loose {
		if x {
			q = append(q, i)
		}
	}
	if len(q) == 0 {
		return nil
	}
	return g.wait(q)
}

// Destroy destroys g.
func (g *Group) Destroy() {
	if g == nil || g.p == nil {
		return
	}
	if g.p.cp != nil {
		g.p.cp.Free(g.cb)
	}
	for _, f := range g.fences {
		f.Destroy()
	}
	*g = Group{}
}
