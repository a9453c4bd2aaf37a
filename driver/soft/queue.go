// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/gviegas/accel/driver"
)

// queue executes submissions in order on its own goroutine.
type queue struct {
	d     *Driver
	index int
	subs  chan *submission
	// Guarded by d.mu.
	stall time.Duration
}

// submission is a batch of command buffers given to Submit.
type submission struct {
	cb     []*cmdBuffer
	wait   []*semaphore
	signal []*semaphore
	fence  *fence
}

// Submit submits command buffers to a queue.
func (d *Driver) Submit(queue int, cb []driver.CmdBuffer, wait, signal []driver.Semaphore, fnc driver.Fence) error {
	if !d.open {
		return errClosed
	}
	if queue < 0 || queue >= len(d.ques) {
		return fmt.Errorf("soft: invalid queue %d", queue)
	}
	d.mu.Lock()
	err := d.failNext
	d.failNext = nil
	d.mu.Unlock()
	if err != nil {
		return err
	}

	s := &submission{cb: make([]*cmdBuffer, len(cb))}
	for i := range cb {
		c, ok := cb[i].(*cmdBuffer)
		switch {
		case !ok || c.pool == nil || c.pool.d != d:
			return errors.New("soft: command buffer from another driver")
		case c.pending.Load():
			return errPending
		case c.state != cbExecutable:
			return fmt.Errorf("soft: command buffer %d is not executable", c.id)
		}
		s.cb[i] = c
	}
	for _, x := range wait {
		s.wait = append(s.wait, x.(*semaphore))
	}
	for _, x := range signal {
		s.signal = append(s.signal, x.(*semaphore))
	}
	if fnc != nil {
		f := fnc.(*fence)
		if err := f.submit(); err != nil {
			return err
		}
		s.fence = f
	}
	for _, c := range s.cb {
		c.pending.Store(true)
	}
	d.ques[queue].subs <- s
	return nil
}

// run executes submissions until q.subs is closed.
func (q *queue) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for s := range q.subs {
		for _, x := range s.wait {
			x.wait()
		}
		q.d.mu.Lock()
		delay := q.d.cfg.Latency + q.stall
		q.d.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		for _, c := range s.cb {
			q.execute(c)
		}
		for _, x := range s.signal {
			x.signal()
		}
		for _, c := range s.cb {
			c.pending.Store(false)
		}
		if s.fence != nil {
			s.fence.signal()
		}
	}
}

// execute applies the effects of the commands in cb.
func (q *queue) execute(cb *cmdBuffer) {
	d := q.d
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range cb.cmds {
		bi := cb.cmds[i].build
		if bi == nil {
			continue
		}
		dst := bi.Dst.(*accelStruct)
		if dst.d == nil {
			d.hazard("cmd %d: build of destroyed structure", cb.id)
			continue
		}
		if bi.Mode == driver.AUpdate {
			src, _ := bi.Src.(*accelStruct)
			if src == nil || !src.built || src.flags&driver.AAllowUpdate == 0 {
				d.hazard("cmd %d: update from a structure that cannot be updated", cb.id)
			}
			dst.updates++
		} else {
			dst.builds++
		}
		dst.built = true
		dst.flags = bi.Flags
		switch bi.Type {
		case driver.ABottom:
			dst.prims = 0
			for j := range bi.Geoms {
				dst.prims += bi.Geoms[j].PrimCount()
			}
		case driver.ATop:
			dst.instances = bi.Instances.Count
			dst.refs = q.readInstances(cb, &bi.Instances, dst.refs[:0])
		}
	}
	d.execs = append(d.execs, Exec{Queue: q.index, Cmd: cb})
}

// readInstances reads the bottom-level structure addresses
// of packed instances and checks that they refer to built
// structures.
// d.mu must be held.
func (q *queue) readInstances(cb *cmdBuffer, v *driver.BufferView, refs []uint64) []uint64 {
	d := q.d
	if v.Count == 0 {
		return refs
	}
	if v.Buf == nil {
		d.hazard("cmd %d: nil instance buffer", cb.id)
		return refs
	}
	p := v.Buf.Bytes()
	if p == nil {
		// Device-local instances are not inspected.
		return refs
	}
	if v.Stride != driver.InstanceSize {
		d.hazard("cmd %d: instance stride %d is not %d", cb.id, v.Stride, driver.InstanceSize)
		return refs
	}
	if v.Off+v.Len() > int64(len(p)) {
		d.hazard("cmd %d: instance range exceeds buffer", cb.id)
		return refs
	}
	for i := range v.Count {
		off := v.Off + int64(i)*driver.InstanceSize
		if !finiteTransform(p[off : off+48]) {
			d.hazard("cmd %d: instance %d has a non-finite transform", cb.id, i)
		}
		addr := binary.LittleEndian.Uint64(p[off+56:])
		as := d.structs[addr]
		switch {
		case as == nil:
			d.hazard("cmd %d: instance %d refers to unknown structure %#x", cb.id, i, addr)
		case as.typ != driver.ABottom:
			d.hazard("cmd %d: instance %d refers to a top-level structure", cb.id, i)
		case !as.built:
			d.hazard("cmd %d: instance %d refers to unbuilt structure %#x", cb.id, i, addr)
		}
		refs = append(refs, addr)
	}
	return refs
}

// finiteTransform reports whether the packed 3x4 matrix
// in p has only finite elements.
func finiteTransform(p []byte) bool {
	for i := 0; i < 12; i++ {
		f := math32.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		if math32.IsNaN(f) || math32.IsInf(f, 0) {
			return false
		}
	}
	return true
}
