// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gviegas/accel/driver"
)

// cmdPool implements driver.CmdPool.
type cmdPool struct {
	d   *Driver
	cbs map[*cmdBuffer]struct{}
}

// NewCmdPool creates a new command pool.
func (d *Driver) NewCmdPool() (driver.CmdPool, error) {
	if !d.open {
		return nil, errClosed
	}
	return &cmdPool{d: d, cbs: make(map[*cmdBuffer]struct{})}, nil
}

// Alloc allocates n command buffers.
func (p *cmdPool) Alloc(n int) ([]driver.CmdBuffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("soft: invalid command buffer count %d", n)
	}
	cb := make([]driver.CmdBuffer, n)
	p.d.mu.Lock()
	for i := range cb {
		c := &cmdBuffer{pool: p, id: p.d.nextCB}
		p.d.nextCB++
		p.cbs[c] = struct{}{}
		cb[i] = c
	}
	p.d.mu.Unlock()
	return cb, nil
}

// Free frees command buffers.
func (p *cmdPool) Free(cb []driver.CmdBuffer) {
	for _, x := range cb {
		if c, ok := x.(*cmdBuffer); ok && c.pool == p {
			delete(p.cbs, c)
			c.state = cbFreed
		}
	}
}

// Destroy destroys the pool and its command buffers.
func (p *cmdPool) Destroy() {
	if p == nil {
		return
	}
	for c := range p.cbs {
		c.state = cbFreed
	}
	*p = cmdPool{}
}

// cbState is the state of a command buffer.
type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbFreed
)

// command is a recorded command.
// Exactly one of build and barrier is set.
type command struct {
	build   *driver.ASBuildInfo
	sizes   driver.ASSizes
	barrier []driver.Barrier
}

// cmdBuffer implements driver.CmdBuffer.
type cmdBuffer struct {
	pool  *cmdPool
	id    int
	state cbState
	cmds  []command
	err   error

	// Set from Submit until a queue finishes executing
	// the command buffer.
	pending atomic.Bool

	// Scratch buffers written since the last barrier
	// that orders acceleration structure builds.
	unsynced []driver.Buffer
}

var (
	errNotRecording = errors.New("soft: command buffer is not recording")
	errPending      = errors.New("soft: command buffer is pending execution")
	errFreed        = errors.New("soft: command buffer was freed")
)

// Begin prepares the command buffer for recording.
func (cb *cmdBuffer) Begin() error {
	if cb.pending.Load() {
		return errPending
	}
	switch cb.state {
	case cbFreed:
		return errFreed
	case cbRecording:
		return nil
	}
	cb.reset()
	cb.state = cbRecording
	return nil
}

// BuildAccelStruct records a build command.
// Invalid usage is reported as a hazard.
func (cb *cmdBuffer) BuildAccelStruct(info *driver.ASBuildInfo) {
	if cb.state != cbRecording {
		cb.fail(errNotRecording)
		return
	}
	d := cb.pool.d
	dst, ok := info.Dst.(*accelStruct)
	if !ok || dst == nil || dst.d != d {
		cb.fail(errors.New("soft: invalid destination structure"))
		return
	}
	if dst.typ != info.Type {
		cb.fail(fmt.Errorf("soft: structure type %d does not match build type %d", dst.typ, info.Type))
		return
	}
	if info.Scratch == nil {
		cb.fail(errors.New("soft: nil scratch buffer"))
		return
	}
	// Copy the info, since the caller may reuse it.
	bi := *info
	bi.Geoms = append([]driver.ASGeometry(nil), info.Geoms...)
	sz := d.AccelStructSizes(&bi)

	d.mu.Lock()
	defer d.mu.Unlock()
	need := sz.BuildScratch
	if bi.Mode == driver.AUpdate {
		need = sz.UpdateScratch
		if bi.Flags&driver.AAllowUpdate == 0 {
			d.hazard("cmd %d: update of %#x without AAllowUpdate", cb.id, dst.addr)
		}
	}
	if have := info.Scratch.Cap() - bi.ScratchOff; have < need {
		d.hazard("cmd %d: scratch range of %d bytes is smaller than %d", cb.id, have, need)
	}
	if dst.size < sz.Size {
		d.hazard("cmd %d: structure %#x has %d bytes but needs %d", cb.id, dst.addr, dst.size, sz.Size)
	}
	for _, s := range cb.unsynced {
		if s == info.Scratch {
			d.hazard("cmd %d: scratch buffer %#x reused without a barrier", cb.id, s.Addr())
			break
		}
	}
	cb.unsynced = append(cb.unsynced, info.Scratch)
	cb.cmds = append(cb.cmds, command{build: &bi, sizes: sz})
}

// Barrier records global barriers.
func (cb *cmdBuffer) Barrier(b []driver.Barrier) {
	if cb.state != cbRecording {
		cb.fail(errNotRecording)
		return
	}
	for i := range b {
		if b[i].Orders(driver.SAccelBuild, driver.AAccelWrite, driver.SAccelBuild, driver.AAccelRead|driver.AAccelWrite) {
			cb.unsynced = cb.unsynced[:0]
			break
		}
	}
	cb.cmds = append(cb.cmds, command{barrier: append([]driver.Barrier(nil), b...)})
}

// IsRecording returns whether the command buffer is recording.
func (cb *cmdBuffer) IsRecording() bool { return cb.state == cbRecording }

// End ends recording.
func (cb *cmdBuffer) End() error {
	if cb.state != cbRecording {
		return errNotRecording
	}
	if err := cb.err; err != nil {
		cb.reset()
		return err
	}
	cb.state = cbExecutable
	return nil
}

// Reset discards recorded commands.
func (cb *cmdBuffer) Reset() error {
	if cb.pending.Load() {
		return errPending
	}
	if cb.state == cbFreed {
		return errFreed
	}
	cb.reset()
	return nil
}

func (cb *cmdBuffer) reset() {
	cb.state = cbInitial
	cb.cmds = cb.cmds[:0]
	cb.unsynced = cb.unsynced[:0]
	cb.err = nil
}

// fail records the first recording error, which End
// returns.
func (cb *cmdBuffer) fail(err error) {
	if cb.err == nil {
		cb.err = err
	}
}

// ID returns a number that identifies a command buffer
// created by the soft driver, or -1 if cb was not.
func ID(cb driver.CmdBuffer) int {
	if c, ok := cb.(*cmdBuffer); ok {
		return c.id
	}
	return -1
}
