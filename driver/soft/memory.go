// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"errors"
	"fmt"

	"github.com/gviegas/accel/driver"
)

// memory implements driver.Memory.
type memory struct {
	d    *Driver
	size int64
	typ  int
	heap int
	p    []byte
}

// NewMemory allocates device memory.
func (d *Driver) NewMemory(size int64, typ int) (driver.Memory, error) {
	if !d.open {
		return nil, errClosed
	}
	if size <= 0 {
		return nil, fmt.Errorf("soft: invalid memory size %d", size)
	}
	if typ < 0 || typ >= len(d.cfg.MemoryTypes) {
		return nil, fmt.Errorf("soft: invalid memory type %d", typ)
	}
	mt := d.cfg.MemoryTypes[typ]
	d.mu.Lock()
	if d.cfg.HeapSize > 0 && d.heapUsed[mt.Heap]+size > d.cfg.HeapSize {
		d.mu.Unlock()
		if mt.Prop&driver.MDeviceLocal != 0 {
			return nil, driver.ErrNoDeviceMemory
		}
		return nil, driver.ErrNoHostMemory
	}
	d.heapUsed[mt.Heap] += size
	d.mu.Unlock()
	m := &memory{d: d, size: size, typ: typ, heap: mt.Heap}
	if mt.Prop&driver.MHostVisible != 0 {
		m.p = make([]byte, size)
	}
	return m, nil
}

// Size returns the size of the allocation.
func (m *memory) Size() int64 { return m.size }

// Type returns the memory type index.
func (m *memory) Type() int { return m.typ }

// Bytes returns the host mapping, if any.
func (m *memory) Bytes() []byte { return m.p }

// Destroy frees the memory.
func (m *memory) Destroy() {
	if m == nil || m.d == nil {
		return
	}
	m.d.mu.Lock()
	if m.d.heapUsed != nil {
		m.d.heapUsed[m.heap] -= m.size
	}
	m.d.mu.Unlock()
	*m = memory{}
}

// HeapUsage returns the number of bytes allocated from
// each heap.
func (d *Driver) HeapUsage() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.heapUsed...)
}

// buffer implements driver.Buffer.
type buffer struct {
	d    *Driver
	size int64
	usg  driver.Usage
	mem  *memory
	off  int64
	addr uint64
}

// NewBuffer creates a new buffer with no memory bound.
func (d *Driver) NewBuffer(size int64, usg driver.Usage) (driver.Buffer, error) {
	if !d.open {
		return nil, errClosed
	}
	if size <= 0 {
		return nil, fmt.Errorf("soft: invalid buffer size %d", size)
	}
	return &buffer{d: d, size: size, usg: usg}, nil
}

// Requirements returns the memory requirements of the buffer.
func (b *buffer) Requirements() driver.MemReq {
	return driver.MemReq{
		Size:     alignUp(b.size, bufferAlign),
		Align:    bufferAlign,
		TypeBits: b.d.cfg.BufferTypeBits,
	}
}

var errBound = errors.New("soft: buffer already bound")

// Bind binds memory to the buffer.
func (b *buffer) Bind(mem driver.Memory, off int64) error {
	if b.mem != nil {
		return errBound
	}
	m, ok := mem.(*memory)
	if !ok || m.d != b.d {
		return errors.New("soft: memory from another driver")
	}
	req := b.Requirements()
	if req.TypeBits&(1<<m.typ) == 0 {
		return fmt.Errorf("soft: memory type %d not allowed for buffer", m.typ)
	}
	if off < 0 || off%req.Align != 0 || off+b.size > m.size {
		return fmt.Errorf("soft: invalid bind range [%d, %d) of %d", off, off+b.size, m.size)
	}
	b.mem = m
	b.off = off
	b.d.mu.Lock()
	b.addr = b.d.nextAddr
	b.d.nextAddr += uint64(req.Size)
	b.d.mu.Unlock()
	return nil
}

// Bytes returns the host view of the buffer, if any.
func (b *buffer) Bytes() []byte {
	if b.mem == nil || b.mem.p == nil {
		return nil
	}
	return b.mem.p[b.off : b.off+b.size]
}

// Cap returns the capacity of the buffer.
func (b *buffer) Cap() int64 { return b.size }

// Addr returns the device address of the buffer.
func (b *buffer) Addr() uint64 { return b.addr }

// Destroy destroys the buffer.
// It does not free the bound memory.
func (b *buffer) Destroy() {
	if b == nil {
		return
	}
	*b = buffer{}
}

// alignUp rounds n up to a multiple of a, which must be
// a power of two.
func alignUp(n, a int64) int64 { return (n + a - 1) &^ (a - 1) }
